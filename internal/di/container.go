package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/medleaf/api/internal/handlers"
	"github.com/medleaf/api/internal/platform/auth"
	"github.com/medleaf/api/internal/platform/config"
	pfirestore "github.com/medleaf/api/internal/platform/firestore"
	"github.com/medleaf/api/internal/platform/i18n"
	"github.com/medleaf/api/internal/platform/jobs"
	"github.com/medleaf/api/internal/platform/observability"
	platformstorage "github.com/medleaf/api/internal/platform/storage"
	"github.com/medleaf/api/internal/repositories"
	firestorerepo "github.com/medleaf/api/internal/repositories/firestore"
	"github.com/medleaf/api/internal/services"
)

// Services bundles the service-layer contracts the handlers rely upon.
type Services struct {
	Orders    services.OrderService
	Inventory services.InventoryService
	Cart      services.CartService
	Reviews   services.ReviewService
}

// Container wires platform clients, repositories, services, and the HTTP
// router for runtime use. Construct it with NewContainer and release it with
// Close.
type Container struct {
	Config   config.Config
	Logger   *zap.Logger
	Registry repositories.Registry
	Services Services
	Router   http.Handler

	provider   *pfirestore.Provider
	pubsubConn *pubsub.Client
	orderTopic *pubsub.Topic
	stockTopic *pubsub.Topic
	uploader   *platformstorage.Uploader
}

type containerOptions struct {
	logger     *zap.Logger
	build      handlers.BuildInfo
	clientOpts []option.ClientOption
}

// Option customises container assembly.
type Option func(*containerOptions)

// WithLogger injects the base logger shared by all components.
func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithBuildInfo sets the build metadata reported by the health endpoints.
func WithBuildInfo(build handlers.BuildInfo) Option {
	return func(o *containerOptions) {
		o.build = build
	}
}

// WithClientOptions forwards extra Google API client options, e.g. emulator
// endpoints or credential overrides used by integration tests.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(o *containerOptions) {
		o.clientOpts = append(o.clientOpts, opts...)
	}
}

// NewContainer assembles the runtime dependency graph from configuration.
// On error every client opened so far is closed before returning.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (*Container, error) {
	options := containerOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	c := &Container{
		Config: cfg,
		Logger: options.logger,
	}

	if err := c.build(ctx, options); err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Close(closeCtx)
		return nil, err
	}
	return c, nil
}

func (c *Container) build(ctx context.Context, options containerOptions) error {
	cfg := c.Config

	clientOpts := options.clientOpts
	if file := strings.TrimSpace(cfg.Firebase.CredentialsFile); file != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(file))
	}

	c.provider = pfirestore.NewProvider(cfg.Firestore)
	if _, err := c.provider.Client(ctx); err != nil {
		return fmt.Errorf("connect firestore: %w", err)
	}

	registry, err := firestorerepo.NewRegistry(c.provider)
	if err != nil {
		return fmt.Errorf("build repository registry: %w", err)
	}
	c.Registry = registry

	events, stockEvents, err := c.buildPublishers(ctx, clientOpts)
	if err != nil {
		return err
	}

	reports, err := c.buildReportWriter(ctx, clientOpts)
	if err != nil {
		return err
	}

	if err := c.buildServices(events, stockEvents, reports); err != nil {
		return err
	}

	return c.buildRouter(ctx, options.build)
}

// buildPublishers connects Pub/Sub and wraps the order and stock topics in
// the publisher implementations the services expect. A missing project ID
// disables publishing; the services treat nil publishers as no-ops.
func (c *Container) buildPublishers(ctx context.Context, clientOpts []option.ClientOption) (services.OrderEventPublisher, services.StockEventPublisher, error) {
	cfg := c.Config
	if strings.TrimSpace(cfg.PubSub.ProjectID) == "" {
		c.Logger.Warn("pubsub project not configured; order and stock events disabled")
		return nil, nil, nil
	}

	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID, clientOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("connect pubsub: %w", err)
	}
	c.pubsubConn = client
	c.orderTopic = client.Topic(cfg.PubSub.OrderEventTopic)
	c.stockTopic = client.Topic(cfg.PubSub.StockEventTopic)

	locales := i18n.NewMatcher(cfg.Notifications.SupportedLocales)
	events, err := jobs.NewPubSubOrderEventPublisher(c.orderTopic, locales)
	if err != nil {
		return nil, nil, fmt.Errorf("build order event publisher: %w", err)
	}
	stockEvents, err := jobs.NewPubSubStockEventPublisher(c.stockTopic)
	if err != nil {
		return nil, nil, fmt.Errorf("build stock event publisher: %w", err)
	}
	return events, stockEvents, nil
}

func (c *Container) buildReportWriter(ctx context.Context, clientOpts []option.ClientOption) (services.ReportWriter, error) {
	bucket := strings.TrimSpace(c.Config.Storage.ExportsBucket)
	if bucket == "" {
		c.Logger.Warn("exports bucket not configured; order export disabled")
		return nil, nil
	}
	uploader, err := platformstorage.NewUploader(ctx, bucket, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("build exports uploader: %w", err)
	}
	c.uploader = uploader
	return &uploaderReportWriter{uploader: uploader}, nil
}

func (c *Container) buildServices(events services.OrderEventPublisher, stockEvents services.StockEventPublisher, reports services.ReportWriter) error {
	cfg := c.Config

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Registry:          c.Registry,
		Events:            events,
		StockEvents:       stockEvents,
		Reports:           reports,
		Logger:            c.Logger.Named("orders"),
		Clock:             time.Now,
		IDGen:             newEntityID,
		Currency:          cfg.Currency,
		DefaultLocale:     cfg.Notifications.DefaultLocale,
		LowStockThreshold: cfg.Inventory.LowStockThreshold,
	})
	if err != nil {
		return fmt.Errorf("build order service: %w", err)
	}
	c.Services.Orders = orders

	inventory, err := services.NewInventoryService(services.InventoryServiceDeps{
		Registry:          c.Registry,
		StockEvents:       stockEvents,
		Logger:            c.Logger.Named("inventory"),
		Clock:             time.Now,
		LowStockThreshold: cfg.Inventory.LowStockThreshold,
	})
	if err != nil {
		return fmt.Errorf("build inventory service: %w", err)
	}
	c.Services.Inventory = inventory

	cart, err := services.NewCartService(services.CartServiceDeps{
		Registry: c.Registry,
		Logger:   c.Logger.Named("cart"),
		Clock:    time.Now,
		IDGen:    newEntityID,
	})
	if err != nil {
		return fmt.Errorf("build cart service: %w", err)
	}
	c.Services.Cart = cart

	reviews, err := services.NewReviewService(services.ReviewServiceDeps{
		Registry: c.Registry,
		Logger:   c.Logger.Named("reviews"),
		Clock:    time.Now,
		IDGen:    newEntityID,
	})
	if err != nil {
		return fmt.Errorf("build review service: %w", err)
	}
	c.Services.Reviews = reviews

	return nil
}

func (c *Container) buildRouter(ctx context.Context, build handlers.BuildInfo) error {
	cfg := c.Config
	logger := c.Logger

	verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		return fmt.Errorf("build firebase verifier: %w", err)
	}
	authenticator := auth.NewAuthenticator(verifier, auth.WithUserGetter(verifier))

	orderHandlers := handlers.NewOrderHandlers(authenticator, c.Services.Orders)
	cartHandlers := handlers.NewCartHandlers(authenticator, c.Services.Cart)
	reviewHandlers := handlers.NewReviewHandlers(authenticator, c.Services.Reviews)
	sellerHandlers := handlers.NewSellerHandlers(authenticator, c.Services.Orders, c.Services.Inventory)
	adminHandlers := handlers.NewAdminHandlers(authenticator, c.Services.Orders)
	internalHandlers := handlers.NewInternalHandlers(c.Services.Reviews)

	healthOpts := []handlers.HealthOption{
		handlers.WithHealthBuildInfo(build),
		handlers.WithReadinessCheck("firestore", c.firestoreCheck()),
	}
	if c.orderTopic != nil {
		healthOpts = append(healthOpts, handlers.WithReadinessCheck("pubsub", c.pubsubCheck()))
	}
	healthHandlers := handlers.NewHealthHandlers(healthOpts...)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
	}

	routerOpts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithMedicineRoutes(reviewHandlers.Routes),
		handlers.WithSellerRoutes(sellerHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithInternalRoutes(internalHandlers.Routes),
	}
	if oidc := buildOIDCMiddleware(logger.Named("auth"), cfg); oidc != nil {
		routerOpts = append(routerOpts, handlers.WithInternalMiddlewares(oidc))
	}

	c.Router = handlers.NewRouter(routerOpts...)
	return nil
}

// firestoreCheck probes connectivity by iterating the first collection.
func (c *Container) firestoreCheck() handlers.ReadinessCheck {
	provider := c.provider
	return func(ctx context.Context) error {
		client, err := provider.Client(ctx)
		if err != nil {
			return err
		}
		iter := client.Collections(ctx)
		if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
			return err
		}
		return nil
	}
}

func (c *Container) pubsubCheck() handlers.ReadinessCheck {
	topic := c.orderTopic
	return func(ctx context.Context) error {
		ok, err := topic.Exists(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("pubsub topic %s not found", topic.ID())
		}
		return nil
	}
}

// Close releases every client the container opened. It is safe to call on a
// partially built container.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}

	var errs []error
	if c.orderTopic != nil {
		c.orderTopic.Stop()
	}
	if c.stockTopic != nil {
		c.stockTopic.Stop()
	}
	if c.pubsubConn != nil {
		if err := c.pubsubConn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pubsub client: %w", err))
		}
	}
	if c.uploader != nil {
		if err := c.uploader.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close exports uploader: %w", err))
		}
	}
	if c.provider != nil {
		if err := c.provider.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close firestore provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

// uploaderReportWriter adapts the storage uploader to the ReportWriter
// contract the order service exports against.
type uploaderReportWriter struct {
	uploader *platformstorage.Uploader
}

func (w *uploaderReportWriter) WriteReport(ctx context.Context, name, contentType string, data []byte) (string, error) {
	result, err := w.uploader.Upload(ctx, name, contentType, data)
	if err != nil {
		return "", err
	}
	return result.URI, nil
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	adapter := observability.NewPrintfAdapter(logger)
	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, auth.WithJWKSLogger(adapter))
	validator := auth.NewOIDCValidator(cache, auth.WithOIDCLogger(adapter))

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	issuers := cfg.Security.OIDC.Issuers
	if len(issuers) == 0 {
		logger.Warn("auth: OIDC issuers not configured; internal routes will reject requests")
	}

	return validator.RequireOIDC(audience, issuers)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

// newEntityID yields a lexicographically sortable document identifier.
func newEntityID() string {
	return strings.ToLower(ulid.Make().String())
}
