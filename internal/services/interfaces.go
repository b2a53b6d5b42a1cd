package services

import (
	"context"
	"time"

	"github.com/medleaf/api/internal/domain"
)

// Aliases re-export domain types so handlers depend on a single package.
type (
	Medicine        = domain.Medicine
	CartLine        = domain.CartLine
	CartSnapshot    = domain.CartSnapshot
	Order           = domain.Order
	OrderItem       = domain.OrderItem
	OrderTotals     = domain.OrderTotals
	OrderStatus     = domain.OrderStatus
	Review          = domain.Review
	RatingSummary   = domain.RatingSummary
	StockAdjustment = domain.StockAdjustment
	OrderEvent      = domain.OrderEvent
	StockEvent      = domain.StockEvent
	ActorRole       = domain.ActorRole
)

// Actor identifies the principal performing an operation, as supplied by the
// session collaborator.
type Actor struct {
	ID       string
	Role     domain.ActorRole
	SellerID string
	Locale   string
}

// CreateOrderCommand carries the input for converting a cart into an order.
type CreateOrderCommand struct {
	UserID        string
	AddressID     string
	PaymentMethod string
	CustomerNote  string
	Locale        string
}

// OrderStatusCommand requests a state machine transition.
type OrderStatusCommand struct {
	OrderID string
	Target  domain.OrderStatus
	Actor   Actor
	Reason  string
}

// CancelOrderCommand requests cancellation of an order.
type CancelOrderCommand struct {
	OrderID string
	Actor   Actor
	Reason  string
}

// OrderListQuery narrows order listings.
type OrderListQuery struct {
	Status       domain.OrderStatus
	CreatedAfter *time.Time
	Limit        int
}

// ExportOrdersCommand requests a CSV export of orders for back office use.
type ExportOrdersCommand struct {
	Query OrderListQuery
	Actor Actor
}

// ExportResult points at the written report object.
type ExportResult struct {
	URI        string
	RowCount   int
	ExportedAt time.Time
}

// OrderService owns order creation and the status state machine.
type OrderService interface {
	CreateFromCart(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	Get(ctx context.Context, orderID string, actor Actor) (Order, error)
	ListForUser(ctx context.Context, userID string, query OrderListQuery) ([]Order, error)
	ListForSeller(ctx context.Context, sellerID string, query OrderListQuery) ([]Order, error)
	ListAll(ctx context.Context, query OrderListQuery) ([]Order, error)
	UpdateStatus(ctx context.Context, cmd OrderStatusCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	ExportCSV(ctx context.Context, cmd ExportOrdersCommand) (ExportResult, error)
}

// AdjustStockCommand is a direct seller stock change.
type AdjustStockCommand struct {
	MedicineID string
	Delta      int64
	Actor      Actor
}

// InventoryService exposes the atomic stock ledger.
type InventoryService interface {
	Reserve(ctx context.Context, adjustments []StockAdjustment) error
	Release(ctx context.Context, adjustments []StockAdjustment) error
	AdjustStock(ctx context.Context, cmd AdjustStockCommand) (Medicine, error)
	ListForSeller(ctx context.Context, actor Actor) ([]Medicine, error)
}

// CartLineCommand mutates one line of a user's cart.
type CartLineCommand struct {
	UserID     string
	MedicineID string
	Quantity   int64
}

// CartService owns cart line CRUD and the consistent snapshot read used by
// order creation.
type CartService interface {
	List(ctx context.Context, userID string) ([]CartLine, error)
	Snapshot(ctx context.Context, userID string) (CartSnapshot, error)
	AddLine(ctx context.Context, cmd CartLineCommand) (CartLine, error)
	UpdateLineQuantity(ctx context.Context, cmd CartLineCommand) (CartLine, error)
	RemoveLine(ctx context.Context, userID, medicineID string) error
	Clear(ctx context.Context, userID string) error
}

// CreateReviewCommand carries review creation input.
type CreateReviewCommand struct {
	UserID     string
	MedicineID string
	OrderID    string
	Rating     int
	Comment    string
}

// UpdateReviewCommand patches an existing review.
type UpdateReviewCommand struct {
	ReviewID string
	UserID   string
	Rating   *int
	Comment  *string
}

// ReviewService owns review CRUD and the rating aggregate recomputation.
type ReviewService interface {
	Create(ctx context.Context, cmd CreateReviewCommand) (Review, error)
	Update(ctx context.Context, cmd UpdateReviewCommand) (Review, error)
	Delete(ctx context.Context, reviewID, userID string) error
	ListForMedicine(ctx context.Context, medicineID string) ([]Review, error)
	RecountRating(ctx context.Context, medicineID string) (RatingSummary, error)
}

// OrderEventPublisher forwards order lifecycle events to the notification
// collaborator. Failures are logged, never surfaced.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) (string, error)
}

// StockEventPublisher forwards low stock alerts.
type StockEventPublisher interface {
	PublishStockEvent(ctx context.Context, event StockEvent) (string, error)
}

// ReportWriter persists generated reports and returns their location.
type ReportWriter interface {
	WriteReport(ctx context.Context, name, contentType string, data []byte) (string, error)
}

// Clock yields the current time; injected for deterministic tests.
type Clock func() time.Time

// IDGenerator yields new entity identifiers.
type IDGenerator func() string
