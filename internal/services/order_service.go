package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/medleaf/api/internal/domain"
	"github.com/medleaf/api/internal/repositories"
)

const (
	orderIDPrefix     = "ord_"
	orderNumberPrefix = "ML"

	eventOrderPlaced        = "order.placed"
	eventOrderStatusChanged = "order.status_changed"
	eventOrderCancelled     = "order.cancelled"
	eventStockLow           = "stock.low"
)

// orderTransitions is the complete edge set of the order state machine.
// PENDING is a legacy alias for the initial state and shares its edges;
// new orders always start in PLACED.
var orderTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPlaced:     {domain.OrderStatusConfirmed, domain.OrderStatusCancelled},
	domain.OrderStatusPending:    {domain.OrderStatusConfirmed, domain.OrderStatusCancelled},
	domain.OrderStatusConfirmed:  {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered},
	domain.OrderStatusDelivered:  {},
	domain.OrderStatusCancelled:  {},
}

// sellerTargets are the only statuses a seller may move an order into.
var sellerTargets = map[domain.OrderStatus]bool{
	domain.OrderStatusConfirmed:  true,
	domain.OrderStatusProcessing: true,
	domain.OrderStatusShipped:    true,
	domain.OrderStatusDelivered:  true,
}

func transitionAllowed(from, to domain.OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func isInitialStatus(status domain.OrderStatus) bool {
	return status == domain.OrderStatusPlaced || status == domain.OrderStatusPending
}

// OrderServiceDeps wires the collaborators of the order service.
type OrderServiceDeps struct {
	Registry    repositories.Registry
	Events      OrderEventPublisher
	StockEvents StockEventPublisher
	Reports     ReportWriter
	Logger      *zap.Logger

	Clock Clock
	IDGen IDGenerator

	Currency          string
	DefaultLocale     string
	LowStockThreshold int64
}

type orderService struct {
	registry    repositories.Registry
	events      OrderEventPublisher
	stockEvents StockEventPublisher
	reports     ReportWriter
	logger      *zap.Logger

	now   Clock
	newID IDGenerator

	currency          string
	defaultLocale     string
	lowStockThreshold int64
}

// NewOrderService constructs the order service.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Registry == nil {
		return nil, errors.New("order service requires a repository registry")
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.IDGen == nil {
		return nil, errors.New("order service requires an id generator")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Currency == "" {
		deps.Currency = "BDT"
	}
	if deps.DefaultLocale == "" {
		deps.DefaultLocale = "en"
	}
	return &orderService{
		registry:          deps.Registry,
		events:            deps.Events,
		stockEvents:       deps.StockEvents,
		reports:           deps.Reports,
		logger:            deps.Logger,
		now:               deps.Clock,
		newID:             deps.IDGen,
		currency:          deps.Currency,
		defaultLocale:     deps.DefaultLocale,
		lowStockThreshold: deps.LowStockThreshold,
	}, nil
}

// CreateFromCart converts the user's cart into an order. The cart read, the
// order insert, the stock decrements and the cart line deletes all commit in
// one transaction, so a failed stock check leaves nothing behind.
func (s *orderService) CreateFromCart(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	if strings.TrimSpace(cmd.UserID) == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}

	var (
		order     domain.Order
		lowStocks []domain.StockEvent
	)
	err := s.registry.RunInTx(ctx, func(txCtx context.Context) error {
		order = domain.Order{}
		lowStocks = lowStocks[:0]

		lines, err := s.registry.Carts().ListByUser(txCtx, cmd.UserID)
		if err != nil {
			return mapOrderRepositoryError(err)
		}
		if len(lines) == 0 {
			return ErrEmptyCart
		}

		medicineIDs := make([]string, 0, len(lines))
		for _, line := range lines {
			medicineIDs = append(medicineIDs, line.MedicineID)
		}
		medicines, err := s.registry.Medicines().FindByIDs(txCtx, medicineIDs)
		if err != nil {
			return mapOrderRepositoryError(err)
		}

		now := s.now().UTC()
		items := make([]domain.OrderItem, 0, len(lines))
		adjustments := make([]domain.StockAdjustment, 0, len(lines))
		var subtotal int64
		for _, line := range lines {
			med, ok := medicines[line.MedicineID]
			if !ok {
				return fmt.Errorf("%w: %s", ErrMedicineUnavailable, line.MedicineID)
			}
			if !med.IsActive {
				return fmt.Errorf("%w: %s", ErrMedicineUnavailable, med.ID)
			}
			if line.Quantity <= 0 {
				return fmt.Errorf("%w: non-positive quantity for %s", ErrOrderInvalidInput, med.ID)
			}
			if med.Stock < line.Quantity {
				return fmt.Errorf("%w: %s has %d left", ErrInsufficientStock, med.ID, med.Stock)
			}

			unit := med.EffectivePrice()
			items = append(items, domain.OrderItem{
				MedicineID:   med.ID,
				MedicineName: med.Name,
				SellerID:     med.SellerID,
				Quantity:     line.Quantity,
				UnitPrice:    unit,
				LineTotal:    unit * line.Quantity,
			})
			subtotal += unit * line.Quantity
			adjustments = append(adjustments, domain.StockAdjustment{
				MedicineID: med.ID,
				Quantity:   line.Quantity,
			})
			if remaining := med.Stock - line.Quantity; remaining <= s.lowStockThreshold {
				lowStocks = append(lowStocks, domain.StockEvent{
					Type:       eventStockLow,
					MedicineID: med.ID,
					SellerID:   med.SellerID,
					Stock:      remaining,
					OccurredAt: now,
				})
			}
		}

		id := s.newID()
		order = domain.Order{
			ID:            orderIDPrefix + id,
			OrderNumber:   formatOrderNumber(now, id),
			UserID:        cmd.UserID,
			AddressID:     cmd.AddressID,
			PaymentMethod: cmd.PaymentMethod,
			CustomerNote:  cmd.CustomerNote,
			Status:        domain.OrderStatusPlaced,
			Totals: domain.OrderTotals{
				Subtotal:       subtotal,
				DeliveryCharge: 0,
				Discount:       0,
				Total:          subtotal,
				Currency:       s.currency,
			},
			Items:     items,
			CreatedAt: now,
			UpdatedAt: now,
		}

		if err := s.registry.Medicines().ReserveStock(txCtx, repositories.StockMutationRequest{
			Adjustments: adjustments,
			Now:         now,
		}); err != nil {
			return mapOrderRepositoryError(err)
		}
		if err := s.registry.Orders().Insert(txCtx, order); err != nil {
			return mapOrderRepositoryError(err)
		}
		if err := s.registry.Carts().DeleteLines(txCtx, cmd.UserID, medicineIDs); err != nil {
			return mapOrderRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishOrderEvent(ctx, eventOrderPlaced, order, s.localeOrDefault(cmd.Locale))
	s.publishLowStockEvents(ctx, lowStocks)
	return order, nil
}

func (s *orderService) Get(ctx context.Context, orderID string, actor Actor) (Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.registry.Orders().FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}
	if err := authorizeOrderView(order, actor); err != nil {
		return Order{}, err
	}
	return order, nil
}

func (s *orderService) ListForUser(ctx context.Context, userID string, query OrderListQuery) ([]Order, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	orders, err := s.registry.Orders().ListByUser(ctx, userID, toListFilter(query))
	if err != nil {
		return nil, mapOrderRepositoryError(err)
	}
	return orders, nil
}

// ListForSeller returns every order containing at least one item owned by the
// seller. Each order appears once regardless of how many of its items the
// seller owns.
func (s *orderService) ListForSeller(ctx context.Context, sellerID string, query OrderListQuery) ([]Order, error) {
	if strings.TrimSpace(sellerID) == "" {
		return nil, fmt.Errorf("%w: seller id is required", ErrOrderInvalidInput)
	}
	orders, err := s.registry.Orders().ListBySeller(ctx, sellerID, toListFilter(query))
	if err != nil {
		return nil, mapOrderRepositoryError(err)
	}
	return orders, nil
}

func (s *orderService) ListAll(ctx context.Context, query OrderListQuery) ([]Order, error) {
	orders, err := s.registry.Orders().List(ctx, toListFilter(query))
	if err != nil {
		return nil, mapOrderRepositoryError(err)
	}
	return orders, nil
}

func (s *orderService) UpdateStatus(ctx context.Context, cmd OrderStatusCommand) (Order, error) {
	if strings.TrimSpace(cmd.OrderID) == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if _, ok := orderTransitions[cmd.Target]; !ok {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Target)
	}
	return s.applyTransition(ctx, cmd.OrderID, cmd.Target, cmd.Actor, cmd.Reason)
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	if strings.TrimSpace(cmd.OrderID) == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	return s.applyTransition(ctx, cmd.OrderID, domain.OrderStatusCancelled, cmd.Actor, cmd.Reason)
}

// applyTransition moves an order along one edge of the state machine. The
// order read, the status write and, for cancellations, the stock releases
// commit in one transaction.
func (s *orderService) applyTransition(ctx context.Context, orderID string, target domain.OrderStatus, actor Actor, reason string) (Order, error) {
	var order domain.Order
	err := s.registry.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		order, err = s.registry.Orders().FindByID(txCtx, orderID)
		if err != nil {
			return mapOrderRepositoryError(err)
		}
		if err := authorizeTransition(order, target, actor); err != nil {
			return err
		}
		if !transitionAllowed(order.Status, target) {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, order.Status, target)
		}

		now := s.now().UTC()
		order.Status = target
		order.UpdatedAt = now
		switch target {
		case domain.OrderStatusDelivered:
			order.DeliveredAt = &now
		case domain.OrderStatusCancelled:
			order.CanceledAt = &now
			if trimmed := strings.TrimSpace(reason); trimmed != "" {
				order.CancelReason = &trimmed
			}
			adjustments := stockAdjustmentsFor(order)
			if len(adjustments) > 0 {
				if err := s.registry.Medicines().ReleaseStock(txCtx, repositories.StockMutationRequest{
					Adjustments: adjustments,
					Now:         now,
				}); err != nil {
					return mapOrderRepositoryError(err)
				}
			}
		}
		return s.registry.Orders().Update(txCtx, order)
	})
	if err != nil {
		return Order{}, err
	}

	eventType := eventOrderStatusChanged
	if target == domain.OrderStatusCancelled {
		eventType = eventOrderCancelled
	}
	s.publishOrderEvent(ctx, eventType, order, s.localeOrDefault(actor.Locale))
	return order, nil
}

// ExportCSV renders the matching orders as CSV and hands the bytes to the
// report writer. Admin only.
func (s *orderService) ExportCSV(ctx context.Context, cmd ExportOrdersCommand) (ExportResult, error) {
	if cmd.Actor.Role != domain.RoleAdmin {
		return ExportResult{}, ErrOrderForbidden
	}
	if s.reports == nil {
		return ExportResult{}, errors.New("order export is not configured")
	}

	orders, err := s.registry.Orders().List(ctx, toListFilter(cmd.Query))
	if err != nil {
		return ExportResult{}, mapOrderRepositoryError(err)
	}

	now := s.now().UTC()
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := []string{"order_id", "order_number", "user_id", "status", "item_count", "subtotal", "total", "currency", "created_at"}
	if err := w.Write(header); err != nil {
		return ExportResult{}, fmt.Errorf("write export header: %w", err)
	}
	for _, order := range orders {
		record := []string{
			order.ID,
			order.OrderNumber,
			order.UserID,
			string(order.Status),
			strconv.Itoa(len(order.Items)),
			strconv.FormatInt(order.Totals.Subtotal, 10),
			strconv.FormatInt(order.Totals.Total, 10),
			order.Totals.Currency,
			order.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			return ExportResult{}, fmt.Errorf("write export row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return ExportResult{}, fmt.Errorf("flush export: %w", err)
	}

	name := fmt.Sprintf("orders/orders-%s.csv", now.Format("20060102-150405"))
	uri, err := s.reports.WriteReport(ctx, name, "text/csv", buf.Bytes())
	if err != nil {
		return ExportResult{}, fmt.Errorf("write order export: %w", err)
	}
	return ExportResult{URI: uri, RowCount: len(orders), ExportedAt: now}, nil
}

// authorizeOrderView enforces read visibility: customers see their own
// orders, sellers see orders containing their items, admins see everything.
func authorizeOrderView(order domain.Order, actor Actor) error {
	switch actor.Role {
	case domain.RoleAdmin:
		return nil
	case domain.RoleSeller:
		if order.HasSellerItem(actor.SellerID) {
			return nil
		}
	case domain.RoleCustomer:
		if order.UserID == actor.ID {
			return nil
		}
	}
	return ErrOrderForbidden
}

// authorizeTransition enforces the per-role transition policy. The state
// machine edge itself is checked separately; this only answers whether the
// actor may request the target at all.
func authorizeTransition(order domain.Order, target domain.OrderStatus, actor Actor) error {
	switch actor.Role {
	case domain.RoleAdmin:
		return nil
	case domain.RoleSeller:
		if !order.HasSellerItem(actor.SellerID) {
			return ErrOrderForbidden
		}
		if !sellerTargets[target] {
			return fmt.Errorf("%w: sellers cannot set %s", ErrIllegalTransition, target)
		}
		return nil
	case domain.RoleCustomer:
		if order.UserID != actor.ID {
			return ErrOrderForbidden
		}
		if target != domain.OrderStatusCancelled {
			return fmt.Errorf("%w: customers can only cancel", ErrIllegalTransition)
		}
		if !isInitialStatus(order.Status) {
			return fmt.Errorf("%w: order is already %s", ErrIllegalTransition, order.Status)
		}
		return nil
	default:
		return ErrOrderForbidden
	}
}

func stockAdjustmentsFor(order domain.Order) []domain.StockAdjustment {
	quantities := order.ItemQuantities()
	adjustments := make([]domain.StockAdjustment, 0, len(quantities))
	for _, item := range order.Items {
		qty, ok := quantities[item.MedicineID]
		if !ok {
			continue
		}
		delete(quantities, item.MedicineID)
		adjustments = append(adjustments, domain.StockAdjustment{
			MedicineID: item.MedicineID,
			Quantity:   qty,
		})
	}
	return adjustments
}

func (s *orderService) publishOrderEvent(ctx context.Context, eventType string, order domain.Order, locale string) {
	if s.events == nil {
		return
	}
	event := domain.OrderEvent{
		Type:        eventType,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Status:      order.Status,
		Locale:      locale,
		OccurredAt:  s.now().UTC(),
	}
	if _, err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger.Warn("publish order event failed",
			zap.String("event_type", eventType),
			zap.String("order_id", order.ID),
			zap.Error(err))
	}
}

func (s *orderService) publishLowStockEvents(ctx context.Context, events []domain.StockEvent) {
	if s.stockEvents == nil {
		return
	}
	for _, event := range events {
		if _, err := s.stockEvents.PublishStockEvent(ctx, event); err != nil {
			s.logger.Warn("publish stock event failed",
				zap.String("medicine_id", event.MedicineID),
				zap.Error(err))
		}
	}
}

func (s *orderService) localeOrDefault(locale string) string {
	if strings.TrimSpace(locale) == "" {
		return s.defaultLocale
	}
	return locale
}

// formatOrderNumber builds the human facing order number. The six character
// suffix comes from the tail of the document id, so uniqueness ultimately
// rests on the id, not on this display string.
func formatOrderNumber(now time.Time, id string) string {
	suffix := strings.ToUpper(id)
	if len(suffix) > 6 {
		suffix = suffix[len(suffix)-6:]
	}
	return fmt.Sprintf("%s-%s-%s", orderNumberPrefix, now.Format("20060102"), suffix)
}

func toListFilter(query OrderListQuery) repositories.OrderListFilter {
	return repositories.OrderListFilter{
		Status:       query.Status,
		CreatedAfter: query.CreatedAfter,
		Limit:        query.Limit,
	}
}

// mapOrderRepositoryError folds storage level failures into the service
// sentinels the handlers know how to translate.
func mapOrderRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorInsufficient:
			return fmt.Errorf("%w: %s has %d left", ErrInsufficientStock, stockErr.MedicineID, stockErr.Available)
		case repositories.StockErrorMedicineNotFound:
			return fmt.Errorf("%w: %s", ErrMedicineUnavailable, stockErr.MedicineID)
		case repositories.StockErrorMedicineInactive:
			return fmt.Errorf("%w: %s", ErrMedicineUnavailable, stockErr.MedicineID)
		}
		return err
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
		}
	}
	return err
}
