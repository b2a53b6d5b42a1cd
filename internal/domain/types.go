package domain

import "time"

// OrderStatus enumerates the lifecycle states of an order.
type OrderStatus string

const (
	// OrderStatusPlaced is the canonical initial state after checkout.
	OrderStatusPlaced OrderStatus = "PLACED"
	// OrderStatusPending is a legacy near-initial state with the same
	// outgoing edges as PLACED. New orders are never created in it.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusConfirmed marks seller acknowledgement.
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	// OrderStatusProcessing marks active fulfilment.
	OrderStatusProcessing OrderStatus = "PROCESSING"
	// OrderStatusShipped marks hand-over to delivery.
	OrderStatusShipped OrderStatus = "SHIPPED"
	// OrderStatusDelivered is terminal and unlocks review eligibility.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusCancelled is terminal; reaching it returns stock.
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// ActorRole identifies who is acting on an order.
type ActorRole string

const (
	RoleCustomer ActorRole = "customer"
	RoleSeller   ActorRole = "seller"
	RoleAdmin    ActorRole = "admin"
)

// Medicine is a sellable catalog item. Stock is the single source of truth
// for availability and is mutated only by order creation, order cancellation
// and direct seller stock adjustments.
type Medicine struct {
	ID            string
	SellerID      string
	Name          string
	Description   string
	Price         int64
	DiscountPrice *int64
	Stock         int64
	IsActive      bool
	Rating        *float64
	RatingCount   int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// EffectivePrice returns the discount price when present, else the list price.
func (m Medicine) EffectivePrice() int64 {
	if m.DiscountPrice != nil {
		return *m.DiscountPrice
	}
	return m.Price
}

// CartLine is one (user, medicine) entry in a shopping cart. Lines are
// ephemeral: they live until consumed by order creation or removed.
type CartLine struct {
	ID         string
	UserID     string
	MedicineID string
	Quantity   int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CartSnapshot pairs a user's cart lines with the medicines they reference,
// read at a single point in time.
type CartSnapshot struct {
	UserID    string
	Lines     []CartLine
	Medicines map[string]Medicine
	TakenAt   time.Time
}

// OrderTotals carries the monetary amounts frozen at order creation.
type OrderTotals struct {
	Subtotal       int64
	DeliveryCharge int64
	Discount       int64
	Total          int64
	Currency       string
}

// OrderItem is an immutable line of an order. Name, unit price and seller
// are snapshots taken at creation time and never change afterwards.
type OrderItem struct {
	MedicineID   string
	MedicineName string
	SellerID     string
	Quantity     int64
	UnitPrice    int64
	LineTotal    int64
}

// Order is the durable record produced from a cart. Identity fields are
// immutable; only Status and the status-derived timestamps may change, and
// only through the state machine.
type Order struct {
	ID            string
	OrderNumber   string
	UserID        string
	AddressID     string
	PaymentMethod string
	CustomerNote  string
	Status        OrderStatus
	Totals        OrderTotals
	Items         []OrderItem
	DeliveredAt   *time.Time
	CanceledAt    *time.Time
	CancelReason  *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasSellerItem reports whether at least one item of the order belongs to
// the given seller.
func (o Order) HasSellerItem(sellerID string) bool {
	for _, item := range o.Items {
		if item.SellerID == sellerID {
			return true
		}
	}
	return false
}

// ItemQuantities returns the per-medicine quantities of the order, merging
// duplicate medicine ids.
func (o Order) ItemQuantities() map[string]int64 {
	out := make(map[string]int64, len(o.Items))
	for _, item := range o.Items {
		out[item.MedicineID] += item.Quantity
	}
	return out
}

// Review is a customer verdict on a medicine bought in a delivered order.
// A user writes at most one review per medicine, ever.
type Review struct {
	ID         string
	UserID     string
	MedicineID string
	OrderID    string
	Rating     int
	Comment    string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// RatingSummary is the recomputed aggregate stored on a medicine.
type RatingSummary struct {
	MedicineID string
	Average    *float64
	Count      int64
}

// StockAdjustment describes one atomic change to a medicine's stock.
type StockAdjustment struct {
	MedicineID string
	Quantity   int64
}

// OrderEvent is published after order mutations for the notification
// collaborator. Delivery is fire and forget.
type OrderEvent struct {
	Type        string
	OrderID     string
	OrderNumber string
	UserID      string
	Status      OrderStatus
	Locale      string
	OccurredAt  time.Time
	Metadata    map[string]string
}

// StockEvent is published when a stock mutation leaves a medicine at or
// below its low-stock threshold.
type StockEvent struct {
	Type       string
	MedicineID string
	SellerID   string
	Stock      int64
	OccurredAt time.Time
}
