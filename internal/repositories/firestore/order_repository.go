package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/medleaf/api/internal/domain"
	pfirestore "github.com/medleaf/api/internal/platform/firestore"
	"github.com/medleaf/api/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository persists orders with their immutable item snapshots.
type OrderRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection),
	}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: order id is required")
	}
	ref, err := r.base.DocumentRef(ctx, order.ID)
	if err != nil {
		return err
	}
	if err := createDoc(ctx, ref, newOrderDocument(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

func (r *OrderRepository) FindByID(ctx context.Context, id string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	snap, err := getDoc(ctx, ref)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.get", err)
	}
	doc, err := pfirestore.DecodeSnapshot[orderDocument](snap, "orders.get")
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// Update persists the mutable portion of an order: status and the
// status-derived timestamps. Items and totals are never rewritten.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	ref, err := r.base.DocumentRef(ctx, order.ID)
	if err != nil {
		return err
	}
	updates := []firestore.Update{
		{Path: "status", Value: string(order.Status)},
		{Path: "updatedAt", Value: order.UpdatedAt.UTC()},
	}
	if order.DeliveredAt != nil {
		updates = append(updates, firestore.Update{Path: "deliveredAt", Value: order.DeliveredAt.UTC()})
	}
	if order.CanceledAt != nil {
		updates = append(updates, firestore.Update{Path: "canceledAt", Value: order.CanceledAt.UTC()})
	}
	if order.CancelReason != nil {
		updates = append(updates, firestore.Update{Path: "cancelReason", Value: *order.CancelReason})
	}
	if err := updateDoc(ctx, ref, updates); err != nil {
		return pfirestore.WrapError("orders.update", err)
	}
	return nil
}

func (r *OrderRepository) ListByUser(ctx context.Context, userID string, filter repositories.OrderListFilter) ([]domain.Order, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("order repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("order repository: user id is required")
	}
	coll, err := r.base.CollectionRef(ctx)
	if err != nil {
		return nil, err
	}
	query := applyOrderFilter(coll.Where("userId", "==", userID), filter)
	return r.collect(ctx, query, "orders.listByUser")
}

// ListBySeller returns orders with at least one item of the seller, each
// order once. The denormalised sellerIds field backs the membership query.
func (r *OrderRepository) ListBySeller(ctx context.Context, sellerID string, filter repositories.OrderListFilter) ([]domain.Order, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("order repository not initialised")
	}
	sellerID = strings.TrimSpace(sellerID)
	if sellerID == "" {
		return nil, errors.New("order repository: seller id is required")
	}
	coll, err := r.base.CollectionRef(ctx)
	if err != nil {
		return nil, err
	}
	query := applyOrderFilter(coll.Where("sellerIds", "array-contains", sellerID), filter)
	return r.collect(ctx, query, "orders.listBySeller")
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("order repository not initialised")
	}
	coll, err := r.base.CollectionRef(ctx)
	if err != nil {
		return nil, err
	}
	query := applyOrderFilter(coll.Query, filter)
	return r.collect(ctx, query, "orders.list")
}

func (r *OrderRepository) collect(ctx context.Context, query firestore.Query, op string) ([]domain.Order, error) {
	iter := runQuery(ctx, query)
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError(op, err)
		}
		doc, err := pfirestore.DecodeSnapshot[orderDocument](snap, op)
		if err != nil {
			return nil, err
		}
		orders = append(orders, doc.Data.toDomain(doc.ID))
	}
	return orders, nil
}

func applyOrderFilter(query firestore.Query, filter repositories.OrderListFilter) firestore.Query {
	if filter.Status != "" {
		query = query.Where("status", "==", string(filter.Status))
	}
	if filter.CreatedAfter != nil {
		query = query.Where("createdAt", ">", filter.CreatedAfter.UTC())
	}
	query = query.OrderBy("createdAt", firestore.Desc)
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	return query
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

type orderDocument struct {
	OrderNumber   string              `firestore:"orderNumber"`
	UserID        string              `firestore:"userId"`
	AddressID     string              `firestore:"addressId,omitempty"`
	PaymentMethod string              `firestore:"paymentMethod,omitempty"`
	CustomerNote  string              `firestore:"customerNote,omitempty"`
	Status        string              `firestore:"status"`
	Subtotal      int64               `firestore:"subtotal"`
	DeliveryFee   int64               `firestore:"deliveryCharge"`
	Discount      int64               `firestore:"discount"`
	Total         int64               `firestore:"total"`
	Currency      string              `firestore:"currency"`
	Items         []orderItemDocument `firestore:"items"`
	SellerIDs     []string            `firestore:"sellerIds"`
	DeliveredAt   *time.Time          `firestore:"deliveredAt,omitempty"`
	CanceledAt    *time.Time          `firestore:"canceledAt,omitempty"`
	CancelReason  string              `firestore:"cancelReason,omitempty"`
	CreatedAt     time.Time           `firestore:"createdAt"`
	UpdatedAt     time.Time           `firestore:"updatedAt"`
}

type orderItemDocument struct {
	MedicineID   string `firestore:"medicineId"`
	MedicineName string `firestore:"medicineName"`
	SellerID     string `firestore:"sellerId"`
	Quantity     int64  `firestore:"qty"`
	UnitPrice    int64  `firestore:"unitPrice"`
	LineTotal    int64  `firestore:"lineTotal"`
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, len(order.Items))
	sellerSet := make(map[string]bool, len(order.Items))
	sellerIDs := make([]string, 0, len(order.Items))
	for i, item := range order.Items {
		items[i] = orderItemDocument{
			MedicineID:   item.MedicineID,
			MedicineName: item.MedicineName,
			SellerID:     item.SellerID,
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
			LineTotal:    item.LineTotal,
		}
		if item.SellerID != "" && !sellerSet[item.SellerID] {
			sellerSet[item.SellerID] = true
			sellerIDs = append(sellerIDs, item.SellerID)
		}
	}

	doc := orderDocument{
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		AddressID:     order.AddressID,
		PaymentMethod: order.PaymentMethod,
		CustomerNote:  order.CustomerNote,
		Status:        string(order.Status),
		Subtotal:      order.Totals.Subtotal,
		DeliveryFee:   order.Totals.DeliveryCharge,
		Discount:      order.Totals.Discount,
		Total:         order.Totals.Total,
		Currency:      order.Totals.Currency,
		Items:         items,
		SellerIDs:     sellerIDs,
		DeliveredAt:   order.DeliveredAt,
		CanceledAt:    order.CanceledAt,
		CreatedAt:     order.CreatedAt.UTC(),
		UpdatedAt:     order.UpdatedAt.UTC(),
	}
	if order.CancelReason != nil {
		doc.CancelReason = *order.CancelReason
	}
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.OrderItem{
			MedicineID:   item.MedicineID,
			MedicineName: item.MedicineName,
			SellerID:     item.SellerID,
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
			LineTotal:    item.LineTotal,
		}
	}
	order := domain.Order{
		ID:            id,
		OrderNumber:   d.OrderNumber,
		UserID:        d.UserID,
		AddressID:     d.AddressID,
		PaymentMethod: d.PaymentMethod,
		CustomerNote:  d.CustomerNote,
		Status:        domain.OrderStatus(d.Status),
		Totals: domain.OrderTotals{
			Subtotal:       d.Subtotal,
			DeliveryCharge: d.DeliveryFee,
			Discount:       d.Discount,
			Total:          d.Total,
			Currency:       d.Currency,
		},
		Items:       items,
		DeliveredAt: d.DeliveredAt,
		CanceledAt:  d.CanceledAt,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
	if d.CancelReason != "" {
		reason := d.CancelReason
		order.CancelReason = &reason
	}
	return order
}
