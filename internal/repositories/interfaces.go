package repositories

import (
	"context"
	"time"

	"github.com/medleaf/api/internal/domain"
)

// RepositoryError lets service code classify storage failures without
// depending on a concrete backend.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork executes fn atomically. Every read and write performed through
// the registry inside fn commits together or not at all.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Registry exposes the concrete repositories plus the transactional
// boundary they share.
type Registry interface {
	UnitOfWork

	Medicines() MedicineRepository
	Carts() CartRepository
	Orders() OrderRepository
	Reviews() ReviewRepository
}

// MedicineRepository persists catalog items and owns all stock mutations.
type MedicineRepository interface {
	FindByID(ctx context.Context, id string) (domain.Medicine, error)
	FindByIDs(ctx context.Context, ids []string) (map[string]domain.Medicine, error)
	// ReserveStock atomically decrements stock for every adjustment, or
	// fails without any effect. A medicine with less stock than requested
	// yields an InsufficientStock error naming it.
	ReserveStock(ctx context.Context, req StockMutationRequest) error
	// ReleaseStock atomically increments stock for every adjustment.
	ReleaseStock(ctx context.Context, req StockMutationRequest) error
	// UpdateRating writes the recomputed aggregate for one medicine.
	UpdateRating(ctx context.Context, summary domain.RatingSummary, now time.Time) error
	ListBySeller(ctx context.Context, sellerID string) ([]domain.Medicine, error)
}

// CartRepository persists the ephemeral cart lines.
type CartRepository interface {
	ListByUser(ctx context.Context, userID string) ([]domain.CartLine, error)
	FindLine(ctx context.Context, userID, medicineID string) (domain.CartLine, error)
	Upsert(ctx context.Context, line domain.CartLine) error
	DeleteLine(ctx context.Context, userID, medicineID string) error
	// DeleteLines removes the given lines; used when a cart is consumed by
	// order creation inside the same transaction.
	DeleteLines(ctx context.Context, userID string, medicineIDs []string) error
}

// OrderRepository persists orders together with their immutable items.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, id string) (domain.Order, error)
	// Update persists the mutable portion of an order (status and the
	// status-derived timestamps). Items and totals are never rewritten.
	Update(ctx context.Context, order domain.Order) error
	ListByUser(ctx context.Context, userID string, filter OrderListFilter) ([]domain.Order, error)
	ListBySeller(ctx context.Context, sellerID string, filter OrderListFilter) ([]domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) ([]domain.Order, error)
}

// ReviewRepository persists reviews and supports the one-per-(user,medicine)
// rule.
type ReviewRepository interface {
	Insert(ctx context.Context, review domain.Review) error
	FindByID(ctx context.Context, id string) (domain.Review, error)
	FindByUserAndMedicine(ctx context.Context, userID, medicineID string) (domain.Review, error)
	ListByMedicine(ctx context.Context, medicineID string) ([]domain.Review, error)
	Update(ctx context.Context, review domain.Review) error
	Delete(ctx context.Context, id string) error
}

// StockMutationRequest carries a batch of stock adjustments applied as one
// atomic unit.
type StockMutationRequest struct {
	Adjustments []domain.StockAdjustment
	Now         time.Time
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	Status       domain.OrderStatus
	CreatedAfter *time.Time
	Limit        int
}

// StockErrorCode enumerates stock mutation failure causes.
type StockErrorCode string

const (
	// StockErrorUnknown represents an unspecified failure.
	StockErrorUnknown StockErrorCode = "stock_unknown"
	// StockErrorInsufficient indicates requested quantity exceeds availability.
	StockErrorInsufficient StockErrorCode = "stock_insufficient"
	// StockErrorMedicineNotFound indicates the medicine document is missing.
	StockErrorMedicineNotFound StockErrorCode = "stock_medicine_not_found"
	// StockErrorMedicineInactive indicates the medicine is not purchasable.
	StockErrorMedicineInactive StockErrorCode = "stock_medicine_inactive"
)

// StockError wraps stock-specific failures with machine readable codes.
type StockError struct {
	Op         string
	Code       StockErrorCode
	MedicineID string
	Available  int64
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *StockError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return e.Op + ": " + e.Message
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *StockError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewStockError constructs a typed stock error.
func NewStockError(code StockErrorCode, medicineID, message string, err error) *StockError {
	if message == "" {
		message = string(code)
	}
	return &StockError{
		Code:       code,
		MedicineID: medicineID,
		Message:    message,
		Err:        err,
	}
}
