package services

import (
	"context"
	"time"

	"github.com/medleaf/api/internal/domain"
	"github.com/medleaf/api/internal/repositories"
)

// stubRegistry satisfies repositories.Registry with pluggable parts.
// RunInTx just invokes fn; the stubs below have no transactional state.
type stubRegistry struct {
	medicines *stubMedicineRepo
	carts     *stubCartRepo
	orders    *stubOrderRepo
	reviews   *stubReviewRepo

	runInTx func(ctx context.Context, fn func(ctx context.Context) error) error
	txCalls int
}

func newStubRegistry() *stubRegistry {
	return &stubRegistry{
		medicines: &stubMedicineRepo{},
		carts:     &stubCartRepo{},
		orders:    &stubOrderRepo{},
		reviews:   &stubReviewRepo{},
	}
}

func (r *stubRegistry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	r.txCalls++
	if r.runInTx != nil {
		return r.runInTx(ctx, fn)
	}
	return fn(ctx)
}

func (r *stubRegistry) Medicines() repositories.MedicineRepository { return r.medicines }
func (r *stubRegistry) Carts() repositories.CartRepository         { return r.carts }
func (r *stubRegistry) Orders() repositories.OrderRepository       { return r.orders }
func (r *stubRegistry) Reviews() repositories.ReviewRepository     { return r.reviews }

type stubMedicineRepo struct {
	findByIDFn     func(ctx context.Context, id string) (domain.Medicine, error)
	findByIDsFn    func(ctx context.Context, ids []string) (map[string]domain.Medicine, error)
	reserveStockFn func(ctx context.Context, req repositories.StockMutationRequest) error
	releaseStockFn func(ctx context.Context, req repositories.StockMutationRequest) error
	updateRatingFn func(ctx context.Context, summary domain.RatingSummary, now time.Time) error
	listBySellerFn func(ctx context.Context, sellerID string) ([]domain.Medicine, error)

	reserved []repositories.StockMutationRequest
	released []repositories.StockMutationRequest
	ratings  []domain.RatingSummary
}

func (s *stubMedicineRepo) FindByID(ctx context.Context, id string) (domain.Medicine, error) {
	if s.findByIDFn != nil {
		return s.findByIDFn(ctx, id)
	}
	return domain.Medicine{}, notFoundErr{}
}

func (s *stubMedicineRepo) FindByIDs(ctx context.Context, ids []string) (map[string]domain.Medicine, error) {
	if s.findByIDsFn != nil {
		return s.findByIDsFn(ctx, ids)
	}
	return map[string]domain.Medicine{}, nil
}

func (s *stubMedicineRepo) ReserveStock(ctx context.Context, req repositories.StockMutationRequest) error {
	s.reserved = append(s.reserved, req)
	if s.reserveStockFn != nil {
		return s.reserveStockFn(ctx, req)
	}
	return nil
}

func (s *stubMedicineRepo) ReleaseStock(ctx context.Context, req repositories.StockMutationRequest) error {
	s.released = append(s.released, req)
	if s.releaseStockFn != nil {
		return s.releaseStockFn(ctx, req)
	}
	return nil
}

func (s *stubMedicineRepo) UpdateRating(ctx context.Context, summary domain.RatingSummary, now time.Time) error {
	s.ratings = append(s.ratings, summary)
	if s.updateRatingFn != nil {
		return s.updateRatingFn(ctx, summary, now)
	}
	return nil
}

func (s *stubMedicineRepo) ListBySeller(ctx context.Context, sellerID string) ([]domain.Medicine, error) {
	if s.listBySellerFn != nil {
		return s.listBySellerFn(ctx, sellerID)
	}
	return nil, nil
}

type stubCartRepo struct {
	listByUserFn  func(ctx context.Context, userID string) ([]domain.CartLine, error)
	findLineFn    func(ctx context.Context, userID, medicineID string) (domain.CartLine, error)
	upsertFn      func(ctx context.Context, line domain.CartLine) error
	deleteLineFn  func(ctx context.Context, userID, medicineID string) error
	deleteLinesFn func(ctx context.Context, userID string, medicineIDs []string) error

	upserted     []domain.CartLine
	deletedLines [][]string
}

func (s *stubCartRepo) ListByUser(ctx context.Context, userID string) ([]domain.CartLine, error) {
	if s.listByUserFn != nil {
		return s.listByUserFn(ctx, userID)
	}
	return nil, nil
}

func (s *stubCartRepo) FindLine(ctx context.Context, userID, medicineID string) (domain.CartLine, error) {
	if s.findLineFn != nil {
		return s.findLineFn(ctx, userID, medicineID)
	}
	return domain.CartLine{}, notFoundErr{}
}

func (s *stubCartRepo) Upsert(ctx context.Context, line domain.CartLine) error {
	s.upserted = append(s.upserted, line)
	if s.upsertFn != nil {
		return s.upsertFn(ctx, line)
	}
	return nil
}

func (s *stubCartRepo) DeleteLine(ctx context.Context, userID, medicineID string) error {
	if s.deleteLineFn != nil {
		return s.deleteLineFn(ctx, userID, medicineID)
	}
	return nil
}

func (s *stubCartRepo) DeleteLines(ctx context.Context, userID string, medicineIDs []string) error {
	s.deletedLines = append(s.deletedLines, medicineIDs)
	if s.deleteLinesFn != nil {
		return s.deleteLinesFn(ctx, userID, medicineIDs)
	}
	return nil
}

type stubOrderRepo struct {
	insertFn       func(ctx context.Context, order domain.Order) error
	findByIDFn     func(ctx context.Context, id string) (domain.Order, error)
	updateFn       func(ctx context.Context, order domain.Order) error
	listByUserFn   func(ctx context.Context, userID string, filter repositories.OrderListFilter) ([]domain.Order, error)
	listBySellerFn func(ctx context.Context, sellerID string, filter repositories.OrderListFilter) ([]domain.Order, error)
	listFn         func(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error)

	inserted []domain.Order
	updated  []domain.Order
}

func (s *stubOrderRepo) Insert(ctx context.Context, order domain.Order) error {
	s.inserted = append(s.inserted, order)
	if s.insertFn != nil {
		return s.insertFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepo) FindByID(ctx context.Context, id string) (domain.Order, error) {
	if s.findByIDFn != nil {
		return s.findByIDFn(ctx, id)
	}
	return domain.Order{}, notFoundErr{}
}

func (s *stubOrderRepo) Update(ctx context.Context, order domain.Order) error {
	s.updated = append(s.updated, order)
	if s.updateFn != nil {
		return s.updateFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepo) ListByUser(ctx context.Context, userID string, filter repositories.OrderListFilter) ([]domain.Order, error) {
	if s.listByUserFn != nil {
		return s.listByUserFn(ctx, userID, filter)
	}
	return nil, nil
}

func (s *stubOrderRepo) ListBySeller(ctx context.Context, sellerID string, filter repositories.OrderListFilter) ([]domain.Order, error) {
	if s.listBySellerFn != nil {
		return s.listBySellerFn(ctx, sellerID, filter)
	}
	return nil, nil
}

func (s *stubOrderRepo) List(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return nil, nil
}

type stubReviewRepo struct {
	insertFn                func(ctx context.Context, review domain.Review) error
	findByIDFn              func(ctx context.Context, id string) (domain.Review, error)
	findByUserAndMedicineFn func(ctx context.Context, userID, medicineID string) (domain.Review, error)
	listByMedicineFn        func(ctx context.Context, medicineID string) ([]domain.Review, error)
	updateFn                func(ctx context.Context, review domain.Review) error
	deleteFn                func(ctx context.Context, id string) error

	inserted []domain.Review
	updated  []domain.Review
	deleted  []string
}

func (s *stubReviewRepo) Insert(ctx context.Context, review domain.Review) error {
	s.inserted = append(s.inserted, review)
	if s.insertFn != nil {
		return s.insertFn(ctx, review)
	}
	return nil
}

func (s *stubReviewRepo) FindByID(ctx context.Context, id string) (domain.Review, error) {
	if s.findByIDFn != nil {
		return s.findByIDFn(ctx, id)
	}
	return domain.Review{}, notFoundErr{}
}

func (s *stubReviewRepo) FindByUserAndMedicine(ctx context.Context, userID, medicineID string) (domain.Review, error) {
	if s.findByUserAndMedicineFn != nil {
		return s.findByUserAndMedicineFn(ctx, userID, medicineID)
	}
	return domain.Review{}, notFoundErr{}
}

func (s *stubReviewRepo) ListByMedicine(ctx context.Context, medicineID string) ([]domain.Review, error) {
	if s.listByMedicineFn != nil {
		return s.listByMedicineFn(ctx, medicineID)
	}
	return nil, nil
}

func (s *stubReviewRepo) Update(ctx context.Context, review domain.Review) error {
	s.updated = append(s.updated, review)
	if s.updateFn != nil {
		return s.updateFn(ctx, review)
	}
	return nil
}

func (s *stubReviewRepo) Delete(ctx context.Context, id string) error {
	s.deleted = append(s.deleted, id)
	if s.deleteFn != nil {
		return s.deleteFn(ctx, id)
	}
	return nil
}

// notFoundErr is a minimal repositories.RepositoryError for stubs.
type notFoundErr struct{}

func (notFoundErr) Error() string       { return "not found" }
func (notFoundErr) IsNotFound() bool    { return true }
func (notFoundErr) IsConflict() bool    { return false }
func (notFoundErr) IsUnavailable() bool { return false }

type unavailableErr struct{}

func (unavailableErr) Error() string       { return "backend unavailable" }
func (unavailableErr) IsNotFound() bool    { return false }
func (unavailableErr) IsConflict() bool    { return false }
func (unavailableErr) IsUnavailable() bool { return true }

// stubOrderEvents records published order events.
type stubOrderEvents struct {
	events []domain.OrderEvent
	err    error
}

func (s *stubOrderEvents) PublishOrderEvent(ctx context.Context, event domain.OrderEvent) (string, error) {
	s.events = append(s.events, event)
	return "msg_1", s.err
}

// stubStockEvents records published stock events.
type stubStockEvents struct {
	events []domain.StockEvent
	err    error
}

func (s *stubStockEvents) PublishStockEvent(ctx context.Context, event domain.StockEvent) (string, error) {
	s.events = append(s.events, event)
	return "msg_1", s.err
}

// stubReportWriter records report writes.
type stubReportWriter struct {
	name        string
	contentType string
	data        []byte
	err         error
}

func (s *stubReportWriter) WriteReport(ctx context.Context, name, contentType string, data []byte) (string, error) {
	s.name = name
	s.contentType = contentType
	s.data = append([]byte(nil), data...)
	if s.err != nil {
		return "", s.err
	}
	return "gs://exports/" + name, nil
}

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

func sequentialIDs(ids ...string) IDGenerator {
	i := 0
	return func() string {
		id := ids[i%len(ids)]
		i++
		return id
	}
}
