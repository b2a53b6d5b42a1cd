package services

import (
	"context"
	"errors"
	"testing"

	"github.com/medleaf/api/internal/domain"
	"github.com/medleaf/api/internal/repositories"
)

func newTestInventoryService(t *testing.T, registry *stubRegistry) (InventoryService, *stubStockEvents) {
	t.Helper()
	stockEvents := &stubStockEvents{}
	svc, err := NewInventoryService(InventoryServiceDeps{
		Registry:          registry,
		StockEvents:       stockEvents,
		Clock:             fixedClock(testNow),
		LowStockThreshold: 5,
	})
	if err != nil {
		t.Fatalf("NewInventoryService: %v", err)
	}
	return svc, stockEvents
}

func TestReserveRunsInTransaction(t *testing.T) {
	registry := newStubRegistry()
	svc, _ := newTestInventoryService(t, registry)

	err := svc.Reserve(context.Background(), []domain.StockAdjustment{
		{MedicineID: "med_1", Quantity: 2},
	})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if registry.txCalls != 1 {
		t.Fatalf("expected one transaction, got %d", registry.txCalls)
	}
	if len(registry.medicines.reserved) != 1 {
		t.Fatalf("expected one reservation, got %d", len(registry.medicines.reserved))
	}
}

func TestReserveRejectsInvalidAdjustments(t *testing.T) {
	registry := newStubRegistry()
	svc, _ := newTestInventoryService(t, registry)
	ctx := context.Background()

	if err := svc.Reserve(ctx, nil); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput for empty batch, got %v", err)
	}
	if err := svc.Reserve(ctx, []domain.StockAdjustment{{MedicineID: "med_1", Quantity: 0}}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput for zero quantity, got %v", err)
	}
	if registry.txCalls != 0 {
		t.Fatal("invalid input must not open a transaction")
	}
}

func TestReserveMapsInsufficientStock(t *testing.T) {
	registry := newStubRegistry()
	registry.medicines.reserveStockFn = func(ctx context.Context, req repositories.StockMutationRequest) error {
		return &repositories.StockError{
			Code:       repositories.StockErrorInsufficient,
			MedicineID: "med_1",
			Available:  1,
		}
	}
	svc, _ := newTestInventoryService(t, registry)

	err := svc.Reserve(context.Background(), []domain.StockAdjustment{
		{MedicineID: "med_1", Quantity: 3},
	})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
}

func TestReleaseRunsInTransaction(t *testing.T) {
	registry := newStubRegistry()
	svc, _ := newTestInventoryService(t, registry)

	err := svc.Release(context.Background(), []domain.StockAdjustment{
		{MedicineID: "med_1", Quantity: 2},
	})
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if len(registry.medicines.released) != 1 {
		t.Fatalf("expected one release, got %d", len(registry.medicines.released))
	}
}

func TestAdjustStockRestock(t *testing.T) {
	registry := newStubRegistry()
	registry.medicines.findByIDFn = func(ctx context.Context, id string) (domain.Medicine, error) {
		return domain.Medicine{ID: "med_1", SellerID: "slr_1", Stock: 3, IsActive: true}, nil
	}
	svc, stockEvents := newTestInventoryService(t, registry)

	med, err := svc.AdjustStock(context.Background(), AdjustStockCommand{
		MedicineID: "med_1",
		Delta:      10,
		Actor:      Actor{ID: "u_s1", Role: domain.RoleSeller, SellerID: "slr_1"},
	})
	if err != nil {
		t.Fatalf("AdjustStock: %v", err)
	}
	if med.Stock != 13 {
		t.Fatalf("expected stock 13, got %d", med.Stock)
	}
	if len(registry.medicines.released) != 1 {
		t.Fatal("restock must go through ReleaseStock")
	}
	if len(stockEvents.events) != 0 {
		t.Fatal("no low stock event above threshold")
	}
}

func TestAdjustStockWriteOffEmitsLowStockEvent(t *testing.T) {
	registry := newStubRegistry()
	registry.medicines.findByIDFn = func(ctx context.Context, id string) (domain.Medicine, error) {
		return domain.Medicine{ID: "med_1", SellerID: "slr_1", Stock: 6, IsActive: true}, nil
	}
	svc, stockEvents := newTestInventoryService(t, registry)

	med, err := svc.AdjustStock(context.Background(), AdjustStockCommand{
		MedicineID: "med_1",
		Delta:      -4,
		Actor:      Actor{ID: "u_s1", Role: domain.RoleSeller, SellerID: "slr_1"},
	})
	if err != nil {
		t.Fatalf("AdjustStock: %v", err)
	}
	if med.Stock != 2 {
		t.Fatalf("expected stock 2, got %d", med.Stock)
	}
	if len(registry.medicines.reserved) != 1 {
		t.Fatal("write-off must go through ReserveStock")
	}
	if len(stockEvents.events) != 1 || stockEvents.events[0].Stock != 2 {
		t.Fatalf("expected low stock event, got %+v", stockEvents.events)
	}
}

func TestAdjustStockForeignSellerForbidden(t *testing.T) {
	registry := newStubRegistry()
	registry.medicines.findByIDFn = func(ctx context.Context, id string) (domain.Medicine, error) {
		return domain.Medicine{ID: "med_1", SellerID: "slr_1", Stock: 6, IsActive: true}, nil
	}
	svc, _ := newTestInventoryService(t, registry)

	_, err := svc.AdjustStock(context.Background(), AdjustStockCommand{
		MedicineID: "med_1",
		Delta:      5,
		Actor:      Actor{ID: "u_s2", Role: domain.RoleSeller, SellerID: "slr_2"},
	})
	if !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected ErrOrderForbidden, got %v", err)
	}
}

func TestAdjustStockMissingMedicine(t *testing.T) {
	registry := newStubRegistry()
	svc, _ := newTestInventoryService(t, registry)

	_, err := svc.AdjustStock(context.Background(), AdjustStockCommand{
		MedicineID: "med_missing",
		Delta:      5,
		Actor:      Actor{ID: "u_a", Role: domain.RoleAdmin},
	})
	if !errors.Is(err, ErrMedicineNotFound) {
		t.Fatalf("expected ErrMedicineNotFound, got %v", err)
	}
}

func TestListForSellerReturnsCatalog(t *testing.T) {
	registry := newStubRegistry()
	registry.medicines.listBySellerFn = func(ctx context.Context, sellerID string) ([]domain.Medicine, error) {
		if sellerID != "slr_1" {
			t.Fatalf("unexpected seller id %s", sellerID)
		}
		return []domain.Medicine{{ID: "med_1", SellerID: sellerID}}, nil
	}
	svc, _ := newTestInventoryService(t, registry)

	medicines, err := svc.ListForSeller(context.Background(), Actor{ID: "usr_9", Role: domain.RoleSeller, SellerID: "slr_1"})
	if err != nil {
		t.Fatalf("ListForSeller: %v", err)
	}
	if len(medicines) != 1 || medicines[0].ID != "med_1" {
		t.Fatalf("unexpected medicines %+v", medicines)
	}
}

func TestListForSellerRejectsNonSellers(t *testing.T) {
	registry := newStubRegistry()
	svc, _ := newTestInventoryService(t, registry)

	if _, err := svc.ListForSeller(context.Background(), Actor{ID: "usr_1", Role: domain.RoleCustomer}); !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected ErrOrderForbidden, got %v", err)
	}
}
