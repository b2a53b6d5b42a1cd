package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/medleaf/api/internal/domain"
	"github.com/medleaf/api/internal/repositories"
)

// InventoryServiceDeps wires the collaborators of the inventory service.
type InventoryServiceDeps struct {
	Registry    repositories.Registry
	StockEvents StockEventPublisher
	Logger      *zap.Logger
	Clock       Clock

	LowStockThreshold int64
}

type inventoryService struct {
	registry    repositories.Registry
	stockEvents StockEventPublisher
	logger      *zap.Logger
	now         Clock

	lowStockThreshold int64
}

// NewInventoryService constructs the inventory service.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Registry == nil {
		return nil, errors.New("inventory service requires a repository registry")
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &inventoryService{
		registry:          deps.Registry,
		stockEvents:       deps.StockEvents,
		logger:            deps.Logger,
		now:               deps.Clock,
		lowStockThreshold: deps.LowStockThreshold,
	}, nil
}

// Reserve decrements stock for every adjustment as one atomic unit.
func (s *inventoryService) Reserve(ctx context.Context, adjustments []StockAdjustment) error {
	if err := validateAdjustments(adjustments); err != nil {
		return err
	}
	err := s.registry.RunInTx(ctx, func(txCtx context.Context) error {
		return s.registry.Medicines().ReserveStock(txCtx, repositories.StockMutationRequest{
			Adjustments: adjustments,
			Now:         s.now().UTC(),
		})
	})
	return mapOrderRepositoryError(err)
}

// Release increments stock for every adjustment as one atomic unit.
func (s *inventoryService) Release(ctx context.Context, adjustments []StockAdjustment) error {
	if err := validateAdjustments(adjustments); err != nil {
		return err
	}
	err := s.registry.RunInTx(ctx, func(txCtx context.Context) error {
		return s.registry.Medicines().ReleaseStock(txCtx, repositories.StockMutationRequest{
			Adjustments: adjustments,
			Now:         s.now().UTC(),
		})
	})
	return mapOrderRepositoryError(err)
}

// AdjustStock applies a direct seller stock change. Positive deltas restock,
// negative deltas write stock off. The result may never go below zero.
func (s *inventoryService) AdjustStock(ctx context.Context, cmd AdjustStockCommand) (Medicine, error) {
	if strings.TrimSpace(cmd.MedicineID) == "" {
		return Medicine{}, fmt.Errorf("%w: medicine id is required", ErrOrderInvalidInput)
	}
	if cmd.Delta == 0 {
		return Medicine{}, fmt.Errorf("%w: delta must be non-zero", ErrOrderInvalidInput)
	}

	var updated domain.Medicine
	err := s.registry.RunInTx(ctx, func(txCtx context.Context) error {
		med, err := s.registry.Medicines().FindByID(txCtx, cmd.MedicineID)
		if err != nil {
			return mapInventoryRepositoryError(err)
		}
		if err := authorizeStockAdjustment(med, cmd.Actor); err != nil {
			return err
		}

		now := s.now().UTC()
		req := repositories.StockMutationRequest{
			Adjustments: []domain.StockAdjustment{{MedicineID: med.ID, Quantity: abs64(cmd.Delta)}},
			Now:         now,
		}
		if cmd.Delta < 0 {
			err = s.registry.Medicines().ReserveStock(txCtx, req)
		} else {
			err = s.registry.Medicines().ReleaseStock(txCtx, req)
		}
		if err != nil {
			return mapOrderRepositoryError(err)
		}
		updated = med
		updated.Stock = med.Stock + cmd.Delta
		updated.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Medicine{}, err
	}

	if updated.Stock <= s.lowStockThreshold {
		s.publishLowStock(ctx, updated)
	}
	return updated, nil
}

// ListForSeller returns the catalog of the acting seller. Admins may not use
// this shortcut; they read the catalog through back office tooling.
func (s *inventoryService) ListForSeller(ctx context.Context, actor Actor) ([]Medicine, error) {
	if actor.Role != domain.RoleSeller {
		return nil, ErrOrderForbidden
	}
	if strings.TrimSpace(actor.SellerID) == "" {
		return nil, fmt.Errorf("%w: seller id is required", ErrOrderInvalidInput)
	}
	medicines, err := s.registry.Medicines().ListBySeller(ctx, actor.SellerID)
	if err != nil {
		return nil, mapInventoryRepositoryError(err)
	}
	return medicines, nil
}

func (s *inventoryService) publishLowStock(ctx context.Context, med domain.Medicine) {
	if s.stockEvents == nil {
		return
	}
	event := domain.StockEvent{
		Type:       eventStockLow,
		MedicineID: med.ID,
		SellerID:   med.SellerID,
		Stock:      med.Stock,
		OccurredAt: s.now().UTC(),
	}
	if _, err := s.stockEvents.PublishStockEvent(ctx, event); err != nil {
		s.logger.Warn("publish stock event failed",
			zap.String("medicine_id", med.ID),
			zap.Error(err))
	}
}

func authorizeStockAdjustment(med domain.Medicine, actor Actor) error {
	switch actor.Role {
	case domain.RoleAdmin:
		return nil
	case domain.RoleSeller:
		if med.SellerID == actor.SellerID {
			return nil
		}
	}
	return ErrOrderForbidden
}

func validateAdjustments(adjustments []StockAdjustment) error {
	if len(adjustments) == 0 {
		return fmt.Errorf("%w: no stock adjustments given", ErrOrderInvalidInput)
	}
	for _, adj := range adjustments {
		if strings.TrimSpace(adj.MedicineID) == "" {
			return fmt.Errorf("%w: adjustment without medicine id", ErrOrderInvalidInput)
		}
		if adj.Quantity <= 0 {
			return fmt.Errorf("%w: non-positive quantity for %s", ErrOrderInvalidInput, adj.MedicineID)
		}
	}
	return nil
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// mapInventoryRepositoryError is like mapOrderRepositoryError but a missing
// document means a missing medicine, not a missing order.
func mapInventoryRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrMedicineNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
		}
	}
	return err
}
