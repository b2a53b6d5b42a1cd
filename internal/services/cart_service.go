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

const cartLineIDPrefix = "crt_"

// CartServiceDeps wires the collaborators of the cart service.
type CartServiceDeps struct {
	Registry repositories.Registry
	Logger   *zap.Logger
	Clock    Clock
	IDGen    IDGenerator

	// MaxLineQuantity bounds a single cart line. Zero disables the bound.
	MaxLineQuantity int64
}

type cartService struct {
	registry repositories.Registry
	logger   *zap.Logger
	now      Clock
	newID    IDGenerator

	maxLineQuantity int64
}

// NewCartService constructs the cart service.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Registry == nil {
		return nil, errors.New("cart service requires a repository registry")
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.IDGen == nil {
		return nil, errors.New("cart service requires an id generator")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &cartService{
		registry:        deps.Registry,
		logger:          deps.Logger,
		now:             deps.Clock,
		newID:           deps.IDGen,
		maxLineQuantity: deps.MaxLineQuantity,
	}, nil
}

func (s *cartService) List(ctx context.Context, userID string) ([]CartLine, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	lines, err := s.registry.Carts().ListByUser(ctx, userID)
	if err != nil {
		return nil, mapCartRepositoryError(err)
	}
	return lines, nil
}

// Snapshot reads the cart lines and the medicines they reference at a single
// point in time, inside one transaction.
func (s *cartService) Snapshot(ctx context.Context, userID string) (CartSnapshot, error) {
	if strings.TrimSpace(userID) == "" {
		return CartSnapshot{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}

	var snapshot domain.CartSnapshot
	err := s.registry.RunInTx(ctx, func(txCtx context.Context) error {
		lines, err := s.registry.Carts().ListByUser(txCtx, userID)
		if err != nil {
			return mapCartRepositoryError(err)
		}
		medicines := map[string]domain.Medicine{}
		if len(lines) > 0 {
			ids := make([]string, 0, len(lines))
			for _, line := range lines {
				ids = append(ids, line.MedicineID)
			}
			medicines, err = s.registry.Medicines().FindByIDs(txCtx, ids)
			if err != nil {
				return mapCartRepositoryError(err)
			}
		}
		snapshot = domain.CartSnapshot{
			UserID:    userID,
			Lines:     lines,
			Medicines: medicines,
			TakenAt:   s.now().UTC(),
		}
		return nil
	})
	if err != nil {
		return CartSnapshot{}, err
	}
	return snapshot, nil
}

// AddLine adds the medicine to the cart, merging into an existing line by
// summing quantities.
func (s *cartService) AddLine(ctx context.Context, cmd CartLineCommand) (CartLine, error) {
	if err := s.validateLineCommand(cmd); err != nil {
		return CartLine{}, err
	}

	var line domain.CartLine
	err := s.registry.RunInTx(ctx, func(txCtx context.Context) error {
		med, err := s.registry.Medicines().FindByID(txCtx, cmd.MedicineID)
		if err != nil {
			return mapCartMedicineError(err)
		}
		if !med.IsActive {
			return fmt.Errorf("%w: %s", ErrMedicineUnavailable, med.ID)
		}

		now := s.now().UTC()
		existing, err := s.registry.Carts().FindLine(txCtx, cmd.UserID, cmd.MedicineID)
		switch {
		case err == nil:
			line = existing
			line.Quantity += cmd.Quantity
			line.UpdatedAt = now
		case isRepoNotFound(err):
			line = domain.CartLine{
				ID:         cartLineIDPrefix + s.newID(),
				UserID:     cmd.UserID,
				MedicineID: cmd.MedicineID,
				Quantity:   cmd.Quantity,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
		default:
			return mapCartRepositoryError(err)
		}

		if s.maxLineQuantity > 0 && line.Quantity > s.maxLineQuantity {
			return fmt.Errorf("%w: quantity above limit %d", ErrOrderInvalidInput, s.maxLineQuantity)
		}
		return s.registry.Carts().Upsert(txCtx, line)
	})
	if err != nil {
		return CartLine{}, err
	}
	return line, nil
}

// UpdateLineQuantity sets the line's quantity to the given value.
func (s *cartService) UpdateLineQuantity(ctx context.Context, cmd CartLineCommand) (CartLine, error) {
	if err := s.validateLineCommand(cmd); err != nil {
		return CartLine{}, err
	}

	var line domain.CartLine
	err := s.registry.RunInTx(ctx, func(txCtx context.Context) error {
		existing, err := s.registry.Carts().FindLine(txCtx, cmd.UserID, cmd.MedicineID)
		if err != nil {
			if isRepoNotFound(err) {
				return fmt.Errorf("%w: %s", ErrCartLineNotFound, cmd.MedicineID)
			}
			return mapCartRepositoryError(err)
		}
		line = existing
		line.Quantity = cmd.Quantity
		line.UpdatedAt = s.now().UTC()
		return s.registry.Carts().Upsert(txCtx, line)
	})
	if err != nil {
		return CartLine{}, err
	}
	return line, nil
}

func (s *cartService) RemoveLine(ctx context.Context, userID, medicineID string) error {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(medicineID) == "" {
		return fmt.Errorf("%w: user id and medicine id are required", ErrOrderInvalidInput)
	}
	if err := s.registry.Carts().DeleteLine(ctx, userID, medicineID); err != nil {
		return mapCartRepositoryError(err)
	}
	return nil
}

func (s *cartService) Clear(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	return s.registry.RunInTx(ctx, func(txCtx context.Context) error {
		lines, err := s.registry.Carts().ListByUser(txCtx, userID)
		if err != nil {
			return mapCartRepositoryError(err)
		}
		if len(lines) == 0 {
			return nil
		}
		ids := make([]string, 0, len(lines))
		for _, line := range lines {
			ids = append(ids, line.MedicineID)
		}
		return s.registry.Carts().DeleteLines(txCtx, userID, ids)
	})
}

func (s *cartService) validateLineCommand(cmd CartLineCommand) error {
	if strings.TrimSpace(cmd.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.MedicineID) == "" {
		return fmt.Errorf("%w: medicine id is required", ErrOrderInvalidInput)
	}
	if cmd.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrOrderInvalidInput)
	}
	return nil
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func mapCartRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsUnavailable() {
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	return err
}

func mapCartMedicineError(err error) error {
	if err == nil {
		return nil
	}
	if isRepoNotFound(err) {
		return fmt.Errorf("%w: %v", ErrMedicineNotFound, err)
	}
	return mapCartRepositoryError(err)
}
