package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/medleaf/api/internal/domain"
	"github.com/medleaf/api/internal/repositories"
)

const (
	reviewIDPrefix   = "rev_"
	minReviewRating  = 1
	maxReviewRating  = 5
	maxReviewComment = 2000
)

// ReviewServiceDeps wires the collaborators of the review service.
type ReviewServiceDeps struct {
	Registry repositories.Registry
	Logger   *zap.Logger
	Clock    Clock
	IDGen    IDGenerator
}

type reviewService struct {
	registry  repositories.Registry
	logger    *zap.Logger
	now       Clock
	newID     IDGenerator
	sanitizer *bluemonday.Policy
}

// NewReviewService constructs the review service.
func NewReviewService(deps ReviewServiceDeps) (ReviewService, error) {
	if deps.Registry == nil {
		return nil, errors.New("review service requires a repository registry")
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.IDGen == nil {
		return nil, errors.New("review service requires an id generator")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &reviewService{
		registry:  deps.Registry,
		logger:    deps.Logger,
		now:       deps.Clock,
		newID:     deps.IDGen,
		sanitizer: bluemonday.StrictPolicy(),
	}, nil
}

// Create inserts a review and recomputes the medicine's rating aggregate in
// the same transaction. Eligibility requires a delivered order of the user
// that contains the medicine, and at most one review per (user, medicine).
func (s *reviewService) Create(ctx context.Context, cmd CreateReviewCommand) (Review, error) {
	if strings.TrimSpace(cmd.UserID) == "" || strings.TrimSpace(cmd.MedicineID) == "" || strings.TrimSpace(cmd.OrderID) == "" {
		return Review{}, fmt.Errorf("%w: user, medicine and order ids are required", ErrOrderInvalidInput)
	}
	if err := validateRating(cmd.Rating); err != nil {
		return Review{}, err
	}
	comment, err := s.sanitizeComment(cmd.Comment)
	if err != nil {
		return Review{}, err
	}

	var review domain.Review
	err = s.registry.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := s.registry.Orders().FindByID(txCtx, cmd.OrderID)
		if err != nil {
			return mapOrderRepositoryError(err)
		}
		if order.UserID != cmd.UserID {
			return ErrReviewNotEligible
		}
		if order.Status != domain.OrderStatusDelivered {
			return fmt.Errorf("%w: order is %s", ErrReviewNotEligible, order.Status)
		}
		if !orderContainsMedicine(order, cmd.MedicineID) {
			return fmt.Errorf("%w: order has no item for %s", ErrReviewNotEligible, cmd.MedicineID)
		}

		if _, err := s.registry.Reviews().FindByUserAndMedicine(txCtx, cmd.UserID, cmd.MedicineID); err == nil {
			return fmt.Errorf("%w: %s", ErrReviewDuplicate, cmd.MedicineID)
		} else if !isRepoNotFound(err) {
			return mapCartRepositoryError(err)
		}

		existing, err := s.registry.Reviews().ListByMedicine(txCtx, cmd.MedicineID)
		if err != nil {
			return mapCartRepositoryError(err)
		}

		now := s.now().UTC()
		review = domain.Review{
			ID:         reviewIDPrefix + s.newID(),
			UserID:     cmd.UserID,
			MedicineID: cmd.MedicineID,
			OrderID:    cmd.OrderID,
			Rating:     cmd.Rating,
			Comment:    comment,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := s.registry.Reviews().Insert(txCtx, review); err != nil {
			return mapCartRepositoryError(err)
		}

		summary := aggregateRatings(cmd.MedicineID, append(existing, review))
		return s.registry.Medicines().UpdateRating(txCtx, summary, now)
	})
	if err != nil {
		return Review{}, err
	}
	return review, nil
}

// Update patches the user's review and recomputes the aggregate in the same
// transaction.
func (s *reviewService) Update(ctx context.Context, cmd UpdateReviewCommand) (Review, error) {
	if strings.TrimSpace(cmd.ReviewID) == "" {
		return Review{}, fmt.Errorf("%w: review id is required", ErrOrderInvalidInput)
	}
	if cmd.Rating == nil && cmd.Comment == nil {
		return Review{}, fmt.Errorf("%w: nothing to update", ErrOrderInvalidInput)
	}
	if cmd.Rating != nil {
		if err := validateRating(*cmd.Rating); err != nil {
			return Review{}, err
		}
	}

	var review domain.Review
	err := s.registry.RunInTx(ctx, func(txCtx context.Context) error {
		existing, err := s.registry.Reviews().FindByID(txCtx, cmd.ReviewID)
		if err != nil {
			return mapReviewRepositoryError(err)
		}
		if existing.UserID != cmd.UserID {
			return ErrOrderForbidden
		}

		review = existing
		if cmd.Rating != nil {
			review.Rating = *cmd.Rating
		}
		if cmd.Comment != nil {
			comment, err := s.sanitizeComment(*cmd.Comment)
			if err != nil {
				return err
			}
			review.Comment = comment
		}
		now := s.now().UTC()
		review.UpdatedAt = now

		all, err := s.registry.Reviews().ListByMedicine(txCtx, review.MedicineID)
		if err != nil {
			return mapCartRepositoryError(err)
		}
		if err := s.registry.Reviews().Update(txCtx, review); err != nil {
			return mapCartRepositoryError(err)
		}

		summary := aggregateRatings(review.MedicineID, replaceReview(all, review))
		return s.registry.Medicines().UpdateRating(txCtx, summary, now)
	})
	if err != nil {
		return Review{}, err
	}
	return review, nil
}

// Delete removes the user's review and recomputes the aggregate in the same
// transaction. A medicine whose last review disappears goes back to a null
// average.
func (s *reviewService) Delete(ctx context.Context, reviewID, userID string) error {
	if strings.TrimSpace(reviewID) == "" || strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: review id and user id are required", ErrOrderInvalidInput)
	}
	return s.registry.RunInTx(ctx, func(txCtx context.Context) error {
		existing, err := s.registry.Reviews().FindByID(txCtx, reviewID)
		if err != nil {
			return mapReviewRepositoryError(err)
		}
		if existing.UserID != userID {
			return ErrOrderForbidden
		}

		all, err := s.registry.Reviews().ListByMedicine(txCtx, existing.MedicineID)
		if err != nil {
			return mapCartRepositoryError(err)
		}
		if err := s.registry.Reviews().Delete(txCtx, reviewID); err != nil {
			return mapCartRepositoryError(err)
		}

		summary := aggregateRatings(existing.MedicineID, removeReview(all, reviewID))
		return s.registry.Medicines().UpdateRating(txCtx, summary, s.now().UTC())
	})
}

func (s *reviewService) ListForMedicine(ctx context.Context, medicineID string) ([]Review, error) {
	if strings.TrimSpace(medicineID) == "" {
		return nil, fmt.Errorf("%w: medicine id is required", ErrOrderInvalidInput)
	}
	reviews, err := s.registry.Reviews().ListByMedicine(ctx, medicineID)
	if err != nil {
		return nil, mapCartRepositoryError(err)
	}
	return reviews, nil
}

// RecountRating rebuilds a medicine's rating aggregate from its stored
// reviews. Backs the internal backfill job for documents written before the
// aggregate existed or repaired after manual edits.
func (s *reviewService) RecountRating(ctx context.Context, medicineID string) (RatingSummary, error) {
	medicineID = strings.TrimSpace(medicineID)
	if medicineID == "" {
		return RatingSummary{}, fmt.Errorf("%w: medicine id is required", ErrOrderInvalidInput)
	}

	var summary domain.RatingSummary
	err := s.registry.RunInTx(ctx, func(txCtx context.Context) error {
		if _, err := s.registry.Medicines().FindByID(txCtx, medicineID); err != nil {
			return mapInventoryRepositoryError(err)
		}
		reviews, err := s.registry.Reviews().ListByMedicine(txCtx, medicineID)
		if err != nil {
			return mapCartRepositoryError(err)
		}
		summary = aggregateRatings(medicineID, reviews)
		return s.registry.Medicines().UpdateRating(txCtx, summary, s.now().UTC())
	})
	if err != nil {
		return RatingSummary{}, err
	}
	s.logger.Info("rating aggregate recounted",
		zap.String("medicine_id", medicineID),
		zap.Int64("count", summary.Count))
	return summary, nil
}

func (s *reviewService) sanitizeComment(comment string) (string, error) {
	cleaned := strings.TrimSpace(s.sanitizer.Sanitize(comment))
	if len(cleaned) > maxReviewComment {
		return "", fmt.Errorf("%w: comment too long", ErrOrderInvalidInput)
	}
	return cleaned, nil
}

func validateRating(rating int) error {
	if rating < minReviewRating || rating > maxReviewRating {
		return fmt.Errorf("%w: rating must be between %d and %d", ErrOrderInvalidInput, minReviewRating, maxReviewRating)
	}
	return nil
}

func orderContainsMedicine(order domain.Order, medicineID string) bool {
	for _, item := range order.Items {
		if item.MedicineID == medicineID {
			return true
		}
	}
	return false
}

// aggregateRatings computes the stored rating summary. The average is
// rounded to one decimal place and nil when no reviews remain.
func aggregateRatings(medicineID string, reviews []domain.Review) domain.RatingSummary {
	summary := domain.RatingSummary{MedicineID: medicineID}
	if len(reviews) == 0 {
		return summary
	}
	var sum int64
	for _, review := range reviews {
		sum += int64(review.Rating)
	}
	avg := math.Round(float64(sum)/float64(len(reviews))*10) / 10
	summary.Average = &avg
	summary.Count = int64(len(reviews))
	return summary
}

func replaceReview(reviews []domain.Review, updated domain.Review) []domain.Review {
	out := make([]domain.Review, 0, len(reviews))
	for _, review := range reviews {
		if review.ID == updated.ID {
			out = append(out, updated)
			continue
		}
		out = append(out, review)
	}
	return out
}

func removeReview(reviews []domain.Review, reviewID string) []domain.Review {
	out := make([]domain.Review, 0, len(reviews))
	for _, review := range reviews {
		if review.ID == reviewID {
			continue
		}
		out = append(out, review)
	}
	return out
}

func mapReviewRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrReviewNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
		}
	}
	return err
}
