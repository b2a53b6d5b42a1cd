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

const reviewsCollection = "reviews"

// ReviewRepository persists reviews.
type ReviewRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[reviewDocument]
}

// NewReviewRepository constructs a Firestore-backed review repository.
func NewReviewRepository(provider *pfirestore.Provider) (*ReviewRepository, error) {
	if provider == nil {
		return nil, errors.New("review repository requires firestore provider")
	}
	return &ReviewRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[reviewDocument](provider, reviewsCollection),
	}, nil
}

func (r *ReviewRepository) Insert(ctx context.Context, review domain.Review) error {
	if r == nil || r.base == nil {
		return errors.New("review repository not initialised")
	}
	if strings.TrimSpace(review.ID) == "" {
		return errors.New("review repository: review id is required")
	}
	ref, err := r.base.DocumentRef(ctx, review.ID)
	if err != nil {
		return err
	}
	if err := createDoc(ctx, ref, newReviewDocument(review)); err != nil {
		return pfirestore.WrapError("reviews.insert", err)
	}
	return nil
}

func (r *ReviewRepository) FindByID(ctx context.Context, id string) (domain.Review, error) {
	if r == nil || r.base == nil {
		return domain.Review{}, errors.New("review repository not initialised")
	}
	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return domain.Review{}, err
	}
	snap, err := getDoc(ctx, ref)
	if err != nil {
		return domain.Review{}, pfirestore.WrapError("reviews.get", err)
	}
	doc, err := pfirestore.DecodeSnapshot[reviewDocument](snap, "reviews.get")
	if err != nil {
		return domain.Review{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByUserAndMedicine backs the one-review-per-(user, medicine) rule.
func (r *ReviewRepository) FindByUserAndMedicine(ctx context.Context, userID, medicineID string) (domain.Review, error) {
	if r == nil || r.base == nil {
		return domain.Review{}, errors.New("review repository not initialised")
	}
	coll, err := r.base.CollectionRef(ctx)
	if err != nil {
		return domain.Review{}, err
	}
	query := coll.Where("userId", "==", strings.TrimSpace(userID)).
		Where("medicineId", "==", strings.TrimSpace(medicineID)).
		Limit(1)

	iter := runQuery(ctx, query)
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return domain.Review{}, pfirestore.NewNotFoundError("reviews.findByUserAndMedicine",
			"review for user "+userID+" and medicine "+medicineID+" not found")
	}
	if err != nil {
		return domain.Review{}, pfirestore.WrapError("reviews.findByUserAndMedicine", err)
	}
	doc, err := pfirestore.DecodeSnapshot[reviewDocument](snap, "reviews.findByUserAndMedicine")
	if err != nil {
		return domain.Review{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *ReviewRepository) ListByMedicine(ctx context.Context, medicineID string) ([]domain.Review, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("review repository not initialised")
	}
	medicineID = strings.TrimSpace(medicineID)
	if medicineID == "" {
		return nil, errors.New("review repository: medicine id is required")
	}
	coll, err := r.base.CollectionRef(ctx)
	if err != nil {
		return nil, err
	}
	query := coll.Where("medicineId", "==", medicineID).OrderBy("createdAt", firestore.Desc)

	iter := runQuery(ctx, query)
	defer iter.Stop()

	var reviews []domain.Review
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("reviews.listByMedicine", err)
		}
		doc, err := pfirestore.DecodeSnapshot[reviewDocument](snap, "reviews.listByMedicine")
		if err != nil {
			return nil, err
		}
		reviews = append(reviews, doc.Data.toDomain(doc.ID))
	}
	return reviews, nil
}

func (r *ReviewRepository) Update(ctx context.Context, review domain.Review) error {
	if r == nil || r.base == nil {
		return errors.New("review repository not initialised")
	}
	ref, err := r.base.DocumentRef(ctx, review.ID)
	if err != nil {
		return err
	}
	updates := []firestore.Update{
		{Path: "rating", Value: review.Rating},
		{Path: "comment", Value: review.Comment},
		{Path: "updatedAt", Value: review.UpdatedAt.UTC()},
	}
	if err := updateDoc(ctx, ref, updates); err != nil {
		return pfirestore.WrapError("reviews.update", err)
	}
	return nil
}

func (r *ReviewRepository) Delete(ctx context.Context, id string) error {
	if r == nil || r.base == nil {
		return errors.New("review repository not initialised")
	}
	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if err := deleteDoc(ctx, ref); err != nil {
		return pfirestore.WrapError("reviews.delete", err)
	}
	return nil
}

var _ repositories.ReviewRepository = (*ReviewRepository)(nil)

type reviewDocument struct {
	UserID     string    `firestore:"userId"`
	MedicineID string    `firestore:"medicineId"`
	OrderID    string    `firestore:"orderId"`
	Rating     int       `firestore:"rating"`
	Comment    string    `firestore:"comment,omitempty"`
	CreatedAt  time.Time `firestore:"createdAt"`
	UpdatedAt  time.Time `firestore:"updatedAt"`
}

func newReviewDocument(review domain.Review) reviewDocument {
	return reviewDocument{
		UserID:     review.UserID,
		MedicineID: review.MedicineID,
		OrderID:    review.OrderID,
		Rating:     review.Rating,
		Comment:    review.Comment,
		CreatedAt:  review.CreatedAt.UTC(),
		UpdatedAt:  review.UpdatedAt.UTC(),
	}
}

func (d reviewDocument) toDomain(id string) domain.Review {
	return domain.Review{
		ID:         id,
		UserID:     d.UserID,
		MedicineID: d.MedicineID,
		OrderID:    d.OrderID,
		Rating:     d.Rating,
		Comment:    d.Comment,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}
