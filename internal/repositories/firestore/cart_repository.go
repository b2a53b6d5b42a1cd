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

const (
	cartsCollection     = "carts"
	cartItemsCollection = "items"
)

// CartRepository persists cart lines as an items subcollection keyed by
// medicine id under carts/{userId}.
type CartRepository struct {
	provider *pfirestore.Provider
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{provider: provider}, nil
}

func (r *CartRepository) lineRef(ctx context.Context, userID, medicineID string) (*firestore.DocumentRef, error) {
	userID = strings.TrimSpace(userID)
	medicineID = strings.TrimSpace(medicineID)
	if userID == "" {
		return nil, errors.New("cart repository: user id is required")
	}
	if medicineID == "" {
		return nil, errors.New("cart repository: medicine id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(cartsCollection).Doc(userID).Collection(cartItemsCollection).Doc(medicineID), nil
}

func (r *CartRepository) ListByUser(ctx context.Context, userID string) ([]domain.CartLine, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("cart repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("cart repository: user id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}

	query := client.Collection(cartsCollection).Doc(userID).Collection(cartItemsCollection).
		OrderBy("createdAt", firestore.Asc)

	iter := runQuery(ctx, query)
	defer iter.Stop()

	var lines []domain.CartLine
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("carts.list", err)
		}
		doc, err := pfirestore.DecodeSnapshot[cartLineDocument](snap, "carts.list")
		if err != nil {
			return nil, err
		}
		lines = append(lines, doc.Data.toDomain(userID, doc.ID))
	}
	return lines, nil
}

func (r *CartRepository) FindLine(ctx context.Context, userID, medicineID string) (domain.CartLine, error) {
	if r == nil || r.provider == nil {
		return domain.CartLine{}, errors.New("cart repository not initialised")
	}
	ref, err := r.lineRef(ctx, userID, medicineID)
	if err != nil {
		return domain.CartLine{}, err
	}
	snap, err := getDoc(ctx, ref)
	if err != nil {
		return domain.CartLine{}, pfirestore.WrapError("carts.get", err)
	}
	doc, err := pfirestore.DecodeSnapshot[cartLineDocument](snap, "carts.get")
	if err != nil {
		return domain.CartLine{}, err
	}
	return doc.Data.toDomain(userID, doc.ID), nil
}

func (r *CartRepository) Upsert(ctx context.Context, line domain.CartLine) error {
	if r == nil || r.provider == nil {
		return errors.New("cart repository not initialised")
	}
	if line.Quantity <= 0 {
		return errors.New("cart repository: quantity must be > 0")
	}
	ref, err := r.lineRef(ctx, line.UserID, line.MedicineID)
	if err != nil {
		return err
	}
	doc := cartLineDocument{
		LineID:    strings.TrimSpace(line.ID),
		Quantity:  line.Quantity,
		CreatedAt: line.CreatedAt.UTC(),
		UpdatedAt: line.UpdatedAt.UTC(),
	}
	if err := setDoc(ctx, ref, doc); err != nil {
		return pfirestore.WrapError("carts.upsert", err)
	}
	return nil
}

func (r *CartRepository) DeleteLine(ctx context.Context, userID, medicineID string) error {
	if r == nil || r.provider == nil {
		return errors.New("cart repository not initialised")
	}
	ref, err := r.lineRef(ctx, userID, medicineID)
	if err != nil {
		return err
	}
	if err := deleteDoc(ctx, ref); err != nil {
		return pfirestore.WrapError("carts.delete", err)
	}
	return nil
}

// DeleteLines removes the given lines. Inside a transaction the deletes join
// the ambient atomic unit, which is how order creation consumes a cart.
func (r *CartRepository) DeleteLines(ctx context.Context, userID string, medicineIDs []string) error {
	if r == nil || r.provider == nil {
		return errors.New("cart repository not initialised")
	}
	for _, medicineID := range medicineIDs {
		ref, err := r.lineRef(ctx, userID, medicineID)
		if err != nil {
			return err
		}
		if err := deleteDoc(ctx, ref); err != nil {
			return pfirestore.WrapError("carts.deleteLines", err)
		}
	}
	return nil
}

var _ repositories.CartRepository = (*CartRepository)(nil)

type cartLineDocument struct {
	LineID    string    `firestore:"lineId,omitempty"`
	Quantity  int64     `firestore:"qty"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (d cartLineDocument) toDomain(userID, medicineID string) domain.CartLine {
	return domain.CartLine{
		ID:         d.LineID,
		UserID:     userID,
		MedicineID: medicineID,
		Quantity:   d.Quantity,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}
