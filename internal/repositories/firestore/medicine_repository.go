package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/medleaf/api/internal/domain"
	pfirestore "github.com/medleaf/api/internal/platform/firestore"
	"github.com/medleaf/api/internal/repositories"
)

const medicinesCollection = "medicines"

// MedicineRepository persists catalog items and owns every stock mutation.
type MedicineRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[medicineDocument]
}

// NewMedicineRepository constructs a Firestore-backed medicine repository.
func NewMedicineRepository(provider *pfirestore.Provider) (*MedicineRepository, error) {
	if provider == nil {
		return nil, errors.New("medicine repository requires firestore provider")
	}
	return &MedicineRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[medicineDocument](provider, medicinesCollection),
	}, nil
}

func (r *MedicineRepository) FindByID(ctx context.Context, id string) (domain.Medicine, error) {
	if r == nil || r.base == nil {
		return domain.Medicine{}, errors.New("medicine repository not initialised")
	}
	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return domain.Medicine{}, err
	}
	snap, err := getDoc(ctx, ref)
	if err != nil {
		return domain.Medicine{}, pfirestore.WrapError("medicines.get", err)
	}
	doc, err := pfirestore.DecodeSnapshot[medicineDocument](snap, "medicines.get")
	if err != nil {
		return domain.Medicine{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByIDs loads the given medicines in one batch read. Missing ids are
// simply absent from the result, callers decide whether that is an error.
func (r *MedicineRepository) FindByIDs(ctx context.Context, ids []string) (map[string]domain.Medicine, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("medicine repository not initialised")
	}
	out := make(map[string]domain.Medicine, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	refs := make([]*firestore.DocumentRef, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		refs = append(refs, client.Collection(medicinesCollection).Doc(id))
	}

	snaps, err := getDocs(ctx, client, refs)
	if err != nil {
		return nil, pfirestore.WrapError("medicines.batchGet", err)
	}
	for _, snap := range snaps {
		if !snap.Exists() {
			continue
		}
		doc, err := pfirestore.DecodeSnapshot[medicineDocument](snap, "medicines.batchGet")
		if err != nil {
			return nil, err
		}
		out[doc.ID] = doc.Data.toDomain(doc.ID)
	}
	return out, nil
}

// ReserveStock decrements stock for every adjustment, or fails without any
// effect. All reads happen before all writes so the method composes with an
// ambient transaction that still has reads to do.
func (r *MedicineRepository) ReserveStock(ctx context.Context, req repositories.StockMutationRequest) error {
	return r.mutateStock(ctx, "medicines.reserveStock", req, func(doc *medicineDocument, adj domain.StockAdjustment) error {
		if !doc.IsActive {
			return repositories.NewStockError(repositories.StockErrorMedicineInactive, adj.MedicineID,
				fmt.Sprintf("medicine %s is inactive", adj.MedicineID), nil)
		}
		if doc.Stock < adj.Quantity {
			stockErr := repositories.NewStockError(repositories.StockErrorInsufficient, adj.MedicineID,
				fmt.Sprintf("medicine %s has %d left, requested %d", adj.MedicineID, doc.Stock, adj.Quantity), nil)
			stockErr.Available = doc.Stock
			return stockErr
		}
		doc.Stock -= adj.Quantity
		return nil
	})
}

// ReleaseStock increments stock for every adjustment.
func (r *MedicineRepository) ReleaseStock(ctx context.Context, req repositories.StockMutationRequest) error {
	return r.mutateStock(ctx, "medicines.releaseStock", req, func(doc *medicineDocument, adj domain.StockAdjustment) error {
		doc.Stock += adj.Quantity
		return nil
	})
}

func (r *MedicineRepository) mutateStock(ctx context.Context, op string, req repositories.StockMutationRequest, apply func(doc *medicineDocument, adj domain.StockAdjustment) error) error {
	if r == nil || r.provider == nil {
		return errors.New("medicine repository not initialised")
	}
	if len(req.Adjustments) == 0 {
		return errors.New("stock mutation requires at least one adjustment")
	}

	// Without an ambient transaction the mutation opens its own, keeping the
	// batch atomic either way.
	if txFrom(ctx) == nil {
		return r.provider.RunTransaction(ctx, func(txCtx context.Context, tx *firestore.Transaction) error {
			return r.mutateStockInTx(withTx(txCtx, tx), op, req, apply)
		})
	}
	return r.mutateStockInTx(ctx, op, req, apply)
}

func (r *MedicineRepository) mutateStockInTx(ctx context.Context, op string, req repositories.StockMutationRequest, apply func(doc *medicineDocument, adj domain.StockAdjustment) error) error {
	now := req.Now.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	type pendingWrite struct {
		ref *firestore.DocumentRef
		doc medicineDocument
	}
	writes := make([]pendingWrite, 0, len(req.Adjustments))

	for _, adj := range req.Adjustments {
		id := strings.TrimSpace(adj.MedicineID)
		if id == "" {
			return errors.New("stock mutation requires a medicine id")
		}
		if adj.Quantity <= 0 {
			return fmt.Errorf("stock mutation quantity for %s must be > 0", id)
		}
		ref, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		snap, err := getDoc(ctx, ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewStockError(repositories.StockErrorMedicineNotFound, id,
					fmt.Sprintf("medicine %s not found", id), err)
			}
			return pfirestore.WrapError(op, err)
		}
		var doc medicineDocument
		if err := snap.DataTo(&doc); err != nil {
			return pfirestore.WrapError(op, fmt.Errorf("decode medicine %s: %w", id, err))
		}
		if err := apply(&doc, adj); err != nil {
			return err
		}
		doc.UpdatedAt = now
		writes = append(writes, pendingWrite{ref: ref, doc: doc})
	}

	for _, w := range writes {
		if err := setDoc(ctx, w.ref, w.doc); err != nil {
			return pfirestore.WrapError(op, err)
		}
	}
	return nil
}

// UpdateRating writes the recomputed aggregate for one medicine. A nil
// average is stored as null so readers can tell "unrated" from "rated zero".
func (r *MedicineRepository) UpdateRating(ctx context.Context, summary domain.RatingSummary, now time.Time) error {
	if r == nil || r.base == nil {
		return errors.New("medicine repository not initialised")
	}
	ref, err := r.base.DocumentRef(ctx, summary.MedicineID)
	if err != nil {
		return err
	}
	var avg any
	if summary.Average != nil {
		avg = *summary.Average
	}
	updates := []firestore.Update{
		{Path: "rating", Value: avg},
		{Path: "ratingCount", Value: summary.Count},
		{Path: "updatedAt", Value: now.UTC()},
	}
	if err := updateDoc(ctx, ref, updates); err != nil {
		return pfirestore.WrapError("medicines.updateRating", err)
	}
	return nil
}

func (r *MedicineRepository) ListBySeller(ctx context.Context, sellerID string) ([]domain.Medicine, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("medicine repository not initialised")
	}
	sellerID = strings.TrimSpace(sellerID)
	if sellerID == "" {
		return nil, errors.New("medicine repository: seller id is required")
	}

	coll, err := r.base.CollectionRef(ctx)
	if err != nil {
		return nil, err
	}
	query := coll.Where("sellerId", "==", sellerID).OrderBy("createdAt", firestore.Desc)

	iter := runQuery(ctx, query)
	defer iter.Stop()

	var medicines []domain.Medicine
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("medicines.listBySeller", err)
		}
		doc, err := pfirestore.DecodeSnapshot[medicineDocument](snap, "medicines.listBySeller")
		if err != nil {
			return nil, err
		}
		medicines = append(medicines, doc.Data.toDomain(doc.ID))
	}
	return medicines, nil
}

var _ repositories.MedicineRepository = (*MedicineRepository)(nil)

type medicineDocument struct {
	SellerID      string    `firestore:"sellerId"`
	Name          string    `firestore:"name"`
	Description   string    `firestore:"description,omitempty"`
	Price         int64     `firestore:"price"`
	DiscountPrice *int64    `firestore:"discountPrice,omitempty"`
	Stock         int64     `firestore:"stock"`
	IsActive      bool      `firestore:"isActive"`
	Rating        *float64  `firestore:"rating"`
	RatingCount   int64     `firestore:"ratingCount"`
	CreatedAt     time.Time `firestore:"createdAt"`
	UpdatedAt     time.Time `firestore:"updatedAt"`
}

func (d medicineDocument) toDomain(id string) domain.Medicine {
	return domain.Medicine{
		ID:            id,
		SellerID:      d.SellerID,
		Name:          d.Name,
		Description:   d.Description,
		Price:         d.Price,
		DiscountPrice: d.DiscountPrice,
		Stock:         d.Stock,
		IsActive:      d.IsActive,
		Rating:        d.Rating,
		RatingCount:   d.RatingCount,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}
