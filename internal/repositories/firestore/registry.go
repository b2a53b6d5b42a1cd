package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/medleaf/api/internal/platform/firestore"
	"github.com/medleaf/api/internal/repositories"
)

// Registry bundles the Firestore repositories behind one transactional
// boundary. RunInTx places the active transaction in the context; every
// repository method picks it up and routes its reads and writes through it,
// so a service composes cross-collection atomic units without knowing about
// Firestore transactions.
type Registry struct {
	provider  *pfirestore.Provider
	medicines *MedicineRepository
	carts     *CartRepository
	orders    *OrderRepository
	reviews   *ReviewRepository
}

// NewRegistry constructs the registry and its repositories.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}
	medicines, err := NewMedicineRepository(provider)
	if err != nil {
		return nil, err
	}
	carts, err := NewCartRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	reviews, err := NewReviewRepository(provider)
	if err != nil {
		return nil, err
	}
	return &Registry{
		provider:  provider,
		medicines: medicines,
		carts:     carts,
		orders:    orders,
		reviews:   reviews,
	}, nil
}

// RunInTx executes fn inside one Firestore transaction. Nested calls reuse
// the transaction already carried by the context.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r == nil || r.provider == nil {
		return errors.New("registry not initialised")
	}
	if txFrom(ctx) != nil {
		return fn(ctx)
	}
	return r.provider.RunTransaction(ctx, func(txCtx context.Context, tx *firestore.Transaction) error {
		return fn(withTx(txCtx, tx))
	})
}

func (r *Registry) Medicines() repositories.MedicineRepository { return r.medicines }
func (r *Registry) Carts() repositories.CartRepository         { return r.carts }
func (r *Registry) Orders() repositories.OrderRepository       { return r.orders }
func (r *Registry) Reviews() repositories.ReviewRepository     { return r.reviews }

var _ repositories.Registry = (*Registry)(nil)

type txContextKey struct{}

func withTx(ctx context.Context, tx *firestore.Transaction) context.Context {
	return context.WithValue(ctx, txContextKey{}, tx)
}

func txFrom(ctx context.Context) *firestore.Transaction {
	tx, _ := ctx.Value(txContextKey{}).(*firestore.Transaction)
	return tx
}

// getDoc reads a document through the ambient transaction when present.
func getDoc(ctx context.Context, ref *firestore.DocumentRef) (*firestore.DocumentSnapshot, error) {
	if tx := txFrom(ctx); tx != nil {
		return tx.Get(ref)
	}
	return ref.Get(ctx)
}

// getDocs batch-reads documents through the ambient transaction when present.
func getDocs(ctx context.Context, client *firestore.Client, refs []*firestore.DocumentRef) ([]*firestore.DocumentSnapshot, error) {
	if tx := txFrom(ctx); tx != nil {
		return tx.GetAll(refs)
	}
	return client.GetAll(ctx, refs)
}

func setDoc(ctx context.Context, ref *firestore.DocumentRef, value any) error {
	if tx := txFrom(ctx); tx != nil {
		return tx.Set(ref, value)
	}
	_, err := ref.Set(ctx, value)
	return err
}

func createDoc(ctx context.Context, ref *firestore.DocumentRef, value any) error {
	if tx := txFrom(ctx); tx != nil {
		return tx.Create(ref, value)
	}
	_, err := ref.Create(ctx, value)
	return err
}

func updateDoc(ctx context.Context, ref *firestore.DocumentRef, updates []firestore.Update) error {
	if tx := txFrom(ctx); tx != nil {
		return tx.Update(ref, updates)
	}
	_, err := ref.Update(ctx, updates)
	return err
}

func deleteDoc(ctx context.Context, ref *firestore.DocumentRef) error {
	if tx := txFrom(ctx); tx != nil {
		return tx.Delete(ref)
	}
	_, err := ref.Delete(ctx)
	return err
}

// runQuery executes a query through the ambient transaction when present.
func runQuery(ctx context.Context, query firestore.Query) *firestore.DocumentIterator {
	if tx := txFrom(ctx); tx != nil {
		return tx.Documents(query)
	}
	return query.Documents(ctx)
}
