package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/salles-management/api/internal/domain"
	pfirestore "github.com/salles-management/api/internal/platform/firestore"
	"github.com/salles-management/api/internal/repositories"
)

const (
	productsCollection    = "products"
	cartsCollection       = "carts"
	ordersCollection      = "orders"
	pickupCodesCollection = "pickupCodes"
	loyaltyCollection     = "loyaltyAccounts"
)

// Option customises the store.
type Option func(*Store)

// WithClock overrides the clock used for updatedAt fields.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithTxOptions tunes the transactions opened by RunInTx.
func WithTxOptions(opts ...pfirestore.TxOption) Option {
	return func(s *Store) {
		s.txOpts = append(s.txOpts, opts...)
	}
}

// Store is the Firestore implementation of repositories.Registry. Every write goes through a unit
// of work so multi-document changes commit together; writes issued outside RunInTx open their own.
type Store struct {
	provider *pfirestore.Provider
	uow      *pfirestore.UnitOfWork
	clock    func() time.Time
	txOpts   []pfirestore.TxOption

	products    *pfirestore.Collection[productDocument]
	carts       *pfirestore.Collection[cartDocument]
	orders      *pfirestore.Collection[orderDocument]
	pickupCodes *pfirestore.Collection[pickupCodeDocument]
	loyalty     *pfirestore.Collection[loyaltyDocument]
}

var _ repositories.Registry = (*Store)(nil)

// New binds the store to a provider.
func New(provider *pfirestore.Provider, opts ...Option) (*Store, error) {
	if provider == nil {
		return nil, errors.New("firestore store requires provider")
	}
	store := &Store{
		provider:    provider,
		clock:       time.Now,
		products:    pfirestore.NewCollection[productDocument](provider, productsCollection),
		carts:       pfirestore.NewCollection[cartDocument](provider, cartsCollection),
		orders:      pfirestore.NewCollection[orderDocument](provider, ordersCollection),
		pickupCodes: pfirestore.NewCollection[pickupCodeDocument](provider, pickupCodesCollection),
		loyalty:     pfirestore.NewCollection[loyaltyDocument](provider, loyaltyCollection),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	store.uow = pfirestore.NewUnitOfWork(provider, store.txOpts...)
	return store, nil
}

// Close releases the provider's client.
func (s *Store) Close(ctx context.Context) error {
	return s.provider.Close(ctx)
}

// Ping checks connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.provider.Ping(ctx)
}

func (s *Store) Products() repositories.ProductRepository     { return productRepository{s: s} }
func (s *Store) Inventory() repositories.InventoryRepository { return productRepository{s: s} }
func (s *Store) Carts() repositories.CartRepository           { return cartRepository{s: s} }
func (s *Store) Orders() repositories.OrderRepository         { return orderRepository{s: s} }
func (s *Store) Loyalty() repositories.LoyaltyRepository      { return loyaltyRepository{s: s} }

// RunInTx runs fn in a Firestore transaction. fn may run again when the transaction is retried,
// so it must not keep side effects outside the store.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.uow.RunInTx(ctx, fn)
}

// PutProduct writes a catalog entry. Catalog management lives outside the engine; this seeds
// products for local runs and tests.
func (s *Store) PutProduct(ctx context.Context, product domain.Product) error {
	id := strings.TrimSpace(product.ID)
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = s.now()
	}
	if err := s.products.Set(ctx, id, newProductDocument(product)); err != nil {
		return mapError("product", id, err)
	}
	return nil
}

func (s *Store) now() time.Time {
	return s.clock().UTC()
}
