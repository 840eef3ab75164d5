package repositories

import (
	"context"

	domain "github.com/salles-management/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Inventory() InventoryRepository
	Carts() CartRepository
	Orders() OrderRepository
	Loyalty() LoyaltyRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations in one transactional boundary. Repositories called with
// the context passed to fn participate in the same transaction.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ProductRepository reads the catalog facts the engine depends on.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
}

// InventoryRepository owns the stock counter. AdjustStock must be an atomic conditional update:
// a negative delta that would drive stock below zero fails with an InventoryError carrying
// InventoryErrorInsufficientStock and leaves stock untouched.
type InventoryRepository interface {
	AdjustStock(ctx context.Context, productID string, delta int) (int, error)
	StockLevel(ctx context.Context, productID string) (int, error)
}

// CartRepository persists one cart per customer.
type CartRepository interface {
	FindByCustomer(ctx context.Context, customerID string) (domain.Cart, error)
	Save(ctx context.Context, cart domain.Cart) error
}

// OrderRepository persists orders with their lines.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	// FindByID returns the order. Inside a unit of work the order is locked for the remainder of the
	// transaction where the backend supports it.
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByLineID(ctx context.Context, lineID string) (domain.Order, error)
	FindByPickupCode(ctx context.Context, code string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// OrderListFilter narrows order listings. Results are ordered newest first.
type OrderListFilter struct {
	CustomerID string
	ActorID    string
	SaleType   domain.SaleType
	Statuses   []domain.OrderStatus
	Pagination domain.Pagination
}

// LoyaltyRepository stores customer point balances.
type LoyaltyRepository interface {
	Balance(ctx context.Context, customerID string) (domain.LoyaltyAccount, error)
	// Adjust applies delta and clamps the resulting balance at zero. It returns the updated account.
	Adjust(ctx context.Context, customerID string, delta int64) (domain.LoyaltyAccount, error)
}
