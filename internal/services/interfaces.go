package services

import (
	"context"
	"time"

	domain "github.com/salles-management/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination     = domain.Pagination
	Actor          = domain.Actor
	Role           = domain.Role
	Product        = domain.Product
	Cart           = domain.Cart
	CartItem       = domain.CartItem
	Order          = domain.Order
	OrderLine      = domain.OrderLine
	OrderStatus    = domain.OrderStatus
	SaleType       = domain.SaleType
	LoyaltyAccount = domain.LoyaltyAccount
	OrderHistory   = domain.OrderHistory
)

// InventoryLedger is the only component allowed to change product stock. Every mutation is a signed
// delta applied atomically by the repository; callers running inside a unit of work share its fate.
type InventoryLedger interface {
	Reserve(ctx context.Context, productID string, qty int) (StockChange, error)
	Release(ctx context.Context, productID string, qty int) (StockChange, error)
	Adjust(ctx context.Context, productID string, delta int) (StockChange, error)
	Available(ctx context.Context, productID string) (int, error)
	// NotifyLowStock publishes low stock events for committed changes. Call it after the unit of work
	// that produced the changes has committed.
	NotifyLowStock(ctx context.Context, changes []StockChange)
}

// LoyaltyLedger credits and debits customer points in step with order value.
type LoyaltyLedger interface {
	Credit(ctx context.Context, customerID string, points int64) (LoyaltyAccount, error)
	// Debit removes points and clamps the balance at zero.
	Debit(ctx context.Context, customerID string, points int64) (LoyaltyAccount, error)
	Balance(ctx context.Context, customerID string) (LoyaltyAccount, error)
}

// CartService manages the acting customer's cart. Stock checks are advisory and never reserve.
type CartService interface {
	GetCart(ctx context.Context, actor Actor) (CartView, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (CartView, error)
	UpdateItem(ctx context.Context, cmd UpdateCartItemCommand) (CartView, error)
	RemoveItem(ctx context.Context, actor Actor, itemID string) (CartView, error)
	Clear(ctx context.Context, actor Actor) error
	Count(ctx context.Context, actor Actor) (int, error)
}

// OrderService is the order lifecycle controller: checkout, transitions and order queries.
type OrderService interface {
	Checkout(ctx context.Context, cmd CheckoutCommand) (Order, error)
	Transition(ctx context.Context, cmd OrderTransitionCommand) (Order, error)
	GetOrder(ctx context.Context, actor Actor, orderID string) (Order, error)
	FindByPickupCode(ctx context.Context, code string) (Order, error)
	History(ctx context.Context, actor Actor) (OrderHistory, error)
	ListPending(ctx context.Context, actor Actor, pager Pagination) (domain.CursorPage[Order], error)
	ListAll(ctx context.Context, actor Actor, pager Pagination) (domain.CursorPage[Order], error)
}

// SaleService handles vendor-entered in-store sales and manual line editing.
type SaleService interface {
	CreateSale(ctx context.Context, cmd CreateSaleCommand) (Order, error)
	GetSale(ctx context.Context, actor Actor, saleID string) (Order, error)
	ListSales(ctx context.Context, actor Actor, pager Pagination) (domain.CursorPage[Order], error)
	CancelSale(ctx context.Context, actor Actor, saleID string, reason string) (Order, error)
	AddLine(ctx context.Context, cmd AddOrderLineCommand) (Order, error)
	UpdateLine(ctx context.Context, cmd UpdateOrderLineCommand) (Order, error)
	DeleteLine(ctx context.Context, actor Actor, lineID string) (Order, error)
}

// LoyaltyService exposes the customer-facing loyalty balance.
type LoyaltyService interface {
	GetBalance(ctx context.Context, actor Actor) (LoyaltyAccount, error)
}

// StockChange reports the effect of one ledger mutation.
type StockChange struct {
	ProductID string
	Delta     int
	Remaining int
}

// CartView is a cart together with the stock currently available for each of its products.
type CartView struct {
	Cart      Cart
	Available map[string]int
}

// AddCartItemCommand adds a product to the actor's cart, merging with an existing line.
type AddCartItemCommand struct {
	Actor     Actor
	ProductID string
	Quantity  int
}

// UpdateCartItemCommand sets the quantity of one cart line.
type UpdateCartItemCommand struct {
	Actor    Actor
	ItemID   string
	Quantity int
}

// CheckoutCommand turns the actor's cart into an online order.
type CheckoutCommand struct {
	Actor Actor
	Notes string
}

// OrderTransitionCommand requests a lifecycle event on an order.
type OrderTransitionCommand struct {
	Actor   Actor
	OrderID string
	Event   LifecycleEvent
	Reason  string
}

// SaleLineInput is one vendor-entered product/quantity pair.
type SaleLineInput struct {
	ProductID string
	Quantity  int
}

// CreateSaleCommand records an in-store sale. UserID must match the authenticated actor.
type CreateSaleCommand struct {
	Actor  Actor
	UserID string
	Lines  []SaleLineInput
	Notes  string
}

// AddOrderLineCommand appends a line to an existing order.
type AddOrderLineCommand struct {
	Actor     Actor
	OrderID   string
	ProductID string
	Quantity  int
}

// UpdateOrderLineCommand changes the quantity of an existing line.
type UpdateOrderLineCommand struct {
	Actor    Actor
	LineID   string
	Quantity int
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	SaleType       string
	PreviousStatus string
	CurrentStatus  string
	ActorID        string
	CustomerID     string
	Total          int64
	LoyaltyPoints  int64
	OccurredAt     time.Time
	Metadata       map[string]any
}

// InventoryEventPublisher accepts stock notifications for downstream processing.
type InventoryEventPublisher interface {
	PublishInventoryEvent(ctx context.Context, event InventoryEvent) error
}

// InventoryEvent describes a stock level crossing the low stock threshold.
type InventoryEvent struct {
	Type       string
	ProductID  string
	Delta      int
	Remaining  int
	Threshold  int
	OccurredAt time.Time
}
