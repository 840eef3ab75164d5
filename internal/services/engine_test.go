package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	domain "github.com/salles-management/api/internal/domain"
	"github.com/salles-management/api/internal/repositories"
	"github.com/salles-management/api/internal/repositories/memory"
)

var (
	testNow = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	customerAmina   = Actor{ID: "cust_amina", Role: domain.RoleCustomer}
	customerYoussef = Actor{ID: "cust_youssef", Role: domain.RoleCustomer}
	vendorKarim     = Actor{ID: "vnd_karim", Role: domain.RoleVendor}
	adminSara       = Actor{ID: "adm_sara", Role: domain.RoleAdmin}
)

// testEngine wires every service over one in-memory store.
type testEngine struct {
	store     *memory.Store
	inventory InventoryLedger
	loyalty   LoyaltyLedger
	carts     CartService
	orders    OrderService
	sales     SaleService
	events    *captureEvents
}

func newTestEngine(t *testing.T, products ...domain.Product) *testEngine {
	t.Helper()
	return newTestEngineWithInventory(t, nil, products...)
}

// newTestEngineWithInventory lets a test wrap the inventory repository the ledger writes through.
func newTestEngineWithInventory(t *testing.T, wrap func(repositories.InventoryRepository) repositories.InventoryRepository, products ...domain.Product) *testEngine {
	t.Helper()

	store := memory.NewStore(memory.WithClock(func() time.Time { return testNow }))
	for _, product := range products {
		store.PutProduct(product)
	}
	var inventoryRepo repositories.InventoryRepository = store.Inventory()
	if wrap != nil {
		inventoryRepo = wrap(inventoryRepo)
	}

	events := &captureEvents{}
	clock := func() time.Time { return testNow }
	ids := sequentialIDs()

	inventory, err := NewInventoryLedger(InventoryLedgerDeps{
		Inventory: inventoryRepo,
		Events:    events,
		Clock:     clock,
	})
	if err != nil {
		t.Fatalf("inventory ledger: %v", err)
	}
	loyalty, err := NewLoyaltyLedger(LoyaltyLedgerDeps{Loyalty: store.Loyalty()})
	if err != nil {
		t.Fatalf("loyalty ledger: %v", err)
	}
	carts, err := NewCartService(CartServiceDeps{
		Carts:       store.Carts(),
		Products:    store.Products(),
		Inventory:   inventory,
		UnitOfWork:  store,
		Clock:       clock,
		IDGenerator: ids,
	})
	if err != nil {
		t.Fatalf("cart service: %v", err)
	}
	orders, err := NewOrderService(OrderServiceDeps{
		Orders:      store.Orders(),
		Carts:       store.Carts(),
		Inventory:   inventory,
		Loyalty:     loyalty,
		UnitOfWork:  store,
		Events:      events,
		Clock:       clock,
		IDGenerator: ids,
	})
	if err != nil {
		t.Fatalf("order service: %v", err)
	}
	sales, err := NewSaleService(SaleServiceDeps{
		Orders:      store.Orders(),
		Products:    store.Products(),
		Inventory:   inventory,
		Lifecycle:   orders,
		UnitOfWork:  store,
		Events:      events,
		Clock:       clock,
		IDGenerator: ids,
	})
	if err != nil {
		t.Fatalf("sale service: %v", err)
	}

	return &testEngine{
		store:     store,
		inventory: inventory,
		loyalty:   loyalty,
		carts:     carts,
		orders:    orders,
		sales:     sales,
		events:    events,
	}
}

func (e *testEngine) stock(t *testing.T, productID string) int {
	t.Helper()
	stock, err := e.inventory.Available(context.Background(), productID)
	if err != nil {
		t.Fatalf("stock level for %s: %v", productID, err)
	}
	return stock
}

func (e *testEngine) points(t *testing.T, customerID string) int64 {
	t.Helper()
	account, err := e.loyalty.Balance(context.Background(), customerID)
	if err != nil {
		t.Fatalf("loyalty balance for %s: %v", customerID, err)
	}
	return account.Points
}

func (e *testEngine) addToCart(t *testing.T, actor Actor, productID string, qty int) {
	t.Helper()
	if _, err := e.carts.AddItem(context.Background(), AddCartItemCommand{Actor: actor, ProductID: productID, Quantity: qty}); err != nil {
		t.Fatalf("add %s x%d to cart: %v", productID, qty, err)
	}
}

func sequentialIDs() func() string {
	var counter atomic.Int64
	return func() string {
		return fmt.Sprintf("%08d", counter.Add(1))
	}
}

type captureEvents struct {
	mu        sync.Mutex
	orders    []OrderEvent
	inventory []InventoryEvent
	err       error
}

func (c *captureEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orders = append(c.orders, event)
	return c.err
}

func (c *captureEvents) PublishInventoryEvent(_ context.Context, event InventoryEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inventory = append(c.inventory, event)
	return c.err
}

func (c *captureEvents) orderEvents() []OrderEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]OrderEvent(nil), c.orders...)
}

func (c *captureEvents) inventoryEvents() []InventoryEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]InventoryEvent(nil), c.inventory...)
}

func assertStockError(t *testing.T, err error, productID string, available int) {
	t.Helper()
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	var stockErr *InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected *InsufficientStockError, got %T", err)
	}
	if stockErr.ProductID != productID {
		t.Fatalf("expected product %s, got %s", productID, stockErr.ProductID)
	}
	if stockErr.Available != available {
		t.Fatalf("expected available %d, got %d", available, stockErr.Available)
	}
}

// recordingInventory remembers every stock adjustment in call order.
type recordingInventory struct {
	repositories.InventoryRepository

	mu    sync.Mutex
	calls []StockChange
}

func (r *recordingInventory) AdjustStock(ctx context.Context, productID string, delta int) (int, error) {
	r.mu.Lock()
	r.calls = append(r.calls, StockChange{ProductID: productID, Delta: delta})
	r.mu.Unlock()
	return r.InventoryRepository.AdjustStock(ctx, productID, delta)
}

func (r *recordingInventory) adjustments() []StockChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StockChange(nil), r.calls...)
}
