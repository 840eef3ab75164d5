// Package memory provides a process-local persistence backend. A single mutex guards all state, so
// every unit of work is serialised and rolled back from a snapshot when it fails.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/salles-management/api/internal/domain"
	"github.com/salles-management/api/internal/repositories"
)

type txKey struct{}

// Store implements repositories.Registry in memory.
type Store struct {
	mu sync.Mutex

	products map[string]domain.Product
	carts    map[string]domain.Cart
	orders   map[string]domain.Order
	loyalty  map[string]domain.LoyaltyAccount

	clock func() time.Time
}

// Option customises the store.
type Option func(*Store)

// WithClock overrides the time source used for UpdatedAt stamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewStore constructs an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		products: make(map[string]domain.Product),
		carts:    make(map[string]domain.Cart),
		orders:   make(map[string]domain.Order),
		loyalty:  make(map[string]domain.LoyaltyAccount),
		clock:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// PutProduct inserts or replaces a catalog entry. Catalog management lives outside the engine; this
// is the seeding hook for local runs and tests.
func (s *Store) PutProduct(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = s.now()
	}
	s.products[product.ID] = product
}

// Close implements repositories.Registry.
func (s *Store) Close(context.Context) error { return nil }

func (s *Store) Products() repositories.ProductRepository     { return productRepository{s: s} }
func (s *Store) Inventory() repositories.InventoryRepository { return inventoryRepository{s: s} }
func (s *Store) Carts() repositories.CartRepository           { return cartRepository{s: s} }
func (s *Store) Orders() repositories.OrderRepository         { return orderRepository{s: s} }
func (s *Store) Loyalty() repositories.LoyaltyRepository      { return loyaltyRepository{s: s} }

// RunInTx runs fn while holding the store lock. Nested calls join the outer unit of work.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	committed := false
	defer func() {
		if !committed {
			s.restore(snap)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *Store) inTx(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	owner, ok := ctx.Value(txKey{}).(*Store)
	return ok && owner == s
}

// lock acquires the store mutex unless the caller already holds it through RunInTx.
func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) now() time.Time {
	return s.clock().UTC()
}

type snapshot struct {
	products map[string]domain.Product
	carts    map[string]domain.Cart
	orders   map[string]domain.Order
	loyalty  map[string]domain.LoyaltyAccount
}

// Stored values are never mutated in place, so copying the maps is enough to roll back.
func (s *Store) snapshot() snapshot {
	return snapshot{
		products: copyMap(s.products),
		carts:    copyMap(s.carts),
		orders:   copyMap(s.orders),
		loyalty:  copyMap(s.loyalty),
	}
}

func (s *Store) restore(snap snapshot) {
	s.products = snap.products
	s.carts = snap.carts
	s.orders = snap.orders
	s.loyalty = snap.loyalty
}

func copyMap[V any](src map[string]V) map[string]V {
	dst := make(map[string]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

type productRepository struct{ s *Store }

func (r productRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	unlock := r.s.lock(ctx)
	defer unlock()

	product, ok := r.s.products[strings.TrimSpace(productID)]
	if !ok {
		return domain.Product{}, repositories.NewNotFoundError("product", productID)
	}
	return product, nil
}

type inventoryRepository struct{ s *Store }

func (r inventoryRepository) AdjustStock(ctx context.Context, productID string, delta int) (int, error) {
	unlock := r.s.lock(ctx)
	defer unlock()

	product, ok := r.s.products[productID]
	if !ok {
		return 0, repositories.NewStockNotFoundError(productID)
	}
	if product.Stock+delta < 0 {
		return product.Stock, repositories.NewInsufficientStockError(productID, -delta, product.Stock)
	}
	product.Stock += delta
	product.UpdatedAt = r.s.now()
	r.s.products[productID] = product
	return product.Stock, nil
}

func (r inventoryRepository) StockLevel(ctx context.Context, productID string) (int, error) {
	unlock := r.s.lock(ctx)
	defer unlock()

	product, ok := r.s.products[productID]
	if !ok {
		return 0, repositories.NewStockNotFoundError(productID)
	}
	return product.Stock, nil
}

type cartRepository struct{ s *Store }

func (r cartRepository) FindByCustomer(ctx context.Context, customerID string) (domain.Cart, error) {
	unlock := r.s.lock(ctx)
	defer unlock()

	cart, ok := r.s.carts[customerID]
	if !ok {
		return domain.Cart{}, repositories.NewNotFoundError("cart", customerID)
	}
	return cloneCart(cart), nil
}

func (r cartRepository) Save(ctx context.Context, cart domain.Cart) error {
	unlock := r.s.lock(ctx)
	defer unlock()

	r.s.carts[cart.CustomerID] = cloneCart(cart)
	return nil
}

type orderRepository struct{ s *Store }

func (r orderRepository) Insert(ctx context.Context, order domain.Order) error {
	unlock := r.s.lock(ctx)
	defer unlock()

	if _, exists := r.s.orders[order.ID]; exists {
		return repositories.NewConflictError("order", order.ID, nil)
	}
	if order.PickupCode != "" {
		for _, existing := range r.s.orders {
			if existing.PickupCode == order.PickupCode {
				return repositories.NewConflictError("order", order.PickupCode, nil)
			}
		}
	}
	r.s.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r orderRepository) Update(ctx context.Context, order domain.Order) error {
	unlock := r.s.lock(ctx)
	defer unlock()

	if _, exists := r.s.orders[order.ID]; !exists {
		return repositories.NewNotFoundError("order", order.ID)
	}
	r.s.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r orderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	unlock := r.s.lock(ctx)
	defer unlock()

	order, ok := r.s.orders[orderID]
	if !ok {
		return domain.Order{}, repositories.NewNotFoundError("order", orderID)
	}
	return cloneOrder(order), nil
}

func (r orderRepository) FindByLineID(ctx context.Context, lineID string) (domain.Order, error) {
	unlock := r.s.lock(ctx)
	defer unlock()

	for _, order := range r.s.orders {
		if order.LineIndex(lineID) >= 0 {
			return cloneOrder(order), nil
		}
	}
	return domain.Order{}, repositories.NewNotFoundError("order line", lineID)
}

func (r orderRepository) FindByPickupCode(ctx context.Context, code string) (domain.Order, error) {
	unlock := r.s.lock(ctx)
	defer unlock()

	for _, order := range r.s.orders {
		if order.PickupCode != "" && order.PickupCode == code {
			return cloneOrder(order), nil
		}
	}
	return domain.Order{}, repositories.NewNotFoundError("order", code)
}

func (r orderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	unlock := r.s.lock(ctx)
	defer unlock()

	after, err := repositories.DecodeOrderCursor(filter, filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	statuses := make(map[domain.OrderStatus]struct{}, len(filter.Statuses))
	for _, status := range filter.Statuses {
		statuses[status] = struct{}{}
	}

	matched := make([]domain.Order, 0)
	for _, order := range r.s.orders {
		if filter.CustomerID != "" && order.CustomerID != filter.CustomerID {
			continue
		}
		if filter.ActorID != "" && order.ActorID != filter.ActorID {
			continue
		}
		if filter.SaleType != "" && order.SaleType != filter.SaleType {
			continue
		}
		if len(statuses) > 0 {
			if _, ok := statuses[order.Status]; !ok {
				continue
			}
		}
		if after != "" && order.ID >= after {
			continue
		}
		matched = append(matched, order)
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })

	size := repositories.NormalizePageSize(filter.Pagination.PageSize)
	page := domain.CursorPage[domain.Order]{}
	if len(matched) > size {
		matched = matched[:size]
		token, err := repositories.EncodeOrderCursor(filter, matched[size-1].ID)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
	}
	page.Items = make([]domain.Order, 0, len(matched))
	for _, order := range matched {
		page.Items = append(page.Items, cloneOrder(order))
	}
	return page, nil
}

type loyaltyRepository struct{ s *Store }

func (r loyaltyRepository) Balance(ctx context.Context, customerID string) (domain.LoyaltyAccount, error) {
	unlock := r.s.lock(ctx)
	defer unlock()

	account, ok := r.s.loyalty[customerID]
	if !ok {
		return domain.LoyaltyAccount{CustomerID: customerID}, nil
	}
	return account, nil
}

func (r loyaltyRepository) Adjust(ctx context.Context, customerID string, delta int64) (domain.LoyaltyAccount, error) {
	unlock := r.s.lock(ctx)
	defer unlock()

	account, ok := r.s.loyalty[customerID]
	if !ok {
		account = domain.LoyaltyAccount{CustomerID: customerID}
	}
	account.Points += delta
	if account.Points < 0 {
		account.Points = 0
	}
	account.UpdatedAt = r.s.now()
	r.s.loyalty[customerID] = account
	return account, nil
}

func cloneCart(cart domain.Cart) domain.Cart {
	if cart.Items != nil {
		cart.Items = append([]domain.CartItem(nil), cart.Items...)
	}
	return cart
}

func cloneOrder(order domain.Order) domain.Order {
	if order.Lines != nil {
		order.Lines = append([]domain.OrderLine(nil), order.Lines...)
	}
	order.EstimatedPickupAt = cloneTime(order.EstimatedPickupAt)
	order.ActualPickupAt = cloneTime(order.ActualPickupAt)
	order.ConfirmedAt = cloneTime(order.ConfirmedAt)
	order.ReadyAt = cloneTime(order.ReadyAt)
	order.CompletedAt = cloneTime(order.CompletedAt)
	order.CanceledAt = cloneTime(order.CanceledAt)
	if order.CancelReason != nil {
		reason := *order.CancelReason
		order.CancelReason = &reason
	}
	return order
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
