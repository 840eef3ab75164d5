package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/salles-management/api/internal/repositories"
)

const (
	cartIDPrefix     = "crt_"
	cartItemIDPrefix = "cit_"
)

// CartServiceDeps wires the repositories and the inventory ledger used for advisory stock checks.
type CartServiceDeps struct {
	Carts       repositories.CartRepository
	Products    repositories.ProductRepository
	Inventory   InventoryLedger
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type cartService struct {
	carts      repositories.CartRepository
	products   repositories.ProductRepository
	inventory  InventoryLedger
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

// NewCartService constructs a CartService.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("cart service: product repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("cart service: inventory ledger is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &cartService{
		carts:      deps.Carts,
		products:   deps.Products,
		inventory:  deps.Inventory,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *cartService) GetCart(ctx context.Context, actor Actor) (CartView, error) {
	if err := requireCustomer(actor); err != nil {
		return CartView{}, err
	}

	var cart Cart
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		loaded, created, err := s.loadOrCreate(txCtx, actor.ID)
		if err != nil {
			return err
		}
		if created {
			if err := s.carts.Save(txCtx, loaded); err != nil {
				return mapRepositoryError(err)
			}
		}
		cart = loaded
		return nil
	})
	if err != nil {
		return CartView{}, err
	}
	return s.view(ctx, cart)
}

func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (CartView, error) {
	if err := requireCustomer(cmd.Actor); err != nil {
		return CartView{}, err
	}
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return CartView{}, fmt.Errorf("%w: product id is required", ErrInvalidInput)
	}
	if cmd.Quantity < 1 {
		return CartView{}, fmt.Errorf("%w: quantity must be at least 1", ErrInvalidInput)
	}

	var cart Cart
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		product, err := s.products.FindByID(txCtx, productID)
		if err != nil {
			return mapRepositoryError(err)
		}

		loaded, _, err := s.loadOrCreate(txCtx, cmd.Actor.ID)
		if err != nil {
			return err
		}

		now := s.clock()
		idx := indexOfCartProduct(loaded.Items, productID)
		quantity := cmd.Quantity
		if idx >= 0 {
			quantity += loaded.Items[idx].Quantity
		}
		if err := s.checkAvailable(txCtx, productID, quantity); err != nil {
			return err
		}

		if idx >= 0 {
			loaded.Items[idx].Quantity = quantity
			loaded.Items[idx].UpdatedAt = now
		} else {
			loaded.Items = append(loaded.Items, CartItem{
				ID:           cartItemIDPrefix + s.newID(),
				ProductID:    product.ID,
				ProductTitle: product.Title,
				Quantity:     quantity,
				UnitPrice:    product.Price,
				AddedAt:      now,
				UpdatedAt:    now,
			})
		}
		loaded.UpdatedAt = now

		if err := s.carts.Save(txCtx, loaded); err != nil {
			return mapRepositoryError(err)
		}
		cart = loaded
		return nil
	})
	if err != nil {
		return CartView{}, err
	}

	s.logger(ctx, "cart.item.added", map[string]any{
		"customerId": cmd.Actor.ID,
		"productId":  productID,
		"quantity":   cmd.Quantity,
	})
	return s.view(ctx, cart)
}

func (s *cartService) UpdateItem(ctx context.Context, cmd UpdateCartItemCommand) (CartView, error) {
	if err := requireCustomer(cmd.Actor); err != nil {
		return CartView{}, err
	}
	itemID := strings.TrimSpace(cmd.ItemID)
	if itemID == "" {
		return CartView{}, fmt.Errorf("%w: item id is required", ErrInvalidInput)
	}
	if cmd.Quantity < 1 {
		return CartView{}, fmt.Errorf("%w: quantity must be at least 1", ErrInvalidInput)
	}

	var cart Cart
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		loaded, err := s.load(txCtx, cmd.Actor.ID)
		if err != nil {
			return err
		}
		idx := indexOfCartItem(loaded.Items, itemID)
		if idx < 0 {
			return fmt.Errorf("%w: cart item %s", ErrNotFound, itemID)
		}
		if err := s.checkAvailable(txCtx, loaded.Items[idx].ProductID, cmd.Quantity); err != nil {
			return err
		}

		now := s.clock()
		loaded.Items[idx].Quantity = cmd.Quantity
		loaded.Items[idx].UpdatedAt = now
		loaded.UpdatedAt = now
		if err := s.carts.Save(txCtx, loaded); err != nil {
			return mapRepositoryError(err)
		}
		cart = loaded
		return nil
	})
	if err != nil {
		return CartView{}, err
	}
	return s.view(ctx, cart)
}

func (s *cartService) RemoveItem(ctx context.Context, actor Actor, itemID string) (CartView, error) {
	if err := requireCustomer(actor); err != nil {
		return CartView{}, err
	}
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return CartView{}, fmt.Errorf("%w: item id is required", ErrInvalidInput)
	}

	var cart Cart
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		loaded, err := s.load(txCtx, actor.ID)
		if err != nil {
			return err
		}
		idx := indexOfCartItem(loaded.Items, itemID)
		if idx < 0 {
			return fmt.Errorf("%w: cart item %s", ErrNotFound, itemID)
		}
		loaded.Items = append(loaded.Items[:idx], loaded.Items[idx+1:]...)
		loaded.UpdatedAt = s.clock()
		if err := s.carts.Save(txCtx, loaded); err != nil {
			return mapRepositoryError(err)
		}
		cart = loaded
		return nil
	})
	if err != nil {
		return CartView{}, err
	}
	return s.view(ctx, cart)
}

func (s *cartService) Clear(ctx context.Context, actor Actor) error {
	if err := requireCustomer(actor); err != nil {
		return err
	}
	return s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		loaded, _, err := s.loadOrCreate(txCtx, actor.ID)
		if err != nil {
			return err
		}
		loaded.Items = nil
		loaded.UpdatedAt = s.clock()
		if err := s.carts.Save(txCtx, loaded); err != nil {
			return mapRepositoryError(err)
		}
		return nil
	})
}

func (s *cartService) Count(ctx context.Context, actor Actor) (int, error) {
	if err := requireCustomer(actor); err != nil {
		return 0, err
	}
	cart, err := s.carts.FindByCustomer(ctx, actor.ID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return 0, nil
		}
		return 0, mapRepositoryError(err)
	}
	return cart.TotalItems(), nil
}

func (s *cartService) load(ctx context.Context, customerID string) (Cart, error) {
	cart, err := s.carts.FindByCustomer(ctx, customerID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return Cart{}, fmt.Errorf("%w: cart for customer %s", ErrNotFound, customerID)
		}
		return Cart{}, mapRepositoryError(err)
	}
	return cart, nil
}

func (s *cartService) loadOrCreate(ctx context.Context, customerID string) (Cart, bool, error) {
	cart, err := s.carts.FindByCustomer(ctx, customerID)
	if err == nil {
		return cart, false, nil
	}
	if !repositories.IsNotFound(err) {
		return Cart{}, false, mapRepositoryError(err)
	}
	now := s.clock()
	return Cart{
		ID:         cartIDPrefix + s.newID(),
		CustomerID: customerID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, true, nil
}

// checkAvailable is advisory: nothing is reserved until checkout.
func (s *cartService) checkAvailable(ctx context.Context, productID string, quantity int) error {
	available, err := s.inventory.Available(ctx, productID)
	if err != nil {
		return err
	}
	if quantity > available {
		return &InsufficientStockError{ProductID: productID, Requested: quantity, Available: available}
	}
	return nil
}

func (s *cartService) view(ctx context.Context, cart Cart) (CartView, error) {
	available := make(map[string]int, len(cart.Items))
	for _, item := range cart.Items {
		if _, seen := available[item.ProductID]; seen {
			continue
		}
		stock, err := s.inventory.Available(ctx, item.ProductID)
		switch {
		case err == nil:
			available[item.ProductID] = stock
		case errors.Is(err, ErrNotFound):
			available[item.ProductID] = 0
		default:
			return CartView{}, err
		}
	}
	return CartView{Cart: cart, Available: available}, nil
}

func requireCustomer(actor Actor) error {
	if strings.TrimSpace(actor.ID) == "" {
		return fmt.Errorf("%w: authenticated actor is required", ErrInvalidInput)
	}
	if !actor.IsCustomer() {
		return fmt.Errorf("%w: role %q is not a customer", ErrForbidden, actor.Role)
	}
	return nil
}

func requireStaff(actor Actor) error {
	if strings.TrimSpace(actor.ID) == "" {
		return fmt.Errorf("%w: authenticated actor is required", ErrInvalidInput)
	}
	if !actor.IsStaff() {
		return fmt.Errorf("%w: role %q is not ADMIN or VENDEUR", ErrForbidden, actor.Role)
	}
	return nil
}

func indexOfCartItem(items []CartItem, itemID string) int {
	for i, item := range items {
		if item.ID == itemID {
			return i
		}
	}
	return -1
}

func indexOfCartProduct(items []CartItem, productID string) int {
	for i, item := range items {
		if item.ProductID == productID {
			return i
		}
	}
	return -1
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
