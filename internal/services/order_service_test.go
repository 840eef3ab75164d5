package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	domain "github.com/salles-management/api/internal/domain"
	"github.com/salles-management/api/internal/repositories"
)

func storeProducts() []domain.Product {
	return []domain.Product{
		{ID: "prod_a", Title: "Argan oil 250ml", Price: 1000, Stock: 5},
		{ID: "prod_b", Title: "Tagine pot", Price: 2000, Stock: 1},
	}
}

func TestOrderServiceCheckoutReserveCreditAndClearCart(t *testing.T) {
	engine := newTestEngine(t, storeProducts()...)
	ctx := context.Background()

	engine.addToCart(t, customerAmina, "prod_a", 2)
	engine.addToCart(t, customerAmina, "prod_b", 1)

	order, err := engine.orders.Checkout(ctx, CheckoutCommand{Actor: customerAmina})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	if order.Total != 4000 {
		t.Fatalf("expected total 4000, got %d", order.Total)
	}
	if order.Status != domain.OrderStatusPendingPickup {
		t.Fatalf("expected PENDING_PICKUP, got %s", order.Status)
	}
	if order.SaleType != domain.SaleTypeOnline {
		t.Fatalf("expected ONLINE sale, got %s", order.SaleType)
	}
	if order.LoyaltyPoints != 40 {
		t.Fatalf("expected 40 credited points, got %d", order.LoyaltyPoints)
	}
	if got := engine.stock(t, "prod_a"); got != 3 {
		t.Fatalf("expected prod_a stock 3, got %d", got)
	}
	if got := engine.stock(t, "prod_b"); got != 0 {
		t.Fatalf("expected prod_b stock 0, got %d", got)
	}
	if got := engine.points(t, customerAmina.ID); got != 40 {
		t.Fatalf("expected 40 loyalty points, got %d", got)
	}

	if !ValidPickupCode(order.PickupCode) {
		t.Fatalf("unexpected pickup code %q", order.PickupCode)
	}
	if order.EstimatedPickupAt == nil || !order.EstimatedPickupAt.Equal(testNow.Add(DefaultPickupWindow)) {
		t.Fatalf("expected pickup ETA two hours after creation, got %v", order.EstimatedPickupAt)
	}

	count, err := engine.carts.Count(ctx, customerAmina)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected cart cleared, count=%d", count)
	}

	events := engine.events.orderEvents()
	if len(events) != 1 || events[0].Type != orderEventCreated || events[0].OrderID != order.ID {
		t.Fatalf("expected one order.created event, got %#v", events)
	}
	lowStock := engine.events.inventoryEvents()
	if len(lowStock) != 2 {
		t.Fatalf("expected low stock events for both products, got %#v", lowStock)
	}
}

func TestOrderServiceCheckoutLosesRaceForLastUnit(t *testing.T) {
	engine := newTestEngine(t, storeProducts()...)
	ctx := context.Background()

	engine.addToCart(t, customerAmina, "prod_a", 2)
	engine.addToCart(t, customerAmina, "prod_b", 1)
	engine.addToCart(t, customerYoussef, "prod_b", 1)

	if _, err := engine.orders.Checkout(ctx, CheckoutCommand{Actor: customerAmina}); err != nil {
		t.Fatalf("first checkout: %v", err)
	}

	_, err := engine.orders.Checkout(ctx, CheckoutCommand{Actor: customerYoussef})
	assertStockError(t, err, "prod_b", 0)

	if got := engine.points(t, customerYoussef.ID); got != 0 {
		t.Fatalf("expected no points for failed checkout, got %d", got)
	}
	count, err := engine.carts.Count(ctx, customerYoussef)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected failed checkout to keep the cart, count=%d", count)
	}
}

func TestOrderServiceConcurrentCheckoutNeverOversells(t *testing.T) {
	engine := newTestEngine(t, domain.Product{ID: "prod_b", Title: "Tagine pot", Price: 2000, Stock: 1})
	ctx := context.Background()

	customers := make([]Actor, 8)
	for i := range customers {
		customers[i] = Actor{ID: "cust_" + string(rune('a'+i)), Role: domain.RoleCustomer}
		engine.addToCart(t, customers[i], "prod_b", 1)
	}

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		successes  int
		stockFails int
	)
	for _, customer := range customers {
		wg.Add(1)
		go func(actor Actor) {
			defer wg.Done()
			_, err := engine.orders.Checkout(ctx, CheckoutCommand{Actor: actor})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrInsufficientStock):
				stockFails++
			default:
				t.Errorf("unexpected checkout error: %v", err)
			}
		}(customer)
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly one successful checkout, got %d", successes)
	}
	if stockFails != len(customers)-1 {
		t.Fatalf("expected %d stock failures, got %d", len(customers)-1, stockFails)
	}
	if got := engine.stock(t, "prod_b"); got != 0 {
		t.Fatalf("expected stock 0, got %d", got)
	}
}

func TestOrderServiceCheckoutRollsBackPartialReservation(t *testing.T) {
	engine := newTestEngine(t, storeProducts()...)
	ctx := context.Background()

	engine.addToCart(t, customerAmina, "prod_a", 2)
	engine.addToCart(t, customerAmina, "prod_b", 1)
	engine.addToCart(t, customerYoussef, "prod_b", 1)

	// Youssef takes the last tagine first, so Amina's second line fails after the first reserved.
	if _, err := engine.orders.Checkout(ctx, CheckoutCommand{Actor: customerYoussef}); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	_, err := engine.orders.Checkout(ctx, CheckoutCommand{Actor: customerAmina})
	assertStockError(t, err, "prod_b", 0)

	if got := engine.stock(t, "prod_a"); got != 5 {
		t.Fatalf("expected prod_a reservation rolled back to 5, got %d", got)
	}
	if got := engine.points(t, customerAmina.ID); got != 0 {
		t.Fatalf("expected no points credited, got %d", got)
	}
	history, err := engine.orders.History(ctx, customerAmina)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if history.TotalOrders != 0 {
		t.Fatalf("expected no persisted order, got %d", history.TotalOrders)
	}
}

func assertAdjustments(t *testing.T, got []StockChange, want ...StockChange) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d stock adjustments, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("adjustment %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
}

func TestOrderServiceCheckoutTouchesProductsInIDOrder(t *testing.T) {
	recorder := &recordingInventory{}
	engine := newTestEngineWithInventory(t, func(repo repositories.InventoryRepository) repositories.InventoryRepository {
		recorder.InventoryRepository = repo
		return recorder
	}, storeProducts()...)
	ctx := context.Background()

	engine.addToCart(t, customerAmina, "prod_b", 1)
	engine.addToCart(t, customerAmina, "prod_a", 2)

	order, err := engine.orders.Checkout(ctx, CheckoutCommand{Actor: customerAmina})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if len(order.Lines) != 2 || order.Lines[0].ProductID != "prod_b" || order.Lines[1].ProductID != "prod_a" {
		t.Fatalf("expected lines to keep cart order, got %+v", order.Lines)
	}
	assertAdjustments(t, recorder.adjustments(),
		StockChange{ProductID: "prod_a", Delta: -2},
		StockChange{ProductID: "prod_b", Delta: -1},
	)

	if _, err := engine.orders.Transition(ctx, OrderTransitionCommand{Actor: vendorKarim, OrderID: order.ID, Event: EventReject}); err != nil {
		t.Fatalf("reject: %v", err)
	}
	assertAdjustments(t, recorder.adjustments()[2:],
		StockChange{ProductID: "prod_a", Delta: 2},
		StockChange{ProductID: "prod_b", Delta: 1},
	)
}

func TestOrderServiceCheckoutEmptyCart(t *testing.T) {
	engine := newTestEngine(t, storeProducts()...)

	_, err := engine.orders.Checkout(context.Background(), CheckoutCommand{Actor: customerAmina})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for empty cart, got %v", err)
	}
}

func TestOrderServiceCheckoutRequiresCustomer(t *testing.T) {
	engine := newTestEngine(t, storeProducts()...)

	_, err := engine.orders.Checkout(context.Background(), CheckoutCommand{Actor: vendorKarim})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestOrderServiceRejectCompensatesAndIsTerminal(t *testing.T) {
	engine := newTestEngine(t, storeProducts()...)
	ctx := context.Background()

	engine.addToCart(t, customerAmina, "prod_a", 2)
	engine.addToCart(t, customerAmina, "prod_b", 1)
	order, err := engine.orders.Checkout(ctx, CheckoutCommand{Actor: customerAmina})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	rejected, err := engine.orders.Transition(ctx, OrderTransitionCommand{
		Actor:   vendorKarim,
		OrderID: order.ID,
		Event:   EventReject,
		Reason:  "out of stock elsewhere",
	})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}

	if rejected.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", rejected.Status)
	}
	if got := engine.stock(t, "prod_a"); got != 5 {
		t.Fatalf("expected prod_a restored to 5, got %d", got)
	}
	if got := engine.stock(t, "prod_b"); got != 1 {
		t.Fatalf("expected prod_b restored to 1, got %d", got)
	}
	if got := engine.points(t, customerAmina.ID); got != 0 {
		t.Fatalf("expected loyalty debited back to 0, got %d", got)
	}
	if !strings.Contains(rejected.Notes, "Rejected: out of stock elsewhere") {
		t.Fatalf("expected reject note, got %q", rejected.Notes)
	}
	if rejected.ActorID != vendorKarim.ID {
		t.Fatalf("expected acting vendor recorded, got %q", rejected.ActorID)
	}
	if rejected.CanceledAt == nil {
		t.Fatalf("expected canceledAt to be set")
	}

	_, err = engine.orders.Transition(ctx, OrderTransitionCommand{
		Actor:   vendorKarim,
		OrderID: order.ID,
		Event:   EventReject,
		Reason:  "again",
	})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition on second reject, got %v", err)
	}
	if got := engine.stock(t, "prod_a"); got != 5 {
		t.Fatalf("second reject must not touch stock, got %d", got)
	}
}

func TestOrderServiceRejectWithoutReasonUsesDefault(t *testing.T) {
	engine := newTestEngine(t, storeProducts()...)
	ctx := context.Background()

	engine.addToCart(t, customerAmina, "prod_a", 1)
	order, err := engine.orders.Checkout(ctx, CheckoutCommand{Actor: customerAmina, Notes: "call on arrival"})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	rejected, err := engine.orders.Transition(ctx, OrderTransitionCommand{Actor: adminSara, OrderID: order.ID, Event: EventReject})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Notes != "call on arrival | Rejected: no reason given" {
		t.Fatalf("unexpected notes %q", rejected.Notes)
	}
}

func TestOrderServiceCustomerCancelConservesStock(t *testing.T) {
	engine := newTestEngine(t, storeProducts()...)
	ctx := context.Background()

	engine.addToCart(t, customerAmina, "prod_a", 3)
	order, err := engine.orders.Checkout(ctx, CheckoutCommand{Actor: customerAmina})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	if _, err := engine.orders.Transition(ctx, OrderTransitionCommand{Actor: customerYoussef, OrderID: order.ID, Event: EventCancel}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for another customer, got %v", err)
	}

	cancelled, err := engine.orders.Transition(ctx, OrderTransitionCommand{Actor: customerAmina, OrderID: order.ID, Event: EventCancel, Reason: "changed my mind"})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.CancelReason == nil || *cancelled.CancelReason != "changed my mind" {
		t.Fatalf("expected cancel reason to be recorded, got %v", cancelled.CancelReason)
	}
	if got := engine.stock(t, "prod_a"); got != 5 {
		t.Fatalf("expected stock conserved at 5, got %d", got)
	}
	if got := engine.points(t, customerAmina.ID); got != 0 {
		t.Fatalf("expected credited points debited, got %d", got)
	}
}

func TestOrderServiceCancelDebitClampsAtZero(t *testing.T) {
	engine := newTestEngine(t, storeProducts()...)
	ctx := context.Background()

	engine.addToCart(t, customerAmina, "prod_a", 2)
	order, err := engine.orders.Checkout(ctx, CheckoutCommand{Actor: customerAmina})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	// Points spent elsewhere before the cancellation.
	if _, err := engine.loyalty.Debit(ctx, customerAmina.ID, 15); err != nil {
		t.Fatalf("debit: %v", err)
	}

	if _, err := engine.orders.Transition(ctx, OrderTransitionCommand{Actor: customerAmina, OrderID: order.ID, Event: EventCancel}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := engine.points(t, customerAmina.ID); got != 0 {
		t.Fatalf("expected balance clamped at 0, got %d", got)
	}
}

func TestOrderServiceClickAndCollectFlow(t *testing.T) {
	engine := newTestEngine(t, storeProducts()...)
	ctx := context.Background()

	engine.addToCart(t, customerAmina, "prod_a", 1)
	order, err := engine.orders.Checkout(ctx, CheckoutCommand{Actor: customerAmina})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	if _, err := engine.orders.Transition(ctx, OrderTransitionCommand{Actor: vendorKarim, OrderID: order.ID, Event: EventComplete}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected complete on PENDING_PICKUP to fail, got %v", err)
	}
	if _, err := engine.orders.Transition(ctx, OrderTransitionCommand{Actor: customerAmina, OrderID: order.ID, Event: EventConfirm}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected customer confirm to be forbidden, got %v", err)
	}

	steps := []struct {
		event LifecycleEvent
		want  domain.OrderStatus
	}{
		{EventConfirm, domain.OrderStatusConfirmed},
		{EventReady, domain.OrderStatusReadyPickup},
		{EventComplete, domain.OrderStatusCompleted},
	}
	var current Order
	for _, step := range steps {
		current, err = engine.orders.Transition(ctx, OrderTransitionCommand{Actor: vendorKarim, OrderID: order.ID, Event: step.event})
		if err != nil {
			t.Fatalf("%s: %v", step.event, err)
		}
		if current.Status != step.want {
			t.Fatalf("%s: expected %s, got %s", step.event, step.want, current.Status)
		}
	}
	if current.ActualPickupAt == nil || current.CompletedAt == nil || current.ConfirmedAt == nil || current.ReadyAt == nil {
		t.Fatalf("expected lifecycle timestamps to be recorded: %#v", current)
	}

	if _, err := engine.orders.Transition(ctx, OrderTransitionCommand{Actor: customerAmina, OrderID: order.ID, Event: EventCancel}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected cancel of completed order to fail, got %v", err)
	}
	if got := engine.points(t, customerAmina.ID); got != 10 {
		t.Fatalf("completed order keeps its points, got %d", got)
	}

	events := engine.events.orderEvents()
	last := events[len(events)-1]
	if last.Type != orderEventStatusChanged || last.PreviousStatus != string(domain.OrderStatusReadyPickup) || last.CurrentStatus != string(domain.OrderStatusCompleted) {
		t.Fatalf("unexpected last event %#v", last)
	}
}

func TestOrderServiceGetOrderOwnership(t *testing.T) {
	engine := newTestEngine(t, storeProducts()...)
	ctx := context.Background()

	engine.addToCart(t, customerAmina, "prod_a", 1)
	order, err := engine.orders.Checkout(ctx, CheckoutCommand{Actor: customerAmina})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	if _, err := engine.orders.GetOrder(ctx, customerAmina, order.ID); err != nil {
		t.Fatalf("owner read: %v", err)
	}
	if _, err := engine.orders.GetOrder(ctx, vendorKarim, order.ID); err != nil {
		t.Fatalf("vendor read: %v", err)
	}
	if _, err := engine.orders.GetOrder(ctx, customerYoussef, order.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for other customer, got %v", err)
	}
	if _, err := engine.orders.GetOrder(ctx, vendorKarim, "ord_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOrderServiceFindByPickupCode(t *testing.T) {
	engine := newTestEngine(t, storeProducts()...)
	ctx := context.Background()

	engine.addToCart(t, customerAmina, "prod_a", 1)
	order, err := engine.orders.Checkout(ctx, CheckoutCommand{Actor: customerAmina})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	found, err := engine.orders.FindByPickupCode(ctx, " "+strings.ToLower(order.PickupCode)+" ")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if found.ID != order.ID {
		t.Fatalf("expected %s, got %s", order.ID, found.ID)
	}

	if _, err := engine.orders.FindByPickupCode(ctx, "short"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := engine.orders.FindByPickupCode(ctx, "ZZZZ9999"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOrderServicePickupCodeRetriesOnCollision(t *testing.T) {
	products := storeProducts()
	engine := newTestEngine(t, products...)
	ctx := context.Background()

	candidates := []string{"AAAA1111", "AAAA1111", "BBBB2222"}
	var next int
	orders, err := NewOrderService(OrderServiceDeps{
		Orders:     engine.store.Orders(),
		Carts:      engine.store.Carts(),
		Inventory:  engine.inventory,
		Loyalty:    engine.loyalty,
		UnitOfWork: engine.store,
		PickupCodes: func() (string, error) {
			code := candidates[next]
			next++
			return code, nil
		},
	})
	if err != nil {
		t.Fatalf("order service: %v", err)
	}

	engine.addToCart(t, customerAmina, "prod_a", 1)
	first, err := orders.Checkout(ctx, CheckoutCommand{Actor: customerAmina})
	if err != nil {
		t.Fatalf("first checkout: %v", err)
	}
	engine.addToCart(t, customerYoussef, "prod_a", 1)
	second, err := orders.Checkout(ctx, CheckoutCommand{Actor: customerYoussef})
	if err != nil {
		t.Fatalf("second checkout: %v", err)
	}

	if first.PickupCode != "AAAA1111" || second.PickupCode != "BBBB2222" {
		t.Fatalf("unexpected pickup codes %q %q", first.PickupCode, second.PickupCode)
	}
}

func TestOrderServiceHistoryAndStaffListings(t *testing.T) {
	engine := newTestEngine(t, storeProducts()...)
	ctx := context.Background()

	engine.addToCart(t, customerAmina, "prod_a", 1)
	first, err := engine.orders.Checkout(ctx, CheckoutCommand{Actor: customerAmina})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	engine.addToCart(t, customerAmina, "prod_b", 1)
	second, err := engine.orders.Checkout(ctx, CheckoutCommand{Actor: customerAmina})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if _, err := engine.orders.Transition(ctx, OrderTransitionCommand{Actor: customerAmina, OrderID: first.ID, Event: EventCancel}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := engine.sales.CreateSale(ctx, CreateSaleCommand{
		Actor:  vendorKarim,
		UserID: vendorKarim.ID,
		Lines:  []SaleLineInput{{ProductID: "prod_a", Quantity: 1}},
	}); err != nil {
		t.Fatalf("create sale: %v", err)
	}

	history, err := engine.orders.History(ctx, customerAmina)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if history.TotalOrders != 2 {
		t.Fatalf("expected 2 orders, got %d", history.TotalOrders)
	}
	if history.TotalSpent != second.Total {
		t.Fatalf("expected cancelled order excluded from spend, got %d", history.TotalSpent)
	}
	if history.LoyaltyPoints != 20 {
		t.Fatalf("expected 20 points, got %d", history.LoyaltyPoints)
	}
	if history.Orders[0].ID != second.ID {
		t.Fatalf("expected newest order first, got %s", history.Orders[0].ID)
	}

	pending, err := engine.orders.ListPending(ctx, vendorKarim, Pagination{})
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending.Items) != 1 || pending.Items[0].ID != second.ID {
		t.Fatalf("expected only the open online order, got %#v", pending.Items)
	}

	all, err := engine.orders.ListAll(ctx, adminSara, Pagination{})
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all.Items) != 2 {
		t.Fatalf("expected both online orders, got %d", len(all.Items))
	}

	if _, err := engine.orders.ListPending(ctx, customerAmina, Pagination{}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for customer, got %v", err)
	}
	if _, err := engine.orders.ListAll(ctx, vendorKarim, Pagination{PageToken: "%%%"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for bad token, got %v", err)
	}
}

func TestOrderServicePublishFailureDoesNotFailCheckout(t *testing.T) {
	engine := newTestEngine(t, storeProducts()...)
	engine.events.err = errors.New("pubsub down")
	ctx := context.Background()

	engine.addToCart(t, customerAmina, "prod_a", 1)
	if _, err := engine.orders.Checkout(ctx, CheckoutCommand{Actor: customerAmina}); err != nil {
		t.Fatalf("expected checkout to succeed despite publish failure, got %v", err)
	}
	if got := engine.stock(t, "prod_a"); got != 4 {
		t.Fatalf("expected committed reservation, got %d", got)
	}
}

type failingOrderRepo struct {
	repositories.OrderRepository
	updateErr error
}

func (r failingOrderRepo) Update(context.Context, domain.Order) error {
	return r.updateErr
}

func TestOrderServiceTransitionRollsBackWhenPersistFails(t *testing.T) {
	engine := newTestEngine(t, storeProducts()...)
	ctx := context.Background()

	engine.addToCart(t, customerAmina, "prod_a", 2)
	order, err := engine.orders.Checkout(ctx, CheckoutCommand{Actor: customerAmina})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	orders, err := NewOrderService(OrderServiceDeps{
		Orders:     failingOrderRepo{OrderRepository: engine.store.Orders(), updateErr: repositories.NewUnavailableError("order", errors.New("connection reset"))},
		Carts:      engine.store.Carts(),
		Inventory:  engine.inventory,
		Loyalty:    engine.loyalty,
		UnitOfWork: engine.store,
	})
	if err != nil {
		t.Fatalf("order service: %v", err)
	}

	_, err = orders.Transition(ctx, OrderTransitionCommand{Actor: vendorKarim, OrderID: order.ID, Event: EventReject})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if got := engine.stock(t, "prod_a"); got != 3 {
		t.Fatalf("expected released stock rolled back to 3, got %d", got)
	}
	if got := engine.points(t, customerAmina.ID); got != 20 {
		t.Fatalf("expected debit rolled back, got %d", got)
	}
}
