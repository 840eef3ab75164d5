package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/salles-management/api/internal/domain"
	"github.com/salles-management/api/internal/repositories"
)

func counterProducts() []domain.Product {
	return []domain.Product{
		{ID: "prod_tea", Title: "Mint tea 500g", Price: 450, Stock: 12},
		{ID: "prod_rug", Title: "Beni Ouarain rug", Price: 125000, Stock: 2},
	}
}

func newCounterSale(t *testing.T, engine *testEngine, lines ...SaleLineInput) Order {
	t.Helper()
	sale, err := engine.sales.CreateSale(context.Background(), CreateSaleCommand{
		Actor:  vendorKarim,
		UserID: vendorKarim.ID,
		Lines:  lines,
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	return sale
}

func assertTotalMatchesLines(t *testing.T, order Order) {
	t.Helper()
	var sum int64
	for _, line := range order.Lines {
		if line.LineTotal != line.UnitPrice*int64(line.Quantity) {
			t.Fatalf("line %s total %d does not match %d x %d", line.ID, line.LineTotal, line.UnitPrice, line.Quantity)
		}
		sum += line.LineTotal
	}
	if order.Total != sum {
		t.Fatalf("order total %d does not match line sum %d", order.Total, sum)
	}
}

func TestSaleServiceCreateSale(t *testing.T) {
	engine := newTestEngine(t, counterProducts()...)

	sale := newCounterSale(t, engine,
		SaleLineInput{ProductID: "prod_tea", Quantity: 2},
		SaleLineInput{ProductID: "prod_rug", Quantity: 1},
	)

	if sale.SaleType != domain.SaleTypeInStore || sale.Status != domain.OrderStatusConfirmed {
		t.Fatalf("unexpected sale %s/%s", sale.SaleType, sale.Status)
	}
	if sale.ActorID != vendorKarim.ID {
		t.Fatalf("expected vendor recorded, got %q", sale.ActorID)
	}
	if sale.Total != 2*450+125000 {
		t.Fatalf("unexpected total %d", sale.Total)
	}
	if sale.ConfirmedAt == nil || sale.CustomerID != "" || sale.LoyaltyPoints != 0 || sale.PickupCode != "" {
		t.Fatalf("counter sale should be confirmed without customer data: %#v", sale)
	}
	assertTotalMatchesLines(t, sale)

	if got := engine.stock(t, "prod_tea"); got != 10 {
		t.Fatalf("expected tea stock 10, got %d", got)
	}
	if got := engine.stock(t, "prod_rug"); got != 1 {
		t.Fatalf("expected rug stock 1, got %d", got)
	}
}

func TestSaleServiceCreateSaleValidation(t *testing.T) {
	engine := newTestEngine(t, counterProducts()...)
	ctx := context.Background()

	cases := []struct {
		name    string
		cmd     CreateSaleCommand
		wantErr error
	}{
		{
			name:    "customer cannot sell",
			cmd:     CreateSaleCommand{Actor: customerAmina, UserID: customerAmina.ID, Lines: []SaleLineInput{{ProductID: "prod_tea", Quantity: 1}}},
			wantErr: ErrForbidden,
		},
		{
			name:    "user id mismatch",
			cmd:     CreateSaleCommand{Actor: vendorKarim, UserID: adminSara.ID, Lines: []SaleLineInput{{ProductID: "prod_tea", Quantity: 1}}},
			wantErr: ErrInvalidInput,
		},
		{
			name:    "no lines",
			cmd:     CreateSaleCommand{Actor: vendorKarim, UserID: vendorKarim.ID},
			wantErr: ErrInvalidInput,
		},
		{
			name:    "zero quantity",
			cmd:     CreateSaleCommand{Actor: vendorKarim, UserID: vendorKarim.ID, Lines: []SaleLineInput{{ProductID: "prod_tea", Quantity: 0}}},
			wantErr: ErrInvalidInput,
		},
		{
			name:    "unknown product",
			cmd:     CreateSaleCommand{Actor: vendorKarim, UserID: vendorKarim.ID, Lines: []SaleLineInput{{ProductID: "prod_missing", Quantity: 1}}},
			wantErr: ErrNotFound,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := engine.sales.CreateSale(ctx, tc.cmd); !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
	if got := engine.stock(t, "prod_tea"); got != 12 {
		t.Fatalf("rejected sales must not touch stock, got %d", got)
	}
}

func TestSaleServiceCreateSaleInsufficientStockRollsBack(t *testing.T) {
	engine := newTestEngine(t, counterProducts()...)

	_, err := engine.sales.CreateSale(context.Background(), CreateSaleCommand{
		Actor:  adminSara,
		UserID: adminSara.ID,
		Lines: []SaleLineInput{
			{ProductID: "prod_tea", Quantity: 4},
			{ProductID: "prod_rug", Quantity: 3},
		},
	})
	assertStockError(t, err, "prod_rug", 2)

	if got := engine.stock(t, "prod_tea"); got != 12 {
		t.Fatalf("expected tea reservation rolled back, got %d", got)
	}
}

func TestSaleServiceCreateSaleGroupsAndOrdersReservations(t *testing.T) {
	recorder := &recordingInventory{}
	engine := newTestEngineWithInventory(t, func(repo repositories.InventoryRepository) repositories.InventoryRepository {
		recorder.InventoryRepository = repo
		return recorder
	}, counterProducts()...)

	sale := newCounterSale(t, engine,
		SaleLineInput{ProductID: "prod_tea", Quantity: 2},
		SaleLineInput{ProductID: "prod_rug", Quantity: 1},
		SaleLineInput{ProductID: "prod_tea", Quantity: 3},
	)

	if len(sale.Lines) != 3 || sale.Lines[0].ProductID != "prod_tea" || sale.Lines[1].ProductID != "prod_rug" {
		t.Fatalf("expected lines in entry order, got %+v", sale.Lines)
	}
	assertAdjustments(t, recorder.adjustments(),
		StockChange{ProductID: "prod_rug", Delta: -1},
		StockChange{ProductID: "prod_tea", Delta: -5},
	)
	if got := engine.stock(t, "prod_tea"); got != 7 {
		t.Fatalf("expected tea stock 7, got %d", got)
	}
}

func TestSaleServiceUpdateLineAppliesOnlyTheDifference(t *testing.T) {
	engine := newTestEngine(t, counterProducts()...)
	ctx := context.Background()

	sale := newCounterSale(t, engine, SaleLineInput{ProductID: "prod_tea", Quantity: 2})
	if got := engine.stock(t, "prod_tea"); got != 10 {
		t.Fatalf("expected 10 left after sale, got %d", got)
	}
	lineID := sale.Lines[0].ID

	grown, err := engine.sales.UpdateLine(ctx, UpdateOrderLineCommand{Actor: vendorKarim, LineID: lineID, Quantity: 5})
	if err != nil {
		t.Fatalf("update line: %v", err)
	}
	if got := engine.stock(t, "prod_tea"); got != 7 {
		t.Fatalf("expected stock reduced by exactly 3, got %d", got)
	}
	if grown.Total != 5*450 {
		t.Fatalf("expected total 2250, got %d", grown.Total)
	}
	assertTotalMatchesLines(t, grown)

	shrunk, err := engine.sales.UpdateLine(ctx, UpdateOrderLineCommand{Actor: vendorKarim, LineID: lineID, Quantity: 1})
	if err != nil {
		t.Fatalf("shrink line: %v", err)
	}
	if got := engine.stock(t, "prod_tea"); got != 11 {
		t.Fatalf("expected 4 units released, got %d", got)
	}
	assertTotalMatchesLines(t, shrunk)

	_, err = engine.sales.UpdateLine(ctx, UpdateOrderLineCommand{Actor: vendorKarim, LineID: lineID, Quantity: 13})
	assertStockError(t, err, "prod_tea", 11)
	if got := engine.stock(t, "prod_tea"); got != 11 {
		t.Fatalf("failed update must not change stock, got %d", got)
	}
}

func TestSaleServiceUpdateLineSameQuantityIsNoop(t *testing.T) {
	engine := newTestEngine(t, counterProducts()...)

	sale := newCounterSale(t, engine, SaleLineInput{ProductID: "prod_tea", Quantity: 2})
	updated, err := engine.sales.UpdateLine(context.Background(), UpdateOrderLineCommand{Actor: vendorKarim, LineID: sale.Lines[0].ID, Quantity: 2})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Total != sale.Total {
		t.Fatalf("expected unchanged total, got %d", updated.Total)
	}
	if got := engine.stock(t, "prod_tea"); got != 10 {
		t.Fatalf("expected unchanged stock, got %d", got)
	}
}

func TestSaleServiceAddAndDeleteLine(t *testing.T) {
	engine := newTestEngine(t, counterProducts()...)
	ctx := context.Background()

	sale := newCounterSale(t, engine, SaleLineInput{ProductID: "prod_tea", Quantity: 1})

	withRug, err := engine.sales.AddLine(ctx, AddOrderLineCommand{Actor: adminSara, OrderID: sale.ID, ProductID: "prod_rug", Quantity: 1})
	if err != nil {
		t.Fatalf("add line: %v", err)
	}
	if len(withRug.Lines) != 2 || withRug.Total != 450+125000 {
		t.Fatalf("unexpected order after add: %#v", withRug)
	}
	if withRug.ActorID != adminSara.ID {
		t.Fatalf("expected editor recorded, got %q", withRug.ActorID)
	}
	if got := engine.stock(t, "prod_rug"); got != 1 {
		t.Fatalf("expected rug reserved, got %d", got)
	}

	rugLine := withRug.Lines[1].ID
	withoutRug, err := engine.sales.DeleteLine(ctx, vendorKarim, rugLine)
	if err != nil {
		t.Fatalf("delete line: %v", err)
	}
	if len(withoutRug.Lines) != 1 || withoutRug.Total != 450 {
		t.Fatalf("unexpected order after delete: %#v", withoutRug)
	}
	if got := engine.stock(t, "prod_rug"); got != 2 {
		t.Fatalf("expected rug released, got %d", got)
	}

	if _, err := engine.sales.DeleteLine(ctx, vendorKarim, rugLine); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for deleted line, got %v", err)
	}

	events := engine.events.orderEvents()
	last := events[len(events)-1]
	if last.Type != orderEventLinesChanged || last.Metadata["operation"] != "delete" {
		t.Fatalf("unexpected last event %#v", last)
	}
}

func TestSaleServiceEditingCancelledOrderFails(t *testing.T) {
	engine := newTestEngine(t, counterProducts()...)
	ctx := context.Background()

	sale := newCounterSale(t, engine, SaleLineInput{ProductID: "prod_tea", Quantity: 3})
	cancelled, err := engine.sales.CancelSale(ctx, vendorKarim, sale.ID, "customer left")
	if err != nil {
		t.Fatalf("cancel sale: %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
	if got := engine.stock(t, "prod_tea"); got != 12 {
		t.Fatalf("expected stock restored, got %d", got)
	}

	if _, err := engine.sales.AddLine(ctx, AddOrderLineCommand{Actor: vendorKarim, OrderID: sale.ID, ProductID: "prod_tea", Quantity: 1}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition on add, got %v", err)
	}
	if _, err := engine.sales.UpdateLine(ctx, UpdateOrderLineCommand{Actor: vendorKarim, LineID: sale.Lines[0].ID, Quantity: 1}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition on update, got %v", err)
	}
	if _, err := engine.sales.DeleteLine(ctx, vendorKarim, sale.Lines[0].ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition on delete, got %v", err)
	}
	if got := engine.stock(t, "prod_tea"); got != 12 {
		t.Fatalf("edits on cancelled orders must not move stock, got %d", got)
	}
	if _, err := engine.sales.CancelSale(ctx, vendorKarim, sale.ID, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected second cancel to fail, got %v", err)
	}
}

func TestSaleServiceLineEditsRequireStaff(t *testing.T) {
	engine := newTestEngine(t, counterProducts()...)

	sale := newCounterSale(t, engine, SaleLineInput{ProductID: "prod_tea", Quantity: 1})
	if _, err := engine.sales.UpdateLine(context.Background(), UpdateOrderLineCommand{Actor: customerAmina, LineID: sale.Lines[0].ID, Quantity: 4}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := engine.sales.GetSale(context.Background(), customerAmina, sale.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestSaleServiceListSalesScopesVendors(t *testing.T) {
	engine := newTestEngine(t, counterProducts()...)
	ctx := context.Background()

	otherVendor := Actor{ID: "vnd_hafsa", Role: domain.RoleVendor}
	karimSale := newCounterSale(t, engine, SaleLineInput{ProductID: "prod_tea", Quantity: 1})
	if _, err := engine.sales.CreateSale(ctx, CreateSaleCommand{Actor: otherVendor, UserID: otherVendor.ID, Lines: []SaleLineInput{{ProductID: "prod_tea", Quantity: 1}}}); err != nil {
		t.Fatalf("create sale: %v", err)
	}
	engine.addToCart(t, customerAmina, "prod_tea", 1)
	if _, err := engine.orders.Checkout(ctx, CheckoutCommand{Actor: customerAmina}); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	mine, err := engine.sales.ListSales(ctx, vendorKarim, Pagination{})
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if len(mine.Items) != 1 || mine.Items[0].ID != karimSale.ID {
		t.Fatalf("expected only Karim's sale, got %#v", mine.Items)
	}

	all, err := engine.sales.ListSales(ctx, adminSara, Pagination{PageSize: 1})
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if len(all.Items) != 1 || all.NextPageToken == "" {
		t.Fatalf("expected first page with a token, got %#v", all)
	}
	rest, err := engine.sales.ListSales(ctx, adminSara, Pagination{PageSize: 1, PageToken: all.NextPageToken})
	if err != nil {
		t.Fatalf("list sales page 2: %v", err)
	}
	if len(rest.Items) != 1 || rest.NextPageToken != "" || rest.Items[0].ID != karimSale.ID {
		t.Fatalf("unexpected second page %#v", rest)
	}
}
