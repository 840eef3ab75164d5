package handlers

import (
	"context"
	"net/http"
	"testing"

	domain "github.com/salles-management/api/internal/domain"
	"github.com/salles-management/api/internal/services"
)

type stubSaleService struct {
	createFn     func(context.Context, services.CreateSaleCommand) (services.Order, error)
	getFn        func(context.Context, services.Actor, string) (services.Order, error)
	listFn       func(context.Context, services.Actor, services.Pagination) (domain.CursorPage[services.Order], error)
	cancelFn     func(context.Context, services.Actor, string, string) (services.Order, error)
	addLineFn    func(context.Context, services.AddOrderLineCommand) (services.Order, error)
	updateLineFn func(context.Context, services.UpdateOrderLineCommand) (services.Order, error)
	deleteLineFn func(context.Context, services.Actor, string) (services.Order, error)
}

func (s *stubSaleService) CreateSale(ctx context.Context, cmd services.CreateSaleCommand) (services.Order, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Order{}, nil
}

func (s *stubSaleService) GetSale(ctx context.Context, actor services.Actor, saleID string) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, actor, saleID)
	}
	return services.Order{}, nil
}

func (s *stubSaleService) ListSales(ctx context.Context, actor services.Actor, pager services.Pagination) (domain.CursorPage[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, actor, pager)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubSaleService) CancelSale(ctx context.Context, actor services.Actor, saleID string, reason string) (services.Order, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, actor, saleID, reason)
	}
	return services.Order{}, nil
}

func (s *stubSaleService) AddLine(ctx context.Context, cmd services.AddOrderLineCommand) (services.Order, error) {
	if s.addLineFn != nil {
		return s.addLineFn(ctx, cmd)
	}
	return services.Order{}, nil
}

func (s *stubSaleService) UpdateLine(ctx context.Context, cmd services.UpdateOrderLineCommand) (services.Order, error) {
	if s.updateLineFn != nil {
		return s.updateLineFn(ctx, cmd)
	}
	return services.Order{}, nil
}

func (s *stubSaleService) DeleteLine(ctx context.Context, actor services.Actor, lineID string) (services.Order, error) {
	if s.deleteLineFn != nil {
		return s.deleteLineFn(ctx, actor, lineID)
	}
	return services.Order{}, nil
}

func newSaleRouter(svc services.SaleService) http.Handler {
	return NewRouter(WithSaleRoutes(NewSaleHandlers(newTestAuthenticator(), svc).Routes))
}

func sampleSale() services.Order {
	sale := sampleOrder(domain.OrderStatusCompleted)
	sale.ID = "sale_1"
	sale.SaleType = domain.SaleTypeInStore
	sale.ActorID = "vnd_1"
	sale.PickupCode = ""
	sale.EstimatedPickupAt = nil
	return sale
}

func TestSaleHandlers_CreateSale(t *testing.T) {
	var got services.CreateSaleCommand
	svc := &stubSaleService{
		createFn: func(_ context.Context, cmd services.CreateSaleCommand) (services.Order, error) {
			got = cmd
			return sampleSale(), nil
		},
	}

	body := `{"userId":"vnd_1","lines":[{"productId":"prd_tea","quantity":2},{"productId":" prd_cup ","quantity":1}],"notes":"counter"}`
	rr := doRequest(t, newSaleRouter(svc), http.MethodPost, "/api/v1/sales", vendorToken, body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.Actor.ID != "vnd_1" || got.UserID != "vnd_1" || got.Notes != "counter" {
		t.Fatalf("unexpected command %+v", got)
	}
	if len(got.Lines) != 2 || got.Lines[1].ProductID != "prd_cup" || got.Lines[0].Quantity != 2 {
		t.Fatalf("unexpected lines %+v", got.Lines)
	}
	sale := decodeBody(t, rr)["sale"].(map[string]any)
	if sale["saleType"] != "IN_STORE" || sale["status"] != "COMPLETED" {
		t.Fatalf("unexpected sale payload %v", sale)
	}
}

func TestSaleHandlers_CreateSaleValidation(t *testing.T) {
	called := false
	svc := &stubSaleService{
		createFn: func(context.Context, services.CreateSaleCommand) (services.Order, error) {
			called = true
			return sampleSale(), nil
		},
	}

	rr := doRequest(t, newSaleRouter(svc), http.MethodPost, "/api/v1/sales", vendorToken, `{"userId":"vnd_1","lines":[]}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if called {
		t.Fatalf("service must not be called for empty sales")
	}
}

func TestSaleHandlers_ForbiddenForCustomers(t *testing.T) {
	rr := doRequest(t, newSaleRouter(&stubSaleService{}), http.MethodGet, "/api/v1/sales", customerToken, "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestSaleHandlers_ServiceForbidden(t *testing.T) {
	svc := &stubSaleService{
		createFn: func(context.Context, services.CreateSaleCommand) (services.Order, error) {
			return services.Order{}, services.ErrForbidden
		},
	}

	rr := doRequest(t, newSaleRouter(svc), http.MethodPost, "/api/v1/sales", vendorToken, `{"userId":"someone_else","lines":[{"productId":"prd_tea","quantity":1}]}`)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestSaleHandlers_ListAndGet(t *testing.T) {
	svc := &stubSaleService{
		listFn: func(context.Context, services.Actor, services.Pagination) (domain.CursorPage[services.Order], error) {
			return domain.CursorPage[services.Order]{Items: []services.Order{sampleSale()}}, nil
		},
		getFn: func(_ context.Context, _ services.Actor, saleID string) (services.Order, error) {
			if saleID != "sale_1" {
				return services.Order{}, services.ErrNotFound
			}
			return sampleSale(), nil
		},
	}
	router := newSaleRouter(svc)

	rr := doRequest(t, router, http.MethodGet, "/api/v1/sales", adminToken, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if sales := decodeBody(t, rr)["sales"].([]any); len(sales) != 1 {
		t.Fatalf("expected one sale, got %d", len(sales))
	}

	rr = doRequest(t, router, http.MethodGet, "/api/v1/sales/sale_1", vendorToken, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	rr = doRequest(t, router, http.MethodGet, "/api/v1/sales/sale_x", vendorToken, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestSaleHandlers_CancelSale(t *testing.T) {
	var gotID, gotReason string
	svc := &stubSaleService{
		cancelFn: func(_ context.Context, _ services.Actor, saleID, reason string) (services.Order, error) {
			gotID, gotReason = saleID, reason
			sale := sampleSale()
			sale.Status = domain.OrderStatusCancelled
			return sale, nil
		},
	}

	rr := doRequest(t, newSaleRouter(svc), http.MethodPost, "/api/v1/sales/sale_1/cancel", vendorToken, `{"reason":"wrong item"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if gotID != "sale_1" || gotReason != "wrong item" {
		t.Fatalf("unexpected cancel args %q %q", gotID, gotReason)
	}
}

func TestSaleHandlers_LineEditing(t *testing.T) {
	var added services.AddOrderLineCommand
	var updated services.UpdateOrderLineCommand
	var deleted string
	svc := &stubSaleService{
		addLineFn: func(_ context.Context, cmd services.AddOrderLineCommand) (services.Order, error) {
			added = cmd
			return sampleSale(), nil
		},
		updateLineFn: func(_ context.Context, cmd services.UpdateOrderLineCommand) (services.Order, error) {
			updated = cmd
			return sampleSale(), nil
		},
		deleteLineFn: func(_ context.Context, _ services.Actor, lineID string) (services.Order, error) {
			deleted = lineID
			return sampleSale(), nil
		},
	}
	router := newSaleRouter(svc)

	rr := doRequest(t, router, http.MethodPost, "/api/v1/sales/sale_1/lines", vendorToken, `{"productId":"prd_cup","quantity":3}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	if added.OrderID != "sale_1" || added.ProductID != "prd_cup" || added.Quantity != 3 {
		t.Fatalf("unexpected add command %+v", added)
	}

	rr = doRequest(t, router, http.MethodPut, "/api/v1/sales/lines/line_1", vendorToken, `{"quantity":0}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if updated.LineID != "line_1" || updated.Quantity != 0 {
		t.Fatalf("unexpected update command %+v", updated)
	}

	rr = doRequest(t, router, http.MethodDelete, "/api/v1/sales/lines/line_1", vendorToken, "")
	if rr.Code != http.StatusOK || deleted != "line_1" {
		t.Fatalf("expected delete of line_1, got %d %q", rr.Code, deleted)
	}
}

func TestSaleHandlers_LineEditingInsufficientStock(t *testing.T) {
	svc := &stubSaleService{
		updateLineFn: func(context.Context, services.UpdateOrderLineCommand) (services.Order, error) {
			return services.Order{}, &services.InsufficientStockError{ProductID: "prd_tea", Requested: 9, Available: 2}
		},
	}

	rr := doRequest(t, newSaleRouter(svc), http.MethodPut, "/api/v1/sales/lines/line_1", vendorToken, `{"quantity":11}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["product_id"] != "prd_tea" || body["requested"].(float64) != 9 {
		t.Fatalf("unexpected details %v", body)
	}
}

var _ services.SaleService = (*stubSaleService)(nil)
