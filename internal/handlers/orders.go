package handlers

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/salles-management/api/internal/domain"
	"github.com/salles-management/api/internal/platform/auth"
	"github.com/salles-management/api/internal/platform/httpx"
	"github.com/salles-management/api/internal/platform/textutil"
	"github.com/salles-management/api/internal/services"
)

// OrderHandlers exposes checkout, the lifecycle transitions and order queries.
type OrderHandlers struct {
	authn    *auth.Authenticator
	orders   services.OrderService
	settings handlerSettings
}

// NewOrderHandlers constructs the /orders handlers.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...HandlerOption) *OrderHandlers {
	return &OrderHandlers{
		authn:    authn,
		orders:   orders,
		settings: newHandlerSettings(opts),
	}
}

// Routes wires the /orders endpoints. Pickup verification is public; everything else requires a token.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/pickup/{code}", h.lookupPickupCode)

	r.Group(func(r chi.Router) {
		if h.authn != nil {
			r.Use(h.authn.RequireAuth(domain.RoleCustomer))
		}
		r.Method(http.MethodPost, "/", h.settings.wrapIdempotent(h.checkout))
		r.Get("/", h.history)
		r.Post("/{orderID}/cancel", h.cancelOrder)
	})

	r.Group(func(r chi.Router) {
		if h.authn != nil {
			r.Use(h.authn.RequireAuth(domain.RoleAdmin, domain.RoleVendor))
		}
		r.Get("/pending", h.listPending)
		r.Get("/all", h.listAll)
		r.Post("/{orderID}/{event}", h.transition)
	})

	r.Group(func(r chi.Router) {
		if h.authn != nil {
			r.Use(h.authn.RequireAuth())
		}
		r.Get("/{orderID}", h.getOrder)
	})
}

type checkoutRequest struct {
	Notes string `json:"notes"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type orderHistoryPayload struct {
	CustomerID    string         `json:"customerId"`
	Orders        []orderPayload `json:"orders"`
	TotalOrders   int            `json:"totalOrders"`
	TotalSpent    int64          `json:"totalSpent"`
	LoyaltyPoints int64          `json:"loyaltyPoints"`
	Currency      string         `json:"currency"`
}

type pickupPayload struct {
	OrderID           string             `json:"orderId"`
	Status            string             `json:"status"`
	PickupCode        string             `json:"pickupCode"`
	EstimatedPickupAt string             `json:"estimatedPickupAt,omitempty"`
	ItemCount         int                `json:"itemCount"`
	Total             int64              `json:"total"`
	Currency          string             `json:"currency"`
	Lines             []orderLinePayload `json:"lines"`
}

func (h *OrderHandlers) checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req checkoutRequest
	if !decodeJSONBody(w, r, &req, true) {
		return
	}

	order, err := h.orders.Checkout(ctx, services.CheckoutCommand{
		Actor: actor,
		Notes: textutil.CleanText(req.Notes, textutil.MaxNoteLength),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/orders/"+order.ID)
	writeJSONResponse(w, http.StatusCreated, map[string]any{"order": buildOrderPayload(order, h.settings.currency)})
}

func (h *OrderHandlers) history(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	history, err := h.orders.History(ctx, actor)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	payload := orderHistoryPayload{
		CustomerID:    history.CustomerID,
		Orders:        make([]orderPayload, 0, len(history.Orders)),
		TotalOrders:   history.TotalOrders,
		TotalSpent:    history.TotalSpent,
		LoyaltyPoints: history.LoyaltyPoints,
		Currency:      h.settings.currency,
	}
	for _, order := range history.Orders {
		payload.Orders = append(payload.Orders, buildOrderPayload(order, h.settings.currency))
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, actor, strings.TrimSpace(chi.URLParam(r, "orderID")))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"order": buildOrderPayload(order, h.settings.currency)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	h.applyEvent(w, r, services.EventCancel)
}

func (h *OrderHandlers) transition(w http.ResponseWriter, r *http.Request) {
	event, ok := services.ParseLifecycleEvent(chi.URLParam(r, "event"))
	if !ok || event == services.EventCancel {
		httpx.WriteError(r.Context(), w, httpx.NewError("route_not_found", "route not found", http.StatusNotFound))
		return
	}
	h.applyEvent(w, r, event)
}

func (h *OrderHandlers) applyEvent(w http.ResponseWriter, r *http.Request, event services.LifecycleEvent) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req reasonRequest
	if !decodeJSONBody(w, r, &req, true) {
		return
	}

	order, err := h.orders.Transition(ctx, services.OrderTransitionCommand{
		Actor:   actor,
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderID")),
		Event:   event,
		Reason:  textutil.CleanText(req.Reason, textutil.MaxNoteLength),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"order": buildOrderPayload(order, h.settings.currency)})
}

func (h *OrderHandlers) listPending(w http.ResponseWriter, r *http.Request) {
	if h.orders == nil {
		serviceUnavailable(r.Context(), w, "order")
		return
	}
	h.list(w, r, h.orders.ListPending)
}

func (h *OrderHandlers) listAll(w http.ResponseWriter, r *http.Request) {
	if h.orders == nil {
		serviceUnavailable(r.Context(), w, "order")
		return
	}
	h.list(w, r, h.orders.ListAll)
}

type orderLister func(ctx context.Context, actor domain.Actor, pager domain.Pagination) (domain.CursorPage[services.Order], error)

func (h *OrderHandlers) list(w http.ResponseWriter, r *http.Request, fetch orderLister) {
	ctx := r.Context()
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	pager, ok := parsePagination(w, r)
	if !ok {
		return
	}

	page, err := fetch(ctx, actor, pager)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderListPayload(page, h.settings.currency))
}

func (h *OrderHandlers) lookupPickupCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	if h.settings.limiter != nil {
		if wait, ok := h.settings.limiter.Allow(clientAddress(r)); !ok {
			httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many pickup lookups; retry later", http.StatusTooManyRequests).
				WithRetryAfter(wait))
			return
		}
	}

	code := textutil.NormalizeCode(chi.URLParam(r, "code"))
	if !services.ValidPickupCode(code) {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "pickup code must be 8 alphanumeric characters", http.StatusBadRequest))
		return
	}

	order, err := h.orders.FindByPickupCode(ctx, code)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	full := buildOrderPayload(order, h.settings.currency)
	writeJSONResponse(w, http.StatusOK, pickupPayload{
		OrderID:           full.ID,
		Status:            full.Status,
		PickupCode:        full.PickupCode,
		EstimatedPickupAt: full.EstimatedPickupAt,
		ItemCount:         full.ItemCount,
		Total:             full.Total,
		Currency:          full.Currency,
		Lines:             full.Lines,
	})
}

func clientAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
