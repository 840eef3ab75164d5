package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/salles-management/api/internal/domain"
	"github.com/salles-management/api/internal/platform/auth"
	"github.com/salles-management/api/internal/platform/httpx"
	"github.com/salles-management/api/internal/services"
)

// CartHandlers exposes the authenticated customer's cart.
type CartHandlers struct {
	authn    *auth.Authenticator
	carts    services.CartService
	settings handlerSettings
}

// NewCartHandlers constructs handlers enforcing customer authentication before invoking the cart service.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService, opts ...HandlerOption) *CartHandlers {
	return &CartHandlers{
		authn:    authn,
		carts:    carts,
		settings: newHandlerSettings(opts),
	}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth(domain.RoleCustomer))
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Get("/count", h.countItems)
	r.Post("/items", h.addItem)
	r.Put("/items/{itemID}", h.updateItem)
	r.Delete("/items/{itemID}", h.removeItem)
}

type cartItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  *int   `json:"quantity"`
}

type cartQuantityRequest struct {
	Quantity *int `json:"quantity"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	view, err := h.carts.GetCart(ctx, actor)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	h.writeCart(w, http.StatusOK, view)
}

func (h *CartHandlers) countItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	count, err := h.carts.Count(ctx, actor)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]int{"count": count})
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req cartItemRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}
	productID := strings.TrimSpace(req.ProductID)
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "productId is required", http.StatusBadRequest))
		return
	}
	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	view, err := h.carts.AddItem(ctx, services.AddCartItemCommand{
		Actor:     actor,
		ProductID: productID,
		Quantity:  quantity,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	h.writeCart(w, http.StatusOK, view)
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req cartQuantityRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}
	if req.Quantity == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "quantity is required", http.StatusBadRequest))
		return
	}

	view, err := h.carts.UpdateItem(ctx, services.UpdateCartItemCommand{
		Actor:    actor,
		ItemID:   strings.TrimSpace(chi.URLParam(r, "itemID")),
		Quantity: *req.Quantity,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	h.writeCart(w, http.StatusOK, view)
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	view, err := h.carts.RemoveItem(ctx, actor, strings.TrimSpace(chi.URLParam(r, "itemID")))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	h.writeCart(w, http.StatusOK, view)
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	if err := h.carts.Clear(ctx, actor); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandlers) writeCart(w http.ResponseWriter, status int, view services.CartView) {
	w.Header().Set("Cache-Control", "no-store, no-cache, max-age=0, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	writeJSONResponse(w, status, map[string]any{"cart": buildCartPayload(view, h.settings.currency)})
}
