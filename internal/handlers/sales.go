package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/salles-management/api/internal/domain"
	"github.com/salles-management/api/internal/platform/auth"
	"github.com/salles-management/api/internal/platform/httpx"
	"github.com/salles-management/api/internal/platform/textutil"
	"github.com/salles-management/api/internal/services"
)

const maxSaleLines = 100

// SaleHandlers exposes vendor-entered in-store sales and manual line editing.
type SaleHandlers struct {
	authn    *auth.Authenticator
	sales    services.SaleService
	settings handlerSettings
}

// NewSaleHandlers constructs the /sales handlers restricted to staff identities.
func NewSaleHandlers(authn *auth.Authenticator, sales services.SaleService, opts ...HandlerOption) *SaleHandlers {
	return &SaleHandlers{
		authn:    authn,
		sales:    sales,
		settings: newHandlerSettings(opts),
	}
}

// Routes wires the /sales endpoints onto the provided router.
func (h *SaleHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth(domain.RoleAdmin, domain.RoleVendor))
	}
	r.Method(http.MethodPost, "/", h.settings.wrapIdempotent(h.createSale))
	r.Get("/", h.listSales)
	r.Get("/{saleID}", h.getSale)
	r.Post("/{saleID}/cancel", h.cancelSale)
	r.Post("/{saleID}/lines", h.addLine)
	r.Put("/lines/{lineID}", h.updateLine)
	r.Delete("/lines/{lineID}", h.deleteLine)
}

type saleLineRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type createSaleRequest struct {
	UserID string            `json:"userId"`
	Lines  []saleLineRequest `json:"lines"`
	Notes  string            `json:"notes"`
}

type lineQuantityRequest struct {
	Quantity *int `json:"quantity"`
}

func (h *SaleHandlers) createSale(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sales == nil {
		serviceUnavailable(ctx, w, "sale")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req createSaleRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}
	if len(req.Lines) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "lines must contain at least one product", http.StatusBadRequest))
		return
	}
	if len(req.Lines) > maxSaleLines {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "too many lines in a single sale", http.StatusBadRequest))
		return
	}

	lines := make([]services.SaleLineInput, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, services.SaleLineInput{
			ProductID: strings.TrimSpace(line.ProductID),
			Quantity:  line.Quantity,
		})
	}

	sale, err := h.sales.CreateSale(ctx, services.CreateSaleCommand{
		Actor:  actor,
		UserID: strings.TrimSpace(req.UserID),
		Lines:  lines,
		Notes:  textutil.CleanText(req.Notes, textutil.MaxNoteLength),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/sales/"+sale.ID)
	writeJSONResponse(w, http.StatusCreated, map[string]any{"sale": buildOrderPayload(sale, h.settings.currency)})
}

func (h *SaleHandlers) listSales(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sales == nil {
		serviceUnavailable(ctx, w, "sale")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	pager, ok := parsePagination(w, r)
	if !ok {
		return
	}

	page, err := h.sales.ListSales(ctx, actor, pager)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	list := buildOrderListPayload(page, h.settings.currency)
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"sales":         list.Orders,
		"nextPageToken": list.NextPageToken,
	})
}

func (h *SaleHandlers) getSale(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sales == nil {
		serviceUnavailable(ctx, w, "sale")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	sale, err := h.sales.GetSale(ctx, actor, strings.TrimSpace(chi.URLParam(r, "saleID")))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	h.writeSale(w, http.StatusOK, sale)
}

func (h *SaleHandlers) cancelSale(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sales == nil {
		serviceUnavailable(ctx, w, "sale")
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

	sale, err := h.sales.CancelSale(ctx, actor, strings.TrimSpace(chi.URLParam(r, "saleID")), textutil.CleanText(req.Reason, textutil.MaxNoteLength))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	h.writeSale(w, http.StatusOK, sale)
}

func (h *SaleHandlers) addLine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sales == nil {
		serviceUnavailable(ctx, w, "sale")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req saleLineRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}

	sale, err := h.sales.AddLine(ctx, services.AddOrderLineCommand{
		Actor:     actor,
		OrderID:   strings.TrimSpace(chi.URLParam(r, "saleID")),
		ProductID: strings.TrimSpace(req.ProductID),
		Quantity:  req.Quantity,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	h.writeSale(w, http.StatusCreated, sale)
}

func (h *SaleHandlers) updateLine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sales == nil {
		serviceUnavailable(ctx, w, "sale")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req lineQuantityRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}
	if req.Quantity == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "quantity is required", http.StatusBadRequest))
		return
	}

	sale, err := h.sales.UpdateLine(ctx, services.UpdateOrderLineCommand{
		Actor:    actor,
		LineID:   strings.TrimSpace(chi.URLParam(r, "lineID")),
		Quantity: *req.Quantity,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	h.writeSale(w, http.StatusOK, sale)
}

func (h *SaleHandlers) deleteLine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sales == nil {
		serviceUnavailable(ctx, w, "sale")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	sale, err := h.sales.DeleteLine(ctx, actor, strings.TrimSpace(chi.URLParam(r, "lineID")))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	h.writeSale(w, http.StatusOK, sale)
}

func (h *SaleHandlers) writeSale(w http.ResponseWriter, status int, sale services.Order) {
	writeJSONResponse(w, status, map[string]any{"sale": buildOrderPayload(sale, h.settings.currency)})
}
