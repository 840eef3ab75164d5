package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	domain "github.com/salles-management/api/internal/domain"
	"github.com/salles-management/api/internal/platform/auth"
	"github.com/salles-management/api/internal/services"
)

// MeHandlers exposes the authenticated customer's own resources under /me.
type MeHandlers struct {
	authn   *auth.Authenticator
	loyalty services.LoyaltyService
}

// NewMeHandlers constructs handlers enforcing customer authentication before invoking the loyalty service.
func NewMeHandlers(authn *auth.Authenticator, loyalty services.LoyaltyService) *MeHandlers {
	return &MeHandlers{
		authn:   authn,
		loyalty: loyalty,
	}
}

// Routes wires the /me endpoints onto the provided router.
func (h *MeHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth(domain.RoleCustomer))
	}
	r.Get("/loyalty", h.getLoyalty)
}

type loyaltyPayload struct {
	CustomerID string `json:"customerId"`
	Points     int64  `json:"points"`
	UpdatedAt  string `json:"updatedAt,omitempty"`
}

func (h *MeHandlers) getLoyalty(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.loyalty == nil {
		serviceUnavailable(ctx, w, "loyalty")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	account, err := h.loyalty.GetBalance(ctx, actor)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, loyaltyPayload{
		CustomerID: account.CustomerID,
		Points:     account.Points,
		UpdatedAt:  formatTime(account.UpdatedAt),
	})
}
