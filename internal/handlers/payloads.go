package handlers

import (
	"net/http"
	"strings"
	"time"

	domain "github.com/salles-management/api/internal/domain"
	"github.com/salles-management/api/internal/services"
)

// HandlerOption customises the settings shared by the resource handlers.
type HandlerOption func(*handlerSettings)

type handlerSettings struct {
	currency    string
	idempotency func(http.Handler) http.Handler
	limiter     rateLimiter
	clock       func() time.Time
}

func newHandlerSettings(opts []HandlerOption) handlerSettings {
	settings := handlerSettings{currency: "MAD", clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}
	return settings
}

// WithCurrency sets the ISO currency code reported next to amounts. Amounts are minor units.
func WithCurrency(code string) HandlerOption {
	return func(s *handlerSettings) {
		if code = strings.ToUpper(strings.TrimSpace(code)); code != "" {
			s.currency = code
		}
	}
}

// WithIdempotency wraps order and sale creation in the supplied middleware.
func WithIdempotency(mw func(http.Handler) http.Handler) HandlerOption {
	return func(s *handlerSettings) {
		s.idempotency = mw
	}
}

// WithPickupRateLimit caps public pickup lookups per client address.
func WithPickupRateLimit(limit int, window time.Duration) HandlerOption {
	return func(s *handlerSettings) {
		s.limiter = newWindowRateLimiter(limit, window, func() time.Time { return s.clock() })
	}
}

// WithClock overrides the time source used by rate limiting.
func WithClock(clock func() time.Time) HandlerOption {
	return func(s *handlerSettings) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func (s handlerSettings) wrapIdempotent(h http.HandlerFunc) http.Handler {
	if s.idempotency == nil {
		return h
	}
	return s.idempotency(h)
}

type orderLinePayload struct {
	ID           string `json:"id"`
	ProductID    string `json:"productId"`
	ProductTitle string `json:"productTitle,omitempty"`
	Quantity     int    `json:"quantity"`
	UnitPrice    int64  `json:"unitPrice"`
	LineTotal    int64  `json:"lineTotal"`
}

type orderPayload struct {
	ID                string             `json:"id"`
	SaleType          string             `json:"saleType"`
	Status            string             `json:"status"`
	CustomerID        string             `json:"customerId,omitempty"`
	ActorID           string             `json:"actorId,omitempty"`
	Lines             []orderLinePayload `json:"lines"`
	ItemCount         int                `json:"itemCount"`
	Total             int64              `json:"total"`
	Currency          string             `json:"currency"`
	LoyaltyPoints     int64              `json:"loyaltyPoints"`
	PickupCode        string             `json:"pickupCode,omitempty"`
	EstimatedPickupAt string             `json:"estimatedPickupAt,omitempty"`
	ActualPickupAt    string             `json:"actualPickupAt,omitempty"`
	Notes             string             `json:"notes,omitempty"`
	CancelReason      string             `json:"cancelReason,omitempty"`
	CreatedAt         string             `json:"createdAt"`
	UpdatedAt         string             `json:"updatedAt"`
	ConfirmedAt       string             `json:"confirmedAt,omitempty"`
	ReadyAt           string             `json:"readyAt,omitempty"`
	CompletedAt       string             `json:"completedAt,omitempty"`
	CanceledAt        string             `json:"canceledAt,omitempty"`
}

type orderListPayload struct {
	Orders        []orderPayload `json:"orders"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

func buildOrderPayload(order services.Order, currency string) orderPayload {
	payload := orderPayload{
		ID:                order.ID,
		SaleType:          string(order.SaleType),
		Status:            string(order.Status),
		CustomerID:        order.CustomerID,
		ActorID:           order.ActorID,
		Lines:             make([]orderLinePayload, 0, len(order.Lines)),
		ItemCount:         order.ItemCount(),
		Total:             order.Total,
		Currency:          currency,
		LoyaltyPoints:     order.LoyaltyPoints,
		PickupCode:        order.PickupCode,
		EstimatedPickupAt: formatTimePtr(order.EstimatedPickupAt),
		ActualPickupAt:    formatTimePtr(order.ActualPickupAt),
		Notes:             order.Notes,
		CreatedAt:         formatTime(order.CreatedAt),
		UpdatedAt:         formatTime(order.UpdatedAt),
		ConfirmedAt:       formatTimePtr(order.ConfirmedAt),
		ReadyAt:           formatTimePtr(order.ReadyAt),
		CompletedAt:       formatTimePtr(order.CompletedAt),
		CanceledAt:        formatTimePtr(order.CanceledAt),
	}
	if order.CancelReason != nil {
		payload.CancelReason = *order.CancelReason
	}
	for _, line := range order.Lines {
		payload.Lines = append(payload.Lines, orderLinePayload{
			ID:           line.ID,
			ProductID:    line.ProductID,
			ProductTitle: line.ProductTitle,
			Quantity:     line.Quantity,
			UnitPrice:    line.UnitPrice,
			LineTotal:    line.LineTotal,
		})
	}
	return payload
}

func buildOrderListPayload(page domain.CursorPage[services.Order], currency string) orderListPayload {
	payload := orderListPayload{
		Orders:        make([]orderPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, order := range page.Items {
		payload.Orders = append(payload.Orders, buildOrderPayload(order, currency))
	}
	return payload
}

type cartItemPayload struct {
	ID             string `json:"id"`
	ProductID      string `json:"productId"`
	ProductTitle   string `json:"productTitle,omitempty"`
	Quantity       int    `json:"quantity"`
	UnitPrice      int64  `json:"unitPrice"`
	LineTotal      int64  `json:"lineTotal"`
	AvailableStock int    `json:"availableStock"`
	InStock        bool   `json:"inStock"`
}

type cartPayload struct {
	ID          string            `json:"id,omitempty"`
	CustomerID  string            `json:"customerId"`
	Items       []cartItemPayload `json:"items"`
	TotalItems  int               `json:"totalItems"`
	TotalAmount int64             `json:"totalAmount"`
	Currency    string            `json:"currency"`
	UpdatedAt   string            `json:"updatedAt,omitempty"`
}

func buildCartPayload(view services.CartView, currency string) cartPayload {
	cart := view.Cart
	payload := cartPayload{
		ID:          cart.ID,
		CustomerID:  cart.CustomerID,
		Items:       make([]cartItemPayload, 0, len(cart.Items)),
		TotalItems:  cart.TotalItems(),
		TotalAmount: cart.TotalAmount(),
		Currency:    currency,
		UpdatedAt:   formatTime(cart.UpdatedAt),
	}
	for _, item := range cart.Items {
		available := view.Available[item.ProductID]
		payload.Items = append(payload.Items, cartItemPayload{
			ID:             item.ID,
			ProductID:      item.ProductID,
			ProductTitle:   item.ProductTitle,
			Quantity:       item.Quantity,
			UnitPrice:      item.UnitPrice,
			LineTotal:      item.LineTotal(),
			AvailableStock: available,
			InStock:        available >= item.Quantity,
		})
	}
	return payload
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
