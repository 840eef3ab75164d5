package domain

import (
	"strings"
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Role identifies the authorisation class of an actor.
type Role string

const (
	// RoleAdmin manages every order and sale.
	RoleAdmin Role = "ADMIN"
	// RoleVendor works the counter: manual sales and click & collect preparation.
	RoleVendor Role = "VENDEUR"
	// RoleCustomer shops online and owns a cart.
	RoleCustomer Role = "ACHETEUR"
)

// ParseRole normalises the textual role representation used in tokens and payloads.
func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToUpper(strings.TrimSpace(raw))) {
	case RoleAdmin:
		return RoleAdmin, true
	case RoleVendor, "VENDOR":
		return RoleVendor, true
	case RoleCustomer, "CUSTOMER", "BUYER":
		return RoleCustomer, true
	default:
		return "", false
	}
}

// Actor is the authenticated principal performing an operation.
type Actor struct {
	ID   string
	Role Role
}

// IsStaff reports whether the actor may run vendor operations.
func (a Actor) IsStaff() bool {
	return a.Role == RoleAdmin || a.Role == RoleVendor
}

// IsCustomer reports whether the actor is a shopper.
func (a Actor) IsCustomer() bool {
	return a.Role == RoleCustomer
}

// Product is the catalog view the engine needs: price and stock only.
type Product struct {
	ID        string
	Title     string
	Price     int64
	Stock     int
	UpdatedAt time.Time
}

// Cart holds pending items for exactly one customer.
type Cart struct {
	ID         string
	CustomerID string
	Items      []CartItem
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CartItem captures the unit price when the item was added.
type CartItem struct {
	ID           string
	ProductID    string
	ProductTitle string
	Quantity     int
	UnitPrice    int64
	AddedAt      time.Time
	UpdatedAt    time.Time
}

// LineTotal returns the snapshot price multiplied by quantity.
func (i CartItem) LineTotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

// TotalAmount sums the line totals of every item.
func (c Cart) TotalAmount() int64 {
	var total int64
	for _, item := range c.Items {
		total += item.LineTotal()
	}
	return total
}

// TotalItems sums item quantities.
func (c Cart) TotalItems() int {
	count := 0
	for _, item := range c.Items {
		count += item.Quantity
	}
	return count
}

// OrderStatus enumerates lifecycle states.
type OrderStatus string

const (
	OrderStatusCreated       OrderStatus = "CREATED"
	OrderStatusConfirmed     OrderStatus = "CONFIRMED"
	OrderStatusPendingPickup OrderStatus = "PENDING_PICKUP"
	OrderStatusReadyPickup   OrderStatus = "READY_PICKUP"
	OrderStatusCompleted     OrderStatus = "COMPLETED"
	OrderStatusCancelled     OrderStatus = "CANCELLED"
)

// ParseOrderStatus validates a textual status.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	status := OrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
	switch status {
	case OrderStatusCreated, OrderStatusConfirmed, OrderStatusPendingPickup,
		OrderStatusReadyPickup, OrderStatusCompleted, OrderStatusCancelled:
		return status, true
	default:
		return "", false
	}
}

// IsTerminal reports whether no further transition may leave the status.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// SaleType distinguishes counter sales from click & collect orders.
type SaleType string

const (
	SaleTypeInStore SaleType = "IN_STORE"
	SaleTypeOnline  SaleType = "ONLINE"
)

// Order is the aggregate for one sale. Lines are owned by value.
type Order struct {
	ID                string
	SaleType          SaleType
	Status            OrderStatus
	CustomerID        string
	ActorID           string
	Lines             []OrderLine
	Total             int64
	LoyaltyPoints     int64
	PickupCode        string
	EstimatedPickupAt *time.Time
	ActualPickupAt    *time.Time
	Notes             string
	CancelReason      *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	ConfirmedAt       *time.Time
	ReadyAt           *time.Time
	CompletedAt       *time.Time
	CanceledAt        *time.Time
}

// OrderLine is one product/quantity/price entry within an order.
type OrderLine struct {
	ID           string
	ProductID    string
	ProductTitle string
	Quantity     int
	UnitPrice    int64
	LineTotal    int64
}

// NewOrderLine builds a line whose total is derived from price and quantity.
func NewOrderLine(id, productID, title string, quantity int, unitPrice int64) OrderLine {
	return OrderLine{
		ID:           id,
		ProductID:    productID,
		ProductTitle: title,
		Quantity:     quantity,
		UnitPrice:    unitPrice,
		LineTotal:    unitPrice * int64(quantity),
	}
}

// RecomputeTotal re-derives the order total from its lines.
func (o *Order) RecomputeTotal() {
	var total int64
	for i := range o.Lines {
		o.Lines[i].LineTotal = o.Lines[i].UnitPrice * int64(o.Lines[i].Quantity)
		total += o.Lines[i].LineTotal
	}
	o.Total = total
}

// LineIndex returns the position of the line or -1.
func (o Order) LineIndex(lineID string) int {
	for i, line := range o.Lines {
		if line.ID == lineID {
			return i
		}
	}
	return -1
}

// ItemCount sums line quantities.
func (o Order) ItemCount() int {
	count := 0
	for _, line := range o.Lines {
		count += line.Quantity
	}
	return count
}

// LoyaltyAccount is the customer's point balance.
type LoyaltyAccount struct {
	CustomerID string
	Points     int64
	UpdatedAt  time.Time
}

// LoyaltyPointsFor converts an order total in minor units to whole-unit points.
func LoyaltyPointsFor(total int64) int64 {
	if total <= 0 {
		return 0
	}
	return total / 100
}

// OrderHistory summarises a customer's past orders.
type OrderHistory struct {
	CustomerID    string
	Orders        []Order
	TotalOrders   int
	TotalSpent    int64
	LoyaltyPoints int64
}
