package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/salles-management/api/internal/domain"
	"github.com/salles-management/api/internal/platform/pagination"
	"github.com/salles-management/api/internal/platform/textutil"
	"github.com/salles-management/api/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"
	orderEventLinesChanged  = "order.lines.changed"

	orderIDPrefix     = "ord_"
	orderLineIDPrefix = "oln_"

	// DefaultPickupWindow is the preparation time promised to click & collect customers.
	DefaultPickupWindow = 2 * time.Hour

	rejectNotePrefix    = "Rejected: "
	defaultRejectReason = "no reason given"
	historyPageSize     = 100
)

var pendingStatuses = []OrderStatus{
	domain.OrderStatusCreated,
	domain.OrderStatusConfirmed,
	domain.OrderStatusPendingPickup,
	domain.OrderStatusReadyPickup,
}

var tracer = otel.Tracer(instrumentationName)

// OrderServiceDeps bundles collaborators required to construct the order lifecycle controller.
type OrderServiceDeps struct {
	Orders             repositories.OrderRepository
	Carts              repositories.CartRepository
	Inventory          InventoryLedger
	Loyalty            LoyaltyLedger
	UnitOfWork         repositories.UnitOfWork
	Events             OrderEventPublisher
	PickupCodes        PickupCodeGenerator
	PickupCodeAttempts int
	PickupWindow       time.Duration
	Clock              func() time.Time
	IDGenerator        func() string
	Logger             func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders       repositories.OrderRepository
	carts        repositories.CartRepository
	inventory    InventoryLedger
	loyalty      LoyaltyLedger
	unitOfWork   repositories.UnitOfWork
	emitter      orderEmitter
	pickupCodes  PickupCodeGenerator
	codeAttempts int
	pickupWindow time.Duration
	clock        func() time.Time
	newID        func() string
	logger       func(context.Context, string, map[string]any)
	metrics      engineMetrics
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("order service: cart repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order service: inventory ledger is required")
	}
	if deps.Loyalty == nil {
		return nil, errors.New("order service: loyalty ledger is required")
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

	generator := deps.PickupCodes
	if generator == nil {
		generator = RandomPickupCode
	}
	attempts := deps.PickupCodeAttempts
	if attempts <= 0 {
		attempts = DefaultPickupCodeAttempts
	}
	window := deps.PickupWindow
	if window <= 0 {
		window = DefaultPickupWindow
	}

	return &orderService{
		orders:       deps.Orders,
		carts:        deps.Carts,
		inventory:    deps.Inventory,
		loyalty:      deps.Loyalty,
		unitOfWork:   unit,
		emitter:      orderEmitter{events: deps.Events, logger: logger},
		pickupCodes:  generator,
		codeAttempts: attempts,
		pickupWindow: window,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:   idGen,
		logger:  logger,
		metrics: newEngineMetrics(),
	}, nil
}

func (s *orderService) Checkout(ctx context.Context, cmd CheckoutCommand) (order Order, err error) {
	ctx, span := tracer.Start(ctx, "orders.Checkout")
	defer func() { endSpan(span, err) }()

	if err := requireCustomer(cmd.Actor); err != nil {
		return Order{}, err
	}
	notes := textutil.CleanText(cmd.Notes, 0)

	var changes []StockChange
	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		changes = changes[:0]

		cart, err := s.carts.FindByCustomer(txCtx, cmd.Actor.ID)
		if err != nil {
			if repositories.IsNotFound(err) {
				return fmt.Errorf("%w: cart is empty", ErrInvalidInput)
			}
			return mapRepositoryError(err)
		}
		if len(cart.Items) == 0 {
			return fmt.Errorf("%w: cart is empty", ErrInvalidInput)
		}

		code, err := s.nextPickupCode(txCtx)
		if err != nil {
			return err
		}

		now := s.clock()
		lines := make([]OrderLine, 0, len(cart.Items))
		for _, item := range cart.Items {
			lines = append(lines, domain.NewOrderLine(s.nextLineID(), item.ProductID, item.ProductTitle, item.Quantity, item.UnitPrice))
		}
		reserved, err := reserveAll(txCtx, s.inventory, lines)
		if err != nil {
			return err
		}
		changes = reserved

		eta := now.Add(s.pickupWindow)
		created := Order{
			ID:                s.nextOrderID(),
			SaleType:          domain.SaleTypeOnline,
			Status:            domain.OrderStatusPendingPickup,
			CustomerID:        cmd.Actor.ID,
			Lines:             lines,
			PickupCode:        code,
			EstimatedPickupAt: &eta,
			Notes:             notes,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		created.RecomputeTotal()
		created.LoyaltyPoints = domain.LoyaltyPointsFor(created.Total)

		if err := s.orders.Insert(txCtx, created); err != nil {
			return mapRepositoryError(err)
		}
		if created.LoyaltyPoints > 0 {
			if _, err := s.loyalty.Credit(txCtx, created.CustomerID, created.LoyaltyPoints); err != nil {
				return err
			}
		}

		cart.Items = nil
		cart.UpdatedAt = now
		if err := s.carts.Save(txCtx, cart); err != nil {
			return mapRepositoryError(err)
		}

		order = created
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	span.SetAttributes(attribute.String("order.id", order.ID))
	s.metrics.orderCreated(ctx, order.SaleType)
	s.inventory.NotifyLowStock(ctx, changes)
	s.emitter.publish(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		SaleType:      string(order.SaleType),
		CurrentStatus: string(order.Status),
		ActorID:       cmd.Actor.ID,
		CustomerID:    order.CustomerID,
		Total:         order.Total,
		LoyaltyPoints: order.LoyaltyPoints,
		OccurredAt:    order.CreatedAt,
		Metadata:      map[string]any{"pickupCode": order.PickupCode},
	})
	s.logger(ctx, "order.checkout", map[string]any{
		"orderId":    order.ID,
		"customerId": order.CustomerID,
		"total":      order.Total,
		"lines":      len(order.Lines),
	})
	return order, nil
}

func (s *orderService) Transition(ctx context.Context, cmd OrderTransitionCommand) (order Order, err error) {
	ctx, span := tracer.Start(ctx, "orders.Transition", trace.WithAttributes(
		attribute.String("order.id", cmd.OrderID),
		attribute.String("order.event", string(cmd.Event)),
	))
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(cmd.Actor.ID) == "" {
		return Order{}, fmt.Errorf("%w: authenticated actor is required", ErrInvalidInput)
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}
	reason := textutil.CleanText(cmd.Reason, 0)

	var (
		previous OrderStatus
		changes  []StockChange
	)
	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		changes = changes[:0]

		loaded, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return mapRepositoryError(err)
		}
		outcome, err := resolveTransition(loaded, cmd.Event, cmd.Actor)
		if err != nil {
			return err
		}

		previous = loaded.Status
		if outcome.effects.has(effectCompensate) {
			released, err := s.compensate(txCtx, loaded)
			if err != nil {
				return err
			}
			changes = append(changes, released...)
		}

		s.applyOutcome(&loaded, outcome, cmd.Actor, reason)
		if err := s.orders.Update(txCtx, loaded); err != nil {
			return mapRepositoryError(err)
		}
		order = loaded
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.metrics.transitioned(ctx, cmd.Event, order.Status)
	s.inventory.NotifyLowStock(ctx, changes)
	s.emitter.publish(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		SaleType:       string(order.SaleType),
		PreviousStatus: string(previous),
		CurrentStatus:  string(order.Status),
		ActorID:        cmd.Actor.ID,
		CustomerID:     order.CustomerID,
		Total:          order.Total,
		LoyaltyPoints:  order.LoyaltyPoints,
		OccurredAt:     order.UpdatedAt,
		Metadata:       map[string]any{"event": string(cmd.Event)},
	})
	s.logger(ctx, "order.transition", map[string]any{
		"orderId": order.ID,
		"event":   string(cmd.Event),
		"from":    string(previous),
		"to":      string(order.Status),
		"actorId": cmd.Actor.ID,
	})
	return order, nil
}

// compensate releases the stock of every current line and debits the points credited at checkout.
func (s *orderService) compensate(ctx context.Context, order Order) ([]StockChange, error) {
	changes, err := releaseAll(ctx, s.inventory, order.Lines)
	if err != nil {
		return nil, err
	}
	if order.CustomerID != "" && order.LoyaltyPoints > 0 {
		if _, err := s.loyalty.Debit(ctx, order.CustomerID, order.LoyaltyPoints); err != nil {
			return nil, err
		}
	}
	return changes, nil
}

func (s *orderService) applyOutcome(order *Order, outcome transitionOutcome, actor Actor, reason string) {
	now := s.clock()
	order.Status = outcome.to
	order.UpdatedAt = now

	if outcome.effects.has(effectAssignActor) {
		order.ActorID = actor.ID
	}
	if outcome.effects.has(effectRejectNote) && reason == "" {
		reason = defaultRejectReason
	}
	if outcome.effects.has(effectRejectNote) {
		order.Notes = textutil.AppendNote(order.Notes, rejectNotePrefix+reason)
	}
	if outcome.effects.has(effectCancelReason) && reason != "" {
		order.CancelReason = &reason
	}
	if outcome.effects.has(effectRecordPickup) {
		order.ActualPickupAt = &now
	}

	switch outcome.to {
	case domain.OrderStatusConfirmed:
		order.ConfirmedAt = &now
	case domain.OrderStatusReadyPickup:
		order.ReadyAt = &now
	case domain.OrderStatusCompleted:
		order.CompletedAt = &now
	case domain.OrderStatusCancelled:
		order.CanceledAt = &now
	}
}

func (s *orderService) GetOrder(ctx context.Context, actor Actor, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	if actor.IsStaff() {
		return order, nil
	}
	if actor.IsCustomer() && order.CustomerID == actor.ID {
		return order, nil
	}
	return Order{}, fmt.Errorf("%w: order does not belong to the caller", ErrForbidden)
}

func (s *orderService) FindByPickupCode(ctx context.Context, code string) (Order, error) {
	code = textutil.NormalizeCode(code)
	if !ValidPickupCode(code) {
		return Order{}, fmt.Errorf("%w: pickup code must be 8 alphanumeric characters", ErrInvalidInput)
	}
	order, err := s.orders.FindByPickupCode(ctx, code)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) History(ctx context.Context, actor Actor) (OrderHistory, error) {
	if err := requireCustomer(actor); err != nil {
		return OrderHistory{}, err
	}

	history := OrderHistory{CustomerID: actor.ID}
	filter := repositories.OrderListFilter{
		CustomerID: actor.ID,
		Pagination: Pagination{PageSize: historyPageSize},
	}
	for {
		page, err := s.orders.List(ctx, filter)
		if err != nil {
			return OrderHistory{}, mapRepositoryError(err)
		}
		for _, order := range page.Items {
			history.Orders = append(history.Orders, order)
			if order.Status != domain.OrderStatusCancelled {
				history.TotalSpent += order.Total
			}
		}
		if page.NextPageToken == "" {
			break
		}
		filter.Pagination.PageToken = page.NextPageToken
	}
	history.TotalOrders = len(history.Orders)

	account, err := s.loyalty.Balance(ctx, actor.ID)
	if err != nil {
		return OrderHistory{}, err
	}
	history.LoyaltyPoints = account.Points
	return history, nil
}

func (s *orderService) ListPending(ctx context.Context, actor Actor, pager Pagination) (domain.CursorPage[Order], error) {
	if err := requireStaff(actor); err != nil {
		return domain.CursorPage[Order]{}, err
	}
	return s.list(ctx, repositories.OrderListFilter{
		SaleType:   domain.SaleTypeOnline,
		Statuses:   pendingStatuses,
		Pagination: pager,
	})
}

func (s *orderService) ListAll(ctx context.Context, actor Actor, pager Pagination) (domain.CursorPage[Order], error) {
	if err := requireStaff(actor); err != nil {
		return domain.CursorPage[Order]{}, err
	}
	return s.list(ctx, repositories.OrderListFilter{
		SaleType:   domain.SaleTypeOnline,
		Pagination: pager,
	})
}

func (s *orderService) list(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, mapListError(err)
	}
	return page, nil
}

// nextPickupCode draws candidates until one is unused. The unique index in each backend remains the
// final arbiter when two checkouts draw the same code concurrently.
func (s *orderService) nextPickupCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < s.codeAttempts; attempt++ {
		code, err := s.pickupCodes()
		if err != nil {
			return "", err
		}
		_, err = s.orders.FindByPickupCode(ctx, code)
		if err == nil {
			continue
		}
		if repositories.IsNotFound(err) {
			return code, nil
		}
		return "", mapRepositoryError(err)
	}
	return "", fmt.Errorf("%w: could not allocate a unique pickup code", ErrConflict)
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

func (s *orderService) nextLineID() string {
	return orderLineIDPrefix + s.newID()
}

// orderEmitter publishes order events after commit. Failures are logged, never returned.
type orderEmitter struct {
	events OrderEventPublisher
	logger func(context.Context, string, map[string]any)
}

func (e orderEmitter) publish(ctx context.Context, event OrderEvent) {
	if e.events == nil {
		return
	}
	if err := e.events.PublishOrderEvent(ctx, event); err != nil {
		e.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

func mapListError(err error) error {
	if errors.Is(err, pagination.ErrInvalidPageToken) {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return mapRepositoryError(err)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
