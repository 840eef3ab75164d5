package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"

	domain "github.com/salles-management/api/internal/domain"
	"github.com/salles-management/api/internal/platform/textutil"
	"github.com/salles-management/api/internal/repositories"
)

// SaleServiceDeps bundles collaborators required for in-store sales and line editing.
type SaleServiceDeps struct {
	Orders      repositories.OrderRepository
	Products    repositories.ProductRepository
	Inventory   InventoryLedger
	Lifecycle   OrderService
	UnitOfWork  repositories.UnitOfWork
	Events      OrderEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type saleService struct {
	orders     repositories.OrderRepository
	products   repositories.ProductRepository
	inventory  InventoryLedger
	lifecycle  OrderService
	unitOfWork repositories.UnitOfWork
	emitter    orderEmitter
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
	metrics    engineMetrics
}

// NewSaleService wires dependencies into a concrete SaleService implementation.
func NewSaleService(deps SaleServiceDeps) (SaleService, error) {
	if deps.Orders == nil {
		return nil, errors.New("sale service: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("sale service: product repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("sale service: inventory ledger is required")
	}
	if deps.Lifecycle == nil {
		return nil, errors.New("sale service: order lifecycle is required")
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

	return &saleService{
		orders:     deps.Orders,
		products:   deps.Products,
		inventory:  deps.Inventory,
		lifecycle:  deps.Lifecycle,
		unitOfWork: unit,
		emitter:    orderEmitter{events: deps.Events, logger: logger},
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:   idGen,
		logger:  logger,
		metrics: newEngineMetrics(),
	}, nil
}

func (s *saleService) CreateSale(ctx context.Context, cmd CreateSaleCommand) (sale Order, err error) {
	ctx, span := tracer.Start(ctx, "sales.CreateSale")
	defer func() { endSpan(span, err) }()

	if err := requireStaff(cmd.Actor); err != nil {
		return Order{}, err
	}
	if strings.TrimSpace(cmd.UserID) != cmd.Actor.ID {
		return Order{}, fmt.Errorf("%w: userId does not match the authenticated actor", ErrInvalidInput)
	}
	if len(cmd.Lines) == 0 {
		return Order{}, fmt.Errorf("%w: at least one line is required", ErrInvalidInput)
	}
	for i, line := range cmd.Lines {
		if strings.TrimSpace(line.ProductID) == "" {
			return Order{}, fmt.Errorf("%w: lines[%d].productId is required", ErrInvalidInput, i)
		}
		if line.Quantity <= 0 {
			return Order{}, fmt.Errorf("%w: lines[%d].quantity must be positive", ErrInvalidInput, i)
		}
	}
	notes := textutil.CleanText(cmd.Notes, 0)

	var changes []StockChange
	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		changes = changes[:0]

		now := s.clock()
		lines := make([]OrderLine, 0, len(cmd.Lines))
		for _, input := range cmd.Lines {
			product, err := s.products.FindByID(txCtx, strings.TrimSpace(input.ProductID))
			if err != nil {
				return mapRepositoryError(err)
			}
			lines = append(lines, domain.NewOrderLine(orderLineIDPrefix+s.newID(), product.ID, product.Title, input.Quantity, product.Price))
		}
		reserved, err := reserveAll(txCtx, s.inventory, lines)
		if err != nil {
			return err
		}
		changes = reserved

		created := Order{
			ID:          orderIDPrefix + s.newID(),
			SaleType:    domain.SaleTypeInStore,
			Status:      domain.OrderStatusConfirmed,
			ActorID:     cmd.Actor.ID,
			Lines:       lines,
			Notes:       notes,
			CreatedAt:   now,
			UpdatedAt:   now,
			ConfirmedAt: &now,
		}
		created.RecomputeTotal()

		if err := s.orders.Insert(txCtx, created); err != nil {
			return mapRepositoryError(err)
		}
		sale = created
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	span.SetAttributes(attribute.String("order.id", sale.ID))
	s.metrics.orderCreated(ctx, sale.SaleType)
	s.inventory.NotifyLowStock(ctx, changes)
	s.emitter.publish(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       sale.ID,
		SaleType:      string(sale.SaleType),
		CurrentStatus: string(sale.Status),
		ActorID:       cmd.Actor.ID,
		Total:         sale.Total,
		OccurredAt:    sale.CreatedAt,
	})
	s.logger(ctx, "sale.created", map[string]any{
		"orderId": sale.ID,
		"actorId": cmd.Actor.ID,
		"total":   sale.Total,
		"lines":   len(sale.Lines),
	})
	return sale, nil
}

func (s *saleService) GetSale(ctx context.Context, actor Actor, saleID string) (Order, error) {
	if err := requireStaff(actor); err != nil {
		return Order{}, err
	}
	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return Order{}, fmt.Errorf("%w: sale id is required", ErrInvalidInput)
	}
	sale, err := s.orders.FindByID(ctx, saleID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	return sale, nil
}

// ListSales returns in-store sales, newest first. Vendors only see the sales they last handled.
func (s *saleService) ListSales(ctx context.Context, actor Actor, pager Pagination) (domain.CursorPage[Order], error) {
	if err := requireStaff(actor); err != nil {
		return domain.CursorPage[Order]{}, err
	}
	filter := repositories.OrderListFilter{
		SaleType:   domain.SaleTypeInStore,
		Pagination: pager,
	}
	if actor.Role == domain.RoleVendor {
		filter.ActorID = actor.ID
	}
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, mapListError(err)
	}
	return page, nil
}

func (s *saleService) CancelSale(ctx context.Context, actor Actor, saleID string, reason string) (Order, error) {
	return s.lifecycle.Transition(ctx, OrderTransitionCommand{
		Actor:   actor,
		OrderID: saleID,
		Event:   EventReject,
		Reason:  reason,
	})
}

func (s *saleService) AddLine(ctx context.Context, cmd AddOrderLineCommand) (Order, error) {
	if err := requireStaff(cmd.Actor); err != nil {
		return Order{}, err
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	productID := strings.TrimSpace(cmd.ProductID)
	if orderID == "" || productID == "" {
		return Order{}, fmt.Errorf("%w: order id and product id are required", ErrInvalidInput)
	}
	if cmd.Quantity <= 0 {
		return Order{}, fmt.Errorf("%w: quantity must be positive", ErrInvalidInput)
	}

	return s.editLines(ctx, cmd.Actor, "add", func(txCtx context.Context) (Order, []StockChange, error) {
		order, err := s.lockEditable(txCtx, orderID)
		if err != nil {
			return Order{}, nil, err
		}
		product, err := s.products.FindByID(txCtx, productID)
		if err != nil {
			return Order{}, nil, mapRepositoryError(err)
		}
		change, err := s.inventory.Reserve(txCtx, product.ID, cmd.Quantity)
		if err != nil {
			return Order{}, nil, err
		}
		order.Lines = append(order.Lines, domain.NewOrderLine(orderLineIDPrefix+s.newID(), product.ID, product.Title, cmd.Quantity, product.Price))
		return order, []StockChange{change}, nil
	})
}

// UpdateLine applies only the quantity difference to stock so concurrent orders never observe a
// temporarily restored balance.
func (s *saleService) UpdateLine(ctx context.Context, cmd UpdateOrderLineCommand) (Order, error) {
	if err := requireStaff(cmd.Actor); err != nil {
		return Order{}, err
	}
	lineID := strings.TrimSpace(cmd.LineID)
	if lineID == "" {
		return Order{}, fmt.Errorf("%w: line id is required", ErrInvalidInput)
	}
	if cmd.Quantity <= 0 {
		return Order{}, fmt.Errorf("%w: quantity must be positive", ErrInvalidInput)
	}

	return s.editLines(ctx, cmd.Actor, "update", func(txCtx context.Context) (Order, []StockChange, error) {
		order, idx, err := s.lockLine(txCtx, lineID)
		if err != nil {
			return Order{}, nil, err
		}
		line := order.Lines[idx]
		delta := cmd.Quantity - line.Quantity

		var change StockChange
		switch {
		case delta > 0:
			change, err = s.inventory.Reserve(txCtx, line.ProductID, delta)
		case delta < 0:
			change, err = s.inventory.Release(txCtx, line.ProductID, -delta)
		default:
			return order, nil, nil
		}
		if err != nil {
			return Order{}, nil, err
		}
		order.Lines[idx].Quantity = cmd.Quantity
		return order, []StockChange{change}, nil
	})
}

func (s *saleService) DeleteLine(ctx context.Context, actor Actor, lineID string) (Order, error) {
	if err := requireStaff(actor); err != nil {
		return Order{}, err
	}
	lineID = strings.TrimSpace(lineID)
	if lineID == "" {
		return Order{}, fmt.Errorf("%w: line id is required", ErrInvalidInput)
	}

	return s.editLines(ctx, actor, "delete", func(txCtx context.Context) (Order, []StockChange, error) {
		order, idx, err := s.lockLine(txCtx, lineID)
		if err != nil {
			return Order{}, nil, err
		}
		line := order.Lines[idx]
		change, err := s.inventory.Release(txCtx, line.ProductID, line.Quantity)
		if err != nil {
			return Order{}, nil, err
		}
		order.Lines = append(order.Lines[:idx], order.Lines[idx+1:]...)
		return order, []StockChange{change}, nil
	})
}

// editLines runs mutate in a unit of work, recomputes the total and persists the order.
func (s *saleService) editLines(ctx context.Context, actor Actor, op string, mutate func(context.Context) (Order, []StockChange, error)) (Order, error) {
	var (
		order   Order
		changes []StockChange
	)
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		edited, applied, err := mutate(txCtx)
		if err != nil {
			return err
		}
		edited.RecomputeTotal()
		edited.ActorID = actor.ID
		edited.UpdatedAt = s.clock()
		if err := s.orders.Update(txCtx, edited); err != nil {
			return mapRepositoryError(err)
		}
		order = edited
		changes = applied
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.inventory.NotifyLowStock(ctx, changes)
	s.emitter.publish(ctx, OrderEvent{
		Type:          orderEventLinesChanged,
		OrderID:       order.ID,
		SaleType:      string(order.SaleType),
		CurrentStatus: string(order.Status),
		ActorID:       actor.ID,
		CustomerID:    order.CustomerID,
		Total:         order.Total,
		OccurredAt:    order.UpdatedAt,
		Metadata:      map[string]any{"operation": op},
	})
	s.logger(ctx, "sale.line."+op, map[string]any{
		"orderId": order.ID,
		"actorId": actor.ID,
		"total":   order.Total,
	})
	return order, nil
}

func (s *saleService) lockEditable(ctx context.Context, orderID string) (Order, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	if order.Status == domain.OrderStatusCancelled {
		return Order{}, fmt.Errorf("%w: cannot edit lines of a cancelled order", ErrInvalidTransition)
	}
	return order, nil
}

// lockLine resolves the owning order of a line and re-reads it through FindByID so the order is
// locked for the rest of the unit of work.
func (s *saleService) lockLine(ctx context.Context, lineID string) (Order, int, error) {
	owner, err := s.orders.FindByLineID(ctx, lineID)
	if err != nil {
		return Order{}, -1, mapRepositoryError(err)
	}
	order, err := s.lockEditable(ctx, owner.ID)
	if err != nil {
		return Order{}, -1, err
	}
	idx := order.LineIndex(lineID)
	if idx < 0 {
		return Order{}, -1, fmt.Errorf("%w: order line %s", ErrNotFound, lineID)
	}
	return order, idx, nil
}
