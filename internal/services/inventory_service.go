package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/salles-management/api/internal/repositories"
)

const (
	inventoryEventLowStock = "inventory.low_stock"

	// DefaultLowStockThreshold is the stock level at or below which a low stock event is raised.
	DefaultLowStockThreshold = 10
)

// InventoryLedgerDeps bundles the collaborators required to construct the inventory ledger.
type InventoryLedgerDeps struct {
	Inventory         repositories.InventoryRepository
	Events            InventoryEventPublisher
	LowStockThreshold int
	Clock             func() time.Time
	Logger            func(ctx context.Context, event string, fields map[string]any)
}

type inventoryLedger struct {
	repo      repositories.InventoryRepository
	events    InventoryEventPublisher
	threshold int
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
	metrics   engineMetrics
}

// NewInventoryLedger wires dependencies into a concrete InventoryLedger implementation.
func NewInventoryLedger(deps InventoryLedgerDeps) (InventoryLedger, error) {
	if deps.Inventory == nil {
		return nil, errors.New("inventory ledger: inventory repository is required")
	}

	threshold := deps.LowStockThreshold
	if threshold <= 0 {
		threshold = DefaultLowStockThreshold
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &inventoryLedger{
		repo:      deps.Inventory,
		events:    deps.Events,
		threshold: threshold,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger:  logger,
		metrics: newEngineMetrics(),
	}, nil
}

func (l *inventoryLedger) Reserve(ctx context.Context, productID string, qty int) (StockChange, error) {
	if qty <= 0 {
		return StockChange{}, fmt.Errorf("%w: quantity must be positive", ErrInvalidInput)
	}
	return l.apply(ctx, productID, -qty)
}

func (l *inventoryLedger) Release(ctx context.Context, productID string, qty int) (StockChange, error) {
	if qty <= 0 {
		return StockChange{}, fmt.Errorf("%w: quantity must be positive", ErrInvalidInput)
	}
	return l.apply(ctx, productID, qty)
}

func (l *inventoryLedger) Adjust(ctx context.Context, productID string, delta int) (StockChange, error) {
	if delta == 0 {
		stock, err := l.Available(ctx, productID)
		if err != nil {
			return StockChange{}, err
		}
		return StockChange{ProductID: strings.TrimSpace(productID), Remaining: stock}, nil
	}
	return l.apply(ctx, productID, delta)
}

func (l *inventoryLedger) Available(ctx context.Context, productID string) (int, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return 0, fmt.Errorf("%w: product id is required", ErrInvalidInput)
	}
	stock, err := l.repo.StockLevel(ctx, productID)
	if err != nil {
		return 0, mapRepositoryError(err)
	}
	return stock, nil
}

func (l *inventoryLedger) apply(ctx context.Context, productID string, delta int) (StockChange, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return StockChange{}, fmt.Errorf("%w: product id is required", ErrInvalidInput)
	}

	remaining, err := l.repo.AdjustStock(ctx, productID, delta)
	if err != nil {
		mapped := mapRepositoryError(err)
		var stockErr *InsufficientStockError
		if errors.As(mapped, &stockErr) {
			l.metrics.stockRejected(ctx, productID)
			l.logger(ctx, "inventory.reserve.rejected", map[string]any{
				"productId": productID,
				"requested": stockErr.Requested,
				"available": stockErr.Available,
			})
		}
		return StockChange{}, mapped
	}

	l.logger(ctx, "inventory.adjusted", map[string]any{
		"productId": productID,
		"delta":     delta,
		"remaining": remaining,
	})
	return StockChange{ProductID: productID, Delta: delta, Remaining: remaining}, nil
}

func (l *inventoryLedger) NotifyLowStock(ctx context.Context, changes []StockChange) {
	if l.events == nil || len(changes) == 0 {
		return
	}

	// Only the last change per product reflects committed stock.
	latest := make(map[string]StockChange, len(changes))
	order := make([]string, 0, len(changes))
	for _, change := range changes {
		if _, seen := latest[change.ProductID]; !seen {
			order = append(order, change.ProductID)
		}
		latest[change.ProductID] = change
	}

	now := l.clock()
	for _, productID := range order {
		change := latest[productID]
		if change.Delta >= 0 || change.Remaining > l.threshold {
			continue
		}
		event := InventoryEvent{
			Type:       inventoryEventLowStock,
			ProductID:  change.ProductID,
			Delta:      change.Delta,
			Remaining:  change.Remaining,
			Threshold:  l.threshold,
			OccurredAt: now,
		}
		if err := l.events.PublishInventoryEvent(ctx, event); err != nil {
			l.logger(ctx, "inventory.event.publish.failed", map[string]any{
				"type":      event.Type,
				"productId": event.ProductID,
				"error":     err.Error(),
			})
		}
	}
}

// stockDemand is the total quantity an operation moves for one product.
type stockDemand struct {
	ProductID string
	Quantity  int
}

// demandByProduct merges the quantities of lines that share a product and returns them in
// ascending product id order. Every unit of work touches product rows in that order, so two
// concurrent reservations over the same products cannot lock them crosswise.
func demandByProduct(lines []OrderLine) []stockDemand {
	totals := make(map[string]int, len(lines))
	for _, line := range lines {
		totals[line.ProductID] += line.Quantity
	}
	demand := make([]stockDemand, 0, len(totals))
	for productID, qty := range totals {
		demand = append(demand, stockDemand{ProductID: productID, Quantity: qty})
	}
	sort.Slice(demand, func(i, j int) bool { return demand[i].ProductID < demand[j].ProductID })
	return demand
}

// reserveAll reserves every demand and returns the resulting stock changes.
func reserveAll(ctx context.Context, ledger InventoryLedger, lines []OrderLine) ([]StockChange, error) {
	demand := demandByProduct(lines)
	changes := make([]StockChange, 0, len(demand))
	for _, d := range demand {
		change, err := ledger.Reserve(ctx, d.ProductID, d.Quantity)
		if err != nil {
			return nil, err
		}
		changes = append(changes, change)
	}
	return changes, nil
}

// releaseAll restores the stock held by lines. Products whose lines sum to zero are skipped.
func releaseAll(ctx context.Context, ledger InventoryLedger, lines []OrderLine) ([]StockChange, error) {
	demand := demandByProduct(lines)
	changes := make([]StockChange, 0, len(demand))
	for _, d := range demand {
		if d.Quantity <= 0 {
			continue
		}
		change, err := ledger.Release(ctx, d.ProductID, d.Quantity)
		if err != nil {
			return nil, err
		}
		changes = append(changes, change)
	}
	return changes, nil
}
