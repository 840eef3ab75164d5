package services

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/salles-management/api/internal/services"

// engineMetrics holds the counters recorded by the ledgers and the lifecycle controller. Instruments
// come from the global meter provider, which is a no-op until observability.SetupMetrics installs one.
type engineMetrics struct {
	ordersCreated   metric.Int64Counter
	transitions     metric.Int64Counter
	stockRejections metric.Int64Counter
	loyaltyPoints   metric.Int64Counter
}

func newEngineMetrics() engineMetrics {
	meter := otel.Meter(instrumentationName)
	var m engineMetrics
	m.ordersCreated, _ = meter.Int64Counter("sales.orders.created",
		metric.WithDescription("Orders and in-store sales created"))
	m.transitions, _ = meter.Int64Counter("sales.orders.transitions",
		metric.WithDescription("Applied order lifecycle transitions"))
	m.stockRejections, _ = meter.Int64Counter("sales.inventory.rejections",
		metric.WithDescription("Reservations refused for insufficient stock"))
	m.loyaltyPoints, _ = meter.Int64Counter("sales.loyalty.points",
		metric.WithDescription("Loyalty points moved, by direction"))
	return m
}

func (m engineMetrics) orderCreated(ctx context.Context, saleType SaleType) {
	if m.ordersCreated == nil {
		return
	}
	m.ordersCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("sale_type", string(saleType))))
}

func (m engineMetrics) transitioned(ctx context.Context, event LifecycleEvent, to OrderStatus) {
	if m.transitions == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", string(event)),
		attribute.String("status", string(to)),
	))
}

func (m engineMetrics) stockRejected(ctx context.Context, productID string) {
	if m.stockRejections == nil {
		return
	}
	m.stockRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("product_id", productID)))
}

func (m engineMetrics) loyaltyMoved(ctx context.Context, direction string, points int64) {
	if m.loyaltyPoints == nil || points <= 0 {
		return
	}
	m.loyaltyPoints.Add(ctx, points, metric.WithAttributes(attribute.String("direction", direction)))
}
