package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/salles-management/api/internal/domain"
	"github.com/salles-management/api/internal/repositories"
)

// orderDocument embeds the lines. LineIDs duplicates the line ids so a line can be resolved to its
// order with an array-contains query.
type orderDocument struct {
	SaleType          string              `firestore:"saleType"`
	Status            string              `firestore:"status"`
	CustomerID        string              `firestore:"customerId"`
	ActorID           string              `firestore:"actorId"`
	Lines             []orderLineDocument `firestore:"lines"`
	LineIDs           []string            `firestore:"lineIds"`
	Total             int64               `firestore:"total"`
	LoyaltyPoints     int64               `firestore:"loyaltyPoints"`
	PickupCode        string              `firestore:"pickupCode,omitempty"`
	EstimatedPickupAt *time.Time          `firestore:"estimatedPickupAt"`
	ActualPickupAt    *time.Time          `firestore:"actualPickupAt"`
	Notes             string              `firestore:"notes"`
	CancelReason      *string             `firestore:"cancelReason"`
	CreatedAt         time.Time           `firestore:"createdAt"`
	UpdatedAt         time.Time           `firestore:"updatedAt"`
	ConfirmedAt       *time.Time          `firestore:"confirmedAt"`
	ReadyAt           *time.Time          `firestore:"readyAt"`
	CompletedAt       *time.Time          `firestore:"completedAt"`
	CanceledAt        *time.Time          `firestore:"canceledAt"`
}

type orderLineDocument struct {
	ID           string `firestore:"id"`
	ProductID    string `firestore:"productId"`
	ProductTitle string `firestore:"productTitle"`
	Quantity     int    `firestore:"quantity"`
	UnitPrice    int64  `firestore:"unitPrice"`
	LineTotal    int64  `firestore:"lineTotal"`
}

// pickupCodeDocument reserves a pickup code. Creating it fails when the code is taken, which makes
// the code unique across orders.
type pickupCodeDocument struct {
	OrderID   string    `firestore:"orderId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

func newOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		SaleType:          string(order.SaleType),
		Status:            string(order.Status),
		CustomerID:        order.CustomerID,
		ActorID:           order.ActorID,
		Lines:             make([]orderLineDocument, 0, len(order.Lines)),
		LineIDs:           make([]string, 0, len(order.Lines)),
		Total:             order.Total,
		LoyaltyPoints:     order.LoyaltyPoints,
		PickupCode:        order.PickupCode,
		EstimatedPickupAt: utcPtr(order.EstimatedPickupAt),
		ActualPickupAt:    utcPtr(order.ActualPickupAt),
		Notes:             order.Notes,
		CancelReason:      order.CancelReason,
		CreatedAt:         order.CreatedAt.UTC(),
		UpdatedAt:         order.UpdatedAt.UTC(),
		ConfirmedAt:       utcPtr(order.ConfirmedAt),
		ReadyAt:           utcPtr(order.ReadyAt),
		CompletedAt:       utcPtr(order.CompletedAt),
		CanceledAt:        utcPtr(order.CanceledAt),
	}
	for _, line := range order.Lines {
		doc.Lines = append(doc.Lines, orderLineDocument{
			ID:           line.ID,
			ProductID:    line.ProductID,
			ProductTitle: line.ProductTitle,
			Quantity:     line.Quantity,
			UnitPrice:    line.UnitPrice,
			LineTotal:    line.LineTotal,
		})
		doc.LineIDs = append(doc.LineIDs, line.ID)
	}
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	order := domain.Order{
		ID:                id,
		SaleType:          domain.SaleType(d.SaleType),
		Status:            domain.OrderStatus(d.Status),
		CustomerID:        d.CustomerID,
		ActorID:           d.ActorID,
		Lines:             make([]domain.OrderLine, 0, len(d.Lines)),
		Total:             d.Total,
		LoyaltyPoints:     d.LoyaltyPoints,
		PickupCode:        d.PickupCode,
		EstimatedPickupAt: utcPtr(d.EstimatedPickupAt),
		ActualPickupAt:    utcPtr(d.ActualPickupAt),
		Notes:             d.Notes,
		CancelReason:      d.CancelReason,
		CreatedAt:         d.CreatedAt.UTC(),
		UpdatedAt:         d.UpdatedAt.UTC(),
		ConfirmedAt:       utcPtr(d.ConfirmedAt),
		ReadyAt:           utcPtr(d.ReadyAt),
		CompletedAt:       utcPtr(d.CompletedAt),
		CanceledAt:        utcPtr(d.CanceledAt),
	}
	for _, line := range d.Lines {
		order.Lines = append(order.Lines, domain.OrderLine{
			ID:           line.ID,
			ProductID:    line.ProductID,
			ProductTitle: line.ProductTitle,
			Quantity:     line.Quantity,
			UnitPrice:    line.UnitPrice,
			LineTotal:    line.LineTotal,
		})
	}
	return order
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	value := t.UTC()
	return &value
}

type orderRepository struct{ s *Store }

func (r orderRepository) Insert(ctx context.Context, order domain.Order) error {
	err := r.s.RunInTx(ctx, func(txCtx context.Context) error {
		if order.PickupCode != "" {
			if err := r.reservePickupCode(txCtx, order.PickupCode, order.ID); err != nil {
				return err
			}
		}
		return r.s.orders.Create(txCtx, order.ID, newOrderDocument(order))
	})
	if err != nil {
		return mapError("order", order.ID, err)
	}
	return nil
}

func (r orderRepository) Update(ctx context.Context, order domain.Order) error {
	err := r.s.RunInTx(ctx, func(txCtx context.Context) error {
		existing, err := r.s.orders.Get(txCtx, order.ID)
		if err != nil {
			return err
		}
		if order.PickupCode != "" && order.PickupCode != existing.PickupCode {
			if err := r.reservePickupCode(txCtx, order.PickupCode, order.ID); err != nil {
				return err
			}
		}
		return r.s.orders.Set(txCtx, order.ID, newOrderDocument(order))
	})
	if err != nil {
		return mapError("order", order.ID, err)
	}
	return nil
}

func (r orderRepository) reservePickupCode(ctx context.Context, code, orderID string) error {
	return r.s.pickupCodes.Create(ctx, code, pickupCodeDocument{OrderID: orderID, CreatedAt: r.s.now()})
}

func (r orderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.s.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, mapError("order", orderID, err)
	}
	return doc.toDomain(orderID), nil
}

func (r orderRepository) FindByLineID(ctx context.Context, lineID string) (domain.Order, error) {
	docs, err := r.s.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("lineIds", "array-contains", lineID).Limit(1)
	})
	if err != nil {
		return domain.Order{}, mapError("order line", lineID, err)
	}
	if len(docs) == 0 {
		return domain.Order{}, repositories.NewNotFoundError("order line", lineID)
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

func (r orderRepository) FindByPickupCode(ctx context.Context, code string) (domain.Order, error) {
	reservation, err := r.s.pickupCodes.Get(ctx, code)
	if err != nil {
		return domain.Order{}, mapError("order", code, err)
	}
	return r.FindByID(ctx, reservation.OrderID)
}

func (r orderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	after, err := repositories.DecodeOrderCursor(filter, filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	size := repositories.NormalizePageSize(filter.Pagination.PageSize)

	docs, err := r.s.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return buildListQuery(q, filter, after, size)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, mapError("order", "list", err)
	}

	page := domain.CursorPage[domain.Order]{}
	if len(docs) > size {
		docs = docs[:size]
		token, err := repositories.EncodeOrderCursor(filter, docs[size-1].ID)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
	}
	page.Items = make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		page.Items = append(page.Items, doc.Data.toDomain(doc.ID))
	}
	return page, nil
}

// buildListQuery applies the filter and reads one extra document to detect a further page. Order
// ids are ULIDs, so descending id order is newest first.
func buildListQuery(q firestore.Query, filter repositories.OrderListFilter, after string, size int) firestore.Query {
	if filter.CustomerID != "" {
		q = q.Where("customerId", "==", filter.CustomerID)
	}
	if filter.ActorID != "" {
		q = q.Where("actorId", "==", filter.ActorID)
	}
	if filter.SaleType != "" {
		q = q.Where("saleType", "==", string(filter.SaleType))
	}
	switch len(filter.Statuses) {
	case 0:
	case 1:
		q = q.Where("status", "==", string(filter.Statuses[0]))
	default:
		statuses := make([]string, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			statuses = append(statuses, string(status))
		}
		q = q.Where("status", "in", statuses)
	}
	q = q.OrderBy(firestore.DocumentID, firestore.Desc)
	if after != "" {
		q = q.StartAfter(after)
	}
	return q.Limit(size + 1)
}
