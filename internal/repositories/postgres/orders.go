package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	domain "github.com/salles-management/api/internal/domain"
	"github.com/salles-management/api/internal/repositories"
)

const orderColumns = `id, sale_type, status, customer_id, actor_id, total, loyalty_points, pickup_code,
estimated_pickup_at, actual_pickup_at, notes, cancel_reason, created_at, updated_at,
confirmed_at, ready_at, completed_at, canceled_at`

const (
	selectOrderSQL             = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	selectOrderForUpdateSQL    = selectOrderSQL + ` FOR UPDATE`
	selectOrderByPickupCodeSQL = `SELECT ` + orderColumns + ` FROM orders WHERE pickup_code = $1`
	selectOrderIDByLineSQL     = `SELECT order_id FROM order_lines WHERE id = $1`
	selectOrderLinesSQL        = `SELECT id, product_id, product_title, quantity, unit_price, line_total FROM order_lines WHERE order_id = $1 ORDER BY position`
	insertOrderSQL             = `INSERT INTO orders (` + orderColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`
	updateOrderSQL = `UPDATE orders SET status = $2, actor_id = $3, total = $4, loyalty_points = $5,
estimated_pickup_at = $6, actual_pickup_at = $7, notes = $8, cancel_reason = $9, updated_at = $10,
confirmed_at = $11, ready_at = $12, completed_at = $13, canceled_at = $14 WHERE id = $1`
	deleteOrderLinesSQL = `DELETE FROM order_lines WHERE order_id = $1`
	insertOrderLineSQL  = `INSERT INTO order_lines (id, order_id, position, product_id, product_title, quantity, unit_price, line_total)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
)

type orderRepository struct{ s *Store }

func (r orderRepository) Insert(ctx context.Context, order domain.Order) error {
	return r.s.RunInTx(ctx, func(txCtx context.Context) error {
		conn := r.s.conn(txCtx)
		_, err := conn.ExecContext(txCtx, insertOrderSQL,
			order.ID, string(order.SaleType), string(order.Status), nullString(order.CustomerID), nullString(order.ActorID),
			order.Total, order.LoyaltyPoints, nullString(order.PickupCode),
			nullTime(order.EstimatedPickupAt), nullTime(order.ActualPickupAt), order.Notes, nullStringPtr(order.CancelReason),
			order.CreatedAt, order.UpdatedAt,
			nullTime(order.ConfirmedAt), nullTime(order.ReadyAt), nullTime(order.CompletedAt), nullTime(order.CanceledAt),
		)
		if err != nil {
			return mapError("order", order.ID, err)
		}
		return r.insertLines(txCtx, order)
	})
}

func (r orderRepository) Update(ctx context.Context, order domain.Order) error {
	return r.s.RunInTx(ctx, func(txCtx context.Context) error {
		conn := r.s.conn(txCtx)
		res, err := conn.ExecContext(txCtx, updateOrderSQL,
			order.ID, string(order.Status), nullString(order.ActorID), order.Total, order.LoyaltyPoints,
			nullTime(order.EstimatedPickupAt), nullTime(order.ActualPickupAt), order.Notes, nullStringPtr(order.CancelReason),
			order.UpdatedAt, nullTime(order.ConfirmedAt), nullTime(order.ReadyAt), nullTime(order.CompletedAt), nullTime(order.CanceledAt),
		)
		if err != nil {
			return mapError("order", order.ID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return mapError("order", order.ID, err)
		}
		if affected == 0 {
			return repositories.NewNotFoundError("order", order.ID)
		}
		if _, err := conn.ExecContext(txCtx, deleteOrderLinesSQL, order.ID); err != nil {
			return mapError("order", order.ID, err)
		}
		return r.insertLines(txCtx, order)
	})
}

func (r orderRepository) insertLines(ctx context.Context, order domain.Order) error {
	conn := r.s.conn(ctx)
	for i, line := range order.Lines {
		if _, err := conn.ExecContext(ctx, insertOrderLineSQL,
			line.ID, order.ID, i, line.ProductID, line.ProductTitle, line.Quantity, line.UnitPrice, line.LineTotal,
		); err != nil {
			return mapError("order line", line.ID, err)
		}
	}
	return nil
}

// FindByID takes a row lock when called inside a unit of work.
func (r orderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	query := selectOrderSQL
	if inTx(ctx) {
		query = selectOrderForUpdateSQL
	}
	return r.findOne(ctx, query, orderID, orderID)
}

func (r orderRepository) FindByLineID(ctx context.Context, lineID string) (domain.Order, error) {
	var orderID string
	if err := r.s.conn(ctx).QueryRowContext(ctx, selectOrderIDByLineSQL, lineID).Scan(&orderID); err != nil {
		return domain.Order{}, mapError("order line", lineID, err)
	}
	return r.findOne(ctx, selectOrderSQL, orderID, orderID)
}

func (r orderRepository) FindByPickupCode(ctx context.Context, code string) (domain.Order, error) {
	return r.findOne(ctx, selectOrderByPickupCodeSQL, code, code)
}

func (r orderRepository) findOne(ctx context.Context, query, key string, arg any) (domain.Order, error) {
	order, err := scanOrder(r.s.conn(ctx).QueryRowContext(ctx, query, arg))
	if err != nil {
		return domain.Order{}, mapError("order", key, err)
	}
	if err := r.loadLines(ctx, &order); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (r orderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	after, err := repositories.DecodeOrderCursor(filter, filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	size := repositories.NormalizePageSize(filter.Pagination.PageSize)
	query, args := buildListQuery(filter, after, size)

	rows, err := r.s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, mapError("order", "", err)
	}
	orders := make([]domain.Order, 0, size+1)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return domain.CursorPage[domain.Order]{}, mapError("order", "", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return domain.CursorPage[domain.Order]{}, mapError("order", "", err)
	}
	rows.Close()

	page := domain.CursorPage[domain.Order]{}
	if len(orders) > size {
		orders = orders[:size]
		token, err := repositories.EncodeOrderCursor(filter, orders[size-1].ID)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
	}
	for i := range orders {
		if err := r.loadLines(ctx, &orders[i]); err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
	}
	page.Items = orders
	return page, nil
}

func buildListQuery(filter repositories.OrderListFilter, after string, size int) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.CustomerID != "" {
		add("customer_id = $%d", filter.CustomerID)
	}
	if filter.ActorID != "" {
		add("actor_id = $%d", filter.ActorID)
	}
	if filter.SaleType != "" {
		add("sale_type = $%d", string(filter.SaleType))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			args = append(args, string(status))
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		clauses = append(clauses, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if after != "" {
		add("id < $%d", after)
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(orderColumns)
	b.WriteString(" FROM orders")
	if len(clauses) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(clauses, " AND "))
	}
	args = append(args, size+1)
	fmt.Fprintf(&b, " ORDER BY id DESC LIMIT $%d", len(args))
	return b.String(), args
}

func (r orderRepository) loadLines(ctx context.Context, order *domain.Order) error {
	rows, err := r.s.conn(ctx).QueryContext(ctx, selectOrderLinesSQL, order.ID)
	if err != nil {
		return mapError("order", order.ID, err)
	}
	defer rows.Close()

	order.Lines = nil
	for rows.Next() {
		var line domain.OrderLine
		if err := rows.Scan(&line.ID, &line.ProductID, &line.ProductTitle, &line.Quantity, &line.UnitPrice, &line.LineTotal); err != nil {
			return mapError("order", order.ID, err)
		}
		order.Lines = append(order.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return mapError("order", order.ID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order                                     domain.Order
		saleType, status                          string
		customerID, actorID, pickupCode, cancel   sql.NullString
		estimated, actual, confirmed, ready, done sql.NullTime
		canceled                                  sql.NullTime
	)
	err := row.Scan(
		&order.ID, &saleType, &status, &customerID, &actorID, &order.Total, &order.LoyaltyPoints, &pickupCode,
		&estimated, &actual, &order.Notes, &cancel, &order.CreatedAt, &order.UpdatedAt,
		&confirmed, &ready, &done, &canceled,
	)
	if err != nil {
		return domain.Order{}, err
	}

	order.SaleType = domain.SaleType(saleType)
	order.Status = domain.OrderStatus(status)
	order.CustomerID = customerID.String
	order.ActorID = actorID.String
	order.PickupCode = pickupCode.String
	if cancel.Valid {
		reason := cancel.String
		order.CancelReason = &reason
	}
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	order.EstimatedPickupAt = timePtr(estimated)
	order.ActualPickupAt = timePtr(actual)
	order.ConfirmedAt = timePtr(confirmed)
	order.ReadyAt = timePtr(ready)
	order.CompletedAt = timePtr(done)
	order.CanceledAt = timePtr(canceled)
	return order, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func nullStringPtr(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}

func nullTime(value *time.Time) sql.NullTime {
	if value == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value.UTC(), Valid: true}
}

func timePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time.UTC()
	return &t
}
