package postgres

import (
	"context"

	domain "github.com/salles-management/api/internal/domain"
)

const (
	selectCartSQL          = `SELECT id, customer_id, created_at, updated_at FROM carts WHERE customer_id = $1`
	selectCartForUpdateSQL = selectCartSQL + ` FOR UPDATE`
	selectCartItemsSQL     = `SELECT id, product_id, product_title, quantity, unit_price, added_at, updated_at FROM cart_items WHERE cart_id = $1 ORDER BY position`
	upsertCartSQL          = `INSERT INTO carts (id, customer_id, created_at, updated_at) VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET updated_at = EXCLUDED.updated_at`
	deleteCartItemsSQL = `DELETE FROM cart_items WHERE cart_id = $1`
	insertCartItemSQL  = `INSERT INTO cart_items (id, cart_id, position, product_id, product_title, quantity, unit_price, added_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
)

type cartRepository struct{ s *Store }

// FindByCustomer locks the cart row inside a unit of work, so two checkouts of one cart run one
// after the other and the second sees the cleared items.
func (r cartRepository) FindByCustomer(ctx context.Context, customerID string) (domain.Cart, error) {
	conn := r.s.conn(ctx)
	query := selectCartSQL
	if inTx(ctx) {
		query = selectCartForUpdateSQL
	}

	var cart domain.Cart
	err := conn.QueryRowContext(ctx, query, customerID).
		Scan(&cart.ID, &cart.CustomerID, &cart.CreatedAt, &cart.UpdatedAt)
	if err != nil {
		return domain.Cart{}, mapError("cart", customerID, err)
	}
	cart.CreatedAt = cart.CreatedAt.UTC()
	cart.UpdatedAt = cart.UpdatedAt.UTC()

	rows, err := conn.QueryContext(ctx, selectCartItemsSQL, cart.ID)
	if err != nil {
		return domain.Cart{}, mapError("cart", customerID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.CartItem
		if err := rows.Scan(&item.ID, &item.ProductID, &item.ProductTitle, &item.Quantity, &item.UnitPrice, &item.AddedAt, &item.UpdatedAt); err != nil {
			return domain.Cart{}, mapError("cart", customerID, err)
		}
		item.AddedAt = item.AddedAt.UTC()
		item.UpdatedAt = item.UpdatedAt.UTC()
		cart.Items = append(cart.Items, item)
	}
	if err := rows.Err(); err != nil {
		return domain.Cart{}, mapError("cart", customerID, err)
	}
	return cart, nil
}

// Save replaces the cart's items wholesale.
func (r cartRepository) Save(ctx context.Context, cart domain.Cart) error {
	return r.s.RunInTx(ctx, func(txCtx context.Context) error {
		conn := r.s.conn(txCtx)
		if _, err := conn.ExecContext(txCtx, upsertCartSQL, cart.ID, cart.CustomerID, cart.CreatedAt, cart.UpdatedAt); err != nil {
			return mapError("cart", cart.CustomerID, err)
		}
		if _, err := conn.ExecContext(txCtx, deleteCartItemsSQL, cart.ID); err != nil {
			return mapError("cart", cart.CustomerID, err)
		}
		for i, item := range cart.Items {
			if _, err := conn.ExecContext(txCtx, insertCartItemSQL,
				item.ID, cart.ID, i, item.ProductID, item.ProductTitle, item.Quantity, item.UnitPrice, item.AddedAt, item.UpdatedAt,
			); err != nil {
				return mapError("cart item", item.ID, err)
			}
		}
		return nil
	})
}
