package postgres

import (
	"context"
	"database/sql"
	"errors"

	domain "github.com/salles-management/api/internal/domain"
	"github.com/salles-management/api/internal/repositories"
)

const (
	selectProductSQL = `SELECT id, title, price, stock, updated_at FROM products WHERE id = $1`
	selectStockSQL   = `SELECT stock FROM products WHERE id = $1`
	adjustStockSQL   = `UPDATE products SET stock = stock + $1, updated_at = $2 WHERE id = $3 AND stock + $1 >= 0 RETURNING stock`
)

type productRepository struct{ s *Store }

func (r productRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	var product domain.Product
	err := r.s.conn(ctx).QueryRowContext(ctx, selectProductSQL, productID).
		Scan(&product.ID, &product.Title, &product.Price, &product.Stock, &product.UpdatedAt)
	if err != nil {
		return domain.Product{}, mapError("product", productID, err)
	}
	product.UpdatedAt = product.UpdatedAt.UTC()
	return product, nil
}

// AdjustStock applies delta with a single conditional update so concurrent reservations can never
// drive stock below zero. When no row matches, a follow-up read tells a missing product apart from
// a refused decrement.
func (r productRepository) AdjustStock(ctx context.Context, productID string, delta int) (int, error) {
	conn := r.s.conn(ctx)

	var remaining int
	err := conn.QueryRowContext(ctx, adjustStockSQL, delta, r.s.now(), productID).Scan(&remaining)
	if err == nil {
		return remaining, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, mapError("inventory", productID, err)
	}

	var available int
	if err := conn.QueryRowContext(ctx, selectStockSQL, productID).Scan(&available); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, repositories.NewStockNotFoundError(productID)
		}
		return 0, mapError("inventory", productID, err)
	}
	return available, repositories.NewInsufficientStockError(productID, -delta, available)
}

func (r productRepository) StockLevel(ctx context.Context, productID string) (int, error) {
	var stock int
	if err := r.s.conn(ctx).QueryRowContext(ctx, selectStockSQL, productID).Scan(&stock); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, repositories.NewStockNotFoundError(productID)
		}
		return 0, mapError("inventory", productID, err)
	}
	return stock, nil
}
