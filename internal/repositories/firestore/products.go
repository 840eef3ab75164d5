package firestore

import (
	"context"
	"time"

	domain "github.com/salles-management/api/internal/domain"
	pfirestore "github.com/salles-management/api/internal/platform/firestore"
	"github.com/salles-management/api/internal/repositories"
)

type productDocument struct {
	Title     string    `firestore:"title"`
	Price     int64     `firestore:"price"`
	Stock     int       `firestore:"stock"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func newProductDocument(product domain.Product) productDocument {
	return productDocument{
		Title:     product.Title,
		Price:     product.Price,
		Stock:     product.Stock,
		UpdatedAt: product.UpdatedAt.UTC(),
	}
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:        id,
		Title:     d.Title,
		Price:     d.Price,
		Stock:     d.Stock,
		UpdatedAt: d.UpdatedAt.UTC(),
	}
}

type productRepository struct{ s *Store }

func (r productRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	doc, err := r.s.products.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, mapError("product", productID, err)
	}
	return doc.toDomain(productID), nil
}

// AdjustStock reads the stock inside the transaction and stages the new level. Concurrent
// adjustments of the same product abort at commit and are retried against the fresh value, so a
// refused decrement never leaves a partial write behind.
func (r productRepository) AdjustStock(ctx context.Context, productID string, delta int) (int, error) {
	var level int
	err := r.s.RunInTx(ctx, func(txCtx context.Context) error {
		doc, err := r.s.products.Get(txCtx, productID)
		if err != nil {
			if pfirestore.IsNotFound(err) {
				return repositories.NewStockNotFoundError(productID)
			}
			return err
		}
		if doc.Stock+delta < 0 {
			return repositories.NewInsufficientStockError(productID, -delta, doc.Stock)
		}
		doc.Stock += delta
		doc.UpdatedAt = r.s.now()
		if err := r.s.products.Set(txCtx, productID, doc); err != nil {
			return err
		}
		level = doc.Stock
		return nil
	})
	if err != nil {
		return 0, mapError("inventory", productID, err)
	}
	return level, nil
}

func (r productRepository) StockLevel(ctx context.Context, productID string) (int, error) {
	doc, err := r.s.products.Get(ctx, productID)
	if err != nil {
		if pfirestore.IsNotFound(err) {
			return 0, repositories.NewStockNotFoundError(productID)
		}
		return 0, mapError("inventory", productID, err)
	}
	return doc.Stock, nil
}
