package firestore

import (
	"context"
	"time"

	domain "github.com/salles-management/api/internal/domain"
)

// cartDocument is keyed by customer id; items are embedded in insertion order.
type cartDocument struct {
	ID         string             `firestore:"id"`
	CustomerID string             `firestore:"customerId"`
	Items      []cartItemDocument `firestore:"items"`
	CreatedAt  time.Time          `firestore:"createdAt"`
	UpdatedAt  time.Time          `firestore:"updatedAt"`
}

type cartItemDocument struct {
	ID           string    `firestore:"id"`
	ProductID    string    `firestore:"productId"`
	ProductTitle string    `firestore:"productTitle"`
	Quantity     int       `firestore:"quantity"`
	UnitPrice    int64     `firestore:"unitPrice"`
	AddedAt      time.Time `firestore:"addedAt"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

func newCartDocument(cart domain.Cart) cartDocument {
	doc := cartDocument{
		ID:         cart.ID,
		CustomerID: cart.CustomerID,
		Items:      make([]cartItemDocument, 0, len(cart.Items)),
		CreatedAt:  cart.CreatedAt.UTC(),
		UpdatedAt:  cart.UpdatedAt.UTC(),
	}
	for _, item := range cart.Items {
		doc.Items = append(doc.Items, cartItemDocument{
			ID:           item.ID,
			ProductID:    item.ProductID,
			ProductTitle: item.ProductTitle,
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
			AddedAt:      item.AddedAt.UTC(),
			UpdatedAt:    item.UpdatedAt.UTC(),
		})
	}
	return doc
}

func (d cartDocument) toDomain() domain.Cart {
	cart := domain.Cart{
		ID:         d.ID,
		CustomerID: d.CustomerID,
		Items:      make([]domain.CartItem, 0, len(d.Items)),
		CreatedAt:  d.CreatedAt.UTC(),
		UpdatedAt:  d.UpdatedAt.UTC(),
	}
	for _, item := range d.Items {
		cart.Items = append(cart.Items, domain.CartItem{
			ID:           item.ID,
			ProductID:    item.ProductID,
			ProductTitle: item.ProductTitle,
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
			AddedAt:      item.AddedAt.UTC(),
			UpdatedAt:    item.UpdatedAt.UTC(),
		})
	}
	return cart
}

type cartRepository struct{ s *Store }

func (r cartRepository) FindByCustomer(ctx context.Context, customerID string) (domain.Cart, error) {
	doc, err := r.s.carts.Get(ctx, customerID)
	if err != nil {
		return domain.Cart{}, mapError("cart", customerID, err)
	}
	return doc.toDomain(), nil
}

func (r cartRepository) Save(ctx context.Context, cart domain.Cart) error {
	if err := r.s.carts.Set(ctx, cart.CustomerID, newCartDocument(cart)); err != nil {
		return mapError("cart", cart.CustomerID, err)
	}
	return nil
}
