package firestore

import (
	"context"
	"time"

	domain "github.com/salles-management/api/internal/domain"
	pfirestore "github.com/salles-management/api/internal/platform/firestore"
)

type loyaltyDocument struct {
	Points    int64     `firestore:"points"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type loyaltyRepository struct{ s *Store }

func (r loyaltyRepository) Balance(ctx context.Context, customerID string) (domain.LoyaltyAccount, error) {
	doc, err := r.s.loyalty.Get(ctx, customerID)
	if err != nil {
		if pfirestore.IsNotFound(err) {
			return domain.LoyaltyAccount{CustomerID: customerID}, nil
		}
		return domain.LoyaltyAccount{}, mapError("loyalty account", customerID, err)
	}
	return domain.LoyaltyAccount{CustomerID: customerID, Points: doc.Points, UpdatedAt: doc.UpdatedAt.UTC()}, nil
}

func (r loyaltyRepository) Adjust(ctx context.Context, customerID string, delta int64) (domain.LoyaltyAccount, error) {
	var account domain.LoyaltyAccount
	err := r.s.RunInTx(ctx, func(txCtx context.Context) error {
		doc, err := r.s.loyalty.Get(txCtx, customerID)
		if err != nil && !pfirestore.IsNotFound(err) {
			return err
		}
		doc.Points += delta
		if doc.Points < 0 {
			doc.Points = 0
		}
		doc.UpdatedAt = r.s.now()
		if err := r.s.loyalty.Set(txCtx, customerID, doc); err != nil {
			return err
		}
		account = domain.LoyaltyAccount{CustomerID: customerID, Points: doc.Points, UpdatedAt: doc.UpdatedAt}
		return nil
	})
	if err != nil {
		return domain.LoyaltyAccount{}, mapError("loyalty account", customerID, err)
	}
	return account, nil
}
