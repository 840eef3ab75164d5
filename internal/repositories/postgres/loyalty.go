package postgres

import (
	"context"
	"database/sql"
	"errors"

	domain "github.com/salles-management/api/internal/domain"
)

const (
	selectLoyaltySQL = `SELECT points, updated_at FROM loyalty_accounts WHERE customer_id = $1`
	adjustLoyaltySQL = `INSERT INTO loyalty_accounts (customer_id, points, updated_at) VALUES ($1, GREATEST(0, $2::BIGINT), $3)
ON CONFLICT (customer_id) DO UPDATE SET points = GREATEST(0, loyalty_accounts.points + $2::BIGINT), updated_at = EXCLUDED.updated_at
RETURNING points, updated_at`
)

type loyaltyRepository struct{ s *Store }

func (r loyaltyRepository) Balance(ctx context.Context, customerID string) (domain.LoyaltyAccount, error) {
	account := domain.LoyaltyAccount{CustomerID: customerID}
	err := r.s.conn(ctx).QueryRowContext(ctx, selectLoyaltySQL, customerID).Scan(&account.Points, &account.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return account, nil
	}
	if err != nil {
		return domain.LoyaltyAccount{}, mapError("loyalty", customerID, err)
	}
	account.UpdatedAt = account.UpdatedAt.UTC()
	return account, nil
}

func (r loyaltyRepository) Adjust(ctx context.Context, customerID string, delta int64) (domain.LoyaltyAccount, error) {
	account := domain.LoyaltyAccount{CustomerID: customerID}
	err := r.s.conn(ctx).QueryRowContext(ctx, adjustLoyaltySQL, customerID, delta, r.s.now()).
		Scan(&account.Points, &account.UpdatedAt)
	if err != nil {
		return domain.LoyaltyAccount{}, mapError("loyalty", customerID, err)
	}
	account.UpdatedAt = account.UpdatedAt.UTC()
	return account, nil
}
