package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/salles-management/api/internal/repositories"
)

// LoyaltyLedgerDeps bundles the collaborators required to construct the loyalty ledger.
type LoyaltyLedgerDeps struct {
	Loyalty repositories.LoyaltyRepository
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type loyaltyLedger struct {
	repo    repositories.LoyaltyRepository
	logger  func(context.Context, string, map[string]any)
	metrics engineMetrics
}

// NewLoyaltyLedger wires dependencies into a concrete LoyaltyLedger implementation.
func NewLoyaltyLedger(deps LoyaltyLedgerDeps) (LoyaltyLedger, error) {
	if deps.Loyalty == nil {
		return nil, errors.New("loyalty ledger: loyalty repository is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &loyaltyLedger{repo: deps.Loyalty, logger: logger, metrics: newEngineMetrics()}, nil
}

func (l *loyaltyLedger) Credit(ctx context.Context, customerID string, points int64) (LoyaltyAccount, error) {
	return l.adjust(ctx, customerID, points, "credit")
}

func (l *loyaltyLedger) Debit(ctx context.Context, customerID string, points int64) (LoyaltyAccount, error) {
	return l.adjust(ctx, customerID, -points, "debit")
}

func (l *loyaltyLedger) Balance(ctx context.Context, customerID string) (LoyaltyAccount, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return LoyaltyAccount{}, fmt.Errorf("%w: customer id is required", ErrInvalidInput)
	}
	account, err := l.repo.Balance(ctx, customerID)
	if err != nil {
		return LoyaltyAccount{}, mapRepositoryError(err)
	}
	return account, nil
}

type loyaltyService struct {
	ledger LoyaltyLedger
}

// NewLoyaltyService exposes the ledger balance to the acting customer.
func NewLoyaltyService(ledger LoyaltyLedger) (LoyaltyService, error) {
	if ledger == nil {
		return nil, errors.New("loyalty service: ledger is required")
	}
	return &loyaltyService{ledger: ledger}, nil
}

func (s *loyaltyService) GetBalance(ctx context.Context, actor Actor) (LoyaltyAccount, error) {
	if !actor.IsCustomer() {
		return LoyaltyAccount{}, fmt.Errorf("%w: loyalty balance is available to customers only", ErrForbidden)
	}
	return s.ledger.Balance(ctx, actor.ID)
}

func (l *loyaltyLedger) adjust(ctx context.Context, customerID string, delta int64, direction string) (LoyaltyAccount, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return LoyaltyAccount{}, fmt.Errorf("%w: customer id is required", ErrInvalidInput)
	}
	if delta == 0 {
		return l.Balance(ctx, customerID)
	}
	if (direction == "credit" && delta < 0) || (direction == "debit" && delta > 0) {
		return LoyaltyAccount{}, fmt.Errorf("%w: points must be positive", ErrInvalidInput)
	}

	account, err := l.repo.Adjust(ctx, customerID, delta)
	if err != nil {
		return LoyaltyAccount{}, mapRepositoryError(err)
	}

	points := delta
	if points < 0 {
		points = -points
	}
	l.metrics.loyaltyMoved(ctx, direction, points)
	l.logger(ctx, "loyalty."+direction, map[string]any{
		"customerId": customerID,
		"points":     points,
		"balance":    account.Points,
	})
	return account, nil
}
