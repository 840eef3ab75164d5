package services

import (
	"errors"
	"fmt"

	"github.com/salles-management/api/internal/repositories"
)

var (
	// ErrNotFound indicates the referenced order, line, product or cart item does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientStock indicates a reservation would drive stock below zero.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidTransition indicates the lifecycle event is not legal from the order's status.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrForbidden indicates the actor may not perform the operation.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidInput signals the caller provided invalid data.
	ErrInvalidInput = errors.New("invalid input")
	// ErrConflict indicates a uniqueness or concurrency conflict in the store.
	ErrConflict = errors.New("conflict")
	// ErrUnavailable indicates the backing store could not be reached.
	ErrUnavailable = errors.New("unavailable")
)

// InsufficientStockError carries the quantity that was available when a reservation was refused.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("%s: product %s requested %d, available %d", ErrInsufficientStock, e.ProductID, e.Requested, e.Available)
}

// Is lets callers match the error with errors.Is(err, ErrInsufficientStock).
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// mapRepositoryError converts repository failures into service sentinels.
func mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		switch invErr.Code {
		case repositories.InventoryErrorInsufficientStock:
			return &InsufficientStockError{ProductID: invErr.ProductID, Requested: invErr.Requested, Available: invErr.Available}
		case repositories.InventoryErrorStockNotFound:
			return fmt.Errorf("%w: %s", ErrNotFound, invErr.Message)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	return err
}
