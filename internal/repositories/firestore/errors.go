package firestore

import (
	"errors"

	pfirestore "github.com/salles-management/api/internal/platform/firestore"
	"github.com/salles-management/api/internal/repositories"
)

// mapError converts Firestore status errors into repository errors keyed by the entity that was
// being read or written. Inventory errors and errors raised by services inside a transaction pass
// through untouched.
func mapError(entity, key string, err error) error {
	if err == nil {
		return nil
	}
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		return err
	}
	var storeErr *repositories.StoreError
	if errors.As(err, &storeErr) {
		return err
	}

	var fsErr *pfirestore.Error
	if errors.As(err, &fsErr) {
		switch {
		case fsErr.IsNotFound():
			return repositories.NewNotFoundError(entity, key)
		case fsErr.IsConflict():
			return repositories.NewConflictError(entity, key, err)
		case fsErr.IsUnavailable():
			return repositories.NewUnavailableError(entity, err)
		}
	}
	return repositories.WrapError(entity, err)
}
