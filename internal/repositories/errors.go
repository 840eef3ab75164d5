package repositories

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a StoreError.
type ErrorKind int

const (
	ErrorKindUnknown ErrorKind = iota
	ErrorKindNotFound
	ErrorKindConflict
	ErrorKindUnavailable
)

// StoreError is the RepositoryError implementation shared by the memory and SQL backends.
type StoreError struct {
	Kind   ErrorKind
	Entity string
	Key    string
	Err    error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	var msg string
	switch e.Kind {
	case ErrorKindNotFound:
		msg = fmt.Sprintf("%s %q not found", e.Entity, e.Key)
	case ErrorKindConflict:
		msg = fmt.Sprintf("%s %q conflict", e.Entity, e.Key)
	case ErrorKindUnavailable:
		msg = fmt.Sprintf("%s store unavailable", e.Entity)
	default:
		msg = fmt.Sprintf("%s store error", e.Entity)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the underlying error.
func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *StoreError) IsNotFound() bool    { return e != nil && e.Kind == ErrorKindNotFound }
func (e *StoreError) IsConflict() bool    { return e != nil && e.Kind == ErrorKindConflict }
func (e *StoreError) IsUnavailable() bool { return e != nil && e.Kind == ErrorKindUnavailable }

// NewNotFoundError reports a missing entity.
func NewNotFoundError(entity, key string) *StoreError {
	return &StoreError{Kind: ErrorKindNotFound, Entity: entity, Key: key}
}

// NewConflictError reports a uniqueness or concurrency conflict.
func NewConflictError(entity, key string, err error) *StoreError {
	return &StoreError{Kind: ErrorKindConflict, Entity: entity, Key: key, Err: err}
}

// NewUnavailableError wraps a transport or driver failure.
func NewUnavailableError(entity string, err error) *StoreError {
	return &StoreError{Kind: ErrorKindUnavailable, Entity: entity, Err: err}
}

// WrapError categorises err as unknown unless it already is a RepositoryError.
func WrapError(entity string, err error) error {
	if err == nil {
		return nil
	}
	var repoErr RepositoryError
	if errors.As(err, &repoErr) {
		return err
	}
	return &StoreError{Kind: ErrorKindUnknown, Entity: entity, Err: err}
}

// IsNotFound reports whether err is a RepositoryError signalling a missing entity.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
