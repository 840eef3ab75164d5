package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
)

const (
	defaultTxAttempts = 5
	defaultTxTimeout  = 15 * time.Second
)

// TxFunc is executed within a Firestore transaction.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// TxOption customises transaction behaviour.
type TxOption func(*txConfig)

type txConfig struct {
	attempts int
	timeout  time.Duration
}

// WithTxAttempts overrides the retry attempts for a transaction.
func WithTxAttempts(attempts int) TxOption {
	return func(cfg *txConfig) {
		if attempts > 0 {
			cfg.attempts = attempts
		}
	}
}

// WithTxTimeout sets a timeout for the transaction context.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(cfg *txConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// RunTransaction executes fn within a transaction on the provided client.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc, opts ...TxOption) error {
	if client == nil {
		return errors.New("firestore: client is nil")
	}
	if fn == nil {
		return errors.New("firestore: transaction function is nil")
	}

	cfg := txConfig{attempts: defaultTxAttempts, timeout: defaultTxTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	if cfg.timeout > 0 {
		if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > cfg.timeout {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
			defer cancel()
		}
	}

	err := client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(ctx, tx)
	}, firestore.MaxAttempts(cfg.attempts))
	return WrapError("transaction", err)
}

type txKey struct{}

// txState buffers writes until the callback returns. Firestore requires every read of a
// transaction to happen before its first write, so repositories stage writes here and later reads
// of a staged document observe the staged value.
type txState struct {
	tx     *firestore.Transaction
	order  []string
	staged map[string]stagedWrite
}

type stagedWrite struct {
	ref    *firestore.DocumentRef
	value  any
	create bool
}

func (s *txState) stage(ref *firestore.DocumentRef, value any, create bool) {
	path := ref.Path
	if prev, ok := s.staged[path]; ok {
		create = create || prev.create
	} else {
		s.order = append(s.order, path)
	}
	s.staged[path] = stagedWrite{ref: ref, value: value, create: create}
}

func (s *txState) flush() error {
	for _, path := range s.order {
		write := s.staged[path]
		var err error
		if write.create {
			err = s.tx.Create(write.ref, write.value)
		} else {
			err = s.tx.Set(write.ref, write.value)
		}
		if err != nil {
			return fmt.Errorf("firestore: stage write %s: %w", path, err)
		}
	}
	return nil
}

func stateFrom(ctx context.Context) (*txState, bool) {
	state, ok := ctx.Value(txKey{}).(*txState)
	return state, ok
}

// UnitOfWork implements repositories.UnitOfWork on top of Firestore transactions. The callback may
// run more than once when Firestore retries an aborted transaction.
type UnitOfWork struct {
	provider *Provider
	opts     []TxOption
}

// NewUnitOfWork binds a unit of work to the provider's client.
func NewUnitOfWork(provider *Provider, opts ...TxOption) *UnitOfWork {
	return &UnitOfWork{provider: provider, opts: opts}
}

// RunInTx runs fn in a transaction. Nested calls join the outer transaction.
func (u *UnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := stateFrom(ctx); ok {
		return fn(ctx)
	}
	return u.provider.RunTransaction(ctx, func(txCtx context.Context, tx *firestore.Transaction) error {
		state := &txState{tx: tx, staged: make(map[string]stagedWrite)}
		if err := fn(context.WithValue(txCtx, txKey{}, state)); err != nil {
			return err
		}
		return state.flush()
	}, u.opts...)
}

// InTransaction reports whether ctx carries an open unit of work.
func InTransaction(ctx context.Context) bool {
	_, ok := stateFrom(ctx)
	return ok
}

// Load reads the document into a T. Inside a unit of work the read joins the transaction and a
// staged write of the same document wins over the stored one.
func Load[T any](ctx context.Context, ref *firestore.DocumentRef) (T, error) {
	var zero T
	var (
		snap *firestore.DocumentSnapshot
		err  error
	)
	if state, ok := stateFrom(ctx); ok {
		if write, staged := state.staged[ref.Path]; staged {
			value, ok := write.value.(T)
			if !ok {
				return zero, fmt.Errorf("firestore: staged %s holds %T", ref.Path, write.value)
			}
			return value, nil
		}
		snap, err = state.tx.Get(ref)
	} else {
		snap, err = ref.Get(ctx)
	}
	if err != nil {
		return zero, WrapError("get "+ref.Path, err)
	}

	var value T
	if err := snap.DataTo(&value); err != nil {
		return zero, fmt.Errorf("firestore: decode %s: %w", ref.Path, err)
	}
	return value, nil
}

// Save upserts the document, staging the write inside a unit of work.
func Save(ctx context.Context, ref *firestore.DocumentRef, value any) error {
	if state, ok := stateFrom(ctx); ok {
		state.stage(ref, value, false)
		return nil
	}
	if _, err := ref.Set(ctx, value); err != nil {
		return WrapError("set "+ref.Path, err)
	}
	return nil
}

// Create writes a document that must not exist yet. Inside a unit of work the existence check
// happens at commit and fails the whole transaction with AlreadyExists.
func Create(ctx context.Context, ref *firestore.DocumentRef, value any) error {
	if state, ok := stateFrom(ctx); ok {
		state.stage(ref, value, true)
		return nil
	}
	if _, err := ref.Create(ctx, value); err != nil {
		return WrapError("create "+ref.Path, err)
	}
	return nil
}

// Documents runs the query, inside the transaction when one is open.
func Documents(ctx context.Context, query firestore.Query) *firestore.DocumentIterator {
	if state, ok := stateFrom(ctx); ok {
		return state.tx.Documents(query)
	}
	return query.Documents(ctx)
}
