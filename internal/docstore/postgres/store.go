// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BidMart Contributors

// Package postgres implements docstore.Store on a PostgreSQL JSONB table.
//
// Documents live in the documents table created by the store migrations.
// Transactions run at REPEATABLE READ and lock the rows they read, so two
// transactions touching the same document serialize. Transactions aborted
// with a serialization failure or deadlock are retried.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/bidmart/bidmart/internal/docstore"
)

// Default retry settings for RunTransaction.
const (
	DefaultMaxAttempts = 5
	DefaultBaseBackoff = 10 * time.Millisecond
)

// Compile-time interface check.
var _ docstore.Store = (*Store)(nil)

// querier is the subset of pgx shared by pools and transactions.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// poolIface is the subset of pgxpool.Pool used by Store.
// pgxmock.PgxPoolIface satisfies it in tests.
type poolIface interface {
	querier
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// Store is a PostgreSQL-backed document store.
type Store struct {
	pool        poolIface
	maxAttempts int
	baseBackoff time.Duration
	logger      *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithMaxAttempts sets how many times a conflicting transaction is attempted.
func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithBaseBackoff sets the first retry delay; later delays grow exponentially.
func WithBaseBackoff(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.baseBackoff = d
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a store on pool.
func New(pool poolIface, opts ...Option) *Store {
	s := &Store{
		pool:        pool,
		maxAttempts: DefaultMaxAttempts,
		baseBackoff: DefaultBaseBackoff,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const (
	selectDocument = `SELECT data FROM documents WHERE collection = $1 AND id = $2`

	selectDocumentForUpdate = selectDocument + ` FOR UPDATE`

	upsertDocument = `INSERT INTO documents (collection, id, data)
		VALUES ($1, $2, $3)
		ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`

	updateDocument = `UPDATE documents SET data = $3, updated_at = now() WHERE collection = $1 AND id = $2`

	deleteDocument = `DELETE FROM documents WHERE collection = $1 AND id = $2`
)

// Get implements docstore.Reader.
func (s *Store) Get(ctx context.Context, collection, id string) (*docstore.Snapshot, error) {
	return get(ctx, s.pool, selectDocument, collection, id)
}

// Set implements docstore.Writer.
func (s *Store) Set(ctx context.Context, collection, id string, data map[string]any) error {
	return set(ctx, s.pool, collection, id, data)
}

// Update implements docstore.Writer. The read-modify-write runs in its own
// transaction.
func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	return s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Txn) error {
		return tx.Update(ctx, collection, id, fields)
	})
}

// Delete implements docstore.Writer.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	return remove(ctx, s.pool, collection, id)
}

// RunTransaction implements docstore.Store. fn may run more than once when
// PostgreSQL aborts the transaction with a retryable conflict.
func (s *Store) RunTransaction(ctx context.Context, fn docstore.TxFunc) error {
	backoff := retry.WithMaxRetries(uint64(s.maxAttempts-1), retry.NewExponential(s.baseBackoff))

	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := s.runOnce(ctx, fn)
		if err != nil && isRetryable(err) {
			s.logger.DebugContext(ctx, "document transaction conflict, retrying",
				"attempt", attempt,
				"max_attempts", s.maxAttempts,
				"error", err)
			return retry.RetryableError(err)
		}
		return err
	})
}

func (s *Store) runOnce(ctx context.Context, fn docstore.TxFunc) error {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return oops.Code("TX_BEGIN_FAILED").Wrap(err)
	}

	if err := fn(ctx, &txn{tx: pgTx}); err != nil {
		s.rollback(ctx, pgTx)
		return err
	}
	if err := pgTx.Commit(ctx); err != nil {
		return oops.Code("TX_COMMIT_FAILED").Wrap(err)
	}
	return nil
}

func (s *Store) rollback(ctx context.Context, tx pgx.Tx) {
	// The caller's context may already be cancelled; rollback must still reach the server.
	if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		s.logger.WarnContext(ctx, "document transaction rollback failed", "error", err)
	}
}

// isRetryable reports whether err is a PostgreSQL conflict worth retrying.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
		return true
	default:
		return false
	}
}

// txn is the docstore.Txn for one attempt of RunTransaction.
type txn struct {
	tx pgx.Tx
}

func (t *txn) Get(ctx context.Context, collection, id string) (*docstore.Snapshot, error) {
	return get(ctx, t.tx, selectDocumentForUpdate, collection, id)
}

func (t *txn) Set(ctx context.Context, collection, id string, data map[string]any) error {
	return set(ctx, t.tx, collection, id, data)
}

func (t *txn) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	snap, err := get(ctx, t.tx, selectDocumentForUpdate, collection, id)
	if err != nil {
		return err
	}
	if !snap.Exists {
		return oops.Code("DOCUMENT_NOT_FOUND").
			With("collection", collection).
			With("id", id).
			Wrap(docstore.ErrNotFound)
	}
	updated, err := docstore.ApplyFields(snap.Data, fields)
	if err != nil {
		return err
	}
	encoded, err := encode(collection, id, updated)
	if err != nil {
		return err
	}
	if _, err := t.tx.Exec(ctx, updateDocument, collection, id, encoded); err != nil {
		return oops.With("operation", "update document").
			With("collection", collection).
			With("id", id).
			Wrap(err)
	}
	return nil
}

func (t *txn) Delete(ctx context.Context, collection, id string) error {
	return remove(ctx, t.tx, collection, id)
}

func get(ctx context.Context, q querier, query, collection, id string) (*docstore.Snapshot, error) {
	snap := &docstore.Snapshot{Collection: collection, ID: id}

	var raw []byte
	err := q.QueryRow(ctx, query, collection, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return snap, nil
	}
	if err != nil {
		return nil, oops.With("operation", "get document").
			With("collection", collection).
			With("id", id).
			Wrap(err)
	}

	data := map[string]any{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, oops.Code("DOCUMENT_CORRUPT").
			With("collection", collection).
			With("id", id).
			Wrap(err)
	}
	snap.Exists = true
	snap.Data = data
	return snap, nil
}

func set(ctx context.Context, q querier, collection, id string, data map[string]any) error {
	encoded, err := encode(collection, id, data)
	if err != nil {
		return err
	}
	if _, err := q.Exec(ctx, upsertDocument, collection, id, encoded); err != nil {
		return oops.With("operation", "set document").
			With("collection", collection).
			With("id", id).
			Wrap(err)
	}
	return nil
}

func remove(ctx context.Context, q querier, collection, id string) error {
	if _, err := q.Exec(ctx, deleteDocument, collection, id); err != nil {
		return oops.With("operation", "delete document").
			With("collection", collection).
			With("id", id).
			Wrap(err)
	}
	return nil
}

func encode(collection, id string, data map[string]any) ([]byte, error) {
	if data == nil {
		data = map[string]any{}
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, oops.Code("DOCUMENT_ENCODE_FAILED").
			With("collection", collection).
			With("id", id).
			Wrap(err)
	}
	return encoded, nil
}
