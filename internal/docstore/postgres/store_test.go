// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BidMart Contributors

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bidmart/bidmart/internal/docstore"
	"github.com/bidmart/bidmart/pkg/errutil"
)

var repeatableRead = pgx.TxOptions{IsoLevel: pgx.RepeatableRead}

func newMockStore(t *testing.T, opts ...Option) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	t.Cleanup(mock.Close)
	opts = append([]Option{WithBaseBackoff(time.Millisecond)}, opts...)
	return New(mock, opts...), mock
}

func TestStore_Get(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		exists    bool
		data      map[string]any
		errCode   string
		wantErr   bool
	}{
		{
			name: "existing document",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT data FROM documents`).
					WithArgs("products", "p1").
					WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow([]byte(`{"name":"lamp","price":{"amount":10}}`)))
			},
			exists: true,
			data:   map[string]any{"name": "lamp", "price": map[string]any{"amount": 10.0}},
		},
		{
			name: "missing document",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT data FROM documents`).
					WithArgs("products", "p1").
					WillReturnRows(pgxmock.NewRows([]string{"data"}))
			},
			exists: false,
		},
		{
			name: "corrupt document",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT data FROM documents`).
					WithArgs("products", "p1").
					WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow([]byte(`[1,2]`)))
			},
			wantErr: true,
			errCode: "DOCUMENT_CORRUPT",
		},
		{
			name: "database error",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT data FROM documents`).
					WithArgs("products", "p1").
					WillReturnError(errors.New("connection refused"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			tt.setupMock(mock)

			snap, err := s.Get(context.Background(), "products", "p1")
			if tt.wantErr {
				require.Error(t, err)
				if tt.errCode != "" {
					errutil.AssertErrorCode(t, err, tt.errCode)
				}
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.exists, snap.Exists)
				assert.Equal(t, tt.data, snap.Data)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStore_SetAndDelete(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec(`INSERT INTO documents`).
		WithArgs("products", "p1", []byte(`{"name":"lamp"}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO documents`).
		WithArgs("products", "p2", []byte(`{}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM documents`).
		WithArgs("products", "p1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	require.NoError(t, s.Set(ctx, "products", "p1", map[string]any{"name": "lamp"}))
	require.NoError(t, s.Set(ctx, "products", "p2", nil))
	require.NoError(t, s.Delete(ctx, "products", "p1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_SetUnencodable(t *testing.T) {
	s, mock := newMockStore(t)

	err := s.Set(context.Background(), "products", "p1", map[string]any{"ch": make(chan int)})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "DOCUMENT_ENCODE_FAILED")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Update(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBeginTx(repeatableRead)
	mock.ExpectQuery(`SELECT data FROM documents`).
		WithArgs("products", "p1").
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow([]byte(`{"name":"lamp"}`)))
	mock.ExpectExec(`UPDATE documents SET data`).
		WithArgs("products", "p1", []byte(`{"name":"lamp","price":{"amount":12}}`)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := s.Update(context.Background(), "products", "p1", map[string]any{"price.amount": 12})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpdateMissing(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBeginTx(repeatableRead)
	mock.ExpectQuery(`SELECT data FROM documents`).
		WithArgs("products", "ghost").
		WillReturnRows(pgxmock.NewRows([]string{"data"}))
	mock.ExpectRollback()

	err := s.Update(context.Background(), "products", "ghost", map[string]any{"a": 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, docstore.ErrNotFound)
	errutil.AssertErrorCode(t, err, "DOCUMENT_NOT_FOUND")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_RunTransaction_CallbackErrorRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	boom := errors.New("Transaction failed")

	mock.ExpectBeginTx(repeatableRead)
	mock.ExpectExec(`DELETE FROM documents`).
		WithArgs("products", "p1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectRollback()

	err := s.RunTransaction(context.Background(), func(ctx context.Context, tx docstore.Txn) error {
		require.NoError(t, tx.Delete(ctx, "products", "p1"))
		return boom
	})

	assert.Same(t, boom, err, "callback error is returned unchanged")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_RunTransaction_BeginFails(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBeginTx(repeatableRead).WillReturnError(errors.New("too many connections"))

	called := false
	err := s.RunTransaction(context.Background(), func(context.Context, docstore.Txn) error {
		called = true
		return nil
	})

	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "TX_BEGIN_FAILED")
	assert.False(t, called)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_RunTransaction_CommitFails(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBeginTx(repeatableRead)
	mock.ExpectCommit().WillReturnError(errors.New("connection lost"))

	err := s.RunTransaction(context.Background(), func(context.Context, docstore.Txn) error { return nil })

	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "TX_COMMIT_FAILED")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_RunTransaction_RetriesSerializationFailure(t *testing.T) {
	s, mock := newMockStore(t, WithMaxAttempts(3))
	conflict := &pgconn.PgError{Code: pgerrcode.SerializationFailure, Message: "could not serialize access"}

	mock.ExpectBeginTx(repeatableRead)
	mock.ExpectExec(`DELETE FROM documents`).WithArgs("products", "p1").WillReturnError(conflict)
	mock.ExpectRollback()
	mock.ExpectBeginTx(repeatableRead)
	mock.ExpectExec(`DELETE FROM documents`).WithArgs("products", "p1").WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	attempts := 0
	err := s.RunTransaction(context.Background(), func(ctx context.Context, tx docstore.Txn) error {
		attempts++
		return tx.Delete(ctx, "products", "p1")
	})

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_RunTransaction_GivesUpAfterMaxAttempts(t *testing.T) {
	s, mock := newMockStore(t, WithMaxAttempts(2))
	deadlock := &pgconn.PgError{Code: pgerrcode.DeadlockDetected, Message: "deadlock detected"}

	for i := 0; i < 2; i++ {
		mock.ExpectBeginTx(repeatableRead)
		mock.ExpectCommit().WillReturnError(deadlock)
	}

	attempts := 0
	err := s.RunTransaction(context.Background(), func(context.Context, docstore.Txn) error {
		attempts++
		return nil
	})

	require.Error(t, err)
	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	assert.Equal(t, pgerrcode.DeadlockDetected, pgErr.Code)
	assert.Equal(t, 2, attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(&pgconn.PgError{Code: pgerrcode.SerializationFailure}))
	assert.True(t, isRetryable(&pgconn.PgError{Code: pgerrcode.DeadlockDetected}))
	assert.False(t, isRetryable(&pgconn.PgError{Code: pgerrcode.UniqueViolation}))
	assert.False(t, isRetryable(errors.New("plain")))
	assert.False(t, isRetryable(nil))
}
