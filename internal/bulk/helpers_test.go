// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BidMart Contributors

package bulk_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bidmart/bidmart/internal/bulk"
	"github.com/bidmart/bidmart/internal/docstore"
	"github.com/bidmart/bidmart/internal/docstore/memory"
)

var fixedNow = time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

// seed stores an empty-ish document for every id.
func seed(t *testing.T, s *memory.Store, collection string, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, s.Set(context.Background(), collection, id, map[string]any{"name": id}))
	}
}

func newExecutor(s docstore.Store, opts ...bulk.Option) *bulk.Executor {
	return bulk.NewExecutor(s, append([]bulk.Option{bulk.WithClock(fixedClock)}, opts...)...)
}

// faultyStore wraps a store and injects failures.
type faultyStore struct {
	docstore.Store

	getErr   map[string]error // id → error returned by Get
	txErr    error            // returned by RunTransaction instead of running fn
	updateTx error            // returned by transactional Update
}

func (f *faultyStore) Get(ctx context.Context, collection, id string) (*docstore.Snapshot, error) {
	if err := f.getErr[id]; err != nil {
		return nil, err
	}
	return f.Store.Get(ctx, collection, id)
}

func (f *faultyStore) RunTransaction(ctx context.Context, fn docstore.TxFunc) error {
	if f.txErr != nil {
		return f.txErr
	}
	return f.Store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Txn) error {
		return fn(ctx, &faultyTxn{Txn: tx, updateErr: f.updateTx})
	})
}

type faultyTxn struct {
	docstore.Txn
	updateErr error
}

func (t *faultyTxn) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	if t.updateErr != nil {
		return t.updateErr
	}
	return t.Txn.Update(ctx, collection, id, fields)
}

// countingAction succeeds and counts invocations.
type countingAction struct {
	mu    sync.Mutex
	calls []string
}

func (a *countingAction) Name() string { return "count" }

func (a *countingAction) Apply(_ context.Context, item bulk.Item) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, item.ID())
	return nil
}

func (a *countingAction) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

var errBoom = errors.New("boom")
