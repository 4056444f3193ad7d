// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BidMart Contributors

// Package memory provides an in-process docstore.Store.
//
// Transactions are serialized with each other. Writes made inside a
// transaction are staged in an overlay that the transaction itself can read
// and are applied to the store in one step on commit.
package memory

import (
	"context"
	"sync"

	"github.com/samber/oops"

	"github.com/bidmart/bidmart/internal/docstore"
)

// Compile-time interface check.
var _ docstore.Store = (*Store)(nil)

type docKey struct {
	collection string
	id         string
}

// Store is a thread-safe in-memory document store.
type Store struct {
	mu   sync.RWMutex // protects docs
	docs map[docKey]map[string]any
	txMu sync.Mutex // serializes transactions
}

// New creates an empty store.
func New() *Store {
	return &Store{docs: make(map[docKey]map[string]any)}
}

// Get implements docstore.Reader.
func (s *Store) Get(ctx context.Context, collection, id string) (*docstore.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.With("operation", "get").Wrap(err)
	}
	s.mu.RLock()
	data, ok := s.docs[docKey{collection, id}]
	s.mu.RUnlock()
	return snapshot(collection, id, data, ok), nil
}

// Set implements docstore.Writer.
func (s *Store) Set(ctx context.Context, collection, id string, data map[string]any) error {
	if err := ctx.Err(); err != nil {
		return oops.With("operation", "set").Wrap(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[docKey{collection, id}] = cloneOrEmpty(data)
	return nil
}

// Update implements docstore.Writer.
func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return oops.With("operation", "update").Wrap(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := docKey{collection, id}
	current, ok := s.docs[key]
	if !ok {
		return notFound(collection, id)
	}
	updated, err := docstore.ApplyFields(current, fields)
	if err != nil {
		return err
	}
	s.docs[key] = updated
	return nil
}

// Delete implements docstore.Writer.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return oops.With("operation", "delete").Wrap(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, docKey{collection, id})
	return nil
}

// Len returns the number of documents stored in collection.
func (s *Store) Len(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for k := range s.docs {
		if k.collection == collection {
			n++
		}
	}
	return n
}

// RunTransaction implements docstore.Store. fn runs exactly once.
func (s *Store) RunTransaction(ctx context.Context, fn docstore.TxFunc) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return oops.With("operation", "begin transaction").Wrap(err)
	}

	tx := &txn{store: s, staged: make(map[docKey]stagedDoc)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return oops.Code("TX_COMMIT_FAILED").Wrap(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range tx.order {
		st := tx.staged[key]
		if st.deleted {
			delete(s.docs, key)
			continue
		}
		s.docs[key] = st.data
	}
	return nil
}

// stagedDoc is the pending state of one document inside a transaction.
type stagedDoc struct {
	data    map[string]any
	deleted bool
}

// txn stages writes for a single RunTransaction call.
type txn struct {
	store  *Store
	staged map[docKey]stagedDoc
	order  []docKey // first-touch order, applied on commit
}

func (t *txn) current(key docKey) (map[string]any, bool) {
	if st, ok := t.staged[key]; ok {
		if st.deleted {
			return nil, false
		}
		return st.data, true
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	data, ok := t.store.docs[key]
	return data, ok
}

func (t *txn) stage(key docKey, st stagedDoc) {
	if _, ok := t.staged[key]; !ok {
		t.order = append(t.order, key)
	}
	t.staged[key] = st
}

func (t *txn) Get(ctx context.Context, collection, id string) (*docstore.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.With("operation", "tx get").Wrap(err)
	}
	data, ok := t.current(docKey{collection, id})
	return snapshot(collection, id, data, ok), nil
}

func (t *txn) Set(ctx context.Context, collection, id string, data map[string]any) error {
	if err := ctx.Err(); err != nil {
		return oops.With("operation", "tx set").Wrap(err)
	}
	t.stage(docKey{collection, id}, stagedDoc{data: cloneOrEmpty(data)})
	return nil
}

func (t *txn) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return oops.With("operation", "tx update").Wrap(err)
	}
	key := docKey{collection, id}
	current, ok := t.current(key)
	if !ok {
		return notFound(collection, id)
	}
	updated, err := docstore.ApplyFields(current, fields)
	if err != nil {
		return err
	}
	t.stage(key, stagedDoc{data: updated})
	return nil
}

func (t *txn) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return oops.With("operation", "tx delete").Wrap(err)
	}
	t.stage(docKey{collection, id}, stagedDoc{deleted: true})
	return nil
}

func snapshot(collection, id string, data map[string]any, exists bool) *docstore.Snapshot {
	snap := &docstore.Snapshot{Collection: collection, ID: id, Exists: exists}
	if exists {
		snap.Data = docstore.Clone(data)
	}
	return snap
}

func cloneOrEmpty(data map[string]any) map[string]any {
	if data == nil {
		return map[string]any{}
	}
	return docstore.Clone(data)
}

func notFound(collection, id string) error {
	return oops.Code("DOCUMENT_NOT_FOUND").
		With("collection", collection).
		With("id", id).
		Wrap(docstore.ErrNotFound)
}
