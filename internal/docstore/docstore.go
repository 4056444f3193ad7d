// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BidMart Contributors

// Package docstore defines the document store contract used by BidMart.
//
// Documents are JSON-like maps addressed by (collection, id). Field updates
// accept dotted paths ("price.amount") that address nested maps.
package docstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when an update targets a document that does not exist.
var ErrNotFound = errors.New("document not found")

// Snapshot is the result of reading a document. Exists is false when no
// document is stored under the requested id; Data is nil in that case.
type Snapshot struct {
	Collection string
	ID         string
	Exists     bool
	Data       map[string]any
}

// Field returns the value at a dotted path in the snapshot data.
func (s *Snapshot) Field(path string) (any, bool) {
	if s == nil || !s.Exists {
		return nil, false
	}
	return GetField(s.Data, path)
}

// Reader reads documents.
type Reader interface {
	// Get returns the document snapshot. A missing document is not an error:
	// the snapshot reports Exists == false.
	Get(ctx context.Context, collection, id string) (*Snapshot, error)
}

// Writer mutates documents.
type Writer interface {
	// Set creates or replaces the document.
	Set(ctx context.Context, collection, id string, data map[string]any) error

	// Update sets the given fields (dotted paths allowed) on an existing document.
	// Returns an error wrapping ErrNotFound when the document does not exist.
	Update(ctx context.Context, collection, id string, fields map[string]any) error

	// Delete removes the document. Deleting a missing document is not an error.
	Delete(ctx context.Context, collection, id string) error
}

// Txn is a transaction-scoped view of the store. Writes are staged and only
// become visible to other readers once the transaction commits.
type Txn interface {
	Reader
	Writer
}

// TxFunc is the body of a transaction. Returning an error aborts the
// transaction and discards every staged write.
type TxFunc func(ctx context.Context, tx Txn) error

// Store is a document store with atomic multi-document transactions.
type Store interface {
	Reader
	Writer

	// RunTransaction runs fn inside one atomic unit and commits when fn returns nil.
	// The error returned by fn is returned unchanged. Implementations may run fn
	// more than once when the backend reports a retryable conflict.
	RunTransaction(ctx context.Context, fn TxFunc) error
}
