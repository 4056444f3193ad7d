// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BidMart Contributors

package access

import (
	"context"
	"errors"
	"sync"

	"github.com/samber/oops"

	"github.com/bidmart/bidmart/internal/docstore"
)

// User documents and the field holding their role.
const (
	UsersCollection = "users"
	RoleField       = "role"
)

// ErrUserNotFound is returned by directories when no user record exists.
var ErrUserNotFound = errors.New("user not found")

// Compile-time interface checks.
var (
	_ Directory = (*DocumentDirectory)(nil)
	_ Directory = (*StaticDirectory)(nil)
)

// DocumentDirectory reads roles from user documents in the document store.
type DocumentDirectory struct {
	store docstore.Reader
}

// NewDocumentDirectory creates a directory over store.
func NewDocumentDirectory(store docstore.Reader) *DocumentDirectory {
	return &DocumentDirectory{store: store}
}

// RoleOf implements Directory. A user document without a string role field
// resolves to the empty role, which the gate treats as unrecognized.
func (d *DocumentDirectory) RoleOf(ctx context.Context, userID string) (string, error) {
	snap, err := d.store.Get(ctx, UsersCollection, userID)
	if err != nil {
		return "", oops.Code("USER_LOOKUP_FAILED").With("user_id", userID).Wrap(err)
	}
	if !snap.Exists {
		return "", oops.Code("USER_NOT_FOUND").With("user_id", userID).Wrap(ErrUserNotFound)
	}
	role, _ := snap.Data[RoleField].(string)
	return role, nil
}

// StaticDirectory is an in-memory Directory for tests and local tooling.
//
// Thread-safety: roles is protected by mu.
type StaticDirectory struct {
	mu    sync.RWMutex
	roles map[string]string // userID → stored role
}

// NewStaticDirectory creates a directory seeded with roles (userID → role).
func NewStaticDirectory(roles map[string]string) *StaticDirectory {
	d := &StaticDirectory{roles: make(map[string]string, len(roles))}
	for id, role := range roles {
		d.roles[id] = role
	}
	return d
}

// AssignRole stores role for userID, replacing any previous value.
func (d *StaticDirectory) AssignRole(userID, role string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.roles[userID] = role
}

// RevokeRole forgets userID.
func (d *StaticDirectory) RevokeRole(userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.roles, userID)
}

// RoleOf implements Directory.
func (d *StaticDirectory) RoleOf(_ context.Context, userID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	role, ok := d.roles[userID]
	if !ok {
		return "", oops.Code("USER_NOT_FOUND").With("user_id", userID).Wrap(ErrUserNotFound)
	}
	return role, nil
}
