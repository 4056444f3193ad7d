// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BidMart Contributors

package bulk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/oops"

	"github.com/bidmart/bidmart/internal/docstore"
)

// Document fields written by the built-in actions.
const (
	FieldActive    = "active"
	FieldStatus    = "status"
	FieldDeleted   = "deleted"
	FieldDeletedAt = "deletedAt"
	FieldUpdatedAt = "updatedAt"

	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Request action names understood by ActionFor.
const (
	ActionActivate    = "activate"
	ActionDeactivate  = "deactivate"
	ActionSoftDelete  = "softDelete"
	ActionHardDelete  = "hardDelete"
	ActionDelete      = "delete"
	ActionUpdate      = "update"
	ActionUpdateField = "updateField"
)

// Item is a resolved document handed to an Action.
//
// Writer is the store itself for Execute and the transaction for
// ExecuteInTransaction, so actions never need to know which mode they run in.
type Item struct {
	Collection string
	Doc        *docstore.Snapshot
	Data       map[string]any
	Writer     docstore.Writer
	Now        time.Time
}

// ID returns the document id.
func (it Item) ID() string {
	return it.Doc.ID
}

// Update sets fields on the item's document.
func (it Item) Update(ctx context.Context, fields map[string]any) error {
	return it.Writer.Update(ctx, it.Collection, it.Doc.ID, fields)
}

// Set replaces the item's document.
func (it Item) Set(ctx context.Context, data map[string]any) error {
	return it.Writer.Set(ctx, it.Collection, it.Doc.ID, data)
}

// Delete removes the item's document.
func (it Item) Delete(ctx context.Context) error {
	return it.Writer.Delete(ctx, it.Collection, it.Doc.ID)
}

// Action mutates one resolved document.
type Action interface {
	// Name identifies the action in logs, metrics and audit records.
	Name() string

	// Apply performs the mutation. A returned error fails the item.
	Apply(ctx context.Context, item Item) error
}

// collectionChecker is implemented by actions that reject an empty
// collection before any document lookup.
type collectionChecker interface {
	checkCollection(collection string) error
}

func requireCollection(collection, action string) error {
	if collection == "" {
		//nolint:staticcheck // message text is returned to API callers verbatim
		return fmt.Errorf("Collection name is required for bulk %s", action)
	}
	return nil
}

// Activate marks documents active.
type Activate struct{}

// Name implements Action.
func (Activate) Name() string { return ActionActivate }

func (Activate) checkCollection(collection string) error {
	return requireCollection(collection, ActionActivate)
}

// Apply implements Action.
func (Activate) Apply(ctx context.Context, item Item) error {
	return item.Update(ctx, map[string]any{
		FieldActive:    true,
		FieldStatus:    StatusActive,
		FieldUpdatedAt: item.Now,
	})
}

// Deactivate marks documents inactive.
type Deactivate struct{}

// Name implements Action.
func (Deactivate) Name() string { return ActionDeactivate }

func (Deactivate) checkCollection(collection string) error {
	return requireCollection(collection, ActionDeactivate)
}

// Apply implements Action.
func (Deactivate) Apply(ctx context.Context, item Item) error {
	return item.Update(ctx, map[string]any{
		FieldActive:    false,
		FieldStatus:    StatusInactive,
		FieldUpdatedAt: item.Now,
	})
}

// SoftDelete flags documents as deleted without removing them.
type SoftDelete struct{}

// Name implements Action.
func (SoftDelete) Name() string { return ActionSoftDelete }

// Apply implements Action.
func (SoftDelete) Apply(ctx context.Context, item Item) error {
	return item.Update(ctx, map[string]any{
		FieldDeleted:   true,
		FieldDeletedAt: item.Now,
		FieldUpdatedAt: item.Now,
	})
}

// HardDelete removes documents.
type HardDelete struct{}

// Name implements Action.
func (HardDelete) Name() string { return ActionHardDelete }

// Apply implements Action.
func (HardDelete) Apply(ctx context.Context, item Item) error {
	return item.Delete(ctx)
}

// UpdateField sets a single, possibly dotted, field. A nil Value stores null.
type UpdateField struct {
	Path  string
	Value any
}

// Name implements Action.
func (UpdateField) Name() string { return ActionUpdateField }

// Apply implements Action.
func (a UpdateField) Apply(ctx context.Context, item Item) error {
	if _, err := docstore.SplitPath(a.Path); err != nil {
		return err
	}
	return item.Update(ctx, map[string]any{
		a.Path:         a.Value,
		FieldUpdatedAt: item.Now,
	})
}

// Update merges the request data into each document.
type Update struct{}

// Name implements Action.
func (Update) Name() string { return ActionUpdate }

// Apply implements Action.
func (Update) Apply(ctx context.Context, item Item) error {
	fields := make(map[string]any, len(item.Data)+1)
	for k, v := range item.Data {
		fields[k] = v
	}
	fields[FieldUpdatedAt] = item.Now
	return item.Update(ctx, fields)
}

// HandlerFunc is a caller-supplied per-item mutation.
type HandlerFunc func(ctx context.Context, item Item) error

// Custom wraps a HandlerFunc as an Action.
type Custom struct {
	Label string
	Fn    HandlerFunc
}

// Name implements Action.
func (c Custom) Name() string {
	if c.Label == "" {
		return "custom"
	}
	return c.Label
}

// Apply implements Action.
func (c Custom) Apply(ctx context.Context, item Item) error {
	if c.Fn == nil {
		return errors.New("custom action has no handler")
	}
	return c.Fn(ctx, item)
}

// ActionFor resolves a request action name to a built-in Action.
// updateField reads its path from data["field"] and its value from data["value"].
func ActionFor(name string, data map[string]any) (Action, error) {
	switch name {
	case ActionActivate:
		return Activate{}, nil
	case ActionDeactivate:
		return Deactivate{}, nil
	case ActionSoftDelete:
		return SoftDelete{}, nil
	case ActionHardDelete, ActionDelete:
		return HardDelete{}, nil
	case ActionUpdate:
		return Update{}, nil
	case ActionUpdateField:
		path, _ := data["field"].(string)
		if path == "" {
			return nil, oops.Code("BULK_INVALID_ACTION").
				With("action", name).
				Errorf("updateField requires a non-empty data.field")
		}
		return UpdateField{Path: path, Value: data["value"]}, nil
	default:
		return nil, oops.Code("BULK_UNKNOWN_ACTION").
			With("action", name).
			Errorf("unsupported bulk action %q", name)
	}
}
