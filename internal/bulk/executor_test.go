// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BidMart Contributors

package bulk_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/bidmart/bidmart/internal/bulk"
	"github.com/bidmart/bidmart/internal/docstore/memory"
)

func TestExecute_AllSucceed(t *testing.T) {
	s := memory.New()
	seed(t, s, "products", "id1", "id2", "id3")
	action := &countingAction{}

	got := newExecutor(s).Execute(context.Background(), bulk.Request{
		ResourceCollection: "products",
		Action:             "count",
		IDs:                []string{"id1", "id2", "id3"},
	}, action)

	assert.Equal(t, bulk.Result{Success: true, SuccessCount: 3}, got)
	assert.Nil(t, got.Errors)
	assert.False(t, got.Partial())
	assert.Equal(t, []string{"id1", "id2", "id3"}, action.Calls())
}

func TestExecute_EmptyIDs(t *testing.T) {
	for _, ids := range [][]string{nil, {}} {
		action := &countingAction{}
		got := newExecutor(memory.New()).Execute(context.Background(), bulk.Request{
			ResourceCollection: "products",
			Action:             "update",
			IDs:                ids,
		}, action)

		assert.Equal(t, bulk.Result{Success: false, Message: "No items selected"}, got)
		assert.Empty(t, action.Calls(), "handler must not run")
	}
}

func TestExecute_UpdateScenario(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	seed(t, s, "products", "id1", "id2", "id3")
	req := bulk.Request{
		ResourceCollection: "products",
		Action:             "update",
		IDs:                []string{"id1", "id2", "id3"},
		Data:               map[string]any{"status": "active"},
	}

	got := newExecutor(s).Execute(ctx, req, nil)

	assert.Equal(t, bulk.Result{Success: true, SuccessCount: 3, FailedCount: 0}, got)
	for _, id := range req.IDs {
		snap, err := s.Get(ctx, "products", id)
		require.NoError(t, err)
		assert.Equal(t, "active", snap.Data["status"])
		assert.Equal(t, fixedNow, snap.Data["updatedAt"])
	}
}

func TestExecute_MissingItem(t *testing.T) {
	s := memory.New()
	seed(t, s, "products", "id1", "id3")

	got := newExecutor(s).Execute(context.Background(), bulk.Request{
		ResourceCollection: "products",
		Action:             "update",
		IDs:                []string{"id1", "id2", "id3"},
		Data:               map[string]any{"status": "active"},
	}, nil)

	assert.Equal(t, bulk.Result{
		Success:      true,
		SuccessCount: 2,
		FailedCount:  1,
		Errors:       []bulk.ItemError{{ID: "id2", Error: "Item not found"}},
	}, got)
	assert.True(t, got.Partial())
}

func TestExecute_ErrorsFollowInputOrder(t *testing.T) {
	s := memory.New()
	seed(t, s, "products", "a", "c", "e")

	got := newExecutor(s).Execute(context.Background(), bulk.Request{
		ResourceCollection: "products",
		Action:             "softDelete",
		IDs:                []string{"d", "a", "b", "c", "e", "f"},
	}, nil)

	assert.True(t, got.Success)
	assert.Equal(t, 3, got.SuccessCount)
	assert.Equal(t, 3, got.FailedCount)
	assert.Equal(t, []bulk.ItemError{
		{ID: "d", Error: "Item not found"},
		{ID: "b", Error: "Item not found"},
		{ID: "f", Error: "Item not found"},
	}, got.Errors)
}

func TestExecute_DuplicateIDsProcessedIndependently(t *testing.T) {
	s := memory.New()
	seed(t, s, "products", "x")
	action := &countingAction{}

	got := newExecutor(s).Execute(context.Background(), bulk.Request{
		ResourceCollection: "products",
		Action:             "count",
		IDs:                []string{"x", "x", "x"},
	}, action)

	assert.Equal(t, 3, got.SuccessCount)
	assert.Equal(t, []string{"x", "x", "x"}, action.Calls())
}

func TestExecute_Idempotent(t *testing.T) {
	s := memory.New()
	seed(t, s, "products", "a", "c")
	exec := newExecutor(s)
	req := bulk.Request{ResourceCollection: "products", Action: "activate", IDs: []string{"a", "b", "c"}}

	first := exec.Execute(context.Background(), req, nil)
	second := exec.Execute(context.Background(), req, nil)

	assert.Equal(t, first, second)
	assert.Equal(t, 2, second.SuccessCount)
	assert.Equal(t, 1, second.FailedCount)
}

func TestExecute_TypedNilErrorNamesItsType(t *testing.T) {
	s := memory.New()
	seed(t, s, "products", "a", "b")

	action := bulk.Custom{Label: "lookup", Fn: func(_ context.Context, item bulk.Item) error {
		if item.ID() == "b" {
			var missing *lookupError
			return missing
		}
		return nil
	}}

	got := newExecutor(s).Execute(context.Background(), bulk.Request{
		ResourceCollection: "products",
		Action:             "lookup",
		IDs:                []string{"a", "b"},
	}, action)

	assert.Equal(t, 1, got.SuccessCount)
	assert.Equal(t, []bulk.ItemError{{ID: "b", Error: "*bulk_test.lookupError"}}, got.Errors)
}

func TestExecute_HandlerFailuresAreIsolated(t *testing.T) {
	s := memory.New()
	seed(t, s, "products", "ok1", "err", "str", "nilpanic", "ok2")

	action := bulk.Custom{Label: "flaky", Fn: func(_ context.Context, item bulk.Item) error {
		switch item.ID() {
		case "err":
			return errors.New("price must be positive")
		case "str":
			panic("String error")
		case "nilpanic":
			var m map[string]int
			m["boom"]++
		}
		return nil
	}}

	got := newExecutor(s).Execute(context.Background(), bulk.Request{
		ResourceCollection: "products",
		Action:             "flaky",
		IDs:                []string{"ok1", "err", "str", "nilpanic", "ok2"},
	}, action)

	assert.True(t, got.Success)
	assert.Equal(t, 2, got.SuccessCount)
	assert.Equal(t, 3, got.FailedCount)
	require.Len(t, got.Errors, 3)
	assert.Equal(t, bulk.ItemError{ID: "err", Error: "price must be positive"}, got.Errors[0])
	assert.Equal(t, bulk.ItemError{ID: "str", Error: "String error"}, got.Errors[1])
	assert.Equal(t, "nilpanic", got.Errors[2].ID)
	assert.Contains(t, got.Errors[2].Error, "nil map")
}

func TestExecute_StoreErrorsAreItemFailures(t *testing.T) {
	s := memory.New()
	seed(t, s, "products", "a", "b")
	faulty := &faultyStore{Store: s, getErr: map[string]error{"a": errors.New("read timeout")}}

	got := newExecutor(faulty).Execute(context.Background(), bulk.Request{
		ResourceCollection: "products",
		Action:             "deactivate",
		IDs:                []string{"a", "b"},
	}, nil)

	assert.Equal(t, []bulk.ItemError{{ID: "a", Error: "read timeout"}}, got.Errors)
	assert.Equal(t, 1, got.SuccessCount)
}

func TestExecute_ActivateRequiresCollection(t *testing.T) {
	for _, tt := range []struct {
		action bulk.Action
		msg    string
	}{
		{bulk.Activate{}, "Collection name is required for bulk activate"},
		{bulk.Deactivate{}, "Collection name is required for bulk deactivate"},
	} {
		got := newExecutor(memory.New()).Execute(context.Background(), bulk.Request{
			Action: tt.action.Name(),
			IDs:    []string{"a", "b"},
		}, tt.action)

		assert.True(t, got.Success)
		assert.Equal(t, 2, got.FailedCount)
		assert.Equal(t, []bulk.ItemError{{ID: "a", Error: tt.msg}, {ID: "b", Error: tt.msg}}, got.Errors)
	}
}

func TestExecute_UnknownActionName(t *testing.T) {
	s := memory.New()
	seed(t, s, "products", "a")

	got := newExecutor(s).Execute(context.Background(), bulk.Request{
		ResourceCollection: "products",
		Action:             "explode",
		IDs:                []string{"a"},
	}, nil)

	assert.False(t, got.Success)
	assert.Contains(t, got.Message, "explode")
	assert.Zero(t, got.SuccessCount)
	assert.Zero(t, got.FailedCount)
}

type batchRecord struct {
	mode   bulk.Mode
	action string
	result bulk.Result
}

type recorderFunc func(batchRecord)

func (f recorderFunc) RecordBatch(mode bulk.Mode, _ string, action string, result bulk.Result, _ time.Duration) {
	f(batchRecord{mode: mode, action: action, result: result})
}

func TestExecute_RecordsBatch(t *testing.T) {
	s := memory.New()
	seed(t, s, "products", "a")
	var got []batchRecord
	exec := newExecutor(s, bulk.WithRecorder(recorderFunc(func(r batchRecord) { got = append(got, r) })))

	exec.Execute(context.Background(), bulk.Request{ResourceCollection: "products", Action: "activate", IDs: []string{"a"}}, nil)
	exec.ExecuteInTransaction(context.Background(), bulk.Request{ResourceCollection: "products", Action: "activate", IDs: []string{"a"}}, nil)
	exec.Execute(context.Background(), bulk.Request{ResourceCollection: "products", Action: "activate"}, nil)

	require.Len(t, got, 2, "empty batches are not recorded")
	assert.Equal(t, bulk.ModeIsolated, got[0].mode)
	assert.Equal(t, bulk.ModeTransactional, got[1].mode)
	assert.Equal(t, "activate", got[1].action)
	assert.Equal(t, 1, got[1].result.SuccessCount)
}

func TestExecute_ConcurrentKeepsInputOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := memory.New()
	ids := make([]string, 0, 60)
	for i := 0; i < 60; i++ {
		id := fmt.Sprintf("p%02d", i)
		ids = append(ids, id)
		if i%3 != 0 {
			seed(t, s, "products", id)
		}
	}

	var inFlight, peak atomic.Int32
	action := bulk.Custom{Fn: func(_ context.Context, item bulk.Item) error {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		if item.ID() == "p05" {
			return errBoom
		}
		return nil
	}}

	got := newExecutor(s, bulk.WithConcurrency(4)).Execute(context.Background(), bulk.Request{
		ResourceCollection: "products",
		Action:             "custom",
		IDs:                ids,
	}, action)

	assert.Equal(t, 60, got.SuccessCount+got.FailedCount)
	assert.Equal(t, 21, got.FailedCount)
	assert.LessOrEqual(t, peak.Load(), int32(4))

	var failedIDs []string
	for _, e := range got.Errors {
		failedIDs = append(failedIDs, e.ID)
	}
	var want []string
	for i := 0; i < 60; i++ {
		if i%3 == 0 || i == 5 {
			want = append(want, fmt.Sprintf("p%02d", i))
		}
	}
	assert.Equal(t, want, failedIDs)
}
