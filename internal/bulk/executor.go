// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BidMart Contributors

package bulk

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/bidmart/bidmart/internal/docstore"
)

//nolint:staticcheck // message text is returned to API callers verbatim
var errItemNotFound = errors.New(MsgItemNotFound)

const tracerName = "github.com/bidmart/bidmart/internal/bulk"

// Mode distinguishes the two executor entry points in metrics and logs.
type Mode string

// Execution modes.
const (
	ModeIsolated      Mode = "isolated"
	ModeTransactional Mode = "transactional"
)

// Recorder receives one observation per executed batch.
type Recorder interface {
	RecordBatch(mode Mode, collection, action string, result Result, elapsed time.Duration)
}

// Executor runs bulk actions against a document store.
// It holds no per-call state and is safe for concurrent use.
type Executor struct {
	store       docstore.Store
	logger      *slog.Logger
	recorder    Recorder
	tracer      trace.Tracer
	now         func() time.Time
	concurrency int
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithRecorder sets the batch metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Executor) { e.recorder = r }
}

// WithClock overrides the timestamp source used for updatedAt/deletedAt.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// WithConcurrency bounds how many items Execute processes at once.
// Values below 2 keep processing sequential. Results stay in input order
// either way. ExecuteInTransaction always stages sequentially.
func WithConcurrency(n int) Option {
	return func(e *Executor) { e.concurrency = n }
}

// WithTracerProvider sets the OpenTelemetry tracer provider.
// Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Executor) {
		if tp != nil {
			e.tracer = tp.Tracer(tracerName)
		}
	}
}

// NewExecutor creates an executor bound to store.
func NewExecutor(store docstore.Store, opts ...Option) *Executor {
	e := &Executor{
		store:       store,
		logger:      slog.Default(),
		tracer:      otel.Tracer(tracerName),
		now:         time.Now,
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// itemOutcome is the result of one id in Execute.
type itemOutcome struct {
	failed bool
	err    string
}

// Execute applies action to every id independently. A nil action is resolved
// from req.Action and req.Data with ActionFor.
//
// Missing documents fail with "Item not found". Handler errors and panics fail
// only their own item; every remaining id is still attempted.
func (e *Executor) Execute(ctx context.Context, req Request, action Action) Result {
	if len(req.IDs) == 0 {
		return noItemsResult()
	}
	action, err := resolveAction(req, action)
	if err != nil {
		return failedResult(DescribeError(err))
	}

	start := time.Now()
	ctx, span := e.startSpan(ctx, "bulk.Execute", ModeIsolated, req, action)
	defer span.End()

	now := e.now()
	outcomes := make([]itemOutcome, len(req.IDs))
	if e.concurrency < 2 || len(req.IDs) == 1 {
		for i, id := range req.IDs {
			outcomes[i] = e.processItem(ctx, req, action, id, now)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(e.concurrency)
		for i, id := range req.IDs {
			g.Go(func() error {
				outcomes[i] = e.processItem(ctx, req, action, id, now)
				return nil
			})
		}
		_ = g.Wait()
	}

	result := Result{Success: true}
	for i, o := range outcomes {
		if !o.failed {
			result.SuccessCount++
			continue
		}
		result.FailedCount++
		result.Errors = append(result.Errors, ItemError{ID: req.IDs[i], Error: o.err})
	}

	span.SetAttributes(
		attribute.Int("bulk.success_count", result.SuccessCount),
		attribute.Int("bulk.failed_count", result.FailedCount),
	)
	e.finish(ctx, ModeIsolated, req, action, result, time.Since(start))
	return result
}

// processItem runs one id. It never panics.
func (e *Executor) processItem(ctx context.Context, req Request, action Action, id string, now time.Time) (out itemOutcome) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.WarnContext(ctx, "bulk item handler panicked",
				"collection", req.ResourceCollection,
				"action", action.Name(),
				"id", id,
				"panic", DescribeError(r))
			out = itemOutcome{failed: true, err: DescribeError(r)}
		}
	}()

	fail := func(err error) itemOutcome {
		e.logger.DebugContext(ctx, "bulk item failed",
			"collection", req.ResourceCollection,
			"action", action.Name(),
			"id", id,
			"error", err)
		return itemOutcome{failed: true, err: DescribeError(err)}
	}

	if c, ok := action.(collectionChecker); ok {
		if err := c.checkCollection(req.ResourceCollection); err != nil {
			return fail(err)
		}
	}

	snap, err := e.store.Get(ctx, req.ResourceCollection, id)
	if err != nil {
		return fail(err)
	}
	if !snap.Exists {
		return fail(errItemNotFound)
	}

	item := Item{
		Collection: req.ResourceCollection,
		Doc:        snap,
		Data:       req.Data,
		Writer:     e.store,
		Now:        now,
	}
	if err := applyAction(ctx, action, item); err != nil {
		return fail(err)
	}
	return itemOutcome{}
}

// ExecuteInTransaction stages action for every id inside one store
// transaction. Any failure, including a missing document or a panic, rolls
// the whole batch back and is reported as Result.Message with zero counts.
func (e *Executor) ExecuteInTransaction(ctx context.Context, req Request, action Action) Result {
	if len(req.IDs) == 0 {
		return noItemsResult()
	}
	action, err := resolveAction(req, action)
	if err != nil {
		return failedResult(DescribeError(err))
	}

	start := time.Now()
	ctx, span := e.startSpan(ctx, "bulk.ExecuteInTransaction", ModeTransactional, req, action)
	defer span.End()

	err = e.runTransaction(ctx, req, action)

	var result Result
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transaction failed")
		e.logger.WarnContext(ctx, "bulk transaction failed",
			"collection", req.ResourceCollection,
			"action", action.Name(),
			"items", len(req.IDs),
			"error", err)
		result = failedResult(DescribeError(err))
	} else {
		result = Result{Success: true, SuccessCount: len(req.IDs)}
	}

	e.finish(ctx, ModeTransactional, req, action, result, time.Since(start))
	return result
}

// applyAction runs action on item. A typed nil error is replaced by a plain
// error naming its type, since calling its Error method would panic.
func applyAction(ctx context.Context, action Action, item Item) error {
	err := action.Apply(ctx, item)
	if err != nil && isNilPointer(err) {
		return errors.New(DescribeError(err))
	}
	return err
}

func (e *Executor) runTransaction(ctx context.Context, req Request, action Action) error {
	if c, ok := action.(collectionChecker); ok {
		if err := c.checkCollection(req.ResourceCollection); err != nil {
			return err
		}
	}

	return e.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Txn) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = panicError{value: r}
			}
		}()

		// Each attempt gets a fresh timestamp.
		now := e.now()
		for _, id := range req.IDs {
			snap, err := tx.Get(ctx, req.ResourceCollection, id)
			if err != nil {
				return err
			}
			if !snap.Exists {
				return errItemNotFound
			}
			item := Item{
				Collection: req.ResourceCollection,
				Doc:        snap,
				Data:       req.Data,
				Writer:     tx,
				Now:        now,
			}
			if err := applyAction(ctx, action, item); err != nil {
				return err
			}
		}
		return nil
	})
}

func (e *Executor) startSpan(ctx context.Context, name string, mode Mode, req Request, action Action) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("bulk.mode", string(mode)),
		attribute.String("bulk.collection", req.ResourceCollection),
		attribute.String("bulk.action", action.Name()),
		attribute.Int("bulk.items", len(req.IDs)),
	))
}

func (e *Executor) finish(ctx context.Context, mode Mode, req Request, action Action, result Result, elapsed time.Duration) {
	e.logger.InfoContext(ctx, "bulk operation finished",
		"mode", string(mode),
		"collection", req.ResourceCollection,
		"action", action.Name(),
		"items", len(req.IDs),
		"success", result.Success,
		"succeeded", result.SuccessCount,
		"failed", result.FailedCount,
		"duration", elapsed)
	if e.recorder != nil {
		e.recorder.RecordBatch(mode, req.ResourceCollection, action.Name(), result, elapsed)
	}
}

func resolveAction(req Request, action Action) (Action, error) {
	if action != nil {
		return action, nil
	}
	return ActionFor(req.Action, req.Data)
}
