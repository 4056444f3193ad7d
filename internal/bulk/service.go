// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BidMart Contributors

package bulk

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"

	"github.com/bidmart/bidmart/internal/access"
	"github.com/bidmart/bidmart/internal/config"
	"github.com/bidmart/bidmart/internal/docstore"
	"github.com/bidmart/bidmart/internal/logging"
	"github.com/bidmart/bidmart/pkg/errutil"
)

// AuditEntry is the persisted summary of one bulk operation.
type AuditEntry struct {
	ID            string
	CallerID      string
	Collection    string
	Action        string
	Transactional bool
	ItemCount     int
	Success       bool
	SuccessCount  int
	FailedCount   int
	Message       string
	CreatedAt     time.Time
}

// AuditLog stores AuditEntry records.
type AuditLog interface {
	Record(ctx context.Context, entry AuditEntry) error
}

// Authorizer decides whether a caller holds at least the required role.
type Authorizer interface {
	CheckPermission(ctx context.Context, callerID string, required access.Role) access.PermissionCheckResult
}

// RoleResolver maps a collection and action to the role required to run it.
// DefaultRole is the role required for operations the rules cannot classify.
type RoleResolver interface {
	RequiredRole(collection, action string) access.Role
	DefaultRole() access.Role
}

// RunOptions selects how Service.Run executes a request.
type RunOptions struct {
	// Transactional selects ExecuteInTransaction instead of Execute.
	Transactional bool
	// Action overrides the action resolved from the request. An override
	// may write anything, so it requires at least the policy's default role.
	Action Action
}

// Service is the caller-side entry point for bulk operations.
type Service struct {
	exec   *Executor
	gate   Authorizer
	policy RoleResolver
	audit  AuditLog
	logger *slog.Logger
	now    func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithAuditLog records every executed operation in log.
func WithAuditLog(log AuditLog) ServiceOption {
	return func(s *Service) { s.audit = log }
}

// WithServiceLogger sets the logger. Defaults to slog.Default().
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService creates a Service.
func NewService(exec *Executor, gate Authorizer, policy RoleResolver, opts ...ServiceOption) *Service {
	s := &Service{
		exec:   exec,
		gate:   gate,
		policy: policy,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run validates req, enforces config.MaxBulkOperationItems, checks that
// callerID holds the role the policy requires, and executes the request.
//
// Errors are returned only when the operation was not executed:
// BULK_INVALID_REQUEST, BULK_TOO_MANY_ITEMS or PERMISSION_DENIED.
// Item and transaction failures are reported in the Result.
func (s *Service) Run(ctx context.Context, callerID string, req Request, opts RunOptions) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	if n := len(req.IDs); n > config.MaxBulkOperationItems {
		return Result{}, oops.Code("BULK_TOO_MANY_ITEMS").
			With("items", n).
			With("max", config.MaxBulkOperationItems).
			Errorf("bulk operation has %d items, the maximum is %d", n, config.MaxBulkOperationItems)
	}

	required := s.requiredRole(req, opts)
	check := s.gate.CheckPermission(ctx, callerID, required)
	if !check.Valid {
		return Result{}, oops.Code("PERMISSION_DENIED").
			With("caller_id", callerID).
			With("required_role", string(required)).
			With("collection", req.ResourceCollection).
			With("action", req.Action).
			Errorf("%s", check.Error)
	}

	opID := docstore.NewID()
	ctx = logging.WithOperationID(ctx, opID)

	var result Result
	if opts.Transactional {
		result = s.exec.ExecuteInTransaction(ctx, req, opts.Action)
	} else {
		result = s.exec.Execute(ctx, req, opts.Action)
	}

	s.record(ctx, opID, callerID, req, opts, result)
	return result, nil
}

// requiredRole returns the role the policy maps req to, raised to the default
// role when opts overrides the action.
func (s *Service) requiredRole(req Request, opts RunOptions) access.Role {
	required := s.policy.RequiredRole(req.ResourceCollection, req.Action)
	if opts.Action == nil {
		return required
	}
	if fallback := s.policy.DefaultRole(); fallback.Rank() > required.Rank() {
		return fallback
	}
	return required
}

func (s *Service) record(ctx context.Context, opID, callerID string, req Request, opts RunOptions, result Result) {
	if s.audit == nil {
		return
	}
	action := req.Action
	if opts.Action != nil {
		action = opts.Action.Name()
	}
	entry := AuditEntry{
		ID:            opID,
		CallerID:      callerID,
		Collection:    req.ResourceCollection,
		Action:        action,
		Transactional: opts.Transactional,
		ItemCount:     len(req.IDs),
		Success:       result.Success,
		SuccessCount:  result.SuccessCount,
		FailedCount:   result.FailedCount,
		Message:       result.Message,
		CreatedAt:     s.now().UTC(),
	}
	// The operation already ran; an audit failure must not change its result.
	if err := s.audit.Record(ctx, entry); err != nil {
		errutil.LogError(s.logger, "failed to record bulk operation", err, "operation_id", entry.ID)
	}
}
