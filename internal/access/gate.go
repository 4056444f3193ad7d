// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BidMart Contributors

package access

import (
	"context"
	"fmt"
	"log/slog"
)

// Directory looks up the role stored for a user.
type Directory interface {
	// RoleOf returns the raw stored role string. An error means the user
	// could not be resolved.
	RoleOf(ctx context.Context, userID string) (string, error)
}

// PermissionCheckResult is the outcome of Gate.CheckPermission.
// Error is only set when Valid is false.
type PermissionCheckResult struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// InsufficientPermissions prefixes every denial message.
const InsufficientPermissions = "Insufficient permissions"

// Recorder receives one observation per permission check.
type Recorder interface {
	RecordPermissionCheck(required Role, valid bool)
}

// Gate authorizes callers against the role hierarchy.
// Roles are resolved on every call and never cached.
type Gate struct {
	dir      Directory
	logger   *slog.Logger
	recorder Recorder
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) GateOption {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithRecorder sets the permission check metrics recorder.
func WithRecorder(r Recorder) GateOption {
	return func(g *Gate) { g.recorder = r }
}

// NewGate creates a Gate reading roles from dir.
func NewGate(dir Directory, opts ...GateOption) *Gate {
	g := &Gate{dir: dir, logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CheckPermission reports whether callerID holds at least the required role.
// It never returns an error: lookup failures, unknown callers and
// unrecognized roles all deny.
func (g *Gate) CheckPermission(ctx context.Context, callerID string, required Role) PermissionCheckResult {
	result := g.check(ctx, callerID, required)
	if g.recorder != nil {
		g.recorder.RecordPermissionCheck(required, result.Valid)
	}
	return result
}

func (g *Gate) check(ctx context.Context, callerID string, required Role) PermissionCheckResult {
	if !required.Known() {
		g.logger.WarnContext(ctx, "permission check for unknown role", "caller_id", callerID, "required_role", string(required))
		return deny("unknown required role %q", string(required))
	}
	if callerID == "" {
		return deny("caller is not identified")
	}

	stored, err := g.dir.RoleOf(ctx, callerID)
	if err != nil {
		g.logger.DebugContext(ctx, "caller role lookup failed", "caller_id", callerID, "error", err)
		return deny("caller could not be resolved")
	}

	role := Role(stored)
	if !role.Known() {
		g.logger.DebugContext(ctx, "caller has unrecognized role", "caller_id", callerID, "role", stored)
		return deny("role %q is not recognized", stored)
	}
	if !role.Satisfies(required) {
		return deny("%s role required", required)
	}
	return PermissionCheckResult{Valid: true}
}

func deny(format string, args ...any) PermissionCheckResult {
	return PermissionCheckResult{
		Error: InsufficientPermissions + ": " + fmt.Sprintf(format, args...),
	}
}
