// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BidMart Contributors

// Package accesstest provides test helpers for access control.
package accesstest

import (
	"context"
	"sync"

	"github.com/bidmart/bidmart/internal/access"
)

// AllowAll authorizes every caller.
type AllowAll struct{}

// CheckPermission always returns a valid result.
func (AllowAll) CheckPermission(_ context.Context, _ string, _ access.Role) access.PermissionCheckResult {
	return access.PermissionCheckResult{Valid: true}
}

// DenyAll denies every caller.
type DenyAll struct{}

// CheckPermission always denies.
func (DenyAll) CheckPermission(_ context.Context, _ string, required access.Role) access.PermissionCheckResult {
	return access.PermissionCheckResult{
		Error: access.InsufficientPermissions + ": " + string(required) + " role required",
	}
}

// FixedRole is a role resolver that requires the same role for everything.
type FixedRole access.Role

// RequiredRole returns the fixed role.
func (f FixedRole) RequiredRole(_, _ string) access.Role {
	return access.Role(f)
}

// DefaultRole returns the fixed role.
func (f FixedRole) DefaultRole() access.Role {
	return access.Role(f)
}

// Check records one permission check.
type Check struct {
	CallerID string
	Required access.Role
}

// RecordingGate wraps an authorizer and records every check it answers.
type RecordingGate struct {
	Next interface {
		CheckPermission(ctx context.Context, callerID string, required access.Role) access.PermissionCheckResult
	}

	mu     sync.Mutex
	checks []Check
}

// CheckPermission records the call and delegates to Next.
func (g *RecordingGate) CheckPermission(ctx context.Context, callerID string, required access.Role) access.PermissionCheckResult {
	g.mu.Lock()
	g.checks = append(g.checks, Check{CallerID: callerID, Required: required})
	g.mu.Unlock()
	return g.Next.CheckPermission(ctx, callerID, required)
}

// Checks returns the recorded checks in call order.
func (g *RecordingGate) Checks() []Check {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Check(nil), g.checks...)
}
