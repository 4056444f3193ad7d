// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BidMart Contributors

package access

import (
	"github.com/samber/oops"
)

// Role is a stored user role.
type Role string

// Known roles, lowest privilege first.
const (
	RoleUser   Role = "user"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

// RankUnknown is the rank of any role outside the hierarchy.
const RankUnknown = -1

var roleRanks = map[Role]int{
	RoleUser:   0,
	RoleSeller: 1,
	RoleAdmin:  2,
}

// Roles returns the known roles, lowest privilege first.
func Roles() []Role {
	return []Role{RoleUser, RoleSeller, RoleAdmin}
}

// Rank returns the position of r in the hierarchy, or RankUnknown.
func (r Role) Rank() int {
	if rank, ok := roleRanks[r]; ok {
		return rank
	}
	return RankUnknown
}

// Known reports whether r is part of the hierarchy.
func (r Role) Known() bool {
	return r.Rank() != RankUnknown
}

// Satisfies reports whether a caller holding r may perform an operation that
// requires required. Unknown roles satisfy nothing and are satisfied by nothing.
func (r Role) Satisfies(required Role) bool {
	if !r.Known() || !required.Known() {
		return false
	}
	return r.Rank() >= required.Rank()
}

// ParseRole converts s to a known Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Known() {
		return "", oops.Code("UNKNOWN_ROLE").With("role", s).Errorf("unknown role %q", s)
	}
	return r, nil
}
