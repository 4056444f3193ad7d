// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BidMart Contributors

package access

import (
	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// Rule binds a "<collection>:<action>" glob pattern to the minimum role it
// requires. Patterns use ':' as separator, so "*" never crosses it.
type Rule struct {
	Pattern string
	Role    Role
}

// compiledRule holds a rule and its compiled glob.
type compiledRule struct {
	Rule
	glob glob.Glob
}

// Policy maps bulk operations to required roles. The first matching rule
// wins; operations matching no rule require the default role.
//
// Thread-safety: immutable after construction.
type Policy struct {
	rules       []compiledRule
	defaultRole Role
}

// DefaultRules returns the built-in marketplace rules.
func DefaultRules() []Rule {
	return []Rule{
		{Pattern: "*:hardDelete", Role: RoleAdmin},
		{Pattern: "*:delete", Role: RoleAdmin},
		{Pattern: "users:*", Role: RoleAdmin},
		{Pattern: "orders:*", Role: RoleAdmin},
		{Pattern: "payments:*", Role: RoleAdmin},
		{Pattern: "{products,auctions}:*", Role: RoleSeller},
		{Pattern: "notifications:{update,updateField,softDelete}", Role: RoleUser},
	}
}

// NewPolicy compiles rules. Returns an error for invalid glob syntax or
// unknown roles.
func NewPolicy(defaultRole Role, rules []Rule) (*Policy, error) {
	if !defaultRole.Known() {
		return nil, oops.In("access").
			Code("INVALID_POLICY_ROLE").
			With("role", string(defaultRole)).
			Errorf("default role %q is not a known role", defaultRole)
	}

	compiled := make([]compiledRule, 0, len(rules))
	for i, r := range rules {
		if !r.Role.Known() {
			return nil, oops.In("access").
				Code("INVALID_POLICY_ROLE").
				With("rule", i).
				With("role", string(r.Role)).
				Errorf("rule %d uses unknown role %q", i, r.Role)
		}
		g, err := glob.Compile(r.Pattern, ':')
		if err != nil {
			return nil, oops.In("access").
				Code("INVALID_POLICY_PATTERN").
				With("rule", i).
				With("pattern", r.Pattern).
				Wrap(err)
		}
		compiled = append(compiled, compiledRule{Rule: r, glob: g})
	}
	return &Policy{rules: compiled, defaultRole: defaultRole}, nil
}

// DefaultPolicy returns a policy with DefaultRules and admin as default role.
//
// Panics if DefaultRules contain an invalid pattern (code bug).
func DefaultPolicy() *Policy {
	p, err := NewPolicy(RoleAdmin, DefaultRules())
	if err != nil {
		panic("invalid pattern in DefaultRules: " + err.Error())
	}
	return p
}

// RequiredRole returns the role required to run action on collection.
func (p *Policy) RequiredRole(collection, action string) Role {
	key := collection + ":" + action
	for _, r := range p.rules {
		if r.glob.Match(key) {
			return r.Role
		}
	}
	return p.defaultRole
}

// DefaultRole returns the role required when no rule matches.
func (p *Policy) DefaultRole() Role {
	return p.defaultRole
}
