// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BidMart Contributors

package bulk

import (
	"github.com/samber/oops"
)

// Request is one bulk operation as submitted by a caller.
type Request struct {
	// ResourceCollection names the collection the ids belong to.
	ResourceCollection string `json:"resourceCollection" yaml:"resourceCollection" jsonschema:"minLength=1,description=Collection the ids belong to"`
	// Action names the operation, e.g. "activate" or "updateField".
	Action string `json:"action" yaml:"action" jsonschema:"minLength=1,description=Operation to apply to every id"`
	// IDs lists the target documents. Duplicates are processed independently.
	IDs []string `json:"ids" yaml:"ids" jsonschema:"minItems=1,description=Target document ids"`
	// Data is passed to the action as its payload.
	Data map[string]any `json:"data,omitempty" yaml:"data,omitempty" jsonschema:"description=Action payload"`
}

// Validate checks the request shape. It does not apply the item ceiling.
func (r Request) Validate() error {
	if r.ResourceCollection == "" {
		return invalidRequest("resourceCollection is required")
	}
	if r.Action == "" {
		return invalidRequest("action is required")
	}
	if len(r.IDs) == 0 {
		return invalidRequest("ids must contain at least one id")
	}
	for i, id := range r.IDs {
		if id == "" {
			return oops.Code("BULK_INVALID_REQUEST").
				With("index", i).
				Errorf("ids[%d] is empty", i)
		}
	}
	return nil
}

func invalidRequest(msg string) error {
	return oops.Code("BULK_INVALID_REQUEST").Errorf("%s", msg)
}
