// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BidMart Contributors

package docstore

import (
	"cmp"
	"slices"
	"strings"

	"github.com/samber/oops"
)

// SplitPath splits a dotted field path into its segments.
// Empty paths and empty segments ("a..b", ".a") are rejected.
func SplitPath(path string) ([]string, error) {
	if path == "" {
		return nil, oops.Code("INVALID_FIELD_PATH").Errorf("field path is empty")
	}
	parts := strings.Split(path, ".")
	for _, p := range parts {
		if p == "" {
			return nil, oops.Code("INVALID_FIELD_PATH").With("path", path).Errorf("field path %q has an empty segment", path)
		}
	}
	return parts, nil
}

// GetField returns the value stored at a dotted path.
func GetField(data map[string]any, path string) (any, bool) {
	parts, err := SplitPath(path)
	if err != nil {
		return nil, false
	}
	var cur any = data
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// ApplyFields returns a copy of data with every field in fields written at its
// dotted path. Intermediate maps are created as needed; a non-map value found on
// the way is replaced by a map. A nil value stores an explicit null.
// data itself is never modified.
//
// Shallower paths are written first, ties in lexical order, so "price" followed
// by "price.amount" always leaves {"price": {"amount": ...}}.
func ApplyFields(data, fields map[string]any) (map[string]any, error) {
	type fieldPath struct {
		path  string
		parts []string
	}
	paths := make([]fieldPath, 0, len(fields))
	for path := range fields {
		parts, err := SplitPath(path)
		if err != nil {
			return nil, err
		}
		paths = append(paths, fieldPath{path: path, parts: parts})
	}
	slices.SortFunc(paths, func(a, b fieldPath) int {
		if c := cmp.Compare(len(a.parts), len(b.parts)); c != 0 {
			return c
		}
		return strings.Compare(a.path, b.path)
	})

	out := Clone(data)
	if out == nil {
		out = make(map[string]any, len(fields))
	}
	for _, fp := range paths {
		parts, value := fp.parts, fields[fp.path]
		cur := out
		for _, p := range parts[:len(parts)-1] {
			next, ok := cur[p].(map[string]any)
			if !ok {
				next = make(map[string]any)
				cur[p] = next
			}
			cur = next
		}
		cur[parts[len(parts)-1]] = cloneValue(value)
	}
	return out, nil
}

// Clone deep-copies a document. Maps and slices are copied; other values are
// shared, which is safe for the JSON scalar types documents hold.
func Clone(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return Clone(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return val
	}
}
