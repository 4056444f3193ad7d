// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BidMart Contributors

package bulk

import (
	"fmt"
	"reflect"
)

const unknownErrorMessage = "unknown error"

// messager is implemented by values that carry a human-readable message
// without being errors.
type messager interface {
	Message() string
}

// DescribeError converts any failure value into a non-empty message.
//
// Errors yield their Error() text. Strings are used as-is. Maps and structs
// with a string "message" entry or Message field yield that text. Anything
// else is formatted with %v, falling back to its type name. Methods that
// panic, such as Error on a nil pointer receiver, count as empty.
func DescribeError(v any) string {
	switch x := v.(type) {
	case nil:
		return unknownErrorMessage
	case error:
		if msg := callString(x.Error); msg != "" {
			return msg
		}
		return fmt.Sprintf("%T", x)
	case string:
		if x != "" {
			return x
		}
		return unknownErrorMessage
	case messager:
		if msg := callString(x.Message); msg != "" {
			return msg
		}
	case fmt.Stringer:
		if msg := callString(x.String); msg != "" {
			return msg
		}
	case map[string]any:
		if msg, ok := x["message"].(string); ok && msg != "" {
			return msg
		}
	}

	if msg := messageField(v); msg != "" {
		return msg
	}
	if isNilPointer(v) {
		return fmt.Sprintf("%T", v)
	}
	if msg := fmt.Sprintf("%v", v); msg != "" {
		return msg
	}
	return fmt.Sprintf("%T", v)
}

// callString returns f(), or "" when f panics.
func callString(f func() string) (msg string) {
	defer func() {
		if recover() != nil {
			msg = ""
		}
	}()
	return f()
}

func isNilPointer(v any) bool {
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}

// messageField returns the string Message field of a struct (or pointer to one).
func messageField(v any) string {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return ""
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return ""
	}
	f := rv.FieldByName("Message")
	if !f.IsValid() || f.Kind() != reflect.String {
		return ""
	}
	return f.String()
}

// panicError carries a recovered panic value through error returns.
type panicError struct {
	value any
}

func (p panicError) Error() string {
	return DescribeError(p.value)
}
