// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BidMart Contributors

// Package script runs bulk item handlers written in Lua.
//
// A script defines a global function handle(doc, data). doc is a table with
// id, collection and fields; data is the request payload. The return value
// selects the mutation:
//
//	nil        no change
//	"delete"   remove the document
//	{...}      set the given fields (dotted keys allowed) plus updatedAt
//
// Scripts run in a sandbox with only the base, table, string and math
// libraries. Each item gets a fresh Lua state, so an Action is safe for
// concurrent use.
package script

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/bidmart/bidmart/internal/bulk"
)

const (
	handlerName    = "handle"
	resultDelete   = "delete"
	defaultTimeout = 2 * time.Second
)

// Compile-time interface check.
var _ bulk.Action = (*Action)(nil)

// Action is a compiled Lua handler.
type Action struct {
	name    string
	proto   *lua.FunctionProto
	timeout time.Duration
}

// Option configures an Action.
type Option func(*Action)

// WithTimeout bounds how long one item may run. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(a *Action) { a.timeout = d }
}

// Compile parses source and checks that it defines handle.
func Compile(name, source string, opts ...Option) (*Action, error) {
	chunk, err := parse.Parse(strings.NewReader(source), name)
	if err != nil {
		return nil, oops.In("script").Code("SCRIPT_SYNTAX").With("script", name).Wrap(err)
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, oops.In("script").Code("SCRIPT_SYNTAX").With("script", name).Wrap(err)
	}

	a := &Action{name: name, proto: proto, timeout: defaultTimeout}
	for _, opt := range opts {
		opt(a)
	}

	// Run the chunk once in a throwaway state to catch load-time errors.
	L, err := newSandbox(context.Background())
	if err != nil {
		return nil, oops.In("script").With("script", name).Wrap(err)
	}
	defer L.Close()
	if _, err := a.load(L); err != nil {
		return nil, err
	}
	return a, nil
}

// Load reads and compiles the script at path. The action is named after the
// file without its extension.
func Load(path string, opts ...Option) (*Action, error) {
	source, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, oops.In("script").Code("SCRIPT_READ_FAILED").With("path", path).Wrap(err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return Compile(name, string(source), opts...)
}

// Name implements bulk.Action.
func (a *Action) Name() string {
	return a.name
}

// Apply implements bulk.Action.
func (a *Action) Apply(ctx context.Context, item bulk.Item) error {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	L, err := newSandbox(ctx)
	if err != nil {
		return oops.In("script").With("script", a.name).Wrap(err)
	}
	defer L.Close()

	handle, err := a.load(L)
	if err != nil {
		return err
	}

	doc := L.CreateTable(0, 3)
	doc.RawSetString("id", lua.LString(item.ID()))
	doc.RawSetString("collection", lua.LString(item.Collection))
	doc.RawSetString("fields", toLua(L, item.Doc.Data))

	if err := L.CallByParam(lua.P{
		Fn:      handle,
		NRet:    1,
		Protect: true,
	}, doc, toLua(L, item.Data)); err != nil {
		return raisedError(err)
	}
	ret := L.Get(-1)
	L.Pop(1)

	return a.applyResult(ctx, item, ret)
}

func (a *Action) load(L *lua.LState) (lua.LValue, error) {
	L.Push(L.NewFunctionFromProto(a.proto))
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		return nil, oops.In("script").Code("SCRIPT_LOAD_FAILED").With("script", a.name).Wrap(err)
	}
	handle := L.GetGlobal(handlerName)
	if handle.Type() != lua.LTFunction {
		return nil, oops.In("script").
			Code("SCRIPT_NO_HANDLER").
			With("script", a.name).
			Errorf("script %s does not define function %s(doc, data)", a.name, handlerName)
	}
	return handle, nil
}

func (a *Action) applyResult(ctx context.Context, item bulk.Item, ret lua.LValue) error {
	switch val := ret.(type) {
	case *lua.LNilType:
		return nil
	case lua.LString:
		if string(val) == resultDelete {
			return item.Delete(ctx)
		}
	case *lua.LTable:
		fields, ok := fromLua(val).(map[string]any)
		if !ok {
			return oops.In("script").
				Code("SCRIPT_BAD_RESULT").
				With("script", a.name).
				Errorf("handle returned a list; expected a table of field updates")
		}
		if len(fields) == 0 {
			return nil
		}
		if _, set := fields[bulk.FieldUpdatedAt]; !set {
			fields[bulk.FieldUpdatedAt] = item.Now
		}
		return item.Update(ctx, fields)
	}
	return oops.In("script").
		Code("SCRIPT_BAD_RESULT").
		With("script", a.name).
		With("type", ret.Type().String()).
		Errorf("handle returned unsupported %s value", ret.Type())
}

// raisedError turns a Lua runtime error into a Go error whose message is
// derived from the value passed to error().
func raisedError(err error) error {
	var apiErr *lua.ApiError
	if !errors.As(err, &apiErr) || apiErr.Object == nil {
		return err
	}
	if s, ok := apiErr.Object.(lua.LString); ok {
		return &Error{value: string(s), cause: err}
	}
	return &Error{value: fromLua(apiErr.Object), cause: err}
}

// Error is a value raised by a script with error().
type Error struct {
	value any
	cause error
}

// Value returns the raised value converted to Go.
func (e *Error) Value() any { return e.value }

func (e *Error) Error() string { return bulk.DescribeError(e.value) }

func (e *Error) Unwrap() error { return e.cause }
