// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package hostfunc provides host functions to Lua modules.
//
// Host functions are installed as the global table "host" inside a context's
// Lua state. They only ever see values that were written into the context's
// local data store, never a host-side object.
package hostfunc

import (
	"log/slog"

	"github.com/oklog/ulid/v2"
	lua "github.com/yuin/gopher-lua"

	"github.com/holomush/plugbox/pkg/capability"
)

// GlobalName is the Lua global the functions are registered under.
const GlobalName = "host"

// DataReader gives read-only access to context-local data.
type DataReader interface {
	Data(key string) (string, bool)
}

// Functions provides host functions to Lua modules.
type Functions struct {
	logger *slog.Logger
	label  string
	data   DataReader
}

// New creates host functions for the context identified by label.
// Panics if data is nil.
func New(logger *slog.Logger, label string, data DataReader) *Functions {
	if data == nil {
		panic("hostfunc.New: data reader cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Functions{
		logger: logger,
		label:  label,
		data:   data,
	}
}

// Register adds host functions to a Lua state.
func (f *Functions) Register(L *lua.LState) {
	mod := L.NewTable()

	L.SetField(mod, "log", L.NewFunction(f.logFn))
	L.SetField(mod, "get", L.NewFunction(f.getFn))
	L.SetField(mod, "module", L.NewFunction(f.moduleFn))
	L.SetField(mod, "new_id", L.NewFunction(newIDFn))

	L.SetGlobal(GlobalName, mod)
}

func (f *Functions) logFn(L *lua.LState) int {
	level := L.CheckString(1)
	message := L.CheckString(2)

	logger := f.logger.With("context", f.label, "module", f.currentModule(L))
	switch level {
	case "debug":
		logger.Debug(message)
	case "info":
		logger.Info(message)
	case "warn":
		logger.Warn(message)
	case "error":
		logger.Error(message)
	default:
		logger.Info(message)
	}
	return 0
}

func (f *Functions) getFn(L *lua.LState) int {
	key := L.CheckString(1)
	value, ok := f.data.Data(key)
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(value))
	return 1
}

func (f *Functions) moduleFn(L *lua.LState) int {
	L.Push(lua.LString(f.currentModule(L)))
	return 1
}

// currentModule names the module whose code made the host call: the
// ModuleGlobal of the calling function's environment, else the module the
// context was asked to load.
func (f *Functions) currentModule(L *lua.LState) string {
	if dbg, ok := L.GetStack(1); ok {
		if fn, err := L.GetInfo("f", dbg, lua.LNil); err == nil {
			if caller, ok := fn.(*lua.LFunction); ok && caller.Env != nil {
				if name, ok := caller.Env.RawGetString(capability.ModuleGlobal).(lua.LString); ok {
					return string(name)
				}
			}
		}
	}
	module, _ := f.data.Data(capability.KeyModuleName)
	return module
}

func newIDFn(L *lua.LState) int {
	L.Push(lua.LString(ulid.Make().String()))
	return 1
}
