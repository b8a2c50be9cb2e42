// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	pluginlua "github.com/holomush/plugbox/internal/plugin/lua"
)

func compile(t *testing.T, src string) *lua.FunctionProto {
	t.Helper()
	chunk, err := parse.Parse(stringsReader(src), "test")
	require.NoError(t, err)
	proto, err := lua.Compile(chunk, "test")
	require.NoError(t, err)
	return proto
}

func newState(t *testing.T) *lua.LState {
	t.Helper()
	L, err := pluginlua.NewStateFactory().NewState(context.Background())
	require.NoError(t, err)
	t.Cleanup(L.Close)
	return L
}

func TestStateFactory_NewState_LoadsSafeLibraries(t *testing.T) {
	L := newState(t)

	for _, lib := range []string{"table", "string", "math"} {
		assert.NotEqual(t, lua.LTNil, L.GetGlobal(lib).Type(), "library %q not loaded", lib)
	}
}

func TestStateFactory_NewState_BlocksUnsafeLibraries(t *testing.T) {
	L := newState(t)

	for _, lib := range []string{"os", "io", "debug", "package"} {
		assert.Equal(t, lua.LTNil, L.GetGlobal(lib).Type(), "unsafe library %q should not be loaded", lib)
	}
}

func TestStateFactory_NewState_BlocksFileLoaders(t *testing.T) {
	L := newState(t)

	for _, fn := range []string{"dofile", "loadfile", "loadstring", "load", "require"} {
		assert.Equal(t, lua.LTNil, L.GetGlobal(fn).Type(), "%s should be removed", fn)
	}
}

func TestNewModuleEnv_KeepsDeclarationsLocal(t *testing.T) {
	L := newState(t)

	envA := pluginlua.NewModuleEnv(L)
	envB := pluginlua.NewModuleEnv(L)

	require.NoError(t, pluginlua.Exec(L, compile(t, `Greeter = { who = "a" }`), envA))
	require.NoError(t, pluginlua.Exec(L, compile(t, `Greeter = { who = "b" }`), envB))

	a, ok := envA.RawGetString("Greeter").(*lua.LTable)
	require.True(t, ok)
	b, ok := envB.RawGetString("Greeter").(*lua.LTable)
	require.True(t, ok)
	assert.Equal(t, "a", a.RawGetString("who").String())
	assert.Equal(t, "b", b.RawGetString("who").String())
	assert.Equal(t, lua.LTNil, L.GetGlobal("Greeter").Type(), "module declarations must not leak into globals")
}

func TestNewModuleEnv_ReadsFallThroughToGlobals(t *testing.T) {
	L := newState(t)
	env := pluginlua.NewModuleEnv(L)

	require.NoError(t, pluginlua.Exec(L, compile(t, `n = string.len("four")`), env))
	assert.Equal(t, lua.LNumber(4), env.RawGetString("n"))
}

func TestExec_RuntimeErrorIsReturned(t *testing.T) {
	L := newState(t)

	err := pluginlua.Exec(L, compile(t, `error("boom")`), pluginlua.NewModuleEnv(L))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestExec_HonorsContextDeadline(t *testing.T) {
	L := newState(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	L.SetContext(ctx)

	err := pluginlua.Exec(L, compile(t, `while true do end`), pluginlua.NewModuleEnv(L))
	require.Error(t, err)
}
