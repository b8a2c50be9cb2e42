// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package capability discovers module endpoints and drives them through a
// lifecycle action inside a context.
package capability

import (
	"sort"
	"unicode"
	"unicode/utf8"

	lua "github.com/yuin/gopher-lua"

	"github.com/holomush/plugbox/internal/plugin/loader"
	"github.com/holomush/plugbox/internal/plugin/report"
	contract "github.com/holomush/plugbox/pkg/capability"
)

// Endpoints returns the names of the module's endpoint types, sorted.
// An endpoint type is a public table (upper-case initial) with a new
// function, both contract methods (declared or inherited), and no truthy
// abstract field.
func Endpoints(L *lua.LState, m *loader.Module) []string {
	var names []string
	m.Env.ForEach(func(k, v lua.LValue) {
		key, ok := k.(lua.LString)
		if !ok || !isPublic(string(key)) {
			return
		}
		cls, ok := v.(*lua.LTable)
		if !ok || !implements(L, cls) {
			return
		}
		names = append(names, string(key))
	})
	sort.Strings(names)
	return names
}

func isPublic(name string) bool {
	r, _ := utf8.DecodeRuneInString(name)
	return r != utf8.RuneError && unicode.IsUpper(r)
}

// implements reports whether cls is a concrete endpoint type. The
// constructor and abstract marker must be declared on cls itself; the
// contract methods may be inherited through an __index chain.
func implements(L *lua.LState, cls *lua.LTable) bool {
	if lua.LVAsBool(cls.RawGetString(contract.AbstractField)) {
		return false
	}
	if cls.RawGetString(contract.Constructor).Type() != lua.LTFunction {
		return false
	}
	for _, method := range []string{contract.MethodInit, contract.MethodTerminate} {
		if L.GetField(cls, method).Type() != lua.LTFunction {
			return false
		}
	}
	return true
}

// Invoke constructs a fresh instance of every endpoint in the named module
// and calls the action's contract method on it. A missing module is a no-op.
// Each endpoint is isolated: a failure is recorded in rep and the pass moves
// on to the next endpoint.
func Invoke(L *lua.LState, set *loader.ModuleSet, module string, action contract.Action, filter *Filter, rep *report.Report) {
	m, ok := set.Get(module)
	if !ok {
		return
	}

	for _, typ := range Endpoints(L, m) {
		if !filter.Allows(module, typ) {
			continue
		}
		if failure := invokeEndpoint(L, m, typ, action); failure != nil {
			rep.Fail(*failure)
			continue
		}
		rep.Invoked = append(rep.Invoked, module+"."+typ)
	}
}

func invokeEndpoint(L *lua.LState, m *loader.Module, typ string, action contract.Action) *report.Failure {
	fail := func(stage report.Stage, msg string) *report.Failure {
		return &report.Failure{Module: m.Name, Endpoint: typ, Stage: stage, Message: msg}
	}

	cls, ok := m.Env.RawGetString(typ).(*lua.LTable)
	if !ok {
		return fail(report.StageConstruct, "type disappeared from module")
	}

	top := L.GetTop()
	defer L.SetTop(top)

	if err := L.CallByParam(lua.P{
		Fn:      cls.RawGetString(contract.Constructor),
		NRet:    1,
		Protect: true,
	}); err != nil {
		return fail(report.StageConstruct, err.Error())
	}
	instance := L.Get(-1)
	L.Pop(1)
	if instance.Type() != lua.LTTable && instance.Type() != lua.LTUserData {
		return fail(report.StageConstruct, contract.Constructor+" returned "+instance.Type().String())
	}

	method := L.GetField(instance, action.Method())
	if method.Type() != lua.LTFunction {
		return fail(report.StageConstruct, "instance does not implement "+action.Method())
	}

	if err := L.CallByParam(lua.P{
		Fn:      method,
		NRet:    0,
		Protect: true,
	}, instance); err != nil {
		return fail(report.StageInvoke, err.Error())
	}
	return nil
}
