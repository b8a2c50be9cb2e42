// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package capability defines the contract every plugbox module endpoint
// implements and the values the host passes across a context boundary.
//
// A module endpoint is a module-level Lua table that is public (its name
// starts with an upper-case letter), constructible through a zero-argument
// new function, and declares both contract methods:
//
//	Greeter = { }
//	Greeter.__index = Greeter
//
//	function Greeter.new()
//		return setmetatable({}, Greeter)
//	end
//
//	function Greeter:init() host.log("info", "hello") end
//	function Greeter:terminate() host.log("info", "bye") end
package capability

import (
	"fmt"
	"strconv"
)

// Contract method and field names looked up on endpoint tables.
const (
	MethodInit      = "init"
	MethodTerminate = "terminate"
	Constructor     = "new"
	AbstractField   = "abstract"
	RequiresField   = "requires"
	VersionField    = "version"
)

// ModuleGlobal is set in every module environment to the module's own name.
const ModuleGlobal = "_MODULE"

// Keys of the context-local data store. Host intent crosses the boundary only
// through these string values.
const (
	KeyModuleName     = "module.name"
	KeyModuleDir      = "module.dir"
	KeyModuleExt      = "module.ext"
	KeyAction         = "lifecycle.action"
	KeyEndpointFilter = "endpoint.filter"
)

// DefaultExtension is the file extension of a module unit.
const DefaultExtension = ".lua"

// Action selects which contract method an invocation pass calls.
type Action int

// Lifecycle actions. The numeric values are part of the boundary protocol.
const (
	Initialize Action = 0
	Terminate  Action = 1
)

// String returns the action name.
func (a Action) String() string {
	switch a {
	case Initialize:
		return "initialize"
	case Terminate:
		return "terminate"
	default:
		return "action(" + strconv.Itoa(int(a)) + ")"
	}
}

// Method returns the contract method the action invokes.
func (a Action) Method() string {
	if a == Initialize {
		return MethodInit
	}
	return MethodTerminate
}

// Encode returns the wire form stored under KeyAction.
func (a Action) Encode() string {
	return strconv.Itoa(int(a))
}

// ParseAction decodes an action from its wire form ("0", "1") or its name.
func ParseAction(s string) (Action, error) {
	switch s {
	case "0", "initialize", MethodInit:
		return Initialize, nil
	case "1", "terminate":
		return Terminate, nil
	default:
		return 0, fmt.Errorf("unknown lifecycle action %q", s)
	}
}
