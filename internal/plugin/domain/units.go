// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package domain

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/holomush/plugbox/internal/plugin/capability"
	"github.com/holomush/plugbox/internal/plugin/loader"
	"github.com/holomush/plugbox/internal/plugin/report"
	contract "github.com/holomush/plugbox/pkg/capability"
)

// Unit names a self-contained piece of work a context can run. Units take no
// arguments from the caller; they read everything from context-local data.
type Unit string

// Units understood by every context.
const (
	// UnitLoadModule loads KeyModuleName (from KeyModuleDir with
	// KeyModuleExt) and its dependency closure.
	UnitLoadModule Unit = "load-module"
	// UnitInvoke runs KeyAction on every endpoint of KeyModuleName,
	// restricted by KeyEndpointFilter.
	UnitInvoke Unit = "invoke"
)

type unitFunc func(d *Domain, rep *report.Report) error

var units = map[Unit]unitFunc{
	UnitLoadModule: loadModule,
	UnitInvoke:     invoke,
}

func (d *Domain) require(key string) (string, error) {
	v, ok := d.store[key]
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingData, key)
	}
	return v, nil
}

func loadModule(d *Domain, rep *report.Report) error {
	name, err := d.require(contract.KeyModuleName)
	if err != nil {
		return err
	}
	l := loader.New(d.store[contract.KeyModuleDir], d.store[contract.KeyModuleExt],
		loader.WithCache(d.cache),
		loader.WithPrepare(func(_ *lua.LState, module string, env *lua.LTable) {
			env.RawSetString(ModuleGlobal, lua.LString(module))
		}),
	)
	l.Load(d.state, d.modules, name, rep)
	return nil
}

func invoke(d *Domain, rep *report.Report) error {
	name, err := d.require(contract.KeyModuleName)
	if err != nil {
		return err
	}
	raw, err := d.require(contract.KeyAction)
	if err != nil {
		return err
	}
	action, err := contract.ParseAction(raw)
	if err != nil {
		return err
	}
	filter, err := capability.NewFilter(capability.DecodePatterns(d.store[contract.KeyEndpointFilter]))
	if err != nil {
		return fmt.Errorf("endpoint filter: %w", err)
	}
	capability.Invoke(d.state, d.modules, name, action, filter, rep)
	return nil
}
