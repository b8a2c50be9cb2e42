// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package loader

import (
	lua "github.com/yuin/gopher-lua"
)

// Module is one unit loaded inside a context.
type Module struct {
	// Name is the exact name the module was requested by.
	Name string
	// Path is the file the module was loaded from.
	Path string
	// Version is the module's declared version, empty when undeclared.
	Version string
	// Env is the module's own global table.
	Env *lua.LTable
}

// ModuleSet holds the modules loaded inside one context, keyed by requested
// name. It only grows; the owning context discards it wholesale on teardown.
// ModuleSet is not safe for concurrent use; a context runs one unit at a time.
type ModuleSet struct {
	modules map[string]*Module
	order   []string
}

// NewModuleSet creates an empty set.
func NewModuleSet() *ModuleSet {
	return &ModuleSet{modules: make(map[string]*Module)}
}

// Has reports whether name is loaded.
func (s *ModuleSet) Has(name string) bool {
	_, ok := s.modules[name]
	return ok
}

// Get returns the module loaded under name.
func (s *ModuleSet) Get(name string) (*Module, bool) {
	m, ok := s.modules[name]
	return m, ok
}

// Names returns module names in load order.
func (s *ModuleSet) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the number of loaded modules.
func (s *ModuleSet) Len() int {
	return len(s.order)
}

func (s *ModuleSet) add(m *Module) {
	s.modules[m.Name] = m
	s.order = append(s.order, m.Name)
}

// Reset drops every module. Only context teardown calls this.
func (s *ModuleSet) Reset() {
	clear(s.modules)
	s.order = nil
}
