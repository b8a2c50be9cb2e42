// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package domain holds the state that lives inside one isolated context: a
// sandboxed Lua state, the context-local data store and the set of loaded
// modules. The host never touches this state directly. It writes data values
// and asks for a named unit of work to run; every input a unit needs is read
// back out of the data store.
package domain

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/holomush/plugbox/internal/plugin/hostfunc"
	"github.com/holomush/plugbox/internal/plugin/loader"
	pluginlua "github.com/holomush/plugbox/internal/plugin/lua"
	"github.com/holomush/plugbox/internal/plugin/report"
	contract "github.com/holomush/plugbox/pkg/capability"
)

// Sentinel errors for programmatic error checking.
var (
	// ErrClosed is returned when a closed domain is used.
	ErrClosed = errors.New("domain is closed")
	// ErrUnknownUnit is returned for a unit name with no registered work.
	ErrUnknownUnit = errors.New("unknown unit")
	// ErrUnitPanicked is returned when a unit panics.
	ErrUnitPanicked = errors.New("unit panicked")
	// ErrMissingData is returned when a unit's input is absent from the store.
	ErrMissingData = errors.New("missing context data")
)

// ModuleGlobal is set in every module environment to the module's own name.
const ModuleGlobal = contract.ModuleGlobal

// Domain is the context-local side of an isolated context.
// Domain is not safe for concurrent use; callers serialize access.
type Domain struct {
	label   string
	logger  *slog.Logger
	factory *pluginlua.StateFactory
	cache   *pluginlua.ChunkCache
	state   *lua.LState
	store   map[string]string
	modules *loader.ModuleSet
	closed  bool
}

// Option configures a Domain.
type Option func(*Domain)

// WithLogger sets the logger used by host functions.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Domain) {
		d.logger = logger
	}
}

// WithCache shares compiled module chunks.
func WithCache(cache *pluginlua.ChunkCache) Option {
	return func(d *Domain) {
		d.cache = cache
	}
}

// New creates a domain labelled label with a fresh sandboxed Lua state.
func New(label string, opts ...Option) (*Domain, error) {
	d := &Domain{
		label:   label,
		logger:  slog.Default(),
		factory: pluginlua.NewStateFactory(),
		store:   make(map[string]string),
		modules: loader.NewModuleSet(),
	}
	for _, opt := range opts {
		opt(d)
	}

	L, err := d.factory.NewState(context.Background())
	if err != nil {
		return nil, oops.In("domain").With("label", label).Hint("failed to create lua state").Wrap(err)
	}
	hostfunc.New(d.logger, label, d).Register(L)
	d.state = L
	return d, nil
}

// Label returns the context label.
func (d *Domain) Label() string {
	return d.label
}

// SetData writes a context-local value.
func (d *Domain) SetData(key, value string) error {
	if d.closed {
		return ErrClosed
	}
	d.store[key] = value
	return nil
}

// Data reads a context-local value.
func (d *Domain) Data(key string) (string, bool) {
	v, ok := d.store[key]
	return v, ok
}

// Modules returns loaded module names in load order.
func (d *Domain) Modules() []string {
	if d.closed {
		return nil
	}
	return d.modules.Names()
}

// Run executes the named unit inside the domain. The Lua state is bound to
// ctx for the duration of the call, so a deadline on ctx interrupts a module
// stuck in a loop. A panic inside the unit is converted to ErrUnitPanicked.
func (d *Domain) Run(ctx context.Context, unit Unit) (rep *report.Report, err error) {
	if d.closed {
		return nil, ErrClosed
	}
	work, ok := units[unit]
	if !ok {
		return nil, oops.In("domain").With("label", d.label).With("unit", unit).Wrap(ErrUnknownUnit)
	}

	rep = &report.Report{Unit: string(unit)}
	d.state.SetContext(ctx)
	defer d.state.RemoveContext()
	defer func() {
		if r := recover(); r != nil {
			err = oops.In("domain").With("label", d.label).With("unit", unit).Wrapf(ErrUnitPanicked, "%v", r)
		}
	}()

	if err := work(d, rep); err != nil {
		return rep, oops.In("domain").With("label", d.label).With("unit", unit).Wrap(err)
	}
	return rep, nil
}

// Close releases the Lua state and everything loaded into it.
func (d *Domain) Close() error {
	if d.closed {
		return ErrClosed
	}
	d.closed = true
	d.modules.Reset()
	clear(d.store)
	d.state.Close()
	return nil
}

// Units returns the registered unit names, sorted.
func Units() []Unit {
	out := make([]Unit, 0, len(units))
	for u := range units {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
