// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/plugbox/internal/plugin/capability"
	"github.com/holomush/plugbox/internal/plugin/domain"
	"github.com/holomush/plugbox/internal/plugin/report"
	contract "github.com/holomush/plugbox/pkg/capability"
)

// Sentinel errors for programmatic error checking.
var (
	// ErrNotLoaded is returned when an operation needs a context and there is none.
	ErrNotLoaded = errors.New("plugin not loaded")
	// ErrInvalidTransition is returned when an operation is not allowed from the current state.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	// ErrContextCreate is returned when a context cannot be allocated.
	ErrContextCreate = errors.New("context creation failed")
	// ErrUnitFailed is returned when a unit could not run inside the context.
	ErrUnitFailed = errors.New("unit failed")
	// ErrContextDestroy is returned when a context cannot be torn down.
	ErrContextDestroy = errors.New("context teardown failed")
)

// Error codes attached to returned oops errors.
const (
	CodeNotLoaded         = "NOT_LOADED"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeContextCreate     = "CONTEXT_CREATE_FAILED"
	CodeUnitFailed        = "UNIT_FAILED"
	CodeContextDestroy    = "CONTEXT_DESTROY_FAILED"
)

var tracer = otel.Tracer("github.com/holomush/plugbox/internal/plugin")

// State is a position in the instance lifecycle.
type State int

// Instance lifecycle states.
const (
	StateUnloaded State = iota
	StateLoaded
	StateRunning
	StateStopped
	// StateFailed means Load failed after the context was allocated. The
	// context is still held and must be released with Unload.
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoaded:
		return "loaded"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Instance drives one module through Load, Run, Stop and Unload inside its
// own isolated context. Transitions are serialized, so an Instance may be
// shared between goroutines, but each call blocks until the boundary call
// returns.
type Instance struct {
	host        Host
	observer    Observer
	moduleDir   string
	moduleExt   string
	filter      []string
	callTimeout time.Duration

	mu    sync.Mutex
	name  string
	bctx  Context
	state State
}

// InstanceOption configures an Instance.
type InstanceOption func(*Instance)

// WithObserver sets the diagnostics observer.
func WithObserver(o Observer) InstanceOption {
	return func(i *Instance) {
		i.observer = o
	}
}

// WithModuleDir sets the directory modules are resolved in. The default is
// the host process's working directory at Load time.
func WithModuleDir(dir string) InstanceOption {
	return func(i *Instance) {
		i.moduleDir = dir
	}
}

// WithExtension sets the module file extension.
func WithExtension(ext string) InstanceOption {
	return func(i *Instance) {
		i.moduleExt = ext
	}
}

// WithEndpointFilter restricts Run and Stop to matching endpoints.
// See capability.Filter for the pattern syntax.
func WithEndpointFilter(patterns []string) InstanceOption {
	return func(i *Instance) {
		i.filter = append([]string(nil), patterns...)
	}
}

// WithCallTimeout bounds every boundary call. Zero means no bound.
func WithCallTimeout(d time.Duration) InstanceOption {
	return func(i *Instance) {
		i.callTimeout = d
	}
}

// NewInstance creates an unloaded instance whose contexts come from host.
// Panics if host is nil.
func NewInstance(host Host, opts ...InstanceOption) *Instance {
	if host == nil {
		panic("plugin: host cannot be nil")
	}
	i := &Instance{
		host:      host,
		moduleExt: contract.DefaultExtension,
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.observer == nil {
		i.observer = NewLogObserver(nil)
	}
	return i
}

// Name returns the module name given to the last Load.
func (i *Instance) Name() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.name
}

// State returns the current lifecycle state.
func (i *Instance) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Label returns the label of the owned context, or "" when none is held.
func (i *Instance) Label() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.bctx == nil {
		return ""
	}
	return i.bctx.Label()
}

// Load creates a context and loads name and its dependencies into it.
//
// A module that cannot be found or whose dependencies fail is not a Load
// failure: those problems go to the Observer, and Run later finds nothing
// to invoke. Load fails only when the boundary itself fails. If that happens
// after the context was created, the instance moves to StateFailed and keeps
// the context; the caller must call Unload to release it.
func (i *Instance) Load(ctx context.Context, name string) (err error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	ctx, span := tracer.Start(ctx, "plugin.Load", trace.WithAttributes(attribute.String("plugin.module", name)))
	defer func() { endSpan(span, err) }()

	if i.bctx != nil || i.state != StateUnloaded {
		return i.invalid("load", name)
	}

	dir := i.moduleDir
	if dir == "" {
		wd, werr := os.Getwd()
		if werr != nil {
			return oops.In("plugin").Code(CodeContextCreate).With("module", name).Wrap(fmt.Errorf("%w: %w", ErrContextCreate, werr))
		}
		dir = wd
	}

	label := fmt.Sprintf("domain_%s_%s", name, ulid.Make())
	c, cerr := i.host.Create(ctx, label)
	if cerr != nil {
		return oops.In("plugin").Code(CodeContextCreate).With("module", name).With("context", label).
			Wrap(fmt.Errorf("%w: %w", ErrContextCreate, cerr))
	}
	i.name = name
	i.bctx = c
	i.observer.ContextCreated(label)

	if err := i.setData(ctx,
		contract.KeyModuleName, name,
		contract.KeyModuleDir, dir,
		contract.KeyModuleExt, i.moduleExt,
	); err != nil {
		i.state = StateFailed
		return err
	}
	if _, err := i.runInside(ctx, domain.UnitLoadModule); err != nil {
		i.state = StateFailed
		return err
	}

	i.state = StateLoaded
	return nil
}

// Run calls init on every endpoint of the loaded module. Endpoint failures
// are reported to the Observer and do not fail Run.
func (i *Instance) Run(ctx context.Context) (err error) {
	return i.invoke(ctx, "plugin.Run", contract.Initialize, StateRunning, StateLoaded, StateStopped)
}

// Stop calls terminate on every endpoint of the loaded module. Endpoint
// failures are reported to the Observer and do not fail Stop.
func (i *Instance) Stop(ctx context.Context) (err error) {
	return i.invoke(ctx, "plugin.Stop", contract.Terminate, StateStopped, StateRunning)
}

func (i *Instance) invoke(ctx context.Context, spanName string, action contract.Action, to State, from ...State) (err error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	ctx, span := tracer.Start(ctx, spanName, trace.WithAttributes(
		attribute.String("plugin.module", i.name),
		attribute.String("plugin.action", action.String()),
	))
	defer func() { endSpan(span, err) }()

	if i.bctx == nil {
		return oops.In("plugin").Code(CodeNotLoaded).With("action", action.String()).
			Hint("call Load first").Wrap(ErrNotLoaded)
	}
	if !slices.Contains(from, i.state) {
		return i.invalid(action.String(), i.name)
	}

	if err := i.setData(ctx,
		contract.KeyModuleName, i.name,
		contract.KeyAction, action.Encode(),
		contract.KeyEndpointFilter, capability.EncodePatterns(i.filter),
	); err != nil {
		return err
	}
	if _, err := i.runInside(ctx, domain.UnitInvoke); err != nil {
		return err
	}

	i.state = to
	return nil
}

// Unload destroys the context and everything loaded in it. On failure the
// instance keeps its context and state so Unload can be retried.
func (i *Instance) Unload(ctx context.Context) (err error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	ctx, span := tracer.Start(ctx, "plugin.Unload", trace.WithAttributes(attribute.String("plugin.module", i.name)))
	defer func() { endSpan(span, err) }()

	if i.bctx == nil {
		return oops.In("plugin").Code(CodeNotLoaded).With("module", i.name).Wrap(ErrNotLoaded)
	}
	if i.state == StateRunning {
		return i.invalid("unload", i.name)
	}

	label := i.bctx.Label()
	derr := i.bctx.Destroy(ctx)
	i.observer.ContextDestroyed(label, derr)
	if derr != nil {
		return oops.In("plugin").Code(CodeContextDestroy).With("module", i.name).With("context", label).
			Wrap(fmt.Errorf("%w: %w", ErrContextDestroy, derr))
	}

	i.bctx = nil
	i.state = StateUnloaded
	return nil
}

// Modules returns the modules loaded in the instance's context.
func (i *Instance) Modules(ctx context.Context) ([]string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.bctx == nil {
		return nil, oops.In("plugin").Code(CodeNotLoaded).With("module", i.name).Wrap(ErrNotLoaded)
	}
	mods, err := i.bctx.Modules(ctx)
	if err != nil {
		return nil, oops.In("plugin").Code(CodeUnitFailed).With("module", i.name).Wrap(err)
	}
	return mods, nil
}

// setData writes key/value pairs into the context.
func (i *Instance) setData(ctx context.Context, kv ...string) error {
	for n := 0; n+1 < len(kv); n += 2 {
		if err := i.bctx.SetData(ctx, kv[n], kv[n+1]); err != nil {
			return oops.In("plugin").Code(CodeUnitFailed).With("module", i.name).With("key", kv[n]).
				Wrap(fmt.Errorf("%w: %w", ErrUnitFailed, err))
		}
	}
	return nil
}

func (i *Instance) runInside(ctx context.Context, unit domain.Unit) (*report.Report, error) {
	if i.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.callTimeout)
		defer cancel()
	}

	rep, err := i.bctx.RunInside(ctx, unit)
	i.observer.UnitCompleted(i.bctx.Label(), unit, rep, err)
	if err != nil {
		return rep, oops.In("plugin").Code(CodeUnitFailed).With("module", i.name).With("unit", string(unit)).
			Wrap(fmt.Errorf("%w: %w", ErrUnitFailed, err))
	}
	return rep, nil
}

func (i *Instance) invalid(op, name string) error {
	return oops.In("plugin").Code(CodeInvalidTransition).
		With("module", name).
		With("operation", op).
		With("state", i.state.String()).
		Wrap(fmt.Errorf("%w: cannot %s while %s", ErrInvalidTransition, op, i.state))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
