// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package local provides an in-process isolated context host. Every context
// owns its own Lua state and data store, so modules loaded into one context
// cannot see those loaded into another, and destroying a context releases
// everything it loaded.
package local

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/samber/oops"

	"github.com/holomush/plugbox/internal/plugin"
	"github.com/holomush/plugbox/internal/plugin/domain"
	pluginlua "github.com/holomush/plugbox/internal/plugin/lua"
	"github.com/holomush/plugbox/internal/plugin/report"
)

// Sentinel errors for programmatic error checking.
var (
	// ErrContextDestroyed is returned when a destroyed context is used.
	ErrContextDestroyed = errors.New("context destroyed")
	// ErrHostClosed is returned by Create after Close.
	ErrHostClosed = errors.New("host closed")
	// ErrDuplicateLabel is returned when a live context already has the label.
	ErrDuplicateLabel = errors.New("duplicate context label")
)

// Compile-time interface checks.
var (
	_ plugin.Host    = (*Host)(nil)
	_ plugin.Context = (*Context)(nil)
)

// Host creates in-process contexts.
type Host struct {
	logger    *slog.Logger
	cacheSize int
	cache     *pluginlua.ChunkCache

	mu       sync.Mutex
	contexts map[string]*Context
	closed   bool
}

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the logger handed to every context.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Host) {
		h.logger = logger
	}
}

// WithCacheSize sets how many compiled chunks are shared between contexts.
func WithCacheSize(size int) Option {
	return func(h *Host) {
		h.cacheSize = size
	}
}

// NewHost creates an in-process host.
func NewHost(opts ...Option) (*Host, error) {
	h := &Host{
		logger:    slog.Default(),
		cacheSize: pluginlua.DefaultCacheSize,
		contexts:  make(map[string]*Context),
	}
	for _, opt := range opts {
		opt(h)
	}

	cache, err := pluginlua.NewChunkCache(h.cacheSize)
	if err != nil {
		return nil, oops.In("local").Wrap(err)
	}
	h.cache = cache
	return h, nil
}

// Create allocates a new context.
func (h *Host) Create(ctx context.Context, label string) (plugin.Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.In("local").With("label", label).Wrap(err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, oops.In("local").With("label", label).Wrap(ErrHostClosed)
	}
	if _, ok := h.contexts[label]; ok {
		return nil, oops.In("local").With("label", label).Wrap(ErrDuplicateLabel)
	}

	d, err := domain.New(label,
		domain.WithLogger(h.logger),
		domain.WithCache(h.cache),
	)
	if err != nil {
		return nil, err
	}

	c := &Context{host: h, label: label, domain: d}
	h.contexts[label] = c
	return c, nil
}

// Len returns the number of live contexts.
func (h *Host) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.contexts)
}

// Close destroys every live context. The host rejects Create afterwards.
func (h *Host) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	live := make([]*Context, 0, len(h.contexts))
	for _, c := range h.contexts {
		live = append(live, c)
	}
	h.mu.Unlock()

	var errs []error
	for _, c := range live {
		if err := c.Destroy(ctx); err != nil && !errors.Is(err, ErrContextDestroyed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *Host) forget(label string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.contexts, label)
}

// Context is one in-process isolated context.
type Context struct {
	host  *Host
	label string

	mu     sync.Mutex
	domain *domain.Domain
}

// Label returns the context label.
func (c *Context) Label() string {
	return c.label
}

// SetData writes a context-local value.
func (c *Context) SetData(_ context.Context, key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.domain == nil {
		return c.destroyed()
	}
	return c.domain.SetData(key, value)
}

// RunInside runs unit against the context's domain.
func (c *Context) RunInside(ctx context.Context, unit domain.Unit) (*report.Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.domain == nil {
		return nil, c.destroyed()
	}
	return c.domain.Run(ctx, unit)
}

// Modules returns the loaded module names in load order.
func (c *Context) Modules(_ context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.domain == nil {
		return nil, c.destroyed()
	}
	return c.domain.Modules(), nil
}

// Destroy closes the domain. A second call returns ErrContextDestroyed.
func (c *Context) Destroy(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.domain == nil {
		return c.destroyed()
	}
	err := c.domain.Close()
	c.domain = nil
	c.host.forget(c.label)
	if err != nil {
		return oops.In("local").With("label", c.label).Wrap(err)
	}
	return nil
}

func (c *Context) destroyed() error {
	return oops.In("local").With("label", c.label).Wrap(ErrContextDestroyed)
}
