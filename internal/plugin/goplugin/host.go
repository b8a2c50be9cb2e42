// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package goplugin provides a Host whose contexts are child processes. Each
// context is a re-execution of the current binary serving the boundary
// service over gRPC with HashiCorp's go-plugin, so destroying a context
// terminates everything loaded in it.
package goplugin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	hashiplug "github.com/hashicorp/go-plugin"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/holomush/plugbox/internal/plugin"
	"github.com/holomush/plugbox/internal/plugin/domain"
	"github.com/holomush/plugbox/internal/plugin/report"
)

// BoundaryCommand is the hidden subcommand the child process is started with.
const BoundaryCommand = "boundary"

// Default connection retry policy.
const (
	DefaultMaxRetries = 3
	DefaultBackoff    = 50 * time.Millisecond
)

// Sentinel errors for programmatic error checking.
var (
	// ErrHostClosed is returned when operations are attempted on a closed host.
	ErrHostClosed = errors.New("host is closed")
	// ErrContextDestroyed is returned when a destroyed context is used.
	ErrContextDestroyed = errors.New("context destroyed")
	// ErrNotBoundary is returned when the dispensed plugin is not a boundary client.
	ErrNotBoundary = errors.New("dispensed plugin is not a boundary client")
)

// Compile-time interface checks.
var (
	_ plugin.Host    = (*Host)(nil)
	_ plugin.Context = (*Context)(nil)
)

// PluginClient wraps go-plugin client for testability.
type PluginClient interface {
	// Client returns the gRPC client protocol, starting the process if needed.
	Client() (hashiplug.ClientProtocol, error)
	// Kill terminates the child process.
	Kill()
}

// ClientFactory creates plugin clients.
type ClientFactory interface {
	// NewClient creates a client for a context labelled label.
	NewClient(label string) PluginClient
}

// DefaultClientFactory starts the boundary by re-executing a binary.
type DefaultClientFactory struct {
	// Executable is the binary to start.
	Executable string
	// Args are passed to Executable.
	Args []string
	// Dir is the child's working directory, where modules resolve by default.
	Dir string
	// Logger receives go-plugin and child stderr output.
	Logger hclog.Logger
}

// NewDefaultClientFactory returns a factory that re-executes the current
// binary with the boundary subcommand in the current working directory.
func NewDefaultClientFactory() (*DefaultClientFactory, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, oops.In("goplugin").Hint("cannot locate own executable").Wrap(err)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, oops.In("goplugin").Wrap(err)
	}
	return &DefaultClientFactory{
		Executable: exe,
		Args:       []string{BoundaryCommand},
		Dir:        wd,
		Logger: hclog.New(&hclog.LoggerOptions{
			Name:   "boundary",
			Level:  hclog.Warn,
			Output: os.Stderr,
		}),
	}, nil
}

// NewClient creates a real go-plugin client.
func (f *DefaultClientFactory) NewClient(label string) PluginClient {
	cmd := exec.Command(f.Executable, f.Args...) // #nosec G204 -- executable is our own binary
	cmd.Dir = f.Dir
	cmd.Env = append(os.Environ(), LabelEnv+"="+label)
	return hashiplug.NewClient(&hashiplug.ClientConfig{
		HandshakeConfig:  HandshakeConfig,
		Plugins:          PluginMap,
		Cmd:              cmd,
		AllowedProtocols: []hashiplug.Protocol{hashiplug.ProtocolGRPC},
		Logger:           f.Logger,
	})
}

// Host creates contexts backed by child processes.
type Host struct {
	factory    ClientFactory
	maxRetries uint64
	backoff    time.Duration

	mu       sync.Mutex
	contexts map[string]*Context
	closed   bool
}

// Option configures a Host.
type Option func(*Host)

// WithClientFactory replaces the default factory (for testing).
func WithClientFactory(f ClientFactory) Option {
	return func(h *Host) {
		h.factory = f
	}
}

// WithRetry sets how many times a failed connection is retried and the
// initial exponential backoff.
func WithRetry(maxRetries uint64, backoff time.Duration) Option {
	return func(h *Host) {
		h.maxRetries = maxRetries
		h.backoff = backoff
	}
}

// NewHost creates a process host.
func NewHost(opts ...Option) (*Host, error) {
	h := &Host{
		maxRetries: DefaultMaxRetries,
		backoff:    DefaultBackoff,
		contexts:   make(map[string]*Context),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.factory == nil {
		f, err := NewDefaultClientFactory()
		if err != nil {
			return nil, err
		}
		h.factory = f
	}
	return h, nil
}

// Create starts a boundary process for label. Failing to reach the
// process is retried with exponential backoff; every failed attempt's
// process is killed.
func (h *Host) Create(ctx context.Context, label string) (plugin.Context, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, oops.In("goplugin").With("label", label).Wrap(ErrHostClosed)
	}
	h.mu.Unlock()

	var (
		client PluginClient
		bc     BoundaryClient
	)
	backoff := retry.WithMaxRetries(h.maxRetries, retry.NewExponential(h.backoff))
	err := retry.Do(ctx, backoff, func(_ context.Context) error {
		c := h.factory.NewClient(label)
		rpc, err := c.Client()
		if err != nil {
			c.Kill()
			return retry.RetryableError(fmt.Errorf("connect: %w", err))
		}
		raw, err := rpc.Dispense(PluginName)
		if err != nil {
			c.Kill()
			return fmt.Errorf("dispense: %w", err)
		}
		b, ok := raw.(BoundaryClient)
		if !ok {
			c.Kill()
			return ErrNotBoundary
		}
		client, bc = c, b
		return nil
	})
	if err != nil {
		return nil, oops.In("goplugin").With("label", label).Hint("failed to start boundary process").Wrap(err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		client.Kill()
		return nil, oops.In("goplugin").With("label", label).Wrap(ErrHostClosed)
	}
	c := &Context{host: h, label: label, client: client, rpc: bc}
	h.contexts[label] = c
	return c, nil
}

// Len returns the number of live contexts.
func (h *Host) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.contexts)
}

// Close kills every live boundary process.
func (h *Host) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	live := make([]*Context, 0, len(h.contexts))
	for _, c := range h.contexts {
		live = append(live, c)
	}
	h.mu.Unlock()

	for _, c := range live {
		_ = c.Destroy(ctx)
	}
	return nil
}

func (h *Host) forget(label string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.contexts, label)
}

// Context is one boundary process.
type Context struct {
	host   *Host
	label  string
	client PluginClient
	rpc    BoundaryClient

	mu        sync.Mutex
	destroyed bool
}

// Label returns the context label.
func (c *Context) Label() string {
	return c.label
}

// SetData writes a context-local value in the boundary process.
func (c *Context) SetData(ctx context.Context, key, value string) error {
	if err := c.live(); err != nil {
		return err
	}
	if _, err := c.rpc.SetData(ctx, encodeData(key, value)); err != nil {
		return c.wrap(err).With("key", key).Wrap(err)
	}
	return nil
}

// RunInside runs unit in the boundary process.
func (c *Context) RunInside(ctx context.Context, unit domain.Unit) (*report.Report, error) {
	if err := c.live(); err != nil {
		return nil, err
	}
	out, err := c.rpc.RunInside(ctx, wrapperspb.String(string(unit)))
	if err != nil {
		return nil, c.wrap(err).With("unit", string(unit)).Wrap(err)
	}
	rep, err := decodeReport(out)
	if err != nil {
		return nil, oops.In("goplugin").With("label", c.label).Hint("malformed report").Wrap(err)
	}
	return rep, nil
}

// Modules returns the modules loaded in the boundary process.
func (c *Context) Modules(ctx context.Context) ([]string, error) {
	if err := c.live(); err != nil {
		return nil, err
	}
	out, err := c.rpc.Modules(ctx, &emptypb.Empty{})
	if err != nil {
		return nil, c.wrap(err).Wrap(err)
	}
	mods, err := decodeStrings(out)
	if err != nil {
		return nil, oops.In("goplugin").With("label", c.label).Wrap(err)
	}
	return mods, nil
}

// Destroy kills the boundary process. A second call returns ErrContextDestroyed.
func (c *Context) Destroy(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed {
		return oops.In("goplugin").With("label", c.label).Wrap(ErrContextDestroyed)
	}
	c.destroyed = true
	c.client.Kill()
	c.host.forget(c.label)
	return nil
}

func (c *Context) live() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return oops.In("goplugin").With("label", c.label).Wrap(ErrContextDestroyed)
	}
	return nil
}

// wrap starts an error builder carrying the gRPC status code.
func (c *Context) wrap(err error) oops.OopsErrorBuilder {
	return oops.In("goplugin").With("label", c.label).Code(status.Code(err).String())
}
