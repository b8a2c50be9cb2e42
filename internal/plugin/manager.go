// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"
	"github.com/samber/oops"

	"github.com/holomush/plugbox/internal/plugin/loader"
	contract "github.com/holomush/plugbox/pkg/capability"
	"github.com/holomush/plugbox/pkg/errutil"
)

// Manager errors.
var (
	// ErrPluginNotFound is returned when no instance runs under the name.
	ErrPluginNotFound = errors.New("plugin not found")
	// ErrAlreadyStarted is returned when an instance already runs under the name.
	ErrAlreadyStarted = errors.New("plugin already started")
)

// Manager discovers modules in a directory and runs each one in its own
// Instance.
type Manager struct {
	host         Host
	moduleDir    string
	ext          string
	autoload     []glob.Glob
	instanceOpts []InstanceOption
	logger       *slog.Logger

	mu        sync.RWMutex
	instances map[string]*Instance
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager) error

// WithManagerExtension sets the module file extension.
func WithManagerExtension(ext string) ManagerOption {
	return func(m *Manager) error {
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if ext != "" {
			m.ext = ext
		}
		return nil
	}
}

// WithAutoload restricts discovery to modules whose names match one of the
// glob patterns. Without it every module in the directory is discovered.
func WithAutoload(patterns []string) ManagerOption {
	return func(m *Manager) error {
		m.autoload = m.autoload[:0]
		for _, p := range patterns {
			g, err := glob.Compile(p)
			if err != nil {
				return oops.In("manager").With("pattern", p).Hint("invalid autoload pattern").Wrap(err)
			}
			m.autoload = append(m.autoload, g)
		}
		return nil
	}
}

// WithInstanceOptions adds options applied to every Instance the manager
// creates.
func WithInstanceOptions(opts ...InstanceOption) ManagerOption {
	return func(m *Manager) error {
		m.instanceOpts = append(m.instanceOpts, opts...)
		return nil
	}
}

// WithManagerLogger sets the manager's logger.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) error {
		m.logger = logger
		return nil
	}
}

// NewManager creates a manager for the modules in moduleDir. An empty
// moduleDir means the working directory.
func NewManager(host Host, moduleDir string, opts ...ManagerOption) (*Manager, error) {
	if host == nil {
		return nil, oops.In("manager").Errorf("host cannot be nil")
	}
	if moduleDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, oops.In("manager").Wrap(err)
		}
		moduleDir = wd
	}
	abs, err := filepath.Abs(moduleDir)
	if err != nil {
		return nil, oops.In("manager").With("dir", moduleDir).Wrap(err)
	}

	m := &Manager{
		host:      host,
		moduleDir: abs,
		ext:       contract.DefaultExtension,
		logger:    slog.Default(),
		instances: make(map[string]*Instance),
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Dir returns the absolute module directory.
func (m *Manager) Dir() string {
	return m.moduleDir
}

// Discover lists the module names in the module directory that match the
// autoload patterns, sorted. A missing directory yields no modules.
func (m *Manager) Discover(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(m.moduleDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, oops.In("manager").With("dir", m.moduleDir).Hint("failed to read module directory").Wrap(err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), m.ext) {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), m.ext)
		if err := loader.ValidateName(name); err != nil {
			m.logger.Warn("skipping module with invalid name", "file", entry.Name(), "error", err)
			continue
		}
		if !m.autoloads(name) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *Manager) autoloads(name string) bool {
	if len(m.autoload) == 0 {
		return true
	}
	for _, g := range m.autoload {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// LoadAll discovers modules and starts each one in its own Instance.
//
// LoadAll uses graceful degradation: a module that fails to start is logged
// and skipped. Callers who need strict loading should use Discover and Start.
func (m *Manager) LoadAll(ctx context.Context) error {
	names, err := m.Discover(ctx)
	if err != nil {
		return err
	}

	for _, name := range names {
		if err := m.Start(ctx, name); err != nil {
			errutil.LogError(m.logger.With("plugin", name), "failed to start plugin", err)
		}
	}
	return nil
}

// Start loads and runs name in a new Instance. If Load or Run fails the
// instance's context is released before returning.
func (m *Manager) Start(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.instances[name]; ok {
		return oops.In("manager").With("plugin", name).Wrap(ErrAlreadyStarted)
	}

	opts := append([]InstanceOption{
		WithModuleDir(m.moduleDir),
		WithExtension(m.ext),
	}, m.instanceOpts...)
	inst := NewInstance(m.host, opts...)

	if err := inst.Load(ctx, name); err != nil {
		m.release(ctx, inst)
		return err
	}
	if err := inst.Run(ctx); err != nil {
		m.release(ctx, inst)
		return err
	}

	m.instances[name] = inst
	m.logger.Info("started plugin", "plugin", name, "context", inst.Label())
	return nil
}

// release unloads an instance that failed to start.
func (m *Manager) release(ctx context.Context, inst *Instance) {
	if inst.Label() == "" {
		return
	}
	if err := inst.Unload(ctx); err != nil {
		errutil.LogError(m.logger.With("plugin", inst.Name()), "failed to release plugin", err)
	}
}

// drop releases inst and stops managing it under name.
func (m *Manager) drop(ctx context.Context, name string, inst *Instance) {
	m.release(ctx, inst)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.instances[name] == inst {
		delete(m.instances, name)
	}
}

// Get returns the instance running name.
func (m *Manager) Get(name string) (*Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[name]
	return inst, ok
}

// ListPlugins returns the names of all managed instances, sorted.
func (m *Manager) ListPlugins() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.instances))
	for name := range m.instances {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reload replaces name's context with a fresh one: Stop (if running),
// Unload, Load, Run. Module edits on disk take effect. If Load or Run fails
// the fresh context is released and name is no longer managed, so a later
// Start can retry it.
func (m *Manager) Reload(ctx context.Context, name string) error {
	inst, ok := m.Get(name)
	if !ok {
		return oops.In("manager").With("plugin", name).Wrap(ErrPluginNotFound)
	}

	if inst.State() == StateRunning {
		if err := inst.Stop(ctx); err != nil {
			return err
		}
	}
	if err := inst.Unload(ctx); err != nil {
		return err
	}
	if err := inst.Load(ctx, name); err != nil {
		m.drop(ctx, name, inst)
		return err
	}
	if err := inst.Run(ctx); err != nil {
		m.drop(ctx, name, inst)
		return err
	}

	m.logger.Info("reloaded plugin", "plugin", name, "context", inst.Label())
	return nil
}

// Close stops and unloads every instance, then closes the host. Errors are
// joined; every instance is attempted.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for name, inst := range m.instances {
		if inst.State() == StateRunning {
			if err := inst.Stop(ctx); err != nil {
				errs = append(errs, fmt.Errorf("stop %s: %w", name, err))
			}
		}
		if inst.Label() != "" {
			if err := inst.Unload(ctx); err != nil {
				errs = append(errs, fmt.Errorf("unload %s: %w", name, err))
			}
		}
	}
	m.instances = make(map[string]*Instance)

	if err := m.host.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close host: %w", err))
	}
	return errors.Join(errs...)
}

// Watch reloads instances when module files change, until ctx is done.
// A change to module X reloads every instance whose context has X loaded.
// A new file matching the autoload patterns is started.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return oops.In("manager").Hint("failed to create watcher").Wrap(err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(m.moduleDir); err != nil {
		return oops.In("manager").With("dir", m.moduleDir).Hint("failed to watch module directory").Wrap(err)
	}
	m.logger.Info("watching modules", "dir", m.moduleDir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			base := filepath.Base(ev.Name)
			if !strings.HasSuffix(base, m.ext) {
				continue
			}
			m.changed(ctx, strings.TrimSuffix(base, m.ext))
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.logger.Warn("module watcher error", "error", werr)
		}
	}
}

// changed reacts to an edit of module name.
func (m *Manager) changed(ctx context.Context, name string) {
	reloaded := false
	for _, running := range m.ListPlugins() {
		inst, ok := m.Get(running)
		if !ok {
			continue
		}
		mods, err := inst.Modules(ctx)
		if err != nil || !slices.Contains(mods, name) {
			continue
		}
		reloaded = true
		if err := m.Reload(ctx, running); err != nil {
			errutil.LogError(m.logger.With("plugin", running), "failed to reload plugin", err)
		}
	}
	if reloaded {
		return
	}

	if _, ok := m.Get(name); ok || loader.ValidateName(name) != nil || !m.autoloads(name) {
		return
	}
	if err := m.Start(ctx, name); err != nil {
		errutil.LogError(m.logger.With("plugin", name), "failed to start plugin", err)
	}
}
