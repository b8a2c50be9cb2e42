// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package loader resolves modules and their dependency closure inside a
// context's Lua state.
//
// A module is the file <dir>/<name><ext>. It may declare dependencies with a
// top-level requires table and its own version with a version string:
//
//	version = "1.2.0"
//	requires = { "strings", "clock@^2.0" }
//
// Loading is best effort. A module that cannot be found, compiled or executed
// is recorded as a failure and skipped; its siblings still load.
package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	lua "github.com/yuin/gopher-lua"

	pluginlua "github.com/holomush/plugbox/internal/plugin/lua"
	"github.com/holomush/plugbox/internal/plugin/report"
	"github.com/holomush/plugbox/pkg/capability"
)

// namePattern allows letters, digits, '_', '-' and '.', starting with a letter,
// digit or underscore. Path separators never match.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]*$`)

// maxNameLength is the maximum allowed length for module names.
const maxNameLength = 128

// ValidateName checks that name can be resolved to a file in the module dir.
func ValidateName(name string) error {
	if len(name) > maxNameLength {
		return fmt.Errorf("module name must be %d characters or less, got %d", maxNameLength, len(name))
	}
	if !namePattern.MatchString(name) || strings.Contains(name, "..") {
		return fmt.Errorf("module name %q must contain only letters, digits, '_', '-' or '.'", name)
	}
	return nil
}

// Prepare is called on each fresh module environment before the chunk runs.
type Prepare func(L *lua.LState, name string, env *lua.LTable)

// Loader loads modules from one directory.
type Loader struct {
	dir     string
	ext     string
	cache   *pluginlua.ChunkCache
	prepare Prepare
}

// Option configures a Loader.
type Option func(*Loader)

// WithCache shares compiled chunks through cache.
func WithCache(cache *pluginlua.ChunkCache) Option {
	return func(l *Loader) {
		l.cache = cache
	}
}

// WithPrepare installs a hook run on every new module environment.
func WithPrepare(fn Prepare) Option {
	return func(l *Loader) {
		l.prepare = fn
	}
}

// New creates a loader for dir. An empty dir means the process's working
// directory and an empty ext means capability.DefaultExtension.
func New(dir, ext string, opts ...Option) *Loader {
	if ext == "" {
		ext = capability.DefaultExtension
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	l := &Loader{dir: dir, ext: ext}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Path returns the file a module name resolves to.
func (l *Loader) Path(name string) (string, error) {
	dir := l.dir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolve working directory: %w", err)
		}
		dir = wd
	}
	return filepath.Join(dir, name+l.ext), nil
}

// Load loads name and, recursively, everything it requires into set.
// A name already present in set is a no-op, which is what makes dependency
// cycles terminate. Problems are recorded in rep; Load never panics on
// module content.
func (l *Loader) Load(L *lua.LState, set *ModuleSet, name string, rep *report.Report) {
	if set.Has(name) {
		return
	}
	if err := ValidateName(name); err != nil {
		rep.Fail(report.Failure{Module: name, Stage: report.StageResolve, Message: err.Error()})
		return
	}

	path, err := l.Path(name)
	if err != nil {
		rep.Fail(report.Failure{Module: name, Stage: report.StageResolve, Message: err.Error()})
		return
	}

	proto, err := l.cache.Compile(path)
	if err != nil {
		rep.Fail(report.Failure{Module: name, Stage: report.StageResolve, Message: err.Error()})
		return
	}

	env := pluginlua.NewModuleEnv(L)
	if l.prepare != nil {
		l.prepare(L, name, env)
	}
	if err := pluginlua.Exec(L, proto, env); err != nil {
		rep.Fail(report.Failure{Module: name, Stage: report.StageExecute, Message: err.Error()})
		return
	}

	module := &Module{
		Name:    name,
		Path:    path,
		Version: stringField(env, capability.VersionField),
		Env:     env,
	}
	// Mark as visited before walking dependencies.
	set.add(module)
	rep.Loaded = append(rep.Loaded, name)

	for _, req := range l.requirements(env, name, rep) {
		l.Load(L, set, req.name, rep)
		if req.constraint != "" {
			checkConstraint(set, name, req, rep)
		}
	}
}

// requirement is one parsed entry of a module's requires table.
type requirement struct {
	name       string
	constraint string
}

func (l *Loader) requirements(env *lua.LTable, module string, rep *report.Report) []requirement {
	raw := env.RawGetString(capability.RequiresField)
	if raw == lua.LNil {
		return nil
	}
	table, ok := raw.(*lua.LTable)
	if !ok {
		rep.Fail(report.Failure{
			Module:  module,
			Stage:   report.StageDependency,
			Message: "requires must be a table, got " + raw.Type().String(),
		})
		return nil
	}

	var reqs []requirement
	for i := 1; i <= table.Len(); i++ {
		entry, ok := table.RawGetInt(i).(lua.LString)
		if !ok {
			rep.Fail(report.Failure{
				Module:  module,
				Stage:   report.StageDependency,
				Message: fmt.Sprintf("requires[%d] must be a string", i),
			})
			continue
		}
		name, constraint, _ := strings.Cut(strings.TrimSpace(string(entry)), "@")
		reqs = append(reqs, requirement{
			name:       strings.TrimSpace(name),
			constraint: strings.TrimSpace(constraint),
		})
	}
	return reqs
}

func checkConstraint(set *ModuleSet, module string, req requirement, rep *report.Report) {
	dep, ok := set.Get(req.name)
	if !ok {
		// The dependency's own load failure is already recorded.
		return
	}
	fail := func(msg string) {
		rep.Fail(report.Failure{Module: module, Stage: report.StageDependency, Message: msg})
	}

	c, err := semver.NewConstraint(req.constraint)
	if err != nil {
		fail(fmt.Sprintf("invalid constraint %q for %s: %v", req.constraint, req.name, err))
		return
	}
	v, err := semver.NewVersion(dep.Version)
	if err != nil {
		fail(fmt.Sprintf("%s has no usable version (%q) for constraint %q", req.name, dep.Version, req.constraint))
		return
	}
	if !c.Check(v) {
		fail(fmt.Sprintf("%s %s does not satisfy %q", req.name, v, req.constraint))
	}
}

func stringField(t *lua.LTable, key string) string {
	if s, ok := t.RawGetString(key).(lua.LString); ok {
		return string(s)
	}
	return ""
}
