// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads plugbox configuration from defaults, an optional YAML
// file and command-line flags, in that order of precedence.
package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/gobwas/glob"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/plugbox/internal/plugin/capability"
	pluginlua "github.com/holomush/plugbox/internal/plugin/lua"
	contract "github.com/holomush/plugbox/pkg/capability"
)

// Isolation modes.
const (
	IsolationProcess = "process"
	IsolationLocal   = "local"
)

// CodeInvalid is the oops code of every configuration error.
const CodeInvalid = "INVALID_CONFIG"

// Config is the plugbox configuration.
type Config struct {
	// ModuleDir is where modules are resolved. Empty means the working directory.
	ModuleDir string `koanf:"module_dir" json:"module_dir,omitempty" jsonschema:"description=Directory modules are resolved in; empty means the working directory"`
	// Extension is the module file extension.
	Extension string `koanf:"extension" json:"extension,omitempty" jsonschema:"description=Module file extension,pattern=^\\.?[A-Za-z0-9_]+$"`
	// Isolation selects the context host: a child process per context or an
	// in-process Lua state per context.
	Isolation string `koanf:"isolation" json:"isolation,omitempty" jsonschema:"description=Context isolation,enum=process,enum=local"`
	// CallTimeout bounds each boundary call. Zero disables the bound.
	CallTimeout time.Duration `koanf:"call_timeout" json:"call_timeout,omitempty" jsonschema:"oneof_type=string;integer,description=Per-call timeout such as 5s; 0 disables"`
	// Autoload selects which modules serve starts, as glob patterns on the module name.
	Autoload []string `koanf:"autoload" json:"autoload,omitempty" jsonschema:"description=Glob patterns of module names serve starts"`
	// EndpointFilter restricts which endpoints are invoked, as Module.Type globs.
	EndpointFilter []string `koanf:"endpoint_filter" json:"endpoint_filter,omitempty" jsonschema:"description=Module.Type glob patterns of endpoints to invoke"`
	// LogFormat is json or text.
	LogFormat string `koanf:"log_format" json:"log_format,omitempty" jsonschema:"enum=json,enum=text"`
	// LogLevel is debug, info, warn or error.
	LogLevel string `koanf:"log_level" json:"log_level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	// MetricsAddr is the metrics/health listen address. Empty disables it.
	MetricsAddr string `koanf:"metrics_addr" json:"metrics_addr,omitempty" jsonschema:"description=Metrics and health HTTP address; empty disables"`
	// Watch enables reloading on module file changes.
	Watch bool `koanf:"watch" json:"watch,omitempty"`
	// CacheSize is the number of compiled modules kept by in-process hosts.
	CacheSize int `koanf:"cache_size" json:"cache_size,omitempty" jsonschema:"minimum=1"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Extension:   contract.DefaultExtension,
		Isolation:   IsolationProcess,
		CallTimeout: 30 * time.Second,
		Autoload:    []string{"*"},
		LogFormat:   "json",
		LogLevel:    "info",
		MetricsAddr: "",
		CacheSize:   pluginlua.DefaultCacheSize,
	}
}

// RegisterFlags adds one flag per configuration key to fs. Flag names use
// hyphens where keys use underscores.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("module-dir", d.ModuleDir, "directory modules are resolved in (default: working directory)")
	fs.String("extension", d.Extension, "module file extension")
	fs.String("isolation", d.Isolation, "context isolation: process or local")
	fs.Duration("call-timeout", d.CallTimeout, "per-call timeout for context operations (0 disables)")
	fs.StringSlice("autoload", d.Autoload, "glob patterns of module names to start")
	fs.StringSlice("endpoint-filter", d.EndpointFilter, "Module.Type glob patterns of endpoints to invoke")
	fs.String("log-format", d.LogFormat, "log format: json or text")
	fs.String("log-level", d.LogLevel, "log level: debug, info, warn or error")
	fs.String("metrics-addr", d.MetricsAddr, "metrics/health HTTP address (empty = disabled)")
	fs.Bool("watch", d.Watch, "reload modules when their files change")
	fs.Int("cache-size", d.CacheSize, "compiled module cache size")
}

// Load builds the configuration. path names a YAML file; when explicit is
// false a missing file is ignored. fs may be nil; flags registered with
// RegisterFlags override the file only when set on the command line.
func Load(path string, explicit bool, fs *pflag.FlagSet) (*Config, error) {
	cfg := Default()
	k := koanf.New(".")

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
		switch {
		case err == nil:
			if err := ValidateSchema(data); err != nil {
				return nil, oops.In("config").Code(CodeInvalid).With("path", path).Wrap(err)
			}
			if err := k.Load(file.Provider(path), kyaml.Parser()); err != nil {
				return nil, oops.In("config").Code(CodeInvalid).With("path", path).Wrap(err)
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return nil, oops.In("config").With("path", path).Hint("cannot read config file").Wrap(err)
		}
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, interface{}) {
			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.In("config").Code(CodeInvalid).Wrap(err)
		}
	}

	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.In("config").Code(CodeInvalid).Wrap(err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	if c.Extension != "" && !strings.HasPrefix(c.Extension, ".") {
		c.Extension = "." + c.Extension
	}
	if len(c.EndpointFilter) == 0 {
		c.EndpointFilter = nil
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	invalid := func(key string, format string, args ...any) error {
		return oops.In("config").Code(CodeInvalid).With("key", key).Errorf(format, args...)
	}

	if c.Extension == "" || c.Extension == "." {
		return invalid("extension", "extension is required")
	}
	if c.Isolation != IsolationProcess && c.Isolation != IsolationLocal {
		return invalid("isolation", "isolation must be %q or %q, got %q", IsolationProcess, IsolationLocal, c.Isolation)
	}
	if c.CallTimeout < 0 {
		return invalid("call_timeout", "call_timeout must not be negative, got %s", c.CallTimeout)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return invalid("log_format", "log_format must be 'json' or 'text', got %q", c.LogFormat)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return invalid("log_level", "log_level must be debug, info, warn or error, got %q", c.LogLevel)
	}
	if c.CacheSize < 1 {
		return invalid("cache_size", "cache_size must be positive, got %d", c.CacheSize)
	}
	for _, p := range c.Autoload {
		if _, err := glob.Compile(p); err != nil {
			return oops.In("config").Code(CodeInvalid).With("key", "autoload").With("pattern", p).Wrap(err)
		}
	}
	if _, err := capability.NewFilter(c.EndpointFilter); err != nil {
		return oops.In("config").Code(CodeInvalid).With("key", "endpoint_filter").Wrap(err)
	}
	return nil
}
