// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"log/slog"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/plugbox/internal/config"
	"github.com/holomush/plugbox/internal/plugin"
	"github.com/holomush/plugbox/internal/plugin/goplugin"
	"github.com/holomush/plugbox/internal/plugin/local"
	"github.com/holomush/plugbox/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the plugbox CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugbox",
		Short: "plugbox - run Lua plugins in isolated contexts",
		Long: `plugbox loads plugin modules into isolated execution contexts and
drives them through load, run, stop and unload. Each loaded module and its
dependencies live in a context of their own, so a failing plugin cannot
disturb its neighbours.`,
		SilenceUsage: true,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/plugbox/config.yaml)")
	config.RegisterFlags(cmd.PersistentFlags())

	// Add subcommands
	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewCheckConfigCmd())
	cmd.AddCommand(NewBoundaryCmd())

	return cmd
}

// loadConfig reads the configuration for cmd. Without --config the XDG
// config file is used when present.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, explicit := configFile, configFile != ""
	if !explicit {
		if p, err := xdg.ConfigFile(); err == nil {
			path = p
		}
	}
	return config.Load(path, explicit, cmd.Flags())
}

// newHost builds the context host selected by cfg.Isolation.
func newHost(cfg *config.Config, logger *slog.Logger) (plugin.Host, error) {
	switch cfg.Isolation {
	case config.IsolationLocal:
		host, err := local.NewHost(local.WithLogger(logger), local.WithCacheSize(cfg.CacheSize))
		if err != nil {
			return nil, err
		}
		return host, nil
	case config.IsolationProcess:
		factory, err := goplugin.NewDefaultClientFactory()
		if err != nil {
			return nil, err
		}
		factory.Logger = hclog.New(&hclog.LoggerOptions{
			Name:       "boundary",
			Level:      hclog.LevelFromString(cfg.LogLevel),
			Output:     os.Stderr,
			JSONFormat: cfg.LogFormat == "json",
		})
		host, err := goplugin.NewHost(goplugin.WithClientFactory(factory))
		if err != nil {
			return nil, err
		}
		return host, nil
	default:
		return nil, oops.In("cli").With("isolation", cfg.Isolation).Errorf("unknown isolation mode")
	}
}

// instanceOptions are the Instance options shared by run and serve. The
// manager sets module dir and extension itself.
func instanceOptions(cfg *config.Config, observer plugin.Observer) []plugin.InstanceOption {
	return []plugin.InstanceOption{
		plugin.WithObserver(observer),
		plugin.WithEndpointFilter(cfg.EndpointFilter),
		plugin.WithCallTimeout(cfg.CallTimeout),
	}
}
