// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/holomush/plugbox/internal/config"
	"github.com/holomush/plugbox/internal/logging"
	"github.com/holomush/plugbox/internal/observability"
	"github.com/holomush/plugbox/internal/plugin"
	"github.com/holomush/plugbox/pkg/errutil"
)

// shutdownTimeout bounds teardown after a shutdown signal.
const shutdownTimeout = 10 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start every autoloaded module and keep them running",
		Long: `Discover modules in the module directory, start each one matching the
autoload patterns in its own context, and keep them running until SIGINT or
SIGTERM. With --watch, edited modules are reloaded in every context that has
them loaded.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, cmd)
		},
	}
}

// runServe runs the manager until ctx is cancelled or a signal arrives.
func runServe(ctx context.Context, cfg *config.Config, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := logging.Setup("plugbox", version, cfg.LogFormat, cfg.LogLevel, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	host, err := newHost(cfg, logger)
	if err != nil {
		return err
	}

	observers := plugin.Observers{plugin.NewLogObserver(logger)}
	var ready atomic.Bool
	var obsServer *observability.Server
	if cfg.MetricsAddr != "" {
		obsServer = observability.NewServer(cfg.MetricsAddr, ready.Load)
		observers = append(observers, obsServer.Metrics())
	}

	mgr, err := plugin.NewManager(host, cfg.ModuleDir,
		plugin.WithManagerExtension(cfg.Extension),
		plugin.WithAutoload(cfg.Autoload),
		plugin.WithManagerLogger(logger),
		plugin.WithInstanceOptions(instanceOptions(cfg, observers)...),
	)
	if err != nil {
		_ = host.Close(context.Background())
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if obsServer != nil {
		errCh, err := obsServer.Start()
		if err != nil {
			_ = mgr.Close(context.Background())
			return oops.In("serve").With("addr", cfg.MetricsAddr).Hint("failed to start observability server").Wrap(err)
		}
		g.Go(func() error {
			select {
			case err, ok := <-errCh:
				if ok && err != nil {
					return oops.In("serve").Hint("observability server failed").Wrap(err)
				}
			case <-gctx.Done():
			}
			return nil
		})
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	if err := mgr.LoadAll(gctx); err != nil {
		errutil.LogError(logger, "failed to discover modules", err)
	}
	ready.Store(true)

	if cfg.Watch {
		g.Go(func() error { return mgr.Watch(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "plugbox serving %d module(s) from %s\n", len(mgr.ListPlugins()), mgr.Dir())
	logger.Info("plugbox ready", "modules", mgr.ListPlugins(), "isolation", cfg.Isolation)

	runErr := g.Wait()

	logger.Info("shutting down...")
	ready.Store(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := mgr.Close(shutdownCtx); err != nil {
		errutil.LogError(logger, "error closing plugins", err)
	}
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return runErr
}
