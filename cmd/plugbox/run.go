// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/holomush/plugbox/internal/config"
	"github.com/holomush/plugbox/internal/logging"
	"github.com/holomush/plugbox/internal/plugin"
	"github.com/holomush/plugbox/internal/plugin/domain"
	"github.com/holomush/plugbox/internal/plugin/report"
	"github.com/holomush/plugbox/pkg/errutil"
)

// NewRunCmd creates the run subcommand.
func NewRunCmd() *cobra.Command {
	var hold bool

	cmd := &cobra.Command{
		Use:   "run <module>",
		Short: "Load a module, run its endpoints, then stop and unload it",
		Long: `Load a module and its dependencies into a fresh context, initialize
every endpoint, then terminate them and destroy the context. With --hold the
endpoints keep running until SIGINT or SIGTERM.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runModule(cmd.Context(), cfg, args[0], hold, cmd)
		},
	}

	cmd.Flags().BoolVar(&hold, "hold", false, "keep endpoints running until interrupted")

	return cmd
}

// runModule drives one module through its whole lifecycle and prints what
// each step did to cmd's output.
func runModule(ctx context.Context, cfg *config.Config, name string, hold bool, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := logging.Setup("plugbox", version, cfg.LogFormat, cfg.LogLevel, cmd.ErrOrStderr())

	host, err := newHost(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := host.Close(closeCtx); err != nil {
			errutil.LogError(logger, "failed to close host", err)
		}
	}()

	out := &summary{w: cmd.OutOrStdout()}
	opts := append(instanceOptions(cfg, plugin.Observers{plugin.NewLogObserver(logger), out}),
		plugin.WithModuleDir(cfg.ModuleDir),
		plugin.WithExtension(cfg.Extension),
	)
	inst := plugin.NewInstance(host, opts...)

	if err := inst.Load(ctx, name); err != nil {
		return err
	}
	out.print("loaded")

	if err := inst.Run(ctx); err != nil {
		return err
	}
	out.print("started")

	if hold {
		sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		<-sigCtx.Done()
		stop()
		// ctx itself may be cancelled; teardown still needs a live context.
		ctx = context.WithoutCancel(ctx)
	}

	if err := inst.Stop(ctx); err != nil {
		return err
	}
	out.print("stopped")

	return inst.Unload(ctx)
}

// summary is an observer that keeps the last unit report for printing.
type summary struct {
	w io.Writer

	mu   sync.Mutex
	last *report.Report
}

func (s *summary) ContextCreated(string) {}

func (s *summary) UnitCompleted(_ string, _ domain.Unit, rep *report.Report, _ error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = rep
}

func (s *summary) ContextDestroyed(string, error) {}

// print writes the last report under verb: the modules it loaded or the
// endpoints it reached, then one line per failure.
func (s *summary) print(verb string) {
	s.mu.Lock()
	rep := s.last
	s.last = nil
	s.mu.Unlock()

	if rep == nil {
		return
	}
	names := rep.Invoked
	if verb == "loaded" {
		names = rep.Loaded
	}
	if len(names) == 0 {
		names = []string{"(none)"}
	}
	_, _ = fmt.Fprintf(s.w, "%s: %s\n", verb, strings.Join(names, ", "))
	for _, f := range rep.Failures {
		_, _ = fmt.Fprintf(s.w, "  failed: %s\n", f.Error())
	}
}
