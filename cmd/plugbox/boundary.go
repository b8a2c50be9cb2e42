// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/holomush/plugbox/internal/logging"
	"github.com/holomush/plugbox/internal/plugin/goplugin"
)

// NewBoundaryCmd creates the hidden boundary subcommand. The process host
// starts it in a child process, one per context.
func NewBoundaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:    goplugin.BoundaryCommand,
		Short:  "Serve one isolated context to a plugbox host",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return goplugin.Serve(logging.SetupBoundary(version, cmd.ErrOrStderr()))
		},
	}
}
