// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"
	"os"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/plugbox/internal/config"
)

// NewCheckConfigCmd creates the check-config subcommand.
func NewCheckConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config [file]",
		Short: "Validate a configuration file",
		Long: `Validate a configuration file against the config schema and the
runtime rules. Without an argument the --config file, or the XDG default
when present, is checked.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return checkConfig(cmd, args[0])
			}
			if configFile != "" {
				return checkConfig(cmd, configFile)
			}
			if _, err := loadConfig(cmd); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "ok: built-in defaults")
			return nil
		},
	}
}

// checkConfig validates path and reports schema violations one per line.
func checkConfig(cmd *cobra.Command, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return oops.In("cli").With("path", path).Hint("cannot read config file").Wrap(err)
	}
	if err := config.ValidateSchema(data); err != nil {
		cmd.PrintErrln(config.FormatSchemaError(err))
		return oops.In("cli").Code(config.CodeInvalid).With("path", path).Errorf("config does not match schema")
	}
	if _, err := config.Load(path, true, nil); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "ok: %s\n", path)
	return nil
}
