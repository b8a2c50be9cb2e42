// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	configFile = ""
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cmd := NewRootCmd()
	out, errOut := new(bytes.Buffer), new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func writeModule(t *testing.T, dir, name, src string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".lua"), []byte(src), 0o600))
}

const greeter = `
Greeter = {}
Greeter.__index = Greeter
function Greeter.new() return setmetatable({}, Greeter) end
function Greeter:init() host.log("info", "hello from Greeter") end
function Greeter:terminate() host.log("info", "goodbye from Greeter") end
`

func TestRootCommand_HasExpectedSubcommands(t *testing.T) {
	out, _, err := execute(t, "--help")
	require.NoError(t, err)

	for _, sub := range []string{"run", "serve", "check-config"} {
		assert.Contains(t, out, sub, "Help missing %q command", sub)
	}
	assert.NotContains(t, out, "boundary", "boundary is internal and must stay hidden")
}

func TestRootCommand_ConfigFlag(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantFlag string
	}{
		{
			name:     "separate value",
			args:     []string{"--config", "/path/to/config.yaml", "--help"},
			wantFlag: "/path/to/config.yaml",
		},
		{
			name:     "config flag with equals",
			args:     []string{"--config=/etc/plugbox.yaml", "--help"},
			wantFlag: "/etc/plugbox.yaml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, tt.args...)
			require.NoError(t, err)
			assert.Equal(t, tt.wantFlag, configFile)
		})
	}
}

func TestRootCommand_PersistentConfigFlags(t *testing.T) {
	out, _, err := execute(t, "run", "--help")
	require.NoError(t, err)

	for _, flag := range []string{"--config", "--module-dir", "--isolation", "--call-timeout", "--endpoint-filter", "--hold"} {
		assert.Contains(t, out, flag)
	}
}

func TestRootCommand_VersionFlag(t *testing.T) {
	cmd := NewRootCmd()
	cmd.Version = "test-version"
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "test-version")
}

func TestUnknownCommand(t *testing.T) {
	_, _, err := execute(t, "nonexistent")
	require.Error(t, err)
}

func TestInvalidFlag(t *testing.T) {
	_, _, err := execute(t, "--invalid-flag")
	require.Error(t, err)
}

func TestBoundaryCommand_RequiresHost(t *testing.T) {
	t.Setenv("PLUGBOX_CONTEXT_LABEL", "")

	_, _, err := execute(t, "boundary")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PLUGBOX_CONTEXT_LABEL")
}
