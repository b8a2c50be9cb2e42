// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package domain_test

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/holomush/plugbox/internal/plugin/domain"
	"github.com/holomush/plugbox/internal/plugin/report"
	"github.com/holomush/plugbox/pkg/capability"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const greeter = `
Greeter = {}
Greeter.__index = Greeter
function Greeter.new() return setmetatable({}, Greeter) end
function Greeter:init() host.log("info", "init from " .. _MODULE .. " action " .. host.get("lifecycle.action")) end
function Greeter:terminate() host.log("info", "terminate from " .. host.module()) end
`

func newDomain(t *testing.T, files map[string]string) (*domain.Domain, *bytes.Buffer, string) {
	t.Helper()
	dir := t.TempDir()
	for name, src := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".lua"), []byte(src), 0o600))
	}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	d, err := domain.New("domain_test", domain.WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	require.NoError(t, d.SetData(capability.KeyModuleDir, dir))
	return d, &buf, dir
}

func run(t *testing.T, d *domain.Domain, unit domain.Unit) *report.Report {
	t.Helper()
	rep, err := d.Run(context.Background(), unit)
	require.NoError(t, err)
	return rep
}

func TestDomain_LoadThenInvoke(t *testing.T) {
	d, logs, _ := newDomain(t, map[string]string{"PluginA": greeter})
	require.NoError(t, d.SetData(capability.KeyModuleName, "PluginA"))

	rep := run(t, d, domain.UnitLoadModule)
	assert.Equal(t, []string{"PluginA"}, rep.Loaded)
	assert.Equal(t, []string{"PluginA"}, d.Modules())

	require.NoError(t, d.SetData(capability.KeyAction, capability.Initialize.Encode()))
	rep = run(t, d, domain.UnitInvoke)
	assert.Equal(t, []string{"PluginA.Greeter"}, rep.Invoked)
	assert.Contains(t, logs.String(), "init from PluginA action 0")

	require.NoError(t, d.SetData(capability.KeyAction, capability.Terminate.Encode()))
	run(t, d, domain.UnitInvoke)
	assert.Contains(t, logs.String(), "terminate from PluginA")
}

func TestDomain_DependencySeesItsOwnModule(t *testing.T) {
	d, logs, _ := newDomain(t, map[string]string{
		"PluginA": `requires = { "PluginB" }` + greeter,
		"PluginB": `host.log("info", "loading as " .. host.module())`,
	})
	require.NoError(t, d.SetData(capability.KeyModuleName, "PluginA"))

	rep := run(t, d, domain.UnitLoadModule)
	require.True(t, rep.OK(), "failures: %v", rep.Failures)
	assert.ElementsMatch(t, []string{"PluginA", "PluginB"}, rep.Loaded)
	assert.Contains(t, logs.String(), "loading as PluginB")
	assert.Contains(t, logs.String(), "module=PluginB")
	assert.NotContains(t, logs.String(), "module=PluginA")
}

func TestDomain_LoadRequiresModuleName(t *testing.T) {
	d, _, _ := newDomain(t, nil)

	_, err := d.Run(context.Background(), domain.UnitLoadModule)
	require.ErrorIs(t, err, domain.ErrMissingData)
}

func TestDomain_InvokeRequiresAction(t *testing.T) {
	d, _, _ := newDomain(t, map[string]string{"PluginA": greeter})
	require.NoError(t, d.SetData(capability.KeyModuleName, "PluginA"))
	run(t, d, domain.UnitLoadModule)

	_, err := d.Run(context.Background(), domain.UnitInvoke)
	require.ErrorIs(t, err, domain.ErrMissingData)
}

func TestDomain_InvokeRejectsUnknownAction(t *testing.T) {
	d, _, _ := newDomain(t, map[string]string{"PluginA": greeter})
	require.NoError(t, d.SetData(capability.KeyModuleName, "PluginA"))
	require.NoError(t, d.SetData(capability.KeyAction, "9"))

	_, err := d.Run(context.Background(), domain.UnitInvoke)
	require.Error(t, err)
}

func TestDomain_InvokeRejectsBadFilter(t *testing.T) {
	d, _, _ := newDomain(t, map[string]string{"PluginA": greeter})
	require.NoError(t, d.SetData(capability.KeyModuleName, "PluginA"))
	require.NoError(t, d.SetData(capability.KeyAction, "0"))
	require.NoError(t, d.SetData(capability.KeyEndpointFilter, "PluginA.[oops"))

	_, err := d.Run(context.Background(), domain.UnitInvoke)
	require.Error(t, err)
}

func TestDomain_UnknownUnit(t *testing.T) {
	d, _, _ := newDomain(t, nil)

	_, err := d.Run(context.Background(), domain.Unit("format-disk"))
	require.ErrorIs(t, err, domain.ErrUnknownUnit)
}

func TestDomain_DeadlineInterruptsModule(t *testing.T) {
	d, _, _ := newDomain(t, map[string]string{"Spin": `
Spin = {}
function Spin.new() return setmetatable({}, { __index = Spin }) end
function Spin:init() while true do end end
function Spin:terminate() end
`})
	require.NoError(t, d.SetData(capability.KeyModuleName, "Spin"))
	run(t, d, domain.UnitLoadModule)
	require.NoError(t, d.SetData(capability.KeyAction, "0"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	rep, err := d.Run(ctx, domain.UnitInvoke)

	require.NoError(t, err, "endpoint failures are reported, not returned")
	require.Len(t, rep.Failures, 1)
	assert.Equal(t, report.StageInvoke, rep.Failures[0].Stage)
}

func TestDomain_CloseReleasesEverything(t *testing.T) {
	d, _, _ := newDomain(t, map[string]string{"PluginA": greeter})
	require.NoError(t, d.SetData(capability.KeyModuleName, "PluginA"))
	run(t, d, domain.UnitLoadModule)

	require.NoError(t, d.Close())

	assert.Empty(t, d.Modules())
	_, ok := d.Data(capability.KeyModuleName)
	assert.False(t, ok)
	assert.ErrorIs(t, d.Close(), domain.ErrClosed)
	assert.ErrorIs(t, d.SetData("k", "v"), domain.ErrClosed)
	_, err := d.Run(context.Background(), domain.UnitLoadModule)
	assert.ErrorIs(t, err, domain.ErrClosed)
}

func TestDomain_LabelAndUnits(t *testing.T) {
	d, _, _ := newDomain(t, nil)

	assert.Equal(t, "domain_test", d.Label())
	assert.Equal(t, []domain.Unit{domain.UnitInvoke, domain.UnitLoadModule}, domain.Units())
}
