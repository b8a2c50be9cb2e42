// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package integration

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/hashicorp/go-hclog"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/plugbox/internal/plugin"
	"github.com/holomush/plugbox/internal/plugin/domain"
	"github.com/holomush/plugbox/internal/plugin/goplugin"
	"github.com/holomush/plugbox/internal/plugin/report"
)

// lastReport keeps the most recent unit report.
type lastReport struct {
	mu  sync.Mutex
	rep *report.Report
}

func (l *lastReport) ContextCreated(string) {}

func (l *lastReport) UnitCompleted(_ string, _ domain.Unit, rep *report.Report, _ error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rep = rep
}

func (l *lastReport) ContextDestroyed(string, error) {}

func (l *lastReport) get() *report.Report {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rep
}

func newProcessHost(dir string) *goplugin.Host {
	factory := &goplugin.DefaultClientFactory{
		Executable: binary,
		Args:       []string{goplugin.BoundaryCommand},
		Dir:        dir,
		Logger:     hclog.NewNullLogger(),
	}
	host, err := goplugin.NewHost(goplugin.WithClientFactory(factory))
	Expect(err).NotTo(HaveOccurred())
	return host
}

var _ = Describe("Process isolation", func() {
	var (
		ctx  context.Context
		host *goplugin.Host
	)

	BeforeEach(func() {
		ctx = context.Background()
		host = newProcessHost(pluginsDir())
		DeferCleanup(func() {
			Expect(host.Close(context.Background())).To(Succeed())
		})
	})

	Describe("an instance lifecycle", func() {
		It("loads dependencies and drives endpoints in a child process", func() {
			obs := &lastReport{}
			inst := plugin.NewInstance(host, plugin.WithObserver(obs), plugin.WithModuleDir(pluginsDir()))

			Expect(inst.Load(ctx, "Echo")).To(Succeed())
			Expect(obs.get().Loaded).To(Equal([]string{"Echo", "Clock"}))
			Expect(obs.get().Failures).To(BeEmpty())
			Expect(host.Len()).To(Equal(1))

			Expect(inst.Run(ctx)).To(Succeed())
			Expect(inst.State()).To(Equal(plugin.StateRunning))
			Expect(obs.get().Invoked).To(Equal([]string{"Echo.Echo"}))

			Expect(inst.Stop(ctx)).To(Succeed())
			Expect(obs.get().Invoked).To(Equal([]string{"Echo.Echo"}))

			Expect(inst.Unload(ctx)).To(Succeed())
			Expect(host.Len()).To(Equal(0))
		})

		It("rejects Run before Load without starting a process", func() {
			inst := plugin.NewInstance(host)

			err := inst.Run(ctx)
			Expect(err).To(MatchError(plugin.ErrNotLoaded))
			Expect(host.Len()).To(Equal(0))
		})
	})

	Describe("contexts", func() {
		It("keep the same module apart in separate processes", func() {
			a := plugin.NewInstance(host, plugin.WithModuleDir(pluginsDir()))
			b := plugin.NewInstance(host, plugin.WithModuleDir(pluginsDir()))

			Expect(a.Load(ctx, "Clock")).To(Succeed())
			Expect(b.Load(ctx, "Clock")).To(Succeed())
			Expect(a.Label()).NotTo(Equal(b.Label()))

			Expect(a.Run(ctx)).To(Succeed())
			Expect(b.Run(ctx)).To(Succeed())

			Expect(a.Stop(ctx)).To(Succeed())
			Expect(a.Unload(ctx)).To(Succeed())

			mods, err := b.Modules(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(mods).To(ConsistOf("Clock"))

			Expect(b.Stop(ctx)).To(Succeed())
			Expect(b.Unload(ctx)).To(Succeed())
		})

		It("report a failing endpoint without failing its siblings", func() {
			dir := GinkgoT().TempDir()
			Expect(os.WriteFile(filepath.Join(dir, "Mixed.lua"), []byte(`
Broken = {}
Broken.__index = Broken
function Broken.new() return setmetatable({}, Broken) end
function Broken:init() error("no thanks") end
function Broken:terminate() end

Fine = {}
Fine.__index = Fine
function Fine.new() return setmetatable({}, Fine) end
function Fine:init() end
function Fine:terminate() end
`), 0o600)).To(Succeed())

			obs := &lastReport{}
			inst := plugin.NewInstance(host, plugin.WithObserver(obs), plugin.WithModuleDir(dir))
			Expect(inst.Load(ctx, "Mixed")).To(Succeed())
			Expect(inst.Run(ctx)).To(Succeed())

			rep := obs.get()
			Expect(rep.Invoked).To(Equal([]string{"Mixed.Fine"}))
			Expect(rep.Failures).To(HaveLen(1))
			Expect(rep.Failures[0].Endpoint).To(Equal("Broken"))
			Expect(rep.Failures[0].Message).To(ContainSubstring("no thanks"))

			Expect(inst.Stop(ctx)).To(Succeed())
			Expect(inst.Unload(ctx)).To(Succeed())
		})
	})
})
