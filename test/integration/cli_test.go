// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package integration

import (
	"os/exec"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/onsi/gomega/gbytes"
	"github.com/onsi/gomega/gexec"
)

func start(args ...string) *gexec.Session {
	cmd := exec.Command(binary, args...)
	cmd.Env = append(cmd.Environ(), "XDG_CONFIG_HOME="+GinkgoT().TempDir())
	session, err := gexec.Start(cmd, GinkgoWriter, GinkgoWriter)
	Expect(err).NotTo(HaveOccurred())
	return session
}

var _ = Describe("plugbox CLI", func() {
	Describe("run", func() {
		It("drives a module through its lifecycle in a child process", func() {
			session := start("run", "--isolation", "process", "--module-dir", pluginsDir(), "Echo")

			Eventually(session, 30*time.Second).Should(gexec.Exit(0))
			Expect(session.Out).To(gbytes.Say("loaded: Echo, Clock"))
			Expect(session.Out).To(gbytes.Say("started: Echo.Echo"))
			Expect(session.Out).To(gbytes.Say("stopped: Echo.Echo"))
		})

		It("relays boundary logs at their own level", func() {
			session := start("run", "--isolation", "process", "--module-dir", pluginsDir(),
				"--log-level", "info", "Clock")

			Eventually(session, 30*time.Second).Should(gexec.Exit(0))
			Expect(session.Err).To(gbytes.Say("ticker started"))
		})

		It("holds endpoints until interrupted", func() {
			session := start("run", "--isolation", "local", "--module-dir", pluginsDir(), "--hold", "Echo")

			Eventually(session.Out, 10*time.Second).Should(gbytes.Say("started: Echo.Echo"))
			Consistently(session, 200*time.Millisecond).ShouldNot(gexec.Exit())

			session.Interrupt()
			Eventually(session, 10*time.Second).Should(gexec.Exit(0))
			Expect(session.Out).To(gbytes.Say("stopped: Echo.Echo"))
		})
	})

	Describe("serve", func() {
		It("starts every autoloaded module and shuts down on SIGTERM", func() {
			session := start("serve", "--isolation", "process", "--module-dir", pluginsDir(),
				"--metrics-addr", "127.0.0.1:0")

			Eventually(session.Out, 30*time.Second).Should(gbytes.Say(`plugbox serving 2 module\(s\)`))

			session.Terminate()
			Eventually(session, 30*time.Second).Should(gexec.Exit(0))
			Expect(session.Err).To(gbytes.Say("shutdown complete"))
		})
	})

	Describe("check-config", func() {
		It("rejects an unknown isolation mode", func() {
			session := start("check-config", "--isolation", "thread")

			Eventually(session, 10*time.Second).Should(gexec.Exit(1))
		})
	})
})
