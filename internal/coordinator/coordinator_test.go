// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package coordinator_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/prometheus/client_golang/prometheus"

	"github.com/holomush/exthost/internal/coordinator"
	"github.com/holomush/exthost/internal/extension"
	"github.com/holomush/exthost/internal/hostadapter"
	"github.com/holomush/exthost/internal/location"
	"github.com/holomush/exthost/internal/protocol"
)

const settleTimeout = 2 * time.Second

func ext(id string, events []string, kinds ...extension.Kind) *extension.Descriptor {
	return &extension.Descriptor{
		Identifier:       extension.NewIdentifier(id),
		Version:          "1.0.0",
		Main:             "main.lua",
		Location:         "file:///extensions/" + id,
		ActivationEvents: events,
		Kinds:            kinds,
	}
}

func statusOf(c *coordinator.Coordinator, id string) extension.Status {
	return c.GetExtensionsStatus()[extension.NewIdentifier(id).Key()]
}

func stateOf(c *coordinator.Coordinator, id string) func() extension.State {
	return func() extension.State { return statusOf(c, id).State }
}

var _ = Describe("Coordinator", func() {
	var (
		ctx   context.Context
		hosts *fakeHosts
		cfg   coordinator.Config
		c     *coordinator.Coordinator
	)

	BeforeEach(func() {
		ctx = context.Background()
		hosts = newFakeHosts()
		cfg = coordinator.Config{
			Capabilities: location.Capabilities{Worker: true, Process: true},
			Factory:      hosts.factory(),
			LazyStart:    true,
			RetryBackoff: time.Millisecond,
		}
	})

	start := func(descs ...*extension.Descriptor) {
		var err error
		c, err = coordinator.New(cfg)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(c.Close)
		Expect(c.RegisterInstalled(ctx, descs)).To(Succeed())
	}

	Describe("New", func() {
		It("requires a host factory", func() {
			_, err := coordinator.New(coordinator.Config{})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("location resolution", func() {
		It("assigns a location on first need and keeps it", func() {
			start(ext("acme.foo", []string{"onStartupFinished", "onView:x"}))
			Expect(statusOf(c, "acme.foo").RunningLocation).To(BeNil())

			Expect(c.ActivateByEvent(ctx, "onStartupFinished", extension.ActivationNormal)).To(Succeed())
			first := statusOf(c, "acme.foo")
			Expect(first.State).To(Equal(extension.StateActive))
			Expect(first.RunningLocation).To(Equal(extension.LocalProcess{}))
			Expect(first.ActivationTimes).NotTo(BeNil())
			Expect(first.ActivationTimes.Reason.Startup).To(BeTrue())

			Expect(c.ActivateByEvent(ctx, "onView:x", extension.ActivationNormal)).To(Succeed())
			Expect(statusOf(c, "acme.foo").RunningLocation).To(Equal(first.RunningLocation))
			Expect(hosts.launchCount("LocalProcess")).To(Equal(1))
		})

		It("fails only the extension whose location cannot be resolved", func() {
			start(
				ext("acme.remote", []string{"*"}, extension.KindRemote),
				ext("acme.local", []string{"*"}),
			)

			err := c.ActivateByEvent(ctx, "onView:x", extension.ActivationNormal)
			Expect(err).To(HaveOccurred())
			Expect(extension.HasCode(err, extension.CodeResolutionFailed)).To(BeTrue())

			Expect(statusOf(c, "acme.remote").State).To(Equal(extension.StateFailed))
			Expect(statusOf(c, "acme.remote").Messages).To(HaveLen(1))
			Expect(statusOf(c, "acme.local").State).To(Equal(extension.StateActive))
		})

		It("answers CanAddExtension and CanRemoveExtension", func() {
			start(ext("acme.foo", []string{"*"}))

			Expect(c.CanAddExtension(ext("acme.bar", nil))).To(BeTrue())
			Expect(c.CanAddExtension(ext("acme.foo", nil))).To(BeFalse())
			Expect(c.CanAddExtension(ext("acme.far", nil, extension.KindRemote))).To(BeFalse())

			foo, ok := c.GetExtension(extension.NewIdentifier("ACME.foo"))
			Expect(ok).To(BeTrue())
			Expect(c.CanRemoveExtension(foo)).To(BeTrue())
			Expect(c.ActivateByEvent(ctx, "*", extension.ActivationNormal)).To(Succeed())
			Expect(c.CanRemoveExtension(foo)).To(BeFalse())
		})
	})

	Describe("activation events", func() {
		It("only activates extensions interested in the event", func() {
			start(
				ext("acme.foo", []string{"onCommand:foo"}),
				ext("acme.bar", []string{"onCommand:bar"}),
			)

			Expect(c.ActivateByEvent(ctx, "onCommand:foo", extension.ActivationNormal)).To(Succeed())
			Expect(statusOf(c, "acme.foo").State).To(Equal(extension.StateActive))
			Expect(statusOf(c, "acme.bar").State).To(Equal(extension.StateUnresolved))
			Expect(statusOf(c, "acme.bar").RunningLocation).To(BeNil())
		})

		It("dispatches concurrent requests for one event once", func() {
			hosts.gate = make(chan struct{})
			start(ext("acme.foo", []string{"onView:x"}))

			const callers = 5
			var wg sync.WaitGroup
			errs := make(chan error, callers)
			for range callers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					errs <- c.ActivateByEvent(ctx, "onView:x", extension.ActivationNormal)
				}()
			}
			Eventually(func() int { return hosts.activateCount("LocalProcess") }).Should(Equal(1))
			close(hosts.gate)
			wg.Wait()
			close(errs)
			for err := range errs {
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(hosts.activateCount("LocalProcess")).To(Equal(1))
		})

		It("keeps a completed event done", func() {
			start(ext("acme.foo", []string{"onView:x"}))

			Expect(c.ActivationEventIsDone("onView:x")).To(BeFalse())
			Expect(c.ActivateByEvent(ctx, "onView:x", extension.ActivationNormal)).To(Succeed())
			Expect(c.ActivationEventIsDone("onView:x")).To(BeTrue())

			Expect(c.ActivateByEvent(ctx, "onView:x", extension.ActivationNormal)).To(Succeed())
			Expect(c.ActivationEventIsDone("onView:x")).To(BeTrue())
			Expect(hosts.activateCount("LocalProcess")).To(Equal(1))
		})

		It("holds normal activations until installed extensions are registered", func() {
			var err error
			c, err = coordinator.New(cfg)
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(c.Close)
			Expect(c.DeltaExtensions(ctx, []*extension.Descriptor{ext("acme.foo", []string{"*"})}, nil)).To(Succeed())

			normal := make(chan error, 1)
			go func() { normal <- c.ActivateByEvent(ctx, "onView:x", extension.ActivationNormal) }()
			Consistently(normal, 100*time.Millisecond).ShouldNot(Receive())

			Expect(c.ActivateByEvent(ctx, "onView:y", extension.ActivationImmediate)).To(Succeed())
			Expect(statusOf(c, "acme.foo").State).To(Equal(extension.StateActive))

			Expect(c.RegisterInstalled(ctx, nil)).To(Succeed())
			Eventually(normal, settleTimeout).Should(Receive(BeNil()))
			ok, err := c.WhenInstalledExtensionsRegistered(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
		})

		It("announces activations before awaiting them", func() {
			start(ext("acme.foo", []string{"onView:x"}))
			events, unsubscribe := c.OnWillActivateByEvent()
			DeferCleanup(unsubscribe)

			Expect(c.ActivateByEvent(ctx, "onView:x", extension.ActivationNormal)).To(Succeed())
			var ev coordinator.WillActivateEvent
			Eventually(events).Should(Receive(&ev))
			Expect(ev.Event).To(Equal("onView:x"))
			Expect(ev.Activation.Wait(ctx)).To(Succeed())
		})

		It("stops waiting when the caller gives up", func() {
			hosts.gate = make(chan struct{})
			start(ext("acme.foo", []string{"onView:x"}))

			callCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
			defer cancel()
			err := c.ActivateByEvent(callCtx, "onView:x", extension.ActivationNormal)
			Expect(err).To(MatchError(context.DeadlineExceeded))

			close(hosts.gate)
			Eventually(stateOf(c, "acme.foo"), settleTimeout).Should(Equal(extension.StateActive))
			Expect(c.ActivationEventIsDone("onView:x")).To(BeTrue())
		})

		It("activates a single extension by id", func() {
			start(ext("acme.foo", nil), ext("acme.bar", nil))

			Expect(c.ActivateByID(ctx, extension.NewIdentifier("acme.foo"), extension.ActivationReason{})).To(Succeed())
			st := statusOf(c, "acme.foo")
			Expect(st.State).To(Equal(extension.StateActive))
			Expect(st.ActivationTimes.Reason.ExtensionID.Value()).To(Equal("acme.foo"))
			Expect(statusOf(c, "acme.bar").State).To(Equal(extension.StateUnresolved))

			err := c.ActivateByID(ctx, extension.NewIdentifier("acme.nope"), extension.ActivationReason{})
			Expect(extension.HasCode(err, extension.CodeUnknownExtension)).To(BeTrue())
		})
	})

	Describe("failures", func() {
		It("records an extension's own activation failure without failing the event", func() {
			hosts.failExt["acme.bad"] = "boom"
			start(ext("acme.bad", []string{"*"}), ext("acme.good", []string{"*"}))

			Expect(c.ActivateByEvent(ctx, "onView:x", extension.ActivationNormal)).To(Succeed())

			bad := statusOf(c, "acme.bad")
			Expect(bad.State).To(Equal(extension.StateFailed))
			Expect(bad.RuntimeErrors).To(HaveLen(1))
			Expect(bad.RuntimeErrors[0].Message).To(Equal("boom"))
			Expect(bad.RuntimeErrors[0].Code).To(Equal(extension.CodeActivationFailed))
			Expect(statusOf(c, "acme.good").State).To(Equal(extension.StateActive))
		})

		It("isolates a host that fails to start", func() {
			cfg.Affinity = location.NewPinnedAffinity(map[string]int{"acme.zero": 0, "acme.one": 1}, nil)
			hosts.failures["LocalProcess"] = -1
			start(
				ext("acme.zero", []string{"onStartupFinished"}),
				ext("acme.one", []string{"onStartupFinished"}),
				ext("acme.web", []string{"onStartupFinished"}, extension.KindWorker),
			)

			err := c.ActivateByEvent(ctx, "onStartupFinished", extension.ActivationNormal)
			Expect(err).To(HaveOccurred())
			Expect(extension.HasCode(err, extension.CodeAdapterStartFailed)).To(BeTrue())

			zero := statusOf(c, "acme.zero")
			Expect(zero.State).To(Equal(extension.StateFailed))
			Expect(zero.Messages).NotTo(BeEmpty())
			Expect(zero.Messages[0].Type).To(Equal(extension.SeverityError))
			Expect(zero.Messages[0].Text).To(ContainSubstring("failed to start"))

			Expect(statusOf(c, "acme.one").State).To(Equal(extension.StateActive))
			Expect(statusOf(c, "acme.one").RunningLocation).To(Equal(extension.LocalProcess{Group: 1}))
			Expect(statusOf(c, "acme.web").State).To(Equal(extension.StateActive))
			Expect(statusOf(c, "acme.web").RunningLocation).To(Equal(extension.LocalWorker{}))
			Expect(c.ActivationEventIsDone("onStartupFinished")).To(BeFalse())
		})

		It("retries a failed start", func() {
			cfg.StartRetries = 2
			hosts.failures["LocalProcess"] = 1
			start(ext("acme.foo", []string{"*"}))

			Expect(c.ActivateByEvent(ctx, "onView:x", extension.ActivationNormal)).To(Succeed())
			Expect(hosts.launchCount("LocalProcess")).To(Equal(2))
			Expect(statusOf(c, "acme.foo").State).To(Equal(extension.StateActive))
		})

		It("settles a pending activation when its host goes away", func() {
			hosts.gate = make(chan struct{})
			DeferCleanup(func() { close(hosts.gate) })
			start(ext("acme.foo", []string{"onView:x"}))

			done := make(chan error, 1)
			go func() { done <- c.ActivateByEvent(ctx, "onView:x", extension.ActivationNormal) }()
			Eventually(func() int { return hosts.activateCount("LocalProcess") }).Should(Equal(1))

			hosts.crash("LocalProcess")
			Eventually(done, settleTimeout).Should(Receive(HaveOccurred()))
			Eventually(stateOf(c, "acme.foo"), settleTimeout).Should(Equal(extension.StateFailed))
		})

		It("fails active extensions when their host exits and restarts it on next need", func() {
			start(ext("acme.foo", []string{"onView:x", "onView:y"}))
			Expect(c.ActivateByEvent(ctx, "onView:x", extension.ActivationNormal)).To(Succeed())

			hosts.crash("LocalProcess")
			Eventually(stateOf(c, "acme.foo"), settleTimeout).Should(Equal(extension.StateFailed))
			msgs := statusOf(c, "acme.foo").Messages
			Expect(msgs[len(msgs)-1].Text).To(ContainSubstring("terminated unexpectedly"))

			Expect(c.ActivateByEvent(ctx, "onView:y", extension.ActivationNormal)).To(Succeed())
			Expect(statusOf(c, "acme.foo").State).To(Equal(extension.StateActive))
			Expect(hosts.launchCount("LocalProcess")).To(Equal(2))
		})

		It("records runtime errors and messages reported by a host", func() {
			start(ext("acme.foo", []string{"*"}))
			changes, unsubscribe := c.OnDidChangeExtensionsStatus()
			DeferCleanup(unsubscribe)
			Expect(c.ActivateByEvent(ctx, "onView:x", extension.ActivationNormal)).To(Succeed())

			Expect(hosts.notify(ctx, "LocalProcess", protocol.NotifyRuntimeError,
				protocol.RuntimeErrorParams{ExtensionID: "acme.foo", Message: "nil index"})).To(Succeed())
			Expect(hosts.notify(ctx, "LocalProcess", protocol.NotifyMessage,
				protocol.MessageParams{ExtensionID: "acme.foo", Severity: "warning", Text: "deprecated"})).To(Succeed())

			Eventually(func() int { return len(statusOf(c, "acme.foo").RuntimeErrors) }).Should(Equal(1))
			Eventually(func() int { return len(statusOf(c, "acme.foo").Messages) }).Should(Equal(1))
			st := statusOf(c, "acme.foo")
			Expect(st.State).To(Equal(extension.StateActive))
			Expect(st.RuntimeErrors[0].Code).To(Equal(extension.CodeRuntimeError))
			Expect(st.Messages[0].Type).To(Equal(extension.SeverityWarning))
			Expect(changes).To(Receive())
		})
	})

	Describe("host lifecycle", func() {
		It("settles pending activations when hosts stop", func() {
			gate := make(chan struct{})
			hosts.gate = gate
			DeferCleanup(func() { close(gate) })
			start(ext("acme.foo", []string{"onView:x"}))

			done := make(chan error, 1)
			go func() { done <- c.ActivateByEvent(ctx, "onView:x", extension.ActivationNormal) }()
			Eventually(func() int { return hosts.activateCount("LocalProcess") }).Should(Equal(1))

			Expect(c.StopExtensionHosts(ctx)).To(Succeed())
			var err error
			Eventually(done, settleTimeout).Should(Receive(&err))
			Expect(extension.HasCode(err, extension.CodeHostsStopped)).To(BeTrue())

			err = c.ActivateByEvent(ctx, "onView:x", extension.ActivationNormal)
			Expect(extension.HasCode(err, extension.CodeHostsStopped)).To(BeTrue())

			Expect(c.StartExtensionHosts(ctx)).To(Succeed())
			hosts.mu.Lock()
			hosts.gate = nil
			hosts.mu.Unlock()
			Expect(c.ActivateByEvent(ctx, "onView:x", extension.ActivationNormal)).To(Succeed())
		})

		It("forgets locations and activations on restart", func() {
			start(ext("acme.foo", []string{"onView:x"}))
			Expect(c.ActivateByEvent(ctx, "onView:x", extension.ActivationNormal)).To(Succeed())

			Expect(c.RestartExtensionHosts(ctx)).To(Succeed())
			st := statusOf(c, "acme.foo")
			Expect(st.State).To(Equal(extension.StateUnresolved))
			Expect(st.RunningLocation).To(BeNil())
			Expect(st.ActivationTimes).To(BeNil())
			Expect(c.ActivationEventIsDone("onView:x")).To(BeFalse())

			Expect(c.ActivateByEvent(ctx, "onView:x", extension.ActivationNormal)).To(Succeed())
			Expect(statusOf(c, "acme.foo").State).To(Equal(extension.StateActive))
			Expect(hosts.launchCount("LocalProcess")).To(Equal(2))
		})

		It("rejects a by-id activation pending across a restart", func() {
			hosts.gate = make(chan struct{})
			DeferCleanup(func() { close(hosts.gate) })
			start(ext("acme.foo", nil))

			done := make(chan error, 1)
			go func() {
				done <- c.ActivateByID(ctx, extension.NewIdentifier("acme.foo"), extension.ActivationReason{})
			}()
			Eventually(func() int { return hosts.activateCount("LocalProcess") }).Should(Equal(1))

			Expect(c.RestartExtensionHosts(ctx)).To(Succeed())
			var err error
			Eventually(done, settleTimeout).Should(Receive(&err))
			Expect(extension.HasCode(err, extension.CodeHostRestarted)).To(BeTrue())
		})

		It("rejects activations pending across a restart", func() {
			hosts.gate = make(chan struct{})
			DeferCleanup(func() { close(hosts.gate) })
			start(ext("acme.foo", []string{"onView:x"}))

			done := make(chan error, 1)
			go func() { done <- c.ActivateByEvent(ctx, "onView:x", extension.ActivationNormal) }()
			Eventually(func() int { return hosts.activateCount("LocalProcess") }).Should(Equal(1))

			Expect(c.RestartExtensionHosts(ctx)).To(Succeed())
			var err error
			Eventually(done, settleTimeout).Should(Receive(&err))
			Expect(extension.HasCode(err, extension.CodeHostRestarted)).To(BeTrue())
		})

		It("settles pending activations on close", func() {
			hosts.gate = make(chan struct{})
			DeferCleanup(func() { close(hosts.gate) })
			var err error
			c, err = coordinator.New(cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.RegisterInstalled(ctx, []*extension.Descriptor{ext("acme.foo", []string{"onView:x"})})).To(Succeed())

			done := make(chan error, 1)
			go func() { done <- c.ActivateByEvent(ctx, "onView:x", extension.ActivationNormal) }()
			Eventually(func() int { return hosts.activateCount("LocalProcess") }).Should(Equal(1))

			c.Close()
			Eventually(done, settleTimeout).Should(Receive(HaveOccurred()))
		})

		It("starts hosts eagerly unless lazy", func() {
			cfg.LazyStart = false
			start(ext("acme.foo", []string{"onView:x"}), ext("acme.web", nil, extension.KindWorker))

			Expect(hosts.launchCount("LocalProcess")).To(Equal(1))
			Expect(hosts.launchCount("LocalWorker")).To(Equal(1))
			Expect(statusOf(c, "acme.foo").State).To(Equal(extension.StateAssigned))
			Expect(hosts.activateCount("LocalProcess")).To(Equal(0))
		})

		It("reports unresponsive hosts", func() {
			cfg.HeartbeatInterval = 10 * time.Millisecond
			cfg.HeartbeatTimeout = 20 * time.Millisecond
			start(ext("acme.foo", []string{"*"}))
			changes, unsubscribe := c.OnDidChangeResponsiveChange()
			DeferCleanup(unsubscribe)
			Expect(c.ActivateByEvent(ctx, "onView:x", extension.ActivationNormal)).To(Succeed())

			hosts.mu.Lock()
			hosts.hangPing = true
			hosts.mu.Unlock()
			var ev coordinator.ResponsiveStateChangeEvent
			Eventually(changes, settleTimeout).Should(Receive(&ev))
			Expect(ev.HostID).To(Equal("LocalProcess"))
			Expect(ev.Kind).To(Equal(extension.HostKindLocalProcess))
			Expect(ev.IsResponsive).To(BeFalse())

			hosts.mu.Lock()
			hosts.hangPing = false
			hosts.mu.Unlock()
			Eventually(changes, settleTimeout).Should(Receive(&ev))
			Expect(ev.IsResponsive).To(BeTrue())
		})
	})

	Describe("extension set changes", func() {
		It("hands new residents to a host whose start is already underway", func() {
			base := hosts.factory()
			cfg.Factory = hostadapter.FactoryFunc(func(hc hostadapter.Config) (hostadapter.Adapter, error) {
				ad, err := base.Create(hc)
				if err != nil {
					return nil, err
				}
				return &startingAdapter{Adapter: ad}, nil
			})
			start(ext("acme.foo", []string{"onView:x"}))

			Expect(c.ActivateByEvent(ctx, "onView:x", extension.ActivationNormal)).To(Succeed())
			Expect(hosts.isResident("LocalProcess", "acme.foo")).To(BeTrue())
			Expect(statusOf(c, "acme.foo").State).To(Equal(extension.StateActive))
		})

		It("adds to and removes from running hosts", func() {
			start(ext("acme.foo", []string{"*"}))
			changed, unsubscribe := c.OnDidChangeExtensions()
			DeferCleanup(unsubscribe)
			Expect(c.ActivateByEvent(ctx, "onView:x", extension.ActivationNormal)).To(Succeed())

			Expect(c.DeltaExtensions(ctx, []*extension.Descriptor{ext("acme.bar", []string{"onView:y"})}, nil)).To(Succeed())
			Eventually(changed).Should(Receive())
			Expect(c.ActivateByEvent(ctx, "onView:y", extension.ActivationNormal)).To(Succeed())
			Expect(hosts.isResident("LocalProcess", "acme.bar")).To(BeTrue())
			Expect(statusOf(c, "acme.bar").State).To(Equal(extension.StateActive))

			Expect(c.DeltaExtensions(ctx, nil, []extension.Identifier{extension.NewIdentifier("acme.bar")})).To(Succeed())
			Expect(hosts.isResident("LocalProcess", "acme.bar")).To(BeFalse())
			Expect(c.GetExtensionsStatus()).NotTo(HaveKey("acme.bar"))
			Expect(c.GetExtensions()).To(HaveLen(1))
		})
	})

	Describe("commands", func() {
		It("activates the contributing extension and runs the command", func() {
			hosts.commands["foo.run"] = "acme.foo"
			start(
				ext("acme.foo", []string{"onCommand:foo.run"}),
				ext("acme.web", []string{"onCommand:web.run"}, extension.KindWorker),
			)

			out, err := c.ExecuteCommand(ctx, "foo.run")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal("ran foo.run"))
			Expect(statusOf(c, "acme.web").State).To(Equal(extension.StateUnresolved))

			_, err = c.ExecuteCommand(ctx, "nobody.run")
			Expect(extension.HasCode(err, extension.CodeCommandNotFound)).To(BeTrue())
		})
	})

	Describe("inspection and profiling", func() {
		It("collects inspector ports of running hosts", func() {
			hosts.inspect = 9229
			start(ext("acme.foo", []string{"*"}), ext("acme.web", []string{"*"}, extension.KindWorker))
			Expect(c.ActivateByEvent(ctx, "onView:x", extension.ActivationNormal)).To(Succeed())

			Expect(c.GetInspectPorts(ctx, extension.HostKindLocalProcess, false)).To(BeEmpty())
			Expect(c.GetInspectPorts(ctx, extension.HostKindLocalProcess, true)).To(Equal([]coordinator.InspectPort{
				{HostID: "LocalProcess", Port: 9229},
			}))
			Expect(c.GetInspectPort(ctx, "LocalWorker", true)).To(Equal(9229))
			Expect(c.GetInspectPort(ctx, "Remote", true)).To(Equal(0))
		})

		It("profiles a running host", func() {
			start(ext("acme.foo", []string{"*"}))
			Expect(c.ActivateByEvent(ctx, "onView:x", extension.ActivationNormal)).To(Succeed())

			_, err := c.StartProfiling(ctx, "LocalWorker")
			Expect(extension.HasCode(err, extension.CodeUnknownHost)).To(BeTrue())

			session, err := c.StartProfiling(ctx, "LocalProcess")
			Expect(err).NotTo(HaveOccurred())
			data, err := session.Stop(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(data.ID).To(Equal("capture-1"))
			Expect(data.Duration()).To(Equal(100 * time.Microsecond))
		})
	})

	Describe("remote hosts", func() {
		It("passes the remote environment to remote hosts", func() {
			cfg.Capabilities.RemoteAuthority = "ssh-remote+box"
			cfg.RemoteEnvironment = map[string]string{"A": "1"}
			start(ext("acme.far", []string{"*"}, extension.KindRemote))
			Expect(c.ActivateByEvent(ctx, "onView:x", extension.ActivationNormal)).To(Succeed())
			Expect(statusOf(c, "acme.far").RunningLocation).To(Equal(extension.Remote{}))
			Expect(hosts.envOf("Remote")).To(Equal(map[string]string{"A": "1"}))

			Expect(c.SetRemoteEnvironment(ctx, map[string]string{"B": "2"})).To(Succeed())
			Expect(hosts.envOf("Remote")).To(Equal(map[string]string{"A": "1", "B": "2"}))
		})
	})

	Describe("metrics", func() {
		It("registers with the configured registry", func() {
			reg := prometheus.NewRegistry()
			cfg.Registerer = reg
			start(ext("acme.foo", []string{"*"}))
			Expect(c.ActivateByEvent(ctx, "onView:x", extension.ActivationNormal)).To(Succeed())

			families, err := reg.Gather()
			Expect(err).NotTo(HaveOccurred())
			names := make([]string, 0, len(families))
			for _, f := range families {
				names = append(names, f.GetName())
			}
			Expect(names).To(ContainElement("exthost_activations_total"))
		})
	})
})
