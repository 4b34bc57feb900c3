// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/holomush/exthost/internal/registration"
)

// Activation outcomes.
const (
	OutcomeActivated = "activated"
	OutcomeFailed    = "failed"
)

// Metrics contains the extension host metrics. A nil *Metrics records
// nothing.
type Metrics struct {
	ActivationsTotal   *prometheus.CounterVec
	ActivationDuration *prometheus.HistogramVec
	HostStartsTotal    *prometheus.CounterVec
	HostExitsTotal     *prometheus.CounterVec
	RuntimeErrorsTotal *prometheus.CounterVec
	HostsRunning       *prometheus.GaugeVec
	HostResponsive     *prometheus.GaugeVec
}

func newMetrics() *Metrics {
	return &Metrics{
		ActivationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exthost_activations_total",
				Help: "Total number of extension activations by location and outcome",
			},
			[]string{"location", "outcome"},
		),
		ActivationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "exthost_activation_duration_seconds",
				Help:    "Time from code load to activation resolved",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
			},
			[]string{"location"},
		),
		HostStartsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exthost_host_starts_total",
				Help: "Total number of extension host starts by location and outcome",
			},
			[]string{"location", "outcome"},
		),
		HostExitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exthost_host_exits_total",
				Help: "Total number of unexpected extension host exits by location",
			},
			[]string{"location"},
		),
		RuntimeErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exthost_runtime_errors_total",
				Help: "Total number of runtime errors reported by extension hosts",
			},
			[]string{"location"},
		),
		HostsRunning: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "exthost_hosts_running",
				Help: "Number of running extension hosts by location",
			},
			[]string{"location"},
		),
		HostResponsive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "exthost_host_responsive",
				Help: "1 while the extension host answers heartbeats",
			},
			[]string{"host"},
		),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ActivationsTotal,
		m.ActivationDuration,
		m.HostStartsTotal,
		m.HostExitsTotal,
		m.RuntimeErrorsTotal,
		m.HostsRunning,
		m.HostResponsive,
	}
}

// NewMetrics creates and registers the metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := newMetrics()
	reg.MustRegister(m.collectors()...)
	return m
}

func (m *Metrics) register(reg prometheus.Registerer) error {
	for i, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			for _, done := range m.collectors()[:i] {
				reg.Unregister(done)
			}
			return err
		}
	}
	return nil
}

func (m *Metrics) unregister(reg prometheus.Registerer) {
	for _, c := range m.collectors() {
		reg.Unregister(c)
	}
}

var (
	sharedMu sync.Mutex
	shared   = make(map[prometheus.Registerer]*Metrics)
)

// Shared returns the metrics registered with reg on behalf of every owner
// in the process. The metrics stay registered until the last owner calls
// its release function.
func Shared(reg prometheus.Registerer, owner string) (*Metrics, func(), error) {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	id := fmt.Sprintf("observability.metrics@%p", reg)
	m, ok := shared[reg]
	if !ok {
		m = newMetrics()
	}
	err := registration.Default.Acquire(id, owner, func() (func(), error) {
		if err := m.register(reg); err != nil {
			return nil, err
		}
		return func() { m.unregister(reg) }, nil
	})
	if err != nil {
		return nil, func() {}, err
	}
	shared[reg] = m

	var once sync.Once
	return m, func() {
		once.Do(func() {
			sharedMu.Lock()
			defer sharedMu.Unlock()
			if registration.Default.Release(id, owner) {
				delete(shared, reg)
			}
		})
	}, nil
}

// ActivationFinished records one extension activation.
func (m *Metrics) ActivationFinished(location string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := OutcomeActivated
	if !ok {
		outcome = OutcomeFailed
	}
	m.ActivationsTotal.WithLabelValues(location, outcome).Inc()
	if ok {
		m.ActivationDuration.WithLabelValues(location).Observe(d.Seconds())
	}
}

// HostStarted records a start attempt.
func (m *Metrics) HostStarted(location string, ok bool) {
	if m == nil {
		return
	}
	outcome := "started"
	if !ok {
		outcome = OutcomeFailed
	} else {
		m.HostsRunning.WithLabelValues(location).Inc()
	}
	m.HostStartsTotal.WithLabelValues(location, outcome).Inc()
}

// HostStopped records a running host going away. unexpected marks a crash.
func (m *Metrics) HostStopped(location string, unexpected bool) {
	if m == nil {
		return
	}
	m.HostsRunning.WithLabelValues(location).Dec()
	if unexpected {
		m.HostExitsTotal.WithLabelValues(location).Inc()
	}
}

// RuntimeError records a runtime error reported by a host.
func (m *Metrics) RuntimeError(location string) {
	if m == nil {
		return
	}
	m.RuntimeErrorsTotal.WithLabelValues(location).Inc()
}

// SetResponsive records the heartbeat state of a host.
func (m *Metrics) SetResponsive(host string, responsive bool) {
	if m == nil {
		return
	}
	v := 0.0
	if responsive {
		v = 1
	}
	m.HostResponsive.WithLabelValues(host).Set(v)
}
