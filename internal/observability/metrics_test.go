// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShared_RegistersOncePerRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()

	a, releaseA, err := Shared(reg, "coord-a")
	require.NoError(t, err)
	b, releaseB, err := Shared(reg, "coord-b")
	require.NoError(t, err)
	assert.Same(t, a, b)

	a.HostStarted("LocalWorker", true)
	assert.Equal(t, 1.0, testutil.ToFloat64(b.HostsRunning.WithLabelValues("LocalWorker")))

	releaseA()
	releaseA()
	count, err := testutil.GatherAndCount(reg, "exthost_hosts_running")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "metrics stay registered while an owner remains")

	releaseB()
	count, err = testutil.GatherAndCount(reg, "exthost_hosts_running")
	require.NoError(t, err)
	assert.Zero(t, count)

	c, releaseC, err := Shared(reg, "coord-c")
	require.NoError(t, err)
	defer releaseC()
	assert.NotSame(t, a, c, "a new owner after full release gets fresh metrics")
}

func TestShared_ConflictingRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)

	_, release, err := Shared(reg, "coord")
	require.Error(t, err)
	release()
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.ActivationFinished("LocalWorker", true, time.Second)
	m.HostStarted("LocalWorker", false)
	m.HostStopped("LocalWorker", true)
	m.RuntimeError("LocalWorker")
	m.SetResponsive("LocalWorker", false)
}

func TestMetrics_Recording(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.HostStarted("LocalProcess", true)
	m.HostStarted("LocalProcess", false)
	m.HostStopped("LocalProcess", true)
	m.ActivationFinished("LocalProcess", false, time.Second)
	m.SetResponsive("LocalProcess", true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HostStartsTotal.WithLabelValues("LocalProcess", "started")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HostStartsTotal.WithLabelValues("LocalProcess", OutcomeFailed)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.HostsRunning.WithLabelValues("LocalProcess")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HostExitsTotal.WithLabelValues("LocalProcess")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActivationsTotal.WithLabelValues("LocalProcess", OutcomeFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HostResponsive.WithLabelValues("LocalProcess")))
}
