// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "not JSON: %s", buf.String())
	return entry
}

func TestSetup_JSONCarriesServiceAttrs(t *testing.T) {
	for _, format := range []string{"", "json"} {
		var buf bytes.Buffer
		logger, err := Setup("exthost", "1.2.0", Options{Format: format, HostID: "LocalProcess-1"}, &buf)
		require.NoError(t, err)

		logger.Info("extension host started", "location", "LocalProcess")

		entry := decodeLine(t, &buf)
		assert.Equal(t, "extension host started", entry["msg"])
		assert.Equal(t, "exthost", entry["service"])
		assert.Equal(t, "1.2.0", entry["version"])
		assert.Equal(t, "LocalProcess-1", entry["host"])
		assert.Equal(t, "LocalProcess", entry["location"])
		assert.NotContains(t, entry, "trace_id", "no span in context")
	}
}

func TestSetup_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Setup("exthost-worker", "dev", Options{Format: "text", HostID: "LocalProcess"}, &buf)
	require.NoError(t, err)

	logger.Warn("heartbeat missed")

	out := buf.String()
	assert.Contains(t, out, `msg="heartbeat missed"`)
	assert.Contains(t, out, "service=exthost-worker")
	assert.Contains(t, out, "host=LocalProcess")
}

func TestHandler_AddsSpanIDs(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Setup("exthost", "dev", Options{}, &buf)
	require.NoError(t, err)

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	ctx := trace.ContextWithSpanContext(context.Background(),
		trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID}))

	logger.With("extension", "acme.greeter").InfoContext(ctx, "activated", "reason", "*")

	entry := decodeLine(t, &buf)
	assert.Equal(t, traceID.String(), entry["trace_id"])
	assert.Equal(t, spanID.String(), entry["span_id"])
	assert.Equal(t, "acme.greeter", entry["extension"])
	assert.Equal(t, "*", entry["reason"])
}

func TestSetup_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Setup("exthost", "dev", Options{Level: "warn"}, &buf)
	require.NoError(t, err)

	logger.Info("hidden")
	assert.Zero(t, buf.Len())
	logger.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestSetup_RejectsUnknownValues(t *testing.T) {
	_, err := Setup("exthost", "dev", Options{Format: "xml"}, nil)
	assert.Error(t, err)
	_, err = Setup("exthost", "dev", Options{Level: "loud"}, nil)
	assert.Error(t, err)
}

func TestSetDefault_ReplacesDefaultLogger(t *testing.T) {
	original := slog.Default()
	t.Cleanup(func() { slog.SetDefault(original) })

	logger, err := SetDefault("exthost", "dev", Options{Format: "json"})
	require.NoError(t, err)
	assert.Same(t, logger, slog.Default())
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"info":    slog.LevelInfo,
		" debug ": slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("trace")
	assert.Error(t, err)
}
