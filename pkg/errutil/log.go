// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package errutil bridges oops errors and structured logging.
package errutil

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
)

// Attrs returns the slog attributes describing err. oops errors contribute
// their code, domain, hint and context; other errors only their text.
func Attrs(err error) []any {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return []any{"error", err}
	}
	attrs := []any{"error", oopsErr.Error()}
	if code := oopsErr.Code(); code != nil {
		attrs = append(attrs, "code", code)
	}
	if domain := oopsErr.Domain(); domain != "" {
		attrs = append(attrs, "domain", domain)
	}
	if hint := oopsErr.Hint(); hint != "" {
		attrs = append(attrs, "hint", hint)
	}
	if ctx := oopsErr.Context(); len(ctx) > 0 {
		attrs = append(attrs, "context", ctx)
	}
	return attrs
}

// Log logs err at level with the attributes from Attrs.
func Log(logger *slog.Logger, level slog.Level, msg string, err error) {
	logger.Log(context.Background(), level, msg, Attrs(err)...)
}

// LogError logs err at error level.
func LogError(logger *slog.Logger, msg string, err error) {
	Log(logger, slog.LevelError, msg, err)
}

// LogWarn logs err at warning level, for failures the caller recovers from.
func LogWarn(logger *slog.Logger, msg string, err error) {
	Log(logger, slog.LevelWarn, msg, err)
}
