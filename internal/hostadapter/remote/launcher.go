// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package remote

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/holomush/exthost/internal/hostadapter"
)

// Dial defaults.
const (
	DefaultDialTimeout = 5 * time.Second
	DefaultDialRetries = 3
	DefaultDialBackoff = 100 * time.Millisecond
)

// DialFunc opens a connection to a remote authority.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Launcher connects to the host serving a remote authority. The authority
// is the host's TCP address.
type Launcher struct {
	Dial        DialFunc
	DialTimeout time.Duration
	// DialRetries is the number of extra attempts after a failed dial.
	DialRetries uint64
	DialBackoff time.Duration
	Logger      *slog.Logger
}

var _ hostadapter.Launcher = (*Launcher)(nil)

// Launch implements hostadapter.Launcher.
func (l *Launcher) Launch(ctx context.Context, spec hostadapter.LaunchSpec) (*hostadapter.Session, error) {
	if spec.Authority == "" {
		return nil, oops.In("remote").With("host", spec.HostID).Errorf("no remote authority configured")
	}
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}

	netConn, err := l.dial(ctx, spec.Authority, logger)
	if err != nil {
		return nil, oops.In("remote").With("authority", spec.Authority).Hint("failed to reach remote host").Wrap(err)
	}

	// The connection outlives the launch context; Close ends it.
	ch := NewConn(context.WithoutCancel(ctx), netConn, nil)
	return &hostadapter.Session{
		Channel: ch,
		Close:   func() { _ = ch.Close() },
	}, nil
}

func (l *Launcher) dial(ctx context.Context, address string, logger *slog.Logger) (net.Conn, error) {
	dial := l.Dial
	if dial == nil {
		timeout := l.DialTimeout
		if timeout <= 0 {
			timeout = DefaultDialTimeout
		}
		dial = (&net.Dialer{Timeout: timeout}).DialContext
	}
	retries := l.DialRetries
	if retries == 0 {
		retries = DefaultDialRetries
	}
	backoff := l.DialBackoff
	if backoff <= 0 {
		backoff = DefaultDialBackoff
	}

	var conn net.Conn
	attempt := 0
	err := retry.Do(ctx, retry.WithMaxRetries(retries, retry.NewExponential(backoff)), func(ctx context.Context) error {
		attempt++
		c, err := dial(ctx, "tcp", address)
		if err != nil {
			logger.Debug("remote dial failed", "authority", address, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}
