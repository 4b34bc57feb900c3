// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package remote

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"sync"

	"github.com/samber/oops"

	"github.com/holomush/exthost/internal/protocol"
)

// Server accepts coordinator connections for one authority and serves a
// fresh handler on each.
type Server struct {
	// Authority is the name this server answers for. Empty accepts any.
	Authority  string
	NewHandler func(protocol.Notifier) protocol.Handler
	Logger     *slog.Logger
}

// Serve accepts connections until ctx is cancelled or ln fails. Open
// connections are closed before Serve returns.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		netConn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return oops.In("remote").Hint("accept failed").Wrap(err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serveConn(ctx, netConn, logger)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, netConn net.Conn, logger *slog.Logger) {
	peer := netConn.RemoteAddr().String()
	logger.Info("coordinator connected", "peer", peer)

	var guard *authorityGuard
	conn := NewConn(ctx, netConn, func(n protocol.Notifier) protocol.Handler {
		guard = &authorityGuard{authority: s.Authority, next: s.NewHandler(n)}
		return guard
	})

	select {
	case <-conn.Done():
	case <-ctx.Done():
		_ = conn.Close()
	}
	if closer, ok := guard.next.(interface{ Close() }); ok {
		closer.Close()
	}
	logger.Info("coordinator disconnected", "peer", peer)
}

// authorityGuard rejects initialization for an authority the server does
// not serve.
type authorityGuard struct {
	authority string
	next      protocol.Handler
}

func (g *authorityGuard) Handle(ctx context.Context, method string, params json.RawMessage) (any, error) {
	if method == protocol.MethodInitialize && g.authority != "" {
		var init protocol.InitializeParams
		if err := protocol.Decode(params, &init); err != nil {
			return nil, err
		}
		if init.Authority != g.authority {
			return nil, &protocol.Error{
				Code:    protocol.CodeInvalidRequest,
				Message: "this host serves authority " + g.authority + ", not " + init.Authority,
			}
		}
	}
	return g.next.Handle(ctx, method, params)
}
