// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package process

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"github.com/samber/oops"
)

// Inspector serves runtime profiles of the worker process on a loopback
// port.
type Inspector struct {
	mu   sync.Mutex
	srv  *http.Server
	port int
}

// Start opens the inspector once and returns its port.
func (i *Inspector) Start(context.Context) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.srv != nil {
		return i.port, nil
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, oops.In("process").Hint("failed to open inspector port").Wrap(err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	i.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	i.port = ln.Addr().(*net.TCPAddr).Port
	srv := i.srv
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = ln.Close()
		}
	}()
	return i.port, nil
}

// Port returns the open port, or 0.
func (i *Inspector) Port() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.port
}

// Close stops the inspector.
func (i *Inspector) Close() error {
	i.mu.Lock()
	srv := i.srv
	i.srv, i.port = nil, 0
	i.mu.Unlock()
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
