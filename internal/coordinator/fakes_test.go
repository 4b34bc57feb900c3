// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package coordinator_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/holomush/exthost/internal/hostadapter"
	"github.com/holomush/exthost/internal/profiling"
	"github.com/holomush/exthost/internal/protocol"
)

// fakeHosts launches in-memory hosts whose behavior the tests script.
type fakeHosts struct {
	mu sync.Mutex
	// failures is the number of launches to fail, per host id. A negative
	// count fails every launch.
	failures  map[string]int
	launches  map[string]int
	activates map[string]int
	pipes     map[string]*protocol.Pipe
	notifiers map[string]protocol.Notifier
	resident  map[string]map[string]bool
	env       map[string]map[string]string

	// gate blocks activate until closed.
	gate chan struct{}
	// failExt makes the activation of an extension throw.
	failExt map[string]string
	// commands maps a command to the extension that registers it.
	commands map[string]string
	hangPing bool
	inspect  int
}

func newFakeHosts() *fakeHosts {
	return &fakeHosts{
		failures:  make(map[string]int),
		launches:  make(map[string]int),
		activates: make(map[string]int),
		pipes:     make(map[string]*protocol.Pipe),
		notifiers: make(map[string]protocol.Notifier),
		resident:  make(map[string]map[string]bool),
		env:       make(map[string]map[string]string),
		failExt:   make(map[string]string),
		commands:  make(map[string]string),
	}
}

func (f *fakeHosts) factory() hostadapter.Factory {
	l := hostadapter.LauncherFunc(f.launch)
	return hostadapter.Launchers{Worker: l, Process: l, Remote: l}
}

func (f *fakeHosts) launch(_ context.Context, spec hostadapter.LaunchSpec) (*hostadapter.Session, error) {
	f.mu.Lock()
	f.launches[spec.HostID]++
	if n := f.failures[spec.HostID]; n != 0 {
		if n > 0 {
			f.failures[spec.HostID] = n - 1
		}
		f.mu.Unlock()
		return nil, errors.New("spawn failed")
	}
	f.mu.Unlock()

	h := &fakeHost{f: f, id: spec.HostID, active: make(map[string]bool)}
	pipe := protocol.NewPipe(func(n protocol.Notifier) protocol.Handler {
		f.mu.Lock()
		f.notifiers[spec.HostID] = n
		f.mu.Unlock()
		return protocol.HandlerFunc(h.handle)
	})
	f.mu.Lock()
	f.pipes[spec.HostID] = pipe
	f.mu.Unlock()

	return &hostadapter.Session{
		Channel: pipe,
		Close:   func() { _ = pipe.Close() },
		EnableInspector: func(ctx context.Context) (int, error) {
			var res protocol.EnableInspectorResult
			err := pipe.Call(ctx, protocol.MethodEnableInspector, struct{}{}, &res)
			return res.Port, err
		},
	}, nil
}

// crash makes a running host disappear.
func (f *fakeHosts) crash(hostID string) {
	f.mu.Lock()
	pipe := f.pipes[hostID]
	f.mu.Unlock()
	if pipe != nil {
		_ = pipe.Close()
	}
}

func (f *fakeHosts) notify(ctx context.Context, hostID, method string, params any) error {
	f.mu.Lock()
	n := f.notifiers[hostID]
	f.mu.Unlock()
	if n == nil {
		return errors.New("no such host")
	}
	return n.Notify(ctx, method, params)
}

func (f *fakeHosts) launchCount(hostID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.launches[hostID]
}

func (f *fakeHosts) activateCount(hostID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activates[hostID]
}

func (f *fakeHosts) isResident(hostID, extID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resident[hostID][extID]
}

func (f *fakeHosts) envOf(hostID string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.env[hostID]))
	for k, v := range f.env[hostID] {
		out[k] = v
	}
	return out
}

type fakeHost struct {
	f  *fakeHosts
	id string

	mu     sync.Mutex
	active map[string]bool
}

func (h *fakeHost) handle(ctx context.Context, method string, params json.RawMessage) (any, error) {
	f := h.f
	switch method {
	case protocol.MethodInitialize:
		var p protocol.InitializeParams
		if err := protocol.Decode(params, &p); err != nil {
			return nil, err
		}
		f.mu.Lock()
		f.resident[h.id] = make(map[string]bool)
		for _, e := range p.Extensions {
			f.resident[h.id][e.ID] = true
		}
		f.env[h.id] = p.Environment
		f.mu.Unlock()
		return protocol.InitializeResult{ProtocolVersion: protocol.Version, Authority: p.Authority}, nil

	case protocol.MethodDeltaExtensions:
		var p protocol.DeltaExtensionsParams
		if err := protocol.Decode(params, &p); err != nil {
			return nil, err
		}
		f.mu.Lock()
		for _, e := range p.Added {
			f.resident[h.id][e.ID] = true
		}
		for _, id := range p.Removed {
			delete(f.resident[h.id], id)
		}
		f.mu.Unlock()
		return struct{}{}, nil

	case protocol.MethodActivate:
		var p protocol.ActivateParams
		if err := protocol.Decode(params, &p); err != nil {
			return nil, err
		}
		f.mu.Lock()
		f.activates[h.id]++
		gate := f.gate
		f.mu.Unlock()
		if gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		var res protocol.ActivateResult
		h.mu.Lock()
		for _, id := range p.ExtensionIDs {
			f.mu.Lock()
			msg, fails := f.failExt[id]
			f.mu.Unlock()
			r := protocol.ActivationResult{ExtensionID: id, Times: protocol.Times{ActivateCall: 10}}
			switch {
			case fails:
				r.Error = &protocol.RemoteError{Message: msg}
			case h.active[id]:
				r.AlreadyActive = true
			default:
				h.active[id] = true
			}
			res.Results = append(res.Results, r)
		}
		h.mu.Unlock()
		return res, nil

	case protocol.MethodExecuteCommand:
		var p protocol.ExecuteCommandParams
		if err := protocol.Decode(params, &p); err != nil {
			return nil, err
		}
		f.mu.Lock()
		owner := f.commands[p.Command]
		f.mu.Unlock()
		h.mu.Lock()
		ok := owner != "" && h.active[owner]
		h.mu.Unlock()
		if !ok {
			return nil, &protocol.Error{Code: protocol.CodeCommandNotFound, Message: "command not found: " + p.Command}
		}
		return protocol.ExecuteCommandResult{Result: "ran " + p.Command}, nil

	case protocol.MethodPing:
		var p protocol.PingParams
		if err := protocol.Decode(params, &p); err != nil {
			return nil, err
		}
		f.mu.Lock()
		hang := f.hangPing
		f.mu.Unlock()
		if hang {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return protocol.PingResult{Seq: p.Seq}, nil

	case protocol.MethodStartProfile:
		return protocol.StartProfileResult{SessionID: "capture-1"}, nil

	case protocol.MethodStopProfile:
		return protocol.StopProfileResult{Profile: profiling.Data{
			ID:        "capture-1",
			StartTime: 0,
			EndTime:   100,
			Deltas:    []int64{100},
			IDs:       []string{"acme.foo"},
		}}, nil

	case protocol.MethodEnableInspector:
		f.mu.Lock()
		port := f.inspect
		f.mu.Unlock()
		return protocol.EnableInspectorResult{Port: port}, nil

	case protocol.MethodSetEnvironment:
		var p protocol.SetEnvironmentParams
		if err := protocol.Decode(params, &p); err != nil {
			return nil, err
		}
		f.mu.Lock()
		if f.env[h.id] == nil {
			f.env[h.id] = make(map[string]string)
		}
		for k, v := range p.Env {
			if v == nil {
				delete(f.env[h.id], k)
				continue
			}
			f.env[h.id][k] = *v
		}
		f.mu.Unlock()
		return struct{}{}, nil

	case protocol.MethodShutdown:
		return struct{}{}, nil

	default:
		return nil, protocol.MethodNotFound(method)
	}
}

// startingAdapter begins starting its host the first time its state is
// read, as an activation racing on another goroutine would.
type startingAdapter struct {
	hostadapter.Adapter
	once sync.Once
}

func (a *startingAdapter) State() hostadapter.State {
	st := a.Adapter.State()
	a.once.Do(func() { _, _ = a.Adapter.Start(context.Background()) })
	return st
}
