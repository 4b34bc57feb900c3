// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package protocol

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
)

const notificationBuffer = 64

type pipeResponse struct {
	result json.RawMessage
	err    *Error
}

// Pipe is an in-memory Channel connected directly to a Handler. Messages
// are serialized to JSON so both sides share no memory.
type Pipe struct {
	handler Handler

	nextID  atomic.Uint64
	mu      sync.Mutex
	pending map[uint64]chan pipeResponse

	notes     chan Notification
	done      chan struct{}
	closeOnce sync.Once

	serveCtx    context.Context
	serveCancel context.CancelFunc
	wg          sync.WaitGroup
}

// NewPipe connects a Channel to the handler built by newHandler. The
// handler receives the Notifier that feeds the channel's notifications.
func NewPipe(newHandler func(Notifier) Handler) *Pipe {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipe{
		pending:     make(map[uint64]chan pipeResponse),
		notes:       make(chan Notification, notificationBuffer),
		done:        make(chan struct{}),
		serveCtx:    ctx,
		serveCancel: cancel,
	}
	p.handler = newHandler(NotifierFunc(p.notify))
	return p
}

// Call implements Channel.
func (p *Pipe) Call(ctx context.Context, method string, params, result any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return &Error{Code: CodeInvalidParams, Message: err.Error()}
	}

	reply := make(chan pipeResponse, 1)
	id := p.nextID.Add(1)

	p.mu.Lock()
	select {
	case <-p.done:
		p.mu.Unlock()
		return ClosedError(method)
	default:
	}
	p.pending[id] = reply
	p.wg.Add(1)
	p.mu.Unlock()

	go p.serve(id, method, raw)

	select {
	case resp := <-reply:
		if resp.err != nil {
			return resp.err
		}
		if result == nil || len(resp.result) == 0 {
			return nil
		}
		return json.Unmarshal(resp.result, result)
	case <-ctx.Done():
		p.forget(id)
		return ctx.Err()
	case <-p.done:
		return ClosedError(method)
	}
}

func (p *Pipe) serve(id uint64, method string, params json.RawMessage) {
	defer p.wg.Done()

	var resp pipeResponse
	out, err := p.handler.Handle(p.serveCtx, method, params)
	if err != nil {
		resp.err = ToError(err)
	} else if raw, merr := json.Marshal(out); merr != nil {
		resp.err = &Error{Code: CodeInternalError, Message: merr.Error()}
	} else {
		resp.result = raw
	}

	p.mu.Lock()
	reply, ok := p.pending[id]
	delete(p.pending, id)
	p.mu.Unlock()
	if ok {
		reply <- resp
	}
}

func (p *Pipe) forget(id uint64) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}

func (p *Pipe) notify(ctx context.Context, method string, params any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	select {
	case p.notes <- Notification{Method: method, Params: raw}:
		return nil
	case <-p.done:
		return ClosedError(method)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Notifications implements Channel.
func (p *Pipe) Notifications() <-chan Notification { return p.notes }

// Done implements Channel.
func (p *Pipe) Done() <-chan struct{} { return p.done }

// Close implements Channel. In-flight handlers see their context cancelled.
func (p *Pipe) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		close(p.done)
		p.pending = make(map[uint64]chan pipeResponse)
		p.mu.Unlock()
		p.serveCancel()
	})
	return nil
}

// Wait blocks until every in-flight handler has returned.
func (p *Pipe) Wait() {
	p.wg.Wait()
}
