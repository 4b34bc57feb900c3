// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package process

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/rpc"
	"sync"

	"github.com/holomush/exthost/internal/protocol"
)

// Request is one protocol request carried over net/rpc. net/rpc assigns
// the correlation id.
type Request struct {
	Method string
	Params json.RawMessage
}

// Response is the answer to a Request.
type Response struct {
	Result json.RawMessage
	Error  *protocol.Error
}

// AttachArgs hands the worker the broker stream for notifications.
type AttachArgs struct {
	NotifyID uint32
}

// NotifyArgs is one notification sent by the worker.
type NotifyArgs struct {
	Method string
	Params json.RawMessage
}

// Ack is an empty reply. gob cannot encode struct{}.
type Ack struct {
	OK bool
}

// broker is the subset of plugin.MuxBroker used for the notification stream.
type broker interface {
	NextId() uint32
	AcceptAndServe(id uint32, v any)
	Dial(id uint32) (net.Conn, error)
}

// RPCServer runs in the worker process and serves protocol requests.
type RPCServer struct {
	broker     broker
	newHandler func(protocol.Notifier) protocol.Handler

	mu       sync.Mutex
	handler  protocol.Handler
	notifier *rpc.Client
}

// Attach dials the coordinator's notification stream and builds the
// handler. It must be the first call.
func (s *RPCServer) Attach(args AttachArgs, reply *Ack) error {
	conn, err := s.broker.Dial(args.NotifyID)
	if err != nil {
		return err
	}
	client := rpc.NewClient(conn)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handler != nil {
		_ = client.Close()
		return errors.New("worker already attached")
	}
	s.notifier = client
	s.handler = s.newHandler(protocol.NotifierFunc(func(ctx context.Context, method string, params any) error {
		raw, err := json.Marshal(params)
		if err != nil {
			return err
		}
		call := client.Go("Plugin.Notify", NotifyArgs{Method: method, Params: raw}, &Ack{}, make(chan *rpc.Call, 1))
		select {
		case <-call.Done:
			return call.Error
		case <-ctx.Done():
			return ctx.Err()
		}
	}))
	reply.OK = true
	return nil
}

// Call dispatches one request.
func (s *RPCServer) Call(req Request, resp *Response) error {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h == nil {
		resp.Error = &protocol.Error{Code: protocol.CodeInvalidRequest, Message: "worker not attached"}
		return nil
	}
	resp.Result, resp.Error = protocol.Dispatch(context.Background(), h, req.Method, req.Params)
	return nil
}

// close releases the notification stream.
func (s *RPCServer) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notifier != nil {
		_ = s.notifier.Close()
		s.notifier = nil
	}
}

// notifyServer runs in the coordinator and receives worker notifications.
type notifyServer struct {
	ch *RPCClient
}

// Notify queues a notification for the channel's reader.
func (n *notifyServer) Notify(args NotifyArgs, reply *Ack) error {
	select {
	case n.ch.notes <- protocol.Notification{Method: args.Method, Params: args.Params}:
		reply.OK = true
		return nil
	case <-n.ch.done:
		return protocol.ErrClosed
	}
}

// RPCClient is the coordinator's protocol.Channel to a worker process.
type RPCClient struct {
	client *rpc.Client
	broker broker

	notes     chan protocol.Notification
	done      chan struct{}
	closeOnce sync.Once
}

var _ protocol.Channel = (*RPCClient)(nil)

func newRPCClient(b broker, c *rpc.Client) *RPCClient {
	return &RPCClient{
		client: c,
		broker: b,
		notes:  make(chan protocol.Notification, 64),
		done:   make(chan struct{}),
	}
}

// attach opens the notification stream.
func (c *RPCClient) attach(ctx context.Context) error {
	id := c.broker.NextId()
	go c.broker.AcceptAndServe(id, &notifyServer{ch: c})

	call := c.client.Go("Plugin.Attach", AttachArgs{NotifyID: id}, &Ack{}, make(chan *rpc.Call, 1))
	select {
	case <-call.Done:
		return call.Error
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Call implements protocol.Channel.
func (c *RPCClient) Call(ctx context.Context, method string, params, result any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return &protocol.Error{Code: protocol.CodeInvalidParams, Message: err.Error()}
	}
	select {
	case <-c.done:
		return protocol.ClosedError(method)
	default:
	}

	var resp Response
	call := c.client.Go("Plugin.Call", Request{Method: method, Params: raw}, &resp, make(chan *rpc.Call, 1))
	select {
	case <-call.Done:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return protocol.ClosedError(method)
	}

	if call.Error != nil {
		if errors.Is(call.Error, rpc.ErrShutdown) {
			c.shutdown()
			return protocol.ClosedError(method)
		}
		return call.Error
	}
	if resp.Error != nil {
		return resp.Error
	}
	if result == nil || len(resp.Result) == 0 {
		return nil
	}
	return json.Unmarshal(resp.Result, result)
}

// Notifications implements protocol.Channel.
func (c *RPCClient) Notifications() <-chan protocol.Notification { return c.notes }

// Done implements protocol.Channel.
func (c *RPCClient) Done() <-chan struct{} { return c.done }

// Close implements protocol.Channel.
func (c *RPCClient) Close() error {
	c.shutdown()
	return nil
}

func (c *RPCClient) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.client.Close()
	})
}
