// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package process runs extensions in a separate OS process launched through
// HashiCorp's go-plugin over net/rpc. Requests travel on the plugin's RPC
// connection; notifications come back on a MuxBroker stream.
package process

import (
	"errors"
	"net/rpc"

	"github.com/hashicorp/go-hclog"
	hashiplug "github.com/hashicorp/go-plugin"

	"github.com/holomush/exthost/internal/protocol"
)

// PluginName is the name the worker plugin is dispensed under.
const PluginName = "host"

// HandshakeConfig is shared by the coordinator and the worker binary.
var HandshakeConfig = hashiplug.HandshakeConfig{
	ProtocolVersion:  protocol.Version,
	MagicCookieKey:   "EXTHOST_WORKER",
	MagicCookieValue: "exthost-v1",
}

// PluginMap is the map of plugins the coordinator can dispense.
var PluginMap = map[string]hashiplug.Plugin{
	PluginName: &HostPlugin{},
}

// HostPlugin implements go-plugin's net/rpc Plugin interface.
type HostPlugin struct {
	// NewHandler builds the worker's request handler. Only used in the
	// worker process.
	NewHandler func(protocol.Notifier) protocol.Handler
}

// Server returns the RPC server (called by the worker process).
func (p *HostPlugin) Server(b *hashiplug.MuxBroker) (any, error) {
	if p.NewHandler == nil {
		return nil, errors.New("process: handler constructor is nil")
	}
	return &RPCServer{broker: b, newHandler: p.NewHandler}, nil
}

// Client returns the coordinator's channel (called by the coordinator).
func (p *HostPlugin) Client(b *hashiplug.MuxBroker, c *rpc.Client) (any, error) {
	return newRPCClient(b, c), nil
}

// ServeConfig configures the worker side.
type ServeConfig struct {
	// NewHandler builds the request handler. Required.
	NewHandler func(protocol.Notifier) protocol.Handler
	Logger     hclog.Logger
}

// Serve runs the worker plugin server. It blocks until the coordinator
// disconnects.
func Serve(cfg *ServeConfig) {
	if cfg == nil || cfg.NewHandler == nil {
		panic("process: NewHandler cannot be nil")
	}
	hashiplug.Serve(&hashiplug.ServeConfig{
		HandshakeConfig: HandshakeConfig,
		Plugins: map[string]hashiplug.Plugin{
			PluginName: &HostPlugin{NewHandler: cfg.NewHandler},
		},
		Logger: cfg.Logger,
	})
}
