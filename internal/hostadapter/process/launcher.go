// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package process

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	hashiplug "github.com/hashicorp/go-plugin"
	"github.com/samber/oops"

	"github.com/holomush/exthost/internal/hostadapter"
	"github.com/holomush/exthost/internal/protocol"
)

// Environment variables understood by the worker process.
const (
	EnvHostID  = "EXTHOST_HOST_ID"
	EnvInspect = "EXTHOST_INSPECT"
)

// DefaultExitPollInterval is how often a running worker is checked for exit.
const DefaultExitPollInterval = 100 * time.Millisecond

// PluginClient wraps go-plugin client for testability.
type PluginClient interface {
	// Client starts the process and returns the RPC protocol.
	Client() (hashiplug.ClientProtocol, error)
	// Kill terminates the process.
	Kill()
	// Exited reports whether the process has exited.
	Exited() bool
	// ExitStatus is valid once Exited returns true.
	ExitStatus() hostadapter.ExitStatus
}

// ClientFactory creates plugin clients.
type ClientFactory interface {
	NewClient(spec hostadapter.LaunchSpec, cmd *exec.Cmd) PluginClient
}

// DefaultClientFactory creates real go-plugin clients.
type DefaultClientFactory struct {
	Logger hclog.Logger
}

// NewClient creates a real go-plugin client for cmd.
func (f *DefaultClientFactory) NewClient(spec hostadapter.LaunchSpec, cmd *exec.Cmd) PluginClient {
	logger := f.Logger
	if logger == nil {
		logger = hclog.New(&hclog.LoggerOptions{
			Name:       "exthost." + spec.HostID,
			Level:      hclog.Info,
			Output:     os.Stderr,
			JSONFormat: true,
		})
	}
	return &managedClient{
		client: hashiplug.NewClient(&hashiplug.ClientConfig{
			HandshakeConfig:  HandshakeConfig,
			Plugins:          PluginMap,
			Cmd:              cmd,
			AllowedProtocols: []hashiplug.Protocol{hashiplug.ProtocolNetRPC},
			Logger:           logger,
		}),
		cmd: cmd,
	}
}

// managedClient adds the process exit status to a go-plugin client.
type managedClient struct {
	client *hashiplug.Client
	cmd    *exec.Cmd
}

func (c *managedClient) Client() (hashiplug.ClientProtocol, error) { return c.client.Client() }
func (c *managedClient) Kill()                                     { c.client.Kill() }
func (c *managedClient) Exited() bool                              { return c.client.Exited() }

func (c *managedClient) ExitStatus() hostadapter.ExitStatus {
	ps := c.cmd.ProcessState
	if ps == nil {
		return hostadapter.ExitStatus{Code: -1, Reason: "process state unavailable"}
	}
	return hostadapter.ExitStatus{Code: ps.ExitCode(), Signal: signalOf(ps)}
}

// Launcher spawns worker processes.
type Launcher struct {
	// Executable defaults to the running binary.
	Executable string
	// Args defaults to ["worker"].
	Args []string
	// Env is appended to the inherited environment.
	Env []string
	// Inspect starts every worker with its inspector enabled.
	Inspect       bool
	PollInterval  time.Duration
	ClientFactory ClientFactory
	Logger        *slog.Logger
}

var _ hostadapter.Launcher = (*Launcher)(nil)

func (l *Launcher) command(spec hostadapter.LaunchSpec) (*exec.Cmd, error) {
	exe := l.Executable
	if exe == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, oops.In("process").Hint("cannot locate own executable").Wrap(err)
		}
		exe = self
	}
	args := l.Args
	if len(args) == 0 {
		args = []string{"worker"}
	}

	cmd := exec.Command(exe, args...) // #nosec G204 -- executable comes from configuration or os.Executable
	cmd.Env = append(os.Environ(), l.Env...)
	cmd.Env = append(cmd.Env, EnvHostID+"="+spec.HostID)
	if l.Inspect {
		cmd.Env = append(cmd.Env, EnvInspect+"=1")
	}
	return cmd, nil
}

// Launch implements hostadapter.Launcher.
func (l *Launcher) Launch(ctx context.Context, spec hostadapter.LaunchSpec) (*hostadapter.Session, error) {
	cmd, err := l.command(spec)
	if err != nil {
		return nil, err
	}
	factory := l.ClientFactory
	if factory == nil {
		factory = &DefaultClientFactory{}
	}
	client := factory.NewClient(spec, cmd)

	ch, err := l.connect(ctx, client)
	if err != nil {
		client.Kill()
		return nil, err
	}

	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	exit := make(chan hostadapter.ExitStatus, 1)
	stop := make(chan struct{})
	go l.watchExit(client, exit, stop)

	var once sync.Once
	return &hostadapter.Session{
		Channel: ch,
		Exit:    exit,
		Close: func() {
			once.Do(func() {
				close(stop)
				_ = ch.Close()
				client.Kill()
				logger.Debug("worker process stopped", "host", spec.HostID)
			})
		},
		EnableInspector: func(ctx context.Context) (int, error) {
			var res protocol.EnableInspectorResult
			if err := ch.Call(ctx, protocol.MethodEnableInspector, struct{}{}, &res); err != nil {
				return 0, err
			}
			return res.Port, nil
		},
	}, nil
}

// connect starts the process and attaches the notification stream. A
// cancelled ctx kills the process.
func (l *Launcher) connect(ctx context.Context, client PluginClient) (*RPCClient, error) {
	type result struct {
		ch  *RPCClient
		err error
	}
	done := make(chan result, 1)
	go func() {
		rpcClient, err := client.Client()
		if err != nil {
			done <- result{err: oops.In("process").Hint("failed to start worker").Wrap(err)}
			return
		}
		raw, err := rpcClient.Dispense(PluginName)
		if err != nil {
			done <- result{err: oops.In("process").Hint("failed to dispense worker").Wrap(err)}
			return
		}
		ch, ok := raw.(*RPCClient)
		if !ok {
			done <- result{err: fmt.Errorf("worker plugin returned %T", raw)}
			return
		}
		if err := ch.attach(ctx); err != nil {
			_ = ch.Close()
			done <- result{err: oops.In("process").Hint("failed to attach notification stream").Wrap(err)}
			return
		}
		done <- result{ch: ch}
	}()

	select {
	case r := <-done:
		return r.ch, r.err
	case <-ctx.Done():
		client.Kill()
		r := <-done
		if r.ch != nil {
			_ = r.ch.Close()
		}
		return nil, ctx.Err()
	}
}

func (l *Launcher) watchExit(client PluginClient, exit chan<- hostadapter.ExitStatus, stop <-chan struct{}) {
	interval := l.PollInterval
	if interval <= 0 {
		interval = DefaultExitPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if client.Exited() {
				exit <- client.ExitStatus()
				return
			}
		}
	}
}
