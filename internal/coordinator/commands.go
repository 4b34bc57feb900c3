// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package coordinator

import (
	"context"
	"errors"

	"github.com/samber/oops"

	"github.com/holomush/exthost/internal/extension"
	"github.com/holomush/exthost/internal/profiling"
	"github.com/holomush/exthost/internal/protocol"
)

// CommandEvent is the activation event fired before command runs.
func CommandEvent(command string) string { return "onCommand:" + command }

// ExecuteCommand activates the extensions contributing command and runs it
// on the first running host that has it registered.
func (c *Coordinator) ExecuteCommand(ctx context.Context, command string, args ...any) (any, error) {
	if err := c.ActivateByEvent(ctx, CommandEvent(command), extension.ActivationNormal); err != nil {
		return nil, err
	}

	params := protocol.ExecuteCommandParams{Command: command, Args: args}
	for _, h := range c.runningHosts(nil) {
		var res protocol.ExecuteCommandResult
		err := h.ch.Call(ctx, protocol.MethodExecuteCommand, params, &res)
		var pe *protocol.Error
		if errors.As(err, &pe) && pe.Code == protocol.CodeCommandNotFound {
			continue
		}
		if err != nil {
			return nil, oops.In("coordinator").With("command", command).With("host", h.id).Wrap(err)
		}
		return res.Result, nil
	}
	return nil, oops.Code(extension.CodeCommandNotFound).
		In("coordinator").
		With("command", command).
		Errorf("command %s not found", command)
}

// StartProfiling starts a capture on a running host.
func (c *Coordinator) StartProfiling(ctx context.Context, hostID string) (profiling.Session, error) {
	h := c.runningHost(hostID)
	if h == nil {
		return nil, errUnknownHost(hostID)
	}
	var res protocol.StartProfileResult
	if err := h.ch.Call(ctx, protocol.MethodStartProfile, struct{}{}, &res); err != nil {
		return nil, oops.In("coordinator").With("host", hostID).Hint("failed to start profiling").Wrap(err)
	}
	c.logger.Info("profiling started", "host", hostID, "capture", res.SessionID)
	return &ProfileSession{HostID: hostID, ID: res.SessionID, ch: h.ch}, nil
}

// ProfileSession is a capture running on one host.
type ProfileSession struct {
	HostID string
	ID     string
	ch     protocol.Channel
}

var _ profiling.Session = (*ProfileSession)(nil)

// Stop ends the capture and returns the raw data.
func (s *ProfileSession) Stop(ctx context.Context) (*profiling.Data, error) {
	var res protocol.StopProfileResult
	if err := s.ch.Call(ctx, protocol.MethodStopProfile, protocol.StopProfileParams{SessionID: s.ID}, &res); err != nil {
		return nil, oops.In("coordinator").With("host", s.HostID).Hint("failed to stop profiling").Wrap(err)
	}
	return &res.Profile, nil
}
