// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/exthost/internal/extension"
	"github.com/holomush/exthost/pkg/errutil"
)

// Startup activation events, fired in order once hosts are up.
var startupEvents = []string{"*", "onStartupFinished"}

// newRunCmd creates the run subcommand.
func newRunCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the extension host coordinator",
		Long: `Discover installed extensions, start the extension hosts they need and
activate startup extensions. Runs until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCoordinator(cmd, deps)
		},
	}
}

// runCoordinator runs a coordinator session until a signal arrives or the
// observability server fails.
func runCoordinator(cmd *cobra.Command, deps *Deps) error {
	deps = deps.withDefaults()
	cfg, err := loadConfig(cmd, deps)
	if err != nil {
		return err
	}
	logger, err := setupLogger(cfg, deps, "exthost")
	if err != nil {
		return oops.In("cli").Hint("failed to set up logging").Wrap(err)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var ready atomic.Bool
	var reg prometheus.Registerer
	var obsServer ObservabilityServer
	if cfg.MetricsAddr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.MetricsAddr, ready.Load)
		reg = obsServer.Registry()
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.In("cli").Hint("failed to start observability server").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability", logger)
		logger.Info("observability server started", "addr", obsServer.Addr())
	}
	defer func() {
		if obsServer == nil {
			return
		}
		stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stopCancel()
		if err := obsServer.Stop(stopCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}()

	sess, err := openSession(ctx, cfg, deps, logger, reg)
	if err != nil {
		return err
	}
	defer sess.close()

	statusCh, unsubStatus := sess.coord.OnDidChangeExtensionsStatus()
	defer unsubStatus()
	respCh, unsubResp := sess.coord.OnDidChangeResponsiveChange()
	defer unsubResp()

	for _, event := range startupEvents {
		if err := sess.coord.ActivateByEvent(ctx, event, extension.ActivationNormal); err != nil {
			if ctx.Err() != nil {
				break
			}
			errutil.LogWarn(logger, "startup activation incomplete", err)
		}
	}
	ready.Store(true)

	cmd.Println("Extension host running")
	logger.Info("extension host ready", "session", sess.coord.SessionID())

	for {
		select {
		case ids := <-statusCh:
			logStatusChanges(logger, sess, ids)
		case ev := <-respCh:
			logger.Info("extension host responsiveness changed",
				"host", ev.HostID,
				"kind", ev.Kind.String(),
				"responsive", ev.IsResponsive,
			)
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		}
	}
}

func logStatusChanges(logger *slog.Logger, sess *session, ids []extension.Identifier) {
	statuses := sess.coord.GetExtensionsStatus()
	for _, id := range ids {
		st, ok := statuses[id.Key()]
		if !ok {
			continue
		}
		attrs := []any{"extension", id.Value(), "state", st.State.String()}
		if st.RunningLocation != nil {
			attrs = append(attrs, "location", st.RunningLocation.String())
		}
		if n := len(st.RuntimeErrors); n > 0 {
			attrs = append(attrs, "last_error", st.RuntimeErrors[n-1].Message)
		}
		logger.Debug("extension status changed", attrs...)
	}
}

// monitorServerErrors cancels ctx when a server reports an error. It exits
// when an error arrives, the channel closes or ctx is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if !ok || err == nil {
			return
		}
		logger.Error("server error, triggering shutdown", "server", serverName, "error", err)
		cancel()
	case <-ctx.Done():
	}
}
