// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/exthost/internal/extension"
	"github.com/holomush/exthost/internal/profiling"
)

// profileConfig holds configuration for the profile command.
type profileConfig struct {
	hostID     string
	duration   time.Duration
	events     []string
	jsonOutput bool
}

// Default values for profile command flags.
const (
	defaultProfileHost     = "LocalProcess"
	defaultProfileDuration = 2 * time.Second
)

// SegmentTotal is the time attributed to one profile segment.
type SegmentTotal struct {
	Segment      string  `json:"segment"`
	Microseconds int64   `json:"microseconds"`
	Percent      float64 `json:"percent"`
}

// newProfileCmd creates the profile subcommand.
func newProfileCmd(deps *Deps) *cobra.Command {
	cfg := &profileConfig{}

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Profile an extension host",
		Long: `Start a coordinator session, activate extensions, capture a profile on
one host and print the time spent per segment.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runProfile(cmd, cfg, deps)
		},
	}

	cmd.Flags().StringVar(&cfg.hostID, "host", defaultProfileHost, "host to profile (LocalProcess, LocalProcessN, LocalWorker, Remote)")
	cmd.Flags().DurationVar(&cfg.duration, "duration", defaultProfileDuration, "capture duration")
	cmd.Flags().StringSliceVar(&cfg.events, "event", []string{"*"}, "activation events fired before the capture starts")
	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output totals as JSON")

	return cmd
}

// runProfile executes the profile command.
func runProfile(cmd *cobra.Command, opts *profileConfig, deps *Deps) error {
	deps = deps.withDefaults()
	cfg, err := loadConfig(cmd, deps)
	if err != nil {
		return err
	}
	logger, err := setupLogger(cfg, deps, "exthost")
	if err != nil {
		return oops.In("cli").Hint("failed to set up logging").Wrap(err)
	}

	ctx := cmd.Context()
	sess, err := openSession(ctx, cfg, deps, logger, nil)
	if err != nil {
		return err
	}
	defer sess.close()

	for _, event := range opts.events {
		if err := sess.coord.ActivateByEvent(ctx, event, extension.ActivationNormal); err != nil {
			return oops.In("cli").With("event", event).Wrapf(err, "activation of %s failed", event)
		}
	}

	capture, err := sess.coord.StartProfiling(ctx, opts.hostID)
	if err != nil {
		return err
	}
	select {
	case <-time.After(opts.duration):
	case <-ctx.Done():
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	profile, err := profiling.Collect(stopCtx, capture)
	if err != nil {
		return err
	}

	totals := segmentTotals(profile)
	if opts.jsonOutput {
		data, err := json.MarshalIndent(totals, "", "  ")
		if err != nil {
			return oops.In("cli").Hint("failed to marshal profile").Wrap(err)
		}
		cmd.Println(string(data))
		return nil
	}
	cmd.Println(formatSegmentTable(opts.hostID, profile, totals))
	return nil
}

// segmentTotals orders the profile totals by descending time.
func segmentTotals(p *profiling.Profile) []SegmentTotal {
	span := p.Data.EndTime - p.Data.StartTime
	out := make([]SegmentTotal, 0, len(p.Totals))
	for seg, us := range p.Totals {
		t := SegmentTotal{Segment: seg.ID(), Microseconds: us}
		if span > 0 {
			t.Percent = float64(us) * 100 / float64(span)
		}
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b SegmentTotal) int {
		if c := cmp.Compare(b.Microseconds, a.Microseconds); c != 0 {
			return c
		}
		return strings.Compare(a.Segment, b.Segment)
	})
	return out
}

func formatSegmentTable(hostID string, p *profiling.Profile, totals []SegmentTotal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "profile %s on %s (%s)\n", p.Data.ID, hostID, p.Data.Duration())
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SEGMENT\tTIME\tSHARE")
	for _, t := range totals {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%.1f%%\n", t.Segment, time.Duration(t.Microseconds)*time.Microsecond, t.Percent)
	}
	_ = w.Flush()
	return strings.TrimRight(b.String(), "\n")
}
