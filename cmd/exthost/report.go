// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/exthost/internal/extension"
	"github.com/holomush/exthost/internal/manifest"
)

// ExtensionReport is one row of extension output.
type ExtensionReport struct {
	ID          string   `json:"id"`
	Version     string   `json:"version"`
	Location    string   `json:"location"`
	State       string   `json:"state,omitempty"`
	Activation  string   `json:"activation,omitempty"`
	Development bool     `json:"development,omitempty"`
	Errors      []string `json:"errors,omitempty"`
}

// ProblemReport is an extension directory that could not be loaded.
type ProblemReport struct {
	Dir   string `json:"dir"`
	Error string `json:"error"`
}

// Report is the output of status and activate.
type Report struct {
	Extensions []ExtensionReport `json:"extensions"`
	Problems   []ProblemReport   `json:"problems,omitempty"`
}

func newReport(problems []manifest.Problem) *Report {
	r := &Report{Extensions: []ExtensionReport{}}
	for _, p := range problems {
		r.Problems = append(r.Problems, ProblemReport{Dir: p.Dir, Error: p.Err.Error()})
	}
	return r
}

// addStatus appends d with its coordinator status.
func (r *Report) addStatus(d *extension.Descriptor, st extension.Status) {
	row := ExtensionReport{
		ID:          d.Identifier.Value(),
		Version:     d.Version,
		Location:    "-",
		State:       st.State.String(),
		Development: d.IsUnderDevelopment,
	}
	if st.RunningLocation != nil {
		row.Location = st.RunningLocation.String()
	}
	if st.ActivationTimes != nil {
		row.Activation = st.ActivationTimes.Total().Round(time.Microsecond).String()
	}
	for _, m := range st.Messages {
		if m.Type == extension.SeverityError {
			row.Errors = append(row.Errors, m.Text)
		}
	}
	for _, e := range st.RuntimeErrors {
		row.Errors = append(row.Errors, e.Message)
	}
	r.Extensions = append(r.Extensions, row)
}

// formatReportTable formats r as a human-readable table.
func formatReportTable(r *Report) string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "EXTENSION\tVERSION\tLOCATION\tSTATE\tACTIVATION\tERRORS")
	_, _ = fmt.Fprintln(w, "---------\t-------\t--------\t-----\t----------\t------")
	for _, row := range r.Extensions {
		id := row.ID
		if row.Development {
			id += " (dev)"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			id, row.Version, row.Location, orDash(row.State), orDash(row.Activation), orDash(strings.Join(row.Errors, "; ")))
	}
	_ = w.Flush()

	for _, p := range r.Problems {
		fmt.Fprintf(&b, "skipped %s: %s\n", p.Dir, p.Error)
	}
	return strings.TrimRight(b.String(), "\n")
}

// formatReportJSON formats r as JSON.
func formatReportJSON(r *Report) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", oops.In("cli").Hint("failed to marshal report").Wrap(err)
	}
	return string(data), nil
}

func formatReport(r *Report, asJSON bool) (string, error) {
	if asJSON {
		return formatReportJSON(r)
	}
	return formatReportTable(r), nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
