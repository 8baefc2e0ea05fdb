// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package migration

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// Entry is one source row that was not migrated.
type Entry struct {
	Name   string `yaml:"name" json:"name"`
	Reason string `yaml:"reason" json:"reason"`
	Detail string `yaml:"detail,omitempty" json:"detail,omitempty"`
}

// Report summarizes one migration run.
type Report struct {
	RunID      string    `yaml:"run_id" json:"run_id"`
	Type       string    `yaml:"type" json:"type"`
	Table      string    `yaml:"table" json:"table"`
	StartedAt  time.Time `yaml:"started_at" json:"started_at"`
	FinishedAt time.Time `yaml:"finished_at" json:"finished_at"`
	Read       int       `yaml:"read" json:"read"`
	Migrated   int       `yaml:"migrated" json:"migrated"`
	Skipped    []Entry   `yaml:"skipped" json:"skipped"`
	Conflicts  []Entry   `yaml:"conflicts" json:"conflicts"`
	// Aborted is set when the run stopped early on a fatal error.
	Aborted string `yaml:"aborted,omitempty" json:"aborted,omitempty"`
}

func (r *Report) skip(name string, err error) {
	r.Skipped = append(r.Skipped, entryFor(name, err))
}

func (r *Report) conflict(name string, err error) {
	r.Conflicts = append(r.Conflicts, entryFor(name, err))
}

func entryFor(name string, err error) Entry {
	if se, ok := asSkip(err); ok {
		return Entry{Name: name, Reason: se.Reason, Detail: se.Detail}
	}
	return Entry{Name: name, Reason: ReasonMalformedRow, Detail: err.Error()}
}

// SkippedFor counts skipped rows with reason.
func (r *Report) SkippedFor(reason string) int {
	n := 0
	for _, e := range r.Skipped {
		if e.Reason == reason {
			n++
		}
	}
	return n
}

// WriteYAML writes the report as a YAML document.
func (r *Report) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return oops.Code("REPORT_ENCODE_FAILED").With("format", "yaml").Wrap(err)
	}
	if err := enc.Close(); err != nil {
		return oops.Code("REPORT_ENCODE_FAILED").With("format", "yaml").Wrap(err)
	}
	return nil
}

// WriteText writes a human-readable summary followed by the skipped and
// conflicting rows.
func (r *Report) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Run:\t%s\n", r.RunID)
	fmt.Fprintf(tw, "Type:\t%s (table %s)\n", r.Type, r.Table)
	fmt.Fprintf(tw, "Duration:\t%s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(tw, "Read:\t%d\n", r.Read)
	fmt.Fprintf(tw, "Migrated:\t%d\n", r.Migrated)
	fmt.Fprintf(tw, "Skipped:\t%d\n", len(r.Skipped))
	fmt.Fprintf(tw, "Conflicts:\t%d\n", len(r.Conflicts))
	if r.Aborted != "" {
		fmt.Fprintf(tw, "Aborted:\t%s\n", r.Aborted)
	}
	writeEntries(tw, "Skipped rows", r.Skipped)
	writeEntries(tw, "Conflicts", r.Conflicts)
	if err := tw.Flush(); err != nil {
		return oops.Code("REPORT_ENCODE_FAILED").With("format", "text").Wrap(err)
	}
	return nil
}

func writeEntries(w io.Writer, title string, entries []Entry) {
	if len(entries) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s:\n", title)
	for _, e := range entries {
		name := e.Name
		if name == "" {
			name = "(unnamed)"
		}
		if e.Detail != "" {
			fmt.Fprintf(w, "  %s\t%s\t%s\n", name, e.Reason, e.Detail)
		} else {
			fmt.Fprintf(w, "  %s\t%s\t\n", name, e.Reason)
		}
	}
}
