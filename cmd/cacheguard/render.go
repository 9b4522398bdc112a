// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/x/ansi"
	"github.com/dustin/go-humanize"
	"github.com/muesli/termenv"

	"github.com/bureau-foundation/cacheguard/cmd/cacheguard/cli"
	"github.com/bureau-foundation/cacheguard/lib/fleet"
	"github.com/bureau-foundation/cacheguard/lib/usage"
)

// maxErrorWidth truncates error cells so one verbose stderr line does
// not stretch the table off screen. The full text is in the logs and
// the JSON report.
const maxErrorWidth = 72

var statusColors = map[fleet.Status]lipgloss.Color{
	fleet.StatusOK:                lipgloss.Color("2"),
	fleet.StatusRemediated:        lipgloss.Color("6"),
	fleet.StatusPlanned:           lipgloss.Color("3"),
	fleet.StatusUnresolved:        lipgloss.Color("5"),
	fleet.StatusRemediationFailed: lipgloss.Color("1"),
	fleet.StatusError:             lipgloss.Color("1"),
}

// displayParams are the output flags shared by commands that render a
// report.
type displayParams struct {
	cli.JSONOutput
	Color string `flag:"color" default:"auto" desc:"color the table: auto (when stdout is a terminal), always, or never"`
}

// colorProfile maps a --color value to a forced profile. auto returns
// nil and leaves detection to the renderer.
func colorProfile(mode string) (*termenv.Profile, error) {
	var profile termenv.Profile
	switch mode {
	case "", "auto":
		return nil, nil
	case "always":
		profile = termenv.ANSI256
	case "never":
		profile = termenv.Ascii
	default:
		return nil, fmt.Errorf("--color must be auto, always, or never, got %q", mode)
	}
	return &profile, nil
}

// renderReport writes a per-worker table and a one-line summary.
func renderReport(w io.Writer, report fleet.Report, color string) error {
	profile, err := colorProfile(color)
	if err != nil {
		return err
	}
	renderer := lipgloss.NewRenderer(w)
	if profile != nil {
		renderer.SetColorProfile(*profile)
	}
	cellStyle := renderer.NewStyle().Padding(0, 1)
	headerStyle := cellStyle.Bold(true)

	hosts := report.SortedHosts()
	rows := make([][]string, 0, len(hosts))
	statuses := make([]fleet.Status, 0, len(hosts))
	for _, host := range hosts {
		entry := report.Hosts[host]
		statuses = append(statuses, entry.Status)
		rows = append(rows, []string{
			host,
			string(entry.Status),
			formatPercent(entry.Usage),
			formatCapacity(entry.Usage),
			describeAction(entry),
			formatPercent(entry.UsageAfter),
			describeError(entry),
		})
	}

	output := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(renderer.NewStyle().Foreground(lipgloss.Color("8"))).
		Headers("HOST", "STATUS", "USED", "CAPACITY", "ACTION", "AFTER", "ERROR").
		Rows(rows...).
		StyleFunc(func(row, column int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if column == 1 && row >= 0 && row < len(statuses) {
				return cellStyle.Foreground(statusColors[statuses[row]])
			}
			return cellStyle
		})

	if _, err := fmt.Fprintln(w, output.String()); err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, summaryLine(report))
	return err
}

// summaryLine reads like "12 workers in 4.2s: 10 ok, 1 remediated,
// 1 error (threshold 80%, dry run)".
func summaryLine(report fleet.Report) string {
	counts := report.Summary()
	var parts []string
	for _, status := range fleet.Statuses {
		if count := counts[status]; count > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", count, status))
		}
	}

	workers := "workers"
	if len(report.Hosts) == 1 {
		workers = "worker"
	}
	line := fmt.Sprintf("%d %s in %s: %s (threshold %s%%",
		len(report.Hosts), workers,
		report.Duration().Round(time.Millisecond),
		strings.Join(parts, ", "),
		humanize.FtoaWithDigits(report.ThresholdPercent, 1),
	)
	if report.DryRun {
		line += ", dry run"
	}
	return line + ")"
}

func formatPercent(reading *usage.Reading) string {
	if reading == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", reading.UsedPercent)
}

func formatCapacity(reading *usage.Reading) string {
	if reading == nil || reading.TotalBytes == 0 {
		return "-"
	}
	return humanize.IBytes(reading.UsedBytes) + " / " + humanize.IBytes(reading.TotalBytes)
}

// describeAction summarizes the remediation of one worker.
func describeAction(entry fleet.Entry) string {
	outcome := entry.Remediation
	if outcome == nil {
		return "-"
	}

	if outcome.DryRun {
		if outcome.JobID != "" {
			return fmt.Sprintf("would kill %s, remove %s", outcome.JobID, path.Base(outcome.Path))
		}
		if len(outcome.CleanedPaths) > 0 {
			return fmt.Sprintf("would remove %s", pluralize(len(outcome.CleanedPaths), "orphan"))
		}
		return "nothing to remove"
	}

	var parts []string
	switch {
	case outcome.Killed:
		parts = append(parts, "killed "+outcome.JobID)
	case outcome.JobID != "":
		parts = append(parts, "kill failed for "+outcome.JobID)
	}
	if count := len(outcome.CleanedPaths); count > 0 {
		noun := "orphan"
		if outcome.JobID != "" {
			noun = "directory"
		}
		parts = append(parts, "removed "+pluralize(count, noun))
	}
	if freed := freedBytes(entry); freed > 0 {
		parts = append(parts, "freed "+humanize.IBytes(freed))
	}
	if len(parts) == 0 {
		return "nothing to remove"
	}
	return strings.Join(parts, ", ")
}

func freedBytes(entry fleet.Entry) uint64 {
	if entry.Usage == nil || entry.UsageAfter == nil || entry.UsageAfter.UsedBytes >= entry.Usage.UsedBytes {
		return 0
	}
	return entry.Usage.UsedBytes - entry.UsageAfter.UsedBytes
}

func describeError(entry fleet.Entry) string {
	if entry.Error == nil {
		return ""
	}
	kind := string(entry.Error.Kind)
	if entry.Error.Reason != "" {
		kind += "/" + entry.Error.Reason
	}
	message, _, _ := strings.Cut(entry.Error.Message, "\n")
	return ansi.Truncate(kind+": "+message, maxErrorWidth, "...")
}

func pluralize(count int, noun string) string {
	if count == 1 {
		return "1 " + noun
	}
	switch {
	case strings.HasSuffix(noun, "y"):
		noun = strings.TrimSuffix(noun, "y") + "ies"
	default:
		noun += "s"
	}
	return fmt.Sprintf("%d %s", count, noun)
}
