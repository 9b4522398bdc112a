// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package usage

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/disk"

	"github.com/bureau-foundation/cacheguard/lib/clock"
	"github.com/bureau-foundation/cacheguard/lib/fault"
	"github.com/bureau-foundation/cacheguard/lib/remote"
)

// DefaultTolerance is the largest gap, in percentage points, between a
// reported and a byte-derived percentage that still trusts the report.
const DefaultTolerance = 1.0

// Source records where Reading.UsedPercent came from.
type Source string

const (
	// SourceReported means the percentage the filesystem tool printed.
	SourceReported Source = "reported"
	// SourceBytes means used/total computed from the byte counts.
	SourceBytes Source = "bytes"
)

// Reading is one measurement of the filesystem holding Path.
type Reading struct {
	Host       string `json:"host" yaml:"host"`
	Path       string `json:"path" yaml:"path"`
	Filesystem string `json:"filesystem,omitempty" yaml:"filesystem,omitempty"`
	MountPoint string `json:"mount_point,omitempty" yaml:"mount_point,omitempty"`

	UsedPercent    float64 `json:"used_percent" yaml:"used_percent"`
	UsedBytes      uint64  `json:"used_bytes" yaml:"used_bytes"`
	AvailableBytes uint64  `json:"available_bytes" yaml:"available_bytes"`
	TotalBytes     uint64  `json:"total_bytes" yaml:"total_bytes"`

	// ReportedPercent is the tool's own figure; zero with
	// PercentSource "bytes" when the tool printed none.
	ReportedPercent float64 `json:"reported_percent,omitempty" yaml:"reported_percent,omitempty"`
	PercentSource   Source  `json:"percent_source" yaml:"percent_source"`

	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// Probe measures cache filesystem usage.
type Probe struct {
	tolerance float64
	clock     clock.Clock
}

// NewProbe returns a probe. A non-positive tolerance selects
// DefaultTolerance.
func NewProbe(tolerance float64, clk clock.Clock) *Probe {
	if tolerance <= 0 || math.IsNaN(tolerance) {
		tolerance = DefaultTolerance
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Probe{tolerance: tolerance, clock: clk}
}

// Measure reads usage of the filesystem holding path on the session's
// worker. A missing path or unparsable output is a Probe fault.
func (p *Probe) Measure(ctx context.Context, session remote.Session, path string) (Reading, error) {
	host := session.Host()
	if _, local := session.(*remote.LocalSession); local {
		return p.measureLocal(ctx, host, path)
	}

	command := remote.QuoteAll("df", "-P", "-B1", "--", path)
	result, err := session.Run(ctx, command)
	if err != nil {
		return Reading{}, fault.Classify(ctx, host, "df "+path, fault.Command, err)
	}
	if err := result.Err(host, command); err != nil {
		return Reading{}, fault.New(fault.Probe, host, "df "+path, err)
	}

	row, err := parseDF(result.Stdout)
	if err != nil {
		return Reading{}, fault.New(fault.Probe, host, "parsing df output for "+path, err)
	}
	if row.total == 0 {
		return Reading{}, fault.New(fault.Probe, host, "df reported zero total size for "+path, nil)
	}

	percent, source := Reconcile(row.used, row.total, row.capacity, row.hasCapacity, p.tolerance)
	reading := Reading{
		Host:           host,
		Path:           path,
		Filesystem:     row.filesystem,
		MountPoint:     row.mountPoint,
		UsedPercent:    percent,
		UsedBytes:      row.used,
		AvailableBytes: row.available,
		TotalBytes:     row.total,
		PercentSource:  source,
		Timestamp:      p.clock.Now(),
	}
	if row.hasCapacity {
		reading.ReportedPercent = row.capacity
	}
	return reading, nil
}

func (p *Probe) measureLocal(ctx context.Context, host, path string) (Reading, error) {
	stat, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return Reading{}, fault.Classify(ctx, host, "statfs "+path, fault.Probe, err)
	}
	if stat.Total == 0 {
		return Reading{}, fault.New(fault.Probe, host, "statfs reported zero total size for "+path, nil)
	}

	percent, source := Reconcile(stat.Used, stat.Total, stat.UsedPercent, true, p.tolerance)
	return Reading{
		Host:            host,
		Path:            path,
		Filesystem:      stat.Fstype,
		MountPoint:      stat.Path,
		UsedPercent:     percent,
		UsedBytes:       stat.Used,
		AvailableBytes:  stat.Free,
		TotalBytes:      stat.Total,
		ReportedPercent: stat.UsedPercent,
		PercentSource:   source,
		Timestamp:       p.clock.Now(),
	}, nil
}

// Reconcile picks the percentage to trust. The byte-derived value
// used/total*100 is authoritative; a reported value is kept only when
// it is within tolerance points of it.
func Reconcile(used, total uint64, reported float64, hasReported bool, tolerance float64) (float64, Source) {
	derived := float64(used) / float64(total) * 100
	if hasReported && !math.IsNaN(reported) && math.Abs(reported-derived) <= tolerance {
		return reported, SourceReported
	}
	return derived, SourceBytes
}

type dfRow struct {
	filesystem  string
	total       uint64
	used        uint64
	available   uint64
	capacity    float64
	hasCapacity bool
	mountPoint  string
}

// parseDF extracts the data row of POSIX df output. Fields are located
// from the capacity column outward so filesystem names and mount points
// containing spaces still parse.
func parseDF(output string) (dfRow, error) {
	var dataLine string
	sawHeader := false
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "Filesystem") {
			sawHeader = true
			continue
		}
		if sawHeader {
			dataLine = trimmed
			break
		}
	}
	if dataLine == "" {
		return dfRow{}, fmt.Errorf("no data row in df output %q", strings.TrimSpace(output))
	}

	fields := strings.Fields(dataLine)
	for capacityIndex := len(fields) - 2; capacityIndex >= 4; capacityIndex-- {
		capacityField := fields[capacityIndex]
		if capacityField != "-" && !strings.HasSuffix(capacityField, "%") {
			continue
		}
		total, totalErr := strconv.ParseUint(fields[capacityIndex-3], 10, 64)
		used, usedErr := strconv.ParseUint(fields[capacityIndex-2], 10, 64)
		available, availableErr := strconv.ParseUint(fields[capacityIndex-1], 10, 64)
		if totalErr != nil || usedErr != nil || availableErr != nil {
			continue
		}

		row := dfRow{
			filesystem: strings.Join(fields[:capacityIndex-3], " "),
			total:      total,
			used:       used,
			available:  available,
			mountPoint: strings.Join(fields[capacityIndex+1:], " "),
		}
		if capacityField != "-" {
			capacity, err := strconv.ParseFloat(strings.TrimSuffix(capacityField, "%"), 64)
			if err != nil {
				return dfRow{}, fmt.Errorf("capacity %q: %w", capacityField, err)
			}
			row.capacity = capacity
			row.hasCapacity = true
		}
		return row, nil
	}
	return dfRow{}, fmt.Errorf("unrecognized df row %q", dataLine)
}
