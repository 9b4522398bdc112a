// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fleet

import (
	"slices"
	"time"

	"github.com/bureau-foundation/cacheguard/lib/fault"
	"github.com/bureau-foundation/cacheguard/lib/joblocate"
	"github.com/bureau-foundation/cacheguard/lib/remediate"
	"github.com/bureau-foundation/cacheguard/lib/threshold"
	"github.com/bureau-foundation/cacheguard/lib/usage"
)

// Status summarizes one worker's result.
type Status string

const (
	// StatusOK means usage was below the threshold.
	StatusOK Status = "ok"
	// StatusRemediated means remediation ran without error.
	StatusRemediated Status = "remediated"
	// StatusRemediationFailed means remediation ran and at least one
	// step failed.
	StatusRemediationFailed Status = "remediation-failed"
	// StatusPlanned means a dry run recorded what it would do.
	StatusPlanned Status = "planned"
	// StatusUnresolved means usage was over the threshold but no
	// running job and no orphan could be blamed.
	StatusUnresolved Status = "unresolved"
	// StatusError means the task failed before remediation.
	StatusError Status = "error"
)

// Statuses lists every status in display order.
var Statuses = []Status{
	StatusOK,
	StatusRemediated,
	StatusPlanned,
	StatusUnresolved,
	StatusRemediationFailed,
	StatusError,
}

// Entry is the result for one worker.
type Entry struct {
	Host   string `json:"host" yaml:"host"`
	Status Status `json:"status" yaml:"status"`

	Usage    *usage.Reading     `json:"usage,omitempty" yaml:"usage,omitempty"`
	Decision threshold.Decision `json:"decision,omitempty" yaml:"decision,omitempty"`

	// Inventory is set when the worker was over the threshold.
	Inventory   *joblocate.Inventory `json:"inventory,omitempty" yaml:"inventory,omitempty"`
	Remediation *remediate.Outcome   `json:"remediation,omitempty" yaml:"remediation,omitempty"`
	UsageAfter  *usage.Reading       `json:"usage_after,omitempty" yaml:"usage_after,omitempty"`

	Error *fault.Error `json:"error,omitempty" yaml:"error,omitempty"`

	Duration time.Duration `json:"duration" yaml:"duration"`
}

// Report aggregates one pass. Hosts has exactly one entry per target.
type Report struct {
	RunID            string  `json:"run_id" yaml:"run_id"`
	CacheDir         string  `json:"cache_dir" yaml:"cache_dir"`
	ThresholdPercent float64 `json:"threshold_percent" yaml:"threshold_percent"`
	DryRun           bool    `json:"dry_run,omitempty" yaml:"dry_run,omitempty"`

	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`

	Hosts map[string]Entry `json:"hosts" yaml:"hosts"`
}

// Summary counts entries by status.
func (r Report) Summary() map[Status]int {
	counts := make(map[Status]int, len(Statuses))
	for _, entry := range r.Hosts {
		counts[entry.Status]++
	}
	return counts
}

// Failed returns the hosts whose entry carries an error, sorted.
func (r Report) Failed() []string {
	var hosts []string
	for host, entry := range r.Hosts {
		if entry.Error != nil {
			hosts = append(hosts, host)
		}
	}
	slices.Sort(hosts)
	return hosts
}

// SortedHosts returns every host in the report, sorted.
func (r Report) SortedHosts() []string {
	hosts := make([]string, 0, len(r.Hosts))
	for host := range r.Hosts {
		hosts = append(hosts, host)
	}
	slices.Sort(hosts)
	return hosts
}

// Duration is the wall time of the pass.
func (r Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
