// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fleet

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/cacheguard/lib/clock"
	"github.com/bureau-foundation/cacheguard/lib/fault"
	"github.com/bureau-foundation/cacheguard/lib/joblocate"
	"github.com/bureau-foundation/cacheguard/lib/remediate"
	"github.com/bureau-foundation/cacheguard/lib/remote"
	"github.com/bureau-foundation/cacheguard/lib/threshold"
	"github.com/bureau-foundation/cacheguard/lib/usage"
)

// Defaults for Config fields left zero.
const (
	DefaultConcurrency = 16
	DefaultTimeout     = 10 * time.Minute
)

// Config wires an Orchestrator.
type Config struct {
	// Dialer opens one session per task. Required.
	Dialer remote.Dialer

	// Probe, Locator, and Remediator default to zero-config instances.
	// The default Remediator waits no kill grace; callers that want one
	// build their own with remediate.Config.KillGrace set.
	Probe      *usage.Probe
	Locator    *joblocate.Locator
	Remediator *remediate.Remediator

	// CacheDir is the absolute cache root measured and cleaned on
	// every worker.
	CacheDir string

	// ThresholdPercent is the usage at or above which a worker is
	// remediated.
	ThresholdPercent float64

	// Concurrency caps simultaneous tasks. Zero selects
	// DefaultConcurrency.
	Concurrency int

	// Timeout bounds the whole pass. Zero selects DefaultTimeout.
	Timeout time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Orchestrator runs fleet passes. A single Orchestrator may run
// several passes, sequentially or concurrently.
type Orchestrator struct {
	dialer     remote.Dialer
	probe      *usage.Probe
	locator    *joblocate.Locator
	remediator *remediate.Remediator

	cacheDir         string
	thresholdPercent float64
	concurrency      int
	timeout          time.Duration

	clock  clock.Clock
	logger *slog.Logger
}

// New applies defaults. Validation happens in Run so that a bad
// configuration is reported the same way whichever caller built it.
func New(config Config) *Orchestrator {
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	probe := config.Probe
	if probe == nil {
		probe = usage.NewProbe(usage.DefaultTolerance, clk)
	}
	locator := config.Locator
	if locator == nil {
		locator = joblocate.New(joblocate.Config{Logger: logger})
	}
	remediator := config.Remediator
	if remediator == nil {
		remediator = remediate.New(remediate.Config{Logger: logger})
	}
	concurrency := config.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Orchestrator{
		dialer:           config.Dialer,
		probe:            probe,
		locator:          locator,
		remediator:       remediator,
		cacheDir:         config.CacheDir,
		thresholdPercent: config.ThresholdPercent,
		concurrency:      concurrency,
		timeout:          timeout,
		clock:            clk,
		logger:           logger,
	}
}

// Run executes one pass over targets. The returned error is non-nil
// only for misconfiguration found before any task starts; every
// per-worker failure is an entry in the report.
func (o *Orchestrator) Run(ctx context.Context, targets []Target) (Report, error) {
	if err := o.validate(targets); err != nil {
		return Report{}, err
	}

	report := Report{
		RunID:            uuid.NewString(),
		CacheDir:         o.cacheDir,
		ThresholdPercent: o.thresholdPercent,
		DryRun:           o.remediator.DryRun(),
		StartedAt:        o.clock.Now(),
	}
	logger := o.logger.With("run_id", report.RunID)
	logger.Info("fleet pass starting",
		"workers", len(targets),
		"cache_dir", o.cacheDir,
		"threshold_percent", o.thresholdPercent,
		"concurrency", o.concurrency,
		"timeout", o.timeout,
		"dry_run", report.DryRun,
	)

	passContext, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	slots := make([]Entry, len(targets))
	var group errgroup.Group
	group.SetLimit(o.concurrency)
	for index, target := range targets {
		// Go blocks while the limit is reached, which is the queue.
		group.Go(func() error {
			slots[index] = o.runTask(passContext, logger, target)
			return nil
		})
	}
	group.Wait()

	report.FinishedAt = o.clock.Now()
	report.Hosts = make(map[string]Entry, len(slots))
	for _, entry := range slots {
		report.Hosts[entry.Host] = entry
	}

	summary := report.Summary()
	attributes := []any{"workers", len(targets), "duration", report.Duration()}
	for _, status := range Statuses {
		if count := summary[status]; count > 0 {
			attributes = append(attributes, string(status), count)
		}
	}
	logger.Info("fleet pass finished", attributes...)
	return report, nil
}

func (o *Orchestrator) validate(targets []Target) error {
	if o.dialer == nil {
		return fmt.Errorf("no dialer configured")
	}
	if len(targets) == 0 {
		return fmt.Errorf("no workers configured")
	}
	if err := threshold.Validate(o.thresholdPercent); err != nil {
		return err
	}
	if o.cacheDir == "" {
		return fmt.Errorf("cache directory is not set")
	}
	if !path.IsAbs(o.cacheDir) || path.Clean(o.cacheDir) == "/" {
		return fmt.Errorf("cache directory %q must be an absolute path below /", o.cacheDir)
	}
	seen := make(map[string]bool, len(targets))
	for _, target := range targets {
		if target.Host == "" {
			return fmt.Errorf("worker with empty host")
		}
		if seen[target.Host] {
			return fmt.Errorf("worker %q is listed more than once", target.Host)
		}
		seen[target.Host] = true
	}
	return nil
}

// runTask produces the entry for one worker and logs it.
func (o *Orchestrator) runTask(ctx context.Context, logger *slog.Logger, target Target) Entry {
	started := o.clock.Now()
	entry := o.evaluate(ctx, logger, target)
	entry.Duration = o.clock.Now().Sub(started)

	attributes := []any{"host", entry.Host, "status", entry.Status}
	if entry.Usage != nil {
		attributes = append(attributes, "used_percent", entry.Usage.UsedPercent)
	}
	if entry.Remediation != nil {
		attributes = append(attributes,
			"job_id", entry.Remediation.JobID,
			"killed", entry.Remediation.Killed,
			"cleaned", entry.Remediation.Cleaned,
		)
	}
	if entry.UsageAfter != nil {
		attributes = append(attributes, "used_percent_after", entry.UsageAfter.UsedPercent)
	}
	if entry.Error != nil {
		attributes = append(attributes, "error_kind", entry.Error.Kind, "error", entry.Error)
		logger.Warn("worker finished", attributes...)
	} else {
		logger.Info("worker finished", attributes...)
	}
	return entry
}

func (o *Orchestrator) evaluate(ctx context.Context, logger *slog.Logger, target Target) Entry {
	host := target.Host
	entry := Entry{Host: host}
	fail := func(err *fault.Error) Entry {
		entry.Status = StatusError
		entry.Error = err
		return entry
	}

	// A task dequeued after the deadline records the timeout without
	// opening a connection.
	if err := ctx.Err(); err != nil {
		return fail(fault.FromContext(host, "waiting for a task slot", err))
	}

	session, err := o.dialer.Open(ctx, target)
	if err != nil {
		return fail(fault.Classify(ctx, host, "open session", fault.Connection, err))
	}
	defer session.Close()

	reading, err := o.probe.Measure(ctx, session, o.cacheDir)
	if err != nil {
		return fail(fault.Classify(ctx, host, "measure "+o.cacheDir, fault.Probe, err))
	}
	entry.Usage = &reading
	entry.Decision = threshold.Decide(reading.UsedPercent, o.thresholdPercent)
	if entry.Decision == threshold.OK {
		entry.Status = StatusOK
		return entry
	}

	inventory, err := o.locator.Inventory(ctx, session, o.cacheDir)
	if err != nil {
		return fail(fault.Classify(ctx, host, "locate jobs", fault.Locator, err))
	}
	entry.Inventory = &inventory

	var outcome remediate.Outcome
	if len(inventory.Candidates) > 0 {
		outcome = o.remediator.Remediate(ctx, session, o.cacheDir, inventory.Candidates[0])
	} else {
		logger.Info("no running job owns the cache, cleaning orphans",
			"host", host,
			"orphans", len(inventory.Orphans),
			"skipped", len(inventory.Skipped),
			"shared", len(inventory.Shared),
		)
		outcome = o.remediator.CleanOrphans(ctx, session, o.cacheDir, inventory.Orphans)
	}
	entry.Remediation = &outcome

	switch {
	case outcome.Error != nil:
		entry.Status = StatusRemediationFailed
		entry.Error = outcome.Error
	case outcome.DryRun && (outcome.JobID != "" || len(outcome.CleanedPaths) > 0):
		entry.Status = StatusPlanned
	case outcome.Killed || outcome.Cleaned:
		entry.Status = StatusRemediated
	default:
		entry.Status = StatusUnresolved
	}

	if !outcome.DryRun && (outcome.Killed || outcome.Cleaned) {
		after, err := o.probe.Measure(ctx, session, o.cacheDir)
		if err != nil {
			logger.Warn("re-measuring after remediation failed", "host", host, "error", err)
		} else {
			entry.UsageAfter = &after
		}
	}
	return entry
}
