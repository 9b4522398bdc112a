// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package remediate kills the job responsible for a full cache
// filesystem and removes its temporary files.
//
// Remediation is two steps that tolerate each other's failure: the
// kill may fail because the application already finished, and the
// directory is removed regardless. A successful kill is followed by a
// grace period so the containers can exit first. Removal is
// idempotent; a path that is already gone counts as cleaned. No path
// outside the cache root is ever passed to rm.
package remediate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/bureau-foundation/cacheguard/lib/clock"
	"github.com/bureau-foundation/cacheguard/lib/fault"
	"github.com/bureau-foundation/cacheguard/lib/joblocate"
	"github.com/bureau-foundation/cacheguard/lib/remote"
)

// DefaultKillCommand is followed by the application ID.
const DefaultKillCommand = "yarn application -kill"

// DefaultKillGrace is how long containers of a killed application
// usually take to exit and release their files.
const DefaultKillGrace = 5 * time.Second

// removedMarker is printed by the clean command only when it deleted
// something, distinguishing "removed" from "already absent".
const removedMarker = "cacheguard:removed"

// Outcome records what a remediation did on one worker.
type Outcome struct {
	Host  string `json:"host" yaml:"host"`
	JobID string `json:"job_id,omitempty" yaml:"job_id,omitempty"`
	Path  string `json:"path,omitempty" yaml:"path,omitempty"`

	Killed  bool `json:"killed" yaml:"killed"`
	Cleaned bool `json:"cleaned" yaml:"cleaned"`

	// CleanedPaths lists directories that existed and were removed, or
	// in dry-run mode would have been.
	CleanedPaths []string `json:"cleaned_paths,omitempty" yaml:"cleaned_paths,omitempty"`

	DryRun bool         `json:"dry_run,omitempty" yaml:"dry_run,omitempty"`
	Error  *fault.Error `json:"error,omitempty" yaml:"error,omitempty"`
}

// Config configures a Remediator.
type Config struct {
	// KillCommand terminates an application; the quoted application
	// ID is appended.
	KillCommand string
	// KillGrace is waited after a successful kill before the directory
	// is removed. Zero, the default here, removes immediately;
	// DefaultKillGrace is what the configuration file defaults to.
	KillGrace time.Duration
	// DryRun records intended actions without running them.
	DryRun bool
	Clock  clock.Clock
	Logger *slog.Logger
}

// Remediator runs kill and clean commands. It holds no per-worker
// state and is shared by all tasks of a pass.
type Remediator struct {
	killCommand string
	killGrace   time.Duration
	dryRun      bool
	clock       clock.Clock
	logger      *slog.Logger
}

// New returns a Remediator with defaults applied.
func New(config Config) *Remediator {
	if config.KillCommand == "" {
		config.KillCommand = DefaultKillCommand
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	return &Remediator{
		killCommand: config.KillCommand,
		killGrace:   config.KillGrace,
		dryRun:      config.DryRun,
		clock:       config.Clock,
		logger:      logger,
	}
}

// DryRun reports whether the remediator only plans.
func (r *Remediator) DryRun() bool { return r.dryRun }

// Remediate kills candidate's application and removes its directory.
// Failures are recorded in the outcome, never returned.
func (r *Remediator) Remediate(ctx context.Context, session remote.Session, cacheDir string, candidate joblocate.JobCandidate) Outcome {
	host := session.Host()
	outcome := Outcome{Host: host, JobID: candidate.JobID, Path: candidate.Path, DryRun: r.dryRun}

	if err := checkContained(cacheDir, candidate.Path); err != nil {
		outcome.Error = fault.New(fault.Remediation, host, "clean "+candidate.Path, err).WithJob(candidate.JobID)
		return outcome
	}

	if r.dryRun {
		outcome.CleanedPaths = []string{candidate.Path}
		r.logger.Info("dry run: would kill application and remove its cache",
			"host", host,
			"job_id", candidate.JobID,
			"path", candidate.Path,
			"size_bytes", candidate.EstimatedSizeBytes,
		)
		return outcome
	}

	var failures []error
	if err := r.Kill(ctx, session, candidate.JobID); err != nil {
		failures = append(failures, err)
		r.logger.Warn("kill failed, cleaning anyway",
			"host", host,
			"job_id", candidate.JobID,
			"error", err,
		)
	} else {
		outcome.Killed = true
		if err := r.waitGrace(ctx); err != nil {
			outcome.Error = fault.FromContext(host, "waiting for "+candidate.JobID+" to exit", err).WithJob(candidate.JobID)
			return outcome
		}
	}

	removed, err := r.Clean(ctx, session, cacheDir, candidate.Path)
	if err != nil {
		failures = append(failures, err)
	} else {
		outcome.Cleaned = true
		if removed {
			outcome.CleanedPaths = []string{candidate.Path}
		}
	}

	outcome.Error = combine(ctx, host, candidate.JobID, failures)
	r.logger.Info("remediation finished",
		"host", host,
		"job_id", candidate.JobID,
		"path", candidate.Path,
		"killed", outcome.Killed,
		"cleaned", outcome.Cleaned,
	)
	return outcome
}

// waitGrace blocks for the kill grace period or until ctx ends.
func (r *Remediator) waitGrace(ctx context.Context) error {
	if r.killGrace <= 0 {
		return nil
	}
	select {
	case <-r.clock.After(r.killGrace):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CleanOrphans removes cache entries attributed to no running
// application. Nothing is killed. Cleaned is true when at least one
// entry existed and was removed.
func (r *Remediator) CleanOrphans(ctx context.Context, session remote.Session, cacheDir string, orphans []joblocate.CacheEntry) Outcome {
	host := session.Host()
	outcome := Outcome{Host: host, DryRun: r.dryRun}

	var failures []error
	for _, orphan := range orphans {
		if err := checkContained(cacheDir, orphan.Path); err != nil {
			failures = append(failures, fault.New(fault.Remediation, host, "clean "+orphan.Path, err))
			continue
		}
		if r.dryRun {
			outcome.CleanedPaths = append(outcome.CleanedPaths, orphan.Path)
			continue
		}
		removed, err := r.Clean(ctx, session, cacheDir, orphan.Path)
		if err != nil {
			failures = append(failures, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if removed {
			outcome.CleanedPaths = append(outcome.CleanedPaths, orphan.Path)
		}
	}

	outcome.Cleaned = !r.dryRun && len(outcome.CleanedPaths) > 0
	outcome.Error = combine(ctx, host, "", failures)

	if r.dryRun {
		r.logger.Info("dry run: would remove orphaned cache entries",
			"host", host,
			"paths", outcome.CleanedPaths,
		)
	} else {
		r.logger.Info("orphan cleanup finished",
			"host", host,
			"orphans", len(orphans),
			"removed", len(outcome.CleanedPaths),
		)
	}
	return outcome
}

// Kill asks the resource manager to terminate jobID.
func (r *Remediator) Kill(ctx context.Context, session remote.Session, jobID string) error {
	host := session.Host()
	op := "kill " + jobID
	if jobID == "" {
		return fault.New(fault.Remediation, host, "kill", errors.New("no application ID"))
	}
	result, err := session.Run(ctx, r.killCommand+" "+remote.Quote(jobID))
	if err != nil {
		return fault.Classify(ctx, host, op, fault.Remediation, err).WithJob(jobID)
	}
	if err := result.Err(host, op); err != nil {
		return fault.New(fault.Remediation, host, op, err).WithJob(jobID)
	}
	return nil
}

// Clean removes target and everything under it. A target that does
// not exist is success with removed false. target must lie strictly
// below cacheDir.
func (r *Remediator) Clean(ctx context.Context, session remote.Session, cacheDir, target string) (removed bool, err error) {
	host := session.Host()
	op := "clean " + target
	if err := checkContained(cacheDir, target); err != nil {
		return false, fault.New(fault.Remediation, host, op, err)
	}

	quoted := remote.Quote(target)
	command := "if [ -e " + quoted + " ]; then rm -rf -- " + quoted + " && echo " + removedMarker + "; fi"
	result, err := session.Run(ctx, command)
	if err != nil {
		return false, fault.Classify(ctx, host, op, fault.Remediation, err)
	}
	if err := result.Err(host, op); err != nil {
		return false, fault.New(fault.Remediation, host, op, err)
	}
	return strings.Contains(result.Stdout, removedMarker), nil
}

// checkContained rejects any target that is not strictly below the
// absolute directory root after lexical cleaning.
func checkContained(root, target string) error {
	if root == "" || !path.IsAbs(root) {
		return fmt.Errorf("cache directory %q is not absolute", root)
	}
	cleanRoot := path.Clean(root)
	if cleanRoot == "/" {
		return fmt.Errorf("refusing to clean under the filesystem root")
	}
	if target == "" || !path.IsAbs(target) {
		return fmt.Errorf("path %q is not absolute", target)
	}
	cleanTarget := path.Clean(target)
	if !strings.HasPrefix(cleanTarget, cleanRoot+"/") {
		return fmt.Errorf("path %q is not below cache directory %q", target, root)
	}
	return nil
}

// combine folds step failures into one Remediation fault. When the
// pass deadline caused them the fault is a Timeout or Canceled fault
// instead.
func combine(ctx context.Context, host, jobID string, failures []error) *fault.Error {
	if len(failures) == 0 {
		return nil
	}
	if len(failures) == 1 {
		if existing := fault.As(failures[0]); existing != nil {
			if jobID != "" && existing.JobID == "" {
				existing.WithJob(jobID)
			}
			return existing
		}
	}

	joined := errors.Join(failures...)
	combined := fault.Classify(ctx, host, "remediate", fault.Remediation, joined)
	if combined.Kind != fault.Timeout && combined.Kind != fault.Canceled {
		combined = fault.New(fault.Remediation, host, "remediate", joined)
		messages := make([]string, len(failures))
		for index, failure := range failures {
			messages[index] = failure.Error()
		}
		combined.Message = strings.Join(messages, "; ")
	}
	if jobID != "" {
		combined.WithJob(jobID)
	}
	return combined
}
