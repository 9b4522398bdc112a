// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/cacheguard/cmd/cacheguard/cli"
	"github.com/bureau-foundation/cacheguard/lib/codec"
	"github.com/bureau-foundation/cacheguard/lib/config"
	"github.com/bureau-foundation/cacheguard/lib/fleet"
	"github.com/bureau-foundation/cacheguard/lib/joblocate"
	"github.com/bureau-foundation/cacheguard/lib/remediate"
	"github.com/bureau-foundation/cacheguard/lib/remote"
	"github.com/bureau-foundation/cacheguard/lib/usage"
)

// failedExitCode is returned with --fail-on-error when any worker
// ended with an error.
const failedExitCode = 2

// connectionParams selects the configuration and overrides the worker
// set and credentials. Shared by every command that resolves targets.
type connectionParams struct {
	Config       string `flag:"config,c" desc:"config file (YAML, or JSON with comments); defaults to $CACHEGUARD_CONFIG"`
	Workers      string `flag:"workers,w" desc:"worker count expanded with --worker-prefix, or a comma-separated host list"`
	WorkerPrefix string `flag:"worker-prefix" desc:"host name prefix for a worker count"`
	SSHUser      string `flag:"ssh-user" desc:"remote user for every worker"`
	SSHKey       string `flag:"ssh-key" desc:"private key file for every worker"`

	InsecureIgnoreHostKey bool `flag:"insecure-ignore-host-key" desc:"accept any worker host key (refused in production)"`
}

// passParams holds the flags of sweep and check.
type passParams struct {
	displayParams
	connectionParams

	CacheDir    string        `flag:"cache-dir" desc:"usercache root on every worker"`
	Threshold   float64       `flag:"threshold,t" desc:"usage percent at or above which a worker is remediated"`
	Concurrency int           `flag:"concurrency" desc:"workers processed at once"`
	Timeout     time.Duration `flag:"timeout" desc:"deadline for the whole pass"`
	DryRun      bool          `flag:"dry-run,n" desc:"plan remediation without killing or deleting anything"`
	ReportFile  string        `flag:"report-file,o" desc:"also write the report to this file (.json, .yaml, .cbor, optionally .zst or .lz4)"`
	FailOnError bool          `flag:"fail-on-error" desc:"exit 2 when any worker ended with an error"`
	Verbose     bool          `flag:"verbose,v" desc:"log SSH connection details"`
}

func passCommand(stdout io.Writer, name string, planOnly bool) *cli.Command {
	var params passParams
	var flagSet *pflag.FlagSet

	command := &cli.Command{
		Name: name,
		Flags: func() *pflag.FlagSet {
			flagSet = cli.FlagsFromParams(name, &params)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			return runPass(stdout, name, &params, flagSet, planOnly)
		},
	}

	if planOnly {
		command.Summary = "Measure every worker and report what a sweep would do"
		command.Description = `Run a fleet pass in dry-run mode: measure the usercache filesystem on
every worker and, for workers at or above the threshold, report which
application would be killed and which directories removed. Nothing is
changed on any worker.`
		command.Examples = []cli.Example{
			{Description: "Preview a sweep of worker01..worker12", Command: "cacheguard check --workers 12"},
			{Description: "Preview with a lower threshold, as JSON", Command: "cacheguard check --threshold 70 --json"},
		}
		return command
	}

	command.Summary = "Measure every worker and remediate those over the threshold"
	command.Description = `Run one fleet pass. Every worker is measured concurrently; a worker at
or above the threshold has the running application with the largest
usercache footprint killed and its directory removed. When no running
application owns the cache, directories left by finished applications
are removed instead.

A worker that cannot be reached or measured is reported and does not
stop the pass. The exit status is 0 whenever the pass ran, unless
--fail-on-error is set.`
	command.Examples = []cli.Example{
		{Description: "Sweep the workers listed in the config file", Command: "cacheguard sweep --config /etc/cacheguard/cacheguard.yaml"},
		{Description: "Sweep three named hosts and keep a compressed report", Command: "cacheguard sweep --workers node-a,node-b,node-c --report-file /var/log/cacheguard/last.json.zst"},
		{Description: "Fail a cron job when any worker errored", Command: "cacheguard sweep --fail-on-error"},
	}
	return command
}

func runPass(stdout io.Writer, name string, params *passParams, flagSet *pflag.FlagSet, planOnly bool) error {
	cfg, err := resolveConfig(&params.connectionParams, flagSet)
	if err != nil {
		return err
	}
	params.applyTo(cfg, flagSet)
	if planOnly {
		cfg.DryRun = true
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}
	if params.ReportFile != "" {
		if _, _, err := codec.FormatFor(params.ReportFile); err != nil {
			return fmt.Errorf("--report-file: %w", err)
		}
	}
	if _, err := colorProfile(params.Color); err != nil {
		return err
	}

	targets, err := cfg.Targets()
	if err != nil {
		return err
	}

	logger := cli.NewCommandLogger(params.Verbose).With("command", name)
	orchestrator, err := newOrchestrator(cfg, targets, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := orchestrator.Run(ctx, targets)
	if err != nil {
		return err
	}

	if params.ReportFile != "" {
		if err := codec.WriteFile(params.ReportFile, report); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
		logger.Info("report written", "path", params.ReportFile)
	}

	if done, err := params.EmitJSON(stdout, report); done {
		if err != nil {
			return err
		}
	} else if err := renderReport(stdout, report, params.Color); err != nil {
		return err
	}

	if params.FailOnError && len(report.Failed()) > 0 {
		return &cli.ExitError{Code: failedExitCode}
	}
	return nil
}

// resolveConfig loads the configuration and applies the connection
// flags that were given on the command line.
func resolveConfig(params *connectionParams, flagSet *pflag.FlagSet) (*config.Config, error) {
	cfg, err := config.Resolve(params.Config)
	if err != nil {
		return nil, err
	}

	if flagSet.Changed("worker-prefix") {
		cfg.WorkerPrefix = params.WorkerPrefix
	}
	if flagSet.Changed("workers") {
		hosts, err := fleet.ParseWorkers(params.Workers, cfg.WorkerPrefix)
		if err != nil {
			return nil, fmt.Errorf("--workers: %w", err)
		}
		if len(hosts) == 0 {
			return nil, fmt.Errorf("--workers: no hosts given")
		}
		cfg.SetWorkers(hosts)
	}
	if flagSet.Changed("ssh-user") {
		cfg.SSH.User = params.SSHUser
	}
	if flagSet.Changed("ssh-key") {
		cfg.SSH.KeyFile = params.SSHKey
	}
	if flagSet.Changed("insecure-ignore-host-key") {
		cfg.SSH.InsecureIgnoreHostKey = params.InsecureIgnoreHostKey
	}
	return cfg, nil
}

// applyTo overrides pass settings with explicitly given flags. Unset
// flags leave the file's value alone, so a zero threshold on the
// command line is still honored.
func (p *passParams) applyTo(cfg *config.Config, flagSet *pflag.FlagSet) {
	if flagSet.Changed("cache-dir") {
		cfg.CacheDir = p.CacheDir
	}
	if flagSet.Changed("threshold") {
		cfg.ThresholdPercent = p.Threshold
	}
	if flagSet.Changed("concurrency") {
		cfg.Concurrency = p.Concurrency
	}
	if flagSet.Changed("timeout") {
		cfg.Timeout = p.Timeout
	}
	if flagSet.Changed("dry-run") {
		cfg.DryRun = p.DryRun
	}
}

// newOrchestrator wires the library packages from a validated
// configuration. The SSH dialer is only built when some target needs
// it, so an all-local fleet runs without a known_hosts file.
func newOrchestrator(cfg *config.Config, targets []fleet.Target, logger *slog.Logger) (*fleet.Orchestrator, error) {
	router := remote.Router{Local: remote.LocalDialer{}}
	for _, target := range targets {
		if target.Transport != remote.TransportSSH {
			continue
		}
		if cfg.SSH.InsecureIgnoreHostKey {
			logger.Warn("host key verification is disabled")
		}
		dialer, err := remote.NewSSHDialer(remote.SSHConfig{
			KnownHostsFile:        cfg.SSH.KnownHostsFile,
			InsecureIgnoreHostKey: cfg.SSH.InsecureIgnoreHostKey,
			ConnectTimeout:        cfg.SSH.ConnectTimeout,
			DialRate:              cfg.DialRate,
			Logger:                logger,
		})
		if err != nil {
			return nil, err
		}
		router.SSH = dialer
		break
	}

	return fleet.New(fleet.Config{
		Dialer: router,
		Probe:  usage.NewProbe(cfg.PercentTolerance, nil),
		Locator: joblocate.New(joblocate.Config{
			ListCommand:  cfg.Jobs.ListCommand,
			NamePrefix:   cfg.Jobs.NamePrefix,
			OrphanMinAge: cfg.Jobs.OrphanMinAge,
			Logger:       logger,
		}),
		Remediator: remediate.New(remediate.Config{
			KillCommand: cfg.Jobs.KillCommand,
			KillGrace:   cfg.Jobs.KillGrace,
			DryRun:      cfg.DryRun,
			Logger:      logger,
		}),
		CacheDir:         cfg.CacheDir,
		ThresholdPercent: cfg.ThresholdPercent,
		Concurrency:      cfg.Concurrency,
		Timeout:          cfg.Timeout,
		Logger:           logger,
	}), nil
}
