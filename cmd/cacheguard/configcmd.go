// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/cacheguard/cmd/cacheguard/cli"
	"github.com/bureau-foundation/cacheguard/lib/fleet"
	"github.com/bureau-foundation/cacheguard/lib/remote"
)

type configCheckParams struct {
	cli.JSONOutput
	connectionParams
}

// configCheckResult is the --json output of config check.
type configCheckResult struct {
	Environment      string         `json:"environment"`
	CacheDir         string         `json:"cache_dir"`
	ThresholdPercent float64        `json:"threshold_percent"`
	DryRun           bool           `json:"dry_run"`
	Targets          []fleet.Target `json:"targets"`
}

func configCommand(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "config",
		Summary: "Validate configuration",
		Subcommands: []*cli.Command{
			configCheckCommand(stdout),
		},
	}
}

func configCheckCommand(stdout io.Writer) *cli.Command {
	var params configCheckParams
	var flagSet *pflag.FlagSet

	return &cli.Command{
		Name:    "check",
		Summary: "Load and validate the configuration and list the resolved workers",
		Description: `Resolve the configuration exactly as sweep would (file, environment
section, variable expansion, flags) and validate it. Prints every
resolved worker with its transport and login. No worker is contacted.`,
		Examples: []cli.Example{
			{Description: "Check the deployed config", Command: "cacheguard config check --config /etc/cacheguard/cacheguard.yaml"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet = cli.FlagsFromParams("check", &params)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			return runConfigCheck(stdout, &params, flagSet)
		},
	}
}

func runConfigCheck(stdout io.Writer, params *configCheckParams, flagSet *pflag.FlagSet) error {
	cfg, err := resolveConfig(&params.connectionParams, flagSet)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}
	targets, err := cfg.Targets()
	if err != nil {
		return err
	}

	result := configCheckResult{
		Environment:      string(cfg.Environment),
		CacheDir:         cfg.CacheDir,
		ThresholdPercent: cfg.ThresholdPercent,
		DryRun:           cfg.DryRun,
		Targets:          targets,
	}
	if done, err := params.EmitJSON(stdout, result); done {
		return err
	}

	fmt.Fprintf(stdout, "Configuration valid (%s)\n", result.Environment)
	fmt.Fprintf(stdout, "  Cache dir:  %s\n", result.CacheDir)
	fmt.Fprintf(stdout, "  Threshold:  %g%%\n", result.ThresholdPercent)
	if result.DryRun {
		fmt.Fprintf(stdout, "  Dry run:    yes\n")
	}
	fmt.Fprintf(stdout, "\nWorkers (%d):\n", len(targets))
	writer := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "  HOST\tTRANSPORT\tLOGIN\n")
	for _, target := range targets {
		login := "-"
		if target.Transport == remote.TransportSSH {
			login = target.Credential.User + "@" + target.Address()
		}
		fmt.Fprintf(writer, "  %s\t%s\t%s\n", target.Host, target.Transport, login)
	}
	return writer.Flush()
}
