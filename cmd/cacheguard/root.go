// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"

	"github.com/bureau-foundation/cacheguard/cmd/cacheguard/cli"
	"github.com/bureau-foundation/cacheguard/lib/version"
)

// rootCommand builds the command tree. Results are written to stdout;
// help and logs go to stderr.
func rootCommand(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name: "cacheguard",
		Description: `cacheguard: YARN usercache disk guard.

Measures the usercache filesystem on every worker of a cluster and, on
workers at or above the threshold, kills the running application with
the largest cache footprint and removes its directory. One invocation
is one pass; schedule it with cron or a systemd timer.`,
		Subcommands: []*cli.Command{
			passCommand(stdout, "sweep", false),
			passCommand(stdout, "check", true),
			reportCommand(stdout),
			configCommand(stdout),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					if len(args) > 0 {
						return fmt.Errorf("unexpected argument: %s", args[0])
					}
					fmt.Fprintf(stdout, "cacheguard %s\n", version.Full())
					return nil
				},
			},
		},
	}
}
