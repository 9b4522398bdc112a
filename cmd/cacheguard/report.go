// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/cacheguard/cmd/cacheguard/cli"
	"github.com/bureau-foundation/cacheguard/lib/codec"
	"github.com/bureau-foundation/cacheguard/lib/fleet"
)

type reportShowParams struct {
	displayParams
	FailedOnly bool `flag:"failed" desc:"show only workers that ended with an error"`
}

func reportCommand(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "report",
		Summary: "Inspect reports saved with --report-file",
		Subcommands: []*cli.Command{
			reportShowCommand(stdout),
		},
	}
}

func reportShowCommand(stdout io.Writer) *cli.Command {
	var params reportShowParams

	return &cli.Command{
		Name:    "show",
		Summary: "Render a saved report",
		Description: `Read a report written by "cacheguard sweep --report-file" and render it
as a table, or re-emit it as JSON. The format is taken from the file
extension: .json, .yaml, .cbor, each optionally compressed as .zst or .lz4.`,
		Usage: "cacheguard report show [flags] <file>",
		Examples: []cli.Example{
			{Description: "Show the last nightly sweep", Command: "cacheguard report show /var/log/cacheguard/last.cbor.zst"},
			{Description: "List failed workers as JSON", Command: "cacheguard report show --failed --json last.json"},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("show", &params)
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one report file, got %d arguments", len(args))
			}
			return runReportShow(stdout, args[0], &params)
		},
	}
}

func runReportShow(stdout io.Writer, path string, params *reportShowParams) error {
	var report fleet.Report
	if err := codec.ReadFile(path, &report); err != nil {
		return err
	}

	if params.FailedOnly {
		failed := make(map[string]fleet.Entry)
		for _, host := range report.Failed() {
			failed[host] = report.Hosts[host]
		}
		report.Hosts = failed
	}

	if done, err := params.EmitJSON(stdout, report); done {
		return err
	}
	return renderReport(stdout, report, params.Color)
}
