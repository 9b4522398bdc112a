// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func captureHelp(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buffer bytes.Buffer
	previous := helpOutput
	helpOutput = &buffer
	t.Cleanup(func() { helpOutput = previous })
	return &buffer
}

func TestExecuteDispatchesNestedSubcommands(t *testing.T) {
	var called string
	var received []string

	root := &Command{
		Name: "cacheguard",
		Subcommands: []*Command{
			{Name: "version", Run: func([]string) error { called = "version"; return nil }},
			{
				Name: "report",
				Subcommands: []*Command{
					{Name: "show", Run: func(args []string) error {
						called = "report show"
						received = args
						return nil
					}},
				},
			},
		},
	}

	if err := root.Execute([]string{"report", "show", "last.json"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if called != "report show" {
		t.Errorf("dispatched to %q, want %q", called, "report show")
	}
	if len(received) != 1 || received[0] != "last.json" {
		t.Errorf("args = %v, want [last.json]", received)
	}
}

func TestExecuteParsesFlags(t *testing.T) {
	var threshold float64
	var dryRun bool
	var positional []string

	command := &Command{
		Name: "sweep",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("sweep", pflag.ContinueOnError)
			flagSet.Float64Var(&threshold, "threshold", 80, "")
			flagSet.BoolVar(&dryRun, "dry-run", false, "")
			return flagSet
		},
		Run: func(args []string) error {
			positional = args
			return nil
		},
	}

	if err := command.Execute([]string{"--threshold", "90", "--dry-run", "extra"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if threshold != 90 || !dryRun {
		t.Errorf("threshold=%v dryRun=%v, want 90 true", threshold, dryRun)
	}
	if len(positional) != 1 || positional[0] != "extra" {
		t.Errorf("args = %v, want [extra]", positional)
	}
}

func TestExecuteUnknownCommandSuggests(t *testing.T) {
	captureHelp(t)
	root := &Command{
		Name: "cacheguard",
		Subcommands: []*Command{
			{Name: "sweep", Run: func([]string) error { return nil }},
			{Name: "check", Run: func([]string) error { return nil }},
		},
	}

	err := root.Execute([]string{"swep"})
	if err == nil {
		t.Fatal("Execute(swep) succeeded")
	}
	if !strings.Contains(err.Error(), `did you mean "sweep"`) {
		t.Errorf("error = %q, want a suggestion for sweep", err)
	}

	err = root.Execute([]string{"defragment"})
	if err == nil || strings.Contains(err.Error(), "did you mean") {
		t.Errorf("error = %v, want unknown command without suggestion", err)
	}
}

func TestExecuteUnknownFlagSuggests(t *testing.T) {
	command := &Command{
		Name: "sweep",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("sweep", pflag.ContinueOnError)
			flagSet.Int("concurrency", 16, "")
			return flagSet
		},
		Run: func([]string) error { return nil },
	}

	err := command.Execute([]string{"--concurency", "4"})
	if err == nil {
		t.Fatal("Execute with misspelled flag succeeded")
	}
	if !strings.Contains(err.Error(), "did you mean --concurrency?") {
		t.Errorf("error = %q, want suggestion --concurrency", err)
	}
}

func TestExecuteWithoutSubcommandPrintsHelp(t *testing.T) {
	help := captureHelp(t)
	root := &Command{
		Name:        "cacheguard",
		Description: "Keep YARN usercache disks below a threshold.",
		Subcommands: []*Command{
			{Name: "sweep", Summary: "Measure and remediate every worker"},
		},
	}

	if err := root.Execute(nil); err == nil {
		t.Error("Execute(nil) succeeded on a command that needs a subcommand")
	}
	output := help.String()
	for _, want := range []string{"Keep YARN usercache", "Usage:\n  cacheguard <command> [flags]", "sweep", "Measure and remediate"} {
		if !strings.Contains(output, want) {
			t.Errorf("help missing %q:\n%s", want, output)
		}
	}
}

func TestPrintHelpIncludesFlagsAndExamples(t *testing.T) {
	var concurrency int
	root := &Command{Name: "cacheguard"}
	command := &Command{
		Name:    "sweep",
		Summary: "Measure and remediate every worker",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("sweep", pflag.ContinueOnError)
			flagSet.IntVar(&concurrency, "concurrency", 16, "workers processed at once")
			return flagSet
		},
		Examples: []Example{{Description: "Plan only", Command: "cacheguard sweep --dry-run"}},
		Run:      func([]string) error { return nil },
		parent:   root,
	}

	var buffer bytes.Buffer
	command.PrintHelp(&buffer)
	output := buffer.String()
	for _, want := range []string{"cacheguard sweep [flags]", "--concurrency", "workers processed at once", "# Plan only", "cacheguard sweep --dry-run"} {
		if !strings.Contains(output, want) {
			t.Errorf("help missing %q:\n%s", want, output)
		}
	}
}

func TestHelpFlagShortCircuits(t *testing.T) {
	help := captureHelp(t)
	ran := false
	command := &Command{Name: "sweep", Summary: "sweep it", Run: func([]string) error { ran = true; return nil }}

	if err := command.Execute([]string{"--help"}); err != nil {
		t.Fatalf("Execute(--help): %v", err)
	}
	if ran {
		t.Error("Run called for --help")
	}
	if !strings.Contains(help.String(), "sweep it") {
		t.Errorf("help output = %q", help.String())
	}
}
