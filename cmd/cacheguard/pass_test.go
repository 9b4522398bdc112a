// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/cacheguard/cmd/cacheguard/cli"
	"github.com/bureau-foundation/cacheguard/lib/codec"
	"github.com/bureau-foundation/cacheguard/lib/config"
	"github.com/bureau-foundation/cacheguard/lib/fault"
	"github.com/bureau-foundation/cacheguard/lib/fleet"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cacheguard.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

// localFleetConfig describes two workers reached through the local
// transport, both measuring cacheDir on the test machine.
func localFleetConfig(t *testing.T, cacheDir string) string {
	t.Helper()
	return writeConfig(t, `
cache_dir: `+cacheDir+`
workers:
  - host: local-a
    transport: local
  - host: local-b
    transport: local
jobs:
  list_command: "true"
`)
}

func decodeReport(t *testing.T, output []byte) fleet.Report {
	t.Helper()
	var report fleet.Report
	if err := json.Unmarshal(output, &report); err != nil {
		t.Fatalf("decoding report: %v\n%s", err, output)
	}
	return report
}

func TestSweepLocalFleetBelowThreshold(t *testing.T) {
	t.Setenv(config.EnvVar, "")
	cacheDir := t.TempDir()
	configPath := localFleetConfig(t, cacheDir)

	var stdout bytes.Buffer
	err := rootCommand(&stdout).Execute([]string{"sweep", "--config", configPath, "--threshold", "100", "--json"})
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}

	report := decodeReport(t, stdout.Bytes())
	if len(report.Hosts) != 2 {
		t.Fatalf("report has %d hosts, want 2: %v", len(report.Hosts), report.SortedHosts())
	}
	if report.CacheDir != cacheDir || report.ThresholdPercent != 100 || report.RunID == "" {
		t.Errorf("report metadata = %q %v %q", report.CacheDir, report.ThresholdPercent, report.RunID)
	}
	for _, host := range []string{"local-a", "local-b"} {
		entry := report.Hosts[host]
		if entry.Status != fleet.StatusOK || entry.Usage == nil || entry.Usage.TotalBytes == 0 {
			t.Errorf("%s: entry = %+v, want ok with a reading", host, entry)
		}
	}
}

func TestCheckNeverRemediates(t *testing.T) {
	t.Setenv(config.EnvVar, "")
	cacheDir := t.TempDir()
	configPath := localFleetConfig(t, cacheDir)
	reportPath := filepath.Join(t.TempDir(), "check.yaml.zst")

	var stdout bytes.Buffer
	err := rootCommand(&stdout).Execute([]string{
		"check", "--config", configPath, "--threshold", "0", "--report-file", reportPath,
	})
	if err != nil {
		t.Fatalf("check: %v", err)
	}

	var report fleet.Report
	if err := codec.ReadFile(reportPath, &report); err != nil {
		t.Fatalf("reading saved report: %v", err)
	}
	if !report.DryRun {
		t.Error("check produced a report that is not a dry run")
	}
	for host, entry := range report.Hosts {
		if entry.Status != fleet.StatusUnresolved || entry.Error != nil {
			t.Errorf("%s: entry = %+v, want unresolved without error on an empty cache", host, entry)
		}
	}

	text := stdout.String()
	for _, want := range []string{"local-a", "local-b", "unresolved", "nothing to remove", "dry run"} {
		if !strings.Contains(text, want) {
			t.Errorf("table output missing %q:\n%s", want, text)
		}
	}
}

func TestSweepFailOnError(t *testing.T) {
	t.Setenv(config.EnvVar, "")
	cacheDir := t.TempDir()
	configPath := writeConfig(t, `
cache_dir: `+cacheDir+`
ssh:
  insecure_ignore_host_key: true
  key_file: `+filepath.Join(t.TempDir(), "missing_key")+`
workers:
  - host: local-a
    transport: local
  - host: 127.0.0.1
    port: 1
`)

	var stdout bytes.Buffer
	err := rootCommand(&stdout).Execute([]string{"sweep", "--config", configPath, "--threshold", "100", "--json", "--fail-on-error"})

	var exitError *cli.ExitError
	if !errors.As(err, &exitError) || exitError.Code != failedExitCode {
		t.Fatalf("err = %v, want exit code %d", err, failedExitCode)
	}

	report := decodeReport(t, stdout.Bytes())
	if !slices.Equal(report.Failed(), []string{"127.0.0.1"}) {
		t.Errorf("Failed() = %v, want [127.0.0.1]", report.Failed())
	}
	failed := report.Hosts["127.0.0.1"]
	if failed.Error == nil || failed.Error.Kind != fault.Connection || failed.Error.Reason != fault.ReasonCredential {
		t.Errorf("entry = %+v, want a credential connection fault", failed)
	}
	if report.Hosts["local-a"].Status != fleet.StatusOK {
		t.Errorf("local-a = %+v, want ok despite the other worker failing", report.Hosts["local-a"])
	}
}

func TestSweepWithoutFailOnErrorExitsCleanly(t *testing.T) {
	t.Setenv(config.EnvVar, "")
	configPath := writeConfig(t, `
cache_dir: /var/hadoop/data/usercache
ssh:
  insecure_ignore_host_key: true
  key_file: `+filepath.Join(t.TempDir(), "missing_key")+`
workers:
  - host: 127.0.0.1
    port: 1
`)

	var stdout bytes.Buffer
	if err := rootCommand(&stdout).Execute([]string{"sweep", "--config", configPath, "--json"}); err != nil {
		t.Fatalf("sweep with a failed worker returned %v, want nil", err)
	}
	if report := decodeReport(t, stdout.Bytes()); report.Hosts["127.0.0.1"].Status != fleet.StatusError {
		t.Errorf("entry = %+v, want error", report.Hosts["127.0.0.1"])
	}
}

func TestFlagsOverrideConfig(t *testing.T) {
	t.Setenv(config.EnvVar, "")
	configPath := writeConfig(t, `
cache_dir: /data/usercache
threshold_percent: 85
concurrency: 8
worker_count: 3
`)

	var params passParams
	flagSet := cli.FlagsFromParams("sweep", &params)
	err := flagSet.Parse([]string{
		"--config", configPath,
		"--workers", "4",
		"--worker-prefix", "dn",
		"--ssh-user", "yarn",
		"--threshold", "0",
		"--timeout", "2m",
		"--dry-run",
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	cfg, err := resolveConfig(&params.connectionParams, flagSet)
	if err != nil {
		t.Fatalf("resolveConfig: %v", err)
	}
	params.applyTo(cfg, flagSet)

	if cfg.ThresholdPercent != 0 {
		t.Errorf("ThresholdPercent = %v, want the explicit 0", cfg.ThresholdPercent)
	}
	if cfg.Concurrency != 8 {
		t.Errorf("Concurrency = %d, want 8 from the file", cfg.Concurrency)
	}
	if cfg.Timeout != 2*time.Minute || !cfg.DryRun || cfg.CacheDir != "/data/usercache" {
		t.Errorf("cfg = timeout %v dry-run %v cache %q", cfg.Timeout, cfg.DryRun, cfg.CacheDir)
	}
	if cfg.SSH.User != "yarn" {
		t.Errorf("SSH.User = %q, want yarn", cfg.SSH.User)
	}

	targets, err := cfg.Targets()
	if err != nil {
		t.Fatalf("Targets: %v", err)
	}
	var hosts []string
	for _, target := range targets {
		hosts = append(hosts, target.Host)
		if target.Credential.User != "yarn" {
			t.Errorf("%s: user = %q, want yarn", target.Host, target.Credential.User)
		}
	}
	if !slices.Equal(hosts, []string{"dn01", "dn02", "dn03", "dn04"}) {
		t.Errorf("hosts = %v, want dn01..dn04", hosts)
	}
}

func TestSweepRejectsBadInput(t *testing.T) {
	t.Setenv(config.EnvVar, "")
	configPath := writeConfig(t, "worker_count: 2\nssh:\n  insecure_ignore_host_key: true\n")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"threshold out of range", []string{"--threshold", "120"}, "threshold_percent"},
		{"relative cache dir", []string{"--cache-dir", "usercache"}, "cache_dir"},
		{"report format", []string{"--report-file", "report.txt"}, "--report-file"},
		{"zero workers", []string{"--workers", "0"}, "--workers"},
		{"positional argument", []string{"worker01"}, "unexpected argument"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			args := append([]string{"sweep", "--config", configPath}, test.args...)
			err := rootCommand(&bytes.Buffer{}).Execute(args)
			if err == nil || !strings.Contains(err.Error(), test.want) {
				t.Errorf("err = %v, want mention of %q", err, test.want)
			}
		})
	}
}

func TestConfigCheckListsTargets(t *testing.T) {
	t.Setenv(config.EnvVar, "")
	configPath := writeConfig(t, `
ssh:
  user: hadoop
  insecure_ignore_host_key: true
workers:
  - host: worker01
  - host: worker02
    port: 2222
    user: yarn
  - host: edge
    transport: local
`)

	var stdout bytes.Buffer
	if err := rootCommand(&stdout).Execute([]string{"config", "check", "--config", configPath}); err != nil {
		t.Fatalf("config check: %v", err)
	}
	output := stdout.String()
	for _, want := range []string{"Configuration valid", "Workers (3)", "hadoop@worker01:22", "yarn@worker02:2222", "edge"} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	var stdout bytes.Buffer
	if err := rootCommand(&stdout).Execute([]string{"version"}); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(stdout.String(), "cacheguard ") {
		t.Errorf("output = %q", stdout.String())
	}
}
