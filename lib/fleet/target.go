// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fleet

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bureau-foundation/cacheguard/lib/remote"
)

// Target is a fully resolved worker.
type Target = remote.Target

// DefaultWorkerPrefix names generated workers: worker01, worker02, ...
const DefaultWorkerPrefix = "worker"

// Defaults is the credential and connection shared by every worker
// that does not override it.
type Defaults struct {
	Port      int
	User      string
	KeyFile   string
	UseAgent  bool
	Transport remote.Transport
}

// WorkerSpec is one configured worker. Zero fields inherit Defaults.
type WorkerSpec struct {
	Host      string
	Port      int
	User      string
	KeyFile   string
	UseAgent  *bool
	Transport remote.Transport
}

// ExpandWorkers generates count worker names: prefix01 through
// prefixNN, zero-padded to at least two digits.
func ExpandWorkers(count int, prefix string) []string {
	if count <= 0 {
		return nil
	}
	if prefix == "" {
		prefix = DefaultWorkerPrefix
	}
	width := max(2, len(strconv.Itoa(count)))
	hosts := make([]string, count)
	for index := range count {
		hosts[index] = fmt.Sprintf("%s%0*d", prefix, width, index+1)
	}
	return hosts
}

// ParseWorkers interprets a --workers value: either a worker count
// expanded with ExpandWorkers, or a comma-separated host list.
func ParseWorkers(value, prefix string) ([]string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if count, err := strconv.Atoi(value); err == nil {
		if count <= 0 {
			return nil, fmt.Errorf("worker count must be positive, got %d", count)
		}
		return ExpandWorkers(count, prefix), nil
	}

	var hosts []string
	for _, host := range strings.Split(value, ",") {
		host = strings.TrimSpace(host)
		if host == "" {
			continue
		}
		hosts = append(hosts, host)
	}
	return hosts, nil
}

// ResolveTargets merges each worker with the defaults. The result is
// immutable: tasks receive a value and never consult shared settings.
// Hosts must be non-empty and unique.
func ResolveTargets(defaults Defaults, workers []WorkerSpec) ([]Target, error) {
	targets := make([]Target, 0, len(workers))
	seen := make(map[string]bool, len(workers))
	for index, worker := range workers {
		host := strings.TrimSpace(worker.Host)
		if host == "" {
			return nil, fmt.Errorf("worker %d has no host", index)
		}
		if seen[host] {
			return nil, fmt.Errorf("worker %q is listed more than once", host)
		}
		seen[host] = true

		target := Target{
			Host:      host,
			Port:      firstNonZero(worker.Port, defaults.Port),
			Transport: worker.Transport,
			Credential: remote.Credential{
				User:     firstNonEmpty(worker.User, defaults.User),
				KeyFile:  firstNonEmpty(worker.KeyFile, defaults.KeyFile),
				UseAgent: defaults.UseAgent,
			},
		}
		if target.Transport == "" {
			target.Transport = defaults.Transport
		}
		if target.Transport == "" {
			target.Transport = remote.TransportSSH
		}
		if worker.UseAgent != nil {
			target.Credential.UseAgent = *worker.UseAgent
		}
		if target.Port < 0 || target.Port > 65535 {
			return nil, fmt.Errorf("worker %q: port %d out of range", host, target.Port)
		}
		targets = append(targets, target)
	}
	return targets, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}

func firstNonZero(values ...int) int {
	for _, value := range values {
		if value != 0 {
			return value
		}
	}
	return 0
}
