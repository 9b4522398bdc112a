// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package joblocate

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/bureau-foundation/cacheguard/lib/fault"
	"github.com/bureau-foundation/cacheguard/lib/remote"
)

// Defaults for Config fields left zero.
const (
	DefaultListCommand  = "yarn application -list -appStates RUNNING"
	DefaultNamePrefix   = "spark-"
	DefaultOrphanMinAge = 10 * time.Minute
)

// JobCandidate is a cache entry attributed to a running application.
type JobCandidate struct {
	JobID              string `json:"job_id" yaml:"job_id"`
	Name               string `json:"name,omitempty" yaml:"name,omitempty"`
	User               string `json:"user,omitempty" yaml:"user,omitempty"`
	EstimatedSizeBytes uint64 `json:"estimated_size_bytes" yaml:"estimated_size_bytes"`
	Path               string `json:"path" yaml:"path"`
}

// CacheEntry is one immediate subdirectory of the cache root.
type CacheEntry struct {
	Name       string    `json:"name" yaml:"name"`
	Path       string    `json:"path" yaml:"path"`
	SizeBytes  uint64    `json:"size_bytes" yaml:"size_bytes"`
	ModifiedAt time.Time `json:"modified_at" yaml:"modified_at"`
}

// Inventory classifies every entry of a cache root.
type Inventory struct {
	// Candidates are attributed entries, largest first.
	Candidates []JobCandidate `json:"candidates,omitempty" yaml:"candidates,omitempty"`
	// Orphans are unattributed entries older than the orphan age.
	Orphans []CacheEntry `json:"orphans,omitempty" yaml:"orphans,omitempty"`
	// Skipped are unattributed entries too young to call orphaned.
	Skipped []CacheEntry `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	// Shared are user directories holding data of several running
	// applications. They are never candidates or orphans as a whole;
	// each application's appcache directory under them is a candidate
	// instead.
	Shared []CacheEntry `json:"shared,omitempty" yaml:"shared,omitempty"`
}

// Config configures a Locator.
type Config struct {
	// ListCommand prints the running applications in the tabular
	// format of "yarn application -list".
	ListCommand string
	// NamePrefix is prepended to an entry name when matching it
	// against application names.
	NamePrefix string
	// OrphanMinAge is how long an unattributed entry must have been
	// untouched, by the worker's clock, before it counts as orphaned.
	// Zero selects DefaultOrphanMinAge.
	OrphanMinAge time.Duration

	Logger *slog.Logger
}

// Locator attributes cache entries to running applications. It holds
// no per-worker state and is shared by all tasks of a pass.
type Locator struct {
	listCommand  string
	namePrefix   string
	orphanMinAge time.Duration
	logger       *slog.Logger
}

// New returns a Locator with defaults applied.
func New(config Config) *Locator {
	if config.ListCommand == "" {
		config.ListCommand = DefaultListCommand
	}
	if config.NamePrefix == "" {
		config.NamePrefix = DefaultNamePrefix
	}
	if config.OrphanMinAge <= 0 {
		config.OrphanMinAge = DefaultOrphanMinAge
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Locator{
		listCommand:  config.ListCommand,
		namePrefix:   config.NamePrefix,
		orphanMinAge: config.OrphanMinAge,
		logger:       logger,
	}
}

// Locate returns the cache entries attributed to running applications,
// largest first. An empty result means no running job owns anything
// under cacheDir.
func (l *Locator) Locate(ctx context.Context, session remote.Session, cacheDir string) ([]JobCandidate, error) {
	inventory, err := l.Inventory(ctx, session, cacheDir)
	if err != nil {
		return nil, err
	}
	return inventory.Candidates, nil
}

// Inventory enumerates cacheDir on the session's worker and classifies
// every immediate subdirectory.
func (l *Locator) Inventory(ctx context.Context, session remote.Session, cacheDir string) (Inventory, error) {
	host := session.Host()
	if cacheDir == "" || !path.IsAbs(cacheDir) {
		return Inventory{}, fault.New(fault.Locator, host, "enumerate", fmt.Errorf("cache directory %q is not absolute", cacheDir))
	}

	remoteNow, entries, err := l.enumerate(ctx, session, cacheDir)
	if err != nil {
		return Inventory{}, err
	}
	if len(entries) == 0 {
		return Inventory{}, nil
	}

	l.size(ctx, session, entries)

	applications, err := l.runningApplications(ctx, session)
	if err != nil {
		return Inventory{}, err
	}

	owners := applicationsByUser(applications)
	var inventory Inventory
	for _, entry := range entries {
		if application, ok := l.attribute(entry.Name, applications, owners); ok {
			inventory.Candidates = append(inventory.Candidates, JobCandidate{
				JobID:              application.ID,
				Name:               application.Name,
				User:               application.User,
				EstimatedSizeBytes: entry.SizeBytes,
				Path:               entry.Path,
			})
			continue
		}
		if len(owners[entry.Name]) > 1 {
			inventory.Shared = append(inventory.Shared, entry)
			continue
		}
		if remoteNow.Sub(entry.ModifiedAt) >= l.orphanMinAge {
			inventory.Orphans = append(inventory.Orphans, entry)
		} else {
			inventory.Skipped = append(inventory.Skipped, entry)
		}
	}

	if len(inventory.Shared) > 0 {
		inventory.Candidates = append(inventory.Candidates, l.applicationDirectories(ctx, session, inventory.Shared, owners)...)
	}

	SortCandidates(inventory.Candidates)
	slices.SortFunc(inventory.Orphans, compareEntries)
	slices.SortFunc(inventory.Skipped, compareEntries)
	slices.SortFunc(inventory.Shared, compareEntries)

	l.logger.Debug("cache inventory",
		"host", host,
		"cache_dir", cacheDir,
		"entries", len(entries),
		"running_applications", len(applications),
		"candidates", len(inventory.Candidates),
		"orphans", len(inventory.Orphans),
		"skipped", len(inventory.Skipped),
		"shared", len(inventory.Shared),
	)
	return inventory, nil
}

// SortCandidates orders candidates by EstimatedSizeBytes descending,
// then Path ascending. The order depends only on the set of candidates,
// never on their input order.
func SortCandidates(candidates []JobCandidate) {
	slices.SortFunc(candidates, func(a, b JobCandidate) int {
		if c := cmp.Compare(b.EstimatedSizeBytes, a.EstimatedSizeBytes); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Path, b.Path); c != 0 {
			return c
		}
		return cmp.Compare(a.JobID, b.JobID)
	})
}

func compareEntries(a, b CacheEntry) int {
	if c := cmp.Compare(b.SizeBytes, a.SizeBytes); c != 0 {
		return c
	}
	return cmp.Compare(a.Path, b.Path)
}

// enumerate lists the immediate subdirectories of cacheDir with their
// modification times, and the worker's clock at the moment of listing.
func (l *Locator) enumerate(ctx context.Context, session remote.Session, cacheDir string) (time.Time, []CacheEntry, error) {
	host := session.Host()
	op := "enumerate " + cacheDir
	command := "date +%s; find " + remote.Quote(cacheDir) + ` -mindepth 1 -maxdepth 1 -type d -printf '%T@\t%p\n'`

	result, err := session.Run(ctx, command)
	if err != nil {
		return time.Time{}, nil, fault.Classify(ctx, host, op, fault.Locator, err)
	}
	if err := result.Err(host, op); err != nil {
		return time.Time{}, nil, fault.New(fault.Locator, host, op, err)
	}

	now, entries, err := parseListing(result.Stdout, cacheDir)
	if err != nil {
		return time.Time{}, nil, fault.New(fault.Locator, host, op, err)
	}
	return now, entries, nil
}

func parseListing(output, cacheDir string) (time.Time, []CacheEntry, error) {
	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
	seconds, err := strconv.ParseInt(strings.TrimSpace(lines[0]), 10, 64)
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("reading worker clock from %q: %w", lines[0], err)
	}
	now := time.Unix(seconds, 0)

	var entries []CacheEntry
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		stamp, entryPath, found := strings.Cut(line, "\t")
		if !found {
			return time.Time{}, nil, fmt.Errorf("malformed listing line %q", line)
		}
		modified, err := parseEpoch(stamp)
		if err != nil {
			return time.Time{}, nil, fmt.Errorf("malformed modification time in %q: %w", line, err)
		}
		if path.Dir(entryPath) != path.Clean(cacheDir) {
			continue
		}
		entries = append(entries, CacheEntry{
			Name:       path.Base(entryPath),
			Path:       entryPath,
			ModifiedAt: modified,
		})
	}
	return now, entries, nil
}

// parseEpoch parses find's %T@ format, seconds with a fractional part.
func parseEpoch(stamp string) (time.Time, error) {
	value, err := strconv.ParseFloat(stamp, 64)
	if err != nil {
		return time.Time{}, err
	}
	seconds, fraction := math.Modf(value)
	return time.Unix(int64(seconds), int64(fraction*1e9)), nil
}

// size fills SizeBytes from one du invocation. du exits non-zero when
// an entry vanishes or is unreadable mid-walk; the sizes it did print
// are kept and the rest stay zero.
func (l *Locator) size(ctx context.Context, session remote.Session, entries []CacheEntry) {
	paths := make([]string, len(entries))
	for index, entry := range entries {
		paths[index] = entry.Path
	}
	sizes := l.du(ctx, session, paths)
	for index := range entries {
		entries[index].SizeBytes = sizes[entries[index].Path]
	}
}

// du sizes paths in one invocation. Paths that do not exist are
// missing from the result.
func (l *Locator) du(ctx context.Context, session remote.Session, paths []string) map[string]uint64 {
	host := session.Host()
	arguments := append([]string{"du", "-s", "-B1", "--"}, paths...)

	result, err := session.Run(ctx, remote.QuoteAll(arguments...))
	if err != nil {
		l.logger.Warn("sizing cache entries failed", "host", host, "error", err)
		return nil
	}
	if result.ExitCode != 0 {
		l.logger.Debug("du reported errors",
			"host", host,
			"exit_code", result.ExitCode,
			"stderr", strings.TrimSpace(result.Stderr),
		)
	}
	return parseDU(result.Stdout)
}

// applicationDirectories turns each shared user directory into one
// candidate per running application of that user, rooted at YARN's
// <user>/appcache/<application ID>. Applications without such a
// directory on this worker are left out.
func (l *Locator) applicationDirectories(ctx context.Context, session remote.Session, shared []CacheEntry, owners map[string][]Application) []JobCandidate {
	var candidates []JobCandidate
	var paths []string
	for _, entry := range shared {
		for _, application := range owners[entry.Name] {
			if !validPathElement(application.ID) {
				continue
			}
			candidatePath := path.Join(entry.Path, "appcache", application.ID)
			paths = append(paths, candidatePath)
			candidates = append(candidates, JobCandidate{
				JobID: application.ID,
				Name:  application.Name,
				User:  application.User,
				Path:  candidatePath,
			})
		}
	}
	if len(paths) == 0 {
		return nil
	}

	sizes := l.du(ctx, session, paths)
	kept := candidates[:0]
	for _, candidate := range candidates {
		size, found := sizes[candidate.Path]
		if !found {
			continue
		}
		candidate.EstimatedSizeBytes = size
		kept = append(kept, candidate)
	}
	return kept
}

func validPathElement(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsRune(name, '/')
}

func applicationsByUser(applications []Application) map[string][]Application {
	owners := make(map[string][]Application)
	for _, application := range applications {
		if application.User != "" {
			owners[application.User] = append(owners[application.User], application)
		}
	}
	return owners
}

func parseDU(output string) map[string]uint64 {
	sizes := make(map[string]uint64)
	for _, line := range strings.Split(output, "\n") {
		sizeField, entryPath, found := strings.Cut(line, "\t")
		if !found {
			continue
		}
		size, err := strconv.ParseUint(strings.TrimSpace(sizeField), 10, 64)
		if err != nil {
			continue
		}
		sizes[entryPath] = size
	}
	return sizes
}

func (l *Locator) runningApplications(ctx context.Context, session remote.Session) ([]Application, error) {
	host := session.Host()
	op := "listing running applications"
	result, err := session.Run(ctx, l.listCommand)
	if err != nil {
		return nil, fault.Classify(ctx, host, op, fault.Locator, err)
	}
	if err := result.Err(host, l.listCommand); err != nil {
		return nil, fault.New(fault.Locator, host, op, err)
	}
	applications, err := ParseApplications(result.Stdout)
	if err != nil {
		return nil, fault.New(fault.Locator, host, op, err)
	}
	return applications, nil
}

// attribute finds the application owning a cache entry. An exact
// application ID wins over a name match, which wins over a user match;
// within the ID and name rules the first listed application is chosen.
// A user match counts only when that user runs exactly one
// application, since the directory holds data of all of them.
func (l *Locator) attribute(name string, applications []Application, owners map[string][]Application) (Application, bool) {
	for _, application := range applications {
		if application.ID == name {
			return application, true
		}
	}
	for _, application := range applications {
		if application.Name == l.namePrefix+name {
			return application, true
		}
	}
	if owned := owners[name]; len(owned) == 1 {
		return owned[0], true
	}
	return Application{}, false
}
