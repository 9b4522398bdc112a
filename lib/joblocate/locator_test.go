// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package joblocate

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/cacheguard/lib/fault"
	"github.com/bureau-foundation/cacheguard/lib/remote"
	"github.com/bureau-foundation/cacheguard/lib/remote/remotetest"
)

const cacheDir = "/var/hadoop/data/usercache"

// remoteNow is the worker clock every fixture lists against.
const remoteNow = 1772355600

const yarnList = `2026-03-01 09:00:00,000 INFO client.RMProxy: Connecting to ResourceManager at rm/10.0.0.1:8032
Total number of applications (application-types: [], states: [RUNNING] and tags: []):3
                Application-Id	    Application-Name	    Application-Type	      User	     Queue	             State	       Final-State	       Progress	                       Tracking-URL
application_1772300000000_0001	         spark-etl	               SPARK	     alice	   default	           RUNNING	         UNDEFINED	            45%	        http://w1:4040
application_1772300000000_0002	     nightly report	               SPARK	       bob	   default	           RUNNING	         UNDEFINED	            10%	        http://w2:4040
application_1772300000000_0003	         ad hoc	               SPARK	     carol	   default	           RUNNING	         UNDEFINED	             5%	        http://w3:4040
`

type fixtureEntry struct {
	name     string
	size     uint64
	ageSecs  int64
	noSizing bool
}

// scriptWorker answers the locator's three commands for entries.
func scriptWorker(host *remotetest.Host, entries []fixtureEntry, applications string) {
	var listing, du strings.Builder
	fmt.Fprintf(&listing, "%d\n", remoteNow)
	for _, entry := range entries {
		fmt.Fprintf(&listing, "%d.5000000000\t%s/%s\n", remoteNow-entry.ageSecs, cacheDir, entry.name)
		if !entry.noSizing {
			fmt.Fprintf(&du, "%d\t%s/%s\n", entry.size, cacheDir, entry.name)
		}
	}
	host.On("date +%s; find ", remote.Result{Stdout: listing.String()})
	host.On("du ", remote.Result{Stdout: du.String()})
	host.On("yarn application -list", remote.Result{Stdout: applications, Stderr: "WARN some yarn chatter\n"})
}

func locate(t *testing.T, dialer *remotetest.Dialer, host string, config Config) (Inventory, error) {
	t.Helper()
	session, err := dialer.Open(context.Background(), remote.Target{Host: host})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer session.Close()
	return New(config).Inventory(context.Background(), session, cacheDir)
}

func TestInventoryAttributesByIDNameAndUser(t *testing.T) {
	dialer := remotetest.NewDialer()
	scriptWorker(dialer.Host("w1"), []fixtureEntry{
		{name: "etl", size: 500, ageSecs: 60},
		{name: "application_1772300000000_0002", size: 900, ageSecs: 60},
		{name: "carol", size: 700, ageSecs: 60},
		{name: "dave", size: 5000, ageSecs: 3600},
		{name: "fresh", size: 100, ageSecs: 30},
	}, yarnList)

	inventory, err := locate(t, dialer, "w1", Config{})
	if err != nil {
		t.Fatalf("Inventory: %v", err)
	}

	want := []JobCandidate{
		{JobID: "application_1772300000000_0002", Name: "nightly report", User: "bob", EstimatedSizeBytes: 900, Path: cacheDir + "/application_1772300000000_0002"},
		{JobID: "application_1772300000000_0003", Name: "ad hoc", User: "carol", EstimatedSizeBytes: 700, Path: cacheDir + "/carol"},
		{JobID: "application_1772300000000_0001", Name: "spark-etl", User: "alice", EstimatedSizeBytes: 500, Path: cacheDir + "/etl"},
	}
	if !slices.Equal(inventory.Candidates, want) {
		t.Errorf("Candidates =\n%+v\nwant\n%+v", inventory.Candidates, want)
	}

	if len(inventory.Orphans) != 1 || inventory.Orphans[0].Name != "dave" || inventory.Orphans[0].SizeBytes != 5000 {
		t.Errorf("Orphans = %+v, want dave only", inventory.Orphans)
	}
	if len(inventory.Skipped) != 1 || inventory.Skipped[0].Name != "fresh" {
		t.Errorf("Skipped = %+v, want fresh only", inventory.Skipped)
	}
	wantModified := time.Unix(remoteNow-3600, 500000000)
	if !inventory.Orphans[0].ModifiedAt.Equal(wantModified) {
		t.Errorf("ModifiedAt = %v, want %v", inventory.Orphans[0].ModifiedAt, wantModified)
	}
}

func TestInventoryCustomPrefixAndOrphanAge(t *testing.T) {
	dialer := remotetest.NewDialer()
	scriptWorker(dialer.Host("w1"), []fixtureEntry{
		{name: "etl", size: 500, ageSecs: 120},
		{name: "nobody", size: 10, ageSecs: 120},
	}, yarnList)

	inventory, err := locate(t, dialer, "w1", Config{NamePrefix: "flink-", OrphanMinAge: time.Minute})
	if err != nil {
		t.Fatalf("Inventory: %v", err)
	}
	if len(inventory.Candidates) != 0 {
		t.Errorf("Candidates = %+v, want none with flink- prefix", inventory.Candidates)
	}
	if len(inventory.Orphans) != 2 {
		t.Errorf("Orphans = %+v, want both entries", inventory.Orphans)
	}
}

func TestInventoryToleratesPartialSizing(t *testing.T) {
	dialer := remotetest.NewDialer()
	host := dialer.Host("w1")
	scriptWorker(host, []fixtureEntry{
		{name: "alice", size: 400, ageSecs: 60},
		{name: "bob", ageSecs: 60, noSizing: true},
	}, yarnList)

	inventory, err := locate(t, dialer, "w1", Config{})
	if err != nil {
		t.Fatalf("Inventory: %v", err)
	}
	if len(inventory.Candidates) != 2 {
		t.Fatalf("Candidates = %+v, want 2", inventory.Candidates)
	}
	if inventory.Candidates[0].Path != cacheDir+"/alice" || inventory.Candidates[1].EstimatedSizeBytes != 0 {
		t.Errorf("Candidates = %+v, want alice first and bob unsized", inventory.Candidates)
	}
}

const sharedUserList = `Application-Id	Application-Name	Application-Type	User	Queue	State
application_1772300000000_0001	etl	SPARK	alice	default	RUNNING
application_1772300000000_0002	report	SPARK	alice	default	RUNNING
application_1772300000000_0003	backfill	SPARK	alice	default	RUNNING
`

// scriptSharedUser lists one user directory, alice, whose appcache
// holds directories for the first two of alice's three applications.
func scriptSharedUser(host *remotetest.Host) {
	alice := cacheDir + "/alice"
	host.On("date +%s; find ", remote.Result{Stdout: fmt.Sprintf("%d\n%d.0\t%s\n", remoteNow, remoteNow-86400, alice)})
	host.OnFunc("du ", func(command string) (remote.Result, error) {
		if !strings.Contains(command, "/appcache/") {
			return remote.Result{Stdout: fmt.Sprintf("9000\t%s\n", alice)}, nil
		}
		return remote.Result{
			ExitCode: 1,
			Stdout: fmt.Sprintf("3000\t%s/appcache/application_1772300000000_0001\n6000\t%s/appcache/application_1772300000000_0002\n",
				alice, alice),
			Stderr: "du: cannot access '" + alice + "/appcache/application_1772300000000_0003': No such file or directory\n",
		}, nil
	})
	host.On("yarn application -list", remote.Result{Stdout: sharedUserList})
}

func TestInventorySplitsUserDirectorySharedByApplications(t *testing.T) {
	dialer := remotetest.NewDialer()
	host := dialer.Host("w1")
	scriptSharedUser(host)

	inventory, err := locate(t, dialer, "w1", Config{})
	if err != nil {
		t.Fatalf("Inventory: %v", err)
	}

	want := []JobCandidate{
		{JobID: "application_1772300000000_0002", Name: "report", User: "alice", EstimatedSizeBytes: 6000,
			Path: cacheDir + "/alice/appcache/application_1772300000000_0002"},
		{JobID: "application_1772300000000_0001", Name: "etl", User: "alice", EstimatedSizeBytes: 3000,
			Path: cacheDir + "/alice/appcache/application_1772300000000_0001"},
	}
	if !slices.Equal(inventory.Candidates, want) {
		t.Errorf("Candidates =\n%+v\nwant\n%+v", inventory.Candidates, want)
	}
	for _, candidate := range inventory.Candidates {
		if candidate.Path == cacheDir+"/alice" {
			t.Errorf("shared user directory offered whole: %+v", candidate)
		}
	}
	if len(inventory.Shared) != 1 || inventory.Shared[0].Name != "alice" || inventory.Shared[0].SizeBytes != 9000 {
		t.Errorf("Shared = %+v, want alice", inventory.Shared)
	}
	if len(inventory.Orphans) != 0 {
		t.Errorf("Orphans = %+v, want none: the directory belongs to running applications", inventory.Orphans)
	}
}

func TestInventoryUserMatchNeedsSingleApplication(t *testing.T) {
	owners := applicationsByUser([]Application{
		{ID: "application_1_0001", User: "alice"},
		{ID: "application_1_0002", User: "alice"},
		{ID: "application_1_0003", User: "bob"},
	})
	locator := New(Config{})

	if application, ok := locator.attribute("alice", nil, owners); ok {
		t.Errorf("attribute(alice) = %+v, want no single owner", application)
	}
	application, ok := locator.attribute("bob", nil, owners)
	if !ok || application.ID != "application_1_0003" {
		t.Errorf("attribute(bob) = %+v, %v, want application_1_0003", application, ok)
	}
}

func TestInventoryEmptyCacheDir(t *testing.T) {
	dialer := remotetest.NewDialer()
	host := dialer.Host("w1")
	scriptWorker(host, nil, yarnList)

	inventory, err := locate(t, dialer, "w1", Config{})
	if err != nil {
		t.Fatalf("Inventory: %v", err)
	}
	if len(inventory.Candidates)+len(inventory.Orphans)+len(inventory.Skipped) != 0 {
		t.Errorf("Inventory = %+v, want empty", inventory)
	}
	if host.Ran("yarn") || host.Ran("du ") {
		t.Errorf("commands = %q, want only the listing", host.Commands())
	}
}

func TestInventoryMissingCacheDirIsLocatorFault(t *testing.T) {
	dialer := remotetest.NewDialer()
	dialer.Host("w1").On("date +%s; find ", remote.Result{
		Stdout:   fmt.Sprintf("%d\n", remoteNow),
		Stderr:   "find: '/var/hadoop/data/usercache': No such file or directory\n",
		ExitCode: 1,
	})

	_, err := locate(t, dialer, "w1", Config{})
	if !fault.Is(err, fault.Locator) {
		t.Fatalf("err = %v, want locator fault", err)
	}
	if !strings.Contains(err.Error(), "No such file or directory") {
		t.Errorf("err = %v, want the find diagnostic", err)
	}
}

func TestInventoryApplicationListFailureIsLocatorFault(t *testing.T) {
	dialer := remotetest.NewDialer()
	host := dialer.Host("w1")
	host.On("yarn application -list", remote.Result{ExitCode: 255, Stderr: "java.net.ConnectException: Connection refused\n"})
	scriptWorker(host, []fixtureEntry{{name: "dave", size: 1, ageSecs: 3600}}, "")

	_, err := locate(t, dialer, "w1", Config{})
	if !fault.Is(err, fault.Locator) {
		t.Fatalf("err = %v, want locator fault", err)
	}
}

func TestInventoryTransportFailure(t *testing.T) {
	dialer := remotetest.NewDialer()
	dialer.Host("w1").OnFunc("date ", func(string) (remote.Result, error) {
		return remote.Result{}, errors.New("broken pipe")
	})
	_, err := locate(t, dialer, "w1", Config{})
	if !fault.Is(err, fault.Locator) {
		t.Fatalf("err = %v, want locator fault", err)
	}
}

func TestInventoryRejectsRelativeCacheDir(t *testing.T) {
	dialer := remotetest.NewDialer()
	session, _ := dialer.Open(context.Background(), remote.Target{Host: "w1"})
	_, err := New(Config{}).Inventory(context.Background(), session, "usercache")
	if !fault.Is(err, fault.Locator) {
		t.Fatalf("err = %v, want locator fault", err)
	}
	if len(dialer.Host("w1").Commands()) != 0 {
		t.Error("commands were issued for a relative cache dir")
	}
}

func TestInventoryQuotesCacheDir(t *testing.T) {
	dialer := remotetest.NewDialer()
	host := dialer.Host("w1")
	host.On("date ", remote.Result{Stdout: fmt.Sprintf("%d\n", remoteNow)})

	session, _ := dialer.Open(context.Background(), remote.Target{Host: "w1"})
	if _, err := New(Config{}).Inventory(context.Background(), session, "/data/it's here"); err != nil {
		t.Fatalf("Inventory: %v", err)
	}
	want := `date +%s; find '/data/it'\''s here' -mindepth 1 -maxdepth 1 -type d -printf '%T@\t%p\n'`
	if commands := host.Commands(); len(commands) != 1 || commands[0] != want {
		t.Errorf("commands = %q, want %q", commands, want)
	}
}

func TestLocateReturnsCandidatesOnly(t *testing.T) {
	dialer := remotetest.NewDialer()
	scriptWorker(dialer.Host("w1"), []fixtureEntry{
		{name: "alice", size: 10, ageSecs: 60},
		{name: "zed", size: 99, ageSecs: 9999},
	}, yarnList)

	session, _ := dialer.Open(context.Background(), remote.Target{Host: "w1"})
	candidates, err := New(Config{}).Locate(context.Background(), session, cacheDir)
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if len(candidates) != 1 || candidates[0].User != "alice" {
		t.Errorf("candidates = %+v, want alice only", candidates)
	}
}

func TestSortCandidatesIgnoresInputOrder(t *testing.T) {
	base := []JobCandidate{
		{JobID: "a", EstimatedSizeBytes: 300, Path: "/c/a"},
		{JobID: "b", EstimatedSizeBytes: 100, Path: "/c/b"},
		{JobID: "c", EstimatedSizeBytes: 300, Path: "/c/c"},
		{JobID: "d", EstimatedSizeBytes: 0, Path: "/c/d"},
		{JobID: "e", EstimatedSizeBytes: 1 << 40, Path: "/c/e"},
		{JobID: "f", EstimatedSizeBytes: 100, Path: "/c/f"},
	}
	want := []string{"e", "a", "c", "b", "f", "d"}

	random := rand.New(rand.NewPCG(1, 2))
	for trial := range 50 {
		shuffled := slices.Clone(base)
		random.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		SortCandidates(shuffled)

		var got []string
		for index, candidate := range shuffled {
			got = append(got, candidate.JobID)
			if index > 0 && shuffled[index-1].EstimatedSizeBytes < candidate.EstimatedSizeBytes {
				t.Fatalf("trial %d: not descending at %d: %+v", trial, index, shuffled)
			}
		}
		if !slices.Equal(got, want) {
			t.Fatalf("trial %d: order = %v, want %v", trial, got, want)
		}
	}
}

func TestParseListingSkipsForeignPaths(t *testing.T) {
	output := fmt.Sprintf("%d\n%d.0\t%s/alice\n%d.0\t/elsewhere/bob\n", remoteNow, remoteNow, cacheDir, remoteNow)
	now, entries, err := parseListing(output, cacheDir)
	if err != nil {
		t.Fatalf("parseListing: %v", err)
	}
	if now.Unix() != remoteNow {
		t.Errorf("now = %v", now)
	}
	if len(entries) != 1 || entries[0].Name != "alice" {
		t.Errorf("entries = %+v, want alice only", entries)
	}
}

func TestParseListingErrors(t *testing.T) {
	for name, output := range map[string]string{
		"no clock":      "",
		"bad clock":     "Sun Mar  1\n",
		"no tab":        fmt.Sprintf("%d\n%s/alice\n", remoteNow, cacheDir),
		"bad timestamp": fmt.Sprintf("%d\nyesterday\t%s/alice\n", remoteNow, cacheDir),
	} {
		t.Run(name, func(t *testing.T) {
			if _, _, err := parseListing(output, cacheDir); err == nil {
				t.Error("parseListing succeeded")
			}
		})
	}
}
