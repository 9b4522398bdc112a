// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package joblocate finds which running jobs own the space under a
// worker's cache root.
//
// The cache root (YARN's usercache) holds one directory per user, and
// under older Spark deployments one directory per application. The
// locator lists the immediate subdirectories together with the remote
// clock in a single call, sizes them with du, and attributes each to a
// running YARN application by application ID, by application name
// (NamePrefix followed by the directory name), or by submitting user.
//
// A user directory is attributed to its user's application only when
// that user runs exactly one. When several run, the directory is
// listed as shared and each application's appcache/<application ID>
// directory under it becomes a candidate on its own, so remediating
// one job never removes another job's data.
//
// Attributed entries become [JobCandidate] values ordered largest
// first. Unattributed entries older than OrphanMinAge are orphans that
// may be removed without killing anything; younger ones are skipped
// because a container may have created its directory before the
// resource manager lists the application as running.
//
// The locator refuses to guess: if the running application list cannot
// be fetched, Locate fails rather than reporting every directory as an
// orphan.
package joblocate
