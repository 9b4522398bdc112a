// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fleet runs one monitor-and-remediate pass over every
// configured worker and aggregates a [Report].
//
// Each worker gets an independent task: open a session, measure the
// cache filesystem, compare with the threshold, and when over it,
// locate the largest running job and remediate. Tasks run in parallel
// up to a concurrency limit; the rest queue. A task's failure of any
// kind becomes that worker's report entry and never affects siblings.
//
// Only misconfiguration detected before any task starts (no targets,
// an invalid threshold, a relative cache directory, a host listed
// twice) makes [Orchestrator.Run] return an error. Otherwise the report
// holds exactly one entry per target.
//
// The pass has an overall deadline. When it expires, in-flight
// sessions are closed by context cancellation and their tasks record
// Timeout faults; queued tasks that start afterwards record Timeout
// without dialing. Kill and clean are each a single remote command,
// so a deadline never leaves one half applied.
//
// Tasks write into a pre-allocated slot per target. The host-keyed map
// is built from the slots after every task has finished, so no two
// goroutines ever touch the same memory.
package fleet
