// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fault defines the error taxonomy shared by every stage of a
// fleet pass. A [Error] records which stage failed ([Kind]), the worker
// it failed on, and optionally the job it was acting on, while still
// wrapping the underlying cause for errors.Is and errors.As.
//
// Stages construct faults with [New] or the per-kind helpers. The
// orchestrator never inspects error strings: it recovers the fault with
// [As] and records it verbatim in the report, so the kind and reason a
// user sees are exactly the ones the failing stage chose.
//
// This package depends on no other cacheguard packages.
package fault
