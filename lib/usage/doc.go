// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package usage measures how full the filesystem holding a worker's
// cache directory is.
//
// [Probe.Measure] runs df -P -B1 over a remote session and parses the
// single data row into a [Reading]. df reports both byte counts and a
// capacity percentage, and the two do not always agree: df's capacity
// is used/(used+available) rounded up, which excludes root-reserved
// blocks, while the reading's contract is used/total. The probe computes
// the byte-derived percentage itself, keeps df's figure when it lies
// within the configured tolerance, and otherwise falls back to the
// byte-derived value. Disagreement is recorded in
// [Reading.PercentSource], never treated as failure.
//
// Local sessions are measured with gopsutil's statfs wrapper instead of
// df, with the same reconciliation rule.
package usage
