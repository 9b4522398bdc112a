// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts the time source used by a fleet pass.
//
// Production code receives [Real]; tests receive [Fake], whose time
// stands still until the test calls [FakeClock.Advance]. Report
// timestamps, usage reading timestamps, and any wait that a test needs
// to drive deterministically go through a [Clock] rather than the time
// package.
package clock
