// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds helpers shared by the cacheguard test suites.
//
// Tests drive time through clock.FakeClock. The one exception is the
// wall-clock ceiling in [RequireReceive] and [RequireClosed], which
// turns a deadlocked goroutine into a test failure instead of a hang.
package testutil
