// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import "time"

// TB is the subset of testing.TB the helpers need.
type TB interface {
	Helper()
	Fatalf(format string, args ...any)
}

// RequireReceive returns the next value sent on ch, failing the test
// if none arrives within timeout or ch is closed first. what names the
// event being waited for in the failure message.
//
//	outcome := testutil.RequireReceive(t, outcomes, 5*time.Second, "waiting for remediation")
func RequireReceive[T any](t TB, ch <-chan T, timeout time.Duration, what string) T {
	t.Helper()
	deadline := time.NewTimer(timeout) //nolint:realclock guards against a hung test
	defer deadline.Stop()

	var value T
	select {
	case received, ok := <-ch:
		if !ok {
			t.Fatalf("%s: channel closed before a value arrived", what)
		}
		value = received
	case <-deadline.C:
		t.Fatalf("%s: nothing received after %v", what, timeout)
	}
	return value
}

// RequireClosed waits for ch to be closed or to deliver a value.
func RequireClosed(t TB, ch <-chan struct{}, timeout time.Duration, what string) {
	t.Helper()
	deadline := time.NewTimer(timeout) //nolint:realclock guards against a hung test
	defer deadline.Stop()

	select {
	case <-ch:
	case <-deadline.C:
		t.Fatalf("%s: channel still open after %v", what, timeout)
	}
}
