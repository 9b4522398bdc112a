// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import "fmt"

// ExitError asks main to exit with Code without printing anything: the
// command has already written its output. sweep returns one when
// --fail-on-error is set and some workers failed.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// ExitCode satisfies the interface main checks for.
func (e *ExitError) ExitCode() int {
	return e.Code
}
