// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"os"
)

// exitCoder is implemented by errors that carry their own exit status
// and have already written whatever output the user needs.
type exitCoder interface {
	ExitCode() int
}

// Fatal terminates the process for an error returned from run(). Errors
// that carry an exit code exit with it silently; anything else is
// written as "error: err" to stderr and exits 1.
func Fatal(err error) {
	var coded exitCoder
	if errors.As(err, &coded) {
		os.Exit(coded.ExitCode())
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
