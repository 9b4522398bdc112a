// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// cacheguard keeps YARN usercache disks on a fleet of workers below a
// usage threshold. Each invocation is one pass: measure every worker,
// and on workers at or over the threshold kill the job with the
// largest cache footprint and remove its directory.
//
// Run "cacheguard --help" for the command list.
package main

import (
	"os"

	"github.com/bureau-foundation/cacheguard/lib/process"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	return rootCommand(os.Stdout).Execute(os.Args[1:])
}
