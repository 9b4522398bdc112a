// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package remote opens command sessions on cluster workers.
//
// A [Dialer] turns a [Target] into a [Session]; a Session runs shell
// commands on exactly one worker and reports each command's stdout,
// stderr, and exit status as a [Result]. Two transports exist:
//
//   - [SSHDialer] authenticates with a private key (read through
//     lib/secret) and optionally an ssh-agent, verifies host keys
//     against a known_hosts file, and paces new connections with a
//     shared rate limiter.
//   - [LocalDialer] runs commands with sh -c on the controller itself,
//     for single-node deployments.
//
// Sessions never retry. A non-zero exit status is not an error from
// [Session.Run]; callers that need success call [Result.Err]. Errors
// that do come back from this package are *fault.Error values of kind
// Connection or Command (or Timeout/Canceled when the context ended
// the operation).
//
// Cancelling the context passed to Run tears down the session's
// connection, so a pass deadline cannot leave a command hanging.
package remote
