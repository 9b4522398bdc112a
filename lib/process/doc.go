// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides the entrypoint helper for cacheguard
// binaries: reporting a fatal error to stderr before the structured
// logger exists, and exiting with the code a command asked for.
package process
