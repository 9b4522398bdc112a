// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds SSH private key material in memory that the Go
// runtime never sees.
//
// [Protect] copies bytes into an anonymous mapping that is mlocked and
// marked MADV_DONTDUMP, then zeros the source. [Buffer.Close] wipes and
// unmaps the region.
//
// [ReadKeyFile] loads a key file into a Buffer, refusing files that are
// readable by group or other, the same rule OpenSSH applies before it
// will use an identity file.
//
// Depends on golang.org/x/sys/unix. No cacheguard-internal dependencies.
package secret
