// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec encodes fleet reports for storage and for other tools.
//
// Three formats are supported, chosen by file extension: JSON, YAML,
// and CBOR. Any of them may carry a trailing .zst (zstd) or .lz4
// suffix, which keeps a week of hourly reports for a large fleet small
// enough to attach to a ticket.
//
// CBOR uses Core Deterministic Encoding (RFC 8949 §4.2): sorted map
// keys, smallest integer encoding, no indefinite-length items. The
// same report always produces identical bytes, so archived reports
// can be compared by hash.
//
// # Struct Tag Rules
//
// Report types carry `json` and `yaml` tags. fxamacker/cbor v2 reads
// `json` tags when `cbor` tags are absent, so a single `json` tag
// controls field naming and omitempty for both JSON and CBOR.
package codec
