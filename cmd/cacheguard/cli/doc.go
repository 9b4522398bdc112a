// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the small command framework behind the cacheguard
// binary: a tree of [Command] values dispatched by name, flags bound
// from tagged parameter structs via [BindFlags], typo suggestions for
// unknown commands and flags, and the shared output helpers every
// command uses ([JSONOutput], [NewCommandLogger], [ExitError]).
//
// Help goes to stderr. Results go to stdout, so that
//
//	cacheguard sweep --json > report.json
//
// captures only the report.
package cli
