// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import "strings"

// Quote returns a POSIX-shell-safe rendering of s. Strings made only of
// safe characters are returned unchanged; anything else is wrapped in
// single quotes with embedded single quotes escaped.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, char := range s {
		if !isShellSafe(char) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// QuoteAll quotes each argument and joins them with spaces.
func QuoteAll(args ...string) string {
	quoted := make([]string, len(args))
	for index, arg := range args {
		quoted[index] = Quote(arg)
	}
	return strings.Join(quoted, " ")
}

func isShellSafe(char rune) bool {
	switch {
	case char >= 'a' && char <= 'z', char >= 'A' && char <= 'Z', char >= '0' && char <= '9':
		return true
	}
	switch char {
	case '-', '_', '.', '/', ':', '@', '%', '+', '=', ',':
		return true
	}
	return false
}
