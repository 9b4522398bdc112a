// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"testing"

	"github.com/spf13/pflag"
)

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "sweep", 5},
		{"sweep", "sweep", 0},
		{"swep", "sweep", 1},
		{"sewep", "sweep", 2},
		{"check", "chekc", 2},
		{"kitten", "sitting", 3},
	}
	for _, test := range tests {
		if got := levenshtein(test.a, test.b); got != test.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", test.a, test.b, got, test.want)
		}
		if got := levenshtein(test.b, test.a); got != test.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", test.b, test.a, got, test.want)
		}
	}
}

func TestSuggestFlag(t *testing.T) {
	flagSet := pflag.NewFlagSet("sweep", pflag.ContinueOnError)
	flagSet.Float64("threshold", 80, "")
	flagSet.BoolP("verbose", "v", false, "")
	flagSet.String("cache-dir", "", "")

	tests := []struct {
		args []string
		want string
	}{
		{[]string{"--treshold", "90"}, "--threshold"},
		{[]string{"--cache-dir=/x", "--cachedir=/y"}, "--cache-dir"},
		{[]string{"-v", "--verbos"}, "--verbose"},
		{[]string{"--completely-different"}, ""},
		{[]string{"--", "--treshold"}, ""},
	}
	for _, test := range tests {
		if got := suggestFlag(test.args, flagSet); got != test.want {
			t.Errorf("suggestFlag(%v) = %q, want %q", test.args, got, test.want)
		}
	}
}
