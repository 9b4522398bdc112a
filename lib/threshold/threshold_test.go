// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package threshold

import (
	"math"
	"testing"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		name      string
		used      float64
		threshold float64
		want      Decision
	}{
		{"well below", 40, 80, OK},
		{"just below", 79.99, 80, OK},
		{"exactly at threshold", 80, 80, Remediate},
		{"above", 85, 80, Remediate},
		{"full disk", 100, 80, Remediate},
		{"zero threshold always remediates", 0, 0, Remediate},
		{"hundred threshold only at full", 99.9, 100, OK},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := Decide(test.used, test.threshold); got != test.want {
				t.Errorf("Decide(%v, %v) = %q, want %q", test.used, test.threshold, got, test.want)
			}
		})
	}
}

// Every integer pair in the valid range obeys the inclusive boundary.
func TestDecideExhaustive(t *testing.T) {
	for threshold := 0; threshold <= 100; threshold++ {
		for used := 0; used <= 100; used++ {
			want := OK
			if used >= threshold {
				want = Remediate
			}
			if got := Decide(float64(used), float64(threshold)); got != want {
				t.Fatalf("Decide(%d, %d) = %q, want %q", used, threshold, got, want)
			}
		}
	}
}

func TestValidate(t *testing.T) {
	for _, valid := range []float64{0, 50, 80.5, 100} {
		if err := Validate(valid); err != nil {
			t.Errorf("Validate(%v) = %v", valid, err)
		}
	}
	for _, invalid := range []float64{-1, 100.1, math.NaN(), math.Inf(1)} {
		if err := Validate(invalid); err == nil {
			t.Errorf("Validate(%v) accepted an invalid threshold", invalid)
		}
	}
}
