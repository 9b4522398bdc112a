// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package threshold decides whether a worker's cache usage calls for
// remediation. It is pure: no I/O, no clock, no state.
package threshold

import (
	"fmt"
	"math"
)

// Decision is the outcome of comparing usage with the threshold.
type Decision string

const (
	// OK means usage is below the threshold.
	OK Decision = "ok"
	// Remediate means usage has reached or passed the threshold.
	Remediate Decision = "remediate"
)

// Decide returns Remediate when usedPercent >= thresholdPercent. The
// boundary is inclusive: a disk sitting exactly at the threshold is
// already where the operator said not to be.
func Decide(usedPercent, thresholdPercent float64) Decision {
	if usedPercent >= thresholdPercent {
		return Remediate
	}
	return OK
}

// Validate rejects thresholds that cannot be compared meaningfully with
// a percentage.
func Validate(thresholdPercent float64) error {
	if math.IsNaN(thresholdPercent) || thresholdPercent < 0 || thresholdPercent > 100 {
		return fmt.Errorf("threshold must be between 0 and 100, got %v", thresholdPercent)
	}
	return nil
}
