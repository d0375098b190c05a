// Package check decides verdicts for observed commit counts under the
// two run modes.
package check

import "fmt"

// Mode selects which commit behavior a run verifies.
type Mode string

const (
	// ModeWithFix verifies the periodic trigger: enqueued ops are
	// committed every threshold ops, so counts scale with N.
	ModeWithFix Mode = "with_fix"

	// ModeWithoutFix verifies the baseline: nothing commits until
	// synchronize, so counts stay at zero or one.
	ModeWithoutFix Mode = "without_fix"
)

// ParseMode validates a mode selector from the CLI.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeWithFix, ModeWithoutFix:
		return Mode(s), nil
	}

	return "", fmt.Errorf("invalid mode %q (want with_fix or without_fix)", s)
}

// Status is the verdict for one measurement row, rendered verbatim in
// reports.
type Status string

const (
	StatusPass Status = "pass"
	StatusFail Status = "FAIL"
	StatusSkip Status = "skip"
)

// OK reports whether the status is acceptable. Skipped rows are
// acceptable: below one threshold of ops there is nothing to verify.
func (s Status) OK() bool {
	return s == StatusPass || s == StatusSkip
}

// Judge compares an observed commit count against the expectation for
// the mode. threshold and trials must be positive. expected is
// floor(n/threshold) * trials in every mode. Rows where
// floor(n/threshold) is zero are skipped regardless of observed.
// with_fix passes when observed is within trials of expected;
// without_fix passes when at most one commit was observed.
func Judge(mode Mode, n, threshold, trials, observed int) (Status, int) {
	perTrial := n / threshold
	if perTrial == 0 {
		return StatusSkip, 0
	}

	expected := perTrial * trials

	switch mode {
	case ModeWithFix:
		if abs(observed-expected) <= trials {
			return StatusPass, expected
		}
	case ModeWithoutFix:
		if observed <= 1 {
			return StatusPass, expected
		}
	}

	return StatusFail, expected
}

func abs(v int) int {
	if v < 0 {
		return -v
	}

	return v
}
