package check

import "fmt"

// Section preambles are data keyed by mode so the report writer never
// branches on mode itself.
var commitsNotes = map[Mode]string{
	ModeWithFix: "Commit counts observed over %d trials from %s marker events.\n" +
		"The trigger fires every %d ops, so expected = floor(N/%d) * %d.\n" +
		"pass = observed within ±%d of expected.",
	ModeWithoutFix: "Commit counts observed over %d trials from %s marker events.\n" +
		"The trigger is disabled, so no periodic commits should fire.\n" +
		"pass = 0 or 1 commits observed (1 is warm-up noise).",
}

var latencyNotes = map[Mode]string{
	ModeWithFix: "Wall time per N ops (trimmed mean over %d trials).\n" +
		"With the trigger active the device starts early, so wall time grows slowly with N.",
	ModeWithoutFix: "Wall time per N ops (trimmed mean over %d trials).\n" +
		"Without the trigger the device only starts at synchronize(), so wall time = encode + execute.",
}

// DescribeCommits returns the COMMITS section preamble for the mode.
func (m Mode) DescribeCommits(marker string, threshold, trials int) string {
	switch m {
	case ModeWithFix:
		return fmt.Sprintf(commitsNotes[m],
			trials, marker, threshold, threshold, trials, trials)
	default:
		return fmt.Sprintf(commitsNotes[ModeWithoutFix], trials, marker)
	}
}

// DescribeLatency returns the LATENCY section preamble for the mode.
func (m Mode) DescribeLatency(trials int) string {
	note, ok := latencyNotes[m]
	if !ok {
		note = latencyNotes[ModeWithoutFix]
	}

	return fmt.Sprintf(note, trials)
}
