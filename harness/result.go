// Package harness runs the measurement loop: for each workload and op
// count it opens an observation window, times synchronize-bounded
// trials, judges the observed commit count, and accumulates the rows
// into a run result.
package harness

import "github.com/mpslab/commitprobe/check"

// Policy fixes the verification parameters for a run.
type Policy struct {
	Threshold int   `json:"threshold"`
	Trials    int   `json:"trials"`
	NValues   []int `json:"n_values"`
}

// Measurement is one fully judged row: one workload at one op count.
type Measurement struct {
	Op       string       `json:"op"`
	N        int          `json:"n"`
	WallMs   float64      `json:"wall_ms"`
	Commits  int          `json:"commits"`
	Expected int          `json:"expected"`
	Status   check.Status `json:"status"`
}

// RunResult is the complete outcome of one verification run. Rows
// appear in measurement order: workloads in declaration order, op
// counts ascending within each.
type RunResult struct {
	Mode         check.Mode    `json:"mode"`
	Backend      string        `json:"backend"`
	Marker       string        `json:"marker"`
	Policy       Policy        `json:"policy"`
	Measurements []Measurement `json:"measurements"`
	Failures     []string      `json:"failures,omitempty"`
}
