// Package report renders verification results into the fixed-width
// text report and its JSON counterpart.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mpslab/commitprobe/check"
	"github.com/mpslab/commitprobe/harness"
)

// FilePath returns the text report location for a mode inside dir.
// Reports are keyed by mode so with_fix and without_fix runs sit side
// by side.
func FilePath(dir string, mode check.Mode) string {
	return filepath.Join(dir, fmt.Sprintf("results_%s.txt", mode))
}

// JSONPath returns the JSON artifact location for a mode inside dir.
func JSONPath(dir string, mode check.Mode) string {
	return filepath.Join(dir, fmt.Sprintf("results_%s.json", mode))
}

// Generate writes the full text report: a header identifying the run,
// the COMMITS section, the LATENCY section, and a FAILED section when
// any row failed. Rows keep the result's measurement order.
func Generate(w io.Writer, res *harness.RunResult) error {
	if len(res.Measurements) == 0 {
		return fmt.Errorf("no measurements to report")
	}

	fmt.Fprintf(w, "mode: %s  |  backend: %s\n", res.Mode, res.Backend)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "COMMITS")
	fmt.Fprintln(w, res.Mode.DescribeCommits(
		res.Marker, res.Policy.Threshold, res.Policy.Trials,
	))
	fmt.Fprintln(w)

	fmt.Fprintf(w, "  %12s   %4s   %9s   %9s   %4s\n",
		"op", "N", "commits", "expected", "")
	fmt.Fprintln(w, "  "+strings.Repeat("-", 44))

	for _, m := range res.Measurements {
		fmt.Fprintf(w, "  %12s   %4d   %9d   %9d   %s\n",
			m.Op, m.N, m.Commits, m.Expected, m.Status)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "LATENCY")
	fmt.Fprintln(w, res.Mode.DescribeLatency(res.Policy.Trials))
	fmt.Fprintln(w)

	fmt.Fprintf(w, "  %12s   %4s   %8s\n", "op", "N", "wall ms")
	fmt.Fprintln(w, "  "+strings.Repeat("-", 30))

	for _, m := range res.Measurements {
		fmt.Fprintf(w, "  %12s   %4d   %8.2f\n", m.Op, m.N, m.WallMs)
	}

	if len(res.Failures) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "FAILED:")

		for _, f := range res.Failures {
			fmt.Fprintf(w, "  %s\n", f)
		}
	}

	fmt.Fprintln(w)

	return nil
}

// Write renders the report fully in memory, then persists it in a
// single write.
func Write(path string, res *harness.RunResult) error {
	var buf bytes.Buffer
	if err := Generate(&buf, res); err != nil {
		return err
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write report %s: %w", path, err)
	}

	return nil
}

// GenerateJSON writes the run result as indented JSON to w.
func GenerateJSON(w io.Writer, res *harness.RunResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(res)
}

// WriteJSON persists the JSON render in a single write.
func WriteJSON(path string, res *harness.RunResult) error {
	var buf bytes.Buffer
	if err := GenerateJSON(&buf, res); err != nil {
		return err
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write JSON report %s: %w", path, err)
	}

	return nil
}
