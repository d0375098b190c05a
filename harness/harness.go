package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/mpslab/commitprobe/check"
	"github.com/mpslab/commitprobe/device"
	"github.com/mpslab/commitprobe/observer"
	"github.com/mpslab/commitprobe/workload"
)

// warmupOps is how many ops each workload runs before measurement so
// one-time device costs land outside the observation windows.
const warmupOps = 64

// Harness drives one verification run against a backend. Logger and
// Console must be set.
type Harness struct {
	Backend  device.Backend
	Counter  observer.Counter
	Config   Config
	Mode     check.Mode
	Logger   *slog.Logger
	Console  io.Writer
	Progress bool
}

// Run executes the full verification: warm-up, then one measurement
// per (workload, n) pair in declaration order, strictly sequential.
// Verification failures are recorded in the result; only setup and
// backend errors abort.
func (h *Harness) Run(ctx context.Context) (*RunResult, error) {
	specs, err := h.Config.Specs()
	if err != nil {
		return nil, err
	}

	res := &RunResult{
		Mode:    h.Mode,
		Backend: h.Backend.Name(),
		Marker:  h.Config.Marker,
		Policy:  h.Config.Policy(),
	}

	if err := h.warmup(ctx, specs); err != nil {
		return nil, err
	}

	for _, sp := range specs {
		fmt.Fprintf(h.Console, "%s  (%dx%d)\n", sp.Name, sp.Size, sp.Size)
		fmt.Fprintf(h.Console, "  %4s   %8s   %9s   %9s   %4s\n",
			"N", "wall ms", "commits", "expected", "")
		fmt.Fprintln(h.Console, "  "+strings.Repeat("-", 44))

		for _, n := range h.Config.NValues {
			wallMs, commits, err := h.measure(ctx, sp, n)
			if err != nil {
				return nil, fmt.Errorf("measure %s n=%d: %w", sp.Name, n, err)
			}

			status, expected := check.Judge(
				h.Mode, n, h.Config.Threshold, h.Config.Trials, commits,
			)

			res.Measurements = append(res.Measurements, Measurement{
				Op:       sp.Name,
				N:        n,
				WallMs:   wallMs,
				Commits:  commits,
				Expected: expected,
				Status:   status,
			})

			if !status.OK() {
				res.Failures = append(res.Failures, fmt.Sprintf(
					"%s n=%d: got %d commits, expected ~%d",
					sp.Name, n, commits, expected,
				))
			}

			fmt.Fprintf(h.Console, "  %4d   %8.2f   %9d   %9d   %s\n",
				n, wallMs, commits, expected, status)
		}

		fmt.Fprintln(h.Console)
	}

	h.Logger.InfoContext(ctx, "run complete",
		slog.Int("measurements", len(res.Measurements)),
		slog.Int("failures", len(res.Failures)),
	)

	return res, nil
}

// warmup runs each workload briefly and synchronizes once.
func (h *Harness) warmup(ctx context.Context, specs []workload.Spec) error {
	fmt.Fprint(h.Console, "warming up... ")

	h.Logger.InfoContext(ctx, "warming up",
		slog.Int("ops", warmupOps),
		slog.Int("workloads", len(specs)),
	)

	for _, sp := range specs {
		if _, err := workload.Run(h.Backend, sp, warmupOps); err != nil {
			return fmt.Errorf("warm up %s: %w", sp.Name, err)
		}
	}

	if err := h.Backend.Synchronize(); err != nil {
		return fmt.Errorf("synchronize after warm-up: %w", err)
	}

	fmt.Fprintln(h.Console, "done.")
	fmt.Fprintln(h.Console)

	return nil
}

// measure opens one observation window around trials timed runs of n
// ops. Each trial is bounded by a synchronize before the clock starts
// and another before it stops, so a trial's wall time covers exactly
// its own enqueued work.
func (h *Harness) measure(
	ctx context.Context,
	sp workload.Spec,
	n int,
) (wallMs float64, commits int, err error) {
	win, err := h.Counter.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("open observation window: %w", err)
	}

	var bar *progressbar.ProgressBar
	if h.Progress {
		bar = progressbar.NewOptions(h.Config.Trials,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription(
				fmt.Sprintf("%s n=%d", sp.Name, n),
			),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}

	durations := make([]time.Duration, 0, h.Config.Trials)

	for trial := 0; trial < h.Config.Trials; trial++ {
		if err := h.Backend.Synchronize(); err != nil {
			win.End()

			return 0, 0, fmt.Errorf(
				"synchronize before trial %d: %w", trial, err,
			)
		}

		start := time.Now()

		if _, err := workload.Run(h.Backend, sp, n); err != nil {
			win.End()

			return 0, 0, fmt.Errorf("trial %d: %w", trial, err)
		}

		if err := h.Backend.Synchronize(); err != nil {
			win.End()

			return 0, 0, fmt.Errorf(
				"synchronize after trial %d: %w", trial, err,
			)
		}

		durations = append(durations, time.Since(start))

		if bar != nil {
			bar.Add(1)
		}
	}

	if bar != nil {
		bar.Finish()
	}

	commits, err = win.End()
	if err != nil {
		return 0, 0, fmt.Errorf("close observation window: %w", err)
	}

	return trimmedMean(durations).Seconds() * 1000, commits, nil
}

// trimmedMean averages the durations, dropping the single min and max
// once more than four samples exist.
func trimmedMean(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	if len(sorted) > 4 {
		sorted = sorted[1 : len(sorted)-1]
	}

	var total time.Duration
	for _, d := range sorted {
		total += d
	}

	return total / time.Duration(len(sorted))
}
