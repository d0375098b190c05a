package harness

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/mpslab/commitprobe/check"
	"github.com/mpslab/commitprobe/device"
	"github.com/mpslab/commitprobe/observer"
)

// fakeBackend counts ops and synchronizes. With a positive interval it
// commits after every interval ops and notifies the hook; synchronize
// discards the partial batch without committing.
type fakeBackend struct {
	interval int
	onCommit func()
	pending  int
	ops      int
	syncs    int
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) RandN(size int) (device.Tensor, error) {
	return &fakeTensor{backend: b}, nil
}

func (b *fakeBackend) Synchronize() error {
	b.syncs++
	b.pending = 0

	return nil
}

func (b *fakeBackend) OnCommit(fn func()) { b.onCommit = fn }

func (b *fakeBackend) op() {
	b.ops++

	if b.interval <= 0 {
		return
	}

	b.pending++
	if b.pending == b.interval {
		b.pending = 0

		if b.onCommit != nil {
			b.onCommit()
		}
	}
}

type fakeTensor struct {
	backend *fakeBackend
}

func (t *fakeTensor) Relu() device.Tensor {
	t.backend.op()

	return t
}

func (t *fakeTensor) MatMul(device.Tensor) device.Tensor {
	t.backend.op()

	return t
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Trials = 3
	cfg.NValues = []int{16, 32, 64}
	cfg.Workloads = []WorkloadConfig{
		{Name: "relu", Op: "relu", Size: 8},
		{Name: "matmul_8", Op: "matmul", Size: 8},
	}

	return cfg
}

func newTestHarness(mode check.Mode, interval int) (*Harness, *fakeBackend) {
	backend := &fakeBackend{interval: interval}
	hook := &observer.Hook{}
	backend.OnCommit(hook.Record)

	h := &Harness{
		Backend: backend,
		Counter: hook,
		Config:  testConfig(),
		Mode:    mode,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Console: io.Discard,
	}

	return h, backend
}

func TestRunAdaptivePeriodicCommitsPass(t *testing.T) {
	h, _ := newTestHarness(check.ModeWithFix, 32)

	res, err := h.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(res.Failures) != 0 {
		t.Errorf("failures = %v, want none", res.Failures)
	}

	wantStatus := map[int]check.Status{
		16: check.StatusSkip,
		32: check.StatusPass,
		64: check.StatusPass,
	}
	wantCommits := map[int]int{16: 0, 32: 3, 64: 6}

	for _, m := range res.Measurements {
		if m.Status != wantStatus[m.N] {
			t.Errorf("%s n=%d: status = %q, want %q",
				m.Op, m.N, m.Status, wantStatus[m.N])
		}
		if m.Commits != wantCommits[m.N] {
			t.Errorf("%s n=%d: commits = %d, want %d",
				m.Op, m.N, m.Commits, wantCommits[m.N])
		}
	}
}

func TestRunAdaptiveMissingCommitsFail(t *testing.T) {
	h, _ := newTestHarness(check.ModeWithFix, 0)

	res, err := h.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Rows below twice the threshold stay inside the tolerance band
	// even with zero commits; only the n=64 rows can fail.
	wantStatus := map[int]check.Status{
		16: check.StatusSkip,
		32: check.StatusPass,
		64: check.StatusFail,
	}

	for _, m := range res.Measurements {
		if m.Status != wantStatus[m.N] {
			t.Errorf("%s n=%d: status = %q, want %q",
				m.Op, m.N, m.Status, wantStatus[m.N])
		}
	}

	wantFailures := []string{
		"relu n=64: got 0 commits, expected ~6",
		"matmul_8 n=64: got 0 commits, expected ~6",
	}

	if len(res.Failures) != len(wantFailures) {
		t.Fatalf("failures = %v, want %v", res.Failures, wantFailures)
	}

	for i, want := range wantFailures {
		if res.Failures[i] != want {
			t.Errorf("failure %d = %q, want %q", i, res.Failures[i], want)
		}
	}
}

func TestRunBaselineNoCommitsPass(t *testing.T) {
	h, _ := newTestHarness(check.ModeWithoutFix, 0)

	res, err := h.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(res.Failures) != 0 {
		t.Errorf("failures = %v, want none", res.Failures)
	}

	for _, m := range res.Measurements {
		if m.Commits != 0 {
			t.Errorf("%s n=%d: commits = %d, want 0", m.Op, m.N, m.Commits)
		}
		if !m.Status.OK() {
			t.Errorf("%s n=%d: status = %q, want pass or skip",
				m.Op, m.N, m.Status)
		}
	}
}

func TestRunBaselinePeriodicCommitsFail(t *testing.T) {
	h, _ := newTestHarness(check.ModeWithoutFix, 32)

	res, err := h.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for _, m := range res.Measurements {
		want := check.StatusFail
		if m.N < 32 {
			want = check.StatusSkip
		}

		if m.Status != want {
			t.Errorf("%s n=%d: status = %q, want %q", m.Op, m.N, m.Status, want)
		}
	}

	if len(res.Failures) != 4 {
		t.Errorf("failures = %d, want 4", len(res.Failures))
	}
}

func TestRunMeasurementOrder(t *testing.T) {
	h, _ := newTestHarness(check.ModeWithFix, 32)

	res, err := h.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []struct {
		op string
		n  int
	}{
		{"relu", 16}, {"relu", 32}, {"relu", 64},
		{"matmul_8", 16}, {"matmul_8", 32}, {"matmul_8", 64},
	}

	if len(res.Measurements) != len(want) {
		t.Fatalf("measurements = %d, want %d", len(res.Measurements), len(want))
	}

	for i, m := range res.Measurements {
		if m.Op != want[i].op || m.N != want[i].n {
			t.Errorf("row %d = %s n=%d, want %s n=%d",
				i, m.Op, m.N, want[i].op, want[i].n)
		}
	}
}

func TestRunResultIdentity(t *testing.T) {
	h, _ := newTestHarness(check.ModeWithFix, 32)

	res, err := h.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res.Mode != check.ModeWithFix {
		t.Errorf("mode = %q, want with_fix", res.Mode)
	}
	if res.Backend != "fake" {
		t.Errorf("backend = %q, want fake", res.Backend)
	}
	if res.Marker != "[MPS commit]" {
		t.Errorf("marker = %q, want [MPS commit]", res.Marker)
	}
	if res.Policy.Threshold != 32 || res.Policy.Trials != 3 {
		t.Errorf("policy = %+v, want threshold 32 trials 3", res.Policy)
	}
}

func TestRunSyncBarriers(t *testing.T) {
	h, backend := newTestHarness(check.ModeWithFix, 32)

	if _, err := h.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// One warm-up synchronize plus two per trial per window.
	windows := len(h.Config.Workloads) * len(h.Config.NValues)
	wantSyncs := 1 + windows*h.Config.Trials*2

	if backend.syncs != wantSyncs {
		t.Errorf("syncs = %d, want %d", backend.syncs, wantSyncs)
	}
}

func TestRunOpCount(t *testing.T) {
	h, backend := newTestHarness(check.ModeWithFix, 32)

	if _, err := h.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	perWorkload := 0
	for _, n := range h.Config.NValues {
		perWorkload += n * h.Config.Trials
	}

	wantOps := len(h.Config.Workloads) * (warmupOps + perWorkload)

	if backend.ops != wantOps {
		t.Errorf("ops = %d, want %d", backend.ops, wantOps)
	}
}

func TestRunWarmupCommitsOutsideWindows(t *testing.T) {
	h, _ := newTestHarness(check.ModeWithFix, 32)

	res, err := h.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Warm-up fires commits before the first window opens; the first
	// row must still observe only its own trials.
	first := res.Measurements[0]
	if first.Commits != 0 {
		t.Errorf("first row commits = %d, want 0 (n=16 never triggers)",
			first.Commits)
	}
}

type failingCounter struct{}

func (failingCounter) Begin(context.Context) (observer.Window, error) {
	return nil, errors.New("no subscription")
}

func TestRunCounterFailureAborts(t *testing.T) {
	h, _ := newTestHarness(check.ModeWithFix, 32)
	h.Counter = failingCounter{}

	_, err := h.Run(context.Background())
	if err == nil {
		t.Fatal("expected error when the counter cannot begin")
	}

	if !strings.Contains(err.Error(), "open observation window") {
		t.Errorf("error = %v, want observation window context", err)
	}
}

func TestRunConsoleOutput(t *testing.T) {
	var console bytes.Buffer

	h, _ := newTestHarness(check.ModeWithFix, 32)
	h.Console = &console

	if _, err := h.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	out := console.String()

	if !strings.Contains(out, "warming up... done.") {
		t.Error("missing warm-up line")
	}
	if !strings.Contains(out, "relu  (8x8)") {
		t.Error("missing relu table header")
	}
	if !strings.Contains(out, "matmul_8  (8x8)") {
		t.Error("missing matmul table header")
	}
	if !strings.Contains(out, "  "+strings.Repeat("-", 44)) {
		t.Error("missing table separator")
	}
	if !strings.Contains(out, "commits") || !strings.Contains(out, "expected") {
		t.Error("missing column labels")
	}
}

func TestTrimmedMean(t *testing.T) {
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }

	tests := []struct {
		name      string
		durations []time.Duration
		want      time.Duration
	}{
		{"empty", nil, 0},
		{"single", []time.Duration{ms(2)}, ms(2)},
		{"four keeps all", []time.Duration{ms(40), ms(10), ms(20), ms(30)}, ms(25)},
		{"five trims min and max", []time.Duration{ms(100), ms(10), ms(20), ms(30), ms(1)}, ms(20)},
		{"outliers dropped", []time.Duration{ms(1000), ms(10), ms(10), ms(10), ms(10), ms(10)}, ms(10)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := trimmedMean(tt.durations); got != tt.want {
				t.Errorf("trimmedMean = %v, want %v", got, tt.want)
			}
		})
	}
}
