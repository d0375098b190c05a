package observer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
)

// DefaultSettle is how long a fresh subscription is given to attach
// before the measured trials start.
const DefaultSettle = 300 * time.Millisecond

// LogStream is a Counter backed by the OS unified log. Each window
// spawns one `log stream` subscription scoped to this process and the
// marker, and counts matching lines once the stream is fully drained.
type LogStream struct {
	// Marker is the substring that identifies commit events.
	Marker string

	// PID scopes the subscription. 0 means the current process.
	PID int

	// Settle is the delay between subscription start and the window
	// becoming usable. 0 means DefaultSettle.
	Settle time.Duration

	// LogPath overrides where the log binary is found. Empty means
	// look it up on PATH.
	LogPath string

	Logger *slog.Logger
}

// NewLogStream returns a log-stream counter for the current process.
func NewLogStream(
	marker string,
	settle time.Duration,
	logger *slog.Logger,
) *LogStream {
	return &LogStream{
		Marker: marker,
		Settle: settle,
		Logger: logger.With(slog.String("counter", "logstream")),
	}
}

// Begin spawns the subscription, waits for it to settle, and returns
// the open window. A spawn failure is fatal to the caller's run; there
// is no retry.
func (l *LogStream) Begin(ctx context.Context) (Window, error) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}

	bin := l.LogPath
	if bin == "" {
		resolved, err := exec.LookPath("log")
		if err != nil {
			return nil, fmt.Errorf("locate log binary: %w", err)
		}

		bin = resolved
	}

	pid := l.PID
	if pid == 0 {
		pid = os.Getpid()
	}

	predicate := fmt.Sprintf(
		`processID == %d AND eventMessage CONTAINS "%s"`, pid, l.Marker,
	)

	cmd := exec.CommandContext(ctx, bin,
		"stream", "--style", "ndjson", "--predicate", predicate,
	)
	cmd.Stderr = io.Discard

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("pipe log stream stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start log stream: %w", err)
	}

	w := &logWindow{cmd: cmd, logger: logger}

	w.eg.Go(func() error {
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			if matchLine(scanner.Text(), l.Marker) {
				w.count++
			}
		}

		return scanner.Err()
	})

	settle := l.Settle
	if settle == 0 {
		settle = DefaultSettle
	}

	select {
	case <-time.After(settle):
	case <-ctx.Done():
		// CommandContext kills the subprocess once ctx is done; drain
		// and reap before reporting the cancellation.
		_ = w.eg.Wait()
		_ = cmd.Wait()

		return nil, ctx.Err()
	}

	logger.Debug("subscription open",
		slog.Int("pid", pid),
		slog.String("marker", l.Marker),
	)

	return w, nil
}

type logWindow struct {
	cmd    *exec.Cmd
	logger *slog.Logger
	eg     errgroup.Group
	count  int
}

// End terminates the subscription, drains the stream to EOF so late
// events are still counted, reaps the subprocess, and only then
// returns the total.
func (w *logWindow) End() (int, error) {
	if err := w.cmd.Process.Signal(syscall.SIGTERM); err != nil &&
		!errors.Is(err, os.ErrProcessDone) {
		w.logger.Warn("terminate log stream",
			slog.String("error", err.Error()),
		)
	}

	readErr := w.eg.Wait()

	// The stream dies by our signal, so its exit status is expected
	// to be non-zero.
	_ = w.cmd.Wait()

	if readErr != nil {
		return 0, fmt.Errorf("drain log stream: %w", readErr)
	}

	w.logger.Debug("subscription closed", slog.Int("count", w.count))

	return w.count, nil
}

// matchLine reports whether one stream line is a marker event. ndjson
// lines carry the message in eventMessage; anything else falls back to
// a raw substring check. The "Filtering the log data" preamble echoes
// the predicate, which contains the marker, and must not be counted.
func matchLine(line, marker string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	if gjson.Valid(line) {
		return strings.Contains(
			gjson.Get(line, "eventMessage").String(), marker,
		)
	}

	if strings.HasPrefix(line, "Filtering the log data") {
		return false
	}

	return strings.Contains(line, marker)
}
