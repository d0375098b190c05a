// Package observer counts commit marker events emitted by a backend
// while a measurement window is open. Evidence comes either from an
// OS log subscription or from an in-process commit hook.
package observer

import (
	"context"
	"sync/atomic"
)

// Window is one open observation. End stops observing and returns the
// number of marker events seen since Begin. End a window exactly once.
type Window interface {
	End() (int, error)
}

// Counter opens observation windows.
type Counter interface {
	Begin(ctx context.Context) (Window, error)
}

// Hook is a Counter fed directly by the backend through its commit
// callback. Record is safe to call from any goroutine.
type Hook struct {
	n atomic.Int64
}

// Record counts one commit. Hand it to the backend's OnCommit.
func (h *Hook) Record() {
	h.n.Add(1)
}

// Begin snapshots the running count; the window's End returns how many
// commits arrived after the snapshot. There is nothing to settle.
func (h *Hook) Begin(_ context.Context) (Window, error) {
	return &hookWindow{hook: h, start: h.n.Load()}, nil
}

type hookWindow struct {
	hook  *Hook
	start int64
}

func (w *hookWindow) End() (int, error) {
	return int(w.hook.n.Load() - w.start), nil
}
