// Package device defines the compute backend contract the harness
// drives, plus a registry that instrumented backends plug into.
package device

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnavailable is returned by Open when no backend is registered
// under the requested name.
var ErrUnavailable = errors.New("backend unavailable")

// Tensor is a square device matrix. Ops enqueue asynchronously on the
// owning backend; failures surface at Backend.Synchronize. Tensors
// never cross backends.
type Tensor interface {
	// Relu returns max(x, 0) elementwise.
	Relu() Tensor

	// MatMul returns the matrix product of the receiver and other.
	MatMul(other Tensor) Tensor
}

// Backend is a compute device the harness can drive.
type Backend interface {
	// Name identifies the backend in reports and logs.
	Name() string

	// RandN allocates a size x size matrix with random entries.
	RandN(size int) (Tensor, error)

	// Synchronize blocks until all enqueued work has completed.
	Synchronize() error
}

// CommitNotifier is implemented by backends that can invoke a
// callback each time they commit a batch of enqueued work. It is the
// in-process alternative to scraping the OS log for commit markers.
type CommitNotifier interface {
	OnCommit(fn func())
}

var (
	backendsMu sync.RWMutex
	backends   = make(map[string]Backend)
)

// Register makes a backend available under the given name. It is
// intended to be called from an adapter's init function. Registering
// a nil backend or the same name twice panics.
func Register(name string, b Backend) {
	backendsMu.Lock()
	defer backendsMu.Unlock()

	if b == nil {
		panic("device: Register backend is nil")
	}

	if _, dup := backends[name]; dup {
		panic("device: Register called twice for backend " + name)
	}

	backends[name] = b
}

// Open returns the backend registered under name. The error wraps
// ErrUnavailable when nothing is registered, so callers can treat a
// missing device as a non-failure.
func Open(name string) (Backend, error) {
	backendsMu.RLock()
	defer backendsMu.RUnlock()

	b, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("backend %q: %w", name, ErrUnavailable)
	}

	return b, nil
}

// Names returns the registered backend names, sorted.
func Names() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
