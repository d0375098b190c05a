package device

import (
	"fmt"
	mrand "math/rand"
	"sync"
	"time"
)

func init() {
	Register("cpu", NewCPU())
}

// CPU is a synchronous in-process reference backend. Every op executes
// eagerly, nothing is batched, and no commit ever happens, so it
// exercises the full measurement pipeline on machines without a GPU.
type CPU struct {
	mu  sync.Mutex
	rng *mrand.Rand
}

// NewCPU returns a CPU backend with a time-seeded generator.
func NewCPU() *CPU {
	return &CPU{
		rng: mrand.New(mrand.NewSource(time.Now().UnixNano())),
	}
}

// Name implements Backend.
func (c *CPU) Name() string { return "cpu" }

// RandN allocates a size x size matrix of normally distributed values.
func (c *CPU) RandN(size int) (Tensor, error) {
	if size <= 0 {
		return nil, fmt.Errorf("tensor size must be positive, got %d", size)
	}

	t := &cpuTensor{size: size, data: make([]float32, size*size)}

	c.mu.Lock()
	for i := range t.data {
		t.data[i] = float32(c.rng.NormFloat64())
	}
	c.mu.Unlock()

	return t, nil
}

// Synchronize is immediate: there is never any enqueued work.
func (c *CPU) Synchronize() error { return nil }

// OnCommit accepts the callback but never invokes it: the cpu backend
// performs no batched commits.
func (c *CPU) OnCommit(func()) {}

type cpuTensor struct {
	size int
	data []float32
}

func (t *cpuTensor) Relu() Tensor {
	out := &cpuTensor{size: t.size, data: make([]float32, len(t.data))}

	for i, v := range t.data {
		if v > 0 {
			out.data[i] = v
		}
	}

	return out
}

func (t *cpuTensor) MatMul(other Tensor) Tensor {
	o := other.(*cpuTensor)
	out := &cpuTensor{size: t.size, data: make([]float32, len(t.data))}
	n := t.size

	for i := 0; i < n; i++ {
		for k := 0; k < n; k++ {
			a := t.data[i*n+k]
			row := o.data[k*n : (k+1)*n]

			for j := 0; j < n; j++ {
				out.data[i*n+j] += a * row[j]
			}
		}
	}

	return out
}
