// Package workload defines the op workloads the harness drives through
// a backend: a named op applied repeatedly to a working tensor.
package workload

import (
	"fmt"

	"github.com/mpslab/commitprobe/device"
)

// Func applies one op to the working tensor and returns the result.
type Func func(device.Tensor) device.Tensor

// Spec describes one workload: a display name, the op to apply, and
// the square tensor size it operates on. Specs are fixed for a run.
type Spec struct {
	Name string
	Op   Func
	Size int
}

// Relu is the elementwise max(x, 0) op.
func Relu(x device.Tensor) device.Tensor { return x.Relu() }

// MatMulSelf multiplies the working tensor by itself.
func MatMulSelf(x device.Tensor) device.Tensor { return x.MatMul(x) }

// OpByName resolves a config op kind to its Func.
func OpByName(kind string) (Func, error) {
	switch kind {
	case "relu":
		return Relu, nil
	case "matmul":
		return MatMulSelf, nil
	default:
		return nil, fmt.Errorf("unknown op %q (want relu or matmul)", kind)
	}
}

// Run allocates one size x size tensor on b and applies sp.Op to it n
// times, each application feeding the next. It only enqueues work; the
// caller decides when to synchronize. The final tensor is returned so
// the chain stays live until then.
func Run(b device.Backend, sp Spec, n int) (device.Tensor, error) {
	x, err := b.RandN(sp.Size)
	if err != nil {
		return nil, fmt.Errorf("alloc %dx%d tensor: %w", sp.Size, sp.Size, err)
	}

	for i := 0; i < n; i++ {
		x = sp.Op(x)
	}

	return x, nil
}
