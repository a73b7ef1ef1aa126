package swiglu

import (
	"fmt"
	"log"

	"github.com/23skdu/longbow-whetstone/internal/device"
	"github.com/23skdu/longbow-whetstone/internal/simd"
)

// Op selects the SwiGLU implementation strategy for the functional call path.
type Op int

const (
	// OpDecomposed runs every primitive separately: two projections, a
	// materialized silu tensor and an elementwise product.
	OpDecomposed Op = iota
	// OpFused runs two projections but gates with a single silu-mul kernel.
	OpFused
	// OpPackedFused runs one projection on the packed weights and gates
	// with the fused kernel.
	OpPackedFused
)

func (o Op) Name() string {
	switch o {
	case OpDecomposed:
		return "decomposed"
	case OpFused:
		return "fused"
	case OpPackedFused:
		return "fused.p"
	}
	return fmt.Sprintf("Op(%d)", int(o))
}

func (o Op) String() string { return o.Name() }

// ParseOp parses an op name as accepted on the command line.
func ParseOp(s string) (Op, error) {
	switch s {
	case "decomposed":
		return OpDecomposed, nil
	case "fused":
		return OpFused, nil
	case "fused.p", "packed", "packed_fused":
		return OpPackedFused, nil
	}
	return 0, fmt.Errorf("unknown swiglu op %q", s)
}

// Number of entries in an ordered parameter list: w1w2, b1b2, w3, b3.
// Bias entries are nil when the module was built without bias.
const NumOrderedParams = 4

// Functional applies the SwiGLU transform to x using positionally ordered
// parameters, dispatching on the op variant. The returned tensor comes from
// the backend pool; the caller releases it.
func Functional(be device.Backend, x device.Tensor, params []device.Tensor, op Op, pol Policy) device.Tensor {
	out, _ := forward(be, x, params, forwardConfig{
		packed:    op == OpPackedFused,
		fusedGate: op != OpDecomposed,
	}, pol)
	return out
}

// FunctionalGrad is Functional with gradient tracking: it additionally
// returns a Tape retaining the saved tensors needed by Backward. The tape
// can be backward-passed repeatedly until released.
func FunctionalGrad(be device.Backend, x device.Tensor, params []device.Tensor, op Op, pol Policy) (device.Tensor, *Tape) {
	return forward(be, x, params, forwardConfig{
		packed:    op == OpPackedFused,
		fusedGate: op != OpDecomposed,
		track:     true,
	}, pol)
}

type forwardConfig struct {
	packed    bool // single GEMM on the packed weight matrix
	fusedGate bool // gate with the fused silu-mul kernel
	track     bool // retain saved tensors for the backward pass
}

func forward(be device.Backend, x device.Tensor, params []device.Tensor, cfg forwardConfig, pol Policy) (device.Tensor, *Tape) {
	if len(params) != NumOrderedParams {
		log.Panicf("swiglu: expected %d ordered params, got %d", NumOrderedParams, len(params))
	}
	w1w2, b1b2, w3, b3 := params[0], params[1], params[2], params[3]

	rows, in := x.Dims()
	twoH, wIn := w1w2.Dims()
	if wIn != in {
		log.Panicf("swiglu: input features %d do not match weight features %d", in, wIn)
	}
	hidden := twoH / 2
	outF, _ := w3.Dims()

	var tape *Tape
	if cfg.track {
		tape = &Tape{
			be:     be,
			pol:    pol,
			bias:   b1b2 != nil,
			x:      x,
			w1w2:   w1w2,
			w3:     w3,
			hidden: hidden,
		}
	}

	var h device.Tensor
	if cfg.packed {
		h = forwardPacked(be, x, w1w2, b1b2, rows, hidden, pol, tape)
	} else {
		h = forwardSplit(be, x, w1w2, b1b2, rows, hidden, pol, cfg, tape)
	}

	out := be.GetTensor(rows, outF, pol.Storage)
	out.Mul(h, w3.T())
	if b3 != nil {
		out.AddBias(b3)
	}
	if pol.Autocast {
		out.Quantize(pol.Compute)
	}

	if tape != nil {
		tape.h = h
	} else {
		be.PutTensor(h)
	}
	return out, tape
}

// forwardPacked projects through the packed weights in one GEMM and gates
// with the fused silu-mul kernel.
func forwardPacked(be device.Backend, x, w1w2, b1b2 device.Tensor, rows, hidden int, pol Policy, tape *Tape) device.Tensor {
	proj := be.GetTensor(rows, 2*hidden, pol.Storage)
	proj.Mul(x, w1w2.T())
	if b1b2 != nil {
		proj.AddBias(b1b2)
	}
	if pol.Autocast {
		proj.Quantize(pol.Compute)
	}

	h := be.GetTensor(rows, hidden, pol.Storage)
	pd, hd := proj.Data(), h.Data()
	for i := 0; i < rows; i++ {
		row := pd[i*2*hidden : (i+1)*2*hidden]
		simd.SiLUMul(hd[i*hidden:(i+1)*hidden], row[:hidden], row[hidden:])
	}
	h.Quantize(pol.roundDType())

	if tape != nil {
		tape.proj = proj
	} else {
		be.PutTensor(proj)
	}
	return h
}

// forwardSplit projects through the two halves of the packed weights with
// separate GEMMs. With fusedGate the gate is computed by the fused kernel;
// otherwise the silu tensor is materialized and multiplied elementwise.
func forwardSplit(be device.Backend, x, w1w2, b1b2 device.Tensor, rows, hidden int, pol Policy, cfg forwardConfig, tape *Tape) device.Tensor {
	w1 := w1w2.SliceRows(0, hidden)
	w2 := w1w2.SliceRows(hidden, 2*hidden)

	x1 := be.GetTensor(rows, hidden, pol.Storage)
	x1.Mul(x, w1.T())
	x2 := be.GetTensor(rows, hidden, pol.Storage)
	x2.Mul(x, w2.T())
	if b1b2 != nil {
		bd := b1b2.Data()
		addBiasRows(x1, bd[:hidden])
		addBiasRows(x2, bd[hidden:])
	}
	if pol.Autocast {
		x1.Quantize(pol.Compute)
		x2.Quantize(pol.Compute)
	}

	h := be.GetTensor(rows, hidden, pol.Storage)
	if cfg.fusedGate {
		x1d, x2d, hd := x1.Data(), x2.Data(), h.Data()
		for i := 0; i < rows; i++ {
			lo, hi := i*hidden, (i+1)*hidden
			simd.SiLUMul(hd[lo:hi], x1d[lo:hi], x2d[lo:hi])
		}
		h.Quantize(pol.roundDType())
	} else {
		s := be.GetTensor(rows, hidden, pol.Storage)
		s.Copy(x1)
		s.SiLU()
		if pol.Autocast {
			s.Quantize(pol.Compute)
		}
		h.Copy(s)
		h.Hadamard(x2)
		if pol.Autocast {
			h.Quantize(pol.Compute)
		}
		if tape != nil {
			tape.s = s
		} else {
			be.PutTensor(s)
		}
	}

	if tape != nil {
		tape.x1 = x1
		tape.x2 = x2
	} else {
		be.PutTensor(x1)
		be.PutTensor(x2)
	}
	return h
}

// addBiasRows adds a raw bias slice to every row of t.
func addBiasRows(t device.Tensor, bias []float32) {
	rows, cols := t.Dims()
	data := t.Data()
	for i := 0; i < rows; i++ {
		simd.VecAdd(data[i*cols:(i+1)*cols], bias)
	}
	t.Quantize(t.DType())
}
