package swiglu

import (
	"math"
	"math/rand"

	"github.com/23skdu/longbow-whetstone/internal/device"
)

// Module is a SwiGLU feed-forward block with packed weights:
//
//	out = (silu(x·W1ᵀ + b1) ⊙ (x·W2ᵀ + b2))·W3ᵀ + b3
//
// W1 and W2 are stored contiguously as one (2H, I) matrix so the packed
// fused op can project both halves with a single GEMM; the biases are packed
// the same way. Output features equal input features.
type Module struct {
	be             device.Backend
	inFeatures     int
	hiddenFeatures int
	bias           bool

	w1w2 device.Tensor // (2H, I)
	b1b2 device.Tensor // (1, 2H), nil without bias
	w3   device.Tensor // (I, H)
	b3   device.Tensor // (1, I), nil without bias
}

// NewModule constructs a module with freshly initialized parameters on the
// backend, stored at the given dtype. Weights and biases use the usual
// uniform(-1/sqrt(fan_in), 1/sqrt(fan_in)) linear-layer initialization.
func NewModule(be device.Backend, inFeatures, hiddenFeatures int, bias bool, dtype device.DType, rng *rand.Rand) *Module {
	m := &Module{
		be:             be,
		inFeatures:     inFeatures,
		hiddenFeatures: hiddenFeatures,
		bias:           bias,
	}

	m.w1w2 = be.GetTensor(2*hiddenFeatures, inFeatures, dtype)
	initUniform(m.w1w2, inFeatures, rng)
	m.w3 = be.GetTensor(inFeatures, hiddenFeatures, dtype)
	initUniform(m.w3, hiddenFeatures, rng)

	if bias {
		m.b1b2 = be.GetTensor(1, 2*hiddenFeatures, dtype)
		initUniform(m.b1b2, inFeatures, rng)
		m.b3 = be.GetTensor(1, inFeatures, dtype)
		initUniform(m.b3, hiddenFeatures, rng)
	}

	return m
}

func (m *Module) InFeatures() int     { return m.inFeatures }
func (m *Module) HiddenFeatures() int { return m.hiddenFeatures }
func (m *Module) HasBias() bool       { return m.bias }

// OrderedParams returns the parameters in the fixed positional order of the
// functional op signature: w1w2, b1b2, w3, b3. Bias slots are nil when the
// module has no bias.
func (m *Module) OrderedParams() []device.Tensor {
	return []device.Tensor{m.w1w2, m.b1b2, m.w3, m.b3}
}

// Forward runs the eager (unfused) path: separate projections, a
// materialized silu tensor and an elementwise product. The returned tensor
// comes from the backend pool.
func (m *Module) Forward(x device.Tensor, pol Policy) device.Tensor {
	out, _ := forward(m.be, x, m.OrderedParams(), forwardConfig{}, pol)
	return out
}

// ForwardGrad is Forward with gradient tracking. The returned tape performs
// the eager (unfused) backward pass.
func (m *Module) ForwardGrad(x device.Tensor, pol Policy) (device.Tensor, *Tape) {
	return forward(m.be, x, m.OrderedParams(), forwardConfig{track: true}, pol)
}

// Release returns all parameters to the backend pool.
func (m *Module) Release() {
	for _, p := range m.OrderedParams() {
		if p != nil {
			m.be.PutTensor(p)
		}
	}
	m.w1w2, m.b1b2, m.w3, m.b3 = nil, nil, nil, nil
}

func initUniform(t device.Tensor, fanIn int, rng *rand.Rand) {
	bound := float32(1.0 / math.Sqrt(float64(fanIn)))
	r, c := t.Dims()
	data := make([]float32, r*c)
	for i := range data {
		data[i] = (2*rng.Float32() - 1) * bound
	}
	t.CopyFromFloat32(data)
}
