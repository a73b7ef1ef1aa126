package swiglu

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-whetstone/internal/device"
)

// lossFor computes sum(out .* weights) for the current x and params.
func lossFor(be device.Backend, x device.Tensor, params []device.Tensor, op Op, weights []float32) float64 {
	out := Functional(be, x, params, op, f32Policy)
	defer be.PutTensor(out)

	var loss float64
	for i, v := range out.ToHost() {
		loss += float64(v) * float64(weights[i])
	}
	return loss
}

func numericalGrad(be device.Backend, target device.Tensor, i, j int,
	x device.Tensor, params []device.Tensor, op Op, weights []float32) float64 {

	const eps = 1e-2
	orig := target.At(i, j)

	target.Set(i, j, orig+eps)
	plus := lossFor(be, x, params, op, weights)
	target.Set(i, j, orig-eps)
	minus := lossFor(be, x, params, op, weights)
	target.Set(i, j, orig)

	return (plus - minus) / (2 * eps)
}

func TestBackward_GradientCheck(t *testing.T) {
	be := device.NewCPUBackend()

	for _, op := range []Op{OpDecomposed, OpFused, OpPackedFused} {
		for _, bias := range []bool{true, false} {
			rng := rand.New(rand.NewSource(5))
			m := NewModule(be, 3, 4, bias, device.Float32, rng)
			x := newTestInput(be, 2, 3, device.Float32)
			params := m.OrderedParams()

			out, tape := FunctionalGrad(be, x, params, op, f32Policy)
			r, c := out.Dims()
			require.Equal(t, 2, r)
			require.Equal(t, 3, c)

			// Upstream gradient: random loss weights
			weights := make([]float32, r*c)
			for i := range weights {
				weights[i] = rng.Float32()*2 - 1
			}
			grad := be.GetTensor(r, c, device.Float32)
			grad.CopyFromFloat32(weights)

			g := tape.Backward(grad)

			// d(loss)/dx
			for i := 0; i < 2; i++ {
				for j := 0; j < 3; j++ {
					num := numericalGrad(be, x, i, j, x, params, op, weights)
					assert.InDeltaf(t, num, float64(g.DX.At(i, j)), 1e-2,
						"op %s bias=%v dX[%d,%d]", op.Name(), bias, i, j)
				}
			}

			// Spot-check packed weight and output projection gradients
			for _, probe := range [][2]int{{0, 0}, {3, 2}, {7, 1}} {
				num := numericalGrad(be, params[0], probe[0], probe[1], x, params, op, weights)
				assert.InDeltaf(t, num, float64(g.DW1W2.At(probe[0], probe[1])), 1e-2,
					"op %s bias=%v dW1W2[%d,%d]", op.Name(), bias, probe[0], probe[1])
			}
			for _, probe := range [][2]int{{0, 0}, {2, 3}} {
				num := numericalGrad(be, params[2], probe[0], probe[1], x, params, op, weights)
				assert.InDeltaf(t, num, float64(g.DW3.At(probe[0], probe[1])), 1e-2,
					"op %s bias=%v dW3[%d,%d]", op.Name(), bias, probe[0], probe[1])
			}

			if bias {
				require.NotNil(t, g.DB1B2)
				require.NotNil(t, g.DB3)
				num := numericalGrad(be, params[1], 0, 1, x, params, op, weights)
				assert.InDeltaf(t, num, float64(g.DB1B2.At(0, 1)), 1e-2,
					"op %s dB1B2[0,1]", op.Name())
				num = numericalGrad(be, params[3], 0, 2, x, params, op, weights)
				assert.InDeltaf(t, num, float64(g.DB3.At(0, 2)), 1e-2,
					"op %s dB3[0,2]", op.Name())
			} else {
				assert.Nil(t, g.DB1B2)
				assert.Nil(t, g.DB3)
			}

			g.Release(be)
			tape.Release()
			be.PutTensor(grad)
			be.PutTensor(out)
			be.PutTensor(x)
			m.Release()
		}
	}
}

func TestBackward_GraphRetained(t *testing.T) {
	be := device.NewCPUBackend()
	rng := rand.New(rand.NewSource(9))

	m := NewModule(be, 3, 4, true, device.Float32, rng)
	x := newTestInput(be, 2, 3, device.Float32)

	out, tape := FunctionalGrad(be, x, m.OrderedParams(), OpPackedFused, f32Policy)
	r, c := out.Dims()
	grad := be.GetTensor(r, c, device.Float32)
	device.Randn(grad, rng)

	first := tape.Backward(grad)
	firstDX := first.DX.ToHost()
	first.Release(be)

	// The graph is retained: a second backward from the same tape must
	// produce identical gradients.
	second := tape.Backward(grad)
	secondDX := second.DX.ToHost()
	assert.Equal(t, firstDX, secondDX)
	second.Release(be)

	tape.Release()
	be.PutTensor(grad)
	be.PutTensor(out)
	be.PutTensor(x)
	m.Release()
}

func TestBackward_ZeroGrad(t *testing.T) {
	be := device.NewCPUBackend()
	rng := rand.New(rand.NewSource(13))

	m := NewModule(be, 3, 4, true, device.Float32, rng)
	x := newTestInput(be, 2, 3, device.Float32)

	out, tape := m.ForwardGrad(x, f32Policy)
	r, c := out.Dims()
	grad := be.GetTensor(r, c, device.Float32) // zero-filled

	g := tape.Backward(grad)
	for name, tensor := range map[string]device.Tensor{
		"dX": g.DX, "dW1W2": g.DW1W2, "dB1B2": g.DB1B2, "dW3": g.DW3, "dB3": g.DB3,
	} {
		require.NotNil(t, tensor, name)
		for i, v := range tensor.ToHost() {
			require.Zerof(t, v, "%s[%d] must be zero", name, i)
		}
	}

	g.Release(be)
	tape.Release()
	be.PutTensor(grad)
	be.PutTensor(out)
	be.PutTensor(x)
	m.Release()
}

func TestFusedAndEagerBackward_Agree(t *testing.T) {
	be := device.NewCPUBackend()
	rng := rand.New(rand.NewSource(17))

	m := NewModule(be, 4, 6, true, device.Float32, rng)
	x := newTestInput(be, 3, 4, device.Float32)

	fusedOut, fusedTape := FunctionalGrad(be, x, m.OrderedParams(), OpPackedFused, f32Policy)
	eagerOut, eagerTape := m.ForwardGrad(x, f32Policy)

	r, c := fusedOut.Dims()
	grad := be.GetTensor(r, c, device.Float32)
	device.Randn(grad, rng)

	fused := fusedTape.Backward(grad)
	eager := eagerTape.Backward(grad)

	fdx, edx := fused.DX.ToHost(), eager.DX.ToHost()
	for i := range fdx {
		assert.InDelta(t, edx[i], fdx[i], 1e-4, "dX[%d]", i)
	}
	fdw, edw := fused.DW1W2.ToHost(), eager.DW1W2.ToHost()
	for i := range fdw {
		assert.InDelta(t, edw[i], fdw[i], 1e-4, "dW1W2[%d]", i)
	}

	fused.Release(be)
	eager.Release(be)
	fusedTape.Release()
	eagerTape.Release()
	be.PutTensor(grad)
	be.PutTensor(fusedOut)
	be.PutTensor(eagerOut)
	be.PutTensor(x)
	m.Release()
}
