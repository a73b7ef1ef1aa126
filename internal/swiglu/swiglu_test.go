package swiglu

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-whetstone/internal/device"
)

var f32Policy = Policy{Storage: device.Float32, Compute: device.Float32}

func newTestInput(be device.Backend, rows, cols int, dtype device.DType) device.Tensor {
	x := be.GetTensor(rows, cols, dtype)
	device.Randn(x, rand.New(rand.NewSource(42)))
	return x
}

func TestOrderedParams(t *testing.T) {
	be := device.NewCPUBackend()
	rng := rand.New(rand.NewSource(1))

	m := NewModule(be, 6, 4, true, device.Float32, rng)
	params := m.OrderedParams()
	require.Len(t, params, NumOrderedParams)

	r, c := params[0].Dims()
	assert.Equal(t, 8, r, "w1w2 rows must be 2H")
	assert.Equal(t, 6, c, "w1w2 cols must be I")
	r, c = params[1].Dims()
	assert.Equal(t, 1, r)
	assert.Equal(t, 8, c, "b1b2 must pack both biases")
	r, c = params[2].Dims()
	assert.Equal(t, 6, r, "w3 rows must be I")
	assert.Equal(t, 4, c, "w3 cols must be H")
	r, c = params[3].Dims()
	assert.Equal(t, 1, r)
	assert.Equal(t, 6, c)

	noBias := NewModule(be, 6, 4, false, device.Float32, rng)
	params = noBias.OrderedParams()
	require.Len(t, params, NumOrderedParams)
	assert.Nil(t, params[1])
	assert.Nil(t, params[3])
}

func TestFunctional_VariantsMatchEager(t *testing.T) {
	be := device.NewCPUBackend()

	for _, bias := range []bool{true, false} {
		rng := rand.New(rand.NewSource(7))
		m := NewModule(be, 6, 4, bias, device.Float32, rng)
		x := newTestInput(be, 3, 6, device.Float32)

		eager := m.Forward(x, f32Policy)
		want := eager.ToHost()

		for _, op := range []Op{OpDecomposed, OpFused, OpPackedFused} {
			out := Functional(be, x, m.OrderedParams(), op, f32Policy)
			got := out.ToHost()
			require.Len(t, got, len(want))
			for i := range want {
				assert.InDelta(t, want[i], got[i], 1e-5,
					"op %s bias=%v mismatch at %d", op.Name(), bias, i)
			}
			be.PutTensor(out)
		}

		be.PutTensor(eager)
		be.PutTensor(x)
		m.Release()
	}
}

func TestPrecisionPolicies(t *testing.T) {
	cases := []struct {
		precision Precision
		storage   device.DType
		compute   device.DType
		autocast  bool
		label     string
	}{
		{PrecisionBF16, device.BFloat16, device.BFloat16, false, "b16   "},
		{PrecisionF16, device.Float16, device.Float16, false, "f16   "},
		{PrecisionAutocastHalf, device.Float32, device.Float16, true, "f16.ac"},
	}

	for _, c := range cases {
		pol := c.precision.Policy()
		assert.Equal(t, c.storage, pol.Storage, c.precision.String())
		assert.Equal(t, c.compute, pol.Compute, c.precision.String())
		assert.Equal(t, c.autocast, pol.Autocast, c.precision.String())
		assert.Equal(t, c.label, c.precision.Label())
	}
}

func TestParse(t *testing.T) {
	op, err := ParseOp("fused.p")
	require.NoError(t, err)
	assert.Equal(t, OpPackedFused, op)
	assert.Equal(t, "fused.p", op.Name())

	_, err = ParseOp("bogus")
	assert.Error(t, err)

	p, err := ParsePrecision("autocast_half")
	require.NoError(t, err)
	assert.Equal(t, PrecisionAutocastHalf, p)

	_, err = ParsePrecision("fp64")
	assert.Error(t, err)
}

func TestAutocast_LowersToHalf(t *testing.T) {
	be := device.NewCPUBackend()
	rng := rand.New(rand.NewSource(3))

	m := NewModule(be, 6, 4, true, device.Float32, rng)
	x := newTestInput(be, 3, 6, device.Float32)

	pol := PrecisionAutocastHalf.Policy()
	out := Functional(be, x, m.OrderedParams(), OpPackedFused, pol)

	assert.Equal(t, device.Float32, out.DType(), "autocast output keeps f32 storage")
	for i, v := range out.ToHost() {
		assert.Equalf(t, device.Float16.Round(v), v,
			"autocast output value %d not representable in f16", i)
	}

	be.PutTensor(out)
	be.PutTensor(x)
	m.Release()
}

func TestHalfStorage_RunsAllVariants(t *testing.T) {
	be := device.NewCPUBackend()

	for _, dtype := range []device.DType{device.Float16, device.BFloat16} {
		rng := rand.New(rand.NewSource(11))
		m := NewModule(be, 6, 4, true, dtype, rng)
		x := newTestInput(be, 3, 6, dtype)
		pol := Policy{Storage: dtype, Compute: dtype}

		eager := m.Forward(x, pol)
		want := eager.ToHost()

		for _, op := range []Op{OpDecomposed, OpFused, OpPackedFused} {
			out := Functional(be, x, m.OrderedParams(), op, pol)
			got := out.ToHost()
			for i := range want {
				// Rounding points differ between the fused and
				// unfused paths, so only closeness is expected.
				assert.InDelta(t, want[i], got[i], 0.05,
					"%s op %s mismatch at %d", dtype, op.Name(), i)
			}
			be.PutTensor(out)
		}

		be.PutTensor(eager)
		be.PutTensor(x)
		m.Release()
	}
}
