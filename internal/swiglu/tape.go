package swiglu

import (
	"log"

	"github.com/23skdu/longbow-whetstone/internal/device"
	"github.com/23skdu/longbow-whetstone/internal/simd"
)

// Tape retains the tensors saved by a tracked forward pass. Backward may be
// called repeatedly against the same tape (the graph is retained); Release
// returns the saved tensors to the backend pool.
type Tape struct {
	be     device.Backend
	pol    Policy
	bias   bool
	hidden int

	// references, not owned
	x    device.Tensor
	w1w2 device.Tensor
	w3   device.Tensor

	// saved tensors, owned by the tape
	proj   device.Tensor // packed pre-activation (packed-fused path)
	x1, x2 device.Tensor // split pre-activations (fused/decomposed paths)
	s      device.Tensor // silu(x1), decomposed path only
	h      device.Tensor // gated hidden state
}

// Grads holds the gradients produced by one backward pass. All tensors come
// from the backend pool; Release returns them.
type Grads struct {
	DX    device.Tensor
	DW1W2 device.Tensor
	DB1B2 device.Tensor // nil when the module has no bias
	DW3   device.Tensor
	DB3   device.Tensor // nil when the module has no bias
}

func (g *Grads) Release(be device.Backend) {
	for _, t := range []device.Tensor{g.DX, g.DW1W2, g.DB1B2, g.DW3, g.DB3} {
		if t != nil {
			be.PutTensor(t)
		}
	}
}

// Backward propagates grad (shaped like the forward output) through the
// retained graph and returns gradients for the input and every parameter.
func (t *Tape) Backward(grad device.Tensor) *Grads {
	be := t.be
	rows, _ := t.x.Dims()
	gr, gc := grad.Dims()
	hr, hc := t.h.Dims()
	outF, _ := t.w3.Dims()
	if gr != hr || gc != outF {
		log.Panicf("Backward: grad shape %dx%d does not match output %dx%d", gr, gc, hr, outF)
	}
	hidden := hc
	_, in := t.w1w2.Dims()

	g := &Grads{}

	// Output projection
	dh := be.GetTensor(rows, hidden, t.pol.Storage)
	dh.Mul(grad, t.w3)
	g.DW3 = be.GetTensor(outF, hidden, t.pol.Storage)
	g.DW3.Mul(grad.T(), t.h)
	if t.bias {
		g.DB3 = colSum(be, grad, t.pol.Storage)
	}
	if t.pol.Autocast {
		dh.Quantize(t.pol.Compute)
		g.DW3.Quantize(t.pol.Compute)
	}

	// Gating
	var dproj device.Tensor
	if t.proj != nil {
		dproj = t.backwardGateFused(dh, t.proj.Data(), nil)
	} else if t.s == nil {
		dproj = t.backwardGateFused(dh, t.x1.Data(), t.x2.Data())
	} else {
		dproj = t.backwardGateEager(dh)
	}
	be.PutTensor(dh)

	// Input projection through the packed weights
	g.DW1W2 = be.GetTensor(2*hidden, in, t.pol.Storage)
	g.DW1W2.Mul(dproj.T(), t.x)
	if t.bias {
		g.DB1B2 = colSum(be, dproj, t.pol.Storage)
	}
	g.DX = be.GetTensor(rows, in, t.pol.Storage)
	g.DX.Mul(dproj, t.w1w2)
	if t.pol.Autocast {
		g.DW1W2.Quantize(t.pol.Compute)
		g.DX.Quantize(t.pol.Compute)
	}
	be.PutTensor(dproj)

	return g
}

// backwardGateFused computes the packed (rows, 2H) gradient of the gating in
// one fused pass. The pre-activations are given either as one packed slice
// (x2d nil) or as two split slices.
func (t *Tape) backwardGateFused(dh device.Tensor, x1d, x2d []float32) device.Tensor {
	rows, hidden := dims2(dh)
	dproj := t.be.GetTensor(rows, 2*hidden, t.pol.Storage)
	dd, dhd := dproj.Data(), dh.Data()
	for i := 0; i < rows; i++ {
		drow := dd[i*2*hidden : (i+1)*2*hidden]
		var gate, up []float32
		if x2d == nil {
			packed := x1d[i*2*hidden : (i+1)*2*hidden]
			gate, up = packed[:hidden], packed[hidden:]
		} else {
			gate, up = x1d[i*hidden:(i+1)*hidden], x2d[i*hidden:(i+1)*hidden]
		}
		simd.SiLUMulGrad(drow[:hidden], drow[hidden:], dhd[i*hidden:(i+1)*hidden], gate, up)
	}
	dproj.Quantize(t.pol.roundDType())
	return dproj
}

// backwardGateEager materializes dx1 and dx2 separately, mirroring the
// unfused forward, and packs them for the weight GEMMs.
func (t *Tape) backwardGateEager(dh device.Tensor) device.Tensor {
	be := t.be
	rows, hidden := dims2(dh)

	dx2 := be.GetTensor(rows, hidden, t.pol.Storage)
	dx2.Copy(dh)
	dx2.Hadamard(t.s)

	dx1 := be.GetTensor(rows, hidden, t.pol.Storage)
	dx1.Copy(dh)
	dx1.Hadamard(t.x2)
	siluDerivMul(dx1, t.x1)
	if t.pol.Autocast {
		dx1.Quantize(t.pol.Compute)
		dx2.Quantize(t.pol.Compute)
	}

	dproj := be.GetTensor(rows, 2*hidden, t.pol.Storage)
	dd, d1, d2 := dproj.Data(), dx1.Data(), dx2.Data()
	for i := 0; i < rows; i++ {
		copy(dd[i*2*hidden:i*2*hidden+hidden], d1[i*hidden:(i+1)*hidden])
		copy(dd[i*2*hidden+hidden:(i+1)*2*hidden], d2[i*hidden:(i+1)*hidden])
	}
	dproj.Quantize(t.pol.roundDType())

	be.PutTensor(dx1)
	be.PutTensor(dx2)
	return dproj
}

// Release returns all saved tensors to the pool. The tape must not be used
// afterwards.
func (t *Tape) Release() {
	for _, saved := range []device.Tensor{t.proj, t.x1, t.x2, t.s, t.h} {
		if saved != nil {
			t.be.PutTensor(saved)
		}
	}
	t.proj, t.x1, t.x2, t.s, t.h = nil, nil, nil, nil, nil
}

// siluDerivMul multiplies dst elementwise by silu'(pre).
func siluDerivMul(dst device.Tensor, pre device.Tensor) {
	dd, pd := dst.Data(), pre.Data()
	for i, z := range pd {
		sig := simd.Sigmoid(z)
		dd[i] *= sig * (1 + z*(1-sig))
	}
	dst.Quantize(dst.DType())
}

// colSum reduces src (rows, cols) to a (1, cols) column sum tensor.
func colSum(be device.Backend, src device.Tensor, dtype device.DType) device.Tensor {
	rows, cols := src.Dims()
	out := be.GetTensor(1, cols, dtype)
	od, sd := out.Data(), src.Data()
	for i := 0; i < rows; i++ {
		simd.VecAdd(od, sd[i*cols:(i+1)*cols])
	}
	out.Quantize(dtype)
	return out
}

func dims2(t device.Tensor) (int, int) {
	r, c := t.Dims()
	return r, c
}
