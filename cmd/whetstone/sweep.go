package main

import (
	"fmt"
	"math/rand"

	"github.com/23skdu/longbow-whetstone/internal/bench"
	"github.com/23skdu/longbow-whetstone/internal/device"
	"github.com/23skdu/longbow-whetstone/internal/swiglu"
)

// Benchmarked problem sizes, as (batch, input features, hidden features).
var defaultShapes = [][3]int{
	// ViT-Giant
	{9456, 1536, 4096},
	{4440, 1536, 4096},
	{4728, 1536, 4096},
	// Some smaller shapes as well
	{4728, 1536, 1024},
}

var defaultPrecisions = []swiglu.Precision{
	swiglu.PrecisionBF16,
	swiglu.PrecisionF16,
	swiglu.PrecisionAutocastHalf,
}

var defaultBias = []bool{true, false}

// benchCase is one immutable benchmark configuration.
type benchCase struct {
	Shape     [3]int
	Precision swiglu.Precision
	Bias      bool
}

func (c benchCase) subLabel() string {
	bstr := "nobi"
	if c.Bias {
		bstr = "bias"
	}
	return fmt.Sprintf("%s B=%d, I=%d, H=%d %s",
		c.Precision.Label(), c.Shape[0], c.Shape[1], c.Shape[2], bstr)
}

// enumerateCases produces the full Cartesian product of the option lists,
// shape order outermost, then precision, then bias. Every combination is
// emitted exactly once; empty inputs yield an empty list.
func enumerateCases(shapes [][3]int, precisions []swiglu.Precision, bias []bool) []benchCase {
	cases := make([]benchCase, 0, len(shapes)*len(precisions)*len(bias))
	for _, s := range shapes {
		for _, p := range precisions {
			for _, b := range bias {
				cases = append(cases, benchCase{Shape: s, Precision: p, Bias: b})
			}
		}
	}
	return cases
}

// caseSetup allocates the per-case input tensor and module. Both come from
// the backend pool so the cleanup of one case feeds the allocations of the
// next.
func caseSetup(be device.Backend, c benchCase) (device.Tensor, *swiglu.Module, swiglu.Policy) {
	pol := c.Precision.Policy()
	rng := rand.New(rand.NewSource(1))

	x := be.GetTensor(c.Shape[0], c.Shape[1], pol.Storage)
	device.Randn(x, rng)
	module := swiglu.NewModule(be, c.Shape[1], c.Shape[2], c.Bias, pol.Storage, rng)
	return x, module, pol
}

// forwardTimers yields the two forward-pass timers of a case: the functional
// op invoked positionally with the ordered parameters, and the eager module
// invoked with only the input. Both run under the same dtype policy so the
// timings are directly comparable.
func forwardTimers(be device.Backend, op swiglu.Op, c benchCase) ([]*bench.Timer, func()) {
	x, module, pol := caseSetup(be, c)
	params := module.OrderedParams()
	sub := c.subLabel()

	timers := []*bench.Timer{
		{
			Label:       "swiglu_fw",
			SubLabel:    sub,
			Description: op.Name(),
			Stmt: func() {
				out := swiglu.Functional(be, x, params, op, pol)
				be.PutTensor(out)
			},
		},
		{
			Label:       "swiglu_fw",
			SubLabel:    sub,
			Description: "eager",
			Stmt: func() {
				out := module.Forward(x, pol)
				be.PutTensor(out)
			},
		},
	}
	cleanup := func() {
		be.PutTensor(x)
		module.Release()
	}
	return timers, cleanup
}

// backwardTimers yields the two backward-pass timers of a case. One forward
// pass per variant obtains an output with a retained graph; both timers
// backward-pass a shared all-zero gradient tensor shaped like the output.
func backwardTimers(be device.Backend, op swiglu.Op, c benchCase) ([]*bench.Timer, func()) {
	x, module, pol := caseSetup(be, c)
	params := module.OrderedParams()
	sub := c.subLabel()

	out, tape := swiglu.FunctionalGrad(be, x, params, op, pol)
	r, cols := out.Dims()
	grad := be.GetTensor(r, cols, out.DType()) // zero-filled
	be.PutTensor(out)

	eagerOut, eagerTape := module.ForwardGrad(x, pol)
	be.PutTensor(eagerOut)

	timers := []*bench.Timer{
		{
			Label:       "swiglu_bw",
			SubLabel:    sub,
			Description: op.Name(),
			Stmt: func() {
				g := tape.Backward(grad)
				g.Release(be)
			},
		},
		{
			Label:       "swiglu_bw",
			SubLabel:    sub,
			Description: "eager",
			Stmt: func() {
				g := eagerTape.Backward(grad)
				g.Release(be)
			},
		},
	}
	cleanup := func() {
		tape.Release()
		eagerTape.Release()
		be.PutTensor(grad)
		be.PutTensor(x)
		module.Release()
	}
	return timers, cleanup
}
