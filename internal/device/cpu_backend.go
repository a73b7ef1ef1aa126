package device

import (
	"log"
	"math/rand"
	"sync"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/23skdu/longbow-whetstone/internal/simd"
)

// ensure interface compliance
var _ Backend = (*CPUBackend)(nil)
var _ Tensor = (*CPUTensor)(nil)

type CPUBackend struct {
	pool sync.Pool
}

func NewCPUBackend() *CPUBackend {
	return &CPUBackend{
		pool: sync.Pool{
			New: func() interface{} {
				return &CPUTensor{}
			},
		},
	}
}

func (b *CPUBackend) Name() string {
	return "CPU"
}

func (b *CPUBackend) NewTensor(r, c int, dtype DType, data []float32) Tensor {
	size := r * c
	t := &CPUTensor{
		backend: b,
		rows:    r,
		cols:    c,
		dtype:   dtype,
	}

	t.data = make([]float32, size)
	if data != nil {
		if len(data) != size {
			panic("NewTensor: provided data length does not match dimensions")
		}
		copy(t.data, data)
		dtype.RoundSlice(t.data)
	}

	return t
}

func (b *CPUBackend) GetTensor(r, c int, dtype DType) Tensor {
	v := b.pool.Get()
	ct, ok := v.(*CPUTensor)
	if !ok || ct == nil {
		ct = &CPUTensor{}
	}

	ct.backend = b
	ct.rows = r
	ct.cols = c
	ct.dtype = dtype
	ct.trans = false
	ct.view = false
	size := r * c
	if cap(ct.data) < size {
		poolMisses.Inc()
		ct.data = make([]float32, size)
	} else {
		poolHits.Inc()
		ct.data = ct.data[:size]
		// Zero-initialize
		for i := range ct.data {
			ct.data[i] = 0.0
		}
	}
	return ct
}

func (b *CPUBackend) PutTensor(t Tensor) {
	ct, ok := t.(*CPUTensor)
	if !ok || ct.view {
		return // Don't pool foreign tensors or views of shared storage
	}

	ct.rows = 0
	ct.cols = 0
	ct.trans = false
	// Data is zeroed when retrieved by GetTensor
	b.pool.Put(ct)
}

func (b *CPUBackend) Synchronize() {
	// CPU is always synchronous
}

type CPUTensor struct {
	backend *CPUBackend
	data    []float32
	rows    int
	cols    int
	dtype   DType
	trans   bool // Transposed view flag
	view    bool // Shares storage with another tensor
}

func (t *CPUTensor) Dims() (int, int) {
	if t.trans {
		return t.cols, t.rows
	}
	return t.rows, t.cols
}

func (t *CPUTensor) DType() DType {
	return t.dtype
}

func (t *CPUTensor) At(i, j int) float32 {
	if t.trans {
		// Logical (i, j) -> Physical (j, i)
		return t.data[j*t.cols+i]
	}
	return t.data[i*t.cols+j]
}

func (t *CPUTensor) Set(i, j int, v float32) {
	v = t.dtype.Round(v)
	if t.trans {
		t.data[j*t.cols+i] = v
	} else {
		t.data[i*t.cols+j] = v
	}
}

func (t *CPUTensor) Data() []float32 {
	// If transposed, data is not contiguous in logical order
	if t.trans {
		return nil
	}
	return t.data
}

func (t *CPUTensor) ToHost() []float32 {
	if t.trans {
		// Physical copy to respect the transpose
		rows, cols := t.Dims()
		out := make([]float32, rows*cols)
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				out[i*cols+j] = t.At(i, j)
			}
		}
		return out
	}

	out := make([]float32, len(t.data))
	copy(out, t.data)
	return out
}

func (t *CPUTensor) CopyFromFloat32(data []float32) {
	if len(data) != len(t.data) {
		panic("CopyFromFloat32: size mismatch")
	}
	copy(t.data, data)
	t.dtype.RoundSlice(t.data)
}

func (t *CPUTensor) Copy(from Tensor) {
	ft, ok := from.(*CPUTensor)
	if !ok {
		log.Panic("Copying between different backends not supported")
	}

	tr, tc := t.Dims()
	fr, fc := ft.Dims()

	if tr != fr || tc != fc {
		log.Panicf("Copy: dimension mismatch. Target: %dx%d, Source: %dx%d", tr, tc, fr, fc)
	}

	if !t.trans && !ft.trans {
		copy(t.data, ft.data)
		t.dtype.RoundSlice(t.data)
	} else {
		for i := 0; i < tr; i++ {
			for j := 0; j < tc; j++ {
				t.Set(i, j, ft.At(i, j))
			}
		}
	}
}

func (t *CPUTensor) SliceRows(i, k int) Tensor {
	if t.trans {
		log.Panic("SliceRows not supported on transposed tensor views")
	}
	if i < 0 || k > t.rows || i >= k {
		log.Panicf("SliceRows: invalid range [%d, %d) for %d rows", i, k, t.rows)
	}
	return &CPUTensor{
		backend: t.backend,
		data:    t.data[i*t.cols : k*t.cols],
		rows:    k - i,
		cols:    t.cols,
		dtype:   t.dtype,
		view:    true,
	}
}

func (t *CPUTensor) T() Tensor {
	return &CPUTensor{
		backend: t.backend,
		data:    t.data, // Share data
		rows:    t.rows,
		cols:    t.cols,
		dtype:   t.dtype,
		trans:   !t.trans, // Toggle transpose state
		view:    true,
	}
}

func (t *CPUTensor) general() blas32.General {
	return blas32.General{
		Rows:   t.rows,
		Cols:   t.cols,
		Stride: t.cols,
		Data:   t.data,
	}
}

func (t *CPUTensor) Mul(a, b Tensor) {
	ma, ok1 := a.(*CPUTensor)
	mb, ok2 := b.(*CPUTensor)

	if !ok1 || !ok2 {
		log.Panic("Mixed backend Mul not supported")
	}
	if t.trans {
		log.Panic("Mul: result tensor must not be a transposed view")
	}

	ar, ac := ma.Dims()
	br, bc := mb.Dims()

	if ac != br {
		log.Panicf("Mul: dimension mismatch. A cols (%d) != B rows (%d)", ac, br)
	}

	tr, tc := t.Dims()
	if tr != ar || tc != bc {
		log.Panicf("Mul: result tensor dimension mismatch. Expected %dx%d, got %dx%d", ar, bc, tr, tc)
	}

	tA, tB := blas.NoTrans, blas.NoTrans
	if ma.trans {
		tA = blas.Trans
	}
	if mb.trans {
		tB = blas.Trans
	}

	// SGEMM with float32 accumulation; the result is rounded through the
	// storage dtype afterwards, matching hardware with f32 accumulators.
	blas32.Gemm(tA, tB, 1.0, ma.general(), mb.general(), 0.0, t.general())
	t.dtype.RoundSlice(t.data)
}

func (t *CPUTensor) Add(other Tensor) {
	ot, ok := other.(*CPUTensor)
	if !ok {
		log.Panic("Mixed backend Add not supported")
	}

	tr, tc := t.Dims()
	or, oc := ot.Dims()

	if tr != or || tc != oc {
		log.Panicf("Add: dimension mismatch. Target: %dx%d, Other: %dx%d", tr, tc, or, oc)
	}

	if !t.trans && !ot.trans {
		simd.VecAdd(t.data, ot.data)
		t.dtype.RoundSlice(t.data)
	} else {
		for i := 0; i < tr; i++ {
			for j := 0; j < tc; j++ {
				t.Set(i, j, t.At(i, j)+ot.At(i, j))
			}
		}
	}
}

func (t *CPUTensor) Scale(val float32) {
	for i := range t.data {
		t.data[i] = t.dtype.Round(t.data[i] * val)
	}
}

func (t *CPUTensor) AddBias(bias Tensor) {
	bt, ok := bias.(*CPUTensor)
	if !ok {
		panic("Mixed backend AddBias")
	}
	if t.trans {
		log.Panic("AddBias not supported on transposed tensor views")
	}

	r, c := t.Dims()
	br, bc := bias.Dims()

	if br != 1 && bc != 1 {
		panic("AddBias: bias must be a vector (1xN or Nx1)")
	}

	var biasData []float32
	if bt.trans {
		n := br * bc
		biasData = make([]float32, n)
		for i := 0; i < n; i++ {
			if br == 1 {
				biasData[i] = bt.At(0, i)
			} else {
				biasData[i] = bt.At(i, 0)
			}
		}
	} else {
		biasData = bt.data
	}

	if len(biasData) != c {
		panic("AddBias: bias length mismatch with tensor columns")
	}

	data := t.data
	for i := 0; i < r; i++ {
		row := data[i*c : (i+1)*c]
		simd.VecAdd(row, biasData)
	}
	t.dtype.RoundSlice(t.data)
}

func (t *CPUTensor) Hadamard(other Tensor) {
	ot, ok := other.(*CPUTensor)
	if !ok {
		log.Panic("Mixed backend Hadamard not supported")
	}

	tr, tc := t.Dims()
	or, oc := ot.Dims()
	if tr != or || tc != oc {
		log.Panicf("Hadamard: dimension mismatch. Target: %dx%d, Other: %dx%d", tr, tc, or, oc)
	}

	if !t.trans && !ot.trans {
		simd.VecMul(t.data, ot.data)
		t.dtype.RoundSlice(t.data)
	} else {
		for i := 0; i < tr; i++ {
			for j := 0; j < tc; j++ {
				t.Set(i, j, t.At(i, j)*ot.At(i, j))
			}
		}
	}
}

func (t *CPUTensor) SiLU() {
	if t.trans {
		log.Panic("SiLU not supported on transposed tensor views")
	}
	simd.SiLU(t.data)
	t.dtype.RoundSlice(t.data)
}

func (t *CPUTensor) Quantize(d DType) {
	d.RoundSlice(t.data)
}

// Randn fills a tensor with normally distributed values (mean 0, stddev 1),
// rounded through the tensor's storage dtype.
func Randn(t Tensor, rng *rand.Rand) {
	r, c := t.Dims()
	data := make([]float32, r*c)
	for i := range data {
		data[i] = float32(rng.NormFloat64())
	}
	t.CopyFromFloat32(data)
}
