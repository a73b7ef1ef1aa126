package device

// DType identifies the storage precision of a tensor. Data is always backed
// by float32 on the host; non-float32 dtypes round every stored value through
// the corresponding bit format so the arithmetic observes the same precision
// loss the format implies.
type DType int

const (
	Float32 DType = iota
	Float16
	BFloat16
)

func (d DType) String() string {
	switch d {
	case Float16:
		return "f16"
	case BFloat16:
		return "bf16"
	default:
		return "f32"
	}
}

// Tensor represents a 2-D array of data resident on some backend.
type Tensor interface {
	// Dims returns the dimensions (rows, cols) of the tensor.
	Dims() (int, int)

	// DType returns the storage precision of the tensor.
	DType() DType

	// At returns the value at (i, j).
	// This is often slow and should be used for debugging or infrequent access.
	At(i, j int) float32

	// Set sets the value at (i, j), rounded through the tensor's dtype.
	Set(i, j int, v float32)

	// Data returns the underlying slice if contiguous (nil for transposed views).
	Data() []float32

	// ToHost copies the data to a Go slice (float32).
	ToHost() []float32

	// CopyFromFloat32 copies data from a Go slice, rounding through the dtype.
	CopyFromFloat32(data []float32)

	// Copy copies content from another tensor.
	Copy(from Tensor)

	// SliceRows returns a view of rows [i, k). The view shares storage.
	SliceRows(i, k int) Tensor

	// T returns the transpose view.
	T() Tensor

	// Mul performs matrix multiplication.
	// Convention: t.Mul(a, b) means t = a * b
	Mul(a, b Tensor)

	// Add performs element-wise addition: t = t + other
	Add(other Tensor)

	// Scale performs: t = t * val
	Scale(val float32)

	// AddBias adds a bias vector (broadcasted) to each row.
	AddBias(bias Tensor)

	// Hadamard performs element-wise multiplication: t = t .* other
	Hadamard(other Tensor)

	// SiLU applies x*sigmoid(x) in-place.
	SiLU()

	// Quantize rounds every element through the given dtype in-place,
	// without changing the tensor's storage dtype tag. Used by autocast
	// scopes to lower intermediate results to half precision.
	Quantize(d DType)
}

// Backend creates tensors and manages their memory.
type Backend interface {
	Name() string
	NewTensor(r, c int, dtype DType, data []float32) Tensor

	// GetTensor gets a zeroed tensor from the pool or creates a new one.
	GetTensor(r, c int, dtype DType) Tensor

	// PutTensor returns a tensor to the pool.
	PutTensor(t Tensor)

	// Synchronize blocks until all queued operations are complete.
	Synchronize()
}
