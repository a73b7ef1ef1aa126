package swiglu

import (
	"fmt"

	"github.com/23skdu/longbow-whetstone/internal/device"
)

// Precision selects the storage dtype and autocast behaviour of a benchmark
// case. Concrete precisions store input and parameters in that dtype and run
// without autocast; AutocastHalf keeps float32 storage and lowers the op's
// arithmetic to f16 inside the call, like a half-precision autocast scope.
type Precision int

const (
	PrecisionBF16 Precision = iota
	PrecisionF16
	PrecisionAutocastHalf
)

func (p Precision) String() string {
	switch p {
	case PrecisionBF16:
		return "bf16"
	case PrecisionF16:
		return "f16"
	case PrecisionAutocastHalf:
		return "autocast_half"
	}
	return fmt.Sprintf("Precision(%d)", int(p))
}

// Label returns the fixed-width dtype tag used in result table sub-labels.
func (p Precision) Label() string {
	switch p {
	case PrecisionBF16:
		return "b16   "
	case PrecisionF16:
		return "f16   "
	case PrecisionAutocastHalf:
		return "f16.ac"
	}
	return "???   "
}

// ParsePrecision parses a precision name as accepted on the command line.
func ParsePrecision(s string) (Precision, error) {
	switch s {
	case "bf16":
		return PrecisionBF16, nil
	case "f16", "fp16", "half":
		return PrecisionF16, nil
	case "autocast_half", "f16.ac":
		return PrecisionAutocastHalf, nil
	}
	return 0, fmt.Errorf("unknown precision %q", s)
}

// Policy is the resolved dtype policy of a case.
type Policy struct {
	Storage  device.DType // dtype of input tensors and parameters
	Compute  device.DType // dtype intermediate arithmetic is rounded through
	Autocast bool         // true when storage and compute dtypes differ
}

func (p Precision) Policy() Policy {
	switch p {
	case PrecisionBF16:
		return Policy{Storage: device.BFloat16, Compute: device.BFloat16}
	case PrecisionF16:
		return Policy{Storage: device.Float16, Compute: device.Float16}
	case PrecisionAutocastHalf:
		return Policy{Storage: device.Float32, Compute: device.Float16, Autocast: true}
	}
	return Policy{Storage: device.Float32, Compute: device.Float32}
}

// roundDType is the dtype raw kernel output is rounded through: the storage
// dtype normally, the compute dtype under autocast.
func (p Policy) roundDType() device.DType {
	if p.Autocast {
		return p.Compute
	}
	return p.Storage
}
