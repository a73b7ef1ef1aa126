package device

import (
	"math"

	"github.com/x448/float16"
)

// Float32ToFloat16 converts a float32 to its IEEE 754 binary16 bit pattern.
func Float32ToFloat16(f float32) uint16 {
	return float16.Fromfloat32(f).Bits()
}

// Float16ToFloat32 converts a binary16 bit pattern back to float32.
func Float16ToFloat32(h uint16) float32 {
	return float16.Frombits(h).Float32()
}

// Float32ToBFloat16 converts a float32 to its bfloat16 bit pattern using
// round-to-nearest-even. NaN is canonicalized so truncation cannot turn it
// into Inf.
func Float32ToBFloat16(f float32) uint16 {
	bits := math.Float32bits(f)
	if f != f {
		return 0x7FC0 // quiet NaN
	}
	rounding := uint32(0x7FFF) + ((bits >> 16) & 1)
	return uint16((bits + rounding) >> 16)
}

// BFloat16ToFloat32 converts a bfloat16 bit pattern back to float32.
// The promote is a pure bit shift: bfloat16 is the top half of float32.
func BFloat16ToFloat32(h uint16) float32 {
	return math.Float32frombits(uint32(h) << 16)
}

// Round returns v rounded through the dtype's bit format.
func (d DType) Round(v float32) float32 {
	switch d {
	case Float16:
		return Float16ToFloat32(Float32ToFloat16(v))
	case BFloat16:
		return BFloat16ToFloat32(Float32ToBFloat16(v))
	default:
		return v
	}
}

// RoundSlice rounds every element of data through the dtype in-place.
func (d DType) RoundSlice(data []float32) {
	switch d {
	case Float16:
		for i, v := range data {
			data[i] = Float16ToFloat32(Float32ToFloat16(v))
		}
	case BFloat16:
		for i, v := range data {
			data[i] = BFloat16ToFloat32(Float32ToBFloat16(v))
		}
	}
}
