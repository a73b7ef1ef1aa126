package simd

import "math"

// VecAdd performs dst += src for float32 vectors
func VecAdd(dst, src []float32) {
	// Unrolled loop for better pipelining
	i := 0
	for ; i <= len(dst)-4; i += 4 {
		dst[i] += src[i]
		dst[i+1] += src[i+1]
		dst[i+2] += src[i+2]
		dst[i+3] += src[i+3]
	}
	// Handle remainder
	for ; i < len(dst); i++ {
		dst[i] += src[i]
	}
}

// VecMul performs dst *= src for float32 vectors
func VecMul(dst, src []float32) {
	i := 0
	for ; i <= len(dst)-4; i += 4 {
		dst[i] *= src[i]
		dst[i+1] *= src[i+1]
		dst[i+2] *= src[i+2]
		dst[i+3] *= src[i+3]
	}
	for ; i < len(dst); i++ {
		dst[i] *= src[i]
	}
}

// Sigmoid computes the logistic function for a single value.
func Sigmoid(x float32) float32 {
	return 1.0 / (1.0 + float32(math.Exp(float64(-x))))
}

// SiLU applies x * sigmoid(x) in-place
func SiLU(data []float32) {
	for i, x := range data {
		data[i] = x * Sigmoid(x)
	}
}

// SiLUMul computes dst[i] = silu(gate[i]) * up[i].
// This is the fused gating kernel of the SwiGLU feed-forward block: the two
// halves of the packed projection are consumed directly, without
// materializing the activated gate as its own tensor.
func SiLUMul(dst, gate, up []float32) {
	for i, x := range gate {
		dst[i] = x * Sigmoid(x) * up[i]
	}
}

// SiLUMulGrad is the fused backward kernel matching SiLUMul.
// Given dOut = d(loss)/d(silu(gate)*up), it writes
//
//	dGate[i] = dOut[i] * up[i] * silu'(gate[i])
//	dUp[i]   = dOut[i] * silu(gate[i])
//
// where silu'(x) = sigmoid(x) * (1 + x*(1-sigmoid(x))).
func SiLUMulGrad(dGate, dUp, dOut, gate, up []float32) {
	for i, x := range gate {
		sig := Sigmoid(x)
		dGate[i] = dOut[i] * up[i] * sig * (1 + x*(1-sig))
		dUp[i] = dOut[i] * x * sig
	}
}
