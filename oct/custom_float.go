package oct

import (
	"math"
	"math/bits"
)

// The bespoke 16-bit float of the Heidelberg stream has no sign bit: a
// 10-bit mantissa stored bit-reversed in the low bits and a 6-bit biased
// exponent in the high bits.
const (
	customFloatMantissaSize = 1024
	customFloatExponentBias = 63
)

// Decoded reflectivity values are mapped to an 8-bit display range; the
// 1/2.4 gamma approximates the sRGB transfer curve of the vendor viewer.
const (
	displayScale = 256.0
	displayGamma = 2.4
)

// DecodeCustomFloat decodes one little-endian 16-bit word.
func DecodeCustomFloat(word uint16) float64 {
	mantissa := bits.Reverse16(word&0x03ff) >> 6
	exponent := (word >> 10) & 0x3f
	return customFloatValue(mantissa, exponent)
}

// customFloatValue combines already-extracted mantissa and exponent fields.
func customFloatValue(mantissa, exponent uint16) float64 {
	m := 1 + float64(mantissa)/customFloatMantissaSize
	return m * math.Pow(2, float64(exponent)-customFloatExponentBias)
}

func applyGamma(v float64) float64 {
	return displayScale * math.Pow(v, 1/displayGamma)
}
