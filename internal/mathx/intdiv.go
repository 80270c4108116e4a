package mathx

import (
	"math"
	"math/bits"
)

// MulDivRound returns a*b/c rounded half away from zero. The intermediate
// product is 128 bits wide; a quotient that does not fit saturates to
// math.MaxInt64 or math.MinInt64. c must not be zero.
func MulDivRound(a, b, c int64) int64 {
	neg := (a < 0) != (b < 0) != (c < 0)
	ua, ub, uc := absU64(a), absU64(b), absU64(c)

	hi, lo := bits.Mul64(ua, ub)
	if hi >= uc {
		return saturate(neg)
	}
	q, r := bits.Div64(hi, lo, uc)
	if r >= uc-r {
		q++
	}
	if neg {
		if q > uint64(math.MaxInt64)+1 {
			return math.MinInt64
		}
		return int64(-q)
	}
	if q > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(q)
}

func absU64(v int64) uint64 {
	if v < 0 {
		return uint64(-(v + 1)) + 1
	}
	return uint64(v)
}

func saturate(neg bool) int64 {
	if neg {
		return math.MinInt64
	}
	return math.MaxInt64
}
