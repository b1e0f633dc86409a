package fixed

// ShiftRound shifts x right by shift bits and rounds to nearest, resolving
// ties away from zero. The result is exact for shift == 0 and carries no
// systematic bias for inputs symmetric around zero.
func ShiftRound(x int32, shift uint) int32 {
	return int32(ShiftRound64(int64(x), shift))
}

// ShiftRound64 is ShiftRound for 64-bit accumulators. shift must be below 63
// and x must not be math.MinInt64.
func ShiftRound64(x int64, shift uint) int64 {
	if shift == 0 {
		return x
	}
	half := int64(1) << (shift - 1)
	if x < 0 {
		return -((-x + half) >> shift)
	}
	return (x + half) >> shift
}

// DivideRound divides n by d rounding to nearest (ties up). d must be non-zero.
func DivideRound(n, d uint64) uint64 {
	return (n + d/2) / d
}
