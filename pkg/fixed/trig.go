package fixed

import "math"

const (
	// FullScale is the amplitude of the unit circle returned by CosSin.
	FullScale = math.MaxInt32

	// CosSinMaxError bounds the absolute error of each CosSin component as
	// a fraction of FullScale. cos²+sin² therefore stays within
	// 2·CosSinMaxError of FullScale² (relative).
	CosSinMaxError = 1e-6

	// Atan2MaxError bounds the absolute error of Atan2 (2^-20 of a turn).
	Atan2MaxError Turn = 1 << 12

	sinTableBits = 10
	sinFracBits  = 30 - sinTableBits

	atanTableBits = 10
	atanRatioBits = 30
	atanFracBits  = atanRatioBits - atanTableBits
)

// Quarter-wave tables. The extra entries let the interpolation read idx+1
// at the upper end without a branch. Both are immutable after init.
var (
	sinTable  [1<<sinTableBits + 2]int32
	atanTable [1<<atanTableBits + 2]int64
)

func init() {
	for i := range sinTable {
		angle := float64(i) * (math.Pi / 2) / (1 << sinTableBits)
		sinTable[i] = int32(math.Round(math.Sin(angle) * FullScale))
	}
	for i := range atanTable {
		ratio := float64(i) / (1 << atanTableBits)
		atanTable[i] = int64(math.Round(math.Atan(ratio) / (2 * math.Pi) * turnsPerRevolution))
	}
}

// quarterSin returns sin(p) for p in [0, QuarterTurn].
func quarterSin(p uint32) int32 {
	idx := p >> sinFracBits
	frac := int64(p & (1<<sinFracBits - 1))
	a := int64(sinTable[idx])
	b := int64(sinTable[idx+1])
	return int32(a + ShiftRound64((b-a)*frac, sinFracBits))
}

// CosSin returns cos and sin of phase scaled to FullScale. The cost does
// not depend on the phase.
func CosSin(phase Turn) (cos, sin int32) {
	p := uint32(phase) & (uint32(QuarterTurn) - 1)
	s := quarterSin(p)
	c := quarterSin(uint32(QuarterTurn) - p)

	switch uint32(phase) >> 30 {
	case 0:
		return c, s
	case 1:
		return -s, c
	case 2:
		return -c, -s
	default:
		return s, -c
	}
}

// Atan2 returns the angle of the vector (x, y) as a Turn. A zero x yields
// ±QuarterTurn following the sign of y, like math.Atan2 with signed
// infinities; Atan2(0, 0) is 0.
func Atan2(y, x int32) Turn {
	ax, ay := abs64(x), abs64(y)
	swapped := ay > ax
	if swapped {
		ax, ay = ay, ax
	}
	if ax == 0 {
		return 0
	}

	// Ratio in [0, 1] with atanRatioBits fractional bits. ay < 2^32 so the
	// shift stays inside int64.
	r := (ay << atanRatioBits) / ax
	idx := r >> atanFracBits
	frac := r & (1<<atanFracBits - 1)
	a := atanTable[idx]
	b := atanTable[idx+1]
	angle := Turn(a + ShiftRound64((b-a)*frac, atanFracBits))

	if swapped {
		angle = QuarterTurn - angle
	}
	if x < 0 {
		angle = HalfTurn - angle
	}
	if y < 0 {
		angle = -angle
	}
	return angle
}

func abs64(v int32) int64 {
	x := int64(v)
	if x < 0 {
		return -x
	}
	return x
}
