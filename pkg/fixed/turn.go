// Package fixed provides the fixed-point primitives of the lock-in chain:
// wrap-around phase (Turn), table based cosine/sine and arctangent, and an
// unbiased rounding shift.
package fixed

import "math"

// Turn is a phase angle where the full uint32 range maps to one revolution
// (0 = 0 rad, 1<<32 = 2π). Addition and subtraction wrap, which is exactly
// circular angle arithmetic. Never saturate a Turn.
type Turn uint32

const (
	// QuarterTurn is π/2.
	QuarterTurn Turn = 1 << 30
	// HalfTurn is π.
	HalfTurn Turn = 1 << 31

	turnsPerRevolution = 1 << 32
)

// TurnFromRadians converts an angle in radians to the nearest Turn.
func TurnFromRadians(rad float64) Turn {
	x := math.Round(rad / (2 * math.Pi) * turnsPerRevolution)
	x = math.Mod(x, turnsPerRevolution)
	// Integer conversion keeps the low 32 bits, so negative angles wrap.
	return Turn(uint32(int64(x)))
}

// TurnFromDegrees converts an angle in degrees to the nearest Turn.
func TurnFromDegrees(deg float64) Turn {
	return TurnFromRadians(deg * math.Pi / 180)
}

// Signed interprets t as a signed angle in [-π, π).
func (t Turn) Signed() int32 {
	return int32(t)
}

// Radians returns t as a signed angle in [-π, π).
func (t Turn) Radians() float64 {
	return float64(int32(t)) * (2 * math.Pi / turnsPerRevolution)
}

// Degrees returns t as a signed angle in [-180, 180).
func (t Turn) Degrees() float64 {
	return float64(int32(t)) * (360.0 / turnsPerRevolution)
}
