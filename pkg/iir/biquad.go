// Package iir implements a fixed-point direct-form-I biquad with Q2.30
// coefficients and its design helpers.
package iir

import (
	"fmt"
	"math"

	"github.com/itohio/golockin/pkg/fixed"
)

// Shift is the number of fractional bits of the coefficients.
const Shift = 30

// Coefficients holds [b0 b1 b2 a1 a2] in Q2.30. a0 is implicitly one and
// a1, a2 are stored negated, so that
//
//	y[n] = b0·x[n] + b1·x[n-1] + b2·x[n-2] + a1·y[n-1] + a2·y[n-2]
type Coefficients [5]int32

// State is the filter history. The zero value is a filter at rest.
type State struct {
	X1, X2 int32
	Y1, Y2 int32
}

// Update feeds x through the filter and returns the new output.
//
// The accumulator is 64 bits wide; with Validate'd coefficients it cannot
// overflow for any int32 input and history. The output saturates at the int32
// range, so a passband gain above one clips full-scale input instead of
// wrapping its sign.
func Update(s *State, c *Coefficients, x int32) int32 {
	acc := int64(c[0])*int64(x) +
		int64(c[1])*int64(s.X1) +
		int64(c[2])*int64(s.X2) +
		int64(c[3])*int64(s.Y1) +
		int64(c[4])*int64(s.Y2)
	y := saturate(fixed.ShiftRound64(acc, Shift))

	s.X2, s.X1 = s.X1, x
	s.Y2, s.Y1 = s.Y1, y
	return y
}

func saturate(v int64) int32 {
	switch {
	case v > math.MaxInt32:
		return math.MaxInt32
	case v < math.MinInt32:
		return math.MinInt32
	}
	return int32(v)
}

// Reset clears the history.
func (s *State) Reset() {
	*s = State{}
}

// Validate checks the overflow contract of the accumulator: the sum of the
// absolute coefficients must stay below 4.0.
func (c *Coefficients) Validate() error {
	var sum int64
	for _, v := range c {
		a := int64(v)
		if a < 0 {
			a = -a
		}
		sum += a
	}
	if sum >= 1<<(Shift+2) {
		return fmt.Errorf("coefficient magnitude sum %.6f exceeds accumulator headroom", float64(sum)/(1<<Shift))
	}
	return nil
}

// Float returns the coefficients as conventional floats, b0 b1 b2 a1 a2 with
// the denominator 1 + a1·z⁻¹ + a2·z⁻².
func (c *Coefficients) Float() (b0, b1, b2, a1, a2 float64) {
	const scale = 1 << Shift
	return float64(c[0]) / scale, float64(c[1]) / scale, float64(c[2]) / scale,
		-float64(c[3]) / scale, -float64(c[4]) / scale
}
