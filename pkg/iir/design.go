package iir

import (
	"fmt"
	"math"
)

// LowpassGain is the passband gain of Lowpass. Synchronous demodulation
// halves the amplitude of the in-band component, the filter restores it.
const LowpassGain = 2.0

// Butterworth is the quality factor of a maximally flat second-order section.
const Butterworth = 1 / math.Sqrt2

// Quantize converts conventional coefficients (denominator
// 1 + a1·z⁻¹ + a2·z⁻²) into Q2.30 form. Values outside [-2, 2) are rejected.
func Quantize(b0, b1, b2, a1, a2 float64) (Coefficients, error) {
	var c Coefficients
	for i, v := range [...]float64{b0, b1, b2, -a1, -a2} {
		q := math.Round(v * (1 << Shift))
		if math.IsNaN(q) || q < math.MinInt32 || q > math.MaxInt32 {
			return Coefficients{}, fmt.Errorf("coefficient %d (%g) outside Q2.30 range", i, v)
		}
		c[i] = int32(q)
	}
	if err := c.Validate(); err != nil {
		return Coefficients{}, err
	}
	return c, nil
}

// Lowpass designs the demodulation low-pass: a Butterworth section with
// passband gain LowpassGain and -3 dB (relative) at corner.
func Lowpass(corner, sampleRate float64) (Coefficients, error) {
	return LowpassQ(corner, sampleRate, Butterworth, LowpassGain)
}

// LowpassQ designs a second-order low-pass (RBJ cookbook, bilinear) with the
// given quality factor and DC gain.
func LowpassQ(corner, sampleRate, q, gain float64) (Coefficients, error) {
	if sampleRate <= 0 || corner <= 0 || corner >= sampleRate/2 {
		return Coefficients{}, fmt.Errorf("corner %g Hz must lie in (0, %g) Hz", corner, sampleRate/2)
	}
	if q <= 0 {
		return Coefficients{}, fmt.Errorf("quality factor must be positive, got %g", q)
	}

	w0 := 2 * math.Pi * corner / sampleRate
	cosW, sinW := math.Cos(w0), math.Sin(w0)
	alpha := sinW / (2 * q)

	a0 := 1 + alpha
	b0 := gain * (1 - cosW) / 2 / a0
	b1 := gain * (1 - cosW) / a0
	a1 := -2 * cosW / a0
	a2 := (1 - alpha) / a0

	c, err := Quantize(b0, b1, b0, a1, a2)
	if err != nil {
		return Coefficients{}, fmt.Errorf("lowpass %g Hz at %g Hz: %w", corner, sampleRate, err)
	}
	return c, nil
}
