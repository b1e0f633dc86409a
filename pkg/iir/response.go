package iir

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

// impulseAmplitude leaves headroom for the passband gain and overshoot.
const impulseAmplitude = 1 << 24

// Point is one bin of a magnitude response.
type Point struct {
	Frequency float64 // Hz
	Gain      float64 // linear
}

// Response evaluates the transfer function of the quantized coefficients at
// frequency f for sample rate fs.
func (c *Coefficients) Response(f, fs float64) complex128 {
	b0, b1, b2, a1, a2 := c.Float()
	z1 := cmplx.Exp(complex(0, -2*math.Pi*f/fs))
	z2 := z1 * z1
	num := complex(b0, 0) + complex(b1, 0)*z1 + complex(b2, 0)*z2
	den := 1 + complex(a1, 0)*z1 + complex(a2, 0)*z2
	return num / den
}

// Gain is |Response(f, fs)|.
func (c *Coefficients) Gain(f, fs float64) float64 {
	return cmplx.Abs(c.Response(f, fs))
}

// MeasureResponse drives the fixed-point filter with an impulse for n
// samples and returns the magnitude of the FFT of its output for the
// n/2+1 non-negative frequency bins. Rounding inside the filter shows up
// here, unlike in Response.
func MeasureResponse(c *Coefficients, fs float64, n int) []Point {
	if n < 2 {
		return nil
	}
	var s State
	h := make([]float64, n)
	for i := range h {
		x := int32(0)
		if i == 0 {
			x = impulseAmplitude
		}
		h[i] = float64(Update(&s, c, x)) / impulseAmplitude
	}

	spectrum := fft.FFTReal(h)
	points := make([]Point, n/2+1)
	for k := range points {
		points[k] = Point{
			Frequency: float64(k) * fs / float64(n),
			Gain:      cmplx.Abs(spectrum[k]),
		}
	}
	return points
}
