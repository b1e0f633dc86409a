// Package lockin implements the synchronous demodulator: a harmonic of the
// estimated reference is mixed with each ADC sample and the products are
// low-pass filtered into I and Q.
package lockin

import (
	"fmt"

	"github.com/itohio/golockin/pkg/fixed"
	"github.com/itohio/golockin/pkg/iir"
)

// FullScale is the I/Q value of a full-scale input tone after the low-pass
// restores the demodulation loss (int16 full scale times the 16-bit carrier).
// A full-scale DC or near-reference input doubles this and clips at the
// int32 rails.
const FullScale = 1 << 30

// carrierShift reduces the carrier to 16 bits so the product with a 16-bit
// sample fits in 31 bits.
const carrierShift = 16

// Report selects which demodulated sample of a batch Update returns.
type Report int

const (
	// ReportLast returns the filter output after the last sample of the
	// batch, the freshest estimate.
	ReportLast Report = iota
	// ReportFirst returns the output after the first sample.
	ReportFirst
	// ReportMean averages the outputs of the batch.
	ReportMean
)

func (r Report) String() string {
	switch r {
	case ReportLast:
		return "last"
	case ReportFirst:
		return "first"
	case ReportMean:
		return "mean"
	default:
		return fmt.Sprintf("Report(%d)", int(r))
	}
}

// ParseReport parses the name of a report mode.
func ParseReport(s string) (Report, error) {
	switch s {
	case "last":
		return ReportLast, nil
	case "first":
		return ReportFirst, nil
	case "mean":
		return ReportMean, nil
	}
	return 0, fmt.Errorf("unknown report mode %q (want last, first or mean)", s)
}

// IQ is a demodulated in-phase/quadrature pair.
type IQ struct {
	I, Q int32
}

// Magnitude2 returns the squared magnitude after reducing both components by
// shift bits, which keeps the result in range for shift >= 1.
func (iq IQ) Magnitude2(shift uint) int64 {
	i := int64(fixed.ShiftRound(iq.I, shift))
	q := int64(fixed.ShiftRound(iq.Q, shift))
	return i*i + q*q
}

// Phase returns the angle of the pair, atan2(Q, I).
func (iq IQ) Phase() fixed.Turn {
	return fixed.Atan2(iq.Q, iq.I)
}

// Option configures a Lockin.
type Option func(*Lockin)

// WithReport selects the reported sample of each batch.
func WithReport(r Report) Option {
	return func(l *Lockin) {
		l.report = r
	}
}

// Lockin is one demodulation channel. It is owned by a single processing
// loop; independent channels use independent instances.
type Lockin struct {
	harmonic uint32
	offset   fixed.Turn
	coeff    iir.Coefficients
	report   Report

	i, q iir.State
}

// New returns a demodulator for the given harmonic of the reference. The
// phase offset is subtracted from the measured phase. New panics if harmonic
// is zero or the coefficients can overflow the filter accumulator.
func New(harmonic uint32, phaseOffset fixed.Turn, c iir.Coefficients, opts ...Option) *Lockin {
	if harmonic == 0 {
		panic("lockin: harmonic must be at least 1")
	}
	if err := c.Validate(); err != nil {
		panic(fmt.Sprintf("lockin: %v", err))
	}

	l := &Lockin{
		harmonic: harmonic,
		offset:   phaseOffset,
		coeff:    c,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Harmonic returns the demodulation harmonic.
func (l *Lockin) Harmonic() uint32 { return l.harmonic }

// PhaseOffset returns the demodulation phase offset.
func (l *Lockin) PhaseOffset() fixed.Turn { return l.offset }

// Report returns the configured report mode.
func (l *Lockin) Report() Report { return l.report }

// Reset clears both filters.
func (l *Lockin) Reset() {
	l.i.Reset()
	l.q.Reset()
}

// Update demodulates one batch. initialPhase and frequency are the
// reference phase at the first sample and its increment per sample, as
// returned by the estimator. Every sample advances both filters once.
func (l *Lockin) Update(samples []int16, initialPhase, frequency fixed.Turn) IQ {
	var (
		out        IQ
		sumI, sumQ int64
	)
	for n, x := range samples {
		iq := l.step(x, l.carrierPhase(n, initialPhase, frequency))
		sumI += int64(iq.I)
		sumQ += int64(iq.Q)
		if n == 0 && l.report == ReportFirst {
			out = iq
		}
		if l.report == ReportLast {
			out = iq
		}
	}

	if l.report == ReportMean && len(samples) > 0 {
		n := int64(len(samples))
		out = IQ{
			I: int32(divRound(sumI, n)),
			Q: int32(divRound(sumQ, n)),
		}
	}
	return out
}

// Demodulate is Update returning every per-sample output. dst is reused when
// it has enough capacity.
func (l *Lockin) Demodulate(dst []IQ, samples []int16, initialPhase, frequency fixed.Turn) []IQ {
	dst = dst[:0]
	for n, x := range samples {
		dst = append(dst, l.step(x, l.carrierPhase(n, initialPhase, frequency)))
	}
	return dst
}

func (l *Lockin) carrierPhase(n int, initialPhase, frequency fixed.Turn) fixed.Turn {
	return fixed.Turn(l.harmonic)*(frequency*fixed.Turn(n)+initialPhase) + l.offset
}

func (l *Lockin) step(x int16, phase fixed.Turn) IQ {
	cos, sin := fixed.CosSin(phase)
	s := int32(x)
	return IQ{
		I: iir.Update(&l.i, &l.coeff, s*fixed.ShiftRound(sin, carrierShift)),
		Q: iir.Update(&l.q, &l.coeff, s*fixed.ShiftRound(cos, carrierShift)),
	}
}

func divRound(x, n int64) int64 {
	if x < 0 {
		return -((-x + n/2) / n)
	}
	return (x + n/2) / n
}
