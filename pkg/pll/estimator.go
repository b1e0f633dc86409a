// Package pll tracks an external reference from sparse edge timestamps.
//
// The estimator is a reciprocal PLL: every edge yields the period since the
// previous edge, the instantaneous frequency is its reciprocal, and both the
// frequency and the phase at the current batch boundary are exponentially
// averaged toward what the edge implies. Between edges the phase is
// extrapolated with the running frequency.
package pll

import (
	"fmt"

	"github.com/itohio/golockin/pkg/fixed"
)

// MaxShift bounds the averaging shifts.
const MaxShift = 30

// Config describes the timing of the batches fed to the estimator.
type Config struct {
	// ShiftFrequency and ShiftPhase set the averaging time constants,
	// 2^shift edges each.
	ShiftFrequency uint8
	ShiftPhase     uint8

	// ADCTicksLog2 is log2 of internal clock ticks per ADC sample.
	ADCTicksLog2 uint8
	// BatchSizeLog2 is log2 of ADC samples per batch.
	BatchSizeLog2 uint8
}

// Validate checks the structural preconditions.
func (c Config) Validate() error {
	if c.ShiftFrequency > MaxShift || c.ShiftPhase > MaxShift {
		return fmt.Errorf("pll shifts (%d, %d) exceed %d", c.ShiftFrequency, c.ShiftPhase, MaxShift)
	}
	if int(c.ADCTicksLog2)+int(c.BatchSizeLog2) > 31 {
		return fmt.Errorf("adc ticks log2 %d + batch size log2 %d exceed 31 bits", c.ADCTicksLog2, c.BatchSizeLog2)
	}
	return nil
}

// BatchTicks is the number of internal clock ticks covered by one batch.
func (c Config) BatchTicks() uint32 {
	return 1 << (c.ADCTicksLog2 + c.BatchSizeLog2)
}

// TimeConstant is the settling time in batches of both estimates,
// 2^max(ShiftFrequency, ShiftPhase).
func (c Config) TimeConstant() int {
	return 1 << max(c.ShiftFrequency, c.ShiftPhase)
}

// Timestamp is an optional reference edge, in internal clock ticks modulo
// 2^32. The zero value carries no edge.
type Timestamp struct {
	Ticks uint32
	Valid bool
}

// NoEdge is a batch without a reference edge.
var NoEdge = Timestamp{}

// Edge returns a timestamp for an edge captured at ticks.
func Edge(ticks uint32) Timestamp {
	return Timestamp{Ticks: ticks, Valid: true}
}

// Estimator is the per-channel estimator state. It must be owned by a
// single processing loop; independent channels use independent estimators.
type Estimator struct {
	cfg Config

	freq  fixed.Turn // per ADC sample
	phase fixed.Turn // at batchStart

	lastEdge   uint32
	edges      int  // saturates at 2
	stale      bool // lastEdge may precede an edge that was never observed
	batchStart uint32
}

// New returns an estimator at cold start. It panics if cfg violates the
// structural preconditions.
func New(cfg Config) *Estimator {
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return &Estimator{cfg: cfg}
}

// Config returns the estimator configuration.
func (e *Estimator) Config() Config {
	return e.cfg
}

// TimeConstant returns the configured settling time in batches.
func (e *Estimator) TimeConstant() int {
	return e.cfg.TimeConstant()
}

// Update advances the estimator by one batch. ts is the reference edge
// captured during the batch, if any. It returns the phase of the reference at
// the first sample of the batch and the frequency as phase increment per ADC
// sample. Until two edges have been seen both are zero.
func (e *Estimator) Update(ts Timestamp) (phase, frequency fixed.Turn) {
	if ts.Valid {
		e.observe(ts.Ticks)
	}

	phase, frequency = e.phase, e.freq

	e.phase += e.freq << e.cfg.BatchSizeLog2
	e.batchStart += e.cfg.BatchTicks()
	return phase, frequency
}

// Skip advances the batch clock over n batches that were lost before
// reaching the estimator. The phase keeps extrapolating with the current
// frequency. A lost batch may have carried an edge, so the next observed
// edge only restarts the interval.
func (e *Estimator) Skip(n uint32) {
	if n == 0 {
		return
	}
	e.phase += fixed.Turn(n) * (e.freq << e.cfg.BatchSizeLog2)
	e.batchStart += n * e.cfg.BatchTicks()
	e.stale = e.edges > 0
}

func (e *Estimator) observe(t uint32) {
	if e.stale {
		e.lastEdge = t
		e.stale = false
		return
	}
	if e.edges == 0 {
		e.lastEdge = t
		e.edges = 1
		return
	}

	interval := t - e.lastEdge
	e.lastEdge = t
	if interval == 0 {
		return
	}
	inst := fixed.Turn(fixed.DivideRound(1<<(32+uint(e.cfg.ADCTicksLog2)), uint64(interval)))

	if e.edges == 1 {
		// Second edge: nothing to average against yet.
		e.freq = inst
		e.phase = e.impliedPhase(t)
		e.edges = 2
		return
	}

	e.freq += fixed.Turn(fixed.ShiftRound64(int64(int32(inst-e.freq)), uint(e.cfg.ShiftFrequency)))
	implied := e.impliedPhase(t)
	e.phase += fixed.Turn(fixed.ShiftRound64(int64(int32(implied-e.phase)), uint(e.cfg.ShiftPhase)))
}

// impliedPhase is the phase at the batch start given that the reference
// crosses zero at tick t.
func (e *Estimator) impliedPhase(t uint32) fixed.Turn {
	offset := int64(int32(t - e.batchStart))
	adv := fixed.ShiftRound64(offset*int64(e.freq), uint(e.cfg.ADCTicksLog2))
	return fixed.Turn(uint32(-adv))
}

// Locked reports whether the estimator has seen enough edges to produce
// an estimate.
func (e *Estimator) Locked() bool {
	return e.edges >= 2
}

// Frequency returns the current frequency estimate in turns per ADC sample.
func (e *Estimator) Frequency() fixed.Turn {
	return e.freq
}

// Phase returns the extrapolated phase at the start of the next batch.
func (e *Estimator) Phase() fixed.Turn {
	return e.phase
}

// Reset returns the estimator to cold start. The batch clock restarts at
// tick zero.
func (e *Estimator) Reset() {
	*e = Estimator{cfg: e.cfg}
}
