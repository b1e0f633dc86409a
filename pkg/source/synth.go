package source

import (
	"fmt"
	"math"

	"github.com/itohio/golockin/pkg/pll"
)

// Tone is one sinusoid at the ADC input.
type Tone struct {
	Frequency float64 // Hz
	Amplitude float64 // Fraction of full scale
	Phase     float64 // Radians, relative to the reference edge at tick zero
}

// SynthConfig describes a synthesized front end.
type SynthConfig struct {
	InternalHz    float64
	ADCTicksLog2  uint8
	BatchSizeLog2 uint8
	ReferenceHz   float64
	Tones         []Tone
}

// Synth deterministically generates the batches an ideal 16-bit ADC and an
// ideal edge capture timer would produce. The reference crosses zero upward
// at tick zero and every reference period after it.
type Synth struct {
	cfg        SynthConfig
	batchSize  int
	batchTicks uint64
	refPeriod  float64 // internal ticks

	start []float64 // cycles at sample zero
	step  []float64 // cycles per ADC sample

	batch uint64 // index of the next batch
	edge  uint64 // index of the next reference edge
}

// NewSynth validates cfg and returns a synthesizer positioned at tick zero.
func NewSynth(cfg SynthConfig) (*Synth, error) {
	if cfg.InternalHz <= 0 {
		return nil, fmt.Errorf("internal clock must be positive, got %g Hz", cfg.InternalHz)
	}
	timing := pll.Config{ADCTicksLog2: cfg.ADCTicksLog2, BatchSizeLog2: cfg.BatchSizeLog2}
	if err := timing.Validate(); err != nil {
		return nil, fmt.Errorf("invalid synth timing: %w", err)
	}
	if cfg.ReferenceHz <= 0 {
		return nil, fmt.Errorf("reference must be positive, got %g Hz", cfg.ReferenceHz)
	}

	s := &Synth{
		cfg:        cfg,
		batchSize:  1 << cfg.BatchSizeLog2,
		batchTicks: uint64(timing.BatchTicks()),
		refPeriod:  cfg.InternalHz / cfg.ReferenceHz,
		start:      make([]float64, len(cfg.Tones)),
		step:       make([]float64, len(cfg.Tones)),
	}
	if s.refPeriod < float64(s.batchTicks) {
		return nil, fmt.Errorf("reference %g Hz gives more than one edge per batch of %d ticks", cfg.ReferenceHz, s.batchTicks)
	}

	adcPeriod := float64(uint64(1) << cfg.ADCTicksLog2)
	var total float64
	for i, tone := range cfg.Tones {
		if tone.Frequency < 0 || tone.Amplitude < 0 {
			return nil, fmt.Errorf("tone %d: negative frequency or amplitude", i)
		}
		total += tone.Amplitude
		s.start[i] = tone.Phase / (2 * math.Pi)
		s.step[i] = tone.Frequency * adcPeriod / cfg.InternalHz
	}
	if total*ADCFullScale > math.MaxInt16 {
		return nil, fmt.Errorf("tone amplitudes sum to %.4f of full scale, input would clip", total)
	}

	return s, nil
}

// BatchSize returns the number of samples per batch.
func (s *Synth) BatchSize() int {
	return s.batchSize
}

// Next returns the next batch. The sample slice is freshly allocated.
func (s *Synth) Next() Batch {
	b := Batch{Samples: make([]int16, s.batchSize)}
	s.Fill(&b)
	return b
}

// Fill writes the next batch into b, reusing b.Samples when it is large
// enough.
func (s *Synth) Fill(b *Batch) {
	if cap(b.Samples) < s.batchSize {
		b.Samples = make([]int16, s.batchSize)
	}
	b.Samples = b.Samples[:s.batchSize]

	first := s.batch * uint64(s.batchSize)
	for n := range b.Samples {
		idx := float64(first + uint64(n))
		var x float64
		for i, a := range s.cfg.Tones {
			cycles := math.Mod(s.start[i]+idx*s.step[i], 1)
			x += a.Amplitude * math.Sin(2*math.Pi*cycles)
		}
		b.Samples[n] = int16(math.Round(x * ADCFullScale))
	}

	b.Edge = pll.NoEdge
	begin := s.batch * s.batchTicks
	tick := uint64(math.Round(float64(s.edge) * s.refPeriod))
	if tick < begin+s.batchTicks {
		// Counter wraps like the hardware capture register.
		b.Edge = pll.Edge(uint32(tick))
		s.edge++
	}

	s.batch++
}

// Reset rewinds the synthesizer to tick zero.
func (s *Synth) Reset() {
	s.batch = 0
	s.edge = 0
}
