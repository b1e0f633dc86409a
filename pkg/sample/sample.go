package sample

import (
	"time"

	"github.com/charmbracelet/log"
	"github.com/chewxy/math32"
	"github.com/itohio/golockin/pkg/config"
	"github.com/itohio/golockin/pkg/lockin"
	"github.com/itohio/golockin/pkg/meter"
)

// magnitudeShift reduces I and Q before squaring so the sum fits in 64 bits
// with room to spare.
const magnitudeShift = 16

// Reading is a meter output in physical units.
type Reading struct {
	Batch       uint64
	Elapsed     time.Duration // Since the first batch
	Amplitude   float32       // Fraction of ADC full scale
	DBFS        float32
	Phase       float32 // Radians, relative to the demodulation carrier
	I           float32 // Fraction of full scale
	Q           float32 // Fraction of full scale
	ReferenceHz float32
	Locked      bool
}

// Converter is a function type that converts an Output channel to a Reading
// channel.
type Converter func(in <-chan meter.Output) <-chan Reading

// NewConverter creates a converter function that transforms Output to Reading.
func NewConverter(cfg *config.Config, bufSize int) Converter {
	if bufSize <= 0 {
		bufSize = 100
	}

	return func(in <-chan meter.Output) <-chan Reading {
		out := make(chan Reading, bufSize)

		go func() {
			defer close(out)

			for o := range in {
				select {
				case out <- Convert(o, cfg):
				case <-time.After(time.Second):
					log.Warn("converter output channel full, dropping reading", "batch", o.Batch)
				}
			}
		}()

		return out
	}
}

// Convert translates one output using the clock configuration.
func Convert(o meter.Output, cfg *config.Config) Reading {
	mag := o.IQ.Magnitude2(magnitudeShift)
	// (FullScale >> magnitudeShift)² is the squared magnitude of a full
	// scale tone.
	amplitude := math32.Sqrt(float32(mag) / (1 << (2 * (30 - magnitudeShift))))

	return Reading{
		Batch:       o.Batch,
		Elapsed:     batchTime(o.Batch, cfg),
		Amplitude:   amplitude,
		DBFS:        dbfs(amplitude),
		Phase:       float32(o.IQ.Phase().Radians()),
		I:           float32(o.IQ.I) / lockin.FullScale,
		Q:           float32(o.IQ.Q) / lockin.FullScale,
		ReferenceHz: frequencyHz(o, cfg),
		Locked:      o.Locked,
	}
}

func batchTime(batch uint64, cfg *config.Config) time.Duration {
	seconds := float64(batch) * float64(cfg.BatchTicks()) / cfg.Clock.InternalHz
	return time.Duration(seconds * float64(time.Second))
}

func frequencyHz(o meter.Output, cfg *config.Config) float32 {
	return float32(float64(o.Frequency) / (1 << 32) * cfg.ADCHz())
}

func dbfs(amplitude float32) float32 {
	return 20 * math32.Log10(amplitude)
}
