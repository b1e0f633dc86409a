package sample

import (
	"github.com/charmbracelet/log"
	"github.com/chewxy/math32"
	"github.com/itohio/golockin/pkg/config"
	"github.com/itohio/golockin/pkg/meter"
)

// NewAveragingConverter creates a converter that averages windowSize
// consecutive outputs into one Reading. I and Q are averaged as a vector, so
// amplitude and phase are derived from the mean. The output rate is the
// batch rate divided by windowSize.
func NewAveragingConverter(cfg *config.Config, windowSize int, bufSize int) Converter {
	if windowSize <= 0 {
		windowSize = 1 // No averaging if invalid
	}
	if bufSize <= 0 {
		bufSize = 100
	}

	return func(in <-chan meter.Output) <-chan Reading {
		out := make(chan Reading, bufSize)

		go func() {
			defer close(out)

			buffer := make([]Reading, 0, windowSize)
			for o := range in {
				buffer = append(buffer, Convert(o, cfg))
				if len(buffer) < windowSize {
					continue
				}

				out <- AverageReadings(buffer)
				buffer = buffer[:0]
			}

			// Input closed, output any remaining readings
			if len(buffer) > 0 {
				select {
				case out <- AverageReadings(buffer):
				default:
					log.Warn("averaging converter output channel full, dropping tail", "readings", len(buffer))
				}
			}
		}()

		return out
	}
}

// AverageReadings averages a slice of readings. The result carries the
// batch index and time of the most recent reading and is locked only when
// every input was.
func AverageReadings(readings []Reading) Reading {
	if len(readings) == 0 {
		return Reading{}
	}

	var sumI, sumQ, sumFreq float32
	locked := true
	last := readings[len(readings)-1]

	for _, r := range readings {
		sumI += r.I
		sumQ += r.Q
		sumFreq += r.ReferenceHz
		locked = locked && r.Locked
	}

	n := float32(len(readings))
	i, q := sumI/n, sumQ/n
	amplitude := math32.Hypot(i, q)

	return Reading{
		Batch:       last.Batch,
		Elapsed:     last.Elapsed,
		Amplitude:   amplitude,
		DBFS:        dbfs(amplitude),
		Phase:       math32.Atan2(q, i),
		I:           i,
		Q:           q,
		ReferenceHz: sumFreq / n,
		Locked:      locked,
	}
}
