// Package source delivers ADC batches with their optional reference edge
// from a serial front end, a paced simulation or a deterministic synthesizer.
package source

import (
	"math"

	"github.com/itohio/golockin/pkg/pll"
)

// DefaultBufferSize is the default size of the batches channel buffer.
const DefaultBufferSize = 1024

// ADCFullScale is the ADC count of a full-scale input.
const ADCFullScale = 1 << 15

// Batch is one processing batch: 2^BatchSizeLog2 consecutive ADC samples and
// the reference edge captured while they were taken, if any.
type Batch struct {
	Samples []int16
	Edge    pll.Timestamp

	// Lost counts the batches lost between the previous batch and this one.
	// Consumers advance their batch clock over them.
	Lost uint32
}

// Device defines the interface for batch sources (real or mocked).
type Device interface {
	Connect() error
	Close() error
	Batches() <-chan Batch
	IsConnected() bool
}

var (
	_ Device = (*Serial)(nil)
	_ Device = (*Mock)(nil)
)

// Linear converts a level in dBFS to a fraction of full scale.
func Linear(dbfs float64) float64 {
	return math.Pow(10, dbfs/20)
}

// DBFS converts a fraction of full scale to dBFS.
func DBFS(linear float64) float64 {
	return 20 * math.Log10(linear)
}
