package sample

import (
	"math"
	"testing"
	"time"

	"github.com/itohio/golockin/pkg/config"
	"github.com/itohio/golockin/pkg/lockin"
	"github.com/itohio/golockin/pkg/meter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAverageReadings(t *testing.T) {
	readings := []Reading{
		{Batch: 1, I: 0.1, Q: 0, ReferenceHz: 99, Locked: true},
		{Batch: 2, I: 0.3, Q: 0.2, ReferenceHz: 101, Locked: true},
	}

	avg := AverageReadings(readings)
	assert.Equal(t, uint64(2), avg.Batch, "carries the latest batch")
	assert.InDelta(t, 0.2, avg.I, 1e-6)
	assert.InDelta(t, 0.1, avg.Q, 1e-6)
	assert.InDelta(t, math.Hypot(0.2, 0.1), avg.Amplitude, 1e-6)
	assert.InDelta(t, math.Atan2(0.1, 0.2), avg.Phase, 1e-6)
	assert.InDelta(t, 100, avg.ReferenceHz, 1e-3)
	assert.True(t, avg.Locked)
}

func TestAverageReadings_VectorMean(t *testing.T) {
	// Opposite phases cancel even though each amplitude is large.
	avg := AverageReadings([]Reading{
		{I: 0.5, Amplitude: 0.5},
		{I: -0.5, Amplitude: 0.5, Phase: math.Pi},
	})
	assert.InDelta(t, 0, avg.Amplitude, 1e-6)
}

func TestAverageReadings_Locked(t *testing.T) {
	avg := AverageReadings([]Reading{{Locked: true}, {Locked: false}, {Locked: true}})
	assert.False(t, avg.Locked)
}

func TestAverageReadings_Empty(t *testing.T) {
	assert.Equal(t, Reading{}, AverageReadings(nil))
}

func TestNewAveragingConverter(t *testing.T) {
	cfg := config.Default()
	in := make(chan meter.Output, 10)
	out := NewAveragingConverter(cfg, 3, 10)(in)

	for i := 0; i < 7; i++ {
		in <- meter.Output{
			Batch:  uint64(i),
			IQ:     lockin.IQ{I: int32(i+1) * (lockin.FullScale / 16)},
			Locked: true,
		}
	}
	close(in)

	var got []Reading
	for r := range out {
		got = append(got, r)
	}
	require.Len(t, got, 3, "two full windows and the tail")

	assert.Equal(t, uint64(2), got[0].Batch)
	assert.InDelta(t, 2.0/16, got[0].I, 1e-6)
	assert.Equal(t, uint64(5), got[1].Batch)
	assert.InDelta(t, 5.0/16, got[1].I, 1e-6)
	assert.Equal(t, uint64(6), got[2].Batch)
	assert.InDelta(t, 7.0/16, got[2].I, 1e-6)
}

func TestNewAveragingConverter_InvalidWindow(t *testing.T) {
	in := make(chan meter.Output, 2)
	out := NewAveragingConverter(config.Default(), 0, 0)(in)

	in <- meter.Output{Batch: 1}
	in <- meter.Output{Batch: 2}
	close(in)

	var got []Reading
	for r := range out {
		got = append(got, r)
	}
	assert.Len(t, got, 2, "a non-positive window disables averaging")
}

func TestNewAveragingConverter_GracefulShutdown(t *testing.T) {
	in := make(chan meter.Output)
	out := NewAveragingConverter(config.Default(), 4, 1)(in)
	close(in)

	select {
	case _, ok := <-out:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("averaging converter did not close its output")
	}
}
