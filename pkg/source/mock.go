package source

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/itohio/golockin/pkg/config"
)

// Mock simulates a lock-in front end for testing and development. It runs a
// Synth and emits bursts of batches at the configured pace.
type Mock struct {
	synth *Synth
	pace  time.Duration
	burst int

	batches   chan Batch
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{} // closed when the generator of the last connection exits
	connected bool
}

// SynthConfigFrom translates the clock and mock sections of cfg.
func SynthConfigFrom(cfg *config.Config) SynthConfig {
	tones := make([]Tone, len(cfg.Mock.Tones))
	for i, t := range cfg.Mock.Tones {
		tones[i] = Tone{
			Frequency: t.FrequencyHz,
			Amplitude: Linear(t.DBFS),
			Phase:     t.PhaseDeg * math.Pi / 180,
		}
	}
	return SynthConfig{
		InternalHz:    cfg.Clock.InternalHz,
		ADCTicksLog2:  cfg.Clock.ADCTicksLog2,
		BatchSizeLog2: cfg.Clock.BatchSizeLog2,
		ReferenceHz:   cfg.Mock.ReferenceHz,
		Tones:         tones,
	}
}

// NewMock creates a new mocked device from the configuration.
func NewMock(cfg *config.Config) (*Mock, error) {
	synth, err := NewSynth(SynthConfigFrom(cfg))
	if err != nil {
		return nil, fmt.Errorf("mock device: %w", err)
	}

	burst := cfg.Mock.Burst
	if burst < 1 {
		burst = 1
	}
	pace := cfg.Mock.Pace
	if pace <= 0 {
		pace = time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Mock{
		synth:   synth,
		pace:    pace,
		burst:   burst,
		batches: make(chan Batch, DefaultBufferSize),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Connect starts generating batches.
func (m *Mock) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return fmt.Errorf("already connected")
	}

	// The synthesizer continues where the previous connection stopped, once
	// that generator has exited.
	if m.done != nil {
		<-m.done
	}

	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.batches = make(chan Batch, DefaultBufferSize)
	m.done = make(chan struct{})
	m.connected = true
	go m.generateBatches(m.ctx, m.batches, m.done)

	return nil
}

// Close stops the mocked device. The batches channel is closed once the
// generator has exited.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return nil
	}

	m.cancel()
	m.connected = false

	return nil
}

// Batches returns the channel of the current connection.
func (m *Mock) Batches() <-chan Batch {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.batches
}

// IsConnected returns whether the device is currently connected.
func (m *Mock) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// generateBatches emits batches until the device is closed. Batches are
// never dropped: the consumer relies on their continuity.
func (m *Mock) generateBatches(ctx context.Context, out chan<- Batch, done chan<- struct{}) {
	defer close(done)
	defer close(out)

	ticker := time.NewTicker(m.pace)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for i := 0; i < m.burst; i++ {
				select {
				case out <- m.synth.Next():
				case <-ctx.Done():
					return
				}
			}
		}
	}
}
