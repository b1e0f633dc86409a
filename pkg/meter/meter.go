package meter

import (
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/itohio/golockin/pkg/config"
	"github.com/itohio/golockin/pkg/fixed"
	"github.com/itohio/golockin/pkg/iir"
	"github.com/itohio/golockin/pkg/lockin"
	"github.com/itohio/golockin/pkg/pll"
	"github.com/itohio/golockin/pkg/source"
)

var _ LockinMeter = (*Meter)(nil)

// Output is the result of one processed batch.
type Output struct {
	Batch     uint64     // Index of the batch since start or reset
	Phase     fixed.Turn // Reference phase at the first sample of the batch
	Frequency fixed.Turn // Reference phase increment per ADC sample
	Locked    bool       // Estimator has seen enough edges
	IQ        lockin.IQ
}

// LockinMeter processes batches and keeps a window of outputs.
type LockinMeter interface {
	ProcessBatches(input <-chan source.Batch)
	Outputs() []Output         // Current window, oldest first
	OnUpdate(func(out Output)) // Register callback for every processed batch
}

// Meter runs one estimator and one demodulation channel over a stream of
// batches. The core state is guarded by procMu and only held by the
// processing loop; the output window and callbacks are guarded by mu so
// readers never wait for the DSP. Lock order is procMu, then mu.
type Meter struct {
	cfg *config.Config

	estimator *pll.Estimator
	channel   *lockin.Lockin
	batchSize int
	batch     uint64
	lost      uint32 // rejected batches not yet skipped over
	procMu    sync.Mutex

	outputs []Output // FIFO window, oldest first
	window  int
	locked  bool
	mu      sync.RWMutex

	callbacks []func(out Output)
	cbMu      sync.RWMutex

	// Shutdown control
	shutdown bool // Set to true when input channel closes, prevents further callbacks
}

// New validates cfg and builds the processing chain.
func New(cfg *config.Config) (*Meter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	coeff, err := iir.Lowpass(cfg.Lockin.CornerHz, cfg.ADCHz())
	if err != nil {
		return nil, err
	}
	report, err := lockin.ParseReport(cfg.Lockin.Report)
	if err != nil {
		return nil, err
	}

	return &Meter{
		cfg:       cfg,
		estimator: pll.New(cfg.PLLConfig()),
		channel: lockin.New(
			cfg.Lockin.Harmonic,
			fixed.TurnFromDegrees(cfg.Lockin.PhaseOffsetDeg),
			coeff,
			lockin.WithReport(report),
		),
		batchSize: 1 << cfg.Clock.BatchSizeLog2,
		outputs:   make([]Output, 0, cfg.Output.WindowBatches),
		window:    cfg.Output.WindowBatches,
		callbacks: make([]func(out Output), 0),
	}, nil
}

// Config returns the configuration the meter was built from.
func (m *Meter) Config() *config.Config {
	return m.cfg
}

// ProcessBatches processes batches from the input channel until it closes.
// When the input channel closes, it sets shutdown flag to prevent further callbacks.
func (m *Meter) ProcessBatches(input <-chan source.Batch) {
	for b := range input {
		if _, err := m.Process(b); err != nil {
			log.Warn("dropping batch", "err", err)
		}
	}
	m.mu.Lock()
	m.shutdown = true
	m.mu.Unlock()
}

// Process runs one batch through the estimator and the demodulator.
//
// Lost batches, announced by b.Lost or rejected here for a wrong length,
// still advance the batch clock and the Batch index so the reference phase
// stays aligned with the samples.
func (m *Meter) Process(b source.Batch) (Output, error) {
	m.procMu.Lock()

	if len(b.Samples) != m.batchSize {
		m.lost += b.Lost + 1
		m.procMu.Unlock()
		return Output{}, fmt.Errorf("batch has %d samples, want %d", len(b.Samples), m.batchSize)
	}

	if lost := m.lost + b.Lost; lost > 0 {
		m.estimator.Skip(lost)
		m.batch += uint64(lost)
		m.lost = 0
		log.Warn("skipped lost batches", "lost", lost, "batch", m.batch)
	}

	phase, freq := m.estimator.Update(b.Edge)
	out := Output{
		Batch:     m.batch,
		Phase:     phase,
		Frequency: freq,
		Locked:    m.estimator.Locked(),
		IQ:        m.channel.Update(b.Samples, phase, freq),
	}
	m.batch++

	m.mu.Lock()
	m.procMu.Unlock()
	m.outputs = append(m.outputs, out)
	if len(m.outputs) >= 2*m.window {
		// Compact instead of reslicing forever.
		m.outputs = append(m.outputs[:0], m.outputs[len(m.outputs)-m.window:]...)
	}
	m.locked = out.Locked
	shouldNotify := !m.shutdown
	m.mu.Unlock()

	if shouldNotify {
		m.notifyCallbacks(out)
	}
	return out, nil
}

// Outputs returns a copy of the most recent outputs, oldest first.
func (m *Meter) Outputs() []Output {
	m.mu.RLock()
	defer m.mu.RUnlock()

	window := m.outputs
	if len(window) > m.window {
		window = window[len(window)-m.window:]
	}
	result := make([]Output, len(window))
	copy(result, window)
	return result
}

// Locked reports whether the estimator has locked to the reference.
func (m *Meter) Locked() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.locked
}

// Reset returns the estimator and the filters to cold start and clears the
// window.
func (m *Meter) Reset() {
	m.procMu.Lock()
	defer m.procMu.Unlock()
	m.estimator.Reset()
	m.channel.Reset()
	m.batch = 0
	m.lost = 0

	m.mu.Lock()
	defer m.mu.Unlock()
	m.outputs = m.outputs[:0]
	m.locked = false
}

// OnUpdate registers a callback function that will be called for every
// processed batch. The callback runs on the processing loop and must return
// quickly.
func (m *Meter) OnUpdate(callback func(out Output)) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.callbacks = append(m.callbacks, callback)
}

// ResetShutdown resets the shutdown flag, allowing callbacks to be sent again.
// This should be called before starting a new measurement chain.
func (m *Meter) ResetShutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdown = false
}

// notifyCallbacks invokes all registered callbacks without holding locks.
func (m *Meter) notifyCallbacks(out Output) {
	m.cbMu.RLock()
	callbacks := make([]func(out Output), len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.cbMu.RUnlock()

	for _, cb := range callbacks {
		if cb != nil {
			cb(out)
		}
	}
}
