package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chewxy/math32"
	"github.com/itohio/golockin/pkg/config"
	"github.com/itohio/golockin/pkg/meter"
	"github.com/itohio/golockin/pkg/sample"
	"github.com/itohio/golockin/pkg/source"
)

const outputBuffer = 4096

// measurementChain tracks the goroutines of one acquisition for graceful
// shutdown: device -> meter -> converter -> reporter.
type measurementChain struct {
	device   source.Device
	meter    *meter.Meter
	outputs  chan meter.Output
	dropped  atomic.Uint64
	meterWG  sync.WaitGroup
	closeOut sync.Once
}

func newDevice(cfg *config.Config, mock bool) (source.Device, error) {
	if mock {
		log.Info("using synthesized front end", "reference_hz", cfg.Mock.ReferenceHz, "tones", len(cfg.Mock.Tones))
		return source.NewMock(cfg)
	}
	log.Info("using serial front end", "port", cfg.Serial.Port, "baud", cfg.Serial.BaudRate)
	return source.NewSerial(cfg.Serial.Port, cfg.Serial.BaudRate, source.DefaultBufferSize, 1<<cfg.Clock.BatchSizeLog2), nil
}

// run measures until ctx is cancelled or maxBatches outputs were produced.
func run(ctx context.Context, cfg *config.Config, mock bool, maxBatches uint64, interval time.Duration) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	device, err := newDevice(cfg, mock)
	if err != nil {
		return err
	}
	m, err := meter.New(cfg)
	if err != nil {
		return err
	}

	chain := &measurementChain{
		device:  device,
		meter:   m,
		outputs: make(chan meter.Output, outputBuffer),
	}

	m.ResetShutdown()
	m.OnUpdate(func(o meter.Output) {
		select {
		case chain.outputs <- o:
		default:
			chain.dropped.Add(1)
		}
		if maxBatches > 0 && o.Batch+1 >= maxBatches {
			cancel()
		}
	})

	if err := device.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	log.Info("connected",
		"adc_hz", cfg.ADCHz(),
		"batch_hz", cfg.BatchHz(),
		"harmonic", cfg.Lockin.Harmonic,
		"corner_hz", cfg.Lockin.CornerHz,
		"settle", time.Duration(float64(time.Second)*5*cfg.LowpassTimeConstant()),
	)

	chain.meterWG.Add(1)
	go func() {
		defer chain.meterWG.Done()
		m.ProcessBatches(device.Batches())
	}()

	// Callbacks run on the meter goroutine, so the outputs channel can be
	// closed once it has returned.
	go func() {
		chain.meterWG.Wait()
		chain.closeOut.Do(func() { close(chain.outputs) })
	}()

	readings := converter(cfg)(chain.outputs)

	go func() {
		<-ctx.Done()
		chain.close()
	}()

	report(readings, interval)

	if n := chain.dropped.Load(); n > 0 {
		log.Warn("reporting could not keep up", "dropped_outputs", n)
	}
	if s, ok := device.(*source.Serial); ok && s.Lost() > 0 {
		log.Warn("serial reader lost batches", "lost", s.Lost())
	}
	return nil
}

func converter(cfg *config.Config) sample.Converter {
	if cfg.Output.AverageReadings > 0 {
		return sample.NewAveragingConverter(cfg, cfg.Output.AverageReadings, 500)
	}
	return sample.NewConverter(cfg, 500)
}

// close stops the device and waits for the meter to drain.
func (c *measurementChain) close() {
	if err := c.device.Close(); err != nil {
		log.Error("failed to close device", "err", err)
	}
	c.meterWG.Wait()
}

// report logs at most one reading per interval until the stream closes.
func report(readings <-chan sample.Reading, interval time.Duration) {
	var (
		last    time.Time
		latest  sample.Reading
		pending bool
		locked  bool
	)
	for r := range readings {
		if r.Locked != locked {
			locked = r.Locked
			if locked {
				log.Info("reference locked", "batch", r.Batch, "reference_hz", r.ReferenceHz)
			} else {
				log.Warn("reference lost", "batch", r.Batch)
			}
		}

		latest, pending = r, true
		if time.Since(last) < interval {
			continue
		}
		logReading(latest)
		last, pending = time.Now(), false
	}
	if pending {
		logReading(latest)
	}
}

func logReading(r sample.Reading) {
	log.Info("reading",
		"t", r.Elapsed,
		"amplitude", r.Amplitude,
		"dbfs", r.DBFS,
		"phase_deg", r.Phase*180/math32.Pi,
		"i", r.I,
		"q", r.Q,
		"reference_hz", r.ReferenceHz,
		"locked", r.Locked,
	)
}
