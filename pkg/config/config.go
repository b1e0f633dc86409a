package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/itohio/golockin/pkg/lockin"
	"github.com/itohio/golockin/pkg/pll"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Serial SerialConfig `yaml:"serial"`
	Clock  ClockConfig  `yaml:"clock"`
	Lockin LockinConfig `yaml:"lockin"`
	PLL    PLLConfig    `yaml:"pll"`
	Output OutputConfig `yaml:"output"`
	Mock   MockConfig   `yaml:"mock"`
}

// SerialConfig contains serial port configuration.
type SerialConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
}

// ClockConfig describes the sampling timing of the front end.
type ClockConfig struct {
	InternalHz    float64 `yaml:"internal_hz"`     // Capture timer clock
	ADCTicksLog2  uint8   `yaml:"adc_ticks_log2"`  // Internal ticks per ADC sample, log2
	BatchSizeLog2 uint8   `yaml:"batch_size_log2"` // ADC samples per batch, log2
}

// LockinConfig contains demodulation parameters.
type LockinConfig struct {
	Harmonic       uint32  `yaml:"harmonic"`
	PhaseOffsetDeg float64 `yaml:"phase_offset_deg"`
	CornerHz       float64 `yaml:"corner_hz"` // Low-pass -3 dB corner
	Report         string  `yaml:"report"`    // last, first or mean
}

// PLLConfig contains the reference estimator averaging shifts.
type PLLConfig struct {
	ShiftFrequency uint8 `yaml:"shift_frequency"`
	ShiftPhase     uint8 `yaml:"shift_phase"`
}

// OutputConfig controls how results are kept and reported.
type OutputConfig struct {
	WindowBatches   int `yaml:"window_batches"`   // Outputs kept by the meter
	AverageReadings int `yaml:"average_readings"` // Readings to average (0 = disabled, default)
}

// MockConfig contains mock device configuration.
type MockConfig struct {
	ReferenceHz float64       `yaml:"reference_hz"`
	Tones       []ToneConfig  `yaml:"tones"`
	Pace        time.Duration `yaml:"pace"`  // Delay between bursts
	Burst       int           `yaml:"burst"` // Batches per burst
}

// ToneConfig is one sinusoid at the mock ADC input.
type ToneConfig struct {
	FrequencyHz float64 `yaml:"frequency_hz"`
	DBFS        float64 `yaml:"dbfs"`
	PhaseDeg    float64 `yaml:"phase_deg"` // Relative to the reference edge
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:     "/dev/ttyACM0",
			BaudRate: 921600,
		},
		Clock: ClockConfig{
			InternalHz:    100e6,
			ADCTicksLog2:  6, // 1.5625 MHz ADC
			BatchSizeLog2: 2,
		},
		Lockin: LockinConfig{
			Harmonic: 1,
			CornerHz: 1e3,
			Report:   lockin.ReportLast.String(),
		},
		PLL: PLLConfig{
			ShiftFrequency: 3,
			ShiftPhase:     2,
		},
		Output: OutputConfig{
			WindowBatches:   4096,
			AverageReadings: 0,
		},
		Mock: MockConfig{
			ReferenceHz: 100e3,
			Tones: []ToneConfig{
				{FrequencyHz: 100e3, DBFS: -30},
				{FrequencyHz: 90e3, DBFS: -20},
				{FrequencyHz: 110e3, DBFS: -20},
			},
			Pace:  time.Millisecond,
			Burst: 64,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ensureDefaults replaces zero values that can never be valid. Zero log2
// sizes and shifts are legitimate and kept.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}

	if c.Clock.InternalHz == 0 {
		c.Clock.InternalHz = def.Clock.InternalHz
	}

	if c.Lockin.Harmonic == 0 {
		c.Lockin.Harmonic = def.Lockin.Harmonic
	}
	if c.Lockin.CornerHz == 0 {
		c.Lockin.CornerHz = def.Lockin.CornerHz
	}
	if c.Lockin.Report == "" {
		c.Lockin.Report = def.Lockin.Report
	}

	if c.Output.WindowBatches == 0 {
		c.Output.WindowBatches = def.Output.WindowBatches
	}

	if c.Mock.ReferenceHz == 0 {
		c.Mock.ReferenceHz = def.Mock.ReferenceHz
	}
	if len(c.Mock.Tones) == 0 {
		c.Mock.Tones = def.Mock.Tones
	}
	if c.Mock.Pace == 0 {
		c.Mock.Pace = def.Mock.Pace
	}
	if c.Mock.Burst == 0 {
		c.Mock.Burst = def.Mock.Burst
	}
}

// Validate checks the structural and timing preconditions of the processing
// chain. Nothing is built from a configuration that fails here.
func (c *Config) Validate() error {
	if !(c.Clock.InternalHz > 0) {
		return fmt.Errorf("internal clock must be positive, got %g Hz", c.Clock.InternalHz)
	}
	if err := c.PLLConfig().Validate(); err != nil {
		return fmt.Errorf("invalid timing: %w", err)
	}
	if c.Lockin.Harmonic == 0 {
		return fmt.Errorf("harmonic must be at least 1")
	}
	if !(c.Lockin.CornerHz > 0 && c.Lockin.CornerHz < c.ADCHz()/2) {
		return fmt.Errorf("corner %g Hz outside (0, %g) Hz", c.Lockin.CornerHz, c.ADCHz()/2)
	}
	if _, err := lockin.ParseReport(c.Lockin.Report); err != nil {
		return err
	}
	if c.Output.WindowBatches < 1 {
		return fmt.Errorf("window must hold at least one batch, got %d", c.Output.WindowBatches)
	}
	if c.Output.AverageReadings < 0 {
		return fmt.Errorf("average readings must not be negative, got %d", c.Output.AverageReadings)
	}
	if c.Mock.Burst < 1 {
		return fmt.Errorf("mock burst must be at least 1, got %d", c.Mock.Burst)
	}
	if !(c.Mock.ReferenceHz > 0 && c.Mock.ReferenceHz <= c.MaxReferenceHz()) {
		return fmt.Errorf("mock reference %g Hz outside (0, %g] Hz: at most one edge per batch", c.Mock.ReferenceHz, c.MaxReferenceHz())
	}
	return nil
}

// ADCHz is the ADC sample rate.
func (c *Config) ADCHz() float64 {
	return c.Clock.InternalHz / float64(uint64(1)<<c.Clock.ADCTicksLog2)
}

// BatchTicks is the duration of one batch in internal clock ticks.
func (c *Config) BatchTicks() uint32 {
	return c.PLLConfig().BatchTicks()
}

// BatchHz is the batch rate.
func (c *Config) BatchHz() float64 {
	return c.Clock.InternalHz / float64(c.BatchTicks())
}

// MaxReferenceHz is the fastest reference that still yields at most one
// edge per batch.
func (c *Config) MaxReferenceHz() float64 {
	return c.BatchHz()
}

// PLLConfig assembles the estimator configuration.
func (c *Config) PLLConfig() pll.Config {
	return pll.Config{
		ShiftFrequency: c.PLL.ShiftFrequency,
		ShiftPhase:     c.PLL.ShiftPhase,
		ADCTicksLog2:   c.Clock.ADCTicksLog2,
		BatchSizeLog2:  c.Clock.BatchSizeLog2,
	}
}

// LowpassTimeConstant is 1/(2π·corner) in seconds.
func (c *Config) LowpassTimeConstant() float64 {
	return 1 / (2 * math.Pi * c.Lockin.CornerHz)
}
