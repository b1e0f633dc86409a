package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/itohio/golockin/pkg/pll"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpfile, err := os.CreateTemp(t.TempDir(), "test_config_*.yaml")
	require.NoError(t, err)
	_, err = tmpfile.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())
	return tmpfile.Name()
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.NotNil(t, cfg)
	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Port)
	assert.Equal(t, 921600, cfg.Serial.BaudRate)
	assert.Equal(t, 100e6, cfg.Clock.InternalHz)
	assert.Equal(t, uint8(6), cfg.Clock.ADCTicksLog2)
	assert.Equal(t, uint8(2), cfg.Clock.BatchSizeLog2)
	assert.Equal(t, uint32(1), cfg.Lockin.Harmonic)
	assert.Equal(t, 1e3, cfg.Lockin.CornerHz)
	assert.Equal(t, "last", cfg.Lockin.Report)
	assert.Equal(t, uint8(3), cfg.PLL.ShiftFrequency)
	assert.Equal(t, uint8(2), cfg.PLL.ShiftPhase)
	assert.Len(t, cfg.Mock.Tones, 3)
	assert.Equal(t, time.Millisecond, cfg.Mock.Pace)

	require.NoError(t, cfg.Validate())
}

func TestConfig_Derived(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 1.5625e6, cfg.ADCHz())
	assert.Equal(t, uint32(256), cfg.BatchTicks())
	assert.Equal(t, 390625.0, cfg.BatchHz())
	assert.Equal(t, cfg.BatchHz(), cfg.MaxReferenceHz())
	assert.InDelta(t, 159.15e-6, cfg.LowpassTimeConstant(), 1e-8)
	assert.Equal(t, pll.Config{ShiftFrequency: 3, ShiftPhase: 2, ADCTicksLog2: 6, BatchSizeLog2: 2}, cfg.PLLConfig())
}

func TestLoad_FileNotExists(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_ValidYAML(t *testing.T) {
	name := writeConfig(t, `
serial:
  port: "/dev/ttyUSB1"
  baud_rate: 115200

clock:
  internal_hz: 125000000
  adc_ticks_log2: 5
  batch_size_log2: 3

lockin:
  harmonic: 2
  phase_offset_deg: 45
  corner_hz: 500
  report: mean

pll:
  shift_frequency: 4
  shift_phase: 0

output:
  window_batches: 128
  average_readings: 16

mock:
  reference_hz: 50000
  pace: 5ms
  burst: 8
  tones:
    - frequency_hz: 100000
      dbfs: -10
      phase_deg: 90
`)

	cfg, err := Load(name)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyUSB1", cfg.Serial.Port)
	assert.Equal(t, 115200, cfg.Serial.BaudRate)
	assert.Equal(t, 125e6, cfg.Clock.InternalHz)
	assert.Equal(t, uint8(5), cfg.Clock.ADCTicksLog2)
	assert.Equal(t, uint8(3), cfg.Clock.BatchSizeLog2)
	assert.Equal(t, uint32(2), cfg.Lockin.Harmonic)
	assert.Equal(t, 45.0, cfg.Lockin.PhaseOffsetDeg)
	assert.Equal(t, 500.0, cfg.Lockin.CornerHz)
	assert.Equal(t, "mean", cfg.Lockin.Report)
	assert.Equal(t, uint8(4), cfg.PLL.ShiftFrequency)
	assert.Equal(t, uint8(0), cfg.PLL.ShiftPhase, "zero shift is legitimate")
	assert.Equal(t, 128, cfg.Output.WindowBatches)
	assert.Equal(t, 16, cfg.Output.AverageReadings)
	assert.Equal(t, 50e3, cfg.Mock.ReferenceHz)
	assert.Equal(t, 5*time.Millisecond, cfg.Mock.Pace)
	assert.Equal(t, 8, cfg.Mock.Burst)
	assert.Equal(t, []ToneConfig{{FrequencyHz: 100e3, DBFS: -10, PhaseDeg: 90}}, cfg.Mock.Tones)

	require.NoError(t, cfg.Validate())
}

func TestLoad_InvalidYAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, "invalid: yaml: content: ["))
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoad_PartialYAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
serial:
  port: "/dev/ttyACM1"
lockin:
  harmonic: 0
  report: ""
`))
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, "/dev/ttyACM1", cfg.Serial.Port)
	assert.Equal(t, def.Serial.BaudRate, cfg.Serial.BaudRate)
	assert.Equal(t, def.Clock, cfg.Clock)
	assert.Equal(t, def.Lockin.Harmonic, cfg.Lockin.Harmonic, "zero harmonic replaced")
	assert.Equal(t, def.Lockin.Report, cfg.Lockin.Report)
	assert.Equal(t, def.Mock.Tones, cfg.Mock.Tones)
}

func TestSave(t *testing.T) {
	cfg := Default()
	cfg.Serial.Port = "/dev/ttyUSB0"
	cfg.Lockin.Harmonic = 3
	cfg.Lockin.Report = "first"
	cfg.Mock.Pace = 20 * time.Millisecond

	name := filepath.Join(t.TempDir(), "saved.yaml")
	require.NoError(t, cfg.Save(name))

	loaded, err := Load(name)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestSave_Unwritable(t *testing.T) {
	err := Default().Save(filepath.Join(t.TempDir(), "missing", "dir", "cfg.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero clock", func(c *Config) { c.Clock.InternalHz = 0 }},
		{"negative clock", func(c *Config) { c.Clock.InternalHz = -1 }},
		{"nan clock", func(c *Config) { c.Clock.InternalHz = math.NaN() }},
		{"timing overflow", func(c *Config) { c.Clock.ADCTicksLog2, c.Clock.BatchSizeLog2 = 20, 12 }},
		{"shift too large", func(c *Config) { c.PLL.ShiftFrequency = pll.MaxShift + 1 }},
		{"zero harmonic", func(c *Config) { c.Lockin.Harmonic = 0 }},
		{"zero corner", func(c *Config) { c.Lockin.CornerHz = 0 }},
		{"corner at nyquist", func(c *Config) { c.Lockin.CornerHz = c.ADCHz() / 2 }},
		{"nan corner", func(c *Config) { c.Lockin.CornerHz = math.NaN() }},
		{"unknown report", func(c *Config) { c.Lockin.Report = "median" }},
		{"empty window", func(c *Config) { c.Output.WindowBatches = 0 }},
		{"negative averaging", func(c *Config) { c.Output.AverageReadings = -1 }},
		{"empty burst", func(c *Config) { c.Mock.Burst = 0 }},
		{"zero reference", func(c *Config) { c.Mock.ReferenceHz = 0 }},
		{"reference above batch rate", func(c *Config) { c.Mock.ReferenceHz = c.MaxReferenceHz() * 1.01 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_Boundaries(t *testing.T) {
	cfg := Default()
	cfg.Mock.ReferenceHz = cfg.MaxReferenceHz()
	require.NoError(t, cfg.Validate(), "one edge per batch is allowed")

	cfg.Clock.ADCTicksLog2, cfg.Clock.BatchSizeLog2 = 0, 0
	cfg.Mock.ReferenceHz = 1e6
	cfg.PLL = PLLConfig{}
	assert.NoError(t, cfg.Validate())
}
