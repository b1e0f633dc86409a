package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/itohio/golockin/pkg/config"
	"github.com/itohio/golockin/pkg/iir"
	"github.com/itohio/golockin/pkg/sample"
	"github.com/itohio/golockin/pkg/source"
	flag "github.com/spf13/pflag"
)

func main() {
	var (
		configFlag   = flag.String("config", "config.yaml", "Configuration file path")
		portFlag     = flag.StringP("port", "p", "", "Serial port override (e.g., COM3 or /dev/ttyACM0)")
		mockFlag     = flag.Bool("mock", false, "Use a synthesized front end instead of the serial port")
		averageFlag  = flag.Int("average", -1, "Number of readings to average (0 = disabled, overrides config)")
		batchesFlag  = flag.Uint64("batches", 0, "Stop after this many batches (0 = until interrupted)")
		intervalFlag = flag.Duration("interval", 200*time.Millisecond, "Minimum time between logged readings")
		levelFlag    = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		responseFlag = flag.Bool("response", false, "Print the low-pass frequency response and exit")
		portsFlag    = flag.Bool("ports", false, "List serial ports and exit")
		saveFlag     = flag.Bool("save", false, "Write the effective configuration back to the config file")
	)
	flag.Parse()

	level, err := log.ParseLevel(*levelFlag)
	if err != nil {
		log.Fatal("invalid log level", "level", *levelFlag, "err", err)
	}
	log.SetLevel(level)
	log.SetReportTimestamp(true)

	if *portsFlag {
		listPorts()
		return
	}

	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatal("failed to load configuration", "file", *configFlag, "err", err)
	}
	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}
	if *averageFlag >= 0 {
		cfg.Output.AverageReadings = *averageFlag
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", "err", err)
	}
	if *saveFlag {
		if err := cfg.Save(*configFlag); err != nil {
			log.Fatal("failed to save configuration", "file", *configFlag, "err", err)
		}
		log.Info("configuration saved", "file", *configFlag)
	}

	if *responseFlag {
		if err := printResponse(cfg); err != nil {
			log.Fatal("failed to compute response", "err", err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *mockFlag, *batchesFlag, *intervalFlag); err != nil {
		log.Fatal("measurement failed", "err", err)
	}
}

func listPorts() {
	ports, err := source.Ports()
	if err != nil {
		log.Fatal("failed to enumerate serial ports", "err", err)
	}
	if len(ports) == 0 {
		log.Warn("no serial ports found")
		return
	}
	for _, p := range ports {
		if p.Description != "" && p.Description != p.Name {
			fmt.Printf("%s (%s)\n", p.Name, p.Description)
			continue
		}
		fmt.Println(p.Name)
	}
}

// printResponse measures the impulse response of the configured low-pass
// and prints it next to the analytic gain.
func printResponse(cfg *config.Config) error {
	const (
		fftSize = 1 << 16
		rows    = 40
	)

	c, err := iir.Lowpass(cfg.Lockin.CornerHz, cfg.ADCHz())
	if err != nil {
		return err
	}
	b0, b1, b2, a1, a2 := c.Float()
	log.Info("low-pass", "corner_hz", cfg.Lockin.CornerHz, "fs_hz", cfg.ADCHz(),
		"b", []float64{b0, b1, b2}, "a", []float64{1, a1, a2})

	// Only the band up to a few decades above the corner is interesting.
	points := iir.MeasureResponse(&c, cfg.ADCHz(), fftSize)
	limit := 0
	for limit < len(points) && points[limit].Frequency <= 1000*cfg.Lockin.CornerHz {
		limit++
	}
	points = sample.Downsample(nil, points[:limit], rows)

	fmt.Printf("%12s %12s %12s\n", "freq_hz", "measured_db", "analytic_db")
	for _, p := range points {
		fmt.Printf("%12.1f %12.2f %12.2f\n", p.Frequency, db(p.Gain), db(c.Gain(p.Frequency, cfg.ADCHz())))
	}
	return nil
}

func db(gain float64) float64 {
	return 20 * math.Log10(gain)
}
