// Package config parses the CLI surface and fixes the configuration constants
// the rest of the runtime depends on.
//
// Grounded on the teacher's main.go flag.Int/flag.String usage (steel-orchestrator);
// generalized from "min/max worker port binary" flags to the workload manager's
// slot/label/window surface.
package config

import (
	"flag"
	"fmt"
	"time"
)

// Config is the fully-resolved runtime configuration for one process lifetime.
type Config struct {
	// NumWorkloads is the positional CLI argument: how many workload directories
	// (inter_arrival_<w>.bin etc.) to run in sequence. Zero when InfoOnly is set.
	NumWorkloads int
	// InfoOnly is true when the CLI was invoked with the literal "info" argument.
	InfoOnly bool

	DataDir   string
	OutputDir string

	NumSlots  int
	NumLabels int

	WindowPeriod            time.Duration
	MeasurementsPerTraining int
	StartupDelay            time.Duration

	ModelServiceAddr string

	DebugListenAddr string

	LogJSON bool
}

// ObsPerWindow is the fixed empirical constant from spec §4.6 used to convert a
// model-service "observations to wait" reply into a wall-clock idle duration.
const ObsPerWindow = 1.72

// Default returns the configuration used by the worked examples in spec §8
// (NUM_SLOTS=8, NUM_LABELS=11, window period 500ms, M=200).
func Default() Config {
	return Config{
		DataDir:                 "./data",
		OutputDir:               "./out",
		NumSlots:                8,
		NumLabels:               11,
		WindowPeriod:            500 * time.Millisecond,
		MeasurementsPerTraining: 200,
		StartupDelay:            2 * time.Second,
		ModelServiceAddr:        "127.0.0.1:9090",
		DebugListenAddr:         ":8080",
	}
}

// Parse parses os.Args-style arguments (excluding argv[0]) into a Config.
// The single required positional argument is either a positive integer
// (num_workloads) or the literal string "info".
func Parse(args []string) (Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("workloadmgr", flag.ContinueOnError)
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory containing per-workload input .bin files")
	fs.StringVar(&cfg.OutputDir, "output-dir", cfg.OutputDir, "directory to write kernels_info.bin and ring segment files into")
	fs.IntVar(&cfg.NumSlots, "slots", cfg.NumSlots, "number of hardware execution slots")
	fs.IntVar(&cfg.NumLabels, "labels", cfg.NumLabels, "number of distinct kernel labels")
	fs.DurationVar(&cfg.WindowPeriod, "window-period", cfg.WindowPeriod, "monitoring window period")
	fs.IntVar(&cfg.MeasurementsPerTraining, "measurements-per-training", cfg.MeasurementsPerTraining, "M: ring segment count / windows per training phase")
	fs.DurationVar(&cfg.StartupDelay, "startup-delay", cfg.StartupDelay, "delay before the first monitoring window tick")
	fs.StringVar(&cfg.ModelServiceAddr, "model-addr", cfg.ModelServiceAddr, "host:port of the external model service (training+prediction multiplexed)")
	fs.StringVar(&cfg.DebugListenAddr, "debug-addr", cfg.DebugListenAddr, "listen address for the debug /health and /status HTTP surface")
	fs.BoolVar(&cfg.LogJSON, "log-json", cfg.LogJSON, "emit structured JSON logs instead of the console-pretty format")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	rest := fs.Args()
	if len(rest) != 1 {
		return Config{}, fmt.Errorf("expected exactly one positional argument (num_workloads or \"info\"), got %d", len(rest))
	}

	if rest[0] == "info" {
		cfg.InfoOnly = true
		return cfg, nil
	}

	var n int
	if _, err := fmt.Sscanf(rest[0], "%d", &n); err != nil || n <= 0 {
		return Config{}, fmt.Errorf("num_workloads must be a positive integer or \"info\", got %q", rest[0])
	}
	cfg.NumWorkloads = n

	if cfg.NumSlots <= 0 {
		return Config{}, fmt.Errorf("slots must be positive, got %d", cfg.NumSlots)
	}
	if cfg.MeasurementsPerTraining <= 0 {
		return Config{}, fmt.Errorf("measurements-per-training must be positive, got %d", cfg.MeasurementsPerTraining)
	}

	return cfg, nil
}

// String renders the configuration the way "info" mode prints it.
func (c Config) String() string {
	return fmt.Sprintf(
		"data-dir=%s output-dir=%s slots=%d labels=%d window-period=%s measurements-per-training=%d startup-delay=%s model-addr=%s debug-addr=%s log-json=%v",
		c.DataDir, c.OutputDir, c.NumSlots, c.NumLabels, c.WindowPeriod, c.MeasurementsPerTraining, c.StartupDelay, c.ModelServiceAddr, c.DebugListenAddr, c.LogJSON,
	)
}
