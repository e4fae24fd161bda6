package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/INLOpen/pyramid/core"
)

// PyramidConfig describes the on-disk pyramid and the physical signal it holds.
type PyramidConfig struct {
	Dir            string  `yaml:"dir"`
	FilePattern    string  `yaml:"file_pattern"` // fmt pattern taking the level index
	BaseSampleRate float64 `yaml:"base_sample_rate"`
	Channels       int     `yaml:"channels"`
	SampleType     string  `yaml:"sample_type"` // "float16", "int16" or "float32"
	ValueMin       float64 `yaml:"value_min"`
	ValueMax       float64 `yaml:"value_max"`
	MinLevel       int     `yaml:"min_level"`
	MaxLevel       int     `yaml:"max_level"`
}

// DisplayConfig holds the display buffer budget and reload policy.
type DisplayConfig struct {
	Capacity                int     `yaml:"capacity"`
	PadFraction             float64 `yaml:"pad_fraction"`
	ReloadThresholdFraction float64 `yaml:"reload_threshold_fraction"`
	PadValue                float64 `yaml:"pad_value"`
}

// StoreConfig holds resolution store options.
type StoreConfig struct {
	MaxOpenLevels int  `yaml:"max_open_levels"` // 0 keeps every opened level resident
	Preload       bool `yaml:"preload"`
}

// FetchConfig selects between inline and background loading.
type FetchConfig struct {
	Async   bool   `yaml:"async"`
	Timeout string `yaml:"timeout"`
}

// RecorderConfig controls the on-disk frame recorder.
type RecorderConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Dir         string `yaml:"dir"`
	Compression string `yaml:"compression"` // "none", "snappy", "lz4", "zstd"
}

// LoggingConfig holds logging-specific configurations.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // e.g., "debug", "info", "warn", "error"
	Output string `yaml:"output"` // e.g., "stdout", "stderr", "file", "none"
	File   string `yaml:"file"`   // Path to the log file, used if output is "file"
}

// TracingConfig holds configuration for distributed tracing.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"` // e.g., "localhost:4317" for gRPC OTLP collector
	Protocol string `yaml:"protocol"` // "grpc" or "http"
}

// DebugConfig holds debugging-related configurations.
type DebugConfig struct {
	Enabled               bool   `yaml:"enabled"`
	ListenAddress         string `yaml:"listen_address"`
	PProfEnabled          bool   `yaml:"pprof_enabled"`
	MetricsEnabled        bool   `yaml:"metrics_enabled"`
	SystemMetricsInterval string `yaml:"system_metrics_interval"`
}

// Config is the top-level configuration struct.
type Config struct {
	Pyramid  PyramidConfig  `yaml:"pyramid"`
	Display  DisplayConfig  `yaml:"display"`
	Store    StoreConfig    `yaml:"store"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Recorder RecorderConfig `yaml:"recorder"`
	Logging  LoggingConfig  `yaml:"logging"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Debug    DebugConfig    `yaml:"debug"`
}

// Default returns the configuration used when no file overrides it. The
// pyramid defaults describe a 384-channel probe recorded at 2500 Hz.
func Default() *Config {
	return &Config{
		Pyramid: PyramidConfig{
			Dir:            "./pyramid",
			FilePattern:    "res_%02d.bin",
			BaseSampleRate: 2500,
			Channels:       384,
			SampleType:     "float16",
			ValueMin:       -5e-4,
			ValueMax:       +5e-4,
			MinLevel:       0,
			MaxLevel:       11,
		},
		Display: DisplayConfig{
			Capacity:                2048,
			PadFraction:             0.5,
			ReloadThresholdFraction: 0.25,
			PadValue:                0,
		},
		Store: StoreConfig{
			MaxOpenLevels: 0,
			Preload:       false,
		},
		Fetch: FetchConfig{
			Async:   false,
			Timeout: "2s",
		},
		Recorder: RecorderConfig{
			Enabled:     false,
			Dir:         "./frames",
			Compression: "zstd",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
			File:   "pyramid.log",
		},
		Tracing: TracingConfig{
			Enabled:  false,
			Endpoint: "localhost:4317",
			Protocol: "grpc",
		},
		Debug: DebugConfig{
			Enabled:               false,
			ListenAddress:         "127.0.0.1:6060",
			PProfEnabled:          true,
			MetricsEnabled:        true,
			SystemMetricsInterval: "5s",
		},
	}
}

// Validate checks the values that would make the streamer misbehave.
func (c *Config) Validate() error {
	var errs []error
	p := c.Pyramid
	if p.BaseSampleRate <= 0 {
		errs = append(errs, fmt.Errorf("pyramid.base_sample_rate must be > 0, got %v", p.BaseSampleRate))
	}
	if p.Channels <= 0 {
		errs = append(errs, fmt.Errorf("pyramid.channels must be > 0, got %d", p.Channels))
	}
	if _, err := core.ParseSampleType(p.SampleType); err != nil {
		errs = append(errs, fmt.Errorf("pyramid.sample_type: %w", err))
	}
	if !(p.ValueMax > p.ValueMin) {
		errs = append(errs, fmt.Errorf("pyramid.value_max (%v) must be greater than value_min (%v)", p.ValueMax, p.ValueMin))
	}
	if p.MinLevel < 0 || p.MaxLevel < p.MinLevel || p.MaxLevel > 62 {
		errs = append(errs, fmt.Errorf("pyramid levels must satisfy 0 <= min_level <= max_level <= 62, got %d..%d", p.MinLevel, p.MaxLevel))
	}
	if !strings.Contains(p.FilePattern, "%") {
		errs = append(errs, fmt.Errorf("pyramid.file_pattern %q has no level verb", p.FilePattern))
	}
	d := c.Display
	if d.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("display.capacity must be > 0, got %d", d.Capacity))
	}
	if d.PadFraction < 0 {
		errs = append(errs, fmt.Errorf("display.pad_fraction must be >= 0, got %v", d.PadFraction))
	}
	if d.ReloadThresholdFraction < 0 {
		errs = append(errs, fmt.Errorf("display.reload_threshold_fraction must be >= 0, got %v", d.ReloadThresholdFraction))
	}
	if c.Store.MaxOpenLevels < 0 {
		errs = append(errs, fmt.Errorf("store.max_open_levels must be >= 0, got %d", c.Store.MaxOpenLevels))
	}
	return errors.Join(errs...)
}

// ParseDuration parses a duration string. Returns the default duration if the string is empty or invalid.
// Logs a warning if the string is invalid but not empty.
func ParseDuration(durationStr string, defaultDuration time.Duration, logger *slog.Logger) time.Duration {
	if durationStr == "" || durationStr == "0" {
		return defaultDuration
	}
	d, err := time.ParseDuration(durationStr)
	if err != nil {
		if logger != nil {
			logger.Warn("Invalid duration format, using default", "input", durationStr, "default", defaultDuration.String(), "error", err)
		}
		return defaultDuration
	}
	return d
}

// Load reads configuration from an io.Reader.
// Values absent from the document keep their defaults.
func Load(r io.Reader) (*Config, error) {
	cfg := Default()

	if r == nil {
		return cfg, nil
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config data: %w", err)
	}
	if len(data) == 0 {
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}
	return cfg, nil
}

// LoadConfig reads configuration from a YAML file by path.
// A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Load(nil)
		}
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	return Load(file)
}
