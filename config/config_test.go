package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ValidConfig(t *testing.T) {
	yamlContent := `
pyramid:
  dir: "/data/probe01"
  channels: 30
  sample_type: int16
  max_level: 9
display:
  capacity: 4096
  reload_threshold_fraction: 0.1
recorder:
  enabled: true
  compression: lz4
`
	cfg, err := Load(strings.NewReader(yamlContent))
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "/data/probe01", cfg.Pyramid.Dir)
	assert.Equal(t, 30, cfg.Pyramid.Channels)
	assert.Equal(t, "int16", cfg.Pyramid.SampleType)
	assert.Equal(t, 9, cfg.Pyramid.MaxLevel)
	assert.Equal(t, 4096, cfg.Display.Capacity)
	assert.Equal(t, 0.1, cfg.Display.ReloadThresholdFraction)
	assert.True(t, cfg.Recorder.Enabled)
	assert.Equal(t, "lz4", cfg.Recorder.Compression)

	// untouched defaults
	assert.Equal(t, 2500.0, cfg.Pyramid.BaseSampleRate)
	assert.Equal(t, 0.5, cfg.Display.PadFraction)
	assert.Equal(t, "res_%02d.bin", cfg.Pyramid.FilePattern)
	require.NoError(t, cfg.Validate())
}

func TestLoad_EmptyReader(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = Load(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, 2048, cfg.Display.Capacity)
	assert.Equal(t, 0.25, cfg.Display.ReloadThresholdFraction)
	require.NoError(t, cfg.Validate())
}

func TestLoad_InvalidYAML(t *testing.T) {
	yamlContent := `
pyramid:
  dir: "/tmp"
  this: is: invalid: yaml
`
	_, err := Load(strings.NewReader(yamlContent))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal config yaml")
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"bad rate", func(c *Config) { c.Pyramid.BaseSampleRate = 0 }, "base_sample_rate"},
		{"bad channels", func(c *Config) { c.Pyramid.Channels = -1 }, "channels"},
		{"bad sample type", func(c *Config) { c.Pyramid.SampleType = "uint8" }, "sample_type"},
		{"inverted bounds", func(c *Config) { c.Pyramid.ValueMin, c.Pyramid.ValueMax = 1, -1 }, "value_max"},
		{"equal bounds", func(c *Config) { c.Pyramid.ValueMin, c.Pyramid.ValueMax = 1, 1 }, "value_max"},
		{"bad levels", func(c *Config) { c.Pyramid.MinLevel = 5; c.Pyramid.MaxLevel = 4 }, "min_level"},
		{"bad pattern", func(c *Config) { c.Pyramid.FilePattern = "level.bin" }, "file_pattern"},
		{"bad capacity", func(c *Config) { c.Display.Capacity = 0 }, "capacity"},
		{"bad pad", func(c *Config) { c.Display.PadFraction = -0.1 }, "pad_fraction"},
		{"bad threshold", func(c *Config) { c.Display.ReloadThresholdFraction = -1 }, "reload_threshold_fraction"},
		{"bad max open", func(c *Config) { c.Store.MaxOpenLevels = -2 }, "max_open_levels"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoadConfig_FileIntegration(t *testing.T) {
	t.Run("FileExists", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(configPath, []byte("display:\n  capacity: 512\n"), 0644))

		cfg, err := LoadConfig(configPath)
		require.NoError(t, err)
		assert.Equal(t, 512, cfg.Display.Capacity)
	})

	t.Run("FileDoesNotExist", func(t *testing.T) {
		cfg, err := LoadConfig(filepath.Join(t.TempDir(), "non_existent_config.yaml"))
		require.NoError(t, err)
		assert.Equal(t, 2048, cfg.Display.Capacity)
	})
}

func TestParseDuration(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	defaultDuration := 10 * time.Second

	testCases := []struct {
		name     string
		input    string
		expected time.Duration
	}{
		{"ValidSeconds", "5s", 5 * time.Second},
		{"ValidMilliseconds", "500ms", 500 * time.Millisecond},
		{"EmptyString", "", defaultDuration},
		{"ZeroString", "0", defaultDuration},
		{"InvalidString", "5x", defaultDuration},
		{"NilLogger", "5x", defaultDuration},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var testLogger *slog.Logger
			if tc.name != "NilLogger" {
				testLogger = logger
			}
			assert.Equal(t, tc.expected, ParseDuration(tc.input, defaultDuration, testLogger))
		})
	}
}
