package deskxfer

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ehrlich-b/go-deskxfer/internal/constants"
)

// Config holds the tunables every engine reads at construction time.
// Centisecond-native constants from spec.md §4.4/§5 are kept as int
// centisecond fields; the SchedulerSlice and DataLoadWait accessors
// convert them to time.Duration.
type Config struct {
	// ReceiveBufSize is the floor for a receiver's initial buffer
	// allocation (spec.md §4.1).
	ReceiveBufSize int `yaml:"receive_buf_size"`

	// BufferGrowthFactor is the multiplier applied each time a
	// memory-push frame fills the current buffer completely.
	BufferGrowthFactor int `yaml:"buffer_growth_factor"`

	// DataLoadWaitCentiseconds is the receiver's wall-clock deadline,
	// spec.md's DataLoadWaitTime (default 3000cs / 30s).
	DataLoadWaitCentiseconds int `yaml:"data_load_wait_centiseconds"`

	// DragPollCentiseconds is the drag engine's periodic position-poll
	// interval (default 25cs).
	DragPollCentiseconds int `yaml:"drag_poll_centiseconds"`

	// SchedulerSliceCentiseconds bounds how long a single idle tick may
	// run (default 20cs).
	SchedulerSliceCentiseconds int `yaml:"scheduler_slice_centiseconds"`

	// ScratchDir is where the sender writes fallback scratch files when
	// a peer refuses a memory transfer.
	ScratchDir string `yaml:"scratch_dir"`

	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns the tunables spec.md names as defaults.
func DefaultConfig() *Config {
	return &Config{
		ReceiveBufSize:             constants.DefaultReceiveBufSize,
		BufferGrowthFactor:         constants.BufferGrowthFactor,
		DataLoadWaitCentiseconds:   constants.DataLoadWaitCentiseconds,
		DragPollCentiseconds:       constants.DragPollCentiseconds,
		SchedulerSliceCentiseconds: constants.DefaultSchedulerSliceCentiseconds,
		ScratchDir:                 constants.DefaultScratchDir,
		LogLevel:                   "info",
	}
}

// SchedulerSlice is SchedulerSliceCentiseconds as a time.Duration.
func (c *Config) SchedulerSlice() time.Duration {
	return time.Duration(c.SchedulerSliceCentiseconds) * 10 * time.Millisecond
}

// DataLoadWait is DataLoadWaitCentiseconds as a time.Duration.
func (c *Config) DataLoadWait() time.Duration {
	return time.Duration(c.DataLoadWaitCentiseconds) * 10 * time.Millisecond
}

// LoadConfig reads a YAML config file, applying it on top of
// DefaultConfig so a partial file only overrides what it names.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, WrapError("LoadConfig", CodeHostError, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, WrapError("LoadConfig", CodeHostError, err)
	}
	return cfg, nil
}
