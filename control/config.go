// File: control/config.go
// Author: momentics <momentics@gmail.com>
//
// Run configuration: minibatch geometry, decode behavior, collaborator
// selection. Immutable once the loader is constructed; loadable from a
// YAML file or built from DefaultConfig.

package control

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ReaderConfig selects and parameterizes the upstream reader. The
// shuffle and subset knobs are interpreted by the reader, not by the
// pipeline.
type ReaderConfig struct {
	Source        string `yaml:"source"`          // "synthetic" or "batchfile"
	Path          string `yaml:"path"`            // batchfile source path
	Shuffle       bool   `yaml:"shuffle"`         // shuffle item order once
	Reshuffle     bool   `yaml:"reshuffle"`       // reshuffle every epoch
	Seed          int64  `yaml:"seed"`            // shuffle seed (0 = fixed default)
	StartFileIdx  int    `yaml:"start_file_idx"`  // skip the first N records
	SubsetPercent int    `yaml:"subset_percent"`  // use only the first P percent
}

// MediaConfig selects the per-worker media transformer.
type MediaConfig struct {
	Codec string `yaml:"codec"` // "raw", "zstd" or "gzip"
}

// DeviceConfig selects the device backend.
type DeviceConfig struct {
	Type string `yaml:"type"` // "cpu" or "gpu"
}

// Config is the complete loader configuration. Geometry fields are
// fixed per run: every minibatch has BatchSize items of
// DatumSize*DatumTypeSize decoded bytes and TargetSize*TargetTypeSize
// decoded target bytes.
type Config struct {
	BatchSize      int `yaml:"batch_size"`
	DatumSize      int `yaml:"datum_size"`       // decoded datum elements
	DatumTypeSize  int `yaml:"datum_type_size"`  // bytes per datum element
	TargetSize     int `yaml:"target_size"`      // decoded target elements
	TargetTypeSize int `yaml:"target_type_size"` // bytes per target element

	// TargetConversion is the integer conversion code; 3 (read
	// contents) routes decoding through the joint media entry point,
	// every other code copies raw targets and records their length.
	TargetConversion int `yaml:"target_conversion"`

	// PinWorkers binds each decode worker to a CPU.
	PinWorkers bool `yaml:"pin_workers"`

	Reader ReaderConfig `yaml:"reader"`
	Media  MediaConfig  `yaml:"media"`
	Device DeviceConfig `yaml:"device"`
}

// DefaultConfig returns a runnable configuration: CIFAR-like geometry,
// raw codec, CPU device, synthetic reader.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:        128,
		DatumSize:        3 * 32 * 32,
		DatumTypeSize:    1,
		TargetSize:       1,
		TargetTypeSize:   4,
		TargetConversion: 0,
		Reader:           ReaderConfig{Source: "synthetic", SubsetPercent: 100},
		Media:            MediaConfig{Codec: "raw"},
		Device:           DeviceConfig{Type: "cpu"},
	}
}

// LoadConfig reads and validates a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the geometry invariants the pipeline depends on.
func (c *Config) Validate() error {
	switch {
	case c.BatchSize < 1:
		return fmt.Errorf("config: batch_size must be >= 1, got %d", c.BatchSize)
	case c.DatumSize < 1 || c.DatumTypeSize < 1:
		return fmt.Errorf("config: datum geometry must be positive, got %dx%d",
			c.DatumSize, c.DatumTypeSize)
	case c.TargetSize < 1 || c.TargetTypeSize < 1:
		return fmt.Errorf("config: target geometry must be positive, got %dx%d",
			c.TargetSize, c.TargetTypeSize)
	}
	if p := c.Reader.SubsetPercent; p < 1 || p > 100 {
		return fmt.Errorf("config: subset_percent must be in [1,100], got %d", p)
	}
	return nil
}

// DatumLen returns the decoded datum stride in bytes.
func (c *Config) DatumLen() int { return c.DatumSize * c.DatumTypeSize }

// TargetLen returns the decoded target stride in bytes.
func (c *Config) TargetLen() int { return c.TargetSize * c.TargetTypeSize }
