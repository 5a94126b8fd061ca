package control

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	mutations := []func(*Config){
		func(c *Config) { c.BatchSize = 0 },
		func(c *Config) { c.DatumSize = 0 },
		func(c *Config) { c.DatumTypeSize = -1 },
		func(c *Config) { c.TargetSize = 0 },
		func(c *Config) { c.TargetTypeSize = 0 },
		func(c *Config) { c.Reader.SubsetPercent = 0 },
		func(c *Config) { c.Reader.SubsetPercent = 101 },
	}
	for i, mutate := range mutations {
		cfg := DefaultConfig()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("mutation %d passed validation", i)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	src := `
batch_size: 32
datum_size: 784
datum_type_size: 1
target_size: 1
target_type_size: 4
target_conversion: 3
pin_workers: true
reader:
  source: batchfile
  path: /data/train.nbf
  shuffle: true
  reshuffle: true
  seed: 99
  subset_percent: 25
media:
  codec: zstd
device:
  type: gpu
`
	path := filepath.Join(t.TempDir(), "loader.yaml")
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.BatchSize != 32 || cfg.DatumSize != 784 {
		t.Errorf("geometry not parsed: %+v", cfg)
	}
	if cfg.TargetConversion != 3 || !cfg.PinWorkers {
		t.Errorf("modes not parsed: %+v", cfg)
	}
	if cfg.Reader.Source != "batchfile" || !cfg.Reader.Reshuffle || cfg.Reader.Seed != 99 {
		t.Errorf("reader config not parsed: %+v", cfg.Reader)
	}
	if cfg.Media.Codec != "zstd" || cfg.Device.Type != "gpu" {
		t.Errorf("collaborators not parsed: %+v", cfg)
	}
	if cfg.DatumLen() != 784 || cfg.TargetLen() != 4 {
		t.Errorf("strides wrong: %d %d", cfg.DatumLen(), cfg.TargetLen())
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("batch_size: 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("invalid config accepted")
	}
}

func TestMetricsRegistry(t *testing.T) {
	mr := NewMetricsRegistry()
	mr.Set("run", "abc")
	mr.Add("batches", 3)
	mr.Add("batches", 2)
	if got := mr.Counter("batches"); got != 5 {
		t.Fatalf("counter = %d, want 5", got)
	}
	snap := mr.GetSnapshot()
	if snap["run"] != "abc" || snap["batches"] != int64(5) {
		t.Fatalf("snapshot = %v", snap)
	}
}
