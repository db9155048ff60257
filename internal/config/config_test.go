package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	for _, key := range []string{"BATCH_SIZE", "DATABASE_DRIVER", "OCR_STRATEGY", "PARTIAL_FAILURE_POLICY", "FAIL_ON_AGGREGATION_ERROR", "GIN_MODE"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.BatchSize != 10 {
		t.Errorf("BatchSize = %d, want 10", cfg.BatchSize)
	}
	if cfg.DatabaseDriver != "sqlite" || cfg.OCRStrategy != "embedded" || cfg.PartialFailurePolicy != "lenient" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.FailOnAggregationError {
		t.Error("FailOnAggregationError should default to false")
	}
	if cfg.GroupTTL() != 24*time.Hour {
		t.Errorf("GroupTTL = %v, want 24h", cfg.GroupTTL())
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("BATCH_SIZE", "25")
	t.Setenv("OCR_STRATEGY", "rasterize")
	t.Setenv("FAIL_ON_AGGREGATION_ERROR", "true")
	t.Setenv("GROUP_TTL_MINUTES", "30")
	t.Setenv("RASTER_DPI", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.BatchSize != 25 || cfg.OCRStrategy != "rasterize" || !cfg.FailOnAggregationError {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.RasterDPI != 300 {
		t.Errorf("invalid RASTER_DPI should fall back to default, got %d", cfg.RasterDPI)
	}
	if cfg.GroupTTL() != 30*time.Minute {
		t.Errorf("GroupTTL = %v, want 30m", cfg.GroupTTL())
	}
}

func TestValidate(t *testing.T) {
	base := Config{DatabaseDriver: "sqlite", OCRStrategy: "embedded", PartialFailurePolicy: "lenient", BatchSize: 10}
	if err := base.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := map[string]func(c *Config){
		"driver":   func(c *Config) { c.DatabaseDriver = "mysql" },
		"strategy": func(c *Config) { c.OCRStrategy = "magic" },
		"policy":   func(c *Config) { c.PartialFailurePolicy = "sometimes" },
		"batch":    func(c *Config) { c.BatchSize = 0 },
		"release":  func(c *Config) { c.GinMode = "release"; c.QueueRedisURL = "" },
		"gcs":      func(c *Config) { c.GinMode = "release"; c.QueueRedisURL = "redis://x"; c.DatabaseURL = "db"; c.GCSBucket = "b" },
	}
	for name, mutate := range cases {
		c := base
		mutate(&c)
		if err := c.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}
