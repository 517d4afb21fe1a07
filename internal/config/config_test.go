package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("missing file should fall back to defaults: %v", err)
	}
	if cfg.Pipeline.Workers != 4 {
		t.Errorf("default workers = %d", cfg.Pipeline.Workers)
	}
	if cfg.Pipeline.ScanInterval != 5*time.Minute {
		t.Errorf("default scan interval = %v", cfg.Pipeline.ScanInterval)
	}
	if cfg.Alerts.ImpactThreshold != 9 {
		t.Errorf("default impact threshold = %d", cfg.Alerts.ImpactThreshold)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg := DefaultConfig()
	cfg.Pipeline.Workers = 8
	cfg.Scrape.MinTextLen = 500
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("config file should be 0600, got %v", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Pipeline.Workers != 8 || loaded.Scrape.MinTextLen != 500 {
		t.Errorf("round trip lost values: %+v", loaded)
	}
}

func TestWorkerClamp(t *testing.T) {
	t.Setenv("NEWSWATCH_WORKERS", "100")
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Pipeline.Workers != 20 {
		t.Errorf("workers should clamp to 20, got %d", cfg.Pipeline.Workers)
	}

	t.Setenv("NEWSWATCH_WORKERS", "1")
	cfg, err = Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Pipeline.Workers != 4 {
		t.Errorf("workers should clamp to 4, got %d", cfg.Pipeline.Workers)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("ALERT_RECIPIENT", "trader@example.com")
	t.Setenv("ALERT_HIGH_IMPACT_THRESHOLD", "8")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Models.Gemini.Enabled || cfg.Models.Gemini.APIKey != "test-key" {
		t.Errorf("gemini env override not applied: %+v", cfg.Models.Gemini)
	}
	if !cfg.Alerts.Enabled || cfg.Alerts.To != "trader@example.com" {
		t.Errorf("alert env override not applied: %+v", cfg.Alerts)
	}
	if cfg.Alerts.ImpactThreshold != 8 {
		t.Errorf("threshold override not applied: %d", cfg.Alerts.ImpactThreshold)
	}
}
