// Package config holds the persistent application configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config is the persistent application configuration
type Config struct {
	// Pipeline settings
	Pipeline PipelineConfig `json:"pipeline"`

	// AI model settings
	Models ModelConfig `json:"models"`

	// Scraper settings
	Scrape ScrapeConfig `json:"scrape"`

	// Email alert settings
	Alerts AlertConfig `json:"alerts"`

	// Storage settings
	DBPath string `json:"db_path"`

	// Feed registry file (YAML); empty uses compiled-in defaults
	FeedsFile string `json:"feeds_file"`

	// Logging
	LogDir   string `json:"log_dir"`
	LogLevel string `json:"log_level"`
}

// PipelineConfig controls scan scheduling and worker concurrency
type PipelineConfig struct {
	Workers        int           `json:"workers"`          // clamped to [4,20]
	ScanInterval   time.Duration `json:"scan_interval"`    // time between scan cycles
	QueueHighWater int           `json:"queue_high_water"` // submit blocks at this depth
	QueueLowWater  int           `json:"queue_low_water"`  // submit resumes below this depth
	DedupWindow    time.Duration `json:"dedup_window"`     // lookback window for seen URLs
	CacheTTL       time.Duration `json:"cache_ttl"`        // analysis result TTL
}

// ModelConfig holds AI provider settings
type ModelConfig struct {
	Ollama      ModelSettings `json:"ollama"`
	Gemini      ModelSettings `json:"gemini"`
	PreferLocal bool          `json:"prefer_local"`
	StrictScore bool          `json:"strict_score"` // reject out-of-range scores instead of clamping
}

// ModelSettings for a single AI provider
type ModelSettings struct {
	Enabled  bool   `json:"enabled"`
	APIKey   string `json:"api_key,omitempty"`
	Endpoint string `json:"endpoint,omitempty"` // For Ollama or custom endpoints
	Model    string `json:"model,omitempty"`
}

// ScrapeConfig controls the hybrid scraper
type ScrapeConfig struct {
	StaticTimeout time.Duration `json:"static_timeout"`
	RenderTimeout time.Duration `json:"render_timeout"`
	MinTextLen    int           `json:"min_text_len"` // content sufficiency threshold
	MaxRetries    int           `json:"max_retries"`  // transient retry bound
	RenderEnabled bool          `json:"render_enabled"`
}

// AlertConfig controls high-impact email alerts
type AlertConfig struct {
	Enabled         bool          `json:"enabled"`
	ImpactThreshold int           `json:"impact_threshold"` // minimum score that triggers an alert
	MinInterval     time.Duration `json:"min_interval"`     // global rate limit between emails
	SMTPHost        string        `json:"smtp_host"`
	SMTPPort        int           `json:"smtp_port"`
	SMTPUser        string        `json:"smtp_user,omitempty"`
	SMTPPass        string        `json:"smtp_pass,omitempty"`
	From            string        `json:"from"`
	To              string        `json:"to"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Pipeline: PipelineConfig{
			Workers:        4,
			ScanInterval:   5 * time.Minute,
			QueueHighWater: 256,
			QueueLowWater:  64,
			DedupWindow:    72 * time.Hour,
			CacheTTL:       24 * time.Hour,
		},
		Models: ModelConfig{
			Ollama: ModelSettings{
				Enabled:  true,
				Endpoint: "http://localhost:11434",
				// Model auto-detected from Ollama if not specified
			},
			Gemini: ModelSettings{
				Enabled: false,
				Model:   "gemini-3-flash-preview",
			},
			PreferLocal: true,
		},
		Scrape: ScrapeConfig{
			StaticTimeout: 10 * time.Second,
			RenderTimeout: 20 * time.Second,
			MinTextLen:    300,
			MaxRetries:    3,
			RenderEnabled: true,
		},
		Alerts: AlertConfig{
			Enabled:         false,
			ImpactThreshold: 9,
			MinInterval:     30 * time.Minute,
			SMTPPort:        587,
		},
		DBPath:   filepath.Join(home, ".newswatch", "newswatch.db"),
		LogLevel: "info",
	}
}

// ConfigPath returns the path to the config file
func ConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".newswatch", "config.json")
}

// Load reads config from path, or returns defaults if it doesn't exist.
// Environment variables override file values either way.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.AutoPopulateFromEnv()
	cfg.clamp()
	return cfg, nil
}

// Save writes config to path
func (c *Config) Save(path string) error {
	if path == "" {
		path = ConfigPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600) // Restrictive permissions for API keys
}

// AutoPopulateFromEnv fills in secrets and overrides from environment variables
func (c *Config) AutoPopulateFromEnv() {
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		c.Models.Ollama.Endpoint = v
		c.Models.Ollama.Enabled = true
	}
	if v := os.Getenv("OLLAMA_MODEL"); v != "" {
		c.Models.Ollama.Model = v
	}
	if v := os.Getenv("OLLAMA_KEY"); v != "" {
		c.Models.Ollama.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Models.Gemini.APIKey = v
		c.Models.Gemini.Enabled = true
	}
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" && c.Models.Gemini.APIKey == "" {
		c.Models.Gemini.APIKey = v
		c.Models.Gemini.Enabled = true
	}
	if v := os.Getenv("SMTP_USERNAME"); v != "" {
		c.Alerts.SMTPUser = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		c.Alerts.SMTPPass = v
	}
	if v := os.Getenv("ALERT_RECIPIENT"); v != "" {
		c.Alerts.To = v
		c.Alerts.Enabled = true
	}
	if v := os.Getenv("ALERT_HIGH_IMPACT_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Alerts.ImpactThreshold = n
		}
	}
	if v := os.Getenv("NEWSWATCH_DB"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("NEWSWATCH_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Pipeline.Workers = n
		}
	}
}

// clamp enforces bounds the rest of the system relies on.
func (c *Config) clamp() {
	if c.Pipeline.Workers < 4 {
		c.Pipeline.Workers = 4
	}
	if c.Pipeline.Workers > 20 {
		c.Pipeline.Workers = 20
	}
	if c.Pipeline.QueueLowWater >= c.Pipeline.QueueHighWater {
		c.Pipeline.QueueLowWater = c.Pipeline.QueueHighWater / 4
	}
	if c.Alerts.ImpactThreshold < 0 {
		c.Alerts.ImpactThreshold = 0
	}
	if c.Alerts.ImpactThreshold > 10 {
		c.Alerts.ImpactThreshold = 10
	}
}
