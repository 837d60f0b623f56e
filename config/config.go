// Package config loads the a11yfix YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// CaptionKeyEnv overrides Caption.APIKey when set.
const CaptionKeyEnv = "A11YFIX_CAPTION_KEY"

// Config is the top-level configuration.
type Config struct {
	Watcher WatcherConfig `yaml:"watcher"`
	Scanner ScannerConfig `yaml:"scanner"`
	Caption CaptionConfig `yaml:"caption"`
	Store   StoreConfig   `yaml:"store"`
	Browser BrowserConfig `yaml:"browser"`
	Server  ServerConfig  `yaml:"server"`
	Rescan  RescanConfig  `yaml:"rescan"`
}

// WatcherConfig controls mutation batching.
type WatcherConfig struct {
	Debounce time.Duration `yaml:"debounce"`
	MaxBatch int           `yaml:"max_batch"`
}

// ScannerConfig controls issue detection.
type ScannerConfig struct {
	StyleSampleRate float64 `yaml:"style_sample_rate"`
	Seed            uint64  `yaml:"seed"`
	MinAltSize      float64 `yaml:"min_alt_size"`
}

// CaptionConfig configures the image captioning client.
type CaptionConfig struct {
	Backend     string        `yaml:"backend"` // none | http | openai
	Endpoint    string        `yaml:"endpoint"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Timeout     time.Duration `yaml:"timeout"`
	Retries     int           `yaml:"retries"`
	Backoff     time.Duration `yaml:"backoff"`
	Rate        float64       `yaml:"rate"` // requests per second
	Concurrency int64         `yaml:"concurrency"`
	MinSize     float64       `yaml:"min_size"`
}

// StoreConfig locates the settings database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// BrowserConfig controls Chrome for live pages.
type BrowserConfig struct {
	Remote           string   `yaml:"remote"`
	Stealth          bool     `yaml:"stealth"`
	ResourceBlocking []string `yaml:"resource_blocking"`
	AxeScript        string   `yaml:"axe_script"`
	// KeepOnToggle skips the tab reload that follows TOGGLE_ENABLED.
	KeepOnToggle     bool     `yaml:"keep_on_toggle"`
}

// ServerConfig configures the messaging endpoints.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// RescanConfig schedules periodic full scans. An empty Cron disables them.
type RescanConfig struct {
	Cron string `yaml:"cron"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// LoadFile reads a YAML configuration file. An empty path yields Default().
func LoadFile(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		cfg.applyEnv()
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if key := os.Getenv(CaptionKeyEnv); key != "" {
		c.Caption.APIKey = key
	}
}

func (c *Config) applyDefaults() {
	if c.Watcher.Debounce <= 0 {
		c.Watcher.Debounce = 100 * time.Millisecond
	}
	if c.Watcher.MaxBatch <= 0 {
		c.Watcher.MaxBatch = 100
	}
	if c.Scanner.StyleSampleRate <= 0 || c.Scanner.StyleSampleRate > 1 {
		c.Scanner.StyleSampleRate = 0.2
	}
	if c.Scanner.Seed == 0 {
		c.Scanner.Seed = 1
	}
	if c.Scanner.MinAltSize <= 0 {
		c.Scanner.MinAltSize = 100
	}
	if c.Caption.Backend == "" {
		c.Caption.Backend = "none"
	}
	if c.Caption.Timeout <= 0 {
		c.Caption.Timeout = 10 * time.Second
	}
	if c.Caption.Retries <= 0 {
		c.Caption.Retries = 2
	}
	if c.Caption.Backoff <= 0 {
		c.Caption.Backoff = 500 * time.Millisecond
	}
	if c.Caption.Rate <= 0 {
		c.Caption.Rate = 2
	}
	if c.Caption.Concurrency <= 0 {
		c.Caption.Concurrency = 4
	}
	if c.Caption.MinSize <= 0 {
		c.Caption.MinSize = 50
	}
	if c.Caption.Model == "" {
		c.Caption.Model = "gpt-4o-mini"
	}
	if c.Store.Path == "" {
		c.Store.Path = "a11yfix.db"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8422"
	}
}
