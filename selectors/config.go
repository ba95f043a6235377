package selectors

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/seltrust/horosafe"
)

// Config holds all seltrust configuration.
type Config struct {
	DBPath string `yaml:"db_path"`
	// MetricsDBPath keeps metrics and admin events in a separate file.
	// Empty means the main database.
	MetricsDBPath string `yaml:"metrics_db_path"`
	HTTPAddr      string `yaml:"http_addr"`
	// AdminTokenHash is the bcrypt hash of the admin bearer token. Empty
	// disables every admin route.
	AdminTokenHash string          `yaml:"admin_token_hash"`
	MaxBodyBytes   int64           `yaml:"max_body_bytes"`
	RequestTimeout time.Duration   `yaml:"request_timeout"`
	Thresholds     ThresholdConfig `yaml:"thresholds"`
	Worker         WorkerConfig    `yaml:"worker"`
	Metrics        MetricsConfig   `yaml:"metrics"`
}

// ThresholdConfig gates recommendations.
type ThresholdConfig struct {
	MinSamples              int     `yaml:"min_samples"`
	MinConfidence           float64 `yaml:"min_confidence"`
	DiscoveredMinConfidence float64 `yaml:"discovered_min_confidence"`
}

// WorkerConfig controls the analysis queue consumer.
type WorkerConfig struct {
	Concurrency  int           `yaml:"concurrency"`
	BatchSize    int           `yaml:"batch_size"`
	Visibility   time.Duration `yaml:"visibility"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Backoff      time.Duration `yaml:"backoff"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

// MetricsConfig controls metric buffering and retention.
type MetricsConfig struct {
	BufferSize    int           `yaml:"buffer_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	Retention     time.Duration `yaml:"retention"`
}

func (c *Config) defaults() {
	if c.DBPath == "" {
		c.DBPath = "seltrust.db"
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8091"
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = horosafe.MaxRequestBody
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.Thresholds.MinSamples <= 0 {
		c.Thresholds.MinSamples = 2
	}
	if c.Thresholds.MinConfidence <= 0 {
		c.Thresholds.MinConfidence = 0.5
	}
	if c.Thresholds.DiscoveredMinConfidence <= 0 {
		c.Thresholds.DiscoveredMinConfidence = 0.4
	}
	if c.Worker.Concurrency <= 0 {
		c.Worker.Concurrency = 4
	}
	if c.Worker.BatchSize <= 0 {
		c.Worker.BatchSize = 16
	}
	if c.Worker.Visibility <= 0 {
		c.Worker.Visibility = 60 * time.Second
	}
	if c.Worker.PollInterval <= 0 {
		c.Worker.PollInterval = time.Second
	}
	if c.Worker.Backoff <= 0 {
		c.Worker.Backoff = 5 * time.Second
	}
	if c.Worker.MaxAttempts <= 0 {
		c.Worker.MaxAttempts = 5
	}
	if c.Metrics.BufferSize <= 0 {
		c.Metrics.BufferSize = 100
	}
	if c.Metrics.FlushInterval <= 0 {
		c.Metrics.FlushInterval = 5 * time.Second
	}
	if c.Metrics.Retention <= 0 {
		c.Metrics.Retention = 30 * 24 * time.Hour
	}
}

// LoadConfigFile reads a YAML config file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
