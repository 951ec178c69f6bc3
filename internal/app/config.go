package app

import "errors"

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	// ModelPath selects one-shot mode: load model files, run their analyses
	// and deliver the reports.
	ModelPath string
	// RedisAddr selects worker mode: consume analysis jobs from a queue.
	RedisAddr string

	ReportsDir string
	UploadURL  string

	LogFormat   string
	LogLevel    string
	MetricsPort int
	WorkerCount int
}

// NewConfig validates a Config and applies defaults.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.ModelPath == "" && cfg.RedisAddr == "" {
		return nil, errors.New("either a model path or a redis address is required")
	}
	if cfg.ModelPath != "" && cfg.RedisAddr != "" {
		return nil, errors.New("model path and redis address are mutually exclusive")
	}
	if cfg.ReportsDir == "" {
		cfg.ReportsDir = "reports"
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	return &cfg, nil
}
