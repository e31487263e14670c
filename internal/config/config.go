package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents runtime configuration for the client.
type Config struct {
	Service   ServiceConfig             `json:"service"`
	Monitor   MonitorConfig             `json:"monitor"`
	Report    ReportConfig              `json:"report"`
	Databases map[string]DatabaseConfig `json:"databases"`
}

type ServiceConfig struct {
	BaseURL          string `json:"base_url"`
	HealthTimeoutSec int    `json:"health_timeout_sec"`
	UploadTimeoutSec int    `json:"upload_timeout_sec"`
	MaxRetries       int    `json:"max_retries"`
}

type MonitorConfig struct {
	TickMillis          int `json:"tick_millis"`
	ProcessingBudgetSec int `json:"processing_budget_sec"`
	WatchdogSec         int `json:"watchdog_sec"`
}

type ReportConfig struct {
	AssumedVideoDurationSec float64 `json:"assumed_video_duration_sec"`
	OutputDir               string  `json:"output_dir"`
	FontPath                string  `json:"font_path"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.Service.BaseURL == "" {
		return nil, fmt.Errorf("service.base_url must be configured")
	}

	cfg.applyDefaults()

	// Paths in the file are taken relative to the file itself.
	base := filepath.Dir(absPath)
	if cfg.Report.OutputDir != "" && !filepath.IsAbs(cfg.Report.OutputDir) {
		cfg.Report.OutputDir = filepath.Join(base, cfg.Report.OutputDir)
	}
	if db, ok := cfg.Databases["sqlite3"]; ok && db.DSN != "" && db.DSN != ":memory:" && !filepath.IsAbs(db.DSN) {
		db.DSN = filepath.Join(base, db.DSN)
		cfg.Databases["sqlite3"] = db
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Service.HealthTimeoutSec <= 0 {
		c.Service.HealthTimeoutSec = 5
	}
	if c.Service.UploadTimeoutSec <= 0 {
		c.Service.UploadTimeoutSec = 300
	}
	if c.Service.MaxRetries <= 0 {
		c.Service.MaxRetries = 3
	}
	if c.Monitor.TickMillis <= 0 {
		c.Monitor.TickMillis = 1000
	}
	if c.Monitor.ProcessingBudgetSec <= 0 {
		c.Monitor.ProcessingBudgetSec = 60
	}
	if c.Monitor.WatchdogSec <= 0 {
		c.Monitor.WatchdogSec = 300
	}
	if c.Report.AssumedVideoDurationSec <= 0 {
		c.Report.AssumedVideoDurationSec = 120
	}
	if c.Databases == nil {
		c.Databases = map[string]DatabaseConfig{
			"sqlite3": {DSN: "advision.db"},
		}
	}
}
