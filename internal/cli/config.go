package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JPcasado88/ebay-order-processor-demo/internal/render"
)

// Config represents the complete system configuration structure
// Maps config file fields through YAML tags
type Config struct {
	LogLevel     string `yaml:"log_level"`
	LookbackDays int    `yaml:"lookback_days"`
	// Demo serves the built-in demo orders and catalog instead of files.
	Demo bool `yaml:"demo"`

	Worker struct {
		WorkerCount int `yaml:"worker_count"`
		QueueSize   int `yaml:"queue_size"`
	} `yaml:"worker"`

	Store struct {
		Driver    string        `yaml:"driver"` // file | sqlite | redis | memory
		Dir       string        `yaml:"dir"`
		DSN       string        `yaml:"dsn"`
		Journal   string        `yaml:"journal"`
		Retention time.Duration `yaml:"retention"`
		Redis     struct {
			Addr     string        `yaml:"addr"`
			Password string        `yaml:"password"`
			DB       int           `yaml:"db"`
			Prefix   string        `yaml:"prefix"`
			TTL      time.Duration `yaml:"ttl"`
		} `yaml:"redis"`
	} `yaml:"store"`

	Catalog struct {
		Path string `yaml:"path"`
	} `yaml:"catalog"`

	Orders struct {
		Path string `yaml:"path"`
	} `yaml:"orders"`

	Extractor struct {
		Tables        string `yaml:"tables"`
		TitleFallback bool   `yaml:"title_fallback"`
	} `yaml:"extractor"`

	Render struct {
		OutputDir     string            `yaml:"output_dir"`
		StoreInitials map[string]string `yaml:"store_initials"`
		S3            render.S3Config   `yaml:"s3"`
	} `yaml:"render"`

	Server struct {
		GRPCPort int `yaml:"grpc_port"`
		HTTPPort int `yaml:"http_port"`
	} `yaml:"server"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"metrics"`
}

// loadConfig reads a YAML config. A missing file at the default path yields
// the defaults so that one-off commands work from any directory.
func loadConfig(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist) && path == defaultConfigPath:
		slog.Debug("Config file not found, using defaults", "path", path)
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 29
	}
	if cfg.Worker.WorkerCount <= 0 {
		cfg.Worker.WorkerCount = 2
	}
	if cfg.Worker.QueueSize <= 0 {
		cfg.Worker.QueueSize = 16
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "file"
	}
	if cfg.Store.Dir == "" {
		cfg.Store.Dir = "./data/processes"
	}
	if cfg.Store.DSN == "" {
		cfg.Store.DSN = "./data/processes.db"
	}
	if cfg.Store.Redis.Prefix == "" {
		cfg.Store.Redis.Prefix = "reconciler:process:"
	}
	if cfg.Render.OutputDir == "" {
		cfg.Render.OutputDir = "./data/output"
	}
	if cfg.Server.GRPCPort == 0 {
		cfg.Server.GRPCPort = 50051
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
}

// parseLevel maps a level name to slog.Level.
func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}
