package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	defaultConfigPath = "~/.config/sharpscale/config.json"
	defaultDBPath     = "~/.local/share/sharpscale/history.db"
	defaultTileSize   = 1024
	defaultSettleMS   = 500
	defaultQueueSize  = 64

	// EnvConfigPath overrides the config file location.
	EnvConfigPath = "SHARPSCALE_CONFIG"
)

// Config holds user-editable settings. None of them change the numeric
// parameters of the enhancement stages.
type Config struct {
	Processing Processing `json:"processing"`
	Logging    Logging    `json:"logging"`
	Paths      Paths      `json:"paths"`
	Storage    Storage    `json:"storage"`
	Watch      Watch      `json:"watch"`
	Server     Server     `json:"server"`
}

// Processing captures memory-related execution preferences.
type Processing struct {
	TileSize int `json:"tile_size"` // tile edge in source pixels
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Format     string `json:"format"`      // text, json
	FileOutput bool   `json:"file_output"` // Enable file logging
	LogDir     string `json:"log_dir"`     // Directory for log files
}

// Paths configures default locations.
type Paths struct {
	DatabasePath string `json:"database_path"`
}

// Storage selects the run history backend.
type Storage struct {
	Enabled bool   `json:"enabled"`
	Driver  string `json:"driver"` // "sqlite" (pure Go) or "sqlite3" (cgo)
}

// Watch tunes the folder watcher.
type Watch struct {
	SettleMS  int `json:"settle_ms"`
	QueueSize int `json:"queue_size"`
}

// Server configures the status endpoints started by `serve`.
type Server struct {
	HTTPAddr string `json:"http_addr"`
	GRPCAddr string `json:"grpc_addr"`
}

// Path returns the config file location honouring EnvConfigPath.
func Path() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return defaultConfigPath
}

// Load reads configuration from disk, falling back to sensible defaults.
func Load() (*Config, error) {
	return LoadFile(Path())
}

// LoadFile reads configuration from path. A missing file yields defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	expanded, err := expandUser(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", expanded, err)
	}
	cfg.normalize()
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Processing: Processing{
			TileSize: defaultTileSize,
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: false,
			LogDir:     "./logs",
		},
		Paths: Paths{
			DatabasePath: defaultDBPath,
		},
		Storage: Storage{
			Enabled: true,
			Driver:  "sqlite",
		},
		Watch: Watch{
			SettleMS:  defaultSettleMS,
			QueueSize: defaultQueueSize,
		},
		Server: Server{
			HTTPAddr: ":8080",
			GRPCAddr: ":9090",
		},
	}
}

// normalize replaces zero values a partial file may leave behind.
func (c *Config) normalize() {
	if c.Processing.TileSize <= 0 {
		c.Processing.TileSize = defaultTileSize
	}
	if c.Watch.SettleMS <= 0 {
		c.Watch.SettleMS = defaultSettleMS
	}
	if c.Watch.QueueSize <= 0 {
		c.Watch.QueueSize = defaultQueueSize
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// DatabaseFile returns the expanded history database path and creates its
// parent directory.
func (c *Config) DatabaseFile() (string, error) {
	path, err := expandUser(c.Paths.DatabasePath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create database directory: %w", err)
	}
	return path, nil
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
