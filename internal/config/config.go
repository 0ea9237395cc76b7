package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

const (
	defaultConfigPath = "~/.config/photobooth/config.json"
	defaultParallel   = 2
	defaultDPI        = 300
)

// Config holds user-editable settings for the kiosk engine.
type Config struct {
	Processing Processing `json:"processing"`
	Logging    Logging    `json:"logging"`
	Paths      Paths      `json:"paths"`
	Compose    Compose    `json:"compose"`
	Preview    Preview    `json:"preview"`
	Server     Server     `json:"server"`
}

// Processing captures execution preferences.
type Processing struct {
	ParallelJobs int `json:"parallel_jobs"`
	QueueSize    int `json:"queue_size"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Format     string `json:"format"`      // text, json
	FileOutput bool   `json:"file_output"` // Enable file logging
	LogDir     string `json:"log_dir"`     // Directory for log files
}

// Paths configures asset and output locations.
type Paths struct {
	TemplatesDir string `json:"templates_dir"`
	SessionsDir  string `json:"sessions_dir"`
	OutputDir    string `json:"output_dir"`
	DatabasePath string `json:"database_path"`
}

// Compose configures composite generation.
type Compose struct {
	DefaultDPI      int    `json:"default_dpi"`
	CompositePrefix string `json:"composite_prefix"`
	StripPrefix     string `json:"strip_prefix"`
	FinalName       string `json:"final_name"`
}

// Preview configures the live overlay preview.
type Preview struct {
	OverlayPath   string `json:"overlay_path"`
	Mirror        bool   `json:"mirror"`
	JPEGQuality   int    `json:"jpeg_quality"`
	MaxFrameBytes int64  `json:"max_frame_bytes"`
}

// Server configures the HTTP and gRPC listeners.
type Server struct {
	HTTPAddr string `json:"http_addr"`
	GRPCAddr string `json:"grpc_addr"`
	Watch    bool   `json:"watch"`
}

// Load reads configuration from disk, falling back to sensible defaults.
func Load() (*Config, error) {
	cfg := defaultConfig()

	configPath := os.Getenv("PHOTOBOOTH_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	if err := LoadFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnv(cfg)
	return cfg, nil
}

// LoadFile decodes the JSON file at path over cfg. A missing file is not an error.
func LoadFile(cfg *Config, path string) error {
	expanded, err := expandUser(path)
	if err != nil {
		return err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	return json.NewDecoder(f).Decode(cfg)
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Processing: Processing{
			ParallelJobs: defaultParallel,
			QueueSize:    16,
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: false,
			LogDir:     "./logs",
		},
		Paths: Paths{
			TemplatesDir: "./resources/templates/v0.1",
			SessionsDir:  ".",
			OutputDir:    "./composite_output",
			DatabasePath: filepath.Join(os.TempDir(), "photobooth.db"),
		},
		Compose: Compose{
			DefaultDPI:      defaultDPI,
			CompositePrefix: "composite",
			StripPrefix:     "preview_strip",
			FinalName:       "final_composite.png",
		},
		Preview: Preview{
			Mirror:        true,
			JPEGQuality:   80,
			MaxFrameBytes: 8 << 20,
		},
		Server: Server{
			HTTPAddr: ":8080",
			GRPCAddr: ":9090",
			Watch:    true,
		},
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PHOTOBOOTH_TEMPLATES_DIR"); v != "" {
		cfg.Paths.TemplatesDir = v
	}
	if v := os.Getenv("PHOTOBOOTH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PHOTOBOOTH_OVERLAY"); v != "" {
		cfg.Preview.OverlayPath = v
	}
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
