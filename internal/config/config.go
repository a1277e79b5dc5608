package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"

	"github.com/ajbt200128/mosaic/internal/blend"
	"github.com/ajbt200128/mosaic/internal/warp"
)

const (
	// EnvPath names the environment variable that overrides DefaultPath.
	EnvPath = "MOSAIC_CONFIG"
	// DefaultPath is read when EnvPath is unset.
	DefaultPath = "~/.config/mosaic/config.json"

	defaultParallel = 4
)

// Point origins accepted in Mosaic.PointOrigin.
const (
	OriginTopLeft    = "top-left"
	OriginBottomLeft = "bottom-left"
)

// Config holds user-editable settings for the service.
type Config struct {
	Processing Processing `json:"processing" yaml:"processing"`
	Logging    Logging    `json:"logging" yaml:"logging"`
	Paths      Paths      `json:"paths" yaml:"paths"`
	Storage    Storage    `json:"storage" yaml:"storage"`
	Mosaic     Mosaic     `json:"mosaic" yaml:"mosaic"`
	Server     Server     `json:"server" yaml:"server"`
}

// Processing captures execution preferences.
type Processing struct {
	ParallelJobs int    `json:"parallel_jobs" yaml:"parallel_jobs"`
	PixelWorkers int    `json:"pixel_workers" yaml:"pixel_workers"` // 0 = GOMAXPROCS
	TempDir      string `json:"temp_dir" yaml:"temp_dir"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level" yaml:"level"`             // debug, info, warn, error
	Format     string `json:"format" yaml:"format"`           // text, json
	FileOutput bool   `json:"file_output" yaml:"file_output"` // Enable file logging
	LogDir     string `json:"log_dir" yaml:"log_dir"`         // Directory for log files
}

// Paths configures default input/output locations.
type Paths struct {
	DefaultOutput string `json:"default_output" yaml:"default_output"`
	DatabasePath  string `json:"database_path" yaml:"database_path"`
}

// Storage selects the database/sql driver.
type Storage struct {
	Driver string `json:"driver" yaml:"driver"` // sqlite (pure Go) or sqlite3 (cgo)
}

// Mosaic configures the merge pipeline.
type Mosaic struct {
	CanvasScale     int          `json:"canvas_scale" yaml:"canvas_scale"`
	MaxCanvasPixels int          `json:"max_canvas_pixels" yaml:"max_canvas_pixels"`
	Sampling        string       `json:"sampling" yaml:"sampling"`         // nearest, bilinear
	PointOrigin     string       `json:"point_origin" yaml:"point_origin"` // top-left, bottom-left
	Blend           blend.Params `json:"blend" yaml:"blend"`
}

// Server configures the network listeners and the manifest watcher.
type Server struct {
	HTTPAddr   string   `json:"http_addr" yaml:"http_addr"`
	GRPCAddr   string   `json:"grpc_addr" yaml:"grpc_addr"`
	WatchPaths []string `json:"watch_paths" yaml:"watch_paths"`
}

// Load reads configuration from disk, falling back to sensible defaults.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvPath)
	if configPath == "" {
		configPath = DefaultPath
	}
	return LoadFile(configPath)
}

// LoadFile reads configuration from path. A missing file yields the defaults.
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
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", expanded, err)
	}

	return cfg, nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Processing: Processing{
			ParallelJobs: defaultParallel,
			TempDir:      os.TempDir(),
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: true,
			LogDir:     "./logs",
		},
		Paths: Paths{
			DefaultOutput: "./output",
			DatabasePath:  filepath.Join(os.TempDir(), "mosaic.db"),
		},
		Storage: Storage{Driver: "sqlite"},
		Mosaic: Mosaic{
			CanvasScale:     2,
			MaxCanvasPixels: warp.DefaultMaxPixels,
			Sampling:        "nearest",
			PointOrigin:     OriginBottomLeft,
			Blend:           blend.DefaultParams(),
		},
		Server: Server{
			HTTPAddr: ":8080",
			GRPCAddr: ":9090",
		},
	}
}

// Validate reports the first setting that the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Processing.ParallelJobs < 1 {
		return fmt.Errorf("processing.parallel_jobs must be at least 1, got %d", c.Processing.ParallelJobs)
	}
	if c.Processing.PixelWorkers < 0 {
		return fmt.Errorf("processing.pixel_workers must not be negative, got %d", c.Processing.PixelWorkers)
	}
	switch c.Storage.Driver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("storage.driver must be sqlite or sqlite3, got %q", c.Storage.Driver)
	}
	if c.Mosaic.CanvasScale < 1 {
		return fmt.Errorf("mosaic.canvas_scale must be at least 1, got %d", c.Mosaic.CanvasScale)
	}
	if c.Mosaic.MaxCanvasPixels < 1 {
		return fmt.Errorf("mosaic.max_canvas_pixels must be positive, got %d", c.Mosaic.MaxCanvasPixels)
	}
	if _, err := warp.ParseSampling(c.Mosaic.Sampling); err != nil {
		return fmt.Errorf("mosaic.sampling: %w", err)
	}
	switch c.Mosaic.PointOrigin {
	case OriginTopLeft, OriginBottomLeft:
	default:
		return fmt.Errorf("mosaic.point_origin must be %s or %s, got %q", OriginTopLeft, OriginBottomLeft, c.Mosaic.PointOrigin)
	}
	if err := c.Mosaic.Blend.Validate(); err != nil {
		return fmt.Errorf("mosaic.blend: %w", err)
	}
	return nil
}

// AsYAML renders the effective configuration for display.
func (c *Config) AsYAML() string {
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("# config could not be rendered: %v\n", err)
	}
	return string(b)
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
