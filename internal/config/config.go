// Package config assembles the effective settings of the roadvision binary from
// defaults, a JSON file, the environment (optionally a .env file) and flags.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"roadvision/internal/pipeline"
)

// EnvPrefix prefixes every environment variable
const EnvPrefix = "ROADVISION_"

// maxFileSize bounds configuration files (1MB)
const maxFileSize = 1 * 1024 * 1024

// Config contains the effective settings of the binary
type Config struct {
	Fusion *pipeline.Config

	Source         string        // video file, device, stream URL or image directory
	DetectorURL    string        // object detection service
	LaneURL        string        // lane fitting service
	ServiceTimeout time.Duration // per-request timeout for both services
	HTTPAddr       string        // MJPEG stream, snapshot and readout WebSocket
	GRPCAddr       string        // gRPC health service
	DBPath         string        // SQLite measurement log, empty disables it
	RecordDir      string        // root directory of session recordings
	FPS            int           // source frame rate hint, 0 keeps the native rate
	Preview        bool          // position-camera preview mode
	Debug          bool
}

// Default returns the built-in defaults
func Default() *Config {
	return &Config{
		Fusion:         pipeline.DefaultConfig(),
		DetectorURL:    "http://localhost:8081",
		LaneURL:        "http://localhost:8082",
		ServiceTimeout: 5 * time.Second,
		HTTPAddr:       ":8080",
		GRPCAddr:       ":9090",
		DBPath:         "roadvision.db",
		RecordDir:      "recordings",
	}
}

// Overrides contains partial settings. Nil values mean "inherit".
type Overrides struct {
	pipeline.ConfigOverrides

	Source         *string `json:"source,omitempty"`
	DetectorURL    *string `json:"detector_url,omitempty"`
	LaneURL        *string `json:"lane_url,omitempty"`
	ServiceTimeout *string `json:"service_timeout,omitempty"` // time.ParseDuration format
	HTTPAddr       *string `json:"http_addr,omitempty"`
	GRPCAddr       *string `json:"grpc_addr,omitempty"`
	DBPath         *string `json:"db_path,omitempty"`
	RecordDir      *string `json:"record_dir,omitempty"`
	FPS            *int    `json:"fps,omitempty"`
	Preview        *bool   `json:"preview,omitempty"`
	Debug          *bool   `json:"debug,omitempty"`
}

// Apply merges the overrides into cfg in place
func (o *Overrides) Apply(cfg *Config) error {
	if o == nil {
		return nil
	}

	fusion, err := o.ConfigOverrides.MergeWith(cfg.Fusion)
	if err != nil {
		return err
	}
	cfg.Fusion = fusion

	if o.ServiceTimeout != nil {
		d, err := time.ParseDuration(*o.ServiceTimeout)
		if err != nil {
			return fmt.Errorf("invalid service timeout: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("service timeout must be positive, got %s", d)
		}
		cfg.ServiceTimeout = d
	}

	setString(&cfg.Source, o.Source)
	setString(&cfg.DetectorURL, o.DetectorURL)
	setString(&cfg.LaneURL, o.LaneURL)
	setString(&cfg.HTTPAddr, o.HTTPAddr)
	setString(&cfg.GRPCAddr, o.GRPCAddr)
	setString(&cfg.DBPath, o.DBPath)
	setString(&cfg.RecordDir, o.RecordDir)
	if o.FPS != nil {
		cfg.FPS = *o.FPS
	}
	if o.Preview != nil {
		cfg.Preview = *o.Preview
	}
	if o.Debug != nil {
		cfg.Debug = *o.Debug
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

// LoadFile reads overrides from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadFile(path string) (*Overrides, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	o := &Overrides{}
	if err := json.Unmarshal(data, o); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	return o, nil
}

// LoadDotEnv loads a .env file into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Options selects the sources Load reads
type Options struct {
	File    string     // JSON config file, empty to skip
	DotEnv  string     // .env file, empty to skip
	Environ LookupFunc // defaults to os.LookupEnv
}

// Load applies defaults < file < environment and validates the result
func Load(opts Options) (*Config, error) {
	cfg := Default()

	if opts.File != "" {
		o, err := LoadFile(opts.File)
		if err != nil {
			return nil, err
		}
		if err := o.Apply(cfg); err != nil {
			return nil, fmt.Errorf("invalid config file: %w", err)
		}
	}

	if opts.DotEnv != "" {
		if err := LoadDotEnv(opts.DotEnv); err != nil {
			return nil, err
		}
	}

	lookup := opts.Environ
	if lookup == nil {
		lookup = os.LookupEnv
	}
	o, err := FromEnv(lookup)
	if err != nil {
		return nil, err
	}
	if err := o.Apply(cfg); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	return cfg, nil
}

// Validate checks the effective configuration
func (c *Config) Validate() error {
	if err := c.Fusion.Validate(); err != nil {
		return err
	}
	if c.Fusion.ObjectDetection && c.DetectorURL == "" {
		return errors.New("object detection enabled without a detector url")
	}
	if c.Fusion.LaneDetection && c.LaneURL == "" {
		return errors.New("lane detection enabled without a lane service url")
	}
	if c.FPS < 0 {
		return fmt.Errorf("fps must not be negative, got %d", c.FPS)
	}
	return nil
}
