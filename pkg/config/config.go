// Package config provides configuration loading and management for morphfeatures.
// It handles loading configuration from YAML files, environment overrides and
// default values.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"morphfeatures/pkg/source"
	"morphfeatures/pkg/store"
)

// Environment variables that override file settings.
const (
	EnvStoreDSN     = "MORPHFEATURES_STORE_DSN"
	EnvSourceDriver = "MORPHFEATURES_SOURCE_DRIVER"
	EnvS3Bucket     = "MORPHFEATURES_S3_BUCKET"

	// Static S3 credentials are only read from the environment, never from
	// the config file. Without them the default AWS credential chain applies.
	EnvS3AccessKeyID     = "MORPHFEATURES_S3_ACCESS_KEY_ID"
	EnvS3SecretAccessKey = "MORPHFEATURES_S3_SECRET_ACCESS_KEY"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores specifies how many specimens are processed concurrently
		NumCores int `yaml:"numCores"`
	} `yaml:"processing"`

	// Store selects the specimen database
	Store struct {
		// Driver is one of postgres, sqlite or memory
		Driver store.Driver `yaml:"driver"`

		// DSN is the postgres connection string
		DSN string `yaml:"dsn"`

		// Path is the sqlite catalog file
		Path string `yaml:"path"`
	} `yaml:"store"`

	// Source selects where reconstruction files are read from
	Source struct {
		Driver source.Driver   `yaml:"driver"`
		Root   string          `yaml:"root"`
		S3     source.S3Config `yaml:"s3"`
	} `yaml:"source"`

	// Output parameters
	Output struct {
		// Verbose enables debug logging
		Verbose bool `yaml:"verbose"`

		// LogFormat is text or json
		LogFormat string `yaml:"logFormat"`

		// MetricsFile, when set, receives pipeline metrics in text exposition format
		MetricsFile string `yaml:"metricsFile"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumCores = runtime.NumCPU() // Use all available cores by default

	cfg.Store.Driver = store.DriverPostgres
	cfg.Store.DSN = "postgres://localhost/lims2?sslmode=disable"
	cfg.Store.Path = "specimens.db"

	cfg.Source.Driver = source.DriverFilesystem
	cfg.Source.S3.Region = "us-west-2"

	cfg.Output.Verbose = false
	cfg.Output.LogFormat = "text"

	return cfg
}

// LoadConfig reads configPath over the defaults. Keys missing from the file
// keep their default; unknown keys are rejected. An empty or absent path
// yields DefaultConfig().
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()
	if configPath == "" {
		return cfg, nil
	}

	f, err := os.Open(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("error parsing config file %s: %w", configPath, err)
	}
	return cfg, nil
}

// ApplyEnv overrides settings from the environment. lookup is usually
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvStoreDSN); ok && v != "" {
		c.Store.DSN = v
	}
	if v, ok := lookup(EnvSourceDriver); ok && v != "" {
		c.Source.Driver = source.Driver(v)
	}
	if v, ok := lookup(EnvS3Bucket); ok && v != "" {
		c.Source.S3.Bucket = v
	}
	if v, ok := lookup(EnvS3AccessKeyID); ok && v != "" {
		c.Source.S3.AccessKeyID = v
	}
	if v, ok := lookup(EnvS3SecretAccessKey); ok && v != "" {
		c.Source.S3.SecretAccessKey = v
	}
}

// Validate reports settings that cannot produce a working pipeline.
func (c *Config) Validate() error {
	if c.Processing.NumCores < 1 {
		return fmt.Errorf("processing.numCores must be positive, got %d", c.Processing.NumCores)
	}
	switch c.Store.Driver {
	case store.DriverPostgres, store.DriverSQLite, store.DriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	switch c.Source.Driver {
	case source.DriverFilesystem:
	case source.DriverS3:
		if c.Source.S3.Bucket == "" {
			return fmt.Errorf("source.s3.bucket is required for the s3 driver")
		}
		if (c.Source.S3.AccessKeyID == "") != (c.Source.S3.SecretAccessKey == "") {
			return fmt.Errorf("%s and %s must be set together", EnvS3AccessKeyID, EnvS3SecretAccessKey)
		}
	default:
		return fmt.Errorf("unknown source driver %q", c.Source.Driver)
	}
	switch c.Output.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Output.LogFormat)
	}
	return nil
}

// StoreDSN returns the connection argument for the configured store driver.
func (c *Config) StoreDSN() string {
	if c.Store.Driver == store.DriverSQLite {
		return c.Store.Path
	}
	return c.Store.DSN
}

// SourceOptions converts the source section for source.New.
func (c *Config) SourceOptions() source.Options {
	return source.Options{Driver: c.Source.Driver, Root: c.Source.Root, S3: c.Source.S3}
}

// SaveConfig writes cfg to configPath, creating parent directories. The file
// is replaced atomically so a reader never sees a partial config.
func SaveConfig(cfg *Config, configPath string) (err error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".morphfeatures-config-*.yaml")
	if err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), configPath)
}

// ErrConfigExists is returned by CreateDefaultConfigFile for an existing path.
var ErrConfigExists = errors.New("config file already exists")

// CreateDefaultConfigFile writes the defaults to configPath. An existing file
// is left untouched.
func CreateDefaultConfigFile(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("%s: %w", configPath, ErrConfigExists)
	}
	return SaveConfig(DefaultConfig(), configPath)
}
