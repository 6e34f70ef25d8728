// Package config layers segfetch settings from a YAML file, SEGFETCH_
// environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/abema/segfetch/core"
	"github.com/abema/segfetch/internal/target"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Host        string
	Port        int
	Mode        string
	SegmentSize int64
	Timeout     time.Duration
	ReadTimeout time.Duration
	DialTimeout time.Duration
	Retry       RetryConfig
	Log         LogConfig
	Export      ExportConfig
	Progress    bool
	MetricsFile string
}

// RetryConfig controls how often a whole fetch cycle is repeated after a
// digest mismatch.
type RetryConfig struct {
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

type LogConfig struct {
	JSON     bool
	Severity string
	File     string
	// MaxSize in megabytes enables rotation of File.
	MaxSize    int
	MaxBackups int
}

type ExportConfig struct {
	Dir  string
	Meta bool
}

func Default() Config {
	return Config{
		Port:        80,
		Mode:        core.ModeRanged.String(),
		SegmentSize: core.DefaultSegmentSize,
		Timeout:     core.DefaultTimeout,
		ReadTimeout: core.DefaultReadTimeout,
		DialTimeout: core.DefaultDialTimeout,
		Retry: RetryConfig{
			Attempts:   1,
			Backoff:    time.Second,
			MaxBackoff: 10 * time.Second,
		},
		Log: LogConfig{
			Severity: core.Info.String(),
		},
	}
}

type yamlConfig struct {
	Target      string           `yaml:"target"`
	Host        string           `yaml:"host"`
	Port        int              `yaml:"port"`
	Mode        string           `yaml:"mode"`
	SegmentSize string           `yaml:"segment_size"`
	Timeout     string           `yaml:"timeout"`
	ReadTimeout string           `yaml:"read_timeout"`
	DialTimeout string           `yaml:"dial_timeout"`
	Retry       yamlRetryConfig  `yaml:"retry"`
	Log         yamlLogConfig    `yaml:"log"`
	Export      yamlExportConfig `yaml:"export"`
	Progress    bool             `yaml:"progress"`
	MetricsFile string           `yaml:"metrics_file"`
}

type yamlRetryConfig struct {
	Attempts   int    `yaml:"attempts"`
	Backoff    string `yaml:"backoff"`
	MaxBackoff string `yaml:"max_backoff"`
}

type yamlLogConfig struct {
	JSON       bool   `yaml:"json"`
	Severity   string `yaml:"severity"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
}

type yamlExportConfig struct {
	Dir  string `yaml:"dir"`
	Meta bool   `yaml:"meta"`
}

func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()
	if yc.Target != "" {
		host, port, err := target.Parse(yc.Target)
		if err != nil {
			return Config{}, fmt.Errorf("parse target: %w", err)
		}
		cfg.Host, cfg.Port = host, port
	}
	if yc.Host != "" {
		cfg.Host = yc.Host
	}
	if yc.Port != 0 {
		cfg.Port = yc.Port
	}
	if yc.Mode != "" {
		cfg.Mode = yc.Mode
	}
	if yc.SegmentSize != "" {
		size, err := ParseSize(yc.SegmentSize)
		if err != nil {
			return Config{}, fmt.Errorf("parse segment_size: %w", err)
		}
		cfg.SegmentSize = size
	}
	for _, d := range []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"timeout", yc.Timeout, &cfg.Timeout},
		{"read_timeout", yc.ReadTimeout, &cfg.ReadTimeout},
		{"dial_timeout", yc.DialTimeout, &cfg.DialTimeout},
		{"retry.backoff", yc.Retry.Backoff, &cfg.Retry.Backoff},
		{"retry.max_backoff", yc.Retry.MaxBackoff, &cfg.Retry.MaxBackoff},
	} {
		if d.value == "" {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.name, err)
		}
		*d.dst = v
	}
	if yc.Retry.Attempts != 0 {
		cfg.Retry.Attempts = yc.Retry.Attempts
	}
	cfg.Log.JSON = yc.Log.JSON
	if yc.Log.Severity != "" {
		cfg.Log.Severity = yc.Log.Severity
	}
	cfg.Log.File = yc.Log.File
	cfg.Log.MaxSize = yc.Log.MaxSize
	cfg.Log.MaxBackups = yc.Log.MaxBackups
	cfg.Export = ExportConfig{Dir: yc.Export.Dir, Meta: yc.Export.Meta}
	cfg.Progress = yc.Progress
	cfg.MetricsFile = yc.MetricsFile
	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the SEGFETCH_ prefix.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("SEGFETCH_TARGET"); v != "" {
		host, port, err := target.Parse(v)
		if err != nil {
			return fmt.Errorf("parse SEGFETCH_TARGET: %w", err)
		}
		c.Host, c.Port = host, port
	}
	if v := os.Getenv("SEGFETCH_HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("SEGFETCH_PORT"); v != "" {
		port, err := target.ParsePort(v)
		if err != nil {
			return fmt.Errorf("parse SEGFETCH_PORT: %w", err)
		}
		c.Port = port
	}
	if v := os.Getenv("SEGFETCH_MODE"); v != "" {
		c.Mode = v
	}
	if v := os.Getenv("SEGFETCH_SEGMENT_SIZE"); v != "" {
		size, err := ParseSize(v)
		if err != nil {
			return fmt.Errorf("parse SEGFETCH_SEGMENT_SIZE: %w", err)
		}
		c.SegmentSize = size
	}
	for _, d := range []struct {
		name string
		dst  *time.Duration
	}{
		{"SEGFETCH_TIMEOUT", &c.Timeout},
		{"SEGFETCH_READ_TIMEOUT", &c.ReadTimeout},
		{"SEGFETCH_DIAL_TIMEOUT", &c.DialTimeout},
	} {
		if v := os.Getenv(d.name); v != "" {
			t, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("parse %s: %w", d.name, err)
			}
			*d.dst = t
		}
	}
	if v := os.Getenv("SEGFETCH_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse SEGFETCH_ATTEMPTS: %w", err)
		}
		c.Retry.Attempts = n
	}
	if v := os.Getenv("SEGFETCH_LOG_JSON"); v != "" {
		c.Log.JSON = v == "true" || v == "1"
	}
	if v := os.Getenv("SEGFETCH_LOG_SEVERITY"); v != "" {
		c.Log.Severity = v
	}
	if v := os.Getenv("SEGFETCH_LOG_FILE"); v != "" {
		c.Log.File = v
	}
	if v := os.Getenv("SEGFETCH_EXPORT_DIR"); v != "" {
		c.Export.Dir = v
	}
	if v := os.Getenv("SEGFETCH_PROGRESS"); v != "" {
		c.Progress = v == "true" || v == "1"
	}
	if v := os.Getenv("SEGFETCH_METRICS_FILE"); v != "" {
		c.MetricsFile = v
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("config: host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port: %d", c.Port)
	}
	if _, err := core.ParseMode(c.Mode); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.SegmentSize <= 0 {
		return errors.New("config: segment_size must be positive")
	}
	if c.Timeout <= 0 {
		return errors.New("config: timeout must be positive")
	}
	if c.ReadTimeout <= 0 {
		return errors.New("config: read_timeout must be positive")
	}
	if c.Retry.Attempts <= 0 {
		return errors.New("config: retry.attempts must be positive")
	}
	if _, err := core.ParseSeverity(c.Log.Severity); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	if override.Host != "" {
		c.Host = override.Host
	}
	if override.Port != 0 {
		c.Port = override.Port
	}
	if override.Mode != "" {
		c.Mode = override.Mode
	}
	if override.SegmentSize != 0 {
		c.SegmentSize = override.SegmentSize
	}
	if override.Timeout != 0 {
		c.Timeout = override.Timeout
	}
	if override.ReadTimeout != 0 {
		c.ReadTimeout = override.ReadTimeout
	}
	if override.DialTimeout != 0 {
		c.DialTimeout = override.DialTimeout
	}
	if override.Retry.Attempts != 0 {
		c.Retry.Attempts = override.Retry.Attempts
	}
	if override.Retry.Backoff != 0 {
		c.Retry.Backoff = override.Retry.Backoff
	}
	if override.Retry.MaxBackoff != 0 {
		c.Retry.MaxBackoff = override.Retry.MaxBackoff
	}
	if override.Log.JSON {
		c.Log.JSON = true
	}
	if override.Log.Severity != "" {
		c.Log.Severity = override.Log.Severity
	}
	if override.Log.File != "" {
		c.Log.File = override.Log.File
	}
	if override.Log.MaxSize != 0 {
		c.Log.MaxSize = override.Log.MaxSize
	}
	if override.Log.MaxBackups != 0 {
		c.Log.MaxBackups = override.Log.MaxBackups
	}
	if override.Export.Dir != "" {
		c.Export.Dir = override.Export.Dir
	}
	if override.Export.Meta {
		c.Export.Meta = true
	}
	if override.Progress {
		c.Progress = true
	}
	if override.MetricsFile != "" {
		c.MetricsFile = override.MetricsFile
	}
	return c
}

// Core builds the fetch configuration. Handlers and inspectors are left for
// the caller to attach.
func (c *Config) Core() (*core.Config, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	mode, err := core.ParseMode(c.Mode)
	if err != nil {
		return nil, err
	}
	config := core.NewConfig(c.Host, c.Port, mode)
	config.SegmentSize = c.SegmentSize
	config.Timeout = c.Timeout
	config.ReadTimeout = c.ReadTimeout
	if c.DialTimeout > 0 {
		config.DialTimeout = c.DialTimeout
	}
	return config, nil
}

// ParseSize accepts plain byte counts as well as "64KiB" or "1MB".
func ParseSize(s string) (int64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	if n == 0 || n > 1<<40 {
		return 0, fmt.Errorf("size out of range: %s", s)
	}
	return int64(n), nil
}
