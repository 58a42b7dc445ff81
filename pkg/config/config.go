package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fluxorio/parallel/pkg/concurrency"
)

// Config is the file-level configuration of a parallel process.
type Config struct {
	Pool    PoolConfig    `yaml:"pool" json:"pool"`
	Log     LogConfig     `yaml:"log" json:"log"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
}

// PoolConfig maps onto concurrency.WorkerPoolConfig.
type PoolConfig struct {
	// Workers is the worker count; 0 selects concurrency.DefaultWorkers().
	Workers        int      `yaml:"workers" json:"workers"`
	ShutdownPolicy string   `yaml:"shutdown_policy" json:"shutdown_policy"`
	LockOSThread   bool     `yaml:"lock_os_thread" json:"lock_os_thread"`
	StopTimeout    Duration `yaml:"stop_timeout" json:"stop_timeout"`
}

type LogConfig struct {
	Level string `yaml:"level" json:"level"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Address string `yaml:"address" json:"address"`
	Path    string `yaml:"path" json:"path"`
}

type TracingConfig struct {
	// Exporter is one of none, stdout, zipkin.
	Exporter    string `yaml:"exporter" json:"exporter"`
	Endpoint    string `yaml:"endpoint" json:"endpoint"`
	ServiceName string `yaml:"service_name" json:"service_name"`
}

// Duration is a time.Duration written as "30s" in YAML, JSON and env vars.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Pool: PoolConfig{
			Workers:        0,
			ShutdownPolicy: "drain",
			StopTimeout:    Duration(30 * time.Second),
		},
		Log: LogConfig{Level: "info"},
		Metrics: MetricsConfig{
			Enabled: true,
			Address: ":9090",
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Exporter:    "none",
			ServiceName: "parallel",
		},
	}
}

// Load reads a YAML or JSON file, chosen by extension, on top of Default().
func Load(path string) (*Config, error) {
	cfg := Default()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := LoadYAML(path, cfg); err != nil {
			return nil, err
		}
	case ".json":
		if err := LoadJSON(path, cfg); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadWithEnv is Load followed by ApplyEnvOverrides and Validate. An empty
// path starts from Default().
func LoadWithEnv(path, prefix string) (*Config, error) {
	cfg := Default()
	if path != "" {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if err := ApplyEnvOverrides(prefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to apply env overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	return Validate(c, DefaultValidators()...)
}

// PoolOption adjusts the pool configuration built by WorkerPoolConfig.
type PoolOption func(*concurrency.WorkerPoolConfig)

// WithErrorHandler sets the task failure sink.
func WithErrorHandler(h func(error)) PoolOption {
	return func(c *concurrency.WorkerPoolConfig) { c.ErrorHandler = h }
}

// WithLogger overrides the logger derived from log.level.
func WithLogger(l concurrency.Logger) PoolOption {
	return func(c *concurrency.WorkerPoolConfig) { c.Logger = l }
}

// WorkerPoolConfig converts the pool section into a concurrency config.
func (c *Config) WorkerPoolConfig(opts ...PoolOption) (concurrency.WorkerPoolConfig, error) {
	wpc := concurrency.DefaultWorkerPoolConfig()

	switch {
	case c.Pool.Workers < 0:
		return wpc, fmt.Errorf("pool.workers: %w: got %d", concurrency.ErrInvalidWorkerCount, c.Pool.Workers)
	case c.Pool.Workers > 0:
		wpc.Workers = c.Pool.Workers
	}

	policy, err := concurrency.ParseShutdownPolicy(c.Pool.ShutdownPolicy)
	if err != nil {
		return wpc, fmt.Errorf("pool.shutdown_policy: %w", err)
	}
	wpc.ShutdownPolicy = policy
	wpc.LockOSThread = c.Pool.LockOSThread

	logger, err := c.Logger()
	if err != nil {
		return wpc, err
	}
	wpc.Logger = logger

	for _, opt := range opts {
		opt(&wpc)
	}
	return wpc, nil
}

// Logger builds a leveled logger from log.level writing to stdout/stderr.
func (c *Config) Logger() (concurrency.Logger, error) {
	level, err := concurrency.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	return concurrency.NewLeveledLogger(level, os.Stderr, os.Stdout), nil
}

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")
