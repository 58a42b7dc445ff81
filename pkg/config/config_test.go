package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fluxorio/parallel/pkg/concurrency"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}

	wpc, err := cfg.WorkerPoolConfig()
	if err != nil {
		t.Fatalf("WorkerPoolConfig() error = %v", err)
	}
	if wpc.Workers != concurrency.DefaultWorkers() {
		t.Errorf("Workers = %d, want %d", wpc.Workers, concurrency.DefaultWorkers())
	}
	if wpc.ShutdownPolicy != concurrency.ShutdownDrain {
		t.Errorf("ShutdownPolicy = %v, want drain", wpc.ShutdownPolicy)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "parallel.yaml", `
pool:
  workers: 3
  shutdown_policy: discard
  lock_os_thread: true
  stop_timeout: 5s
log:
  level: debug
tracing:
  exporter: stdout
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Pool.Workers != 3 || cfg.Pool.ShutdownPolicy != "discard" || !cfg.Pool.LockOSThread {
		t.Errorf("Pool = %+v", cfg.Pool)
	}
	if cfg.Pool.StopTimeout.Std() != 5*time.Second {
		t.Errorf("StopTimeout = %v, want 5s", cfg.Pool.StopTimeout)
	}
	// Sections absent from the file keep their defaults
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want default", cfg.Metrics.Path)
	}

	wpc, err := cfg.WorkerPoolConfig()
	if err != nil {
		t.Fatal(err)
	}
	if wpc.Workers != 3 || wpc.ShutdownPolicy != concurrency.ShutdownDiscard || !wpc.LockOSThread {
		t.Errorf("WorkerPoolConfig() = %+v", wpc)
	}
}

func TestLoad_JSON(t *testing.T) {
	path := writeFile(t, "parallel.json", `{
  "pool": {"workers": 2, "stop_timeout": "250ms"},
  "metrics": {"enabled": false}
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Pool.Workers != 2 || cfg.Pool.StopTimeout.Std() != 250*time.Millisecond {
		t.Errorf("Pool = %+v", cfg.Pool)
	}
	if cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled should be false")
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"unknown extension", "parallel.toml", "workers = 1"},
		{"unknown yaml key", "parallel.yaml", "pool:\n  wrokers: 4\n"},
		{"unknown json key", "parallel.json", `{"pool": {"threads": 4}}`},
		{"bad duration", "parallel.yaml", "pool:\n  stop_timeout: soon\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeFile(t, tt.file, tt.content)); err == nil {
				t.Error("Load() expected error")
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() of a missing file expected error")
	}
}

func TestSaveYAML_RoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Pool.Workers = 6
	cfg.Pool.StopTimeout = Duration(90 * time.Second)

	path := filepath.Join(t.TempDir(), "saved.yaml")
	if err := SaveYAML(path, cfg); err != nil {
		t.Fatalf("SaveYAML() error = %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if *loaded != *cfg {
		t.Errorf("round trip = %+v, want %+v", loaded, cfg)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("PARALLEL_POOL_WORKERS", "12")
	t.Setenv("PARALLEL_POOL_SHUTDOWN_POLICY", "discard")
	t.Setenv("PARALLEL_POOL_STOP_TIMEOUT", "2m")
	t.Setenv("PARALLEL_METRICS_ENABLED", "false")
	t.Setenv("PARALLEL_TRACING_SERVICE_NAME", "bank")

	cfg := Default()
	if err := ApplyEnvOverrides("parallel", cfg); err != nil {
		t.Fatalf("ApplyEnvOverrides() error = %v", err)
	}
	if cfg.Pool.Workers != 12 {
		t.Errorf("Workers = %d, want 12", cfg.Pool.Workers)
	}
	if cfg.Pool.ShutdownPolicy != "discard" {
		t.Errorf("ShutdownPolicy = %q", cfg.Pool.ShutdownPolicy)
	}
	if cfg.Pool.StopTimeout.Std() != 2*time.Minute {
		t.Errorf("StopTimeout = %v", cfg.Pool.StopTimeout)
	}
	if cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled should be overridden to false")
	}
	if cfg.Tracing.ServiceName != "bank" {
		t.Errorf("ServiceName = %q", cfg.Tracing.ServiceName)
	}
}

func TestApplyEnvOverrides_NoPrefixIgnoresEnvironment(t *testing.T) {
	t.Setenv("_POOL_WORKERS", "12")
	cfg := Default()
	if err := ApplyEnvOverrides("", cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Pool.Workers != 0 {
		t.Errorf("Workers = %d, want untouched 0", cfg.Pool.Workers)
	}
}

func TestApplyEnvOverrides_InvalidValue(t *testing.T) {
	t.Setenv("PARALLEL_POOL_WORKERS", "many")
	if err := ApplyEnvOverrides("PARALLEL", Default()); err == nil {
		t.Error("ApplyEnvOverrides() expected error for a non-numeric worker count")
	}
}

func TestLoadWithEnv_RejectsNegativeWorkers(t *testing.T) {
	t.Setenv("PARALLEL_POOL_WORKERS", "-1")

	_, err := LoadWithEnv("", "PARALLEL")
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("LoadWithEnv() error = %v, want ErrInvalidConfig", err)
	}
}

func TestLoadWithEnv_FileThenEnv(t *testing.T) {
	path := writeFile(t, "parallel.yaml", "pool:\n  workers: 3\n")
	t.Setenv("APP_POOL_WORKERS", "5")

	cfg, err := LoadWithEnv(path, "APP")
	if err != nil {
		t.Fatalf("LoadWithEnv() error = %v", err)
	}
	if cfg.Pool.Workers != 5 {
		t.Errorf("Workers = %d, want the env value 5", cfg.Pool.Workers)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"negative workers", func(c *Config) { c.Pool.Workers = -3 }, true},
		{"too many workers", func(c *Config) { c.Pool.Workers = 100000 }, true},
		{"unknown policy", func(c *Config) { c.Pool.ShutdownPolicy = "abandon" }, true},
		{"upper case policy", func(c *Config) { c.Pool.ShutdownPolicy = "DISCARD" }, false},
		{"negative stop timeout", func(c *Config) { c.Pool.StopTimeout = Duration(-time.Second) }, true},
		{"unknown log level", func(c *Config) { c.Log.Level = "verbose" }, true},
		{"unknown exporter", func(c *Config) { c.Tracing.Exporter = "jaeger" }, true},
		{"zipkin without endpoint", func(c *Config) { c.Tracing.Exporter = "zipkin" }, true},
		{"zipkin with endpoint", func(c *Config) {
			c.Tracing.Exporter = "zipkin"
			c.Tracing.Endpoint = "http://localhost:9411/api/v2/spans"
		}, false},
		{"metrics without address", func(c *Config) { c.Metrics.Address = "" }, true},
		{"disabled metrics without address", func(c *Config) {
			c.Metrics.Enabled = false
			c.Metrics.Address = ""
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() error should wrap ErrInvalidConfig: %v", err)
			}
		})
	}
}

func TestValidator_UnknownField(t *testing.T) {
	err := Validate(Default(), RangeValidator("pool.threads", 0, 1))
	if err == nil {
		t.Error("expected an error for a field that does not exist")
	}
}

func TestWorkerPoolConfig(t *testing.T) {
	cfg := Default()
	cfg.Pool.Workers = -1
	if _, err := cfg.WorkerPoolConfig(); !errors.Is(err, concurrency.ErrInvalidWorkerCount) {
		t.Errorf("WorkerPoolConfig() error = %v, want ErrInvalidWorkerCount", err)
	}

	cfg = Default()
	cfg.Pool.ShutdownPolicy = "abandon"
	if _, err := cfg.WorkerPoolConfig(); !errors.Is(err, concurrency.ErrInvalidShutdownPolicy) {
		t.Errorf("WorkerPoolConfig() error = %v, want ErrInvalidShutdownPolicy", err)
	}

	var handled error
	cfg = Default()
	wpc, err := cfg.WorkerPoolConfig(
		WithLogger(concurrency.NopLogger{}),
		WithErrorHandler(func(err error) { handled = err }),
	)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := wpc.Logger.(concurrency.NopLogger); !ok {
		t.Errorf("Logger = %T, want NopLogger", wpc.Logger)
	}
	wpc.ErrorHandler(errors.New("boom"))
	if handled == nil {
		t.Error("ErrorHandler option was not applied")
	}
}
