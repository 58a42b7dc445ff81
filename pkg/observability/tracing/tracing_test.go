package tracing

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/fluxorio/parallel/pkg/concurrency"
	"github.com/fluxorio/parallel/pkg/config"
)

func TestNewProvider_StdoutExportsPoolSpans(t *testing.T) {
	var buf bytes.Buffer
	tp, err := NewProvider(context.Background(), Options{
		Exporter:    ExporterStdout,
		ServiceName: "bank",
		Writer:      &buf,
		Synchronous: true,
	})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}

	cfg := concurrency.DefaultWorkerPoolConfig()
	cfg.Workers = 1
	cfg.Logger = concurrency.NopLogger{}
	cfg.TracerProvider = tp
	pool, err := concurrency.NewWorkerPool(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := pool.Submit(func() {}); err != nil {
		t.Fatal(err)
	}
	if err := pool.Close(); err != nil {
		t.Fatal(err)
	}

	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	out := buf.String()
	for _, want := range []string{"parallel.task", "pool.id", pool.ID(), "bank"} {
		if !strings.Contains(out, want) {
			t.Errorf("exported spans missing %q:\n%s", want, out)
		}
	}
}

func TestNewProvider_Exporters(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"default", Options{}, false},
		{"none", Options{Exporter: "none"}, false},
		{"stdout", Options{Exporter: "STDOUT", Writer: &bytes.Buffer{}}, false},
		{"zipkin", Options{Exporter: "zipkin", Endpoint: "http://localhost:9411/api/v2/spans"}, false},
		{"zipkin without endpoint", Options{Exporter: "zipkin"}, true},
		{"unknown", Options{Exporter: "jaeger"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tp, err := NewProvider(context.Background(), tt.opts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewProvider() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tp != nil {
				_ = tp.Shutdown(context.Background())
			}
		})
	}

	if _, err := NewProvider(context.Background(), Options{Exporter: "jaeger"}); !errors.Is(err, ErrUnknownExporter) {
		t.Errorf("NewProvider() error = %v, want ErrUnknownExporter", err)
	}
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Tracing.Exporter = "zipkin"
	cfg.Tracing.Endpoint = "http://zipkin:9411/api/v2/spans"

	opts := FromConfig(cfg.Tracing)
	if opts.Exporter != "zipkin" || opts.Endpoint != cfg.Tracing.Endpoint || opts.ServiceName != "parallel" {
		t.Errorf("FromConfig() = %+v", opts)
	}
}

func TestSampler(t *testing.T) {
	if got := sampler(0).Description(); got != "AlwaysOnSampler" {
		t.Errorf("sampler(0) = %s", got)
	}
	if got := sampler(0.25).Description(); !strings.Contains(got, "TraceIDRatioBased") {
		t.Errorf("sampler(0.25) = %s", got)
	}
}
