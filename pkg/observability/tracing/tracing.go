// Package tracing builds OpenTelemetry tracer providers for the exporters a
// parallel process can be configured with.
package tracing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fluxorio/parallel/pkg/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterZipkin = "zipkin"
)

var ErrUnknownExporter = errors.New("unknown trace exporter")

// Options selects and configures the exporter.
type Options struct {
	// Exporter is none, stdout or zipkin. Empty means none.
	Exporter string

	// Endpoint is the zipkin collector URL,
	// e.g. http://localhost:9411/api/v2/spans.
	Endpoint string

	ServiceName string

	// Writer receives stdout spans. Default: os.Stdout.
	Writer io.Writer

	// SampleRatio in (0, 1) samples that fraction of root spans; anything
	// else samples everything.
	SampleRatio float64

	// Synchronous exports each span as it ends instead of batching.
	Synchronous bool
}

// FromConfig maps the tracing section of a config file to Options.
func FromConfig(c config.TracingConfig) Options {
	return Options{
		Exporter:    c.Exporter,
		Endpoint:    c.Endpoint,
		ServiceName: c.ServiceName,
	}
}

// NewProvider builds a tracer provider. With no exporter the provider still
// creates real spans, which are simply not exported. The caller owns the
// provider and must Shutdown it to flush pending spans.
func NewProvider(ctx context.Context, opts Options) (*sdktrace.TracerProvider, error) {
	serviceName := opts.ServiceName
	if serviceName == "" {
		serviceName = "parallel"
	}
	res := resource.NewSchemaless(attribute.String("service.name", serviceName))

	providerOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(opts.SampleRatio)),
	}

	exporter, err := newExporter(ctx, opts)
	if err != nil {
		return nil, err
	}
	if exporter != nil {
		if opts.Synchronous {
			providerOpts = append(providerOpts, sdktrace.WithSyncer(exporter))
		} else {
			providerOpts = append(providerOpts, sdktrace.WithBatcher(exporter))
		}
	}

	return sdktrace.NewTracerProvider(providerOpts...), nil
}

// Install makes tp the global provider, which pools use when their config
// names no provider.
func Install(tp *sdktrace.TracerProvider) {
	otel.SetTracerProvider(tp)
}

func newExporter(_ context.Context, opts Options) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Exporter)) {
	case "", ExporterNone:
		return nil, nil
	case ExporterStdout:
		w := opts.Writer
		if w == nil {
			w = os.Stdout
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("stdout exporter: %w", err)
		}
		return exp, nil
	case ExporterZipkin:
		if opts.Endpoint == "" {
			return nil, errors.New("zipkin exporter: endpoint is required")
		}
		exp, err := zipkin.New(opts.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("zipkin exporter: %w", err)
		}
		return exp, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownExporter, opts.Exporter)
	}
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio > 0 && ratio < 1 {
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
	return sdktrace.AlwaysSample()
}
