// Package otel wires the OpenTelemetry SDK for the restarter.
package otel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"

	"github.com/terrpan/restarter/internal/buildinfo"
)

// Config holds OpenTelemetry configuration.
type Config struct {
	// Enabled turns on OTLP push of traces and metrics.
	Enabled bool

	// Endpoint is the OTLP HTTP endpoint.  Empty means
	// OTEL_EXPORTER_OTLP_ENDPOINT.
	Endpoint string

	// Insecure uses plain HTTP for OTLP export.
	Insecure bool

	// StdOut also prints traces and metrics to stdout.
	StdOut bool

	// Prometheus registers a Prometheus metric reader on the default
	// registry.  The /metrics endpoint itself is served by the caller.
	Prometheus bool
}

// Telemetry owns the SDK providers installed as globals.
type Telemetry struct {
	tracerProvider *trace.TracerProvider
	meterProvider  *metric.MeterProvider
}

// Setup installs tracer and meter providers according to cfg.  With
// nothing enabled it installs nothing and the otel no-op globals stay in
// place.
func Setup(ctx context.Context, serviceName string, cfg Config) (*Telemetry, error) {
	t := &Telemetry{}
	if !cfg.Enabled && !cfg.StdOut && !cfg.Prometheus {
		return t, nil
	}

	// Schemaless so the merge never conflicts with the SDK's default schema.
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(buildinfo.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	if cfg.Enabled || cfg.StdOut {
		t.tracerProvider, err = newTraceProvider(ctx, res, cfg)
		if err != nil {
			return nil, fmt.Errorf("otel trace provider: %w", err)
		}
		otel.SetTracerProvider(t.tracerProvider)
	}

	if cfg.Enabled || cfg.StdOut || cfg.Prometheus {
		t.meterProvider, err = newMeterProvider(ctx, res, cfg)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("otel meter provider: %w", err), t.Shutdown(ctx))
		}
		otel.SetMeterProvider(t.meterProvider)
	}

	return t, nil
}

// Flush exports everything buffered so far.  Lambda freezes the process
// between invocations, so the handler flushes after each one.
func (t *Telemetry) Flush(ctx context.Context) error {
	var err error
	if t.tracerProvider != nil {
		err = errors.Join(err, t.tracerProvider.ForceFlush(ctx))
	}
	if t.meterProvider != nil {
		err = errors.Join(err, t.meterProvider.ForceFlush(ctx))
	}
	return err
}

// Shutdown flushes and stops all providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var err error
	if t.tracerProvider != nil {
		err = errors.Join(err, t.tracerProvider.Shutdown(ctx))
		t.tracerProvider = nil
	}
	if t.meterProvider != nil {
		err = errors.Join(err, t.meterProvider.Shutdown(ctx))
		t.meterProvider = nil
	}
	return err
}

func newTraceProvider(ctx context.Context, res *resource.Resource, cfg Config) (*trace.TracerProvider, error) {
	opts := []trace.TracerProviderOption{trace.WithResource(res)}

	if cfg.Enabled {
		var exOpts []otlptracehttp.Option
		if cfg.Endpoint != "" {
			exOpts = append(exOpts, otlptracehttp.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			exOpts = append(exOpts, otlptracehttp.WithInsecure())
		}
		exp, err := otlptracehttp.New(ctx, exOpts...)
		if err != nil {
			return nil, err
		}
		opts = append(opts, trace.WithBatcher(exp, trace.WithBatchTimeout(time.Second)))
	}

	if cfg.StdOut {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		// Synchronous: the invocation is short and the process may freeze.
		opts = append(opts, trace.WithSyncer(exp))
	}

	return trace.NewTracerProvider(opts...), nil
}

func newMeterProvider(ctx context.Context, res *resource.Resource, cfg Config) (*metric.MeterProvider, error) {
	opts := []metric.Option{metric.WithResource(res)}

	if cfg.Enabled {
		var exOpts []otlpmetrichttp.Option
		if cfg.Endpoint != "" {
			exOpts = append(exOpts, otlpmetrichttp.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			exOpts = append(exOpts, otlpmetrichttp.WithInsecure())
		}
		exp, err := otlpmetrichttp.New(ctx, exOpts...)
		if err != nil {
			return nil, err
		}
		opts = append(opts, metric.WithReader(metric.NewPeriodicReader(exp, metric.WithInterval(10*time.Second))))
	}

	if cfg.StdOut {
		exp, err := stdoutmetric.New()
		if err != nil {
			return nil, err
		}
		opts = append(opts, metric.WithReader(metric.NewPeriodicReader(exp, metric.WithInterval(10*time.Second))))
	}

	if cfg.Prometheus {
		exp, err := promexporter.New()
		if err != nil {
			return nil, fmt.Errorf("creating prometheus exporter: %w", err)
		}
		opts = append(opts, metric.WithReader(exp))
	}

	return metric.NewMeterProvider(opts...), nil
}
