package telemetry

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/mohammad-safakhou/artha/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Telemetry encapsulates tracer and meter providers plus the prometheus
// registry that backs /metrics.
type Telemetry struct {
	tp       *sdktrace.TracerProvider
	mp       *sdkmetric.MeterProvider
	Registry *prometheus.Registry
	Meter    otelmetric.Meter
	Tracer   trace.Tracer
	Metrics  *Metrics
}

// Options configures telemetry initialization.
type Options struct {
	ServiceName    string
	ServiceVersion string
	Logger         *log.Logger
}

// Setup initializes tracing and metrics. When telemetry is disabled the
// returned instance carries noop providers and an empty registry.
func Setup(ctx context.Context, cfg config.TelemetryConfig, opts Options) (*Telemetry, error) {
	if opts.ServiceName == "" {
		opts.ServiceName = "artha"
	}
	if !cfg.Enabled {
		meter := metricnoop.NewMeterProvider().Meter(opts.ServiceName)
		return &Telemetry{
			Registry: prometheus.NewRegistry(),
			Meter:    meter,
			Tracer:   tracenoop.NewTracerProvider().Tracer(opts.ServiceName),
			Metrics:  NewMetrics(meter),
		}, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(opts.ServiceName),
			attribute.String("service.namespace", "artha"),
			attribute.String("service.version", opts.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("resource init: %w", err)
	}

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.OTLPEndpoint != "" {
		traceExporter, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("otlp init: %w", err)
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(traceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)

	registry := prometheus.NewRegistry()
	exporter, err := promexporter.New(promexporter.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("prom exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)
	meter := mp.Meter(opts.ServiceName)

	t := &Telemetry{
		tp:       tp,
		mp:       mp,
		Registry: registry,
		Meter:    meter,
		Tracer:   tp.Tracer(opts.ServiceName),
		Metrics:  NewMetrics(meter),
	}
	if cfg.MetricsPort > 0 {
		go t.serveMetrics(cfg.MetricsPort, opts.Logger)
	}
	return t, nil
}

// Handler exposes the registry in the prometheus text format.
func (t *Telemetry) Handler() http.Handler {
	if t == nil || t.Registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(t.Registry, promhttp.HandlerOpts{})
}

func (t *Telemetry) serveMetrics(port int, logger *log.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", t.Handler())
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		if logger == nil {
			logger = log.Default()
		}
		logger.Printf("metrics server error: %v", err)
	}
}

// Shutdown flushes providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	var err error
	if t.tp != nil {
		if e := t.tp.Shutdown(ctx); e != nil {
			err = fmt.Errorf("trace shutdown: %w", e)
		}
	}
	if t.mp != nil {
		if e := t.mp.Shutdown(ctx); e != nil {
			if err != nil {
				err = fmt.Errorf("%v; metric shutdown: %w", err, e)
			} else {
				err = fmt.Errorf("metric shutdown: %w", e)
			}
		}
	}
	return err
}

// TracerOrNoop returns the configured tracer, or a noop tracer for a nil receiver.
func (t *Telemetry) TracerOrNoop() trace.Tracer {
	if t == nil || t.Tracer == nil {
		return tracenoop.NewTracerProvider().Tracer("artha")
	}
	return t.Tracer
}
