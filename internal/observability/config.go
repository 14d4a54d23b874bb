// Package observability provides OpenTelemetry tracing and metrics plus
// Server-Timing headers for the OData service. Every feature is optional; when no
// provider is configured the no-op implementations are used.
package observability

import (
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	instrumentationName = "github.com/nlstn/go-odata-classic"
	defaultServiceName  = "odata-service"
)

// Config holds the observability configuration of a service.
type Config struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	serviceName    string
	serviceVersion string
	logger         *slog.Logger
	serverTiming   bool

	tracer  *Tracer
	metrics *Metrics
}

// Option configures a Config.
type Option func(*Config)

// WithTracerProvider sets the tracer provider used for spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Config) { c.tracerProvider = tp }
}

// WithMeterProvider sets the meter provider used for metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *Config) { c.meterProvider = mp }
}

// WithServiceName sets the service name reported in telemetry.
func WithServiceName(name string) Option {
	return func(c *Config) { c.serviceName = name }
}

// WithServiceVersion sets the service version reported in telemetry.
func WithServiceVersion(version string) Option {
	return func(c *Config) { c.serviceVersion = version }
}

// WithLogger sets the logger used to report instrumentation failures.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.logger = logger }
}

// WithServerTiming enables the Server-Timing response header.
func WithServerTiming() Option {
	return func(c *Config) { c.serverTiming = true }
}

// NewConfig creates a configuration with the given options applied.
func NewConfig(opts ...Option) *Config {
	c := &Config{serviceName: defaultServiceName}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initialize creates the tracer and the metric instruments.
func (c *Config) Initialize() error {
	if c.tracerProvider == nil {
		c.tracerProvider = tracenoop.NewTracerProvider()
	}
	if c.meterProvider == nil {
		c.meterProvider = metricnoop.NewMeterProvider()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}

	c.tracer = newTracer(c.tracerProvider.Tracer(instrumentationName, trace.WithInstrumentationVersion(c.serviceVersion)), c.serviceName)

	metrics, err := newMetrics(c.meterProvider.Meter(instrumentationName, metric.WithInstrumentationVersion(c.serviceVersion)))
	if err != nil {
		return err
	}
	c.metrics = metrics
	return nil
}

// Tracer returns the tracer. It is never nil, even before Initialize.
func (c *Config) Tracer() *Tracer {
	if c == nil || c.tracer == nil {
		return newTracer(tracenoop.NewTracerProvider().Tracer(instrumentationName), defaultServiceName)
	}
	return c.tracer
}

// Metrics returns the metric instruments. It is never nil, even before Initialize.
func (c *Config) Metrics() *Metrics {
	if c == nil || c.metrics == nil {
		m, _ := newMetrics(metricnoop.NewMeterProvider().Meter(instrumentationName))
		return m
	}
	return c.metrics
}

// ServerTimingEnabled reports whether the Server-Timing header is enabled.
func (c *Config) ServerTimingEnabled() bool {
	return c != nil && c.serverTiming
}

// ServiceName returns the configured service name.
func (c *Config) ServiceName() string {
	if c == nil {
		return defaultServiceName
	}
	return c.serviceName
}
