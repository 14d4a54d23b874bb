package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the metric instruments of the service.
type Metrics struct {
	requests        metric.Int64Counter
	requestDuration metric.Float64Histogram
	providerCalls   metric.Int64Counter
	providerErrors  metric.Int64Counter
	batchSize       metric.Int64Histogram
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error
	if m.requests, err = meter.Int64Counter("odata.requests",
		metric.WithDescription("Number of OData requests processed")); err != nil {
		return nil, err
	}
	if m.requestDuration, err = meter.Float64Histogram("odata.request.duration",
		metric.WithDescription("Duration of OData requests"), metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if m.providerCalls, err = meter.Int64Counter("odata.provider.calls",
		metric.WithDescription("Number of calls into the data provider")); err != nil {
		return nil, err
	}
	if m.providerErrors, err = meter.Int64Counter("odata.provider.errors",
		metric.WithDescription("Number of failed calls into the data provider")); err != nil {
		return nil, err
	}
	if m.batchSize, err = meter.Int64Histogram("odata.batch.size",
		metric.WithDescription("Number of parts in $batch requests")); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordRequest records one processed request.
func (m *Metrics) RecordRequest(ctx context.Context, method string, status int, elapsed time.Duration) {
	attrs := metric.WithAttributes(AttrMethod.String(method), AttrStatusCode.Int(status))
	m.requests.Add(ctx, 1, attrs)
	m.requestDuration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
}

// RecordProviderCall records one provider call and whether it failed.
func (m *Metrics) RecordProviderCall(ctx context.Context, operation, entitySet string, err error) {
	attrs := metric.WithAttributes(attribute.String("operation", operation), AttrEntitySet.String(entitySet))
	m.providerCalls.Add(ctx, 1, attrs)
	if err != nil {
		m.providerErrors.Add(ctx, 1, attrs)
	}
}

// RecordBatchSize records the number of parts of a $batch request.
func (m *Metrics) RecordBatchSize(ctx context.Context, n int) {
	m.batchSize.Record(ctx, int64(n))
}
