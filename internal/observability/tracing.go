package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys used on spans and metrics.
const (
	AttrServiceName  = attribute.Key("odata.service")
	AttrEntitySet    = attribute.Key("odata.entity_set")
	AttrMethod       = attribute.Key("http.request.method")
	AttrOperation    = attribute.Key("odata.operation")
	AttrResultCount  = attribute.Key("odata.result_count")
	AttrBatchSize    = attribute.Key("odata.batch.size")
	AttrStatusCode   = attribute.Key("http.response.status_code")
	AttrResourcePath = attribute.Key("odata.resource_path")
)

// Tracer starts the spans of request processing.
type Tracer struct {
	tracer      trace.Tracer
	serviceName string
}

func newTracer(t trace.Tracer, serviceName string) *Tracer {
	return &Tracer{tracer: t, serviceName: serviceName}
}

// StartRequest starts the span of a whole request.
func (t *Tracer) StartRequest(ctx context.Context, method, path string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "odata.request",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(AttrServiceName.String(t.serviceName), AttrMethod.String(method), AttrResourcePath.String(path)))
}

// StartProviderCall starts the span of one call into the data provider.
func (t *Tracer) StartProviderCall(ctx context.Context, operation, entitySet string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "odata.provider."+operation,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(AttrOperation.String(operation), AttrEntitySet.String(entitySet)))
}

// StartBatch starts the span of a $batch request.
func (t *Tracer) StartBatch(ctx context.Context) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "odata.batch", trace.WithSpanKind(trace.SpanKindServer))
}

// StartBatchPart starts the span of one part of a $batch request.
func (t *Tracer) StartBatchPart(ctx context.Context, method, path string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "odata.batch.part",
		trace.WithAttributes(AttrMethod.String(method), AttrResourcePath.String(path)))
}

// RecordError marks span as failed with err.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// BatchSizeAttr returns the batch size attribute.
func BatchSizeAttr(n int) attribute.KeyValue {
	return AttrBatchSize.Int(n)
}

// ResultCountAttr returns the result count attribute.
func ResultCountAttr(n int) attribute.KeyValue {
	return AttrResultCount.Int(n)
}
