package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNilConfig(t *testing.T) {
	var c *Config
	if c.Tracer() == nil {
		t.Fatal("Expected a no-op tracer from a nil config")
	}
	if c.Metrics() == nil {
		t.Fatal("Expected no-op metrics from a nil config")
	}
	if c.ServerTimingEnabled() {
		t.Error("Expected Server-Timing to be disabled")
	}
	if c.ServiceName() != defaultServiceName {
		t.Errorf("Expected service name %s, got %s", defaultServiceName, c.ServiceName())
	}

	ctx, span := c.Tracer().StartRequest(context.Background(), http.MethodGet, "/Customers")
	RecordError(span, errors.New("boom"))
	span.End()
	c.Metrics().RecordRequest(ctx, http.MethodGet, http.StatusOK, 0)
	c.Metrics().RecordBatchSize(ctx, 3)
}

func TestNewConfig(t *testing.T) {
	c := NewConfig(WithServiceName("northwind"), WithServiceVersion("1.0.0"), WithServerTiming())
	if err := c.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if c.ServiceName() != "northwind" {
		t.Errorf("Expected service name northwind, got %s", c.ServiceName())
	}
	if !c.ServerTimingEnabled() {
		t.Error("Expected Server-Timing to be enabled")
	}

	ctx, span := c.Tracer().StartProviderCall(context.Background(), "query", "Customers")
	span.End()
	c.Metrics().RecordProviderCall(ctx, "query", "Customers", nil)
	c.Metrics().RecordProviderCall(ctx, "query", "Customers", errors.New("failed"))
}

func TestServerTimingMiddleware(t *testing.T) {
	h := ServerTimingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := StartServerTimingWithDesc(r.Context(), "query", "provider query")
		m.Stop()
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/Customers", nil))
	header := w.Header().Get("Server-Timing")
	if !strings.Contains(header, "query") {
		t.Errorf("Expected a query metric, got %q", header)
	}
}

func TestServerTimingWithoutMiddleware(t *testing.T) {
	m := StartServerTiming(context.Background(), "query")
	m.Stop()

	var none *ServerTimingMetric
	none.Stop()
}
