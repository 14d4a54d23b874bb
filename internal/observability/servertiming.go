package observability

import (
	"context"
	"net/http"

	servertiming "github.com/mitchellh/go-server-timing"
)

// ServerTimingMetric times one operation for the Server-Timing header.
// The zero value and nil are no-ops.
type ServerTimingMetric struct {
	metric *servertiming.Metric
}

// Stop ends the timed operation.
func (m *ServerTimingMetric) Stop() {
	if m == nil || m.metric == nil {
		return
	}
	m.metric.Stop()
}

// StartServerTiming starts a metric on the Server-Timing header carried by ctx.
func StartServerTiming(ctx context.Context, name string) *ServerTimingMetric {
	return StartServerTimingWithDesc(ctx, name, "")
}

// StartServerTimingWithDesc is StartServerTiming with a description.
func StartServerTimingWithDesc(ctx context.Context, name, description string) *ServerTimingMetric {
	header := servertiming.FromContext(ctx)
	if header == nil {
		return &ServerTimingMetric{}
	}
	m := header.NewMetric(name)
	if description != "" {
		m = m.WithDesc(description)
	}
	return &ServerTimingMetric{metric: m.Start()}
}

// ServerTimingMiddleware wraps next so that metrics started during the request
// are reported in the Server-Timing response header.
func ServerTimingMiddleware(next http.Handler) http.Handler {
	return servertiming.Middleware(next, nil)
}
