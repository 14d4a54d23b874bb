package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/nlstn/go-odata-classic/internal/host"
	"github.com/nlstn/go-odata-classic/internal/observability"
	"github.com/nlstn/go-odata-classic/internal/odataerr"
	"github.com/nlstn/go-odata-classic/internal/providers"
	"github.com/nlstn/go-odata-classic/internal/request"
	"github.com/nlstn/go-odata-classic/internal/segment"
	"github.com/nlstn/go-odata-classic/internal/uri"
	"github.com/nlstn/go-odata-classic/internal/uriprocessor"
	"github.com/nlstn/go-odata-classic/internal/writers"
)

// DefaultMaxBatchSize bounds the number of parts of a $batch request when Config leaves it unset.
const DefaultMaxBatchSize = 100

// Config configures a Dispatcher.
type Config struct {
	// ServiceURI is the service root: absolute, a path ending in .svc, or empty
	// to derive it from the request path.
	ServiceURI     string
	MaxExpandDepth int
	MaxBatchSize   int
}

// PreRequestHook runs before a request, or a batch part, is processed. A
// non-nil context replaces the request context; an error rejects the request
// with 403 Forbidden.
type PreRequestHook func(r *http.Request) (context.Context, error)

// Dispatcher serves the requests of one service: it runs each request through the
// URI processor and renders the result with the negotiated writer.
type Dispatcher struct {
	provider       *providers.Wrapper
	writers        *writers.Registry
	serviceURI     string
	maxExpandDepth int
	maxBatchSize   int
	logger         *slog.Logger
	observability  *observability.Config
	preRequest     PreRequestHook
}

// NewDispatcher creates a dispatcher serving provider with the built-in writers.
func NewDispatcher(provider *providers.Wrapper, cfg Config) *Dispatcher {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}
	return &Dispatcher{
		provider:       provider,
		writers:        writers.NewRegistry(),
		serviceURI:     cfg.ServiceURI,
		maxExpandDepth: cfg.MaxExpandDepth,
		maxBatchSize:   cfg.MaxBatchSize,
		logger:         slog.Default(),
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	d.logger = logger
}

// SetObservability configures tracing and metrics for the dispatcher.
func (d *Dispatcher) SetObservability(cfg *observability.Config) {
	d.observability = cfg
}

// SetPreRequestHook sets the hook run before every request and batch part.
func (d *Dispatcher) SetPreRequestHook(hook PreRequestHook) {
	d.preRequest = hook
}

// runPreRequestHook applies the pre-request hook to r.
func (d *Dispatcher) runPreRequestHook(r *http.Request) (*http.Request, error) {
	if d.preRequest == nil {
		return r, nil
	}
	ctx, err := d.preRequest(r)
	if err != nil {
		return r, odataerr.New(http.StatusForbidden, "Request rejected: %v", err)
	}
	if ctx != nil {
		r = r.WithContext(ctx)
	}
	return r, nil
}

// Writers returns the writer registry used to render responses.
func (d *Dispatcher) Writers() *writers.Registry {
	return d.writers
}

// exchange carries what rendering needs to know about one request, for both
// top-level requests and batch parts.
type exchange struct {
	method      string
	format      string
	accept      string
	maxVersion  string
	version     string
	ifNoneMatch string
	serviceURI  string
	requestURI  string
}

func exchangeFromHost(h *host.ServiceHost) *exchange {
	format, _ := h.QueryStringItem(uri.OptionFormat)
	return &exchange{
		method:      h.Method(),
		format:      format,
		accept:      h.RequestAccept(),
		maxVersion:  h.RequestMaxVersion(),
		version:     h.RequestVersion(),
		ifNoneMatch: h.RequestIfNoneMatch(),
		serviceURI:  h.AbsoluteServiceURIString(),
		requestURI:  h.AbsoluteRequestURIString(),
	}
}

func exchangeFromPart(d *request.Description, serviceURI string) *exchange {
	x := &exchange{
		method:      d.Method(),
		accept:      d.Header(host.HeaderAccept),
		maxVersion:  d.Header(host.HeaderMaxDataServiceVersion),
		version:     d.Header(host.HeaderDataServiceVersion),
		ifNoneMatch: d.Header(host.HeaderIfNoneMatch),
		serviceURI:  serviceURI,
	}
	if u := d.RequestURL(); u != nil {
		x.format, _ = u.QueryStringItem(uri.OptionFormat)
		requestURI, _, _ := strings.Cut(u.String(), "?")
		x.requestURI = strings.TrimRight(requestURI, "/")
	}
	return x
}

func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	if d.observability != nil {
		var span trace.Span
		ctx, span = d.observability.Tracer().StartRequest(ctx, r.Method, r.URL.Path)
		defer span.End()
		r = r.WithContext(ctx)
	}

	resp := d.serve(r)
	if err := resp.WriteTo(w); err != nil {
		d.logger.Error("Error writing response", "error", err)
	}

	if d.observability != nil {
		d.observability.Metrics().RecordRequest(ctx, r.Method, resp.StatusCode(), time.Since(start))
	}
}

func (d *Dispatcher) serve(r *http.Request) *host.OutgoingResponse {
	r, err := d.runPreRequestHook(r)
	var h *host.ServiceHost
	if err == nil {
		h, err = host.New(r, d.serviceURI)
	}
	if err != nil {
		resp := host.NewOutgoingResponse()
		d.writeError(resp, &exchange{
			method:     r.Method,
			accept:     r.Header.Get(host.HeaderAccept),
			maxVersion: r.Header.Get(host.HeaderMaxDataServiceVersion),
			requestURI: r.URL.Path,
		}, err)
		return resp
	}

	x := exchangeFromHost(h)
	resp := h.Response()
	if err := d.handle(r.Context(), h, r, x, resp); err != nil {
		d.writeError(resp, x, err)
	}
	return resp
}

func (d *Dispatcher) handle(ctx context.Context, h *host.ServiceHost, r *http.Request, x *exchange, resp *host.OutgoingResponse) error {
	if _, err := requestVersion(x.version); err != nil {
		return err
	}

	timing := observability.StartServerTiming(ctx, "process")
	p, err := uriprocessor.Process(d.provider, h, uriprocessor.Options{MaxExpandDepth: d.maxExpandDepth, Logger: d.logger})
	timing.Stop()
	if err != nil {
		return err
	}

	desc := p.Request()
	if desc.TargetKind() == segment.KindBatch {
		return d.handleBatch(ctx, p, r, x.serviceURI, resp)
	}
	if err := decodeBody(desc, h.RequestContentType(), r.Body); err != nil {
		return err
	}

	timing = observability.StartServerTiming(ctx, "execute")
	err = p.Execute(ctx)
	timing.Stop()
	if err != nil {
		return err
	}

	timing = observability.StartServerTiming(ctx, "serialize")
	defer timing.Stop()
	return d.render(resp, x, desc)
}

func hasBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, "MERGE":
		return true
	}
	return false
}

// decodeBody reads the JSON body of a POST or PUT into the description. The
// verbose {"d": {...}} envelope is accepted too.
func decodeBody(desc *request.Description, contentType string, body io.Reader) error {
	if body == nil || !hasBody(desc.Method()) {
		return nil
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return odataerr.BadRequest("Failed to read the request body: %v", err)
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil
	}
	if contentType != "" {
		mediaType, _, err := mime.ParseMediaType(contentType)
		if err != nil || mediaType != writers.MediaTypeJSON {
			return odataerr.New(http.StatusUnsupportedMediaType, "Unsupported request content type '%s'; only %s bodies are accepted", contentType, writers.MediaTypeJSON)
		}
	}

	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return odataerr.BadRequest("Invalid JSON in the request body: %v", err)
	}
	if inner, ok := data["d"].(map[string]any); ok && len(data) == 1 {
		data = inner
	}
	desc.SetData(data)
	return nil
}
