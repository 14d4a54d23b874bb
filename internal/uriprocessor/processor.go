// Package uriprocessor executes a parsed request against a query provider: it
// resolves the resource path segment by segment, applies the query options the
// provider left to the library and loads the expanded navigation properties.
package uriprocessor

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nlstn/go-odata-classic/internal/host"
	"github.com/nlstn/go-odata-classic/internal/odataerr"
	"github.com/nlstn/go-odata-classic/internal/providers"
	"github.com/nlstn/go-odata-classic/internal/request"
	"github.com/nlstn/go-odata-classic/internal/segment"
	"github.com/nlstn/go-odata-classic/internal/uri"
)

// DefaultMaxExpandDepth bounds $expand paths when Options leaves it unset.
const DefaultMaxExpandDepth = 10

// Options configures a Processor.
type Options struct {
	MaxExpandDepth int
	Logger         *slog.Logger
}

// Processor executes one request, or one batch of requests.
type Processor struct {
	provider       *providers.Wrapper
	serviceURI     *uri.URL
	desc           *request.Description
	maxExpandDepth int
	logger         *slog.Logger
}

// mutation produces the result of the terminal segment of a PUT or POST.
type mutation func(ctx context.Context, d *request.Description, seg *segment.Descriptor) (segment.Result, error)

// Process parses the resource path and query options of the request held by h.
func Process(provider *providers.Wrapper, h *host.ServiceHost, opts Options) (*Processor, error) {
	if opts.MaxExpandDepth <= 0 {
		opts.MaxExpandDepth = DefaultMaxExpandDepth
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	p := &Processor{
		provider:       provider,
		serviceURI:     h.AbsoluteServiceURI(),
		maxExpandDepth: opts.MaxExpandDepth,
		logger:         opts.Logger,
	}

	requestURI := h.AbsoluteRequestURI()
	if !p.serviceURI.IsBaseOf(requestURI) {
		return nil, odataerr.InternalServerError("The request uri %s is not based on the configured service root uri %s",
			requestURI.String(), p.serviceURI.String())
	}
	d, err := p.describe(h.Method(), h.FullAbsoluteRequestURI(), h.ResourcePathSegments())
	if err != nil {
		return nil, err
	}
	p.desc = d
	return p, nil
}

// ProcessPart parses one part of a batch request. rawURL is absolute or relative
// to the service root. The part is added to the batch and returned so the caller
// can attach its body, headers and Content-ID.
func (p *Processor) ProcessPart(method, rawURL string) (*request.Description, error) {
	if p.desc.TargetKind() != segment.KindBatch {
		return nil, odataerr.Unexpected("a batch request when adding a batch part")
	}
	partURL, err := p.resolvePartURL(rawURL)
	if err != nil {
		return nil, err
	}
	n := p.serviceURI.SegmentCount()
	segments := partURL.Segments()
	if n >= len(segments) {
		segments = nil
	} else {
		segments = segments[n:]
	}
	d, err := p.describe(method, partURL, segments)
	if err != nil {
		return nil, err
	}
	if d.TargetKind() == segment.KindBatch {
		return nil, odataerr.BadRequest("A batch request cannot contain another batch request")
	}
	p.desc.AddPart(d)
	return d, nil
}

func (p *Processor) resolvePartURL(rawURL string) (*uri.URL, error) {
	if strings.Contains(rawURL, "://") {
		u, err := uri.Parse(rawURL, true)
		if err != nil {
			return nil, err
		}
		if !p.serviceURI.IsBaseOf(u) {
			return nil, odataerr.BadRequest("The batch part uri %s is not based on the service root uri %s", rawURL, p.serviceURI.String())
		}
		return u, nil
	}
	return uri.Parse(strings.TrimSuffix(p.serviceURI.String(), "/")+"/"+strings.TrimPrefix(rawURL, "/"), true)
}

func (p *Processor) describe(method string, requestURL *uri.URL, path []string) (*request.Description, error) {
	segments, err := segment.Parse(path, p.provider)
	if err != nil {
		return nil, err
	}
	d := request.New(method, requestURL, segments, p.provider.ContainerName())
	err = request.ProcessQueryOptions(d, request.Options{
		Resolver:       p.provider,
		Expressions:    p.provider.ExpressionProvider(),
		MaxExpandDepth: p.maxExpandDepth,
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Request returns the description of the processed request.
func (p *Processor) Request() *request.Description {
	return p.desc
}

// Provider returns the provider wrapper requests are executed against.
func (p *Processor) Provider() *providers.Wrapper {
	return p.provider
}

// Execute runs the request. For a batch every part is executed in order and
// the outcome of each part is recorded on it; a failing part does not stop the
// parts after it.
func (p *Processor) Execute(ctx context.Context) error {
	if p.desc.TargetKind() == segment.KindBatch {
		if p.desc.Method() != http.MethodPost {
			return odataerr.BadRequest("Batch requests must use the POST method")
		}
		return p.executeBatch(ctx)
	}
	return p.execute(ctx, p.desc)
}

func (p *Processor) execute(ctx context.Context, d *request.Description) error {
	switch d.Method() {
	case http.MethodGet:
		return p.executeBase(ctx, d, nil)
	case http.MethodPut, http.MethodPatch, "MERGE":
		return p.executePut(ctx, d)
	case http.MethodPost:
		return p.executePost(ctx, d)
	case http.MethodDelete:
		return p.executeDelete(ctx, d)
	}
	return odataerr.NotImplemented("The method %s is not supported", d.Method())
}

func (p *Processor) executeBatch(ctx context.Context) error {
	for _, part := range p.desc.Parts() {
		p.provider.ExpressionProvider().Clear()
		if err := p.execute(ctx, part); err != nil {
			p.logger.Debug("Batch part failed", "method", part.Method(), "url", part.RequestURL().String(), "error", err)
			part.SetErr(err)
		}
		part.SetExecuted()
	}
	p.desc.SetExecuted()
	return nil
}

// finalSegment is the segment a mutation applies to: the last one, or the one
// before a trailing $count.
func finalSegment(d *request.Description) *segment.Descriptor {
	last := d.LastSegment()
	if last != nil && last.Kind == segment.KindCount {
		return last.Prev()
	}
	return last
}

func requestData(d *request.Description) (map[string]any, bool) {
	data, ok := d.Data().(map[string]any)
	return data, ok && len(data) > 0
}

func (p *Processor) executePut(ctx context.Context, d *request.Description) error {
	seg := finalSegment(d)
	if seg == nil || seg.ResourceSetWrapper == nil || seg.Key == nil {
		return odataerr.BadRequest("Missing resource set or key descriptor for the %s request", d.Method())
	}
	if _, ok := requestData(d); !ok {
		return odataerr.BadRequest("Method %s expecting some data, but received empty data", d.Method())
	}
	return p.executeBase(ctx, d, func(ctx context.Context, d *request.Description, seg *segment.Descriptor) (segment.Result, error) {
		data, _ := requestData(d)
		entity, err := p.provider.UpdateResource(ctx, seg.ResourceSetWrapper, seg.Key, data)
		if err != nil {
			return segment.NoResult(), err
		}
		return segment.EntityResult(entity), nil
	})
}

func (p *Processor) executePost(ctx context.Context, d *request.Description) error {
	seg := finalSegment(d)
	if seg == nil || seg.ResourceSetWrapper == nil {
		return odataerr.BadRequest("Missing resource set for the POST request")
	}
	if _, ok := requestData(d); !ok {
		return odataerr.BadRequest("Method POST expecting some data, but received empty data")
	}
	return p.executeBase(ctx, d, func(ctx context.Context, d *request.Description, seg *segment.Descriptor) (segment.Result, error) {
		data, _ := requestData(d)
		entity, err := p.provider.CreateResource(ctx, seg.ResourceSetWrapper, data)
		if err != nil {
			return segment.NoResult(), err
		}
		return segment.EntityResult(entity), nil
	})
}

func (p *Processor) executeDelete(ctx context.Context, d *request.Description) error {
	seg := finalSegment(d)
	if seg == nil || seg.ResourceSetWrapper == nil || seg.Key == nil {
		return odataerr.BadRequest("Missing resource set or key descriptor for the DELETE request")
	}
	if err := p.provider.DeleteResource(ctx, seg.ResourceSetWrapper, seg.Key); err != nil {
		return err
	}
	seg.SetResult(segment.NoResult())
	return nil
}
