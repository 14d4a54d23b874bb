package handlers

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/nlstn/go-odata-classic/internal/host"
	"github.com/nlstn/go-odata-classic/internal/observability"
	"github.com/nlstn/go-odata-classic/internal/odataerr"
	"github.com/nlstn/go-odata-classic/internal/request"
	"github.com/nlstn/go-odata-classic/internal/uriprocessor"
)

// batchRequest is one request read from a $batch body. err is set when the
// part could not be read.
type batchRequest struct {
	Method    string
	URL       string
	Headers   http.Header
	Body      []byte
	ContentID string
	err       error
}

// batchPart pairs a request with its processed description.
type batchPart struct {
	req  *batchRequest
	desc *request.Description
	err  error
}

// handleBatch executes the parts of a $batch request in order and writes their
// responses as one multipart/mixed document. Changesets are flattened; every
// part succeeds or fails on its own.
func (d *Dispatcher) handleBatch(ctx context.Context, p *uriprocessor.Processor, r *http.Request, serviceURI string, resp *host.OutgoingResponse) error {
	var batchSpan trace.Span
	if d.observability != nil {
		ctx, batchSpan = d.observability.Tracer().StartBatch(ctx)
		defer batchSpan.End()
	}

	mediaType, params, err := mime.ParseMediaType(r.Header.Get(host.HeaderContentType))
	if err != nil {
		return odataerr.BadRequest("Failed to parse Content-Type header: %v", err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return odataerr.BadRequest("$batch requests must use multipart/mixed Content-Type")
	}
	boundary, ok := params["boundary"]
	if !ok {
		return odataerr.BadRequest("Content-Type must include boundary parameter")
	}

	requests, err := readBatch(r.Body, boundary, d.maxBatchSize)
	if err != nil {
		return err
	}

	parts := make([]batchPart, len(requests))
	for i, br := range requests {
		parts[i].req = br
		if br.err != nil {
			parts[i].err = br.err
			continue
		}
		parts[i].desc, parts[i].err = d.preparePart(ctx, p, r, serviceURI, br)
	}

	if err := p.Execute(ctx); err != nil {
		return err
	}

	responses := make([]*host.OutgoingResponse, len(parts))
	for i, part := range parts {
		out := host.NewOutgoingResponse()
		x := &exchange{method: part.req.Method, requestURI: part.req.URL}
		if part.desc != nil {
			x = exchangeFromPart(part.desc, serviceURI)
		}
		err := part.err
		if err == nil {
			err = part.desc.Err()
		}
		if err == nil {
			err = d.render(out, x, part.desc)
		}
		if err != nil {
			d.writeError(out, x, err)
		}
		responses[i] = out
	}

	if d.observability != nil {
		batchSpan.SetAttributes(observability.BatchSizeAttr(len(responses)))
		d.observability.Metrics().RecordBatchSize(ctx, len(responses))
	}
	return writeBatchResponse(resp, parts, responses)
}

// preparePart authorizes one part and queues it on p. A part whose body
// cannot be decoded is still queued, so desc may be set alongside err.
func (d *Dispatcher) preparePart(ctx context.Context, p *uriprocessor.Processor, r *http.Request, serviceURI string, br *batchRequest) (*request.Description, error) {
	if d.observability != nil {
		var span trace.Span
		_, span = d.observability.Tracer().StartBatchPart(ctx, br.Method, br.URL)
		defer span.End()
	}
	if err := d.checkPart(r, serviceURI, br); err != nil {
		return nil, err
	}
	desc, err := p.ProcessPart(br.Method, br.URL)
	if err != nil {
		return nil, err
	}
	headers := make(map[string]string, len(br.Headers))
	for name := range br.Headers {
		headers[textproto.CanonicalMIMEHeaderKey(name)] = br.Headers.Get(name)
	}
	desc.SetHeaders(headers)
	desc.SetContentID(br.ContentID)
	return desc, decodeBody(desc, br.Headers.Get(host.HeaderContentType), bytes.NewReader(br.Body))
}

// checkPart runs the pre-request hook for one batch part.
func (d *Dispatcher) checkPart(r *http.Request, serviceURI string, br *batchRequest) error {
	if d.preRequest == nil {
		return nil
	}
	target := br.URL
	if !strings.Contains(target, "://") {
		target = serviceURI + "/" + strings.TrimPrefix(target, "/")
	}
	partReq, err := http.NewRequestWithContext(r.Context(), br.Method, target, bytes.NewReader(br.Body))
	if err != nil {
		return odataerr.BadRequest("Invalid batch part request: %v", err)
	}
	partReq.Header = br.Headers.Clone()
	_, err = d.runPreRequestHook(partReq)
	return err
}

func tooManyParts(maxSize int) error {
	return odataerr.New(http.StatusRequestEntityTooLarge, "Batch request contains too many sub-requests. Maximum allowed: %d", maxSize)
}

// readBatch reads the parts of a batch body, flattening changesets.
func readBatch(body io.Reader, boundary string, maxSize int) ([]*batchRequest, error) {
	reader := multipart.NewReader(body, boundary)
	var requests []*batchRequest
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, odataerr.BadRequest("Failed to read batch part: %v", err)
		}

		partMediaType, partParams, err := mime.ParseMediaType(part.Header.Get(host.HeaderContentType))
		switch {
		case err != nil:
			requests = append(requests, &batchRequest{err: odataerr.BadRequest("Invalid part Content-Type")})
		case strings.HasPrefix(partMediaType, "multipart/"):
			changesetBoundary, ok := partParams["boundary"]
			if !ok {
				requests = append(requests, &batchRequest{err: odataerr.BadRequest("Missing changeset boundary")})
				break
			}
			changeset, err := readChangeset(part, changesetBoundary)
			if err != nil {
				return nil, err
			}
			requests = append(requests, changeset...)
		case partMediaType == "application/http":
			requests = append(requests, readPart(part))
		default:
			requests = append(requests, &batchRequest{err: odataerr.BadRequest("Invalid part Content-Type")})
		}

		if maxSize > 0 && len(requests) > maxSize {
			return nil, tooManyParts(maxSize)
		}
	}
	return requests, nil
}

func readChangeset(r io.Reader, boundary string) ([]*batchRequest, error) {
	reader := multipart.NewReader(r, boundary)
	var requests []*batchRequest
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return requests, nil
		}
		if err != nil {
			return nil, odataerr.BadRequest("Failed to read changeset part: %v", err)
		}
		requests = append(requests, readPart(part))
	}
}

func readPart(part *multipart.Part) *batchRequest {
	contentID := part.Header.Get("Content-ID")
	req, err := parseHTTPRequest(part)
	if err != nil {
		return &batchRequest{ContentID: contentID, err: odataerr.BadRequest("Failed to parse request: %v", err)}
	}
	req.ContentID = contentID
	return req
}

// parseHTTPRequest parses an HTTP request from a multipart part
func parseHTTPRequest(r io.Reader) (*batchRequest, error) {
	reader := bufio.NewReader(r)

	requestLine, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read request line: %w", err)
	}
	requestLine = strings.TrimRight(requestLine, "\r\n")
	if requestLine == "" {
		return nil, fmt.Errorf("empty request")
	}

	// METHOD SP Request-URI [SP HTTP-Version]; the URI may contain spaces in
	// its query, e.g. $filter=Name eq 'John'.
	firstSpace := strings.IndexByte(requestLine, ' ')
	if firstSpace == -1 {
		return nil, fmt.Errorf("invalid request line: %s", requestLine)
	}
	method := requestLine[:firstSpace]
	reqURL := requestLine[firstSpace+1:]
	if lastSpace := strings.LastIndexByte(reqURL, ' '); lastSpace != -1 && strings.HasPrefix(reqURL[lastSpace+1:], "HTTP/") {
		reqURL = reqURL[:lastSpace]
	}
	if reqURL == "" {
		return nil, fmt.Errorf("invalid request line: %s", requestLine)
	}
	if idx := strings.IndexByte(reqURL, '?'); idx != -1 {
		reqURL = reqURL[:idx] + "?" + strings.ReplaceAll(reqURL[idx+1:], " ", "%20")
	}

	tp := textproto.NewReader(reader)
	mimeHeader, err := tp.ReadMIMEHeader()
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read headers: %w", err)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	return &batchRequest{
		Method:  method,
		URL:     reqURL,
		Headers: http.Header(mimeHeader),
		Body:    bytes.TrimSpace(body),
	}, nil
}

// writeBatchResponse writes one application/http part per response.
func writeBatchResponse(resp *host.OutgoingResponse, parts []batchPart, responses []*host.OutgoingResponse) error {
	boundary := "batchresponse_" + uuid.NewString()
	resp.SetContentType("multipart/mixed; boundary=" + boundary)
	if err := resp.SetStatusCode(http.StatusAccepted); err != nil {
		return err
	}

	var b bytes.Buffer
	for i, out := range responses {
		fmt.Fprintf(&b, "--%s\r\n", boundary)
		b.WriteString("Content-Type: application/http\r\n")
		b.WriteString("Content-Transfer-Encoding: binary\r\n")
		if id := parts[i].req.ContentID; id != "" {
			fmt.Fprintf(&b, "Content-ID: %s\r\n", id)
		}
		b.WriteString("\r\n")

		fmt.Fprintf(&b, "HTTP/1.1 %s\r\n", out.StatusLine())
		for name, values := range out.Header() {
			for _, value := range values {
				fmt.Fprintf(&b, "%s: %s\r\n", name, value)
			}
		}
		b.WriteString("\r\n")
		b.Write(out.Body())
		b.WriteString("\r\n")
	}
	fmt.Fprintf(&b, "--%s--\r\n", boundary)

	_, err := resp.Write(b.Bytes())
	return err
}
