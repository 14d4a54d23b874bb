package host

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/nlstn/go-odata-classic/internal/odataerr"
)

// OutgoingResponse collects status, headers and body before they are written.
type OutgoingResponse struct {
	statusCode        int
	statusDescription string
	header            http.Header
	body              bytes.Buffer
}

// NewOutgoingResponse creates a 200 response with no headers.
func NewOutgoingResponse() *OutgoingResponse {
	return &OutgoingResponse{statusCode: http.StatusOK, header: make(http.Header)}
}

// StatusCode returns the response status code.
func (o *OutgoingResponse) StatusCode() int {
	return o.statusCode
}

// StatusLine returns the status code and its description, e.g. "201 Created".
func (o *OutgoingResponse) StatusLine() string {
	desc := o.statusDescription
	if desc == "" {
		desc = http.StatusText(o.statusCode)
	}
	if desc == "" {
		return strconv.Itoa(o.statusCode)
	}
	return strconv.Itoa(o.statusCode) + " " + desc
}

// SetStatusCode sets the status code, which must be in the 1xx to 5xx range.
func (o *OutgoingResponse) SetStatusCode(code int) error {
	if floor := code / 100; floor < 1 || floor > 5 {
		return odataerr.InternalServerError("Invalid status code %d", code)
	}
	o.statusCode = code
	return nil
}

// SetStatusDescription overrides the reason phrase of the status line.
func (o *OutgoingResponse) SetStatusDescription(desc string) {
	o.statusDescription = desc
}

// Header returns the response headers.
func (o *OutgoingResponse) Header() http.Header {
	return o.header
}

// SetHeader sets a response header; an empty value removes it.
func (o *OutgoingResponse) SetHeader(name, value string) {
	if value == "" {
		o.header.Del(name)
		return
	}
	o.header.Set(name, value)
}

func (o *OutgoingResponse) ContentType() string {
	return o.header.Get("Content-Type")
}

func (o *OutgoingResponse) SetContentType(value string) {
	o.SetHeader("Content-Type", value)
}

// SetContentLength sets Content-Length, which must be a non-negative integer.
func (o *OutgoingResponse) SetContentLength(value string) error {
	if n, err := strconv.Atoi(value); err != nil || n < 0 {
		return odataerr.New(http.StatusNotAcceptable, "ContentLength:%s is invalid", value)
	}
	o.SetHeader("Content-Length", value)
	return nil
}

func (o *OutgoingResponse) ETag() string {
	return o.header.Get("ETag")
}

func (o *OutgoingResponse) SetETag(value string) {
	o.SetHeader("ETag", value)
}

func (o *OutgoingResponse) SetLocation(value string) {
	o.SetHeader("Location", value)
}

func (o *OutgoingResponse) SetCacheControl(value string) {
	o.SetHeader("Cache-Control", value)
}

// Write appends to the response body.
func (o *OutgoingResponse) Write(p []byte) (int, error) {
	return o.body.Write(p)
}

// Body returns the response body written so far.
func (o *OutgoingResponse) Body() []byte {
	return o.body.Bytes()
}

// Reset drops status, headers and body, e.g. to replace a partial response with an error.
func (o *OutgoingResponse) Reset() {
	o.statusCode = http.StatusOK
	o.statusDescription = ""
	o.header = make(http.Header)
	o.body.Reset()
}

// WriteTo sends the response to w.
func (o *OutgoingResponse) WriteTo(w http.ResponseWriter) error {
	for name, values := range o.header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(o.statusCode)
	if o.body.Len() == 0 {
		return nil
	}
	_, err := w.Write(o.body.Bytes())
	return err
}
