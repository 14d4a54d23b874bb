// Package host adapts an incoming HTTP request to the URIs and headers the
// request pipeline works with, and collects the outgoing response.
package host

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/nlstn/go-odata-classic/internal/odataerr"
	"github.com/nlstn/go-odata-classic/internal/uri"
)

// Request headers read by the service.
const (
	HeaderAccept                = "Accept"
	HeaderAcceptCharset         = "Accept-Charset"
	HeaderContentType           = "Content-Type"
	HeaderIfMatch               = "If-Match"
	HeaderIfNoneMatch           = "If-None-Match"
	HeaderDataServiceVersion    = "DataServiceVersion"
	HeaderMaxDataServiceVersion = "MaxDataServiceVersion"
)

const svcSuffix = ".svc"

// ServiceHost exposes the request URIs and headers of one HTTP request.
type ServiceHost struct {
	req *http.Request

	fullRequestURI *uri.URL
	requestURI     *uri.URL
	requestURIText string
	serviceURI     *uri.URL
	serviceURIText string

	response *OutgoingResponse
}

// New creates a host for r. serviceURI is the configured service root: an absolute
// URL, a path such as "/NorthWind.svc" that is matched against the request path,
// or empty to use the request path up to its ".svc" segment.
func New(r *http.Request, serviceURI string) (*ServiceHost, error) {
	h := &ServiceHost{req: r, response: NewOutgoingResponse()}

	raw := absoluteURL(r)
	full, err := uri.Parse(raw, true)
	if err != nil {
		return nil, err
	}
	h.fullRequestURI = full

	text := raw
	if i := strings.IndexByte(text, '?'); i >= 0 {
		text = text[:i]
	}
	if h.requestURI, err = uri.Parse(text, true); err != nil {
		return nil, err
	}
	h.requestURIText = strings.TrimRight(text, "/")

	if serviceURI == "" {
		serviceURI = h.derivedServiceURI()
	}
	if err := h.setServiceURI(serviceURI); err != nil {
		return nil, err
	}
	return h, nil
}

func absoluteURL(r *http.Request) string {
	if r.URL.IsAbs() {
		return r.URL.String()
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
		scheme = proto
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func (h *ServiceHost) derivedServiceURI() string {
	if pos := strings.Index(h.requestURIText, svcSuffix); pos >= 0 {
		return h.requestURIText[:pos+len(svcSuffix)] + "/"
	}
	return h.requestURIText
}

func (h *ServiceHost) setServiceURI(serviceURI string) error {
	absolute := strings.HasPrefix(serviceURI, "http://") || strings.HasPrefix(serviceURI, "https://")
	parsed, err := uri.Parse(serviceURI, absolute)
	if err != nil {
		return odataerr.InternalServerError("Malformed base service uri in the configuration")
	}
	segments := parsed.Segments()
	if len(segments) == 0 || !strings.HasSuffix(segments[len(segments)-1], svcSuffix) ||
		parsed.HasQuery() || parsed.Fragment() != "" {
		return odataerr.InternalServerError("Malformed base service uri in the configuration; the uri must end with '%s' and carry no query or fragment", svcSuffix)
	}

	if absolute {
		h.serviceURI = parsed
		h.serviceURIText = strings.TrimRight(serviceURI, "/")
		return nil
	}

	resolved, err := resolveRelativeServiceURI(h.requestURI, segments)
	if err != nil {
		return odataerr.BadRequest("The request uri '%s' is not valid as it is not based on the configured relative uri '%s'", h.requestURIText, serviceURI)
	}
	if h.serviceURI, err = uri.Parse(resolved, true); err != nil {
		return err
	}
	h.serviceURIText = resolved
	return nil
}

var errNotBased = errors.New("request uri is not based on the relative service uri")

// resolveRelativeServiceURI finds the last ".svc" segment of the request, checks
// that the configured segments end there and rebuilds the absolute service root.
func resolveRelativeServiceURI(request *uri.URL, serviceSegments []string) (string, error) {
	requestSegments := request.Segments()
	i := len(requestSegments) - 1
	for ; i >= 0; i-- {
		if strings.HasSuffix(requestSegments[i], svcSuffix) {
			break
		}
	}
	j := len(serviceSegments) - 1
	k := i
	if j > i {
		return "", errNotBased
	}
	for j >= 0 && requestSegments[i] == serviceSegments[j] {
		i--
		j--
	}
	if j != -1 {
		return "", errNotBased
	}

	var b strings.Builder
	b.WriteString(request.Scheme())
	b.WriteString("://")
	b.WriteString(hostPort(request))
	for _, s := range requestSegments[:k+1] {
		b.WriteByte('/')
		b.WriteString(s)
	}
	return b.String(), nil
}

func hostPort(u *uri.URL) string {
	port := u.Port()
	if (u.Scheme() == "http" && port == 80) || (u.Scheme() == "https" && port == 443) || port == 0 {
		return u.Host()
	}
	return u.Host() + ":" + strconv.Itoa(port)
}

// Request returns the underlying HTTP request.
func (h *ServiceHost) Request() *http.Request {
	return h.req
}

// Method returns the HTTP method of the request.
func (h *ServiceHost) Method() string {
	return h.req.Method
}

// FullAbsoluteRequestURI returns the absolute request URI, query string included.
func (h *ServiceHost) FullAbsoluteRequestURI() *uri.URL {
	return h.fullRequestURI
}

// AbsoluteRequestURI returns the absolute request URI without query string.
func (h *ServiceHost) AbsoluteRequestURI() *uri.URL {
	return h.requestURI
}

// AbsoluteRequestURIString returns the absolute request URI without query string or trailing slash.
func (h *ServiceHost) AbsoluteRequestURIString() string {
	return h.requestURIText
}

// AbsoluteServiceURI returns the service root.
func (h *ServiceHost) AbsoluteServiceURI() *uri.URL {
	return h.serviceURI
}

// AbsoluteServiceURIString returns the service root without trailing slash.
func (h *ServiceHost) AbsoluteServiceURIString() string {
	return h.serviceURIText
}

// ResourcePathSegments returns the request segments that follow the service root.
// The caller must have checked that the service URI is a base of the request URI.
func (h *ServiceHost) ResourcePathSegments() []string {
	n := h.serviceURI.SegmentCount()
	segments := h.requestURI.Segments()
	if n >= len(segments) {
		return nil
	}
	return segments[n:]
}

// QueryStringItem returns a query option of the request.
func (h *ServiceHost) QueryStringItem(name string) (string, bool) {
	return h.fullRequestURI.QueryStringItem(name)
}

func (h *ServiceHost) header(name string) string {
	return h.req.Header.Get(name)
}

func (h *ServiceHost) RequestAccept() string {
	return h.header(HeaderAccept)
}

func (h *ServiceHost) RequestAcceptCharset() string {
	return h.header(HeaderAcceptCharset)
}

func (h *ServiceHost) RequestContentType() string {
	return h.header(HeaderContentType)
}

func (h *ServiceHost) RequestIfMatch() string {
	return h.header(HeaderIfMatch)
}

func (h *ServiceHost) RequestIfNoneMatch() string {
	return h.header(HeaderIfNoneMatch)
}

func (h *ServiceHost) RequestVersion() string {
	return h.header(HeaderDataServiceVersion)
}

func (h *ServiceHost) RequestMaxVersion() string {
	return h.header(HeaderMaxDataServiceVersion)
}

// Response returns the outgoing response being built for the request.
func (h *ServiceHost) Response() *OutgoingResponse {
	return h.response
}
