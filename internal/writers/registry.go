// Package writers renders the object model into the wire formats of the protocol.
package writers

import (
	"io"
	"mime"
	"strings"
	"sync"

	"github.com/nlstn/go-odata-classic/internal/objectmodel"
	"github.com/nlstn/go-odata-classic/internal/odataerr"
)

// Media types understood by the built-in writers.
const (
	MediaTypeJSON        = "application/json"
	MediaTypeAtom        = "application/atom+xml"
	MediaTypeXML         = "application/xml"
	MediaTypeAtomService = "application/atomsvc+xml"
	MediaTypeText        = "text/plain"
	MediaTypeOctetStream = "application/octet-stream"
)

// Payload is the kind of document a writer produces.
type Payload int

const (
	PayloadEntry Payload = iota
	PayloadFeed
	PayloadLinks
	PayloadProperty
	PayloadServiceDocument
	PayloadError
)

// ServiceDocument lists the entity sets exposed at the service root.
type ServiceDocument struct {
	BaseURI     string
	Title       string
	Collections []string
}

// Writer renders one wire format. Implementations are stateless and may be used
// concurrently. base is the absolute service root, used by formats that write
// relative links.
type Writer interface {
	ContentType(p Payload) string
	WriteEntry(w io.Writer, base string, e *objectmodel.ODataEntry) error
	WriteFeed(w io.Writer, base string, f *objectmodel.ODataFeed) error
	WriteURL(w io.Writer, u *objectmodel.ODataURL) error
	WriteURLCollection(w io.Writer, c *objectmodel.ODataURLCollection) error
	WriteProperty(w io.Writer, p *objectmodel.ODataProperty) error
	WriteServiceDocument(w io.Writer, doc *ServiceDocument) error
	WriteError(w io.Writer, e *odataerr.Error) error
}

type registration struct {
	minVersion int
	maxVersion int
	mediaTypes []string
	writer     Writer
}

// Registry selects a writer by protocol version and media type.
type Registry struct {
	mu      sync.RWMutex
	entries []registration
}

// NewRegistry returns a registry holding the verbose JSON and Atom writers.
func NewRegistry() *Registry {
	r := &Registry{}
	r.Register(&JSONWriter{Version: 1}, 1, 1, MediaTypeJSON)
	r.Register(&JSONWriter{Version: 2}, 2, 3, MediaTypeJSON)
	r.Register(NewAtomWriter(), 1, 3, MediaTypeAtom, MediaTypeXML, MediaTypeAtomService)
	return r
}

// Register adds a writer for the given media types and protocol versions
// (inclusive). Writers registered later take precedence.
func (r *Registry) Register(w Writer, minVersion, maxVersion int, mediaTypes ...string) {
	normalized := make([]string, 0, len(mediaTypes))
	for _, mt := range mediaTypes {
		normalized = append(normalized, normalize(mt))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append([]registration{{minVersion: minVersion, maxVersion: maxVersion, mediaTypes: normalized, writer: w}}, r.entries...)
}

// Reset removes every registered writer.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
}

// Writer returns the writer for mediaType at the given version, or nil when none
// is registered. Media type parameters are ignored.
func (r *Registry) Writer(version int, mediaType string) Writer {
	mt := normalize(mediaType)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if version < e.minVersion || version > e.maxVersion {
			continue
		}
		for _, candidate := range e.mediaTypes {
			if candidate == mt {
				return e.writer
			}
		}
	}
	return nil
}

func normalize(mediaType string) string {
	if mt, _, err := mime.ParseMediaType(mediaType); err == nil {
		return mt
	}
	mt, _, _ := strings.Cut(mediaType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}
