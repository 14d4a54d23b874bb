package handlers

import (
	"mime"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/nlstn/go-odata-classic/internal/odataerr"
	"github.com/nlstn/go-odata-classic/internal/writers"
)

// MaxProtocolVersion is the highest protocol version the service speaks.
const MaxProtocolVersion = 2

// parseVersion reads the major version of a DataServiceVersion style header such
// as "2.0;NetFx". ok is false for an empty header.
func parseVersion(header string) (version int, ok bool, err error) {
	v, _, _ := strings.Cut(header, ";")
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false, nil
	}
	major, minor, _ := strings.Cut(v, ".")
	n, err := strconv.Atoi(major)
	if err != nil || n < 1 {
		return 0, false, odataerr.BadRequest("Invalid version header value '%s'", header)
	}
	if minor != "" {
		if _, err := strconv.Atoi(minor); err != nil {
			return 0, false, odataerr.BadRequest("Invalid version header value '%s'", header)
		}
	}
	return n, true, nil
}

// requestVersion validates the DataServiceVersion of a request body.
func requestVersion(header string) (int, error) {
	v, ok, err := parseVersion(header)
	if err != nil {
		return 0, err
	}
	if !ok {
		return MaxProtocolVersion, nil
	}
	if v > MaxProtocolVersion {
		return 0, odataerr.BadRequest("Request version '%s' is not supported for the request payload. The only supported version is '%d.0'", header, MaxProtocolVersion)
	}
	return v, nil
}

// responseVersion returns the version to write a response in, given the
// MaxDataServiceVersion of the request.
func responseVersion(maxHeader string) (int, error) {
	v, ok, err := parseVersion(maxHeader)
	if err != nil {
		return 0, err
	}
	if !ok || v > MaxProtocolVersion {
		return MaxProtocolVersion, nil
	}
	return v, nil
}

// payloadMediaTypes lists the media types a payload can be written in, the
// default first.
var payloadMediaTypes = map[writers.Payload][]string{
	writers.PayloadEntry:           {writers.MediaTypeAtom, writers.MediaTypeJSON},
	writers.PayloadFeed:            {writers.MediaTypeAtom, writers.MediaTypeJSON},
	writers.PayloadLinks:           {writers.MediaTypeXML, writers.MediaTypeJSON},
	writers.PayloadProperty:        {writers.MediaTypeXML, writers.MediaTypeJSON},
	writers.PayloadServiceDocument: {writers.MediaTypeAtomService, writers.MediaTypeXML, writers.MediaTypeJSON},
	writers.PayloadError:           {writers.MediaTypeXML, writers.MediaTypeJSON},
}

var formatAliases = map[string]string{
	"json": writers.MediaTypeJSON,
	"atom": writers.MediaTypeAtom,
	"xml":  writers.MediaTypeXML,
}

type mediaRange struct {
	mediaType string
	q         float64
}

// parseAccept returns the media ranges of an Accept header, most preferred first.
// Ranges with q=0 are dropped.
func parseAccept(accept string) []mediaRange {
	var ranges []mediaRange
	for _, item := range strings.Split(accept, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		mediaType, params, err := mime.ParseMediaType(item)
		if err != nil {
			continue
		}
		q := 1.0
		if v, ok := params["q"]; ok {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				q = parsed
			}
		}
		if q <= 0 {
			continue
		}
		ranges = append(ranges, mediaRange{mediaType: mediaType, q: q})
	}
	sort.SliceStable(ranges, func(i, j int) bool { return ranges[i].q > ranges[j].q })
	return ranges
}

func matchesRange(r, mediaType string) bool {
	if r == "*/*" || r == mediaType {
		return true
	}
	if prefix, ok := strings.CutSuffix(r, "/*"); ok {
		return strings.HasPrefix(mediaType, prefix+"/")
	}
	return false
}

var errUnsupportedMediaType = odataerr.New(http.StatusUnsupportedMediaType, "Unsupported media type requested")

// selectWriter picks the writer for payload from $format, then from the Accept
// header, falling back to the default media type of the payload.
func (d *Dispatcher) selectWriter(version int, format, accept string, payload writers.Payload) (writers.Writer, error) {
	candidates := payloadMediaTypes[payload]
	if format = strings.TrimSpace(format); format != "" {
		mediaType := format
		if alias, ok := formatAliases[strings.ToLower(format)]; ok {
			mediaType = alias
		}
		if w := d.writers.Writer(version, mediaType); w != nil {
			return w, nil
		}
		return nil, errUnsupportedMediaType
	}

	ranges := parseAccept(accept)
	if len(ranges) == 0 {
		ranges = []mediaRange{{mediaType: "*/*", q: 1}}
	}
	for _, r := range ranges {
		if !strings.Contains(r.mediaType, "*") {
			if w := d.writers.Writer(version, r.mediaType); w != nil {
				return w, nil
			}
		}
		for _, c := range candidates {
			if !matchesRange(r.mediaType, c) {
				continue
			}
			if w := d.writers.Writer(version, c); w != nil {
				return w, nil
			}
		}
	}
	return nil, errUnsupportedMediaType
}
