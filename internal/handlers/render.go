package handlers

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/nlstn/go-odata-classic/internal/host"
	"github.com/nlstn/go-odata-classic/internal/objectmodel"
	"github.com/nlstn/go-odata-classic/internal/odataerr"
	"github.com/nlstn/go-odata-classic/internal/query"
	"github.com/nlstn/go-odata-classic/internal/request"
	"github.com/nlstn/go-odata-classic/internal/segment"
	"github.com/nlstn/go-odata-classic/internal/writers"
)

func versionHeader(version int) string {
	return strconv.Itoa(version) + ".0;"
}

// etagMatches evaluates an If-None-Match header against etag.
func etagMatches(header, etag string) bool {
	if header == "" || etag == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || candidate == etag {
			return true
		}
	}
	return false
}

// render writes the result of an executed request to resp.
func (d *Dispatcher) render(resp *host.OutgoingResponse, x *exchange, desc *request.Description) error {
	version, err := responseVersion(x.maxVersion)
	if err != nil {
		return err
	}
	if version < 2 && desc.QueryType == query.QueryEntitiesWithCount {
		return odataerr.BadRequest("Request version '%d.0' is not supported for the request payload. $inlinecount requires version '2.0'", version)
	}
	resp.SetHeader(host.HeaderDataServiceVersion, versionHeader(version))

	last := desc.LastSegment()
	switch {
	case desc.TargetKind() == segment.KindServiceDirectory:
		return d.renderServiceDocument(resp, x, version)
	case desc.Method() == http.MethodDelete:
		return resp.SetStatusCode(http.StatusNoContent)
	case desc.TargetKind() == segment.KindCount:
		n, _ := desc.CountValue()
		resp.SetContentType(writers.MediaTypeText + ";charset=utf-8")
		_, err := io.WriteString(resp, strconv.FormatInt(n, 10))
		return err
	case desc.TargetKind() == segment.KindPrimitiveValue:
		value := last.Result().Value()
		if value == nil {
			return odataerr.ResourceNotFound(last.Prev().Identifier)
		}
		resp.SetContentType(writers.MediaTypeText + ";charset=utf-8")
		_, err := io.WriteString(resp, writers.RawValue(last.Property.Type, value))
		return err
	case desc.TargetKind() == segment.KindMediaResource:
		return renderMediaResource(resp, last)
	}

	result := desc.TargetResult()
	s := objectmodel.NewSerializer(desc, d.provider, x.serviceURI, x.requestURI)

	if desc.IsLinkURI() {
		w, err := d.selectWriter(version, x.format, x.accept, writers.PayloadLinks)
		if err != nil {
			return err
		}
		switch result.Kind() {
		case segment.ResultEntity:
			u, err := s.WriteURLElement(result.Entity())
			if err != nil {
				return err
			}
			return writeDocument(resp, w, writers.PayloadLinks, func(out io.Writer) error { return w.WriteURL(out, u) })
		case segment.ResultEntities:
			urls, err := s.WriteURLElements(result.Entities())
			if err != nil {
				return err
			}
			return writeDocument(resp, w, writers.PayloadLinks, func(out io.Writer) error { return w.WriteURLCollection(out, urls) })
		}
		return odataerr.ResourceNotFound(last.Identifier)
	}

	switch result.Kind() {
	case segment.ResultEntity:
		return d.renderEntry(resp, x, version, s, desc, result.Entity())
	case segment.ResultEntities:
		w, err := d.selectWriter(version, x.format, x.accept, writers.PayloadFeed)
		if err != nil {
			return err
		}
		feed, err := s.WriteTopLevelElements(result.Entities())
		if err != nil {
			return err
		}
		return writeDocument(resp, w, writers.PayloadFeed, func(out io.Writer) error { return w.WriteFeed(out, x.serviceURI, feed) })
	case segment.ResultValue:
		return d.renderProperty(resp, x, version, s, last)
	}
	return odataerr.ResourceNotFound(last.Identifier)
}

func (d *Dispatcher) renderEntry(resp *host.OutgoingResponse, x *exchange, version int, s *objectmodel.Serializer, desc *request.Description, entity any) error {
	w, err := d.selectWriter(version, x.format, x.accept, writers.PayloadEntry)
	if err != nil {
		return err
	}
	entry, err := s.WriteTopLevelElement(entity)
	if err != nil {
		return err
	}
	if entry.ETag != "" {
		resp.SetETag(entry.ETag)
		if x.method == http.MethodGet && etagMatches(x.ifNoneMatch, entry.ETag) {
			return resp.SetStatusCode(http.StatusNotModified)
		}
	}
	if desc.Method() == http.MethodPost {
		if err := resp.SetStatusCode(http.StatusCreated); err != nil {
			return err
		}
		resp.SetLocation(entry.ID)
	}
	return writeDocument(resp, w, writers.PayloadEntry, func(out io.Writer) error { return w.WriteEntry(out, x.serviceURI, entry) })
}

func (d *Dispatcher) renderProperty(resp *host.OutgoingResponse, x *exchange, version int, s *objectmodel.Serializer, last *segment.Descriptor) error {
	w, err := d.selectWriter(version, x.format, x.accept, writers.PayloadProperty)
	if err != nil {
		return err
	}
	value := last.Result().Value()
	var prop *objectmodel.ODataProperty
	switch last.Kind {
	case segment.KindPrimitive:
		prop, err = s.WriteTopLevelPrimitive(value, last.Property)
	case segment.KindComplexObject:
		prop, err = s.WriteTopLevelComplexObject(value, last.Property)
	case segment.KindBag:
		prop, err = s.WriteTopLevelBagObject(value, last.Property)
	default:
		return odataerr.Unexpected("a property segment, got " + last.Kind.String())
	}
	if err != nil {
		return err
	}
	return writeDocument(resp, w, writers.PayloadProperty, func(out io.Writer) error { return w.WriteProperty(out, prop) })
}

func renderMediaResource(resp *host.OutgoingResponse, last *segment.Descriptor) error {
	media, ok := last.Result().Entity().(objectmodel.MediaEntity)
	if !ok {
		return odataerr.NotImplemented("The entity type '%s' does not provide its media resource", last.ResourceType.FullName())
	}
	contentType := media.GetMediaContentType()
	if contentType == "" {
		contentType = writers.MediaTypeOctetStream
	}
	resp.SetContentType(contentType)
	_, err := resp.Write(media.GetMediaContent())
	return err
}

func (d *Dispatcher) renderServiceDocument(resp *host.OutgoingResponse, x *exchange, version int) error {
	w, err := d.selectWriter(version, x.format, x.accept, writers.PayloadServiceDocument)
	if err != nil {
		return err
	}
	doc := &writers.ServiceDocument{BaseURI: x.serviceURI}
	for _, set := range d.provider.Registry().ResourceSets() {
		doc.Collections = append(doc.Collections, set.Name)
	}

	var body bytes.Buffer
	if err := w.WriteServiceDocument(&body, doc); err != nil {
		return err
	}
	etag := `W/"` + strconv.FormatUint(xxhash.Sum64(body.Bytes()), 16) + `"`
	resp.SetETag(etag)
	if etagMatches(x.ifNoneMatch, etag) {
		return resp.SetStatusCode(http.StatusNotModified)
	}
	resp.SetContentType(w.ContentType(writers.PayloadServiceDocument))
	_, err = resp.Write(body.Bytes())
	return err
}

func writeDocument(resp *host.OutgoingResponse, w writers.Writer, payload writers.Payload, fn func(out io.Writer) error) error {
	var body bytes.Buffer
	if err := fn(&body); err != nil {
		return odataerr.Wrap(err, "Failed to write the response")
	}
	resp.SetContentType(w.ContentType(payload))
	_, err := resp.Write(body.Bytes())
	return err
}
