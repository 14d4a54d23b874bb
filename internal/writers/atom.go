package writers

import (
	"bytes"
	"encoding/xml"
	"io"
	"strconv"
	"time"

	"github.com/nlstn/go-odata-classic/internal/metadata"
	"github.com/nlstn/go-odata-classic/internal/objectmodel"
	"github.com/nlstn/go-odata-classic/internal/odataerr"
)

// XML namespaces of the Atom format.
const (
	NamespaceAtom         = "http://www.w3.org/2005/Atom"
	NamespaceApp          = "http://www.w3.org/2007/app"
	NamespaceData         = "http://schemas.microsoft.com/ado/2007/08/dataservices"
	NamespaceMetadata     = "http://schemas.microsoft.com/ado/2007/08/dataservices/metadata"
	NamespaceScheme       = "http://schemas.microsoft.com/ado/2007/08/dataservices/scheme"
	xmlDeclaration        = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n"
	atomUpdatedTimeLayout = "2006-01-02T15:04:05Z07:00"
)

// AtomWriter writes Atom feeds and entries, and plain XML for properties, links and errors.
type AtomWriter struct {
	now func() time.Time
}

// NewAtomWriter creates an Atom writer stamping documents with the current time.
func NewAtomWriter() *AtomWriter {
	return &AtomWriter{now: time.Now}
}

func (a *AtomWriter) ContentType(p Payload) string {
	switch p {
	case PayloadEntry:
		return objectmodel.EntryLinkType + ";charset=utf-8"
	case PayloadFeed:
		return objectmodel.FeedLinkType + ";charset=utf-8"
	case PayloadServiceDocument:
		return MediaTypeAtomService + ";charset=utf-8"
	}
	return MediaTypeXML + ";charset=utf-8"
}

// xmlWriter keeps the first error of a sequence of token writes.
type xmlWriter struct {
	enc *xml.Encoder
	err error
}

func attr(name, value string) xml.Attr {
	return xml.Attr{Name: xml.Name{Local: name}, Value: value}
}

func (x *xmlWriter) start(name string, attrs ...xml.Attr) {
	if x.err == nil {
		x.err = x.enc.EncodeToken(xml.StartElement{Name: xml.Name{Local: name}, Attr: attrs})
	}
}

func (x *xmlWriter) end(name string) {
	if x.err == nil {
		x.err = x.enc.EncodeToken(xml.EndElement{Name: xml.Name{Local: name}})
	}
}

func (x *xmlWriter) text(s string) {
	if x.err == nil && s != "" {
		x.err = x.enc.EncodeToken(xml.CharData(s))
	}
}

func (x *xmlWriter) element(name, value string, attrs ...xml.Attr) {
	x.start(name, attrs...)
	x.text(value)
	x.end(name)
}

// document runs fn against a fresh encoder and writes the declaration plus the
// encoded tokens to w.
func document(w io.Writer, fn func(x *xmlWriter)) error {
	var buf bytes.Buffer
	buf.WriteString(xmlDeclaration)
	x := &xmlWriter{enc: xml.NewEncoder(&buf)}
	fn(x)
	if x.err != nil {
		return x.err
	}
	if err := x.enc.Flush(); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func namespaces(base string) []xml.Attr {
	attrs := []xml.Attr{}
	if base != "" {
		attrs = append(attrs, attr("xml:base", base+"/"))
	}
	return append(attrs,
		attr("xmlns:d", NamespaceData),
		attr("xmlns:m", NamespaceMetadata),
		attr("xmlns", NamespaceAtom),
	)
}

func (a *AtomWriter) updated() string {
	return a.now().UTC().Format(atomUpdatedTimeLayout)
}

func (a *AtomWriter) WriteEntry(w io.Writer, base string, e *objectmodel.ODataEntry) error {
	return document(w, func(x *xmlWriter) { a.entry(x, e, namespaces(base)) })
}

func (a *AtomWriter) WriteFeed(w io.Writer, base string, f *objectmodel.ODataFeed) error {
	return document(w, func(x *xmlWriter) { a.feed(x, f, namespaces(base)) })
}

func (a *AtomWriter) feed(x *xmlWriter, f *objectmodel.ODataFeed, attrs []xml.Attr) {
	x.start("feed", attrs...)
	x.element("title", f.Title, attr("type", "text"))
	x.element("id", f.ID)
	x.element("updated", a.updated())
	if f.SelfLink != nil {
		x.element("link", "", attr("rel", f.SelfLink.Name), attr("title", f.SelfLink.Title), attr("href", f.SelfLink.URL))
	}
	if f.RowCount != nil {
		x.element("m:count", strconv.FormatInt(*f.RowCount, 10))
	}
	for _, e := range f.Entries {
		a.entry(x, e, nil)
	}
	if f.NextPageLink != nil {
		x.element("link", "", attr("rel", f.NextPageLink.Name), attr("href", f.NextPageLink.URL))
	}
	x.end("feed")
}

func (a *AtomWriter) entry(x *xmlWriter, e *objectmodel.ODataEntry, attrs []xml.Attr) {
	if e.ETag != "" {
		attrs = append(attrs, attr("m:etag", e.ETag))
	}
	x.start("entry", attrs...)
	x.element("id", e.ID)
	x.element("title", "", attr("type", "text"))
	x.element("updated", a.updated())
	x.start("author")
	x.element("name", "")
	x.end("author")
	if e.SelfLink != nil {
		x.element("link", "", attr("rel", e.SelfLink.Name), attr("title", e.SelfLink.Title), attr("href", e.SelfLink.URL))
	}
	if e.IsMediaLinkEntry && e.MediaLink != nil {
		media := []xml.Attr{attr("rel", "edit-media"), attr("href", e.MediaLink.EditLink)}
		if e.MediaLink.ETag != "" {
			media = append(media, attr("m:etag", e.MediaLink.ETag))
		}
		x.element("link", "", media...)
	}
	for _, link := range e.Links {
		a.link(x, link)
	}
	x.element("category", "", attr("term", e.Type), attr("scheme", NamespaceScheme))

	if e.IsMediaLinkEntry && e.MediaLink != nil {
		x.element("content", "", attr("type", e.MediaLink.MimeType), attr("src", e.MediaLink.SrcLink))
		a.properties(x, e.PropertyContent)
	} else {
		x.start("content", attr("type", MediaTypeXML))
		a.properties(x, e.PropertyContent)
		x.end("content")
	}
	x.end("entry")
}

func (a *AtomWriter) link(x *xmlWriter, link *objectmodel.ODataLink) {
	attrs := []xml.Attr{attr("rel", link.Name), attr("type", link.Type), attr("title", link.Title), attr("href", link.URL)}
	if !link.IsExpanded {
		x.element("link", "", attrs...)
		return
	}
	x.start("link", attrs...)
	x.start("m:inline")
	switch {
	case link.IsCollection && link.ExpandedFeed != nil:
		a.feed(x, link.ExpandedFeed, nil)
	case !link.IsCollection && link.ExpandedEntry != nil:
		a.entry(x, link.ExpandedEntry, nil)
	}
	x.end("m:inline")
	x.end("link")
}

func (a *AtomWriter) properties(x *xmlWriter, content *objectmodel.ODataPropertyContent) {
	x.start("m:properties")
	if content != nil {
		for _, p := range content.Properties {
			a.property(x, p, nil)
		}
	}
	x.end("m:properties")
}

func typeAttrs(typeName string) []xml.Attr {
	if typeName == "" || typeName == metadata.EdmString.FullName() {
		return nil
	}
	return []xml.Attr{attr("m:type", typeName)}
}

// property writes p as a d: element; attrs are added to the element.
func (a *AtomWriter) property(x *xmlWriter, p *objectmodel.ODataProperty, attrs []xml.Attr) {
	name := "d:" + p.Name
	attrs = append(attrs, typeAttrs(p.TypeName)...)
	switch v := p.Value.(type) {
	case nil:
		x.element(name, "", append(attrs, attr("m:null", "true"))...)
	case *objectmodel.ODataPropertyContent:
		x.start(name, attrs...)
		for _, child := range v.Properties {
			a.property(x, child, nil)
		}
		x.end(name)
	case *objectmodel.ODataBagContent:
		x.start(name, attrs...)
		for _, item := range v.Items {
			if content, ok := item.(*objectmodel.ODataPropertyContent); ok {
				x.start("d:element")
				for _, child := range content.Properties {
					a.property(x, child, nil)
				}
				x.end("d:element")
				continue
			}
			x.element("d:element", RawValue(p.PrimitiveType, item))
		}
		x.end(name)
	default:
		x.element(name, RawValue(p.PrimitiveType, v), attrs...)
	}
}

func (a *AtomWriter) WriteURL(w io.Writer, u *objectmodel.ODataURL) error {
	return document(w, func(x *xmlWriter) {
		x.element("uri", u.URL, attr("xmlns", NamespaceData))
	})
}

func (a *AtomWriter) WriteURLCollection(w io.Writer, c *objectmodel.ODataURLCollection) error {
	return document(w, func(x *xmlWriter) {
		x.start("links", attr("xmlns", NamespaceData), attr("xmlns:m", NamespaceMetadata))
		if c.Count != nil {
			x.element("m:count", strconv.FormatInt(*c.Count, 10))
		}
		for _, u := range c.URLs {
			x.element("uri", u.URL)
		}
		if c.NextPageLink != nil {
			x.element("link", "", attr("rel", c.NextPageLink.Name), attr("href", c.NextPageLink.URL), attr("xmlns", NamespaceAtom))
		}
		x.end("links")
	})
}

func (a *AtomWriter) WriteProperty(w io.Writer, p *objectmodel.ODataProperty) error {
	return document(w, func(x *xmlWriter) {
		a.property(x, p, []xml.Attr{attr("xmlns:d", NamespaceData), attr("xmlns:m", NamespaceMetadata)})
	})
}

func (a *AtomWriter) WriteServiceDocument(w io.Writer, doc *ServiceDocument) error {
	return document(w, func(x *xmlWriter) {
		x.start("service",
			attr("xml:base", doc.BaseURI+"/"),
			attr("xmlns:atom", NamespaceAtom),
			attr("xmlns:app", NamespaceApp),
			attr("xmlns", NamespaceApp),
		)
		x.start("workspace")
		title := doc.Title
		if title == "" {
			title = "Default"
		}
		x.element("atom:title", title)
		for _, set := range doc.Collections {
			x.start("collection", attr("href", set))
			x.element("atom:title", set)
			x.end("collection")
		}
		x.end("workspace")
		x.end("service")
	})
}

func (a *AtomWriter) WriteError(w io.Writer, e *odataerr.Error) error {
	return document(w, func(x *xmlWriter) {
		x.start("error", attr("xmlns", NamespaceMetadata))
		x.element("code", e.Code)
		x.element("message", e.Message, attr("xml:lang", "en-US"))
		x.end("error")
	})
}
