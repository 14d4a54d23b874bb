package writers

import (
	"bytes"
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"github.com/nlstn/go-odata-classic/internal/objectmodel"
	"github.com/nlstn/go-odata-classic/internal/odataerr"
)

// member is one key of an object written in insertion order.
type member struct {
	key   string
	value any
}

type object []member

func (o object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, m := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := marshal(m.key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		value, err := marshal(m.value)
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func write(w io.Writer, v any) error {
	b, err := marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// JSONWriter writes the verbose JSON format. Version 1 writes collections as bare
// arrays; version 2 wraps them in a results object carrying __count and __next.
type JSONWriter struct {
	Version int
}

func (j *JSONWriter) ContentType(Payload) string {
	return MediaTypeJSON + ";charset=utf-8"
}

func (j *JSONWriter) WriteEntry(w io.Writer, _ string, e *objectmodel.ODataEntry) error {
	entry, err := j.entry(e)
	if err != nil {
		return err
	}
	return write(w, object{{"d", entry}})
}

func (j *JSONWriter) WriteFeed(w io.Writer, _ string, f *objectmodel.ODataFeed) error {
	feed, err := j.feed(f)
	if err != nil {
		return err
	}
	return write(w, object{{"d", feed}})
}

func (j *JSONWriter) WriteURL(w io.Writer, u *objectmodel.ODataURL) error {
	return write(w, object{{"d", object{{"uri", u.URL}}}})
}

func (j *JSONWriter) WriteURLCollection(w io.Writer, c *objectmodel.ODataURLCollection) error {
	urls := make([]any, 0, len(c.URLs))
	for _, u := range c.URLs {
		urls = append(urls, object{{"uri", u.URL}})
	}
	return write(w, object{{"d", j.collection(urls, c.Count, c.NextPageLink)}})
}

func (j *JSONWriter) WriteProperty(w io.Writer, p *objectmodel.ODataProperty) error {
	value, err := j.propertyValue(p)
	if err != nil {
		return err
	}
	return write(w, object{{"d", object{{p.Name, value}}}})
}

func (j *JSONWriter) WriteServiceDocument(w io.Writer, doc *ServiceDocument) error {
	sets := doc.Collections
	if sets == nil {
		sets = []string{}
	}
	return write(w, object{{"d", object{{"EntitySets", sets}}}})
}

func (j *JSONWriter) WriteError(w io.Writer, e *odataerr.Error) error {
	return write(w, object{{"error", object{
		{"code", e.Code},
		{"message", object{{"lang", "en-US"}, {"value", e.Message}}},
	}}})
}

// collection wraps items the way the writer version expects.
func (j *JSONWriter) collection(items []any, count *int64, next *objectmodel.ODataLink) any {
	if j.Version < 2 {
		return items
	}
	var o object
	if count != nil {
		o = append(o, member{"__count", strconv.FormatInt(*count, 10)})
	}
	o = append(o, member{"results", items})
	if next != nil {
		o = append(o, member{"__next", next.URL})
	}
	return o
}

func (j *JSONWriter) feed(f *objectmodel.ODataFeed) (any, error) {
	entries := make([]any, 0, len(f.Entries))
	for _, e := range f.Entries {
		entry, err := j.entry(e)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return j.collection(entries, f.RowCount, f.NextPageLink), nil
}

func (j *JSONWriter) entry(e *objectmodel.ODataEntry) (object, error) {
	// The entry id is the service root followed by the edit link.
	root := strings.TrimSuffix(e.ID, e.EditLink)

	meta := object{{"uri", e.ID}, {"type", e.Type}}
	if e.ETag != "" {
		meta = append(meta, member{"etag", e.ETag})
	}
	if e.IsMediaLinkEntry && e.MediaLink != nil {
		meta = append(meta,
			member{"edit_media", root + e.MediaLink.EditLink},
			member{"media_src", root + e.MediaLink.SrcLink},
			member{"content_type", e.MediaLink.MimeType},
		)
		if e.MediaLink.ETag != "" {
			meta = append(meta, member{"media_etag", e.MediaLink.ETag})
		}
	}

	o := object{{"__metadata", meta}}
	if e.PropertyContent != nil {
		for _, p := range e.PropertyContent.Properties {
			value, err := j.propertyValue(p)
			if err != nil {
				return nil, err
			}
			o = append(o, member{p.Name, value})
		}
	}
	for _, link := range e.Links {
		value, err := j.link(root, link)
		if err != nil {
			return nil, err
		}
		o = append(o, member{link.Title, value})
	}
	return o, nil
}

func (j *JSONWriter) link(root string, link *objectmodel.ODataLink) (any, error) {
	if !link.IsExpanded {
		return object{{"__deferred", object{{"uri", root + link.URL}}}}, nil
	}
	if link.IsCollection {
		if link.ExpandedFeed == nil {
			return j.collection([]any{}, nil, nil), nil
		}
		return j.feed(link.ExpandedFeed)
	}
	if link.ExpandedEntry == nil {
		return nil, nil
	}
	return j.entry(link.ExpandedEntry)
}

func (j *JSONWriter) propertyValue(p *objectmodel.ODataProperty) (any, error) {
	switch v := p.Value.(type) {
	case nil:
		return nil, nil
	case *objectmodel.ODataPropertyContent:
		return j.complexValue(p.TypeName, v)
	case *objectmodel.ODataBagContent:
		items := make([]any, 0, len(v.Items))
		for _, item := range v.Items {
			if content, ok := item.(*objectmodel.ODataPropertyContent); ok {
				c, err := j.complexValue("", content)
				if err != nil {
					return nil, err
				}
				items = append(items, c)
				continue
			}
			value, err := jsonValue(p.PrimitiveType, item)
			if err != nil {
				return nil, err
			}
			items = append(items, value)
		}
		if j.Version < 2 {
			return items, nil
		}
		return object{{"__metadata", object{{"type", p.TypeName}}}, {"results", items}}, nil
	}
	return jsonValue(p.PrimitiveType, p.Value)
}

func (j *JSONWriter) complexValue(typeName string, content *objectmodel.ODataPropertyContent) (object, error) {
	var o object
	if typeName != "" {
		o = append(o, member{"__metadata", object{{"type", typeName}}})
	}
	for _, p := range content.Properties {
		value, err := j.propertyValue(p)
		if err != nil {
			return nil, err
		}
		o = append(o, member{p.Name, value})
	}
	return o, nil
}
