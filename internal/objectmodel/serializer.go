package objectmodel

import (
	"reflect"
	"strings"

	"github.com/nlstn/go-odata-classic/internal/metadata"
	"github.com/nlstn/go-odata-classic/internal/odataerr"
	"github.com/nlstn/go-odata-classic/internal/query"
	"github.com/nlstn/go-odata-classic/internal/request"
	"github.com/nlstn/go-odata-classic/internal/traversal"
)

// Serializer builds the object model for the result of one executed request.
// It walks expanded results with its own segment stack; a Serializer must be
// used for a single call to one of its Write methods.
type Serializer struct {
	request    *request.Description
	resolver   query.NavigationResolver
	serviceURI string
	requestURI string
	stack      *traversal.Stack

	complexInstances []any
}

// NewSerializer creates a serializer for d. serviceURI is the absolute service
// root and requestURI the absolute request URI without query.
func NewSerializer(d *request.Description, resolver query.NavigationResolver, serviceURI, requestURI string) *Serializer {
	return &Serializer{
		request:    d,
		resolver:   resolver,
		serviceURI: strings.TrimRight(serviceURI, "/"),
		requestURI: strings.TrimRight(requestURI, "/"),
		stack:      traversal.New(d.RootProjectionNode(), d.TargetResourceSetWrapper(), d.ContainerName()),
	}
}

func (s *Serializer) relative(absolute string) string {
	return strings.TrimPrefix(strings.TrimPrefix(absolute, s.serviceURI), "/")
}

func (s *Serializer) atRoot(fn func() error) error {
	pushed := s.stack.PushRoot()
	err := fn()
	if popErr := s.stack.Pop(pushed); popErr != nil {
		return popErr
	}
	return err
}

func (s *Serializer) inlineCount() *int64 {
	if s.request.QueryType != query.QueryEntitiesWithCount {
		return nil
	}
	if n, ok := s.request.CountValue(); ok {
		return &n
	}
	return nil
}

// WriteTopLevelElement builds the entry for the single entity the request targets.
func (s *Serializer) WriteTopLevelElement(entity any) (*ODataEntry, error) {
	var entry *ODataEntry
	err := s.atRoot(func() error {
		var err error
		entry, err = s.writeEntry(entity)
		return err
	})
	return entry, err
}

// WriteTopLevelElements builds the feed for the entities the request targets.
func (s *Serializer) WriteTopLevelElements(entities []any) (*ODataFeed, error) {
	var feed *ODataFeed
	err := s.atRoot(func() error {
		var err error
		feed, err = s.writeFeed(entities, s.request.TargetResourceSetWrapper().Name, s.requestURI)
		return err
	})
	if err != nil {
		return nil, err
	}
	feed.RowCount = s.inlineCount()
	return feed, nil
}

// WriteURLElement builds the address of the entity a $links request targets.
func (s *Serializer) WriteURLElement(entity any) (*ODataURL, error) {
	set := s.request.TargetResourceSetWrapper()
	key, err := EntryKey(entity, set.ResourceType, set.Name)
	if err != nil {
		return nil, err
	}
	return &ODataURL{URL: s.serviceURI + "/" + key}, nil
}

// WriteURLElements builds the addresses of the entities a $links request targets.
func (s *Serializer) WriteURLElements(entities []any) (*ODataURLCollection, error) {
	urls := &ODataURLCollection{URLs: make([]*ODataURL, 0, len(entities))}
	err := s.atRoot(func() error {
		for _, entity := range entities {
			u, err := s.WriteURLElement(entity)
			if err != nil {
				return err
			}
			urls.URLs = append(urls.URLs, u)
		}
		if len(entities) > 0 && s.needNextPageLink(len(entities)) {
			link, err := s.nextLink(entities[len(entities)-1], s.requestURI)
			if err != nil {
				return err
			}
			urls.NextPageLink = link
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	urls.Count = s.inlineCount()
	return urls, nil
}

// WriteTopLevelPrimitive builds the property a request for a primitive property targets.
func (s *Serializer) WriteTopLevelPrimitive(value any, prop *metadata.ResourceProperty) (*ODataProperty, error) {
	if prop == nil || prop.Type == nil {
		return nil, odataerr.Unexpected("a primitive property to serialize")
	}
	return s.property(prop, value)
}

// WriteTopLevelComplexObject builds the property a request for a complex property targets.
func (s *Serializer) WriteTopLevelComplexObject(value any, prop *metadata.ResourceProperty) (*ODataProperty, error) {
	if prop == nil || prop.Kind != metadata.PropertyComplex {
		return nil, odataerr.Unexpected("a complex property to serialize")
	}
	return s.property(prop, value)
}

// WriteTopLevelBagObject builds the property a request for a bag property targets.
func (s *Serializer) WriteTopLevelBagObject(value any, prop *metadata.ResourceProperty) (*ODataProperty, error) {
	if prop == nil || prop.Kind != metadata.PropertyBag {
		return nil, odataerr.Unexpected("a bag property to serialize")
	}
	return s.property(prop, value)
}

func (s *Serializer) writeFeed(entities []any, title, absoluteURI string) (*ODataFeed, error) {
	feed := &ODataFeed{
		ID:       absoluteURI,
		Title:    title,
		SelfLink: &ODataLink{Name: SelfLinkRelation, Title: title, URL: s.relative(absoluteURI)},
		Entries:  make([]*ODataEntry, 0, len(entities)),
	}
	for _, entity := range entities {
		entry, err := s.writeEntry(entity)
		if err != nil {
			return nil, err
		}
		feed.Entries = append(feed.Entries, entry)
		s.stack.IncrementResultCount()
	}
	if len(entities) > 0 && s.needNextPageLink(len(entities)) {
		link, err := s.nextLink(entities[len(entities)-1], absoluteURI)
		if err != nil {
			return nil, err
		}
		feed.NextPageLink = link
	}
	return feed, nil
}

func (s *Serializer) writeEntry(entity any) (*ODataEntry, error) {
	if metadata.IsNull(entity) {
		return nil, odataerr.Unexpected("a non-null entity to serialize")
	}
	set := s.stack.CurrentResourceSetWrapper()
	if set == nil {
		return nil, odataerr.Unexpected("a resource set for the serialized entry")
	}
	rt := set.ResourceType
	relative, err := EntryKey(entity, rt, set.Name)
	if err != nil {
		return nil, err
	}
	absolute := s.serviceURI + "/" + relative
	etag, err := ETag(entity, rt)
	if err != nil {
		return nil, err
	}

	entry := &ODataEntry{
		ID:               absolute,
		Title:            rt.Name,
		SelfLink:         &ODataLink{Name: EditLinkRelation, Title: rt.Name, URL: relative},
		EditLink:         relative,
		Type:             rt.FullName(),
		ETag:             etag,
		PropertyContent:  &ODataPropertyContent{},
		IsMediaLinkEntry: rt.MediaLinkEntry,
		ResourceSetName:  set.Name,
	}
	if rt.MediaLinkEntry {
		entry.MediaLink = &ODataMediaLink{
			Name:     "edit-media",
			EditLink: relative + "/$value",
			SrcLink:  relative + "/$value",
			ETag:     etag,
		}
		if media, ok := entity.(MediaEntity); ok {
			entry.MediaLink.MimeType = media.GetMediaContentType()
		}
	}

	props, err := s.projectedProperties(rt)
	if err != nil {
		return nil, err
	}
	for _, p := range props {
		if p.IsNavigation() {
			link, err := s.writeNavigationLink(entity, p, relative, absolute)
			if err != nil {
				return nil, err
			}
			entry.Links = append(entry.Links, link)
			continue
		}
		v, err := metadata.GetValue(entity, p.Name)
		if err != nil {
			return nil, odataerr.Wrap(err, "Cannot read property '%s'", p.Name)
		}
		prop, err := s.property(p, v)
		if err != nil {
			return nil, err
		}
		entry.PropertyContent.Properties = append(entry.PropertyContent.Properties, prop)
	}
	return entry, nil
}

// projectedProperties returns the properties to write for the current entry, in
// $select order when a selection applies.
func (s *Serializer) projectedProperties(rt *metadata.ResourceType) ([]*metadata.ResourceProperty, error) {
	nodes, err := s.stack.ProjectionNodes()
	if err != nil {
		return nil, err
	}
	if nodes == nil {
		return rt.Properties(), nil
	}
	props := make([]*metadata.ResourceProperty, 0, len(nodes))
	for _, n := range nodes {
		p := n.ResourceProperty()
		if p == nil {
			p = rt.Property(n.PropertyName())
		}
		if p == nil {
			return nil, odataerr.Unexpected("property " + n.PropertyName() + " on type " + rt.FullName())
		}
		props = append(props, p)
	}
	return props, nil
}

func (s *Serializer) writeNavigationLink(entity any, p *metadata.ResourceProperty, relative, absolute string) (*ODataLink, error) {
	link := &ODataLink{
		Name:         RelatedLinkRelationPrefix + p.Name,
		Title:        p.Name,
		Type:         EntryLinkType,
		URL:          relative + "/" + p.Name,
		IsCollection: p.Kind == metadata.PropertyResourceSetReference,
	}
	if link.IsCollection {
		link.Type = FeedLinkType
	}
	expand, err := s.stack.ShouldExpandSegment(p.Name)
	if err != nil || !expand {
		return link, err
	}

	link.IsExpanded = true
	value, err := metadata.GetValue(entity, p.Name)
	if err != nil {
		return nil, odataerr.Wrap(err, "Cannot read navigation property '%s'", p.Name)
	}
	err = s.stack.Descend(p, s.resolver, func() error {
		if link.IsCollection {
			related, err := entityList(value)
			if err != nil {
				return err
			}
			feed, err := s.writeFeed(related, p.Name, absolute+"/"+p.Name)
			if err != nil {
				return err
			}
			link.ExpandedFeed = feed
			return nil
		}
		if metadata.IsNull(value) {
			return nil
		}
		related, err := s.writeEntry(value)
		if err != nil {
			return err
		}
		link.ExpandedEntry = related
		return nil
	})
	if err != nil {
		return nil, err
	}
	return link, nil
}

// entityList returns the entities held by a to-many navigation property.
func entityList(value any) ([]any, error) {
	if metadata.IsNull(value) {
		return []any{}, nil
	}
	if items, ok := value.([]any); ok {
		return items, nil
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice {
		return nil, odataerr.Unexpected("a collection in a to-many navigation property")
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, nil
}

func (s *Serializer) property(p *metadata.ResourceProperty, value any) (*ODataProperty, error) {
	switch p.Kind {
	case metadata.PropertyPrimitive:
		return &ODataProperty{Name: p.Name, TypeName: p.Type.FullName(), PrimitiveType: p.Type, Value: primitiveValue(value)}, nil
	case metadata.PropertyComplex:
		content, err := s.complexContent(value, p.ResourceType)
		if err != nil {
			return nil, err
		}
		prop := &ODataProperty{Name: p.Name, TypeName: p.ResourceType.FullName()}
		if content != nil {
			prop.Value = content
		}
		return prop, nil
	case metadata.PropertyBag:
		bag, err := s.bagContent(value, p)
		if err != nil {
			return nil, err
		}
		prop := &ODataProperty{Name: p.Name, TypeName: bagTypeName(p), PrimitiveType: p.Type}
		if bag != nil {
			prop.Value = bag
		}
		return prop, nil
	}
	return nil, odataerr.Unexpected("a non-navigation property for " + p.Name)
}

func bagTypeName(p *metadata.ResourceProperty) string {
	if p.ResourceType != nil {
		return "Collection(" + p.ResourceType.FullName() + ")"
	}
	if p.Type != nil {
		return "Collection(" + p.Type.FullName() + ")"
	}
	return "Collection()"
}

// primitiveValue dereferences pointers so writers only see plain values.
func primitiveValue(v any) any {
	if metadata.IsNull(v) {
		return nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	return rv.Interface()
}

func (s *Serializer) complexContent(value any, rt *metadata.ResourceType) (*ODataPropertyContent, error) {
	if metadata.IsNull(value) {
		return nil, nil
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Ptr {
		for _, seen := range s.complexInstances {
			if seen == value {
				return nil, odataerr.InternalServerError("A cycle was detected in the type hierarchy of '%s'", rt.FullName())
			}
		}
		s.complexInstances = append(s.complexInstances, value)
		defer func() { s.complexInstances = s.complexInstances[:len(s.complexInstances)-1] }()
	}

	content := &ODataPropertyContent{}
	for _, p := range rt.Properties() {
		v, err := metadata.GetValue(value, p.Name)
		if err != nil {
			return nil, odataerr.Wrap(err, "Cannot read property '%s'", p.Name)
		}
		prop, err := s.property(p, v)
		if err != nil {
			return nil, err
		}
		content.Properties = append(content.Properties, prop)
	}
	return content, nil
}

func (s *Serializer) bagContent(value any, p *metadata.ResourceProperty) (*ODataBagContent, error) {
	if metadata.IsNull(value) {
		return nil, nil
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice {
		return nil, odataerr.Unexpected("a collection in bag property " + p.Name)
	}
	bag := &ODataBagContent{Items: make([]any, 0, rv.Len())}
	for i := 0; i < rv.Len(); i++ {
		item := rv.Index(i).Interface()
		if p.ResourceType == nil {
			bag.Items = append(bag.Items, primitiveValue(item))
			continue
		}
		content, err := s.complexContent(item, p.ResourceType)
		if err != nil {
			return nil, err
		}
		if content != nil {
			bag.Items = append(bag.Items, content)
		}
	}
	return bag, nil
}
