// Package objectmodel turns the results of an executed request into the
// format-neutral tree of entries, feeds, links and properties that writers render.
package objectmodel

import (
	"github.com/nlstn/go-odata-classic/internal/metadata"
)

// Link relations and types used by the object model.
const (
	RelatedLinkRelationPrefix = "http://schemas.microsoft.com/ado/2007/08/dataservices/related/"
	EditLinkRelation          = "edit"
	SelfLinkRelation          = "self"
	NextLinkRelation          = "next"
	EntryLinkType             = "application/atom+xml;type=entry"
	FeedLinkType              = "application/atom+xml;type=feed"
)

// ODataLink is a link of an entry or feed. Navigation links carry the expanded
// entry or feed when the navigation property was expanded.
type ODataLink struct {
	Name         string
	Title        string
	Type         string
	URL          string
	IsCollection bool
	IsExpanded   bool
	// ExpandedEntry is nil for an expanded to-one link with no related entity.
	ExpandedEntry *ODataEntry
	ExpandedFeed  *ODataFeed
}

// ODataMediaLink describes the media resource of a media link entry.
type ODataMediaLink struct {
	Name     string
	EditLink string
	SrcLink  string
	MimeType string
	ETag     string
}

// ODataPropertyContent is an ordered list of properties.
type ODataPropertyContent struct {
	Properties []*ODataProperty
}

// ODataBagContent holds the items of a bag property: primitive values or
// *ODataPropertyContent for bags of complex values.
type ODataBagContent struct {
	Items []any
}

// ODataProperty is a named value. Value is nil, a Go primitive value of
// PrimitiveType, an *ODataPropertyContent or an *ODataBagContent.
type ODataProperty struct {
	Name          string
	TypeName      string
	PrimitiveType metadata.Type
	Value         any
}

// IsNull reports whether the property holds no value.
func (p *ODataProperty) IsNull() bool {
	return p.Value == nil
}

// ODataEntry is one serialized entity.
type ODataEntry struct {
	ID               string
	SelfLink         *ODataLink
	Title            string
	EditLink         string
	Type             string
	ETag             string
	PropertyContent  *ODataPropertyContent
	Links            []*ODataLink
	MediaLink        *ODataMediaLink
	IsMediaLinkEntry bool
	ResourceSetName  string
}

// ODataFeed is a serialized collection of entities.
type ODataFeed struct {
	ID           string
	Title        string
	SelfLink     *ODataLink
	RowCount     *int64
	NextPageLink *ODataLink
	Entries      []*ODataEntry
}

// ODataURL is the address of one entity, written for $links requests.
type ODataURL struct {
	URL string
}

// ODataURLCollection is a list of entity addresses.
type ODataURLCollection struct {
	URLs         []*ODataURL
	NextPageLink *ODataLink
	Count        *int64
}
