// Package request holds the description of a single OData request: its resource
// path, its compiled query options and the values produced while executing it.
package request

import (
	"github.com/nlstn/go-odata-classic/internal/metadata"
	"github.com/nlstn/go-odata-classic/internal/query"
	"github.com/nlstn/go-odata-classic/internal/segment"
	"github.com/nlstn/go-odata-classic/internal/uri"
)

// Description describes one request, or one part of a batch request.
type Description struct {
	method        string
	url           *uri.URL
	segments      []*segment.Descriptor
	containerName string

	// QueryType is what a resource-set read must produce.
	QueryType query.QueryType

	filter         *query.FilterInfo
	orderBy        *query.OrderByInfo
	skipToken      *query.SkipTokenInfo
	topCount       *int
	topOptionCount *int
	skipCount      *int
	root           *query.RootProjectionNode
	countValue     *int64

	data      any
	headers   map[string]string
	contentID string
	parts     []*Description
	executed  bool
	err       error
}

// New creates a description for method against the parsed resource path of requestURL.
func New(method string, requestURL *uri.URL, segments []*segment.Descriptor, containerName string) *Description {
	d := &Description{
		method:        method,
		url:           requestURL,
		segments:      segments,
		containerName: containerName,
		QueryType:     query.QueryEntities,
	}
	if last := d.LastSegment(); last != nil && last.Kind == segment.KindCount {
		d.QueryType = query.QueryCount
	}
	return d
}

// Method returns the HTTP method of the request.
func (d *Description) Method() string {
	return d.method
}

// RequestURL returns the full absolute request URL, query string included.
func (d *Description) RequestURL() *uri.URL {
	return d.url
}

// ContainerName returns the name of the entity container the request addresses.
func (d *Description) ContainerName() string {
	return d.containerName
}

func (d *Description) Segments() []*segment.Descriptor {
	return d.segments
}

// FirstSegment returns the first segment of the resource path.
func (d *Description) FirstSegment() *segment.Descriptor {
	if len(d.segments) == 0 {
		return nil
	}
	return d.segments[0]
}

// LastSegment returns the terminal segment of the resource path.
func (d *Description) LastSegment() *segment.Descriptor {
	if len(d.segments) == 0 {
		return nil
	}
	return d.segments[len(d.segments)-1]
}

// TargetKind returns the kind of the terminal segment.
func (d *Description) TargetKind() segment.TargetKind {
	if last := d.LastSegment(); last != nil {
		return last.Kind
	}
	return segment.KindNothing
}

// TargetSource returns the source of the terminal segment.
func (d *Description) TargetSource() segment.TargetSource {
	if last := d.LastSegment(); last != nil {
		return last.Source
	}
	return segment.SourceNone
}

// TargetResourceSetWrapper returns the resource set the request targets.
func (d *Description) TargetResourceSetWrapper() *metadata.ResourceSetWrapper {
	if last := d.LastSegment(); last != nil {
		return last.ResourceSetWrapper
	}
	return nil
}

// TargetResourceType returns the type of the value the request targets.
func (d *Description) TargetResourceType() *metadata.ResourceType {
	if last := d.LastSegment(); last != nil {
		return last.ResourceType
	}
	return nil
}

// TargetResult returns what the terminal segment resolved to.
func (d *Description) TargetResult() segment.Result {
	if last := d.LastSegment(); last != nil {
		return last.Result()
	}
	return segment.NoResult()
}

// IsSingleResult reports whether the request yields at most one value.
func (d *Description) IsSingleResult() bool {
	if last := d.LastSegment(); last != nil {
		return last.Single
	}
	return false
}

// IsLinkURI reports whether the resource path uses $links.
func (d *Description) IsLinkURI() bool {
	for _, s := range d.segments {
		if s.Kind == segment.KindLink {
			return true
		}
	}
	return false
}

// FilterInfo returns the compiled $filter, nil when absent.
func (d *Description) FilterInfo() *query.FilterInfo {
	return d.filter
}

// InternalOrderByInfo returns the effective ordering: $orderby tie-broken by key,
// or the key ordering of a paged set. Nil when no ordering applies.
func (d *Description) InternalOrderByInfo() *query.OrderByInfo {
	return d.orderBy
}

// InternalSkipTokenInfo returns the parsed $skiptoken, nil when absent.
func (d *Description) InternalSkipTokenInfo() *query.SkipTokenInfo {
	return d.skipToken
}

// TopCount returns the number of entities to return, capped at the page size of the target set.
func (d *Description) TopCount() *int {
	return d.topCount
}

// TopOptionCount returns the value of an explicit $top, nil when absent.
func (d *Description) TopOptionCount() *int {
	return d.topOptionCount
}

// SkipCount returns the value of $skip, nil when absent.
func (d *Description) SkipCount() *int {
	return d.skipCount
}

// RootProjectionNode returns the projection tree root, nil when every property is serialized.
func (d *Description) RootProjectionNode() *query.RootProjectionNode {
	return d.root
}

// CountValue returns the count computed for $count or $inlinecount.
func (d *Description) CountValue() (int64, bool) {
	if d.countValue == nil {
		return 0, false
	}
	return *d.countValue, true
}

// SetCountValue stores the count computed for $count or $inlinecount.
func (d *Description) SetCountValue(n int64) {
	d.countValue = &n
}

// Data returns the decoded request body of a PUT or POST.
func (d *Description) Data() any {
	return d.data
}

// SetData stores the decoded request body.
func (d *Description) SetData(data any) {
	d.data = data
}

// Header returns a request header of a batch part.
func (d *Description) Header(name string) string {
	return d.headers[name]
}

// SetHeaders replaces the headers of a batch part.
func (d *Description) SetHeaders(headers map[string]string) {
	d.headers = headers
}

// ContentID returns the Content-ID of a batch part.
func (d *Description) ContentID() string {
	return d.contentID
}

// SetContentID sets the Content-ID of a batch part.
func (d *Description) SetContentID(id string) {
	d.contentID = id
}

// Parts returns the parts of a batch request in declaration order.
func (d *Description) Parts() []*Description {
	return d.parts
}

// AddPart appends a batch part.
func (d *Description) AddPart(part *Description) {
	d.parts = append(d.parts, part)
}

// Executed reports whether the description ran to completion.
func (d *Description) Executed() bool {
	return d.executed
}

// SetExecuted marks the description as run to completion.
func (d *Description) SetExecuted() {
	d.executed = true
}

// Err returns the error a batch part failed with.
func (d *Description) Err() error {
	return d.err
}

// SetErr records the error a batch part failed with.
func (d *Description) SetErr(err error) {
	d.err = err
}
