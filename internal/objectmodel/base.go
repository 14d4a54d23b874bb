package objectmodel

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/nlstn/go-odata-classic/internal/metadata"
	"github.com/nlstn/go-odata-classic/internal/odataerr"
	"github.com/nlstn/go-odata-classic/internal/query"
	"github.com/nlstn/go-odata-classic/internal/uri"
)

// WeakETagPrefix starts every ETag built from entity properties.
const WeakETagPrefix = `W/"`

// MediaEntity is implemented by media link entries to expose their stream.
type MediaEntity interface {
	GetMediaContentType() string
	GetMediaContent() []byte
}

// EntryKey builds the address of entity relative to the service root, e.g.
// Customers(CustomerID='ALFKI'). Key values are already escaped for use in a URI.
func EntryKey(entity any, rt *metadata.ResourceType, setName string) (string, error) {
	keys := rt.KeyProperties()
	if len(keys) == 0 {
		return "", odataerr.Unexpected("key properties on type " + rt.FullName())
	}
	var b strings.Builder
	b.WriteString(setName)
	b.WriteByte('(')
	for i, p := range keys {
		if p.Type == nil {
			return "", odataerr.Unexpected("a primitive type for key property " + p.Name)
		}
		v, err := metadata.GetValue(entity, p.Name)
		if err != nil {
			return "", odataerr.Wrap(err, "Cannot read key property '%s'", p.Name)
		}
		if metadata.IsNull(v) {
			return "", odataerr.InternalServerError("The serialized resource of type %s has a null value in key member '%s'. Null values are not supported in key members", rt.Name, p.Name)
		}
		literal, err := p.Type.ConvertToOData(v)
		if err != nil {
			return "", odataerr.Wrap(err, "Cannot convert key property '%s'", p.Name)
		}
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(p.Name)
		b.WriteByte('=')
		b.WriteString(literal)
	}
	b.WriteByte(')')
	return b.String(), nil
}

// ETag builds the weak ETag of entity from its ETag properties, e.g. W/"x,null".
// It returns "" when the type has no ETag properties.
func ETag(entity any, rt *metadata.ResourceType) (string, error) {
	props := rt.ETagProperties()
	if len(props) == 0 {
		return "", nil
	}
	values := make([]string, 0, len(props))
	for _, p := range props {
		if p.Type == nil {
			return "", odataerr.Unexpected("a primitive type for ETag property " + p.Name)
		}
		v, err := metadata.GetValue(entity, p.Name)
		if err != nil {
			return "", odataerr.Wrap(err, "Cannot read ETag property '%s'", p.Name)
		}
		if metadata.IsNull(v) {
			values = append(values, metadata.NullLiteral)
			continue
		}
		literal, err := p.Type.ConvertToOData(v)
		if err != nil {
			return "", odataerr.Wrap(err, "Cannot convert ETag property '%s'", p.Name)
		}
		values = append(values, etagValue(p.Type, literal))
	}
	return WeakETagPrefix + strings.TrimRight(strings.Join(values, ","), ",") + `"`, nil
}

// etagValue undoes the URI escaping of a literal: ETags are header values.
func etagValue(t metadata.Type, literal string) string {
	if decoded, err := url.PathUnescape(literal); err == nil {
		literal = decoded
	}
	if t == metadata.EdmString && len(literal) >= 2 && strings.HasPrefix(literal, "'") && strings.HasSuffix(literal, "'") {
		literal = strings.ReplaceAll(literal[1:len(literal)-1], "''", "'")
	}
	return literal
}

// BuildSelectExpandPaths renders the projection below node as the $select and
// $expand values that reproduce it. Either result is empty when nothing needs
// to be written for it.
func BuildSelectExpandPaths(node *query.ExpandedProjectionNode) (sel, expand string) {
	var b pathBuilder
	foundSelections, _ := b.walk(nil, node)
	if foundSelections && node.CanSelectAllProperties() {
		b.selects = append(b.selects, "*")
	}
	return strings.Join(b.selects, ","), strings.Join(b.expands, ",")
}

type pathBuilder struct {
	selects []string
	expands []string
}

func joinPath(parent []string, name string) string {
	if len(parent) == 0 {
		return name
	}
	return strings.Join(parent, "/") + "/" + name
}

func (b *pathBuilder) walk(parent []string, node *query.ExpandedProjectionNode) (foundSelections, foundExpansions bool) {
	var selectLater []string
	for _, child := range node.ChildNodes() {
		expanded, ok := child.(*query.ExpandedProjectionNode)
		if !ok {
			foundSelections = true
			b.selects = append(b.selects, joinPath(parent, child.PropertyName()))
			continue
		}
		foundExpansions = true
		childPath := append(append([]string(nil), parent...), expanded.PropertyName())
		childSelections, childExpansions := b.walk(childPath, expanded)
		if expanded.CanSelectAllProperties() {
			if childSelections {
				b.selects = append(b.selects, joinPath(parent, expanded.PropertyName()+"/*"))
			} else {
				selectLater = append(selectLater, expanded.PropertyName())
			}
		}
		foundSelections = foundSelections || childSelections
		if !childExpansions {
			b.expands = append(b.expands, joinPath(parent, expanded.PropertyName()))
		}
	}
	if !node.CanSelectAllProperties() || foundSelections {
		for _, name := range selectLater {
			b.selects = append(b.selects, joinPath(parent, name))
			foundSelections = true
		}
	}
	return foundSelections, foundExpansions
}

// nextLinkParametersForRoot carries the request's query options over to the
// next page in their original encoding. $skip and $skiptoken are superseded by
// the new skip token and $top is lowered by what the current page returned.
func (s *Serializer) nextLinkParametersForRoot() string {
	var b strings.Builder
	if requestURL := s.request.RequestURL(); requestURL != nil {
		for _, pair := range strings.Split(requestURL.RawQuery(), "&") {
			if pair == "" {
				continue
			}
			rawName, _, _ := strings.Cut(pair, "=")
			name, err := url.QueryUnescape(rawName)
			if err != nil {
				name = rawName
			}
			switch name {
			case uri.OptionSkip, uri.OptionSkipToken, uri.OptionTop:
				continue
			}
			b.WriteString(pair + "&")
		}
	}
	if ceiling, top := s.request.TopOptionCount(), s.request.TopCount(); ceiling != nil && top != nil {
		b.WriteString(uri.OptionTop + "=" + strconv.Itoa(*ceiling-*top) + "&")
	}
	return b.String()
}

func nextLinkParametersForExpanded(node *query.ExpandedProjectionNode) string {
	sel, expand := BuildSelectExpandPaths(node)
	var b strings.Builder
	if sel != "" {
		b.WriteString(uri.OptionSelect + "=" + sel + "&")
	}
	if expand != "" {
		b.WriteString(uri.OptionExpand + "=" + expand + "&")
	}
	return b.String()
}

// nextLink builds the link to the page after last, the final entity written
// for the feed at absoluteURI.
func (s *Serializer) nextLink(last any, absoluteURI string) (*ODataLink, error) {
	node, err := s.stack.CurrentExpandedProjectionNode()
	if err != nil {
		return nil, err
	}
	if node == nil || node.InternalOrderByInfo() == nil {
		return nil, odataerr.Unexpected("an ordering for the paged resource set")
	}
	token, err := node.InternalOrderByInfo().BuildSkipTokenValue(last)
	if err != nil {
		return nil, err
	}
	var params string
	if s.stack.IsRoot() {
		params = s.nextLinkParametersForRoot()
	} else {
		params = nextLinkParametersForExpanded(node)
	}
	return &ODataLink{
		Name: NextLinkRelation,
		URL:  strings.TrimRight(absoluteURI, "/") + "?" + params + uri.OptionSkipToken + "=" + token,
	}, nil
}

// needNextPageLink reports whether a feed of count entries is a full page of a
// paged set. At the root an explicit $top within one page never continues.
func (s *Serializer) needNextPageLink(count int) bool {
	pageSize := s.stack.CurrentResourceSetWrapper().PageSize()
	if s.stack.IsRoot() {
		if top := s.request.TopOptionCount(); top != nil && *top <= pageSize {
			return false
		}
	}
	return count > 0 && count == pageSize
}
