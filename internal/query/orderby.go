package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nlstn/go-odata-classic/internal/metadata"
	"github.com/nlstn/go-odata-classic/internal/odataerr"
)

// OrderByPathSegment is one $orderby term: a property path through complex
// properties ending at a primitive property, plus its direction.
type OrderByPathSegment struct {
	Properties []*metadata.ResourceProperty
	Descending bool
}

// Path returns the slash-separated property path.
func (s OrderByPathSegment) Path() string {
	names := make([]string, len(s.Properties))
	for i, p := range s.Properties {
		names[i] = p.Name
	}
	return strings.Join(names, "/")
}

// Leaf returns the primitive property the path ends at.
func (s OrderByPathSegment) Leaf() *metadata.ResourceProperty {
	return s.Properties[len(s.Properties)-1]
}

// Value reads the path from an entity; a nil intermediate yields nil.
func (s OrderByPathSegment) Value(entity any) (any, error) {
	current := entity
	for _, p := range s.Properties {
		if current == nil {
			return nil, nil
		}
		v, err := metadata.GetValue(current, p.Name)
		if err != nil {
			return nil, err
		}
		current = v
	}
	return current, nil
}

// OrderByInfo is a total ordering over the entities of a resource type. It is
// always tie-broken by the key properties so that paging is stable.
type OrderByInfo struct {
	segments []OrderByPathSegment
}

// Segments returns the ordering terms, key tie-breakers included.
func (o *OrderByInfo) Segments() []OrderByPathSegment {
	return o.segments
}

// KeyOrderBy orders by the key properties of rt, ascending.
func KeyOrderBy(rt *metadata.ResourceType) *OrderByInfo {
	info := &OrderByInfo{}
	info.appendKeys(rt)
	return info
}

func (o *OrderByInfo) appendKeys(rt *metadata.ResourceType) {
	for _, key := range rt.KeyProperties() {
		found := false
		for _, s := range o.segments {
			if len(s.Properties) == 1 && s.Properties[0] == key {
				found = true
				break
			}
		}
		if !found {
			o.segments = append(o.segments, OrderByPathSegment{Properties: []*metadata.ResourceProperty{key}})
		}
	}
}

// ParseOrderBy parses a $orderby value such as "Country desc, Address/City" for rt.
func ParseOrderBy(expr string, rt *metadata.ResourceType) (*OrderByInfo, error) {
	info := &OrderByInfo{}
	for _, term := range strings.Split(expr, ",") {
		fields := strings.Fields(term)
		if len(fields) == 0 || len(fields) > 2 {
			return nil, odataerr.BadRequest("Invalid $orderby term '%s'", strings.TrimSpace(term))
		}
		segment := OrderByPathSegment{}
		if len(fields) == 2 {
			switch strings.ToLower(fields[1]) {
			case "asc":
			case "desc":
				segment.Descending = true
			default:
				return nil, odataerr.BadRequest("Invalid $orderby direction '%s'", fields[1])
			}
		}
		props, err := resolvePrimitivePath(fields[0], rt)
		if err != nil {
			return nil, err
		}
		segment.Properties = props
		info.segments = append(info.segments, segment)
	}
	info.appendKeys(rt)
	return info, nil
}

// resolvePrimitivePath resolves "A/B/C" through complex properties to a primitive property.
func resolvePrimitivePath(path string, rt *metadata.ResourceType) ([]*metadata.ResourceProperty, error) {
	var props []*metadata.ResourceProperty
	current := rt
	names := strings.Split(path, "/")
	for i, name := range names {
		if current == nil {
			return nil, odataerr.BadRequest("Property path '%s' is invalid", path)
		}
		p := current.Property(name)
		if p == nil {
			return nil, odataerr.BadRequest("No property '%s' exists in type '%s'", name, current.FullName())
		}
		props = append(props, p)
		last := i == len(names)-1
		switch {
		case last && p.Kind != metadata.PropertyPrimitive:
			return nil, odataerr.BadRequest("Property path '%s' must end at a primitive property", path)
		case !last && p.Kind != metadata.PropertyComplex:
			return nil, odataerr.BadRequest("Property '%s' in path '%s' must be a complex property", name, path)
		}
		current = p.ResourceType
	}
	return props, nil
}

// Values reads every ordering path from entity.
func (o *OrderByInfo) Values(entity any) ([]any, error) {
	values := make([]any, len(o.segments))
	for i, s := range o.segments {
		v, err := s.Value(entity)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

// CompareToValues orders entity against a tuple of ordering values.
func (o *OrderByInfo) CompareToValues(entity any, values []any) (int, error) {
	if len(values) != len(o.segments) {
		return 0, fmt.Errorf("expected %d ordering values, got %d", len(o.segments), len(values))
	}
	for i, s := range o.segments {
		v, err := s.Value(entity)
		if err != nil {
			return 0, err
		}
		c, err := metadata.CompareValues(s.Leaf().Type, v, values[i])
		if err != nil {
			return 0, err
		}
		if s.Descending {
			c = -c
		}
		if c != 0 {
			return c, nil
		}
	}
	return 0, nil
}

// Compare orders two entities.
func (o *OrderByInfo) Compare(a, b any) (int, error) {
	values, err := o.Values(b)
	if err != nil {
		return 0, err
	}
	return o.CompareToValues(a, values)
}

// Sort orders entities in place.
func (o *OrderByInfo) Sort(entities []any) error {
	var sortErr error
	sort.SliceStable(entities, func(i, j int) bool {
		if sortErr != nil {
			return false
		}
		c, err := o.Compare(entities[i], entities[j])
		if err != nil {
			sortErr = err
			return false
		}
		return c < 0
	})
	return sortErr
}

// BuildSkipTokenValue renders the ordering values of entity as a $skiptoken value.
func (o *OrderByInfo) BuildSkipTokenValue(entity any) (string, error) {
	values, err := o.Values(entity)
	if err != nil {
		return "", err
	}
	literals := make([]string, len(values))
	for i, v := range values {
		literal, err := metadata.ToURILiteral(o.segments[i].Leaf().Type, v)
		if err != nil {
			return "", err
		}
		literals[i] = literal
	}
	return strings.Join(literals, ","), nil
}
