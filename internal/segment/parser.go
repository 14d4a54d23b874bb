package segment

import (
	"strings"

	"github.com/nlstn/go-odata-classic/internal/metadata"
	"github.com/nlstn/go-odata-classic/internal/odataerr"
)

// Reserved segment identifiers.
const (
	SegmentBatch    = "$batch"
	SegmentCount    = "$count"
	SegmentLinks    = "$links"
	SegmentMetadata = "$metadata"
	SegmentValue    = "$value"
)

// NavigationResolver resolves the resource set a navigation property leads to.
type NavigationResolver interface {
	ResourceSet(name string) (*metadata.ResourceSetWrapper, bool)
	ResourceSetWrapperForNavigationProperty(set *metadata.ResourceSetWrapper, rt *metadata.ResourceType, prop *metadata.ResourceProperty) (*metadata.ResourceSetWrapper, error)
}

// Parse turns the path segments that follow the service root into a linked
// descriptor chain. An empty path addresses the service directory.
func Parse(segments []string, resolver NavigationResolver) ([]*Descriptor, error) {
	if len(segments) == 0 {
		return Link([]*Descriptor{{Kind: KindServiceDirectory, Single: true}}), nil
	}

	first, err := parseFirst(segments[0], len(segments), resolver)
	if err != nil {
		return nil, err
	}
	descriptors := []*Descriptor{first}
	for _, raw := range segments[1:] {
		prev := descriptors[len(descriptors)-1]
		d, err := parseNext(prev, raw, resolver)
		if err != nil {
			return nil, err
		}
		d.prev, prev.next = prev, d
		descriptors = append(descriptors, d)
	}
	last := descriptors[len(descriptors)-1]
	if last.Kind == KindLink {
		return nil, odataerr.BadRequest("The request URI is not valid; '%s' must be followed by a navigation property", SegmentLinks)
	}
	return Link(descriptors), nil
}

// splitIdentifier separates "Customers('ALFKI')" into "Customers" and "'ALFKI'".
func splitIdentifier(raw string) (identifier, predicate string, hasPredicate bool, err error) {
	open := strings.IndexByte(raw, '(')
	if open < 0 {
		return raw, "", false, nil
	}
	if !strings.HasSuffix(raw, ")") {
		return "", "", false, odataerr.BadRequest("Bad Request - Error in query syntax near '%s'", raw)
	}
	return raw[:open], raw[open+1 : len(raw)-1], true, nil
}

func parseFirst(raw string, total int, resolver NavigationResolver) (*Descriptor, error) {
	switch raw {
	case SegmentMetadata:
		return nil, odataerr.NotImplemented("Metadata documents are not supported")
	case SegmentBatch:
		if total > 1 {
			return nil, odataerr.BadRequest("The segment '%s' must be the last segment of the request URI", SegmentBatch)
		}
		return &Descriptor{Identifier: raw, Kind: KindBatch, Single: true}, nil
	case SegmentCount, SegmentLinks, SegmentValue:
		return nil, odataerr.BadRequest("The segment '%s' cannot be the first segment of the request URI", raw)
	}

	identifier, predicate, hasPredicate, err := splitIdentifier(raw)
	if err != nil {
		return nil, err
	}
	set, ok := resolver.ResourceSet(identifier)
	if !ok {
		return nil, odataerr.ResourceNotFound(identifier)
	}
	d := &Descriptor{
		Identifier:         identifier,
		Kind:               KindResourceSet,
		Source:             SourceEntitySet,
		ResourceSetWrapper: set,
		ResourceType:       set.ResourceType,
	}
	if hasPredicate {
		key, err := ParseKeyPredicate(predicate, set.ResourceType)
		if err != nil {
			return nil, err
		}
		d.Key = key
		d.Kind = KindResource
		d.Single = true
	}
	return d, nil
}

func parseNext(prev *Descriptor, raw string, resolver NavigationResolver) (*Descriptor, error) {
	switch prev.Kind {
	case KindCount, KindPrimitiveValue, KindMediaResource, KindBatch, KindBag:
		return nil, odataerr.BadRequest("The request URI is not valid; no segment can follow '%s'", prev.Identifier)
	}
	if pp := prev.Prev(); pp != nil && pp.Kind == KindLink && raw != SegmentCount {
		return nil, odataerr.BadRequest("The request URI is not valid; only '%s' can follow the navigation property of a '%s' segment", SegmentCount, SegmentLinks)
	}

	switch raw {
	case SegmentBatch, SegmentMetadata:
		return nil, odataerr.BadRequest("The segment '%s' must be the only segment after the service root", raw)
	case SegmentCount:
		if prev.Kind != KindResourceSet {
			return nil, odataerr.BadRequest("The segment '%s' can only follow a resource set", SegmentCount)
		}
		return &Descriptor{
			Identifier:         raw,
			Kind:               KindCount,
			Source:             prev.Source,
			Single:             true,
			ResourceSetWrapper: prev.ResourceSetWrapper,
			ResourceType:       prev.ResourceType,
		}, nil
	case SegmentLinks:
		if prev.Kind != KindResource {
			return nil, odataerr.BadRequest("The segment '%s' can only follow a single resource", SegmentLinks)
		}
		return &Descriptor{
			Identifier:         raw,
			Kind:               KindLink,
			Source:             prev.Source,
			Single:             true,
			ResourceSetWrapper: prev.ResourceSetWrapper,
			ResourceType:       prev.ResourceType,
		}, nil
	case SegmentValue:
		switch {
		case prev.Kind == KindPrimitive:
			return &Descriptor{Identifier: raw, Kind: KindPrimitiveValue, Source: SourceProperty, Single: true, Property: prev.Property}, nil
		case prev.Kind == KindResource && prev.ResourceType.MediaLinkEntry:
			return &Descriptor{
				Identifier:         raw,
				Kind:               KindMediaResource,
				Source:             prev.Source,
				Single:             true,
				ResourceSetWrapper: prev.ResourceSetWrapper,
				ResourceType:       prev.ResourceType,
			}, nil
		}
		return nil, odataerr.BadRequest("The segment '%s' cannot follow '%s'", SegmentValue, prev.Identifier)
	}

	if prev.Kind == KindPrimitive {
		return nil, odataerr.BadRequest("Only '%s' can follow the primitive property '%s'", SegmentValue, prev.Identifier)
	}
	if prev.Kind == KindResourceSet {
		return nil, odataerr.BadRequest("The segment '%s' addresses a collection; a key predicate is required before '%s'", prev.Identifier, raw)
	}

	identifier, predicate, hasPredicate, err := splitIdentifier(raw)
	if err != nil {
		return nil, err
	}
	rt := prev.ResourceType
	if rt == nil {
		return nil, odataerr.ResourceNotFound(identifier)
	}
	prop := rt.Property(identifier)
	if prop == nil {
		return nil, odataerr.ResourceNotFound(identifier)
	}
	if prev.Kind == KindLink && !prop.IsNavigation() {
		return nil, odataerr.BadRequest("The segment '%s' after '%s' must be a navigation property", identifier, SegmentLinks)
	}
	if hasPredicate && prop.Kind != metadata.PropertyResourceSetReference {
		return nil, odataerr.BadRequest("The segment '%s' cannot have a key predicate", identifier)
	}

	d := &Descriptor{Identifier: identifier, Source: SourceProperty, Property: prop}
	switch prop.Kind {
	case metadata.PropertyResourceReference, metadata.PropertyResourceSetReference:
		if prev.Kind == KindComplexObject {
			return nil, odataerr.BadRequest("Navigation property '%s' cannot be addressed through a complex property", identifier)
		}
		target, err := resolver.ResourceSetWrapperForNavigationProperty(prev.ResourceSetWrapper, rt, prop)
		if err != nil {
			return nil, odataerr.Wrap(err, "Cannot resolve navigation property '%s'", identifier)
		}
		d.ResourceSetWrapper = target
		d.ResourceType = target.ResourceType
		d.Kind = KindResource
		d.Single = true
		if prop.Kind == metadata.PropertyResourceSetReference {
			if hasPredicate {
				key, err := ParseKeyPredicate(predicate, target.ResourceType)
				if err != nil {
					return nil, err
				}
				d.Key = key
			} else {
				d.Kind = KindResourceSet
				d.Single = false
			}
		}
	case metadata.PropertyPrimitive:
		d.Kind = KindPrimitive
		d.Single = true
	case metadata.PropertyComplex:
		d.Kind = KindComplexObject
		d.Single = true
		d.ResourceType = prop.ResourceType
	case metadata.PropertyBag:
		d.Kind = KindBag
		d.ResourceType = prop.ResourceType
	}
	return d, nil
}
