package metadata

import (
	"reflect"
)

// ResourceTypeKind distinguishes entity types from complex types.
type ResourceTypeKind int

const (
	KindEntity ResourceTypeKind = iota
	KindComplex
)

// PropertyKind classifies a resource property.
type PropertyKind int

const (
	PropertyPrimitive PropertyKind = iota
	PropertyComplex
	PropertyBag
	// PropertyResourceReference is a to-one navigation property.
	PropertyResourceReference
	// PropertyResourceSetReference is a to-many navigation property.
	PropertyResourceSetReference
)

func (k PropertyKind) String() string {
	switch k {
	case PropertyPrimitive:
		return "Primitive"
	case PropertyComplex:
		return "ComplexType"
	case PropertyBag:
		return "Bag"
	case PropertyResourceReference:
		return "ResourceReference"
	case PropertyResourceSetReference:
		return "ResourceSetReference"
	}
	return "Unknown"
}

// ResourceProperty describes one property of a resource type.
type ResourceProperty struct {
	Name string
	Kind PropertyKind
	// Type is the primitive type for primitive properties and the element type of primitive bags.
	Type Type
	// ResourceType is the complex type, or the target entity type of a navigation property.
	ResourceType *ResourceType
	IsKey        bool
	IsETag       bool
	// FieldName is the Go struct field backing the property; empty for map-backed types.
	FieldName string

	targetGoType reflect.Type
}

// IsNavigation reports whether the property references other entities.
func (p *ResourceProperty) IsNavigation() bool {
	return p.Kind == PropertyResourceReference || p.Kind == PropertyResourceSetReference
}

// IsPrimitive reports whether the property holds a single primitive value.
func (p *ResourceProperty) IsPrimitive() bool {
	return p.Kind == PropertyPrimitive
}

// ResourceType is an entity or complex type.
type ResourceType struct {
	Name      string
	Namespace string
	Kind      ResourceTypeKind
	// MediaLinkEntry marks entity types that carry a media resource.
	MediaLinkEntry bool
	// GoType is the struct type instances are created from; nil means map[string]any.
	GoType reflect.Type

	properties []*ResourceProperty
	byName     map[string]*ResourceProperty
}

// NewResourceType creates an empty resource type.
func NewResourceType(name, namespace string, kind ResourceTypeKind) *ResourceType {
	return &ResourceType{
		Name:      name,
		Namespace: namespace,
		Kind:      kind,
		byName:    make(map[string]*ResourceProperty),
	}
}

// AddProperty appends a property; names are unique within a type.
func (rt *ResourceType) AddProperty(p *ResourceProperty) {
	if _, exists := rt.byName[p.Name]; exists {
		return
	}
	rt.properties = append(rt.properties, p)
	rt.byName[p.Name] = p
}

// FullName returns the namespace-qualified type name.
func (rt *ResourceType) FullName() string {
	if rt.Namespace == "" {
		return rt.Name
	}
	return rt.Namespace + "." + rt.Name
}

// Properties returns all properties in declaration order.
func (rt *ResourceType) Properties() []*ResourceProperty {
	return rt.properties
}

// Property looks up a property by name.
func (rt *ResourceType) Property(name string) *ResourceProperty {
	return rt.byName[name]
}

// KeyProperties returns the key properties in declaration order.
func (rt *ResourceType) KeyProperties() []*ResourceProperty {
	var keys []*ResourceProperty
	for _, p := range rt.properties {
		if p.IsKey {
			keys = append(keys, p)
		}
	}
	return keys
}

// ETagProperties returns the concurrency token properties in declaration order.
func (rt *ResourceType) ETagProperties() []*ResourceProperty {
	var etags []*ResourceProperty
	for _, p := range rt.properties {
		if p.IsETag {
			etags = append(etags, p)
		}
	}
	return etags
}

// NewInstance creates an empty instance: a pointer to GoType, or a map.
func (rt *ResourceType) NewInstance() any {
	if rt.GoType == nil {
		return map[string]any{}
	}
	return reflect.New(rt.GoType).Interface()
}

// ResourceSet is a named entity set of one entity type.
type ResourceSet struct {
	Name         string
	ResourceType *ResourceType
}

// ResourceSetWrapper is a resource set plus the service configuration applied to it.
type ResourceSetWrapper struct {
	*ResourceSet
	pageSize int
}

// NewResourceSetWrapper wraps set with the given page size (0 disables server paging).
func NewResourceSetWrapper(set *ResourceSet, pageSize int) *ResourceSetWrapper {
	return &ResourceSetWrapper{ResourceSet: set, pageSize: pageSize}
}

// PageSize returns the server page size, 0 when the set is not paged.
func (w *ResourceSetWrapper) PageSize() int {
	return w.pageSize
}

// IsPaged reports whether server-driven paging applies to the set.
func (w *ResourceSetWrapper) IsPaged() bool {
	return w.pageSize > 0
}
