package metadata

import (
	"fmt"
	"reflect"
)

// Registry holds the resource types and resource sets exposed by a service.
type Registry struct {
	namespace     string
	containerName string

	types     map[string]*ResourceType
	typesByGo map[reflect.Type]*ResourceType
	sets      []*ResourceSetWrapper
	setByName map[string]*ResourceSetWrapper
	// navigation targets keyed by "<set>/<property>"
	navTargets map[string]*ResourceSetWrapper
}

// NewRegistry creates an empty registry.
func NewRegistry(namespace, containerName string) *Registry {
	return &Registry{
		namespace:     namespace,
		containerName: containerName,
		types:         make(map[string]*ResourceType),
		typesByGo:     make(map[reflect.Type]*ResourceType),
		setByName:     make(map[string]*ResourceSetWrapper),
		navTargets:    make(map[string]*ResourceSetWrapper),
	}
}

// Namespace returns the schema namespace.
func (r *Registry) Namespace() string {
	return r.namespace
}

// ContainerName returns the entity container name.
func (r *Registry) ContainerName() string {
	return r.containerName
}

// RegisterEntity analyzes a Go struct and exposes it as an entity set named after
// its EntitySetName method or the pluralized type name.
func (r *Registry) RegisterEntity(entity any) (*ResourceSetWrapper, error) {
	return r.RegisterEntitySet("", entity)
}

// RegisterEntitySet is RegisterEntity with an explicit set name.
func (r *Registry) RegisterEntitySet(setName string, entity any) (*ResourceSetWrapper, error) {
	rt, err := AnalyzeEntity(entity, r.namespace)
	if err != nil {
		return nil, err
	}
	if existing, ok := r.typesByGo[rt.GoType]; ok {
		rt = existing
	} else {
		if err := r.RegisterType(rt); err != nil {
			return nil, err
		}
	}
	if setName == "" {
		setName = getEntitySetName(rt.GoType)
	}
	return r.AddResourceSet(setName, rt)
}

// RegisterType adds a resource type built by hand or by the analyzer.
func (r *Registry) RegisterType(rt *ResourceType) error {
	if _, exists := r.types[rt.Name]; exists {
		return fmt.Errorf("resource type '%s' is already registered", rt.Name)
	}
	r.types[rt.Name] = rt
	if rt.GoType != nil {
		r.typesByGo[rt.GoType] = rt
	}
	r.resolveTargets()
	return nil
}

// AddResourceSet exposes rt under setName.
func (r *Registry) AddResourceSet(setName string, rt *ResourceType) (*ResourceSetWrapper, error) {
	if _, exists := r.setByName[setName]; exists {
		return nil, fmt.Errorf("entity set '%s' is already registered", setName)
	}
	if rt.Kind != KindEntity {
		return nil, fmt.Errorf("resource type '%s' is not an entity type", rt.Name)
	}
	w := NewResourceSetWrapper(&ResourceSet{Name: setName, ResourceType: rt}, 0)
	r.sets = append(r.sets, w)
	r.setByName[setName] = w
	return w, nil
}

// resolveTargets links navigation properties to the registered types they point at.
func (r *Registry) resolveTargets() {
	for _, rt := range r.types {
		for _, p := range rt.properties {
			if p.IsNavigation() && p.ResourceType == nil && p.targetGoType != nil {
				p.ResourceType = r.typesByGo[p.targetGoType]
			}
		}
	}
}

// ResourceSet looks up a set by name.
func (r *Registry) ResourceSet(name string) (*ResourceSetWrapper, bool) {
	w, ok := r.setByName[name]
	return w, ok
}

// ResourceSets returns every set in registration order.
func (r *Registry) ResourceSets() []*ResourceSetWrapper {
	return r.sets
}

// ResourceType looks up a type by its unqualified name.
func (r *Registry) ResourceType(name string) (*ResourceType, bool) {
	rt, ok := r.types[name]
	return rt, ok
}

// SetPageSize configures server-driven paging for a set. 0 disables it.
func (r *Registry) SetPageSize(setName string, pageSize int) error {
	w, ok := r.setByName[setName]
	if !ok {
		return fmt.Errorf("entity set '%s' is not registered", setName)
	}
	if pageSize < 0 {
		return fmt.Errorf("page size must not be negative, got %d", pageSize)
	}
	w.pageSize = pageSize
	return nil
}

// SetNavigationTarget binds a navigation property of a set to an explicit target set,
// for types exposed by more than one set.
func (r *Registry) SetNavigationTarget(setName, propertyName, targetSetName string) error {
	source, ok := r.setByName[setName]
	if !ok {
		return fmt.Errorf("entity set '%s' is not registered", setName)
	}
	target, ok := r.setByName[targetSetName]
	if !ok {
		return fmt.Errorf("entity set '%s' is not registered", targetSetName)
	}
	prop := source.ResourceType.Property(propertyName)
	if prop == nil || !prop.IsNavigation() {
		return fmt.Errorf("'%s' is not a navigation property of '%s'", propertyName, setName)
	}
	if prop.ResourceType != nil && prop.ResourceType != target.ResourceType {
		return fmt.Errorf("entity set '%s' does not hold '%s' entities", targetSetName, prop.ResourceType.Name)
	}
	r.navTargets[setName+"/"+propertyName] = target
	return nil
}

// ResourceSetWrapperForNavigationProperty returns the set holding the entities a
// navigation property of set points at.
func (r *Registry) ResourceSetWrapperForNavigationProperty(set *ResourceSetWrapper, rt *ResourceType, prop *ResourceProperty) (*ResourceSetWrapper, error) {
	if !prop.IsNavigation() {
		return nil, fmt.Errorf("'%s' of '%s' is not a navigation property", prop.Name, rt.Name)
	}
	if target, ok := r.navTargets[set.Name+"/"+prop.Name]; ok {
		return target, nil
	}
	if prop.ResourceType == nil {
		return nil, fmt.Errorf("navigation property '%s' of '%s' targets an unregistered type", prop.Name, rt.Name)
	}
	var found *ResourceSetWrapper
	for _, w := range r.sets {
		if w.ResourceType == prop.ResourceType {
			if found != nil {
				return nil, fmt.Errorf("navigation property '%s' of '%s' is ambiguous; bind it with SetNavigationTarget", prop.Name, rt.Name)
			}
			found = w
		}
	}
	if found == nil {
		return nil, fmt.Errorf("no entity set holds '%s' entities", prop.ResourceType.Name)
	}
	return found, nil
}
