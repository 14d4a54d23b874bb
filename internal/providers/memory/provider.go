// Package memory is a QueryProvider over entities held in process memory.
// It leaves ordering and paging to the caller.
package memory

import (
	"context"
	"log/slog"
	"reflect"
	"sync"

	"github.com/nlstn/go-odata-classic/internal/metadata"
	"github.com/nlstn/go-odata-classic/internal/odataerr"
	"github.com/nlstn/go-odata-classic/internal/providers"
	"github.com/nlstn/go-odata-classic/internal/query"
	"github.com/nlstn/go-odata-classic/internal/segment"
)

// Provider stores the entities of each resource set in insertion order.
// Reads return shallow copies, so callers may assign navigation properties freely.
type Provider struct {
	mu       sync.RWMutex
	registry *metadata.Registry
	sets     map[string][]any
	logger   *slog.Logger
}

var _ providers.QueryProvider = (*Provider)(nil)

// New creates an empty provider for the sets of registry.
func New(registry *metadata.Registry) *Provider {
	return &Provider{
		registry: registry,
		sets:     make(map[string][]any),
		logger:   slog.Default(),
	}
}

// SetLogger sets the logger for write operations.
func (p *Provider) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	p.logger = logger
}

// Add appends entities to a resource set. Struct entities must be pointers.
func (p *Provider) Add(setName string, entities ...any) error {
	if _, ok := p.registry.ResourceSet(setName); !ok {
		return odataerr.ResourceNotFound(setName)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sets[setName] = append(p.sets[setName], entities...)
	return nil
}

// HandlesOrderedPaging is false: the request pipeline sorts and pages the results.
func (p *Provider) HandlesOrderedPaging() bool {
	return false
}

func (p *Provider) GetResourceSet(_ context.Context, q providers.ResourceSetQuery) (*query.QueryResult, error) {
	p.mu.RLock()
	entities := p.sets[q.Set.Name]
	p.mu.RUnlock()
	return filterResult(entities, q.Filter)
}

func (p *Provider) GetResourceFromResourceSet(_ context.Context, set *metadata.ResourceSetWrapper, key *segment.KeyDescriptor, _ []*query.ExpandedProjectionNode) (any, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, entity, err := find(p.sets[set.Name], key)
	if err != nil || entity == nil {
		return nil, err
	}
	return clone(entity), nil
}

func (p *Provider) GetRelatedResourceSet(_ context.Context, q providers.RelatedResourceSetQuery) (*query.QueryResult, error) {
	related, err := relatedEntities(q.SourceEntity, q.Property)
	if err != nil {
		return nil, err
	}
	return filterResult(related, q.Filter)
}

func (p *Provider) GetResourceFromRelatedResourceSet(_ context.Context, _ *metadata.ResourceSetWrapper, sourceEntity any, _ *metadata.ResourceSetWrapper, prop *metadata.ResourceProperty, key *segment.KeyDescriptor) (any, error) {
	related, err := relatedEntities(sourceEntity, prop)
	if err != nil {
		return nil, err
	}
	_, entity, err := find(related, key)
	if err != nil || entity == nil {
		return nil, err
	}
	return clone(entity), nil
}

func (p *Provider) GetRelatedResourceReference(_ context.Context, _ *metadata.ResourceSetWrapper, sourceEntity any, _ *metadata.ResourceSetWrapper, prop *metadata.ResourceProperty) (any, error) {
	v, err := metadata.GetValue(sourceEntity, prop.Name)
	if err != nil {
		return nil, odataerr.Wrap(err, "reading navigation property '%s'", prop.Name)
	}
	if metadata.IsNull(v) {
		return nil, nil
	}
	return clone(addressable(reflect.ValueOf(v))), nil
}

func (p *Provider) CreateResource(_ context.Context, set *metadata.ResourceSetWrapper, data map[string]any) (any, error) {
	rt := set.ResourceType
	instance := rt.NewInstance()
	if err := providers.ApplyData(rt, instance, data, false); err != nil {
		return nil, err
	}
	key, err := keyOf(rt, instance)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, existing, err := find(p.sets[set.Name], key); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, odataerr.New(409, "An entity with key %s already exists in '%s'", key, set.Name)
	}
	p.sets[set.Name] = append(p.sets[set.Name], instance)
	p.logger.Debug("Created entity", "set", set.Name, "key", key.String())
	return clone(instance), nil
}

func (p *Provider) UpdateResource(_ context.Context, set *metadata.ResourceSetWrapper, key *segment.KeyDescriptor, data map[string]any) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, entity, err := find(p.sets[set.Name], key)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, odataerr.ResourceNotFound(set.Name + key.String())
	}
	if err := providers.ApplyData(set.ResourceType, entity, data, true); err != nil {
		return nil, err
	}
	p.logger.Debug("Updated entity", "set", set.Name, "key", key.String())
	return clone(entity), nil
}

func (p *Provider) DeleteResource(_ context.Context, set *metadata.ResourceSetWrapper, key *segment.KeyDescriptor) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	entities := p.sets[set.Name]
	i, entity, err := find(entities, key)
	if err != nil {
		return err
	}
	if entity == nil {
		return odataerr.ResourceNotFound(set.Name + key.String())
	}
	p.sets[set.Name] = append(entities[:i:i], entities[i+1:]...)
	p.logger.Debug("Deleted entity", "set", set.Name, "key", key.String())
	return nil
}

func filterResult(entities []any, filter *query.FilterInfo) (*query.QueryResult, error) {
	results := make([]any, 0, len(entities))
	for _, entity := range entities {
		if filter != nil {
			ok, err := filter.Evaluate(entity)
			if err != nil {
				return nil, odataerr.Wrap(err, "evaluating $filter")
			}
			if !ok {
				continue
			}
		}
		results = append(results, clone(entity))
	}
	return &query.QueryResult{Results: results, Count: query.CountOf(int64(len(results)))}, nil
}

func find(entities []any, key *segment.KeyDescriptor) (int, any, error) {
	for i, entity := range entities {
		ok, err := key.Matches(entity)
		if err != nil {
			return -1, nil, odataerr.Wrap(err, "matching key %s", key)
		}
		if ok {
			return i, entity, nil
		}
	}
	return -1, nil, nil
}

// relatedEntities reads a to-many navigation property as pointers into the backing slice.
func relatedEntities(source any, prop *metadata.ResourceProperty) ([]any, error) {
	v, err := metadata.GetValue(source, prop.Name)
	if err != nil {
		return nil, odataerr.Wrap(err, "reading navigation property '%s'", prop.Name)
	}
	if metadata.IsNull(v) {
		return []any{}, nil
	}
	if items, ok := v.([]any); ok {
		return items, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil, odataerr.InternalServerError("navigation property '%s' holds %T, not a collection", prop.Name, v)
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = addressable(rv.Index(i))
	}
	return out, nil
}

// addressable returns a pointer for struct values so the accessors can assign to them.
func addressable(v reflect.Value) any {
	if v.Kind() == reflect.Struct {
		if v.CanAddr() {
			return v.Addr().Interface()
		}
		ptr := reflect.New(v.Type())
		ptr.Elem().Set(v)
		return ptr.Interface()
	}
	return v.Interface()
}

func clone(entity any) any {
	switch e := entity.(type) {
	case map[string]any:
		out := make(map[string]any, len(e))
		for k, v := range e {
			out[k] = v
		}
		return out
	}
	rv := reflect.ValueOf(entity)
	if rv.Kind() == reflect.Ptr && !rv.IsNil() && rv.Elem().Kind() == reflect.Struct {
		out := reflect.New(rv.Elem().Type())
		out.Elem().Set(rv.Elem())
		return out.Interface()
	}
	return entity
}

func keyOf(rt *metadata.ResourceType, entity any) (*segment.KeyDescriptor, error) {
	keys := rt.KeyProperties()
	values := make([]segment.KeyValue, len(keys))
	for i, p := range keys {
		v, err := metadata.GetValue(entity, p.Name)
		if err != nil || metadata.IsNull(v) {
			return nil, odataerr.BadRequest("The key property '%s' must be provided", p.Name)
		}
		literal, err := metadata.ToURILiteral(p.Type, v)
		if err != nil {
			return nil, odataerr.BadRequest("Invalid value for key property '%s': %v", p.Name, err)
		}
		values[i] = segment.KeyValue{Property: p, Literal: literal, Value: v}
	}
	return segment.NewKeyDescriptor(values...), nil
}
