package providers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nlstn/go-odata-classic/internal/metadata"
	"github.com/nlstn/go-odata-classic/internal/observability"
	"github.com/nlstn/go-odata-classic/internal/odataerr"
	"github.com/nlstn/go-odata-classic/internal/query"
	"github.com/nlstn/go-odata-classic/internal/segment"
	"go.opentelemetry.io/otel/trace"
)

const (
	methodGetResourceSet        = "QueryProvider.GetResourceSet"
	methodGetRelatedResourceSet = "QueryProvider.GetRelatedResourceSet"
)

// Wrapper calls a QueryProvider on behalf of the request pipeline and turns
// violations of the provider contract into internal server errors.
type Wrapper struct {
	provider    QueryProvider
	registry    *metadata.Registry
	expressions *query.ExpressionProvider
	logger      *slog.Logger
	obs         *observability.Config
}

// NewWrapper wraps provider. The registry must name its entity container and namespace.
func NewWrapper(provider QueryProvider, registry *metadata.Registry) (*Wrapper, error) {
	if provider == nil {
		return nil, fmt.Errorf("query provider must not be nil")
	}
	if registry.ContainerName() == "" {
		return nil, odataerr.InternalServerError("The container name must not be null or empty")
	}
	if registry.Namespace() == "" {
		return nil, odataerr.InternalServerError("The container namespace must not be null or empty")
	}
	return &Wrapper{
		provider:    provider,
		registry:    registry,
		expressions: query.NewExpressionProvider(),
		logger:      slog.Default(),
	}, nil
}

// SetLogger sets the logger used for provider failures.
func (w *Wrapper) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	w.logger = logger
}

// SetObservability enables spans and metrics around provider calls.
func (w *Wrapper) SetObservability(cfg *observability.Config) {
	w.obs = cfg
}

// Provider returns the wrapped provider.
func (w *Wrapper) Provider() QueryProvider {
	return w.provider
}

// Registry returns the metadata registry.
func (w *Wrapper) Registry() *metadata.Registry {
	return w.registry
}

// ExpressionProvider returns the $filter compiler shared by the requests of this service.
func (w *Wrapper) ExpressionProvider() *query.ExpressionProvider {
	return w.expressions
}

func (w *Wrapper) ContainerName() string {
	return w.registry.ContainerName()
}

func (w *Wrapper) ContainerNamespace() string {
	return w.registry.Namespace()
}

// ResourceSet resolves a resource set by name.
func (w *Wrapper) ResourceSet(name string) (*metadata.ResourceSetWrapper, bool) {
	return w.registry.ResourceSet(name)
}

// ResourceSetWrapperForNavigationProperty resolves the set a navigation property leads to.
func (w *Wrapper) ResourceSetWrapperForNavigationProperty(set *metadata.ResourceSetWrapper, rt *metadata.ResourceType, prop *metadata.ResourceProperty) (*metadata.ResourceSetWrapper, error) {
	return w.registry.ResourceSetWrapperForNavigationProperty(set, rt, prop)
}

// HandlesOrderedPaging reports whether the provider orders and pages set queries itself.
func (w *Wrapper) HandlesOrderedPaging() bool {
	return w.provider.HandlesOrderedPaging()
}

func (w *Wrapper) call(ctx context.Context, operation, set string, fn func(context.Context) error) error {
	ctx, span := w.obs.Tracer().StartProviderCall(ctx, operation, set)
	defer span.End()
	timing := observability.StartServerTimingWithDesc(ctx, "provider", operation+" "+set)
	defer timing.Stop()

	err := fn(ctx)
	w.obs.Metrics().RecordProviderCall(ctx, operation, set, err)
	if err != nil {
		observability.RecordError(span, err)
		w.logger.Debug("Provider call failed", "operation", operation, "set", set, "error", err)
	}
	return err
}

func tagResultCount(ctx context.Context, result *query.QueryResult) {
	if result != nil {
		trace.SpanFromContext(ctx).SetAttributes(observability.ResultCountAttr(len(result.Results)))
	}
}

// GetResourceSet reads a resource set and validates the result against q.QueryType.
func (w *Wrapper) GetResourceSet(ctx context.Context, q ResourceSetQuery) (*query.QueryResult, error) {
	var result *query.QueryResult
	err := w.call(ctx, "GetResourceSet", q.Set.Name, func(ctx context.Context) error {
		var err error
		result, err = w.provider.GetResourceSet(ctx, q)
		tagResultCount(ctx, result)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := w.validateQueryResult(result, q.QueryType, methodGetResourceSet); err != nil {
		return nil, err
	}
	return result, nil
}

// GetRelatedResourceSet reads the entities behind a to-many navigation property.
func (w *Wrapper) GetRelatedResourceSet(ctx context.Context, q RelatedResourceSetQuery) (*query.QueryResult, error) {
	var result *query.QueryResult
	err := w.call(ctx, "GetRelatedResourceSet", q.TargetSet.Name, func(ctx context.Context) error {
		var err error
		result, err = w.provider.GetRelatedResourceSet(ctx, q)
		tagResultCount(ctx, result)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := w.validateQueryResult(result, q.QueryType, methodGetRelatedResourceSet); err != nil {
		return nil, err
	}
	return result, nil
}

// GetResourceFromResourceSet reads one entity by key; nil when it does not exist.
func (w *Wrapper) GetResourceFromResourceSet(ctx context.Context, set *metadata.ResourceSetWrapper, key *segment.KeyDescriptor, expansions []*query.ExpandedProjectionNode) (any, error) {
	var entity any
	err := w.call(ctx, "GetResourceFromResourceSet", set.Name, func(ctx context.Context) error {
		var err error
		entity, err = w.provider.GetResourceFromResourceSet(ctx, set, key, expansions)
		return err
	})
	if err != nil {
		return nil, err
	}
	return normalizeEntity(entity), nil
}

// GetResourceFromRelatedResourceSet reads one related entity by key.
func (w *Wrapper) GetResourceFromRelatedResourceSet(ctx context.Context, sourceSet *metadata.ResourceSetWrapper, sourceEntity any, targetSet *metadata.ResourceSetWrapper, prop *metadata.ResourceProperty, key *segment.KeyDescriptor) (any, error) {
	var entity any
	err := w.call(ctx, "GetResourceFromRelatedResourceSet", targetSet.Name, func(ctx context.Context) error {
		var err error
		entity, err = w.provider.GetResourceFromRelatedResourceSet(ctx, sourceSet, sourceEntity, targetSet, prop, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	return normalizeEntity(entity), nil
}

// GetRelatedResourceReference reads the entity behind a to-one navigation property.
func (w *Wrapper) GetRelatedResourceReference(ctx context.Context, sourceSet *metadata.ResourceSetWrapper, sourceEntity any, targetSet *metadata.ResourceSetWrapper, prop *metadata.ResourceProperty) (any, error) {
	var entity any
	err := w.call(ctx, "GetRelatedResourceReference", targetSet.Name, func(ctx context.Context) error {
		var err error
		entity, err = w.provider.GetRelatedResourceReference(ctx, sourceSet, sourceEntity, targetSet, prop)
		return err
	})
	if err != nil {
		return nil, err
	}
	return normalizeEntity(entity), nil
}

// CreateResource creates an entity from the request body.
func (w *Wrapper) CreateResource(ctx context.Context, set *metadata.ResourceSetWrapper, data map[string]any) (any, error) {
	var entity any
	err := w.call(ctx, "CreateResource", set.Name, func(ctx context.Context) error {
		var err error
		entity, err = w.provider.CreateResource(ctx, set, data)
		return err
	})
	if err != nil {
		return nil, err
	}
	if metadata.IsNull(entity) {
		return nil, odataerr.InternalServerError("The implementation of QueryProvider.CreateResource must return the created entity")
	}
	return entity, nil
}

// UpdateResource applies the request body to the entity with key.
func (w *Wrapper) UpdateResource(ctx context.Context, set *metadata.ResourceSetWrapper, key *segment.KeyDescriptor, data map[string]any) (any, error) {
	var entity any
	err := w.call(ctx, "UpdateResource", set.Name, func(ctx context.Context) error {
		var err error
		entity, err = w.provider.UpdateResource(ctx, set, key, data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return normalizeEntity(entity), nil
}

// DeleteResource deletes the entity with key.
func (w *Wrapper) DeleteResource(ctx context.Context, set *metadata.ResourceSetWrapper, key *segment.KeyDescriptor) error {
	return w.call(ctx, "DeleteResource", set.Name, func(ctx context.Context) error {
		return w.provider.DeleteResource(ctx, set, key)
	})
}

// validateQueryResult enforces the provider contract for a set read of type qt.
func (w *Wrapper) validateQueryResult(result *query.QueryResult, qt query.QueryType, method string) error {
	if result == nil {
		return odataerr.InternalServerError("The implementation of the method %s must return a QueryResult instance", method)
	}
	if qt.NeedsCount() {
		if w.provider.HandlesOrderedPaging() {
			if result.Count == nil {
				return odataerr.InternalServerError("The implementation of the method %s must return a QueryResult instance with a count for queries of type %s", method, qt)
			}
		} else if result.Results == nil {
			return odataerr.InternalServerError("The implementation of the method %s must return a QueryResult instance with results for queries of type %s", method, qt)
		}
	}
	if qt.NeedsEntities() && result.Results == nil {
		return odataerr.InternalServerError("The implementation of the method %s must return a QueryResult instance with results for queries of type %s", method, qt)
	}
	return nil
}

func normalizeEntity(entity any) any {
	if metadata.IsNull(entity) {
		return nil
	}
	return entity
}
