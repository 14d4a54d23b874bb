// Package providers defines the data provider contract and the wrapper the request
// pipeline calls it through.
package providers

import (
	"context"

	"github.com/nlstn/go-odata-classic/internal/metadata"
	"github.com/nlstn/go-odata-classic/internal/query"
	"github.com/nlstn/go-odata-classic/internal/segment"
)

// ResourceSetQuery is a read of a top-level resource set.
type ResourceSetQuery struct {
	QueryType query.QueryType
	Set       *metadata.ResourceSetWrapper
	Filter    *query.FilterInfo
	OrderBy   *query.OrderByInfo
	Top       *int
	Skip      *int
	SkipToken *query.SkipTokenInfo
	// Expansions are the navigation properties that will be expanded below the
	// returned entities, for providers that want to preload them.
	Expansions []*query.ExpandedProjectionNode
}

// RelatedResourceSetQuery is a read of the entities reached through a to-many
// navigation property of one entity.
type RelatedResourceSetQuery struct {
	QueryType    query.QueryType
	SourceSet    *metadata.ResourceSetWrapper
	SourceEntity any
	TargetSet    *metadata.ResourceSetWrapper
	Property     *metadata.ResourceProperty
	Filter       *query.FilterInfo
	OrderBy      *query.OrderByInfo
	Top          *int
	Skip         *int
	SkipToken    *query.SkipTokenInfo
}

// QueryProvider is implemented by data sources exposed through the service.
//
// Providers that report HandlesOrderedPaging apply filter, ordering, skip token,
// $skip and $top themselves and return the total count of a set query in
// QueryResult.Count. Otherwise they return every matching entity and the request
// pipeline orders, pages and counts them.
type QueryProvider interface {
	HandlesOrderedPaging() bool

	GetResourceSet(ctx context.Context, q ResourceSetQuery) (*query.QueryResult, error)
	// GetResourceFromResourceSet returns nil, nil when no entity has the key.
	GetResourceFromResourceSet(ctx context.Context, set *metadata.ResourceSetWrapper, key *segment.KeyDescriptor, expansions []*query.ExpandedProjectionNode) (any, error)
	GetRelatedResourceSet(ctx context.Context, q RelatedResourceSetQuery) (*query.QueryResult, error)
	GetResourceFromRelatedResourceSet(ctx context.Context, sourceSet *metadata.ResourceSetWrapper, sourceEntity any, targetSet *metadata.ResourceSetWrapper, prop *metadata.ResourceProperty, key *segment.KeyDescriptor) (any, error)
	GetRelatedResourceReference(ctx context.Context, sourceSet *metadata.ResourceSetWrapper, sourceEntity any, targetSet *metadata.ResourceSetWrapper, prop *metadata.ResourceProperty) (any, error)

	CreateResource(ctx context.Context, set *metadata.ResourceSetWrapper, data map[string]any) (any, error)
	UpdateResource(ctx context.Context, set *metadata.ResourceSetWrapper, key *segment.KeyDescriptor, data map[string]any) (any, error)
	DeleteResource(ctx context.Context, set *metadata.ResourceSetWrapper, key *segment.KeyDescriptor) error
}
