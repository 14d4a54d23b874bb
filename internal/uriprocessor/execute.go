package uriprocessor

import (
	"context"

	"github.com/nlstn/go-odata-classic/internal/metadata"
	"github.com/nlstn/go-odata-classic/internal/odataerr"
	"github.com/nlstn/go-odata-classic/internal/providers"
	"github.com/nlstn/go-odata-classic/internal/query"
	"github.com/nlstn/go-odata-classic/internal/request"
	"github.com/nlstn/go-odata-classic/internal/segment"
	"github.com/nlstn/go-odata-classic/internal/traversal"
)

// executeBase resolves every segment of d in order, then loads the expansions.
// When mutate is set it replaces the read of the terminal segment.
func (p *Processor) executeBase(ctx context.Context, d *request.Description, mutate mutation) error {
walk:
	for seg := d.FirstSegment(); seg != nil; seg = seg.Next() {
		terminal := seg.Next() == nil || seg.IsNextCount()
		if terminal && mutate != nil {
			result, err := mutate(ctx, d, seg)
			if err != nil {
				return err
			}
			seg.SetResult(result)
			break
		}

		switch {
		case seg.Kind == segment.KindServiceDirectory:
			return nil
		case seg.Kind == segment.KindCount:
			result, err := countResult(d)
			if err != nil {
				return err
			}
			seg.SetResult(result)
			break walk
		case seg.Kind == segment.KindLink:
			seg.SetResult(seg.Prev().Result())
		case seg.Kind == segment.KindMediaResource:
			prev := seg.Prev()
			if prev.Result().IsNull() {
				return odataerr.ResourceNotFound(prev.Identifier)
			}
			seg.SetResult(prev.Result())
			break walk
		case seg.Source == segment.SourceEntitySet:
			if err := p.resolveEntitySet(ctx, d, seg); err != nil {
				return err
			}
		case seg.Kind == segment.KindResource || seg.Kind == segment.KindResourceSet:
			if err := p.resolveRelated(ctx, d, seg); err != nil {
				return err
			}
		default:
			if err := resolveProperties(seg); err != nil {
				return err
			}
			break walk
		}

		if terminal {
			if err := p.applyQueryOptions(d, seg); err != nil {
				return err
			}
		}
	}
	return p.handleExpansion(ctx, d)
}

func (p *Processor) resolveEntitySet(ctx context.Context, d *request.Description, seg *segment.Descriptor) error {
	expansions := expandedNodes(d)
	if seg.Single {
		entity, err := p.provider.GetResourceFromResourceSet(ctx, seg.ResourceSetWrapper, seg.Key, expansions)
		if err != nil {
			return err
		}
		seg.SetResult(segment.EntityResult(entity))
		return nil
	}
	qr, err := p.provider.GetResourceSet(ctx, providers.ResourceSetQuery{
		QueryType:  d.QueryType,
		Set:        seg.ResourceSetWrapper,
		Filter:     d.FilterInfo(),
		OrderBy:    d.InternalOrderByInfo(),
		Top:        d.TopCount(),
		Skip:       d.SkipCount(),
		SkipToken:  d.InternalSkipTokenInfo(),
		Expansions: expansions,
	})
	if err != nil {
		return err
	}
	seg.SetResult(segment.QueryResultOf(qr))
	return nil
}

func (p *Processor) resolveRelated(ctx context.Context, d *request.Description, seg *segment.Descriptor) error {
	prev := seg.Prev()
	if prev.Result().IsNull() {
		return odataerr.ResourceNotFound(prev.Identifier)
	}
	if prev.Result().Kind() != segment.ResultEntity {
		return odataerr.Unexpected("a single entity before navigation property " + seg.Identifier)
	}
	source := prev.Result().Entity()

	switch seg.Property.Kind {
	case metadata.PropertyResourceSetReference:
		if seg.Single {
			entity, err := p.provider.GetResourceFromRelatedResourceSet(ctx, prev.ResourceSetWrapper, source, seg.ResourceSetWrapper, seg.Property, seg.Key)
			if err != nil {
				return err
			}
			seg.SetResult(segment.EntityResult(entity))
			return nil
		}
		qr, err := p.provider.GetRelatedResourceSet(ctx, providers.RelatedResourceSetQuery{
			QueryType:    d.QueryType,
			SourceSet:    prev.ResourceSetWrapper,
			SourceEntity: source,
			TargetSet:    seg.ResourceSetWrapper,
			Property:     seg.Property,
			Filter:       d.FilterInfo(),
			OrderBy:      d.InternalOrderByInfo(),
			Top:          d.TopCount(),
			Skip:         d.SkipCount(),
			SkipToken:    d.InternalSkipTokenInfo(),
		})
		if err != nil {
			return err
		}
		seg.SetResult(segment.QueryResultOf(qr))
	case metadata.PropertyResourceReference:
		entity, err := p.provider.GetRelatedResourceReference(ctx, prev.ResourceSetWrapper, source, seg.ResourceSetWrapper, seg.Property)
		if err != nil {
			return err
		}
		seg.SetResult(segment.EntityResult(entity))
	default:
		return odataerr.Unexpected("a navigation property for segment " + seg.Identifier)
	}
	return nil
}

// resolveProperties reads seg and every segment after it as a property chain.
// A null value makes every following segment null; an entity that was not found
// before the chain still fails with not found.
func resolveProperties(seg *segment.Descriptor) error {
	prev := seg.Prev()
	if prev.Result().IsNull() && prev.Kind == segment.KindResource {
		return odataerr.ResourceNotFound(prev.Identifier)
	}
	value := prev.Result().Any()
	for cur := seg; cur != nil; cur = cur.Next() {
		if cur.Kind == segment.KindPrimitiveValue {
			cur.SetResult(segment.ValueResult(value))
			continue
		}
		if !metadata.IsNull(value) {
			v, err := metadata.GetValue(value, cur.Property.Name)
			if err != nil {
				return odataerr.Wrap(err, "Cannot read property '%s'", cur.Identifier)
			}
			value = v
		} else {
			value = nil
		}
		cur.SetResult(segment.ValueResult(value))
	}
	return nil
}

// applyQueryOptions turns the provider envelope on seg into the final collection,
// counting and paging it when the provider left that to the library.
func (p *Processor) applyQueryOptions(d *request.Description, seg *segment.Descriptor) error {
	if seg.Result().Kind() != segment.ResultQuery {
		return nil
	}
	qr := seg.Result().Query()
	pages := p.provider.HandlesOrderedPaging()

	if d.QueryType.NeedsCount() {
		n, err := countOf(qr, pages)
		if err != nil {
			return err
		}
		d.SetCountValue(n)
	}

	results := qr.Results
	if !pages && len(results) > 0 {
		paged, err := performPaging(d, results)
		if err != nil {
			return err
		}
		results = paged
	}

	// $top and $skip bound $count, so it is taken again after paging.
	if d.QueryType == query.QueryCount {
		if pages {
			n, err := countOf(qr, true)
			if err != nil {
				return err
			}
			d.SetCountValue(n)
		} else {
			d.SetCountValue(int64(len(results)))
		}
	}

	seg.SetResult(segment.EntitiesResult(results))
	return nil
}

// countResult is the value of a $count segment. The count is taken while the
// query options of the preceding collection are applied.
func countResult(d *request.Description) (segment.Result, error) {
	n, ok := d.CountValue()
	if !ok {
		return segment.Result{}, odataerr.Unexpected("a count computed for the $count segment")
	}
	return segment.CountResult(n), nil
}

func countOf(qr *query.QueryResult, pages bool) (int64, error) {
	if !pages {
		return int64(len(qr.Results)), nil
	}
	if qr.Count == nil {
		return 0, odataerr.Unexpected("a count in the provider query result")
	}
	return *qr.Count, nil
}

// performPaging orders results, moves past the skip token and applies $skip and $top.
func performPaging(d *request.Description, results []any) ([]any, error) {
	sorted := append([]any(nil), results...)
	if orderBy := d.InternalOrderByInfo(); orderBy != nil {
		if err := orderBy.Sort(sorted); err != nil {
			return nil, err
		}
	}
	if token := d.InternalSkipTokenInfo(); token != nil {
		i, err := token.IndexOfFirstEntryInNextPage(sorted)
		if err != nil {
			return nil, err
		}
		sorted = sorted[i:]
	}

	skip := 0
	if s := d.SkipCount(); s != nil {
		skip = *s
	}
	if skip >= len(sorted) {
		return []any{}, nil
	}
	end := len(sorted)
	if top := d.TopCount(); top != nil && skip+*top < end {
		end = skip + *top
	}
	return sorted[skip:end], nil
}

func expandedNodes(d *request.Description) []*query.ExpandedProjectionNode {
	root := d.RootProjectionNode()
	if root == nil || !root.IsExpansionSpecified() {
		return nil
	}
	var nodes []*query.ExpandedProjectionNode
	for _, child := range root.ChildNodes() {
		if expanded, ok := child.(*query.ExpandedProjectionNode); ok {
			nodes = append(nodes, expanded)
		}
	}
	return nodes
}

func entitiesOf(r segment.Result) []any {
	switch r.Kind() {
	case segment.ResultEntity:
		return []any{r.Entity()}
	case segment.ResultEntities:
		return r.Entities()
	}
	return nil
}

// handleExpansion loads the navigation properties named in $expand onto the
// entities of the request target.
func (p *Processor) handleExpansion(ctx context.Context, d *request.Description) error {
	root := d.RootProjectionNode()
	if root == nil || !root.IsExpansionSpecified() {
		return nil
	}
	entities := entitiesOf(d.TargetResult())
	if len(entities) == 0 {
		return nil
	}
	stack := traversal.New(root, d.TargetResourceSetWrapper(), d.ContainerName())
	pushed := stack.PushRoot()
	err := p.executeExpansion(ctx, stack, entities)
	if popErr := stack.Pop(pushed); popErr != nil {
		return popErr
	}
	return err
}

// executeExpansion loads every expansion of the current projection node onto
// entities and recurses into the related entities it found. Related entities are
// read without filter, ordering or paging.
func (p *Processor) executeExpansion(ctx context.Context, stack *traversal.Stack, entities []any) error {
	nodes, err := stack.ExpandedProjectionNodes()
	if err != nil {
		return err
	}
	current := stack.CurrentResourceSetWrapper()
	for _, node := range nodes {
		prop := node.ResourceProperty()
		for _, entity := range entities {
			if metadata.IsNull(entity) {
				continue
			}
			var related []any
			var value any
			if prop.Kind == metadata.PropertyResourceSetReference {
				qr, err := p.provider.GetRelatedResourceSet(ctx, providers.RelatedResourceSetQuery{
					QueryType:    query.QueryEntities,
					SourceSet:    current,
					SourceEntity: entity,
					TargetSet:    node.ResourceSetWrapper(),
					Property:     prop,
				})
				if err != nil {
					return err
				}
				related = qr.Results
				if related == nil {
					related = []any{}
				}
				value = related
			} else {
				ref, err := p.provider.GetRelatedResourceReference(ctx, current, entity, node.ResourceSetWrapper(), prop)
				if err != nil {
					return err
				}
				if ref != nil {
					related = []any{ref}
				}
				value = ref
			}

			// Nested expansions are loaded before the assignment so that they
			// are carried along when the value is converted to the field type.
			if len(related) > 0 {
				err := stack.Descend(prop, p.provider, func() error {
					return p.executeExpansion(ctx, stack, related)
				})
				if err != nil {
					return err
				}
			}
			if err := metadata.SetValue(entity, prop.Name, value); err != nil {
				return odataerr.Wrap(err, "Cannot assign expanded property '%s'", prop.Name)
			}
		}
	}
	return nil
}
