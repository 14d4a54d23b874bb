package segment

import (
	"github.com/nlstn/go-odata-classic/internal/metadata"
	"github.com/nlstn/go-odata-classic/internal/query"
)

// ResultKind tags the variant held by a Result.
type ResultKind int

const (
	ResultNone ResultKind = iota
	ResultEntity
	ResultEntities
	ResultQuery
	ResultValue
	ResultCount
)

// Result is the value a segment resolved to.
type Result struct {
	kind     ResultKind
	entity   any
	entities []any
	query    *query.QueryResult
	value    any
	count    int64
}

// NoResult is the empty result.
func NoResult() Result {
	return Result{}
}

// EntityResult holds one entity; a nil entity yields NoResult.
func EntityResult(entity any) Result {
	if metadata.IsNull(entity) {
		return Result{}
	}
	return Result{kind: ResultEntity, entity: entity}
}

// EntitiesResult holds a collection of entities after query options were applied.
func EntitiesResult(entities []any) Result {
	if entities == nil {
		entities = []any{}
	}
	return Result{kind: ResultEntities, entities: entities}
}

// QueryResultOf holds a provider query result before query options were applied.
func QueryResultOf(qr *query.QueryResult) Result {
	if qr == nil {
		return Result{}
	}
	return Result{kind: ResultQuery, query: qr}
}

// ValueResult holds a primitive, complex or bag value. Nil values are kept.
func ValueResult(value any) Result {
	return Result{kind: ResultValue, value: value}
}

// CountResult holds the value of a $count segment.
func CountResult(n int64) Result {
	return Result{kind: ResultCount, count: n}
}

// Kind returns the held variant.
func (r Result) Kind() ResultKind {
	return r.kind
}

// IsNull reports whether nothing was resolved.
func (r Result) IsNull() bool {
	return r.kind == ResultNone
}

func (r Result) Entity() any {
	return r.entity
}

func (r Result) Entities() []any {
	return r.entities
}

func (r Result) Query() *query.QueryResult {
	return r.query
}

func (r Result) Value() any {
	return r.value
}

func (r Result) Count() int64 {
	return r.count
}

// Any returns the held value untyped: the entity, collection, query result, value or count.
func (r Result) Any() any {
	switch r.kind {
	case ResultEntity:
		return r.entity
	case ResultEntities:
		return r.entities
	case ResultQuery:
		return r.query
	case ResultValue:
		return r.value
	case ResultCount:
		return r.count
	}
	return nil
}
