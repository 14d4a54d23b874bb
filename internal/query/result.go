package query

// QueryType says what a resource-set read must produce.
type QueryType int

const (
	// QueryEntities asks for the entities only.
	QueryEntities QueryType = iota
	// QueryCount asks for the number of matching entities only ($count).
	QueryCount
	// QueryEntitiesWithCount asks for the entities plus the total count ($inlinecount=allpages).
	QueryEntitiesWithCount
)

func (q QueryType) String() string {
	switch q {
	case QueryEntities:
		return "ENTITIES"
	case QueryCount:
		return "COUNT"
	case QueryEntitiesWithCount:
		return "ENTITIES_WITH_COUNT"
	}
	return "UNKNOWN"
}

// NeedsCount reports whether the query requires a total count.
func (q QueryType) NeedsCount() bool {
	return q == QueryCount || q == QueryEntitiesWithCount
}

// NeedsEntities reports whether the query requires the entities themselves.
func (q QueryType) NeedsEntities() bool {
	return q == QueryEntities || q == QueryEntitiesWithCount
}

// QueryResult is what a provider returns for a resource-set read.
// Results is nil only when the provider did not produce entities; an empty
// result set is a non-nil empty slice.
type QueryResult struct {
	Results []any
	Count   *int64
}

// CountOf returns a pointer to n, for filling QueryResult.Count.
func CountOf(n int64) *int64 {
	return &n
}
