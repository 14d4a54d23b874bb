package query

import (
	"strings"
	"sync"

	"github.com/nlstn/go-odata-classic/internal/metadata"
	"github.com/nlstn/go-odata-classic/internal/odataerr"
)

// Operator is a comparison operator supported in $filter.
type Operator string

const (
	OpEqual          Operator = "eq"
	OpNotEqual       Operator = "ne"
	OpGreaterThan    Operator = "gt"
	OpGreaterOrEqual Operator = "ge"
	OpLessThan       Operator = "lt"
	OpLessOrEqual    Operator = "le"
)

// Comparison is one "path op literal" term of a filter.
type Comparison struct {
	Properties []*metadata.ResourceProperty
	Operator   Operator
	// Value is the parsed literal; nil for null.
	Value any
}

// Path returns the slash-separated property path.
func (c Comparison) Path() string {
	return OrderByPathSegment{Properties: c.Properties}.Path()
}

// Leaf returns the primitive property compared.
func (c Comparison) Leaf() *metadata.ResourceProperty {
	return c.Properties[len(c.Properties)-1]
}

// Matches evaluates the comparison against an entity.
func (c Comparison) Matches(entity any) (bool, error) {
	v, err := OrderByPathSegment{Properties: c.Properties}.Value(entity)
	if err != nil {
		return false, err
	}
	if metadata.IsNull(v) || c.Value == nil {
		bothNil := metadata.IsNull(v) && c.Value == nil
		switch c.Operator {
		case OpEqual:
			return bothNil, nil
		case OpNotEqual:
			return !bothNil, nil
		}
		return false, nil
	}
	cmp, err := metadata.CompareValues(c.Leaf().Type, v, c.Value)
	if err != nil {
		return false, err
	}
	switch c.Operator {
	case OpEqual:
		return cmp == 0, nil
	case OpNotEqual:
		return cmp != 0, nil
	case OpGreaterThan:
		return cmp > 0, nil
	case OpGreaterOrEqual:
		return cmp >= 0, nil
	case OpLessThan:
		return cmp < 0, nil
	case OpLessOrEqual:
		return cmp <= 0, nil
	}
	return false, nil
}

// FilterInfo is a compiled $filter: a conjunction of comparisons.
type FilterInfo struct {
	expression  string
	comparisons []Comparison
}

// Expression returns the $filter text the info was compiled from.
func (f *FilterInfo) Expression() string {
	return f.expression
}

// Comparisons returns the conjunction terms, for providers that translate filters.
func (f *FilterInfo) Comparisons() []Comparison {
	return f.comparisons
}

// Evaluate reports whether entity satisfies every term.
func (f *FilterInfo) Evaluate(entity any) (bool, error) {
	for _, c := range f.comparisons {
		ok, err := c.Matches(entity)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// ExpressionProvider compiles $filter expressions. Compiled filters are cached per
// resource type until Clear is called, which happens between batch parts.
type ExpressionProvider struct {
	mu    sync.Mutex
	cache map[string]*FilterInfo
}

// NewExpressionProvider creates an empty expression provider.
func NewExpressionProvider() *ExpressionProvider {
	return &ExpressionProvider{cache: make(map[string]*FilterInfo)}
}

// Clear drops all compiled filters.
func (p *ExpressionProvider) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache = make(map[string]*FilterInfo)
}

// Compile compiles expr against rt. Supported: "path op literal" terms joined by "and".
func (p *ExpressionProvider) Compile(expr string, rt *metadata.ResourceType) (*FilterInfo, error) {
	cacheKey := rt.FullName() + "\x00" + expr
	p.mu.Lock()
	cached, ok := p.cache[cacheKey]
	p.mu.Unlock()
	if ok {
		return cached, nil
	}

	info := &FilterInfo{expression: expr}
	for _, term := range splitConjunction(expr) {
		c, err := compileComparison(term, rt)
		if err != nil {
			return nil, err
		}
		info.comparisons = append(info.comparisons, c)
	}

	p.mu.Lock()
	p.cache[cacheKey] = info
	p.mu.Unlock()
	return info, nil
}

// tokenize splits on whitespace outside quoted literals.
func tokenize(s string) []string {
	var tokens []string
	var current strings.Builder
	inQuote := false
	for _, r := range s {
		switch {
		case r == '\'':
			inQuote = !inQuote
			current.WriteRune(r)
		case !inQuote && (r == ' ' || r == '\t'):
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}
	return tokens
}

func splitConjunction(expr string) [][]string {
	var terms [][]string
	var term []string
	for _, token := range tokenize(expr) {
		if strings.EqualFold(token, "and") {
			terms = append(terms, term)
			term = nil
			continue
		}
		term = append(term, token)
	}
	return append(terms, term)
}

func compileComparison(tokens []string, rt *metadata.ResourceType) (Comparison, error) {
	if len(tokens) != 3 {
		return Comparison{}, odataerr.BadRequest("Unsupported $filter term '%s'; expected 'property op literal'", strings.Join(tokens, " "))
	}
	props, err := resolvePrimitivePath(tokens[0], rt)
	if err != nil {
		return Comparison{}, err
	}
	op := Operator(strings.ToLower(tokens[1]))
	switch op {
	case OpEqual, OpNotEqual, OpGreaterThan, OpGreaterOrEqual, OpLessThan, OpLessOrEqual:
	default:
		return Comparison{}, odataerr.BadRequest("Unsupported $filter operator '%s'", tokens[1])
	}
	leaf := props[len(props)-1]
	value, err := metadata.FromURILiteral(leaf.Type, tokens[2])
	if err != nil {
		return Comparison{}, odataerr.BadRequest("Invalid literal in $filter: %v", err)
	}
	return Comparison{Properties: props, Operator: op, Value: value}, nil
}
