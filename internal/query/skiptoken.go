package query

import (
	"sort"
	"strings"

	"github.com/nlstn/go-odata-classic/internal/metadata"
	"github.com/nlstn/go-odata-classic/internal/odataerr"
)

// SkipTokenInfo is a parsed $skiptoken: the ordering values of the last entity
// of the previous page.
type SkipTokenInfo struct {
	orderBy *OrderByInfo
	values  []any
}

// ParseSkipToken parses a comma-separated list of literals, one per ordering term.
func ParseSkipToken(token string, orderBy *OrderByInfo) (*SkipTokenInfo, error) {
	literals := metadata.SplitLiteralList(token)
	segments := orderBy.Segments()
	if len(literals) != len(segments) {
		return nil, odataerr.BadRequest("The number of keys in $skiptoken '%s' does not match the number of ordering constraints (%d)", token, len(segments))
	}
	values := make([]any, len(literals))
	for i, literal := range literals {
		v, err := metadata.FromURILiteral(segments[i].Leaf().Type, strings.TrimSpace(literal))
		if err != nil {
			return nil, odataerr.BadRequest("Invalid $skiptoken '%s': %v", token, err)
		}
		values[i] = v
	}
	return &SkipTokenInfo{orderBy: orderBy, values: values}, nil
}

// Values returns the decoded ordering values.
func (s *SkipTokenInfo) Values() []any {
	return s.values
}

// OrderByInfo returns the ordering the token was parsed against.
func (s *SkipTokenInfo) OrderByInfo() *OrderByInfo {
	return s.orderBy
}

// IndexOfFirstEntryInNextPage returns the index of the first entity in sorted that
// orders strictly after the token, or len(sorted) when none does.
func (s *SkipTokenInfo) IndexOfFirstEntryInNextPage(sorted []any) (int, error) {
	var searchErr error
	idx := sort.Search(len(sorted), func(i int) bool {
		if searchErr != nil {
			return true
		}
		c, err := s.orderBy.CompareToValues(sorted[i], s.values)
		if err != nil {
			searchErr = err
			return true
		}
		return c > 0
	})
	return idx, searchErr
}
