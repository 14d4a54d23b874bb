// Package scope holds the row conditions a SQL provider adds to every read of an
// entity set, ahead of the conditions compiled from $filter.
package scope

import (
	"fmt"
	"strings"
)

// QueryScope is a raw SQL predicate with "?" placeholders and the values bound to them.
type QueryScope struct {
	Condition string
	Args      []any
}

// Where creates a scope from a condition and its arguments.
func Where(condition string, args ...any) QueryScope {
	return QueryScope{Condition: condition, Args: args}
}

// SQL returns the condition parenthesized, ready to be joined with AND.
func (s QueryScope) SQL() string {
	return "(" + s.Condition + ")"
}

// Validate checks that the condition is present and binds one argument per placeholder.
func (s QueryScope) Validate() error {
	if strings.TrimSpace(s.Condition) == "" {
		return fmt.Errorf("scope condition must not be empty")
	}
	if n := strings.Count(s.Condition, "?"); n != len(s.Args) {
		return fmt.Errorf("scope condition has %d placeholders but %d arguments", n, len(s.Args))
	}
	return nil
}
