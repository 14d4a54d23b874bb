package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// queryBuilder accumulates the clauses of one SELECT over a single table.
// Placeholders are written as "?" and rewritten for PostgreSQL when the SQL is rendered.
type queryBuilder struct {
	db       *sql.DB
	dialect  string
	table    string
	wheres   []whereClause
	selects  []string
	orderBys []string
	limit    *int
	offset   int
	logger   *slog.Logger
}

// whereClause is a SQL condition with parameterized arguments.
type whereClause struct {
	sql  string
	args []any
}

// newQueryBuilder creates a query builder for the given database and dialect.
func newQueryBuilder(db *sql.DB, dialect string) *queryBuilder {
	return &queryBuilder{
		db:      db,
		dialect: dialect,
		logger:  slog.Default(),
	}
}

// WithTable sets the target table.
func (qb *queryBuilder) WithTable(table string) *queryBuilder {
	qb.table = table
	return qb
}

// Where adds a condition; conditions are joined with AND.
func (qb *queryBuilder) Where(sql string, args ...any) *queryBuilder {
	qb.wheres = append(qb.wheres, whereClause{sql: sql, args: args})
	return qb
}

// Select sets the SELECT columns.
func (qb *queryBuilder) Select(cols ...string) *queryBuilder {
	qb.selects = append(qb.selects, cols...)
	return qb
}

// OrderBy appends an ORDER BY term.
func (qb *queryBuilder) OrderBy(order string) *queryBuilder {
	qb.orderBys = append(qb.orderBys, order)
	return qb
}

// Limit sets the LIMIT.
func (qb *queryBuilder) Limit(n int) *queryBuilder {
	qb.limit = &n
	return qb
}

// Offset sets the OFFSET.
func (qb *queryBuilder) Offset(n int) *queryBuilder {
	qb.offset = n
	return qb
}

// WithLogger sets the logger used for executed statements.
func (qb *queryBuilder) WithLogger(logger *slog.Logger) *queryBuilder {
	if logger != nil {
		qb.logger = logger
	}
	return qb
}

// Clone creates a copy that can be extended without affecting qb.
func (qb *queryBuilder) Clone() *queryBuilder {
	clone := &queryBuilder{
		db:       qb.db,
		dialect:  qb.dialect,
		table:    qb.table,
		wheres:   append([]whereClause{}, qb.wheres...),
		selects:  append([]string{}, qb.selects...),
		orderBys: append([]string{}, qb.orderBys...),
		offset:   qb.offset,
		logger:   qb.logger,
	}
	if qb.limit != nil {
		limitCopy := *qb.limit
		clone.limit = &limitCopy
	}
	return clone
}

// ToSQL builds the SELECT statement and its arguments.
func (qb *queryBuilder) ToSQL() (string, []any) {
	var sql strings.Builder

	sql.WriteString("SELECT ")
	if len(qb.selects) > 0 {
		sql.WriteString(strings.Join(qb.selects, ", "))
	} else {
		sql.WriteString("*")
	}
	args := qb.writeFromWhere(&sql)

	if len(qb.orderBys) > 0 {
		sql.WriteString(" ORDER BY ")
		sql.WriteString(strings.Join(qb.orderBys, ", "))
	}

	if qb.limit != nil {
		sql.WriteString(fmt.Sprintf(" LIMIT %d", *qb.limit))
	} else if qb.offset > 0 && qb.dialect == "sqlite" {
		// SQLite only accepts OFFSET after a LIMIT
		sql.WriteString(" LIMIT -1")
	}
	if qb.offset > 0 {
		sql.WriteString(fmt.Sprintf(" OFFSET %d", qb.offset))
	}

	return qb.placeholders(sql.String()), args
}

// ToCountSQL builds a COUNT(*) over the same table and conditions. Ordering and
// paging clauses are ignored.
func (qb *queryBuilder) ToCountSQL() (string, []any) {
	var sql strings.Builder
	sql.WriteString("SELECT COUNT(*)")
	args := qb.writeFromWhere(&sql)
	return qb.placeholders(sql.String()), args
}

func (qb *queryBuilder) writeFromWhere(sql *strings.Builder) []any {
	var args []any
	if qb.table != "" {
		sql.WriteString(" FROM ")
		sql.WriteString(quoteIdent(qb.dialect, qb.table))
	}
	if len(qb.wheres) > 0 {
		sql.WriteString(" WHERE ")
		whereClauses := make([]string, 0, len(qb.wheres))
		for _, w := range qb.wheres {
			whereClauses = append(whereClauses, w.sql)
			args = append(args, w.args...)
		}
		sql.WriteString(strings.Join(whereClauses, " AND "))
	}
	return args
}

func (qb *queryBuilder) placeholders(query string) string {
	if qb.dialect == "postgres" || qb.dialect == "postgresql" {
		return convertToPostgresPlaceholders(query)
	}
	return query
}

// QueryContext executes the query and returns the result rows.
func (qb *queryBuilder) QueryContext(ctx context.Context) (*sql.Rows, error) {
	query, args := qb.ToSQL()

	if qb.logger != nil {
		qb.logger.Debug("Executing query", "sql", query, "args", args)
	}

	return qb.db.QueryContext(ctx, query, args...)
}

// CountContext executes the count query and returns the count.
func (qb *queryBuilder) CountContext(ctx context.Context) (int64, error) {
	query, args := qb.ToCountSQL()

	if qb.logger != nil {
		qb.logger.Debug("Executing count query", "sql", query, "args", args)
	}

	var count int64
	if err := qb.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// quoteIdent quotes a table or column name for dialect.
func quoteIdent(dialect, name string) string {
	if dialect == "mysql" {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// convertToPostgresPlaceholders converts ? placeholders to $1, $2, ... for PostgreSQL.
// Question marks inside quoted literals are left alone.
func convertToPostgresPlaceholders(query string) string {
	var result strings.Builder
	placeholderNum := 1
	inQuote := false

	for i := 0; i < len(query); i++ {
		switch {
		case query[i] == '\'':
			inQuote = !inQuote
			result.WriteByte(query[i])
		case query[i] == '?' && !inQuote:
			result.WriteString(fmt.Sprintf("$%d", placeholderNum))
			placeholderNum++
		default:
			result.WriteByte(query[i])
		}
	}

	return result.String()
}
