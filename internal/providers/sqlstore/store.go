// Package sqlstore is a QueryProvider backed by a relational database through GORM.
//
// Set reads are translated to a single SELECT with the $filter, ordering, skip
// token and paging applied by the database, so HandlesOrderedPaging is true.
// Schemas, column names and relationships come from GORM's model parser.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"

	"github.com/nlstn/go-odata-classic/internal/metadata"
	"github.com/nlstn/go-odata-classic/internal/odataerr"
	"github.com/nlstn/go-odata-classic/internal/providers"
	"github.com/nlstn/go-odata-classic/internal/query"
	"github.com/nlstn/go-odata-classic/internal/scope"
	"github.com/nlstn/go-odata-classic/internal/segment"
)

// Store serves the resource sets of a registry from GORM models.
// Every registered entity type must be backed by a Go struct.
type Store struct {
	db       *gorm.DB
	sqlDB    *sql.DB
	dialect  string
	registry *metadata.Registry
	logger   *slog.Logger

	schemaCache sync.Map
	mu          sync.RWMutex
	scopes      map[string][]scope.QueryScope
}

var _ providers.QueryProvider = (*Store)(nil)

// New creates a store over db for the sets of registry.
func New(db *gorm.DB, registry *metadata.Registry) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must not be nil")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB from gorm: %w", err)
	}
	for _, set := range registry.ResourceSets() {
		if set.ResourceType.GoType == nil {
			return nil, fmt.Errorf("resource set '%s' is not backed by a Go struct", set.Name)
		}
	}
	return &Store{
		db:       db,
		sqlDB:    sqlDB,
		dialect:  db.Dialector.Name(),
		registry: registry,
		logger:   slog.Default(),
		scopes:   make(map[string][]scope.QueryScope),
	}, nil
}

// SetLogger sets the logger for executed statements.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	s.logger = logger
}

// AutoMigrate creates or updates the tables of every registered set.
func (s *Store) AutoMigrate(ctx context.Context) error {
	seen := make(map[reflect.Type]bool)
	var models []any
	for _, set := range s.registry.ResourceSets() {
		goType := set.ResourceType.GoType
		if seen[goType] {
			continue
		}
		seen[goType] = true
		models = append(models, reflect.New(goType).Interface())
	}
	return s.db.WithContext(ctx).AutoMigrate(models...)
}

// AddScope restricts every read of the named set to rows matching sc.
// Conditions are raw SQL with "?" placeholders.
func (s *Store) AddScope(setName string, sc scope.QueryScope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scopes[setName] = append(s.scopes[setName], sc)
}

// HandlesOrderedPaging is true: filtering, ordering and paging run in SQL.
func (s *Store) HandlesOrderedPaging() bool {
	return true
}

func (s *Store) GetResourceSet(ctx context.Context, q providers.ResourceSetQuery) (*query.QueryResult, error) {
	qb, sch, err := s.baseQuery(q.Set)
	if err != nil {
		return nil, err
	}
	return s.runSetQuery(ctx, qb, sch, q.Set.ResourceType, q.QueryType, q.Filter, q.OrderBy, q.SkipToken, q.Skip, q.Top)
}

func (s *Store) GetResourceFromResourceSet(ctx context.Context, set *metadata.ResourceSetWrapper, key *segment.KeyDescriptor, _ []*query.ExpandedProjectionNode) (any, error) {
	qb, sch, err := s.baseQuery(set)
	if err != nil {
		return nil, err
	}
	if err := whereKey(qb, sch, key); err != nil {
		return nil, err
	}
	return s.first(ctx, qb, sch)
}

func (s *Store) GetRelatedResourceSet(ctx context.Context, q providers.RelatedResourceSetQuery) (*query.QueryResult, error) {
	qb, sch, err := s.relatedQuery(q.SourceSet, q.SourceEntity, q.TargetSet, q.Property)
	if err != nil {
		return nil, err
	}
	return s.runSetQuery(ctx, qb, sch, q.TargetSet.ResourceType, q.QueryType, q.Filter, q.OrderBy, q.SkipToken, q.Skip, q.Top)
}

func (s *Store) GetResourceFromRelatedResourceSet(ctx context.Context, sourceSet *metadata.ResourceSetWrapper, sourceEntity any, targetSet *metadata.ResourceSetWrapper, prop *metadata.ResourceProperty, key *segment.KeyDescriptor) (any, error) {
	qb, sch, err := s.relatedQuery(sourceSet, sourceEntity, targetSet, prop)
	if err != nil {
		return nil, err
	}
	if err := whereKey(qb, sch, key); err != nil {
		return nil, err
	}
	return s.first(ctx, qb, sch)
}

func (s *Store) GetRelatedResourceReference(ctx context.Context, sourceSet *metadata.ResourceSetWrapper, sourceEntity any, targetSet *metadata.ResourceSetWrapper, prop *metadata.ResourceProperty) (any, error) {
	qb, sch, err := s.relatedQuery(sourceSet, sourceEntity, targetSet, prop)
	if err != nil {
		return nil, err
	}
	return s.first(ctx, qb, sch)
}

func (s *Store) CreateResource(ctx context.Context, set *metadata.ResourceSetWrapper, data map[string]any) (any, error) {
	instance := set.ResourceType.NewInstance()
	if err := providers.ApplyData(set.ResourceType, instance, data, false); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(instance).Error; err != nil {
		return nil, s.writeError(err, "creating entity in '%s'", set.Name)
	}
	return instance, nil
}

func (s *Store) UpdateResource(ctx context.Context, set *metadata.ResourceSetWrapper, key *segment.KeyDescriptor, data map[string]any) (any, error) {
	entity, err := s.GetResourceFromResourceSet(ctx, set, key, nil)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, odataerr.ResourceNotFound(set.Name + key.String())
	}
	if err := providers.ApplyData(set.ResourceType, entity, data, true); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Save(entity).Error; err != nil {
		return nil, s.writeError(err, "updating entity %s%s", set.Name, key)
	}
	return entity, nil
}

func (s *Store) DeleteResource(ctx context.Context, set *metadata.ResourceSetWrapper, key *segment.KeyDescriptor) error {
	entity, err := s.GetResourceFromResourceSet(ctx, set, key, nil)
	if err != nil {
		return err
	}
	if entity == nil {
		return odataerr.ResourceNotFound(set.Name + key.String())
	}
	if err := s.db.WithContext(ctx).Delete(entity).Error; err != nil {
		return s.writeError(err, "deleting entity %s%s", set.Name, key)
	}
	return nil
}

func (s *Store) writeError(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return odataerr.New(409, "Conflict while %s", fmt.Sprintf(format, args...))
	}
	s.logger.Error("Write failed", "operation", fmt.Sprintf(format, args...), "error", err)
	return odataerr.Wrap(err, format, args...)
}

// schemaFor parses the GORM schema of rt's Go type.
func (s *Store) schemaFor(rt *metadata.ResourceType) (*schema.Schema, error) {
	if rt.GoType == nil {
		return nil, odataerr.InternalServerError("resource type '%s' is not backed by a Go struct", rt.FullName())
	}
	sch, err := schema.Parse(reflect.New(rt.GoType).Interface(), &s.schemaCache, s.db.NamingStrategy)
	if err != nil {
		return nil, odataerr.Wrap(err, "parsing schema of '%s'", rt.FullName())
	}
	return sch, nil
}

func (s *Store) baseQuery(set *metadata.ResourceSetWrapper) (*queryBuilder, *schema.Schema, error) {
	sch, err := s.schemaFor(set.ResourceType)
	if err != nil {
		return nil, nil, err
	}
	qb := newQueryBuilder(s.sqlDB, s.dialect).WithTable(sch.Table).WithLogger(s.logger)
	s.mu.RLock()
	for _, sc := range s.scopes[set.Name] {
		qb.Where(sc.SQL(), sc.Args...)
	}
	s.mu.RUnlock()
	return qb, sch, nil
}

// relatedQuery restricts the target set to the rows related to sourceEntity through prop.
func (s *Store) relatedQuery(sourceSet *metadata.ResourceSetWrapper, sourceEntity any, targetSet *metadata.ResourceSetWrapper, prop *metadata.ResourceProperty) (*queryBuilder, *schema.Schema, error) {
	sourceSchema, err := s.schemaFor(sourceSet.ResourceType)
	if err != nil {
		return nil, nil, err
	}
	rel, ok := sourceSchema.Relationships.Relations[prop.FieldName]
	if !ok {
		return nil, nil, odataerr.InternalServerError("no relationship for navigation property '%s' on '%s'", prop.Name, sourceSchema.Name)
	}
	if rel.JoinTable != nil {
		return nil, nil, odataerr.NotImplemented("Many-to-many navigation property '%s' is not supported", prop.Name)
	}

	qb, sch, err := s.baseQuery(targetSet)
	if err != nil {
		return nil, nil, err
	}
	for _, ref := range rel.References {
		switch {
		case ref.PrimaryKey == nil:
			qb.Where(quoteIdent(s.dialect, ref.ForeignKey.DBName)+" = ?", ref.PrimaryValue)
		case ref.OwnPrimaryKey:
			v, err := metadata.GetValue(sourceEntity, ref.PrimaryKey.Name)
			if err != nil {
				return nil, nil, odataerr.Wrap(err, "reading '%s'", ref.PrimaryKey.Name)
			}
			qb.Where(quoteIdent(s.dialect, ref.ForeignKey.DBName)+" = ?", v)
		default:
			v, err := metadata.GetValue(sourceEntity, ref.ForeignKey.Name)
			if err != nil {
				return nil, nil, odataerr.Wrap(err, "reading '%s'", ref.ForeignKey.Name)
			}
			if metadata.IsNull(v) {
				qb.Where("1 = 0")
				continue
			}
			qb.Where(quoteIdent(s.dialect, ref.PrimaryKey.DBName)+" = ?", v)
		}
	}
	return qb, sch, nil
}

func (s *Store) runSetQuery(ctx context.Context, qb *queryBuilder, sch *schema.Schema, rt *metadata.ResourceType, qt query.QueryType, filter *query.FilterInfo, orderBy *query.OrderByInfo, skipToken *query.SkipTokenInfo, skip, top *int) (*query.QueryResult, error) {
	if filter != nil {
		if err := s.whereFilter(qb, sch, filter); err != nil {
			return nil, err
		}
	}

	result := &query.QueryResult{}
	if qt.NeedsCount() {
		total, err := qb.CountContext(ctx)
		if err != nil {
			return nil, odataerr.Wrap(err, "counting '%s'", sch.Table)
		}
		if qt == query.QueryCount {
			total = pagedCount(total, skip, top)
		}
		result.Count = query.CountOf(total)
	}
	if !qt.NeedsEntities() {
		return result, nil
	}

	if orderBy == nil {
		orderBy = query.KeyOrderBy(rt)
	}
	if skipToken != nil {
		if err := s.whereAfter(qb, sch, skipToken); err != nil {
			return nil, err
		}
	}
	for _, seg := range orderBy.Segments() {
		col, err := column(s.dialect, sch, seg.Properties)
		if err != nil {
			return nil, err
		}
		if seg.Descending {
			qb.OrderBy(col + " DESC NULLS LAST")
		} else {
			qb.OrderBy(col + " ASC NULLS FIRST")
		}
	}
	if skip != nil {
		qb.Offset(*skip)
	}
	if top != nil {
		qb.Limit(*top)
	}

	entities, err := s.scan(ctx, qb, sch)
	if err != nil {
		return nil, err
	}
	result.Results = entities
	return result, nil
}

// pagedCount applies $skip and $top to a total, as $count does.
func pagedCount(total int64, skip, top *int) int64 {
	if skip != nil {
		total -= int64(*skip)
		if total < 0 {
			total = 0
		}
	}
	if top != nil && int64(*top) < total {
		total = int64(*top)
	}
	return total
}

func (s *Store) whereFilter(qb *queryBuilder, sch *schema.Schema, filter *query.FilterInfo) error {
	for _, c := range filter.Comparisons() {
		col, err := column(s.dialect, sch, c.Properties)
		if err != nil {
			return err
		}
		if c.Value == nil {
			switch c.Operator {
			case query.OpEqual:
				qb.Where(col + " IS NULL")
			case query.OpNotEqual:
				qb.Where(col + " IS NOT NULL")
			default:
				qb.Where("1 = 0")
			}
			continue
		}
		qb.Where(col+" "+sqlOperator(c.Operator)+" ?", c.Value)
	}
	return nil
}

func sqlOperator(op query.Operator) string {
	switch op {
	case query.OpNotEqual:
		return "<>"
	case query.OpGreaterThan:
		return ">"
	case query.OpGreaterOrEqual:
		return ">="
	case query.OpLessThan:
		return "<"
	case query.OpLessOrEqual:
		return "<="
	}
	return "="
}

// whereAfter keeps the rows ordered strictly after the skip token. Nulls order
// first ascending and last descending, matching the in-process comparison.
func (s *Store) whereAfter(qb *queryBuilder, sch *schema.Schema, token *query.SkipTokenInfo) error {
	segments := token.OrderByInfo().Segments()
	values := token.Values()

	var disjuncts []string
	var args []any
	var prefix []string
	var prefixArgs []any
	for i, seg := range segments {
		col, err := column(s.dialect, sch, seg.Properties)
		if err != nil {
			return err
		}
		v := values[i]

		var after string
		var afterArgs []any
		switch {
		case v == nil && !seg.Descending:
			after = col + " IS NOT NULL"
		case v == nil:
			after = "1 = 0"
		case seg.Descending:
			after = "(" + col + " < ? OR " + col + " IS NULL)"
			afterArgs = []any{v}
		default:
			after = col + " > ?"
			afterArgs = []any{v}
		}

		terms := append(append([]string{}, prefix...), after)
		disjuncts = append(disjuncts, "("+strings.Join(terms, " AND ")+")")
		args = append(append(args, prefixArgs...), afterArgs...)

		if v == nil {
			prefix = append(prefix, col+" IS NULL")
		} else {
			prefix = append(prefix, col+" = ?")
			prefixArgs = append(prefixArgs, v)
		}
	}
	if len(disjuncts) > 0 {
		qb.Where("("+strings.Join(disjuncts, " OR ")+")", args...)
	}
	return nil
}

func whereKey(qb *queryBuilder, sch *schema.Schema, key *segment.KeyDescriptor) error {
	for _, kv := range key.Values() {
		col, err := column(qb.dialect, sch, []*metadata.ResourceProperty{kv.Property})
		if err != nil {
			return err
		}
		qb.Where(col+" = ?", kv.Value)
	}
	return nil
}

// column resolves a property path to its quoted column, following GORM's
// flattening of embedded structs.
func column(dialect string, sch *schema.Schema, path []*metadata.ResourceProperty) (string, error) {
	names := make([]string, len(path))
	for i, p := range path {
		names[i] = p.FieldName
		if names[i] == "" {
			names[i] = p.Name
		}
	}
	for _, f := range sch.Fields {
		if f.DBName == "" || len(f.BindNames) != len(names) {
			continue
		}
		match := true
		for i := range names {
			if f.BindNames[i] != names[i] {
				match = false
				break
			}
		}
		if match {
			return quoteIdent(dialect, f.DBName), nil
		}
	}
	return "", odataerr.NotImplemented("Property '%s' is not mapped to a column of '%s'", strings.Join(names, "/"), sch.Table)
}

func (s *Store) scan(ctx context.Context, qb *queryBuilder, sch *schema.Schema) ([]any, error) {
	rows, err := qb.QueryContext(ctx)
	if err != nil {
		return nil, odataerr.Wrap(err, "querying '%s'", sch.Table)
	}
	defer rows.Close()

	entities := []any{}
	db := s.db.WithContext(ctx)
	for rows.Next() {
		entity := reflect.New(sch.ModelType).Interface()
		if err := db.ScanRows(rows, entity); err != nil {
			return nil, odataerr.Wrap(err, "scanning '%s'", sch.Table)
		}
		entities = append(entities, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, odataerr.Wrap(err, "reading '%s'", sch.Table)
	}
	return entities, nil
}

func (s *Store) first(ctx context.Context, qb *queryBuilder, sch *schema.Schema) (any, error) {
	entities, err := s.scan(ctx, qb.Limit(1), sch)
	if err != nil || len(entities) == 0 {
		return nil, err
	}
	return entities[0], nil
}
