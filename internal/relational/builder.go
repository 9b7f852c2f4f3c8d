// Package relational implements the second querybuilder.Builder the design notes call
// for: the same Filter rendered against a parameterised SQL dialect over a simplified
// Postgres shadow schema, rather than the catalogue's JPQL-like language. It proves
// the backend-agnostic interface and gives jackc/pgx/v5 and golang-migrate/migrate/v4
// a home in the gateway.
package relational

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/icatgateway/gateway/internal/catalogue"
	"github.com/icatgateway/gateway/internal/filter"
	"github.com/icatgateway/gateway/internal/querybuilder"
)

// SQLBuilder renders Filter values into parameterised SQL ($1, $2, …) against the
// relational shadow schema.
type SQLBuilder struct{}

// NewSQLBuilder returns a ready-to-use relational query renderer.
func NewSQLBuilder() *SQLBuilder {
	return &SQLBuilder{}
}

func errAt(path, format string, args ...any) *filter.BadFilterError {
	return &filter.BadFilterError{Path: path, Msg: fmt.Sprintf(format, args...)}
}

func toSnakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func foreignKeyColumn(relationField string) string {
	return toSnakeCase(relationField) + "_id"
}

type sqlState struct {
	aliasOf      map[string]string
	entityOf     map[string]catalogue.EntityDescriptor
	joins        []string
	includeSet   map[string]bool
	includeOrder []string
	bindings     []any
	counter      int
}

func newSQLState() *sqlState {
	return &sqlState{
		aliasOf:    map[string]string{},
		entityOf:   map[string]catalogue.EntityDescriptor{},
		includeSet: map[string]bool{},
	}
}

func (s *sqlState) bind(v any) string {
	s.bindings = append(s.bindings, v)
	return fmt.Sprintf("$%d", len(s.bindings))
}

func (s *sqlState) ensureAlias(currentEntity catalogue.EntityDescriptor, currentAlias string, traversed []string, seg string, isInclude bool) (catalogue.EntityDescriptor, string, error) {
	relPath := strings.Join(append(append([]string{}, traversed...), seg), ".")
	if alias, ok := s.aliasOf[relPath]; ok {
		if isInclude && !s.includeSet[alias] {
			s.includeSet[alias] = true
			s.includeOrder = append(s.includeOrder, alias)
		}
		return s.entityOf[alias], alias, nil
	}

	target, kind, err := catalogue.ResolveRelation(currentEntity.Name, seg)
	if err != nil {
		return catalogue.EntityDescriptor{}, "", errAt(relPath, "unknown relation %q on %s", seg, currentEntity.Name)
	}

	s.counter++
	alias := fmt.Sprintf("t%d", s.counter)
	s.aliasOf[relPath] = alias
	s.entityOf[alias] = target

	var joinClause string
	switch kind {
	case catalogue.ToOne:
		joinClause = fmt.Sprintf("LEFT JOIN %s %s ON %s.%s = %s.id", toSnakeCase(target.Name), alias, currentAlias, foreignKeyColumn(seg), alias)
	case catalogue.ToMany:
		joinClause = fmt.Sprintf("LEFT JOIN %s %s ON %s.id = %s.%s", toSnakeCase(target.Name), alias, currentAlias, alias, foreignKeyColumn(entityBackref(currentEntity.Name)))
	}
	s.joins = append(s.joins, joinClause)

	if isInclude {
		s.includeSet[alias] = true
		s.includeOrder = append(s.includeOrder, alias)
	}
	return target, alias, nil
}

// entityBackref derives the relation field name a to-many child uses to point back
// at its parent, by lower-casing the parent entity's own name (e.g. Dataset -> the
// Datafile row carries a dataset_id column).
func entityBackref(parentEntity string) string {
	if parentEntity == "" {
		return parentEntity
	}
	r := []rune(parentEntity)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}

func (s *sqlState) resolvePath(startEntity catalogue.EntityDescriptor, startAlias string, startTraversed []string, fullPath string) (alias, column string, owner catalogue.EntityDescriptor, err error) {
	segments := strings.Split(fullPath, ".")
	entity := startEntity
	alias = startAlias
	traversed := append([]string{}, startTraversed...)

	for i, seg := range segments {
		if i == len(segments)-1 {
			if !catalogue.HasAttribute(entity.Name, seg) {
				return "", "", catalogue.EntityDescriptor{}, errAt(fullPath, "unknown attribute %q on %s", seg, entity.Name)
			}
			return alias, toSnakeCase(seg), entity, nil
		}
		next, nextAlias, nerr := s.ensureAlias(entity, alias, traversed, seg, false)
		if nerr != nil {
			return "", "", catalogue.EntityDescriptor{}, nerr
		}
		traversed = append(traversed, seg)
		entity = next
		alias = nextAlias
	}
	return "", "", catalogue.EntityDescriptor{}, errAt(fullPath, "empty field path")
}

func (s *sqlState) renderExpr(expr filter.Expr, entity catalogue.EntityDescriptor, alias string, traversed []string) (string, error) {
	switch e := expr.(type) {
	case filter.And:
		parts, err := s.renderChildren(e.Children, entity, alias, traversed)
		if err != nil {
			return "", err
		}
		return "(" + strings.Join(parts, " AND ") + ")", nil
	case filter.Or:
		parts, err := s.renderChildren(e.Children, entity, alias, traversed)
		if err != nil {
			return "", err
		}
		return "(" + strings.Join(parts, " OR ") + ")", nil
	case filter.Cmp:
		return s.renderCmp(e, entity, alias, traversed)
	default:
		return "", errAt("", "unrecognised filter expression node %T", expr)
	}
}

func (s *sqlState) renderChildren(children []filter.Expr, entity catalogue.EntityDescriptor, alias string, traversed []string) ([]string, error) {
	parts := make([]string, 0, len(children))
	for _, c := range children {
		rendered, err := s.renderExpr(c, entity, alias, traversed)
		if err != nil {
			return nil, err
		}
		parts = append(parts, rendered)
	}
	return parts, nil
}

func (s *sqlState) renderCmp(c filter.Cmp, entity catalogue.EntityDescriptor, alias string, traversed []string) (string, error) {
	if c.Op == filter.OpText {
		return s.renderText(c, entity, alias, traversed)
	}

	fieldAlias, column, owner, err := s.resolvePath(entity, alias, traversed, c.Field)
	if err != nil {
		return "", err
	}
	_ = owner
	ref := fieldAlias + "." + column

	switch c.Op {
	case filter.OpEq:
		return fmt.Sprintf("%s = %s", ref, s.bind(c.Value)), nil
	case filter.OpNeq:
		return fmt.Sprintf("%s != %s", ref, s.bind(c.Value)), nil
	case filter.OpGt:
		return fmt.Sprintf("%s > %s", ref, s.bind(c.Value)), nil
	case filter.OpGte:
		return fmt.Sprintf("%s >= %s", ref, s.bind(c.Value)), nil
	case filter.OpLt:
		return fmt.Sprintf("%s < %s", ref, s.bind(c.Value)), nil
	case filter.OpLte:
		return fmt.Sprintf("%s <= %s", ref, s.bind(c.Value)), nil
	case filter.OpLike:
		return fmt.Sprintf("%s LIKE %s", ref, s.bind(c.Value)), nil
	case filter.OpNlike:
		return fmt.Sprintf("%s NOT LIKE %s", ref, s.bind(c.Value)), nil
	case filter.OpIlike:
		return fmt.Sprintf("%s ILIKE %s", ref, s.bind(c.Value)), nil
	case filter.OpNilike:
		return fmt.Sprintf("%s NOT ILIKE %s", ref, s.bind(c.Value)), nil
	case filter.OpRegexp:
		return fmt.Sprintf("%s ~ %s", ref, s.bind(c.Value)), nil
	case filter.OpIn:
		placeholder, err := s.bindArray(c.Value, c.Field)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s IN (%s)", ref, placeholder), nil
	case filter.OpNin:
		placeholder, err := s.bindArray(c.Value, c.Field)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s NOT IN (%s)", ref, placeholder), nil
	case filter.OpBetween:
		arr, ok := c.Value.([]any)
		if !ok || len(arr) != 2 {
			return "", errAt(c.Field+".between", "between requires exactly two elements")
		}
		return fmt.Sprintf("%s BETWEEN %s AND %s", ref, s.bind(arr[0]), s.bind(arr[1])), nil
	default:
		return "", errAt(c.Field, "unsupported operator %q", c.Op)
	}
}

func (s *sqlState) bindArray(v any, path string) (string, error) {
	arr, ok := v.([]any)
	if !ok {
		return "", errAt(path, "operator requires an array literal")
	}
	placeholders := make([]string, 0, len(arr))
	for _, elem := range arr {
		placeholders = append(placeholders, s.bind(elem))
	}
	return strings.Join(placeholders, ", "), nil
}

func (s *sqlState) renderText(c filter.Cmp, entity catalogue.EntityDescriptor, alias string, traversed []string) (string, error) {
	target := entity
	targetAlias := alias
	if c.Field != "" {
		te, ta := entity, alias
		tr := traversed
		for _, seg := range strings.Split(c.Field, ".") {
			ne, na, err := s.ensureAlias(te, ta, tr, seg, false)
			if err != nil {
				return "", err
			}
			tr = append(tr, seg)
			te, ta = ne, na
		}
		target, targetAlias = te, ta
	}
	if len(target.TextSearchable) == 0 {
		return "", errAt(c.Field, "entity %s declares no text-searchable fields", target.Name)
	}
	val, ok := c.Value.(string)
	if !ok {
		return "", errAt(c.Field, "text requires a string literal")
	}
	placeholder := s.bind("%" + val + "%")
	parts := make([]string, 0, len(target.TextSearchable))
	for _, f := range target.TextSearchable {
		parts = append(parts, fmt.Sprintf("%s.%s ILIKE %s", targetAlias, toSnakeCase(f), placeholder))
	}
	return "(" + strings.Join(parts, " OR ") + ")", nil
}

func (s *sqlState) processIncludes(entity catalogue.EntityDescriptor, alias string, traversed []string, includes []filter.Include) ([]string, error) {
	var scopedWhere []string
	for _, inc := range includes {
		relEntity, relAlias, err := s.ensureAlias(entity, alias, traversed, inc.Relation, true)
		if err != nil {
			return nil, err
		}
		if inc.Scope == nil {
			continue
		}
		childTraversed := append(append([]string{}, traversed...), inc.Relation)
		if inc.Scope.Where != nil {
			cond, err := s.renderExpr(inc.Scope.Where, relEntity, relAlias, childTraversed)
			if err != nil {
				return nil, err
			}
			scopedWhere = append(scopedWhere, cond)
		}
		if len(inc.Scope.Include) > 0 {
			nested, err := s.processIncludes(relEntity, relAlias, childTraversed, inc.Scope.Include)
			if err != nil {
				return nil, err
			}
			scopedWhere = append(scopedWhere, nested...)
		}
	}
	return scopedWhere, nil
}

// Build renders f into parameterised SQL rooted at entity root.
func (b *SQLBuilder) Build(root string, f *filter.Filter) (querybuilder.Query, error) {
	rootEntity, err := catalogue.Lookup(root)
	if err != nil {
		return querybuilder.Query{}, &filter.BadFilterError{Msg: err.Error()}
	}
	if f == nil {
		f = &filter.Filter{}
	}

	s := newSQLState()
	const rootAlias = "t0"
	table := toSnakeCase(root)

	var whereParts []string
	if f.Where != nil {
		cond, err := s.renderExpr(f.Where, rootEntity, rootAlias, nil)
		if err != nil {
			return querybuilder.Query{}, err
		}
		whereParts = append(whereParts, cond)
	}

	if len(f.Include) > 0 {
		scoped, err := s.processIncludes(rootEntity, rootAlias, nil, f.Include)
		if err != nil {
			return querybuilder.Query{}, err
		}
		whereParts = append(whereParts, scoped...)
	}

	projection := rootAlias + ".*"
	if len(f.Distinct) > 0 {
		cols := make([]string, 0, len(f.Distinct))
		for _, fld := range f.Distinct {
			alias, col, _, err := s.resolvePath(rootEntity, rootAlias, nil, fld)
			if err != nil {
				return querybuilder.Query{}, err
			}
			cols = append(cols, alias+"."+col)
		}
		projection = "DISTINCT " + strings.Join(cols, ", ")
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(projection)
	sb.WriteString(" FROM ")
	sb.WriteString(table)
	sb.WriteString(" ")
	sb.WriteString(rootAlias)
	for _, j := range s.joins {
		sb.WriteString(" ")
		sb.WriteString(j)
	}
	if len(whereParts) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(whereParts, " AND "))
	}
	if len(f.Order) > 0 {
		terms := make([]string, 0, len(f.Order))
		for _, o := range f.Order {
			alias, col, _, err := s.resolvePath(rootEntity, rootAlias, nil, o.Field)
			if err != nil {
				return querybuilder.Query{}, err
			}
			dir := "ASC"
			if o.Direction == filter.Desc {
				dir = "DESC"
			}
			terms = append(terms, fmt.Sprintf("%s.%s %s", alias, col, dir))
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(terms, ", "))
	}
	if f.Limit != nil {
		sb.WriteString(" LIMIT " + strconv.Itoa(*f.Limit))
	}
	if f.Skip != nil {
		sb.WriteString(" OFFSET " + strconv.Itoa(*f.Skip))
	}

	return querybuilder.Query{
		Text:     sb.String(),
		Includes: append([]string{}, s.includeOrder...),
		Bindings: s.bindings,
	}, nil
}

// BuildCount renders "SELECT COUNT(*) FROM <table> t0 <joins> <where>"; only f.Where
// is honoured, matching the ICAT builder's BuildCount semantics.
func (b *SQLBuilder) BuildCount(root string, f *filter.Filter) (querybuilder.Query, error) {
	rootEntity, err := catalogue.Lookup(root)
	if err != nil {
		return querybuilder.Query{}, &filter.BadFilterError{Msg: err.Error()}
	}
	if f == nil {
		f = &filter.Filter{}
	}

	s := newSQLState()
	const rootAlias = "t0"
	table := toSnakeCase(root)

	var whereParts []string
	if f.Where != nil {
		cond, err := s.renderExpr(f.Where, rootEntity, rootAlias, nil)
		if err != nil {
			return querybuilder.Query{}, err
		}
		whereParts = append(whereParts, cond)
	}

	var sb strings.Builder
	sb.WriteString("SELECT COUNT(*) AS count FROM ")
	sb.WriteString(table)
	sb.WriteString(" ")
	sb.WriteString(rootAlias)
	for _, j := range s.joins {
		sb.WriteString(" ")
		sb.WriteString(j)
	}
	if len(whereParts) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(whereParts, " AND "))
	}

	return querybuilder.Query{Text: sb.String(), Bindings: s.bindings}, nil
}
