// Package querybuilder renders a parsed filter.Filter into a catalogue query string.
// Builder is the shared interface spec'd so a second backend (internal/relational) can
// render the same Filter against a different target language without C1/C2/C5/C6
// knowing the difference.
package querybuilder

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/icatgateway/gateway/internal/catalogue"
	"github.com/icatgateway/gateway/internal/filter"
)

// Query is the rendered output of a Builder: the query text plus the alias list that
// ended up in the INCLUDE clause (used by the caller to know which relations will
// come back populated on the result rows).
type Query struct {
	Text     string
	Includes []string
	// Bindings holds positional parameter values for backends that render
	// placeholder queries (e.g. the relational backend's `$1, $2, …`). The ICAT
	// builder embeds literals directly and leaves this nil.
	Bindings []any
	// DistinctFields holds the dotted field paths, in requested order, of a filter's
	// `distinct` projection. The ICAT catalogue returns a DISTINCT projection's rows
	// as positional tuples rather than entity objects, so the transport layer needs
	// this list to remap each tuple back onto field names; the relational executor
	// decodes Postgres's own named columns and never consults it.
	DistinctFields []string
}

// Builder renders a Filter rooted at a named entity into a backend-specific query.
type Builder interface {
	Build(root string, f *filter.Filter) (Query, error)
	// BuildCount renders a counting query: only f.Where is honoured (distinct,
	// order, limit/skip and include are meaningless for a row count and ignored).
	BuildCount(root string, f *filter.Filter) (Query, error)
}

func errAt(path, format string, args ...any) *filter.BadFilterError {
	return &filter.BadFilterError{Path: path, Msg: fmt.Sprintf(format, args...)}
}

// ICATBuilder renders Filter values into the catalogue's JPQL-like query language:
// SELECT <projection> FROM <Entity> o <joins> <where> <order> <include> <limit>, where
// the INCLUDE clause lists the aliases of relations named by the filter's include list.
type ICATBuilder struct{}

// NewICATBuilder returns a ready-to-use ICAT query renderer.
func NewICATBuilder() *ICATBuilder {
	return &ICATBuilder{}
}

type buildState struct {
	aliasOf      map[string]string              // dotted relation path (from root) -> alias
	entityOf     map[string]catalogue.EntityDescriptor // alias -> resolved entity
	joins        []string                        // rendered JOIN clauses, allocation order
	includeSet   map[string]bool
	includeOrder []string
	scopedWhere  []string
	counter      int
}

func newBuildState() *buildState {
	return &buildState{
		aliasOf:    map[string]string{},
		entityOf:   map[string]catalogue.EntityDescriptor{},
		includeSet: map[string]bool{},
	}
}

// ensureAlias resolves (or allocates) the alias for following `seg` as a relation off
// currentEntity/currentAlias, whose dotted path so far is traversed. Duplicate paths
// reuse their existing alias, satisfying the "tie-break: same join reuses alias" rule.
func (b *buildState) ensureAlias(currentEntity catalogue.EntityDescriptor, currentAlias string, traversed []string, seg string, isInclude bool) (catalogue.EntityDescriptor, string, error) {
	relPath := strings.Join(append(append([]string{}, traversed...), seg), ".")
	if alias, ok := b.aliasOf[relPath]; ok {
		if isInclude && !b.includeSet[alias] {
			b.includeSet[alias] = true
			b.includeOrder = append(b.includeOrder, alias)
		}
		return b.entityOf[alias], alias, nil
	}

	target, _, err := catalogue.ResolveRelation(currentEntity.Name, seg)
	if err != nil {
		return catalogue.EntityDescriptor{}, "", errAt(relPath, "unknown relation %q on %s", seg, currentEntity.Name)
	}

	b.counter++
	alias := fmt.Sprintf("o%d", b.counter)
	b.aliasOf[relPath] = alias
	b.entityOf[alias] = target
	b.joins = append(b.joins, fmt.Sprintf("JOIN %s.%s %s", currentAlias, seg, alias))
	if isInclude {
		b.includeSet[alias] = true
		b.includeOrder = append(b.includeOrder, alias)
	}
	return target, alias, nil
}

// resolvePath walks a dotted field reference starting at (startEntity, startAlias,
// startTraversed), treating every segment but the last as a relation hop and the last
// as a scalar attribute. It returns the alias owning the attribute, the attribute
// name, and the entity that declares it (for operand-kind rendering).
func (b *buildState) resolvePath(startEntity catalogue.EntityDescriptor, startAlias string, startTraversed []string, fullPath string) (alias, attribute string, owner catalogue.EntityDescriptor, err error) {
	segments := strings.Split(fullPath, ".")
	entity := startEntity
	alias = startAlias
	traversed := append([]string{}, startTraversed...)

	for i, seg := range segments {
		if i == len(segments)-1 {
			if !catalogue.HasAttribute(entity.Name, seg) {
				return "", "", catalogue.EntityDescriptor{}, errAt(fullPath, "unknown attribute %q on %s", seg, entity.Name)
			}
			return alias, seg, entity, nil
		}
		next, nextAlias, nerr := b.ensureAlias(entity, alias, traversed, seg, false)
		if nerr != nil {
			return "", "", catalogue.EntityDescriptor{}, nerr
		}
		traversed = append(traversed, seg)
		entity = next
		alias = nextAlias
	}
	return "", "", catalogue.EntityDescriptor{}, errAt(fullPath, "empty field path")
}

// resolveEntityPath walks a dotted relation-only chain (no trailing attribute),
// used by the `text` operator to locate the entity whose text-searchable fields
// should be searched.
func (b *buildState) resolveEntityPath(startEntity catalogue.EntityDescriptor, startAlias string, startTraversed []string, path string) (catalogue.EntityDescriptor, string, error) {
	if path == "" {
		return startEntity, startAlias, nil
	}
	entity := startEntity
	alias := startAlias
	traversed := append([]string{}, startTraversed...)
	for _, seg := range strings.Split(path, ".") {
		next, nextAlias, err := b.ensureAlias(entity, alias, traversed, seg, false)
		if err != nil {
			return catalogue.EntityDescriptor{}, "", err
		}
		traversed = append(traversed, seg)
		entity, alias = next, nextAlias
	}
	return entity, alias, nil
}

func (b *buildState) renderExpr(expr filter.Expr, entity catalogue.EntityDescriptor, alias string, traversed []string) (string, error) {
	switch e := expr.(type) {
	case filter.And:
		parts, err := b.renderChildren(e.Children, entity, alias, traversed)
		if err != nil {
			return "", err
		}
		return "(" + strings.Join(parts, " AND ") + ")", nil
	case filter.Or:
		parts, err := b.renderChildren(e.Children, entity, alias, traversed)
		if err != nil {
			return "", err
		}
		return "(" + strings.Join(parts, " OR ") + ")", nil
	case filter.Cmp:
		return b.renderCmp(e, entity, alias, traversed)
	default:
		return "", errAt("", "unrecognised filter expression node %T", expr)
	}
}

func (b *buildState) renderChildren(children []filter.Expr, entity catalogue.EntityDescriptor, alias string, traversed []string) ([]string, error) {
	parts := make([]string, 0, len(children))
	for _, c := range children {
		rendered, err := b.renderExpr(c, entity, alias, traversed)
		if err != nil {
			return nil, err
		}
		parts = append(parts, rendered)
	}
	return parts, nil
}

func (b *buildState) renderCmp(c filter.Cmp, entity catalogue.EntityDescriptor, alias string, traversed []string) (string, error) {
	if c.Op == filter.OpText {
		return b.renderText(c, entity, alias, traversed)
	}

	fieldAlias, attr, owner, err := b.resolvePath(entity, alias, traversed, c.Field)
	if err != nil {
		return "", err
	}
	kind := owner.Attributes[attr]
	column := fieldAlias + "." + attr

	switch c.Op {
	case filter.OpEq:
		return fmt.Sprintf("%s = %s", column, renderLiteral(c.Value, kind)), nil
	case filter.OpNeq:
		return fmt.Sprintf("%s != %s", column, renderLiteral(c.Value, kind)), nil
	case filter.OpGt:
		return fmt.Sprintf("%s > %s", column, renderLiteral(c.Value, kind)), nil
	case filter.OpGte:
		return fmt.Sprintf("%s >= %s", column, renderLiteral(c.Value, kind)), nil
	case filter.OpLt:
		return fmt.Sprintf("%s < %s", column, renderLiteral(c.Value, kind)), nil
	case filter.OpLte:
		return fmt.Sprintf("%s <= %s", column, renderLiteral(c.Value, kind)), nil
	case filter.OpLike:
		return fmt.Sprintf("%s LIKE %s", column, renderLiteral(c.Value, kind)), nil
	case filter.OpNlike:
		return fmt.Sprintf("%s NOT LIKE %s", column, renderLiteral(c.Value, kind)), nil
	case filter.OpIlike:
		return fmt.Sprintf("LOWER(%s) LIKE LOWER(%s)", column, renderLiteral(c.Value, kind)), nil
	case filter.OpNilike:
		return fmt.Sprintf("LOWER(%s) NOT LIKE LOWER(%s)", column, renderLiteral(c.Value, kind)), nil
	case filter.OpRegexp:
		return fmt.Sprintf("%s REGEXP %s", column, renderLiteral(c.Value, kind)), nil
	case filter.OpIn:
		items, err := renderLiteralArray(c.Value, kind, c.Field)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s IN (%s)", column, strings.Join(items, ", ")), nil
	case filter.OpNin:
		items, err := renderLiteralArray(c.Value, kind, c.Field)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s NOT IN (%s)", column, strings.Join(items, ", ")), nil
	case filter.OpBetween:
		items, err := renderLiteralArray(c.Value, kind, c.Field)
		if err != nil {
			return "", err
		}
		if len(items) != 2 {
			return "", errAt(c.Field+".between", "between requires exactly two elements")
		}
		return fmt.Sprintf("%s BETWEEN %s AND %s", column, items[0], items[1]), nil
	default:
		return "", errAt(c.Field, "unsupported operator %q", c.Op)
	}
}

func (b *buildState) renderText(c filter.Cmp, entity catalogue.EntityDescriptor, alias string, traversed []string) (string, error) {
	target, targetAlias, err := b.resolveEntityPath(entity, alias, traversed, c.Field)
	if err != nil {
		return "", err
	}
	if len(target.TextSearchable) == 0 {
		return "", errAt(c.Field, "entity %s declares no text-searchable fields", target.Name)
	}
	val, ok := c.Value.(string)
	if !ok {
		return "", errAt(c.Field, "text requires a string literal")
	}
	parts := make([]string, 0, len(target.TextSearchable))
	for _, f := range target.TextSearchable {
		parts = append(parts, fmt.Sprintf("%s.%s LIKE '%%%s%%'", targetAlias, f, escapeLiteral(val)))
	}
	return "(" + strings.Join(parts, " OR ") + ")", nil
}

// processIncludes walks an include list, allocating/marking aliases for the INCLUDE
// clause and recursing into nested scoped filters (where and include only, per the
// filter model's recursive scope).
func (b *buildState) processIncludes(entity catalogue.EntityDescriptor, alias string, traversed []string, includes []filter.Include) error {
	for _, inc := range includes {
		relEntity, relAlias, err := b.ensureAlias(entity, alias, traversed, inc.Relation, true)
		if err != nil {
			return err
		}
		if inc.Scope == nil {
			continue
		}
		childTraversed := append(append([]string{}, traversed...), inc.Relation)
		if inc.Scope.Where != nil {
			cond, err := b.renderExpr(inc.Scope.Where, relEntity, relAlias, childTraversed)
			if err != nil {
				return err
			}
			b.scopedWhere = append(b.scopedWhere, cond)
		}
		if len(inc.Scope.Include) > 0 {
			if err := b.processIncludes(relEntity, relAlias, childTraversed, inc.Scope.Include); err != nil {
				return err
			}
		}
	}
	return nil
}

func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func renderLiteral(v any, kind catalogue.AttributeKind) string {
	switch val := v.(type) {
	case string:
		return "'" + escapeLiteral(val) + "'"
	case bool:
		if val {
			return "TRUE"
		}
		return "FALSE"
	case nil:
		return "NULL"
	case float64:
		if kind == catalogue.KindInt {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func renderLiteralArray(v any, kind catalogue.AttributeKind, path string) ([]string, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, errAt(path, "operator requires an array literal")
	}
	items := make([]string, 0, len(arr))
	for _, elem := range arr {
		items = append(items, renderLiteral(elem, kind))
	}
	return items, nil
}

func buildLimitClause(f *filter.Filter) string {
	switch {
	case f.Limit != nil:
		skip := 0
		if f.Skip != nil {
			skip = *f.Skip
		}
		return fmt.Sprintf("LIMIT %d, %d", skip, *f.Limit)
	case f.Skip != nil:
		return fmt.Sprintf("LIMIT %d, MAX_INT", *f.Skip)
	default:
		return ""
	}
}

// Build renders f into the catalogue's JPQL-like query string rooted at entity root.
func (ib *ICATBuilder) Build(root string, f *filter.Filter) (Query, error) {
	rootEntity, err := catalogue.Lookup(root)
	if err != nil {
		return Query{}, &filter.BadFilterError{Msg: err.Error()}
	}
	if f == nil {
		f = &filter.Filter{}
	}

	b := newBuildState()
	const rootAlias = "o"

	var whereParts []string
	if f.Where != nil {
		cond, err := b.renderExpr(f.Where, rootEntity, rootAlias, nil)
		if err != nil {
			return Query{}, err
		}
		whereParts = append(whereParts, cond)
	}

	if len(f.Include) > 0 {
		if err := b.processIncludes(rootEntity, rootAlias, nil, f.Include); err != nil {
			return Query{}, err
		}
		whereParts = append(whereParts, b.scopedWhere...)
	}

	projection := "o"
	if len(f.Distinct) > 0 {
		fields := make([]string, 0, len(f.Distinct))
		for _, fld := range f.Distinct {
			alias, attr, _, err := b.resolvePath(rootEntity, rootAlias, nil, fld)
			if err != nil {
				return Query{}, err
			}
			fields = append(fields, alias+"."+attr)
		}
		projection = "DISTINCT " + strings.Join(fields, ", ")
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(projection)
	sb.WriteString(" FROM ")
	sb.WriteString(root)
	sb.WriteString(" o")
	for _, j := range b.joins {
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
			alias, attr, _, err := b.resolvePath(rootEntity, rootAlias, nil, o.Field)
			if err != nil {
				return Query{}, err
			}
			dir := "ASC"
			if o.Direction == filter.Desc {
				dir = "DESC"
			}
			terms = append(terms, fmt.Sprintf("%s.%s %s", alias, attr, dir))
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(terms, ", "))
	}
	if len(b.includeOrder) > 0 {
		sb.WriteString(" INCLUDE ")
		sb.WriteString(strings.Join(b.includeOrder, ", "))
	}
	if limitClause := buildLimitClause(f); limitClause != "" {
		sb.WriteString(" ")
		sb.WriteString(limitClause)
	}

	var distinctFields []string
	if len(f.Distinct) > 0 {
		distinctFields = append([]string{}, f.Distinct...)
	}

	return Query{
		Text:           sb.String(),
		Includes:       append([]string{}, b.includeOrder...),
		DistinctFields: distinctFields,
	}, nil
}

// BuildCount renders "SELECT COUNT(o) FROM <Entity> o <joins> <where>", ignoring
// distinct/order/limit/include: a row count has no projection or ordering to honour.
func (ib *ICATBuilder) BuildCount(root string, f *filter.Filter) (Query, error) {
	rootEntity, err := catalogue.Lookup(root)
	if err != nil {
		return Query{}, &filter.BadFilterError{Msg: err.Error()}
	}
	if f == nil {
		f = &filter.Filter{}
	}

	b := newBuildState()
	const rootAlias = "o"

	var whereParts []string
	if f.Where != nil {
		cond, err := b.renderExpr(f.Where, rootEntity, rootAlias, nil)
		if err != nil {
			return Query{}, err
		}
		whereParts = append(whereParts, cond)
	}

	var sb strings.Builder
	sb.WriteString("SELECT COUNT(o) FROM ")
	sb.WriteString(root)
	sb.WriteString(" o")
	for _, j := range b.joins {
		sb.WriteString(" ")
		sb.WriteString(j)
	}
	if len(whereParts) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(whereParts, " AND "))
	}

	return Query{Text: sb.String()}, nil
}
