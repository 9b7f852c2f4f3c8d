package projection

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/icatgateway/gateway/internal/filter"
)

// dateOnly matches a bare YYYY-MM-DD literal, the one date shape the Search API accepts
// that ICAT's JPQL-like layer does not: normalized to midnight UTC before it reaches the
// query builder.
var dateOnly = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// RewriteFilter translates a filter expressed against a Search-schema entity into one
// rooted at that entity's mapped catalogue entity, returning the catalogue entity name
// the rewritten filter should be built against.
func RewriteFilter(m Mapping, searchEntity string, f *filter.Filter) (string, *filter.Filter, error) {
	em, ok := m[searchEntity]
	if !ok {
		return "", nil, fmt.Errorf("projection: unknown search entity %q", searchEntity)
	}
	if f == nil {
		return em.BaseEntity, &filter.Filter{}, nil
	}

	out := &filter.Filter{Limit: f.Limit, Skip: f.Skip}

	if f.Where != nil {
		w, err := rewriteExpr(m, searchEntity, f.Where)
		if err != nil {
			return "", nil, err
		}
		out.Where = w
	}

	for _, inc := range f.Include {
		rc, err := rewriteInclude(m, searchEntity, inc)
		if err != nil {
			return "", nil, err
		}
		out.Include = append(out.Include, rc)
	}

	for _, ot := range f.Order {
		catPath, _, err := resolveFieldChain(m, searchEntity, ot.Field, false)
		if err != nil {
			return "", nil, err
		}
		out.Order = append(out.Order, filter.OrderTerm{Field: catPath, Direction: ot.Direction})
	}

	for _, d := range f.Distinct {
		catPath, _, err := resolveFieldChain(m, searchEntity, d, false)
		if err != nil {
			return "", nil, err
		}
		out.Distinct = append(out.Distinct, catPath)
	}

	return em.BaseEntity, out, nil
}

// resolveFieldChain walks a dotted Search-schema field path, replacing each segment
// with its mapped catalogue path and following TargetEntity across relation hops. When
// allowRelationLeaf is false the final segment must resolve to a scalar catalogue
// attribute (ordinary where/order/distinct fields); when true the final segment may
// also be a relation, in which case the returned catalogue path names the relation chain
// reaching that entity rather than a leaf attribute (the `text` operator searches across
// an entity's whole text-searchable attribute set, not one named field).
//
// An empty path resolves to the root entity itself: catalogue path "", leaf entity
// searchEntity.
func resolveFieldChain(m Mapping, searchEntity, path string, allowRelationLeaf bool) (string, string, error) {
	segments := splitPath(path)
	if len(segments) == 0 {
		return "", searchEntity, nil
	}

	current := searchEntity
	var catalogueSegs []string
	for i, seg := range segments {
		em, ok := m[current]
		if !ok {
			return "", "", fmt.Errorf("projection: unknown search entity %q", current)
		}
		fm, ok := em.Fields[seg]
		if !ok {
			return "", "", fmt.Errorf("projection: %s has no field %q", current, seg)
		}
		if fm.HasConstant {
			return "", "", fmt.Errorf("projection: %s.%s is a constant field, cannot filter on it", current, seg)
		}
		if fm.All {
			return "", "", fmt.Errorf("projection: %s.%s is an ALL projection, cannot filter on it", current, seg)
		}
		catalogueSegs = append(catalogueSegs, splitPath(fm.Path)...)

		last := i == len(segments)-1
		if !last {
			if fm.TargetEntity == "" {
				return "", "", fmt.Errorf("projection: %s.%s is not a relation, path cannot continue", current, seg)
			}
			current = fm.TargetEntity
			continue
		}
		if fm.TargetEntity != "" {
			if !allowRelationLeaf {
				return "", "", fmt.Errorf("projection: %s.%s is a relation, not a scalar field", current, seg)
			}
			current = fm.TargetEntity
		}
	}
	return strings.Join(catalogueSegs, "."), current, nil
}

func rewriteExpr(m Mapping, searchEntity string, expr filter.Expr) (filter.Expr, error) {
	switch v := expr.(type) {
	case filter.And:
		children, err := rewriteChildren(m, searchEntity, v.Children)
		if err != nil {
			return nil, err
		}
		return filter.And{Children: children}, nil
	case filter.Or:
		children, err := rewriteChildren(m, searchEntity, v.Children)
		if err != nil {
			return nil, err
		}
		return filter.Or{Children: children}, nil
	case filter.Cmp:
		catPath, _, err := resolveFieldChain(m, searchEntity, v.Field, v.Op == filter.OpText)
		if err != nil {
			return nil, err
		}
		return filter.Cmp{Field: catPath, Op: v.Op, Value: normalizeValue(v.Value)}, nil
	default:
		return nil, fmt.Errorf("projection: unrecognised filter expression node %T", expr)
	}
}

func rewriteChildren(m Mapping, searchEntity string, children []filter.Expr) ([]filter.Expr, error) {
	out := make([]filter.Expr, 0, len(children))
	for _, c := range children {
		rc, err := rewriteExpr(m, searchEntity, c)
		if err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, nil
}

// rewriteInclude translates a Search-schema include into a catalogue include, expanding
// any intermediate catalogue relations the mapping's Path hops through transparently: a
// Search relation whose Path is "facility.instruments" becomes a two-level catalogue
// include chain with the caller's scope attached at the innermost level.
func rewriteInclude(m Mapping, searchEntity string, inc filter.Include) (filter.Include, error) {
	em, ok := m[searchEntity]
	if !ok {
		return filter.Include{}, fmt.Errorf("projection: unknown search entity %q", searchEntity)
	}
	fm, ok := em.Fields[inc.Relation]
	if !ok {
		return filter.Include{}, fmt.Errorf("projection: %s has no field %q", searchEntity, inc.Relation)
	}
	if fm.HasConstant || fm.All {
		return filter.Include{}, fmt.Errorf("projection: %s.%s cannot be included", searchEntity, inc.Relation)
	}
	if fm.TargetEntity == "" {
		return filter.Include{}, fmt.Errorf("projection: %s.%s is not a relation", searchEntity, inc.Relation)
	}
	segments := splitPath(fm.Path)
	if len(segments) == 0 {
		return filter.Include{}, fmt.Errorf("projection: %s.%s has an empty catalogue path", searchEntity, inc.Relation)
	}

	var innerScope *filter.Filter
	if inc.Scope != nil {
		innerScope = &filter.Filter{Limit: inc.Scope.Limit, Skip: inc.Scope.Skip}
		if inc.Scope.Where != nil {
			w, err := rewriteExpr(m, fm.TargetEntity, inc.Scope.Where)
			if err != nil {
				return filter.Include{}, err
			}
			innerScope.Where = w
		}
		for _, child := range inc.Scope.Include {
			rc, err := rewriteInclude(m, fm.TargetEntity, child)
			if err != nil {
				return filter.Include{}, err
			}
			innerScope.Include = append(innerScope.Include, rc)
		}
		for _, ot := range inc.Scope.Order {
			catPath, _, err := resolveFieldChain(m, fm.TargetEntity, ot.Field, false)
			if err != nil {
				return filter.Include{}, err
			}
			innerScope.Order = append(innerScope.Order, filter.OrderTerm{Field: catPath, Direction: ot.Direction})
		}
	}

	result := filter.Include{Relation: segments[len(segments)-1], Scope: innerScope}
	for i := len(segments) - 2; i >= 0; i-- {
		result = filter.Include{Relation: segments[i], Scope: &filter.Filter{Include: []filter.Include{result}}}
	}
	return result, nil
}

func normalizeValue(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	if dateOnly.MatchString(s) {
		return s + "T00:00:00Z"
	}
	return v
}

// DatasetFilesWhere builds the implicit where-expression for the
// GET /datasets/{pid}/files special case: files of the dataset identified by its
// catalogue-level public identifier. Callers AND this into an incoming Search-schema
// filter's Where clause before calling RewriteFilter on the "File" entity.
func DatasetFilesWhere(pid string) filter.Expr {
	return filter.Cmp{Field: "dataset.pid", Op: filter.OpEq, Value: pid}
}
