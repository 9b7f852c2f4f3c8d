// Package filter implements the gateway's filter language: a typed representation of
// where/include/limit/skip/order/distinct and the parser that turns the stringified-JSON
// grammar borrowed from a well-known JavaScript ORM convention into it.
//
// Expr is a tagged-variant tree (And/Or/Cmp). Parse is the single boundary that
// constructs Expr values; everything downstream (querybuilder, projection) is total
// over the variant set and never re-validates operator/value shape.
package filter

import "fmt"

// Op is a where-clause comparison operator.
type Op string

const (
	OpEq     Op = "eq"
	OpNeq    Op = "neq"
	OpGt     Op = "gt"
	OpGte    Op = "gte"
	OpLt     Op = "lt"
	OpLte    Op = "lte"
	OpLike   Op = "like"
	OpNlike  Op = "nlike"
	OpIlike  Op = "ilike"
	OpNilike Op = "nilike"
	OpIn     Op = "in"
	OpNin    Op = "nin"
	OpBetween Op = "between"
	OpRegexp Op = "regexp"
	OpText   Op = "text"
)

// validOps is the recognised operator set, used to reject unknown operators early.
var validOps = map[Op]bool{
	OpEq: true, OpNeq: true, OpGt: true, OpGte: true, OpLt: true, OpLte: true,
	OpLike: true, OpNlike: true, OpIlike: true, OpNilike: true,
	OpIn: true, OpNin: true, OpBetween: true, OpRegexp: true, OpText: true,
}

// Direction is an ORDER BY direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Expr is a boolean where-expression node: And, Or, or Cmp.
type Expr interface {
	isExpr()
}

// And is a conjunction of child expressions.
type And struct {
	Children []Expr
}

// Or is a disjunction of child expressions.
type Or struct {
	Children []Expr
}

// Cmp compares a dotted field reference against a literal value with Op.
type Cmp struct {
	Field string
	Op    Op
	Value any
}

func (And) isExpr() {}
func (Or) isExpr()  {}
func (Cmp) isExpr() {}

// OrderTerm is one (field, direction) entry of an order filter.
type OrderTerm struct {
	Field     string
	Direction Direction
}

// Include is one relation expansion, optionally narrowed by its own scoped Filter.
type Include struct {
	Relation string
	Scope    *Filter
}

// Filter is the composite query-shaping value: where/include/limit/skip/order/distinct,
// all optional.
type Filter struct {
	Where    Expr
	Include  []Include
	Limit    *int
	Skip     *int
	Order    []OrderTerm
	Distinct []string
}

// IsZero reports whether every part of the filter is absent.
func (f *Filter) IsZero() bool {
	if f == nil {
		return true
	}
	return f.Where == nil && len(f.Include) == 0 && f.Limit == nil && f.Skip == nil &&
		len(f.Order) == 0 && len(f.Distinct) == 0
}

// BadFilterError is returned for any malformed filter input. Path names the offending
// node using dotted notation rooted at the filter's top-level keys, e.g.
// "where.size.between".
type BadFilterError struct {
	Path string
	Msg  string
}

func (e *BadFilterError) Error() string {
	if e.Path == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Msg)
}

func badFilter(path, format string, args ...any) *BadFilterError {
	return &BadFilterError{Path: path, Msg: fmt.Sprintf(format, args...)}
}
