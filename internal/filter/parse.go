package filter

import (
	"encoding/json"
	"fmt"
)

// topLevelKeys are the only keys recognised at the root of a filter object.
var topLevelKeys = map[string]bool{
	"where": true, "include": true, "limit": true, "skip": true,
	"order": true, "distinct": true,
}

// Parse decodes a filter from either a JSON-encoded string or an already-decoded
// structured value (map[string]any, produced by an upstream json.Unmarshal into
// any). A nil/empty raw string yields an empty, non-nil Filter.
func Parse(raw any) (*Filter, error) {
	switch v := raw.(type) {
	case nil:
		return &Filter{}, nil
	case string:
		if v == "" {
			return &Filter{}, nil
		}
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err != nil {
			return nil, badFilter("", "invalid JSON: %v", err)
		}
		return parseValue(decoded)
	default:
		return parseValue(raw)
	}
}

// ParseString is a convenience wrapper for the common case of a query-string value.
func ParseString(raw string) (*Filter, error) {
	return Parse(raw)
}

func parseValue(decoded any) (*Filter, error) {
	obj, ok := decoded.(map[string]any)
	if !ok {
		return nil, badFilter("", "filter must be a JSON object")
	}

	for key := range obj {
		if !topLevelKeys[key] {
			return nil, badFilter(key, "unrecognised filter key %q", key)
		}
	}

	f := &Filter{}
	var err error

	if rawWhere, present := obj["where"]; present {
		f.Where, err = decodeWhere(rawWhere, "where")
		if err != nil {
			return nil, err
		}
	}

	if rawInclude, present := obj["include"]; present {
		f.Include, err = decodeInclude(rawInclude, "include")
		if err != nil {
			return nil, err
		}
	}

	if rawLimit, present := obj["limit"]; present {
		n, err := decodeNonNegativeInt(rawLimit, "limit")
		if err != nil {
			return nil, err
		}
		f.Limit = &n
	}

	if rawSkip, present := obj["skip"]; present {
		n, err := decodeNonNegativeInt(rawSkip, "skip")
		if err != nil {
			return nil, err
		}
		f.Skip = &n
	}

	if rawOrder, present := obj["order"]; present {
		f.Order, err = decodeOrder(rawOrder, "order")
		if err != nil {
			return nil, err
		}
	}

	if rawDistinct, present := obj["distinct"]; present {
		f.Distinct, err = decodeDistinct(rawDistinct, "distinct")
		if err != nil {
			return nil, err
		}
	}

	return f, nil
}

// decodeWhere implements the top-down rules of §4.1:
//  1. a single `and`/`or` key with an array value is a compound node;
//  2. otherwise the node is a conjunction of per-field clauses;
//  3. a top-level array of single-key field maps is an implicit `and` (legacy shape).
func decodeWhere(raw any, path string) (Expr, error) {
	switch v := raw.(type) {
	case []any:
		return decodeLegacyAndArray(v, path)
	case map[string]any:
		if len(v) == 1 {
			for key, val := range v {
				if key == "and" || key == "or" {
					children, ok := val.([]any)
					if !ok {
						return nil, badFilter(path+"."+key, "%s must be an array", key)
					}
					return decodeCompound(key, children, path+"."+key)
				}
			}
		}
		return decodeFieldConjunction(v, path)
	default:
		return nil, badFilter(path, "where must be an object or array")
	}
}

func decodeCompound(op string, children []any, path string) (Expr, error) {
	if len(children) == 0 {
		return nil, badFilter(path, "%s requires at least one child", op)
	}
	exprs := make([]Expr, 0, len(children))
	for i, child := range children {
		childPath := fmt.Sprintf("%s[%d]", path, i)
		expr, err := decodeWhere(child, childPath)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, expr)
	}
	if op == "and" {
		return And{Children: exprs}, nil
	}
	return Or{Children: exprs}, nil
}

// decodeLegacyAndArray handles the `[{field: value}, {field: value}, …]` shape.
func decodeLegacyAndArray(elems []any, path string) (Expr, error) {
	if len(elems) == 0 {
		return nil, badFilter(path, "where array requires at least one element")
	}
	exprs := make([]Expr, 0, len(elems))
	for i, elem := range elems {
		m, ok := elem.(map[string]any)
		if !ok {
			return nil, badFilter(fmt.Sprintf("%s[%d]", path, i), "expected a field object")
		}
		expr, err := decodeFieldConjunction(m, fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, expr)
	}
	if len(exprs) == 1 {
		return exprs[0], nil
	}
	return And{Children: exprs}, nil
}

// decodeFieldConjunction decodes a map of field -> clause into an And of Cmp nodes
// (a bare single field collapses to the Cmp itself, per "a single leaf is also legal
// at the root").
func decodeFieldConjunction(m map[string]any, path string) (Expr, error) {
	if len(m) == 0 {
		return nil, badFilter(path, "empty where object")
	}
	exprs := make([]Expr, 0, len(m))
	for field, val := range m {
		cmp, err := decodeFieldClause(field, val, path+"."+field)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, cmp)
	}
	if len(exprs) == 1 {
		return exprs[0], nil
	}
	return And{Children: exprs}, nil
}

// decodeFieldClause decodes a single field's clause: either a scalar (implicit eq) or
// an object whose single key is a recognised operator.
func decodeFieldClause(field string, val any, path string) (Expr, error) {
	if opObj, ok := val.(map[string]any); ok {
		if len(opObj) != 1 {
			return nil, badFilter(path, "operator object must have exactly one key")
		}
		for opName, opVal := range opObj {
			op := Op(opName)
			if !validOps[op] {
				return nil, badFilter(path, "unknown operator %q", opName)
			}
			if err := validateOperand(op, opVal, path+"."+opName); err != nil {
				return nil, err
			}
			return Cmp{Field: field, Op: op, Value: opVal}, nil
		}
	}
	return Cmp{Field: field, Op: OpEq, Value: val}, nil
}

// validateOperand enforces the type invariants from §3: between/in/nin require array
// literals (between exactly 2 elements), text/regexp/like-family require strings.
func validateOperand(op Op, val any, path string) error {
	switch op {
	case OpBetween:
		arr, ok := val.([]any)
		if !ok || len(arr) != 2 {
			return badFilter(path, "between requires an array of exactly two elements")
		}
	case OpIn, OpNin:
		if _, ok := val.([]any); !ok {
			return badFilter(path, "%s requires an array literal", op)
		}
	case OpText, OpRegexp, OpLike, OpNlike, OpIlike, OpNilike:
		if _, ok := val.(string); !ok {
			return badFilter(path, "%s requires a string literal", op)
		}
	}
	return nil
}

// decodeInclude decodes the include list. Each element is either a relation name
// string or an object {relation, scope}.
func decodeInclude(raw any, path string) ([]Include, error) {
	arr, ok := raw.([]any)
	if !ok {
		// A single include may be given unwrapped, per common ORM convention.
		arr = []any{raw}
	}
	includes := make([]Include, 0, len(arr))
	for i, elem := range arr {
		elemPath := fmt.Sprintf("%s[%d]", path, i)
		switch v := elem.(type) {
		case string:
			includes = append(includes, Include{Relation: v})
		case map[string]any:
			relName, _ := v["relation"].(string)
			if relName == "" {
				return nil, badFilter(elemPath, "include object requires a non-empty relation name")
			}
			inc := Include{Relation: relName}
			if rawScope, present := v["scope"]; present {
				scope, err := parseValue(rawScope)
				if err != nil {
					return nil, err
				}
				inc.Scope = scope
			}
			includes = append(includes, inc)
		default:
			return nil, badFilter(elemPath, "include entry must be a string or object")
		}
	}
	return includes, nil
}

// decodeOrder decodes the order list. Accepts a single string, or an array of
// strings of the form "field" or "field direction".
func decodeOrder(raw any, path string) ([]OrderTerm, error) {
	switch v := raw.(type) {
	case string:
		term, err := parseOrderTerm(v, path)
		if err != nil {
			return nil, err
		}
		return []OrderTerm{term}, nil
	case []any:
		terms := make([]OrderTerm, 0, len(v))
		for i, elem := range v {
			s, ok := elem.(string)
			if !ok {
				return nil, badFilter(fmt.Sprintf("%s[%d]", path, i), "order entry must be a string")
			}
			term, err := parseOrderTerm(s, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			terms = append(terms, term)
		}
		return terms, nil
	default:
		return nil, badFilter(path, "order must be a string or array of strings")
	}
}

func parseOrderTerm(s string, path string) (OrderTerm, error) {
	field := s
	dir := Asc
	// "field ASC" / "field DESC", whitespace separated, direction optional.
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ' ' {
			field = s[:i]
			suffix := s[i+1:]
			switch suffix {
			case "asc", "ASC":
				dir = Asc
			case "desc", "DESC":
				dir = Desc
			default:
				return OrderTerm{}, badFilter(path, "unknown order direction %q", suffix)
			}
			break
		}
	}
	if field == "" {
		return OrderTerm{}, badFilter(path, "order entry has an empty field")
	}
	return OrderTerm{Field: field, Direction: dir}, nil
}

// decodeDistinct decodes the distinct field list. Accepts a single string or an array
// of strings.
func decodeDistinct(raw any, path string) ([]string, error) {
	switch v := raw.(type) {
	case string:
		return []string{v}, nil
	case []any:
		fields := make([]string, 0, len(v))
		for i, elem := range v {
			s, ok := elem.(string)
			if !ok {
				return nil, badFilter(fmt.Sprintf("%s[%d]", path, i), "distinct entry must be a string")
			}
			fields = append(fields, s)
		}
		return fields, nil
	default:
		return nil, badFilter(path, "distinct must be a string or array of strings")
	}
}

func decodeNonNegativeInt(raw any, path string) (int, error) {
	f, ok := raw.(float64)
	if !ok {
		return 0, badFilter(path, "must be a non-negative integer")
	}
	n := int(f)
	if float64(n) != f || n < 0 {
		return 0, badFilter(path, "must be a non-negative integer")
	}
	return n, nil
}
