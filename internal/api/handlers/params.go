// params.go parses the query parameters shared by DataGateway and Search API
// requests: the JSON-string filter merged with individual where/limit/skip/
// include/order/distinct overrides (individual params take precedence).
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/oapi-codegen/runtime"

	"github.com/icatgateway/gateway/internal/filter"
)

// parseRequestFilter assembles a complete Filter from one request's query
// parameters: the base value decodes from the JSON-string `filter`, then any
// of where/limit/skip/include/order/distinct given individually override it.
func parseRequestFilter(r *http.Request) (*filter.Filter, error) {
	q := r.URL.Query()

	base, err := filter.ParseString(q.Get("filter"))
	if err != nil {
		return nil, err
	}

	override := &filter.Filter{}
	hasOverride := false

	if raw := q.Get("where"); raw != "" {
		w, err := parseWhereOnly(raw)
		if err != nil {
			return nil, err
		}
		override.Where = w.Where
		hasOverride = true
	}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, &filter.BadFilterError{Path: "limit", Msg: "must be a non-negative integer"}
		}
		override.Limit = &n
		hasOverride = true
	}

	if raw := q.Get("skip"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, &filter.BadFilterError{Path: "skip", Msg: "must be a non-negative integer"}
		}
		override.Skip = &n
		hasOverride = true
	}

	if raw := q.Get("include"); raw != "" {
		inc, err := parseIncludeOnly(raw)
		if err != nil {
			return nil, err
		}
		override.Include = inc.Include
		hasOverride = true
	}

	if q.Has("order") {
		var terms []string
		if err := runtime.BindQueryParameter("form", true, false, "order", q, &terms); err != nil {
			return nil, err
		}
		f, err := filter.Parse(map[string]any{"order": toAnySlice(terms)})
		if err != nil {
			return nil, err
		}
		override.Order = f.Order
		hasOverride = true
	}

	if q.Has("distinct") {
		var fields []string
		if err := runtime.BindQueryParameter("form", true, false, "distinct", q, &fields); err != nil {
			return nil, err
		}
		override.Distinct = fields
		hasOverride = true
	}

	if !hasOverride {
		return base, nil
	}
	return filter.Merge(base, override), nil
}

// mergePIDWhere layers an implicit `pid eq value` constraint onto f's where clause,
// used by the Search API's GET /{collection}/{pid} route to scope a list query down
// to one record without inventing a separate single-entity query path.
func mergePIDWhere(f *filter.Filter, pid string) *filter.Filter {
	if f == nil {
		f = &filter.Filter{}
	}
	scoped := *f
	pidClause := filter.Cmp{Field: "pid", Op: filter.OpEq, Value: pid}
	if scoped.Where == nil {
		scoped.Where = pidClause
	} else {
		scoped.Where = filter.And{Children: []filter.Expr{pidClause, scoped.Where}}
	}
	return &scoped
}

// parseCountFilter parses the parameters a count endpoint accepts: `where` (the
// documented shape for count requests) or, leniently, the same `filter` JSON string
// list/findone endpoints take. limit/skip/order/distinct/include play no role in a
// count and are ignored even if present.
func parseCountFilter(r *http.Request) (*filter.Filter, error) {
	q := r.URL.Query()
	if raw := q.Get("where"); raw != "" {
		return parseWhereOnly(raw)
	}
	if raw := q.Get("filter"); raw != "" {
		return filter.ParseString(raw)
	}
	return &filter.Filter{}, nil
}

// parseWhereOnly decodes a bare where-expression JSON value (the shape accepted by
// count endpoints' `where` parameter) into a one-field Filter.
func parseWhereOnly(raw string) (*filter.Filter, error) {
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, &filter.BadFilterError{Path: "where", Msg: "invalid JSON: " + err.Error()}
	}
	return filter.Parse(map[string]any{"where": decoded})
}

// parseIncludeOnly decodes a bare include-array JSON value into a one-field Filter.
func parseIncludeOnly(raw string) (*filter.Filter, error) {
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, &filter.BadFilterError{Path: "include", Msg: "invalid JSON: " + err.Error()}
	}
	return filter.Parse(map[string]any{"include": decoded})
}

func toAnySlice(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}
