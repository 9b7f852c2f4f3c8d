package filter

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestParseEmpty(t *testing.T) {
	for _, raw := range []any{nil, ""} {
		f, err := Parse(raw)
		if err != nil {
			t.Fatalf("Parse(%v) returned error: %v", raw, err)
		}
		if !f.IsZero() {
			t.Fatalf("Parse(%v) = %+v, want zero filter", raw, f)
		}
	}
}

func TestParseImplicitEq(t *testing.T) {
	f, err := Parse(`{"where":{"name":"caffeine"}}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := Cmp{Field: "name", Op: OpEq, Value: "caffeine"}
	if !reflect.DeepEqual(f.Where, want) {
		t.Fatalf("Where = %#v, want %#v", f.Where, want)
	}
}

func TestParseOperatorObject(t *testing.T) {
	f, err := Parse(`{"where":{"size":{"gt":5}}}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := Cmp{Field: "size", Op: OpGt, Value: float64(5)}
	if !reflect.DeepEqual(f.Where, want) {
		t.Fatalf("Where = %#v, want %#v", f.Where, want)
	}
}

func TestParseFieldConjunction(t *testing.T) {
	f, err := Parse(`{"where":{"name":"x","size":{"gt":1}}}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	and, ok := f.Where.(And)
	if !ok {
		t.Fatalf("Where = %#v, want And", f.Where)
	}
	if len(and.Children) != 2 {
		t.Fatalf("And has %d children, want 2", len(and.Children))
	}
}

func TestParseCompoundAndOr(t *testing.T) {
	f, err := Parse(`{"where":{"or":[{"name":"a"},{"name":"b"}]}}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	or, ok := f.Where.(Or)
	if !ok {
		t.Fatalf("Where = %#v, want Or", f.Where)
	}
	if len(or.Children) != 2 {
		t.Fatalf("Or has %d children, want 2", len(or.Children))
	}
	for _, c := range or.Children {
		if _, ok := c.(Cmp); !ok {
			t.Fatalf("child = %#v, want Cmp", c)
		}
	}
}

func TestParseLegacyArrayShape(t *testing.T) {
	f, err := Parse(`{"where":[{"name":"a"},{"size":{"lt":3}}]}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	and, ok := f.Where.(And)
	if !ok {
		t.Fatalf("Where = %#v, want And", f.Where)
	}
	if len(and.Children) != 2 {
		t.Fatalf("And has %d children, want 2", len(and.Children))
	}
}

func TestParseBetweenRejectsWrongArity(t *testing.T) {
	_, err := Parse(`{"where":{"size":{"between":[5]}}}`)
	if err == nil {
		t.Fatalf("expected error for malformed between clause")
	}
	bfe, ok := err.(*BadFilterError)
	if !ok {
		t.Fatalf("error type = %T, want *BadFilterError", err)
	}
	if bfe.Path != "where.size.between" {
		t.Fatalf("Path = %q, want %q", bfe.Path, "where.size.between")
	}
}

func TestParseInRequiresArray(t *testing.T) {
	_, err := Parse(`{"where":{"status":{"in":"not-an-array"}}}`)
	if err == nil {
		t.Fatalf("expected error for non-array in clause")
	}
}

func TestParseLikeRequiresString(t *testing.T) {
	_, err := Parse(`{"where":{"name":{"like":123}}}`)
	if err == nil {
		t.Fatalf("expected error for non-string like clause")
	}
}

func TestParseUnknownOperator(t *testing.T) {
	_, err := Parse(`{"where":{"name":{"bogus":1}}}`)
	if err == nil {
		t.Fatalf("expected error for unknown operator")
	}
}

func TestParseUnknownTopLevelKey(t *testing.T) {
	_, err := Parse(`{"wher":{"name":"x"}}`)
	if err == nil {
		t.Fatalf("expected error for unrecognised top-level key")
	}
}

func TestParseIncludeStringAndObject(t *testing.T) {
	f, err := Parse(`{"include":["datasets",{"relation":"investigationUsers","scope":{"limit":5}}]}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.Include) != 2 {
		t.Fatalf("got %d includes, want 2", len(f.Include))
	}
	if f.Include[0].Relation != "datasets" || f.Include[0].Scope != nil {
		t.Fatalf("Include[0] = %+v", f.Include[0])
	}
	if f.Include[1].Relation != "investigationUsers" {
		t.Fatalf("Include[1].Relation = %q", f.Include[1].Relation)
	}
	if f.Include[1].Scope == nil || f.Include[1].Scope.Limit == nil || *f.Include[1].Scope.Limit != 5 {
		t.Fatalf("Include[1].Scope = %+v", f.Include[1].Scope)
	}
}

func TestParseIncludeObjectRequiresRelation(t *testing.T) {
	_, err := Parse(`{"include":[{"scope":{"limit":1}}]}`)
	if err == nil {
		t.Fatalf("expected error for include object missing relation")
	}
}

func TestParseOrderVariants(t *testing.T) {
	cases := []struct {
		raw  string
		want []OrderTerm
	}{
		{`{"order":"name"}`, []OrderTerm{{Field: "name", Direction: Asc}}},
		{`{"order":"name DESC"}`, []OrderTerm{{Field: "name", Direction: Desc}}},
		{`{"order":["name ASC","size desc"]}`, []OrderTerm{
			{Field: "name", Direction: Asc},
			{Field: "size", Direction: Desc},
		}},
	}
	for _, tc := range cases {
		f, err := Parse(tc.raw)
		if err != nil {
			t.Fatalf("Parse(%q) error: %v", tc.raw, err)
		}
		if !reflect.DeepEqual(f.Order, tc.want) {
			t.Fatalf("Parse(%q).Order = %+v, want %+v", tc.raw, f.Order, tc.want)
		}
	}
}

func TestParseOrderUnknownDirection(t *testing.T) {
	_, err := Parse(`{"order":"name sideways"}`)
	if err == nil {
		t.Fatalf("expected error for unknown order direction")
	}
}

func TestParseDistinctSingleAndArray(t *testing.T) {
	f, err := Parse(`{"distinct":"name"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(f.Distinct, []string{"name"}) {
		t.Fatalf("Distinct = %v", f.Distinct)
	}

	f, err = Parse(`{"distinct":["name","size"]}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(f.Distinct, []string{"name", "size"}) {
		t.Fatalf("Distinct = %v", f.Distinct)
	}
}

func TestParseLimitSkip(t *testing.T) {
	f, err := Parse(`{"limit":10,"skip":5}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Limit == nil || *f.Limit != 10 {
		t.Fatalf("Limit = %v, want 10", f.Limit)
	}
	if f.Skip == nil || *f.Skip != 5 {
		t.Fatalf("Skip = %v, want 5", f.Skip)
	}
}

func TestParseNegativeLimitRejected(t *testing.T) {
	_, err := Parse(`{"limit":-1}`)
	if err == nil {
		t.Fatalf("expected error for negative limit")
	}
}

func TestParseNonIntegerLimitRejected(t *testing.T) {
	_, err := Parse(`{"limit":1.5}`)
	if err == nil {
		t.Fatalf("expected error for non-integer limit")
	}
}

func TestParseInvalidJSON(t *testing.T) {
	_, err := Parse(`{"where":`)
	if err == nil {
		t.Fatalf("expected error for invalid JSON")
	}
}

// TestRoundTrip exercises the round-trip property named in the testable properties
// section: a Filter built from decoded JSON and re-parsed from its own JSON
// representation must decode to an equal value.
func TestRoundTrip(t *testing.T) {
	original := map[string]any{
		"where": map[string]any{
			"and": []any{
				map[string]any{"name": "caffeine"},
				map[string]any{"size": map[string]any{"gte": float64(2)}},
			},
		},
		"order":    "name DESC",
		"limit":    float64(20),
		"skip":     float64(0),
		"distinct": []any{"name"},
	}

	f1, err := Parse(original)
	if err != nil {
		t.Fatalf("first parse error: %v", err)
	}

	b, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	f2, err := Parse(string(b))
	if err != nil {
		t.Fatalf("second parse error: %v", err)
	}

	if !reflect.DeepEqual(f1, f2) {
		t.Fatalf("round trip mismatch:\n%#v\n%#v", f1, f2)
	}
}
