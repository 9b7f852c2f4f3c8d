package relational

import (
	"testing"

	"github.com/icatgateway/gateway/internal/filter"
)

func mustParse(t *testing.T, raw string) *filter.Filter {
	t.Helper()
	f, err := filter.Parse(raw)
	if err != nil {
		t.Fatalf("filter.Parse(%q) error: %v", raw, err)
	}
	return f
}

func TestBuildSimpleWhere(t *testing.T) {
	f := mustParse(t, `{"where":{"name":{"eq":"x"}},"limit":10,"skip":5}`)
	q, err := NewSQLBuilder().Build("Dataset", f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "SELECT t0.* FROM dataset t0 WHERE t0.name = $1 LIMIT 10 OFFSET 5"
	if q.Text != want {
		t.Fatalf("Text = %q, want %q", q.Text, want)
	}
	if len(q.Bindings) != 1 || q.Bindings[0] != "x" {
		t.Fatalf("Bindings = %v, want [x]", q.Bindings)
	}
}

func TestBuildJoinsToOneRelation(t *testing.T) {
	f := mustParse(t, `{"where":{"investigation.title":{"like":"dog%"}}}`)
	q, err := NewSQLBuilder().Build("Dataset", f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "SELECT t0.* FROM dataset t0 LEFT JOIN investigation t1 ON t0.investigation_id = t1.id WHERE t1.title LIKE $1"
	if q.Text != want {
		t.Fatalf("Text = %q, want %q", q.Text, want)
	}
}

func TestBuildInOperator(t *testing.T) {
	f := mustParse(t, `{"where":{"name":{"in":["a","b","c"]}}}`)
	q, err := NewSQLBuilder().Build("Dataset", f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "SELECT t0.* FROM dataset t0 WHERE t0.name IN ($1, $2, $3)"
	if q.Text != want {
		t.Fatalf("Text = %q, want %q", q.Text, want)
	}
	if len(q.Bindings) != 3 {
		t.Fatalf("Bindings = %v, want 3 entries", q.Bindings)
	}
}

func TestBuildUnknownAttributeRejected(t *testing.T) {
	f := mustParse(t, `{"where":{"bogus":{"eq":1}}}`)
	if _, err := NewSQLBuilder().Build("Dataset", f); err == nil {
		t.Fatalf("expected error for unknown attribute")
	}
}

func TestBuildDistinctProjection(t *testing.T) {
	f := mustParse(t, `{"distinct":["name"]}`)
	q, err := NewSQLBuilder().Build("Dataset", f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "SELECT DISTINCT t0.name FROM dataset t0"
	if q.Text != want {
		t.Fatalf("Text = %q, want %q", q.Text, want)
	}
}

func TestToSnakeCase(t *testing.T) {
	cases := map[string]string{
		"Investigation":      "investigation",
		"InvestigationUser":  "investigation_user",
		"fileSize":           "file_size",
		"doi":                "doi",
	}
	for in, want := range cases {
		if got := toSnakeCase(in); got != want {
			t.Fatalf("toSnakeCase(%q) = %q, want %q", in, got, want)
		}
	}
}
