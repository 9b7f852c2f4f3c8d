package querybuilder

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

func TestBuildSimpleWhereAndLimit(t *testing.T) {
	f := mustParse(t, `{"where":{"title":{"like":"dog%"}},"limit":2}`)
	q, err := NewICATBuilder().Build("Investigation", f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "SELECT o FROM Investigation o WHERE o.title LIKE 'dog%' LIMIT 0, 2"
	if q.Text != want {
		t.Fatalf("Text = %q, want %q", q.Text, want)
	}
}

func TestBuildImplicitJoinNotIncluded(t *testing.T) {
	f := mustParse(t, `{"where":{"dataset.doi":{"eq":"abc-123"}},"limit":5}`)
	q, err := NewICATBuilder().Build("Datafile", f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "SELECT o FROM Datafile o JOIN o.dataset o1 WHERE o1.doi = 'abc-123' LIMIT 0, 5"
	if q.Text != want {
		t.Fatalf("Text = %q, want %q", q.Text, want)
	}
	if len(q.Includes) != 0 {
		t.Fatalf("Includes = %v, want none (implicit join must not become an INCLUDE)", q.Includes)
	}
}

func TestBuildIncludeWithScopedWhere(t *testing.T) {
	f := mustParse(t, `{"include":[{"relation":"datasets","scope":{"where":{"name":{"eq":"x"}}}}]}`)
	q, err := NewICATBuilder().Build("Investigation", f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "SELECT o FROM Investigation o JOIN o.datasets o1 WHERE o1.name = 'x' INCLUDE o1"
	if q.Text != want {
		t.Fatalf("Text = %q, want %q", q.Text, want)
	}
	if len(q.Includes) != 1 || q.Includes[0] != "o1" {
		t.Fatalf("Includes = %v, want [o1]", q.Includes)
	}
}

func TestBuildSkipAloneRendersMaxInt(t *testing.T) {
	f := mustParse(t, `{"skip":10}`)
	q, err := NewICATBuilder().Build("Dataset", f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "SELECT o FROM Dataset o LIMIT 10, MAX_INT"
	if q.Text != want {
		t.Fatalf("Text = %q, want %q", q.Text, want)
	}
}

func TestBuildDistinctProjection(t *testing.T) {
	f := mustParse(t, `{"distinct":["name"]}`)
	q, err := NewICATBuilder().Build("Dataset", f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "SELECT DISTINCT o.name FROM Dataset o"
	if q.Text != want {
		t.Fatalf("Text = %q, want %q", q.Text, want)
	}
}

func TestBuildDuplicateIncludePathReusesAlias(t *testing.T) {
	f := mustParse(t, `{"where":{"dataset.doi":{"eq":"a"}},"include":["dataset"]}`)
	q, err := NewICATBuilder().Build("Datafile", f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "SELECT o FROM Datafile o JOIN o.dataset o1 WHERE o1.doi = 'a' INCLUDE o1"
	if q.Text != want {
		t.Fatalf("Text = %q, want %q", q.Text, want)
	}
}

func TestBuildUnknownAttributeRejected(t *testing.T) {
	f := mustParse(t, `{"where":{"bogus":{"eq":1}}}`)
	_, err := NewICATBuilder().Build("Dataset", f)
	if err == nil {
		t.Fatalf("expected error for unknown attribute")
	}
}

func TestBuildUnknownRelationRejected(t *testing.T) {
	f := mustParse(t, `{"include":["noSuchRelation"]}`)
	_, err := NewICATBuilder().Build("Dataset", f)
	if err == nil {
		t.Fatalf("expected error for unknown relation")
	}
}

func TestBuildBetweenRenders(t *testing.T) {
	f := mustParse(t, `{"where":{"fileSize":{"between":[1,100]}}}`)
	q, err := NewICATBuilder().Build("Datafile", f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "SELECT o FROM Datafile o WHERE o.fileSize BETWEEN 1 AND 100"
	if q.Text != want {
		t.Fatalf("Text = %q, want %q", q.Text, want)
	}
}

func TestBuildTextOperatorAcrossSearchableFields(t *testing.T) {
	f := mustParse(t, `{"where":{"":{"text":"graphene"}}}`)
	q, err := NewICATBuilder().Build("Dataset", f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "SELECT o FROM Dataset o WHERE (o.name LIKE '%graphene%' OR o.description LIKE '%graphene%')"
	if q.Text != want {
		t.Fatalf("Text = %q, want %q", q.Text, want)
	}
}

func TestBuildUnknownRootEntity(t *testing.T) {
	_, err := NewICATBuilder().Build("NotAnEntity", &filter.Filter{})
	if err == nil {
		t.Fatalf("expected error for unknown root entity")
	}
}
