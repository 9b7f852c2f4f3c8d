package orchestrator

import (
	"context"
	"log/slog"
	"testing"

	"github.com/icatgateway/gateway/internal/filter"
	"github.com/icatgateway/gateway/internal/projection"
	"github.com/icatgateway/gateway/internal/querybuilder"
)

type fakeBuilder struct {
	lastRoot   string
	lastFilter *filter.Filter
}

func (b *fakeBuilder) Build(root string, f *filter.Filter) (querybuilder.Query, error) {
	b.lastRoot = root
	b.lastFilter = f
	return querybuilder.Query{Text: "SELECT o FROM " + root + " o"}, nil
}

func (b *fakeBuilder) BuildCount(root string, f *filter.Filter) (querybuilder.Query, error) {
	b.lastRoot = root
	b.lastFilter = f
	return querybuilder.Query{Text: "SELECT COUNT(o) FROM " + root + " o"}, nil
}

type fakeBackend struct {
	builder *fakeBuilder
	rows    []Row
}

func newFakeBackend(rows []Row) *fakeBackend {
	return &fakeBackend{builder: &fakeBuilder{}, rows: rows}
}

func (b *fakeBackend) Builder() querybuilder.Builder { return b.builder }

func (b *fakeBackend) Execute(ctx context.Context, q querybuilder.Query) ([]Row, error) {
	return b.rows, nil
}

func (b *fakeBackend) Count(ctx context.Context, q querybuilder.Query) (int64, error) {
	return int64(len(b.rows)), nil
}

func testMapping() projection.Mapping {
	return projection.Mapping{
		"Dataset": {
			BaseEntity: "Dataset",
			Fields: map[string]projection.FieldMapping{
				"pid":   {Path: "doi"},
				"title": {Path: "name"},
				"files": {Path: "datafiles", TargetEntity: "File"},
			},
		},
		"File": {
			BaseEntity: "Datafile",
			Fields: map[string]projection.FieldMapping{
				"id":      {Path: "id"},
				"name":    {Path: "name"},
				"dataset": {Path: "dataset", TargetEntity: "Dataset"},
			},
		},
	}
}

func TestQueryDataGatewayPassesThroughUnrewritten(t *testing.T) {
	backend := newFakeBackend([]Row{{"id": float64(1), "name": "x"}})
	o := New(backend, nil, slog.Default())

	resp, err := o.Query(context.Background(), Request{Entity: "Datafile", Filter: &filter.Filter{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if backend.builder.lastRoot != "Datafile" {
		t.Fatalf("root = %q, want Datafile", backend.builder.lastRoot)
	}
	if len(resp.Rows) != 1 || resp.Rows[0]["id"] != float64(1) {
		t.Fatalf("got %v", resp.Rows)
	}
}

func TestQuerySearchAPIRewritesAndReshapes(t *testing.T) {
	backend := newFakeBackend([]Row{{"doi": "abc-123", "name": "my dataset"}})
	o := New(backend, testMapping(), slog.Default())

	req := Request{
		Entity:      "Dataset",
		IsSearchAPI: true,
		Filter:      mustParse(t, `{"where":{"pid":{"eq":"abc-123"}}}`),
	}
	resp, err := o.Query(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if backend.builder.lastRoot != "Dataset" {
		t.Fatalf("root = %q, want Dataset", backend.builder.lastRoot)
	}
	cmp := backend.builder.lastFilter.Where.(filter.Cmp)
	if cmp.Field != "doi" {
		t.Fatalf("rewritten Where.Field = %q, want doi", cmp.Field)
	}
	if len(resp.Rows) != 1 || resp.Rows[0]["pid"] != "abc-123" {
		t.Fatalf("got %v", resp.Rows)
	}
}

func TestQuerySearchAPIWithoutMappingErrors(t *testing.T) {
	backend := newFakeBackend(nil)
	o := New(backend, nil, slog.Default())
	_, err := o.Query(context.Background(), Request{Entity: "Dataset", IsSearchAPI: true})
	if err == nil {
		t.Fatalf("expected error for search API request with no mapping configured")
	}
}

func TestDatasetFilesInjectsImplicitWhere(t *testing.T) {
	backend := newFakeBackend([]Row{{"id": float64(1), "name": "a.nxs"}})
	o := New(backend, testMapping(), slog.Default())

	_, err := o.DatasetFiles(context.Background(), "abc-123", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cmp := backend.builder.lastFilter.Where.(filter.Cmp)
	if cmp.Field != "dataset.doi" || cmp.Value != "abc-123" {
		t.Fatalf("got %+v", cmp)
	}
}

func TestDatasetFilesMergesWithExistingWhere(t *testing.T) {
	backend := newFakeBackend([]Row{})
	o := New(backend, testMapping(), slog.Default())

	existing := mustParse(t, `{"where":{"name":{"like":"%.nxs"}}}`)
	_, err := o.DatasetFiles(context.Background(), "abc-123", existing)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	and, ok := backend.builder.lastFilter.Where.(filter.And)
	if !ok || len(and.Children) != 2 {
		t.Fatalf("got %+v", backend.builder.lastFilter.Where)
	}
}

func TestCountRewritesSearchAPIFilter(t *testing.T) {
	backend := newFakeBackend([]Row{{"doi": "abc-123"}})
	o := New(backend, testMapping(), slog.Default())

	n, err := o.Count(context.Background(), Request{
		Entity:      "Dataset",
		IsSearchAPI: true,
		Filter:      mustParse(t, `{"where":{"pid":{"eq":"abc-123"}}}`),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}
	cmp := backend.builder.lastFilter.Where.(filter.Cmp)
	if cmp.Field != "doi" {
		t.Fatalf("rewritten Where.Field = %q, want doi", cmp.Field)
	}
}

func mustParse(t *testing.T, raw string) *filter.Filter {
	t.Helper()
	f, err := filter.Parse(raw)
	if err != nil {
		t.Fatalf("filter.Parse(%q): %v", raw, err)
	}
	return f
}
