package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/icatgateway/gateway/internal/icatclient"
	"github.com/icatgateway/gateway/internal/orchestrator"
	"github.com/icatgateway/gateway/internal/projection"
	"github.com/icatgateway/gateway/internal/session"
)

func testSearchMapping() projection.Mapping {
	return projection.Mapping{
		"Dataset": {
			BaseEntity: "Dataset",
			Fields: map[string]projection.FieldMapping{
				"pid":      {Path: "doi"},
				"title":    {Path: "name"},
				"isPublic": {Path: "complete"},
				"files":    {Path: "datafiles", TargetEntity: "File"},
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

// newTestSearchAPI wires a SearchAPIHandler against a fake ICAT server, capturing
// every query string /entityManager receives.
func newTestSearchAPI(t *testing.T, entityManager http.HandlerFunc) (http.Handler, *[]string) {
	t.Helper()
	var queries []string
	mux := baseICATMux()
	mux.HandleFunc("/entityManager", func(w http.ResponseWriter, r *http.Request) {
		queries = append(queries, r.URL.Query().Get("query"))
		entityManager(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client, err := icatclient.New(srv.URL, true, "", 2*time.Second, slog.Default())
	if err != nil {
		t.Fatalf("icatclient.New: %v", err)
	}
	pool, err := session.New(context.Background(), client, testPoolConfig(), slog.Default())
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}

	backend := orchestrator.NewCatalogueBackend(pool, client)
	orch := orchestrator.New(backend, testSearchMapping(), slog.Default())

	router := chi.NewRouter()
	router.Route("/search-api", NewSearchAPIHandler(orch).Routes)
	return router, &queries
}

func TestSearchAPIListRewritesAndReshapes(t *testing.T) {
	router, queries := newTestSearchAPI(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{{"doi": "abc-123", "name": "my dataset", "complete": true}})
	})

	target := "/search-api/datasets?filter=" + url.QueryEscape(`{"where":{"title":{"eq":"my dataset"}}}`)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}

	var rows []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &rows); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(rows) != 1 || rows[0]["pid"] != "abc-123" || rows[0]["title"] != "my dataset" {
		t.Fatalf("unexpected rows: %v", rows)
	}
	if _, ok := rows[0]["doi"]; ok {
		t.Fatalf("catalogue field leaked into the Search-schema response: %v", rows[0])
	}

	if len(*queries) != 1 || !strings.Contains((*queries)[0], "o.name = 'my dataset'") {
		t.Fatalf("unexpected catalogue queries: %v", *queries)
	}
}

func TestSearchAPICount(t *testing.T) {
	router, _ := newTestSearchAPI(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]int64{3})
	})

	target := "/search-api/datasets/count?where=" + url.QueryEscape(`{"title":{"eq":"A"}}`)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
	var n int64
	if err := json.Unmarshal(w.Body.Bytes(), &n); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if n != 3 {
		t.Fatalf("count = %d, want 3", n)
	}
}

func TestSearchAPIGetByPIDNotFound(t *testing.T) {
	router, _ := newTestSearchAPI(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{})
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/search-api/datasets/no-such-pid", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestSearchAPIDatasetFilesInjectsImplicitWhere(t *testing.T) {
	router, queries := newTestSearchAPI(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{{"id": float64(1), "name": "a.nxs"}})
	})

	target := "/search-api/datasets/abc-123/files?filter=" + url.QueryEscape(`{"limit":5}`)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}

	if len(*queries) != 1 {
		t.Fatalf("queries = %v, want exactly one", *queries)
	}
	q := (*queries)[0]
	if !strings.Contains(q, "FROM Datafile o") || !strings.Contains(q, "o1.doi = 'abc-123'") || !strings.Contains(q, "LIMIT 0, 5") {
		t.Fatalf("unexpected catalogue query: %q", q)
	}

	var rows []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &rows); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(rows) != 1 || rows[0]["name"] != "a.nxs" {
		t.Fatalf("unexpected rows: %v", rows)
	}
	if _, ok := rows[0]["dataset"]; ok {
		t.Fatalf("dataset relation should be absent unless requested: %v", rows[0])
	}
}

func TestSearchAPIBadFilterNamesOffendingNode(t *testing.T) {
	router, _ := newTestSearchAPI(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{})
	})

	target := "/search-api/datasets?filter=" + url.QueryEscape(`{"where":{"size":{"between":[5]}}}`)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body=%s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "where.size.between") {
		t.Fatalf("error body should name the offending node, got %s", w.Body.String())
	}
}
