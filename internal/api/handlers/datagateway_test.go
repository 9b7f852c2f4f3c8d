package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/icatgateway/gateway/internal/icatclient"
	"github.com/icatgateway/gateway/internal/orchestrator"
	"github.com/icatgateway/gateway/internal/session"
)

func testPoolConfig() session.Config {
	return session.Config{
		Mechanism:        "anon",
		Credentials:      map[string]string{},
		InitSize:         1,
		MaxSize:          2,
		BorrowTimeout:    200 * time.Millisecond,
		RefreshThreshold: time.Minute,
		MaintenanceTick:  time.Hour,
	}
}

// newTestDataGateway wires a DataGatewayHandler against a fake ICAT server,
// mirroring the session/client setup in internal/orchestrator's backend tests.
func newTestDataGateway(t *testing.T, mux *http.ServeMux) (*DataGatewayHandler, *httptest.Server) {
	t.Helper()
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
	orch := orchestrator.New(backend, nil, slog.Default())
	cache := session.NewAuthenticatorCache(8, time.Minute)
	return NewDataGatewayHandler(orch, pool, client, cache), srv
}

func baseICATMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"sessionId": "sess-1", "remainingMinutes": 60})
	})
	mux.HandleFunc("/session/", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"remainingMinutes": 60})
	})
	return mux
}

func TestDataGatewayListAndGetByID(t *testing.T) {
	mux := baseICATMux()
	mux.HandleFunc("/entityManager", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{{"id": 1, "name": "ds1"}})
	})
	handler, _ := newTestDataGateway(t, mux)

	router := chi.NewRouter()
	router.Route("/datagateway-api", handler.Routes)

	t.Run("list accepts the plural path segment", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/datagateway-api/Investigations", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
		}
		var rows []map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &rows); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
		if len(rows) != 1 || rows[0]["name"] != "ds1" {
			t.Fatalf("unexpected rows: %v", rows)
		}
	})

	t.Run("unknown entity is 404", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/datagateway-api/NotAnEntity", nil))
		if w.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", w.Code)
		}
	})

	t.Run("getByID rejects a non-integer id", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/datagateway-api/Investigation/not-a-number", nil))
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", w.Code)
		}
	})
}

func TestDataGatewayCount(t *testing.T) {
	mux := baseICATMux()
	mux.HandleFunc("/entityManager", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]int64{7})
	})
	handler, _ := newTestDataGateway(t, mux)

	router := chi.NewRouter()
	router.Route("/datagateway-api", handler.Routes)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/datagateway-api/Investigation/count", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
	var n int64
	if err := json.Unmarshal(w.Body.Bytes(), &n); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if n != 7 {
		t.Fatalf("count = %d, want 7", n)
	}
}

func TestDataGatewayCreate(t *testing.T) {
	mux := baseICATMux()
	mux.HandleFunc("/entityManager", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method %s", r.Method)
		}
		_ = json.NewEncoder(w).Encode([]int64{42})
	})
	handler, _ := newTestDataGateway(t, mux)

	router := chi.NewRouter()
	router.Route("/datagateway-api", handler.Routes)

	body := bytes.NewBufferString(`{"name":"new investigation"}`)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/datagateway-api/Investigation", body))
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", w.Code, w.Body.String())
	}
}

func TestDataGatewayCreateRejectsInvalidJSON(t *testing.T) {
	handler, _ := newTestDataGateway(t, baseICATMux())

	router := chi.NewRouter()
	router.Route("/datagateway-api", handler.Routes)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/datagateway-api/Investigation", bytes.NewBufferString("not json")))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestDataGatewayDeleteByID(t *testing.T) {
	mux := baseICATMux()
	deleted := false
	mux.HandleFunc("/entityManager", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Fatalf("unexpected method %s", r.Method)
		}
		deleted = true
		w.WriteHeader(http.StatusNoContent)
	})
	handler, _ := newTestDataGateway(t, mux)

	router := chi.NewRouter()
	router.Route("/datagateway-api", handler.Routes)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/datagateway-api/Investigation/1", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204, body=%s", w.Code, w.Body.String())
	}
	if !deleted {
		t.Fatalf("expected a DELETE to reach /entityManager/")
	}
}
