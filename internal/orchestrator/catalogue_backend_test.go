package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/icatgateway/gateway/internal/icatclient"
	"github.com/icatgateway/gateway/internal/querybuilder"
	"github.com/icatgateway/gateway/internal/session"
)

// newExpiringCatalogue starts a catalogue double whose /entityManager endpoint rejects
// the first issued session id (sess-1) while *expireFirstSession is 1, forcing
// exactly one SessionExpired round trip per query.
func newExpiringCatalogue(t *testing.T, expireFirstSession *int32) (*icatclient.Client, *int32) {
	t.Helper()
	var logins int32
	mux := http.NewServeMux()
	mux.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		id := atomic.AddInt32(&logins, 1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"sessionId":        fmt.Sprintf("sess-%d", id),
			"remainingMinutes": 60,
		})
	})
	mux.HandleFunc("/session/", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode(map[string]any{"remainingMinutes": 60})
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		}
	})
	mux.HandleFunc("/entityManager", func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.URL.Query().Get("sessionId")
		if sessionID == "sess-1" && atomic.LoadInt32(expireFirstSession) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{"message": "session expired"})
			return
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{{"id": float64(1), "name": "x"}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client, err := icatclient.New(srv.URL, true, "", 2*time.Second, slog.Default())
	if err != nil {
		t.Fatalf("icatclient.New: %v", err)
	}
	return client, &logins
}

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

func TestCatalogueBackendExecuteHappyPath(t *testing.T) {
	var expire int32
	client, _ := newExpiringCatalogue(t, &expire)
	pool, err := session.New(context.Background(), client, testPoolConfig(), slog.Default())
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}

	backend := NewCatalogueBackend(pool, client)
	rows, err := backend.Execute(context.Background(), querybuilder.Query{Text: "SELECT o FROM Dataset o"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 || rows[0]["id"] != float64(1) {
		t.Fatalf("got %v", rows)
	}
	if pool.Outstanding() != 0 {
		t.Fatalf("Outstanding = %d, want 0 after Execute releases its session", pool.Outstanding())
	}
}

func TestCatalogueBackendCount(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"sessionId": "sess-1", "remainingMinutes": 60})
	})
	mux.HandleFunc("/session/", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"remainingMinutes": 60})
	})
	mux.HandleFunc("/entityManager", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]int64{42})
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

	backend := NewCatalogueBackend(pool, client)
	n, err := backend.Count(context.Background(), querybuilder.Query{Text: "SELECT COUNT(o) FROM Dataset o"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 42 {
		t.Fatalf("count = %d, want 42", n)
	}
	if pool.Outstanding() != 0 {
		t.Fatalf("Outstanding = %d, want 0 after Count releases its session", pool.Outstanding())
	}
}

func TestCatalogueBackendRetriesOnceOnSessionExpiry(t *testing.T) {
	var expire int32 = 1
	client, logins := newExpiringCatalogue(t, &expire)
	pool, err := session.New(context.Background(), client, testPoolConfig(), slog.Default())
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}

	backend := NewCatalogueBackend(pool, client)
	rows, err := backend.Execute(context.Background(), querybuilder.Query{Text: "SELECT o FROM Dataset o"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %v", rows)
	}
	if atomic.LoadInt32(logins) != 2 {
		t.Fatalf("logins = %d, want 2 (initial warmup + re-authenticate after expiry)", atomic.LoadInt32(logins))
	}
	if pool.Outstanding() != 0 {
		t.Fatalf("Outstanding = %d, want 0 after Execute releases its session", pool.Outstanding())
	}
}
