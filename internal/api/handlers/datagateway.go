// datagateway.go implements the DataGateway API: one route set per catalogue entity
// offering GET list/{id}/count/findone and POST/PATCH/DELETE writes. Writes bypass
// the orchestrator entirely (there is no query to translate) and go straight to a
// borrowed session plus icatclient.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/icatgateway/gateway/internal/api/errors"
	"github.com/icatgateway/gateway/internal/catalogue"
	"github.com/icatgateway/gateway/internal/filter"
	"github.com/icatgateway/gateway/internal/icatclient"
	"github.com/icatgateway/gateway/internal/orchestrator"
	"github.com/icatgateway/gateway/internal/session"
)

// DataGatewayHandler serves every catalogue entity's CRUD route set plus the
// explicit /sessions routes (see sessions.go).
type DataGatewayHandler struct {
	orch   *orchestrator.Orchestrator
	pool   *session.Pool
	client *icatclient.Client
	cache  *session.AuthenticatorCache
}

// NewDataGatewayHandler builds a DataGatewayHandler over an already-wired
// orchestrator (read path) and session pool/client (write path). cache may be nil,
// in which case every explicit login pays a catalogue handshake.
func NewDataGatewayHandler(orch *orchestrator.Orchestrator, pool *session.Pool, client *icatclient.Client, cache *session.AuthenticatorCache) *DataGatewayHandler {
	return &DataGatewayHandler{orch: orch, pool: pool, client: client, cache: cache}
}

// entityPathSegments maps both a catalogue entity's own name and its simple plural
// (name+"s") onto that name, so "/datagateway-api/Investigation" and
// "/datagateway-api/Investigations" address the same entity.
var entityPathSegments = buildEntityPathSegments()

func buildEntityPathSegments() map[string]string {
	out := make(map[string]string, len(catalogue.Registry)*2)
	for _, name := range catalogue.Names() {
		out[name] = name
		out[name+"s"] = name
	}
	return out
}

func resolveEntity(segment string) (string, bool) {
	name, ok := entityPathSegments[segment]
	return name, ok
}

// Routes mounts the DataGateway API's route set onto r. The static /sessions routes
// are registered before the {entity} subtree; chi matches static segments first, so
// "sessions" never resolves as an entity name.
func (h *DataGatewayHandler) Routes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.login)
		r.Get("/", h.verifySession)
		r.Delete("/", h.logout)
	})
	r.Route("/{entity}", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Patch("/", h.update)
		r.Get("/count", h.count)
		r.Get("/findone", h.findOne)
		r.Get("/{id}", h.getByID)
		r.Delete("/{id}", h.deleteByID)
	})
}

func (h *DataGatewayHandler) resolveEntityOrWrite(w http.ResponseWriter, r *http.Request) (string, bool) {
	entity, ok := resolveEntity(chi.URLParam(r, "entity"))
	if !ok {
		apierrors.Write(w, apierrors.ErrNotFound)
		return "", false
	}
	return entity, true
}

func (h *DataGatewayHandler) list(w http.ResponseWriter, r *http.Request) {
	entity, ok := h.resolveEntityOrWrite(w, r)
	if !ok {
		return
	}
	f, err := parseRequestFilter(r)
	if err != nil {
		apierrors.Write(w, err)
		return
	}
	resp, err := h.orch.Query(r.Context(), orchestrator.Request{Entity: entity, Filter: f})
	if err != nil {
		apierrors.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp.Rows)
}

func (h *DataGatewayHandler) count(w http.ResponseWriter, r *http.Request) {
	entity, ok := h.resolveEntityOrWrite(w, r)
	if !ok {
		return
	}
	f, err := parseCountFilter(r)
	if err != nil {
		apierrors.Write(w, err)
		return
	}
	n, err := h.orch.Count(r.Context(), orchestrator.Request{Entity: entity, Filter: f})
	if err != nil {
		apierrors.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (h *DataGatewayHandler) findOne(w http.ResponseWriter, r *http.Request) {
	entity, ok := h.resolveEntityOrWrite(w, r)
	if !ok {
		return
	}
	f, err := parseRequestFilter(r)
	if err != nil {
		apierrors.Write(w, err)
		return
	}
	one := 1
	f.Limit = &one

	resp, err := h.orch.Query(r.Context(), orchestrator.Request{Entity: entity, Filter: f})
	if err != nil {
		apierrors.Write(w, err)
		return
	}
	if len(resp.Rows) == 0 {
		apierrors.Write(w, apierrors.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, resp.Rows[0])
}

func (h *DataGatewayHandler) getByID(w http.ResponseWriter, r *http.Request) {
	entity, ok := h.resolveEntityOrWrite(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		apierrors.WriteKind(w, apierrors.KindBadFilter, "id must be an integer")
		return
	}

	one := 1
	f := &filter.Filter{Where: filter.Cmp{Field: "id", Op: filter.OpEq, Value: id}, Limit: &one}

	resp, err := h.orch.Query(r.Context(), orchestrator.Request{Entity: entity, Filter: f})
	if err != nil {
		apierrors.Write(w, err)
		return
	}
	if len(resp.Rows) == 0 {
		apierrors.Write(w, apierrors.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, resp.Rows[0])
}

func (h *DataGatewayHandler) create(w http.ResponseWriter, r *http.Request) {
	entity, ok := h.resolveEntityOrWrite(w, r)
	if !ok {
		return
	}
	var body []byte
	if err := decodeRawBody(r, &body); err != nil {
		apierrors.WriteKind(w, apierrors.KindBadFilter, "invalid JSON body: "+err.Error())
		return
	}

	ids, err := h.withSession(r, func(sessionID string) (any, error) {
		return h.client.Create(r.Context(), sessionID, entity, body)
	})
	if err != nil {
		apierrors.Write(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ids)
}

func (h *DataGatewayHandler) update(w http.ResponseWriter, r *http.Request) {
	entity, ok := h.resolveEntityOrWrite(w, r)
	if !ok {
		return
	}
	var body []byte
	if err := decodeRawBody(r, &body); err != nil {
		apierrors.WriteKind(w, apierrors.KindBadFilter, "invalid JSON body: "+err.Error())
		return
	}

	_, err := h.withSession(r, func(sessionID string) (any, error) {
		return nil, h.client.Update(r.Context(), sessionID, entity, body)
	})
	if err != nil {
		apierrors.Write(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DataGatewayHandler) deleteByID(w http.ResponseWriter, r *http.Request) {
	entity, ok := h.resolveEntityOrWrite(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		apierrors.WriteKind(w, apierrors.KindBadFilter, "id must be an integer")
		return
	}

	_, err = h.withSession(r, func(sessionID string) (any, error) {
		return nil, h.client.DeleteByID(r.Context(), sessionID, entity, id)
	})
	if err != nil {
		apierrors.Write(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// withSession borrows a session for one write call and always releases it,
// mirroring CatalogueBackend.Execute's borrow/release discipline for the read path.
func (h *DataGatewayHandler) withSession(r *http.Request, fn func(sessionID string) (any, error)) (any, error) {
	sess, err := h.pool.Borrow(r.Context())
	if err != nil {
		return nil, err
	}
	defer h.pool.Release(sess)
	return fn(sess.ID)
}
