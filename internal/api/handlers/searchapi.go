// searchapi.go implements the Search API: a read-only, Search-schema view over the
// catalogue for datasets, documents, and instruments, each with a list/{pid}/count
// route set, plus the GET /datasets/{pid}/files special case and its /count sibling.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/icatgateway/gateway/internal/api/errors"
	"github.com/icatgateway/gateway/internal/orchestrator"
)

// SearchAPIHandler serves the datasets/documents/instruments collections.
type SearchAPIHandler struct {
	orch *orchestrator.Orchestrator
}

// NewSearchAPIHandler builds a SearchAPIHandler over an orchestrator configured with
// a projection mapping; every route here fails with an internal error if none was
// loaded, since the Search API has no meaning without one.
func NewSearchAPIHandler(orch *orchestrator.Orchestrator) *SearchAPIHandler {
	return &SearchAPIHandler{orch: orch}
}

// searchCollections maps each Search API URL segment to the Search-schema entity
// name used by the projection mapping and the orchestrator.
var searchCollections = map[string]string{
	"datasets":    "Dataset",
	"documents":   "Document",
	"instruments": "Instrument",
}

// Routes mounts the Search API's route set onto r. The collection's Search-schema
// entity name is bound into each handler at registration time, so the handlers never
// have to re-derive it from the request path. The dataset-files special case lives
// inside the datasets subtree so its /{pid}/files routes and the plain /{pid} route
// share one subrouter.
func (h *SearchAPIHandler) Routes(r chi.Router) {
	for segment, entity := range searchCollections {
		r.Route("/"+segment, func(r chi.Router) {
			r.Get("/", h.list(entity))
			r.Get("/count", h.count(entity))
			r.Get("/{pid}", h.getByPID(entity))
			if segment == "datasets" {
				r.Get("/{pid}/files", h.datasetFiles)
				r.Get("/{pid}/files/count", h.datasetFilesCount)
			}
		})
	}
}

func (h *SearchAPIHandler) list(entity string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := parseRequestFilter(r)
		if err != nil {
			apierrors.Write(w, err)
			return
		}
		resp, err := h.orch.Query(r.Context(), orchestrator.Request{Entity: entity, IsSearchAPI: true, Filter: f})
		if err != nil {
			apierrors.Write(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp.Rows)
	}
}

func (h *SearchAPIHandler) count(entity string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := parseCountFilter(r)
		if err != nil {
			apierrors.Write(w, err)
			return
		}
		n, err := h.orch.Count(r.Context(), orchestrator.Request{Entity: entity, IsSearchAPI: true, Filter: f})
		if err != nil {
			apierrors.Write(w, err)
			return
		}
		writeJSON(w, http.StatusOK, n)
	}
}

func (h *SearchAPIHandler) getByPID(entity string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pid := chi.URLParam(r, "pid")
		f, err := parseRequestFilter(r)
		if err != nil {
			apierrors.Write(w, err)
			return
		}
		f = mergePIDWhere(f, pid)

		resp, err := h.orch.Query(r.Context(), orchestrator.Request{Entity: entity, IsSearchAPI: true, Filter: f})
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
}

func (h *SearchAPIHandler) datasetFiles(w http.ResponseWriter, r *http.Request) {
	pid := chi.URLParam(r, "pid")
	f, err := parseRequestFilter(r)
	if err != nil {
		apierrors.Write(w, err)
		return
	}
	resp, err := h.orch.DatasetFiles(r.Context(), pid, f)
	if err != nil {
		apierrors.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp.Rows)
}

func (h *SearchAPIHandler) datasetFilesCount(w http.ResponseWriter, r *http.Request) {
	pid := chi.URLParam(r, "pid")
	f, err := parseCountFilter(r)
	if err != nil {
		apierrors.Write(w, err)
		return
	}
	n, err := h.orch.DatasetFilesCount(r.Context(), pid, f)
	if err != nil {
		apierrors.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}
