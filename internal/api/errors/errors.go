// Package apierrors maps the gateway's internal error vocabulary onto its HTTP error
// contract: a small typed Kind, one {status, message} JSON shape, and a single Write
// entry point that classifies whatever error a handler returns.
package apierrors

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/icatgateway/gateway/internal/filter"
	"github.com/icatgateway/gateway/internal/icatclient"
	"github.com/icatgateway/gateway/internal/projection"
	"github.com/icatgateway/gateway/internal/session"
)

// Kind names one of the error categories the gateway distinguishes when deciding the
// HTTP response. SessionExpired is deliberately absent: it is recovered internally by
// the orchestrator's one-retry path and never reaches this layer as such — if it does,
// it means the retry itself failed, and is reported as CatalogueUnavailable.
type Kind string

const (
	KindBadFilter            Kind = "bad_filter"
	KindForbidden            Kind = "forbidden"
	KindNotFound             Kind = "not_found"
	KindAuthenticationFailed Kind = "authentication_failed"
	KindPoolExhausted        Kind = "pool_exhausted"
	KindCatalogueUnavailable Kind = "catalogue_unavailable"
	KindInternal             Kind = "internal"
)

var statusForKind = map[Kind]int{
	KindBadFilter:            http.StatusBadRequest,
	KindForbidden:            http.StatusForbidden,
	KindNotFound:             http.StatusNotFound,
	KindAuthenticationFailed: http.StatusUnauthorized,
	KindPoolExhausted:        http.StatusServiceUnavailable,
	KindCatalogueUnavailable: http.StatusServiceUnavailable,
	KindInternal:             http.StatusInternalServerError,
}

// ErrNotFound is returned by handlers when a single-entity lookup (by id, or by the
// Search API's {pid}) finds nothing.
var ErrNotFound = errors.New("apierrors: not found")

// Error is a typed API error a handler can return directly instead of relying on
// classification of a lower-layer error.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

// New builds a typed Error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// body is the wire shape of every error response: {"status": <int>, "message": <string>}.
type body struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// Write classifies err and writes the corresponding {status, message} JSON body. A
// BadFilterError's own Error() already reads "<dotted.path>: <reason>", which is what
// lets a bad where.size.between clause name itself in the response body.
func Write(w http.ResponseWriter, err error) {
	kind, message := classify(err)
	writeBody(w, statusForKind[kind], message)
}

// WriteKind writes a response for an explicit kind/message pair, bypassing
// classification — used by handlers that already know which case they hit (e.g. a
// {pid} lookup that found zero rows).
func WriteKind(w http.ResponseWriter, kind Kind, message string) {
	writeBody(w, statusForKind[kind], message)
}

func writeBody(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body{Status: status, Message: message})
}

func classify(err error) (Kind, string) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind, apiErr.Message
	}

	var badFilter *filter.BadFilterError
	if errors.As(err, &badFilter) {
		return KindBadFilter, badFilter.Error()
	}

	if errors.Is(err, ErrNotFound) {
		return KindNotFound, "not found"
	}
	if errors.Is(err, projection.ErrRecordDropped) {
		return KindNotFound, "not found"
	}
	if errors.Is(err, icatclient.ErrForbidden) {
		return KindForbidden, "the catalogue denied this operation"
	}
	if errors.Is(err, icatclient.ErrAuthenticationFailed) {
		return KindAuthenticationFailed, "the catalogue rejected the presented credentials"
	}
	if errors.Is(err, icatclient.ErrSessionExpired) {
		return KindCatalogueUnavailable, "catalogue session could not be renewed"
	}
	if errors.Is(err, icatclient.ErrCatalogueUnavailable) {
		return KindCatalogueUnavailable, "the catalogue could not be reached"
	}
	if errors.Is(err, session.ErrPoolExhausted) {
		return KindPoolExhausted, "no catalogue session was available in time"
	}

	return KindInternal, "internal error"
}
