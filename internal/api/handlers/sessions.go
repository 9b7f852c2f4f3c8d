// sessions.go implements the DataGateway API's explicit session routes: a client
// that wants its own catalogue session (rather than riding the gateway's pooled
// identity) logs in through POST /sessions, checks the session's remaining lifetime
// through GET /sessions, and logs out through DELETE /sessions. Logins are served
// through the authenticator cache so a client that logs in per call does not incur a
// catalogue handshake each time.
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	apierrors "github.com/icatgateway/gateway/internal/api/errors"
	"github.com/icatgateway/gateway/internal/session"
)

// loginRequest is the body of POST /sessions. Mechanism defaults to "simple" when
// absent, matching the catalogue's own default authenticator.
type loginRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	Mechanism string `json:"mechanism"`
}

func (h *DataGatewayHandler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.WriteKind(w, apierrors.KindBadFilter, "invalid JSON body: "+err.Error())
		return
	}
	if req.Mechanism == "" {
		req.Mechanism = "simple"
	}
	if req.Username == "" {
		apierrors.WriteKind(w, apierrors.KindBadFilter, "username is required")
		return
	}

	if h.cache != nil {
		if cached, ok := h.cache.Get(req.Mechanism, req.Username); ok {
			// A cached session may have been expired by the catalogue since it was
			// issued; verify before handing it back, and fall through to a fresh
			// login if it is gone.
			if remaining, err := h.client.Refresh(r.Context(), cached.ID); err == nil {
				cached.RemainingMinutes = remaining
				h.cache.Put(req.Mechanism, req.Username, cached)
				writeJSON(w, http.StatusOK, map[string]string{"sessionID": cached.ID})
				return
			}
			h.cache.Delete(req.Mechanism, req.Username)
		}
	}

	raw, err := h.client.Login(r.Context(), req.Mechanism, map[string]string{
		"username": req.Username,
		"password": req.Password,
	})
	if err != nil {
		apierrors.Write(w, err)
		return
	}
	if h.cache != nil {
		h.cache.Put(req.Mechanism, req.Username, session.Session{Session: raw})
	}
	writeJSON(w, http.StatusCreated, map[string]string{"sessionID": raw.ID})
}

func (h *DataGatewayHandler) verifySession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := bearerToken(r)
	if !ok {
		apierrors.WriteKind(w, apierrors.KindAuthenticationFailed, "missing session token")
		return
	}
	remaining, err := h.client.Refresh(r.Context(), sessionID)
	if err != nil {
		apierrors.WriteKind(w, apierrors.KindAuthenticationFailed, "session is no longer valid")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessionID": sessionID, "remainingMinutes": remaining})
}

func (h *DataGatewayHandler) logout(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := bearerToken(r)
	if !ok {
		apierrors.WriteKind(w, apierrors.KindAuthenticationFailed, "missing session token")
		return
	}
	if err := h.client.Logout(r.Context(), sessionID); err != nil {
		apierrors.Write(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// bearerToken extracts the session id from an "Authorization: Bearer <id>" header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		return "", false
	}
	return token, true
}
