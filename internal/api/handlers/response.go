package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// writeJSON encodes v as the response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeRawBody reads the request body and validates it is well-formed JSON,
// without decoding it into a Go value: the catalogue itself is the one that
// validates entity shape, so the gateway passes the body through verbatim.
func decodeRawBody(r *http.Request, out *[]byte) error {
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return fmt.Errorf("reading request body: %w", err)
	}
	if !json.Valid(body) {
		return fmt.Errorf("body is not valid JSON")
	}
	*out = body
	return nil
}
