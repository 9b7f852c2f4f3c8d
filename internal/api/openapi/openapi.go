// Package openapi serves the gateway's OpenAPI 3 document at /openapi.json. The
// document is hand-authored embedded JSON, parsed and validated through kin-openapi
// at startup so an inconsistent edit stops the gateway from starting rather than
// failing a consumer's first fetch.
package openapi

import (
	"context"
	_ "embed"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed spec.json
var specJSON []byte

// Load parses and validates the embedded document, failing fast at startup if
// it was ever edited into something inconsistent.
func Load() (*openapi3.T, error) {
	doc, err := openapi3.NewLoader().LoadFromData(specJSON)
	if err != nil {
		return nil, fmt.Errorf("parsing embedded OpenAPI document: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("validating embedded OpenAPI document: %w", err)
	}
	return doc, nil
}

// Handler serves the embedded document verbatim. It panics if the document
// fails to load, since a broken spec means the binary itself is broken.
func Handler() http.HandlerFunc {
	if _, err := Load(); err != nil {
		panic(err)
	}
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(specJSON)
	}
}
