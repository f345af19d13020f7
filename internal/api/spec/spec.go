// Package spec embeds the OpenAPI description served at /openapi.yaml and
// rendered by the /docs UI.
package spec

import (
	_ "embed"
	"net/http"
)

//go:embed openapi.yaml
var openapi []byte

// Path is where the document is mounted.
const Path = "/openapi.yaml"

// OpenAPIHandler serves the embedded OpenAPI specification.
func OpenAPIHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		w.Header().Set("Cache-Control", "public, max-age=300")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(openapi)
	}
}
