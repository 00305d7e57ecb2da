package handler

import (
	"net/http"

	"github.com/dashbite/apigw/internal/model"
	"github.com/dashbite/apigw/internal/openapi"
)

// OpenAPIHandler serves the gateway's OpenAPI document.
type OpenAPIHandler struct {
	version string
}

// NewOpenAPIHandler creates a new OpenAPIHandler.
func NewOpenAPIHandler(version string) *OpenAPIHandler {
	return &OpenAPIHandler{version: version}
}

// ServeDocument returns the document with the server URL taken from the request.
// GET /openapi.json
func (h *OpenAPIHandler) ServeDocument(w http.ResponseWriter, r *http.Request) {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	doc := openapi.Generate(scheme+"://"+r.Host, h.version)

	data, err := doc.MarshalJSON()
	if err != nil {
		writeError(w, http.StatusInternalServerError, model.ErrTypeInternal, "Failed to render OpenAPI document: "+err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
