package handlers

import (
	"log/slog"
	"net/http"

	"mercator-hq/webrelay/pkg/dispatcher"
	"mercator-hq/webrelay/pkg/proxy"
)

// ModelsHandler serves GET /v1/models. Each model is owned by the backend
// that serves it.
type ModelsHandler struct {
	Registry *dispatcher.Registry
}

// NewModelsHandler creates a model listing handler.
func NewModelsHandler(reg *dispatcher.Registry) *ModelsHandler {
	return &ModelsHandler{Registry: reg}
}

// ServeHTTP implements the http.Handler interface.
func (h *ModelsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	list := proxy.FormatModels(h.Registry.Models(), h.Registry.Owner)
	if err := proxy.WriteJSONResponse(w, http.StatusOK, list); err != nil {
		slog.ErrorContext(r.Context(), "failed to write model list", "error", err)
	}
}
