package api

import (
	"net/http"

	"github.com/GoCodeAlone/sitebuilder/dynamic"
)

// RuntimeHandler reports plugin entrypoint runs.
type RuntimeHandler struct {
	loads *dynamic.LoadRegistry
}

// NewRuntimeHandler creates a new RuntimeHandler.
func NewRuntimeHandler(loads *dynamic.LoadRegistry) *RuntimeHandler {
	return &RuntimeHandler{loads: loads}
}

// Loads handles GET /api/runtime/loads.
func (h *RuntimeHandler) Loads(w http.ResponseWriter, _ *http.Request) {
	if h.loads == nil {
		WriteJSON(w, http.StatusOK, []dynamic.LoadInfo{})
		return
	}
	WriteJSON(w, http.StatusOK, h.loads.List())
}
