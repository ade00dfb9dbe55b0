package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/GoCodeAlone/sitebuilder/extension"
	"github.com/GoCodeAlone/sitebuilder/plugin"
)

// DashboardHandler exposes dashboard sessions: the admin pages plugins
// register and the media picker they can open.
type DashboardHandler struct {
	registry *plugin.Registry
	sessions *extension.Manager
	logger   *slog.Logger
}

// NewDashboardHandler creates a new DashboardHandler.
func NewDashboardHandler(registry *plugin.Registry, sessions *extension.Manager, logger *slog.Logger) *DashboardHandler {
	return &DashboardHandler{registry: registry, sessions: sessions, logger: logger}
}

func (h *DashboardHandler) session(w http.ResponseWriter, r *http.Request) (*extension.DashboardSession, bool) {
	s, err := h.sessions.Dashboard(r.PathValue("id"), UserFromContext(r.Context()).ID)
	if err != nil {
		writeStoreError(w, h.logger, err)
		return nil, false
	}
	return s, true
}

// Open handles POST /api/dashboard/sessions.
func (h *DashboardHandler) Open(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	plugins, err := h.registry.ExecutableFor(r.Context(), user.ID)
	if err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	s := h.sessions.OpenDashboard(r.Context(), user.ID, plugins)
	WriteJSON(w, http.StatusCreated, s.View())
}

// Get handles GET /api/dashboard/sessions/{id}.
func (h *DashboardHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, s.View())
}

// Close handles DELETE /api/dashboard/sessions/{id}.
func (h *DashboardHandler) Close(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.CloseDashboard(r.PathValue("id"), UserFromContext(r.Context()).ID); err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Pages handles GET /api/dashboard/sessions/{id}/pages.
func (h *DashboardHandler) Pages(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, s.Pages())
}

// RenderPage handles GET /api/dashboard/sessions/{id}/pages/{slug}. A render
// that panics or fails is reported as a notification and a 500.
func (h *DashboardHandler) RenderPage(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	html, err := s.RenderPage(r.PathValue("slug"))
	if err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"slug": r.PathValue("slug"), "html": html})
}

// MediaPick handles POST /api/dashboard/sessions/{id}/media-pick. The body
// carries either the chosen {"url"} or {"cancel": true}.
func (h *DashboardHandler) MediaPick(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req struct {
		URL    string `json:"url"`
		Cancel bool   `json:"cancel"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Cancel {
		if !s.CancelPick() {
			WriteError(w, http.StatusNotFound, "no media picker open")
			return
		}
		WriteJSON(w, http.StatusOK, s.View())
		return
	}
	if req.URL == "" {
		WriteError(w, http.StatusBadRequest, "url is required")
		return
	}
	if err := s.CompletePick(req.URL); err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, s.View())
}

// RunAction handles POST /api/dashboard/sessions/{id}/pages/{slug}/actions/{name}.
// The form is a JSON object of strings or a urlencoded form body; an empty
// body submits an empty form.
func (h *DashboardHandler) RunAction(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	form := map[string]string{}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		r.Body = http.MaxBytesReader(w, r.Body, maxBody)
		if err := r.ParseForm(); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid form body")
			return
		}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
	} else if r.ContentLength != 0 && !decodeJSON(w, r, &form) {
		return
	}
	res, err := s.RunAction(r.PathValue("slug"), r.PathValue("name"), form)
	if err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}
