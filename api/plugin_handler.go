package api

import (
	"log/slog"
	"net/http"

	"github.com/GoCodeAlone/sitebuilder/plugin"
	"github.com/GoCodeAlone/sitebuilder/store"
)

// PluginHandler serves the plugin store and the caller's plugin list.
type PluginHandler struct {
	registry *plugin.Registry
	logger   *slog.Logger
}

// NewPluginHandler creates a new PluginHandler.
func NewPluginHandler(registry *plugin.Registry, logger *slog.Logger) *PluginHandler {
	return &PluginHandler{registry: registry, logger: logger}
}

// storeEntry is an official plugin as listed in the store, without its code.
type storeEntry struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	Version     string `json:"version"`
	Installed   bool   `json:"installed"`
}

// Store handles GET /api/plugins/store.
func (h *PluginHandler) Store(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	plugins, err := h.registry.ListOfficial(r.Context())
	if err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	installed := make(map[string]bool, len(user.InstalledPlugins))
	for _, id := range user.InstalledPlugins {
		installed[id] = true
	}
	out := make([]storeEntry, 0, len(plugins))
	for _, p := range plugins {
		out = append(out, storeEntry{
			ID: p.ID, Name: p.Name, Description: p.Description, Icon: p.Icon,
			Version: p.Version, Installed: installed[p.ID],
		})
	}
	WriteJSON(w, http.StatusOK, out)
}

// Mine handles GET /api/plugins/me.
func (h *PluginHandler) Mine(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	plugins, err := h.registry.ListInstalledOrOwned(r.Context(), user.ID)
	if err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	if plugins == nil {
		plugins = []*store.Plugin{}
	}
	WriteJSON(w, http.StatusOK, plugins)
}

// Install handles POST /api/plugins/install/{id}.
func (h *PluginHandler) Install(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	id := r.PathValue("id")
	if err := h.registry.Install(r.Context(), user.ID, id); err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "installed", "id": id})
}

// Uninstall handles DELETE /api/plugins/install/{id}.
func (h *PluginHandler) Uninstall(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	id := r.PathValue("id")
	if err := h.registry.Uninstall(r.Context(), user.ID, id); err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "uninstalled", "id": id})
}

// CreateCustom handles POST /api/plugins/custom.
func (h *PluginHandler) CreateCustom(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Code        string `json:"code"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Description == "" {
		req.Description = "Custom Plugin"
	}
	p, err := h.registry.CreateCustom(r.Context(), user.ID, req.Name, req.Description, req.Code)
	if err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusCreated, p)
}

// DeleteCustom handles DELETE /api/plugins/custom/{id}.
func (h *PluginHandler) DeleteCustom(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if err := h.registry.DeleteCustom(r.Context(), user.ID, r.PathValue("id")); err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
