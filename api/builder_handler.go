package api

import (
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/google/uuid"

	"github.com/GoCodeAlone/sitebuilder/extension"
	"github.com/GoCodeAlone/sitebuilder/pagetree"
	"github.com/GoCodeAlone/sitebuilder/plugin"
	"github.com/GoCodeAlone/sitebuilder/store"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// BuilderHandler exposes builder sessions: plugin-extended editing of a
// site's page tree.
type BuilderHandler struct {
	sites    store.SiteStore
	registry *plugin.Registry
	sessions *extension.Manager
	upgrader gorilla.Upgrader
	logger   *slog.Logger
}

// NewBuilderHandler creates a new BuilderHandler.
func NewBuilderHandler(sites store.SiteStore, registry *plugin.Registry, sessions *extension.Manager, logger *slog.Logger) *BuilderHandler {
	return &BuilderHandler{
		sites:    sites,
		registry: registry,
		sessions: sessions,
		upgrader: gorilla.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		logger:   logger,
	}
}

func (h *BuilderHandler) session(w http.ResponseWriter, r *http.Request) (*extension.BuilderSession, bool) {
	s, err := h.sessions.Builder(r.PathValue("id"), UserFromContext(r.Context()).ID)
	if err != nil {
		writeStoreError(w, h.logger, err)
		return nil, false
	}
	return s, true
}

// Open handles POST /api/builder/sessions. The caller's installed and owned
// plugins are loaded against the site's saved tree.
func (h *BuilderHandler) Open(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	var req struct {
		SiteID string `json:"siteId"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	siteID, err := uuid.Parse(req.SiteID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "site not found")
		return
	}
	site, err := h.sites.Get(r.Context(), siteID)
	if err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	if !canEdit(user, site) {
		WriteError(w, http.StatusForbidden, "forbidden")
		return
	}
	plugins, err := h.registry.ExecutableFor(r.Context(), user.ID)
	if err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	s, err := h.sessions.OpenBuilder(r.Context(), user.ID, site, plugins)
	if err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusCreated, s.View())
}

// Get handles GET /api/builder/sessions/{id}.
func (h *BuilderHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, s.View())
}

// Close handles DELETE /api/builder/sessions/{id}.
func (h *BuilderHandler) Close(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.CloseBuilder(r.PathValue("id"), UserFromContext(r.Context()).ID); err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Controls handles GET /api/builder/sessions/{id}/controls?type=...,
// listing the property controls that apply to an element type.
func (h *BuilderHandler) Controls(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	typ := r.URL.Query().Get("type")
	entries := s.Properties().For(typ)
	out := make([]extension.PropertyView, 0, len(entries))
	for _, e := range entries {
		out = append(out, extension.PropertyView{
			Index: e.Index, PluginID: e.PluginID, TargetType: e.Spec.TargetType,
			Key: e.Spec.Key, Label: e.Spec.Label, Control: string(e.Spec.Control), Options: e.Spec.Options,
		})
	}
	WriteJSON(w, http.StatusOK, out)
}

// InvokeControl handles POST /api/builder/sessions/{id}/controls/{index}.
// A plugin handler failure is reported in the result body, not the status.
func (h *BuilderHandler) InvokeControl(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		WriteError(w, http.StatusNotFound, "control not found")
		return
	}
	var req struct {
		ElementID string `json:"elementId"`
		Value     string `json:"value"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.InvokeControl(index, req.ElementID, req.Value)
	if err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

// Tree handles GET /api/builder/sessions/{id}/tree.
func (h *BuilderHandler) Tree(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, s.Tree())
}

// SetTree handles PUT /api/builder/sessions/{id}/tree with a node array.
func (h *BuilderHandler) SetTree(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var nodes []*pagetree.Node
	if !decodeJSON(w, r, &nodes) {
		return
	}
	s.SetTree(nodes)
	WriteJSON(w, http.StatusOK, map[string]uint64{"revision": s.Revision()})
}

// AddElement handles POST /api/builder/sessions/{id}/elements.
func (h *BuilderHandler) AddElement(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req struct {
		Type     string `json:"type"`
		ParentID string `json:"parentId"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Type) == "" {
		WriteError(w, http.StatusBadRequest, "type is required")
		return
	}
	n, err := s.Instantiate(req.Type, req.ParentID)
	if err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusCreated, n)
}

// RemoveElement handles DELETE /api/builder/sessions/{id}/elements/{elementId}.
func (h *BuilderHandler) RemoveElement(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.Remove(r.PathValue("elementId")); err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Save handles POST /api/builder/sessions/{id}/save, writing the canvas
// back to the site.
func (h *BuilderHandler) Save(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	site, err := h.sites.Get(r.Context(), s.SiteID)
	if err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	if !canEdit(UserFromContext(r.Context()), site) {
		WriteError(w, http.StatusForbidden, "forbidden")
		return
	}
	content, err := pagetree.Serialize(s.Tree())
	if err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	site.Content = content
	if err := h.sites.Update(r.Context(), site); err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	h.logger.Info("site saved from builder", "site", site.ID, "session", s.ID)
	WriteJSON(w, http.StatusOK, site)
}

var previewTemplate = template.Must(template.New("preview").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
{{range .Styles}}<style>{{.}}</style>
{{end}}</head>
<body>
{{.Body}}
</body>
</html>
`))

// Preview handles GET /api/builder/sessions/{id}/preview, rendering the
// canvas with the plugins' global styles.
func (h *BuilderHandler) Preview(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	global := s.GlobalStyles()
	styles := make([]template.CSS, len(global))
	for i, css := range global {
		styles[i] = template.CSS(css) //nolint:gosec // plugin-provided stylesheet
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := previewTemplate.Execute(w, map[string]any{
		"Styles": styles,
		"Body":   template.HTML(pagetree.RenderString(s.Tree())), //nolint:gosec // builder-authored markup
	})
	if err != nil {
		h.logger.Warn("write preview", "session", s.ID, "error", err)
	}
}

type revisionEvent struct {
	Revision uint64 `json:"revision"`
}

// Events handles GET /api/builder/sessions/{id}/events, a websocket that
// pushes the canvas revision every time a plugin or edit refreshes it.
func (h *BuilderHandler) Events(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "session", s.ID, "error", err)
		return
	}
	defer conn.Close()

	updates, cancel := s.Subscribe()
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(kind int, data []byte) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteMessage(kind, data)
	}
	send := func(rev uint64) error {
		data, err := json.Marshal(revisionEvent{Revision: rev})
		if err != nil {
			return err
		}
		return write(gorilla.TextMessage, data)
	}

	if err := send(s.Revision()); err != nil {
		return
	}
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case rev, open := <-updates:
			if !open {
				_ = write(gorilla.CloseMessage, gorilla.FormatCloseMessage(gorilla.CloseNormalClosure, "session closed"))
				return
			}
			if err := send(rev); err != nil {
				return
			}
		case <-ping.C:
			if err := write(gorilla.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}
