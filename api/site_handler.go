package api

import (
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/sitebuilder/pagetree"
	"github.com/GoCodeAlone/sitebuilder/store"
)

// SiteHandler serves site CRUD and the public page renderer.
type SiteHandler struct {
	sites  store.SiteStore
	logger *slog.Logger
}

// NewSiteHandler creates a new SiteHandler.
func NewSiteHandler(sites store.SiteStore, logger *slog.Logger) *SiteHandler {
	return &SiteHandler{sites: sites, logger: logger}
}

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases name and collapses every run of other characters to a
// single dash.
func Slugify(name string) string {
	s := strings.Trim(nonSlugChars.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if s == "" {
		return "untitled"
	}
	return s
}

func canEdit(u *store.User, s *store.Site) bool {
	return u.IsAdmin() || s.OwnerID == u.ID
}

func validContent(content string) error {
	if _, err := pagetree.Parse(content); err != nil {
		return fmt.Errorf("%w: %v", store.ErrValidation, err)
	}
	return nil
}

// loadSite resolves {id} to a site the caller may edit.
func (h *SiteHandler) loadSite(w http.ResponseWriter, r *http.Request) (*store.Site, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		WriteError(w, http.StatusNotFound, "site not found")
		return nil, false
	}
	site, err := h.sites.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, h.logger, err)
		return nil, false
	}
	if !canEdit(UserFromContext(r.Context()), site) {
		WriteError(w, http.StatusForbidden, "forbidden")
		return nil, false
	}
	return site, true
}

// Create handles POST /api/sites. A slug already in use gets the current
// Unix millisecond time appended.
func (h *SiteHandler) Create(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	var req struct {
		Name      string `json:"name"`
		Content   string `json:"content"`
		Published bool   `json:"published"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		WriteError(w, http.StatusBadRequest, "name is required")
		return
	}
	if err := validContent(req.Content); err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	if req.Content == "" {
		req.Content = "[]"
	}

	site := &store.Site{
		Name:      req.Name,
		Slug:      Slugify(req.Name),
		Content:   req.Content,
		OwnerID:   user.ID,
		Published: req.Published,
	}
	if _, err := h.sites.GetBySlug(r.Context(), site.Slug); err == nil {
		site.Slug = fmt.Sprintf("%s-%d", site.Slug, time.Now().UnixMilli())
	}
	if err := h.sites.Create(r.Context(), site); err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	h.logger.Info("site created", "site", site.ID, "slug", site.Slug, "owner", user.ID)
	WriteJSON(w, http.StatusCreated, site)
}

// List handles GET /api/sites. Admins see every site; editors their own.
func (h *SiteHandler) List(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	var f store.SiteFilter
	if !user.IsAdmin() {
		f.OwnerID = &user.ID
	}
	sites, err := h.sites.List(r.Context(), f)
	if err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	if sites == nil {
		sites = []*store.Site{}
	}
	WriteJSON(w, http.StatusOK, sites)
}

// Get handles GET /api/sites/{id}.
func (h *SiteHandler) Get(w http.ResponseWriter, r *http.Request) {
	site, ok := h.loadSite(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, site)
}

// Update handles PUT /api/sites/{id}. Omitted fields keep their values.
func (h *SiteHandler) Update(w http.ResponseWriter, r *http.Request) {
	site, ok := h.loadSite(w, r)
	if !ok {
		return
	}
	var req struct {
		Name      *string `json:"name"`
		Content   *string `json:"content"`
		Slug      *string `json:"slug"`
		Published *bool   `json:"published"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) != "" {
		site.Name = strings.TrimSpace(*req.Name)
	}
	if req.Content != nil {
		if err := validContent(*req.Content); err != nil {
			writeStoreError(w, h.logger, err)
			return
		}
		site.Content = *req.Content
	}
	if req.Published != nil {
		site.Published = *req.Published
	}
	if req.Slug != nil && *req.Slug != "" && *req.Slug != site.Slug {
		slug := Slugify(*req.Slug)
		if _, err := h.sites.GetBySlug(r.Context(), slug); err == nil {
			WriteError(w, http.StatusBadRequest, "slug already taken")
			return
		}
		site.Slug = slug
	}
	if err := h.sites.Update(r.Context(), site); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			WriteError(w, http.StatusBadRequest, "slug already taken")
			return
		}
		writeStoreError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, site)
}

// Delete handles DELETE /api/sites/{id}. Only admins reach it.
func (h *SiteHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		WriteError(w, http.StatusNotFound, "site not found")
		return
	}
	if err := h.sites.Delete(r.Context(), id); err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	h.logger.Info("site deleted", "site", id, "by", UserFromContext(r.Context()).ID)
	w.WriteHeader(http.StatusNoContent)
}

// published resolves {slug} to a site visible to the caller: published
// sites to everyone, drafts to their owner and admins.
func (h *SiteHandler) published(r *http.Request) (*store.Site, error) {
	site, err := h.sites.GetBySlug(r.Context(), r.PathValue("slug"))
	if err != nil {
		return nil, err
	}
	if !site.Published {
		u := UserFromContext(r.Context())
		if u == nil || !canEdit(u, site) {
			return nil, fmt.Errorf("%w: site %s", store.ErrNotFound, r.PathValue("slug"))
		}
	}
	return site, nil
}

// GetBySlug handles GET /api/sites/slug/{slug}.
func (h *SiteHandler) GetBySlug(w http.ResponseWriter, r *http.Request) {
	site, err := h.published(r)
	if err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, site)
}

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Name}}</title>
</head>
<body data-site-id="{{.ID}}" data-page-slug="{{.Slug}}">
{{.Body}}
</body>
</html>
`))

// Render handles GET /p/{slug}, serving the page tree as HTML.
func (h *SiteHandler) Render(w http.ResponseWriter, r *http.Request) {
	site, err := h.published(r)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		h.logger.Error("load page", "slug", r.PathValue("slug"), "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	nodes, err := pagetree.Parse(site.Content)
	if err != nil {
		h.logger.Error("parse stored page", "site", site.ID, "error", err)
		http.Error(w, "page content is corrupt", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err = pageTemplate.Execute(w, map[string]any{
		"ID":   site.ID,
		"Name": site.Name,
		"Slug": site.Slug,
		// Element content is HTML authored in the builder.
		"Body": template.HTML(pagetree.RenderString(nodes)), //nolint:gosec // builder-authored markup
	})
	if err != nil {
		h.logger.Warn("write page", "site", site.ID, "error", err)
	}
}
