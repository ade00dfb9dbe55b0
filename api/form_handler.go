package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/sitebuilder/store"
)

// Limits on one visitor submission.
const (
	maxFormFields     = 100
	maxFormValueBytes = 10 << 10
)

// FormHandler accepts visitor form submissions for published sites and
// lists them to the site owner.
type FormHandler struct {
	forms  store.FormStore
	sites  store.SiteStore
	logger *slog.Logger
}

// NewFormHandler creates a new FormHandler.
func NewFormHandler(forms store.FormStore, sites store.SiteStore, logger *slog.Logger) *FormHandler {
	return &FormHandler{forms: forms, sites: sites, logger: logger}
}

func (h *FormHandler) site(w http.ResponseWriter, r *http.Request) (*store.Site, bool) {
	id, err := uuid.Parse(r.PathValue("siteId"))
	if err != nil {
		WriteError(w, http.StatusNotFound, "site not found")
		return nil, false
	}
	site, err := h.sites.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, h.logger, err)
		return nil, false
	}
	return site, true
}

// Submit handles POST /api/forms/submit/{siteId}. JSON bodies and browser
// form posts are both accepted; ?form= names the form. Browser posts are
// redirected back to the public page with form_success=true.
func (h *FormHandler) Submit(w http.ResponseWriter, r *http.Request) {
	site, ok := h.site(w, r)
	if !ok {
		return
	}
	if !site.Published {
		WriteError(w, http.StatusNotFound, "site not found")
		return
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	isJSON := mediaType == "application/json"
	var (
		data map[string]string
		err  error
	)
	if isJSON {
		data, err = decodeFormJSON(w, r)
	} else {
		data, err = decodeFormPost(w, r)
	}
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := &store.FormResponse{SiteID: site.ID, FormID: r.URL.Query().Get("form"), Data: data}
	if err := h.forms.Create(r.Context(), resp); err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	h.logger.Info("form submitted", "site", site.ID, "form", resp.FormID, "fields", len(data))

	if isJSON || r.URL.Query().Get("ajax") == "true" || strings.Contains(r.Header.Get("Accept"), "application/json") {
		WriteJSON(w, http.StatusCreated, map[string]string{"message": "Form submitted successfully"})
		return
	}
	http.Redirect(w, r, "/p/"+site.Slug+"?form_success=true", http.StatusSeeOther)
}

func decodeFormJSON(w http.ResponseWriter, r *http.Request) (map[string]string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, errors.New("invalid request body")
	}
	data := make(map[string]string, len(raw))
	for k, v := range raw {
		switch v := v.(type) {
		case string:
			data[k] = v
		case nil:
			data[k] = ""
		default:
			b, _ := json.Marshal(v)
			data[k] = string(b)
		}
	}
	return data, checkFormSize(data)
}

func decodeFormPost(w http.ResponseWriter, r *http.Request) (map[string]string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := r.ParseForm(); err != nil {
		return nil, errors.New("invalid form body")
	}
	data := make(map[string]string, len(r.PostForm))
	for k, vs := range r.PostForm {
		data[k] = strings.Join(vs, ", ")
	}
	return data, checkFormSize(data)
}

func checkFormSize(data map[string]string) error {
	if len(data) == 0 {
		return errors.New("form is empty")
	}
	if len(data) > maxFormFields {
		return fmt.Errorf("form has more than %d fields", maxFormFields)
	}
	for k, v := range data {
		if len(v) > maxFormValueBytes {
			return fmt.Errorf("field %q is too long", k)
		}
	}
	return nil
}

// List handles GET /api/forms/{siteId} for the site owner or an admin.
func (h *FormHandler) List(w http.ResponseWriter, r *http.Request) {
	site, ok := h.site(w, r)
	if !ok {
		return
	}
	if !canEdit(UserFromContext(r.Context()), site) {
		WriteError(w, http.StatusForbidden, "forbidden")
		return
	}
	responses, err := h.forms.ListBySite(r.Context(), site.ID)
	if err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, responses)
}
