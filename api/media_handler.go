package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/sitebuilder/media"
	"github.com/GoCodeAlone/sitebuilder/store"
)

// maxUpload bounds a media upload request.
const maxUpload = 10 << 20

// MediaHandler serves the media library.
type MediaHandler struct {
	records store.MediaStore
	host    media.Host
	logger  *slog.Logger
}

// NewMediaHandler creates a new MediaHandler.
func NewMediaHandler(records store.MediaStore, host media.Host, logger *slog.Logger) *MediaHandler {
	return &MediaHandler{records: records, host: host, logger: logger}
}

// Upload handles POST /api/media with the file in the "media" form field.
func (h *MediaHandler) Upload(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	file, header, err := r.FormFile("media")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "no file uploaded or invalid file type")
		return
	}
	defer file.Close()

	key, err := media.NewKey(header.Filename, time.Now())
	if err != nil {
		if errors.Is(err, media.ErrNotImage) {
			WriteError(w, http.StatusBadRequest, "only image uploads are allowed")
			return
		}
		writeStoreError(w, h.logger, err)
		return
	}
	obj, err := h.host.Upload(r.Context(), key, file, header.Header.Get("Content-Type"))
	if err != nil {
		h.logger.Error("media upload failed", "key", key, "error", err)
		WriteError(w, http.StatusBadGateway, "media upload failed")
		return
	}
	size := obj.Size
	if size == 0 {
		size = header.Size
	}

	m := &store.Media{
		Filename:    header.Filename,
		Key:         obj.Key,
		URL:         obj.URL,
		ContentType: obj.ContentType,
		Size:        size,
		UploadedBy:  user.ID,
	}
	if err := h.records.Create(r.Context(), m); err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusCreated, m)
}

// List handles GET /api/media, newest first.
func (h *MediaHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.records.List(r.Context())
	if err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	if items == nil {
		items = []*store.Media{}
	}
	WriteJSON(w, http.StatusOK, items)
}

// Delete handles DELETE /api/media/{id}. A failure to delete the stored
// object is logged and the record is removed anyway.
func (h *MediaHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		WriteError(w, http.StatusNotFound, "media not found")
		return
	}
	m, err := h.records.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	if m.UploadedBy != user.ID && !user.IsAdmin() {
		WriteError(w, http.StatusForbidden, "forbidden")
		return
	}
	if err := h.host.Delete(r.Context(), m.Key); err != nil {
		h.logger.Warn("media host delete failed", "media", m.ID, "key", m.Key, "error", err)
	}
	if err := h.records.Delete(r.Context(), id); err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
