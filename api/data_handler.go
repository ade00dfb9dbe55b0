package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/sitebuilder/events"
	"github.com/GoCodeAlone/sitebuilder/metrics"
	"github.com/GoCodeAlone/sitebuilder/store"
)

// DataHandler serves plugin data collections. Every route is scoped to the
// caller, the plugin id and the collection in the path.
type DataHandler struct {
	docs    store.PluginDataStore
	events  *events.Emitter
	metrics *metrics.Collector
	logger  *slog.Logger
}

// NewDataHandler creates a new DataHandler.
func NewDataHandler(docs store.PluginDataStore, em *events.Emitter, mc *metrics.Collector, logger *slog.Logger) *DataHandler {
	return &DataHandler{docs: docs, events: em, metrics: mc, logger: logger}
}

func (h *DataHandler) scope(r *http.Request) store.Scope {
	return store.Scope{
		UserID:     UserFromContext(r.Context()).ID,
		PluginID:   r.PathValue("pluginId"),
		Collection: r.PathValue("collection"),
	}
}

func docID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		WriteError(w, http.StatusNotFound, "document not found")
		return uuid.Nil, false
	}
	return id, true
}

func (h *DataHandler) changed(r *http.Request, op string, doc *store.PluginDocument) {
	h.events.Document(r.Context(), op, doc)
	if h.metrics != nil {
		h.metrics.RecordDataOperation(doc.PluginID, op)
	}
}

func writeDocs(w http.ResponseWriter, docs []*store.PluginDocument) {
	if docs == nil {
		docs = []*store.PluginDocument{}
	}
	WriteJSON(w, http.StatusOK, docs)
}

// List handles GET /api/pl-data/{pluginId}/{collection}. An optional
// ?filter= jq expression is applied to each document's data.
func (h *DataHandler) List(w http.ResponseWriter, r *http.Request) {
	docs, err := store.ListFiltered(r.Context(), h.docs, h.scope(r), r.URL.Query().Get("filter"))
	if err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	writeDocs(w, docs)
}

// Limits on the jq filter accepted by the unauthenticated listing.
const (
	maxPublicFilter     = 256
	publicFilterTimeout = 250 * time.Millisecond
)

// ListPublic handles GET /api/pl-data/public/{pluginId}/{collection}. It
// needs no authentication and spans every user's documents, so ?filter= is
// bounded in length and evaluation time.
func (h *DataHandler) ListPublic(w http.ResponseWriter, r *http.Request) {
	docs, err := h.docs.ListPublic(r.Context(), r.PathValue("pluginId"), r.PathValue("collection"))
	if err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	if expr := r.URL.Query().Get("filter"); expr != "" {
		if len(expr) > maxPublicFilter {
			WriteError(w, http.StatusBadRequest, "filter is too long")
			return
		}
		f, err := store.CompileFilter(expr)
		if err != nil {
			writeStoreError(w, h.logger, err)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), publicFilterTimeout)
		defer cancel()
		if docs, err = f.Apply(ctx, docs); err != nil {
			if ctx.Err() != nil {
				WriteError(w, http.StatusBadRequest, "filter took too long")
				return
			}
			writeStoreError(w, h.logger, err)
			return
		}
	}
	writeDocs(w, docs)
}

// Get handles GET /api/pl-data/{pluginId}/{collection}/{id}.
func (h *DataHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := docID(w, r)
	if !ok {
		return
	}
	doc, err := h.docs.Get(r.Context(), h.scope(r), id)
	if err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, doc)
}

type dataRequest struct {
	Data json.RawMessage `json:"data"`
}

// Create handles POST /api/pl-data/{pluginId}/{collection}.
func (h *DataHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dataRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sc := h.scope(r)
	doc := &store.PluginDocument{
		UserID:     sc.UserID,
		PluginID:   sc.PluginID,
		Collection: sc.Collection,
		Data:       req.Data,
	}
	if err := h.docs.Create(r.Context(), doc); err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	h.changed(r, events.OpCreated, doc)
	WriteJSON(w, http.StatusCreated, doc)
}

// Update handles PUT /api/pl-data/{pluginId}/{collection}/{id}.
func (h *DataHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := docID(w, r)
	if !ok {
		return
	}
	var req dataRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	doc, err := h.docs.Update(r.Context(), h.scope(r), id, req.Data)
	if err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	h.changed(r, events.OpUpdated, doc)
	WriteJSON(w, http.StatusOK, doc)
}

// Delete handles DELETE /api/pl-data/{pluginId}/{collection}/{id}.
func (h *DataHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := docID(w, r)
	if !ok {
		return
	}
	sc := h.scope(r)
	if err := h.docs.Delete(r.Context(), sc, id); err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	h.changed(r, events.OpDeleted, &store.PluginDocument{
		ID: id, UserID: sc.UserID, PluginID: sc.PluginID, Collection: sc.Collection,
	})
	w.WriteHeader(http.StatusNoContent)
}
