package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/sitebuilder/events"
	"github.com/GoCodeAlone/sitebuilder/metrics"
	"github.com/GoCodeAlone/sitebuilder/store"
	"github.com/GoCodeAlone/sitebuilder/storefront"
)

// StorefrontHandler serves the public storefront endpoints that published
// pages call.
type StorefrontHandler struct {
	sites   store.SiteStore
	users   store.UserStore
	docs    store.PluginDataStore
	events  *events.Emitter
	metrics *metrics.Collector
	logger  *slog.Logger
}

// NewStorefrontHandler creates a new StorefrontHandler.
func NewStorefrontHandler(s store.Store, em *events.Emitter, mc *metrics.Collector, logger *slog.Logger) *StorefrontHandler {
	return &StorefrontHandler{
		sites:   s.Sites(),
		users:   s.Users(),
		docs:    s.Documents(),
		events:  em,
		metrics: mc,
		logger:  logger,
	}
}

func (h *StorefrontHandler) site(w http.ResponseWriter, r *http.Request, raw string) (*store.Site, bool) {
	id, err := uuid.Parse(raw)
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

// CreateOrder handles POST /api/store/orders. The order is stored in the
// site owner's ecom-store orders collection.
func (h *StorefrontHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SiteID    string          `json:"siteId"`
		OrderData json.RawMessage `json:"orderData"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.SiteID == "" || len(req.OrderData) == 0 || string(req.OrderData) == "null" {
		h.recordOrder("rejected")
		WriteError(w, http.StatusBadRequest, "siteId and orderData are required")
		return
	}
	site, ok := h.site(w, r, req.SiteID)
	if !ok {
		h.recordOrder("rejected")
		return
	}
	doc, err := h.placeOrder(r.Context(), site, req.OrderData)
	if err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]any{"success": true, "id": doc.ID})
}

func (h *StorefrontHandler) placeOrder(ctx context.Context, site *store.Site, data json.RawMessage) (*store.PluginDocument, error) {
	doc := &store.PluginDocument{
		UserID:     site.OwnerID,
		PluginID:   storefront.PluginID,
		Collection: storefront.OrdersCollection,
		Data:       data,
	}
	if err := h.docs.Create(ctx, doc); err != nil {
		h.recordOrder("error")
		return nil, err
	}
	h.recordOrder("created")
	h.events.OrderCreated(ctx, site.ID.String(), doc)
	h.logger.Info("order created", "site", site.ID, "order", doc.ID)
	return doc, nil
}

func (h *StorefrontHandler) recordOrder(status string) {
	if h.metrics != nil {
		h.metrics.RecordOrder(status)
	}
}

// Settings handles GET /api/store/settings/{siteId}. The storefront is
// disabled unless the site owner has ecom-store installed; without a saved
// settings document it shows on every page.
func (h *StorefrontHandler) Settings(w http.ResponseWriter, r *http.Request) {
	site, ok := h.site(w, r, r.PathValue("siteId"))
	if !ok {
		return
	}
	settings, err := h.settingsFor(r.Context(), site)
	if err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	WriteJSON(w, http.StatusOK, settings)
}

var (
	disabledSettings = json.RawMessage(`{"disabled":true}`)
	defaultSettings  = json.RawMessage(`{"showOnAll":true}`)

	// Plugins write store_settings freely, so a malformed document is
	// skipped rather than breaking the storefront.
	settingsFilter = store.MustCompileFilter(storefront.SettingsFilter).Lenient()
)

func (h *StorefrontHandler) settingsFor(ctx context.Context, site *store.Site) (json.RawMessage, error) {
	owner, err := h.users.Get(ctx, site.OwnerID)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(owner.InstalledPlugins, storefront.PluginID) {
		return disabledSettings, nil
	}

	docs, err := h.docs.List(ctx, store.Scope{
		UserID:     owner.ID,
		PluginID:   storefront.PluginID,
		Collection: storefront.SettingsCollection,
	})
	if err != nil {
		return nil, err
	}
	if docs, err = settingsFilter.Apply(ctx, docs); err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return defaultSettings, nil
	}
	latest := docs[0]
	for _, d := range docs[1:] {
		if d.UpdatedAt.After(latest.UpdatedAt) {
			latest = d
		}
	}
	return latest.Data, nil
}

// Backend returns the shop backend that serves hosted carts in process.
func (h *StorefrontHandler) Backend() storefront.Backend {
	return localBackend{h: h}
}

type localBackend struct {
	h *StorefrontHandler
}

func (b localBackend) lookup(ctx context.Context, siteID string) (*store.Site, error) {
	id, err := uuid.Parse(siteID)
	if err != nil {
		return nil, fmt.Errorf("%w: site %s", store.ErrNotFound, siteID)
	}
	return b.h.sites.Get(ctx, id)
}

func (b localBackend) Settings(ctx context.Context, siteID string) (storefront.Settings, error) {
	site, err := b.lookup(ctx, siteID)
	if err != nil {
		return storefront.Settings{}, err
	}
	raw, err := b.h.settingsFor(ctx, site)
	if err != nil {
		return storefront.Settings{}, err
	}
	return storefront.ParseSettings(raw)
}

func (b localBackend) CreateOrder(ctx context.Context, siteID string, order *storefront.Order) error {
	site, err := b.lookup(ctx, siteID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}
	_, err = b.h.placeOrder(ctx, site, data)
	return err
}
