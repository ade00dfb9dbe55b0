package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/sitebuilder/storefront"
)

const cartCookie = "sb_cart"

// CartHandler hosts shopper carts server side for pages that cannot keep
// them in the browser. Each visitor is identified by a cookie and gets one
// cart per site.
type CartHandler struct {
	storage storefront.CartStorage
	backend storefront.Backend
	logger  *slog.Logger
}

// NewCartHandler creates a new CartHandler.
func NewCartHandler(storage storefront.CartStorage, backend storefront.Backend, logger *slog.Logger) *CartHandler {
	return &CartHandler{storage: storage, backend: backend, logger: logger}
}

type cartView struct {
	SiteID  string            `json:"siteId"`
	Items   []storefront.Item `json:"items"`
	Total   string            `json:"total"`
	Count   int               `json:"count"`
	Visible bool              `json:"visible"`
}

func viewOf(s *storefront.Shop) cartView {
	items := s.Items()
	if items == nil {
		items = []storefront.Item{}
	}
	return cartView{SiteID: s.SiteID, Items: items, Total: s.Total(), Count: s.Count(), Visible: s.Visible()}
}

func visitorID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(cartCookie); err == nil {
		if id, err := uuid.Parse(c.Value); err == nil {
			return id.String()
		}
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     cartCookie,
		Value:    id,
		Path:     "/api/store/cart",
		MaxAge:   int((30 * 24 * time.Hour).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

// shop loads the visitor's cart for {siteId}.
func (h *CartHandler) shop(w http.ResponseWriter, r *http.Request) (*storefront.Shop, bool) {
	siteID, err := uuid.Parse(r.PathValue("siteId"))
	if err != nil {
		WriteError(w, http.StatusNotFound, "site not found")
		return nil, false
	}
	storage := storefront.Prefixed(h.storage, visitorID(w, r))
	s := storefront.NewShop(siteID.String(), storage, h.backend, storefront.WithLogger(h.logger))
	if err := s.Init(r.Context(), r.URL.Query().Get("page")); err != nil {
		writeStoreError(w, h.logger, err)
		return nil, false
	}
	return s, true
}

// Get handles GET /api/store/cart/{siteId}?page=slug.
func (h *CartHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, ok := h.shop(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, viewOf(s))
}

// AddItem handles POST /api/store/cart/{siteId}/items with a product.
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var p storefront.Product
	if !decodeJSON(w, r, &p) {
		return
	}
	if strings.TrimSpace(p.ID) == "" {
		WriteError(w, http.StatusBadRequest, "product id is required")
		return
	}
	if p.Price < 0 {
		WriteError(w, http.StatusBadRequest, "price must not be negative")
		return
	}
	s, ok := h.shop(w, r)
	if !ok {
		return
	}
	if err := s.AddToCart(r.Context(), p); err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, viewOf(s))
}

// UpdateItem handles PATCH /api/store/cart/{siteId}/items/{itemId} with a
// quantity delta.
func (h *CartHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Delta int `json:"delta"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	s, ok := h.shop(w, r)
	if !ok {
		return
	}
	if err := s.UpdateQuantity(r.Context(), r.PathValue("itemId"), req.Delta); err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, viewOf(s))
}

// RemoveItem handles DELETE /api/store/cart/{siteId}/items/{itemId}.
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	s, ok := h.shop(w, r)
	if !ok {
		return
	}
	if err := s.RemoveFromCart(r.Context(), r.PathValue("itemId")); err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, viewOf(s))
}

// Checkout handles POST /api/store/cart/{siteId}/checkout with the shipping
// form. On failure the cart is left as it was.
func (h *CartHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var c storefront.Customer
	if !decodeJSON(w, r, &c) {
		return
	}
	if strings.TrimSpace(c.Name) == "" || strings.TrimSpace(c.Email) == "" {
		WriteError(w, http.StatusBadRequest, "name and email are required")
		return
	}
	s, ok := h.shop(w, r)
	if !ok {
		return
	}
	if err := s.BeginCheckout(); err != nil {
		if errors.Is(err, storefront.ErrEmptyCart) {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeStoreError(w, h.logger, err)
		return
	}
	order, err := s.SubmitOrder(r.Context(), c)
	if err != nil {
		if errors.Is(err, storefront.ErrOrderFailed) {
			h.logger.Warn("hosted checkout failed", "site", s.SiteID, "error", err)
			WriteError(w, http.StatusBadGateway, "order could not be placed")
			return
		}
		writeStoreError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusCreated, order)
}
