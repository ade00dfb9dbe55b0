// Package storefront is the shopper-side cart and checkout runtime built on
// the public store endpoints.
package storefront

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// Errors returned by the shop.
var (
	ErrEmptyCart    = errors.New("cart is empty")
	ErrInvalidState = errors.New("invalid checkout state")
	ErrOrderFailed  = errors.New("order failed")
)

// Product is what an "Add to Cart" button hands to the shop.
type Product struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
	Image string  `json:"image,omitempty"`
}

// Item is one cart line.
type Item struct {
	Product
	Quantity int `json:"quantity"`
}

// Option configures a Shop.
type Option func(*Shop)

// WithLogger sets the shop logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Shop) { s.logger = l }
}

// Shop is one shopper's cart for one site.
type Shop struct {
	SiteID string

	storage CartStorage
	backend Backend
	logger  *slog.Logger

	mu       sync.Mutex
	cart     []Item
	pageSlug string
	visible  bool
	state    State
}

// NewShop creates a shop for siteID.
func NewShop(siteID string, storage CartStorage, backend Backend, opts ...Option) *Shop {
	s := &Shop{
		SiteID:  siteID,
		storage: storage,
		backend: backend,
		logger:  slog.Default(),
		state:   StateCart,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init loads the saved cart, then fetches the store settings to decide
// whether the cart is shown on pageSlug. A settings failure hides the cart
// and is not returned.
func (s *Shop) Init(ctx context.Context, pageSlug string) error {
	items, err := s.storage.Load(ctx, CartKey(s.SiteID))
	if err != nil {
		return fmt.Errorf("load cart: %w", err)
	}

	s.mu.Lock()
	s.cart = items
	s.pageSlug = pageSlug
	s.visible = false
	s.mu.Unlock()

	settings, err := s.backend.Settings(ctx, s.SiteID)
	if err != nil {
		s.logger.Warn("failed to load shop settings", "site", s.SiteID, "error", err)
		return nil
	}
	visible := Visible(settings, pageSlug)
	s.logger.Debug("shop visibility", "site", s.SiteID, "page", pageSlug, "visible", visible)

	s.mu.Lock()
	s.visible = visible
	s.mu.Unlock()
	return nil
}

// Visible reports whether the floating cart is shown.
func (s *Shop) Visible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible
}

// Items returns a copy of the cart lines.
func (s *Shop) Items() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.cart)
}

// AddToCart adds one unit of p.
func (s *Shop) AddToCart(ctx context.Context, p Product) error {
	s.mu.Lock()
	if i := s.indexOf(p.ID); i >= 0 {
		s.cart[i].Quantity++
	} else {
		s.cart = append(s.cart, Item{Product: p, Quantity: 1})
	}
	s.mu.Unlock()
	return s.save(ctx)
}

// RemoveFromCart drops the line for id.
func (s *Shop) RemoveFromCart(ctx context.Context, id string) error {
	s.mu.Lock()
	s.cart = slices.DeleteFunc(s.cart, func(it Item) bool { return it.ID == id })
	s.mu.Unlock()
	return s.save(ctx)
}

// UpdateQuantity changes the quantity of id by delta, removing the line when
// it drops to zero or below. An unknown id is ignored.
func (s *Shop) UpdateQuantity(ctx context.Context, id string, delta int) error {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return nil
	}
	s.cart[i].Quantity += delta
	if s.cart[i].Quantity <= 0 {
		s.cart = slices.Delete(s.cart, i, i+1)
	}
	s.mu.Unlock()
	return s.save(ctx)
}

// Total is the sum of price times quantity with two decimals.
func (s *Shop) Total() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return formatTotal(s.cart)
}

// Count is the number of units in the cart.
func (s *Shop) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, it := range s.cart {
		n += it.Quantity
	}
	return n
}

func formatTotal(items []Item) string {
	var sum float64
	for _, it := range items {
		sum += it.Price * float64(it.Quantity)
	}
	return fmt.Sprintf("%.2f", sum)
}

func (s *Shop) indexOf(id string) int {
	return slices.IndexFunc(s.cart, func(it Item) bool { return it.ID == id })
}

func (s *Shop) save(ctx context.Context) error {
	items := s.Items()
	if err := s.storage.Save(ctx, CartKey(s.SiteID), items); err != nil {
		return fmt.Errorf("save cart: %w", err)
	}
	return nil
}
