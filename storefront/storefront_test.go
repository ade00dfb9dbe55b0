package storefront

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type stubBackend struct {
	mu          sync.Mutex
	settings    Settings
	settingsErr error
	orderErr    error
	orders      []*Order
}

func (b *stubBackend) Settings(context.Context, string) (Settings, error) {
	return b.settings, b.settingsErr
}

func (b *stubBackend) CreateOrder(_ context.Context, _ string, o *Order) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.orderErr != nil {
		return b.orderErr
	}
	b.orders = append(b.orders, o)
	return nil
}

func boolPtr(b bool) *bool { return &b }

func TestCartScenario(t *testing.T) {
	ctx := context.Background()
	s := NewShop("site1", NewMemoryStorage(), &stubBackend{})

	if err := s.AddToCart(ctx, Product{ID: "a", Name: "Mug", Price: 9.5}); err != nil {
		t.Fatalf("AddToCart: %v", err)
	}
	if err := s.AddToCart(ctx, Product{ID: "b", Name: "Tee", Price: 20}); err != nil {
		t.Fatalf("AddToCart: %v", err)
	}
	if err := s.UpdateQuantity(ctx, "b", -1); err != nil {
		t.Fatalf("UpdateQuantity: %v", err)
	}

	items := s.Items()
	if len(items) != 1 || items[0].ID != "a" {
		t.Fatalf("expected only a in cart, got %+v", items)
	}
	if got := s.Total(); got != "9.50" {
		t.Errorf("Total = %q, want 9.50", got)
	}
}

func TestAddToCartIncrementsQuantity(t *testing.T) {
	ctx := context.Background()
	s := NewShop("site1", NewMemoryStorage(), &stubBackend{})
	p := Product{ID: "a", Name: "Mug", Price: 1.25}
	for range 3 {
		if err := s.AddToCart(ctx, p); err != nil {
			t.Fatal(err)
		}
	}
	if len(s.Items()) != 1 || s.Count() != 3 {
		t.Fatalf("expected one line of 3, got %+v", s.Items())
	}
	if s.Total() != "3.75" {
		t.Errorf("Total = %q", s.Total())
	}
	if err := s.RemoveFromCart(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if s.Count() != 0 || s.Total() != "0.00" {
		t.Errorf("expected empty cart, got %+v", s.Items())
	}
}

func TestCartPersistsPerSite(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	s := NewShop("site1", storage, &stubBackend{})
	if err := s.AddToCart(ctx, Product{ID: "a", Price: 2}); err != nil {
		t.Fatal(err)
	}

	reloaded := NewShop("site1", storage, &stubBackend{})
	if err := reloaded.Init(ctx, "home"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if reloaded.Count() != 1 {
		t.Errorf("expected cart to reload, got %+v", reloaded.Items())
	}

	other := NewShop("site2", storage, &stubBackend{})
	if err := other.Init(ctx, "home"); err != nil {
		t.Fatal(err)
	}
	if other.Count() != 0 {
		t.Errorf("site2 must not see site1's cart")
	}
}

func TestRedisStorage(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	ctx := context.Background()
	storage := NewRedisStorage(client, time.Hour)
	s := NewShop("site1", storage, &stubBackend{})
	if err := s.AddToCart(ctx, Product{ID: "a", Name: "Mug", Price: 9.5}); err != nil {
		t.Fatalf("AddToCart: %v", err)
	}

	if !mr.Exists("shop_cart_site1") {
		t.Fatal("expected cart key in redis")
	}
	if ttl := mr.TTL("shop_cart_site1"); ttl != time.Hour {
		t.Errorf("TTL = %v", ttl)
	}

	items, err := storage.Load(ctx, CartKey("site1"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(items) != 1 || items[0].Name != "Mug" || items[0].Quantity != 1 {
		t.Errorf("unexpected items %+v", items)
	}

	if err := s.RemoveFromCart(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if mr.Exists("shop_cart_site1") {
		t.Error("expected empty cart to delete the key")
	}
	if items, err := storage.Load(ctx, CartKey("missing")); err != nil || items != nil {
		t.Errorf("missing cart: %v, %v", items, err)
	}
}

func TestParseSettingsAndVisible(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		slug string
		want bool
	}{
		{"default shows", `{}`, "home", true},
		{"show on all", `{"showOnAll":true,"enabledPages":[]}`, "home", true},
		{"disabled", `{"disabled":true}`, "home", false},
		{"list allowed", `{"showOnAll":false,"enabledPages":["shop","home"]}`, "home", true},
		{"list denied", `{"showOnAll":false,"enabledPages":["shop"]}`, "home", false},
		{"comma string", `{"showOnAll":false,"enabledPages":"shop, home"}`, "home", true},
		{"comma string denied", `{"showOnAll":false,"enabledPages":"shop,about"}`, "home", false},
		{"no pages", `{"showOnAll":false}`, "home", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := ParseSettings([]byte(tt.doc))
			if err != nil {
				t.Fatalf("ParseSettings: %v", err)
			}
			if got := Visible(s, tt.slug); got != tt.want {
				t.Errorf("Visible = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInitHidesCartWhenSettingsFail(t *testing.T) {
	s := NewShop("site1", NewMemoryStorage(), &stubBackend{settingsErr: errors.New("boom")})
	if err := s.Init(context.Background(), "home"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if s.Visible() {
		t.Error("cart must be hidden when settings cannot be loaded")
	}

	shown := NewShop("site1", NewMemoryStorage(), &stubBackend{settings: Settings{ShowOnAll: boolPtr(false), EnabledPages: []string{"home"}}})
	if err := shown.Init(context.Background(), "home"); err != nil {
		t.Fatal(err)
	}
	if !shown.Visible() {
		t.Error("cart should be visible on an enabled page")
	}
}

func TestCheckoutFlow(t *testing.T) {
	ctx := context.Background()
	backend := &stubBackend{orderErr: errors.New("unavailable")}
	s := NewShop("site1", NewMemoryStorage(), backend)

	if err := s.BeginCheckout(); !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}
	if err := s.AddToCart(ctx, Product{ID: "a", Price: 9.5}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SubmitOrder(ctx, Customer{Name: "Ann"}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState before checkout, got %v", err)
	}
	if err := s.BeginCheckout(); err != nil {
		t.Fatalf("BeginCheckout: %v", err)
	}

	if _, err := s.SubmitOrder(ctx, Customer{Name: "Ann"}); !errors.Is(err, ErrOrderFailed) {
		t.Fatalf("expected ErrOrderFailed, got %v", err)
	}
	if s.State() != StateShipping || s.Count() != 1 {
		t.Fatalf("failed submit must keep the form and cart: state=%s count=%d", s.State(), s.Count())
	}

	backend.orderErr = nil
	order, err := s.SubmitOrder(ctx, Customer{Name: "Ann", Email: "ann@example.com"})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if order.Total != "9.50" || len(order.Items) != 1 {
		t.Errorf("unexpected order %+v", order)
	}
	if s.State() != StateConfirmation || s.Count() != 0 {
		t.Errorf("expected confirmation with empty cart, got state=%s count=%d", s.State(), s.Count())
	}
	if len(backend.orders) != 1 {
		t.Errorf("expected 1 recorded order, got %d", len(backend.orders))
	}
	s.BackToCart()
	if s.State() != StateCart {
		t.Errorf("BackToCart: state=%s", s.State())
	}
}

func TestHTTPBackend(t *testing.T) {
	var gotOrder map[string]json.RawMessage
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/store/settings/{siteId}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("siteId") != "site1" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"showOnAll":false,"enabledPages":"home"}}`))
	})
	mux.HandleFunc("POST /api/store/orders", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotOrder); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := NewHTTPBackend(srv.URL, srv.Client())
	settings, err := b.Settings(context.Background(), "site1")
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	if !Visible(settings, "home") || Visible(settings, "about") {
		t.Errorf("unexpected settings %+v", settings)
	}
	if _, err := b.Settings(context.Background(), "missing"); err == nil {
		t.Error("expected error for unknown site")
	}

	order := &Order{Customer: Customer{Name: "Ann"}, Items: []Item{{Product: Product{ID: "a", Price: 1}, Quantity: 2}}, Total: "2.00"}
	if err := b.CreateOrder(context.Background(), "site1", order); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if string(gotOrder["siteId"]) != `"site1"` {
		t.Errorf("siteId = %s", gotOrder["siteId"])
	}
	var sent Order
	if err := json.Unmarshal(gotOrder["orderData"], &sent); err != nil || sent.Total != "2.00" {
		t.Errorf("orderData = %s (%v)", gotOrder["orderData"], err)
	}
}
