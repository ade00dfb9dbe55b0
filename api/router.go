package api

import (
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/GoCodeAlone/sitebuilder/dynamic"
	"github.com/GoCodeAlone/sitebuilder/events"
	"github.com/GoCodeAlone/sitebuilder/extension"
	"github.com/GoCodeAlone/sitebuilder/media"
	"github.com/GoCodeAlone/sitebuilder/metrics"
	"github.com/GoCodeAlone/sitebuilder/plugin"
	"github.com/GoCodeAlone/sitebuilder/store"
	"github.com/GoCodeAlone/sitebuilder/storefront"
)

// Config holds configuration for the API layer.
type Config struct {
	JWTSecret string //nolint:gosec // G117: config field
	JWTIssuer string
	AccessTTL time.Duration

	// RateLimit is the maximum number of requests per minute per IP allowed
	// on login, registration and order placement. Defaults to 10 when zero.
	RateLimit int

	// TrustedProxies are the reverse proxies whose forwarding headers name
	// the client. Without any, the peer address is used.
	TrustedProxies []netip.Prefix
}

// Services groups the dependencies the API is built on. Events, Metrics,
// Loads and Uploads are optional; Carts defaults to in-memory storage.
type Services struct {
	Store    store.Store
	Registry *plugin.Registry
	Sessions *extension.Manager
	Media    media.Host
	Events   *events.Emitter
	Metrics  *metrics.Collector
	Loads    *dynamic.LoadRegistry
	Carts    storefront.CartStorage
	// Uploads serves files stored by a local media host under /uploads/.
	Uploads http.Handler
	Logger  *slog.Logger
}

// NewRouter creates an http.Handler with all API routes registered. The
// returned stop function releases the rate limiter.
func NewRouter(svc Services, cfg Config) (http.Handler, func()) {
	mux := http.NewServeMux()
	logger := svc.Logger
	if logger == nil {
		logger = slog.Default()
	}

	secret := []byte(cfg.JWTSecret)
	mw := NewMiddleware(secret, cfg.JWTIssuer, svc.Store.Users())
	mw.TrustProxies(cfg.TrustedProxies)
	rl := mw.RateLimit(cfg.RateLimit)
	auth := func(h http.HandlerFunc) http.Handler { return mw.RequireAuth(h) }
	admin := func(h http.HandlerFunc) http.Handler { return mw.RequireAuth(mw.RequireAdmin(h)) }

	// --- Auth ---
	authH := NewAuthHandler(svc.Store.Users(), secret, cfg.JWTIssuer, cfg.AccessTTL, logger)
	mux.Handle("POST /api/auth/register", rl(mw.OptionalAuth(http.HandlerFunc(authH.Register))))
	mux.Handle("POST /api/auth/login", rl(http.HandlerFunc(authH.Login)))
	mux.Handle("GET /api/auth/me", auth(authH.Me))

	// --- Users ---
	userH := NewUserHandler(svc.Store.Users(), logger)
	mux.Handle("GET /api/users", admin(userH.List))
	mux.Handle("POST /api/users", admin(authH.Register))
	mux.Handle("DELETE /api/users/{id}", admin(userH.Delete))

	// --- Plugins ---
	plugH := NewPluginHandler(svc.Registry, logger)
	mux.Handle("GET /api/plugins/store", auth(plugH.Store))
	mux.Handle("GET /api/plugins/me", auth(plugH.Mine))
	mux.Handle("POST /api/plugins/install/{id}", auth(plugH.Install))
	mux.Handle("DELETE /api/plugins/install/{id}", auth(plugH.Uninstall))
	mux.Handle("POST /api/plugins/custom", auth(plugH.CreateCustom))
	mux.Handle("DELETE /api/plugins/custom/{id}", auth(plugH.DeleteCustom))

	// --- Plugin data ---
	dataH := NewDataHandler(svc.Store.Documents(), svc.Events, svc.Metrics, logger)
	mux.HandleFunc("GET /api/pl-data/public/{pluginId}/{collection}", dataH.ListPublic)
	mux.Handle("GET /api/pl-data/{pluginId}/{collection}", auth(dataH.List))
	mux.Handle("POST /api/pl-data/{pluginId}/{collection}", auth(dataH.Create))
	mux.Handle("GET /api/pl-data/{pluginId}/{collection}/{id}", auth(dataH.Get))
	mux.Handle("PUT /api/pl-data/{pluginId}/{collection}/{id}", auth(dataH.Update))
	mux.Handle("DELETE /api/pl-data/{pluginId}/{collection}/{id}", auth(dataH.Delete))

	// --- Storefront ---
	shopH := NewStorefrontHandler(svc.Store, svc.Events, svc.Metrics, logger)
	mux.Handle("POST /api/store/orders", rl(http.HandlerFunc(shopH.CreateOrder)))
	mux.HandleFunc("GET /api/store/settings/{siteId}", shopH.Settings)

	carts := svc.Carts
	if carts == nil {
		carts = storefront.NewMemoryStorage()
	}
	cartH := NewCartHandler(carts, shopH.Backend(), logger)
	mux.HandleFunc("GET /api/store/cart/{siteId}", cartH.Get)
	mux.HandleFunc("POST /api/store/cart/{siteId}/items", cartH.AddItem)
	mux.HandleFunc("PATCH /api/store/cart/{siteId}/items/{itemId}", cartH.UpdateItem)
	mux.HandleFunc("DELETE /api/store/cart/{siteId}/items/{itemId}", cartH.RemoveItem)
	mux.Handle("POST /api/store/cart/{siteId}/checkout", rl(http.HandlerFunc(cartH.Checkout)))

	// --- Sites ---
	siteH := NewSiteHandler(svc.Store.Sites(), logger)
	mux.Handle("POST /api/sites", auth(siteH.Create))
	mux.Handle("GET /api/sites", auth(siteH.List))
	mux.Handle("GET /api/sites/{id}", auth(siteH.Get))
	mux.Handle("PUT /api/sites/{id}", auth(siteH.Update))
	mux.Handle("DELETE /api/sites/{id}", admin(siteH.Delete))
	mux.Handle("GET /api/sites/slug/{slug}", mw.OptionalAuth(http.HandlerFunc(siteH.GetBySlug)))
	mux.Handle("GET /p/{slug}", mw.OptionalAuth(http.HandlerFunc(siteH.Render)))

	// --- Forms ---
	formH := NewFormHandler(svc.Store.Forms(), svc.Store.Sites(), logger)
	mux.Handle("POST /api/forms/submit/{siteId}", rl(http.HandlerFunc(formH.Submit)))
	mux.Handle("GET /api/forms/{siteId}", auth(formH.List))

	// --- Media ---
	if svc.Media != nil {
		mediaH := NewMediaHandler(svc.Store.Media(), svc.Media, logger)
		mux.Handle("POST /api/media", auth(mediaH.Upload))
		mux.Handle("GET /api/media", auth(mediaH.List))
		mux.Handle("DELETE /api/media/{id}", auth(mediaH.Delete))
	}
	if svc.Uploads != nil {
		mux.Handle("GET /uploads/", http.StripPrefix("/uploads/", svc.Uploads))
	}

	// --- Extension sessions ---
	if svc.Sessions != nil {
		bH := NewBuilderHandler(svc.Store.Sites(), svc.Registry, svc.Sessions, logger)
		mux.Handle("POST /api/builder/sessions", auth(bH.Open))
		mux.Handle("GET /api/builder/sessions/{id}", auth(bH.Get))
		mux.Handle("DELETE /api/builder/sessions/{id}", auth(bH.Close))
		mux.Handle("GET /api/builder/sessions/{id}/controls", auth(bH.Controls))
		mux.Handle("POST /api/builder/sessions/{id}/controls/{index}", auth(bH.InvokeControl))
		mux.Handle("GET /api/builder/sessions/{id}/tree", auth(bH.Tree))
		mux.Handle("PUT /api/builder/sessions/{id}/tree", auth(bH.SetTree))
		mux.Handle("POST /api/builder/sessions/{id}/elements", auth(bH.AddElement))
		mux.Handle("DELETE /api/builder/sessions/{id}/elements/{elementId}", auth(bH.RemoveElement))
		mux.Handle("POST /api/builder/sessions/{id}/save", auth(bH.Save))
		mux.Handle("GET /api/builder/sessions/{id}/preview", auth(bH.Preview))
		mux.Handle("GET /api/builder/sessions/{id}/events", auth(bH.Events))

		dH := NewDashboardHandler(svc.Registry, svc.Sessions, logger)
		mux.Handle("POST /api/dashboard/sessions", auth(dH.Open))
		mux.Handle("GET /api/dashboard/sessions/{id}", auth(dH.Get))
		mux.Handle("DELETE /api/dashboard/sessions/{id}", auth(dH.Close))
		mux.Handle("GET /api/dashboard/sessions/{id}/pages", auth(dH.Pages))
		mux.Handle("GET /api/dashboard/sessions/{id}/pages/{slug}", auth(dH.RenderPage))
		mux.Handle("POST /api/dashboard/sessions/{id}/pages/{slug}/actions/{name}", auth(dH.RunAction))
		mux.Handle("POST /api/dashboard/sessions/{id}/media-pick", auth(dH.MediaPick))
	}

	// --- Runtime ---
	rtH := NewRuntimeHandler(svc.Loads)
	mux.Handle("GET /api/runtime/loads", admin(rtH.Loads))

	if svc.Metrics != nil {
		mux.Handle("GET "+svc.Metrics.Path(), svc.Metrics.Handler())
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return mux, mw.Stop
}
