package tracing

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Handler wraps next with server-side spans named by method and path.
// Websocket upgrades are passed through untraced so the connection can be
// hijacked.
func Handler(next http.Handler) http.Handler {
	return otelhttp.NewHandler(next, "sitebuilder.http",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.Header.Get("Upgrade") == ""
		}),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}
