// Package metrics exposes Prometheus metrics for the HTTP API, plugin
// execution and editing sessions.
package metrics

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config holds configuration for the Collector.
type Config struct {
	Namespace      string   `yaml:"namespace"`
	Path           string   `yaml:"path"`
	EnabledMetrics []string `yaml:"enabled_metrics"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Namespace:      "sitebuilder",
		Path:           "/metrics",
		EnabledMetrics: []string{"http", "plugin", "data", "store"},
	}
}

func metricsEnabled(enabledList []string, name string) bool {
	for _, e := range enabledList {
		if e == name {
			return true
		}
	}
	return false
}

// Collector wraps Prometheus metric vectors on a private registry.
type Collector struct {
	config   Config
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	PluginRuns          *prometheus.CounterVec
	PluginRunDuration   *prometheus.HistogramVec
	DataOperations      *prometheus.CounterVec
	OrdersTotal         *prometheus.CounterVec
}

// New creates a Collector with the default configuration.
func New() *Collector {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a Collector with its own Prometheus registry.
func NewWithConfig(cfg Config) *Collector {
	reg := prometheus.NewRegistry()
	enabled := cfg.EnabledMetrics
	ns := cfg.Namespace
	c := &Collector{config: cfg, registry: reg}

	if metricsEnabled(enabled, "http") {
		c.HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status_code"})

		c.HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"})

		reg.MustRegister(c.HTTPRequestsTotal, c.HTTPRequestDuration)
	}

	if metricsEnabled(enabled, "plugin") {
		c.PluginRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "plugin_runs_total",
			Help:      "Total number of plugin entrypoint runs",
		}, []string{"plugin", "entrypoint", "status"})

		c.PluginRunDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "plugin_run_duration_seconds",
			Help:      "Duration of plugin entrypoint runs in seconds",
			Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"plugin", "entrypoint"})

		reg.MustRegister(c.PluginRuns, c.PluginRunDuration)
	}

	if metricsEnabled(enabled, "data") {
		c.DataOperations = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "plugin_data_operations_total",
			Help:      "Total number of plugin data writes",
		}, []string{"plugin", "operation"})

		reg.MustRegister(c.DataOperations)
	}

	if metricsEnabled(enabled, "store") {
		c.OrdersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "storefront_orders_total",
			Help:      "Total number of storefront orders",
		}, []string{"status"})

		reg.MustRegister(c.OrdersTotal)
	}

	return c
}

// Path returns the configured metrics endpoint path.
func (c *Collector) Path() string { return c.config.Path }

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler returns an HTTP handler that serves Prometheus metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records an HTTP request metric.
func (c *Collector) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	if c.HTTPRequestsTotal != nil {
		c.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	}
	if c.HTTPRequestDuration != nil {
		c.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
	}
}

// ObservePluginRun records one entrypoint run. Its signature matches
// dynamic.Observer.
func (c *Collector) ObservePluginRun(pluginID, entry string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	if c.PluginRuns != nil {
		c.PluginRuns.WithLabelValues(pluginID, entry, status).Inc()
	}
	if c.PluginRunDuration != nil {
		c.PluginRunDuration.WithLabelValues(pluginID, entry).Observe(d.Seconds())
	}
}

// RecordDataOperation counts a plugin data write.
func (c *Collector) RecordDataOperation(pluginID, op string) {
	if c.DataOperations != nil {
		c.DataOperations.WithLabelValues(pluginID, op).Inc()
	}
}

// RecordOrder counts a storefront order by outcome.
func (c *Collector) RecordOrder(status string) {
	if c.OrdersTotal != nil {
		c.OrdersTotal.WithLabelValues(status).Inc()
	}
}

// RegisterSessions exposes the open editing sessions as a gauge sampled from
// counts at scrape time.
func (c *Collector) RegisterSessions(counts func() (builders, dashboards int)) {
	for _, kind := range []string{"builder", "dashboard"} {
		c.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   c.config.Namespace,
			Name:        "open_sessions",
			Help:        "Number of open editing sessions",
			ConstLabels: prometheus.Labels{"kind": kind},
		}, func() float64 {
			b, d := counts()
			if kind == "builder" {
				return float64(b)
			}
			return float64(d)
		}))
	}
}

// statusRecorder captures the response status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack hands the connection to websocket upgrades.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(r.ResponseWriter).Hijack()
}

// Middleware records request count and latency labelled by the matched
// ServeMux pattern. It must wrap the mux directly so the pattern set on the
// request is visible after the call.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		c.RecordHTTPRequest(r.Method, route, rec.status, time.Since(start))
	})
}
