package storefront

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Backend is the remote side of the shop.
type Backend interface {
	Settings(ctx context.Context, siteID string) (Settings, error)
	CreateOrder(ctx context.Context, siteID string, order *Order) error
}

// HTTPBackend calls the public store endpoints.
type HTTPBackend struct {
	baseURL string
	client  *http.Client
}

// NewHTTPBackend creates a backend for the server at baseURL. A nil client
// uses a traced client with a 10 second timeout.
func NewHTTPBackend(baseURL string, client *http.Client) *HTTPBackend {
	if client == nil {
		client = &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &HTTPBackend{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Settings fetches GET /api/store/settings/{siteId}.
func (b *HTTPBackend) Settings(ctx context.Context, siteID string) (Settings, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		b.baseURL+"/api/store/settings/"+url.PathEscape(siteID), nil)
	if err != nil {
		return Settings{}, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return Settings{}, fmt.Errorf("fetch settings: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Settings{}, fmt.Errorf("fetch settings: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}
	return ParseSettings(unwrapData(body))
}

// CreateOrder posts to POST /api/store/orders.
func (b *HTTPBackend) CreateOrder(ctx context.Context, siteID string, order *Order) error {
	payload, err := json.Marshal(map[string]any{"siteId": siteID, "orderData": order})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/store/orders", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("post order: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("post order: status %d", resp.StatusCode)
	}
	return nil
}

// unwrapData returns the "data" member of a {"data": ...} envelope, or body
// unchanged when it is not enveloped.
func unwrapData(body []byte) []byte {
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err == nil && len(env.Data) > 0 {
		return env.Data
	}
	return body
}
