// Package extension hosts plugin code inside editing sessions. A session owns
// its component and property catalogs and its page tree; plugins only reach
// them through the sdk.Builder and sdk.Dashboard capabilities handed to their
// entrypoints.
package extension

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GoCodeAlone/sitebuilder/sdk"
	"github.com/GoCodeAlone/sitebuilder/store"
)

// Runner executes a plugin's entrypoints.
type Runner interface {
	RunBuilder(ctx context.Context, p *store.Plugin, api sdk.Builder) error
	RunDashboard(ctx context.Context, p *store.Plugin, api sdk.Dashboard) error
}

var (
	// ErrHandlerFailed wraps a plugin handler's error or panic.
	ErrHandlerFailed = errors.New("plugin handler failed")
	// ErrRevoked is returned to plugin code calling its API outside a host
	// call or after its entrypoint failed.
	ErrRevoked = errors.New("plugin API is not available")
)

// Notification levels.
const (
	LevelInfo  = "info"
	LevelError = "error"
)

// Notification is a message shown to the session's user.
type Notification struct {
	Level    string    `json:"level"`
	PluginID string    `json:"pluginId,omitempty"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

// LoadError records a plugin whose entrypoint failed.
type LoadError struct {
	PluginID string `json:"pluginId"`
	Error    string `json:"error"`
}

// notifier is the notification log shared by both session kinds.
type notifier struct {
	mu    sync.Mutex
	items []Notification
}

func (n *notifier) add(level, pluginID, msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.items = append(n.items, Notification{Level: level, PluginID: pluginID, Message: msg, At: time.Now().UTC()})
}

func (n *notifier) list() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Notification, len(n.items))
	copy(out, n.items)
	return out
}

// safeCall runs plugin code and turns a panic into an error.
func safeCall(what string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic in %s: %v", ErrHandlerFailed, what, r)
		}
	}()
	if err := fn(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrHandlerFailed, what, err)
	}
	return nil
}

// grant gates a plugin's capability object. Plugin code may only use it
// while the host is running one of that plugin's calls; an entrypoint that
// fails or times out revokes it for the rest of the session.
type grant struct {
	inCall  atomic.Bool
	revoked atomic.Bool
}

func (g *grant) enter() bool {
	if g.revoked.Load() {
		return false
	}
	g.inCall.Store(true)
	return true
}

func (g *grant) leave() { g.inCall.Store(false) }

func (g *grant) revoke() {
	g.revoked.Store(true)
	g.inCall.Store(false)
}

func (g *grant) active() bool { return g.inCall.Load() && !g.revoked.Load() }
