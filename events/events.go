// Package events publishes plugin data changes and storefront orders to a
// message broker.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/GoCodeAlone/sitebuilder/store"
)

// Document operations.
const (
	OpCreated = "created"
	OpUpdated = "updated"
	OpDeleted = "deleted"
)

// SubjectPrefix prefixes every subject this service publishes.
const SubjectPrefix = "sitebuilder"

// OrderCreatedSubject is published when a storefront order is placed.
const OrderCreatedSubject = SubjectPrefix + ".store.orders.created"

// Publisher sends a payload to a subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte) error
	Close() error
}

// DocumentEvent is the payload of a plugin data change.
type DocumentEvent struct {
	Op         string          `json:"op"`
	ID         string          `json:"id"`
	UserID     string          `json:"userId"`
	PluginID   string          `json:"pluginId"`
	Collection string          `json:"collection"`
	Data       json.RawMessage `json:"data,omitempty"`
	At         time.Time       `json:"at"`
}

// DocumentSubject returns the subject for a change in a plugin collection.
// Dots in plugin or collection names are replaced so they do not add tokens.
func DocumentSubject(pluginID, collection, op string) string {
	return strings.Join([]string{SubjectPrefix, "pl-data", token(pluginID), token(collection), op}, ".")
}

func token(s string) string {
	return strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(s)
}

// Emitter publishes domain events. Publishing is best effort: failures are
// logged and never returned to the caller.
type Emitter struct {
	pub    Publisher
	logger *slog.Logger
}

// NewEmitter wraps a publisher. A nil publisher yields an emitter that only
// logs at debug level.
func NewEmitter(pub Publisher, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{pub: pub, logger: logger}
}

// Document publishes a plugin data change.
func (e *Emitter) Document(ctx context.Context, op string, doc *store.PluginDocument) {
	if e == nil || doc == nil {
		return
	}
	ev := DocumentEvent{
		Op:         op,
		ID:         doc.ID.String(),
		UserID:     doc.UserID.String(),
		PluginID:   doc.PluginID,
		Collection: doc.Collection,
		At:         time.Now().UTC(),
	}
	if op != OpDeleted {
		ev.Data = doc.Data
	}
	e.emit(ctx, DocumentSubject(doc.PluginID, doc.Collection, op), ev)
}

// OrderCreated publishes a new storefront order.
func (e *Emitter) OrderCreated(ctx context.Context, siteID string, doc *store.PluginDocument) {
	if e == nil || doc == nil {
		return
	}
	e.emit(ctx, OrderCreatedSubject, map[string]any{
		"siteId":  siteID,
		"orderId": doc.ID.String(),
		"ownerId": doc.UserID.String(),
		"order":   doc.Data,
	})
}

func (e *Emitter) emit(ctx context.Context, subject string, payload any) {
	if e.pub == nil {
		e.logger.Debug("event", "subject", subject)
		return
	}
	b, err := json.Marshal(payload)
	if err != nil {
		e.logger.Error("marshal event", "subject", subject, "error", err)
		return
	}
	if err := e.pub.Publish(ctx, subject, b); err != nil {
		e.logger.Warn("publish event failed", "subject", subject, "error", err)
	}
}

// Close closes the underlying publisher.
func (e *Emitter) Close() error {
	if e == nil || e.pub == nil {
		return nil
	}
	return e.pub.Close()
}
