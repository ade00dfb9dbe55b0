package store

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// UserStore defines persistence operations for users and their installed
// plugin lists.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Get(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Update(ctx context.Context, u *User) error
	Count(ctx context.Context) (int, error)
	// List returns every user newest first.
	List(ctx context.Context) ([]*User, error)
	// Delete removes the user with their installed plugins, custom plugins
	// and sites.
	Delete(ctx context.Context, id uuid.UUID) error
	// InstallPlugin appends pluginID to the user's installed set. It returns
	// ErrAlreadyInstalled when the id is already present.
	InstallPlugin(ctx context.Context, userID uuid.UUID, pluginID string) error
	// UninstallPlugin removes pluginID from the installed set. Removing an
	// absent id is not an error.
	UninstallPlugin(ctx context.Context, userID uuid.UUID, pluginID string) error
	InstalledPlugins(ctx context.Context, userID uuid.UUID) ([]string, error)
}

// PluginStore defines persistence operations for registry entries.
type PluginStore interface {
	Create(ctx context.Context, p *Plugin) error
	Get(ctx context.Context, id string) (*Plugin, error)
	Update(ctx context.Context, p *Plugin) error
	Delete(ctx context.Context, id string) error
	ListOfficial(ctx context.Context) ([]*Plugin, error)
	// ListInstalledOrOwned returns the official plugins the user installed, in
	// installation order, followed by the user's custom plugins oldest first.
	ListInstalledOrOwned(ctx context.Context, userID uuid.UUID) ([]*Plugin, error)
}

// PluginDataStore defines persistence for plugin documents. Every lookup by
// id is matched against the full scope, so a document owned by another user
// or plugin reports ErrNotFound.
type PluginDataStore interface {
	// List returns the scope's documents newest first.
	List(ctx context.Context, scope Scope) ([]*PluginDocument, error)
	// ListPublic returns a plugin collection across all users, newest first.
	ListPublic(ctx context.Context, pluginID, collection string) ([]*PluginDocument, error)
	Get(ctx context.Context, scope Scope, id uuid.UUID) (*PluginDocument, error)
	Create(ctx context.Context, doc *PluginDocument) error
	// Update replaces the document data and advances UpdatedAt strictly.
	Update(ctx context.Context, scope Scope, id uuid.UUID, data json.RawMessage) (*PluginDocument, error)
	Delete(ctx context.Context, scope Scope, id uuid.UUID) error
}

// SiteFilter specifies criteria for listing sites.
type SiteFilter struct {
	OwnerID *uuid.UUID
}

// SiteStore defines persistence operations for sites.
type SiteStore interface {
	Create(ctx context.Context, s *Site) error
	Get(ctx context.Context, id uuid.UUID) (*Site, error)
	GetBySlug(ctx context.Context, slug string) (*Site, error)
	Update(ctx context.Context, s *Site) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f SiteFilter) ([]*Site, error)
}

// MediaStore defines persistence operations for media records.
type MediaStore interface {
	Create(ctx context.Context, m *Media) error
	Get(ctx context.Context, id uuid.UUID) (*Media, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context) ([]*Media, error)
}

// FormStore persists visitor form submissions.
type FormStore interface {
	Create(ctx context.Context, f *FormResponse) error
	// ListBySite returns a site's submissions newest first.
	ListBySite(ctx context.Context, siteID uuid.UUID) ([]*FormResponse, error)
}

// Store bundles all domain stores of one backend.
type Store interface {
	Users() UserStore
	Plugins() PluginStore
	Documents() PluginDataStore
	Sites() SiteStore
	Media() MediaStore
	Forms() FormStore
	Close() error
}

func validJSON(data json.RawMessage) error {
	if len(data) == 0 || !json.Valid(data) {
		return ErrValidation
	}
	return nil
}
