// Package plugin is the plugin registry: the official catalog, custom
// plugins owned by users, and each user's installed set.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/sitebuilder/dynamic"
	"github.com/GoCodeAlone/sitebuilder/pagetree"
	"github.com/GoCodeAlone/sitebuilder/store"
)

// CustomPrefix starts the id of every user-created plugin.
const CustomPrefix = "custom_"

// CustomVersion is the version recorded for custom plugins.
const CustomVersion = "1.0.0"

// Registry manages official and custom plugins and their installation.
type Registry struct {
	users   store.UserStore
	plugins store.PluginStore
	logger  *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the registry logger.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates a Registry backed by the given stores.
func NewRegistry(users store.UserStore, plugins store.PluginStore, opts ...RegistryOption) *Registry {
	r := &Registry{users: users, plugins: plugins, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ListOfficial returns the official catalog.
func (r *Registry) ListOfficial(ctx context.Context) ([]*store.Plugin, error) {
	return r.plugins.ListOfficial(ctx)
}

// ListInstalledOrOwned returns the user's installed official plugins in
// installation order, then the user's custom plugins.
func (r *Registry) ListInstalledOrOwned(ctx context.Context, userID uuid.UUID) ([]*store.Plugin, error) {
	return r.plugins.ListInstalledOrOwned(ctx, userID)
}

// ExecutableFor returns the plugins whose code runs in the user's editor and
// dashboard sessions.
func (r *Registry) ExecutableFor(ctx context.Context, userID uuid.UUID) ([]*store.Plugin, error) {
	all, err := r.plugins.ListInstalledOrOwned(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]*store.Plugin, 0, len(all))
	for _, p := range all {
		if p.IsOfficial || p.OwnedBy(userID) {
			out = append(out, p)
		}
	}
	return out, nil
}

// Install adds an official plugin to the user's installed set.
func (r *Registry) Install(ctx context.Context, userID uuid.UUID, pluginID string) error {
	p, err := r.plugins.Get(ctx, pluginID)
	if err != nil {
		return err
	}
	if !p.IsOfficial {
		return fmt.Errorf("plugin %q is not in the official catalog: %w", pluginID, store.ErrNotFound)
	}
	if err := r.users.InstallPlugin(ctx, userID, pluginID); err != nil {
		return err
	}
	r.logger.Info("plugin installed", "user", userID, "plugin", pluginID)
	return nil
}

// Uninstall removes a plugin from the user's installed set. Uninstalling a
// plugin that is not installed succeeds.
func (r *Registry) Uninstall(ctx context.Context, userID uuid.UUID, pluginID string) error {
	if err := r.users.UninstallPlugin(ctx, userID, pluginID); err != nil {
		return err
	}
	r.logger.Info("plugin uninstalled", "user", userID, "plugin", pluginID)
	return nil
}

// CreateCustom stores a new custom plugin owned by userID. The code must
// pass the interpreter's source validation.
func (r *Registry) CreateCustom(ctx context.Context, userID uuid.UUID, name, description, code string) (*store.Plugin, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("plugin name is required: %w", store.ErrValidation)
	}
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("plugin code is required: %w", store.ErrValidation)
	}
	if err := dynamic.ValidateSource(code); err != nil {
		return nil, fmt.Errorf("%v: %w", err, store.ErrValidation)
	}

	owner := userID
	p := &store.Plugin{
		ID:          CustomPrefix + pagetree.RandomSuffix(9),
		Name:        name,
		Description: description,
		Icon:        "code",
		Code:        code,
		CreatedBy:   &owner,
		Version:     CustomVersion,
	}
	if err := r.plugins.Create(ctx, p); err != nil {
		return nil, err
	}
	r.logger.Info("custom plugin created", "user", userID, "plugin", p.ID)
	return p, nil
}

// DeleteCustom removes a custom plugin. Only its owner may delete it.
func (r *Registry) DeleteCustom(ctx context.Context, userID uuid.UUID, pluginID string) error {
	p, err := r.plugins.Get(ctx, pluginID)
	if err != nil {
		return err
	}
	if p.IsOfficial {
		return fmt.Errorf("official plugin %q cannot be deleted: %w", pluginID, store.ErrForbidden)
	}
	if !p.OwnedBy(userID) {
		return fmt.Errorf("plugin %q belongs to another user: %w", pluginID, store.ErrForbidden)
	}
	if err := r.plugins.Delete(ctx, pluginID); err != nil {
		return err
	}
	r.logger.Info("custom plugin deleted", "user", userID, "plugin", pluginID)
	return nil
}

// SeedResult counts what SeedOfficial changed.
type SeedResult struct {
	Created   int
	Updated   int
	Unchanged int
	Skipped   int
}

// SeedOfficial upserts the catalog. Existing official rows are overwritten
// in place, absent ones are inserted, and an id held by a custom plugin is
// left alone. Running it twice with the same catalog changes nothing.
func (r *Registry) SeedOfficial(ctx context.Context, catalog []Manifest) (SeedResult, error) {
	var res SeedResult
	for i := range catalog {
		m := &catalog[i]
		if err := m.Validate(); err != nil {
			return res, fmt.Errorf("%v: %w", err, store.ErrValidation)
		}

		existing, err := r.plugins.Get(ctx, m.ID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			if err := r.plugins.Create(ctx, m.Plugin()); err != nil {
				return res, fmt.Errorf("seed %s: %w", m.ID, err)
			}
			res.Created++
			continue
		case err != nil:
			return res, fmt.Errorf("seed %s: %w", m.ID, err)
		}

		if !existing.IsOfficial {
			r.logger.Warn("catalog id held by custom plugin, skipping", "plugin", m.ID)
			res.Skipped++
			continue
		}
		if sameContent(existing, m) {
			res.Unchanged++
			continue
		}
		r.logVersionChange(existing.Version, m)

		next := m.Plugin()
		next.CreatedAt = existing.CreatedAt
		if err := r.plugins.Update(ctx, next); err != nil {
			return res, fmt.Errorf("seed %s: %w", m.ID, err)
		}
		res.Updated++
	}
	r.logger.Info("official catalog seeded",
		"created", res.Created, "updated", res.Updated, "unchanged", res.Unchanged, "skipped", res.Skipped)
	return res, nil
}

func sameContent(p *store.Plugin, m *Manifest) bool {
	return p.Name == m.Name && p.Description == m.Description && p.Icon == m.Icon &&
		p.Code == m.Code && p.Version == m.Version
}

func (r *Registry) logVersionChange(old string, m *Manifest) {
	prev, err := ParseSemver(old)
	if err != nil {
		return
	}
	next, _ := ParseSemver(m.Version)
	if next.Compare(prev) < 0 {
		r.logger.Warn("official plugin downgraded", "plugin", m.ID, "from", prev, "to", next)
		return
	}
	r.logger.Info("official plugin updated", "plugin", m.ID, "from", prev, "to", next)
}
