package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Role is a user's account role.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
)

// ValidRoles is the set of valid role values.
var ValidRoles = map[Role]bool{
	RoleAdmin:  true,
	RoleEditor: true,
}

// User is an authenticated account. InstalledPlugins is an ordered set of
// official plugin ids in installation order.
type User struct {
	ID               uuid.UUID `json:"id"`
	Email            string    `json:"email"`
	PasswordHash     string    `json:"-"`
	DisplayName      string    `json:"displayName"`
	Role             Role      `json:"role"`
	InstalledPlugins []string  `json:"installedPlugins"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// IsAdmin reports whether the user has the admin role.
func (u *User) IsAdmin() bool { return u != nil && u.Role == RoleAdmin }

// Plugin is a registry entry. Official plugins have no owner; custom plugins
// are owned by the user who created them.
type Plugin struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Icon        string     `json:"icon"`
	Code        string     `json:"code"`
	IsOfficial  bool       `json:"isOfficial"`
	CreatedBy   *uuid.UUID `json:"createdBy,omitempty"`
	Version     string     `json:"version"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// OwnedBy reports whether the plugin is a custom plugin owned by userID.
func (p *Plugin) OwnedBy(userID uuid.UUID) bool {
	return !p.IsOfficial && p.CreatedBy != nil && *p.CreatedBy == userID
}

// PluginDocument is a schemaless document in a plugin's data collection,
// scoped by (UserID, PluginID, Collection).
type PluginDocument struct {
	ID         uuid.UUID       `json:"id"`
	UserID     uuid.UUID       `json:"userId"`
	PluginID   string          `json:"pluginId"`
	Collection string          `json:"collection"`
	Data       json.RawMessage `json:"data"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// Scope identifies one user's collection of one plugin.
type Scope struct {
	UserID     uuid.UUID
	PluginID   string
	Collection string
}

// Validate checks that all parts of the scope are present.
func (s Scope) Validate() error {
	if s.UserID == uuid.Nil || s.PluginID == "" || s.Collection == "" {
		return ErrValidation
	}
	return nil
}

// Site is an owner's page. Content holds the serialized page tree.
type Site struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Content   string    `json:"content"`
	OwnerID   uuid.UUID `json:"ownerId"`
	Published bool      `json:"published"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Media is an uploaded file held by the media host.
type Media struct {
	ID          uuid.UUID `json:"id"`
	Filename    string    `json:"filename"`
	Key         string    `json:"key"`
	URL         string    `json:"url"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	UploadedBy  uuid.UUID `json:"uploadedBy"`
	CreatedAt   time.Time `json:"createdAt"`
}

// DefaultFormID names submissions that do not say which form they came from.
const DefaultFormID = "default"

// FormResponse is one visitor submission of a form on a published site.
type FormResponse struct {
	ID          uuid.UUID         `json:"id"`
	SiteID      uuid.UUID         `json:"siteId"`
	FormID      string            `json:"formId"`
	Data        map[string]string `json:"data"`
	SubmittedAt time.Time         `json:"submittedAt"`
}
