package storefront

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Settings is the store's visibility configuration as served by the
// settings endpoint. The document may carry other design fields too.
type Settings struct {
	Disabled     bool
	ShowOnAll    *bool
	EnabledPages []string
}

type rawSettings struct {
	Disabled     bool            `json:"disabled"`
	ShowOnAll    *bool           `json:"showOnAll"`
	EnabledPages json.RawMessage `json:"enabledPages"`
}

// ParseSettings decodes a settings document. enabledPages may be a list of
// slugs or a comma-separated string.
func ParseSettings(data []byte) (Settings, error) {
	var raw rawSettings
	if err := json.Unmarshal(data, &raw); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	s := Settings{Disabled: raw.Disabled, ShowOnAll: raw.ShowOnAll}

	if len(raw.EnabledPages) == 0 || string(raw.EnabledPages) == "null" {
		return s, nil
	}
	var list []string
	if err := json.Unmarshal(raw.EnabledPages, &list); err == nil {
		s.EnabledPages = list
		return s, nil
	}
	var csv string
	if err := json.Unmarshal(raw.EnabledPages, &csv); err == nil {
		for _, p := range strings.Split(csv, ",") {
			if p = strings.TrimSpace(p); p != "" {
				s.EnabledPages = append(s.EnabledPages, p)
			}
		}
	}
	return s, nil
}

// UnmarshalJSON implements json.Unmarshaler with ParseSettings.
func (s *Settings) UnmarshalJSON(data []byte) error {
	parsed, err := ParseSettings(data)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Visible reports whether the cart is shown on pageSlug: never when the
// store is disabled, always unless showOnAll is explicitly false, otherwise
// only on enabled pages.
func Visible(s Settings, pageSlug string) bool {
	if s.Disabled {
		return false
	}
	if s.ShowOnAll == nil || *s.ShowOnAll {
		return true
	}
	return slices.Contains(s.EnabledPages, pageSlug)
}

// Plugin data locations the storefront reads and writes. They belong to the
// ecom-store plugin of the site owner.
const (
	PluginID           = "ecom-store"
	OrdersCollection   = "orders"
	SettingsCollection = "store_settings"
	// SettingsFilter selects the settings singleton among store_settings
	// documents.
	SettingsFilter = `.id == "global_styles"`
)
