package plugin

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/GoCodeAlone/sitebuilder/store"
)

// Manifest describes one official plugin in a catalog file.
type Manifest struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Icon        string `json:"icon" yaml:"icon"`
	Version     string `json:"version" yaml:"version"`
	Code        string `json:"code" yaml:"code"`
}

// Validate checks that a manifest has all required fields and a valid semver.
func (m *Manifest) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("manifest: id is required")
	}
	if !isValidPluginID(m.ID) {
		return fmt.Errorf("manifest: id %q must be lowercase alphanumeric with hyphens", m.ID)
	}
	if strings.HasPrefix(m.ID, CustomPrefix) {
		return fmt.Errorf("manifest: id %q uses the reserved %q prefix", m.ID, CustomPrefix)
	}
	if m.Name == "" {
		return fmt.Errorf("manifest %s: name is required", m.ID)
	}
	if m.Version == "" {
		return fmt.Errorf("manifest %s: version is required", m.ID)
	}
	if _, err := ParseSemver(m.Version); err != nil {
		return fmt.Errorf("manifest %s: invalid version %q: %w", m.ID, m.Version, err)
	}
	if strings.TrimSpace(m.Code) == "" {
		return fmt.Errorf("manifest %s: code is required", m.ID)
	}
	return nil
}

// Plugin converts the manifest to an official registry entry.
func (m *Manifest) Plugin() *store.Plugin {
	return &store.Plugin{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		Icon:        m.Icon,
		Code:        m.Code,
		Version:     m.Version,
		IsOfficial:  true,
	}
}

var pluginIDRe = regexp.MustCompile(`^[a-z][a-z0-9-]*[a-z0-9]$`)

func isValidPluginID(id string) bool {
	if len(id) < 2 {
		return len(id) == 1 && id[0] >= 'a' && id[0] <= 'z'
	}
	return pluginIDRe.MatchString(id)
}

// Semver represents a parsed semantic version.
type Semver struct {
	Major int
	Minor int
	Patch int
}

func (s Semver) String() string {
	return fmt.Sprintf("%d.%d.%d", s.Major, s.Minor, s.Patch)
}

// Compare returns -1, 0, or 1.
func (s Semver) Compare(other Semver) int {
	if s.Major != other.Major {
		if s.Major < other.Major {
			return -1
		}
		return 1
	}
	if s.Minor != other.Minor {
		if s.Minor < other.Minor {
			return -1
		}
		return 1
	}
	if s.Patch != other.Patch {
		if s.Patch < other.Patch {
			return -1
		}
		return 1
	}
	return 0
}

// ParseSemver parses a version string like "1.2.3" into a Semver.
func ParseSemver(v string) (Semver, error) {
	v = strings.TrimPrefix(v, "v")
	parts := strings.SplitN(v, ".", 3)
	if len(parts) != 3 {
		return Semver{}, fmt.Errorf("expected major.minor.patch, got %q", v)
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return Semver{}, fmt.Errorf("invalid major version: %w", err)
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return Semver{}, fmt.Errorf("invalid minor version: %w", err)
	}
	patch, err := strconv.Atoi(parts[2])
	if err != nil {
		return Semver{}, fmt.Errorf("invalid patch version: %w", err)
	}
	return Semver{Major: major, Minor: minor, Patch: patch}, nil
}
