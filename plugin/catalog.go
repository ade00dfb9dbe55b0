package plugin

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Catalog is the document format of an official plugin catalog file.
type Catalog struct {
	Plugins []Manifest `yaml:"plugins"`
}

// ParseCatalog decodes and validates one catalog document.
func ParseCatalog(data []byte) ([]Manifest, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	seen := make(map[string]bool, len(c.Plugins))
	for i := range c.Plugins {
		m := &c.Plugins[i]
		if err := m.Validate(); err != nil {
			return nil, err
		}
		if seen[m.ID] {
			return nil, fmt.Errorf("catalog: duplicate plugin id %q", m.ID)
		}
		seen[m.ID] = true
	}
	return c.Plugins, nil
}

// LoadDir reads every *.yaml and *.yml catalog file in dir, in name order.
// A later file overrides an earlier entry with the same id. A missing dir is
// an empty catalog.
func LoadDir(dir string) ([]Manifest, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read catalog dir: %w", err)
	}
	var out []Manifest
	index := make(map[string]int)
	for _, e := range entries {
		if e.IsDir() || !isCatalogFile(e.Name()) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read catalog %s: %w", e.Name(), err)
		}
		ms, err := ParseCatalog(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		out = Merge(out, ms, index)
	}
	return out, nil
}

// Merge appends next onto base, replacing entries whose id is already
// present. index maps ids to positions in base and may be nil.
func Merge(base, next []Manifest, index map[string]int) []Manifest {
	if index == nil {
		index = make(map[string]int, len(base))
		for i, m := range base {
			index[m.ID] = i
		}
	}
	out := slices.Clone(base)
	for _, m := range next {
		if i, ok := index[m.ID]; ok {
			out[i] = m
			continue
		}
		index[m.ID] = len(out)
		out = append(out, m)
	}
	return out
}

func isCatalogFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
