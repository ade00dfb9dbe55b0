// Package presets embeds the official plugin catalog.
package presets

import (
	_ "embed"

	"github.com/GoCodeAlone/sitebuilder/plugin"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Official returns the built-in official catalog.
func Official() ([]plugin.Manifest, error) {
	return plugin.ParseCatalog(catalogYAML)
}

// Load returns the built-in catalog merged with the operator catalog in dir.
// An empty dir returns the built-in catalog only.
func Load(dir string) ([]plugin.Manifest, error) {
	ms, err := Official()
	if err != nil {
		return nil, err
	}
	if dir == "" {
		return ms, nil
	}
	extra, err := plugin.LoadDir(dir)
	if err != nil {
		return nil, err
	}
	return plugin.Merge(ms, extra, nil), nil
}
