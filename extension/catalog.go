package extension

import (
	"sync"

	"github.com/GoCodeAlone/sitebuilder/sdk"
)

// ComponentEntry is a registered custom component type.
type ComponentEntry struct {
	Type     string        `json:"type"`
	PluginID string        `json:"pluginId"`
	Spec     sdk.Component `json:"-"`
}

// ComponentCatalog maps component type keys to their definitions. A later
// registration of the same key replaces the earlier one in place; listing
// order is the order keys were first registered.
type ComponentCatalog struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]ComponentEntry
}

// NewComponentCatalog returns an empty catalog.
func NewComponentCatalog() *ComponentCatalog {
	return &ComponentCatalog{entries: make(map[string]ComponentEntry)}
}

// Register adds or replaces the definition for typ.
func (c *ComponentCatalog) Register(pluginID, typ string, spec sdk.Component) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[typ]; !exists {
		c.order = append(c.order, typ)
	}
	c.entries[typ] = ComponentEntry{Type: typ, PluginID: pluginID, Spec: spec}
}

// Get returns the definition for typ.
func (c *ComponentCatalog) Get(typ string) (ComponentEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[typ]
	return e, ok
}

// List returns all entries in first-registration order.
func (c *ComponentCatalog) List() []ComponentEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ComponentEntry, 0, len(c.order))
	for _, typ := range c.order {
		out = append(out, c.entries[typ])
	}
	return out
}

// Len returns the number of registered types.
func (c *ComponentCatalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// PropertyEntry is a registered property-panel control.
type PropertyEntry struct {
	Index    int          `json:"index"`
	PluginID string       `json:"pluginId"`
	Spec     sdk.Property `json:"-"`
}

// PropertyCatalog holds controls keyed by (target type, key or label). A
// duplicate pair replaces the earlier control in place, keeping its index.
type PropertyCatalog struct {
	mu      sync.RWMutex
	entries []PropertyEntry
	index   map[string]int
}

// NewPropertyCatalog returns an empty catalog.
func NewPropertyCatalog() *PropertyCatalog {
	return &PropertyCatalog{index: make(map[string]int)}
}

func propertyKey(p sdk.Property) string {
	id := p.Key
	if id == "" {
		id = p.Label
	}
	return p.TargetType + "\x00" + id
}

// Register adds or replaces a control and returns its index.
func (c *PropertyCatalog) Register(pluginID string, p sdk.Property) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := propertyKey(p)
	if i, ok := c.index[k]; ok {
		c.entries[i] = PropertyEntry{Index: i, PluginID: pluginID, Spec: p}
		return i
	}
	i := len(c.entries)
	c.entries = append(c.entries, PropertyEntry{Index: i, PluginID: pluginID, Spec: p})
	c.index[k] = i
	return i
}

// Get returns the control at index.
func (c *PropertyCatalog) Get(index int) (PropertyEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if index < 0 || index >= len(c.entries) {
		return PropertyEntry{}, false
	}
	return c.entries[index], true
}

// For returns the controls that apply to elements of targetType. Controls
// with an empty or "*" target apply to every element.
func (c *PropertyCatalog) For(targetType string) []PropertyEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []PropertyEntry
	for _, e := range c.entries {
		t := e.Spec.TargetType
		if t == targetType || t == "" || t == "*" {
			out = append(out, e)
		}
	}
	return out
}

// List returns every control in index order.
func (c *PropertyCatalog) List() []PropertyEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]PropertyEntry, len(c.entries))
	copy(out, c.entries)
	return out
}
