package dynamic

import (
	"slices"
	"strings"
	"sync"
	"time"
)

// LoadInfo describes the most recent entrypoint run of one plugin.
type LoadInfo struct {
	PluginID   string        `json:"pluginId"`
	Entrypoint string        `json:"entrypoint"`
	LoadedAt   time.Time     `json:"loadedAt"`
	Duration   time.Duration `json:"duration"`
	Runs       int           `json:"runs"`
	Failures   int           `json:"failures"`
	LastError  string        `json:"lastError,omitempty"`
}

// LoadRegistry tracks entrypoint runs per plugin and entrypoint.
// It is safe for concurrent access.
type LoadRegistry struct {
	mu    sync.RWMutex
	loads map[string]*LoadInfo
}

// NewLoadRegistry creates an empty registry.
func NewLoadRegistry() *LoadRegistry {
	return &LoadRegistry{loads: make(map[string]*LoadInfo)}
}

func loadKey(pluginID, entry string) string { return pluginID + "/" + entry }

// Record stores the outcome of one entrypoint run.
func (r *LoadRegistry) Record(pluginID, entry string, d time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := loadKey(pluginID, entry)
	info, ok := r.loads[key]
	if !ok {
		info = &LoadInfo{PluginID: pluginID, Entrypoint: entry}
		r.loads[key] = info
	}
	info.LoadedAt = time.Now().UTC()
	info.Duration = d
	info.Runs++
	info.LastError = ""
	if err != nil {
		info.Failures++
		info.LastError = err.Error()
	}
}

// Get returns the recorded info for one plugin entrypoint.
func (r *LoadRegistry) Get(pluginID, entry string) (LoadInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.loads[loadKey(pluginID, entry)]
	if !ok {
		return LoadInfo{}, false
	}
	return *info, true
}

// Forget drops everything recorded for a plugin.
func (r *LoadRegistry) Forget(pluginID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.loads {
		if strings.HasPrefix(key, pluginID+"/") {
			delete(r.loads, key)
		}
	}
}

// List returns all recorded infos ordered by plugin id then entrypoint.
func (r *LoadRegistry) List() []LoadInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]LoadInfo, 0, len(r.loads))
	for _, info := range r.loads {
		infos = append(infos, *info)
	}
	slices.SortFunc(infos, func(a, b LoadInfo) int {
		if c := strings.Compare(a.PluginID, b.PluginID); c != 0 {
			return c
		}
		return strings.Compare(a.Entrypoint, b.Entrypoint)
	})
	return infos
}

// Count returns the number of tracked plugin entrypoints.
func (r *LoadRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.loads)
}
