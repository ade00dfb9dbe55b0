package extension

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GoCodeAlone/sitebuilder/pagetree"
	"github.com/GoCodeAlone/sitebuilder/sdk"
	"github.com/GoCodeAlone/sitebuilder/store"
	"github.com/google/uuid"
)

// DefaultProgressLabel is shown on a button control while its handler runs.
const DefaultProgressLabel = "Working..."

// BuilderSession is one user's page editor for one site.
type BuilderSession struct {
	ID        string
	UserID    uuid.UUID
	SiteID    uuid.UUID
	CreatedAt time.Time

	ctx        context.Context
	docs       store.PluginDataStore
	components *ComponentCatalog
	properties *PropertyCatalog
	notes      notifier
	logger     *slog.Logger

	// treeMu is held whenever plugin code runs or the tree is read or
	// replaced by the host.
	treeMu sync.Mutex
	tree   []*pagetree.Node
	apis   map[string]*builderAPI

	mu         sync.Mutex
	styles     []string
	revision   uint64
	subs       map[int]chan uint64
	nextSub    int
	running    map[int]string
	loadErrors []LoadError
	lastUsed   time.Time
	closed     bool
}

func newBuilderSession(ctx context.Context, userID, siteID uuid.UUID, tree []*pagetree.Node, docs store.PluginDataStore, logger *slog.Logger) *BuilderSession {
	now := time.Now().UTC()
	return &BuilderSession{
		ID:         uuid.NewString(),
		UserID:     userID,
		SiteID:     siteID,
		CreatedAt:  now,
		ctx:        context.WithoutCancel(ctx),
		docs:       docs,
		components: NewComponentCatalog(),
		properties: NewPropertyCatalog(),
		logger:     logger,
		tree:       tree,
		apis:       make(map[string]*builderAPI),
		subs:       make(map[int]chan uint64),
		running:    make(map[int]string),
		lastUsed:   now,
	}
}

// load runs every plugin's Builder entrypoint. A failing plugin is recorded
// and reported; the remaining plugins still load. Each entrypoint edits a
// private copy of the tree that replaces the canvas only when it returns
// cleanly.
func (s *BuilderSession) load(ctx context.Context, runner Runner, plugins []*store.Plugin) {
	s.treeMu.Lock()
	defer s.treeMu.Unlock()
	for _, p := range plugins {
		api := &builderAPI{session: s, pluginID: p.ID}
		work := pagetree.CloneAll(s.tree)
		api.open(work)
		err := safeCall("Builder entrypoint", func() error { return runner.RunBuilder(ctx, p, api) })
		api.close()
		if err != nil {
			api.revoke()
			s.logger.Warn("plugin failed to load", "plugin", p.ID, "session", s.ID, "error", err)
			s.mu.Lock()
			s.loadErrors = append(s.loadErrors, LoadError{PluginID: p.ID, Error: err.Error()})
			s.mu.Unlock()
			s.notes.add(LevelError, p.ID, fmt.Sprintf("Plugin %s failed to load: %v", p.Name, err))
		} else {
			s.tree = work
		}
		s.apis[p.ID] = api
	}
}

// Components returns the session's component catalog.
func (s *BuilderSession) Components() *ComponentCatalog { return s.components }

// Properties returns the session's property catalog.
func (s *BuilderSession) Properties() *PropertyCatalog { return s.properties }

// Tree returns a deep copy of the current page tree.
func (s *BuilderSession) Tree() []*pagetree.Node {
	s.treeMu.Lock()
	defer s.treeMu.Unlock()
	return pagetree.CloneAll(s.tree)
}

// SetTree replaces the whole canvas.
func (s *BuilderSession) SetTree(nodes []*pagetree.Node) {
	s.treeMu.Lock()
	s.tree = pagetree.Normalize(nodes)
	s.treeMu.Unlock()
	s.Refresh()
}

// Instantiate creates an element of typ from the catalog (or a built-in kind)
// and appends it to the parent, or to the root when parentID is empty.
func (s *BuilderSession) Instantiate(typ, parentID string) (*pagetree.Node, error) {
	kind := pagetree.Kind(typ)
	n := &pagetree.Node{ID: pagetree.NewID(string(kind)), Type: kind}
	if e, ok := s.components.Get(typ); ok {
		n.TagName = e.Spec.TagName
		n.Content = e.Spec.Content
		for k, v := range e.Spec.DefaultStyles {
			n.SetStyle(k, v)
		}
		n.Children = pagetree.CloneAll(e.Spec.Template)
		pagetree.Walk(n.Children, func(c, _ *pagetree.Node) bool {
			if c.ID == "" {
				c.ID = pagetree.NewID(string(c.Type))
			}
			return true
		})
	} else if !kind.IsBuiltin() {
		return nil, fmt.Errorf("%w: unknown component type %q", store.ErrValidation, typ)
	}

	s.treeMu.Lock()
	if parentID == "" {
		s.tree = append(s.tree, n)
	} else {
		parent := pagetree.FindByID(s.tree, parentID)
		if parent == nil {
			s.treeMu.Unlock()
			return nil, fmt.Errorf("%w: element %s", store.ErrNotFound, parentID)
		}
		if !s.acceptsChildren(parent) {
			s.treeMu.Unlock()
			return nil, fmt.Errorf("%w: element %s does not accept children", store.ErrValidation, parentID)
		}
		parent.Children = append(parent.Children, n)
		parent.Content = ""
	}
	out := pagetree.Clone(n)
	s.treeMu.Unlock()
	s.Refresh()
	return out, nil
}

// Remove deletes the element with id and its subtree.
func (s *BuilderSession) Remove(id string) error {
	s.treeMu.Lock()
	nodes, ok := pagetree.Remove(s.tree, id)
	if ok {
		s.tree = nodes
	}
	s.treeMu.Unlock()
	if !ok {
		return fmt.Errorf("%w: element %s", store.ErrNotFound, id)
	}
	s.Refresh()
	return nil
}

func (s *BuilderSession) acceptsChildren(n *pagetree.Node) bool {
	if n.Type.IsCustom() {
		e, ok := s.components.Get(string(n.Type))
		return ok && e.Spec.CanDrop
	}
	return n.Type.AcceptsChildren()
}

// ControlResult reports the outcome of a control invocation.
type ControlResult struct {
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
	Revision uint64 `json:"revision"`
}

// InvokeControl runs the control at index against the element. Button
// handlers switch the control into its running state for their duration and
// always switch it back. A failing handler is reported as a notification and
// in the result; it is not retried.
func (s *BuilderSession) InvokeControl(index int, elementID, value string) (ControlResult, error) {
	entry, ok := s.properties.Get(index)
	if !ok {
		return ControlResult{}, fmt.Errorf("%w: control %d", store.ErrNotFound, index)
	}
	spec := entry.Spec

	if spec.Control == sdk.ControlButton {
		label := spec.Progress
		if label == "" {
			label = DefaultProgressLabel
		}
		s.mu.Lock()
		if _, busy := s.running[index]; busy {
			s.mu.Unlock()
			return ControlResult{}, fmt.Errorf("%w: control %d is already running", store.ErrConflict, index)
		}
		s.running[index] = label
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			delete(s.running, index)
			s.mu.Unlock()
		}()
	}

	s.treeMu.Lock()
	el := pagetree.FindByID(s.tree, elementID)
	if el == nil {
		s.treeMu.Unlock()
		return ControlResult{}, fmt.Errorf("%w: element %s", store.ErrNotFound, elementID)
	}
	if t := spec.TargetType; t != "" && t != "*" && t != string(el.Type) {
		s.treeMu.Unlock()
		return ControlResult{}, fmt.Errorf("%w: control %d does not apply to %s elements", store.ErrValidation, index, el.Type)
	}

	api := s.apis[entry.PluginID]
	if api != nil && !api.open(s.tree) {
		s.treeMu.Unlock()
		return ControlResult{}, fmt.Errorf("%w: plugin %s is disabled in this session", store.ErrConflict, entry.PluginID)
	}

	var err error
	switch {
	case spec.Control == sdk.ControlButton:
		if spec.OnClick != nil {
			err = safeCall("click handler", func() error { return spec.OnClick(el) })
		}
	case spec.OnChange != nil:
		err = safeCall("change handler", func() error { spec.OnChange(el, value); return nil })
	default:
		el.SetStyle(spec.Key, value)
	}
	if api != nil {
		api.close()
	}
	s.treeMu.Unlock()

	if err != nil {
		s.logger.Warn("control handler failed", "plugin", entry.PluginID, "control", index, "error", err)
		s.notes.add(LevelError, entry.PluginID, "Error: "+causeText(err))
		return ControlResult{OK: false, Error: err.Error(), Revision: s.Revision()}, nil
	}
	return ControlResult{OK: true, Revision: s.Refresh()}, nil
}

// causeText strips the ErrHandlerFailed prefix from a safeCall error.
func causeText(err error) string {
	msg := err.Error()
	prefix := ErrHandlerFailed.Error() + ": "
	if len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
		return msg[len(prefix):]
	}
	return msg
}

// ControlStates returns the labels of button controls currently running,
// keyed by control index.
func (s *BuilderSession) ControlStates() map[int]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]string, len(s.running))
	for k, v := range s.running {
		out[k] = v
	}
	return out
}

// Refresh advances the canvas revision and notifies subscribers.
func (s *BuilderSession) Refresh() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revision++
	for _, ch := range s.subs {
		select {
		case ch <- s.revision:
		default:
			// Replace the stale revision with the latest one.
			select {
			case <-ch:
			default:
			}
			ch <- s.revision
		}
	}
	return s.revision
}

// Revision returns the current canvas revision.
func (s *BuilderSession) Revision() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision
}

// Subscribe returns a channel that receives canvas revisions. The channel is
// closed when the session closes or cancel is called.
func (s *BuilderSession) Subscribe() (<-chan uint64, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan uint64, 1)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
}

// GlobalStyles returns the CSS blocks plugins added, in insertion order.
func (s *BuilderSession) GlobalStyles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.styles)
}

func (s *BuilderSession) addGlobalStyle(css string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if css == "" || slices.Contains(s.styles, css) {
		return
	}
	s.styles = append(s.styles, css)
}

// Notifications returns the session's notifications oldest first.
func (s *BuilderSession) Notifications() []Notification { return s.notes.list() }

// LoadErrors returns the plugins that failed to load.
func (s *BuilderSession) LoadErrors() []LoadError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.loadErrors)
}

func (s *BuilderSession) touch() {
	s.mu.Lock()
	s.lastUsed = time.Now()
	s.mu.Unlock()
}

func (s *BuilderSession) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// Close ends all subscriptions.
func (s *BuilderSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
}

// BuilderView is the serializable state of a builder session.
type BuilderView struct {
	ID            string           `json:"id"`
	SiteID        uuid.UUID        `json:"siteId"`
	Revision      uint64           `json:"revision"`
	Tree          []*pagetree.Node `json:"tree"`
	Components    []ComponentView  `json:"components"`
	Properties    []PropertyView   `json:"properties"`
	GlobalStyles  []string         `json:"globalStyles"`
	Notifications []Notification   `json:"notifications"`
	LoadErrors    []LoadError      `json:"loadErrors"`
	Running       map[int]string   `json:"running"`
}

// ComponentView is the serializable form of a catalog entry.
type ComponentView struct {
	Type          string            `json:"type"`
	PluginID      string            `json:"pluginId"`
	Label         string            `json:"label"`
	Icon          string            `json:"icon,omitempty"`
	TagName       string            `json:"tagName,omitempty"`
	CanDrop       bool              `json:"canDrop"`
	DefaultStyles map[string]string `json:"defaultStyles,omitempty"`
}

// PropertyView is the serializable form of a control.
type PropertyView struct {
	Index      int          `json:"index"`
	PluginID   string       `json:"pluginId"`
	TargetType string       `json:"targetType"`
	Key        string       `json:"key,omitempty"`
	Label      string       `json:"label"`
	Control    string       `json:"control"`
	Options    []sdk.Option `json:"options,omitempty"`
}

// View returns a snapshot of the session.
func (s *BuilderSession) View() BuilderView {
	v := BuilderView{
		ID:            s.ID,
		SiteID:        s.SiteID,
		Tree:          s.Tree(),
		GlobalStyles:  s.GlobalStyles(),
		Notifications: s.Notifications(),
		LoadErrors:    s.LoadErrors(),
		Running:       s.ControlStates(),
		Revision:      s.Revision(),
	}
	for _, e := range s.components.List() {
		v.Components = append(v.Components, ComponentView{
			Type: e.Type, PluginID: e.PluginID, Label: e.Spec.Label, Icon: e.Spec.Icon,
			TagName: e.Spec.TagName, CanDrop: e.Spec.CanDrop, DefaultStyles: e.Spec.DefaultStyles,
		})
	}
	for _, e := range s.properties.List() {
		v.Properties = append(v.Properties, PropertyView{
			Index: e.Index, PluginID: e.PluginID, TargetType: e.Spec.TargetType, Key: e.Spec.Key,
			Label: e.Spec.Label, Control: string(e.Spec.Control), Options: e.Spec.Options,
		})
	}
	return v
}

// builderAPI is the sdk.Builder granted to one plugin. It is usable only
// while the session runs that plugin's code under treeMu; tree is the canvas
// that call may edit.
type builderAPI struct {
	grant
	session  *BuilderSession
	pluginID string
	tree     atomic.Pointer[[]*pagetree.Node]
}

func (a *builderAPI) open(tree []*pagetree.Node) bool {
	if !a.enter() {
		return false
	}
	a.tree.Store(&tree)
	return true
}

func (a *builderAPI) close() {
	a.leave()
	a.tree.Store(nil)
}

func (a *builderAPI) PluginID() string { return a.pluginID }

func (a *builderAPI) RegisterComponent(typ string, c sdk.Component) {
	if typ == "" || !a.active() {
		return
	}
	a.session.components.Register(a.pluginID, typ, c)
}

func (a *builderAPI) RegisterProperty(p sdk.Property) {
	if !a.active() {
		return
	}
	a.session.properties.Register(a.pluginID, p)
}

func (a *builderAPI) RefreshCanvas() {
	if a.active() {
		a.session.Refresh()
	}
}

func (a *builderAPI) AddGlobalStyle(css string) {
	if a.active() {
		a.session.addGlobalStyle(css)
	}
}

func (a *builderAPI) Tree() []*sdk.Node {
	if !a.active() {
		return nil
	}
	if t := a.tree.Load(); t != nil {
		return *t
	}
	return nil
}

func (a *builderAPI) Find(pred func(*sdk.Node) bool) *sdk.Node {
	return pagetree.Find(a.Tree(), pred)
}

func (a *builderAPI) Notify(msg string) {
	if a.active() {
		a.session.notes.add(LevelInfo, a.pluginID, msg)
	}
}

func (a *builderAPI) GetData(collection string) ([]sdk.Document, error) {
	if !a.active() {
		return nil, ErrRevoked
	}
	if a.session.docs == nil {
		return nil, nil
	}
	sc := store.Scope{UserID: a.session.UserID, PluginID: a.pluginID, Collection: collection}
	docs, err := a.session.docs.List(a.session.ctx, sc)
	if err != nil {
		return nil, err
	}
	out := make([]sdk.Document, 0, len(docs))
	for _, d := range docs {
		out = append(out, toSDKDocument(d))
	}
	return out, nil
}
