package extension

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/GoCodeAlone/sitebuilder/events"
	"github.com/GoCodeAlone/sitebuilder/sdk"
	"github.com/GoCodeAlone/sitebuilder/store"
	"github.com/google/uuid"
)

type dashboardPage struct {
	sdk.Page
	render func() string
}

type dashboardAction struct {
	pluginID string
	handler  func(form map[string]string) (string, error)
}

type pendingPick struct {
	pluginID string
	onSelect func(url string)
}

// DashboardSession is one user's admin dashboard with the pages plugins
// registered.
type DashboardSession struct {
	ID        string
	UserID    uuid.UUID
	CreatedAt time.Time

	ctx    context.Context
	docs   store.PluginDataStore
	sites  store.SiteStore
	events *events.Emitter
	notes  notifier
	logger *slog.Logger

	// execMu serializes plugin code running in this session and guards apis.
	execMu sync.Mutex
	apis   map[string]*dashboardAPI

	mu         sync.Mutex
	pages      []dashboardPage
	actions    map[string]dashboardAction
	rendered   map[string]string
	picker     *pendingPick
	loadErrors []LoadError
	lastUsed   time.Time
}

func newDashboardSession(ctx context.Context, userID uuid.UUID, docs store.PluginDataStore, sites store.SiteStore, em *events.Emitter, logger *slog.Logger) *DashboardSession {
	now := time.Now().UTC()
	return &DashboardSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: now,
		ctx:       context.WithoutCancel(ctx),
		docs:      docs,
		sites:     sites,
		events:    em,
		logger:    logger,
		apis:      make(map[string]*dashboardAPI),
		actions:   make(map[string]dashboardAction),
		rendered:  make(map[string]string),
		lastUsed:  now,
	}
}

func (s *DashboardSession) load(ctx context.Context, runner Runner, plugins []*store.Plugin) {
	s.execMu.Lock()
	defer s.execMu.Unlock()
	for _, p := range plugins {
		api := &dashboardAPI{session: s, pluginID: p.ID}
		api.enter()
		err := safeCall("Dashboard entrypoint", func() error { return runner.RunDashboard(ctx, p, api) })
		api.leave()
		if err != nil {
			api.revoke()
			s.logger.Warn("plugin failed to load", "plugin", p.ID, "session", s.ID, "error", err)
			s.mu.Lock()
			s.loadErrors = append(s.loadErrors, LoadError{PluginID: p.ID, Error: err.Error()})
			s.mu.Unlock()
			s.notes.add(LevelError, p.ID, fmt.Sprintf("Plugin %s failed to load: %v", p.Name, err))
		}
		s.apis[p.ID] = api
	}
}

// call runs plugin code for pluginID with that plugin's API enabled. The
// caller holds execMu.
func (s *DashboardSession) call(pluginID, what string, fn func() error) error {
	if api := s.apis[pluginID]; api != nil {
		if !api.enter() {
			return fmt.Errorf("%w: plugin %s is disabled in this session", store.ErrConflict, pluginID)
		}
		defer api.leave()
	}
	return safeCall(what, fn)
}

// Pages returns the registered pages in registration order.
func (s *DashboardSession) Pages() []sdk.Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sdk.Page, len(s.pages))
	for i, p := range s.pages {
		out[i] = p.Page
	}
	return out
}

func (s *DashboardSession) registerPage(p dashboardPage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rendered, p.Slug)
	for i := range s.pages {
		if s.pages[i].Slug == p.Slug {
			s.pages[i] = p
			return
		}
	}
	s.pages = append(s.pages, p)
}

// RenderPage returns a page's content. The plugin's render function runs the
// first time the page is opened; later opens return the same output.
func (s *DashboardSession) RenderPage(slug string) (string, error) {
	s.execMu.Lock()
	defer s.execMu.Unlock()

	s.mu.Lock()
	if html, ok := s.rendered[slug]; ok {
		s.mu.Unlock()
		return html, nil
	}
	idx := slices.IndexFunc(s.pages, func(p dashboardPage) bool { return p.Slug == slug })
	var page dashboardPage
	if idx >= 0 {
		page = s.pages[idx]
	}
	s.mu.Unlock()
	if idx < 0 {
		return "", fmt.Errorf("%w: dashboard page %s", store.ErrNotFound, slug)
	}

	var html string
	err := s.call(page.PluginID, "page render", func() error {
		if page.render != nil {
			html = page.render()
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("dashboard page render failed", "plugin", page.PluginID, "page", slug, "error", err)
		if errors.Is(err, ErrHandlerFailed) {
			s.notes.add(LevelError, page.PluginID, "Error: "+causeText(err))
		}
		return "", err
	}

	s.mu.Lock()
	s.rendered[slug] = html
	s.mu.Unlock()
	return html, nil
}

// PickerPending reports whether a media picker is open and for which plugin.
func (s *DashboardSession) PickerPending() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.picker == nil {
		return "", false
	}
	return s.picker.pluginID, true
}

// CompletePick delivers the chosen URL to the open picker's callback. The
// callback runs at most once per OpenMediaPicker call.
func (s *DashboardSession) CompletePick(url string) error {
	s.mu.Lock()
	p := s.picker
	s.picker = nil
	s.mu.Unlock()
	if p == nil {
		return fmt.Errorf("%w: no media picker open", store.ErrNotFound)
	}

	s.execMu.Lock()
	defer s.execMu.Unlock()
	err := s.call(p.pluginID, "media picker callback", func() error { p.onSelect(url); return nil })
	if err != nil {
		s.notes.add(LevelError, p.pluginID, "Error: "+causeText(err))
		return err
	}
	return nil
}

func actionKey(slug, name string) string { return slug + "/" + name }

func (s *DashboardSession) registerAction(slug, name string, a dashboardAction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[actionKey(slug, name)] = a
}

// ActionResult reports the outcome of a dashboard page action.
type ActionResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RunAction submits form to the named action of a dashboard page. A
// successful action discards the cached render of every page its plugin
// registered, so the next open reflects the change. A failing handler is
// reported as a notification and in the result.
func (s *DashboardSession) RunAction(slug, name string, form map[string]string) (ActionResult, error) {
	s.execMu.Lock()
	defer s.execMu.Unlock()

	s.mu.Lock()
	a, ok := s.actions[actionKey(slug, name)]
	s.mu.Unlock()
	if !ok {
		return ActionResult{}, fmt.Errorf("%w: action %s on dashboard page %s", store.ErrNotFound, name, slug)
	}
	if form == nil {
		form = map[string]string{}
	}

	var msg string
	err := s.call(a.pluginID, "page action", func() error {
		var err error
		msg, err = a.handler(form)
		return err
	})
	if errors.Is(err, store.ErrConflict) {
		return ActionResult{}, err
	}

	s.mu.Lock()
	for _, p := range s.pages {
		if p.PluginID == a.pluginID {
			delete(s.rendered, p.Slug)
		}
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("dashboard action failed", "plugin", a.pluginID, "page", slug, "action", name, "error", err)
		s.notes.add(LevelError, a.pluginID, "Error: "+causeText(err))
		return ActionResult{OK: false, Error: causeText(err)}, nil
	}
	if msg != "" {
		s.notes.add(LevelInfo, a.pluginID, msg)
	}
	return ActionResult{OK: true, Message: msg}, nil
}

// CancelPick closes the picker without invoking its callback.
func (s *DashboardSession) CancelPick() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	open := s.picker != nil
	s.picker = nil
	return open
}

// Notifications returns the session's notifications oldest first.
func (s *DashboardSession) Notifications() []Notification { return s.notes.list() }

// LoadErrors returns the plugins that failed to load.
func (s *DashboardSession) LoadErrors() []LoadError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.loadErrors)
}

func (s *DashboardSession) touch() {
	s.mu.Lock()
	s.lastUsed = time.Now()
	s.mu.Unlock()
}

func (s *DashboardSession) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// DashboardView is the serializable state of a dashboard session.
type DashboardView struct {
	ID            string         `json:"id"`
	Pages         []sdk.Page     `json:"pages"`
	PickerOpen    bool           `json:"pickerOpen"`
	Notifications []Notification `json:"notifications"`
	LoadErrors    []LoadError    `json:"loadErrors"`
}

// View returns a snapshot of the session.
func (s *DashboardSession) View() DashboardView {
	_, open := s.PickerPending()
	return DashboardView{
		ID:            s.ID,
		Pages:         s.Pages(),
		PickerOpen:    open,
		Notifications: s.Notifications(),
		LoadErrors:    s.LoadErrors(),
	}
}

// dashboardAPI is the sdk.Dashboard granted to one plugin. Calls made outside
// the session's calls into that plugin are ignored or fail with ErrRevoked.
type dashboardAPI struct {
	grant
	session  *DashboardSession
	pluginID string
}

func (a *dashboardAPI) PluginID() string { return a.pluginID }

func (a *dashboardAPI) RegisterPage(slug, label, icon string, render func() string) {
	if slug == "" || !a.active() {
		return
	}
	a.session.registerPage(dashboardPage{
		Page:   sdk.Page{Slug: slug, Label: label, Icon: icon, PluginID: a.pluginID},
		render: render,
	})
}

func (a *dashboardAPI) RegisterAction(page, name string, handler func(form map[string]string) (string, error)) {
	if page == "" || name == "" || handler == nil || !a.active() {
		return
	}
	a.session.registerAction(page, name, dashboardAction{pluginID: a.pluginID, handler: handler})
}

func (a *dashboardAPI) GetPages() ([]sdk.SitePage, error) {
	if !a.active() {
		return nil, ErrRevoked
	}
	if a.session.sites == nil {
		return nil, nil
	}
	owner := a.session.UserID
	sites, err := a.session.sites.List(a.session.ctx, store.SiteFilter{OwnerID: &owner})
	if err != nil {
		return nil, err
	}
	out := make([]sdk.SitePage, 0, len(sites))
	for _, site := range sites {
		if site.Published {
			out = append(out, sdk.SitePage{Slug: site.Slug, Name: site.Name})
		}
	}
	return out, nil
}

func (a *dashboardAPI) scope(collection string) store.Scope {
	return store.Scope{UserID: a.session.UserID, PluginID: a.pluginID, Collection: collection}
}

func (a *dashboardAPI) GetData(collection string) ([]sdk.Document, error) {
	if !a.active() {
		return nil, ErrRevoked
	}
	docs, err := a.session.docs.List(a.session.ctx, a.scope(collection))
	if err != nil {
		return nil, err
	}
	out := make([]sdk.Document, 0, len(docs))
	for _, d := range docs {
		out = append(out, toSDKDocument(d))
	}
	return out, nil
}

func (a *dashboardAPI) CreateData(collection string, data map[string]any) (sdk.Document, error) {
	if !a.active() {
		return sdk.Document{}, ErrRevoked
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return sdk.Document{}, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}
	sc := a.scope(collection)
	doc := &store.PluginDocument{UserID: sc.UserID, PluginID: sc.PluginID, Collection: sc.Collection, Data: raw}
	if err := a.session.docs.Create(a.session.ctx, doc); err != nil {
		return sdk.Document{}, err
	}
	a.session.events.Document(a.session.ctx, events.OpCreated, doc)
	return toSDKDocument(doc), nil
}

func (a *dashboardAPI) UpdateData(collection, id string, data map[string]any) (sdk.Document, error) {
	if !a.active() {
		return sdk.Document{}, ErrRevoked
	}
	docID, err := uuid.Parse(id)
	if err != nil {
		return sdk.Document{}, fmt.Errorf("%w: document %s", store.ErrNotFound, id)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return sdk.Document{}, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}
	doc, err := a.session.docs.Update(a.session.ctx, a.scope(collection), docID, raw)
	if err != nil {
		return sdk.Document{}, err
	}
	a.session.events.Document(a.session.ctx, events.OpUpdated, doc)
	return toSDKDocument(doc), nil
}

func (a *dashboardAPI) DeleteData(collection, id string) error {
	if !a.active() {
		return ErrRevoked
	}
	docID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("%w: document %s", store.ErrNotFound, id)
	}
	sc := a.scope(collection)
	if err := a.session.docs.Delete(a.session.ctx, sc, docID); err != nil {
		return err
	}
	a.session.events.Document(a.session.ctx, events.OpDeleted, &store.PluginDocument{
		ID: docID, UserID: sc.UserID, PluginID: sc.PluginID, Collection: sc.Collection,
	})
	return nil
}

func (a *dashboardAPI) OpenMediaPicker(onSelect func(url string)) {
	if onSelect == nil || !a.active() {
		return
	}
	a.session.mu.Lock()
	a.session.picker = &pendingPick{pluginID: a.pluginID, onSelect: onSelect}
	a.session.mu.Unlock()
}

func (a *dashboardAPI) Notify(msg string) {
	if a.active() {
		a.session.notes.add(LevelInfo, a.pluginID, msg)
	}
}

func toSDKDocument(d *store.PluginDocument) sdk.Document {
	var data map[string]any
	if err := json.Unmarshal(d.Data, &data); err != nil {
		var v any
		_ = json.Unmarshal(d.Data, &v)
		data = map[string]any{"value": v}
	}
	return sdk.Document{ID: d.ID.String(), Data: data, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt}
}
