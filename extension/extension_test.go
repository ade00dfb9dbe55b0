package extension

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/GoCodeAlone/sitebuilder/dynamic"
	"github.com/GoCodeAlone/sitebuilder/pagetree"
	"github.com/GoCodeAlone/sitebuilder/sdk"
	"github.com/GoCodeAlone/sitebuilder/store"
	"github.com/google/uuid"
)

type funcRunner struct {
	builders   map[string]func(sdk.Builder) error
	dashboards map[string]func(sdk.Dashboard) error
}

func (r *funcRunner) RunBuilder(_ context.Context, p *store.Plugin, api sdk.Builder) error {
	if fn, ok := r.builders[p.ID]; ok {
		return fn(api)
	}
	return nil
}

func (r *funcRunner) RunDashboard(_ context.Context, p *store.Plugin, api sdk.Dashboard) error {
	if fn, ok := r.dashboards[p.ID]; ok {
		return fn(api)
	}
	return nil
}

func plugins(ids ...string) []*store.Plugin {
	out := make([]*store.Plugin, len(ids))
	for i, id := range ids {
		out[i] = &store.Plugin{ID: id, Name: id}
	}
	return out
}

func newTestDocs(t *testing.T) store.PluginDataStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "ext.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s.Documents()
}

func openBuilder(t *testing.T, r Runner, content string, ids ...string) (*Manager, *BuilderSession) {
	t.Helper()
	m := NewManager(r, nil)
	site := &store.Site{ID: uuid.New(), Content: content}
	s, err := m.OpenBuilder(context.Background(), uuid.New(), site, plugins(ids...))
	if err != nil {
		t.Fatalf("OpenBuilder: %v", err)
	}
	return m, s
}

func TestComponentLastRegistrationWins(t *testing.T) {
	r := &funcRunner{builders: map[string]func(sdk.Builder) error{
		"a": func(api sdk.Builder) error {
			api.RegisterComponent("card-preset", sdk.Component{Label: "First"})
			api.RegisterComponent("hero", sdk.Component{Label: "Hero"})
			return nil
		},
		"b": func(api sdk.Builder) error {
			api.RegisterComponent("card-preset", sdk.Component{Label: "Second", CanDrop: true})
			return nil
		},
	}}
	_, s := openBuilder(t, r, "", "a", "b")

	list := s.Components().List()
	if len(list) != 2 {
		t.Fatalf("expected 2 component types, got %d", len(list))
	}
	if list[0].Type != "card-preset" || list[1].Type != "hero" {
		t.Errorf("unexpected order %s, %s", list[0].Type, list[1].Type)
	}
	e, _ := s.Components().Get("card-preset")
	if e.Spec.Label != "Second" || e.PluginID != "b" {
		t.Errorf("expected second registration to win, got %+v", e)
	}
}

func TestPropertyDuplicateKeepsIndex(t *testing.T) {
	c := NewPropertyCatalog()
	i0 := c.Register("a", sdk.Property{TargetType: "button", Key: "animationName", Label: "Animation"})
	i1 := c.Register("a", sdk.Property{TargetType: "button", Key: "animationDuration", Label: "Duration"})
	i2 := c.Register("b", sdk.Property{TargetType: "button", Key: "animationName", Label: "Anim v2"})
	if i0 != 0 || i1 != 1 || i2 != 0 {
		t.Fatalf("unexpected indexes %d %d %d", i0, i1, i2)
	}
	e, _ := c.Get(0)
	if e.Spec.Label != "Anim v2" || e.PluginID != "b" {
		t.Errorf("expected replacement, got %+v", e)
	}
	c.Register("b", sdk.Property{TargetType: "*", Label: "Everywhere", Control: sdk.ControlButton})
	if got := len(c.For("button")); got != 3 {
		t.Errorf("For(button) = %d controls, want 3", got)
	}
	if got := len(c.For("image")); got != 1 {
		t.Errorf("For(image) = %d controls, want 1", got)
	}
}

func TestButtonStateRestoredOnError(t *testing.T) {
	var s *BuilderSession
	var sawRunning string
	var sawConflict error
	r := &funcRunner{builders: map[string]func(sdk.Builder) error{
		"ai": func(api sdk.Builder) error {
			api.RegisterProperty(sdk.Property{
				TargetType: "gemini-ai",
				Label:      "Generate",
				Control:    sdk.ControlButton,
				OnClick: func(el *sdk.Node) error {
					sawRunning = s.ControlStates()[0]
					_, sawConflict = s.InvokeControl(0, el.ID, "")
					return errors.New("quota exceeded")
				},
			})
			return nil
		},
	}}
	_, s = openBuilder(t, r, `[{"id":"ai_1","type":"gemini-ai"}]`, "ai")

	res, err := s.InvokeControl(0, "ai_1", "")
	if err != nil {
		t.Fatalf("InvokeControl: %v", err)
	}
	if res.OK || !strings.Contains(res.Error, "quota exceeded") {
		t.Errorf("expected failed result, got %+v", res)
	}
	if sawRunning != DefaultProgressLabel {
		t.Errorf("running label = %q, want %q", sawRunning, DefaultProgressLabel)
	}
	if !errors.Is(sawConflict, store.ErrConflict) {
		t.Errorf("expected ErrConflict for click while running, got %v", sawConflict)
	}
	if len(s.ControlStates()) != 0 {
		t.Errorf("button not restored: %v", s.ControlStates())
	}
	notes := s.Notifications()
	if len(notes) != 1 || notes[0].Level != LevelError || !strings.Contains(notes[0].Message, "quota exceeded") {
		t.Errorf("unexpected notifications %+v", notes)
	}
}

func TestButtonStateRestoredOnPanic(t *testing.T) {
	r := &funcRunner{builders: map[string]func(sdk.Builder) error{
		"p": func(api sdk.Builder) error {
			api.RegisterProperty(sdk.Property{
				TargetType: "button", Label: "Explode", Control: sdk.ControlButton, Progress: "Exploding...",
				OnClick: func(*sdk.Node) error { panic("boom") },
			})
			return nil
		},
	}}
	_, s := openBuilder(t, r, `[{"id":"b1","type":"button"}]`, "p")

	res, err := s.InvokeControl(0, "b1", "")
	if err != nil {
		t.Fatalf("InvokeControl: %v", err)
	}
	if res.OK || !strings.Contains(res.Error, "boom") {
		t.Errorf("expected panic to be reported, got %+v", res)
	}
	if len(s.ControlStates()) != 0 {
		t.Error("button not restored after panic")
	}
}

func TestChangeControls(t *testing.T) {
	r := &funcRunner{builders: map[string]func(sdk.Builder) error{
		"anim": func(api sdk.Builder) error {
			api.RegisterProperty(sdk.Property{TargetType: "*", Key: "animationName", Label: "Animation", Control: sdk.ControlSelect})
			api.RegisterProperty(sdk.Property{
				TargetType: "gemini-ai", Key: "apiKey", Label: "API Key", Control: sdk.ControlText,
				OnChange: func(el *sdk.Node, v string) { el.SetProp("apiKey", v) },
			})
			return nil
		},
	}}
	_, s := openBuilder(t, r, `[{"id":"x","type":"paragraph"},{"id":"ai","type":"gemini-ai"}]`, "anim")
	rev := s.Revision()

	if _, err := s.InvokeControl(0, "x", "fi"); err != nil {
		t.Fatalf("InvokeControl style: %v", err)
	}
	if _, err := s.InvokeControl(1, "ai", "secret"); err != nil {
		t.Fatalf("InvokeControl onChange: %v", err)
	}
	if _, err := s.InvokeControl(1, "x", "nope"); !errors.Is(err, store.ErrValidation) {
		t.Errorf("expected ErrValidation for wrong target, got %v", err)
	}
	if _, err := s.InvokeControl(9, "x", ""); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown control, got %v", err)
	}

	tree := s.Tree()
	if tree[0].Styles["animationName"] != "fi" {
		t.Errorf("style not applied: %+v", tree[0].Styles)
	}
	if tree[1].Prop("apiKey") != "secret" {
		t.Errorf("prop not applied: %+v", tree[1].Props)
	}
	if s.Revision() != rev+2 {
		t.Errorf("revision = %d, want %d", s.Revision(), rev+2)
	}
}

func TestLoadFailureIsolated(t *testing.T) {
	r := &funcRunner{builders: map[string]func(sdk.Builder) error{
		"bad":  func(sdk.Builder) error { panic("bad plugin") },
		"good": func(api sdk.Builder) error { api.RegisterComponent("ok", sdk.Component{}); return nil },
	}}
	_, s := openBuilder(t, r, "", "bad", "good")

	if _, ok := s.Components().Get("ok"); !ok {
		t.Fatal("good plugin did not load")
	}
	errs := s.LoadErrors()
	if len(errs) != 1 || errs[0].PluginID != "bad" {
		t.Fatalf("unexpected load errors %+v", errs)
	}
}

func TestGlobalStylesDeduped(t *testing.T) {
	r := &funcRunner{builders: map[string]func(sdk.Builder) error{
		"a": func(api sdk.Builder) error {
			api.AddGlobalStyle("@keyframes fi{from{opacity:0}to{opacity:1}}")
			api.AddGlobalStyle("@keyframes fi{from{opacity:0}to{opacity:1}}")
			api.AddGlobalStyle("")
			return nil
		},
	}}
	_, s := openBuilder(t, r, "", "a")
	if got := s.GlobalStyles(); len(got) != 1 {
		t.Fatalf("expected 1 global style, got %v", got)
	}
}

func TestRefreshSubscription(t *testing.T) {
	_, s := openBuilder(t, &funcRunner{}, "", "none")
	ch, cancel := s.Subscribe()
	defer cancel()

	s.Refresh()
	s.Refresh()
	select {
	case rev := <-ch:
		if rev != 2 {
			t.Errorf("expected latest revision 2, got %d", rev)
		}
	case <-time.After(time.Second):
		t.Fatal("no revision delivered")
	}

	s.Close()
	if _, ok := <-ch; ok {
		t.Error("channel not closed with session")
	}
}

func TestInstantiateFromCatalog(t *testing.T) {
	r := &funcRunner{builders: map[string]func(sdk.Builder) error{
		"cards": func(api sdk.Builder) error {
			api.RegisterComponent("card-preset", sdk.Component{
				Label: "Card", TagName: "div", CanDrop: true,
				DefaultStyles: map[string]string{"padding": "0px"},
				Template:      []*sdk.Node{{Type: pagetree.KindHeader, Content: "Title"}},
			})
			return nil
		},
	}}
	_, s := openBuilder(t, r, "", "cards")

	card, err := s.Instantiate("card-preset", "")
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	if card.Styles["padding"] != "0px" || len(card.Children) != 1 {
		t.Errorf("unexpected instance %+v", card)
	}
	if _, err := s.Instantiate("paragraph", card.ID); err != nil {
		t.Fatalf("Instantiate into droppable custom: %v", err)
	}
	p := s.Tree()[0].Children[1]
	if _, err := s.Instantiate("button", p.ID); !errors.Is(err, store.ErrValidation) {
		t.Errorf("expected ErrValidation dropping into paragraph, got %v", err)
	}
	if _, err := s.Instantiate("unknown-thing", ""); !errors.Is(err, store.ErrValidation) {
		t.Errorf("expected ErrValidation for unknown type, got %v", err)
	}

	e, _ := s.Components().Get("card-preset")
	if len(e.Spec.Template[0].Children) != 0 || e.Spec.Template[0].ID != "" {
		t.Error("instance aliases the component template")
	}
}

func TestManagerSessionOwnership(t *testing.T) {
	m, s := openBuilder(t, &funcRunner{}, "", "x")
	if _, err := m.Builder(s.ID, uuid.New()); !errors.Is(err, store.ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
	if _, err := m.Builder("missing", s.UserID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := m.CloseBuilder(s.ID, s.UserID); err != nil {
		t.Fatalf("CloseBuilder: %v", err)
	}
	if b, _ := m.Counts(); b != 0 {
		t.Errorf("expected no builder sessions, got %d", b)
	}
}

func TestDashboardLazyRenderAndPicker(t *testing.T) {
	renders := 0
	picked := []string{}
	r := &funcRunner{dashboards: map[string]func(sdk.Dashboard) error{
		"ecom-store": func(api sdk.Dashboard) error {
			api.RegisterPage("store-manager", "Store", "cart", func() string {
				renders++
				api.OpenMediaPicker(func(url string) { picked = append(picked, url) })
				return "<div>store</div>"
			})
			return nil
		},
	}}
	m := NewManager(r, newTestDocs(t))
	s := m.OpenDashboard(context.Background(), uuid.New(), plugins("ecom-store"))

	if renders != 0 {
		t.Fatal("render ran before the page was opened")
	}
	for i := 0; i < 2; i++ {
		html, err := s.RenderPage("store-manager")
		if err != nil {
			t.Fatalf("RenderPage: %v", err)
		}
		if html != "<div>store</div>" {
			t.Errorf("unexpected html %q", html)
		}
	}
	if renders != 1 {
		t.Errorf("render ran %d times, want 1", renders)
	}
	if _, err := s.RenderPage("nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if id, ok := s.PickerPending(); !ok || id != "ecom-store" {
		t.Fatalf("picker not pending: %q %v", id, ok)
	}
	if err := s.CompletePick("/uploads/a.png"); err != nil {
		t.Fatalf("CompletePick: %v", err)
	}
	if err := s.CompletePick("/uploads/b.png"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second completion, got %v", err)
	}
	if len(picked) != 1 || picked[0] != "/uploads/a.png" {
		t.Errorf("onSelect calls = %v", picked)
	}
}

func TestDashboardPickerCancel(t *testing.T) {
	called := false
	r := &funcRunner{dashboards: map[string]func(sdk.Dashboard) error{
		"p": func(a sdk.Dashboard) error {
			a.OpenMediaPicker(func(string) { called = true })
			return nil
		},
	}}
	m := NewManager(r, newTestDocs(t))
	s := m.OpenDashboard(context.Background(), uuid.New(), plugins("p"))

	if !s.CancelPick() {
		t.Fatal("CancelPick reported no open picker")
	}
	if err := s.CompletePick("/x.png"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound after cancel, got %v", err)
	}
	if called {
		t.Error("onSelect ran after cancel")
	}
}

// stepper gives every plugin a "do" action on a page named after it. The
// action runs the function the test queued, with the plugin's API live.
type stepper struct {
	apis map[string]sdk.Dashboard
	next func(sdk.Dashboard)
}

func newStepper() *stepper { return &stepper{apis: map[string]sdk.Dashboard{}} }

func (st *stepper) entry(id string) func(sdk.Dashboard) error {
	return func(a sdk.Dashboard) error {
		st.apis[id] = a
		a.RegisterAction(id, "do", func(map[string]string) (string, error) {
			st.next(a)
			return "", nil
		})
		return nil
	}
}

func (st *stepper) run(t *testing.T, s *DashboardSession, id string, fn func(sdk.Dashboard)) {
	t.Helper()
	st.next = fn
	res, err := s.RunAction(id, "do", nil)
	if err != nil || !res.OK {
		t.Fatalf("RunAction(%s): %+v, %v", id, res, err)
	}
}

func TestDashboardDataScopedToPlugin(t *testing.T) {
	st := newStepper()
	r := &funcRunner{dashboards: map[string]func(sdk.Dashboard) error{
		"ecom-store": st.entry("ecom-store"),
		"other":      st.entry("other"),
	}}
	docs := newTestDocs(t)
	m := NewManager(r, docs)
	user := uuid.New()
	s := m.OpenDashboard(context.Background(), user, plugins("ecom-store", "other"))

	var created sdk.Document
	st.run(t, s, "ecom-store", func(api sdk.Dashboard) {
		var err error
		created, err = api.CreateData("products", map[string]any{"name": "Mug", "price": 4.5})
		if err != nil {
			t.Errorf("CreateData: %v", err)
			return
		}
		if _, err := api.UpdateData("products", created.ID, map[string]any{"name": "Mug", "price": 5.0}); err != nil {
			t.Errorf("UpdateData: %v", err)
		}
		list, err := api.GetData("products")
		if err != nil || len(list) != 1 || list[0].Data["price"] != 5.0 {
			t.Errorf("GetData = %+v, %v", list, err)
		}
	})
	st.run(t, s, "other", func(api sdk.Dashboard) {
		other, err := api.GetData("products")
		if err != nil || len(other) != 0 {
			t.Errorf("other plugin sees %d docs, %v", len(other), err)
		}
		if err := api.DeleteData("products", created.ID); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound deleting another plugin's doc, got %v", err)
		}
	})
	if t.Failed() {
		t.FailNow()
	}

	stored, err := docs.Get(context.Background(), store.Scope{UserID: user, PluginID: "ecom-store", Collection: "products"}, uuid.MustParse(created.ID))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	var data map[string]any
	_ = json.Unmarshal(stored.Data, &data)
	if data["name"] != "Mug" {
		t.Errorf("unexpected stored data %s", stored.Data)
	}
}

func TestDashboardGetPagesListsPublishedSites(t *testing.T) {
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "pages.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()
	owner := uuid.New()
	for _, site := range []*store.Site{
		{Name: "Home", Slug: "home", OwnerID: owner, Published: true},
		{Name: "Draft", Slug: "draft", OwnerID: owner},
		{Name: "Theirs", Slug: "theirs", OwnerID: uuid.New(), Published: true},
	} {
		if err := st.Sites().Create(ctx, site); err != nil {
			t.Fatalf("create site: %v", err)
		}
	}

	var pages []sdk.SitePage
	r := &funcRunner{dashboards: map[string]func(sdk.Dashboard) error{
		"p": func(a sdk.Dashboard) error {
			var err error
			pages, err = a.GetPages()
			return err
		},
	}}
	m := NewManager(r, st.Documents(), WithSites(st.Sites()))
	s := m.OpenDashboard(ctx, owner, plugins("p"))

	if len(s.LoadErrors()) != 0 {
		t.Fatalf("GetPages: %+v", s.LoadErrors())
	}
	if len(pages) != 1 || pages[0].Slug != "home" || pages[0].Name != "Home" {
		t.Fatalf("unexpected pages %+v", pages)
	}
}

func TestDashboardAPIClosedOutsideCalls(t *testing.T) {
	var api sdk.Dashboard
	r := &funcRunner{dashboards: map[string]func(sdk.Dashboard) error{
		"p": func(a sdk.Dashboard) error { api = a; return nil },
	}}
	m := NewManager(r, newTestDocs(t))
	s := m.OpenDashboard(context.Background(), uuid.New(), plugins("p"))

	if _, err := api.GetData("products"); !errors.Is(err, ErrRevoked) {
		t.Errorf("GetData after load: expected ErrRevoked, got %v", err)
	}
	if _, err := api.CreateData("products", map[string]any{"x": 1}); !errors.Is(err, ErrRevoked) {
		t.Errorf("CreateData after load: expected ErrRevoked, got %v", err)
	}
	if err := api.DeleteData("products", uuid.NewString()); !errors.Is(err, ErrRevoked) {
		t.Errorf("DeleteData after load: expected ErrRevoked, got %v", err)
	}
	if _, err := api.GetPages(); !errors.Is(err, ErrRevoked) {
		t.Errorf("GetPages after load: expected ErrRevoked, got %v", err)
	}
	api.RegisterPage("late", "Late", "", func() string { return "" })
	api.OpenMediaPicker(func(string) {})
	api.Notify("late")
	if len(s.Pages()) != 0 || len(s.Notifications()) != 0 {
		t.Errorf("late calls changed the session: %+v", s.View())
	}
	if _, open := s.PickerPending(); open {
		t.Error("late OpenMediaPicker opened the picker")
	}
}

func TestDashboardActions(t *testing.T) {
	renders := 0
	r := &funcRunner{dashboards: map[string]func(sdk.Dashboard) error{
		"shop": func(api sdk.Dashboard) error {
			api.RegisterPage("shop", "Shop", "", func() string {
				renders++
				return "<p>shop</p>"
			})
			api.RegisterAction("shop", "add", func(form map[string]string) (string, error) {
				if form["name"] == "" {
					return "", errors.New("name is required")
				}
				if _, err := api.CreateData("products", map[string]any{"name": form["name"]}); err != nil {
					return "", err
				}
				return "added " + form["name"], nil
			})
			return nil
		},
		"broken": func(api sdk.Dashboard) error {
			api.RegisterAction("broken", "go", func(map[string]string) (string, error) { return "ran", nil })
			return errors.New("bad config")
		},
	}}
	m := NewManager(r, newTestDocs(t))
	s := m.OpenDashboard(context.Background(), uuid.New(), plugins("shop", "broken"))

	if _, err := s.RenderPage("shop"); err != nil {
		t.Fatalf("RenderPage: %v", err)
	}
	res, err := s.RunAction("shop", "add", map[string]string{"name": "Mug"})
	if err != nil || !res.OK || res.Message != "added Mug" {
		t.Fatalf("RunAction: %+v, %v", res, err)
	}
	if _, err := s.RenderPage("shop"); err != nil {
		t.Fatalf("RenderPage: %v", err)
	}
	if renders != 2 {
		t.Errorf("expected the action to discard the cached render, renders = %d", renders)
	}

	res, err = s.RunAction("shop", "add", nil)
	if err != nil || res.OK || !strings.Contains(res.Error, "name is required") {
		t.Errorf("expected a failed result, got %+v, %v", res, err)
	}
	notes := s.Notifications()
	last := notes[len(notes)-1]
	if last.Level != LevelError || !strings.Contains(last.Message, "name is required") {
		t.Errorf("unexpected notification %+v", last)
	}

	if _, err := s.RunAction("shop", "missing", nil); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.RunAction("broken", "go", nil); !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected ErrConflict for a plugin that failed to load, got %v", err)
	}
}

func TestBuilderGetDataScopedToUserAndPlugin(t *testing.T) {
	docs := newTestDocs(t)
	ctx := context.Background()
	user := uuid.New()
	for _, sc := range []store.Scope{
		{UserID: user, PluginID: "ecom-store", Collection: "products"},
		{UserID: uuid.New(), PluginID: "ecom-store", Collection: "products"},
		{UserID: user, PluginID: "other", Collection: "products"},
	} {
		doc := &store.PluginDocument{UserID: sc.UserID, PluginID: sc.PluginID, Collection: sc.Collection, Data: json.RawMessage(`{"name":"x"}`)}
		if err := docs.Create(ctx, doc); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	var got []sdk.Document
	r := &funcRunner{builders: map[string]func(sdk.Builder) error{
		"ecom-store": func(api sdk.Builder) error {
			var err error
			got, err = api.GetData("products")
			return err
		},
	}}
	m := NewManager(r, docs)
	s, err := m.OpenBuilder(ctx, user, &store.Site{ID: uuid.New()}, plugins("ecom-store"))
	if err != nil {
		t.Fatalf("OpenBuilder: %v", err)
	}
	if len(s.LoadErrors()) != 0 {
		t.Fatalf("load errors: %+v", s.LoadErrors())
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 document, got %d", len(got))
	}
}

func TestBuilderAPIOnlyLiveDuringCalls(t *testing.T) {
	var captured sdk.Builder
	r := &funcRunner{builders: map[string]func(sdk.Builder) error{
		"p": func(api sdk.Builder) error {
			captured = api
			api.Tree()[0].Content = "loaded"
			api.RegisterProperty(sdk.Property{
				TargetType: "*", Label: "Stamp", Control: sdk.ControlButton,
				OnClick: func(*sdk.Node) error {
					if api.Find(func(n *sdk.Node) bool { return n.ID == "b" }) == nil {
						return errors.New("element b not visible")
					}
					api.Tree()[1].Content = "stamped"
					return nil
				},
			})
			return nil
		},
		"bad": func(api sdk.Builder) error {
			api.Tree()[1].Content = "partial"
			api.RegisterProperty(sdk.Property{TargetType: "*", Label: "Never", Control: sdk.ControlButton,
				OnClick: func(*sdk.Node) error { return nil }})
			return errors.New("bad config")
		},
	}}
	_, s := openBuilder(t, r, `[{"id":"a","type":"paragraph"},{"id":"b","type":"paragraph","content":"b"}]`, "p", "bad")

	tree := s.Tree()
	if tree[0].Content != "loaded" {
		t.Errorf("edits from a clean load should be kept, got %q", tree[0].Content)
	}
	if tree[1].Content != "b" {
		t.Errorf("edits from a failed load should be discarded, got %q", tree[1].Content)
	}

	if captured.Tree() != nil || captured.Find(func(*sdk.Node) bool { return true }) != nil {
		t.Error("tree reachable after the entrypoint returned")
	}
	captured.RegisterComponent("late", sdk.Component{Label: "Late"})
	if _, ok := s.Components().Get("late"); ok {
		t.Error("registration accepted after the entrypoint returned")
	}
	if _, err := captured.GetData("products"); !errors.Is(err, ErrRevoked) {
		t.Errorf("expected ErrRevoked, got %v", err)
	}

	res, err := s.InvokeControl(0, "a", "")
	if err != nil || !res.OK {
		t.Fatalf("InvokeControl: %+v, %v", res, err)
	}
	if got := s.Tree()[1].Content; got != "stamped" {
		t.Errorf("handler edit through the API not applied, got %q", got)
	}
	if captured.Tree() != nil {
		t.Error("tree reachable after the handler returned")
	}

	if _, err := s.InvokeControl(1, "a", ""); !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected ErrConflict for a control of a failed plugin, got %v", err)
	}
}

func TestTimedOutPluginCannotTouchCanvas(t *testing.T) {
	src := `package plugin

import (
	"time"

	"sitebuilder/sdk"
)

func Builder(api sdk.Builder) {
	held := api.Tree()
	time.Sleep(150 * time.Millisecond)
	for i := 0; i < 200; i++ {
		held[0].Content = "hijacked"
		held[0].SetStyle("color", "red")
		if live := api.Tree(); len(live) > 0 {
			live[0].Content = "hijacked"
		}
		if n := api.Find(func(*sdk.Node) bool { return true }); n != nil {
			n.Content = "hijacked"
		}
		api.RegisterComponent("late", sdk.Component{Label: "Late"})
		api.AddGlobalStyle(".late{}")
		api.RefreshCanvas()
		time.Sleep(time.Millisecond)
	}
}
`
	rt := dynamic.NewRuntime(dynamic.WithLimits(dynamic.ResourceLimits{LoadTimeout: 50 * time.Millisecond}))
	m := NewManager(rt, nil)
	site := &store.Site{ID: uuid.New(), Content: `[{"id":"p1","type":"paragraph","content":"original"}]`}
	s, err := m.OpenBuilder(context.Background(), uuid.New(), site, []*store.Plugin{{ID: "slow", Name: "Slow", Code: src}})
	if err != nil {
		t.Fatalf("OpenBuilder: %v", err)
	}
	errs := s.LoadErrors()
	if len(errs) != 1 || !strings.Contains(errs[0].Error, "timed out") {
		t.Fatalf("expected a timeout load error, got %+v", errs)
	}

	// The abandoned entrypoint wakes up and keeps calling its API while the
	// host reads and edits the canvas.
	start := s.Revision()
	edits := 0
	for deadline := time.Now().Add(500 * time.Millisecond); time.Now().Before(deadline); {
		tree := s.Tree()
		if tree[0].Content != "original" || tree[0].Styles["color"] != "" {
			t.Fatalf("canvas changed by a timed-out plugin: %+v", tree[0])
		}
		if _, err := s.Instantiate("paragraph", ""); err != nil {
			t.Fatalf("Instantiate: %v", err)
		}
		edits++
		time.Sleep(5 * time.Millisecond)
	}

	if _, ok := s.Components().Get("late"); ok {
		t.Error("timed-out plugin registered a component")
	}
	if len(s.GlobalStyles()) != 0 {
		t.Errorf("timed-out plugin added styles: %v", s.GlobalStyles())
	}
	if got := s.Revision(); got != start+uint64(edits) {
		t.Errorf("revision = %d, want %d", got, start+uint64(edits))
	}
}
