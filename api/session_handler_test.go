package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"

	"github.com/GoCodeAlone/sitebuilder/extension"
	"github.com/GoCodeAlone/sitebuilder/pagetree"
	"github.com/GoCodeAlone/sitebuilder/store"
	"github.com/GoCodeAlone/sitebuilder/storefront"
)

func dialEvents(t *testing.T, e *testEnv, sessionID, token string) *gorilla.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(e.srv.URL, "http") +
		"/api/builder/sessions/" + sessionID + "/events?access_token=" + token
	conn, resp, err := gorilla.DefaultDialer.Dial(u, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial events (status %d): %v", status, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readRevision(t *testing.T, conn *gorilla.Conn) uint64 {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev revisionEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read revision: %v", err)
	}
	return ev.Revision
}

func TestBuilderSession(t *testing.T) {
	e := newTestEnv(t)
	admin, _ := e.bootstrapAdmin()
	editor, _ := e.newEditor(admin)
	e.expect(e.do("POST", "/api/plugins/install/card-layouts", editor, nil), http.StatusOK)
	site := e.createSite(editor, "Cards", false)

	var view extension.BuilderView
	e.expect(e.do("POST", "/api/builder/sessions", editor, map[string]string{
		"siteId": site.ID.String(),
	}), http.StatusCreated).decode(t, &view)
	if len(view.LoadErrors) != 0 {
		t.Fatalf("unexpected load errors %+v", view.LoadErrors)
	}
	if len(view.Components) != 1 || view.Components[0].Type != "card-preset" || !view.Components[0].CanDrop {
		t.Fatalf("unexpected components %+v", view.Components)
	}
	base := "/api/builder/sessions/" + view.ID

	e.expect(e.do("GET", base, admin, nil), http.StatusForbidden)
	e.expect(e.do("GET", "/api/builder/sessions/nope", editor, nil), http.StatusNotFound)

	conn := dialEvents(t, e, view.ID, editor)
	start := readRevision(t, conn)

	var card pagetree.Node
	e.expect(e.do("POST", base+"/elements", editor, map[string]string{"type": "card-preset"}), http.StatusCreated).decode(t, &card)
	if card.Type != "card-preset" || card.Styles["borderRadius"] != "12px" {
		t.Fatalf("unexpected card %+v", card)
	}
	if rev := readRevision(t, conn); rev <= start {
		t.Errorf("expected a newer revision than %d, got %d", start, rev)
	}
	e.expect(e.do("POST", base+"/elements", editor, map[string]string{"type": "no-such-type"}), http.StatusBadRequest)
	e.expect(e.do("POST", base+"/elements", editor, map[string]string{"type": "paragraph", "parentId": "missing"}), http.StatusNotFound)

	var controls []extension.PropertyView
	e.expect(e.do("GET", base+"/controls?type=card-preset", editor, nil), http.StatusOK).decode(t, &controls)
	if len(controls) != 2 || controls[0].Label != "Load Profile Layout" || controls[0].Control != "button" {
		t.Fatalf("unexpected controls %+v", controls)
	}

	var res extension.ControlResult
	e.expect(e.do("POST", base+"/controls/"+strconv.Itoa(controls[0].Index), editor, map[string]string{
		"elementId": card.ID,
	}), http.StatusOK).decode(t, &res)
	if !res.OK {
		t.Fatalf("control failed: %+v", res)
	}
	for rev := readRevision(t, conn); rev < res.Revision; rev = readRevision(t, conn) {
	}
	e.expect(e.do("POST", base+"/controls/99", editor, map[string]string{"elementId": card.ID}), http.StatusNotFound)

	preview := e.expect(e.do("GET", base+"/preview", editor, nil), http.StatusOK)
	if !strings.Contains(string(preview.Body), "Jane Doe") {
		t.Errorf("preview missing the loaded layout:\n%s", preview.Body)
	}

	var saved store.Site
	e.expect(e.do("POST", base+"/save", editor, nil), http.StatusOK).decode(t, &saved)
	if !strings.Contains(saved.Content, "Jane Doe") {
		t.Errorf("saved content missing the layout: %s", saved.Content)
	}

	e.expect(e.do("PUT", base+"/tree", editor, []map[string]string{
		{"id": "p1", "type": "paragraph", "content": "Plain"},
	}), http.StatusOK)
	var tree []*pagetree.Node
	e.expect(e.do("GET", base+"/tree", editor, nil), http.StatusOK).decode(t, &tree)
	if len(tree) != 1 || tree[0].ID != "p1" {
		t.Errorf("unexpected tree after replace %+v", tree)
	}
	e.expect(e.do("DELETE", base+"/elements/p1", editor, nil), http.StatusNoContent)
	e.expect(e.do("DELETE", base+"/elements/p1", editor, nil), http.StatusNotFound)

	e.expect(e.do("DELETE", base, editor, nil), http.StatusNoContent)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		if !gorilla.IsCloseError(err, gorilla.CloseNormalClosure) {
			t.Errorf("expected a normal close after the session ended, got %v", err)
		}
		break
	}
	e.expect(e.do("GET", base, editor, nil), http.StatusNotFound)
}

func TestBuilderSessionRequiresEditAccess(t *testing.T) {
	e := newTestEnv(t)
	admin, _ := e.bootstrapAdmin()
	editor, _ := e.newEditor(admin)
	site := e.createSite(admin, "Admin Site", false)

	e.expect(e.do("POST", "/api/builder/sessions", editor, map[string]string{"siteId": site.ID.String()}), http.StatusForbidden)
	e.expect(e.do("POST", "/api/builder/sessions", editor, map[string]string{"siteId": "bad"}), http.StatusNotFound)
	e.expect(e.do("POST", "/api/builder/sessions", "", map[string]string{"siteId": site.ID.String()}), http.StatusUnauthorized)

	editorSite := e.createSite(editor, "Editor Site", false)
	e.expect(e.do("POST", "/api/builder/sessions", admin, map[string]string{"siteId": editorSite.ID.String()}), http.StatusCreated)
}

func TestBuilderSessionIsolatesFailingPlugin(t *testing.T) {
	e := newTestEnv(t)
	token, _ := e.bootstrapAdmin()
	e.expect(e.do("POST", "/api/plugins/install/card-layouts", token, nil), http.StatusOK)
	e.expect(e.do("POST", "/api/plugins/custom", token, map[string]string{
		"name": "Panics",
		"code": "package plugin\n\nimport \"sitebuilder/sdk\"\n\nfunc Builder(api sdk.Builder) {\n\tpanic(\"boom\")\n}\n",
	}), http.StatusCreated)
	site := e.createSite(token, "Mixed", false)

	var view extension.BuilderView
	e.expect(e.do("POST", "/api/builder/sessions", token, map[string]string{"siteId": site.ID.String()}), http.StatusCreated).decode(t, &view)
	if len(view.LoadErrors) != 1 || !strings.HasPrefix(view.LoadErrors[0].PluginID, "custom_") {
		t.Errorf("expected one load error for the custom plugin, got %+v", view.LoadErrors)
	}
	if len(view.Components) != 1 {
		t.Errorf("expected card-layouts to load despite the failure, got %+v", view.Components)
	}
}

func TestDashboardSession(t *testing.T) {
	e := newTestEnv(t)
	admin, _ := e.bootstrapAdmin()
	editor, _ := e.newEditor(admin)
	e.expect(e.do("POST", "/api/plugins/custom", editor, map[string]string{
		"name": "Gallery", "code": galleryPlugin,
	}), http.StatusCreated)

	var view extension.DashboardView
	e.expect(e.do("POST", "/api/dashboard/sessions", editor, nil), http.StatusCreated).decode(t, &view)
	if len(view.Pages) != 1 || view.Pages[0].Slug != "gallery" || view.PickerOpen {
		t.Fatalf("unexpected dashboard %+v", view)
	}
	base := "/api/dashboard/sessions/" + view.ID

	e.expect(e.do("GET", base, admin, nil), http.StatusForbidden)
	e.expect(e.do("POST", base+"/media-pick", editor, map[string]string{"url": "/uploads/x.png"}), http.StatusNotFound)

	var page struct {
		Slug string `json:"slug"`
		HTML string `json:"html"`
	}
	e.expect(e.do("GET", base+"/pages/gallery", editor, nil), http.StatusOK).decode(t, &page)
	if page.HTML != "<p>gallery</p>" {
		t.Errorf("unexpected page html %q", page.HTML)
	}
	e.expect(e.do("GET", base+"/pages/missing", editor, nil), http.StatusNotFound)

	e.expect(e.do("GET", base, editor, nil), http.StatusOK).decode(t, &view)
	if !view.PickerOpen {
		t.Fatal("expected the media picker to be open after rendering")
	}
	e.expect(e.do("POST", base+"/media-pick", editor, map[string]string{}), http.StatusBadRequest)
	e.expect(e.do("POST", base+"/media-pick", editor, map[string]string{"url": "/uploads/x.png"}), http.StatusOK).decode(t, &view)
	if view.PickerOpen || len(view.Notifications) != 1 || view.Notifications[0].Message != "picked /uploads/x.png" {
		t.Errorf("unexpected view after pick %+v", view)
	}
	e.expect(e.do("POST", base+"/media-pick", editor, map[string]any{"cancel": true}), http.StatusNotFound)

	// Rendering again is served from cache and does not reopen the picker.
	e.expect(e.do("GET", base+"/pages/gallery", editor, nil), http.StatusOK)
	e.expect(e.do("GET", base, editor, nil), http.StatusOK).decode(t, &view)
	if view.PickerOpen {
		t.Error("cached render must not run the plugin again")
	}

	var pages []json.RawMessage
	e.expect(e.do("GET", base+"/pages", editor, nil), http.StatusOK).decode(t, &pages)
	if len(pages) != 1 {
		t.Errorf("expected 1 page, got %d", len(pages))
	}

	e.expect(e.do("DELETE", base, editor, nil), http.StatusNoContent)
	e.expect(e.do("GET", base, editor, nil), http.StatusNotFound)
}

func TestDashboardPickerCancel(t *testing.T) {
	e := newTestEnv(t)
	token, _ := e.bootstrapAdmin()
	e.expect(e.do("POST", "/api/plugins/custom", token, map[string]string{
		"name": "Gallery", "code": galleryPlugin,
	}), http.StatusCreated)

	var view extension.DashboardView
	e.expect(e.do("POST", "/api/dashboard/sessions", token, nil), http.StatusCreated).decode(t, &view)
	base := "/api/dashboard/sessions/" + view.ID
	e.expect(e.do("GET", base+"/pages/gallery", token, nil), http.StatusOK)

	e.expect(e.do("POST", base+"/media-pick", token, map[string]any{"cancel": true}), http.StatusOK).decode(t, &view)
	if view.PickerOpen || len(view.Notifications) != 0 {
		t.Errorf("cancel must close the picker without calling back: %+v", view)
	}
	e.expect(e.do("POST", base+"/media-pick", token, map[string]string{"url": "/uploads/x.png"}), http.StatusNotFound)
}

func TestStoreManagerActions(t *testing.T) {
	e := newTestEnv(t)
	token, _ := e.bootstrapAdmin()
	e.expect(e.do("POST", "/api/plugins/install/ecom-store", token, nil), http.StatusOK)
	home := e.createSite(token, "Home", true)
	shop := e.createSite(token, "Shop", true)
	e.createSite(token, "Draft", false)

	var view extension.DashboardView
	e.expect(e.do("POST", "/api/dashboard/sessions", token, nil), http.StatusCreated).decode(t, &view)
	if len(view.LoadErrors) != 0 || len(view.Pages) != 1 || view.Pages[0].Slug != "store-manager" {
		t.Fatalf("unexpected dashboard %+v", view)
	}
	base := "/api/dashboard/sessions/" + view.ID
	page := base + "/pages/store-manager"
	action := func(name string, form map[string]string) extension.ActionResult {
		t.Helper()
		var res extension.ActionResult
		e.expect(e.do("POST", page+"/actions/"+name, token, form), http.StatusOK).decode(t, &res)
		return res
	}
	render := func() string {
		t.Helper()
		var out struct {
			HTML string `json:"html"`
		}
		e.expect(e.do("GET", page, token, nil), http.StatusOK).decode(t, &out)
		return out.HTML
	}
	products := func() []store.PluginDocument {
		t.Helper()
		var docs []store.PluginDocument
		e.expect(e.do("GET", "/api/pl-data/ecom-store/products", token, nil), http.StatusOK).decode(t, &docs)
		return docs
	}

	html := render()
	if !strings.Contains(html, "No products found.") || !strings.Contains(html, "/p/"+home.Slug) || strings.Contains(html, "Draft") {
		t.Fatalf("unexpected first render:\n%s", html)
	}

	if res := action("add-product", map[string]string{"name": "Mug", "price": "4.5"}); !res.OK || res.Message != "Product added: Mug" {
		t.Fatalf("add product: %+v", res)
	}
	if res := action("add-product", map[string]string{"name": "Bad", "price": "free"}); res.OK || !strings.Contains(res.Error, "invalid price") {
		t.Errorf("expected a price error, got %+v", res)
	}

	action("pick-image", nil)
	e.expect(e.do("GET", base, token, nil), http.StatusOK).decode(t, &view)
	if !view.PickerOpen {
		t.Fatal("expected the media picker to open")
	}
	e.expect(e.do("POST", base+"/media-pick", token, map[string]string{"url": "/uploads/cap.png"}), http.StatusOK)
	if res := action("add-product", map[string]string{"name": "Cap", "price": "10"}); !res.OK {
		t.Fatalf("add product with picked image: %+v", res)
	}

	docs := products()
	if len(docs) != 2 {
		t.Fatalf("expected 2 products, got %d", len(docs))
	}
	var mugID string
	for _, d := range docs {
		var data map[string]any
		_ = json.Unmarshal(d.Data, &data)
		switch data["name"] {
		case "Cap":
			if data["image"] != "/uploads/cap.png" || data["price"] != 10.0 {
				t.Errorf("unexpected cap %v", data)
			}
		case "Mug":
			mugID = d.ID.String()
		}
	}

	html = render()
	if !strings.Contains(html, "Mug") || !strings.Contains(html, "Cap") {
		t.Errorf("render not refreshed after actions:\n%s", html)
	}

	if res := action("delete-product", map[string]string{"id": mugID}); !res.OK {
		t.Fatalf("delete product: %+v", res)
	}
	if docs := products(); len(docs) != 1 {
		t.Errorf("expected 1 product after delete, got %d", len(docs))
	}
	if res := action("delete-product", map[string]string{"id": mugID}); res.OK {
		t.Error("deleting a missing product should fail")
	}

	form := url.Values{"cardBgColor": {"#111111"}, "page_" + shop.Slug: {"on"}, "page_draft": {"on"}}
	for range 2 {
		req, _ := http.NewRequest("POST", e.srv.URL+page+"/actions/save-settings", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Authorization", "Bearer "+token)
		var res extension.ActionResult
		e.expect(e.send(req), http.StatusOK).decode(t, &res)
		if !res.OK {
			t.Fatalf("save settings: %+v", res)
		}
	}
	var settings []store.PluginDocument
	e.expect(e.do("GET", "/api/pl-data/ecom-store/store_settings", token, nil), http.StatusOK).decode(t, &settings)
	if len(settings) != 1 {
		t.Fatalf("expected the settings replaced, got %d docs", len(settings))
	}
	var saved map[string]any
	_ = json.Unmarshal(settings[0].Data, &saved)
	pages, _ := saved["enabledPages"].([]any)
	if saved["id"] != "global_styles" || saved["showOnAll"] != false || saved["cardBgColor"] != "#111111" ||
		saved["btnColor"] != "#3b82f6" || len(pages) != 1 || pages[0] != shop.Slug {
		t.Errorf("unexpected saved settings %v", saved)
	}

	var sf storefront.Settings
	e.expect(e.do("GET", "/api/store/settings/"+shop.ID.String(), "", nil), http.StatusOK).decode(t, &sf)
	if sf.ShowOnAll == nil || *sf.ShowOnAll || len(sf.EnabledPages) != 1 {
		t.Errorf("storefront does not see the saved settings: %+v", sf)
	}

	e.expect(e.do("POST", page+"/actions/missing", token, map[string]string{}), http.StatusNotFound)
	e.expect(e.do("POST", base+"/pages/nope/actions/add-product", token, map[string]string{}), http.StatusNotFound)
}
