package api

import (
	"net/http"
	"strings"
	"testing"

	"github.com/GoCodeAlone/sitebuilder/store"
)

const galleryPlugin = `package plugin

import "sitebuilder/sdk"

func Dashboard(api sdk.Dashboard) {
	api.RegisterPage("gallery", "Gallery", "image", func() string {
		api.OpenMediaPicker(func(url string) {
			api.Notify("picked " + url)
		})
		return "<p>gallery</p>"
	})
}
`

func TestPluginStoreListsOfficialWithoutCode(t *testing.T) {
	e := newTestEnv(t)
	token, _ := e.bootstrapAdmin()
	e.expect(e.do("POST", "/api/plugins/install/nav-bar", token, nil), http.StatusOK)

	r := e.expect(e.do("GET", "/api/plugins/store", token, nil), http.StatusOK)
	if strings.Contains(string(r.Data), `"code"`) {
		t.Error("store listing must not include plugin code")
	}
	var entries []storeEntry
	r.decode(t, &entries)
	if len(entries) != 5 {
		t.Fatalf("expected 5 official plugins, got %d", len(entries))
	}
	for _, en := range entries {
		if en.Installed != (en.ID == "nav-bar") {
			t.Errorf("%s: installed = %v", en.ID, en.Installed)
		}
	}
}

func TestPluginInstallUninstall(t *testing.T) {
	e := newTestEnv(t)
	token, _ := e.bootstrapAdmin()

	e.expect(e.do("POST", "/api/plugins/install/anim", token, nil), http.StatusOK)
	e.expect(e.do("POST", "/api/plugins/install/card-layouts", token, nil), http.StatusOK)
	r := e.expect(e.do("POST", "/api/plugins/install/anim", token, nil), http.StatusBadRequest)
	if r.Error == "" {
		t.Error("expected an error message for a repeated install")
	}
	e.expect(e.do("POST", "/api/plugins/install/no-such-plugin", token, nil), http.StatusNotFound)

	var mine []store.Plugin
	e.expect(e.do("GET", "/api/plugins/me", token, nil), http.StatusOK).decode(t, &mine)
	if len(mine) != 2 || mine[0].ID != "anim" || mine[1].ID != "card-layouts" {
		t.Fatalf("expected installation order [anim card-layouts], got %+v", mine)
	}

	e.expect(e.do("DELETE", "/api/plugins/install/anim", token, nil), http.StatusOK)
	e.expect(e.do("DELETE", "/api/plugins/install/anim", token, nil), http.StatusOK)
	e.expect(e.do("GET", "/api/plugins/me", token, nil), http.StatusOK).decode(t, &mine)
	if len(mine) != 1 || mine[0].ID != "card-layouts" {
		t.Errorf("unexpected plugins after uninstall %+v", mine)
	}
}

func TestCustomPlugins(t *testing.T) {
	e := newTestEnv(t)
	admin, _ := e.bootstrapAdmin()
	editor, _ := e.newEditor(admin)

	e.expect(e.do("POST", "/api/plugins/custom", editor, map[string]string{
		"name": "Broken", "code": "package plugin\nimport \"os\"\nfunc Builder(x int) { _ = os.Args }",
	}), http.StatusBadRequest)
	e.expect(e.do("POST", "/api/plugins/custom", editor, map[string]string{
		"code": galleryPlugin,
	}), http.StatusBadRequest)

	var p store.Plugin
	e.expect(e.do("POST", "/api/plugins/custom", editor, map[string]string{
		"name": "Gallery", "code": galleryPlugin,
	}), http.StatusCreated).decode(t, &p)
	if !strings.HasPrefix(p.ID, "custom_") || p.Description != "Custom Plugin" || p.IsOfficial {
		t.Errorf("unexpected custom plugin %+v", p)
	}

	var mine []store.Plugin
	e.expect(e.do("GET", "/api/plugins/me", editor, nil), http.StatusOK).decode(t, &mine)
	if len(mine) != 1 || mine[0].ID != p.ID {
		t.Errorf("expected owned custom plugin in my plugins, got %+v", mine)
	}

	e.expect(e.do("POST", "/api/plugins/install/"+p.ID, admin, nil), http.StatusNotFound)
	e.expect(e.do("DELETE", "/api/plugins/custom/"+p.ID, admin, nil), http.StatusForbidden)
	e.expect(e.do("DELETE", "/api/plugins/custom/anim", editor, nil), http.StatusForbidden)
	e.expect(e.do("DELETE", "/api/plugins/custom/"+p.ID, editor, nil), http.StatusNoContent)
	e.expect(e.do("DELETE", "/api/plugins/custom/"+p.ID, editor, nil), http.StatusNotFound)
}
