package api

import (
	"bytes"
	"net/http"
	"testing"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/sitebuilder/store"
)

func TestAdminUsers(t *testing.T) {
	e := newTestEnv(t)
	admin, adminUser := e.bootstrapAdmin()
	editor, editorUser := e.newEditor(admin)

	var users []store.User
	e.expect(e.do("GET", "/api/users", admin, nil), http.StatusOK).decode(t, &users)
	if len(users) != 2 || users[0].ID != editorUser.ID {
		t.Fatalf("expected newest user first, got %+v", users)
	}
	r := e.expect(e.do("GET", "/api/users", admin, nil), http.StatusOK)
	if bytes.Contains(r.Body, []byte("password")) {
		t.Errorf("user list leaks password fields: %s", r.Body)
	}
	e.expect(e.do("GET", "/api/users", editor, nil), http.StatusForbidden)

	var created tokenResponse
	e.expect(e.do("POST", "/api/users", admin, map[string]any{
		"email": "third@example.com", "password": "password123",
	}), http.StatusCreated).decode(t, &created)
	if created.User == nil || created.User.Role != store.RoleEditor {
		t.Errorf("expected an editor account, got %+v", created.User)
	}
	e.expect(e.do("POST", "/api/users", editor, map[string]any{
		"email": "fourth@example.com", "password": "password123",
	}), http.StatusForbidden)

	e.expect(e.do("DELETE", "/api/users/"+adminUser.ID.String(), admin, nil), http.StatusBadRequest)
	e.expect(e.do("DELETE", "/api/users/"+adminUser.ID.String(), editor, nil), http.StatusForbidden)
	e.expect(e.do("DELETE", "/api/users/"+editorUser.ID.String(), admin, nil), http.StatusOK)
	e.expect(e.do("DELETE", "/api/users/"+editorUser.ID.String(), admin, nil), http.StatusNotFound)
	e.expect(e.do("DELETE", "/api/users/"+uuid.NewString(), admin, nil), http.StatusNotFound)
	e.expect(e.do("DELETE", "/api/users/not-a-uuid", admin, nil), http.StatusNotFound)

	// A deleted user's token no longer authenticates.
	e.expect(e.do("GET", "/api/auth/me", editor, nil), http.StatusUnauthorized)
	e.expect(e.do("GET", "/api/users", admin, nil), http.StatusOK).decode(t, &users)
	if len(users) != 2 {
		t.Errorf("expected 2 users after delete, got %d", len(users))
	}
}
