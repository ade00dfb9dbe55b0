package api

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/sitebuilder/store"
)

// UserHandler serves the admin user list.
type UserHandler struct {
	users  store.UserStore
	logger *slog.Logger
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(users store.UserStore, logger *slog.Logger) *UserHandler {
	return &UserHandler{users: users, logger: logger}
}

// List handles GET /api/users.
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context())
	if err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, users)
}

// Delete handles DELETE /api/users/{id}. Admins cannot delete themselves.
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		WriteError(w, http.StatusNotFound, "user not found")
		return
	}
	if id == UserFromContext(r.Context()).ID {
		WriteError(w, http.StatusBadRequest, "cannot delete yourself")
		return
	}
	if err := h.users.Delete(r.Context(), id); err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	h.logger.Info("user deleted", "id", id)
	WriteJSON(w, http.StatusOK, map[string]string{"message": "User removed"})
}
