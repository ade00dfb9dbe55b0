package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/GoCodeAlone/sitebuilder/store"
)

const minPasswordLen = 8

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	users     store.UserStore
	secret    []byte
	issuer    string
	accessTTL time.Duration
	logger    *slog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(users store.UserStore, secret []byte, issuer string, accessTTL time.Duration, logger *slog.Logger) *AuthHandler {
	if accessTTL == 0 {
		accessTTL = 24 * time.Hour
	}
	return &AuthHandler{
		users:     users,
		secret:    secret,
		issuer:    issuer,
		accessTTL: accessTTL,
		logger:    logger,
	}
}

// Register handles POST /api/auth/register. The first account becomes the
// admin; after that only an admin may create accounts.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email       string     `json:"email"`
		Password    string     `json:"password"` //nolint:gosec // request DTO field
		DisplayName string     `json:"displayName"`
		Role        store.Role `json:"role"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		WriteError(w, http.StatusBadRequest, "email and password are required")
		return
	}
	if len(req.Password) < minPasswordLen {
		WriteError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	n, err := h.users.Count(r.Context())
	if err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	role := store.RoleAdmin
	if n > 0 {
		caller := UserFromContext(r.Context())
		if caller == nil {
			WriteError(w, http.StatusUnauthorized, "registration is closed")
			return
		}
		if !caller.IsAdmin() {
			WriteError(w, http.StatusForbidden, "admin role required")
			return
		}
		role = store.RoleEditor
		if req.Role != "" {
			if !store.ValidRoles[req.Role] {
				WriteError(w, http.StatusBadRequest, "invalid role")
				return
			}
			role = req.Role
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	user := &store.User{
		Email:        req.Email,
		PasswordHash: string(hash),
		DisplayName:  req.DisplayName,
		Role:         role,
	}
	if err := h.users.Create(r.Context(), user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			WriteError(w, http.StatusConflict, "email already registered")
			return
		}
		writeStoreError(w, h.logger, err)
		return
	}
	h.logger.Info("user registered", "user", user.ID, "role", user.Role)

	tok, err := h.issueToken(user)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	WriteJSON(w, http.StatusCreated, tok)
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"` //nolint:gosec // request DTO field
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))

	user, err := h.users.GetByEmail(r.Context(), req.Email)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		WriteError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	tok, err := h.issueToken(user)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	WriteJSON(w, http.StatusOK, tok)
}

// Me handles GET /api/auth/me.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	WriteJSON(w, http.StatusOK, user)
}

// tokenResponse is the JSON shape returned to callers.
type tokenResponse struct {
	AccessToken string      `json:"access_token"` //nolint:gosec // token response field
	ExpiresIn   int64       `json:"expires_in"`
	User        *store.User `json:"user"`
}

func (h *AuthHandler) issueToken(u *store.User) (*tokenResponse, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   u.ID.String(),
		"email": u.Email,
		"role":  string(u.Role),
		"jti":   uuid.NewString(),
		"iat":   now.Unix(),
		"exp":   now.Add(h.accessTTL).Unix(),
	}
	if h.issuer != "" {
		claims["iss"] = h.issuer
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.secret)
	if err != nil {
		return nil, err
	}
	return &tokenResponse{
		AccessToken: signed,
		ExpiresIn:   int64(h.accessTTL.Seconds()),
		User:        u,
	}, nil
}
