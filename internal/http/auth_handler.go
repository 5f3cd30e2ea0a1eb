package httpapi

import (
	"net/http"

	"wisefido-iotcore/internal/domain"
	"wisefido-iotcore/internal/service"

	"go.uber.org/zap"
)

// AuthHandler /api/auth/...
type AuthHandler struct {
	authService service.AuthService
	auth        *Authenticator
	logger      *zap.Logger
}

func NewAuthHandler(authService service.AuthService, auth *Authenticator, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		auth:        auth,
		logger:      logger,
	}
}

func (h *AuthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/auth/register":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		h.Register(w, r)
	case "/api/auth/login":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		h.Login(w, r)
	case "/api/auth/logout":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		h.auth.Require(h.Logout)(w, r)
	case "/api/auth/me":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		h.auth.Require(h.Me)(w, r)
	case "/api/auth/change-password":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		h.auth.Require(h.ChangePassword)(w, r)
	case "/api/auth/profile":
		if r.Method != http.MethodPatch {
			methodNotAllowed(w)
			return
		}
		h.auth.Require(h.UpdateProfile)(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// credentialsFrom tolerates non-string fields the way a loose client would send them
func credentialsFrom(r *http.Request) credentials {
	var body map[string]any
	_ = readBodyJSON(r, maxBodyBytes, &body)
	email, _ := body["email"].(string)
	password, _ := body["password"].(string)
	return credentials{Email: email, Password: password}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	c := credentialsFrom(r)
	resp, err := h.authService.Register(r.Context(), c.Email, c.Password)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	c := credentialsFrom(r)
	resp, err := h.authService.Login(r.Context(), c.Email, c.Password)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request, _ *domain.SessionUser) {
	if err := h.authService.Logout(r.Context(), bearerToken(r)); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request, user *domain.SessionUser) {
	u, err := h.authService.Me(r.Context(), user.ID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": u})
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request, user *domain.SessionUser) {
	var body map[string]any
	_ = readBodyJSON(r, maxBodyBytes, &body)
	current, _ := body["current_password"].(string)
	next, _ := body["new_password"].(string)

	resp, err := h.authService.ChangePassword(r.Context(), user.ID, current, next)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request, user *domain.SessionUser) {
	var body map[string]any
	if err := readBodyJSON(r, maxBodyBytes, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	key, err := service.ParseAvatarKey(body["avatar_key"])
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	u, err := h.authService.UpdateAvatar(r.Context(), user.ID, key)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": u})
}
