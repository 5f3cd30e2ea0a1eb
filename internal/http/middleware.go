package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"wisefido-iotcore/internal/domain"
	"wisefido-iotcore/internal/service"

	"go.uber.org/zap"
)

// Authenticator resolves the Authorization: Bearer header through the session directory
type Authenticator struct {
	sessions service.SessionService
	logger   *zap.Logger
}

func NewAuthenticator(sessions service.SessionService, logger *zap.Logger) *Authenticator {
	return &Authenticator{sessions: sessions, logger: logger}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// Require runs next only for a valid session
func (a *Authenticator) Require(next func(w http.ResponseWriter, r *http.Request, user *domain.SessionUser)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "Missing Bearer token")
			return
		}
		user, err := a.sessions.Resolve(r.Context(), token)
		if errors.Is(err, service.ErrUnauthorized) {
			writeError(w, http.StatusUnauthorized, service.ErrUnauthorized.Error())
			return
		}
		if err != nil {
			a.logger.Error("Session lookup failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Internal error")
			return
		}
		next(w, r, user)
	}
}
