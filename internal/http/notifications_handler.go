package httpapi

import (
	"net/http"
	"strconv"

	"wisefido-iotcore/internal/domain"
	"wisefido-iotcore/internal/repository"
	"wisefido-iotcore/internal/service"

	"go.uber.org/zap"
)

// NotificationsHandler /api/notifications/...
type NotificationsHandler struct {
	notifications service.NotificationService
	auth          *Authenticator
	logger        *zap.Logger
}

func NewNotificationsHandler(notifications service.NotificationService, auth *Authenticator, logger *zap.Logger) *NotificationsHandler {
	return &NotificationsHandler{notifications: notifications, auth: auth, logger: logger}
}

func (h *NotificationsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.auth.Require(h.route)(w, r)
}

func (h *NotificationsHandler) route(w http.ResponseWriter, r *http.Request, user *domain.SessionUser) {
	parts := pathParts(r.URL.Path, "/api/notifications")
	switch {
	case len(parts) == 0:
		switch r.Method {
		case http.MethodGet:
			h.List(w, r, user)
		case http.MethodPost:
			h.Create(w, r, user)
		default:
			methodNotAllowed(w)
		}
	case len(parts) == 1 && parts[0] == "read-all":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		h.MarkAllRead(w, r, user)
	case len(parts) == 2 && parts[1] == "read":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		h.MarkRead(w, r, user, parts[0])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *NotificationsHandler) List(w http.ResponseWriter, r *http.Request, user *domain.SessionUser) {
	q := r.URL.Query()
	query := repository.ListNotificationsQuery{
		Limit:      parseInt(q.Get("limit"), 0),
		BeforeID:   int64(parseInt(q.Get("before_id"), 0)),
		UnreadOnly: q.Get("filter") == "unread",
	}
	list, err := h.notifications.List(r.Context(), user.ID, query)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *NotificationsHandler) Create(w http.ResponseWriter, r *http.Request, user *domain.SessionUser) {
	var body map[string]any
	if err := readBodyJSON(r, maxBodyBytes, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	title, _ := body["title"].(string)
	text, _ := body["body"].(string)
	typ, _ := body["type"].(string)

	n, err := h.notifications.Create(r.Context(), domain.NewNotification{
		OwnerUserID: user.ID,
		DeviceUID:   optString(body, "device_uid"),
		Title:       title,
		Body:        text,
		Type:        typ,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (h *NotificationsHandler) MarkAllRead(w http.ResponseWriter, r *http.Request, user *domain.SessionUser) {
	if err := h.notifications.MarkAllRead(r.Context(), user.ID); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *NotificationsHandler) MarkRead(w http.ResponseWriter, r *http.Request, user *domain.SessionUser, rawID string) {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid notification id")
		return
	}
	n, err := h.notifications.MarkRead(r.Context(), user.ID, id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}
