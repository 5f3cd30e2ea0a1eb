package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// Router thin wrapper over http.ServeMux
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

// HandleHandler registers an http.Handler (websocket endpoint)
func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) RegisterHealth() {
	r.Handle("/health", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
}

func (r *Router) RegisterAuthRoutes(h *AuthHandler) {
	r.Handle("/api/auth/", h.ServeHTTP)
}

// RegisterDeviceRoutes devices, their components and commands, plus the
// unauthenticated claim and provision-mqtt endpoints used by devices themselves
func (r *Router) RegisterDeviceRoutes(h *DevicesHandler) {
	r.Handle("/api/devices", h.ServeHTTP)
	r.Handle("/api/devices/", h.ServeHTTP)
	r.Handle("/api/components", h.ServeHTTP)
}

func (r *Router) RegisterNotificationRoutes(h *NotificationsHandler) {
	r.Handle("/api/notifications", h.ServeHTTP)
	r.Handle("/api/notifications/", h.ServeHTTP)
}

func (r *Router) RegisterExportRoutes(h *ExportHandler) {
	r.Handle("/api/exports/devices.xlsx", h.ServeHTTP)
}

// RegisterViewerRoutes live viewer socket
func (r *Router) RegisterViewerRoutes(ws http.Handler) {
	r.HandleHandler("/ws", ws)
}
