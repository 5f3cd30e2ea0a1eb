package httpapi

import (
	"encoding/json"
	"net/http"

	"wisefido-iotcore/internal/domain"
	"wisefido-iotcore/internal/service"

	"go.uber.org/zap"
)

// DevicesHandler /api/devices/..., /api/components
type DevicesHandler struct {
	devices  service.DeviceService
	claims   service.ClaimService
	commands service.CommandService
	auth     *Authenticator
	logger   *zap.Logger
}

func NewDevicesHandler(
	devices service.DeviceService,
	claims service.ClaimService,
	commands service.CommandService,
	auth *Authenticator,
	logger *zap.Logger,
) *DevicesHandler {
	return &DevicesHandler{
		devices:  devices,
		claims:   claims,
		commands: commands,
		auth:     auth,
		logger:   logger,
	}
}

func (h *DevicesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/api/components" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		h.auth.Require(h.ListComponents)(w, r)
		return
	}

	parts := pathParts(r.URL.Path, "/api/devices")
	switch {
	case len(parts) == 0:
		switch r.Method {
		case http.MethodGet:
			h.auth.Require(h.List)(w, r)
		case http.MethodPost:
			h.auth.Require(h.Register)(w, r)
		default:
			methodNotAllowed(w)
		}

	// device-facing, no session
	case len(parts) == 1 && parts[0] == "claim":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		h.Claim(w, r)
	case len(parts) == 1 && parts[0] == "provision-mqtt":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		h.ProvisionMQTT(w, r)

	case len(parts) == 1:
		uid := parts[0]
		h.auth.Require(func(w http.ResponseWriter, r *http.Request, user *domain.SessionUser) {
			switch r.Method {
			case http.MethodGet:
				h.Get(w, r, user, uid)
			case http.MethodPatch:
				h.Update(w, r, user, uid)
			case http.MethodDelete:
				h.Delete(w, r, user, uid)
			default:
				methodNotAllowed(w)
			}
		})(w, r)
	case len(parts) == 2 && parts[1] == "claim-token":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		uid := parts[0]
		h.auth.Require(func(w http.ResponseWriter, r *http.Request, user *domain.SessionUser) {
			h.ReissueClaimToken(w, r, user, uid)
		})(w, r)
	case len(parts) == 2 && parts[1] == "commands":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		uid := parts[0]
		h.auth.Require(func(w http.ResponseWriter, r *http.Request, user *domain.SessionUser) {
			h.SendCommand(w, r, user, uid)
		})(w, r)
	case len(parts) == 3 && parts[1] == "components":
		uid, key := parts[0], parts[2]
		h.auth.Require(func(w http.ResponseWriter, r *http.Request, user *domain.SessionUser) {
			switch r.Method {
			case http.MethodPatch:
				h.UpdateComponent(w, r, user, uid, key)
			case http.MethodDelete:
				h.DeleteComponent(w, r, user, uid, key)
			default:
				methodNotAllowed(w)
			}
		})(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// optString a string body field, nil for anything else
func optString(body map[string]any, key string) *string {
	s, ok := body[key].(string)
	if !ok {
		return nil
	}
	return &s
}

func (h *DevicesHandler) List(w http.ResponseWriter, r *http.Request, user *domain.SessionUser) {
	list, err := h.devices.List(r.Context(), user.ID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *DevicesHandler) Register(w http.ResponseWriter, r *http.Request, user *domain.SessionUser) {
	var body map[string]any
	if err := readBodyJSON(r, maxBodyBytes, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	resp, err := h.claims.Register(r.Context(), service.RegisterDeviceRequest{
		OwnerUserID: user.ID,
		Name:        optString(body, "name"),
		Description: optString(body, "description"),
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *DevicesHandler) Claim(w http.ResponseWriter, r *http.Request) {
	var req service.ClaimRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	resp, err := h.claims.Claim(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *DevicesHandler) ProvisionMQTT(w http.ResponseWriter, r *http.Request) {
	var req service.ProvisionRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if err := h.claims.ProvisionMQTT(r.Context(), req); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *DevicesHandler) Get(w http.ResponseWriter, r *http.Request, user *domain.SessionUser, uid string) {
	detail, err := h.devices.Get(r.Context(), user.ID, uid)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *DevicesHandler) Update(w http.ResponseWriter, r *http.Request, user *domain.SessionUser, uid string) {
	var body map[string]any
	if err := readBodyJSON(r, maxBodyBytes, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	d, err := h.devices.UpdateLabels(r.Context(), user.ID, uid, optString(body, "name"), optString(body, "description"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *DevicesHandler) Delete(w http.ResponseWriter, r *http.Request, user *domain.SessionUser, uid string) {
	if err := h.devices.Delete(r.Context(), user.ID, uid); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "device_uid": uid})
}

func (h *DevicesHandler) ReissueClaimToken(w http.ResponseWriter, r *http.Request, user *domain.SessionUser, uid string) {
	resp, err := h.claims.ReissueClaimToken(r.Context(), user.ID, uid)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *DevicesHandler) SendCommand(w http.ResponseWriter, r *http.Request, user *domain.SessionUser, uid string) {
	var body struct {
		ComponentKey string          `json:"component_key"`
		Command      json.RawMessage `json:"command"`
	}
	if err := readBodyJSON(r, maxBodyBytes, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	command := body.Command
	if string(command) == "null" {
		command = nil
	}
	resp, err := h.commands.Send(r.Context(), service.CommandRequest{
		OwnerUserID:  user.ID,
		DeviceUID:    uid,
		ComponentKey: body.ComponentKey,
		Command:      command,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *DevicesHandler) ListComponents(w http.ResponseWriter, r *http.Request, user *domain.SessionUser) {
	list, err := h.devices.ListComponents(r.Context(), user.ID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *DevicesHandler) UpdateComponent(w http.ResponseWriter, r *http.Request, user *domain.SessionUser, uid, key string) {
	var body map[string]any
	if err := readBodyJSON(r, maxBodyBytes, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	patch := domain.ComponentPatch{
		Name:   optString(body, "name"),
		Visual: optString(body, "visual"),
	}
	if hidden, ok := body["hidden"].(bool); ok {
		patch.Hidden = &hidden
	}
	c, err := h.devices.UpdateComponent(r.Context(), user.ID, uid, key, patch)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *DevicesHandler) DeleteComponent(w http.ResponseWriter, r *http.Request, user *domain.SessionUser, uid, key string) {
	if err := h.devices.DeleteComponent(r.Context(), user.ID, uid, key); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "component_key": key})
}
