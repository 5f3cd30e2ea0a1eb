package httpapi

import (
	"net/http"

	"wisefido-iotcore/internal/domain"
	"wisefido-iotcore/internal/service"

	"go.uber.org/zap"
)

// ExportHandler fleet workbook download
type ExportHandler struct {
	devices service.DeviceService
	auth    *Authenticator
	logger  *zap.Logger
}

func NewExportHandler(devices service.DeviceService, auth *Authenticator, logger *zap.Logger) *ExportHandler {
	return &ExportHandler{devices: devices, auth: auth, logger: logger}
}

func (h *ExportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	h.auth.Require(h.ExportDevices)(w, r)
}

func (h *ExportHandler) ExportDevices(w http.ResponseWriter, r *http.Request, user *domain.SessionUser) {
	fleet, err := h.devices.Fleet(r.Context(), user.ID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	data, err := GenerateFleetExport(fleet)
	if err != nil {
		h.logger.Error("Failed to generate fleet export", zap.String("user_id", user.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to generate export")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename=devices.xlsx")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
