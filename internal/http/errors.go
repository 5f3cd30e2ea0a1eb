package httpapi

import (
	"errors"
	"net/http"

	"wisefido-iotcore/internal/service"

	"go.uber.org/zap"
)

// statusFor maps service errors to HTTP status codes; unknown errors are 500
func statusFor(err error) int {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrDeviceNotFound),
		errors.Is(err, service.ErrDeviceNotOwned),
		errors.Is(err, service.ErrComponentNotOwned),
		errors.Is(err, service.ErrNotificationNotFound),
		errors.Is(err, service.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidClaimToken),
		errors.Is(err, service.ErrInvalidDeviceSecret),
		errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrInvalidCurrentPassword),
		errors.Is(err, service.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrEmailTaken):
		return http.StatusConflict
	case errors.Is(err, service.ErrDeviceNotClaimable),
		errors.Is(err, service.ErrNoActiveClaimToken),
		errors.Is(err, service.ErrClaimTokenExpired),
		errors.Is(err, service.ErrDeviceAlreadyClaimed),
		errors.Is(err, service.ErrDeviceNotActive),
		errors.Is(err, service.ErrDeviceHasNoSecret):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrProvisioningFailed),
		errors.Is(err, service.ErrPublishFailed):
		return http.StatusInternalServerError
	}
	return 0
}

// writeServiceError known errors carry their own message, the rest are logged
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	if status := statusFor(err); status != 0 {
		writeError(w, status, err.Error())
		return
	}
	logger.Error("Request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "Internal error")
}
