package service

import "errors"

// Errors returned to callers; the message is what the API shows.
var (
	ErrDeviceNotFound       = errors.New("Device not found")
	ErrDeviceNotOwned       = errors.New("Device not found (or not yours)")
	ErrComponentNotOwned    = errors.New("Component not found (or not yours)")
	ErrDeviceNotClaimable   = errors.New("Device is not claimable")
	ErrDeviceAlreadyClaimed = errors.New("Device is already claimed")
	ErrNoActiveClaimToken   = errors.New("Device has no active claim token")
	ErrClaimTokenExpired    = errors.New("Claim token expired")
	ErrInvalidClaimToken    = errors.New("Invalid claim token")
	ErrDeviceNotActive      = errors.New("Device is not active")
	ErrDeviceHasNoSecret    = errors.New("Device has no secret")
	ErrInvalidDeviceSecret  = errors.New("Invalid device_secret")
	ErrProvisioningFailed   = errors.New("MQTT provisioning failed")
	ErrPublishFailed        = errors.New("MQTT publish failed")

	ErrUnauthorized           = errors.New("Invalid or expired token")
	ErrInvalidCredentials     = errors.New("Invalid credentials")
	ErrInvalidCurrentPassword = errors.New("Invalid current password")
	ErrEmailTaken             = errors.New("Email already in use")
	ErrUserNotFound           = errors.New("User not found")
	ErrNotificationNotFound   = errors.New("Notification not found")
)

// ValidationError a malformed request; the message is shown as is
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(msg string) error {
	return &ValidationError{Message: msg}
}
