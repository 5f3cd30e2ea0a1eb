package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"wisefido-iotcore/internal/events"
	"wisefido-iotcore/internal/repository"
	"wisefido-iotcore/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

type okProvisioner struct{}

func (okProvisioner) Provision(context.Context, string, string) error { return nil }

type capturePublisher struct {
	topic   string
	payload []byte
}

func (p *capturePublisher) Publish(topic string, _ byte, _ bool, payload []byte) error {
	p.topic, p.payload = topic, payload
	return nil
}

type apiFixture struct {
	mem     *repository.MemoryStore
	router  *Router
	rec     *events.Recorder
	mqtt    *capturePublisher
	devices service.DeviceService
}

func setupAPI(t *testing.T) *apiFixture {
	logger := zap.NewNop()
	mem := repository.NewMemoryStore()
	store := mem.Store()
	f := &apiFixture{mem: mem, rec: &events.Recorder{}, mqtt: &capturePublisher{}}

	sessions := service.NewSessionService(store.Sessions, time.Hour, logger)
	authSvc := service.NewAuthService(store.Users, sessions, logger)
	claims := service.NewClaimService(store.Devices, okProvisioner{}, nil, 10*time.Minute, logger)
	f.devices = service.NewDeviceService(store.Devices, store.Components, nil, logger)
	commands := service.NewCommandService(store.Devices, store.Components, f.mqtt, logger)
	notifications := service.NewNotificationService(store.Notifications, f.rec)

	auth := NewAuthenticator(sessions, logger)
	f.router = NewRouter(logger)
	f.router.RegisterHealth()
	f.router.RegisterAuthRoutes(NewAuthHandler(authSvc, auth, logger))
	f.router.RegisterDeviceRoutes(NewDevicesHandler(f.devices, claims, commands, auth, logger))
	f.router.RegisterNotificationRoutes(NewNotificationsHandler(notifications, auth, logger))
	f.router.RegisterExportRoutes(NewExportHandler(f.devices, auth, logger))
	return f
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func errorOf(t *testing.T, w *httptest.ResponseRecorder) string {
	return decode[map[string]string](t, w)["error"]
}

func (f *apiFixture) signup(t *testing.T, email string) string {
	w := f.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{"email": email, "password": "password1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[map[string]any](t, w)["token"].(string)
}

func (f *apiFixture) registerDevice(t *testing.T, token string) service.ClaimTokenResponse {
	w := f.do(t, http.MethodPost, "/api/devices", token, map[string]any{"name": "Kitchen"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[service.ClaimTokenResponse](t, w)
}

func TestHealth(t *testing.T) {
	f := setupAPI(t)
	w := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddleware(t *testing.T) {
	f := setupAPI(t)

	w := f.do(t, http.MethodGet, "/api/devices", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Missing Bearer token", errorOf(t, w))

	w = f.do(t, http.MethodGet, "/api/devices", "bogus", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid or expired token", errorOf(t, w))
}

func TestAuthFlow(t *testing.T) {
	f := setupAPI(t)
	token := f.signup(t, "alice@example.com")

	w := f.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{"email": "ALICE@example.com", "password": "password1"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "Email already in use", errorOf(t, w))

	w = f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "alice@example.com", "password": "nope-nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid credentials", errorOf(t, w))

	w = f.do(t, http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	me := decode[map[string]map[string]any](t, w)
	assert.Equal(t, "alice@example.com", me["user"]["email"])
	assert.NotContains(t, w.Body.String(), "password")

	w = f.do(t, http.MethodPatch, "/api/auth/profile", token, map[string]any{"avatar_key": "avatar-cat"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "avatar-cat", decode[map[string]map[string]any](t, w)["user"]["avatar_key"])

	w = f.do(t, http.MethodPatch, "/api/auth/profile", token, map[string]any{"avatar_key": "avatar-unicorn"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid avatar_key", errorOf(t, w))

	w = f.do(t, http.MethodPost, "/api/auth/change-password", token, map[string]any{"current_password": "password1", "new_password": "password2"})
	require.Equal(t, http.StatusOK, w.Code)
	fresh := decode[map[string]any](t, w)["token"].(string)

	w = f.do(t, http.MethodGet, "/api/auth/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodPost, "/api/auth/logout", fresh, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = f.do(t, http.MethodGet, "/api/auth/me", fresh, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodGet, "/api/auth/login", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestDeviceClaimFlow(t *testing.T) {
	f := setupAPI(t)
	token := f.signup(t, "alice@example.com")
	reg := f.registerDevice(t, token)
	assert.Regexp(t, `^dev_[0-9a-f]{16}$`, reg.DeviceUID)

	w := f.do(t, http.MethodPost, "/api/devices/claim", "", map[string]string{"device_uid": reg.DeviceUID, "claim_token": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "claim_token is required", errorOf(t, w))

	w = f.do(t, http.MethodPost, "/api/devices/claim", "", map[string]string{"device_uid": reg.DeviceUID, "claim_token": "0123456789abcdef0123456789"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid claim token", errorOf(t, w))

	w = f.do(t, http.MethodPost, "/api/devices/claim", "", map[string]string{"device_uid": reg.DeviceUID, "claim_token": reg.ClaimToken})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	claimed := decode[service.ClaimResponse](t, w)
	assert.True(t, claimed.MQTTProvisioned)
	assert.Len(t, claimed.DeviceSecret, 64)

	w = f.do(t, http.MethodPost, "/api/devices/claim", "", map[string]string{"device_uid": reg.DeviceUID, "claim_token": reg.ClaimToken})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Device is not claimable", errorOf(t, w))

	w = f.do(t, http.MethodPost, "/api/devices/"+reg.DeviceUID+"/claim-token", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Device is already claimed", errorOf(t, w))

	w = f.do(t, http.MethodPost, "/api/devices/provision-mqtt", "", map[string]string{"device_uid": reg.DeviceUID, "device_secret": claimed.DeviceSecret})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/api/devices/claim", "", map[string]string{"device_uid": "dev_ffffffffffffffff", "claim_token": reg.ClaimToken})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Device not found", errorOf(t, w))
}

func TestDeviceManagement(t *testing.T) {
	f := setupAPI(t)
	alice := f.signup(t, "alice@example.com")
	bob := f.signup(t, "bob@example.com")
	reg := f.registerDevice(t, alice)
	path := "/api/devices/" + reg.DeviceUID

	w := f.do(t, http.MethodGet, path, bob, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Device not found (or not yours)", errorOf(t, w))

	w = f.do(t, http.MethodPatch, path, alice, map[string]any{"name": "Porch", "description": 7})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Porch", decode[map[string]any](t, w)["name"])

	w = f.do(t, http.MethodPost, path+"/commands", alice, map[string]any{"component_key": "relay1", "command": map[string]any{"on": true}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	cmd := decode[service.CommandResponse](t, w)
	assert.Equal(t, "devices/"+reg.DeviceUID+"/command/relay1", cmd.Topic)
	assert.JSONEq(t, `{"on":true}`, cmd.Payload)
	assert.JSONEq(t, `{"on":true}`, string(f.mqtt.payload))

	w = f.do(t, http.MethodPost, path+"/commands", alice, map[string]any{"component_key": "relay1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "command is required", errorOf(t, w))

	w = f.do(t, http.MethodGet, path, alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode[map[string]any](t, w)
	assert.Len(t, detail["components"], 1)
	assert.Contains(t, detail, "latest")
	assert.NotContains(t, w.Body.String(), "claim_token_hash")

	w = f.do(t, http.MethodGet, "/api/components", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	comps := decode[[]map[string]any](t, w)
	require.Len(t, comps, 1)
	assert.Equal(t, reg.DeviceUID, comps[0]["device_uid"])
	assert.Equal(t, "actuator", comps[0]["kind"])

	w = f.do(t, http.MethodPatch, path+"/components/relay1", alice, map[string]any{"hidden": true, "name": "Relay"})
	require.Equal(t, http.StatusOK, w.Code)
	meta := decode[map[string]any](t, w)["meta"].(map[string]any)
	assert.Equal(t, true, meta["hidden"])
	assert.Equal(t, "Relay", meta["name"])

	w = f.do(t, http.MethodDelete, path+"/components/relay1", bob, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Component not found (or not yours)", errorOf(t, w))

	w = f.do(t, http.MethodDelete, path+"/components/relay1", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "relay1", decode[map[string]any](t, w)["component_key"])

	w = f.do(t, http.MethodDelete, path, alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, reg.DeviceUID, decode[map[string]any](t, w)["device_uid"])

	w = f.do(t, http.MethodGet, "/api/devices", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]map[string]any](t, w))
}

func TestNotificationsAPI(t *testing.T) {
	f := setupAPI(t)
	alice := f.signup(t, "alice@example.com")

	w := f.do(t, http.MethodPost, "/api/notifications", alice, map[string]any{"title": "hi"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "title and body are required", errorOf(t, w))

	w = f.do(t, http.MethodPost, "/api/notifications", alice, map[string]any{"title": "hi", "body": "there"})
	require.Equal(t, http.StatusOK, w.Code)
	created := decode[map[string]any](t, w)
	assert.Equal(t, "system", created["type"])
	require.Len(t, f.rec.Notifications(), 1)

	w = f.do(t, http.MethodGet, "/api/notifications?filter=unread&limit=500", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]map[string]any](t, w), 1)

	w = f.do(t, http.MethodPost, "/api/notifications/abc/read", alice, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid notification id", errorOf(t, w))

	w = f.do(t, http.MethodPost, "/api/notifications/999/read", alice, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Notification not found", errorOf(t, w))

	w = f.do(t, http.MethodPost, "/api/notifications/read-all", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/notifications?filter=unread", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]map[string]any](t, w))
}

func TestFleetExport(t *testing.T) {
	f := setupAPI(t)
	alice := f.signup(t, "alice@example.com")
	reg := f.registerDevice(t, alice)
	w := f.do(t, http.MethodPost, "/api/devices/"+reg.DeviceUID+"/commands", alice, map[string]any{"component_key": "relay1", "command": 1})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/exports/devices.xlsx", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", w.Header().Get("Content-Type"))

	book, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	defer book.Close()
	assert.Equal(t, []string{"Devices", "Components"}, book.GetSheetList())

	uid, err := book.GetCellValue("Devices", "A2")
	require.NoError(t, err)
	assert.Equal(t, reg.DeviceUID, uid)
	name, err := book.GetCellValue("Devices", "B2")
	require.NoError(t, err)
	assert.Equal(t, "Kitchen", name)

	key, err := book.GetCellValue("Components", "B2")
	require.NoError(t, err)
	assert.Equal(t, "relay1", key)
	kind, err := book.GetCellValue("Components", "D2")
	require.NoError(t, err)
	assert.Equal(t, "actuator", kind)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{service.ErrDeviceNotOwned, http.StatusNotFound},
		{service.ErrInvalidDeviceSecret, http.StatusUnauthorized},
		{service.ErrClaimTokenExpired, http.StatusBadRequest},
		{service.ErrEmailTaken, http.StatusConflict},
		{service.ErrProvisioningFailed, http.StatusInternalServerError},
		{&service.ValidationError{Message: "x"}, http.StatusBadRequest},
		{context.DeadlineExceeded, 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}
