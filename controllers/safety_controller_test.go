package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"safewalk/middleware"
	"safewalk/models"
	"safewalk/providers"
	"safewalk/services"
	"safewalk/utils"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// offlineBridge answers every capability call as unavailable, which makes
// the session run on web capabilities without a device behind it
type offlineBridge struct{}

func (offlineBridge) Invoke(ctx context.Context, method string, params interface{}, result interface{}) error {
	return &providers.RemoteError{Code: providers.CodeUnavailable}
}

func (offlineBridge) Watch(ctx context.Context, method string, params interface{}, onEvent func(payload json.RawMessage, err error)) (string, error) {
	return "", &providers.RemoteError{Code: providers.CodeUnavailable}
}

func (offlineBridge) Unwatch(watchID string) {}

type stubPhotos struct {
	data []byte
	err  error
}

func (s *stubPhotos) EmergencyPhoto(ctx context.Context, sessionID, photoID string) ([]byte, error) {
	return s.data, s.err
}

type stubDisconnector struct {
	dropped []string
}

func (s *stubDisconnector) DisconnectSession(sessionID string) bool {
	s.dropped = append(s.dropped, sessionID)
	return true
}

type testEnv struct {
	router       *gin.Engine
	sessions     *services.SessionService
	session      *services.Session
	disconnector *stubDisconnector
}

func newTestEnv(t *testing.T, photos PhotoReader) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	sessions := services.NewSessionService(services.SessionConfig{
		ResetDelay: time.Minute,
		Provider:   providers.Options{ProbeTimeout: time.Second},
	}, services.SessionDeps{
		JWT:       utils.NewJWTService("test-secret", "safewalk-test", time.Hour),
		Validator: utils.NewValidationService(),
	})
	t.Cleanup(sessions.CloseAll)

	session, err := sessions.Open(context.Background(), offlineBridge{}, models.WSHello{Platform: "web"})
	if err != nil {
		t.Fatalf("open session: %v", err)
	}

	disconnector := &stubDisconnector{}
	controller := NewSafetyController(sessions, photos, disconnector)
	auth := middleware.NewAuthMiddleware(sessions)

	router := gin.New()
	router.Use(middleware.NewErrorHandler("test", logrus.StandardLogger()).Handle())
	router.GET("/sessions/count", controller.GetSessionCount)

	api := router.Group("/api/v1/session", auth.RequireSession())
	api.GET("/state", controller.GetState)
	api.DELETE("", controller.CloseSession)
	api.POST("/emergency/trigger", controller.TriggerEmergency)
	api.GET("/emergency/history", controller.GetEmergencyHistory)
	api.GET("/emergency/photos/:photoId", controller.GetEmergencyPhoto)
	api.POST("/contacts", controller.AddContact)
	api.DELETE("/contacts/:contactId", controller.RemoveContact)
	api.PUT("/settings/:key", controller.UpdateSetting)

	return &testEnv{
		router:       router,
		sessions:     sessions,
		session:      session,
		disconnector: disconnector,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.session.Token)

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

type snapshotResponse struct {
	Success bool                  `json:"success"`
	Data    models.SafetySnapshot `json:"data"`
}

func decodeSnapshot(t *testing.T, w *httptest.ResponseRecorder) models.SafetySnapshot {
	t.Helper()
	var resp snapshotResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (%s)", err, w.Body.String())
	}
	return resp.Data
}

func TestRequireSessionRejectsMissingToken(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/session/state", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/session/state", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a bad token, got %d", w.Code)
	}
}

func TestGetStateStartsSafe(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/api/v1/session/state", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	snapshot := decodeSnapshot(t, w)
	if snapshot.Status != models.StatusSafe {
		t.Errorf("expected safe, got %s", snapshot.Status)
	}
	if snapshot.SessionID != env.session.ID {
		t.Errorf("expected session %s, got %s", env.session.ID, snapshot.SessionID)
	}
	if snapshot.IsNative {
		t.Error("expected a web session")
	}
}

func TestUpdateSettingDerivesMonitoring(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPut, "/api/v1/session/settings/motionDetection", gin.H{"value": true})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if snapshot := decodeSnapshot(t, w); snapshot.Status != models.StatusMonitoring {
		t.Errorf("expected monitoring, got %s", snapshot.Status)
	}

	w = env.do(t, http.MethodPut, "/api/v1/session/settings/motionDetection", gin.H{"value": false})
	if snapshot := decodeSnapshot(t, w); snapshot.Status != models.StatusSafe {
		t.Errorf("expected safe after disabling, got %s", snapshot.Status)
	}
}

func TestUpdateSettingRejectsBadInput(t *testing.T) {
	env := newTestEnv(t, nil)

	if w := env.do(t, http.MethodPut, "/api/v1/session/settings/motionDetection", gin.H{}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without a value, got %d", w.Code)
	}
	if w := env.do(t, http.MethodPut, "/api/v1/session/settings/teleport", gin.H{"value": true}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for an unknown key, got %d", w.Code)
	}
}

func TestTriggerEmergencyOnce(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/api/v1/session/emergency/trigger", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	var first struct {
		Data struct {
			Started bool                  `json:"started"`
			State   models.SafetySnapshot `json:"state"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !first.Data.Started || first.Data.State.Status != models.StatusEmergency {
		t.Errorf("expected a started emergency, got %+v", first.Data)
	}

	// A second trigger inside the active window is ignored
	w = env.do(t, http.MethodPost, "/api/v1/session/emergency/trigger", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for a repeated trigger, got %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte(`"started":false`)) {
		t.Errorf("expected started=false, got %s", w.Body.String())
	}
}

func TestContactLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/api/v1/session/contacts", models.ContactInput{Name: "Mom", Phone: "+15551234567"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var created struct {
		Data models.Contact `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Data.ID == "" || created.Data.Name != "Mom" {
		t.Fatalf("unexpected contact %+v", created.Data)
	}

	if w := env.do(t, http.MethodPost, "/api/v1/session/contacts", models.ContactInput{Name: "Bad", Phone: "call me"}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad phone, got %d", w.Code)
	}

	if w := env.do(t, http.MethodDelete, "/api/v1/session/contacts/"+created.Data.ID, nil); w.Code != http.StatusOK {
		t.Errorf("expected 200 on remove, got %d", w.Code)
	}
	if w := env.do(t, http.MethodDelete, "/api/v1/session/contacts/"+created.Data.ID, nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 on second remove, got %d", w.Code)
	}
}

func TestContactLimit(t *testing.T) {
	env := newTestEnv(t, nil)

	for i := 0; i < services.DefaultMaxContacts; i++ {
		w := env.do(t, http.MethodPost, "/api/v1/session/contacts", models.ContactInput{Name: "Friend", Phone: "+1555000000" + string(rune('0'+i))})
		if w.Code != http.StatusCreated {
			t.Fatalf("contact %d: expected 201, got %d: %s", i, w.Code, w.Body.String())
		}
	}

	w := env.do(t, http.MethodPost, "/api/v1/session/contacts", models.ContactInput{Name: "One more", Phone: "+15559999999"})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 past the limit, got %d", w.Code)
	}
}

func TestEmergencyHistoryWithoutStorage(t *testing.T) {
	env := newTestEnv(t, nil)

	if w := env.do(t, http.MethodGet, "/api/v1/session/emergency/history?limit=0", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for limit=0, got %d", w.Code)
	}

	w := env.do(t, http.MethodGet, "/api/v1/session/emergency/history", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestEmergencyPhoto(t *testing.T) {
	env := newTestEnv(t, nil)
	if w := env.do(t, http.MethodGet, "/api/v1/session/emergency/photos/abc", nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without photo storage, got %d", w.Code)
	}

	env = newTestEnv(t, &stubPhotos{data: []byte{0xff, 0xd8, 0xff}})
	w := env.do(t, http.MethodGet, "/api/v1/session/emergency/photos/abc", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("expected image/jpeg, got %s", ct)
	}

	env = newTestEnv(t, &stubPhotos{err: services.ErrPhotoNotFound})
	if w := env.do(t, http.MethodGet, "/api/v1/session/emergency/photos/abc", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}

	env = newTestEnv(t, &stubPhotos{err: errors.New("boom")})
	if w := env.do(t, http.MethodGet, "/api/v1/session/emergency/photos/abc", nil); w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}

func TestCloseSession(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodDelete, "/api/v1/session", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(env.disconnector.dropped) != 1 || env.disconnector.dropped[0] != env.session.ID {
		t.Errorf("expected the device channel to be dropped, got %v", env.disconnector.dropped)
	}
	if env.sessions.Count() != 0 {
		t.Errorf("expected no open sessions, got %d", env.sessions.Count())
	}

	// The token no longer resolves to a session
	if w := env.do(t, http.MethodGet, "/api/v1/session/state", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 after close, got %d", w.Code)
	}
}

func TestGetSessionCount(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/sessions/count", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if !bytes.Contains(w.Body.Bytes(), []byte(`"count":1`)) {
		t.Errorf("expected one session, got %s", w.Body.String())
	}
}

func TestHandlerErrorsUseAPIEnvelope(t *testing.T) {
	env := newTestEnv(t, nil)

	decodeError := func(w *httptest.ResponseRecorder) models.APIResponse {
		t.Helper()
		var resp models.APIResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v (%s)", err, w.Body.String())
		}
		if resp.Success || resp.Error == nil {
			t.Fatalf("expected an error envelope, got %s", w.Body.String())
		}
		return resp
	}

	for i := 0; i < services.DefaultMaxContacts; i++ {
		env.do(t, http.MethodPost, "/api/v1/session/contacts", models.ContactInput{Name: "Friend", Phone: "+1555000000" + string(rune('0'+i))})
	}
	w := env.do(t, http.MethodPost, "/api/v1/session/contacts", models.ContactInput{Name: "One more", Phone: "+15559999999"})
	if resp := decodeError(w); w.Code != http.StatusConflict || resp.Error.Code != utils.ErrCodeContactLimit {
		t.Errorf("expected 409 %s, got %d %s", utils.ErrCodeContactLimit, w.Code, resp.Error.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/session/contacts", bytes.NewReader([]byte(`{"name":`)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+env.session.Token)
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if resp := decodeError(w); w.Code != http.StatusBadRequest || resp.Error.Code != utils.ErrCodeBadRequest {
		t.Errorf("expected 400 %s for a malformed body, got %d %s", utils.ErrCodeBadRequest, w.Code, resp.Error.Code)
	}

	w = env.do(t, http.MethodPut, "/api/v1/session/settings/motionDetection", gin.H{})
	if resp := decodeError(w); w.Code != http.StatusBadRequest || resp.Error.Code != utils.ErrCodeValidation {
		t.Errorf("expected 400 %s without a value, got %d %s", utils.ErrCodeValidation, w.Code, resp.Error.Code)
	}

	w = env.do(t, http.MethodPut, "/api/v1/session/settings/teleport", gin.H{"value": true})
	if resp := decodeError(w); resp.Error.Code != utils.ErrCodeUnknownSetting {
		t.Errorf("expected %s, got %s", utils.ErrCodeUnknownSetting, resp.Error.Code)
	}
}
