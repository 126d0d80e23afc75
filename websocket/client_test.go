package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"safewalk/models"
	"safewalk/providers"
	"safewalk/services"
	"safewalk/utils"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type inbound struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId"`
	Data      json.RawMessage `json:"data"`
}

// testDevice plays the device side of the connection. It answers capability
// requests itself and forwards everything else to messages.
type testDevice struct {
	t        *testing.T
	conn     *websocket.Conn
	native   bool
	writeMu  sync.Mutex
	messages chan inbound

	mu       sync.Mutex
	methods  []string
	watchID  string
	clearIDs []string
}

func dialDevice(t *testing.T, serverURL string) *testDevice {
	t.Helper()
	return dial(t, serverURL, false)
}

// dialNativeDevice connects a device that reports the native shell runtime
func dialNativeDevice(t *testing.T, serverURL string) *testDevice {
	t.Helper()
	return dial(t, serverURL, true)
}

func dial(t *testing.T, serverURL string, native bool) *testDevice {
	t.Helper()

	url := "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	d := &testDevice{t: t, conn: conn, native: native, messages: make(chan inbound, 64)}
	go d.readLoop()
	t.Cleanup(func() { conn.Close() })
	return d
}

func (d *testDevice) readLoop() {
	defer close(d.messages)
	for {
		var msg inbound
		if err := d.conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Type == models.WSTypeCapabilityRequest {
			d.answer(msg)
			continue
		}
		d.messages <- msg
	}
}

func (d *testDevice) answer(msg inbound) {
	var req struct {
		Method string `json:"method"`
		Params struct {
			WatchID string `json:"watchId"`
			ID      string `json:"id"`
		} `json:"params"`
	}
	json.Unmarshal(msg.Data, &req)

	d.mu.Lock()
	d.methods = append(d.methods, req.Method)
	switch req.Method {
	case providers.MethodWatchPosition:
		d.watchID = req.Params.WatchID
	case providers.MethodClearWatch:
		d.clearIDs = append(d.clearIDs, req.Params.ID)
	}
	d.mu.Unlock()

	resp := models.WSCapabilityResponse{OK: true}
	switch req.Method {
	case providers.MethodIsNativePlatform:
		if d.native {
			resp.Result = json.RawMessage(`{"isNative":true}`)
		} else {
			resp.Result = json.RawMessage(`{"isNative":false}`)
		}
	case providers.MethodDeviceInfo:
		resp.Result = json.RawMessage(`{"model":"Pixel 8","platform":"android","osVersion":"14","manufacturer":"Google"}`)
	case providers.MethodGeolocationPermissions:
		resp.Result = json.RawMessage(`{"location":"granted"}`)
	case providers.MethodLocalNotificationPerms:
		resp.Result = json.RawMessage(`{"display":"granted"}`)
	case providers.MethodGetCurrentPosition:
		resp.Result = json.RawMessage(`{"coords":{"latitude":10.5,"longitude":20.25}}`)
	case providers.MethodNotificationPermission:
		resp.Result = json.RawMessage(`{"permission":"denied"}`)
	case providers.MethodGetPhoto:
		resp = models.WSCapabilityResponse{Error: &models.WSCapabilityError{Code: providers.CodeUnavailable}}
	}

	d.write(models.WSTypeCapabilityResponse, msg.RequestID, resp)
}

func (d *testDevice) write(msgType, requestID string, data interface{}) {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	if err := d.conn.WriteJSON(map[string]interface{}{
		"type":      msgType,
		"requestId": requestID,
		"data":      data,
	}); err != nil {
		d.t.Fatalf("write %s: %v", msgType, err)
	}
}

// expect skips messages until one of msgType arrives
func (d *testDevice) expect(msgType string) inbound {
	d.t.Helper()

	timeout := time.After(5 * time.Second)
	for {
		select {
		case msg, ok := <-d.messages:
			if !ok {
				d.t.Fatalf("connection closed while waiting for %s", msgType)
			}
			if msg.Type == msgType {
				return msg
			}
		case <-timeout:
			d.t.Fatalf("timed out waiting for %s", msgType)
		}
	}
}

// emitPosition pushes one tick of the active location watch
func (d *testDevice) emitPosition(lat, lng float64) {
	d.mu.Lock()
	watchID := d.watchID
	d.mu.Unlock()

	payload, _ := json.Marshal(map[string]interface{}{
		"coords": map[string]float64{"latitude": lat, "longitude": lng},
	})
	d.write(models.WSTypeCapabilityEvent, "", models.WSCapabilityEvent{
		WatchID: watchID,
		Payload: payload,
	})
}

// expectState skips messages until a state snapshot satisfying match arrives
func (d *testDevice) expectState(match func(models.SafetySnapshot) bool) models.SafetySnapshot {
	d.t.Helper()

	timeout := time.After(5 * time.Second)
	for {
		select {
		case msg, ok := <-d.messages:
			if !ok {
				d.t.Fatal("connection closed while waiting for state")
			}
			if msg.Type != models.WSTypeState {
				continue
			}
			var snap models.SafetySnapshot
			if err := json.Unmarshal(msg.Data, &snap); err != nil {
				d.t.Fatalf("decode state: %v", err)
			}
			if match(snap) {
				return snap
			}
		case <-timeout:
			d.t.Fatal("timed out waiting for state")
		}
	}
}

func (d *testDevice) called(method string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, m := range d.methods {
		if m == method {
			return true
		}
	}
	return false
}

func newTestServer(t *testing.T) (*httptest.Server, *Hub, *services.SessionService) {
	t.Helper()

	sessions := services.NewSessionService(services.SessionConfig{}, services.SessionDeps{
		JWT: utils.NewJWTService("test-secret", "safewalk-test", time.Hour),
	})
	hub := NewHub(sessions, HubOptions{})
	go hub.Run()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if err := hub.ServeWS(w, r); err != nil {
			t.Logf("upgrade failed: %v", err)
		}
	})
	server := httptest.NewServer(mux)

	t.Cleanup(func() {
		hub.Shutdown()
		server.Close()
		sessions.CloseAll()
	})
	return server, hub, sessions
}

func openSession(t *testing.T, d *testDevice) models.WSSession {
	t.Helper()

	platform := "web"
	if d.native {
		platform = "android"
	}
	d.write(models.WSTypeHello, "hello-1", models.WSHello{Platform: platform, AppVersion: "1.0.0"})
	msg := d.expect(models.WSTypeSession)

	var session models.WSSession
	if err := json.Unmarshal(msg.Data, &session); err != nil {
		t.Fatal(err)
	}
	if session.SessionID == "" || session.Token == "" {
		t.Fatalf("incomplete session %+v", session)
	}
	return session
}

func TestCommandsRequireHello(t *testing.T) {
	server, _, _ := newTestServer(t)
	d := dialDevice(t, server.URL)

	d.write(models.WSTypeGetState, "r1", nil)

	msg := d.expect(models.WSTypeError)
	var wsErr models.WSError
	json.Unmarshal(msg.Data, &wsErr)
	if wsErr.Code != models.WSErrorUnauthorized || msg.RequestID != "r1" {
		t.Fatalf("unexpected error %+v (request %s)", wsErr, msg.RequestID)
	}
}

func TestHelloOpensWebSession(t *testing.T) {
	server, hub, sessions := newTestServer(t)
	d := dialDevice(t, server.URL)

	session := openSession(t, d)

	state := d.expect(models.WSTypeState)
	var snap models.SafetySnapshot
	json.Unmarshal(state.Data, &snap)
	if snap.Status != models.StatusSafe || snap.IsNative {
		t.Fatalf("unexpected initial state %+v", snap)
	}
	if snap.DeviceInfo == nil || snap.DeviceInfo.Platform != "web" {
		t.Fatalf("expected synthetic web device info, got %+v", snap.DeviceInfo)
	}

	if !d.called(providers.MethodIsNativePlatform) {
		t.Fatal("expected the runtime probe")
	}
	if sessions.Count() != 1 {
		t.Fatalf("session count %d, want 1", sessions.Count())
	}

	deadline := time.Now().Add(2 * time.Second)
	for !hub.IsSessionConnected(session.SessionID) {
		if time.Now().After(deadline) {
			t.Fatal("hub never registered the session")
		}
		time.Sleep(10 * time.Millisecond)
	}

	d.write(models.WSTypeHello, "hello-2", models.WSHello{})
	msg := d.expect(models.WSTypeError)
	var wsErr models.WSError
	json.Unmarshal(msg.Data, &wsErr)
	if wsErr.Code != models.WSErrorConflict {
		t.Fatalf("expected conflict on second hello, got %+v", wsErr)
	}
}

func TestTriggerEmergencyOverWebSocket(t *testing.T) {
	server, _, _ := newTestServer(t)
	d := dialDevice(t, server.URL)
	openSession(t, d)

	d.write(models.WSTypeTriggerEmergency, "t1", nil)

	msg := d.expect(models.WSTypeCommandResult)
	var result struct {
		Command string `json:"command"`
		Success bool   `json:"success"`
		Result  struct {
			Started bool                  `json:"started"`
			State   models.SafetySnapshot `json:"state"`
		} `json:"result"`
	}
	json.Unmarshal(msg.Data, &result)

	if result.Command != models.WSTypeTriggerEmergency || !result.Result.Started {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Result.State.Status != models.StatusEmergency {
		t.Fatalf("status %s, want emergency", result.Result.State.Status)
	}

	d.write(models.WSTypeTriggerEmergency, "t2", nil)
	msg = d.expect(models.WSTypeCommandResult)
	json.Unmarshal(msg.Data, &result)
	if result.Result.Started {
		t.Fatal("second trigger must be ignored")
	}

	deadline := time.Now().Add(2 * time.Second)
	for !d.called(providers.MethodVibrate) {
		if time.Now().After(deadline) {
			t.Fatal("device never asked to vibrate")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestContactCommands(t *testing.T) {
	server, _, _ := newTestServer(t)
	d := dialDevice(t, server.URL)
	openSession(t, d)

	d.write(models.WSTypeAddContact, "c1", models.ContactInput{Name: "Alice", Phone: "+15550100"})
	msg := d.expect(models.WSTypeCommandResult)

	var added struct {
		Result models.Contact `json:"result"`
	}
	json.Unmarshal(msg.Data, &added)
	if added.Result.ID == "" || added.Result.Name != "Alice" {
		t.Fatalf("unexpected contact %+v", added.Result)
	}

	d.write(models.WSTypeAddContact, "c2", models.ContactInput{Name: "", Phone: "+15550100"})
	errMsg := d.expect(models.WSTypeError)
	var wsErr models.WSError
	json.Unmarshal(errMsg.Data, &wsErr)
	if wsErr.Code != models.WSErrorValidation || errMsg.RequestID != "c2" {
		t.Fatalf("expected validation error, got %+v", wsErr)
	}

	d.write(models.WSTypeRemoveContact, "c3", models.WSRemoveContact{ID: added.Result.ID})
	msg = d.expect(models.WSTypeCommandResult)
	var removed struct {
		Result struct {
			Removed bool `json:"removed"`
		} `json:"result"`
	}
	json.Unmarshal(msg.Data, &removed)
	if !removed.Result.Removed {
		t.Fatal("expected contact removal")
	}
}

func TestLocationTrackingOverWebSocket(t *testing.T) {
	server, _, sessions := newTestServer(t)
	d := dialDevice(t, server.URL)
	ws := openSession(t, d)

	d.write(models.WSTypeUpdateSetting, "s1", models.WSUpdateSetting{Key: models.SettingLocationTracking, Value: true})
	d.expect(models.WSTypeCommandResult)

	session, err := sessions.Get(ws.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	session.Coordinator.Wait()

	loc := session.Coordinator.Snapshot().Location
	if loc == nil || loc.Latitude != 10.5 || loc.Longitude != 20.25 {
		t.Fatalf("unexpected location %+v", loc)
	}
	if d.called(providers.MethodWatchPosition) {
		t.Fatal("web sessions must not start a location watch")
	}

	d.write(models.WSTypeUpdateSetting, "s2", models.WSUpdateSetting{Key: "nightMode", Value: true})
	msg := d.expect(models.WSTypeError)
	var wsErr models.WSError
	json.Unmarshal(msg.Data, &wsErr)
	if wsErr.Code != models.WSErrorValidation {
		t.Fatalf("expected validation error for unknown key, got %+v", wsErr)
	}
}

func TestNativeLocationWatchOverWebSocket(t *testing.T) {
	server, _, sessions := newTestServer(t)
	d := dialNativeDevice(t, server.URL)
	ws := openSession(t, d)

	if !ws.IsNative {
		t.Fatal("expected a native session")
	}
	session, err := sessions.Get(ws.SessionID)
	if err != nil {
		t.Fatal(err)
	}

	d.write(models.WSTypeUpdateSetting, "s1", models.WSUpdateSetting{Key: models.SettingLocationTracking, Value: true})
	d.expect(models.WSTypeCommandResult)
	session.Coordinator.Wait()

	d.mu.Lock()
	watchID := d.watchID
	d.mu.Unlock()
	if watchID == "" {
		t.Fatal("native sessions must start a location watch")
	}

	d.emitPosition(1.5, 2.5)
	d.expectState(func(snap models.SafetySnapshot) bool {
		return snap.Location != nil && snap.Location.Longitude == 2.5
	})

	start := time.Now()
	d.write(models.WSTypeUpdateSetting, "s2", models.WSUpdateSetting{Key: models.SettingLocationTracking, Value: false})
	msg := d.expect(models.WSTypeCommandResult)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("disabling tracking took %s", elapsed)
	}
	if msg.RequestID != "s2" {
		t.Fatalf("unexpected result for %s", msg.RequestID)
	}

	session.Coordinator.Wait()
	d.mu.Lock()
	clearIDs := append([]string{}, d.clearIDs...)
	d.mu.Unlock()
	if len(clearIDs) != 1 || clearIDs[0] != watchID {
		t.Fatalf("expected one clearWatch for %s, got %v", watchID, clearIDs)
	}

	// Ticks after the watch is cleared are dropped
	d.emitPosition(9, 9)
	d.write(models.WSTypeGetState, "g1", nil)
	state := d.expect(models.WSTypeState)
	for state.RequestID != "g1" {
		state = d.expect(models.WSTypeState)
	}
	var snap models.SafetySnapshot
	json.Unmarshal(state.Data, &snap)
	if snap.Location == nil || snap.Location.Longitude != 2.5 {
		t.Fatalf("stale watch tick applied: %+v", snap.Location)
	}
	if snap.Settings.LocationTracking {
		t.Fatal("expected tracking off")
	}
}

func TestDisconnectMarksSession(t *testing.T) {
	server, _, sessions := newTestServer(t)
	d := dialDevice(t, server.URL)
	ws := openSession(t, d)

	session, err := sessions.Get(ws.SessionID)
	if err != nil {
		t.Fatal(err)
	}

	d.conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for session.IsConnected() {
		if time.Now().After(deadline) {
			t.Fatal("session still connected after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRegisterAfterDisconnectLeavesHubClean(t *testing.T) {
	_, hub, _ := newTestServer(t)

	// The device went away while its session was still being attached
	client := &Client{
		hub:     hub,
		session: &services.Session{ID: "late-session"},
		closed:  true,
		cancel:  func() {},
	}
	client.register()

	deadline := time.Now().Add(2 * time.Second)
	for hub.IsSessionConnected("late-session") || hub.GetStats().ActiveConnections != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("hub kept a closed client: %+v", hub.GetStats())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if total := hub.GetStats().TotalConnections; total != 1 {
		t.Fatalf("total connections %d, want 1", total)
	}
}
