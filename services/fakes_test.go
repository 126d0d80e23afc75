package services

import (
	"context"
	"fmt"
	"safewalk/models"
	"safewalk/providers"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	delay   time.Duration
	at      time.Time
	fn      func()
	fired   bool
	stopped bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (fc *fakeClock) Now() time.Time {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.now
}

func (fc *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	t := &fakeTimer{clock: fc, delay: d, at: fc.now.Add(d), fn: f}
	fc.timers = append(fc.timers, t)
	return t
}

// Advance moves the clock forward and runs every timer that came due
func (fc *fakeClock) Advance(d time.Duration) {
	fc.mu.Lock()
	fc.now = fc.now.Add(d)
	var due []*fakeTimer
	for _, t := range fc.timers {
		if !t.fired && !t.stopped && !t.at.After(fc.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	fc.mu.Unlock()

	for _, t := range due {
		t.fn()
	}
}

func (fc *fakeClock) pending() []*fakeTimer {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	var out []*fakeTimer
	for _, t := range fc.timers {
		if !t.fired && !t.stopped {
			out = append(out, t)
		}
	}
	return out
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	active := !t.fired && !t.stopped
	t.stopped = true
	return active
}

// fakeProvider records calls and returns canned results
type fakeProvider struct {
	native      bool
	location    *models.Location
	photo       *providers.Photo
	deviceInfo  *models.DeviceInfo
	permissions bool

	mu            sync.Mutex
	calls         map[string]int
	notifications []string
	watchers      []func(models.Location)
	cancelled     int
	// When set, cancelling a watch blocks until it is closed
	cancelGate chan struct{}
}

func newFakeProvider(native bool) *fakeProvider {
	return &fakeProvider{
		native: native,
		calls:  make(map[string]int),
	}
}

func (fp *fakeProvider) record(name string) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.calls[name]++
}

func (fp *fakeProvider) count(name string) int {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return fp.calls[name]
}

func (fp *fakeProvider) IsNativeRuntime() bool {
	return fp.native
}

func (fp *fakeProvider) GetCurrentLocation(ctx context.Context) *models.Location {
	fp.record("getCurrentLocation")
	return fp.location
}

func (fp *fakeProvider) WatchLocation(ctx context.Context, onUpdate func(models.Location)) *providers.Subscription {
	fp.record("watchLocation")

	fp.mu.Lock()
	fp.watchers = append(fp.watchers, onUpdate)
	id := fmt.Sprintf("watch-%d", len(fp.watchers))
	fp.mu.Unlock()

	return providers.NewSubscription(id, func() {
		if fp.cancelGate != nil {
			<-fp.cancelGate
		}
		fp.mu.Lock()
		defer fp.mu.Unlock()
		fp.cancelled++
	})
}

func (fp *fakeProvider) CaptureEmergencyPhoto(ctx context.Context) *providers.Photo {
	fp.record("captureEmergencyPhoto")
	return fp.photo
}

func (fp *fakeProvider) TriggerEmergencyHaptics(ctx context.Context) {
	fp.record("triggerEmergencyHaptics")
}

func (fp *fakeProvider) ScheduleNotification(ctx context.Context, title, body string) {
	fp.record("scheduleNotification")
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.notifications = append(fp.notifications, body)
}

func (fp *fakeProvider) GetDeviceInfo(ctx context.Context) *models.DeviceInfo {
	fp.record("getDeviceInfo")
	return fp.deviceInfo
}

func (fp *fakeProvider) RequestPermissions(ctx context.Context) bool {
	fp.record("requestPermissions")
	return fp.permissions
}

func (fp *fakeProvider) emit(loc models.Location) {
	fp.mu.Lock()
	watchers := append([]func(models.Location){}, fp.watchers...)
	fp.mu.Unlock()

	for _, fn := range watchers {
		fn(loc)
	}
}

func (fp *fakeProvider) cancelCount() int {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return fp.cancelled
}

type fakeNotifier struct {
	mu     sync.Mutex
	alerts []models.EmergencyAlert
}

func (fn *fakeNotifier) NotifyContacts(ctx context.Context, alert models.EmergencyAlert) {
	fn.mu.Lock()
	defer fn.mu.Unlock()
	fn.alerts = append(fn.alerts, alert)
}

func (fn *fakeNotifier) received() []models.EmergencyAlert {
	fn.mu.Lock()
	defer fn.mu.Unlock()
	return append([]models.EmergencyAlert{}, fn.alerts...)
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []*models.EmergencyRecord
	resets  map[primitive.ObjectID]time.Time
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{resets: make(map[primitive.ObjectID]time.Time)}
}

func (fr *fakeRecorder) Create(ctx context.Context, record *models.EmergencyRecord) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	record.ID = primitive.NewObjectID()
	fr.records = append(fr.records, record)
	return nil
}

func (fr *fakeRecorder) MarkReset(ctx context.Context, id primitive.ObjectID, resetAt time.Time) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	fr.resets[id] = resetAt
	return nil
}

func (fr *fakeRecorder) ListBySession(ctx context.Context, sessionID string, limit int64) ([]models.EmergencyRecord, error) {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	var out []models.EmergencyRecord
	for _, r := range fr.records {
		if r.SessionID == sessionID {
			out = append(out, *r)
		}
	}
	return out, nil
}

type fakeEvidence struct {
	mu     sync.Mutex
	photos []string
}

func (fe *fakeEvidence) StoreEmergencyPhoto(ctx context.Context, sessionID string, photoBase64 string) (primitive.ObjectID, error) {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	fe.photos = append(fe.photos, photoBase64)
	return primitive.NewObjectID(), nil
}
