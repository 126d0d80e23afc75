package services

import (
	"context"
	"fmt"
	"net/http"
	"safewalk/interfaces"
	"safewalk/models"
	"safewalk/providers"
	"safewalk/utils"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	DefaultEmergencyResetDelay = 30 * time.Second
	DefaultMaxContacts         = 3
	DefaultSideEffectTimeout   = 2 * time.Minute

	recordTimeout = 10 * time.Second
)

var (
	ErrContactLimitReached = utils.NewConflictError(utils.ErrCodeContactLimit, "Maximum number of emergency contacts reached")
	ErrUnknownSetting      = utils.NewServiceErrorWithStatus(utils.ErrCodeUnknownSetting, "Unknown setting", http.StatusBadRequest)
	ErrSessionClosed       = utils.NewServiceErrorWithStatus(utils.ErrCodeSessionNotFound, "Session is closed", http.StatusGone)
)

type CoordinatorConfig struct {
	SessionID         string
	InitialSettings   models.SafetySettings
	ResetDelay        time.Duration
	MaxContacts       int
	SideEffectTimeout time.Duration
}

type CoordinatorDeps struct {
	Provider  providers.Provider
	Clock     Clock
	Notifier  interfaces.ContactNotifier
	Recorder  interfaces.EmergencyRecorder
	Evidence  interfaces.EvidenceStore
	Validator *utils.ValidationService
}

// Coordinator owns the safety state of one session: settings, contacts,
// last known location and the emergency lifecycle. All mutations are
// serialized by mu; device side effects run on background goroutines.
type Coordinator struct {
	cfg       CoordinatorConfig
	provider  providers.Provider
	clock     Clock
	notifier  interfaces.ContactNotifier
	recorder  interfaces.EmergencyRecorder
	evidence  interfaces.EvidenceStore
	validator *utils.ValidationService
	isNative  bool

	baseCtx  context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	initOnce sync.Once

	mu              sync.Mutex
	settings        models.SafetySettings
	contacts        []models.Contact
	location        *models.Location
	deviceInfo      *models.DeviceInfo
	emergencyActive bool
	emergencyGen    uint64
	triggeredAt     *time.Time
	resetsAt        *time.Time
	lastResetAt     time.Time
	resetTimer      Timer
	recordID        *primitive.ObjectID
	watch           *providers.Subscription
	trackingGen     uint64
	closed          bool

	pubMu       sync.Mutex
	subscribers map[int]func(models.SafetySnapshot)
	nextSubID   int
}

func NewCoordinator(cfg CoordinatorConfig, deps CoordinatorDeps) *Coordinator {
	if cfg.ResetDelay <= 0 {
		cfg.ResetDelay = DefaultEmergencyResetDelay
	}
	if cfg.MaxContacts <= 0 {
		cfg.MaxContacts = DefaultMaxContacts
	}
	if cfg.SideEffectTimeout <= 0 {
		cfg.SideEffectTimeout = DefaultSideEffectTimeout
	}
	if deps.Clock == nil {
		deps.Clock = RealClock()
	}
	if deps.Notifier == nil {
		deps.Notifier = NewLogContactNotifier()
	}
	if deps.Validator == nil {
		deps.Validator = utils.NewValidationService()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Coordinator{
		cfg:         cfg,
		provider:    deps.Provider,
		clock:       deps.Clock,
		notifier:    deps.Notifier,
		recorder:    deps.Recorder,
		evidence:    deps.Evidence,
		validator:   deps.Validator,
		isNative:    deps.Provider.IsNativeRuntime(),
		baseCtx:     ctx,
		cancel:      cancel,
		settings:    cfg.InitialSettings,
		contacts:    make([]models.Contact, 0, cfg.MaxContacts),
		subscribers: make(map[int]func(models.SafetySnapshot)),
	}
}

func (c *Coordinator) SessionID() string {
	return c.cfg.SessionID
}

// Initialize fetches device info, asks for permissions on native devices and
// starts location refresh when tracking is initially enabled. Only the first
// call has any effect.
func (c *Coordinator) Initialize(ctx context.Context) {
	c.initOnce.Do(func() {
		info := c.provider.GetDeviceInfo(ctx)

		if c.isNative && !c.provider.RequestPermissions(ctx) {
			logrus.WithField("sessionId", c.cfg.SessionID).Info("Device permissions not fully granted")
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.deviceInfo = info
		if c.settings.LocationTracking {
			c.trackingGen++
			c.startTrackingLocked(ctx, c.trackingGen)
		}
		c.mu.Unlock()

		c.publish()
	})
}

// TriggerEmergency activates the emergency state and starts the alert
// sequence. Status reads Emergency as soon as it returns. A trigger while an
// emergency is already active is ignored and reports false; the pending
// reset keeps its original deadline.
func (c *Coordinator) TriggerEmergency(ctx context.Context) bool {
	c.mu.Lock()
	if c.closed || c.emergencyActive {
		c.mu.Unlock()
		return false
	}

	now := c.clock.Now()
	resetsAt := now.Add(c.cfg.ResetDelay)

	c.emergencyActive = true
	c.emergencyGen++
	gen := c.emergencyGen
	c.triggeredAt = &now
	c.resetsAt = &resetsAt
	c.recordID = nil
	c.resetTimer = c.clock.AfterFunc(c.cfg.ResetDelay, func() {
		c.resetEmergency(gen)
	})

	alert := models.EmergencyAlert{
		SessionID:   c.cfg.SessionID,
		Title:       models.EmergencyNotificationTitle,
		Body:        emergencyNotificationBody(c.location),
		Location:    copyLocation(c.location),
		Contacts:    append([]models.Contact(nil), c.contacts...),
		Device:      copyDeviceInfo(c.deviceInfo),
		IsNative:    c.isNative,
		TriggeredAt: now,
	}

	c.goLocked(func() {
		effectCtx, cancel := c.effectContext(ctx)
		defer cancel()
		c.runEmergency(effectCtx, alert, gen)
	})
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"sessionId": c.cfg.SessionID,
		"resetsAt":  resetsAt,
		"contacts":  len(alert.Contacts),
	}).Warn("Emergency triggered")

	c.publish()
	return true
}

func (c *Coordinator) runEmergency(ctx context.Context, alert models.EmergencyAlert, gen uint64) {
	entry := logrus.WithField("sessionId", alert.SessionID)

	c.provider.TriggerEmergencyHaptics(ctx)
	photo := c.provider.CaptureEmergencyPhoto(ctx)
	c.provider.ScheduleNotification(ctx, alert.Title, alert.Body)
	c.notifier.NotifyContacts(ctx, alert)

	var photoID *primitive.ObjectID
	if photo != nil && c.evidence != nil {
		id, err := c.evidence.StoreEmergencyPhoto(ctx, alert.SessionID, photo.Base64)
		if err != nil {
			entry.WithError(err).Warn("Failed to store emergency photo")
		} else {
			photoID = &id
		}
	}

	c.recordEmergency(alert, photoID, gen)

	entry.WithField("photoCaptured", photo != nil).Info("Emergency sequence completed")
}

func (c *Coordinator) recordEmergency(alert models.EmergencyAlert, photoID *primitive.ObjectID, gen uint64) {
	if c.recorder == nil {
		return
	}

	names := make([]string, 0, len(alert.Contacts))
	for _, contact := range alert.Contacts {
		names = append(names, contact.Name)
	}

	record := &models.EmergencyRecord{
		SessionID:        alert.SessionID,
		Status:           models.EmergencyRecordActive,
		Device:           alert.Device,
		IsNative:         alert.IsNative,
		Location:         alert.Location,
		ContactNames:     names,
		PhotoFileID:      photoID,
		NotificationBody: alert.Body,
		TriggeredAt:      alert.TriggeredAt,
	}

	// Audit writes outlive session close
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if err := c.recorder.Create(ctx, record); err != nil {
		logrus.WithError(err).WithField("sessionId", alert.SessionID).Error("Failed to record emergency")
		return
	}

	c.mu.Lock()
	stillActive := c.emergencyActive && c.emergencyGen == gen
	if stillActive {
		id := record.ID
		c.recordID = &id
	}
	resetAt := c.lastResetAt
	c.mu.Unlock()

	if !stillActive && !resetAt.IsZero() {
		if err := c.recorder.MarkReset(ctx, record.ID, resetAt); err != nil {
			logrus.WithError(err).Warn("Failed to mark emergency record reset")
		}
	}
}

func (c *Coordinator) resetEmergency(gen uint64) {
	c.mu.Lock()
	if c.closed || !c.emergencyActive || c.emergencyGen != gen {
		c.mu.Unlock()
		return
	}

	now := c.clock.Now()
	c.emergencyActive = false
	c.triggeredAt = nil
	c.resetsAt = nil
	c.resetTimer = nil
	c.lastResetAt = now

	if c.recordID != nil && c.recorder != nil {
		id := *c.recordID
		c.goLocked(func() {
			ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
			defer cancel()
			if err := c.recorder.MarkReset(ctx, id, now); err != nil {
				logrus.WithError(err).Warn("Failed to mark emergency record reset")
			}
		})
	}
	c.recordID = nil
	status := models.DeriveStatus(c.settings, false)
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"sessionId": c.cfg.SessionID,
		"status":    status,
	}).Info("Emergency reset")

	c.publish()
}

// AddContact validates and appends a contact, assigning it a fresh id
func (c *Coordinator) AddContact(input models.ContactInput) (*models.Contact, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Phone = strings.TrimSpace(input.Phone)
	input.Relationship = strings.TrimSpace(input.Relationship)

	if err := c.validator.Validate(input); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if len(c.contacts) >= c.cfg.MaxContacts {
		c.mu.Unlock()
		return nil, ErrContactLimitReached
	}

	contact := models.Contact{
		ID:           utils.GenerateUUID(),
		Name:         input.Name,
		Phone:        input.Phone,
		Relationship: input.Relationship,
	}
	c.contacts = append(c.contacts, contact)
	c.mu.Unlock()

	c.publish()
	return &contact, nil
}

// RemoveContact deletes the contact with the given id and reports whether
// one was found
func (c *Coordinator) RemoveContact(id string) bool {
	c.mu.Lock()
	index := -1
	for i, contact := range c.contacts {
		if contact.ID == id {
			index = i
			break
		}
	}
	if index < 0 || c.closed {
		c.mu.Unlock()
		return false
	}
	c.contacts = append(c.contacts[:index], c.contacts[index+1:]...)
	c.mu.Unlock()

	c.publish()
	return true
}

// UpdateSetting flips one monitoring flag. Turning location tracking on
// fetches the current position once and, on native devices, starts a watch;
// turning it off cancels that watch.
func (c *Coordinator) UpdateSetting(ctx context.Context, key models.SettingKey, value bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrSessionClosed
	}

	next, ok := c.settings.With(key, value)
	if !ok {
		c.mu.Unlock()
		return ErrUnknownSetting
	}
	prev := c.settings
	c.settings = next

	switch {
	case !prev.LocationTracking && next.LocationTracking:
		c.trackingGen++
		c.startTrackingLocked(ctx, c.trackingGen)
	case prev.LocationTracking && !next.LocationTracking:
		c.trackingGen++
		c.cancelWatchLocked()
	}
	c.mu.Unlock()

	c.publish()
	return nil
}

// cancelWatchLocked clears the device-side watch on a tracked goroutine.
// The clear call is answered over the device channel, which may be the
// very goroutine that asked for the change.
func (c *Coordinator) cancelWatchLocked() {
	if c.watch == nil {
		return
	}
	stale := c.watch
	c.watch = nil
	c.goLocked(stale.Cancel)
}

func (c *Coordinator) startTrackingLocked(ctx context.Context, gen uint64) {
	c.goLocked(func() {
		effectCtx, cancel := c.effectContext(ctx)
		defer cancel()

		if loc := c.provider.GetCurrentLocation(effectCtx); loc != nil {
			c.updateLocation(*loc)
		}

		if !c.isNative {
			return
		}

		sub := c.provider.WatchLocation(effectCtx, c.updateLocation)
		if sub == nil {
			return
		}

		c.mu.Lock()
		if c.closed || c.trackingGen != gen || !c.settings.LocationTracking {
			c.mu.Unlock()
			sub.Cancel()
			return
		}
		c.watch = sub
		c.mu.Unlock()
	})
}

func (c *Coordinator) updateLocation(loc models.Location) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.location = &loc
	c.mu.Unlock()

	c.publish()
}

// Snapshot returns a copy of the current state
func (c *Coordinator) Snapshot() models.SafetySnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := models.SafetySnapshot{
		SessionID:       c.cfg.SessionID,
		Status:          models.DeriveStatus(c.settings, c.emergencyActive),
		EmergencyActive: c.emergencyActive,
		Settings:        c.settings,
		Contacts:        append([]models.Contact{}, c.contacts...),
		Location:        copyLocation(c.location),
		IsNative:        c.isNative,
		DeviceInfo:      copyDeviceInfo(c.deviceInfo),
	}
	if c.triggeredAt != nil {
		snap.TriggeredAt = utils.TimePtr(*c.triggeredAt)
	}
	if c.resetsAt != nil {
		snap.ResetsAt = utils.TimePtr(*c.resetsAt)
	}

	return snap
}

func (c *Coordinator) Status() models.Status {
	return c.Snapshot().Status
}

// Subscribe registers fn to receive a snapshot after every state change.
// fn must not call back into Subscribe. The returned func unregisters it.
func (c *Coordinator) Subscribe(fn func(models.SafetySnapshot)) func() {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = fn

	return func() {
		c.pubMu.Lock()
		defer c.pubMu.Unlock()
		delete(c.subscribers, id)
	}
}

func (c *Coordinator) publish() {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	if len(c.subscribers) == 0 {
		return
	}

	snap := c.Snapshot()
	for _, fn := range c.subscribers {
		fn(snap)
	}
}

// Wait blocks until all in-flight side effects have finished
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Close stops the reset timer, cancels the location watch and waits for
// running side effects. A closed coordinator rejects further mutations.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.cancelWatchLocked()
	c.closed = true
	if c.resetTimer != nil {
		c.resetTimer.Stop()
		c.resetTimer = nil
	}
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

// goLocked runs fn on a tracked goroutine. Callers hold mu and have checked
// that the coordinator is still open.
func (c *Coordinator) goLocked(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

// effectContext detaches side effects from the caller's cancellation, bounds
// them by the side effect timeout and stops them when the session closes.
func (c *Coordinator) effectContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), c.cfg.SideEffectTimeout)
	stop := context.AfterFunc(c.baseCtx, cancel)

	return ctx, func() {
		stop()
		cancel()
	}
}

func emergencyNotificationBody(loc *models.Location) string {
	if loc == nil {
		return "Emergency triggered at " + models.UnknownLocationText
	}
	return fmt.Sprintf("Emergency triggered at %s, %s",
		utils.FormatCoordinate(loc.Latitude),
		utils.FormatCoordinate(loc.Longitude))
}

func copyLocation(loc *models.Location) *models.Location {
	if loc == nil {
		return nil
	}
	cp := *loc
	return &cp
}

func copyDeviceInfo(info *models.DeviceInfo) *models.DeviceInfo {
	if info == nil {
		return nil
	}
	cp := *info
	return &cp
}
