package services

import (
	"context"
	"net/http"
	"safewalk/interfaces"
	"safewalk/models"
	"safewalk/providers"
	"safewalk/utils"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var ErrSessionNotFound = utils.NewServiceErrorWithStatus(utils.ErrCodeSessionNotFound, "Session not found", http.StatusNotFound)

type SessionConfig struct {
	InitialSettings   models.SafetySettings
	ResetDelay        time.Duration
	MaxContacts       int
	SideEffectTimeout time.Duration
	Provider          providers.Options
}

type SessionDeps struct {
	JWT       *utils.JWTService
	Clock     Clock
	Notifier  interfaces.ContactNotifier
	Recorder  interfaces.EmergencyRecorder
	Evidence  interfaces.EvidenceStore
	Pusher    providers.Pusher
	Validator *utils.ValidationService
}

// Session is one connected device and its coordinator
type Session struct {
	ID          string
	Platform    string
	AppVersion  string
	Token       string
	ExpiresAt   time.Time
	CreatedAt   time.Time
	Coordinator *Coordinator

	mu             sync.Mutex
	connected      bool
	disconnectedAt time.Time
}

func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// MarkDisconnected records that the device channel went away
func (s *Session) MarkDisconnected(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		s.connected = false
		s.disconnectedAt = at
	}
}

func (s *Session) disconnectedSince() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnectedAt, !s.connected
}

type SessionService struct {
	cfg  SessionConfig
	deps SessionDeps

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewSessionService(cfg SessionConfig, deps SessionDeps) *SessionService {
	if deps.Clock == nil {
		deps.Clock = RealClock()
	}
	if deps.Validator == nil {
		deps.Validator = utils.NewValidationService()
	}

	return &SessionService{
		cfg:      cfg,
		deps:     deps,
		sessions: make(map[string]*Session),
	}
}

// Open selects the capability provider for the device behind bridge, builds
// and initializes its coordinator and registers the session
func (ss *SessionService) Open(ctx context.Context, bridge providers.Bridge, hello models.WSHello) (*Session, error) {
	sessionID := utils.GenerateUUID()

	opts := ss.cfg.Provider
	opts.PushToken = hello.PushToken
	opts.UserAgent = hello.UserAgent
	if ss.deps.Pusher != nil {
		opts.Pusher = ss.deps.Pusher
	}

	provider := providers.Select(ctx, bridge, opts)

	platform := hello.Platform
	if platform == "" {
		platform = "web"
		if provider.IsNativeRuntime() {
			platform = "native"
		}
	}

	token, expiresAt, err := ss.deps.JWT.GenerateSessionToken(sessionID, platform)
	if err != nil {
		return nil, utils.NewServiceErrorWithCause(utils.ErrCodeInternal, "Failed to issue session token", err)
	}

	coordinator := NewCoordinator(CoordinatorConfig{
		SessionID:         sessionID,
		InitialSettings:   ss.cfg.InitialSettings,
		ResetDelay:        ss.cfg.ResetDelay,
		MaxContacts:       ss.cfg.MaxContacts,
		SideEffectTimeout: ss.cfg.SideEffectTimeout,
	}, CoordinatorDeps{
		Provider:  provider,
		Clock:     ss.deps.Clock,
		Notifier:  ss.deps.Notifier,
		Recorder:  ss.deps.Recorder,
		Evidence:  ss.deps.Evidence,
		Validator: ss.deps.Validator,
	})

	session := &Session{
		ID:          sessionID,
		Platform:    platform,
		AppVersion:  hello.AppVersion,
		Token:       token,
		ExpiresAt:   expiresAt,
		CreatedAt:   ss.deps.Clock.Now(),
		Coordinator: coordinator,
		connected:   true,
	}

	ss.mu.Lock()
	ss.sessions[sessionID] = session
	ss.mu.Unlock()

	coordinator.Initialize(ctx)

	logrus.WithFields(logrus.Fields{
		"sessionId": sessionID,
		"platform":  platform,
		"native":    provider.IsNativeRuntime(),
	}).Info("Session opened")

	return session, nil
}

func (ss *SessionService) Get(sessionID string) (*Session, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	session, ok := ss.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// Authenticate resolves a session token to its live session
func (ss *SessionService) Authenticate(token string) (*Session, error) {
	claims, err := ss.deps.JWT.ValidateToken(token)
	if err != nil {
		return nil, utils.NewUnauthorizedError("Invalid or expired session token")
	}
	return ss.Get(claims.SessionID)
}

// Close unregisters the session and shuts its coordinator down
func (ss *SessionService) Close(sessionID string) bool {
	ss.mu.Lock()
	session, ok := ss.sessions[sessionID]
	delete(ss.sessions, sessionID)
	ss.mu.Unlock()

	if !ok {
		return false
	}

	session.Coordinator.Close()
	logrus.WithField("sessionId", sessionID).Info("Session closed")
	return true
}

func (ss *SessionService) CloseAll() {
	for _, session := range ss.List() {
		ss.Close(session.ID)
	}
}

// List returns the open sessions, oldest first
func (ss *SessionService) List() []*Session {
	ss.mu.RLock()
	sessions := make([]*Session, 0, len(ss.sessions))
	for _, session := range ss.sessions {
		sessions = append(sessions, session)
	}
	ss.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions
}

func (ss *SessionService) Count() int {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return len(ss.sessions)
}

func (ss *SessionService) Stats() models.SessionStats {
	stats := models.SessionStats{}
	for _, session := range ss.List() {
		stats.Active++
		if session.IsConnected() {
			stats.Connected++
		}
		if session.Coordinator.Snapshot().EmergencyActive {
			stats.Emergency++
		}
	}
	return stats
}

// ReapDisconnected closes sessions whose device has been gone longer than
// grace. Sessions in an active emergency are kept until the reset.
func (ss *SessionService) ReapDisconnected(grace time.Duration) int {
	now := ss.deps.Clock.Now()
	reaped := 0

	for _, session := range ss.List() {
		since, disconnected := session.disconnectedSince()
		if !disconnected || now.Sub(since) < grace {
			continue
		}
		if session.Coordinator.Snapshot().EmergencyActive {
			continue
		}
		if ss.Close(session.ID) {
			reaped++
		}
	}

	return reaped
}

// History returns the recorded emergencies of a session, newest first
func (ss *SessionService) History(ctx context.Context, sessionID string, limit int64) ([]models.EmergencyRecord, error) {
	if ss.deps.Recorder == nil {
		return []models.EmergencyRecord{}, nil
	}

	records, err := ss.deps.Recorder.ListBySession(ctx, sessionID, limit)
	if err != nil {
		return nil, utils.NewDatabaseError("list emergencies", err)
	}
	return records, nil
}
