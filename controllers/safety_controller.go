package controllers

import (
	"context"
	"net/http"
	"safewalk/middleware"
	"safewalk/models"
	"safewalk/services"
	"safewalk/utils"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const defaultHistoryLimit = 20

// PhotoReader loads stored emergency photos
type PhotoReader interface {
	EmergencyPhoto(ctx context.Context, sessionID, photoID string) ([]byte, error)
}

// SessionDisconnector drops the device channel of a session
type SessionDisconnector interface {
	DisconnectSession(sessionID string) bool
}

type SafetyController struct {
	sessions     *services.SessionService
	photos       PhotoReader
	disconnector SessionDisconnector
}

func NewSafetyController(sessions *services.SessionService, photos PhotoReader, disconnector SessionDisconnector) *SafetyController {
	return &SafetyController{
		sessions:     sessions,
		photos:       photos,
		disconnector: disconnector,
	}
}

func (sc *SafetyController) currentSession(c *gin.Context) (*services.Session, bool) {
	session, ok := middleware.GetCurrentSession(c)
	if !ok {
		utils.UnauthorizedResponse(c, "Session not authenticated")
		return nil, false
	}
	return session, true
}

// GetState returns the safety snapshot of the current session
func (sc *SafetyController) GetState(c *gin.Context) {
	session, ok := sc.currentSession(c)
	if !ok {
		return
	}

	utils.SuccessResponse(c, "Safety state retrieved successfully", session.Coordinator.Snapshot())
}

// TriggerEmergency raises an emergency. A trigger while one is active is
// ignored and reported with started=false.
func (sc *SafetyController) TriggerEmergency(c *gin.Context) {
	session, ok := sc.currentSession(c)
	if !ok {
		return
	}

	started := session.Coordinator.TriggerEmergency(c.Request.Context())
	data := gin.H{
		"started": started,
		"state":   session.Coordinator.Snapshot(),
	}

	if !started {
		utils.SuccessResponse(c, "Emergency already active", data)
		return
	}

	logrus.WithField("sessionId", session.ID).Warn("Emergency triggered over HTTP")
	utils.AcceptedResponse(c, "Emergency triggered", data)
}

// GetEmergencyHistory lists the recorded emergencies of the session
func (sc *SafetyController) GetEmergencyHistory(c *gin.Context) {
	session, ok := sc.currentSession(c)
	if !ok {
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			utils.BadRequestResponse(c, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	records, err := sc.sessions.History(c.Request.Context(), session.ID, int64(limit))
	if err != nil {
		_ = c.Error(err)
		return
	}

	utils.SuccessResponse(c, "Emergency history retrieved successfully", records)
}

// GetEmergencyPhoto streams a stored emergency photo of the session
func (sc *SafetyController) GetEmergencyPhoto(c *gin.Context) {
	session, ok := sc.currentSession(c)
	if !ok {
		return
	}

	if sc.photos == nil {
		utils.ServiceUnavailableResponse(c, "Photo storage")
		return
	}

	data, err := sc.photos.EmergencyPhoto(c.Request.Context(), session.ID, c.Param("photoId"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.Header("Cache-Control", "private, max-age=3600")
	c.Data(http.StatusOK, "image/jpeg", data)
}

// AddContact adds an emergency contact
func (sc *SafetyController) AddContact(c *gin.Context) {
	session, ok := sc.currentSession(c)
	if !ok {
		return
	}

	var req models.ContactInput
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err).SetType(gin.ErrorTypeBind)
		return
	}

	contact, err := session.Coordinator.AddContact(req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	utils.CreatedResponse(c, "Contact added successfully", contact)
}

// RemoveContact removes an emergency contact
func (sc *SafetyController) RemoveContact(c *gin.Context) {
	session, ok := sc.currentSession(c)
	if !ok {
		return
	}

	contactID := c.Param("contactId")
	if !session.Coordinator.RemoveContact(contactID) {
		utils.NotFoundResponse(c, "Contact")
		return
	}

	utils.SuccessResponse(c, "Contact removed successfully", nil)
}

// UpdateSetting sets one monitoring flag
func (sc *SafetyController) UpdateSetting(c *gin.Context) {
	session, ok := sc.currentSession(c)
	if !ok {
		return
	}

	var req models.UpdateSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err).SetType(gin.ErrorTypeBind)
		return
	}

	key := models.SettingKey(c.Param("key"))
	if err := session.Coordinator.UpdateSetting(c.Request.Context(), key, *req.Value); err != nil {
		_ = c.Error(err)
		return
	}

	utils.SuccessResponse(c, "Setting updated successfully", session.Coordinator.Snapshot())
}

// CloseSession ends the session and drops its device channel
func (sc *SafetyController) CloseSession(c *gin.Context) {
	session, ok := sc.currentSession(c)
	if !ok {
		return
	}

	if sc.disconnector != nil {
		sc.disconnector.DisconnectSession(session.ID)
	}
	sc.sessions.Close(session.ID)

	utils.SuccessResponse(c, "Session closed successfully", nil)
}

// GetSessionCount reports how many sessions are open
func (sc *SafetyController) GetSessionCount(c *gin.Context) {
	utils.SuccessResponse(c, "Session count retrieved successfully", gin.H{
		"count": sc.sessions.Count(),
	})
}

// GetSessionStats reports session counters
func (sc *SafetyController) GetSessionStats(c *gin.Context) {
	utils.SuccessResponse(c, "Session statistics retrieved successfully", sc.sessions.Stats())
}
