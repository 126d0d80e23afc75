package websocket

import (
	"encoding/json"
	"safewalk/models"
	"time"
)

func (c *Client) handleMessage(messageData []byte) {
	var request models.WSRequest
	if err := json.Unmarshal(messageData, &request); err != nil {
		c.sendError(models.WSErrorInvalidMessage, "Invalid message format", "")
		return
	}
	if err := validateWebSocketMessage(request); err != nil {
		c.sendError(models.WSErrorInvalidMessage, err.Error(), request.RequestID)
		return
	}

	// Bridge traffic is never rate limited
	switch request.Type {
	case models.WSTypeCapabilityResponse:
		c.handleCapabilityResponse(request)
		return
	case models.WSTypeCapabilityEvent:
		c.handleCapabilityEvent(request)
		return
	case models.WSTypePing:
		c.handlePing(request)
		return
	}

	if !c.rateLimiter.Allow() {
		c.sendError(models.WSErrorRateLimit, "Rate limit exceeded", request.RequestID)
		return
	}

	if request.Type == models.WSTypeHello {
		c.handleHello(request)
		return
	}

	session := c.currentSession()
	if session == nil {
		c.sendError(models.WSErrorUnauthorized, "Send hello before commands", request.RequestID)
		return
	}

	switch request.Type {
	case models.WSTypeTriggerEmergency:
		c.handleTriggerEmergency(request)
	case models.WSTypeAddContact:
		c.handleAddContact(request)
	case models.WSTypeRemoveContact:
		c.handleRemoveContact(request)
	case models.WSTypeUpdateSetting:
		c.handleUpdateSetting(request)
	case models.WSTypeGetState:
		c.handleGetState(request)
	default:
		c.sendError(models.WSErrorUnknownType, "Unknown message type", request.RequestID)
	}
}

func (c *Client) handleTriggerEmergency(request models.WSRequest) {
	coordinator := c.currentSession().Coordinator
	started := coordinator.TriggerEmergency(c.ctx)

	logWebSocketEvent(c, request.Type, map[string]interface{}{"started": started})

	c.sendCommandResult(request, map[string]interface{}{
		"started": started,
		"state":   coordinator.Snapshot(),
	})
}

func (c *Client) handleAddContact(request models.WSRequest) {
	var input models.ContactInput
	if err := json.Unmarshal(request.Data, &input); err != nil {
		c.sendError(models.WSErrorInvalidMessage, "Invalid contact data", request.RequestID)
		return
	}

	contact, err := c.currentSession().Coordinator.AddContact(input)
	if err != nil {
		c.sendServiceError(err, request.RequestID)
		return
	}

	c.sendCommandResult(request, contact)
}

func (c *Client) handleRemoveContact(request models.WSRequest) {
	var payload models.WSRemoveContact
	if err := json.Unmarshal(request.Data, &payload); err != nil || payload.ID == "" {
		c.sendError(models.WSErrorInvalidMessage, "Contact id required", request.RequestID)
		return
	}

	removed := c.currentSession().Coordinator.RemoveContact(payload.ID)
	c.sendCommandResult(request, map[string]interface{}{
		"id":      payload.ID,
		"removed": removed,
	})
}

func (c *Client) handleUpdateSetting(request models.WSRequest) {
	var payload models.WSUpdateSetting
	if err := json.Unmarshal(request.Data, &payload); err != nil {
		c.sendError(models.WSErrorInvalidMessage, "Invalid setting update", request.RequestID)
		return
	}

	coordinator := c.currentSession().Coordinator
	if err := coordinator.UpdateSetting(c.ctx, payload.Key, payload.Value); err != nil {
		c.sendServiceError(err, request.RequestID)
		return
	}

	c.sendCommandResult(request, coordinator.Snapshot().Settings)
}

func (c *Client) handleGetState(request models.WSRequest) {
	c.SendMessage(models.WSMessage{
		Type:      models.WSTypeState,
		RequestID: request.RequestID,
		Data:      c.currentSession().Coordinator.Snapshot(),
		Timestamp: time.Now(),
	})
}

func (c *Client) handlePing(request models.WSRequest) {
	c.SendMessage(models.WSMessage{
		Type:      models.WSTypePong,
		RequestID: request.RequestID,
		Timestamp: time.Now(),
	})
}

func (c *Client) sendCommandResult(request models.WSRequest, result interface{}) {
	c.SendMessage(createCommandResult(request.Type, result, request.RequestID))
}

func (c *Client) sendError(code, message, requestID string) {
	c.SendMessage(createErrorResponse(code, message, requestID))
}

func (c *Client) sendServiceError(err error, requestID string) {
	code, message := wsErrorFromService(err)
	c.sendError(code, message, requestID)
}
