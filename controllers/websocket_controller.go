package controllers

import (
	"safewalk/utils"
	"safewalk/websocket"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type WebSocketController struct {
	hub *websocket.Hub
}

func NewWebSocketController(hub *websocket.Hub) *WebSocketController {
	return &WebSocketController{
		hub: hub,
	}
}

// HandleWebSocket handles WebSocket connections
// @Summary Device channel
// @Description Establish the device WebSocket. The first message must be a hello; the server answers with the session and its token.
// @Tags WebSocket
// @Success 101 "Switching Protocols"
// @Failure 400 {object} models.APIResponse
// @Router /ws [get]
func (wsc *WebSocketController) HandleWebSocket(c *gin.Context) {
	if err := wsc.hub.ServeWS(c.Writer, c.Request); err != nil {
		// The upgrader has already written the HTTP error
		logrus.Errorf("Failed to upgrade WebSocket connection: %v", err)
		return
	}
}

// GetConnectionStats gets WebSocket connection statistics
// @Summary Get connection statistics
// @Tags WebSocket
// @Produce json
// @Success 200 {object} models.APIResponse{data=websocket.HubStats}
// @Router /ws/stats [get]
func (wsc *WebSocketController) GetConnectionStats(c *gin.Context) {
	utils.SuccessResponse(c, "Connection statistics retrieved successfully", wsc.hub.GetStats())
}
