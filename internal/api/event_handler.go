package api

import (
	"encoding/json"
	"net/http"

	"go-chat-session/internal/protocol"
	"go-chat-session/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Announcer 由服务端主动向所有会话广播
type Announcer interface {
	Logout(username string) error
	Announce(env protocol.Envelope) error
}

type ClientCounter interface {
	ClientCount() int
}

type EventHandler struct {
	announcer Announcer
	clients   ClientCounter
}

func NewEventHandler(announcer Announcer, clients ClientCounter) *EventHandler {
	return &EventHandler{announcer: announcer, clients: clients}
}

type LogoutRequest struct {
	Username string `json:"username" binding:"required"`
}

type BroadcastRequest struct {
	Event string          `json:"event" binding:"required"`
	Data  json.RawMessage `json:"data"`
}

func (h *EventHandler) Logout(c *gin.Context) {
	var req LogoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.announcer.Logout(req.Username); err != nil {
		logger.L.Error("Failed to broadcast logout", zap.String("username", req.Username), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to broadcast logout"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"event": protocol.EventLogout, "username": req.Username})
}

func (h *EventHandler) Broadcast(c *gin.Context) {
	var req BroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	env := protocol.Envelope{Event: req.Event, Data: req.Data}
	if err := h.announcer.Announce(env); err != nil {
		logger.L.Error("Failed to broadcast event", zap.String("event", req.Event), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to broadcast event"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"event": req.Event})
}

func (h *EventHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "clients": h.clients.ClientCount()})
}
