package api

import (
	"net/http"

	"go-chat-session/internal/interfaces"
	"go-chat-session/internal/protocol"
	"go-chat-session/internal/relay"
	"go-chat-session/pkg/config"
	"go-chat-session/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// RelayHandler 同时处理上行事件和连接事件
type RelayHandler interface {
	interfaces.EventHandler
	interfaces.ConnectionEventHandler
}

type WSHandler struct {
	hub      relay.ConnectionManager
	codec    protocol.Codec
	handler  RelayHandler
	wsConfig config.WebSocketConfig
}

func NewWSHandler(hub relay.ConnectionManager, codec protocol.Codec, handler RelayHandler, wsConfig config.WebSocketConfig) *WSHandler {
	return &WSHandler{
		hub:      hub,
		codec:    codec,
		handler:  handler,
		wsConfig: wsConfig,
	}
}

func (h *WSHandler) HandleConnection(c *gin.Context) {
	username := c.Query("username")
	if username == "" {
		logger.L.Warn("WebSocket connection without username", zap.String("ip", c.ClientIP()))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "username query parameter is required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.L.Error("Failed to upgrade WebSocket connection", zap.String("username", username), zap.Error(err))
		return
	}

	clientID := uuid.NewString()
	logger.L.Info("WebSocket connection upgraded", zap.String("clientID", clientID), zap.String("username", username))

	client := relay.NewClient(clientID, username, conn, h.codec, h.handler, h.hub, h.wsConfig)
	h.hub.Register(client)

	go client.WritePump()
	go func() {
		client.ReadPump()
		h.handler.HandleUserDisconnected(clientID, username)
	}()

	// 注册完成后再广播, 新连接自己也会收到 "new user"
	h.handler.HandleUserConnected(clientID, username)
}
