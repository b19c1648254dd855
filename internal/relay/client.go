package relay

import (
	"sync"
	"time"

	"go-chat-session/internal/interfaces"
	"go-chat-session/internal/protocol"
	"go-chat-session/pkg/config"
	"go-chat-session/pkg/logger"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Client 是中继侧的一条客户端连接
type Client struct {
	ID       string
	Username string
	Conn     *websocket.Conn
	Send     chan []byte

	mu      sync.Mutex
	codec   protocol.Codec
	handler interfaces.EventHandler
	manager ConnectionManager

	writeWait      time.Duration
	pongWait       time.Duration
	pingPeriod     time.Duration
	maxMessageSize int64
}

func NewClient(id, username string, conn *websocket.Conn, codec protocol.Codec, handler interfaces.EventHandler, manager ConnectionManager, cfg config.WebSocketConfig) *Client {
	pongWait := cfg.PongWait()
	return &Client{
		ID:             id,
		Username:       username,
		Conn:           conn,
		Send:           make(chan []byte, cfg.SendBufferSize),
		codec:          codec,
		handler:        handler,
		manager:        manager,
		writeWait:      cfg.WriteWait(),
		pongWait:       pongWait,
		pingPeriod:     (pongWait * 9) / 10, // 发送ping的周期
		maxMessageSize: int64(cfg.MaxMessageSize),
	}
}

func (c *Client) ReadPump() {
	defer func() {
		c.manager.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.pongWait))
		return nil
	})

	for {
		messageType, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.L.Warn("Unexpected close error", zap.String("clientID", c.ID), zap.Error(err))
			} else {
				logger.L.Debug("Client read loop finished", zap.String("clientID", c.ID), zap.Error(err))
			}
			break
		}
		// 客户端发送的 ping 由 gorilla 默认处理器回复 pong, 同样说明连接存活
		c.Conn.SetReadDeadline(time.Now().Add(c.pongWait))

		if messageType != c.codec.FrameType() {
			logger.L.Warn("Received frame with unexpected type. Ignoring.",
				zap.String("clientID", c.ID),
				zap.Int("type", messageType),
				zap.String("codec", c.codec.Name()))
			continue
		}

		env, err := c.codec.Decode(data)
		if err != nil {
			logger.L.Warn("Dropping malformed frame", zap.String("clientID", c.ID), zap.Error(err))
			continue
		}
		c.handler.HandleEvent(c.ID, c.Username, env)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	frameType := c.codec.FrameType()
	for {
		select {
		case data, ok := <-c.Send:
			if !ok {
				// Send 通道已关闭
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			c.mu.Lock()
			c.Conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			err := c.Conn.WriteMessage(frameType, data)
			if err != nil {
				c.mu.Unlock()
				logger.L.Warn("Failed to write frame", zap.String("clientID", c.ID), zap.Error(err))
				return
			}

			// 把已排队的帧一起写出, 每帧仍是独立的 websocket 消息
			n := len(c.Send)
			for range n {
				batch, ok := <-c.Send
				if !ok {
					break
				}
				if err := c.Conn.WriteMessage(frameType, batch); err != nil {
					c.mu.Unlock()
					logger.L.Warn("Failed to write batched frame", zap.String("clientID", c.ID), zap.Error(err))
					return
				}
			}
			c.mu.Unlock()

		case <-ticker.C:
			c.mu.Lock()
			c.Conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			err := c.Conn.WriteMessage(websocket.PingMessage, nil)
			c.mu.Unlock()
			if err != nil {
				logger.L.Debug("Failed to send ping", zap.String("clientID", c.ID), zap.Error(err))
				return
			}
		}
	}
}
