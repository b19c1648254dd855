package relay

import (
	"errors"
	"sync"
	"time"

	"go-chat-session/internal/protocol"
	"go-chat-session/pkg/config"
	"go-chat-session/pkg/logger"

	"go.uber.org/zap"
)

var ErrBroadcastFull = errors.New("hub broadcast channel is full")

// Hub 持有本实例的客户端连接, 把事件扇出给它们
type Hub struct {
	clients    map[string]*Client
	clientsMu  sync.RWMutex
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	stop       chan struct{}
	stopOnce   sync.Once

	codec         protocol.Codec
	retryCount    int
	retryInterval time.Duration
}

func NewHub(wsConfig config.WebSocketConfig, codec protocol.Codec) *Hub {
	retryCount := wsConfig.MessageRetryCount
	if retryCount < 0 {
		retryCount = 3
		logger.L.Warn("Invalid retryCount, using default", zap.Int("default", retryCount))
	}

	retryInterval := wsConfig.RetryInterval()
	if retryInterval <= 0 {
		retryInterval = 100 * time.Millisecond
		logger.L.Warn("Invalid retryInterval, using default", zap.Duration("default", retryInterval))
	}

	broadcastBufferSize := wsConfig.BroadcastBufferSize
	if broadcastBufferSize <= 0 {
		broadcastBufferSize = 256
		logger.L.Warn("Invalid BroadcastBufferSize, using default", zap.Int("default", broadcastBufferSize))
	}

	if codec == nil {
		codec = protocol.JSONCodec{}
	}

	return &Hub{
		clients:       make(map[string]*Client),
		broadcast:     make(chan outbound, broadcastBufferSize),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		stop:          make(chan struct{}),
		codec:         codec,
		retryCount:    retryCount,
		retryInterval: retryInterval,
	}
}

func (h *Hub) Codec() protocol.Codec {
	return h.codec
}

func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.stop:
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.stop:
	}
}

func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// outbound 是一帧已编码的事件, origin 对应的客户端不会收到它
type outbound struct {
	origin string
	data   []byte
}

// Broadcast 编码一次后排队发给本地客户端, 跳过事件的发送者
func (h *Hub) Broadcast(msg protocol.Relayed) error {
	env := msg.Envelope
	data, err := h.codec.Encode(env)
	if err != nil {
		logger.L.Error("Failed to encode envelope", zap.String("event", env.Event), zap.Error(err))
		return err
	}

	select {
	case h.broadcast <- outbound{origin: msg.Origin, data: data}:
		logger.L.Debug("Event queued for broadcast.", zap.String("event", env.Event))
		return nil
	default:
		// Hub's broadcast channel is full or Hub is not running.
		logger.L.Warn("Hub broadcast channel full. Dropping event.", zap.String("event", env.Event))
		return ErrBroadcastFull
	}
}

// Stop 结束 Run 并关闭所有客户端的发送通道
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
}

func (h *Hub) trySendMessage(client *Client, data []byte) {
	select {
	case client.Send <- data:
		// 发送成功
		return
	default:
	}

	for i := 0; i < h.retryCount; i++ {
		logger.L.Warn("Client send buffer full, retry attempt",
			zap.String("clientID", client.ID),
			zap.Int("attempt", i+1))
		timer := time.NewTimer(h.retryInterval)
		select {
		case client.Send <- data:
			// 重试成功
			timer.Stop()
			return
		case <-timer.C:
			// 重试超时
		}
	}

	// 所有重试失败 关闭连接
	logger.L.Error("Client send buffer still full after retries, closing connection",
		zap.String("clientID", client.ID),
		zap.Int("attempts", h.retryCount))
	h.remove(client)
}

// remove 只在 Run 所在的 goroutine 中调用
func (h *Hub) remove(client *Client) bool {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	if registered, ok := h.clients[client.ID]; ok && registered == client {
		delete(h.clients, client.ID)
		close(client.Send)
		return true
	}
	return false
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.stop:
			h.clientsMu.Lock()
			for id, client := range h.clients {
				close(client.Send)
				delete(h.clients, id)
			}
			h.clientsMu.Unlock()
			logger.L.Info("Hub stopped")
			return

		case client := <-h.register:
			// 注册新连接
			h.clientsMu.Lock()
			h.clients[client.ID] = client
			h.clientsMu.Unlock()
			logger.L.Info("Client registered", zap.String("clientID", client.ID), zap.String("username", client.Username))

		case client := <-h.unregister:
			// 注销客户端
			if h.remove(client) {
				logger.L.Info("Client unregistered", zap.String("clientID", client.ID), zap.String("username", client.Username))
			}

		case out := <-h.broadcast:
			// 群发给除发送者之外的所有连接
			h.clientsMu.RLock()
			targets := make([]*Client, 0, len(h.clients))
			for id, client := range h.clients {
				if id != out.origin {
					targets = append(targets, client)
				}
			}
			h.clientsMu.RUnlock()

			for _, client := range targets {
				h.trySendMessage(client, out.data)
			}
		}
	}
}
