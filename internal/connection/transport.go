package connection

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go-chat-session/pkg/config"
	"go-chat-session/pkg/logger"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Transport 是一条双向通道, 只由 Manager 持有
type Transport interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Transport, error)
}

// WebsocketDialer 基于 gorilla/websocket 建立传输
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
	WriteWait        time.Duration
	PongWait         time.Duration
	MaxMessageSize   int64
	Header           http.Header
}

func NewWebsocketDialer(cfg config.WebSocketConfig) *WebsocketDialer {
	return &WebsocketDialer{
		HandshakeTimeout: cfg.HandshakeTimeout(),
		WriteWait:        cfg.WriteWait(),
		PongWait:         cfg.PongWait(),
		MaxMessageSize:   int64(cfg.MaxMessageSize),
	}
}

func (d *WebsocketDialer) Dial(ctx context.Context, endpoint string) (Transport, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, endpoint, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, err
	}

	return newWSTransport(conn, d.WriteWait, d.PongWait, d.MaxMessageSize), nil
}

type wsTransport struct {
	conn *websocket.Conn
	mu   sync.Mutex // gorilla 同一时刻只允许一个写者

	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration

	done      chan struct{}
	closeOnce sync.Once
}

func newWSTransport(conn *websocket.Conn, writeWait, pongWait time.Duration, maxMessageSize int64) *wsTransport {
	if writeWait <= 0 {
		writeWait = 10 * time.Second
	}
	if pongWait <= 0 {
		pongWait = 60 * time.Second
	}

	t := &wsTransport{
		conn:       conn,
		writeWait:  writeWait,
		pongWait:   pongWait,
		pingPeriod: (pongWait * 9) / 10,
		done:       make(chan struct{}),
	}

	if maxMessageSize > 0 {
		conn.SetReadLimit(maxMessageSize)
	}
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(t.pongWait))
	})

	go t.pingLoop()
	return t
}

func (t *wsTransport) ReadMessage() (int, []byte, error) {
	messageType, data, err := t.conn.ReadMessage()
	if err == nil {
		t.conn.SetReadDeadline(time.Now().Add(t.pongWait))
	}
	return messageType, data, err
}

func (t *wsTransport) WriteMessage(messageType int, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.conn.SetWriteDeadline(time.Now().Add(t.writeWait))
	return t.conn.WriteMessage(messageType, data)
}

// pingLoop 定期发送 ping, 中继回 pong 时延长读超时
func (t *wsTransport) pingLoop() {
	ticker := time.NewTicker(t.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.mu.Lock()
			err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.writeWait))
			t.mu.Unlock()
			if err != nil {
				logger.L.Debug("Failed to send ping", zap.Error(err))
				return
			}
		}
	}
}

func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)

		t.mu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(t.writeWait))
		t.mu.Unlock()

		err = t.conn.Close()
	})
	return err
}
