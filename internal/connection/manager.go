package connection

import (
	"context"
	"sync"

	"go-chat-session/internal/protocol"
	"go-chat-session/pkg/logger"

	"go.uber.org/zap"
)

// Sink 接收 Manager 上报的一切: 入站事件、错误、状态变化.
// 调用发生在 Manager 的锁内, 实现必须立即返回且不能回调 Manager.
type Sink interface {
	Deliver(epoch uint64, env protocol.Envelope)
	Failed(err error)
	StateChanged(ev StateEvent)
}

type nopSink struct{}

func (nopSink) Deliver(uint64, protocol.Envelope) {}
func (nopSink) Failed(error)                      {}
func (nopSink) StateChanged(StateEvent)           {}

// Manager 持有传输句柄, 负责它的生命周期.
// 其他组件只能通过 Connect / Disconnect / Send 访问传输.
type Manager struct {
	dialer Dialer
	codec  protocol.Codec
	log    *zap.Logger

	mu        sync.Mutex
	sink      Sink
	state     State
	transport Transport
	endpoint  string
	dialing   bool
	cancel    context.CancelFunc
	// 每次 Connect / Disconnect / 掉线都会递增, 旧 epoch 的入站事件一律丢弃
	epoch uint64
}

func NewManager(dialer Dialer, codec protocol.Codec) *Manager {
	if codec == nil {
		codec = protocol.JSONCodec{}
	}
	return &Manager{
		dialer: dialer,
		codec:  codec,
		log:    logger.Named("connection"),
		sink:   nopSink{},
		state:  Disconnected,
	}
}

func (m *Manager) SetSink(s Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s == nil {
		s = nopSink{}
	}
	m.sink = s
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Endpoint() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endpoint
}

// Current 判断 epoch 的事件此刻是否还允许分发
func (m *Manager) Current(epoch uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return epoch == m.epoch && m.state == Connected
}

// 需持有 m.mu
func (m *Manager) setState(next State, cause error) {
	if m.state == next {
		return
	}
	ev := StateEvent{Old: m.state, New: next, Err: cause}
	m.state = next
	m.log.Debug("Connection state changed",
		zap.Stringer("from", ev.Old),
		zap.Stringer("to", ev.New),
		zap.Error(cause))
	m.sink.StateChanged(ev)
}

// Connect 开始建立传输会话, 立即返回.
// 中继不可达时通过 Sink.Failed 上报 *ConnectionError, 状态停留在 Connecting,
// 调用方可以再次 Connect 重试.
func (m *Manager) Connect(ctx context.Context, host string, opts Options) error {
	endpoint, err := EndpointURL(host, opts)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.state == Connected:
		return ErrAlreadyConnected
	case m.dialing, m.state == Disconnecting:
		return ErrTransitionInProgress
	}

	m.epoch++
	epoch := m.epoch
	dialCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.dialing = true
	m.endpoint = endpoint
	m.setState(Connecting, nil)

	m.log.Info("Connecting to relay", zap.String("endpoint", endpoint), zap.Uint64("epoch", epoch))
	go m.dial(dialCtx, cancel, epoch, endpoint)
	return nil
}

func (m *Manager) dial(ctx context.Context, cancel context.CancelFunc, epoch uint64, endpoint string) {
	defer cancel()

	t, err := m.dialer.Dial(ctx, endpoint)

	m.mu.Lock()
	if epoch != m.epoch {
		// Disconnect 已经中止了这次连接
		m.mu.Unlock()
		if t != nil {
			t.Close()
		}
		m.log.Debug("Discarding aborted dial", zap.Uint64("epoch", epoch))
		return
	}
	defer m.mu.Unlock()

	m.dialing = false
	m.cancel = nil
	if err != nil {
		m.log.Warn("Failed to reach relay", zap.String("endpoint", endpoint), zap.Error(err))
		m.sink.Failed(&ConnectionError{Endpoint: endpoint, Op: "dial", Err: err})
		return
	}

	m.transport = t
	m.setState(Connected, nil)
	m.log.Info("Connected to relay", zap.String("endpoint", endpoint))

	go m.readPump(epoch, t)
}

func (m *Manager) readPump(epoch uint64, t Transport) {
	for {
		messageType, data, err := t.ReadMessage()
		if err != nil {
			m.dropped(epoch, t, err)
			return
		}

		if messageType != m.codec.FrameType() {
			m.log.Warn("Ignoring frame with unexpected type",
				zap.Int("type", messageType),
				zap.String("codec", m.codec.Name()))
			continue
		}

		env, err := m.codec.Decode(data)
		if err != nil {
			m.log.Warn("Dropping malformed frame", zap.Error(err))
			continue
		}

		m.mu.Lock()
		current := epoch == m.epoch
		if current {
			m.sink.Deliver(epoch, env)
		}
		m.mu.Unlock()

		if !current {
			return
		}
	}
}

// dropped 处理传输层报告的中断. 主动 Disconnect 引起的读错误直接忽略.
func (m *Manager) dropped(epoch uint64, t Transport, cause error) {
	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		return
	}

	m.epoch++
	m.transport = nil
	endpoint := m.endpoint
	m.log.Warn("Relay connection dropped", zap.String("endpoint", endpoint), zap.Error(cause))
	connErr := &ConnectionError{Endpoint: endpoint, Op: "read", Err: cause}
	m.setState(Connecting, connErr)
	m.sink.Failed(connErr)
	m.mu.Unlock()

	t.Close()
}

// Send 把一帧写到传输上. 未连接时返回 ErrNotConnected 且不触碰传输.
func (m *Manager) Send(env protocol.Envelope) error {
	m.mu.Lock()
	if m.state != Connected || m.transport == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	t := m.transport
	endpoint := m.endpoint
	m.mu.Unlock()

	data, err := m.codec.Encode(env)
	if err != nil {
		return err
	}

	if err := t.WriteMessage(m.codec.FrameType(), data); err != nil {
		return &ConnectionError{Endpoint: endpoint, Op: "write", Err: err}
	}
	return nil
}

// Disconnect 释放传输, 中止进行中的 Connect. 已断开时什么也不做.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.state == Disconnected || m.state == Disconnecting {
		m.mu.Unlock()
		return
	}

	m.epoch++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.dialing = false
	t := m.transport
	m.transport = nil
	m.setState(Disconnecting, nil)
	m.mu.Unlock()

	if t != nil {
		if err := t.Close(); err != nil {
			m.log.Debug("Error while closing transport", zap.Error(err))
		}
	}

	m.mu.Lock()
	m.setState(Disconnected, nil)
	m.mu.Unlock()
	m.log.Info("Disconnected from relay")
}
