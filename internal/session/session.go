// Package session 跟踪当前用户和对端身份, 处理强制登出.
package session

import (
	"errors"
	"sync"

	"go-chat-session/internal/dispatch"
	"go-chat-session/internal/protocol"
	"go-chat-session/pkg/logger"

	"go.uber.org/zap"
)

var ErrTerminated = errors.New("session: terminated")

type State int

const (
	Active State = iota
	Terminating
	Terminated
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Terminating:
		return "terminating"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Dispatcher 是会话对事件分发器的依赖
type Dispatcher interface {
	On(event string, h dispatch.Handler) dispatch.Token
	Emit(event string, payload any) error
	SetGate(open func() bool)
}

// Disconnecter 由连接管理器实现
type Disconnecter interface {
	Disconnect()
}

type Session struct {
	identity Identity
	dispatch Dispatcher
	conn     Disconnecter
	ui       UI
	log      *zap.Logger

	mu     sync.Mutex
	state  State
	peer   string
	tokens []dispatch.Token
	done   chan struct{}
}

// New 创建处于 Active 状态的会话并注册领域事件处理函数
func New(identity Identity, d Dispatcher, conn Disconnecter, ui UI) *Session {
	s := &Session{
		identity: identity,
		dispatch: d,
		conn:     conn,
		ui:       ui,
		log:      logger.Named("session").With(zap.String("currentUser", identity.CurrentUser())),
		state:    Active,
		done:     make(chan struct{}),
	}

	d.SetGate(s.active)
	s.tokens = []dispatch.Token{
		d.On(protocol.EventNewUser, s.handleNewUser),
		d.On(protocol.EventMessage, s.handleMessage),
		d.On(protocol.EventLogout, s.handleLogout),
	}
	return s
}

func (s *Session) Identity() Identity { return s.identity }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Peer 返回最近一次 "new user" 记录的对端用户名
func (s *Session) Peer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}

// Done 在会话进入 Terminated 后关闭
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) active() bool {
	return s.State() == Active
}

// Send 发送一条聊天消息
func (s *Session) Send(text string) error {
	if !s.active() {
		return ErrTerminated
	}
	return s.dispatch.Emit(protocol.EventMessage, text)
}

func (s *Session) handleNewUser(env protocol.Envelope) {
	var p protocol.NewUserPayload
	if err := env.Decode(&p); err != nil {
		s.log.Warn("Ignoring malformed new user event", zap.Error(err))
		return
	}

	s.mu.Lock()
	s.peer = p.Username
	s.mu.Unlock()
	s.log.Debug("Peer recorded", zap.String("peer", p.Username))
}

func (s *Session) handleMessage(env protocol.Envelope) {
	var text string
	if err := env.Decode(&text); err != nil {
		s.log.Warn("Ignoring malformed message event", zap.Error(err))
		return
	}

	msg := NewMessage(text, s.Peer())
	s.ui.Show(msg)
}

func (s *Session) handleLogout(env protocol.Envelope) {
	var user string
	if err := env.Decode(&user); err != nil {
		s.log.Warn("Ignoring malformed logout event", zap.Error(err))
		return
	}
	if user != s.identity.CurrentUser() {
		// 说的是别的用户
		return
	}

	if s.terminate() {
		s.log.Info("Session terminated by relay")
		s.ui.Logout()
	}
}

// Close 在本地结束会话, 不通知 UI 登出
func (s *Session) Close() {
	if s.terminate() {
		s.log.Info("Session closed")
	}
}

// terminate 执行 Active -> Terminating -> Terminated, 只有第一次调用返回 true
func (s *Session) terminate() bool {
	s.mu.Lock()
	if s.state != Active {
		s.mu.Unlock()
		return false
	}
	s.state = Terminating
	s.mu.Unlock()

	s.conn.Disconnect()

	s.mu.Lock()
	s.state = Terminated
	tokens := s.tokens
	s.tokens = nil
	s.mu.Unlock()

	for _, tok := range tokens {
		tok.Cancel()
	}
	close(s.done)
	return true
}
