// Package dispatch 把入站命名事件按注册顺序分发给处理函数.
//
// 所有入站事件、连接错误和状态变化都进入同一个队列, 由单个 goroutine 依次处理:
// 一个处理函数执行完之前不会开始处理下一个任务, 不重排也不合并.
package dispatch

import (
	"fmt"
	"sync"

	"go-chat-session/internal/connection"
	"go-chat-session/internal/protocol"
	"go-chat-session/pkg/logger"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Conn 是 Dispatcher 对连接管理器的全部依赖
type Conn interface {
	SetSink(s connection.Sink)
	State() connection.State
	Send(env protocol.Envelope) error
	Current(epoch uint64) bool
}

type Handler func(env protocol.Envelope)

type ErrorHandler func(err error)

type StateHandler func(ev connection.StateEvent)

type registration[T any] struct {
	id uint64
	fn T
}

type taskKind int

const (
	taskEvent taskKind = iota
	taskError
	taskState
)

type task struct {
	kind  taskKind
	epoch uint64
	env   protocol.Envelope
	err   error
	state connection.StateEvent
}

type Dispatcher struct {
	conn Conn
	log  *zap.Logger

	mu       sync.Mutex
	nextID   uint64
	handlers map[string][]registration[Handler]
	onError  []registration[ErrorHandler]
	onState  []registration[StateHandler]
	gate     func() bool

	qmu    sync.Mutex
	queue  []task
	notify chan struct{}

	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// New 创建 Dispatcher, 把自己注册为 conn 的 Sink 并启动分发循环
func New(conn Conn, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	d := &Dispatcher{
		conn:     conn,
		log:      logger.Named("dispatch"),
		handlers: make(map[string][]registration[Handler]),
		queue:    make([]task, 0, queueSize),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	conn.SetSink(d)
	go d.loop()
	return d
}

// Token 用于注销一次注册
type Token struct {
	cancel func()
}

// Cancel 注销对应的注册, 重复调用无副作用
func (t Token) Cancel() {
	if t.cancel != nil {
		t.cancel()
	}
}

// On 把 h 追加到 event 的处理序列末尾. 不去重: 同一个函数注册两次就会被调用两次.
func (d *Dispatcher) On(event string, h Handler) Token {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	id := d.nextID
	d.handlers[event] = append(d.handlers[event], registration[Handler]{id: id, fn: h})

	return Token{cancel: func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		left := lo.Reject(d.handlers[event], func(r registration[Handler], _ int) bool { return r.id == id })
		if len(left) == 0 {
			delete(d.handlers, event)
			return
		}
		d.handlers[event] = left
	}}
}

// Off 注销 event 的全部处理函数
func (d *Dispatcher) Off(event string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.handlers, event)
}

// OnError 注册连接错误的处理函数 (ConnectionError 以及处理函数 panic)
func (d *Dispatcher) OnError(h ErrorHandler) Token {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	id := d.nextID
	d.onError = append(d.onError, registration[ErrorHandler]{id: id, fn: h})

	return Token{cancel: func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.onError = lo.Reject(d.onError, func(r registration[ErrorHandler], _ int) bool { return r.id == id })
	}}
}

func (d *Dispatcher) OnStateChange(h StateHandler) Token {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	id := d.nextID
	d.onState = append(d.onState, registration[StateHandler]{id: id, fn: h})

	return Token{cancel: func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.onState = lo.Reject(d.onState, func(r registration[StateHandler], _ int) bool { return r.id == id })
	}}
}

// SetGate 设置分发前的检查, 返回 false 时入站事件被丢弃
func (d *Dispatcher) SetGate(open func() bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gate = open
}

// Emit 把 payload 以 event 为名发给中继. 未连接时返回 connection.ErrNotConnected, 不做缓冲.
func (d *Dispatcher) Emit(event string, payload any) error {
	if d.conn.State() != connection.Connected {
		return connection.ErrNotConnected
	}

	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		return err
	}

	if err := d.conn.Send(env); err != nil {
		return fmt.Errorf("emit %q: %w", event, err)
	}
	d.log.Debug("Event emitted", zap.String("event", event))
	return nil
}

// Close 停止分发循环, 队列中剩余的任务被丢弃
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.done)
	})
	<-d.stopped
}

// Deliver 实现 connection.Sink
func (d *Dispatcher) Deliver(epoch uint64, env protocol.Envelope) {
	d.enqueue(task{kind: taskEvent, epoch: epoch, env: env})
}

// Failed 实现 connection.Sink
func (d *Dispatcher) Failed(err error) {
	d.enqueue(task{kind: taskError, err: err})
}

// StateChanged 实现 connection.Sink
func (d *Dispatcher) StateChanged(ev connection.StateEvent) {
	d.enqueue(task{kind: taskState, state: ev})
}

// enqueue 不阻塞, Manager 在持锁状态下调用
func (d *Dispatcher) enqueue(t task) {
	d.qmu.Lock()
	d.queue = append(d.queue, t)
	d.qmu.Unlock()

	select {
	case d.notify <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) next() (task, bool) {
	for {
		d.qmu.Lock()
		if len(d.queue) > 0 {
			t := d.queue[0]
			d.queue[0] = task{}
			d.queue = d.queue[1:]
			d.qmu.Unlock()
			return t, true
		}
		d.qmu.Unlock()

		select {
		case <-d.done:
			return task{}, false
		case <-d.notify:
		}
	}
}

func (d *Dispatcher) loop() {
	defer close(d.stopped)

	for {
		t, ok := d.next()
		if !ok {
			return
		}

		switch t.kind {
		case taskEvent:
			d.dispatch(t.epoch, t.env)
		case taskError:
			d.reportError(t.err)
		case taskState:
			d.mu.Lock()
			hs := lo.Map(d.onState, func(r registration[StateHandler], _ int) StateHandler { return r.fn })
			d.mu.Unlock()
			for _, h := range hs {
				if err := d.safely("state change", func() { h(t.state) }); err != nil {
					d.reportError(err)
				}
			}
		}
	}
}

func (d *Dispatcher) reportError(err error) {
	d.mu.Lock()
	hs := lo.Map(d.onError, func(r registration[ErrorHandler], _ int) ErrorHandler { return r.fn })
	d.mu.Unlock()

	if len(hs) == 0 {
		d.log.Warn("Unhandled connection error", zap.Error(err))
		return
	}
	for _, h := range hs {
		// 错误处理函数自身 panic 只记录日志
		_ = d.safely("error", func() { h(err) })
	}
}

// dispatch 依次调用 event 的处理函数; 每次调用前重新检查连接和 gate,
// 断开或会话终止之后到达的事件一律丢弃.
func (d *Dispatcher) dispatch(epoch uint64, env protocol.Envelope) {
	d.mu.Lock()
	hs := lo.Map(d.handlers[env.Event], func(r registration[Handler], _ int) Handler { return r.fn })
	d.mu.Unlock()

	if len(hs) == 0 {
		// 中继可能广播客户端不关心的事件
		d.log.Debug("No handler registered for event", zap.String("event", env.Event))
		return
	}

	for _, h := range hs {
		if !d.deliverable(epoch) {
			d.log.Debug("Dropping event after disconnect or termination", zap.String("event", env.Event))
			return
		}
		if err := d.safely(env.Event, func() { h(env) }); err != nil {
			d.reportError(err)
		}
	}
}

func (d *Dispatcher) deliverable(epoch uint64) bool {
	if !d.conn.Current(epoch) {
		return false
	}
	d.mu.Lock()
	gate := d.gate
	d.mu.Unlock()
	return gate == nil || gate()
}

// safely 调用处理函数, panic 不会打断分发循环
func (d *Dispatcher) safely(name string, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("Recovered from handler panic", zap.String("handler", name), zap.Any("panic", r))
			err = fmt.Errorf("handler for %q panicked: %v", name, r)
		}
	}()
	fn()
	return nil
}
