// Package conntest 提供内存版的传输和拨号器, 供测试使用.
package conntest

import (
	"context"
	"errors"
	"sync"

	"go-chat-session/internal/connection"
	"go-chat-session/internal/protocol"
)

var ErrClosed = errors.New("conntest: transport closed")

type frame struct {
	messageType int
	data        []byte
	err         error
}

// Transport 是内存传输: Push 模拟中继下发, Written 记录客户端写出的帧
type Transport struct {
	codec   protocol.Codec
	inbound chan frame

	mu      sync.Mutex
	written []protocol.Envelope
	closed  bool
	done    chan struct{}
}

func NewTransport(codec protocol.Codec) *Transport {
	if codec == nil {
		codec = protocol.JSONCodec{}
	}
	return &Transport{
		codec:   codec,
		inbound: make(chan frame, 1024),
		done:    make(chan struct{}),
	}
}

func (t *Transport) ReadMessage() (int, []byte, error) {
	select {
	case f := <-t.inbound:
		return f.messageType, f.data, f.err
	case <-t.done:
		return 0, nil, ErrClosed
	}
}

func (t *Transport) WriteMessage(messageType int, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	env, err := t.codec.Decode(data)
	if err != nil {
		return err
	}
	t.written = append(t.written, env)
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.done)
	}
	return nil
}

// Push 模拟中继下发一个事件
func (t *Transport) Push(event string, payload any) error {
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	data, err := t.codec.Encode(env)
	if err != nil {
		return err
	}
	t.inbound <- frame{messageType: t.codec.FrameType(), data: data}
	return nil
}

// PushRaw 下发任意帧, 用来测试畸形数据
func (t *Transport) PushRaw(messageType int, data []byte) {
	t.inbound <- frame{messageType: messageType, data: data}
}

// Drop 模拟传输层中断
func (t *Transport) Drop(err error) {
	t.inbound <- frame{err: err}
}

// Pending 返回还没被读取的下发帧数
func (t *Transport) Pending() int {
	return len(t.inbound)
}

func (t *Transport) Written() []protocol.Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]protocol.Envelope, len(t.written))
	copy(out, t.written)
	return out
}

func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Dialer 按顺序返回预先排好的结果; 没有排队结果时阻塞到 ctx 取消
type Dialer struct {
	mu      sync.Mutex
	results []dialResult
	ready   chan struct{}
	dials   []string
}

type dialResult struct {
	transport connection.Transport
	err       error
}

func NewDialer() *Dialer {
	return &Dialer{ready: make(chan struct{}, 64)}
}

func (d *Dialer) Succeed(t connection.Transport) {
	d.enqueue(dialResult{transport: t})
}

func (d *Dialer) Fail(err error) {
	d.enqueue(dialResult{err: err})
}

func (d *Dialer) enqueue(r dialResult) {
	d.mu.Lock()
	d.results = append(d.results, r)
	d.mu.Unlock()
	d.ready <- struct{}{}
}

func (d *Dialer) Dial(ctx context.Context, endpoint string) (connection.Transport, error) {
	d.mu.Lock()
	d.dials = append(d.dials, endpoint)
	d.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-d.ready:
		if ctx.Err() != nil {
			// 已取消的拨号不消耗排好的结果
			d.ready <- struct{}{}
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	r := d.results[0]
	d.results = d.results[1:]
	return r.transport, r.err
}

// Dials 返回所有拨号过的地址
func (d *Dialer) Dials() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.dials))
	copy(out, d.dials)
	return out
}
