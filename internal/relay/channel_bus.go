package relay

import (
	"context"
	"errors"
	"sync"

	"go-chat-session/internal/protocol"
)

var ErrBusClosed = errors.New("bus closed")

// ChannelBus 在进程内把发布的事件同步交给订阅者
type ChannelBus struct {
	mu     sync.RWMutex
	subs   []func(msg protocol.Relayed)
	closed bool
}

func NewChannelBus() *ChannelBus {
	return &ChannelBus{}
}

func (b *ChannelBus) Publish(_ context.Context, msg protocol.Relayed) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	for _, fn := range b.subs {
		fn(msg)
	}
	return nil
}

func (b *ChannelBus) Subscribe(_ context.Context, fn func(msg protocol.Relayed)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	b.subs = append(b.subs, fn)
	return nil
}

func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = nil
	return nil
}
