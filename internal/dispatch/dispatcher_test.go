package dispatch_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go-chat-session/internal/connection"
	"go-chat-session/internal/connection/conntest"
	"go-chat-session/internal/dispatch"
	"go-chat-session/internal/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	manager    *connection.Manager
	dialer     *conntest.Dialer
	dispatcher *dispatch.Dispatcher
	connected  chan struct{}
}

func setupDispatcher(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		dialer:    conntest.NewDialer(),
		connected: make(chan struct{}, 8),
	}
	h.manager = connection.NewManager(h.dialer, protocol.JSONCodec{})
	h.dispatcher = dispatch.New(h.manager, 16)
	h.dispatcher.OnStateChange(func(ev connection.StateEvent) {
		if ev.New == connection.Connected {
			h.connected <- struct{}{}
		}
	})
	t.Cleanup(func() {
		h.manager.Disconnect()
		h.dispatcher.Close()
	})
	return h
}

// connect 建立一条内存连接并等待 Connected 状态通过队列送达
func (h *harness) connect(t *testing.T) *conntest.Transport {
	t.Helper()
	tr := conntest.NewTransport(nil)
	h.dialer.Succeed(tr)
	require.NoError(t, h.manager.Connect(context.Background(), "relay.local", connection.Options{}))
	select {
	case <-h.connected:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connection")
	}
	return tr
}

// barrier 等待队列中先前的任务全部处理完
func (h *harness) barrier(t *testing.T, tr *conntest.Transport) {
	t.Helper()
	done := make(chan struct{})
	tok := h.dispatcher.On("__barrier", func(protocol.Envelope) { close(done) })
	defer tok.Cancel()
	require.NoError(t, tr.Push("__barrier", nil))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for barrier")
	}
}

func TestDispatcher_InvokesHandlerOncePerEventInOrder(t *testing.T) {
	h := setupDispatcher(t)

	var mu sync.Mutex
	var got []string
	h.dispatcher.On(protocol.EventMessage, func(env protocol.Envelope) {
		var text string
		require.NoError(t, env.Decode(&text))
		mu.Lock()
		got = append(got, text)
		mu.Unlock()
	})

	tr := h.connect(t)
	want := []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "10"}
	for _, text := range want {
		require.NoError(t, tr.Push(protocol.EventMessage, text))
	}
	h.barrier(t, tr)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, got)
}

func TestDispatcher_RegistrationOrderAndDuplicates(t *testing.T) {
	h := setupDispatcher(t)

	var calls []string
	first := func(protocol.Envelope) { calls = append(calls, "first") }
	h.dispatcher.On("tick", first)
	h.dispatcher.On("tick", func(protocol.Envelope) { calls = append(calls, "second") })
	h.dispatcher.On("tick", first)

	tr := h.connect(t)
	require.NoError(t, tr.Push("tick", nil))
	h.barrier(t, tr)

	// 处理函数都在分发 goroutine 上执行, barrier 之后读取是安全的
	assert.Equal(t, []string{"first", "second", "first"}, calls)
}

func TestDispatcher_TokenCancel(t *testing.T) {
	h := setupDispatcher(t)

	count := 0
	tok := h.dispatcher.On("tick", func(protocol.Envelope) { count++ })
	other := 0
	h.dispatcher.On("tick", func(protocol.Envelope) { other++ })

	tr := h.connect(t)
	require.NoError(t, tr.Push("tick", nil))
	h.barrier(t, tr)

	tok.Cancel()
	tok.Cancel()
	require.NoError(t, tr.Push("tick", nil))
	h.barrier(t, tr)

	assert.Equal(t, 1, count)
	assert.Equal(t, 2, other)

	h.dispatcher.Off("tick")
	require.NoError(t, tr.Push("tick", nil))
	h.barrier(t, tr)
	assert.Equal(t, 2, other)
}

func TestDispatcher_UnknownEventIgnored(t *testing.T) {
	h := setupDispatcher(t)

	errs := make(chan error, 1)
	h.dispatcher.OnError(func(err error) { errs <- err })

	tr := h.connect(t)
	require.NoError(t, tr.Push("nobody listens", "x"))
	h.barrier(t, tr)

	select {
	case err := <-errs:
		t.Fatalf("unknown event must not surface an error: %v", err)
	default:
	}
}

func TestDispatcher_EmitWhileDisconnected(t *testing.T) {
	h := setupDispatcher(t)

	err := h.dispatcher.Emit(protocol.EventMessage, "hello")
	assert.ErrorIs(t, err, connection.ErrNotConnected)

	// payload 无法序列化也先报告未连接
	err = h.dispatcher.Emit(protocol.EventMessage, make(chan int))
	assert.ErrorIs(t, err, connection.ErrNotConnected)
}

func TestDispatcher_EmitReachesTransport(t *testing.T) {
	h := setupDispatcher(t)
	tr := h.connect(t)

	require.NoError(t, h.dispatcher.Emit(protocol.EventMessage, "hello"))

	written := tr.Written()
	require.Len(t, written, 1)
	assert.Equal(t, protocol.EventMessage, written[0].Event)
	assert.JSONEq(t, `"hello"`, string(written[0].Data))

	h.manager.Disconnect()
	assert.ErrorIs(t, h.dispatcher.Emit(protocol.EventMessage, "again"), connection.ErrNotConnected)
	assert.Len(t, tr.Written(), 1)
}

func TestDispatcher_DropsBufferedEventsAfterDisconnect(t *testing.T) {
	h := setupDispatcher(t)

	release := make(chan struct{})
	started := make(chan struct{})
	var mu sync.Mutex
	var got []string
	h.dispatcher.On(protocol.EventMessage, func(env protocol.Envelope) {
		var text string
		_ = env.Decode(&text)
		if text == "block" {
			close(started)
			<-release
		}
		mu.Lock()
		got = append(got, text)
		mu.Unlock()
	})

	tr := h.connect(t)
	require.NoError(t, tr.Push(protocol.EventMessage, "block"))
	<-started

	// 这些事件在 Disconnect 之前已经被读出并进入队列
	require.NoError(t, tr.Push(protocol.EventMessage, "late-1"))
	require.NoError(t, tr.Push(protocol.EventMessage, "late-2"))
	require.Eventually(t, func() bool { return tr.Pending() == 0 }, 2*time.Second, 5*time.Millisecond)

	// Disconnected 状态排在 late-* 之后, 收到它说明队列已经处理完
	drained := make(chan struct{})
	h.dispatcher.OnStateChange(func(ev connection.StateEvent) {
		if ev.New == connection.Disconnected {
			close(drained)
		}
	})
	h.manager.Disconnect()
	close(release)
	select {
	case <-drained:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for queue to drain")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"block"}, got)
}

func TestDispatcher_ConnectionErrorDelivered(t *testing.T) {
	h := setupDispatcher(t)

	errs := make(chan error, 1)
	h.dispatcher.OnError(func(err error) { errs <- err })

	h.dialer.Fail(errors.New("no route to host"))
	require.NoError(t, h.manager.Connect(context.Background(), "relay.local", connection.Options{}))

	select {
	case err := <-errs:
		var connErr *connection.ConnectionError
		assert.True(t, errors.As(err, &connErr))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connection error")
	}
	assert.Equal(t, connection.Connecting, h.manager.State())
}

func TestDispatcher_HandlerPanicRecovered(t *testing.T) {
	h := setupDispatcher(t)

	errs := make(chan error, 1)
	h.dispatcher.OnError(func(err error) { errs <- err })

	after := 0
	h.dispatcher.On("boom", func(protocol.Envelope) { panic("kaboom") })
	h.dispatcher.On("boom", func(protocol.Envelope) { after++ })

	tr := h.connect(t)
	require.NoError(t, tr.Push("boom", nil))
	h.barrier(t, tr)

	select {
	case err := <-errs:
		assert.Contains(t, err.Error(), "kaboom")
	default:
		t.Fatal("expected panic to be reported")
	}
	assert.Equal(t, 1, after)
}

func TestDispatcher_GateClosed(t *testing.T) {
	h := setupDispatcher(t)

	// open 只在分发 goroutine 上读写
	open := true
	var checks atomic.Int32
	h.dispatcher.SetGate(func() bool {
		checks.Add(1)
		return open
	})

	var count atomic.Int32
	h.dispatcher.On("tick", func(protocol.Envelope) {
		count.Add(1)
		open = false
	})
	h.dispatcher.On("tick", func(protocol.Envelope) { count.Add(1) })

	tr := h.connect(t)
	require.NoError(t, tr.Push("tick", nil))
	require.NoError(t, tr.Push("tick", nil))

	// 第一个 tick 检查两次 (第二个处理函数被拦下), 第二个 tick 检查一次
	require.Eventually(t, func() bool { return checks.Load() == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), count.Load())
}
