package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessage_RenderConcatenates(t *testing.T) {
	msg := NewMessage("hello", "alice")

	assert.Equal(t, "hello", msg.Text())
	assert.Equal(t, "alice", msg.Sender())
	// 没有分隔符
	assert.Equal(t, "helloalice", msg.Render())
}

func TestIdentity(t *testing.T) {
	id := NewIdentity("alice")
	assert.Equal(t, "alice", id.CurrentUser())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "active", Active.String())
	assert.Equal(t, "terminating", Terminating.String())
	assert.Equal(t, "terminated", Terminated.String())
	assert.Equal(t, "unknown", State(9).String())
}

func TestUIFuncs(t *testing.T) {
	var shown []string
	logouts := 0
	ui := UIFuncs{
		ShowFunc:   func(m Message) { shown = append(shown, m.Render()) },
		LogoutFunc: func() { logouts++ },
	}
	ui.Show(NewMessage("a", "b"))
	ui.Logout()
	assert.Equal(t, []string{"ab"}, shown)
	assert.Equal(t, 1, logouts)

	// 零值不 panic
	UIFuncs{}.Show(NewMessage("x", ""))
	UIFuncs{}.Logout()
}
