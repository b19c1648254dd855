package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go-chat-session/internal/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []protocol.Relayed
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, msg protocol.Relayed) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func TestRelayService_HandleEventForwardsMessageWithOrigin(t *testing.T) {
	pub := &recordingPublisher{}
	svc := NewRelayService(pub)

	env, err := protocol.NewEnvelope(protocol.EventMessage, "hi")
	require.NoError(t, err)
	svc.HandleEvent("c1", "alice", env)

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "c1", pub.msgs[0].Origin)
	assert.Equal(t, env, pub.msgs[0].Envelope)
}

func TestRelayService_HandleEventDropsServerOnlyEvents(t *testing.T) {
	pub := &recordingPublisher{}
	svc := NewRelayService(pub)

	logout, err := protocol.NewEnvelope(protocol.EventLogout, "alice")
	require.NoError(t, err)
	newUser, err := protocol.NewEnvelope(protocol.EventNewUser, protocol.NewUserPayload{Username: "eve"})
	require.NoError(t, err)
	custom, err := protocol.NewEnvelope("typing", true)
	require.NoError(t, err)

	for _, env := range []protocol.Envelope{logout, newUser, custom} {
		svc.HandleEvent("c2", "mallory", env)
	}
	assert.Empty(t, pub.msgs)
}

func TestRelayService_HandleUserConnected(t *testing.T) {
	pub := &recordingPublisher{}
	svc := NewRelayService(pub)

	svc.HandleUserConnected("c1", "bob")

	require.Len(t, pub.msgs, 1)
	assert.Empty(t, pub.msgs[0].Origin)
	assert.Equal(t, protocol.EventNewUser, pub.msgs[0].Envelope.Event)
	var p protocol.NewUserPayload
	require.NoError(t, pub.msgs[0].Envelope.Decode(&p))
	assert.Equal(t, "bob", p.Username)
}

func TestRelayService_Logout(t *testing.T) {
	pub := &recordingPublisher{}
	svc := NewRelayService(pub)

	assert.ErrorIs(t, svc.Logout(""), ErrEmptyUsername)
	require.NoError(t, svc.Logout("alice"))

	require.Len(t, pub.msgs, 1)
	assert.Empty(t, pub.msgs[0].Origin)
	assert.Equal(t, protocol.EventLogout, pub.msgs[0].Envelope.Event)
	assert.JSONEq(t, `"alice"`, string(pub.msgs[0].Envelope.Data))
}

func TestRelayService_AnnounceAndErrors(t *testing.T) {
	pub := &recordingPublisher{}
	svc := NewRelayService(pub)

	assert.ErrorIs(t, svc.Announce(protocol.Envelope{}), protocol.ErrEmptyEvent)

	env, err := protocol.NewEnvelope(protocol.EventMessage, "hello universe")
	require.NoError(t, err)
	require.NoError(t, svc.Announce(env))
	require.Len(t, pub.msgs, 1)
	assert.Empty(t, pub.msgs[0].Origin)

	boom := errors.New("broker down")
	pub.err = boom
	assert.ErrorIs(t, svc.Announce(env), boom)
	assert.ErrorIs(t, svc.Logout("alice"), boom)
}
