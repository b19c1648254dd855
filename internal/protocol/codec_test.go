package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCodec(t *testing.T) {
	c, err := NewCodec("")
	require.NoError(t, err)
	assert.Equal(t, "json", c.Name())
	assert.Equal(t, websocket.TextMessage, c.FrameType())

	c, err = NewCodec("proto")
	require.NoError(t, err)
	assert.Equal(t, "proto", c.Name())
	assert.Equal(t, websocket.BinaryMessage, c.FrameType())

	_, err = NewCodec("msgpack")
	assert.Error(t, err)
}

func TestCodecs_RoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		event   string
		payload any
	}{
		{name: "message text", event: EventMessage, payload: "hi"},
		{name: "new user", event: EventNewUser, payload: NewUserPayload{Username: "bob"}},
		{name: "logout", event: EventLogout, payload: "alice"},
		{name: "no payload", event: "ping", payload: nil},
	}

	for _, codec := range []Codec{JSONCodec{}, ProtoCodec{}} {
		for _, tc := range cases {
			t.Run(codec.Name()+"/"+tc.name, func(t *testing.T) {
				env, err := NewEnvelope(tc.event, tc.payload)
				require.NoError(t, err)

				frame, err := codec.Encode(env)
				require.NoError(t, err)

				got, err := codec.Decode(frame)
				require.NoError(t, err)
				assert.Equal(t, tc.event, got.Event)

				if tc.payload == nil {
					assert.Empty(t, got.Data)
					return
				}
				assert.JSONEq(t, string(env.Data), string(got.Data))
			})
		}
	}
}

func TestJSONCodec_WireShape(t *testing.T) {
	env, err := NewEnvelope(EventNewUser, NewUserPayload{Username: "bob"})
	require.NoError(t, err)

	frame, err := JSONCodec{}.Encode(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"new user","data":{"username":"bob"}}`, string(frame))
}

func TestCodecs_Malformed(t *testing.T) {
	_, err := JSONCodec{}.Decode([]byte("{not json"))
	assert.True(t, errors.Is(err, ErrMalformedFrame))

	_, err = JSONCodec{}.Decode([]byte(`{"data":"x"}`))
	assert.True(t, errors.Is(err, ErrMalformedFrame))

	_, err = ProtoCodec{}.Decode([]byte{0xff, 0xff, 0xff})
	assert.True(t, errors.Is(err, ErrMalformedFrame))

	_, err = JSONCodec{}.Encode(Envelope{})
	assert.True(t, errors.Is(err, ErrEmptyEvent))
	_, err = ProtoCodec{}.Encode(Envelope{Data: json.RawMessage(`1`)})
	assert.True(t, errors.Is(err, ErrEmptyEvent))
}

func TestEnvelope_Decode(t *testing.T) {
	env, err := NewEnvelope(EventNewUser, NewUserPayload{Username: "carol"})
	require.NoError(t, err)

	var p NewUserPayload
	require.NoError(t, env.Decode(&p))
	assert.Equal(t, "carol", p.Username)

	var s string
	assert.Error(t, env.Decode(&s))
	assert.Error(t, Envelope{Event: EventMessage}.Decode(&s))

	_, err = NewEnvelope("", "x")
	assert.ErrorIs(t, err, ErrEmptyEvent)
}
