package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

var ErrMalformedFrame = errors.New("protocol: malformed frame")

// Codec 负责 Envelope 与 websocket 帧之间的转换
type Codec interface {
	Name() string
	// FrameType 是 websocket.TextMessage 或 websocket.BinaryMessage
	FrameType() int
	Encode(env Envelope) ([]byte, error)
	Decode(data []byte) (Envelope, error)
}

func NewCodec(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "proto":
		return ProtoCodec{}, nil
	default:
		return nil, fmt.Errorf("unsupported codec %q", name)
	}
}

// JSONCodec: 文本帧 {"event": ..., "data": ...}
type JSONCodec struct{}

func (JSONCodec) Name() string   { return "json" }
func (JSONCodec) FrameType() int { return websocket.TextMessage }

func (JSONCodec) Encode(env Envelope) ([]byte, error) {
	if env.Event == "" {
		return nil, ErrEmptyEvent
	}
	return json.Marshal(env)
}

func (JSONCodec) Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedFrame, ErrEmptyEvent)
	}
	return env, nil
}

// ProtoCodec: 二进制帧, 用 google.protobuf.Struct 承载 event/data
type ProtoCodec struct{}

func (ProtoCodec) Name() string   { return "proto" }
func (ProtoCodec) FrameType() int { return websocket.BinaryMessage }

func (ProtoCodec) Encode(env Envelope) ([]byte, error) {
	if env.Event == "" {
		return nil, ErrEmptyEvent
	}

	fields := map[string]*structpb.Value{
		"event": structpb.NewStringValue(env.Event),
	}
	if len(env.Data) > 0 {
		var raw any
		if err := json.Unmarshal(env.Data, &raw); err != nil {
			return nil, fmt.Errorf("payload is not valid JSON: %w", err)
		}
		val, err := structpb.NewValue(raw)
		if err != nil {
			return nil, fmt.Errorf("convert payload: %w", err)
		}
		fields["data"] = val
	}

	return proto.Marshal(&structpb.Struct{Fields: fields})
}

func (ProtoCodec) Decode(data []byte) (Envelope, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	event := s.GetFields()["event"].GetStringValue()
	if event == "" {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedFrame, ErrEmptyEvent)
	}

	env := Envelope{Event: event}
	if val, ok := s.GetFields()["data"]; ok {
		raw, err := json.Marshal(val.AsInterface())
		if err != nil {
			return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		env.Data = raw
	}
	return env, nil
}
