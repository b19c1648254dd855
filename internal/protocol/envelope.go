// Package protocol 定义客户端与中继之间的命名事件帧.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// 本系统定义的领域事件
const (
	EventMessage = "message"
	EventNewUser = "new user"
	EventLogout  = "logout"
)

var ErrEmptyEvent = errors.New("protocol: empty event name")

// Envelope 是线上传输的一帧: 事件名 + 原始 JSON 负载
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewUserPayload 是 "new user" 事件的负载
type NewUserPayload struct {
	Username string `json:"username"`
}

func NewEnvelope(event string, payload any) (Envelope, error) {
	if event == "" {
		return Envelope{}, ErrEmptyEvent
	}
	if payload == nil {
		return Envelope{Event: event}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %q payload: %w", event, err)
	}
	return Envelope{Event: event, Data: data}, nil
}

// Decode 将负载解析到 v
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("event %q has no payload", e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %q payload: %w", e.Event, err)
	}
	return nil
}

// Relayed 是中继实例之间通过消息通道传递的事件.
// Origin 是发送该事件的客户端 ID, 扇出时跳过它; 服务端产生的事件 Origin 为空.
type Relayed struct {
	Origin   string   `json:"origin,omitempty"`
	Envelope Envelope `json:"envelope"`
}

func FromServer(env Envelope) Relayed {
	return Relayed{Envelope: env}
}

func FromClient(clientID string, env Envelope) Relayed {
	return Relayed{Origin: clientID, Envelope: env}
}
