package interfaces

import (
	"context"

	"go-chat-session/internal/protocol"
)

// 定义了处理客户端上行事件的接口
// service.RelayService实现
type EventHandler interface {
	HandleEvent(clientID string, username string, env protocol.Envelope)
}

// 定义了处理连接事件的方法
// service.RelayService实现
type ConnectionEventHandler interface {
	HandleUserConnected(clientID string, username string)
	HandleUserDisconnected(clientID string, username string) // 可选
}

// Publisher 把事件发布到中继之间共享的消息通道
type Publisher interface {
	Publish(ctx context.Context, msg protocol.Relayed) error
}

// Bus 是可替换的消息通道实现: channel / kafka / redis / amqp
type Bus interface {
	Publisher
	// Subscribe 在后台消费, 每个事件调用一次 fn, 直到 ctx 结束或 Close
	Subscribe(ctx context.Context, fn func(msg protocol.Relayed)) error
	Close() error
}
