package relay

import (
	"fmt"

	"go-chat-session/internal/interfaces"
	"go-chat-session/pkg/config"
	"go-chat-session/pkg/logger"

	"go.uber.org/zap"
)

// NewBus 根据配置创建中继之间共享的消息通道
func NewBus(cfg config.MessagingConfig) (interfaces.Bus, error) {
	logger.L.Info("Creating bus with messaging provider", zap.String("provider", cfg.Provider))

	switch cfg.Provider {
	case "", "channel":
		// 单实例, 进程内扇出
		return NewChannelBus(), nil
	case "kafka":
		return NewKafkaBus(cfg.Kafka)
	case "redis":
		return NewRedisBus(cfg.Redis)
	case "amqp":
		return NewAMQPBus(cfg.AMQP)
	default:
		return nil, fmt.Errorf("unsupported messaging provider %q", cfg.Provider)
	}
}
