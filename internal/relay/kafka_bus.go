package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go-chat-session/internal/protocol"
	"go-chat-session/pkg/config"
	"go-chat-session/pkg/logger"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// KafkaBus 通过一个 Kafka 主题在多个中继实例之间广播事件
type KafkaBus struct {
	producer sarama.SyncProducer
	consumer sarama.ConsumerGroup
	topic    string

	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

func NewKafkaBus(cfg config.KafkaConfig) (*KafkaBus, error) {
	// 配置Kafka
	kConfig := sarama.NewConfig()
	kConfig.Producer.RequiredAcks = sarama.WaitForAll
	kConfig.Producer.Return.Successes = true
	kConfig.Producer.Retry.Max = 3
	kConfig.Consumer.Return.Errors = true
	kConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	kConfig.Version = sarama.V2_8_0_0 // 使用一个稳定版本

	// 创建生产者
	producer, err := sarama.NewSyncProducer(cfg.Brokers, kConfig)
	if err != nil {
		logger.L.Error("Failed to start Kafka producer", zap.Error(err))
		return nil, fmt.Errorf("failed to start Kafka producer: %w", err)
	}

	// 每个实例使用独立的消费者组, 这样每个实例都能收到全部事件
	group := fmt.Sprintf("%s-%s", cfg.ConsumerGroup, uuid.NewString())
	consumer, err := sarama.NewConsumerGroup(cfg.Brokers, group, kConfig)
	if err != nil {
		logger.L.Error("Failed to start Kafka consumer group", zap.Error(err))
		producer.Close()
		return nil, fmt.Errorf("failed to start Kafka consumer group: %w", err)
	}

	return newKafkaBus(producer, consumer, cfg.Topic), nil
}

func newKafkaBus(producer sarama.SyncProducer, consumer sarama.ConsumerGroup, topic string) *KafkaBus {
	ctx, cancel := context.WithCancel(context.Background())
	return &KafkaBus{
		producer:   producer,
		consumer:   consumer,
		topic:      topic,
		ctx:        ctx,
		cancelFunc: cancel,
	}
}

func (b *KafkaBus) Publish(_ context.Context, msg protocol.Relayed) error {
	event := msg.Envelope.Event
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	kafkaMsg := &sarama.ProducerMessage{
		Topic: b.topic,
		Key:   sarama.StringEncoder(event),
		Value: sarama.ByteEncoder(data),
	}

	if _, _, err := b.producer.SendMessage(kafkaMsg); err != nil {
		logger.L.Error("Failed to send event to Kafka", zap.String("event", event), zap.Error(err))
		return fmt.Errorf("failed to send message to Kafka: %w", err)
	}

	logger.L.Debug("Event sent to Kafka", zap.String("event", event))
	return nil
}

func (b *KafkaBus) Subscribe(ctx context.Context, fn func(msg protocol.Relayed)) error {
	if b.consumer == nil {
		return fmt.Errorf("kafka bus has no consumer group")
	}

	handler := &kafkaConsumerHandler{fn: fn}
	topics := []string{b.topic}
	context.AfterFunc(ctx, b.cancelFunc)

	b.wg.Add(2)
	go func() {
		defer b.wg.Done()
		for err := range b.consumer.Errors() {
			logger.L.Warn("Kafka consumer group error", zap.Error(err))
		}
	}()

	// 启动消费循环
	go func() {
		defer b.wg.Done()
		for {
			if b.ctx.Err() != nil {
				logger.L.Info("Stopping Kafka consumer")
				return
			}

			if err := b.consumer.Consume(b.ctx, topics, handler); err != nil {
				logger.L.Error("Kafka consumer error", zap.Error(err))
				select {
				case <-b.ctx.Done():
					return
				case <-time.After(5 * time.Second): // 失败时等待一段时间再重试
				}
			}
		}
	}()
	return nil
}

func (b *KafkaBus) Close() error {
	b.cancelFunc()

	if err := b.producer.Close(); err != nil {
		logger.L.Error("Failed to close Kafka producer", zap.Error(err))
	}
	if b.consumer != nil {
		if err := b.consumer.Close(); err != nil {
			logger.L.Error("Failed to close Kafka consumer group", zap.Error(err))
		}
	}
	b.wg.Wait()
	return nil
}

// Kafka消费者处理器
type kafkaConsumerHandler struct {
	fn func(msg protocol.Relayed)
}

// Setup 实现sarama.ConsumerGroupHandler接口
func (h *kafkaConsumerHandler) Setup(_ sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup 实现sarama.ConsumerGroupHandler接口
func (h *kafkaConsumerHandler) Cleanup(_ sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim 实现sarama.ConsumerGroupHandler接口
func (h *kafkaConsumerHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		var msg protocol.Relayed
		if err := json.Unmarshal(message.Value, &msg); err != nil || msg.Envelope.Event == "" {
			logger.L.Error("Failed to unmarshal Kafka event", zap.Error(err))
		} else {
			h.fn(msg)
		}

		// 标记消息已处理
		session.MarkMessage(message, "")
	}
	return nil
}
