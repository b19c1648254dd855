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

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	amqpDialAttempts = 5
	amqpDialInterval = 2 * time.Second
)

// 测试中替换, 避免真实等待
var amqpSleep = time.Sleep

// AMQPBus 通过 fanout 交换机在中继实例之间广播事件, 每个订阅者一个独占队列
type AMQPBus struct {
	conn     *amqp.Connection
	pubCh    *amqp.Channel
	pubMu    sync.Mutex
	exchange string

	wg sync.WaitGroup
}

func dialAMQP(url string) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error
	for attempt := 1; attempt <= amqpDialAttempts; attempt++ {
		if conn, err = amqp.Dial(url); err == nil {
			logger.L.Info("Successfully connected to RabbitMQ")
			return conn, nil
		}
		if attempt == amqpDialAttempts {
			break
		}
		logger.L.Warn("Failed to connect to RabbitMQ, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("interval", amqpDialInterval),
			zap.Error(err))
		amqpSleep(amqpDialInterval)
	}
	return nil, fmt.Errorf("could not connect to RabbitMQ after %d attempts: %w", amqpDialAttempts, err)
}

func NewAMQPBus(cfg config.AMQPConfig) (*AMQPBus, error) {
	conn, err := dialAMQP(cfg.URL)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", cfg.Exchange, err)
	}

	return &AMQPBus{conn: conn, pubCh: ch, exchange: cfg.Exchange}, nil
}

func (b *AMQPBus) Publish(ctx context.Context, ev protocol.Relayed) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	err = b.pubCh.PublishWithContext(ctx, b.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        data,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to RabbitMQ: %w", err)
	}
	return nil
}

func (b *AMQPBus) Subscribe(ctx context.Context, fn func(ev protocol.Relayed)) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open a channel: %w", err)
	}

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("failed to declare a queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", b.exchange, false, nil); err != nil {
		ch.Close()
		return fmt.Errorf("failed to bind queue %s: %w", q.Name, err)
	}

	msgs, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("failed to register a consumer: %w", err)
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					return
				}
				var ev protocol.Relayed
				if err := json.Unmarshal(d.Body, &ev); err != nil || ev.Envelope.Event == "" {
					logger.L.Error("Failed to unmarshal RabbitMQ event", zap.Error(err))
					continue
				}
				fn(ev)
			}
		}
	}()
	return nil
}

func (b *AMQPBus) Close() error {
	// 关闭连接会关闭所有 channel, 消费循环随之退出
	err := b.conn.Close()
	b.wg.Wait()
	return err
}
