package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go-chat-session/internal/protocol"
	"go-chat-session/pkg/config"
	"go-chat-session/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBus 使用 Redis pub/sub 频道在中继实例之间广播事件
type RedisBus struct {
	rdb     *redis.Client
	channel string

	mu     sync.Mutex
	pubsub []*redis.PubSub
	wg     sync.WaitGroup
}

func NewRedisBus(cfg config.RedisConfig) (*RedisBus, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("could not connect to Redis at %s: %w", cfg.Addr, err)
	}
	logger.L.Info("Successfully connected to Redis", zap.String("addr", cfg.Addr))

	return &RedisBus{rdb: rdb, channel: cfg.Channel}, nil
}

func (b *RedisBus) Publish(ctx context.Context, ev protocol.Relayed) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to Redis: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, fn func(ev protocol.Relayed)) error {
	ps := b.rdb.Subscribe(ctx, b.channel)
	// 等待订阅确认, 之后发布的事件不会丢
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return fmt.Errorf("failed to subscribe to Redis channel %s: %w", b.channel, err)
	}

	b.mu.Lock()
	b.pubsub = append(b.pubsub, ps)
	b.mu.Unlock()

	ch := ps.Channel()
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev protocol.Relayed
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil || ev.Envelope.Event == "" {
					logger.L.Error("Failed to unmarshal Redis event", zap.Error(err))
					continue
				}
				fn(ev)
			}
		}
	}()
	return nil
}

func (b *RedisBus) Close() error {
	b.mu.Lock()
	subs := b.pubsub
	b.pubsub = nil
	b.mu.Unlock()

	for _, ps := range subs {
		if err := ps.Close(); err != nil {
			logger.L.Warn("Failed to close Redis subscription", zap.Error(err))
		}
	}
	b.wg.Wait()
	return b.rdb.Close()
}
