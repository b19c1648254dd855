package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go-chat-session/internal/interfaces"
	"go-chat-session/internal/protocol"
	"go-chat-session/pkg/logger"

	"go.uber.org/zap"
)

const publishTimeout = 5 * time.Second

var ErrEmptyUsername = errors.New("username is required")

// RelayService 决定客户端上行事件如何转发
type RelayService struct {
	bus interfaces.Publisher
}

func NewRelayService(bus interfaces.Publisher) *RelayService {
	return &RelayService{bus: bus}
}

func (s *RelayService) publish(msg protocol.Relayed) error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return s.bus.Publish(ctx, msg)
}

// HandleEvent 转发客户端发来的 "message" 给其他连接.
// "new user" 和 "logout" 只能由服务端产生, 客户端发来的其他事件一律丢弃.
func (s *RelayService) HandleEvent(clientID string, username string, env protocol.Envelope) {
	logger.L.Debug("HandleEvent called by WebSocket client",
		zap.String("clientID", clientID),
		zap.String("username", username),
		zap.String("event", env.Event))

	if env.Event != protocol.EventMessage {
		logger.L.Warn("Dropping client event that only the server may send",
			zap.String("clientID", clientID),
			zap.String("username", username),
			zap.String("event", env.Event))
		return
	}

	if err := s.publish(protocol.FromClient(clientID, env)); err != nil {
		logger.L.Error("Error relaying event received via WebSocket",
			zap.String("clientID", clientID),
			zap.String("event", env.Event),
			zap.Error(err))
	}
}

// HandleUserConnected 广播 "new user" 事件
func (s *RelayService) HandleUserConnected(clientID string, username string) {
	env, err := protocol.NewEnvelope(protocol.EventNewUser, protocol.NewUserPayload{Username: username})
	if err != nil {
		logger.L.Error("Failed to build new user event", zap.Error(err))
		return
	}
	if err := s.publish(protocol.FromServer(env)); err != nil {
		logger.L.Error("Failed to announce new user",
			zap.String("clientID", clientID),
			zap.String("username", username),
			zap.Error(err))
		return
	}
	logger.L.Info("New user announced", zap.String("clientID", clientID), zap.String("username", username))
}

func (s *RelayService) HandleUserDisconnected(clientID string, username string) {
	logger.L.Debug("User disconnected", zap.String("clientID", clientID), zap.String("username", username))
}

// Logout 通知所有会话: username 已登出, 对应的客户端会自行断开
func (s *RelayService) Logout(username string) error {
	if username == "" {
		return ErrEmptyUsername
	}
	env, err := protocol.NewEnvelope(protocol.EventLogout, username)
	if err != nil {
		return err
	}
	if err := s.publish(protocol.FromServer(env)); err != nil {
		return fmt.Errorf("failed to broadcast logout: %w", err)
	}
	logger.L.Info("Logout broadcast", zap.String("username", username))
	return nil
}

// Announce 由服务端主动广播任意事件
func (s *RelayService) Announce(env protocol.Envelope) error {
	if env.Event == "" {
		return protocol.ErrEmptyEvent
	}
	if err := s.publish(protocol.FromServer(env)); err != nil {
		return fmt.Errorf("failed to broadcast %q: %w", env.Event, err)
	}
	return nil
}
