package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-chat-session/internal/api"
	"go-chat-session/internal/protocol"
	"go-chat-session/internal/relay"
	"go-chat-session/internal/service"
	"go-chat-session/pkg/config"
	"go-chat-session/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	flag.Parse()

	// 初始化配置
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	if err := logger.InitLogger(cfg.Log.Level, cfg.Log.Production); err != nil {
		return err
	}
	defer logger.Sync()
	if cfg.Log.Production {
		gin.SetMode(gin.ReleaseMode)
	}

	codec, err := protocol.NewCodec(cfg.Relay.Codec)
	if err != nil {
		return err
	}

	bus, err := relay.NewBus(cfg.Messaging)
	if err != nil {
		return fmt.Errorf("failed to create messaging bus: %w", err)
	}
	defer func() {
		logger.L.Info("Closing messaging bus...")
		_ = bus.Close()
	}()

	hub := relay.NewHub(cfg.WebSocket, codec)
	go hub.Run()
	defer hub.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 消息通道上的事件全部交给本实例的 Hub 扇出
	if err := bus.Subscribe(ctx, func(msg protocol.Relayed) {
		if err := hub.Broadcast(msg); err != nil {
			logger.L.Warn("Failed to fan out event", zap.String("event", msg.Envelope.Event), zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("failed to subscribe to messaging bus: %w", err)
	}

	svc := service.NewRelayService(bus)
	router := api.NewRouter(cfg.Relay,
		api.NewWSHandler(hub, codec, svc, cfg.WebSocket),
		api.NewEventHandler(svc, hub))

	srv := &http.Server{
		Addr:    cfg.Relay.Addr,
		Handler: router,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.L.Info("Starting relay server",
			zap.String("addr", cfg.Relay.Addr),
			zap.String("path", cfg.Relay.Path),
			zap.String("codec", codec.Name()),
			zap.String("provider", cfg.Messaging.Provider))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("relay server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.L.Info("Shutting down gracefully...")
	case err := <-errChan:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("relay server shutdown: %w", err)
	}
	logger.L.Info("Relay stopped cleanly")
	return nil
}
