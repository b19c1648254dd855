package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go-chat-session/internal/connection"
	"go-chat-session/internal/dispatch"
	"go-chat-session/internal/protocol"
	"go-chat-session/internal/session"
	"go-chat-session/pkg/backoff"
	"go-chat-session/pkg/config"
	"go-chat-session/pkg/logger"

	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// terminalUI 把消息逐行打印到终端
type terminalUI struct {
	out io.Writer
}

func (u terminalUI) Show(msg session.Message) {
	fmt.Fprintln(u.out, msg.Render())
}

func (u terminalUI) Logout() {
	fmt.Fprintln(u.out, "*** logged out ***")
}

func run() error {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	user := flag.String("user", "", "override client.current_user")
	host := flag.String("host", "", "override client.host")
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if *user != "" {
		cfg.Client.CurrentUser = *user
	}
	if *host != "" {
		cfg.Client.Host = *host
	}
	if cfg.Client.CurrentUser == "" {
		return errors.New("current user is required (client.current_user or -user)")
	}

	if err := logger.InitLogger(cfg.Log.Level, cfg.Log.Production); err != nil {
		return err
	}
	defer logger.Sync()

	codec, err := protocol.NewCodec(cfg.Client.Codec)
	if err != nil {
		return err
	}

	manager := connection.NewManager(connection.NewWebsocketDialer(cfg.WebSocket), codec)
	d := dispatch.New(manager, cfg.Client.QueueSize)
	defer d.Close()

	s := session.New(session.NewIdentity(cfg.Client.CurrentUser), d, manager, terminalUI{out: os.Stdout})
	defer s.Close()

	retry := make(chan error, 1)
	d.OnError(func(err error) {
		var connErr *connection.ConnectionError
		if !errors.As(err, &connErr) {
			logger.L.Warn("Session error", zap.Error(err))
			return
		}
		select {
		case retry <- err:
		default:
		}
	})

	connected := make(chan struct{}, 1)
	d.OnStateChange(func(ev connection.StateEvent) {
		if ev.New == connection.Connected {
			fmt.Fprintf(os.Stdout, "*** connected as %s ***\n", cfg.Client.CurrentUser)
			select {
			case connected <- struct{}{}:
			default:
			}
		}
	})

	opts := connection.Options{
		Path:   cfg.Client.Path,
		Secure: cfg.Client.Secure,
		Query:  url.Values{"username": {cfg.Client.CurrentUser}},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := manager.Connect(ctx, cfg.Client.Host, opts); err != nil {
		return err
	}

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	policy := backoff.FromConfig(cfg.Client.Backoff)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var redial <-chan time.Time
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			logger.L.Info("Interrupted, closing session")
			return nil

		case <-s.Done():
			return nil

		case <-connected:
			attempt = 0

		case err := <-retry:
			attempt++
			if policy.Exhausted(attempt) {
				return fmt.Errorf("giving up after %d attempts: %w", attempt-1, err)
			}
			delay := policy.Delay(attempt, rng)
			logger.L.Warn("Relay unreachable, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err))
			redial = time.After(delay)

		case <-redial:
			redial = nil
			if err := manager.Connect(ctx, cfg.Client.Host, opts); err != nil &&
				!errors.Is(err, connection.ErrAlreadyConnected) &&
				!errors.Is(err, connection.ErrTransitionInProgress) {
				return err
			}

		case line, ok := <-lines:
			if !ok {
				return nil
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			if err := s.Send(text); err != nil {
				fmt.Fprintf(os.Stderr, "not sent: %v\n", err)
			}
		}
	}
}
