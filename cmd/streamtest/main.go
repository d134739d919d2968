// streamtest connects with stored credentials and prints every parsed
// inbound frame.
// Usage: go run ./cmd/streamtest --config configs/chatclient.yaml [--room general] [--verbose]
//
// Sign in first with chatclient; streamtest never prompts for credentials.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rickgao/huddle-client/internal/app"
	"github.com/rickgao/huddle-client/internal/config"
	"github.com/rickgao/huddle-client/internal/connection"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	room := flag.String("room", "", "room to announce presence in")
	verbose := flag.Bool("verbose", false, "print full message JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	// Load config
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		a.Close(shutdownCtx)
		logger.Info("shutdown complete")
	}()

	if err := a.Start(ctx); err != nil {
		logger.Error("failed to start", "error", err)
		return
	}

	if !a.Auth.IsAuthenticated() {
		logger.Error("no stored credentials; sign in with chatclient first",
			"store", cfg.Store.Backend,
		)
		return
	}

	a.Session.OnMessage(func(m connection.Message) { printFrame(m, *verbose) })
	a.Session.OnStatusChange(func(e connection.StatusEvent) {
		logger.Info("status", "state", e.State, "previous", e.Previous, "cause", e.Err)
	})
	a.Session.OnError(func(err error) {
		logger.Warn("session error", "error", err)
	})

	// Connect is retried by the session after dial failures.
	if err := a.Session.Connect(ctx); err != nil {
		logger.Error("connect failed", "error", err)
	}

	if *room != "" {
		go func() {
			for a.Session.State() != connection.StateOpen {
				select {
				case <-ctx.Done():
					return
				case <-time.After(100 * time.Millisecond):
				}
			}
			if err := a.Session.JoinRoom(*room); err != nil {
				logger.Error("join failed", "room", *room, "error", err)
			}
		}()
	}

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st := a.Session.Stats()
				b := a.Backoff.State()
				logger.Info("stats",
					"state", st.State,
					"frames_received", st.FramesReceived,
					"frames_sent", st.FramesSent,
					"malformed", st.MalformedFrames,
					"reconnect_attempts", st.ReconnectAttempts,
					"failed_attempts", b.Attempts,
					"tokens", a.Bucket.Tokens(),
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	// Wait for shutdown
	<-ctx.Done()
}

func printFrame(m connection.Message, verbose bool) {
	if verbose {
		data, _ := json.MarshalIndent(m, "", "  ")
		fmt.Printf("[%s] %s\n", m.Type, data)
		return
	}

	switch p := m.Payload.(type) {
	case connection.ChatPayload:
		fmt.Printf("[CHAT] room=%s sender=%s text=%q\n", m.RoomID, m.SenderID, p.Text)
	case connection.PresencePayload:
		fmt.Printf("[PRESENCE] room=%s sender=%s action=%s\n", p.RoomID, m.SenderID, p.Action)
	case connection.TaskPayload:
		fmt.Printf("[TASK] room=%s id=%s title=%q status=%s\n", m.RoomID, p.ID, p.Title, p.Status)
	case connection.NotificationPayload:
		fmt.Printf("[NOTIFICATION] level=%s title=%q body=%q\n", p.Level, p.Title, p.Body)
	case connection.PongPayload:
		fmt.Printf("[PONG] nonce=%s\n", p.Nonce)
	default:
		fmt.Printf("[%s] %+v\n", m.Type, m.Payload)
	}
}
