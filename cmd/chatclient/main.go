// chatclient is an interactive terminal chat client.
// Usage: go run ./cmd/chatclient --config configs/chatclient.yaml --email ada@example.com --room general
//
// Lines typed on stdin are sent as chat messages to the current room.
// Commands:
//
//	/join <room>     join a room (membership + presence)
//	/leave           leave the current room
//	/rooms           list rooms
//	/create <name>   create a room
//	/who             list participants of the current room
//	/stats           print session counters
//	/logout          sign out and disconnect
//	/quit            exit
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rickgao/huddle-client/internal/app"
	"github.com/rickgao/huddle-client/internal/auth"
	"github.com/rickgao/huddle-client/internal/config"
	"github.com/rickgao/huddle-client/internal/connection"
	"github.com/rickgao/huddle-client/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional; HUDDLE_* env vars apply)")
	email := flag.String("email", "", "sign in with this email when no session is stored")
	name := flag.String("register", "", "register a new account with this display name")
	room := flag.String("room", "", "room to join after connecting")
	flag.Parse()

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Logs go to stderr so they do not interleave with chat output.
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("starting chatclient",
		"version", version.Version,
		"commit", version.Commit,
		"ws_url", cfg.API.WSURL,
		"store", cfg.Store.Backend,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
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
		if err := a.Close(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}()

	if err := a.Start(ctx); err != nil {
		logger.Error("failed to start", "error", err)
		return
	}

	if err := signIn(ctx, a, *email, *name); err != nil {
		logger.Error("sign in failed", "error", err)
		return
	}

	a.Auth.OnSessionEvent(func(e auth.SessionEvent) {
		fmt.Printf("* session %s\n", e.Type)
		if e.Type == auth.SessionExpired {
			a.Session.Disconnect()
		}
	})
	a.Session.OnStatusChange(func(e connection.StatusEvent) {
		if e.Err != nil {
			fmt.Printf("* %s (%v)\n", e.State, e.Err)
			return
		}
		fmt.Printf("* %s\n", e.State)
	})
	a.Session.OnError(func(err error) {
		logger.Debug("session error", "error", err)
		var rle *connection.RateLimitError
		if errors.As(err, &rle) {
			fmt.Printf("! slow down: retry in %s\n", rle.Wait.Round(100*time.Millisecond))
		}
	})
	a.Session.OnMessage(printMessage)

	if err := a.Session.Connect(ctx); err != nil {
		logger.Error("connect failed", "error", err)
	}
	if *room != "" {
		if err := joinRoom(ctx, a, *room); err != nil {
			logger.Error("join failed", "room", *room, "error", err)
		}
	}

	lines := make(chan string)
	go readLines(lines)

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := handleLine(ctx, a, line); quit {
				return
			}
		}
	}
}

// signIn reuses a stored session or logs in with the given email and the
// HUDDLE_PASSWORD environment variable.
func signIn(ctx context.Context, a *app.App, email, registerName string) error {
	if a.Auth.IsAuthenticated() {
		if u, ok := a.Auth.User(ctx); ok {
			fmt.Printf("* signed in as %s\n", u.Name)
		}
		return nil
	}
	if email == "" {
		return errors.New("no stored session: pass --email and set HUDDLE_PASSWORD")
	}

	password := os.Getenv("HUDDLE_PASSWORD")
	if password == "" {
		return errors.New("HUDDLE_PASSWORD is not set")
	}

	if registerName != "" {
		if err := a.Auth.Register(ctx, email, password, registerName); err != nil {
			return err
		}
	} else if err := a.Auth.Login(ctx, email, password); err != nil {
		return err
	}

	if u, ok := a.Auth.User(ctx); ok {
		fmt.Printf("* signed in as %s\n", u.Name)
	}
	return nil
}

func joinRoom(ctx context.Context, a *app.App, roomID string) error {
	if err := a.Rooms.JoinRoom(ctx, roomID); err != nil {
		return err
	}
	return a.Session.JoinRoom(roomID)
}

func leaveRoom(ctx context.Context, a *app.App) error {
	roomID := a.Session.CurrentRoom()
	if roomID == "" {
		return connection.ErrNoRoom
	}
	if err := a.Session.LeaveRoom(); err != nil {
		return err
	}
	return a.Rooms.LeaveRoom(ctx, roomID)
}

// handleLine runs one line of input and reports whether to exit.
func handleLine(ctx context.Context, a *app.App, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	if !strings.HasPrefix(line, "/") {
		if err := a.Session.SendMessage(connection.ChatPayload{Text: line}, ""); err != nil {
			fmt.Printf("! %v\n", err)
		}
		return false
	}

	cmd, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)

	var err error
	switch cmd {
	case "quit", "exit":
		return true

	case "join":
		err = joinRoom(ctx, a, arg)

	case "leave":
		err = leaveRoom(ctx, a)

	case "rooms":
		var rooms []roomLine
		if rooms, err = listRooms(ctx, a); err == nil {
			for _, r := range rooms {
				fmt.Printf("  %-20s %s (%d)\n", r.id, r.name, r.participants)
			}
		}

	case "create":
		var id string
		if id, err = createRoom(ctx, a, arg); err == nil {
			fmt.Printf("* created room %s\n", id)
		}

	case "who":
		err = who(ctx, a)

	case "stats":
		st := a.Session.Stats()
		fmt.Printf("  state=%s room=%q sent=%d received=%d malformed=%d denied=%d tokens=%d/%d\n",
			st.State, st.CurrentRoom, st.FramesSent, st.FramesReceived,
			st.MalformedFrames, st.SendsDenied, a.Bucket.Tokens(), a.Bucket.Capacity())

	case "logout":
		a.Session.Disconnect()
		err = a.Auth.Logout(ctx)
		if err == nil {
			return true
		}

	default:
		err = fmt.Errorf("unknown command /%s", cmd)
	}

	if err != nil {
		fmt.Printf("! %v\n", err)
	}
	return false
}

type roomLine struct {
	id, name     string
	participants int
}

func listRooms(ctx context.Context, a *app.App) ([]roomLine, error) {
	rooms, err := a.Rooms.ListRooms(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]roomLine, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, roomLine{id: r.ID, name: r.Name, participants: len(r.Participants)})
	}
	return out, nil
}

func createRoom(ctx context.Context, a *app.App, name string) (string, error) {
	room, err := a.Rooms.CreateRoom(ctx, name)
	if err != nil {
		return "", err
	}
	return room.ID, nil
}

func who(ctx context.Context, a *app.App) error {
	roomID := a.Session.CurrentRoom()
	if roomID == "" {
		return connection.ErrNoRoom
	}
	users, err := a.Rooms.ListParticipants(ctx, roomID)
	if err != nil {
		return err
	}
	for _, u := range users {
		fmt.Printf("  %s\n", u.Name)
	}
	return nil
}

func printMessage(m connection.Message) {
	stamp := m.Timestamp.Local().Format("15:04:05")

	switch p := m.Payload.(type) {
	case connection.ChatPayload:
		fmt.Printf("[%s] <%s> %s\n", stamp, m.SenderID, p.Text)
	case connection.PresencePayload:
		verb := "joined"
		if p.Action == connection.PresenceLeave {
			verb = "left"
		}
		fmt.Printf("[%s] * %s %s %s\n", stamp, m.SenderID, verb, p.RoomID)
	case connection.NotificationPayload:
		fmt.Printf("[%s] ! %s %s\n", stamp, p.Title, p.Body)
	case connection.TaskPayload:
		fmt.Printf("[%s] task %s: %s [%s]\n", stamp, p.ID, p.Title, p.Status)
	case connection.PongPayload:
		// Heartbeat replies
	}
}

func readLines(out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}
