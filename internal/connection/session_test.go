package connection

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/huddle-client/internal/ratelimit"
)

type fakeTokens struct {
	authed atomic.Bool
	token  string
}

func newFakeTokens(token string) *fakeTokens {
	f := &fakeTokens{token: token}
	f.authed.Store(true)
	return f
}

func (f *fakeTokens) IsAuthenticated() bool { return f.authed.Load() }

func (f *fakeTokens) AccessToken(context.Context) (string, error) {
	if !f.authed.Load() {
		return "", errors.New("no credentials")
	}
	return f.token, nil
}

type wireFrame struct {
	Type   MessageType     `json:"type"`
	Data   json.RawMessage `json:"data"`
	RoomID string          `json:"roomId"`
}

func testConfig(url string) Config {
	return Config{
		URL:               url,
		HeartbeatInterval: time.Hour,
		PongTimeout:       2 * time.Hour,
		ConnectTimeout:    2 * time.Second,
		WriteTimeout:      time.Second,
		ReconnectMinDelay: 10 * time.Millisecond,
		BufferSize:        16,
	}
}

type harness struct {
	s       *Session
	backoff *ratelimit.Backoff
	bucket  *ratelimit.TokenBucket
	msgs    chan Message
	status  chan StatusEvent
	errs    chan error
}

func newHarness(t *testing.T, cfg Config, tokens TokenSource, capacity int) *harness {
	t.Helper()

	backoff := ratelimit.NewBackoff("websocket_connection", ratelimit.BackoffConfig{
		MaxAttempts:  5,
		Window:       time.Minute,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     40 * time.Millisecond,
	})
	bucket := ratelimit.NewTokenBucket(ratelimit.TokenBucketConfig{
		Capacity:       capacity,
		RefillRate:     1,
		RefillInterval: time.Hour,
	})

	h := &harness{
		s:       NewSession(cfg, tokens, backoff, bucket),
		backoff: backoff,
		bucket:  bucket,
		msgs:    make(chan Message, 64),
		status:  make(chan StatusEvent, 64),
		errs:    make(chan error, 64),
	}
	h.s.OnMessage(func(m Message) { offer(h.msgs, m) })
	h.s.OnStatusChange(func(e StatusEvent) { offer(h.status, e) })
	h.s.OnError(func(err error) { offer(h.errs, err) })
	t.Cleanup(func() { h.s.Close() })
	return h
}

// offer drops v when ch is full so a slow test never stalls dispatch.
func offer[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}

func (h *harness) waitState(t *testing.T, want State) StatusEvent {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-h.status:
			if e.State == want {
				return e
			}
		case <-timeout:
			t.Fatalf("timeout waiting for state %s (current %s)", want, h.s.State())
		}
	}
}

func (h *harness) waitError(t *testing.T, target error) error {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case err := <-h.errs:
			if errors.Is(err, target) {
				return err
			}
		case <-timeout:
			t.Fatalf("timeout waiting for error %v", target)
		}
	}
}

func (h *harness) waitMessage(t *testing.T) Message {
	t.Helper()
	select {
	case m := <-h.msgs:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
	return Message{}
}

func readFrame(t *testing.T, frames <-chan wireFrame) wireFrame {
	t.Helper()
	select {
	case f := <-frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for frame")
	}
	return wireFrame{}
}

// recordingServer forwards every client frame to the returned channel.
func recordingServer(t *testing.T) (string, <-chan wireFrame, *atomic.Int32, func()) {
	frames := make(chan wireFrame, 64)
	var conns atomic.Int32

	server := mockWSServer(t, func(conn *websocket.Conn) {
		conns.Add(1)
		for {
			var f wireFrame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			frames <- f
		}
	})
	return wsURL(server), frames, &conns, server.Close
}

func TestSession_Connect(t *testing.T) {
	url, _, conns, stop := recordingServer(t)
	defer stop()

	h := newHarness(t, testConfig(url), newFakeTokens("tok"), 60)

	if err := h.s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if e := h.waitState(t, StateConnecting); e.Previous != StateDisconnected {
		t.Errorf("previous = %s, want disconnected", e.Previous)
	}
	h.waitState(t, StateOpen)

	if got := h.s.State(); got != StateOpen {
		t.Errorf("State = %s, want open", got)
	}
	if got := h.backoff.State().Attempts; got != 0 {
		t.Errorf("failed attempts = %d, want 0", got)
	}
	if got := conns.Load(); got != 1 {
		t.Errorf("connections = %d, want 1", got)
	}

	// Connecting again while open is a no-op.
	if err := h.s.Connect(context.Background()); err != nil {
		t.Errorf("second Connect: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if got := conns.Load(); got != 1 {
		t.Errorf("connections after second Connect = %d, want 1", got)
	}
}

func TestSession_ConnectNotAuthenticated(t *testing.T) {
	url, _, conns, stop := recordingServer(t)
	defer stop()

	tokens := newFakeTokens("tok")
	tokens.authed.Store(false)
	h := newHarness(t, testConfig(url), tokens, 60)

	err := h.s.Connect(context.Background())
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("Connect = %v, want ErrNotAuthenticated", err)
	}
	h.waitError(t, ErrNotAuthenticated)

	if got := h.s.State(); got != StateDisconnected {
		t.Errorf("State = %s, want disconnected", got)
	}
	if got := conns.Load(); got != 0 {
		t.Errorf("connections = %d, want 0", got)
	}
}

func TestSession_ConnectRateLimited(t *testing.T) {
	url, _, conns, stop := recordingServer(t)
	defer stop()

	h := newHarness(t, testConfig(url), newFakeTokens("tok"), 60)
	for range 5 {
		h.backoff.RecordAttempt(false)
	}

	err := h.s.Connect(context.Background())
	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("Connect = %v, want *RateLimitError", err)
	}
	if rle.Op != "connect" || rle.Wait <= 0 {
		t.Errorf("RateLimitError = %+v", rle)
	}
	if !errors.Is(err, ErrRateLimited) {
		t.Error("expected errors.Is(err, ErrRateLimited)")
	}
	if got := conns.Load(); got != 0 {
		t.Errorf("connections = %d, want 0", got)
	}
}

func TestSession_DialFailureBacksOffThenStalls(t *testing.T) {
	url, _, _, stop := recordingServer(t)
	stop()

	h := newHarness(t, testConfig(url), newFakeTokens("tok"), 60)

	if err := h.s.Connect(context.Background()); err == nil {
		t.Fatal("expected dial error")
	}
	if got := h.backoff.State().Attempts; got < 1 {
		t.Errorf("failed attempts = %d, want >= 1", got)
	}

	// Reconnects keep failing until the window cap stops them.
	h.waitError(t, ErrRateLimited)

	if got := h.backoff.State().Attempts; got != 5 {
		t.Errorf("failed attempts = %d, want 5", got)
	}
	if got := h.s.State(); got != StateDisconnected {
		t.Errorf("State = %s, want disconnected", got)
	}
}

func TestSession_ConnectTimeoutCountsAsFailure(t *testing.T) {
	// Accepts TCP but never answers the handshake.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	var accepted atomic.Int32
	var mu sync.Mutex
	var held []net.Conn
	defer func() {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range held {
			c.Close()
		}
	}()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			accepted.Add(1)
			mu.Lock()
			held = append(held, conn)
			mu.Unlock()
		}
	}()

	cfg := testConfig("ws://" + ln.Addr().String())
	cfg.ConnectTimeout = 100 * time.Millisecond
	cfg.ReconnectMinDelay = 200 * time.Millisecond
	h := newHarness(t, cfg, newFakeTokens("tok"), 60)

	start := time.Now()
	if err := h.s.Connect(context.Background()); err == nil {
		t.Fatal("expected connect timeout")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Connect took %v", elapsed)
	}
	if got := h.backoff.State().Attempts; got != 1 {
		t.Errorf("failed attempts = %d, want 1", got)
	}
	if got := h.s.State(); got != StateDisconnected {
		t.Errorf("State = %s, want disconnected", got)
	}

	// The timed out attempt schedules a reconnect.
	deadline := time.Now().Add(2 * time.Second)
	for accepted.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("accepted %d connections, want a reconnect attempt", accepted.Load())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSession_Heartbeat(t *testing.T) {
	pings := make(chan string, 64)

	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			var f wireFrame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			if f.Type != TypePing {
				continue
			}
			var p PingPayload
			json.Unmarshal(f.Data, &p)
			pings <- p.Nonce

			pong, _ := EncodeMessage(PongPayload{Nonce: p.Nonce}, "", time.Now())
			if err := conn.WriteMessage(websocket.TextMessage, pong); err != nil {
				return
			}
		}
	})
	defer server.Close()

	cfg := testConfig(wsURL(server))
	cfg.HeartbeatInterval = 30 * time.Millisecond
	cfg.PongTimeout = 500 * time.Millisecond
	h := newHarness(t, cfg, newFakeTokens("tok"), 60)

	if err := h.s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	seen := map[string]bool{}
	for range 3 {
		select {
		case nonce := <-pings:
			if nonce == "" || seen[nonce] {
				t.Errorf("bad ping nonce %q", nonce)
			}
			seen[nonce] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for ping")
		}
	}

	m := h.waitMessage(t)
	if m.Type != TypePong {
		t.Errorf("forwarded type = %s, want pong", m.Type)
	}

	if got := h.s.State(); got != StateOpen {
		t.Errorf("State = %s, want open", got)
	}
	// Pings are not subject to the message bucket.
	if got := h.bucket.Tokens(); got != 60 {
		t.Errorf("tokens = %d, want 60", got)
	}
}

func TestSession_StaleConnection(t *testing.T) {
	url, _, _, stop := recordingServer(t)
	defer stop()

	cfg := testConfig(url)
	cfg.HeartbeatInterval = 20 * time.Millisecond
	cfg.PongTimeout = 50 * time.Millisecond
	h := newHarness(t, cfg, newFakeTokens("tok"), 60)

	if err := h.s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	h.waitState(t, StateOpen)

	e := h.waitState(t, StateDisconnected)
	if !errors.Is(e.Err, ErrStaleConnection) {
		t.Errorf("close cause = %v, want ErrStaleConnection", e.Err)
	}
}

func TestSession_MissingTimestampUsesReceiveTime(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"chat","data":"no stamp","roomId":"r1"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"chat","data":"stamped","roomId":"r1","timestamp":1000}`))
		drain(conn)
	})
	defer server.Close()

	h := newHarness(t, testConfig(wsURL(server)), newFakeTokens("tok"), 60)
	before := time.Now()
	if err := h.s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	m := h.waitMessage(t)
	if m.Timestamp.IsZero() || m.Timestamp.Before(before.Add(-time.Second)) {
		t.Errorf("Timestamp = %v, want receive time after %v", m.Timestamp, before)
	}

	m = h.waitMessage(t)
	if want := time.UnixMilli(1000); !m.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", m.Timestamp, want)
	}
}

func TestSession_AutoPong(t *testing.T) {
	pongs := make(chan string, 1)

	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping","data":{"nonce":"n1"},"timestamp":1}`))

		var f wireFrame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		if f.Type == TypePong {
			var p PongPayload
			json.Unmarshal(f.Data, &p)
			pongs <- p.Nonce
		}

		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"chat","data":"after ping","roomId":"r1","timestamp":2}`))
		drain(conn)
	})
	defer server.Close()

	h := newHarness(t, testConfig(wsURL(server)), newFakeTokens("tok"), 60)
	if err := h.s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case nonce := <-pongs:
		if nonce != "n1" {
			t.Errorf("pong nonce = %q, want n1", nonce)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for pong")
	}

	m := h.waitMessage(t)
	if m.Type != TypeChat {
		t.Fatalf("first forwarded type = %s, want chat", m.Type)
	}
	if got := m.Payload.(ChatPayload).Text; got != "after ping" {
		t.Errorf("text = %q", got)
	}
}

func TestSession_MalformedFrame(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{{not json`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"typing","data":{}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"chat","data":"ok","timestamp":3}`))
		drain(conn)
	})
	defer server.Close()

	h := newHarness(t, testConfig(wsURL(server)), newFakeTokens("tok"), 60)
	if err := h.s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	m := h.waitMessage(t)
	if m.Type != TypeChat {
		t.Errorf("forwarded type = %s, want chat", m.Type)
	}

	h.waitError(t, ErrMalformedFrame)
	err := h.waitError(t, ErrMalformedFrame)
	if !errors.Is(err, ErrUnknownVariant) {
		t.Errorf("second error = %v, want ErrUnknownVariant", err)
	}

	st := h.s.Stats()
	if st.MalformedFrames != 2 {
		t.Errorf("MalformedFrames = %d, want 2", st.MalformedFrames)
	}
	if st.State != StateOpen {
		t.Errorf("State = %s, want open", st.State)
	}
}

func TestSession_SendNotOpen(t *testing.T) {
	h := newHarness(t, testConfig("ws://127.0.0.1:1"), newFakeTokens("tok"), 60)

	err := h.s.SendMessage(ChatPayload{Text: "hi"}, "r1")
	if !errors.Is(err, ErrNotOpen) {
		t.Fatalf("SendMessage = %v, want ErrNotOpen", err)
	}
	h.waitError(t, ErrNotOpen)

	if got := h.s.Stats().SendsDenied; got != 1 {
		t.Errorf("SendsDenied = %d, want 1", got)
	}
	if got := h.bucket.Tokens(); got != 60 {
		t.Errorf("tokens = %d, want 60", got)
	}
}

func TestSession_SendRateLimited(t *testing.T) {
	url, frames, _, stop := recordingServer(t)
	defer stop()

	h := newHarness(t, testConfig(url), newFakeTokens("tok"), 2)
	if err := h.s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	for i := range 2 {
		if err := h.s.SendMessage(ChatPayload{Text: "msg"}, "r1"); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	err := h.s.SendMessage(ChatPayload{Text: "one too many"}, "r1")
	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("third send = %v, want *RateLimitError", err)
	}
	if rle.Op != "send" || rle.Wait <= 0 {
		t.Errorf("RateLimitError = %+v", rle)
	}
	if got := h.bucket.Tokens(); got != 0 {
		t.Errorf("tokens = %d, want 0", got)
	}

	for range 2 {
		f := readFrame(t, frames)
		if f.Type != TypeChat || f.RoomID != "r1" {
			t.Errorf("frame = %+v", f)
		}
	}
	select {
	case f := <-frames:
		t.Errorf("unexpected frame %+v", f)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSession_ConcurrentSendsRespectBucket(t *testing.T) {
	url, frames, _, stop := recordingServer(t)
	defer stop()

	const capacity = 5
	h := newHarness(t, testConfig(url), newFakeTokens("tok"), capacity)
	if err := h.s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	var (
		wg      sync.WaitGroup
		sent    atomic.Int32
		limited atomic.Int32
		ready   = make(chan struct{})
	)
	for range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-ready
			err := h.s.SendMessage(ChatPayload{Text: "burst"}, "r1")
			switch {
			case err == nil:
				sent.Add(1)
			case errors.Is(err, ErrRateLimited):
				limited.Add(1)
			default:
				t.Errorf("SendMessage: %v", err)
			}
		}()
	}
	close(ready)
	wg.Wait()

	if got := sent.Load(); got != capacity {
		t.Errorf("sent = %d, want %d", got, capacity)
	}
	if got := limited.Load(); got != 200-capacity {
		t.Errorf("rate limited = %d, want %d", got, 200-capacity)
	}
	if got := h.bucket.Tokens(); got != 0 {
		t.Errorf("tokens = %d, want 0", got)
	}

	for range capacity {
		readFrame(t, frames)
	}
	select {
	case f := <-frames:
		t.Errorf("frame beyond capacity: %+v", f)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSession_JoinLeaveRoom(t *testing.T) {
	url, frames, _, stop := recordingServer(t)
	defer stop()

	h := newHarness(t, testConfig(url), newFakeTokens("tok"), 60)
	if err := h.s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := h.s.LeaveRoom(); !errors.Is(err, ErrNoRoom) {
		t.Errorf("LeaveRoom before join = %v, want ErrNoRoom", err)
	}

	if err := h.s.JoinRoom("r1"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	f := readFrame(t, frames)
	if f.Type != TypePresence || f.RoomID != "r1" || string(f.Data) != `{"action":"join","roomId":"r1"}` {
		t.Errorf("join frame = %+v data=%s", f, f.Data)
	}
	if got := h.s.CurrentRoom(); got != "r1" {
		t.Errorf("CurrentRoom = %q, want r1", got)
	}

	// An empty room targets the current room.
	if err := h.s.SendMessage(ChatPayload{Text: "hi"}, ""); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if f := readFrame(t, frames); f.RoomID != "r1" {
		t.Errorf("chat roomId = %q, want r1", f.RoomID)
	}

	if err := h.s.LeaveRoom(); err != nil {
		t.Fatalf("LeaveRoom: %v", err)
	}
	f = readFrame(t, frames)
	if string(f.Data) != `{"action":"leave","roomId":"r1"}` {
		t.Errorf("leave data = %s", f.Data)
	}
	if got := h.s.CurrentRoom(); got != "" {
		t.Errorf("CurrentRoom = %q, want empty", got)
	}
}

func TestSession_ReconnectAfterServerClose(t *testing.T) {
	var conns atomic.Int32

	server := mockWSServer(t, func(conn *websocket.Conn) {
		if conns.Add(1) == 1 {
			return
		}
		drain(conn)
	})
	defer server.Close()

	h := newHarness(t, testConfig(wsURL(server)), newFakeTokens("tok"), 60)
	if err := h.s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	h.waitState(t, StateOpen)
	e := h.waitState(t, StateDisconnected)
	if !errors.Is(e.Err, ErrConnectionLost) {
		t.Errorf("close cause = %v, want ErrConnectionLost", e.Err)
	}
	h.waitState(t, StateOpen)

	if got := conns.Load(); got != 2 {
		t.Errorf("connections = %d, want 2", got)
	}
	// A close after a successful open is not a failed attempt.
	if got := h.backoff.State().Attempts; got != 0 {
		t.Errorf("failed attempts = %d, want 0", got)
	}
	if got := h.s.Stats().ReconnectAttempts; got != 0 {
		t.Errorf("ReconnectAttempts = %d, want 0 after reopen", got)
	}
}

func TestSession_ReconnectStallsWhenUnauthenticated(t *testing.T) {
	var conns atomic.Int32
	release := make(chan struct{})

	server := mockWSServer(t, func(conn *websocket.Conn) {
		conns.Add(1)
		<-release
	})
	defer server.Close()

	tokens := newFakeTokens("tok")
	h := newHarness(t, testConfig(wsURL(server)), tokens, 60)
	if err := h.s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	h.waitState(t, StateOpen)

	tokens.authed.Store(false)
	close(release)

	h.waitState(t, StateDisconnected)
	h.waitError(t, ErrNotAuthenticated)

	time.Sleep(100 * time.Millisecond)
	if got := conns.Load(); got != 1 {
		t.Errorf("connections = %d, want 1", got)
	}
	if got := h.s.State(); got != StateDisconnected {
		t.Errorf("State = %s, want disconnected", got)
	}
}

func TestSession_DisconnectStopsReconnect(t *testing.T) {
	url, _, conns, stop := recordingServer(t)
	defer stop()

	cfg := testConfig(url)
	cfg.HeartbeatInterval = 10 * time.Millisecond
	h := newHarness(t, cfg, newFakeTokens("tok"), 60)

	if err := h.s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	h.waitState(t, StateOpen)

	h.s.Disconnect()
	h.waitState(t, StateClosing)
	h.waitState(t, StateDisconnected)

	time.Sleep(100 * time.Millisecond)
	if got := conns.Load(); got != 1 {
		t.Errorf("connections = %d, want 1", got)
	}
	if got := h.s.State(); got != StateDisconnected {
		t.Errorf("State = %s, want disconnected", got)
	}
	if err := h.s.SendMessage(ChatPayload{Text: "late"}, "r1"); !errors.Is(err, ErrNotOpen) {
		t.Errorf("SendMessage after Disconnect = %v, want ErrNotOpen", err)
	}

	// Connect resumes after a manual disconnect.
	if err := h.s.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	h.waitState(t, StateOpen)
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateOpen, "open"},
		{StateClosing, "closing"},
		{State(9), "state(9)"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", int(tt.s), got, tt.want)
		}
	}
}
