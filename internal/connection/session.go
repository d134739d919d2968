package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/rickgao/huddle-client/internal/events"
	"github.com/rickgao/huddle-client/internal/metrics"
	"github.com/rickgao/huddle-client/internal/ratelimit"
)

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSessionLogger sets the session logger.
func WithSessionLogger(l *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = l }
}

// WithSessionMetrics records session activity on m.
func WithSessionMetrics(m *metrics.Metrics) SessionOption {
	return func(s *Session) { s.metrics = m }
}

// WithDialer replaces the WebSocket client constructor.
func WithDialer(fn func(ClientConfig, *slog.Logger) Client) SessionOption {
	return func(s *Session) { s.newClient = fn }
}

// Session owns one logical chat connection across reconnects.
type Session struct {
	cfg       Config
	tokens    TokenSource
	backoff   *ratelimit.Backoff
	bucket    *ratelimit.TokenBucket
	newClient func(ClientConfig, *slog.Logger) Client
	logger    *slog.Logger
	metrics   *metrics.Metrics

	messages *events.Registry[Message]
	status   *events.Registry[StatusEvent]
	errs     *events.Registry[error]

	// Malformed frame warnings
	warn rate.Sometimes

	// Held across the bucket check, write and consume of one send.
	sendMu sync.Mutex

	mu             sync.Mutex
	state          State
	gen            uint64 // Bumped per attempt and on Disconnect
	conn           Client
	stopHeartbeat  chan struct{}
	heartbeatDone  chan struct{}
	reconnectTimer *time.Timer
	manualClose    bool
	closed         bool
	attempts       int // Reconnect attempts since the last open
	currentRoom    string
	lastRecv       time.Time

	framesSent      atomic.Int64
	framesReceived  atomic.Int64
	malformedFrames atomic.Int64
	sendsDenied     atomic.Int64
}

// NewSession creates a disconnected session. The bucket's refill loop is
// owned by the caller.
func NewSession(cfg Config, tokens TokenSource, backoff *ratelimit.Backoff, bucket *ratelimit.TokenBucket, opts ...SessionOption) *Session {
	def := DefaultConfig()
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 2 * cfg.HeartbeatInterval
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.ReconnectMinDelay <= 0 {
		cfg.ReconnectMinDelay = def.ReconnectMinDelay
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}

	s := &Session{
		cfg:       cfg,
		tokens:    tokens,
		backoff:   backoff,
		bucket:    bucket,
		newClient: NewClient,
		logger:    slog.Default(),
		warn:      rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "session")

	s.messages = events.NewRegistry[Message]("messages", s.logger)
	s.status = events.NewRegistry[StatusEvent]("status", s.logger)
	s.errs = events.NewRegistry[error]("errors", s.logger)

	s.metrics.SetState(int(StateDisconnected))
	s.metrics.SetBucketTokens(bucket.Tokens())

	return s
}

// OnMessage subscribes to decoded inbound frames. Heartbeat pings are
// answered internally and never delivered.
func (s *Session) OnMessage(fn func(Message)) (unsubscribe func()) {
	return s.messages.Subscribe(fn)
}

// OnStatusChange subscribes to state transitions.
func (s *Session) OnStatusChange(fn func(StatusEvent)) (unsubscribe func()) {
	return s.status.Subscribe(fn)
}

// OnError subscribes to non-fatal errors: gating denials, transport
// failures, malformed frames and rejected sends.
func (s *Session) OnError(fn func(error)) (unsubscribe func()) {
	return s.errs.Subscribe(fn)
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CurrentRoom returns the room joined through JoinRoom, if any.
func (s *Session) CurrentRoom() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentRoom
}

// Stats returns a snapshot of session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	st := Stats{
		State:             s.state,
		ReconnectAttempts: s.attempts,
		CurrentRoom:       s.currentRoom,
	}
	s.mu.Unlock()

	st.FramesSent = s.framesSent.Load()
	st.FramesReceived = s.framesReceived.Load()
	st.MalformedFrames = s.malformedFrames.Load()
	st.SendsDenied = s.sendsDenied.Load()
	return st
}

// Connect opens the connection. It is a no-op while already connecting or
// open. A denied attempt returns a *RateLimitError or ErrNotAuthenticated
// without touching the network. After a failed dial the session keeps
// retrying in the background.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrAlreadyClosed
	}
	s.manualClose = false
	s.cancelReconnectLocked()
	s.mu.Unlock()

	return s.attempt(ctx)
}

// attempt runs one gated connection attempt.
func (s *Session) attempt(ctx context.Context) error {
	s.mu.Lock()
	if s.closed || s.manualClose {
		s.mu.Unlock()
		return ErrAborted
	}
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.gate(); err != nil {
		s.metrics.ConnectAttempt("denied")
		s.report(err)
		return err
	}

	token, err := s.tokens.AccessToken(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrNotAuthenticated, err)
		s.metrics.ConnectAttempt("denied")
		s.report(err)
		return err
	}

	s.mu.Lock()
	if s.manualClose || s.state != StateDisconnected {
		s.mu.Unlock()
		return nil
	}
	s.gen++
	gen := s.gen
	s.setStateLocked(StateConnecting, nil)
	s.mu.Unlock()

	c := s.newClient(ClientConfig{
		URL:          s.cfg.URL,
		Token:        token,
		WriteTimeout: s.cfg.WriteTimeout,
		BufferSize:   s.cfg.BufferSize,
		ReadLimit:    s.cfg.ReadLimit,
	}, s.logger)

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	err = c.Connect(dialCtx)
	cancel()

	if err != nil {
		s.backoff.RecordAttempt(false)
		s.metrics.ConnectAttempt("failure")

		s.mu.Lock()
		if gen == s.gen {
			s.setStateLocked(StateDisconnected, err)
		}
		s.mu.Unlock()

		err = fmt.Errorf("connect: %w", err)
		s.logger.Warn("connect failed", "error", err)
		s.report(err)
		s.scheduleReconnect()
		return err
	}

	s.backoff.RecordAttempt(true)
	s.metrics.ConnectAttempt("success")

	s.mu.Lock()
	if gen != s.gen || s.manualClose {
		s.mu.Unlock()
		c.Close()
		return ErrAborted
	}
	s.attempts = 0
	s.conn = c
	s.lastRecv = time.Now()
	stop := make(chan struct{})
	done := make(chan struct{})
	s.stopHeartbeat = stop
	s.heartbeatDone = done
	go s.heartbeatLoop(c, gen, stop, done)
	go s.readLoop(c, gen, stop)
	s.setStateLocked(StateOpen, nil)
	s.mu.Unlock()

	s.logger.Info("connected", "url", s.cfg.URL)
	return nil
}

// gate applies the authentication and backoff checks shared by Connect and
// reconnects.
func (s *Session) gate() error {
	if !s.tokens.IsAuthenticated() {
		return ErrNotAuthenticated
	}
	if !s.backoff.CanAttempt() {
		wait := s.backoff.NextAttemptDelay()
		if s.backoff.IsRateLimited() {
			wait = max(wait, s.backoff.ResetIn())
		}
		return &RateLimitError{Op: "connect", Wait: wait}
	}
	return nil
}

// scheduleReconnect arms a reconnect unless the session was closed on
// purpose. An unauthenticated or window-limited session stalls instead and
// only an explicit Connect resumes it.
func (s *Session) scheduleReconnect() {
	s.mu.Lock()
	if s.closed || s.manualClose || s.reconnectTimer != nil {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if !s.tokens.IsAuthenticated() {
		s.logger.Warn("reconnect stalled", "reason", "not authenticated")
		s.report(fmt.Errorf("reconnect: %w", ErrNotAuthenticated))
		return
	}
	if s.backoff.IsRateLimited() {
		err := &RateLimitError{Op: "connect", Wait: s.backoff.ResetIn()}
		s.logger.Warn("reconnect stalled", "reason", "rate limited", "reset_in", err.Wait)
		s.report(fmt.Errorf("reconnect: %w", err))
		return
	}

	delay := max(s.backoff.NextAttemptDelay(), s.cfg.ReconnectMinDelay)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.manualClose || s.reconnectTimer != nil {
		return
	}
	s.attempts++
	s.logger.Info("reconnecting", "attempt", s.attempts, "delay", delay)

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.reconnectTimer != t {
			s.mu.Unlock()
			return
		}
		s.reconnectTimer = nil
		s.mu.Unlock()

		_ = s.attempt(context.Background())
	})
	s.reconnectTimer = t
}

// cancelReconnectLocked stops a pending reconnect. Caller holds s.mu.
func (s *Session) cancelReconnectLocked() {
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
}

// readLoop dispatches frames from c until it fails or is replaced.
func (s *Session) readLoop(c Client, gen uint64, stop <-chan struct{}) {
	for {
		select {
		case m := <-c.Messages():
			s.handleFrame(c, m)

		case err := <-c.Errors():
			// Frames read before the failure are still delivered.
			for {
				select {
				case m := <-c.Messages():
					s.handleFrame(c, m)
					continue
				default:
				}
				break
			}
			s.handleClose(gen, fmt.Errorf("%w: %w", ErrConnectionLost, err))
			return

		case <-stop:
			return
		}
	}
}

// heartbeatLoop sends ping frames and closes the socket when nothing has
// arrived within PongTimeout.
func (s *Session) heartbeatLoop(c Client, gen uint64, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		silent := time.Since(s.lastRecv)
		s.mu.Unlock()

		if silent > s.cfg.PongTimeout {
			s.metrics.StaleClose()
			s.logger.Warn("connection stale", "silent_for", silent)
			s.handleClose(gen, ErrStaleConnection)
			return
		}

		data, err := EncodeMessage(PingPayload{Nonce: uuid.NewString()}, "", time.Now())
		if err != nil {
			s.logger.Error("encode ping", "error", err)
			continue
		}
		if err := c.Send(data); err != nil {
			s.logger.Debug("ping failed", "error", err)
			continue
		}
		s.framesSent.Add(1)
		s.metrics.FrameSent(string(TypePing))
	}
}

// handleFrame decodes one frame. Pings get a pong reply and are not
// forwarded.
func (s *Session) handleFrame(c Client, m TimestampedMessage) {
	s.mu.Lock()
	s.lastRecv = m.ReceivedAt
	s.mu.Unlock()

	msg, err := DecodeMessage(m.Data)
	if err != nil {
		s.malformedFrames.Add(1)
		s.metrics.MalformedFrame()
		s.warn.Do(func() {
			s.logger.Warn("dropping malformed frame", "error", err, "size", len(m.Data))
		})
		s.report(fmt.Errorf("%w: %w", ErrMalformedFrame, err))
		return
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = m.ReceivedAt
	}
	s.framesReceived.Add(1)
	s.metrics.FrameReceived(string(msg.Type))

	if ping, ok := msg.Payload.(PingPayload); ok {
		data, err := EncodeMessage(PongPayload{Nonce: ping.Nonce}, "", time.Now())
		if err == nil {
			err = c.Send(data)
		}
		if err != nil {
			s.logger.Debug("pong failed", "error", err)
			return
		}
		s.framesSent.Add(1)
		s.metrics.FrameSent(string(TypePong))
		return
	}

	s.messages.Publish(msg)
}

// handleClose tears down connection gen after an unexpected close and
// schedules a reconnect. Closes of a superseded connection are ignored.
func (s *Session) handleClose(gen uint64, cause error) {
	s.mu.Lock()
	if gen != s.gen || s.state != StateOpen {
		s.mu.Unlock()
		return
	}
	c := s.conn
	s.conn = nil
	if s.stopHeartbeat != nil {
		close(s.stopHeartbeat)
		s.stopHeartbeat = nil
	}
	s.setStateLocked(StateDisconnected, cause)
	s.mu.Unlock()

	if c != nil {
		c.Close()
	}

	s.logger.Warn("connection closed", "cause", cause)
	s.report(cause)
	s.scheduleReconnect()
}

// Disconnect closes the connection and cancels heartbeats and pending
// reconnects. The session stays disconnected until Connect is called.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.manualClose = true
	s.gen++
	s.cancelReconnectLocked()

	var done chan struct{}
	if s.stopHeartbeat != nil {
		close(s.stopHeartbeat)
		done = s.heartbeatDone
		s.stopHeartbeat = nil
		s.heartbeatDone = nil
	}

	c := s.conn
	s.conn = nil
	if c != nil {
		s.setStateLocked(StateClosing, nil)
	}
	s.mu.Unlock()

	if done != nil {
		<-done
	}
	if c != nil {
		c.Close()
	}

	s.mu.Lock()
	s.setStateLocked(StateDisconnected, nil)
	s.mu.Unlock()

	if c != nil {
		s.logger.Info("disconnected")
	}
}

// Close disconnects and releases subscriber registries.
func (s *Session) Close() error {
	s.Disconnect()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.messages.Close()
	s.status.Close()
	s.errs.Close()
	return nil
}

// SendMessage sends payload to roomID, or to the current room when roomID
// is empty. It fails with ErrNotOpen unless the session is open and with a
// *RateLimitError when the token bucket is empty. A token is consumed only
// after a successful write. Concurrent sends are serialized.
func (s *Session) SendMessage(p Payload, roomID string) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	state, c := s.state, s.conn
	if roomID == "" {
		roomID = s.currentRoom
	}
	s.mu.Unlock()

	if state != StateOpen || c == nil {
		s.deny("not_open", ErrNotOpen)
		return ErrNotOpen
	}

	if !s.bucket.CanSend() {
		err := &RateLimitError{Op: "send", Wait: s.bucket.TimeUntilNext()}
		s.deny("rate_limited", err)
		return err
	}

	data, err := EncodeMessage(p, roomID, time.Now())
	if err != nil {
		s.report(err)
		return err
	}

	if err := c.Send(data); err != nil {
		err = fmt.Errorf("send: %w", err)
		s.report(err)
		return err
	}

	s.bucket.Consume()
	s.framesSent.Add(1)
	s.metrics.FrameSent(string(p.Type()))
	s.metrics.SetBucketTokens(s.bucket.Tokens())
	return nil
}

// JoinRoom announces presence in roomID and makes it the current room.
func (s *Session) JoinRoom(roomID string) error {
	if roomID == "" {
		return errors.New("join room: empty room id")
	}
	if err := s.SendMessage(PresencePayload{Action: PresenceJoin, RoomID: roomID}, roomID); err != nil {
		return err
	}

	s.mu.Lock()
	s.currentRoom = roomID
	s.mu.Unlock()
	return nil
}

// LeaveRoom announces departure from the current room.
func (s *Session) LeaveRoom() error {
	s.mu.Lock()
	roomID := s.currentRoom
	s.mu.Unlock()

	if roomID == "" {
		return ErrNoRoom
	}
	if err := s.SendMessage(PresencePayload{Action: PresenceLeave, RoomID: roomID}, roomID); err != nil {
		return err
	}

	s.mu.Lock()
	if s.currentRoom == roomID {
		s.currentRoom = ""
	}
	s.mu.Unlock()
	return nil
}

func (s *Session) deny(reason string, err error) {
	s.sendsDenied.Add(1)
	s.metrics.SendDenied(reason)
	s.report(err)
}

func (s *Session) report(err error) {
	s.errs.Publish(err)
}

// setStateLocked records a transition and notifies subscribers. Caller
// holds s.mu; Publish only enqueues.
func (s *Session) setStateLocked(state State, cause error) {
	if s.state == state {
		return
	}
	prev := s.state
	s.state = state
	s.metrics.SetState(int(state))
	s.status.Publish(StatusEvent{
		State:    state,
		Previous: prev,
		Err:      cause,
		At:       time.Now(),
	})
}
