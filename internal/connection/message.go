package connection

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// MessageType is the wire type tag of a frame.
type MessageType string

const (
	TypePresence     MessageType = "presence"
	TypeChat         MessageType = "chat"
	TypeTask         MessageType = "task"
	TypeNotification MessageType = "notification"
	TypePing         MessageType = "ping"
	TypePong         MessageType = "pong"
)

// ErrUnknownVariant is wrapped by decode errors for unrecognized type tags.
var ErrUnknownVariant = errors.New("unknown variant")

// Payload is the type-specific body of a message. Each MessageType has
// exactly one payload type.
type Payload interface {
	Type() MessageType
}

// PresenceAction is the action carried by a presence frame.
type PresenceAction string

const (
	PresenceJoin  PresenceAction = "join"
	PresenceLeave PresenceAction = "leave"
)

// PresencePayload announces a room join or leave.
type PresencePayload struct {
	Action PresenceAction `json:"action"`
	RoomID string         `json:"roomId"`
}

// ChatPayload is chat text. It travels as a bare JSON string.
type ChatPayload struct {
	Text string
}

// TaskPayload describes a shared task update.
type TaskPayload struct {
	ID         string `json:"id,omitempty"`
	Title      string `json:"title"`
	Status     string `json:"status,omitempty"`
	AssigneeID string `json:"assigneeId,omitempty"`
}

// NotificationPayload is a server-originated notice.
type NotificationPayload struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body"`
	Level string `json:"level,omitempty"`
}

// PingPayload is an application-level keepalive.
type PingPayload struct {
	Nonce string `json:"nonce,omitempty"`
}

// PongPayload answers a ping, echoing its nonce.
type PongPayload struct {
	Nonce string `json:"nonce,omitempty"`
}

func (PresencePayload) Type() MessageType     { return TypePresence }
func (ChatPayload) Type() MessageType         { return TypeChat }
func (TaskPayload) Type() MessageType         { return TypeTask }
func (NotificationPayload) Type() MessageType { return TypeNotification }
func (PingPayload) Type() MessageType         { return TypePing }
func (PongPayload) Type() MessageType         { return TypePong }

func (p ChatPayload) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Text)
}

func (p *ChatPayload) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &p.Text)
}

func (p PresencePayload) validate() error {
	if p.Action != PresenceJoin && p.Action != PresenceLeave {
		return fmt.Errorf("presence action %q must be join or leave", p.Action)
	}
	if p.RoomID == "" {
		return errors.New("presence roomId is required")
	}
	return nil
}

// Message is a decoded inbound frame.
type Message struct {
	ID        string
	Type      MessageType
	RoomID    string
	SenderID  string
	Payload   Payload
	Timestamp time.Time
}

type outboundFrame struct {
	Type      MessageType `json:"type"`
	Data      Payload     `json:"data"`
	RoomID    string      `json:"roomId,omitempty"`
	Timestamp int64       `json:"timestamp"` // unix ms
}

type inboundFrame struct {
	ID        string          `json:"id,omitempty"`
	Type      MessageType     `json:"type"`
	RoomID    string          `json:"roomId,omitempty"`
	SenderID  string          `json:"senderId,omitempty"`
	Data      json.RawMessage `json:"data"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// EncodeMessage serializes an outbound frame. The payload's type is the
// frame's type tag.
func EncodeMessage(p Payload, roomID string, at time.Time) ([]byte, error) {
	if p == nil {
		return nil, errors.New("encode message: nil payload")
	}
	if pp, ok := p.(PresencePayload); ok {
		if err := pp.validate(); err != nil {
			return nil, fmt.Errorf("encode message: %w", err)
		}
	}

	data, err := json.Marshal(outboundFrame{
		Type:      p.Type(),
		Data:      p,
		RoomID:    roomID,
		Timestamp: at.UnixMilli(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", p.Type(), err)
	}
	return data, nil
}

// DecodeMessage parses an inbound frame. Unknown type tags yield an error
// wrapping ErrUnknownVariant.
func DecodeMessage(data []byte) (Message, error) {
	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return Message{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Type == "" {
		return Message{}, errors.New("decode frame: missing type")
	}

	payload, err := decodePayload(f.Type, f.Data)
	if err != nil {
		return Message{}, err
	}

	ts, err := parseTimestamp(f.Timestamp)
	if err != nil {
		return Message{}, fmt.Errorf("decode %s frame: %w", f.Type, err)
	}

	return Message{
		ID:        f.ID,
		Type:      f.Type,
		RoomID:    f.RoomID,
		SenderID:  f.SenderID,
		Payload:   payload,
		Timestamp: ts,
	}, nil
}

func decodePayload(t MessageType, raw json.RawMessage) (Payload, error) {
	empty := len(raw) == 0 || bytes.Equal(raw, []byte("null"))

	switch t {
	case TypePresence:
		var p PresencePayload
		if err := unmarshalRequired(t, raw, empty, &p); err != nil {
			return nil, err
		}
		if err := p.validate(); err != nil {
			return nil, fmt.Errorf("decode presence payload: %w", err)
		}
		return p, nil

	case TypeChat:
		var p ChatPayload
		if err := unmarshalRequired(t, raw, empty, &p); err != nil {
			return nil, err
		}
		return p, nil

	case TypeTask:
		var p TaskPayload
		if err := unmarshalRequired(t, raw, empty, &p); err != nil {
			return nil, err
		}
		return p, nil

	case TypeNotification:
		var p NotificationPayload
		if err := unmarshalRequired(t, raw, empty, &p); err != nil {
			return nil, err
		}
		return p, nil

	case TypePing:
		var p PingPayload
		if !empty {
			// Any body is accepted; only an object nonce is kept.
			_ = json.Unmarshal(raw, &p)
		}
		return p, nil

	case TypePong:
		var p PongPayload
		if !empty {
			_ = json.Unmarshal(raw, &p)
		}
		return p, nil

	default:
		return nil, fmt.Errorf("decode frame: %w %q", ErrUnknownVariant, t)
	}
}

func unmarshalRequired(t MessageType, raw json.RawMessage, empty bool, v any) error {
	if empty {
		return fmt.Errorf("decode %s payload: missing data", t)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", t, err)
	}
	return nil
}

// parseTimestamp accepts unix milliseconds or an RFC 3339 string.
func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, fmt.Errorf("timestamp: %w", err)
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(ms), nil
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("timestamp %q: %w", s, err)
		}
		return t, nil
	}

	var ms json.Number
	if err := json.Unmarshal(raw, &ms); err != nil {
		return time.Time{}, fmt.Errorf("timestamp: %w", err)
	}
	if n, err := ms.Int64(); err == nil {
		return time.UnixMilli(n), nil
	}
	f, err := ms.Float64()
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %s: %w", ms, err)
	}
	return time.UnixMilli(int64(f)), nil
}
