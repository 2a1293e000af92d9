package realtime

import (
	"bytes"
	"encoding/json"
	"time"
)

// Message types exchanged with clients.
const (
	TypeUserJoined      = "user_joined"
	TypeUserLeft        = "user_left"
	TypeCursorPositions = "cursor_positions"
	TypeCursorUpdate    = "cursor_update"
	TypeChatMessage     = "chat_message"
)

const timestampLayout = "2006-01-02T15:04:05.000000Z"

var emptyPosition = json.RawMessage(`{}`)

// Envelope is the JSON frame sent to clients.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type presenceEvent struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Timestamp string `json:"timestamp"`
}

type cursorEvent struct {
	UserID    string          `json:"user_id"`
	Username  string          `json:"username"`
	Position  json.RawMessage `json:"position"`
	Timestamp string          `json:"timestamp"`
}

type cursorPosition struct {
	Username  string          `json:"username"`
	Position  json.RawMessage `json:"position"`
	Timestamp string          `json:"timestamp"`
}

type chatEvent struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func decodeInbound(frame []byte) (inbound, error) {
	var msg inbound
	if err := json.Unmarshal(frame, &msg); err != nil {
		return inbound{}, &ProtocolError{Reason: "malformed json"}
	}
	if msg.Type == "" {
		return inbound{}, &ProtocolError{Reason: "missing type"}
	}
	return msg, nil
}

// dataObject decodes the data member as an object. Absent or null data is an empty object.
func dataObject(raw json.RawMessage) (map[string]json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return fields, nil
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, &ProtocolError{Reason: "data must be an object"}
	}
	return fields, nil
}

func cursorPayload(raw json.RawMessage) (json.RawMessage, error) {
	fields, err := dataObject(raw)
	if err != nil {
		return nil, err
	}
	position, ok := fields["position"]
	if !ok || len(position) == 0 || bytes.Equal(bytes.TrimSpace(position), []byte("null")) {
		return emptyPosition, nil
	}
	return position, nil
}

func chatPayload(raw json.RawMessage) (string, error) {
	fields, err := dataObject(raw)
	if err != nil {
		return "", err
	}
	value, ok := fields["message"]
	if !ok {
		return "", nil
	}
	var message string
	if err := json.Unmarshal(value, &message); err != nil {
		return "", &ProtocolError{Reason: "message must be a string"}
	}
	return message, nil
}
