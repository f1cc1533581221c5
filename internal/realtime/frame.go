package realtime

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/matheus3301/chatrelay/internal/chat"
)

// Inbound frame types.
const (
	TypeNewMessage     = "NEW_MESSAGE"
	TypeMessageDeleted = "MESSAGE_DELETED"
	TypeError          = "ERROR"
)

// Outbound control frame types.
const (
	TypeJoinChannel  = "JOIN_CHANNEL"
	TypeLeaveChannel = "LEAVE_CHANNEL"
	TypeJoinThread   = "JOIN_THREAD"
	TypeLeaveThread  = "LEAVE_THREAD"
)

// Frame is the wire envelope for every message in either direction.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ErrorPayload is the body of an ERROR frame.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// MembershipPayload is the body of JOIN_*/LEAVE_* frames.
type MembershipPayload struct {
	ChannelID string `json:"channelId,omitempty"`
	ThreadID  string `json:"threadId,omitempty"`
}

var errNoType = errors.New("frame has no type")

// DecodeFrame parses a raw inbound frame.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Type == "" {
		return Frame{}, errNoType
	}
	return f, nil
}

// EncodeFrame serializes {type, payload}.
func EncodeFrame(typ string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	return json.Marshal(Frame{Type: typ, Payload: raw})
}

// DecodeMessage reads a NEW_MESSAGE payload.
func (f Frame) DecodeMessage() (chat.Message, error) {
	var m chat.Message
	if err := json.Unmarshal(f.Payload, &m); err != nil {
		return chat.Message{}, fmt.Errorf("decode %s payload: %w", f.Type, err)
	}
	if m.ID == "" {
		return chat.Message{}, fmt.Errorf("decode %s payload: missing id", f.Type)
	}
	return m, nil
}

// DecodeDeletion reads a MESSAGE_DELETED payload.
func (f Frame) DecodeDeletion() (chat.Deletion, error) {
	var d chat.Deletion
	if err := json.Unmarshal(f.Payload, &d); err != nil {
		return chat.Deletion{}, fmt.Errorf("decode %s payload: %w", f.Type, err)
	}
	if d.ID == "" {
		return chat.Deletion{}, fmt.Errorf("decode %s payload: missing id", f.Type)
	}
	return d, nil
}

// DecodeError reads an ERROR payload.
func (f Frame) DecodeError() (ErrorPayload, error) {
	var p ErrorPayload
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		return ErrorPayload{}, fmt.Errorf("decode %s payload: %w", f.Type, err)
	}
	return p, nil
}

// DecodeMembership reads a JOIN_*/LEAVE_* payload.
func (f Frame) DecodeMembership() (MembershipPayload, error) {
	var p MembershipPayload
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		return MembershipPayload{}, fmt.Errorf("decode %s payload: %w", f.Type, err)
	}
	return p, nil
}

// membershipFrame returns the frame type and payload that join or leave c.
func membershipFrame(c chat.Conversation, join bool) (string, MembershipPayload) {
	if c.Kind == chat.Thread {
		if join {
			return TypeJoinThread, MembershipPayload{ThreadID: c.ID}
		}
		return TypeLeaveThread, MembershipPayload{ThreadID: c.ID}
	}
	if join {
		return TypeJoinChannel, MembershipPayload{ChannelID: c.ID}
	}
	return TypeLeaveChannel, MembershipPayload{ChannelID: c.ID}
}
