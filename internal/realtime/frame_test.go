package realtime

import (
	"encoding/json"
	"testing"

	"github.com/matheus3301/chatrelay/internal/chat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
		typ     string
	}{
		{"new message", `{"type":"NEW_MESSAGE","payload":{"id":"m1"}}`, false, TypeNewMessage},
		{"unknown type passes", `{"type":"TYPING","payload":{}}`, false, "TYPING"},
		{"no payload", `{"type":"PING"}`, false, "PING"},
		{"not json", `hello`, true, ""},
		{"missing type", `{"payload":{}}`, true, ""},
		{"array", `[1,2]`, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := DecodeFrame([]byte(tt.raw))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.typ, f.Type)
		})
	}
}

func TestEncodeFrame(t *testing.T) {
	data, err := EncodeFrame(TypeJoinThread, MembershipPayload{ThreadID: "t1"})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "JOIN_THREAD", got["type"])
	assert.Equal(t, map[string]any{"threadId": "t1"}, got["payload"])
}

func TestDecodeMessagePayload(t *testing.T) {
	f, err := DecodeFrame([]byte(`{"type":"NEW_MESSAGE","payload":{"id":"srv1","content":"hi","senderId":"u1","channelId":"c1","createdAt":"2024-05-01T10:00:00Z","sender":{"id":"u1","name":"Ann","image":"a.png"}}}`))
	require.NoError(t, err)

	m, err := f.DecodeMessage()
	require.NoError(t, err)
	assert.Equal(t, "srv1", m.ID)
	assert.Equal(t, chat.ChannelConversation("c1"), m.Conversation())
	assert.Equal(t, "a.png", m.Sender.Image)

	_, err = Frame{Type: TypeNewMessage, Payload: json.RawMessage(`{"content":"x"}`)}.DecodeMessage()
	assert.Error(t, err, "payload without id must be rejected")
}

func TestDecodeDeletionPayload(t *testing.T) {
	d, err := Frame{Type: TypeMessageDeleted, Payload: json.RawMessage(`{"id":"m1","threadId":"t1"}`)}.DecodeDeletion()
	require.NoError(t, err)
	assert.Equal(t, chat.ThreadConversation("t1"), d.Conversation())
}

func TestMembershipFrame(t *testing.T) {
	typ, p := membershipFrame(chat.ChannelConversation("c1"), true)
	assert.Equal(t, TypeJoinChannel, typ)
	assert.Equal(t, "c1", p.ChannelID)

	typ, p = membershipFrame(chat.ThreadConversation("t1"), false)
	assert.Equal(t, TypeLeaveThread, typ)
	assert.Equal(t, "t1", p.ThreadID)
}
