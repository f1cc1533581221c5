package chat

import (
	"fmt"
	"strings"
	"time"
)

// Kind distinguishes the two conversation flavours the backend exposes.
type Kind string

const (
	Channel Kind = "channel"
	Thread  Kind = "thread"
)

// Conversation identifies a channel or a thread.
type Conversation struct {
	Kind Kind
	ID   string
}

// ChannelConversation returns the conversation for a channel id.
func ChannelConversation(id string) Conversation {
	return Conversation{Kind: Channel, ID: id}
}

// ThreadConversation returns the conversation for a thread id.
func ThreadConversation(id string) Conversation {
	return Conversation{Kind: Thread, ID: id}
}

// Valid reports whether the conversation has a known kind and a non-empty id.
func (c Conversation) Valid() bool {
	return (c.Kind == Channel || c.Kind == Thread) && c.ID != ""
}

func (c Conversation) String() string {
	return string(c.Kind) + ":" + c.ID
}

// ParseConversation parses "channel:<id>" or "thread:<id>".
func ParseConversation(s string) (Conversation, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok {
		return Conversation{}, fmt.Errorf("invalid conversation %q: want channel:<id> or thread:<id>", s)
	}
	c := Conversation{Kind: Kind(kind), ID: id}
	if !c.Valid() {
		return Conversation{}, fmt.Errorf("invalid conversation %q: want channel:<id> or thread:<id>", s)
	}
	return c, nil
}

// Sender is the summary of a message author.
type Sender struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}

// Message is a server-confirmed message. It is immutable once visible.
type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	SenderID  string    `json:"senderId"`
	ChannelID string    `json:"channelId,omitempty"`
	ThreadID  string    `json:"threadId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	Sender    Sender    `json:"sender"`
}

// Conversation returns the destination of the message. Thread wins when both
// ids are present, since thread replies also carry their parent channel.
func (m Message) Conversation() Conversation {
	if m.ThreadID != "" {
		return ThreadConversation(m.ThreadID)
	}
	return ChannelConversation(m.ChannelID)
}

// SetConversation fills the channel or thread id from c.
func (m *Message) SetConversation(c Conversation) {
	switch c.Kind {
	case Thread:
		m.ThreadID = c.ID
	default:
		m.ChannelID = c.ID
	}
}

// Deletion is the MESSAGE_DELETED payload.
type Deletion struct {
	ID        string `json:"id"`
	ChannelID string `json:"channelId,omitempty"`
	ThreadID  string `json:"threadId,omitempty"`
}

// Conversation returns the conversation the deleted message belonged to.
func (d Deletion) Conversation() Conversation {
	if d.ThreadID != "" {
		return ThreadConversation(d.ThreadID)
	}
	return ChannelConversation(d.ChannelID)
}

// CreateRequest is the input of the message-create call.
type CreateRequest struct {
	Conversation   Conversation
	Content        string
	IdempotencyKey string
}

// SendFailure describes an outbound message dropped after exhausting retries.
type SendFailure struct {
	TempID       string
	Conversation Conversation
	Content      string
	Attempts     int
	Err          string
	FailedAt     time.Time
}
