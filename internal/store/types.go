package store

import (
	"time"

	"github.com/matheus3301/chatrelay/internal/chat"
)

// Conversation is a cached conversation summary.
type Conversation struct {
	Conversation       chat.Conversation
	LastMessageAt      time.Time
	LastMessagePreview string
	MessageCount       int
}

// SearchResult holds a cached message matching a search.
type SearchResult struct {
	Message chat.Message
	Snippet string
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
