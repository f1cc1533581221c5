package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/matheus3301/chatrelay/internal/chat"
)

const previewLen = 80

func preview(content string) string {
	r := []rune(content)
	if len(r) <= previewLen {
		return content
	}
	return string(r[:previewLen-1]) + "…"
}

// upsertConversation records conv and moves its summary forward if the
// message is newer than the current one.
func upsertConversation(tx *sql.Tx, conv chat.Conversation, at int64, content string, now int64) error {
	_, err := tx.Exec(`
		INSERT INTO conversations (conv_key, kind, conv_id, last_message_at, last_message_preview, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(conv_key) DO UPDATE SET
			last_message_preview = CASE WHEN excluded.last_message_at >= conversations.last_message_at
				THEN excluded.last_message_preview ELSE conversations.last_message_preview END,
			last_message_at = MAX(conversations.last_message_at, excluded.last_message_at),
			updated_at = excluded.updated_at`,
		conv.String(), string(conv.Kind), conv.ID, at, preview(content), now)
	if err != nil {
		return fmt.Errorf("upsert conversation %s: %w", conv, err)
	}
	return nil
}

// ListConversations returns cached conversations, most recently active first.
func (db *DB) ListConversations(limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT c.kind, c.conv_id, c.last_message_at, c.last_message_preview,
			(SELECT COUNT(*) FROM messages m WHERE m.conv_key = c.conv_key)
		FROM conversations c
		ORDER BY c.last_message_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Conversation
	for rows.Next() {
		var (
			c    Conversation
			kind string
			at   int64
		)
		if err := rows.Scan(&kind, &c.Conversation.ID, &at, &c.LastMessagePreview, &c.MessageCount); err != nil {
			return nil, err
		}
		c.Conversation.Kind = chat.Kind(kind)
		c.LastMessageAt = fromMillis(at)
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetConversation returns the cached summary of conv, or nil if unknown.
func (db *DB) GetConversation(conv chat.Conversation) (*Conversation, error) {
	var (
		c  = Conversation{Conversation: conv}
		at int64
	)
	err := db.QueryRow(`
		SELECT c.last_message_at, c.last_message_preview,
			(SELECT COUNT(*) FROM messages m WHERE m.conv_key = c.conv_key)
		FROM conversations c
		WHERE c.conv_key = ?`, conv.String()).
		Scan(&at, &c.LastMessagePreview, &c.MessageCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.LastMessageAt = fromMillis(at)
	return &c, nil
}
