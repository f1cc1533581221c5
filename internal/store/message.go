package store

import (
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/matheus3301/chatrelay/internal/chat"
)

const messageColumns = `msg_id, channel_id, thread_id, sender_id, sender_name, sender_image, content, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(s scanner) (chat.Message, error) {
	var (
		m       chat.Message
		created int64
	)
	if err := s.Scan(&m.ID, &m.ChannelID, &m.ThreadID, &m.SenderID, &m.Sender.Name, &m.Sender.Image, &m.Content, &created); err != nil {
		return chat.Message{}, err
	}
	m.Sender.ID = m.SenderID
	m.CreatedAt = fromMillis(created)
	return m, nil
}

// UpsertMessage caches a confirmed message (idempotent on the message id) and
// bumps its conversation summary.
func (db *DB) UpsertMessage(m chat.Message) error {
	_, err := db.UpsertMessages([]chat.Message{m})
	return err
}

// UpsertMessages caches a batch of confirmed messages in one transaction and
// returns how many were written.
func (db *DB) UpsertMessages(msgs []chat.Message) (int, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, m := range msgs {
		if err := upsertMessage(tx, m, now); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(msgs), nil
}

func upsertMessage(tx *sql.Tx, m chat.Message, now int64) error {
	if m.ID == "" {
		return fmt.Errorf("upsert message: empty id")
	}
	conv := m.Conversation()
	if !conv.Valid() {
		return fmt.Errorf("upsert message %s: no conversation", m.ID)
	}
	created := toMillis(m.CreatedAt)
	_, err := tx.Exec(`
		INSERT INTO messages (msg_id, conv_key, channel_id, thread_id, sender_id, sender_name, sender_image, content, created_at, cached_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(msg_id) DO UPDATE SET
			sender_name = excluded.sender_name,
			sender_image = excluded.sender_image,
			content = excluded.content`,
		m.ID, conv.String(), m.ChannelID, m.ThreadID, m.SenderID, m.Sender.Name, m.Sender.Image, m.Content, created, now)
	if err != nil {
		return fmt.Errorf("upsert message %s: %w", m.ID, err)
	}
	return upsertConversation(tx, conv, created, m.Content, now)
}

// DeleteMessage removes a cached message. It reports whether a row existed.
func (db *DB) DeleteMessage(id string) (bool, error) {
	res, err := db.Exec(`DELETE FROM messages WHERE msg_id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete message %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListMessages returns up to limit messages of a conversation created before
// the given time, oldest first. A zero before means now.
func (db *DB) ListMessages(conv chat.Conversation, before time.Time, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	beforeMs := toMillis(before)
	if beforeMs <= 0 {
		beforeMs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE conv_key = ? AND created_at < ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, conv.String(), beforeMs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []chat.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(msgs)
	return msgs, nil
}
