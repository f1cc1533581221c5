package store

import (
	"fmt"

	"github.com/matheus3301/chatrelay/internal/chat"
)

// RecordFailure stores a message that exhausted its send attempts. Recording
// the same temp id twice keeps the first row.
func (db *DB) RecordFailure(f chat.SendFailure) error {
	_, err := db.Exec(`
		INSERT INTO send_failures (temp_id, conv_key, content, attempts, error, failed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(temp_id) DO NOTHING`,
		f.TempID, f.Conversation.String(), f.Content, f.Attempts, f.Err, toMillis(f.FailedAt))
	if err != nil {
		return fmt.Errorf("record failure %s: %w", f.TempID, err)
	}
	return nil
}

// ListFailures returns recorded send failures, newest first.
func (db *DB) ListFailures(limit int) ([]chat.SendFailure, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT temp_id, conv_key, content, attempts, error, failed_at
		FROM send_failures
		ORDER BY failed_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []chat.SendFailure
	for rows.Next() {
		var (
			f      chat.SendFailure
			key    string
			failed int64
		)
		if err := rows.Scan(&f.TempID, &key, &f.Content, &f.Attempts, &f.Err, &failed); err != nil {
			return nil, err
		}
		conv, err := chat.ParseConversation(key)
		if err != nil {
			return nil, err
		}
		f.Conversation = conv
		f.FailedAt = fromMillis(failed)
		out = append(out, f)
	}
	return out, rows.Err()
}

// ClearFailures deletes every recorded failure and returns how many there were.
func (db *DB) ClearFailures() (int64, error) {
	res, err := db.Exec(`DELETE FROM send_failures`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
