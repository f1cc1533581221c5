package store

import (
	"strings"
	"unicode/utf8"

	"github.com/matheus3301/chatrelay/internal/chat"
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SearchMessages returns cached messages whose content contains query,
// case-insensitively, newest first. A zero conv searches every conversation.
func (db *DB) SearchMessages(query string, conv chat.Conversation, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE content LIKE ? ESCAPE '\'`
	args := []any{"%" + likeEscaper.Replace(query) + "%"}
	if conv.Valid() {
		q += " AND conv_key = ?"
		args = append(args, conv.String())
	}
	q += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, SearchResult{Message: m, Snippet: snippet(m.Content, query)})
	}
	return results, rows.Err()
}

// snippet marks the first match of query in content with << >>.
func snippet(content, query string) string {
	lower := strings.ToLower(content)
	i := strings.Index(lower, strings.ToLower(query))
	if i < 0 || query == "" || len(lower) != len(content) {
		return preview(content)
	}
	end := i + len(query)
	start := max(0, i-24)
	for start > 0 && !utf8.RuneStart(content[start]) {
		start--
	}
	stop := min(len(content), end+24)
	for stop < len(content) && !utf8.RuneStart(content[stop]) {
		stop++
	}
	out := content[start:i] + "<<" + content[i:end] + ">>" + content[end:stop]
	if start > 0 {
		out = "..." + out
	}
	if stop < len(content) {
		out += "..."
	}
	return out
}
