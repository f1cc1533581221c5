package pipeline

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/chatrelay/internal/chat"
)

// TempIDPrefix marks client-generated ids. Server ids never carry it.
const TempIDPrefix = "tmp-"

// NewTempID returns a fresh temporary id for an optimistic entry.
func NewTempID() string {
	return TempIDPrefix + uuid.NewString()
}

// IsTempID reports whether id was generated by NewTempID.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// Entry is one row of the visible message list. Pending entries are optimistic
// sends still waiting for server confirmation.
type Entry struct {
	Message  chat.Message
	Pending  bool
	Retries  int
	QueuedAt time.Time
}

// outcome says what reconcile did with an incoming confirmed message.
type outcome int

const (
	outcomeDuplicate outcome = iota
	outcomeReplaced
	outcomeAppended
)

func (o outcome) String() string {
	switch o {
	case outcomeDuplicate:
		return "duplicate"
	case outcomeReplaced:
		return "replaced"
	case outcomeAppended:
		return "appended"
	}
	return "unknown"
}

// The functions below are pure: they never mutate the input slice.

func indexOf(list []Entry, id string) int {
	return slices.IndexFunc(list, func(e Entry) bool { return e.Message.ID == id })
}

func enqueue(list []Entry, e Entry) []Entry {
	out := make([]Entry, len(list), len(list)+1)
	copy(out, list)
	return append(out, e)
}

// matchPending returns the index of the first pending entry from the same
// sender with the same trimmed content, or -1.
func matchPending(list []Entry, msg chat.Message) int {
	content := strings.TrimSpace(msg.Content)
	return slices.IndexFunc(list, func(e Entry) bool {
		return e.Pending &&
			e.Message.SenderID == msg.SenderID &&
			strings.TrimSpace(e.Message.Content) == content
	})
}

// reconcile merges a confirmed message into the list. A message whose id is
// already confirmed is discarded. Otherwise it replaces the first matching
// pending entry in place, or is appended. replaced is the temp id that was
// swapped out, if any.
func reconcile(list []Entry, msg chat.Message) (out []Entry, o outcome, replaced string) {
	if i := indexOf(list, msg.ID); i >= 0 && !list[i].Pending {
		return list, outcomeDuplicate, ""
	}
	if i := matchPending(list, msg); i >= 0 {
		out = slices.Clone(list)
		replaced = out[i].Message.ID
		out[i] = Entry{Message: msg}
		return out, outcomeReplaced, replaced
	}
	return enqueue(list, Entry{Message: msg}), outcomeAppended, ""
}

// seed merges history in front of the current list. History is expected in
// ascending order. Messages already present are skipped and messages matching
// a pending entry replace it in place.
func seed(list []Entry, history []chat.Message) (out []Entry, replaced []string) {
	out = slices.Clone(list)
	var prefix []Entry
	seen := make(map[string]bool, len(history))
	for _, msg := range history {
		if msg.ID == "" || seen[msg.ID] || indexOf(out, msg.ID) >= 0 {
			continue
		}
		seen[msg.ID] = true
		if i := matchPending(out, msg); i >= 0 {
			replaced = append(replaced, out[i].Message.ID)
			out[i] = Entry{Message: msg}
			continue
		}
		prefix = append(prefix, Entry{Message: msg})
	}
	return append(prefix, out...), replaced
}

// deleteConfirmed removes the confirmed entry with id. Pending entries are
// never removed this way.
func deleteConfirmed(list []Entry, id string) ([]Entry, bool) {
	i := indexOf(list, id)
	if i < 0 || list[i].Pending {
		return list, false
	}
	return slices.Delete(slices.Clone(list), i, i+1), true
}

// markRetry bumps the retry counter of a pending entry. ok is false when the
// entry is gone or was replaced by a confirmed message in the meantime.
func markRetry(list []Entry, tempID string) (out []Entry, retries int, ok bool) {
	i := indexOf(list, tempID)
	if i < 0 || !list[i].Pending {
		return list, 0, false
	}
	out = slices.Clone(list)
	out[i].Retries++
	return out, out[i].Retries, true
}

// drop removes a pending entry.
func drop(list []Entry, tempID string) ([]Entry, bool) {
	i := indexOf(list, tempID)
	if i < 0 || !list[i].Pending {
		return list, false
	}
	return slices.Delete(slices.Clone(list), i, i+1), true
}
