package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/chatrelay/internal/chat"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func msg(id, conv string, content string, at int64) chat.Message {
	c, _ := chat.ParseConversation(conv)
	m := chat.Message{
		ID:        id,
		Content:   content,
		SenderID:  "u1",
		CreatedAt: time.UnixMilli(at).UTC(),
		Sender:    chat.Sender{ID: "u1", Name: "Ann"},
	}
	m.SetConversation(c)
	return m
}

func TestMigrateAppliesOnFreshDB(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate, so a second run must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2 (init + send_failures)", result.Version)
	}
}

func TestMigrateSchemaHasRequiredColumns(t *testing.T) {
	db := testDB(t)

	requiredOps := []struct {
		desc  string
		query string
		args  []any
	}{
		{"insert conversation", "INSERT INTO conversations (conv_key, kind, conv_id, last_message_at, last_message_preview) VALUES (?, ?, ?, ?, ?)", []any{"channel:c", "channel", "c", 1000, "hi"}},
		{"insert message", "INSERT INTO messages (msg_id, conv_key, channel_id, sender_id, sender_name, content, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)", []any{"m1", "channel:c", "c", "u1", "Ann", "hello", 1000}},
		{"insert failure", "INSERT INTO send_failures (temp_id, conv_key, content, attempts, error, failed_at) VALUES (?, ?, ?, ?, ?, ?)", []any{"tmp-1", "channel:c", "hi", 3, "boom", 1000}},
	}

	for _, op := range requiredOps {
		t.Run(op.desc, func(t *testing.T) {
			if _, err := db.Exec(op.query, op.args...); err != nil {
				t.Fatalf("%s failed: %v", op.desc, err)
			}
		})
	}
}

func TestMessageUpsertIdempotent(t *testing.T) {
	db := testDB(t)

	m := msg("m1", "channel:c1", "hello", 1000)
	if err := db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}
	m.Content = "hello edited"
	if err := db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages(chat.ChannelConversation("c1"), time.Time{}, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (idempotent upsert failed)", len(msgs))
	}
	got := msgs[0]
	if got.Content != "hello edited" {
		t.Errorf("content = %q, want hello edited", got.Content)
	}
	if got.Sender.Name != "Ann" || got.Sender.ID != "u1" {
		t.Errorf("sender = %+v", got.Sender)
	}
	if !got.CreatedAt.Equal(time.UnixMilli(1000)) {
		t.Errorf("created_at = %v", got.CreatedAt)
	}
}

func TestUpsertMessageRequiresConversation(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertMessage(chat.Message{ID: "m1"}); err == nil {
		t.Error("expected error for message without conversation")
	}
	if err := db.UpsertMessage(chat.Message{ChannelID: "c1"}); err == nil {
		t.Error("expected error for message without id")
	}
}

func TestListMessagesOrderAndPaging(t *testing.T) {
	db := testDB(t)

	for i, id := range []string{"m1", "m2", "m3", "m4"} {
		if err := db.UpsertMessage(msg(id, "thread:t1", id, int64(1000*(i+1)))); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.UpsertMessage(msg("other", "channel:c1", "x", 2500)); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages(chat.ThreadConversation("t1"), time.Time{}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].ID != "m3" || msgs[1].ID != "m4" {
		t.Fatalf("latest page = %v, want [m3 m4] oldest first", msgs)
	}

	msgs, err = db.ListMessages(chat.ThreadConversation("t1"), time.UnixMilli(3000), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Fatalf("older page = %v, want [m1 m2]", msgs)
	}
	if msgs[0].ThreadID != "t1" {
		t.Errorf("thread id = %q", msgs[0].ThreadID)
	}
}

func TestDeleteMessage(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertMessage(msg("m1", "channel:c1", "hi", 1000)); err != nil {
		t.Fatal(err)
	}
	ok, err := db.DeleteMessage("m1")
	if err != nil || !ok {
		t.Fatalf("DeleteMessage = %v, %v; want true, nil", ok, err)
	}
	ok, err = db.DeleteMessage("m1")
	if err != nil || ok {
		t.Fatalf("second DeleteMessage = %v, %v; want false, nil", ok, err)
	}
}

func TestConversationSummary(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertMessage(msg("m2", "channel:c1", "newer", 2000)); err != nil {
		t.Fatal(err)
	}
	// An older message arriving later must not rewind the summary.
	if err := db.UpsertMessage(msg("m1", "channel:c1", "older", 1000)); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(msg("t1", "thread:x", "thread reply", 500)); err != nil {
		t.Fatal(err)
	}

	convs, err := db.ListConversations(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 2 {
		t.Fatalf("got %d conversations, want 2", len(convs))
	}
	first := convs[0]
	if first.Conversation != chat.ChannelConversation("c1") {
		t.Errorf("first = %v, want channel:c1", first.Conversation)
	}
	if first.LastMessagePreview != "newer" || first.MessageCount != 2 {
		t.Errorf("summary = %+v", first)
	}

	c, err := db.GetConversation(chat.ThreadConversation("x"))
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || c.MessageCount != 1 {
		t.Errorf("got %+v, want one message", c)
	}

	c, err = db.GetConversation(chat.ThreadConversation("missing"))
	if err != nil {
		t.Fatal(err)
	}
	if c != nil {
		t.Errorf("expected nil for missing conversation")
	}
}

func TestSendFailures(t *testing.T) {
	db := testDB(t)

	f := chat.SendFailure{
		TempID:       "tmp-1",
		Conversation: chat.ThreadConversation("t1"),
		Content:      "hi",
		Attempts:     3,
		Err:          "503",
		FailedAt:     time.UnixMilli(5000),
	}
	if err := db.RecordFailure(f); err != nil {
		t.Fatal(err)
	}
	if err := db.RecordFailure(f); err != nil {
		t.Fatal(err)
	}
	f2 := f
	f2.TempID = "tmp-2"
	f2.FailedAt = time.UnixMilli(6000)
	if err := db.RecordFailure(f2); err != nil {
		t.Fatal(err)
	}

	failures, err := db.ListFailures(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(failures) != 2 {
		t.Fatalf("got %d failures, want 2", len(failures))
	}
	if failures[0].TempID != "tmp-2" {
		t.Errorf("newest first: got %s", failures[0].TempID)
	}
	if failures[1].Conversation != chat.ThreadConversation("t1") || failures[1].Attempts != 3 {
		t.Errorf("got %+v", failures[1])
	}

	n, err := db.ClearFailures()
	if err != nil || n != 2 {
		t.Fatalf("ClearFailures = %d, %v", n, err)
	}
}

func TestSearchMessages(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertMessage(msg("m1", "channel:c1", "Hello world", 1000)); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(msg("m2", "channel:c1", "goodbye world", 2000)); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(msg("m3", "channel:c2", "100% hello", 3000)); err != nil {
		t.Fatal(err)
	}

	results, err := db.SearchMessages("hello", chat.Conversation{}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Message.ID != "m3" {
		t.Errorf("newest first: got %s", results[0].Message.ID)
	}
	if results[1].Snippet != "<<Hello>> world" {
		t.Errorf("snippet = %q", results[1].Snippet)
	}

	results, err = db.SearchMessages("hello", chat.ChannelConversation("c1"), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Message.ID != "m1" {
		t.Fatalf("scoped search = %v", results)
	}

	results, err = db.SearchMessages("%", chat.Conversation{}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Message.ID != "m3" {
		t.Fatalf("literal %% search = %v", results)
	}
}

func TestUpsertMessagesBatchIsAtomic(t *testing.T) {
	db := testDB(t)

	n, err := db.UpsertMessages([]chat.Message{
		msg("m1", "channel:c1", "a", 1000),
		msg("m2", "channel:c1", "b", 2000),
	})
	if err != nil || n != 2 {
		t.Fatalf("UpsertMessages = %d, %v", n, err)
	}

	_, err = db.UpsertMessages([]chat.Message{
		msg("m3", "channel:c1", "c", 3000),
		{ID: "bad"},
	})
	if err == nil {
		t.Fatal("expected error for invalid message in batch")
	}
	msgs, err := db.ListMessages(chat.ChannelConversation("c1"), time.Time{}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Errorf("got %d messages, want 2 (failed batch rolled back)", len(msgs))
	}
}
