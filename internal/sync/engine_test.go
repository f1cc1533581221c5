package sync

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/chatrelay/internal/bus"
	"github.com/matheus3301/chatrelay/internal/chat"
	"github.com/matheus3301/chatrelay/internal/store"
	"go.uber.org/zap"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func channelMsg(id, channel, content string, at int64) chat.Message {
	return chat.Message{
		ID:        id,
		Content:   content,
		SenderID:  "u1",
		ChannelID: channel,
		CreatedAt: time.UnixMilli(at),
		Sender:    chat.Sender{ID: "u1", Name: "Ann"},
	}
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within 1s")
}

func countMessages(t *testing.T, db *store.DB, c chat.Conversation) int {
	t.Helper()
	msgs, err := db.ListMessages(c, time.Time{}, 100)
	if err != nil {
		t.Fatal(err)
	}
	return len(msgs)
}

func TestEngineIngestMessage(t *testing.T) {
	db := testDB(t)
	e := NewEngine(db, bus.New(), nil)

	if err := e.IngestMessage(channelMsg("m1", "c1", "hello", 1000)); err != nil {
		t.Fatal(err)
	}

	// Conversation summary is created alongside the message.
	conv, err := db.GetConversation(chat.ChannelConversation("c1"))
	if err != nil {
		t.Fatal(err)
	}
	if conv == nil || conv.LastMessagePreview != "hello" {
		t.Fatalf("conversation = %+v, want preview hello", conv)
	}
	if n := countMessages(t, db, chat.ChannelConversation("c1")); n != 1 {
		t.Errorf("got %d messages, want 1", n)
	}
}

func TestEngineIngestMessageIdempotent(t *testing.T) {
	db := testDB(t)
	e := NewEngine(db, bus.New(), nil)

	msg := channelMsg("m1", "c1", "v1", 1000)
	if err := e.IngestMessage(msg); err != nil {
		t.Fatal(err)
	}
	msg.Content = "v2"
	if err := e.IngestMessage(msg); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages(chat.ChannelConversation("c1"), time.Time{}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (idempotent)", len(msgs))
	}
	if msgs[0].Content != "v2" {
		t.Errorf("content = %q, want v2 (updated)", msgs[0].Content)
	}
}

func TestEngineIngestHistoryBatch(t *testing.T) {
	db := testDB(t)
	e := NewEngine(db, bus.New(), nil)

	msgs := []chat.Message{
		channelMsg("m1", "a", "one", 1000),
		channelMsg("m2", "a", "two", 2000),
		channelMsg("m3", "b", "three", 3000),
	}
	// Ingesting twice must not duplicate.
	for range 2 {
		if err := e.IngestHistoryBatch(msgs); err != nil {
			t.Fatal(err)
		}
	}

	convs, err := db.ListConversations(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 2 {
		t.Errorf("got %d conversations, want 2", len(convs))
	}
	a := countMessages(t, db, chat.ChannelConversation("a"))
	b := countMessages(t, db, chat.ChannelConversation("b"))
	if a != 2 || b != 1 {
		t.Errorf("got %d+%d messages, want 2+1", a, b)
	}
}

// TestEngineBusSubscription verifies the engine follows the pipeline through
// the bus: confirmed messages are cached, deletions evict, failures are logged.
func TestEngineBusSubscription(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	logger, _ := zap.NewDevelopment()
	e := NewEngine(db, b, logger)

	e.Start(context.Background())
	defer e.Stop()

	conv := chat.ChannelConversation("bus-test")
	b.Publish(bus.NewEvent(bus.KindMessageConfirmed, channelMsg("bm1", "bus-test", "from bus", 5000)))
	b.Publish(bus.NewEvent(bus.KindMessageConfirmed, channelMsg("bm2", "bus-test", "second", 6000)))
	waitFor(t, func() bool { return countMessages(t, db, conv) == 2 })

	b.Publish(bus.NewEvent(bus.KindMessageDeleted, chat.Deletion{ID: "bm1", ChannelID: "bus-test"}))
	waitFor(t, func() bool { return countMessages(t, db, conv) == 1 })

	b.Publish(bus.NewEvent(bus.KindSendFailed, chat.SendFailure{
		TempID:       "tmp-x",
		Conversation: conv,
		Content:      "lost",
		Attempts:     3,
		Err:          "503",
		FailedAt:     time.UnixMilli(7000),
	}))
	waitFor(t, func() bool {
		failures, err := db.ListFailures(10)
		return err == nil && len(failures) == 1
	})

	// Events with unexpected payloads are ignored.
	b.Publish(bus.NewEvent(bus.KindMessageConfirmed, "not a message"))
}

func TestEngineStopUnsubscribes(t *testing.T) {
	b := bus.New()
	e := NewEngine(testDB(t), b, nil)
	e.Start(context.Background())
	if b.Subscribers() != 1 {
		t.Fatalf("subscribers = %d, want 1", b.Subscribers())
	}
	e.Stop()
	if b.Subscribers() != 0 {
		t.Errorf("subscribers = %d after Stop, want 0", b.Subscribers())
	}
}
