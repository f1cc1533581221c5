package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/chatrelay/internal/bus"
	"github.com/matheus3301/chatrelay/internal/chat"
	"go.uber.org/zap"
)

var (
	ErrEmptyContent = errors.New("message content is empty")
	ErrNoContext    = errors.New("no local user or conversation")
	ErrClosed       = errors.New("pipeline is closed")
)

// Creator performs the message-create call.
type Creator interface {
	CreateMessage(ctx context.Context, req chat.CreateRequest) (chat.Message, error)
}

// SendError is reported after a message exhausted its attempts.
type SendError struct {
	Content  string
	Attempts int
	Err      error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("failed to send %q", e.Content)
}

func (e *SendError) Unwrap() error { return e.Err }

// Config configures a Pipeline.
type Config struct {
	Conversation chat.Conversation
	User         chat.Sender
	Creator      Creator
	// MaxAttempts is the total number of create calls per message.
	MaxAttempts int
	// BackoffBase is the wait after the first failure; it doubles each retry.
	BackoffBase time.Duration
	DrainDelay  time.Duration
	Bus         *bus.Bus
	Logger      *zap.Logger
	Now         func() time.Time
}

// Update is a snapshot handed to subscribers after every change. Version grows
// monotonically; consumers may ignore an update older than one already seen.
type Update struct {
	Version     uint64
	Entries     []Entry
	Err         error
	ScrollToEnd bool
}

// outbound is a queued create call. It outlives its visible entry: a push
// may replace the entry while the send is still owed to the server.
type outbound struct {
	msg      chat.Message
	attempts int
}

// Pipeline is the send pipeline of one conversation: optimistic entries, a
// FIFO queue drained one create call at a time, bounded retries, and
// reconciliation against confirmed messages.
type Pipeline struct {
	conv        chat.Conversation
	user        chat.Sender
	creator     Creator
	maxAttempts int
	backoffBase time.Duration
	drainDelay  time.Duration
	bus         *bus.Bus
	logger      *zap.Logger
	now         func() time.Time

	mu       sync.Mutex
	entries  []Entry
	queue    []*outbound
	draining bool
	lastErr  error
	closed   bool
	version  uint64
	timers   map[*time.Timer]struct{}
	subs     map[uint64]func(Update)
	nextSub  uint64
}

// New creates a pipeline for cfg.Conversation.
func New(cfg Config) *Pipeline {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.DrainDelay < 0 {
		cfg.DrainDelay = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Pipeline{
		conv:        cfg.Conversation,
		user:        cfg.User,
		creator:     cfg.Creator,
		maxAttempts: cfg.MaxAttempts,
		backoffBase: cfg.BackoffBase,
		drainDelay:  cfg.DrainDelay,
		bus:         cfg.Bus,
		logger:      cfg.Logger.With(zap.Stringer("conversation", cfg.Conversation)),
		now:         cfg.Now,
		timers:      make(map[*time.Timer]struct{}),
		subs:        make(map[uint64]func(Update)),
	}
}

// Conversation returns the conversation this pipeline sends to.
func (p *Pipeline) Conversation() chat.Conversation {
	return p.conv
}

// Send renders content optimistically and queues it for delivery. It returns
// the temporary id of the new entry.
func (p *Pipeline) Send(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", ErrEmptyContent
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return "", ErrClosed
	}
	if p.user.ID == "" || !p.conv.Valid() || p.creator == nil {
		p.mu.Unlock()
		return "", ErrNoContext
	}

	now := p.now()
	msg := chat.Message{
		ID:        NewTempID(),
		Content:   content,
		SenderID:  p.user.ID,
		CreatedAt: now,
		Sender:    p.user,
	}
	msg.SetConversation(p.conv)
	p.entries = enqueue(p.entries, Entry{Message: msg, Pending: true, QueuedAt: now})
	p.queue = append(p.queue, &outbound{msg: msg})
	p.lastErr = nil
	u, subs := p.snapshotLocked(true)
	p.mu.Unlock()

	notify(subs, u)
	p.drain()
	return msg.ID, nil
}

// drain starts the create call for the queue head unless one is in flight.
func (p *Pipeline) drain() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.draining || len(p.queue) == 0 {
		return
	}
	ob := p.queue[0]
	p.queue = p.queue[1:]
	p.draining = true
	go p.attempt(ob)
}

func (p *Pipeline) attempt(ob *outbound) {
	confirmed, err := p.creator.CreateMessage(context.Background(), chat.CreateRequest{
		Conversation:   p.conv,
		Content:        ob.msg.Content,
		IdempotencyKey: ob.msg.ID,
	})

	p.mu.Lock()
	p.draining = false
	if p.closed {
		p.mu.Unlock()
		return
	}

	var (
		changed bool
		scroll  bool
		events  []bus.Event
	)
	if err == nil {
		changed, scroll, events = p.reconcileLocked(confirmed)
	} else {
		changed, events = p.failLocked(ob, err)
	}
	if len(p.queue) > 0 {
		p.afterLocked(p.drainDelay, p.drain)
	}
	var (
		u    Update
		subs []func(Update)
	)
	if changed {
		u, subs = p.snapshotLocked(scroll)
	}
	p.mu.Unlock()

	p.publish(events)
	notify(subs, u)
}

// failLocked applies a failed create call. The send is retried and finally
// reported even when a push already replaced its visible entry.
func (p *Pipeline) failLocked(ob *outbound, err error) (bool, []bus.Event) {
	ob.attempts++
	id := ob.msg.ID
	list, _, visible := markRetry(p.entries, id)

	if ob.attempts >= p.maxAttempts {
		if visible {
			p.entries, _ = drop(list, id)
		}
		p.lastErr = &SendError{Content: ob.msg.Content, Attempts: ob.attempts, Err: err}
		p.logger.Warn("send failed permanently",
			zap.String("temp_id", id),
			zap.Int("attempts", ob.attempts),
			zap.Error(err))
		return true, []bus.Event{bus.NewEvent(bus.KindSendFailed, chat.SendFailure{
			TempID:       id,
			Conversation: p.conv,
			Content:      ob.msg.Content,
			Attempts:     ob.attempts,
			Err:          err.Error(),
			FailedAt:     p.now(),
		})}
	}

	if visible {
		p.entries = list
	}
	delay := p.backoffBase << (ob.attempts - 1)
	p.logger.Info("send failed, retrying",
		zap.String("temp_id", id),
		zap.Int("attempt", ob.attempts),
		zap.Duration("backoff", delay),
		zap.Error(err))
	p.afterLocked(delay, func() { p.requeue(ob) })
	return visible, nil
}

// requeue puts a failed send back at the tail of the queue.
func (p *Pipeline) requeue(ob *outbound) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.queue = append(p.queue, ob)
	p.mu.Unlock()
	p.drain()
}

// Receive merges a confirmed message delivered by push. It reports whether the
// list changed.
func (p *Pipeline) Receive(msg chat.Message) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	changed, scroll, events := p.reconcileLocked(msg)
	var (
		u    Update
		subs []func(Update)
	)
	if changed {
		u, subs = p.snapshotLocked(scroll)
	}
	p.mu.Unlock()

	p.publish(events)
	notify(subs, u)
	return changed
}

func (p *Pipeline) reconcileLocked(msg chat.Message) (changed, scroll bool, events []bus.Event) {
	list, o, replaced := reconcile(p.entries, msg)
	if o == outcomeDuplicate {
		p.logger.Debug("duplicate message ignored", zap.String("id", msg.ID))
		return false, false, nil
	}
	p.entries = list
	p.logger.Debug("confirmed message merged",
		zap.String("id", msg.ID),
		zap.Stringer("outcome", o),
		zap.String("temp_id", replaced))
	return true, msg.SenderID == p.user.ID, []bus.Event{bus.NewEvent(bus.KindMessageConfirmed, msg)}
}

// Seed loads confirmed history in front of the current entries.
func (p *Pipeline) Seed(history []chat.Message) {
	p.mu.Lock()
	if p.closed || len(history) == 0 {
		p.mu.Unlock()
		return
	}
	list, replaced := seed(p.entries, history)
	p.entries = list
	if len(replaced) > 0 {
		p.logger.Debug("history confirmed pending entries", zap.Strings("temp_ids", replaced))
	}
	u, subs := p.snapshotLocked(true)
	p.mu.Unlock()

	events := make([]bus.Event, 0, len(history))
	for _, msg := range history {
		events = append(events, bus.NewEvent(bus.KindMessageConfirmed, msg))
	}
	p.publish(events)
	notify(subs, u)
}

// Delete removes the confirmed message with id. Pending entries are untouched.
func (p *Pipeline) Delete(id string) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	list, ok := deleteConfirmed(p.entries, id)
	if !ok {
		p.mu.Unlock()
		return false
	}
	p.entries = list
	u, subs := p.snapshotLocked(false)
	p.mu.Unlock()

	d := chat.Deletion{ID: id}
	if p.conv.Kind == chat.Thread {
		d.ThreadID = p.conv.ID
	} else {
		d.ChannelID = p.conv.ID
	}
	p.publish([]bus.Event{bus.NewEvent(bus.KindMessageDeleted, d)})
	notify(subs, u)
	return true
}

// Snapshot returns the current state without subscribing.
func (p *Pipeline) Snapshot() Update {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.updateLocked(false)
}

// Subscribe calls fn with the current state and after every change until the
// returned function is called or the pipeline closes.
func (p *Pipeline) Subscribe(fn func(Update)) func() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return func() {}
	}
	p.nextSub++
	id := p.nextSub
	p.subs[id] = fn
	u := p.updateLocked(false)
	p.mu.Unlock()

	fn(u)
	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

// Close stops scheduled drains and notifications. A create call already in
// flight is not aborted; its result is discarded.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for t := range p.timers {
		t.Stop()
	}
	clear(p.timers)
	clear(p.subs)
	p.queue = nil
}

// afterLocked runs fn after d unless the pipeline closes first.
func (p *Pipeline) afterLocked(d time.Duration, fn func()) {
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		p.mu.Lock()
		delete(p.timers, t)
		p.mu.Unlock()
		fn()
	})
	p.timers[t] = struct{}{}
}

func (p *Pipeline) updateLocked(scroll bool) Update {
	entries := make([]Entry, len(p.entries))
	copy(entries, p.entries)
	return Update{
		Version:     p.version,
		Entries:     entries,
		Err:         p.lastErr,
		ScrollToEnd: scroll,
	}
}

func (p *Pipeline) snapshotLocked(scroll bool) (Update, []func(Update)) {
	p.version++
	subs := make([]func(Update), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	return p.updateLocked(scroll), subs
}

func (p *Pipeline) publish(events []bus.Event) {
	for _, evt := range events {
		p.bus.Publish(evt)
	}
}

func notify(subs []func(Update), u Update) {
	for _, fn := range subs {
		fn(u)
	}
}
