package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/chatrelay/internal/bus"
	"github.com/matheus3301/chatrelay/internal/chat"
	"github.com/matheus3301/chatrelay/internal/realtime"
	"go.uber.org/zap"
)

// Realtime is the part of the connection manager the registry needs.
type Realtime interface {
	On(typ string, h realtime.Handler) realtime.HandlerID
	Off(typ string, id realtime.HandlerID)
	Join(c chat.Conversation)
	Leave(c chat.Conversation)
}

// History loads recent confirmed messages, oldest first.
type History interface {
	ListMessages(ctx context.Context, c chat.Conversation, limit int) ([]chat.Message, error)
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	Realtime     Realtime
	Creator      Creator
	History      History
	User         chat.Sender
	MaxAttempts  int
	BackoffBase  time.Duration
	DrainDelay   time.Duration
	HistoryLimit int
	Bus          *bus.Bus
	Logger       *zap.Logger
}

type handle struct {
	p    *Pipeline
	refs int
}

// Registry shares one Pipeline per conversation between every view that
// observes it and routes push frames to the matching pipeline.
type Registry struct {
	opts   RegistryOptions
	logger *zap.Logger

	// memberMu orders Join and Leave with the open/close decisions that cause
	// them. It is taken before mu and held across the membership write.
	memberMu sync.Mutex
	mu       sync.Mutex
	open     map[chat.Conversation]*handle
	handlers map[string]realtime.HandlerID
}

// NewRegistry creates a registry. Call Start to begin routing push frames.
func NewRegistry(opts RegistryOptions) *Registry {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Registry{
		opts:     opts,
		logger:   opts.Logger,
		open:     make(map[chat.Conversation]*handle),
		handlers: make(map[string]realtime.HandlerID),
	}
}

// Start registers the push handlers on the connection manager.
func (r *Registry) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.handlers) > 0 {
		return
	}
	r.handlers[realtime.TypeNewMessage] = r.opts.Realtime.On(realtime.TypeNewMessage, r.onNewMessage)
	r.handlers[realtime.TypeMessageDeleted] = r.opts.Realtime.On(realtime.TypeMessageDeleted, r.onMessageDeleted)
	r.handlers[realtime.TypeError] = r.opts.Realtime.On(realtime.TypeError, r.onServerError)
}

// Stop removes the push handlers and closes every open pipeline.
func (r *Registry) Stop() {
	r.memberMu.Lock()
	defer r.memberMu.Unlock()
	r.mu.Lock()
	handlers := r.handlers
	r.handlers = make(map[string]realtime.HandlerID)
	open := r.open
	r.open = make(map[chat.Conversation]*handle)
	r.mu.Unlock()

	for typ, id := range handlers {
		r.opts.Realtime.Off(typ, id)
	}
	for c, h := range open {
		r.opts.Realtime.Leave(c)
		h.p.Close()
	}
}

// Open returns the shared pipeline for c. The first caller joins the
// conversation and seeds its history; the returned release function must be
// called when the caller is done. The last release leaves the conversation.
func (r *Registry) Open(ctx context.Context, c chat.Conversation) (*Pipeline, func(), error) {
	if !c.Valid() {
		return nil, nil, fmt.Errorf("open %v: invalid conversation", c)
	}

	r.memberMu.Lock()
	r.mu.Lock()
	h, ok := r.open[c]
	if ok {
		h.refs++
		r.mu.Unlock()
		r.memberMu.Unlock()
		return h.p, r.releaser(c, h), nil
	}
	h = &handle{
		p: New(Config{
			Conversation: c,
			User:         r.opts.User,
			Creator:      r.opts.Creator,
			MaxAttempts:  r.opts.MaxAttempts,
			BackoffBase:  r.opts.BackoffBase,
			DrainDelay:   r.opts.DrainDelay,
			Bus:          r.opts.Bus,
			Logger:       r.logger,
		}),
		refs: 1,
	}
	r.open[c] = h
	r.mu.Unlock()
	r.opts.Realtime.Join(c)
	r.memberMu.Unlock()

	r.logger.Info("conversation opened", zap.Stringer("conversation", c))

	if r.opts.History != nil && r.opts.HistoryLimit > 0 {
		history, err := r.opts.History.ListMessages(ctx, c, r.opts.HistoryLimit)
		if err != nil {
			r.logger.Warn("history unavailable", zap.Stringer("conversation", c), zap.Error(err))
		} else {
			h.p.Seed(history)
		}
	}
	return h.p, r.releaser(c, h), nil
}

func (r *Registry) releaser(c chat.Conversation, h *handle) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			r.memberMu.Lock()
			r.mu.Lock()
			h.refs--
			last := h.refs == 0 && r.open[c] == h
			if last {
				delete(r.open, c)
			}
			r.mu.Unlock()
			if last {
				r.opts.Realtime.Leave(c)
			}
			r.memberMu.Unlock()
			if !last {
				return
			}
			h.p.Close()
			r.logger.Info("conversation closed", zap.Stringer("conversation", c))
		})
	}
}

// Lookup returns the open pipeline for c, if any.
func (r *Registry) Lookup(c chat.Conversation) (*Pipeline, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.open[c]
	if !ok {
		return nil, false
	}
	return h.p, true
}

func (r *Registry) onNewMessage(f realtime.Frame) {
	msg, err := f.DecodeMessage()
	if err != nil {
		r.logger.Warn("dropping NEW_MESSAGE", zap.Error(err))
		return
	}
	if p, ok := r.Lookup(msg.Conversation()); ok {
		p.Receive(msg)
		return
	}
	r.opts.Bus.Publish(bus.NewEvent(bus.KindMessageConfirmed, msg))
}

func (r *Registry) onMessageDeleted(f realtime.Frame) {
	d, err := f.DecodeDeletion()
	if err != nil {
		r.logger.Warn("dropping MESSAGE_DELETED", zap.Error(err))
		return
	}
	if p, ok := r.Lookup(d.Conversation()); ok && p.Delete(d.ID) {
		return
	}
	r.opts.Bus.Publish(bus.NewEvent(bus.KindMessageDeleted, d))
}

func (r *Registry) onServerError(f realtime.Frame) {
	payload, err := f.DecodeError()
	if err != nil {
		r.logger.Warn("dropping ERROR frame", zap.Error(err))
		return
	}
	r.logger.Warn("server error", zap.String("message", payload.Message), zap.String("code", payload.Code))
	r.opts.Bus.Publish(bus.NewEvent(bus.KindServerError, payload))
}
