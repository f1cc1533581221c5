package sync

import (
	"context"
	"fmt"

	"github.com/matheus3301/chatrelay/internal/bus"
	"github.com/matheus3301/chatrelay/internal/chat"
	"github.com/matheus3301/chatrelay/internal/store"
	"go.uber.org/zap"
)

// Engine keeps the local cache in step with the realtime core.
// It subscribes to "message." events on the bus and writes them to the store.
type Engine struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates a new sync engine.
func NewEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:     db,
		bus:    b,
		logger: logger,
	}
}

// Start subscribes to message events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	ch, unsub := e.bus.Subscribe("message.", 256)

	go func() {
		defer close(e.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine and waits for the event loop to exit.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindMessageConfirmed:
		msg, ok := evt.Payload.(chat.Message)
		if !ok {
			return
		}
		if err := e.IngestMessage(msg); err != nil {
			e.logger.Error("failed to ingest message", zap.Error(err), zap.String("msg_id", msg.ID))
		}
	case bus.KindMessageDeleted:
		d, ok := evt.Payload.(chat.Deletion)
		if !ok {
			return
		}
		if err := e.IngestDeletion(d); err != nil {
			e.logger.Error("failed to ingest deletion", zap.Error(err), zap.String("msg_id", d.ID))
		}
	case bus.KindSendFailed:
		f, ok := evt.Payload.(chat.SendFailure)
		if !ok {
			return
		}
		if err := e.db.RecordFailure(f); err != nil {
			e.logger.Error("failed to record send failure", zap.Error(err), zap.String("temp_id", f.TempID))
		}
	}
}

// IngestMessage caches a confirmed message (idempotent).
func (e *Engine) IngestMessage(msg chat.Message) error {
	if err := e.db.UpsertMessage(msg); err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}
	return nil
}

// IngestDeletion removes a deleted message from the cache. Unknown ids are
// not an error.
func (e *Engine) IngestDeletion(d chat.Deletion) error {
	if _, err := e.db.DeleteMessage(d.ID); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// IngestHistoryBatch caches a page of history in one transaction.
func (e *Engine) IngestHistoryBatch(msgs []chat.Message) error {
	n, err := e.db.UpsertMessages(msgs)
	if err != nil {
		return fmt.Errorf("ingest history batch: %w", err)
	}
	e.logger.Info("history batch ingested", zap.Int("messages", n))
	return nil
}
