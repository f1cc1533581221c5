package devserver

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/matheus3301/chatrelay/internal/chat"
	"github.com/matheus3301/chatrelay/internal/realtime"
	"go.uber.org/zap"
)

const writeTimeout = 5 * time.Second

// hub tracks websocket clients and the conversations each one joined.
type hub struct {
	srv    *Server
	logger *zap.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	user chat.Sender

	writeMu sync.Mutex

	mu     sync.Mutex
	joined map[chat.Conversation]struct{}
}

func newHub(srv *Server, logger *zap.Logger) *hub {
	return &hub{
		srv:     srv,
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

func (h *hub) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	user, err := h.srv.authenticate(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr))
		return
	}

	c := &client{
		conn:   conn,
		user:   user,
		joined: make(map[chat.Conversation]struct{}),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket connected",
		zap.String("user", user.ID),
		zap.Int("active_connections", count))

	h.readLoop(r.Context(), c)

	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	_ = conn.CloseNow()
	h.logger.Debug("websocket disconnected", zap.String("user", user.ID))
}

func (h *hub) readLoop(ctx context.Context, c *client) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		f, err := realtime.DecodeFrame(data)
		if err != nil {
			h.sendError(ctx, c, "malformed frame", "bad_frame")
			continue
		}
		h.handleFrame(ctx, c, f)
	}
}

func (h *hub) handleFrame(ctx context.Context, c *client, f realtime.Frame) {
	var join bool
	switch f.Type {
	case realtime.TypeJoinChannel, realtime.TypeJoinThread:
		join = true
	case realtime.TypeLeaveChannel, realtime.TypeLeaveThread:
	default:
		h.sendError(ctx, c, "unknown frame type "+f.Type, "unknown_type")
		return
	}
	p, err := f.DecodeMembership()
	if err != nil {
		h.sendError(ctx, c, err.Error(), "bad_payload")
		return
	}
	conv := chat.ChannelConversation(p.ChannelID)
	if f.Type == realtime.TypeJoinThread || f.Type == realtime.TypeLeaveThread {
		conv = chat.ThreadConversation(p.ThreadID)
	}
	if !conv.Valid() {
		h.sendError(ctx, c, f.Type+" requires an id", "bad_payload")
		return
	}

	c.mu.Lock()
	if join {
		c.joined[conv] = struct{}{}
	} else {
		delete(c.joined, conv)
	}
	c.mu.Unlock()
	h.logger.Debug("membership changed",
		zap.String("user", c.user.ID),
		zap.Stringer("conversation", conv),
		zap.Bool("joined", join))
}

func (h *hub) sendError(ctx context.Context, c *client, msg, code string) {
	data, err := realtime.EncodeFrame(realtime.TypeError, realtime.ErrorPayload{Message: msg, Code: code})
	if err != nil {
		return
	}
	c.write(ctx, data)
}

// broadcast sends data to every client joined to conv.
func (h *hub) broadcast(conv chat.Conversation, data []byte) {
	if data == nil {
		return
	}
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		if c.member(conv) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.write(context.Background(), data)
	}
}

func (h *hub) dropAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		_ = c.conn.CloseNow()
	}
}

func (h *hub) members(conv chat.Conversation) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range h.clients {
		if c.member(conv) {
			n++
		}
	}
	return n
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *client) member(conv chat.Conversation) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.joined[conv]
	return ok
}

func (c *client) write(ctx context.Context, data []byte) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.Write(ctx, websocket.MessageText, data)
}

func newMessageFrame(msg chat.Message) []byte {
	data, _ := realtime.EncodeFrame(realtime.TypeNewMessage, msg)
	return data
}

func deletedFrame(d chat.Deletion) []byte {
	data, _ := realtime.EncodeFrame(realtime.TypeMessageDeleted, d)
	return data
}
