package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/chatrelay/internal/auth"
	"github.com/matheus3301/chatrelay/internal/bus"
	"github.com/matheus3301/chatrelay/internal/chat"
	"go.uber.org/zap"
)

// Handler receives inbound frames of the type it was registered for.
// Handlers run synchronously on the connection's read goroutine.
type Handler func(Frame)

// HandlerID identifies a registration for Off.
type HandlerID uint64

// Options configures a Manager.
type Options struct {
	// URL is the websocket endpoint, see WebSocketURL.
	URL         string
	Transport   Transport
	Credentials auth.HeaderProvider
	// ReconnectInterval is the fixed delay between reconnect attempts.
	ReconnectInterval time.Duration
	DialTimeout       time.Duration
	WriteTimeout      time.Duration
	Bus               *bus.Bus
	Logger            *zap.Logger
}

// Manager owns the single realtime socket: it connects, reconnects after
// unexpected closes, routes inbound frames to handlers by type, and sends
// best-effort control frames.
type Manager struct {
	url               string
	transport         Transport
	creds             auth.HeaderProvider
	reconnectInterval time.Duration
	dialTimeout       time.Duration
	writeTimeout      time.Duration
	logger            *zap.Logger
	machine           *Machine

	mu        sync.Mutex
	conn      Conn
	gen       uint64 // bumped by every Connect and Disconnect; stale goroutines compare against it
	cancel    context.CancelFunc
	reconnect *time.Timer
	joined    map[chat.Conversation]struct{}

	writeMu sync.Mutex

	handlersMu  sync.RWMutex
	handlers    map[string]map[HandlerID]Handler
	nextHandler HandlerID
}

// NewManager validates opts and returns an idle manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("URL is required")
	}
	if opts.Transport == nil {
		opts.Transport = WebSocketTransport{}
	}
	if opts.Credentials == nil {
		opts.Credentials = auth.None()
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = 3 * time.Second
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Manager{
		url:               opts.URL,
		transport:         opts.Transport,
		creds:             opts.Credentials,
		reconnectInterval: opts.ReconnectInterval,
		dialTimeout:       opts.DialTimeout,
		writeTimeout:      opts.WriteTimeout,
		logger:            opts.Logger,
		machine:           NewMachine(opts.Bus),
		joined:            make(map[chat.Conversation]struct{}),
		handlers:          make(map[string]map[HandlerID]Handler),
	}, nil
}

// State returns the current connection state.
func (m *Manager) State() State {
	return m.machine.Current()
}

// Connect starts connecting unless the manager is already Open or Connecting.
// It never blocks on the network; failures move the manager to Closed and
// schedule a retry.
func (m *Manager) Connect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectLocked()
}

func (m *Manager) connectLocked() {
	switch m.machine.Current() {
	case Open, Connecting:
		return
	}
	m.stopReconnectLocked()
	if err := m.machine.Transition(Connecting); err != nil {
		m.logger.Error("realtime connect", zap.Error(err))
		return
	}
	m.gen++
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go m.dial(ctx, m.gen)
}

func (m *Manager) dial(ctx context.Context, gen uint64) {
	conn, err := m.open(ctx)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		m.logger.Warn("realtime connect failed",
			zap.String("url", m.url),
			zap.Duration("retry_in", m.reconnectInterval),
			zap.Error(err))
		m.closeLocked()
		m.mu.Unlock()
		return
	}
	m.conn = conn
	m.stopReconnectLocked()
	if err := m.machine.Transition(Open); err != nil {
		m.logger.Error("realtime open", zap.Error(err))
	}
	rejoin := make([]chat.Conversation, 0, len(m.joined))
	for c := range m.joined {
		rejoin = append(rejoin, c)
	}
	m.mu.Unlock()

	m.logger.Info("realtime connected", zap.String("url", m.url), zap.Int("rejoin", len(rejoin)))
	for _, c := range rejoin {
		m.sendMembership(c, true)
	}
	go m.readLoop(ctx, conn, gen)
}

func (m *Manager) open(ctx context.Context) (Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, m.dialTimeout)
	defer cancel()

	header, err := m.creds(dialCtx)
	if err != nil {
		return nil, fmt.Errorf("credentials: %w", err)
	}
	return m.transport.Dial(dialCtx, m.url, header)
}

// closeLocked tears down the current socket, enters Closed and arms the
// reconnect timer for the current generation.
func (m *Manager) closeLocked() {
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if err := m.machine.Transition(Closed); err != nil {
		m.logger.Error("realtime close", zap.Error(err))
		return
	}
	gen := m.gen
	m.reconnect = time.AfterFunc(m.reconnectInterval, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if gen != m.gen {
			return
		}
		m.reconnect = nil
		m.connectLocked()
	})
}

func (m *Manager) stopReconnectLocked() {
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
}

func (m *Manager) readLoop(ctx context.Context, conn Conn, gen uint64) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			m.mu.Lock()
			if gen == m.gen && m.machine.Current() == Open {
				m.logger.Warn("realtime connection lost",
					zap.Duration("retry_in", m.reconnectInterval),
					zap.Error(err))
				m.closeLocked()
			}
			m.mu.Unlock()
			return
		}
		m.dispatch(data)
	}
}

// Disconnect closes the socket and cancels any pending reconnect. Handlers and
// joined conversations are kept so a later Connect resumes where it left off.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.gen++
	m.stopReconnectLocked()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	if m.machine.Current() != Idle {
		_ = m.machine.Transition(Idle)
		m.logger.Info("realtime disconnected")
	}
}

// Send writes a {type, payload} frame if the connection is Open. Otherwise the
// frame is dropped with a warning; nothing is queued and no error is returned.
func (m *Manager) Send(typ string, payload any) {
	data, err := EncodeFrame(typ, payload)
	if err != nil {
		m.logger.Warn("dropping unencodable frame", zap.String("type", typ), zap.Error(err))
		return
	}

	m.mu.Lock()
	conn := m.conn
	state := m.machine.Current()
	m.mu.Unlock()

	if state != Open || conn == nil {
		m.logger.Warn("dropping frame, connection not open",
			zap.String("type", typ),
			zap.String("state", string(state)))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.writeTimeout)
	defer cancel()
	m.writeMu.Lock()
	err = conn.Write(ctx, data)
	m.writeMu.Unlock()
	if err != nil {
		m.logger.Warn("realtime write failed", zap.String("type", typ), zap.Error(err))
	}
}

// Join tells the server the client is observing c. The membership is
// remembered and replayed after every reconnect.
func (m *Manager) Join(c chat.Conversation) {
	m.mu.Lock()
	m.joined[c] = struct{}{}
	m.mu.Unlock()
	m.sendMembership(c, true)
}

// Leave tells the server the client stopped observing c.
func (m *Manager) Leave(c chat.Conversation) {
	m.mu.Lock()
	delete(m.joined, c)
	m.mu.Unlock()
	m.sendMembership(c, false)
}

// Joined returns the conversations currently joined.
func (m *Manager) Joined() []chat.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]chat.Conversation, 0, len(m.joined))
	for c := range m.joined {
		out = append(out, c)
	}
	return out
}

func (m *Manager) sendMembership(c chat.Conversation, join bool) {
	typ, payload := membershipFrame(c, join)
	m.Send(typ, payload)
}

// On registers h for frames of the given type.
func (m *Manager) On(typ string, h Handler) HandlerID {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	m.nextHandler++
	id := m.nextHandler
	set, ok := m.handlers[typ]
	if !ok {
		set = make(map[HandlerID]Handler)
		m.handlers[typ] = set
	}
	set[id] = h
	return id
}

// Off removes a registration. Unknown ids are ignored.
func (m *Manager) Off(typ string, id HandlerID) {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	set, ok := m.handlers[typ]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(m.handlers, typ)
	}
}

func (m *Manager) dispatch(data []byte) {
	f, err := DecodeFrame(data)
	if err != nil {
		m.logger.Warn("dropping malformed frame", zap.Int("bytes", len(data)), zap.Error(err))
		return
	}

	m.handlersMu.RLock()
	hs := make([]Handler, 0, len(m.handlers[f.Type]))
	for _, h := range m.handlers[f.Type] {
		hs = append(hs, h)
	}
	m.handlersMu.RUnlock()

	if len(hs) == 0 {
		m.logger.Debug("no handlers for frame", zap.String("type", f.Type))
	}
	for _, h := range hs {
		h(f)
	}
}
