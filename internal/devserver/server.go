// Package devserver is an in-memory reference backend for local development
// and end-to-end tests. It serves the REST message endpoints and the realtime
// websocket with the same wire contract the client expects.
package devserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/matheus3301/chatrelay/internal/chat"
	"go.uber.org/zap"
)

// SessionCookie is the cookie name accepted as an alternative to a bearer token.
const SessionCookie = "session"

const defaultListLimit = 50

var errUnauthorized = errors.New("unauthorized")

// Server holds messages in memory and fans out changes to websocket clients.
type Server struct {
	router *mux.Router
	hub    *hub
	logger *zap.Logger
	now    func() time.Time

	mu          sync.Mutex
	users       map[string]chat.Sender // token -> user
	messages    map[string]chat.Message
	byConv      map[chat.Conversation][]string
	idempotency map[string]string // user id + key -> message id
	failCreates int
	creates     int
}

// New returns an empty server. With no users registered every request is
// accepted as an anonymous user.
func New(logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		users:       make(map[string]chat.Sender),
		messages:    make(map[string]chat.Message),
		byConv:      make(map[chat.Conversation][]string),
		idempotency: make(map[string]string),
	}
	s.hub = newHub(s, logger.Named("hub"))
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK\n"))
	}).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.hub.serveWebsocket).Methods(http.MethodGet)
	r.HandleFunc("/{kind:channels|threads}/{id}/messages", s.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/{kind:channels|threads}/{id}/messages", s.handleList).Methods(http.MethodGet)
	r.HandleFunc("/messages/{id}", s.handleDelete).Methods(http.MethodDelete)
	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// AddUser registers a token and the user it authenticates.
func (s *Server) AddUser(token string, u chat.Sender) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[token] = u
}

// FailCreates makes the next n message creations respond 503.
func (s *Server) FailCreates(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCreates = n
}

// Creates returns how many create requests reached the server, including
// failed and deduplicated ones.
func (s *Server) Creates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates
}

// Messages returns the stored messages of c, oldest first.
func (s *Server) Messages(c chat.Conversation) []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(c, 0)
}

// Publish stores msg as if another client had created it and broadcasts it.
func (s *Server) Publish(msg chat.Message) chat.Message {
	s.mu.Lock()
	msg = s.storeLocked(msg)
	s.mu.Unlock()
	s.hub.broadcast(msg.Conversation(), newMessageFrame(msg))
	return msg
}

// DropConnections closes every websocket abruptly.
func (s *Server) DropConnections() {
	s.hub.dropAll()
}

// Members returns how many websockets have joined c.
func (s *Server) Members(c chat.Conversation) int {
	return s.hub.members(c)
}

// Clients returns the number of connected websockets.
func (s *Server) Clients() int {
	return s.hub.count()
}

// authenticate resolves the caller from a bearer token or the session cookie.
func (s *Server) authenticate(r *http.Request) (chat.Sender, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.users) == 0 {
		return chat.Sender{ID: "anonymous", Name: "Anonymous"}, nil
	}
	token := ""
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimPrefix(h, "Bearer ")
	} else if c, err := r.Cookie(SessionCookie); err == nil {
		token = c.Value
	}
	u, ok := s.users[token]
	if !ok {
		return chat.Sender{}, errUnauthorized
	}
	return u, nil
}

func conversationFromVars(r *http.Request) chat.Conversation {
	vars := mux.Vars(r)
	if vars["kind"] == "threads" {
		return chat.ThreadConversation(vars["id"])
	}
	return chat.ChannelConversation(vars["id"])
}

type createBody struct {
	Content string `json:"content"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	var body createBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	content := strings.TrimSpace(body.Content)
	if content == "" {
		http.Error(w, "content is required", http.StatusBadRequest)
		return
	}
	conv := conversationFromVars(r)
	key := r.Header.Get("Idempotency-Key")

	s.mu.Lock()
	s.creates++
	if s.failCreates > 0 {
		s.failCreates--
		s.mu.Unlock()
		s.logger.Debug("injected create failure", zap.Stringer("conversation", conv))
		http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
		return
	}
	if key != "" {
		if id, ok := s.idempotency[user.ID+"\x00"+key]; ok {
			msg := s.messages[id]
			s.mu.Unlock()
			s.logger.Debug("idempotent replay", zap.String("key", key), zap.String("id", id))
			writeJSON(w, http.StatusOK, msg)
			return
		}
	}
	msg := chat.Message{
		Content:  content,
		SenderID: user.ID,
		Sender:   user,
	}
	msg.SetConversation(conv)
	msg = s.storeLocked(msg)
	if key != "" {
		s.idempotency[user.ID+"\x00"+key] = msg.ID
	}
	s.mu.Unlock()

	s.logger.Debug("message created", zap.String("id", msg.ID), zap.Stringer("conversation", conv))
	s.hub.broadcast(conv, newMessageFrame(msg))
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if _, err := s.authenticate(r); err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	s.mu.Lock()
	msgs := s.listLocked(conversationFromVars(r), limit)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	id := mux.Vars(r)["id"]

	s.mu.Lock()
	msg, ok := s.messages[id]
	if !ok {
		s.mu.Unlock()
		http.Error(w, "message not found", http.StatusNotFound)
		return
	}
	if msg.SenderID != user.ID {
		s.mu.Unlock()
		http.Error(w, "not the author", http.StatusForbidden)
		return
	}
	conv := msg.Conversation()
	delete(s.messages, id)
	ids := s.byConv[conv]
	for i, mid := range ids {
		if mid == id {
			s.byConv[conv] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	s.hub.broadcast(conv, deletedFrame(chat.Deletion{
		ID:        id,
		ChannelID: msg.ChannelID,
		ThreadID:  msg.ThreadID,
	}))
	w.WriteHeader(http.StatusNoContent)
}

// storeLocked assigns an id and timestamp if missing and appends msg to its
// conversation.
func (s *Server) storeLocked(msg chat.Message) chat.Message {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	if _, exists := s.messages[msg.ID]; !exists {
		conv := msg.Conversation()
		s.byConv[conv] = append(s.byConv[conv], msg.ID)
	}
	s.messages[msg.ID] = msg
	return msg
}

// listLocked returns the last limit messages of c, oldest first. Zero means all.
func (s *Server) listLocked(c chat.Conversation, limit int) []chat.Message {
	ids := s.byConv[c]
	out := make([]chat.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.messages[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
