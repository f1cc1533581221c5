package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/matheus3301/chatrelay/internal/auth"
	"github.com/matheus3301/chatrelay/internal/chat"
	"go.uber.org/zap"
)

// IdempotencyHeader carries the temporary id of an optimistic send so the
// server can collapse retries of the same message.
const IdempotencyHeader = "Idempotency-Key"

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Client talks to the chat REST API.
type Client struct {
	base   *url.URL
	http   *http.Client
	creds  auth.HeaderProvider
	logger *zap.Logger
}

// Options configures a Client.
type Options struct {
	BaseURL     string
	Credentials auth.HeaderProvider
	// HTTPClient defaults to a client without a request timeout.
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// NewClient parses the base URL and returns a client.
func NewClient(opts Options) (*Client, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", opts.BaseURL)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("base url %q: missing host", opts.BaseURL)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Credentials == nil {
		opts.Credentials = auth.None()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Client{
		base:   base,
		http:   opts.HTTPClient,
		creds:  opts.Credentials,
		logger: opts.Logger,
	}, nil
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.base.String()
}

type createBody struct {
	Content string `json:"content"`
}

// CreateMessage posts a message to the conversation. The idempotency key, if
// set, is sent as the Idempotency-Key header.
func (c *Client) CreateMessage(ctx context.Context, req chat.CreateRequest) (chat.Message, error) {
	if !req.Conversation.Valid() {
		return chat.Message{}, fmt.Errorf("create message: invalid conversation %v", req.Conversation)
	}
	header := http.Header{}
	if req.IdempotencyKey != "" {
		header.Set(IdempotencyHeader, req.IdempotencyKey)
	}

	var msg chat.Message
	if err := c.do(ctx, http.MethodPost, messagesURL(c.base, req.Conversation), header, createBody{Content: req.Content}, &msg); err != nil {
		return chat.Message{}, err
	}
	if msg.ID == "" {
		return chat.Message{}, fmt.Errorf("create message: response has no id")
	}
	if msg.ChannelID == "" && msg.ThreadID == "" {
		msg.SetConversation(req.Conversation)
	}
	return msg, nil
}

// ListMessages returns up to limit recent messages of the conversation, oldest
// first.
func (c *Client) ListMessages(ctx context.Context, conv chat.Conversation, limit int) ([]chat.Message, error) {
	if !conv.Valid() {
		return nil, fmt.Errorf("list messages: invalid conversation %v", conv)
	}
	u := messagesURL(c.base, conv)
	if limit > 0 {
		q := u.Query()
		q.Set("limit", strconv.Itoa(limit))
		u.RawQuery = q.Encode()
	}

	var msgs []chat.Message
	if err := c.do(ctx, http.MethodGet, u, nil, nil, &msgs); err != nil {
		return nil, err
	}
	for i := range msgs {
		if msgs[i].ChannelID == "" && msgs[i].ThreadID == "" {
			msgs[i].SetConversation(conv)
		}
	}
	return msgs, nil
}

// DeleteMessage deletes a confirmed message by id.
func (c *Client) DeleteMessage(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("delete message: empty id")
	}
	return c.do(ctx, http.MethodDelete, c.base.JoinPath("messages", id), nil, nil, nil)
}

func messagesURL(base *url.URL, conv chat.Conversation) *url.URL {
	collection := "channels"
	if conv.Kind == chat.Thread {
		collection = "threads"
	}
	return base.JoinPath(collection, conv.ID, "messages")
}

func (c *Client) do(ctx context.Context, method string, u *url.URL, header http.Header, body, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), r)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if err := auth.Apply(ctx, c.creds, req); err != nil {
		return fmt.Errorf("credentials: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, u.Path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("api call",
		zap.String("method", method),
		zap.String("path", u.Path),
		zap.Int("status", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{
			Method:     method,
			Path:       u.Path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(data)),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, u.Path, err)
	}
	return nil
}
