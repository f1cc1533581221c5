package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ErrNoToken is returned when the token file is missing or empty.
var ErrNoToken = errors.New("no auth token")

// TokenSource yields the current bearer token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed token.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}

// TokenFile serves a token stored in a file owned by the user. The file is
// re-read when it changes on disk, so a sign-in flow can rotate it while the
// client is running.
type TokenFile struct {
	path   string
	logger *zap.Logger

	mu     sync.RWMutex
	token  string
	loaded bool

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewTokenFile creates a token source for path. The file need not exist yet.
func NewTokenFile(path string, logger *zap.Logger) *TokenFile {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenFile{path: path, logger: logger}
}

// Path returns the watched file.
func (t *TokenFile) Path() string {
	return t.path
}

// Token returns the cached token, reading the file on first use.
func (t *TokenFile) Token(context.Context) (string, error) {
	t.mu.RLock()
	token, loaded := t.token, t.loaded
	t.mu.RUnlock()
	if !loaded {
		if err := t.reload(); err != nil {
			return "", err
		}
		t.mu.RLock()
		token = t.token
		t.mu.RUnlock()
	}
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

func (t *TokenFile) reload() error {
	data, err := os.ReadFile(t.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read token file: %w", err)
	}
	t.mu.Lock()
	t.token = strings.TrimSpace(string(data))
	t.loaded = true
	t.mu.Unlock()
	return nil
}

// Watch starts reloading the token whenever the file is written, created,
// renamed over, or removed. The parent directory is watched so editors that
// replace the file atomically are handled.
func (t *TokenFile) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(t.path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(t.path), err)
	}

	ctx, t.cancel = context.WithCancel(ctx)
	t.watcher = w
	t.done = make(chan struct{})
	go t.loop(ctx)
	return nil
}

func (t *TokenFile) loop(ctx context.Context) {
	defer close(t.done)
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(evt.Name) != filepath.Clean(t.path) {
				continue
			}
			if evt.Has(fsnotify.Write) || evt.Has(fsnotify.Create) || evt.Has(fsnotify.Remove) || evt.Has(fsnotify.Rename) {
				if err := t.reload(); err != nil {
					t.logger.Warn("token reload failed", zap.Error(err))
					continue
				}
				t.logger.Info("auth token reloaded", zap.String("path", t.path))
			}
		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			t.logger.Warn("token watcher error", zap.Error(err))
		}
	}
}

// Close stops watching. Safe to call when Watch was never called.
func (t *TokenFile) Close() error {
	if t.cancel == nil {
		return nil
	}
	t.cancel()
	err := t.watcher.Close()
	<-t.done
	t.cancel = nil
	return err
}
