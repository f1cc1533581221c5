package model

import (
	"sync"
	"time"
)

// FlashLevel is the severity of a flash message.
type FlashLevel int

const (
	FlashInfo FlashLevel = iota
	FlashErr
)

// FlashMessage is a transient notification.
type FlashMessage struct {
	Text  string
	Level FlashLevel
}

// Flash holds the current transient notification.
type Flash struct {
	mu      sync.RWMutex
	message FlashMessage
	expires time.Time
	now     func() time.Time
}

// Set stores an info message that expires after d.
func (f *Flash) Set(msg string, d time.Duration) {
	f.set(FlashMessage{Text: msg, Level: FlashInfo}, d)
}

// Err stores an error message that expires after d.
func (f *Flash) Err(err error, d time.Duration) {
	f.set(FlashMessage{Text: err.Error(), Level: FlashErr}, d)
}

func (f *Flash) set(m FlashMessage, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.message = m
	f.expires = f.clock().Add(d)
}

// Get returns the current message, or false once it expired.
func (f *Flash) Get() (FlashMessage, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.message.Text == "" || f.clock().After(f.expires) {
		return FlashMessage{}, false
	}
	return f.message, true
}

func (f *Flash) clock() time.Time {
	if f.now != nil {
		return f.now()
	}
	return time.Now()
}
