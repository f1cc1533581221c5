package bus

import "time"

// Event kinds published by the realtime core. Subscribers filter by prefix,
// so "message." receives every message event.
const (
	KindConnStateChanged = "conn.state_changed"
	KindServerError      = "conn.server_error"
	KindMessageConfirmed = "message.confirmed"
	KindMessageDeleted   = "message.deleted"
	KindSendFailed       = "message.send_failed"
)

// Event is a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// NewEvent stamps an event with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
