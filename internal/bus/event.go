package bus

import "time"

// Event kinds published by the daemon. Subscribers filter on prefixes such as
// "receiver." or "account.".
const (
	KindStatusChanged = "receiver.status_changed"
	KindMessage       = "receiver.message"
	KindReceipt       = "receiver.receipt"
	KindGroupMessage  = "receiver.group_message"
	KindPollError     = "receiver.poll_error"
	KindStateSaved    = "account.saved"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// NewEvent stamps an event with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
