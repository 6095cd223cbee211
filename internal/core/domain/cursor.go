package domain

import "time"

// Cursor is the persisted resume position for one event type.
// An absent cursor means "start of log".
type Cursor struct {
	EventType   EventType
	TxDigest    string
	EventSeq    string
	LastUpdated time.Time
}

// Position returns the cursor as an upstream event id.
func (c *Cursor) Position() *EventID {
	if c == nil {
		return nil
	}
	return &EventID{TxDigest: c.TxDigest, EventSeq: c.EventSeq}
}

// NewCursor builds a cursor positioned at id.
func NewCursor(eventType EventType, id EventID, at time.Time) *Cursor {
	return &Cursor{
		EventType:   eventType,
		TxDigest:    id.TxDigest,
		EventSeq:    id.EventSeq,
		LastUpdated: at,
	}
}
