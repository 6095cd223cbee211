package domain

import (
	"encoding/json"
	"strconv"
	"time"
)

// EventType names a registered event stream. It keys cursors and dead letters.
type EventType string

// EventID is the upstream position of an event: (transaction digest, sequence in tx).
type EventID struct {
	TxDigest string `json:"txDigest"`
	EventSeq string `json:"eventSeq"`
}

func (id EventID) String() string {
	return id.TxDigest + ":" + id.EventSeq
}

// Event is a single Sui event as returned by suix_queryEvents.
type Event struct {
	ID                EventID         `json:"id"`
	PackageID         string          `json:"packageId"`
	TransactionModule string          `json:"transactionModule"`
	Sender            string          `json:"sender"`
	Type              string          `json:"type"`
	ParsedJSON        json.RawMessage `json:"parsedJson"`
	BCS               string          `json:"bcs,omitempty"`
	TimestampMs       string          `json:"timestampMs,omitempty"`

	// Raw is the event exactly as received. Dead letters persist it verbatim.
	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the event and keeps a copy of the original bytes.
func (e *Event) UnmarshalJSON(data []byte) error {
	type alias Event
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*e = Event(a)
	e.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// Payload returns the verbatim upstream bytes, re-encoding only when the
// event was constructed locally.
func (e *Event) Payload() (json.RawMessage, error) {
	if len(e.Raw) > 0 {
		return e.Raw, nil
	}
	return json.Marshal(e)
}

// Timestamp converts TimestampMs; zero when absent or malformed.
func (e *Event) Timestamp() time.Time {
	ms, err := strconv.ParseInt(e.TimestampMs, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// EventFilter is the upstream query filter, e.g. {"MoveEventType": "0x2::m::E"}.
type EventFilter map[string]any

// MoveEventTypeFilter selects events of one fully qualified Move type.
func MoveEventTypeFilter(moveType string) EventFilter {
	return EventFilter{"MoveEventType": moveType}
}

// Order is the traversal direction of an event query.
type Order int

const (
	OrderAscending Order = iota
	OrderDescending
)

// EventPage is one page of a queryEvents response.
type EventPage struct {
	Data        []Event  `json:"data"`
	NextCursor  *EventID `json:"nextCursor"`
	HasNextPage bool     `json:"hasNextPage"`
}
