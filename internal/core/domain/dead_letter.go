package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DeadLetter is an event that failed processing and awaits retry.
type DeadLetter struct {
	ID           string          `json:"id"`
	EventType    EventType       `json:"event_type"`
	Payload      json.RawMessage `json:"payload"`
	ErrorMessage string          `json:"error_message"`
	RetryCount   int             `json:"retry_count"`
	Resolved     bool            `json:"resolved"`
	LastRetryAt  *time.Time      `json:"last_retry_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// NewDeadLetter records a first failure of payload.
func NewDeadLetter(eventType EventType, payload json.RawMessage, cause error, at time.Time) *DeadLetter {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &DeadLetter{
		ID:           uuid.New().String(),
		EventType:    eventType,
		Payload:      payload,
		ErrorMessage: msg,
		CreatedAt:    at,
	}
}

// Retryable reports whether the entry is still eligible for another attempt.
func (d *DeadLetter) Retryable(maxRetries int) bool {
	return !d.Resolved && d.RetryCount < maxRetries
}

// Event decodes the stored payload.
func (d *DeadLetter) Event() (*Event, error) {
	var ev Event
	if err := json.Unmarshal(d.Payload, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}
