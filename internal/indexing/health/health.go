// Package health provides upstream lag monitoring, dead-letter draining and
// status reporting.
package health

import (
	"time"

	"github.com/vietddude/suindexer/internal/core/domain"
)

// SystemStatus represents the overall health state of the system or an event type.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// worse reports whether a is a worse state than b.
func worse(a, b SystemStatus) bool {
	rank := map[SystemStatus]int{StatusHealthy: 0, StatusDegraded: 1, StatusCritical: 2}
	return rank[a] > rank[b]
}

// TypeHealth contains health data for one event type.
type TypeHealth struct {
	EventType       domain.EventType `json:"event_type"`
	Status          SystemStatus     `json:"status"`
	HasNewEvents    bool             `json:"has_new_events"`
	LatestEvent     *domain.EventID  `json:"latest_event,omitempty"`
	Cursor          *domain.EventID  `json:"cursor,omitempty"`
	CursorUpdatedAt *time.Time       `json:"cursor_updated_at,omitempty"`
	Lag             string           `json:"lag,omitempty"`
	Error           string           `json:"error,omitempty"`
}

// Report contains the full system health report.
type Report struct {
	SystemStatus          SystemStatus                    `json:"system_status"`
	EventTypes            map[domain.EventType]TypeHealth `json:"event_types"`
	UnresolvedDeadLetters int                             `json:"unresolved_dead_letters"`
	ExhaustedDeadLetters  int                             `json:"exhausted_dead_letters"`
	CheckedAt             time.Time                       `json:"checked_at"`
}

// aggregate sets SystemStatus to the worst per-type status. Exhausted dead
// letters need an operator and degrade the system on their own.
func (r *Report) aggregate() {
	status := StatusHealthy
	for _, t := range r.EventTypes {
		if worse(t.Status, status) {
			status = t.Status
		}
	}
	if r.ExhaustedDeadLetters > 0 && status == StatusHealthy {
		status = StatusDegraded
	}
	r.SystemStatus = status
}
