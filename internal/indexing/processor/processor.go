package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vietddude/suindexer/internal/core/domain"
	"github.com/vietddude/suindexer/internal/infra/storage"
)

var (
	// ErrMalformedEvent is returned when an event payload can't be decoded
	ErrMalformedEvent = errors.New("malformed event")

	// ErrUnknownEventType is returned when no processor is registered for a type
	ErrUnknownEventType = errors.New("no processor registered for event type")
)

// Func applies one event to the projection through tx. It must be idempotent:
// replaying an already-applied event is a no-op.
type Func func(ctx context.Context, event *domain.Event, tx storage.Tx) error

// Processor binds an event type to its upstream filter and projection logic.
type Processor struct {
	EventType domain.EventType
	Filter    domain.EventFilter
	Process   Func
}

// Error wraps a processing failure with the event that caused it.
type Error struct {
	EventType domain.EventType
	EventID   domain.EventID
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("process %s event %s: %v", e.EventType, e.EventID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Run invokes the processor and wraps any failure in *Error. A panicking
// processor is reported as an error instead of crashing the poller.
func (p *Processor) Run(ctx context.Context, event *domain.Event, tx storage.Tx) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &Error{EventType: p.EventType, EventID: event.ID, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if err := p.Process(ctx, event, tx); err != nil {
		return &Error{EventType: p.EventType, EventID: event.ID, Err: err}
	}
	return nil
}

// Registry holds processors keyed by event type in registration order.
type Registry struct {
	mu         sync.RWMutex
	processors map[domain.EventType]*Processor
	order      []domain.EventType
}

func NewRegistry() *Registry {
	return &Registry{processors: make(map[domain.EventType]*Processor)}
}

// Register adds p, replacing any processor already registered for its type.
func (r *Registry) Register(p *Processor) error {
	if p == nil || p.EventType == "" || p.Process == nil {
		return errors.New("processor requires an event type and a process func")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.processors[p.EventType]; !ok {
		r.order = append(r.order, p.EventType)
	}
	r.processors[p.EventType] = p
	return nil
}

// Get returns the processor for eventType.
func (r *Registry) Get(eventType domain.EventType) (*Processor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.processors[eventType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, eventType)
	}
	return p, nil
}

// List returns the processors in registration order.
func (r *Registry) List() []*Processor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Processor, 0, len(r.order))
	for _, t := range r.order {
		out = append(out, r.processors[t])
	}
	return out
}

// Types returns the registered event types in registration order.
func (r *Registry) Types() []domain.EventType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.EventType, len(r.order))
	copy(out, r.order)
	return out
}
