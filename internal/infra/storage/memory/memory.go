package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/vietddude/suindexer/internal/core/domain"
	"github.com/vietddude/suindexer/internal/infra/storage"
)

var _ storage.Store = (*MemoryStorage)(nil)

// state is one consistent view of every table.
type state struct {
	cursors     map[domain.EventType]domain.Cursor
	deadLetters map[string]domain.DeadLetter
	order       []string
	properties  map[string]domain.Property
}

func newState() *state {
	return &state{
		cursors:     make(map[domain.EventType]domain.Cursor),
		deadLetters: make(map[string]domain.DeadLetter),
		properties:  make(map[string]domain.Property),
	}
}

func (s *state) clone() *state {
	return &state{
		cursors:     maps.Clone(s.cursors),
		deadLetters: maps.Clone(s.deadLetters),
		order:       slices.Clone(s.order),
		properties:  maps.Clone(s.properties),
	}
}

type op func(*state) error

// backend is what repositories read from and write to: either the committed
// state or a transaction's private view.
type backend interface {
	read(fn func(*state))
	write(fn op) error
}

// MemoryStorage is a process-local Store. Transactions stage their writes
// and apply them atomically on Commit.
type MemoryStorage struct {
	mu    sync.RWMutex
	state *state

	failMu     sync.Mutex
	failCommit error
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{state: newState()}
}

func (m *MemoryStorage) read(fn func(*state)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn(m.state)
}

func (m *MemoryStorage) write(fn op) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.state.clone()
	if err := fn(next); err != nil {
		return err
	}
	m.state = next
	return nil
}

// FailNextCommit makes the next Commit return err without applying anything.
func (m *MemoryStorage) FailNextCommit(err error) {
	m.failMu.Lock()
	m.failCommit = err
	m.failMu.Unlock()
}

func (m *MemoryStorage) takeCommitFailure() error {
	m.failMu.Lock()
	defer m.failMu.Unlock()
	err := m.failCommit
	m.failCommit = nil
	return err
}

func (m *MemoryStorage) Cursors() storage.CursorRepository         { return &cursorRepo{b: m} }
func (m *MemoryStorage) DeadLetters() storage.DeadLetterRepository { return &deadLetterRepo{b: m} }
func (m *MemoryStorage) Properties() storage.PropertyRepository    { return &propertyRepo{b: m} }

func (m *MemoryStorage) Begin(ctx context.Context) (storage.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var view *state
	m.read(func(s *state) { view = s.clone() })
	return &memTx{store: m, view: view, savepoints: make(map[string]savepoint)}, nil
}

func (m *MemoryStorage) Reset(ctx context.Context) error {
	m.mu.Lock()
	m.state = newState()
	m.mu.Unlock()
	return nil
}

func (m *MemoryStorage) Ping(ctx context.Context) error { return nil }

func (m *MemoryStorage) Close() error { return nil }

// -----------------------------------------------------------------------------
// Transaction
// -----------------------------------------------------------------------------

type savepoint struct {
	view *state
	ops  int
}

type memTx struct {
	store      *MemoryStorage
	view       *state
	ops        []op
	savepoints map[string]savepoint
	done       bool
}

func (t *memTx) read(fn func(*state)) { fn(t.view) }

func (t *memTx) write(fn op) error {
	if t.done {
		return storage.ErrTxDone
	}
	if err := fn(t.view); err != nil {
		return err
	}
	t.ops = append(t.ops, fn)
	return nil
}

func (t *memTx) Cursors() storage.CursorRepository         { return &cursorRepo{b: t} }
func (t *memTx) DeadLetters() storage.DeadLetterRepository { return &deadLetterRepo{b: t} }
func (t *memTx) Properties() storage.PropertyRepository    { return &propertyRepo{b: t} }

func (t *memTx) Savepoint(ctx context.Context, name string) error {
	if t.done {
		return storage.ErrTxDone
	}
	t.savepoints[name] = savepoint{view: t.view.clone(), ops: len(t.ops)}
	return nil
}

func (t *memTx) RollbackTo(ctx context.Context, name string) error {
	if t.done {
		return storage.ErrTxDone
	}
	sp, ok := t.savepoints[name]
	if !ok {
		return fmt.Errorf("savepoint %q does not exist", name)
	}
	t.view = sp.view.clone()
	t.ops = t.ops[:sp.ops]
	return nil
}

func (t *memTx) Release(ctx context.Context, name string) error {
	if t.done {
		return storage.ErrTxDone
	}
	if _, ok := t.savepoints[name]; !ok {
		return fmt.Errorf("savepoint %q does not exist", name)
	}
	delete(t.savepoints, name)
	return nil
}

// Commit replays the staged writes against the committed state under one lock.
func (t *memTx) Commit() error {
	if t.done {
		return storage.ErrTxDone
	}
	t.done = true
	if err := t.store.takeCommitFailure(); err != nil {
		return err
	}
	return t.store.write(func(s *state) error {
		for _, fn := range t.ops {
			if err := fn(s); err != nil {
				return fmt.Errorf("failed to apply staged write: %w", err)
			}
		}
		return nil
	})
}

// Rollback discards staged writes. Safe to call multiple times.
func (t *memTx) Rollback() error {
	t.done = true
	t.ops = nil
	return nil
}

// -----------------------------------------------------------------------------
// Cursor Repository
// -----------------------------------------------------------------------------

type cursorRepo struct {
	b backend
}

func (r *cursorRepo) Get(ctx context.Context, eventType domain.EventType) (*domain.Cursor, error) {
	var out *domain.Cursor
	r.b.read(func(s *state) {
		if c, ok := s.cursors[eventType]; ok {
			out = &c
		}
	})
	return out, nil
}

func (r *cursorRepo) List(ctx context.Context) ([]*domain.Cursor, error) {
	var out []*domain.Cursor
	r.b.read(func(s *state) {
		for _, c := range s.cursors {
			out = append(out, &c)
		}
	})
	slices.SortFunc(out, func(a, b *domain.Cursor) int {
		if a.EventType < b.EventType {
			return -1
		}
		if a.EventType > b.EventType {
			return 1
		}
		return 0
	})
	return out, nil
}

func (r *cursorRepo) Save(ctx context.Context, cursor *domain.Cursor) error {
	c := *cursor
	return r.b.write(func(s *state) error {
		s.cursors[c.EventType] = c
		return nil
	})
}

func (r *cursorRepo) Delete(ctx context.Context, eventType domain.EventType) error {
	return r.b.write(func(s *state) error {
		delete(s.cursors, eventType)
		return nil
	})
}

// -----------------------------------------------------------------------------
// Dead Letter Repository
// -----------------------------------------------------------------------------

type deadLetterRepo struct {
	b backend
}

func (r *deadLetterRepo) Add(ctx context.Context, entry *domain.DeadLetter) error {
	e := *entry
	return r.b.write(func(s *state) error {
		if _, ok := s.deadLetters[e.ID]; ok {
			return fmt.Errorf("dead letter %s already exists", e.ID)
		}
		s.deadLetters[e.ID] = e
		s.order = append(s.order, e.ID)
		return nil
	})
}

func (r *deadLetterRepo) ListRetryable(
	ctx context.Context,
	maxRetries, limit int,
) ([]*domain.DeadLetter, error) {
	var out []*domain.DeadLetter
	r.b.read(func(s *state) {
		for _, id := range s.order {
			if limit > 0 && len(out) >= limit {
				return
			}
			e := s.deadLetters[id]
			if e.Retryable(maxRetries) {
				out = append(out, &e)
			}
		}
	})
	return out, nil
}

func (r *deadLetterRepo) MarkResolved(ctx context.Context, id string, at time.Time) error {
	return r.b.write(func(s *state) error {
		e, ok := s.deadLetters[id]
		if !ok || e.Resolved {
			return storage.ErrNotFound
		}
		e.Resolved = true
		e.LastRetryAt = &at
		s.deadLetters[id] = e
		return nil
	})
}

func (r *deadLetterRepo) IncrementRetry(
	ctx context.Context,
	id string,
	errMsg string,
	at time.Time,
) (int, error) {
	var count int
	err := r.b.write(func(s *state) error {
		e, ok := s.deadLetters[id]
		if !ok || e.Resolved {
			return storage.ErrNotFound
		}
		e.RetryCount++
		e.ErrorMessage = errMsg
		e.LastRetryAt = &at
		s.deadLetters[id] = e
		count = e.RetryCount
		return nil
	})
	return count, err
}

func (r *deadLetterRepo) CountUnresolved(ctx context.Context) (int, error) {
	var n int
	r.b.read(func(s *state) {
		for _, e := range s.deadLetters {
			if !e.Resolved {
				n++
			}
		}
	})
	return n, nil
}

func (r *deadLetterRepo) CountExhausted(ctx context.Context, maxRetries int) (int, error) {
	var n int
	r.b.read(func(s *state) {
		for _, e := range s.deadLetters {
			if !e.Resolved && e.RetryCount >= maxRetries {
				n++
			}
		}
	})
	return n, nil
}

// DeadLetter returns a copy of an entry regardless of its state.
func (m *MemoryStorage) DeadLetter(id string) (*domain.DeadLetter, bool) {
	var (
		out domain.DeadLetter
		ok  bool
	)
	m.read(func(s *state) { out, ok = s.deadLetters[id] })
	return &out, ok
}

// AllDeadLetters returns every entry in insertion order.
func (m *MemoryStorage) AllDeadLetters() []*domain.DeadLetter {
	var out []*domain.DeadLetter
	m.read(func(s *state) {
		for _, id := range s.order {
			e := s.deadLetters[id]
			out = append(out, &e)
		}
	})
	return out
}

// -----------------------------------------------------------------------------
// Property Repository
// -----------------------------------------------------------------------------

type propertyRepo struct {
	b backend
}

func (r *propertyRepo) Exists(ctx context.Context, id string) (bool, error) {
	var ok bool
	r.b.read(func(s *state) { _, ok = s.properties[id] })
	return ok, nil
}

func (r *propertyRepo) Insert(ctx context.Context, p *domain.Property) error {
	row := *p
	return r.b.write(func(s *state) error {
		if _, ok := s.properties[row.ID]; ok {
			return fmt.Errorf("property %s already exists", row.ID)
		}
		s.properties[row.ID] = row
		return nil
	})
}

func (r *propertyRepo) Get(ctx context.Context, id string) (*domain.Property, error) {
	var out *domain.Property
	r.b.read(func(s *state) {
		if p, ok := s.properties[id]; ok {
			out = &p
		}
	})
	return out, nil
}

func (r *propertyRepo) Count(ctx context.Context) (int, error) {
	var n int
	r.b.read(func(s *state) { n = len(s.properties) })
	return n, nil
}
