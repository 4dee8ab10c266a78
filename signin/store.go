package signin

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store persists flow records between requests. Records expire after the
// TTL given at creation; every Update refreshes it.
type Store interface {
	Create(ctx context.Context, state State) (string, error)
	Load(ctx context.Context, id string) (State, error)
	// Update runs fn on the current record and saves the result atomically.
	// When fn returns an error nothing is written and the error is returned.
	Update(ctx context.Context, id string, fn func(*State) error) (State, error)
	Delete(ctx context.Context, id string) error
}

func newFlowID() string {
	return uuid.NewString()
}

type memoryRecord struct {
	state     State
	expiresAt time.Time
}

// MemoryStore keeps flows in process memory. It suits a single instance
// and tests.
type MemoryStore struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	flows map[string]memoryRecord
}

// NewMemoryStore creates a MemoryStore whose records live for ttl.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:   ttl,
		now:   time.Now,
		flows: make(map[string]memoryRecord),
	}
}

func (s *MemoryStore) Create(_ context.Context, state State) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()
	id := newFlowID()
	s.flows[id] = memoryRecord{state: state, expiresAt: s.now().Add(s.ttl)}
	return id, nil
}

func (s *MemoryStore) Load(_ context.Context, id string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.getLocked(id)
	if !ok {
		return State{}, ErrFlowNotFound
	}
	return rec.state, nil
}

func (s *MemoryStore) Update(_ context.Context, id string, fn func(*State) error) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.getLocked(id)
	if !ok {
		return State{}, ErrFlowNotFound
	}
	next := rec.state
	if err := fn(&next); err != nil {
		return rec.state, err
	}
	s.flows[id] = memoryRecord{state: next, expiresAt: s.now().Add(s.ttl)}
	return next, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.flows, id)
	return nil
}

func (s *MemoryStore) getLocked(id string) (memoryRecord, bool) {
	rec, ok := s.flows[id]
	if !ok {
		return memoryRecord{}, false
	}
	if !s.now().Before(rec.expiresAt) {
		delete(s.flows, id)
		return memoryRecord{}, false
	}
	return rec, true
}

func (s *MemoryStore) sweepLocked() {
	now := s.now()
	for id, rec := range s.flows {
		if !now.Before(rec.expiresAt) {
			delete(s.flows, id)
		}
	}
}
