package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrExists   = errors.New("session already exists")
)

// Store is the process-wide table of live sessions, keyed by stream SID.
// It is owned by the relay engine and passed down explicitly.
type Store struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	idleTimeout time.Duration
	onEvict     func(*Session)
}

func NewStore(idleTimeout time.Duration) *Store {
	if idleTimeout <= 0 {
		idleTimeout = 5 * time.Minute
	}
	return &Store{
		sessions:    make(map[string]*Session),
		idleTimeout: idleTimeout,
	}
}

// SetEvictHook registers the callback the janitor invokes, outside the
// store lock, for every idle session it removes.
func (st *Store) SetEvictHook(hook func(*Session)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.onEvict = hook
}

func (st *Store) Create(streamSID, callSID, credential string) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.sessions[streamSID]; ok {
		return nil, ErrExists
	}
	s := newSession(streamSID, callSID, credential)
	st.sessions[streamSID] = s
	return s, nil
}

func (st *Store) Get(streamSID string) (*Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[streamSID]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Find returns the first session matching the predicate.
func (st *Store) Find(match func(*Session) bool) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	for _, s := range st.sessions {
		if match(s) {
			return s, true
		}
	}
	return nil, false
}

func (st *Store) Delete(streamSID string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.sessions[streamSID]; !ok {
		return false
	}
	delete(st.sessions, streamSID)
	return true
}

// Snapshot returns the current sessions as a slice, so broadcast fan-out
// can iterate while sessions close concurrently.
func (st *Store) Snapshot() []*Session {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		out = append(out, s)
	}
	return out
}

func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// StartJanitor evicts sessions idle beyond the store timeout. Eviction is
// deliberately independent of observer attachment so a long-lived monitor
// cannot pin dead call records forever.
func (st *Store) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st.evictIdle()
			}
		}
	}()
}

func (st *Store) evictIdle() {
	now := time.Now().UTC()
	var evicted []*Session

	st.mu.Lock()
	for id, s := range st.sessions {
		if now.Sub(s.LastActivityAt()) < st.idleTimeout {
			continue
		}
		delete(st.sessions, id)
		evicted = append(evicted, s)
	}
	hook := st.onEvict
	st.mu.Unlock()

	if hook != nil {
		for _, s := range evicted {
			hook(s)
		}
	}
}
