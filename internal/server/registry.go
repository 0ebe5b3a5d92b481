package server

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spigell/resume-matcher/internal/session"
)

type registryEntry struct {
	session  *session.Session
	lastUsed time.Time
}

// registry maps client session ids to sessions and drops idle ones.
type registry struct {
	mu      sync.Mutex
	entries map[string]*registryEntry
	idleTTL time.Duration
	now     func() time.Time
	factory func() (*session.Session, error)
}

func newRegistry(factory func() (*session.Session, error), idleTTL time.Duration) *registry {
	return &registry{
		entries: make(map[string]*registryEntry),
		idleTTL: idleTTL,
		now:     time.Now,
		factory: factory,
	}
}

// get returns the session of id, creating one when id is empty or unknown.
// The returned id is the one the client must use from now on.
func (r *registry) get(id string) (string, *session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.evict(now)

	if entry, ok := r.entries[id]; ok && id != "" {
		entry.lastUsed = now
		return id, entry.session, nil
	}

	sess, err := r.factory()
	if err != nil {
		return "", nil, err
	}
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewString()
	}
	r.entries[id] = &registryEntry{session: sess, lastUsed: now}
	return id, sess, nil
}

// lookup returns an existing session without creating one.
func (r *registry) lookup(id string) (*session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	entry.lastUsed = r.now()
	return entry.session, true
}

func (r *registry) evict(now time.Time) {
	if r.idleTTL <= 0 {
		return
	}
	for id, entry := range r.entries {
		if now.Sub(entry.lastUsed) > r.idleTTL {
			entry.session.Reset()
			delete(r.entries, id)
		}
	}
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
