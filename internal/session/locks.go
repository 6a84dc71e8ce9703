package session

import "sync"

// Locks is a per-session advisory reader/writer lock registry. Writers (ingest,
// build, compare) exclude everyone on the same session; readers only exclude
// writers. Entries are dropped once no caller holds or waits on them.
type Locks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	rw   sync.RWMutex
	refs int
}

func NewLocks() *Locks {
	return &Locks{entries: make(map[string]*lockEntry)}
}

// Lock blocks until the session is exclusively held and returns its release func.
func (l *Locks) Lock(sessionID string) (unlock func()) {
	e := l.acquire(sessionID)
	e.rw.Lock()
	return func() {
		e.rw.Unlock()
		l.release(sessionID)
	}
}

// RLock blocks until no writer holds the session.
func (l *Locks) RLock(sessionID string) (unlock func()) {
	e := l.acquire(sessionID)
	e.rw.RLock()
	return func() {
		e.rw.RUnlock()
		l.release(sessionID)
	}
}

func (l *Locks) acquire(sessionID string) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[sessionID]
	if !ok {
		e = &lockEntry{}
		l.entries[sessionID] = e
	}
	e.refs++
	return e
}

func (l *Locks) release(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[sessionID]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(l.entries, sessionID)
	}
}

func (l *Locks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
