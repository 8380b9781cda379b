package sessions

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLockTimeout is returned when acquiring a lock times out.
var ErrLockTimeout = errors.New("session: lock acquisition timeout")

// SessionLock represents a lock for a specific session. Holding the token
// in sem is holding the lock; mu guards only the holder metadata.
type SessionLock struct {
	sessionID string
	sem       chan struct{}

	mu       sync.Mutex
	holder   string
	acquired time.Time
}

// SessionLockManager serializes turns per session. At most one turn runs
// against a session at any time; a second request for the same session
// waits for the lock rather than interleaving.
//
// Thread Safety:
// SessionLockManager is safe for concurrent use.
type SessionLockManager struct {
	locks      map[string]*SessionLock
	mu         sync.RWMutex
	defaultTTL time.Duration
}

// NewSessionLockManager creates a new session lock manager.
func NewSessionLockManager(defaultTTL time.Duration) *SessionLockManager {
	if defaultTTL <= 0 {
		defaultTTL = 30 * time.Second
	}

	mgr := &SessionLockManager{
		locks:      make(map[string]*SessionLock),
		defaultTTL: defaultTTL,
	}

	go mgr.cleanupLoop()

	return mgr
}

// Acquire attempts to acquire the write lock for the session.
// If the lock is already held, it will wait up to timeout duration.
// Returns a release function that must be called when done.
func (m *SessionLockManager) Acquire(ctx context.Context, sessionID, holder string, timeout time.Duration) (func(), error) {
	if timeout <= 0 {
		timeout = m.defaultTTL
	}

	lock := m.lockFor(sessionID)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case lock.sem <- struct{}{}:
	case <-timer.C:
		return nil, ErrLockTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	lock.setHolder(holder)
	return func() { m.release(lock) }, nil
}

// TryAcquire attempts to acquire the write lock without waiting.
// Returns false if the lock is already held.
func (m *SessionLockManager) TryAcquire(sessionID, holder string) (func(), bool) {
	lock := m.lockFor(sessionID)

	select {
	case lock.sem <- struct{}{}:
	default:
		return nil, false
	}

	lock.setHolder(holder)
	return func() { m.release(lock) }, true
}

// IsLocked returns whether the session is currently locked.
func (m *SessionLockManager) IsLocked(sessionID string) bool {
	m.mu.RLock()
	lock, ok := m.locks[sessionID]
	m.mu.RUnlock()

	return ok && len(lock.sem) > 0
}

func (m *SessionLockManager) lockFor(sessionID string) *SessionLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[sessionID]
	if !ok {
		lock = &SessionLock{
			sessionID: sessionID,
			sem:       make(chan struct{}, 1),
		}
		m.locks[sessionID] = lock
	}
	return lock
}

func (lock *SessionLock) setHolder(holder string) {
	lock.mu.Lock()
	lock.holder = holder
	lock.acquired = time.Now()
	lock.mu.Unlock()
}

func (m *SessionLockManager) release(lock *SessionLock) {
	lock.mu.Lock()
	lock.holder = ""
	lock.mu.Unlock()
	<-lock.sem
}

// cleanupLoop periodically removes stale lock entries.
func (m *SessionLockManager) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		m.cleanup()
	}
}

// cleanup removes unlocked session entries that haven't been used recently.
func (m *SessionLockManager) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-10 * time.Minute)

	for id, lock := range m.locks {
		if len(lock.sem) > 0 {
			continue
		}
		lock.mu.Lock()
		stale := lock.acquired.Before(cutoff)
		lock.mu.Unlock()
		if stale {
			delete(m.locks, id)
		}
	}
}
