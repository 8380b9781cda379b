package approval

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/steward/pkg/models"
)

// MemoryStore provides an in-memory Store implementation for testing and
// local runs.
type MemoryStore struct {
	mu      sync.RWMutex
	byToken map[string]*Request
	byID    map[string]*Request
	pauses  map[string]*PauseState
}

// NewMemoryStore creates a new in-memory approval store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byToken: map[string]*Request{},
		byID:    map[string]*Request{},
		pauses:  map[string]*PauseState{},
	}
}

func (m *MemoryStore) Create(ctx context.Context, req *Request, pause *PauseState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.byID {
		if existing.ToolCallID == req.ToolCallID && existing.Status == StatusPending {
			return ErrDuplicatePending
		}
	}

	clone := cloneRequest(req)
	m.byToken[clone.Token] = clone
	m.byID[clone.ID] = clone
	if pause != nil {
		m.pauses[clone.ID] = clonePause(pause)
	}
	return nil
}

func (m *MemoryStore) GetByToken(ctx context.Context, token string) (*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	req, ok := m.byToken[token]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRequest(req), nil
}

func (m *MemoryStore) Decide(ctx context.Context, token string, to Status, decidedBy string) (*Request, error) {
	if !to.Terminal() {
		return nil, ErrNotPending
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.byToken[token]
	if !ok {
		return nil, ErrNotFound
	}
	if req.Status != StatusPending {
		return nil, ErrNotPending
	}

	now := time.Now()
	req.Status = to
	req.DecidedAt = &now
	req.DecidedBy = decidedBy
	return cloneRequest(req), nil
}

func (m *MemoryStore) PauseState(ctx context.Context, requestID string) (*PauseState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pause, ok := m.pauses[requestID]
	if !ok {
		return nil, ErrPauseStateNotFound
	}
	return clonePause(pause), nil
}

func (m *MemoryStore) DeletePauseState(ctx context.Context, requestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pauses, requestID)
	return nil
}

func (m *MemoryStore) ListPending(ctx context.Context, sessionID string) ([]*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []*Request{}
	for _, req := range m.byID {
		if req.SessionID == sessionID && req.Status == StatusPending {
			out = append(out, cloneRequest(req))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) Sweep(ctx context.Context, now time.Time, grace time.Duration) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	expired := 0
	removed := 0
	for id, req := range m.byID {
		switch {
		case req.Status == StatusPending && req.ExpiredAt(now):
			req.Status = StatusExpired
			decidedAt := now
			req.DecidedAt = &decidedAt
			expired++
		case req.Status.Terminal() && req.DecidedAt != nil && now.Sub(*req.DecidedAt) > grace:
			delete(m.byID, id)
			delete(m.byToken, req.Token)
			delete(m.pauses, id)
			removed++
		}
	}
	return expired, removed, nil
}

func cloneRequest(req *Request) *Request {
	clone := *req
	if req.Input != nil {
		clone.Input = append([]byte(nil), req.Input...)
	}
	if req.DecidedAt != nil {
		decidedAt := *req.DecidedAt
		clone.DecidedAt = &decidedAt
	}
	return &clone
}

func clonePause(pause *PauseState) *PauseState {
	clone := *pause
	clone.Window = append([]models.Message(nil), pause.Window...)
	clone.Remaining = append([]models.ToolCall(nil), pause.Remaining...)
	return &clone
}
