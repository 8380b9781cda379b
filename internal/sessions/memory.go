package sessions

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/steward/pkg/models"
)

// maxMessagesPerSession limits messages stored per session to prevent unbounded
// memory growth. When exceeded, old messages are trimmed to maintain the limit.
const maxMessagesPerSession = 1000

// MemoryStore provides an in-memory Store implementation for testing and local runs.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	messages map[string][]*models.Message
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: map[string]*models.Session{},
		messages: map[string][]*models.Message{},
	}
}

func (m *MemoryStore) Create(ctx context.Context, session *models.Session) error {
	if session == nil {
		return errors.New("session is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := cloneSession(session)
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	clone.UpdatedAt = clone.CreatedAt
	// Reflect generated fields back to caller.
	session.ID = clone.ID
	session.CreatedAt = clone.CreatedAt
	session.UpdatedAt = clone.UpdatedAt
	m.sessions[clone.ID] = clone
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(session), nil
}

func (m *MemoryStore) Update(ctx context.Context, session *models.Session) error {
	if session == nil {
		return errors.New("session is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.sessions[session.ID]
	if !ok {
		return ErrNotFound
	}
	clone := cloneSession(session)
	clone.CreatedAt = existing.CreatedAt
	clone.UpdatedAt = time.Now()
	m.sessions[clone.ID] = clone
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	delete(m.messages, id)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, ownerID string, opts ListOptions) ([]*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Session
	for _, session := range m.sessions {
		if ownerID != "" && session.OwnerID != ownerID {
			continue
		}
		if session.Archived && !opts.IncludeArchived {
			continue
		}
		out = append(out, cloneSession(session))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})

	start := opts.Offset
	if start < 0 {
		start = 0
	}
	if start > len(out) {
		return []*models.Session{}, nil
	}
	end := len(out)
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}
	return out[start:end], nil
}

func (m *MemoryStore) AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error {
	if msg == nil {
		return errors.New("message is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	clone := cloneMessage(msg)
	clone.SessionID = sessionID
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	// Reflect generated fields back to caller.
	msg.ID = clone.ID
	msg.SessionID = clone.SessionID
	msg.CreatedAt = clone.CreatedAt
	m.messages[sessionID] = append(m.messages[sessionID], clone)
	session.UpdatedAt = time.Now()

	// Trim old messages if limit is exceeded.
	if len(m.messages[sessionID]) > maxMessagesPerSession {
		excess := len(m.messages[sessionID]) - maxMessagesPerSession
		m.messages[sessionID] = m.messages[sessionID][excess:]
	}
	return nil
}

func (m *MemoryStore) GetHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	messages := m.messages[sessionID]
	if len(messages) == 0 {
		return []*models.Message{}, nil
	}
	start := 0
	if limit > 0 && len(messages) > limit {
		start = len(messages) - limit
	}
	out := make([]*models.Message, 0, len(messages)-start)
	for _, msg := range messages[start:] {
		out = append(out, cloneMessage(msg))
	}
	return out, nil
}

func cloneSession(s *models.Session) *models.Session {
	clone := *s
	return &clone
}

func cloneMessage(msg *models.Message) *models.Message {
	clone := *msg
	if msg.ToolCalls != nil {
		clone.ToolCalls = make([]models.ToolCall, len(msg.ToolCalls))
		for i, tc := range msg.ToolCalls {
			clone.ToolCalls[i] = tc
			if tc.Input != nil {
				clone.ToolCalls[i].Input = append([]byte(nil), tc.Input...)
			}
		}
	}
	if msg.ToolResults != nil {
		clone.ToolResults = append([]models.ToolResult(nil), msg.ToolResults...)
	}
	clone.Metadata = deepCloneMap(msg.Metadata)
	return &clone
}

// deepCloneMap creates a deep copy of a map[string]any to prevent shared references.
func deepCloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	clone := make(map[string]any, len(m))
	for k, v := range m {
		clone[k] = deepCloneValue(v)
	}
	return clone
}

func deepCloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCloneMap(val)
	case []any:
		cloned := make([]any, len(val))
		for i, item := range val {
			cloned[i] = deepCloneValue(item)
		}
		return cloned
	case []string:
		cloned := make([]string, len(val))
		copy(cloned, val)
		return cloned
	default:
		return v
	}
}
