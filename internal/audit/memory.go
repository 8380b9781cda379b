package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemorySink provides an in-memory Sink implementation for testing and
// local runs. Records are kept in append order.
type MemorySink struct {
	mu      sync.RWMutex
	records []*Record
	nextSeq int64
}

// NewMemorySink creates a new in-memory audit sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) Record(ctx context.Context, record *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *record
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	m.nextSeq++
	clone.Seq = m.nextSeq

	record.ID = clone.ID
	record.Seq = clone.Seq
	record.CreatedAt = clone.CreatedAt

	m.records = append(m.records, &clone)
	return nil
}

func (m *MemorySink) Query(ctx context.Context, q Query) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	typeSet := map[InteractionType]bool{}
	for _, t := range q.Types {
		typeSet[t] = true
	}

	var matched []*Record
	for _, record := range m.records {
		if q.SessionID != "" && record.SessionID != q.SessionID {
			continue
		}
		if len(typeSet) > 0 && !typeSet[record.Type] {
			continue
		}
		if !q.Since.IsZero() && record.CreatedAt.Before(q.Since) {
			continue
		}
		if !q.Until.IsZero() && record.CreatedAt.After(q.Until) {
			continue
		}
		clone := *record
		matched = append(matched, &clone)
	}

	start := q.Offset
	if start < 0 {
		start = 0
	}
	if start > len(matched) {
		return []*Record{}, nil
	}
	end := len(matched)
	if q.Limit > 0 && start+q.Limit < end {
		end = start + q.Limit
	}
	return matched[start:end], nil
}
