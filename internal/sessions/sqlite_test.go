package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/haasonsaas/steward/pkg/models"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStoreCRUD(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	session := &models.Session{OwnerID: "user-1", Title: "billing question"}
	if err := store.Create(ctx, session); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.OwnerID != "user-1" || got.Title != "billing question" || got.Archived {
		t.Errorf("unexpected session: %+v", got)
	}

	got.Archived = true
	if err := store.Update(ctx, got); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, err = store.Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Archived {
		t.Error("archived flag not persisted")
	}

	if err := store.Delete(ctx, session.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, session.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStoreHistoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	session := &models.Session{OwnerID: "user-1"}
	if err := store.Create(ctx, session); err != nil {
		t.Fatalf("Create: %v", err)
	}

	assistant := &models.Message{
		Role:    models.RoleAssistant,
		Content: "checking that for you",
		ToolCalls: []models.ToolCall{
			{ID: "tc-1", Name: "get_account", Input: json.RawMessage(`{"account_id":"acct-1"}`)},
		},
	}
	toolMsg := &models.Message{
		Role: models.RoleTool,
		ToolResults: []models.ToolResult{
			{ToolCallID: "tc-1", Content: `{"plan":"basic"}`},
		},
	}
	for _, msg := range []*models.Message{assistant, toolMsg} {
		if err := store.AppendMessage(ctx, session.ID, msg); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	history, err := store.GetHistory(ctx, session.ID, 0)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("got %d messages, want 2", len(history))
	}
	if len(history[0].ToolCalls) != 1 || history[0].ToolCalls[0].Name != "get_account" {
		t.Errorf("tool calls lost: %+v", history[0])
	}
	if len(history[1].ToolResults) != 1 || history[1].ToolResults[0].ToolCallID != "tc-1" {
		t.Errorf("tool results lost: %+v", history[1])
	}
}

func TestSQLiteStoreHistoryLimit(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	session := &models.Session{OwnerID: "user-1"}
	if err := store.Create(ctx, session); err != nil {
		t.Fatalf("Create: %v", err)
	}
	for i := 0; i < 6; i++ {
		msg := &models.Message{Role: models.RoleUser, Content: fmt.Sprintf("m%d", i)}
		if err := store.AppendMessage(ctx, session.ID, msg); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	history, err := store.GetHistory(ctx, session.ID, 2)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("got %d messages, want 2", len(history))
	}
	if history[0].Content != "m4" || history[1].Content != "m5" {
		t.Errorf("limit did not keep most recent: %q, %q", history[0].Content, history[1].Content)
	}
}
