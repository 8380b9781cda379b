package sessions

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/haasonsaas/steward/pkg/models"
)

func TestMemoryStoreCRUD(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	session := &models.Session{OwnerID: "user-1", Title: "support chat"}
	if err := store.Create(ctx, session); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if session.ID == "" {
		t.Fatal("Create did not assign an ID")
	}

	got, err := store.Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "support chat" || got.OwnerID != "user-1" {
		t.Errorf("unexpected session: %+v", got)
	}

	got.Archived = true
	if err := store.Update(ctx, got); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, err = store.Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("Get after update: %v", err)
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

func TestMemoryStoreListFilters(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	active := &models.Session{OwnerID: "user-1"}
	archived := &models.Session{OwnerID: "user-1", Archived: true}
	other := &models.Session{OwnerID: "user-2"}
	for _, s := range []*models.Session{active, archived, other} {
		if err := store.Create(ctx, s); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	// Archived flag is set through Update; Create normalizes timestamps only.
	archived.Archived = true
	if err := store.Update(ctx, archived); err != nil {
		t.Fatalf("Update: %v", err)
	}

	out, err := store.List(ctx, "user-1", ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(out) != 1 || out[0].ID != active.ID {
		t.Errorf("List(user-1) = %d sessions, want only active", len(out))
	}

	out, err = store.List(ctx, "user-1", ListOptions{IncludeArchived: true})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(out) != 2 {
		t.Errorf("List(user-1, archived) = %d sessions, want 2", len(out))
	}
}

func TestMemoryStoreHistory(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	session := &models.Session{OwnerID: "user-1"}
	if err := store.Create(ctx, session); err != nil {
		t.Fatalf("Create: %v", err)
	}

	for i := 0; i < 5; i++ {
		msg := &models.Message{Role: models.RoleUser, Content: fmt.Sprintf("message %d", i)}
		if err := store.AppendMessage(ctx, session.ID, msg); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	history, err := store.GetHistory(ctx, session.ID, 3)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("got %d messages, want 3", len(history))
	}
	if history[0].Content != "message 2" || history[2].Content != "message 4" {
		t.Errorf("history not chronological: %q ... %q", history[0].Content, history[2].Content)
	}
}

func TestMemoryStoreClonesMessages(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	session := &models.Session{OwnerID: "user-1"}
	if err := store.Create(ctx, session); err != nil {
		t.Fatalf("Create: %v", err)
	}

	msg := &models.Message{
		Role:     models.RoleAssistant,
		Metadata: map[string]any{"model": "gpt-4o"},
	}
	if err := store.AppendMessage(ctx, session.ID, msg); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	// Mutating the caller copy must not leak into the store.
	msg.Metadata["model"] = "mutated"

	history, err := store.GetHistory(ctx, session.ID, 0)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if history[0].Metadata["model"] != "gpt-4o" {
		t.Errorf("stored metadata mutated: %v", history[0].Metadata)
	}
}

func TestMemoryStoreAppendToMissingSession(t *testing.T) {
	store := NewMemoryStore()
	err := store.AppendMessage(context.Background(), "nope", &models.Message{Role: models.RoleUser})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("AppendMessage = %v, want ErrNotFound", err)
	}
}
