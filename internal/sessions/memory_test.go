package sessions

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/tessellate-ai/loom/pkg/models"
)

func TestMemoryStoreCreateGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	session := &models.Session{UserID: "u1", OrgID: "o1", Dir: "/tmp/s"}
	if err := store.Create(ctx, session); err != nil {
		t.Fatalf("create: %v", err)
	}
	if session.ID == "" {
		t.Fatal("id not assigned")
	}
	if session.CreatedAt.IsZero() || session.UpdatedAt.IsZero() {
		t.Fatal("timestamps not set")
	}

	got, err := store.Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.UserID != "u1" || got.OrgID != "o1" || got.Dir != "/tmp/s" {
		t.Fatalf("session fields wrong: %+v", got)
	}

	// Returned session is a copy; mutating it must not touch the store.
	got.UserID = "hacked"
	again, _ := store.Get(ctx, session.ID)
	if again.UserID != "u1" {
		t.Fatal("store state leaked through returned pointer")
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreGetOrCreate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first, err := store.GetOrCreate(ctx, "", "u1", "o1")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if first.ID == "" {
		t.Fatal("id not assigned")
	}

	second, err := store.GetOrCreate(ctx, first.ID, "other", "other")
	if err != nil {
		t.Fatalf("get or create existing: %v", err)
	}
	if second.UserID != "u1" {
		t.Fatalf("existing session must win: %+v", second)
	}

	third, err := store.GetOrCreate(ctx, "explicit-id", "u2", "o2")
	if err != nil {
		t.Fatalf("get or create with id: %v", err)
	}
	if third.ID != "explicit-id" {
		t.Fatalf("requested id not kept: %s", third.ID)
	}
}

func TestMemoryStoreUpdateTouchDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	session := &models.Session{}
	if err := store.Create(ctx, session); err != nil {
		t.Fatalf("create: %v", err)
	}

	session.UserID = "updated"
	if err := store.Update(ctx, session); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ := store.Get(ctx, session.ID)
	if got.UserID != "updated" {
		t.Fatalf("update not persisted: %+v", got)
	}

	before := got.UpdatedAt
	time.Sleep(2 * time.Millisecond)
	if err := store.Touch(ctx, session.ID); err != nil {
		t.Fatalf("touch: %v", err)
	}
	got, _ = store.Get(ctx, session.ID)
	if !got.UpdatedAt.After(before) {
		t.Fatal("touch did not bump updated_at")
	}

	if err := store.Update(ctx, &models.Session{ID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update missing: %v", err)
	}
	if err := store.Touch(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("touch missing: %v", err)
	}

	if err := store.Delete(ctx, session.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, session.ID); !errors.Is(err, ErrNotFound) {
		t.Fatal("session survived delete")
	}
}

func TestMemoryStoreList(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		user := "u1"
		if i%2 == 1 {
			user = "u2"
		}
		session := &models.Session{ID: fmt.Sprintf("s%d", i), UserID: user, OrgID: "o1"}
		if err := store.Create(ctx, session); err != nil {
			t.Fatalf("create: %v", err)
		}
		// Distinct updated_at values for a stable sort.
		time.Sleep(2 * time.Millisecond)
	}

	all, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 sessions, got %d", len(all))
	}
	// Most recently updated first.
	if all[0].ID != "s4" || all[4].ID != "s0" {
		t.Fatalf("order wrong: %s ... %s", all[0].ID, all[4].ID)
	}

	u1, err := store.List(ctx, ListOptions{UserID: "u1"})
	if err != nil {
		t.Fatalf("list by user: %v", err)
	}
	if len(u1) != 3 {
		t.Fatalf("expected 3 sessions for u1, got %d", len(u1))
	}

	page, err := store.List(ctx, ListOptions{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("list page: %v", err)
	}
	if len(page) != 2 || page[0].ID != "s3" || page[1].ID != "s2" {
		t.Fatalf("pagination wrong: %+v", page)
	}

	none, err := store.List(ctx, ListOptions{Offset: 99})
	if err != nil {
		t.Fatalf("list past end: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected empty page, got %d", len(none))
	}
}

func TestMemoryStoreHistory(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	session := &models.Session{ID: "s1"}
	if err := store.Create(ctx, session); err != nil {
		t.Fatalf("create: %v", err)
	}

	for i := 0; i < 6; i++ {
		msg := &models.Message{Role: models.RoleUser, Content: fmt.Sprintf("m%d", i)}
		if err := store.AppendMessage(ctx, "s1", msg); err != nil {
			t.Fatalf("append: %v", err)
		}
		if msg.ID == "" || msg.SessionID != "s1" {
			t.Fatalf("message fields not set: %+v", msg)
		}
	}

	if err := store.AppendMessage(ctx, "missing", &models.Message{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("append to missing session: %v", err)
	}

	all, err := store.GetHistory(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(all) != 6 {
		t.Fatalf("expected 6 messages, got %d", len(all))
	}

	// Limit keeps the most recent tail, oldest first.
	tail, err := store.GetHistory(ctx, "s1", 3)
	if err != nil {
		t.Fatalf("history with limit: %v", err)
	}
	if len(tail) != 3 || tail[0].Content != "m3" || tail[2].Content != "m5" {
		t.Fatalf("tail wrong: %+v", tail)
	}

	empty, err := store.GetHistory(ctx, "unknown", 10)
	if err != nil {
		t.Fatalf("history of unknown session: %v", err)
	}
	if len(empty) != 0 {
		t.Fatal("expected no messages")
	}
}

func TestMemoryStoreDeleteIdleBefore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	old := &models.Session{ID: "old"}
	fresh := &models.Session{ID: "fresh"}
	if err := store.Create(ctx, old); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, fresh); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.AppendMessage(ctx, "old", &models.Message{Content: "x"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	// Age the old session directly.
	store.mu.Lock()
	store.sessions["old"].UpdatedAt = time.Now().UTC().Add(-2 * time.Hour)
	store.mu.Unlock()

	n, err := store.DeleteIdleBefore(ctx, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("delete idle: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 deleted, got %d", n)
	}
	if _, err := store.Get(ctx, "old"); !errors.Is(err, ErrNotFound) {
		t.Fatal("idle session survived")
	}
	if msgs, _ := store.GetHistory(ctx, "old", 0); len(msgs) != 0 {
		t.Fatal("messages of deleted session survived")
	}
	if _, err := store.Get(ctx, "fresh"); err != nil {
		t.Fatalf("fresh session removed: %v", err)
	}
}
