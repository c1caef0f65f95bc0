package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
)

func TestMemoryStoreQueueIsUniqueAndFIFO(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	first, created, err := s.EnqueueResource(ctx, 30)
	if err != nil || !created {
		t.Fatalf("enqueue 30: created=%v err=%v", created, err)
	}
	if _, created, _ := s.EnqueueResource(ctx, 10); !created {
		t.Fatal("expected entry for 10")
	}
	again, created, err := s.EnqueueResource(ctx, 30)
	if err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}
	if created || again.ID != first.ID {
		t.Fatalf("expected existing entry %d, got %+v created=%v", first.ID, again, created)
	}

	next, err := s.NextQueueEntry(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if next.ResourceID != 30 {
		t.Fatalf("expected oldest entry first, got resource %d", next.ResourceID)
	}
	if n, _ := s.QueueLength(ctx); n != 2 {
		t.Fatalf("expected 2 pending entries, got %d", n)
	}
}

func TestMemoryStoreFailedEntriesAreParked(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, _, _ = s.EnqueueResource(ctx, 1)
	_, _, _ = s.EnqueueResource(ctx, 2)

	if err := s.MarkQueueEntryFailed(ctx, 1, "unsupported resource type"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	next, err := s.NextQueueEntry(ctx)
	if err != nil || next.ResourceID != 2 {
		t.Fatalf("expected parked entry to be skipped, got %+v err=%v", next, err)
	}
	if n, _ := s.QueueLength(ctx); n != 1 {
		t.Fatalf("expected 1 pending entry, got %d", n)
	}

	entry, err := s.GetQueueEntry(ctx, 1)
	if err != nil || !entry.Failed() || entry.LastError != "unsupported resource type" {
		t.Fatalf("unexpected parked entry %+v err=%v", entry, err)
	}

	retried, err := s.RetryQueueEntry(ctx, 1)
	if err != nil || !retried {
		t.Fatalf("retry: %v %v", retried, err)
	}
	if retried, _ := s.RetryQueueEntry(ctx, 1); retried {
		t.Fatal("second retry should be a no-op")
	}
	if n, _ := s.QueueLength(ctx); n != 2 {
		t.Fatalf("expected 2 pending entries after retry, got %d", n)
	}
}

func TestMemoryStoreMissingRowsUseErrNoRows(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, err := s.GetResource(ctx, 1); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("resource: %v", err)
	}
	if _, err := s.GetKeywords(ctx, 1); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("keywords: %v", err)
	}
	if _, err := s.NextQueueEntry(ctx); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("queue: %v", err)
	}
	if _, err := s.GetFolderIndex(ctx, 1); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("folder index: %v", err)
	}
}

func TestMemoryStoreKeywordsAreCopied(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	phrases := []string{"matrix", "pivot"}
	if err := s.ReplaceKeywords(ctx, 5, phrases); err != nil {
		t.Fatalf("replace: %v", err)
	}
	phrases[0] = "mutated"

	got, err := s.GetKeywords(ctx, 5)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Phrases[0] != "matrix" {
		t.Fatalf("stored keywords aliased caller slice: %v", got.Phrases)
	}
}

func TestMemoryStoreUpdateFolderIndex(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	err := s.UpdateFolderIndex(ctx, 9, func(tree string) (string, error) {
		if tree != "" {
			t.Fatalf("expected empty tree for new folder, got %q", tree)
		}
		return "v1", nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	boom := errors.New("boom")
	if err := s.UpdateFolderIndex(ctx, 9, func(string) (string, error) { return "", boom }); !errors.Is(err, boom) {
		t.Fatalf("expected mutate error, got %v", err)
	}

	index, err := s.GetFolderIndex(ctx, 9)
	if err != nil || index.Tree != "v1" {
		t.Fatalf("failed mutation must keep previous tree: %+v err=%v", index, err)
	}

	if err := s.DeleteFolderIndex(ctx, 9); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetFolderIndex(ctx, 9); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected deleted index, got %v", err)
	}
}

func TestMemoryStoreMembership(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.PutGroup(Group{ID: 1, Name: "Linear Algebra", OwnerID: 100})
	s.AddMember(1, 200)

	for userID, want := range map[int64]bool{100: true, 200: true, 300: false} {
		got, err := s.IsGroupMember(ctx, 1, userID)
		if err != nil {
			t.Fatalf("membership %d: %v", userID, err)
		}
		if got != want {
			t.Fatalf("membership %d: got %v want %v", userID, got, want)
		}
	}
}
