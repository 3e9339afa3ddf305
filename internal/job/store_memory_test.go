package job

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCreateAssignsDefaults(t *testing.T) {
	s := NewInMemoryStore()

	created, err := s.Create(context.Background(), Job{Name: "shop"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("no id assigned")
	}
	if created.Status != StatusPending {
		t.Fatalf("default status: got %s want %s", created.Status, StatusPending)
	}
	if created.CreatedAt.IsZero() || created.UpdatedAt.IsZero() {
		t.Fatalf("timestamps not set: %+v", created)
	}
}

func TestGetByIDReturnsCopy(t *testing.T) {
	s := NewInMemoryStore()
	created, _ := s.Create(context.Background(), Job{Name: "shop", Plan: map[string]any{"k": "v"}})

	got, err := s.GetByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got.Plan["k"] = "mutated"
	got.Name = "mutated"

	again, _ := s.GetByID(context.Background(), created.ID)
	if again.Name != "shop" || again.Plan["k"] != "v" {
		t.Fatalf("store state leaked through returned copy: %+v", again)
	}
}

func TestUpdateAppliesOnlySetFields(t *testing.T) {
	s := NewInMemoryStore()
	created, _ := s.Create(context.Background(), Job{Name: "shop"})

	status := StatusPlanning
	phase := PhasePlanner
	updated, err := s.Update(context.Background(), created.ID, Update{Status: &status, CurrentPhase: &phase})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Status != StatusPlanning || updated.CurrentPhase != PhasePlanner {
		t.Fatalf("update not applied: %+v", updated)
	}
	if updated.Name != "shop" {
		t.Fatalf("unset field mutated: %q", updated.Name)
	}

	token := "resume-1"
	updated, err = s.Update(context.Background(), created.ID, Update{ResumeToken: &token})
	if err != nil {
		t.Fatalf("update token: %v", err)
	}
	if updated.ResumeToken != "resume-1" || updated.Status != StatusPlanning {
		t.Fatalf("partial update clobbered fields: %+v", updated)
	}
}

func TestUpdateUnknownJob(t *testing.T) {
	s := NewInMemoryStore()
	status := StatusFailed
	if _, err := s.Update(context.Background(), "nope", Update{Status: &status}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAppendLogKeepsOrder(t *testing.T) {
	s := NewInMemoryStore()
	created, _ := s.Create(context.Background(), Job{Name: "shop"})

	messages := []string{"first", "second", "third"}
	for _, m := range messages {
		if err := s.AppendLog(context.Background(), created.ID, LogEntry{Level: LogInfo, Message: m}); err != nil {
			t.Fatalf("append %q: %v", m, err)
		}
	}

	got, _ := s.GetByID(context.Background(), created.ID)
	if len(got.Logs) != 3 {
		t.Fatalf("expected 3 log entries, got %d", len(got.Logs))
	}
	for i, m := range messages {
		if got.Logs[i].Message != m {
			t.Fatalf("log %d: got %q want %q", i, got.Logs[i].Message, m)
		}
		if got.Logs[i].Timestamp.IsZero() {
			t.Fatalf("log %d has no timestamp", i)
		}
	}

	// A status update must leave the log untouched.
	status := StatusFailed
	if _, err := s.Update(context.Background(), created.ID, Update{Status: &status}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = s.GetByID(context.Background(), created.ID)
	if len(got.Logs) != 3 {
		t.Fatalf("update changed log length: %d", len(got.Logs))
	}
}

func TestAppendLogUnknownJob(t *testing.T) {
	s := NewInMemoryStore()
	if err := s.AppendLog(context.Background(), "nope", LogEntry{Message: "x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAppendMessageKeepsOrder(t *testing.T) {
	s := NewInMemoryStore()
	created, _ := s.Create(context.Background(), Job{Name: "shop"})

	first, err := s.AppendMessage(context.Background(), created.ID, Message{Role: RoleUser, Content: "how are tables mapped?"})
	if err != nil {
		t.Fatalf("append user message: %v", err)
	}
	if first.ID == "" || first.CreatedAt.IsZero() {
		t.Fatalf("message metadata not assigned: %+v", first)
	}
	if _, err := s.AppendMessage(context.Background(), created.ID, Message{Role: RoleAssistant, Content: "one collection per table"}); err != nil {
		t.Fatalf("append assistant message: %v", err)
	}

	msgs, err := s.ListMessages(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Role != RoleUser || msgs[1].Role != RoleAssistant {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
	if msgs[0].Content != "how are tables mapped?" || msgs[1].Content != "one collection per table" {
		t.Fatalf("message content mangled: %+v", msgs)
	}
}

func TestMessagesUnknownJob(t *testing.T) {
	s := NewInMemoryStore()
	if _, err := s.AppendMessage(context.Background(), "nope", Message{Role: RoleUser, Content: "x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("append: expected ErrNotFound, got %v", err)
	}
	if _, err := s.ListMessages(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("list: expected ErrNotFound, got %v", err)
	}
	if err := s.ClearMessages(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("clear: expected ErrNotFound, got %v", err)
	}
}

func TestClearMessages(t *testing.T) {
	s := NewInMemoryStore()
	created, _ := s.Create(context.Background(), Job{Name: "shop"})
	if _, err := s.AppendMessage(context.Background(), created.ID, Message{Role: RoleUser, Content: "x"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := s.ClearMessages(context.Background(), created.ID); err != nil {
		t.Fatalf("clear: %v", err)
	}
	msgs, err := s.ListMessages(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("list after clear: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("messages survived clear: %+v", msgs)
	}
}

func TestDeleteDropsMessages(t *testing.T) {
	s := NewInMemoryStore()
	created, _ := s.Create(context.Background(), Job{Name: "shop"})
	if _, err := s.AppendMessage(context.Background(), created.ID, Message{Role: RoleUser, Content: "x"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := s.Delete(context.Background(), created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.ListMessages(context.Background(), created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	s := NewInMemoryStore()

	older, _ := s.Create(context.Background(), Job{Name: "older"})
	time.Sleep(2 * time.Millisecond)
	newer, _ := s.Create(context.Background(), Job{Name: "newer"})

	jobs, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].ID != newer.ID || jobs[1].ID != older.ID {
		t.Fatalf("unexpected order: %s, %s", jobs[0].Name, jobs[1].Name)
	}
}

func TestDelete(t *testing.T) {
	s := NewInMemoryStore()
	created, _ := s.Create(context.Background(), Job{Name: "shop"})

	if err := s.Delete(context.Background(), created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetByID(context.Background(), created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.Delete(context.Background(), created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestTerminalAndInProgress(t *testing.T) {
	for _, st := range []Status{StatusCompleted, StatusFailed} {
		if !st.Terminal() {
			t.Fatalf("%s should be terminal", st)
		}
		if st.InProgress() {
			t.Fatalf("%s should not be in progress", st)
		}
	}
	for _, st := range []Status{StatusCloning, StatusPlanning, StatusExecuting} {
		if !st.InProgress() {
			t.Fatalf("%s should be in progress", st)
		}
		if st.Terminal() {
			t.Fatalf("%s should not be terminal", st)
		}
	}
	if StatusPending.Terminal() || StatusPending.InProgress() || StatusPlanReady.Terminal() || StatusPlanReady.InProgress() {
		t.Fatalf("pending/plan_ready misclassified")
	}
}
