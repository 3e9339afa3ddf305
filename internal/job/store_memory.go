package job

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps jobs in a process-local map. Used when no DATABASE_URL
// is configured and as the backing store in tests.
type InMemoryStore struct {
	mu       sync.RWMutex
	jobs     map[string]*Job
	messages map[string][]Message
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		jobs:     make(map[string]*Job),
		messages: make(map[string][]Message),
	}
}

func (s *InMemoryStore) Create(_ context.Context, j Job) (Job, error) {
	now := time.Now().UTC()
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.Status == "" {
		j.Status = StatusPending
	}
	if j.Logs == nil {
		j.Logs = []LogEntry{}
	}
	j.CreatedAt = now
	j.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	stored := j.Clone()
	s.jobs[j.ID] = &stored
	return stored.Clone(), nil
}

func (s *InMemoryStore) GetByID(_ context.Context, id string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return j.Clone(), nil
}

func (s *InMemoryStore) List(_ context.Context) ([]Job, error) {
	s.mu.RLock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, k int) bool {
		return out[i].CreatedAt.After(out[k].CreatedAt)
	})
	return out, nil
}

func (s *InMemoryStore) Update(_ context.Context, id string, upd Update) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	applyUpdate(j, upd)
	j.UpdatedAt = time.Now().UTC()
	return j.Clone(), nil
}

func (s *InMemoryStore) AppendLog(_ context.Context, id string, entry LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	j.Logs = append(j.Logs, entry)
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryStore) AppendMessage(_ context.Context, id string, msg Message) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return Message{}, ErrNotFound
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	s.messages[id] = append(s.messages[id], msg)
	return msg, nil
}

func (s *InMemoryStore) ListMessages(_ context.Context, id string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.jobs[id]; !ok {
		return nil, ErrNotFound
	}
	out := make([]Message, len(s.messages[id]))
	copy(out, s.messages[id])
	return out, nil
}

func (s *InMemoryStore) ClearMessages(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(s.messages, id)
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(s.jobs, id)
	delete(s.messages, id)
	return nil
}

func (s *InMemoryStore) Close() error { return nil }

func applyUpdate(j *Job, upd Update) {
	if upd.Name != nil {
		j.Name = *upd.Name
	}
	if upd.Status != nil {
		j.Status = *upd.Status
	}
	if upd.CurrentPhase != nil {
		j.CurrentPhase = *upd.CurrentPhase
	}
	if upd.Plan != nil {
		j.Plan = upd.Plan
	}
	if upd.Result != nil {
		r := *upd.Result
		j.Result = &r
	}
	if upd.ResumeToken != nil {
		j.ResumeToken = *upd.ResumeToken
	}
	if upd.RepoPath != nil {
		j.RepoPath = *upd.RepoPath
	}
}
