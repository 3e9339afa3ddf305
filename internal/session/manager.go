package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/dvail/porterd/internal/agent"
)

// Entry is one live agent conversation owned by a job.
type Entry struct {
	JobID       string
	Handle      agent.Handle
	ResumeToken string
	CreatedAt   time.Time
}

type launch struct {
	done  chan struct{}
	entry *Entry
	err   error
}

// Manager guarantees at most one live agent session per job id. Planning,
// execution and chat turns of the same job all share the entry so the agent
// keeps its conversation context; entries survive between turns and are torn
// down only on explicit cleanup or job deletion.
type Manager struct {
	launcher agent.Launcher

	mu       sync.Mutex
	entries  map[string]*Entry
	inflight map[string]*launch
}

func NewManager(launcher agent.Launcher) *Manager {
	return &Manager{
		launcher: launcher,
		entries:  make(map[string]*Entry),
		inflight: make(map[string]*launch),
	}
}

// GetOrCreate returns the job's existing session, or launches one. Concurrent
// calls for the same job id share a single launch: the second caller waits for
// the first launch to finish and receives the same entry, so two live external
// sessions can never exist for one job.
func (m *Manager) GetOrCreate(ctx context.Context, jobID string, cfg agent.LaunchConfig) (Entry, bool, error) {
	m.mu.Lock()
	if e, ok := m.entries[jobID]; ok {
		m.mu.Unlock()
		return *e, false, nil
	}
	if w, ok := m.inflight[jobID]; ok {
		m.mu.Unlock()
		select {
		case <-ctx.Done():
			return Entry{}, false, ctx.Err()
		case <-w.done:
		}
		if w.err != nil {
			return Entry{}, false, w.err
		}
		return *w.entry, false, nil
	}

	w := &launch{done: make(chan struct{})}
	m.inflight[jobID] = w
	m.mu.Unlock()

	handle, err := m.launcher.Launch(ctx, cfg)

	m.mu.Lock()
	delete(m.inflight, jobID)
	if err != nil {
		m.mu.Unlock()
		w.err = err
		close(w.done)
		return Entry{}, false, err
	}
	e := &Entry{
		JobID:       jobID,
		Handle:      handle,
		ResumeToken: handle.ResumeToken(),
		CreatedAt:   time.Now().UTC(),
	}
	m.entries[jobID] = e
	m.mu.Unlock()

	w.entry = e
	close(w.done)
	return *e, true, nil
}

// ResumeToken is a read-only token lookup with no side effects.
func (m *Manager) ResumeToken(jobID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[jobID]; ok {
		return e.ResumeToken
	}
	return ""
}

func (m *Manager) HasActive(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[jobID]
	return ok
}

func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Cleanup releases the job's session if one exists. Handle release errors are
// logged and swallowed; a failed release must not keep the entry alive or
// block job deletion. Safe to call for unknown job ids.
func (m *Manager) Cleanup(jobID string) {
	m.mu.Lock()
	e, ok := m.entries[jobID]
	delete(m.entries, jobID)
	m.mu.Unlock()

	if !ok {
		return
	}
	if err := e.Handle.Cleanup(); err != nil {
		log.Printf("session: cleanup for job %s: %v", jobID, err)
	}
}

// CleanupAll tears down every tracked session; called at process shutdown.
func (m *Manager) CleanupAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Cleanup(id)
	}
}
