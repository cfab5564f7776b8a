// Package taskstore implements the per-tier in-memory task map described
// in the orchestration core's task store component: concurrent access,
// compare-and-set status transitions, and an optional soft cap that
// evicts the oldest terminal tasks.
package taskstore

import (
	"errors"
	"sort"
	"sync"
	"time"

	"wopa/internal/wire"
)

var (
	// ErrExists is returned by Create when task_id is already present.
	ErrExists = errors.New("taskstore: task already exists")
	// ErrNotFound is returned when task_id has no entry.
	ErrNotFound = errors.New("taskstore: task not found")
	// ErrInvalidTransition is returned when a transition's from-status
	// does not match the task's current status, or the task is terminal.
	ErrInvalidTransition = errors.New("taskstore: invalid status transition")
)

// Store is a concurrent task_id -> Task map with CAS status transitions.
// No eviction runs unless SoftCap is set to a positive value, matching
// the spec's "no eviction in scope" default.
type Store struct {
	mu      sync.RWMutex
	tasks   map[string]*wire.Task
	order   []string // insertion order, for soft-cap eviction
	SoftCap int
}

// New constructs an empty Store. softCap <= 0 disables eviction.
func New(softCap int) *Store {
	return &Store{
		tasks:   make(map[string]*wire.Task),
		SoftCap: softCap,
	}
}

// Create inserts a new Task with the given initial status. Returns
// ErrExists if task_id is already present.
func (s *Store) Create(taskID string, serviceName wire.ServiceName, input any, initial wire.TaskStatus) (*wire.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[taskID]; ok {
		return nil, ErrExists
	}
	now := time.Now()
	t := &wire.Task{
		TaskID:      taskID,
		ServiceName: serviceName,
		Status:      initial,
		CreatedAt:   now,
		UpdatedAt:   now,
		Input:       input,
	}
	s.tasks[taskID] = t
	s.order = append(s.order, taskID)
	s.evictLocked()
	return t, nil
}

// Transition performs an atomic compare-and-set of status from `from` to
// `to`. Fails if the current status isn't `from` or is already terminal.
func (s *Store) Transition(taskID string, from, to wire.TaskStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return ErrNotFound
	}
	if t.Status.Terminal() || t.Status != from {
		return ErrInvalidTransition
	}
	t.Status = to
	t.UpdatedAt = time.Now()
	return nil
}

// SetResult transitions a task from in_progress to completed, attaching
// its Verdict. Fails if the task is not currently in_progress.
func (s *Store) SetResult(taskID string, result wire.Verdict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return ErrNotFound
	}
	if t.Status != wire.StatusInProgress {
		return ErrInvalidTransition
	}
	t.Result = &result
	t.Status = wire.StatusCompleted
	t.UpdatedAt = time.Now()
	return nil
}

// SetError transitions a non-terminal task to error with the given
// message.
func (s *Store) SetError(taskID string, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return ErrNotFound
	}
	if t.Status.Terminal() {
		return ErrInvalidTransition
	}
	t.Error = message
	t.Status = wire.StatusError
	t.UpdatedAt = time.Now()
	return nil
}

// Get returns a copy of the task for taskID.
func (s *Store) Get(taskID string) (wire.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return wire.Task{}, ErrNotFound
	}
	return *t, nil
}

// List returns a copy of every task, ordered by creation time ascending.
func (s *Store) List() []wire.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]wire.Task, 0, len(s.tasks))
	for _, id := range s.order {
		if t, ok := s.tasks[id]; ok {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// evictLocked drops the oldest terminal tasks once the store exceeds
// SoftCap entries. Must be called with s.mu held for writing.
func (s *Store) evictLocked() {
	if s.SoftCap <= 0 || len(s.tasks) <= s.SoftCap {
		return
	}
	for i := 0; i < len(s.order) && len(s.tasks) > s.SoftCap; i++ {
		id := s.order[i]
		t, ok := s.tasks[id]
		if !ok || !t.Status.Terminal() {
			continue
		}
		delete(s.tasks, id)
	}
	if len(s.tasks) <= s.SoftCap {
		s.compactOrderLocked()
	}
}

func (s *Store) compactOrderLocked() {
	fresh := s.order[:0:0]
	for _, id := range s.order {
		if _, ok := s.tasks[id]; ok {
			fresh = append(fresh, id)
		}
	}
	s.order = fresh
}
