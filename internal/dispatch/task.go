package dispatch

import (
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

// Task states.
const (
	// TaskSubmitted means the bus accepted the command and no target has
	// reported yet, or only some have.
	TaskSubmitted TaskStatus = "submitted"
	// TaskFinished means every target reported an outcome.
	TaskFinished TaskStatus = "finished"
)

// Task is one accepted submission.
type Task struct {
	ID           int               `json:"taskId"`
	Action       Action            `json:"action"`
	Protocol     Protocol          `json:"protocol"`
	ChargeBoxIDs []string          `json:"chargeBoxIds"`
	Status       TaskStatus        `json:"status"`
	Results      map[string]string `json:"results,omitempty"`
	SubmittedAt  time.Time         `json:"submittedAt"`
	FinishedAt   *time.Time        `json:"finishedAt,omitempty"`
}

func (t *Task) clone() *Task {
	c := *t
	c.ChargeBoxIDs = slices.Clone(t.ChargeBoxIDs)
	c.Results = maps.Clone(t.Results)
	if t.FinishedAt != nil {
		at := *t.FinishedAt
		c.FinishedAt = &at
	}
	return &c
}

// TaskStore mints task ids and keeps the most recent tasks in memory.
// Ids are unique for the life of the process and never reused.
type TaskStore struct {
	seq atomic.Int64

	mu    sync.RWMutex
	tasks map[int]*Task
	order []int
	limit int
}

// NewTaskStore returns a store keeping at most limit tasks.
// A non-positive limit keeps 500.
func NewTaskStore(limit int) *TaskStore {
	if limit <= 0 {
		limit = 500
	}
	return &TaskStore{
		tasks: make(map[int]*Task, limit),
		limit: limit,
	}
}

// Next returns a fresh task id. The first id is 1.
func (s *TaskStore) Next() int {
	return int(s.seq.Add(1))
}

// Put records t, evicting the oldest task when the store is full.
func (s *TaskStore) Put(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[t.ID]; !exists {
		s.order = append(s.order, t.ID)
	}
	s.tasks[t.ID] = t.clone()

	for len(s.order) > s.limit {
		delete(s.tasks, s.order[0])
		s.order = s.order[1:]
	}
}

// Remove drops the task with id. Unknown ids are ignored.
func (s *TaskStore) Remove(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return
	}
	delete(s.tasks, id)
	s.order = slices.DeleteFunc(s.order, func(v int) bool { return v == id })
}

// Get returns a copy of the task with id.
func (s *TaskStore) Get(id int) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return t.clone(), nil
}

// Recent returns up to n tasks, newest first. n <= 0 returns all.
func (s *TaskStore) Recent(n int) []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || n > len(s.order) {
		n = len(s.order)
	}
	out := make([]*Task, 0, n)
	for i := len(s.order) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.tasks[s.order[i]].clone())
	}
	return out
}

// Report records the outcome a charge box sent for task id and returns the
// updated task. The task finishes once every target has reported.
func (s *TaskStore) Report(id int, chargeBoxID, outcome string, at time.Time) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	if t.Results == nil {
		t.Results = make(map[string]string, len(t.ChargeBoxIDs))
	}
	t.Results[chargeBoxID] = outcome

	if t.Status != TaskFinished && allReported(t) {
		t.Status = TaskFinished
		t.FinishedAt = &at
	}
	return t.clone(), nil
}

// Len returns the number of tasks held.
func (s *TaskStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

func allReported(t *Task) bool {
	for _, id := range t.ChargeBoxIDs {
		if _, ok := t.Results[id]; !ok {
			return false
		}
	}
	return true
}
