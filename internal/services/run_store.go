package services

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"ratecal/internal/calibration"
	apperrors "ratecal/internal/errors"
)

// RunStatus is the lifecycle state of a submitted run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Finished reports whether the status is terminal.
func (s RunStatus) Finished() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// RunError is the classified failure of a run.
type RunError struct {
	Type    string                 `json:"type"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Run is the stored view of one calibration.
type Run struct {
	ID         string                     `json:"id"`
	Status     RunStatus                  `json:"status"`
	Source     string                     `json:"source,omitempty"`
	Rows       int                        `json:"rows"`
	Spec       calibration.DatasetSpec    `json:"dataset"`
	Options    calibration.Options        `json:"options"`
	Progress   *calibration.ProgressEvent `json:"progress,omitempty"`
	Result     *calibration.Result        `json:"result,omitempty"`
	Reports    []string                   `json:"reports,omitempty"`
	Error      *RunError                  `json:"error,omitempty"`
	CreatedAt  time.Time                  `json:"created_at"`
	StartedAt  time.Time                  `json:"started_at,omitzero"`
	FinishedAt time.Time                  `json:"finished_at,omitzero"`
}

// clone copies the run deeply enough that callers cannot mutate the store.
func (r *Run) clone() *Run {
	c := *r
	if r.Progress != nil {
		p := *r.Progress
		c.Progress = &p
	}
	c.Reports = append([]string(nil), r.Reports...)
	return &c
}

// RunFilter narrows List.
type RunFilter struct {
	Status RunStatus
	Limit  int
}

// MemoryRunStore is an in-memory run store. When it holds more than max runs
// the oldest finished ones are evicted.
type MemoryRunStore struct {
	mu   sync.RWMutex
	runs map[string]*Run
	max  int
}

// NewMemoryRunStore creates a new in-memory run store
func NewMemoryRunStore(max int) *MemoryRunStore {
	if max < 1 {
		max = 1
	}
	return &MemoryRunStore{
		runs: make(map[string]*Run),
		max:  max,
	}
}

// Create stores a new run
func (s *MemoryRunStore) Create(run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	s.runs[run.ID] = run.clone()
	s.evictLocked()
	return nil
}

// Get retrieves a run by ID
func (s *MemoryRunStore) Get(id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.runs[id]
	if !exists {
		return nil, apperrors.NewNotFoundError("run " + id)
	}
	return run.clone(), nil
}

// Update applies fn to the stored run under the store lock
func (s *MemoryRunStore) Update(id string, fn func(*Run)) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, exists := s.runs[id]
	if !exists {
		return nil, apperrors.NewNotFoundError("run " + id)
	}
	fn(run)
	return run.clone(), nil
}

// List returns runs matching the filter, newest first
func (s *MemoryRunStore) List(filter RunFilter) []*Run {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Run, 0, len(s.runs))
	for _, run := range s.runs {
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		result = append(result, run.clone())
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result
}

// Delete removes a run from the store
func (s *MemoryRunStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[id]; !exists {
		return apperrors.NewNotFoundError("run " + id)
	}
	delete(s.runs, id)
	return nil
}

// Active counts runs that have not finished
func (s *MemoryRunStore) Active() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, run := range s.runs {
		if !run.Status.Finished() {
			n++
		}
	}
	return n
}

// GetStats returns statistics about the run store
func (s *MemoryRunStore) GetStats() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]int{"total_runs": len(s.runs)}
	for _, run := range s.runs {
		stats[string(run.Status)]++
	}
	return stats
}

func (s *MemoryRunStore) evictLocked() {
	if len(s.runs) <= s.max {
		return
	}
	finished := make([]*Run, 0, len(s.runs))
	for _, run := range s.runs {
		if run.Status.Finished() {
			finished = append(finished, run)
		}
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].CreatedAt.Before(finished[j].CreatedAt)
	})
	for _, run := range finished {
		if len(s.runs) <= s.max {
			return
		}
		delete(s.runs, run.ID)
	}
}
