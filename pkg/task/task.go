// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package task implements the analysis task state machine: the record of
// an in-flight or finished stock-analysis run, its legal state
// transitions, and the append-only history of every state it has passed
// through.
package task

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a Task.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusPaused    Status = "PAUSED"
	StatusStopped   Status = "STOPPED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// IsTerminal returns whether the status accepts no further transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusStopped, StatusCancelled:
		return true
	}
	return false
}

// validTransitions enumerates the state machine's legal edges.
var validTransitions = map[Status]map[Status]bool{
	StatusPending: {StatusRunning: true, StatusCancelled: true},
	StatusRunning: {
		StatusPaused:    true,
		StatusCompleted: true,
		StatusFailed:    true,
		StatusStopped:   true,
	},
	StatusPaused: {
		StatusRunning: true,
		StatusStopped: true,
		StatusFailed:  true,
	},
}

// CanTransition reports whether moving from `from` to `to` is legal.
func CanTransition(from, to Status) bool {
	if from.IsTerminal() {
		return false
	}
	edges, ok := validTransitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// Params carries the caller-supplied parameters of an analysis request.
type Params struct {
	Symbol        string         `json:"symbol"`
	MarketType    string         `json:"market_type"`
	TradeDate     string         `json:"trade_date"`
	Analysts      []string       `json:"analysts"`
	ResearchDepth int            `json:"research_depth"`
	Extra         map[string]any `json:"extra,omitempty"`
}

// Progress is the denormalized, display-oriented progress snapshot.
type Progress struct {
	CurrentStep       int       `json:"current_step"`
	TotalSteps        int       `json:"total_steps"`
	Percentage        float64   `json:"percentage"`
	Message           string    `json:"message,omitempty"`
	AnalysisStartTime time.Time `json:"analysis_start_time"`
}

// CurrentStep names the step the task is actively executing.
type CurrentStep struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
}

// Task is the unit of work tracked by the orchestration engine.
type Task struct {
	ID        string
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time

	Params      Params
	Progress    Progress
	CurrentStep CurrentStep

	Result map[string]any
	Error  string

	CacheReuseConfig map[string]bool
	Checkpoint       map[string]any

	history []Snapshot

	mu sync.RWMutex
}

// New creates a task in the PENDING state and seeds its history with the
// initial snapshot, so that after N subsequent mutations
// len(history) == N+1 holds from the first update onward.
func New(params Params) *Task {
	now := time.Now()
	t := &Task{
		ID:        uuid.New().String(),
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		Params:    params,
		Result:    make(map[string]any),
	}
	t.history = append(t.history, t.snapshotLocked())
	return t
}

// Initialize is an alias for New, named to match the task state machine's
// documented operation.
func Initialize(params Params) *Task {
	return New(params)
}

// Snapshot is an immutable copy of a Task suitable for history storage
// or for handing to callers outside the owning goroutine.
type Snapshot struct {
	ID          string
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Params      Params
	Progress    Progress
	CurrentStep CurrentStep
	Result      map[string]any
	Error       string
}

// Snapshot returns a copy of the task's current fields (thread-safe).
func (t *Task) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshotLocked()
}

// GetCurrentState is an alias for Snapshot, named to match the task state
// machine's documented operation.
func (t *Task) GetCurrentState() Snapshot {
	return t.Snapshot()
}

// snapshotLocked builds a Snapshot from the task's fields. Callers must
// hold t.mu (read or write).
func (t *Task) snapshotLocked() Snapshot {
	result := make(map[string]any, len(t.Result))
	for k, v := range t.Result {
		result[k] = v
	}

	return Snapshot{
		ID:          t.ID,
		Status:      t.Status,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
		Params:      t.Params,
		Progress:    t.Progress,
		CurrentStep: t.CurrentStep,
		Result:      result,
		Error:       t.Error,
	}
}

// recordHistoryLocked appends the task's pre-mutation snapshot to history.
// Callers must hold t.mu for writing, and must call this before mutating
// any field, so the appended entry reflects the state immediately before
// the mutation.
func (t *Task) recordHistoryLocked() {
	t.history = append(t.history, t.snapshotLocked())
}

// GetHistoryStates returns the task's full snapshot history, oldest
// first: one seed snapshot from Initialize plus one pre-mutation
// snapshot per subsequent update, so len(history) == N+1 after N
// updates.
func (t *Task) GetHistoryStates() []Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Snapshot, len(t.history))
	copy(out, t.history)
	return out
}

// GetStatus returns the current status (thread-safe).
func (t *Task) GetStatus() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.Status
}

// Transition moves the task to a new status, rejecting illegal edges.
func (t *Task) Transition(to Status) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !CanTransition(t.Status, to) {
		return &TaskError{
			Code:    "invariant_violation",
			Message: "illegal transition from " + string(t.Status) + " to " + string(to),
		}
	}
	t.recordHistoryLocked()
	t.Status = to
	t.UpdatedAt = time.Now()
	return nil
}

// UpdateProgress merges a progress update into the task (field-wise).
func (t *Task) UpdateProgress(p Progress) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.recordHistoryLocked()
	t.mergeProgressLocked(p)
	t.UpdatedAt = time.Now()
}

// mergeProgressLocked merges a progress update into the task field-wise.
// Callers must hold t.mu for writing.
func (t *Task) mergeProgressLocked(p Progress) {
	if p.CurrentStep != 0 {
		t.Progress.CurrentStep = p.CurrentStep
	}
	if p.TotalSteps != 0 {
		t.Progress.TotalSteps = p.TotalSteps
	}
	t.Progress.Percentage = p.Percentage
	if p.Message != "" {
		t.Progress.Message = p.Message
	}
	if !p.AnalysisStartTime.IsZero() {
		t.Progress.AnalysisStartTime = p.AnalysisStartTime
	}
}

// MergeResult records a single key's output into the task's result map
// (thread-safe), for a worker accumulating output step by step rather
// than producing it all at once for Complete.
func (t *Task) MergeResult(key string, value any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recordHistoryLocked()
	if t.Result == nil {
		t.Result = make(map[string]any)
	}
	t.Result[key] = value
	t.UpdatedAt = time.Now()
}

// SetCurrentStep records the step actively executing.
func (t *Task) SetCurrentStep(step CurrentStep) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recordHistoryLocked()
	t.CurrentStep = step
	t.UpdatedAt = time.Now()
}

// Complete transitions the task to COMPLETED with its result payload.
func (t *Task) Complete(result map[string]any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !CanTransition(t.Status, StatusCompleted) {
		return &TaskError{Code: "invariant_violation", Message: "cannot complete from " + string(t.Status)}
	}
	t.recordHistoryLocked()
	t.Status = StatusCompleted
	t.Result = result
	t.UpdatedAt = time.Now()
	return nil
}

// Fail transitions the task to FAILED with an error message.
func (t *Task) Fail(errMsg string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !CanTransition(t.Status, StatusFailed) {
		return &TaskError{Code: "invariant_violation", Message: "cannot fail from " + string(t.Status)}
	}
	t.recordHistoryLocked()
	t.Status = StatusFailed
	t.Error = errMsg
	t.UpdatedAt = time.Now()
	return nil
}

// SetCheckpoint attaches a restart hint to the task.
func (t *Task) SetCheckpoint(cp map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recordHistoryLocked()
	t.Checkpoint = cp
	t.UpdatedAt = time.Now()
}

// Update is a partial mutation applied by UpdateState: every field left
// at its zero value is left untouched, except Progress, which is always
// merged field-wise via mergeProgressLocked, and Status, which is only
// applied when ToStatus is non-empty and must be a legal transition.
type Update struct {
	ToStatus    Status
	Progress    *Progress
	CurrentStep *CurrentStep
	Result      map[string]any
	Error       string
	Checkpoint  map[string]any
}

// UpdateState is the task state machine's general-purpose mutation
// operation: it reads the current state, appends a copy of it to
// history, then applies the requested field updates (the progress
// sub-record field-wise, everything else by replacement) and stamps
// updated_at. It rejects an illegal status transition without recording
// any history or applying any other field of the update.
func (t *Task) UpdateState(u Update) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if u.ToStatus != "" && !CanTransition(t.Status, u.ToStatus) {
		return &TaskError{
			Code:    "invariant_violation",
			Message: "illegal transition from " + string(t.Status) + " to " + string(u.ToStatus),
		}
	}

	t.recordHistoryLocked()

	if u.ToStatus != "" {
		t.Status = u.ToStatus
	}
	if u.Progress != nil {
		t.mergeProgressLocked(*u.Progress)
	}
	if u.CurrentStep != nil {
		t.CurrentStep = *u.CurrentStep
	}
	if u.Result != nil {
		t.Result = u.Result
	}
	if u.Error != "" {
		t.Error = u.Error
	}
	if u.Checkpoint != nil {
		t.Checkpoint = u.Checkpoint
	}
	t.UpdatedAt = time.Now()
	return nil
}

// Service manages Task lifecycle for a single orchestrator instance.
type Service interface {
	Create(ctx context.Context, params Params) (*Task, error)
	Get(ctx context.Context, taskID string) (*Task, error)
	Update(ctx context.Context, task *Task) error
	Cancel(ctx context.Context, taskID string) error
	List(ctx context.Context) ([]*Task, error)
	Restore(ctx context.Context, tk *Task) error
}

// InMemoryService is an in-memory implementation of Service, useful for
// tests and as the in-process index backing the Task Manager.
type InMemoryService struct {
	tasks map[string]*Task
	mu    sync.RWMutex
}

// NewInMemoryService creates a new in-memory task service.
func NewInMemoryService() *InMemoryService {
	return &InMemoryService{tasks: make(map[string]*Task)}
}

// Restore inserts a Task reconstructed from persisted state (via
// FromDoc) into the service's index, overwriting any existing entry
// with the same ID. Used at startup to rehydrate the in-memory index
// from the state store before orphan reconciliation runs.
func (s *InMemoryService) Restore(_ context.Context, tk *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[tk.ID] = tk
	return nil
}

func (s *InMemoryService) Create(_ context.Context, params Params) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tk := New(params)
	s.tasks[tk.ID] = tk
	return tk, nil
}

func (s *InMemoryService) Get(_ context.Context, taskID string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tk, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return tk, nil
}

func (s *InMemoryService) Update(_ context.Context, tk *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[tk.ID]; !ok {
		return ErrTaskNotFound
	}
	s.tasks[tk.ID] = tk
	return nil
}

func (s *InMemoryService) Cancel(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tk, ok := s.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	if tk.GetStatus().IsTerminal() {
		return ErrTaskTerminal
	}
	return tk.Transition(StatusCancelled)
}

func (s *InMemoryService) List(_ context.Context) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Task, 0, len(s.tasks))
	for _, tk := range s.tasks {
		result = append(result, tk)
	}
	return result, nil
}

// Errors
var (
	ErrTaskNotFound        = &TaskError{Code: "task_not_found", Message: "task not found"}
	ErrTaskTerminal        = &TaskError{Code: "task_terminal", Message: "task is in terminal state"}
	ErrInvariantViolation  = &TaskError{Code: "invariant_violation", Message: "illegal task state transition"}
	ErrValidation          = &TaskError{Code: "validation_error", Message: "invalid task parameters"}
)

// TaskError is a task-related error.
type TaskError struct {
	Code    string
	Message string
}

func (e *TaskError) Error() string {
	return e.Message
}
