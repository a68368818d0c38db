// Package runner provides the core.TaskRunner implementations: a
// background worker pool and a synchronous runner for the CLI.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/JonMunkholm/impex/internal/core"
	"github.com/OpenListTeam/tache"
	"github.com/pkg/errors"
)

// Options configures a TacheRunner.
type Options struct {
	Workers   int           // concurrent phase functions, default 4
	Retention time.Duration // how long finished tasks stay pollable, default 1h
}

// ErrTaskLost is the failure reported for task ids this runner never
// accepted or has already pruned.
var ErrTaskLost = errors.New("task lost: not known to this worker pool")

// TacheRunner runs phase functions on a tache worker pool. Task ids are
// chosen by the caller so that the job row can name the task before it is
// submitted.
//
// The pool lives in this process only. After a restart every earlier id
// polls as a lost FAILURE, which moves its job to an error status.
type TacheRunner struct {
	manager   *tache.Manager[*phaseTask]
	retention time.Duration
	now       func() time.Time
}

var _ core.TaskRunner = (*TacheRunner)(nil)

// NewTacheRunner creates a runner. Failed phases are never retried: a new
// job is the retry.
func NewTacheRunner(opts Options) *TacheRunner {
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	retention := opts.Retention
	if retention <= 0 {
		retention = time.Hour
	}
	return &TacheRunner{
		manager:   tache.NewManager[*phaseTask](tache.WithWorks(workers), tache.WithMaxRetry(0)),
		retention: retention,
		now:       time.Now,
	}
}

// Submit queues fn under taskID.
func (r *TacheRunner) Submit(ctx context.Context, taskID string, fn core.TaskFunc) error {
	if taskID == "" {
		return errors.New("submit: empty task id")
	}
	if _, ok := r.manager.GetByID(taskID); ok {
		return errors.Errorf("submit: task %s already exists", taskID)
	}
	t := &phaseTask{fn: fn, now: r.now, addedAt: r.now()}
	t.SetID(taskID)
	r.manager.Add(t)
	return nil
}

// Cancel revokes a queued or running task. Unknown ids are ignored.
func (r *TacheRunner) Cancel(ctx context.Context, taskID string) error {
	if _, ok := r.manager.GetByID(taskID); ok {
		r.manager.Cancel(taskID)
	}
	return nil
}

// Poll reports the task state. An id the pool does not hold is a lost
// FAILURE.
func (r *TacheRunner) Poll(ctx context.Context, taskID string) (core.TaskStatus, error) {
	t, ok := r.manager.GetByID(taskID)
	if !ok {
		return core.TaskStatus{State: core.TaskFailure, Err: ErrTaskLost.Error(), Lost: true}, nil
	}
	return t.status(), nil
}

var finishedStates = []tache.State{tache.StateSucceeded, tache.StateCanceled, tache.StateFailed}

// Prune drops tasks that finished more than the retention ago and returns
// how many it dropped. Queued and running tasks are never dropped.
func (r *TacheRunner) Prune() int {
	cutoff := r.now().Add(-r.retention)
	n := 0
	r.manager.RemoveByCondition(func(t *phaseTask) bool {
		if !slices.Contains(finishedStates, t.GetState()) || !t.finishedBefore(cutoff) {
			return false
		}
		n++
		return true
	})
	return n
}

// StartPruner prunes on every tick until ctx is done.
func (r *TacheRunner) StartPruner(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := r.Prune(); n > 0 {
					slog.Debug("pruned finished tasks", "count", n)
				}
			}
		}
	}()
}

// phaseTask adapts a core.TaskFunc to a tache task.
type phaseTask struct {
	tache.Base
	fn core.TaskFunc

	now     func() time.Time
	addedAt time.Time

	mu         sync.Mutex
	phase      string
	info       *core.ProgressInfo
	traceback  string
	finishedAt time.Time
}

// finishedBefore reports whether the task ended before cutoff. A task
// cancelled while queued never runs, so its submit time stands in.
func (t *phaseTask) finishedBefore(cutoff time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	end := t.finishedAt
	if end.IsZero() {
		end = t.addedAt
	}
	return end.Before(cutoff)
}

func (t *phaseTask) GetName() string {
	return "phase " + t.GetID()
}

func (t *phaseTask) GetStatus() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.info == nil {
		return ""
	}
	return fmt.Sprintf("%s %d/%d", t.phase, t.info.Current, t.info.Total)
}

// Run executes the phase function. A panic is reported as a task failure.
func (t *phaseTask) Run() (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Errorf("phase panicked: %v", rec)
		}
		t.mu.Lock()
		if err != nil {
			t.traceback = fmt.Sprintf("%+v", err)
		}
		t.finishedAt = t.now()
		t.mu.Unlock()
	}()
	return t.fn(tacheContext{t})
}

func (t *phaseTask) publish(state string, current, total int) {
	t.mu.Lock()
	t.phase = state
	t.info = &core.ProgressInfo{Current: current, Total: total}
	t.mu.Unlock()
	if total > 0 {
		t.SetProgress(100 * float64(current) / float64(total))
	}
}

func (t *phaseTask) status() core.TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := core.TaskStatus{}
	if t.info != nil {
		info := *t.info
		st.Info = &info
	}

	switch t.GetState() {
	case tache.StatePending:
		st.State = core.TaskPending
	case tache.StateRunning:
		st.State = core.TaskStarted
		if t.info != nil && t.phase != "" {
			st.State = core.TaskState(t.phase)
		}
	case tache.StateSucceeded:
		st.State = core.TaskSuccess
	case tache.StateCanceling, tache.StateCanceled:
		st.State = core.TaskRevoked
	case tache.StateErrored, tache.StateFailing, tache.StateFailed:
		st.State = core.TaskFailure
		if err := t.GetErr(); err != nil {
			st.Err = err.Error()
		}
		st.Traceback = t.traceback
	case tache.StateWaitingRetry, tache.StateBeforeRetry:
		st.State = core.TaskRetry
	default:
		st.State = core.TaskPending
	}
	return st
}

// tacheContext is the TaskContext handed to phase functions. It publishes
// progress into the task so Poll can report it.
type tacheContext struct {
	t *phaseTask
}

func (c tacheContext) TaskID() string { return c.t.GetID() }

func (c tacheContext) Context() context.Context { return c.t.Ctx() }

func (c tacheContext) PublishProgress(state string, current, total int) {
	c.t.publish(state, current, total)
}
