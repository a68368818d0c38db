package runner

import (
	"context"
	"fmt"
	"sync"

	"github.com/JonMunkholm/impex/internal/core"
	"github.com/pkg/errors"
)

// InlineRunner runs each phase function inside Submit. Its task context
// does not publish progress, so progress reporting is a no-op.
type InlineRunner struct {
	mu    sync.Mutex
	tasks map[string]core.TaskStatus
}

var _ core.TaskRunner = (*InlineRunner)(nil)

// NewInlineRunner creates a synchronous runner.
func NewInlineRunner() *InlineRunner {
	return &InlineRunner{tasks: make(map[string]core.TaskStatus)}
}

// Submit runs fn to completion before returning. The returned error is
// about submission only; a failing fn is recorded as FAILURE.
func (r *InlineRunner) Submit(ctx context.Context, taskID string, fn core.TaskFunc) error {
	r.mu.Lock()
	if _, ok := r.tasks[taskID]; ok {
		r.mu.Unlock()
		return errors.Errorf("submit: task %s already exists", taskID)
	}
	r.tasks[taskID] = core.TaskStatus{State: core.TaskStarted}
	r.mu.Unlock()

	err := runSafely(fn, inlineContext{id: taskID, ctx: ctx})

	st := core.TaskStatus{State: core.TaskSuccess}
	if err != nil {
		st = core.TaskStatus{State: core.TaskFailure, Err: err.Error(), Traceback: fmt.Sprintf("%+v", err)}
	}
	r.mu.Lock()
	r.tasks[taskID] = st
	r.mu.Unlock()
	return nil
}

// Cancel marks a known task REVOKED unless it already finished.
func (r *InlineRunner) Cancel(ctx context.Context, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.tasks[taskID]; ok && st.State == core.TaskStarted {
		r.tasks[taskID] = core.TaskStatus{State: core.TaskRevoked}
	}
	return nil
}

// Poll returns the recorded state. Unknown ids are PENDING, since another
// CLI process may own the task.
func (r *InlineRunner) Poll(ctx context.Context, taskID string) (core.TaskStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.tasks[taskID]; ok {
		return st, nil
	}
	return core.TaskStatus{State: core.TaskPending}, nil
}

func runSafely(fn core.TaskFunc, tc core.TaskContext) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Errorf("phase panicked: %v", rec)
		}
	}()
	return fn(tc)
}

type inlineContext struct {
	id  string
	ctx context.Context
}

func (c inlineContext) TaskID() string           { return c.id }
func (c inlineContext) Context() context.Context { return c.ctx }
