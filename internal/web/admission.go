package web

// admission.go bounds how many import uploads are stored at once.
//
// An upload holds a slot while its body is read and the job is created.
// When every slot is taken, a request waits up to maxWait before failing
// with core.ErrTooManyUploads. Shutdown calls WaitForDrain so uploads in
// progress finish before the process exits.

import (
	"context"
	"sync"
	"time"

	"github.com/JonMunkholm/impex/internal/core"
)

// DefaultMaxConcurrentUploads is the limit when none is configured.
const DefaultMaxConcurrentUploads = 5

// DefaultUploadWait is how long to wait for a slot when none is configured.
const DefaultUploadWait = 30 * time.Second

// UploadGate is a semaphore over upload handling.
type UploadGate struct {
	slots   chan struct{}
	maxWait time.Duration

	mu     sync.Mutex
	active int
	idle   chan struct{} // closed while active == 0
}

// NewUploadGate creates a gate admitting maxConcurrent uploads.
func NewUploadGate(maxConcurrent int, maxWait time.Duration) *UploadGate {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentUploads
	}
	if maxWait <= 0 {
		maxWait = DefaultUploadWait
	}
	idle := make(chan struct{})
	close(idle)
	return &UploadGate{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
		idle:    idle,
	}
}

// Acquire takes a slot. The caller must Release it.
func (g *UploadGate) Acquire(ctx context.Context) error {
	timer := time.NewTimer(g.maxWait)
	defer timer.Stop()

	select {
	case g.slots <- struct{}{}:
		g.mu.Lock()
		if g.active == 0 {
			g.idle = make(chan struct{})
		}
		g.active++
		g.mu.Unlock()
		return nil
	case <-timer.C:
		return core.ErrTooManyUploads
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a slot taken by Acquire.
func (g *UploadGate) Release() {
	g.mu.Lock()
	g.active--
	if g.active == 0 {
		close(g.idle)
	}
	g.mu.Unlock()
	<-g.slots
}

// WaitForDrain blocks until no upload holds a slot or ctx ends.
func (g *UploadGate) WaitForDrain(ctx context.Context) error {
	g.mu.Lock()
	idle := g.idle
	g.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UploadGateStatus is a snapshot of the gate.
type UploadGateStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Status returns the current gate state.
func (g *UploadGate) Status() UploadGateStatus {
	g.mu.Lock()
	active := g.active
	g.mu.Unlock()
	return UploadGateStatus{
		Active:        active,
		Available:     cap(g.slots) - active,
		MaxConcurrent: cap(g.slots),
	}
}
