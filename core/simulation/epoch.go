package simulation

import (
	"sync"
	"sync/atomic"
)

// Epoch guards the step counter together with the decision "may new actions
// still start". The driver advances and halts under it; cars decide whether
// to queue for charging under it. Lock order is epoch, then car.
type Epoch struct {
	mu      sync.Mutex
	step    int
	budget  int
	running atomic.Bool
}

// NewEpoch returns a running epoch at step 1.
func NewEpoch(budget int) *Epoch {
	e := &Epoch{step: 1, budget: budget}
	e.running.Store(true)
	return e
}

func (e *Epoch) Step() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.step
}

// Advance increments the step counter and returns the new value.
func (e *Epoch) Advance() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.step++
	return e.step
}

// Running is readable without the guard.
func (e *Epoch) Running() bool { return e.running.Load() }

// Halt stops accepting new actions. It returns false if already halted.
func (e *Epoch) Halt() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running.Swap(false)
}

// CanAccept reports whether the run is live and within its step budget.
func (e *Epoch) CanAccept() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.canAccept()
}

// Decide runs fn with the guard held.
func (e *Epoch) Decide(fn func(accepting bool)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.canAccept())
}

func (e *Epoch) canAccept() bool {
	return e.running.Load() && e.step <= e.budget
}
