package charging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/kilianp07/evsim/core/logger"
)

var (
	// ErrPlugTimeout is returned when no plug frees up before the deadline.
	ErrPlugTimeout = errors.New("timeout waiting for a charging plug")
	// ErrUnknownPlug is returned for an id outside the pool.
	ErrUnknownPlug = errors.New("unknown plug")
	// ErrPlugInUse is returned when a status change would steal a plug from a car.
	ErrPlugInUse  = errors.New("plug in use")
	errNoFreePlug = errors.New("permit granted but no free plug")
)

// Pool is a fixed set of plugs guarded by a counting semaphore.
// Permits available always equal free in-service plugs not yet claimed.
type Pool struct {
	sem   *semaphore.Weighted
	plugs []*Plug
	log   logger.Logger

	mu      sync.Mutex // serialises plug selection and status overrides
	waiting atomic.Int64
}

// NewPool creates exactly n plugs drawing powerKW each when occupied.
func NewPool(n int, powerKW float64, log logger.Logger) (*Pool, error) {
	if n < 1 {
		return nil, fmt.Errorf("number of charging plugs must be >= 1, got %d", n)
	}
	if powerKW <= 0 {
		return nil, fmt.Errorf("plug power must be positive, got %v", powerKW)
	}
	plugs := make([]*Plug, n)
	for i := range plugs {
		plugs[i] = newPlug(i+1, powerKW)
	}
	return &Pool{
		sem:   semaphore.NewWeighted(int64(n)),
		plugs: plugs,
		log:   logger.OrNop(log),
	}, nil
}

// Acquire blocks until a permit is available, then assigns the lowest-id free
// plug to carID. The wait is bounded only by ctx.
func (p *Pool) Acquire(ctx context.Context, carID int) (*Plug, error) {
	p.waiting.Add(1)
	err := p.sem.Acquire(ctx, 1)
	p.waiting.Add(-1)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("car %d: %w", carID, ErrPlugTimeout)
		}
		return nil, fmt.Errorf("car %d: acquire plug: %w", carID, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pl := range p.plugs {
		if pl.tryOccupy(carID) {
			p.log.Debugf("plug %d assigned to car %d", pl.id, carID)
			return pl, nil
		}
	}
	p.sem.Release(1)
	return nil, fmt.Errorf("car %d: %w", carID, errNoFreePlug)
}

// Release frees the plug and returns its permit. Releasing a plug that is not
// occupied is a no-op.
func (p *Pool) Release(pl *Plug) {
	if pl == nil {
		return
	}
	if pl.vacate() {
		p.sem.Release(1)
		p.log.Debugf("plug %d released", pl.id)
	}
}

// SetStatus takes a free plug out of service or returns it to service.
// An out-of-service plug keeps one permit so the semaphore stays in step.
func (p *Pool) SetStatus(id int, status PlugStatus) error {
	pl, err := p.Plug(id)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	switch status {
	case PlugOutOfService:
		if pl.Status() == PlugOutOfService {
			return nil
		}
		if !p.sem.TryAcquire(1) {
			return fmt.Errorf("plug %d: %w", id, ErrPlugInUse)
		}
		if !pl.setStatus(PlugFree, PlugOutOfService) {
			p.sem.Release(1)
			return fmt.Errorf("plug %d: %w", id, ErrPlugInUse)
		}
	case PlugFree:
		if pl.setStatus(PlugOutOfService, PlugFree) {
			p.sem.Release(1)
		}
	default:
		return fmt.Errorf("plug %d: status %q cannot be set externally", id, status)
	}
	return nil
}

// Plug returns the plug with the given id.
func (p *Pool) Plug(id int) (*Plug, error) {
	if id < 1 || id > len(p.plugs) {
		return nil, fmt.Errorf("plug %d: %w", id, ErrUnknownPlug)
	}
	return p.plugs[id-1], nil
}

// Size is the number of plugs in the pool.
func (p *Pool) Size() int { return len(p.plugs) }

// Waiting is the number of callers blocked in Acquire.
func (p *Pool) Waiting() int { return int(p.waiting.Load()) }

// InUse counts occupied plugs.
func (p *Pool) InUse() int {
	n := 0
	for _, pl := range p.plugs {
		if pl.Status() == PlugOccupied {
			n++
		}
	}
	return n
}

// Data exports every plug in id order.
func (p *Pool) Data() []PlugData {
	res := make([]PlugData, len(p.plugs))
	for i, pl := range p.plugs {
		res[i] = pl.Data()
	}
	return res
}
