package backend

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/viniolvs/mwfaas/pkg/types"
)

// Future is the pending result of one submitted task.
type Future struct {
	id       string
	position int
	endpoint types.Endpoint
	clock    clockwork.Clock

	state atomic.Int32
	done  chan struct{}
	once  sync.Once

	mu          sync.RWMutex
	value       any
	err         error
	submittedAt time.Time
	resolvedAt  time.Time
}

// NewFuture creates a future in the Submitted state. Backends call it once
// per task.
func NewFuture(position int, ep types.Endpoint, clock clockwork.Clock) *Future {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	f := &Future{
		id:          uuid.NewString(),
		position:    position,
		endpoint:    ep,
		clock:       clock,
		done:        make(chan struct{}),
		submittedAt: clock.Now(),
	}
	f.state.Store(int32(types.TaskStateSubmitted))
	return f
}

// ID returns the task ID.
func (f *Future) ID() string { return f.id }

// Position returns the chunk position.
func (f *Future) Position() int { return f.position }

// Endpoint returns the endpoint the task was sent to.
func (f *Future) Endpoint() types.Endpoint { return f.endpoint }

// State returns the current state.
func (f *Future) State() types.TaskState {
	return types.TaskState(f.state.Load())
}

// Done is closed when the future resolves.
func (f *Future) Done() <-chan struct{} { return f.done }

// Start marks the task as running. It has no effect after resolution.
func (f *Future) Start() {
	f.state.CompareAndSwap(int32(types.TaskStateSubmitted), int32(types.TaskStateRunning))
}

// Resolve records the outcome. Only the first call has an effect; it
// reports whether this call resolved the future. Errors that are not
// already *types.Error are recorded as RemoteExecutionError.
func (f *Future) Resolve(value any, err error) bool {
	resolved := false
	f.once.Do(func() {
		f.mu.Lock()
		f.resolvedAt = f.clock.Now()
		if err != nil {
			f.err = f.classify(err)
			f.state.Store(int32(types.TaskStateFailed))
		} else {
			f.value = value
			f.state.Store(int32(types.TaskStateCompleted))
		}
		f.mu.Unlock()
		close(f.done)
		resolved = true
	})
	return resolved
}

// classify keeps the class of a *types.Error anywhere in err's chain and
// ties it to this task's position.
func (f *Future) classify(err error) error {
	var e *types.Error
	if errors.As(err, &e) {
		if e.Position == types.NoPosition {
			return e.WithPosition(f.position, f.endpoint.ID)
		}
		return err
	}
	return types.NewRemoteExecutionError(f.position, f.endpoint.ID, "task failed", err)
}

// Result returns the outcome without blocking. ok is false while the task
// is still pending.
func (f *Future) Result() (value any, err error, ok bool) {
	select {
	case <-f.done:
	default:
		return nil, nil, false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.value, f.err, true
}

// Latency returns the time from submission to resolution, or zero while pending.
func (f *Future) Latency() time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.resolvedAt.IsZero() {
		return 0
	}
	return f.resolvedAt.Sub(f.submittedAt)
}

// Wait blocks until the future resolves. When the timeout elapses or ctx is
// done first it returns TimedOut and leaves the future pending.
func (f *Future) Wait(ctx context.Context, timeout time.Duration) (any, error) {
	if v, err, ok := f.Result(); ok {
		return v, err
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := f.clock.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.Chan()
	}

	select {
	case <-f.done:
		v, err, _ := f.Result()
		return v, err
	case <-expired:
		return nil, types.NewTimedOutError(f.position, f.endpoint.ID, timeout)
	case <-ctx.Done():
		e := types.NewTimedOutError(f.position, f.endpoint.ID, 0)
		e.Cause = ctx.Err()
		return nil, e
	}
}
