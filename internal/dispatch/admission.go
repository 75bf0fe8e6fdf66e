package dispatch

import (
	"context"
	"sync"
	"time"
)

// admission hands out per-model execution slots bounded by the model's
// max_concurrent.
type admission struct {
	wait time.Duration

	mu    sync.Mutex
	slots map[string]chan struct{}
}

func newAdmission(wait time.Duration) *admission {
	return &admission{wait: wait, slots: make(map[string]chan struct{})}
}

// slot returns the semaphore for model. A changed limit replaces it; holders
// of the old one release into the old channel.
func (a *admission) slot(model string, limit int) chan struct{} {
	if limit < 1 {
		limit = 1
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	ch, ok := a.slots[model]
	if !ok || cap(ch) != limit {
		ch = make(chan struct{}, limit)
		a.slots[model] = ch
	}
	return ch
}

// acquire reserves a slot for model, waiting at most a.wait. The returned
// release func must be called exactly once.
func (a *admission) acquire(ctx context.Context, model string, limit int) (func(), error) {
	if err := ctx.Err(); err != nil {
		return func() {}, err
	}
	ch := a.slot(model, limit)

	// fast path
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	default:
	}

	timer := time.NewTimer(a.wait)
	defer timer.Stop()
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return func() {}, ctx.Err()
	case <-timer.C:
		return func() {}, tooBusyError{model: model}
	}
}
