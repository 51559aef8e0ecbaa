package device

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"droid/internal/logging"
)

// ErrDeviceBusy is returned when a device lock cannot be acquired within the
// caller's timeout. It is an expected outcome, not a system fault.
var ErrDeviceBusy = errors.New("device busy")

// LockRegistry serializes executions per device. Locks are created lazily on
// first use and never removed; deleting an idle lock would race with a
// concurrent acquire for the same id.
type LockRegistry struct {
	mu     sync.Mutex
	locks  map[string]*semaphore.Weighted
	held   map[string]bool
	logger logging.Logger
}

// NewLockRegistry constructs an empty registry.
func NewLockRegistry(logger logging.Logger) *LockRegistry {
	return &LockRegistry{
		locks:  make(map[string]*semaphore.Weighted),
		held:   make(map[string]bool),
		logger: logging.OrNop(logger),
	}
}

func (r *LockRegistry) lockFor(deviceID string) *semaphore.Weighted {
	r.mu.Lock()
	defer r.mu.Unlock()
	sem, ok := r.locks[deviceID]
	if !ok {
		sem = semaphore.NewWeighted(1)
		r.locks[deviceID] = sem
	}
	return sem
}

// Acquire obtains exclusive access to deviceID, waiting at most timeout. A
// zero timeout means non-blocking. The returned release func is idempotent.
// Returns ErrDeviceBusy on timeout; the parent context error wins when the
// caller was cancelled while waiting.
func (r *LockRegistry) Acquire(ctx context.Context, deviceID string, timeout time.Duration) (func(), error) {
	sem := r.lockFor(deviceID)

	if timeout <= 0 {
		if !sem.TryAcquire(1) {
			return nil, ErrDeviceBusy
		}
	} else {
		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		err := sem.Acquire(waitCtx, 1)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, ErrDeviceBusy
		}
	}

	r.mu.Lock()
	r.held[deviceID] = true
	r.mu.Unlock()
	r.logger.Debug("Device lock acquired for %s", deviceID)

	var once sync.Once
	release := func() {
		once.Do(func() {
			r.mu.Lock()
			r.held[deviceID] = false
			r.mu.Unlock()
			sem.Release(1)
			r.logger.Debug("Device lock released for %s", deviceID)
		})
	}
	return release, nil
}

// Busy reports whether an execution currently holds the device's lock.
func (r *LockRegistry) Busy(deviceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.held[deviceID]
}
