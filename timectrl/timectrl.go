package timectrl

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// SimClock is an interface for reading simulation time. Components such as
// the traffic generator and the attachment manager depend on this rather
// than on a concrete controller so tests can substitute a fixed clock.
type SimClock interface {
	// Now returns the elapsed simulation time since scenario start.
	Now() time.Duration
}

// Mode describes how the TimeController relates simulated time to wall time.
type Mode int

const (
	// RealTime paces advances so that at most one Tick of simulated time
	// passes per Tick of wall-clock time.
	RealTime Mode = iota
	// Accelerated advances as fast as events can be executed.
	Accelerated
)

func (m Mode) String() string {
	if m == RealTime {
		return "realtime"
	}
	return "accelerated"
}

// TimeController holds the virtual clock and notifies registered listeners
// whenever time advances. It implements SimClock. The event scheduler is
// the only writer; readers on other goroutines (metrics, status) are safe.
type TimeController struct {
	mu   sync.RWMutex
	Tick time.Duration
	Mode Mode

	current time.Duration
	paced   time.Duration
	limiter *rate.Limiter

	listeners []func(time.Duration)
}

// NewTimeController constructs a controller at time zero. Tick is the pacing
// quantum for RealTime mode and is ignored in Accelerated mode.
func NewTimeController(tick time.Duration, mode Mode) *TimeController {
	tc := &TimeController{
		Tick: tick,
		Mode: mode,
	}
	if mode == RealTime && tick > 0 {
		tc.limiter = rate.NewLimiter(rate.Every(tick), 1)
	}
	return tc
}

// Now returns the current simulation time. Implements SimClock.
func (tc *TimeController) Now() time.Duration {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.current
}

// AddListener registers a callback invoked after every advance.
func (tc *TimeController) AddListener(fn func(time.Duration)) {
	if fn == nil {
		return
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// AdvanceTo moves the clock forward to t. Moving backwards is ignored, so a
// clock never runs in reverse. In RealTime mode the call blocks until wall
// time has caught up at Tick granularity, or ctx is done.
func (tc *TimeController) AdvanceTo(ctx context.Context, t time.Duration) error {
	if err := tc.pace(ctx, t); err != nil {
		return err
	}

	tc.mu.Lock()
	if t <= tc.current {
		tc.mu.Unlock()
		return nil
	}
	tc.current = t
	listeners := append([]func(time.Duration){}, tc.listeners...)
	tc.mu.Unlock()

	// Notify outside the lock so listeners may read Now().
	for _, fn := range listeners {
		fn(t)
	}
	return nil
}

// Reset rewinds the clock to zero for a fresh run; listeners are kept.
func (tc *TimeController) Reset() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.current = 0
	tc.paced = 0
	if tc.limiter != nil {
		tc.limiter = rate.NewLimiter(rate.Every(tc.Tick), 1)
	}
}

func (tc *TimeController) pace(ctx context.Context, t time.Duration) error {
	if tc.limiter == nil {
		return nil
	}
	for {
		tc.mu.Lock()
		due := tc.paced+tc.Tick <= t
		if due {
			tc.paced += tc.Tick
		}
		tc.mu.Unlock()
		if !due {
			return nil
		}
		if err := tc.limiter.Wait(ctx); err != nil {
			return err
		}
	}
}
