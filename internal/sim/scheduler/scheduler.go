package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/cellular-simulator/internal/logging"
)

// ErrNegativeDelay is matched by every NegativeDelayError.
var ErrNegativeDelay = errors.New("negative schedule delay")

// NegativeDelayError reports an attempt to schedule an event in the past.
// This is a caller bug; nothing is enqueued.
type NegativeDelayError struct {
	Delay time.Duration
	Now   time.Duration
}

func (e *NegativeDelayError) Error() string {
	return fmt.Sprintf("schedule delay %s at t=%s: must not be negative", e.Delay, e.Now)
}

// Is lets errors.Is(err, ErrNegativeDelay) match.
func (e *NegativeDelayError) Is(target error) bool {
	return target == ErrNegativeDelay
}

// Clock is the time source the scheduler drives. timectrl.TimeController
// implements it.
type Clock interface {
	Now() time.Duration
	AdvanceTo(ctx context.Context, t time.Duration) error
}

// Metrics receives scheduler activity. observability.SchedulerCollector
// implements it; a nil Metrics disables reporting.
type Metrics interface {
	IncExecuted()
	IncCancelled()
	AddDiscarded(n int)
	SetPending(n int)
}

// EventHandle identifies a scheduled event. The zero value refers to no event.
type EventHandle struct {
	id uint64
}

// Valid reports whether the handle was returned by Schedule.
func (h EventHandle) Valid() bool { return h.id != 0 }

// scheduledEvent is a single pending action. id doubles as the submission
// sequence used for FIFO ordering among equal timestamps.
type scheduledEvent struct {
	id        uint64
	when      time.Duration
	f         func()
	cancelled bool
}

// Scheduler is a single-threaded cooperative discrete-event scheduler.
// Events run in non-decreasing time order and, at equal times, in the order
// they were submitted. Actions run to completion and may schedule or cancel
// further events, including their own continuation.
type Scheduler struct {
	clock   Clock
	log     logging.Logger
	metrics Metrics

	mu       sync.Mutex
	counter  uint64
	events   []*scheduledEvent // ordered by (when, id)
	index    map[uint64]*scheduledEvent
	executed uint64
}

// Option customises a Scheduler.
type Option func(*Scheduler)

// WithLogger attaches a structured logger.
func WithLogger(log logging.Logger) Option {
	return func(s *Scheduler) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// New creates a scheduler driving the given clock.
func New(clock Clock, opts ...Option) *Scheduler {
	s := &Scheduler{
		clock: clock,
		log:   logging.Noop(),
		index: make(map[uint64]*scheduledEvent),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the current simulation time from the underlying clock.
func (s *Scheduler) Now() time.Duration {
	return s.clock.Now()
}

// Schedule registers f to run delay after Now(). A zero delay runs after
// every event already queued for the current instant.
func (s *Scheduler) Schedule(delay time.Duration, f func()) (EventHandle, error) {
	now := s.clock.Now()
	if delay < 0 {
		return EventHandle{}, &NegativeDelayError{Delay: delay, Now: now}
	}
	return s.insert(now+delay, f), nil
}

// ScheduleAt registers f to run at absolute simulation time at.
func (s *Scheduler) ScheduleAt(at time.Duration, f func()) (EventHandle, error) {
	return s.Schedule(at-s.clock.Now(), f)
}

// MustSchedule is Schedule for callers that computed a non-negative delay;
// a negative delay panics.
func (s *Scheduler) MustSchedule(delay time.Duration, f func()) EventHandle {
	h, err := s.Schedule(delay, f)
	if err != nil {
		panic(err)
	}
	return h
}

func (s *Scheduler) insert(at time.Duration, f func()) EventHandle {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	ev := &scheduledEvent{
		id:   s.counter,
		when: at,
		f:    f,
	}

	// Insert after every event with when <= at so equal times stay FIFO.
	idx := sort.Search(len(s.events), func(i int) bool {
		return s.events[i].when > ev.when
	})
	s.events = append(s.events, nil)
	copy(s.events[idx+1:], s.events[idx:])
	s.events[idx] = ev

	s.index[ev.id] = ev
	s.reportPendingLocked()
	return EventHandle{id: ev.id}
}

// Cancel prevents a pending event from running. It is a no-op if the
// handle is unknown or the event already ran.
func (s *Scheduler) Cancel(h EventHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.index[h.id]
	if !ok {
		return
	}
	ev.cancelled = true
	delete(s.index, h.id)
	// Removal from s.events is lazy; Run skips cancelled events.
	if s.metrics != nil {
		s.metrics.IncCancelled()
	}
	s.reportPendingLocked()
}

// IsPending reports whether the event is still waiting to run.
func (s *Scheduler) IsPending(h EventHandle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[h.id]
	return ok
}

// Pending returns the number of events waiting to run.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// Executed returns the number of events run so far.
func (s *Scheduler) Executed() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executed
}

// Run executes events until the pending set empties or the next event is
// at or beyond stop. Events left at that point are discarded unexecuted and
// the clock is advanced to stop. A done context aborts between events.
func (s *Scheduler) Run(ctx context.Context, stop time.Duration) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.mu.Lock()
		ev := s.popNextLocked()
		if ev == nil {
			s.mu.Unlock()
			s.log.Debug(ctx, "scheduler drained",
				logging.Duration("sim_time", s.clock.Now()),
				logging.Uint64("executed", s.Executed()))
			return nil
		}
		if ev.when >= stop {
			// ev is still indexed, so the index holds every discarded event.
			discarded := len(s.index)
			s.events = nil
			s.index = make(map[uint64]*scheduledEvent)
			if s.metrics != nil {
				s.metrics.AddDiscarded(discarded)
			}
			s.reportPendingLocked()
			s.mu.Unlock()

			s.log.Debug(ctx, "scheduler reached stop time",
				logging.Duration("stop", stop),
				logging.Int("discarded", discarded))
			return s.clock.AdvanceTo(ctx, stop)
		}
		delete(s.index, ev.id)
		s.reportPendingLocked()
		s.mu.Unlock()

		if err := s.clock.AdvanceTo(ctx, ev.when); err != nil {
			return err
		}

		// Execute outside the lock so actions can schedule and cancel.
		if ev.f != nil {
			ev.f()
		}

		s.mu.Lock()
		s.executed++
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.IncExecuted()
		}
	}
}

// popNextLocked removes and returns the earliest non-cancelled event, or nil
// when none remain. The event stays in s.index. Caller must hold s.mu.
func (s *Scheduler) popNextLocked() *scheduledEvent {
	for len(s.events) > 0 {
		ev := s.events[0]
		s.events[0] = nil
		s.events = s.events[1:]
		if ev.cancelled {
			continue
		}
		return ev
	}
	return nil
}

func (s *Scheduler) reportPendingLocked() {
	if s.metrics != nil {
		s.metrics.SetPending(len(s.index))
	}
}
