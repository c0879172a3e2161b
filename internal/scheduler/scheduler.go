// Package scheduler implements the co-operative idle-callback scheduler
// spec.md §4.4 describes: a process-wide registry of timed callbacks
// dispatched in round-robin order from a cursor that survives across
// ticks, each bounded by its own time slice and by a tick-wide budget.
// It is grounded on the teacher's internal/queue/runner.go completion
// loop, which drains a fixed set of in-flight tags each pass and
// resumes from where it left off rather than restarting from the head
// every call — the same cursor-preserving fairness property this
// package generalizes to arbitrary named callbacks.
package scheduler

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ehrlich-b/go-deskxfer/internal/interfaces"
)

// CallbackFunc is a scheduled unit of work. It receives the handle it
// was registered with, the current time, and a pointer to the volatile
// time-up flag it should poll during any internal loop, and returns the
// next time it wants to run.
type CallbackFunc func(handle interface{}, now time.Time, timeUp *atomic.Bool) (nextDue time.Time)

type key struct {
	fnID   uintptr
	handle interface{}
}

type entry struct {
	fn            CallbackFunc
	fnID          uintptr
	handle        interface{}
	nextDue       time.Time
	baseSlice     time.Duration
	remainSlice   time.Duration
	pendingRemove bool
}

// Scheduler is the process-wide idle-callback dispatcher. The zero
// value is not usable; construct with New.
type Scheduler struct {
	clock interfaces.Clock

	mu         sync.Mutex
	entries    []*entry
	byKey      map[key]*entry
	cursor     int
	timeSlice  time.Duration
	suspendCnt int
	inDispatch bool
}

// New creates a Scheduler driven by clock, with defaultTimeSlice as its
// tick budget. The engines' Config supplies 20 centiseconds
// (internal/constants.DefaultSchedulerSliceCentiseconds) unless
// overridden.
func New(clock interfaces.Clock, defaultTimeSlice time.Duration) *Scheduler {
	return &Scheduler{
		clock:     clock,
		byKey:     make(map[key]*entry),
		timeSlice: defaultTimeSlice,
	}
}

// FuncToken identifies a registered callback's "function identity" for
// the register/deregister duplicate check, since Go funcs aren't
// comparable. Callers pass a stable token per call site (e.g. a small
// int constant naming "receiver timeout" vs "drag poll").
type FuncToken uintptr

// Register inserts fn into the callback list keyed by (fn, handle);
// registering the same pair twice is rejected. priority (1..10) becomes
// the callback's base time-slice in centiseconds.
func (s *Scheduler) Register(fn FuncToken, handle interface{}, due time.Time, priority int, cb CallbackFunc) bool {
	if priority < 1 {
		priority = 1
	}
	if priority > 10 {
		priority = 10
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{fnID: uintptr(fn), handle: handle}
	if _, exists := s.byKey[k]; exists {
		return false
	}
	slice := time.Duration(priority) * 10 * time.Millisecond
	e := &entry{fn: cb, fnID: uintptr(fn), handle: handle, nextDue: due, baseSlice: slice, remainSlice: slice}
	s.entries = append(s.entries, e)
	s.byKey[k] = e
	return true
}

// RegisterDelay is Register(fn, handle, now+delay, priority, cb).
func (s *Scheduler) RegisterDelay(fn FuncToken, handle interface{}, delay time.Duration, priority int, cb CallbackFunc) bool {
	return s.Register(fn, handle, s.clock.Now().Add(delay), priority, cb)
}

// Deregister removes the (fn, handle) callback. It is safe to call from
// within the callback being removed, or any other callback, or from
// outside dispatch entirely; removal during an active Dispatch is
// deferred until the tick finishes.
func (s *Scheduler) Deregister(fn FuncToken, handle interface{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{fnID: uintptr(fn), handle: handle}
	e, ok := s.byKey[k]
	if !ok {
		return false
	}
	e.pendingRemove = true
	delete(s.byKey, k)
	if !s.inDispatch {
		for i, x := range s.entries {
			if x == e {
				s.entries = append(s.entries[:i], s.entries[i+1:]...)
				if i < s.cursor {
					s.cursor--
				}
				break
			}
		}
	}
	return true
}

// SetTimeSlice sets the maximum duration Dispatch may spend in a single
// tick.
func (s *Scheduler) SetTimeSlice(budget time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeSlice = budget
}

// Suspend increments the suspend count; while nonzero, Dispatch and
// Poll are no-ops. Balanced with Resume.
func (s *Scheduler) Suspend() {
	s.mu.Lock()
	s.suspendCnt++
	s.mu.Unlock()
}

// Resume decrements the suspend count.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	if s.suspendCnt > 0 {
		s.suspendCnt--
	}
	s.mu.Unlock()
}

func (s *Scheduler) suspended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suspendCnt > 0
}

// NextDue returns the earliest next_due across all registered
// callbacks, and whether any exist, for Poll's wrapper around the host
// event yield.
func (s *Scheduler) NextDue() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var earliest time.Time
	found := false
	for _, e := range s.entries {
		if e.pendingRemove {
			continue
		}
		if !found || e.nextDue.Before(earliest) {
			earliest = e.nextDue
			found = true
		}
	}
	return earliest, found
}

// Poll asks yield to block until the earliest next_due, unless the
// scheduler is suspended or empty, in which case it returns
// immediately without calling yield.
func (s *Scheduler) Poll(yield func(deadline time.Time)) {
	if s.suspended() {
		return
	}
	due, ok := s.NextDue()
	if !ok {
		return
	}
	yield(due)
}

// Dispatch runs one idle tick: it walks the callback list from the
// preserved cursor, invoking every due, non-removed callback until the
// tick's cumulative budget is exhausted or a full lap finds nothing
// runnable. It returns the number of callback invocations made.
func (s *Scheduler) Dispatch() int {
	if s.suspended() {
		return 0
	}
	s.mu.Lock()
	s.inDispatch = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inDispatch = false
		s.mu.Unlock()
	}()

	ran := 0
	var elapsed time.Duration

	for {
		s.mu.Lock()
		if len(s.entries) == 0 {
			s.mu.Unlock()
			break
		}
		if s.cursor >= len(s.entries) {
			s.cursor = 0
		}
		budget := s.timeSlice
		n := len(s.entries)
		s.mu.Unlock()

		if elapsed >= budget {
			break
		}

		progressed := false
		for i := 0; i < n; i++ {
			s.mu.Lock()
			if s.cursor >= len(s.entries) {
				s.cursor = 0
			}
			idx := s.cursor
			if idx >= len(s.entries) {
				s.mu.Unlock()
				break
			}
			e := s.entries[idx]
			now := s.clock.Now()
			if e.pendingRemove || e.nextDue.After(now) {
				s.cursor++
				s.mu.Unlock()
				continue
			}
			s.mu.Unlock()

			callElapsed, nextDue, timedUp := s.invoke(e, now, elapsed, budget)
			elapsed += callElapsed
			ran++
			progressed = true

			s.mu.Lock()
			e.nextDue = nextDue
			if !timedUp && !nextDue.After(s.clock.Now()) {
				e.remainSlice -= callElapsed
				if e.remainSlice <= 0 {
					e.remainSlice = e.baseSlice
					s.cursor++
				}
				// do not advance cursor: callback asked to run again immediately
			} else {
				e.remainSlice = e.baseSlice
				s.cursor++
			}
			s.mu.Unlock()

			if elapsed >= budget {
				break
			}
		}

		if !progressed || elapsed >= budget {
			break
		}
	}

	s.reapRemoved()
	return ran
}

func (s *Scheduler) invoke(e *entry, now time.Time, elapsedSoFar, budget time.Duration) (callElapsed time.Duration, nextDue time.Time, timedUp bool) {
	remaining := budget - elapsedSoFar
	slice := e.remainSlice
	if slice <= 0 {
		slice = e.baseSlice
	}
	if slice > remaining {
		slice = remaining
	}

	var flag atomic.Bool
	timer := s.clock.AfterFunc(slice, func() { flag.Store(true) })

	start := s.clock.Now()
	next := e.fn(e.handle, now, &flag)
	timer.Stop()
	callElapsed = s.clock.Now().Sub(start)

	return callElapsed, next, flag.Load()
}

func (s *Scheduler) reapRemoved() {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.entries[:0]
	for _, e := range s.entries {
		if !e.pendingRemove {
			kept = append(kept, e)
		}
	}
	s.entries = kept
	if s.cursor > len(s.entries) {
		s.cursor = 0
	}
}

// Len reports the number of currently registered callbacks, including
// any deregistered during the current Dispatch until it reaps them.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
