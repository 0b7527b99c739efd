// Package hooks implements the event fan-out system of : hook
// registration/dispatch, the structured logger, the status reporter, the
// debugger, and the profiler — every observer the runner, executors, and
// parallel dispatcher notify over a run's lifetime.
//
// Grounded on the teacher's internal/tracing package (span-per-run,
// span-per-step instrumentation style) for the logger's tracing
// integration, and internal/controller/filewatcher/metrics.go's
// promauto package-level counters for the Prometheus side.
package hooks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Event names fixes.
const (
	EventWorkflowStart     = "workflow:start"
	EventWorkflowComplete  = "workflow:complete"
	EventWorkflowError     = "workflow:error"
	EventWorkflowCancelled = "workflow:cancelled"
	EventStepStart         = "step:start"
	EventStepComplete      = "step:complete"
	EventStepError         = "step:error"
	EventStepSkip          = "step:skip"
	EventStepRetry         = "step:retry"
)

// Payload is the data handed to a Handler on dispatch. WorkflowID is always
// set; StepID is set for step:* events.
type Payload struct {
	Event      string
	WorkflowID string
	StepID     string
	Data       interface{}
	Err        error
}

// Handler is a registered hook callback.
type Handler func(ctx context.Context, p Payload)

// Registration is Hook registration shape.
type Registration struct {
	ID       string
	Event    string
	Handler  Handler
	Priority int
	Enabled  bool
	Async    bool
}

// Stats tracks per-hook call count, cumulative time, and error count
// ("Per-hook stats").
type Stats struct {
	Calls      int64
	TotalTime  time.Duration
	Errors     int64
}

// ErrMaxHooksReached is returned by Register once MaxHooks registrations
// have been made ("total registrations <= maxHooks").
var ErrMaxHooksReached = fmt.Errorf("hooks: maximum hook registrations reached")

// Dispatcher fans events out to registered hooks. A hook panic/timeout is
// swallowed by default (reported to the OnHookError callback, if any, and
// skipped); WithErrorPropagation(true) re-raises it to the caller of
// Dispatch instead.
type Dispatcher struct {
	mu            sync.Mutex
	maxHooks      int
	maxExecTime   time.Duration
	propagate     bool
	byEvent       map[string][]*Registration
	stats         map[string]*Stats
	onHookError   func(reg *Registration, err error)
}

// NewDispatcher builds a hook dispatcher. maxHooks<=0 means unlimited.
// maxExecTime<=0 defaults to 5s per spec's "per-call timeout".
func NewDispatcher(maxHooks int, maxExecTime time.Duration) *Dispatcher {
	if maxExecTime <= 0 {
		maxExecTime = 5 * time.Second
	}
	return &Dispatcher{
		maxHooks:    maxHooks,
		maxExecTime: maxExecTime,
		byEvent:     make(map[string][]*Registration),
		stats:       make(map[string]*Stats),
	}
}

// WithErrorPropagation disables the default log-and-skip behavior for a
// failing/timed-out hook, re-raising instead (spec: "propagated when
// error-handling is disabled").
func (d *Dispatcher) WithErrorPropagation(propagate bool) *Dispatcher {
	d.propagate = propagate
	return d
}

// OnHookError installs a callback invoked whenever a hook errors or times
// out and is being swallowed (non-propagating mode); used by the logger to
// record the failure.
func (d *Dispatcher) OnHookError(fn func(reg *Registration, err error)) {
	d.onHookError = fn
}

func (d *Dispatcher) totalRegistrations() int {
	n := 0
	for _, regs := range d.byEvent {
		n += len(regs)
	}
	return n
}

// Register adds a hook for event. The registration is stored as given: a
// hook registered with Enabled false is not called until
// SetEnabled(id, true).
func (d *Dispatcher) Register(reg Registration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.maxHooks > 0 && d.totalRegistrations() >= d.maxHooks {
		return ErrMaxHooksReached
	}
	for _, regs := range d.byEvent {
		for _, r := range regs {
			if r.ID == reg.ID {
				return fmt.Errorf("hooks: registration id %q already in use", reg.ID)
			}
		}
	}

	r := reg
	d.byEvent[reg.Event] = append(d.byEvent[reg.Event], &r)
	d.stats[reg.ID] = &Stats{}
	return nil
}

// Unregister removes a hook by id.
func (d *Dispatcher) Unregister(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for event, regs := range d.byEvent {
		for i, r := range regs {
			if r.ID == id {
				d.byEvent[event] = append(regs[:i], regs[i+1:]...)
				delete(d.stats, id)
				return
			}
		}
	}
}

// SetEnabled toggles a registered hook without removing it.
func (d *Dispatcher) SetEnabled(id string, enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, regs := range d.byEvent {
		for _, r := range regs {
			if r.ID == id {
				r.Enabled = enabled
				return
			}
		}
	}
}

// StatsFor returns a copy of the accumulated stats for a hook id.
func (d *Dispatcher) StatsFor(id string) Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.stats[id]; ok {
		return *s
	}
	return Stats{}
}

// Dispatch fires every enabled handler registered for p.Event: sync
// handlers run first in descending-priority order; async handlers then
// run concurrently under an all-settled barrier, so one
// async failure cannot strand the others. Each handler call is wrapped in
// a per-call timeout.
func (d *Dispatcher) Dispatch(ctx context.Context, p Payload) {
	d.mu.Lock()
	regs := make([]*Registration, len(d.byEvent[p.Event]))
	copy(regs, d.byEvent[p.Event])
	d.mu.Unlock()

	var syncRegs, asyncRegs []*Registration
	for _, r := range regs {
		if !r.Enabled {
			continue
		}
		if r.Async {
			asyncRegs = append(asyncRegs, r)
		} else {
			syncRegs = append(syncRegs, r)
		}
	}
	sort.SliceStable(syncRegs, func(i, j int) bool { return syncRegs[i].Priority > syncRegs[j].Priority })

	for _, r := range syncRegs {
		d.invoke(ctx, r, p)
	}

	if len(asyncRegs) == 0 {
		return
	}
	var wg sync.WaitGroup
	var panicMu sync.Mutex
	var firstPanic interface{}
	for _, r := range asyncRegs {
		r := r
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					panicMu.Lock()
					if firstPanic == nil {
						firstPanic = rec
					}
					panicMu.Unlock()
				}
			}()
			d.invoke(ctx, r, p)
		}()
	}
	wg.Wait()
	if firstPanic != nil {
		panic(firstPanic)
	}
}

func (d *Dispatcher) invoke(ctx context.Context, r *Registration, p Payload) {
	callCtx, cancel := context.WithTimeout(ctx, d.maxExecTime)
	defer cancel()

	done := make(chan error, 1)
	start := time.Now()
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("hook %s panicked: %v", r.ID, rec)
			}
		}()
		r.Handler(callCtx, p)
		done <- nil
	}()

	var err error
	select {
	case err = <-done:
	case <-callCtx.Done():
		err = fmt.Errorf("hook %s timed out after %v", r.ID, d.maxExecTime)
	}
	elapsed := time.Since(start)

	d.mu.Lock()
	if s, ok := d.stats[r.ID]; ok {
		s.Calls++
		s.TotalTime += elapsed
		if err != nil {
			s.Errors++
		}
	}
	d.mu.Unlock()

	if err == nil {
		return
	}
	if d.propagate {
		panic(err)
	}
	if d.onHookError != nil {
		d.onHookError(r, err)
	}
}
