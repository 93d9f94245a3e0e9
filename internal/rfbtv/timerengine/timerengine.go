// Package timerengine implements a small cooperative timer scheduler
// (spec §9: "TimerEngine-style cooperative timer", generalized from
// original_source's utils/TimerEngine.h). It satisfies
// internal/rfbtv/kernel.Timer, and separately drives the Connect (one-shot)
// and PlaybackReportPeriodicTrigger events named in spec §5 into a kernel
// via small exported trigger methods, rather than the kernel's private
// event queue, plus a 10ms media tick into a caller-supplied function.
// kernelTriggers also lists TriggerStreamTimeoutExpired, but no Engine
// method calls it.
package timerengine

import (
	"sync"
	"time"
)

// kernelTriggers is the subset of *kernel.Kernel's exported trigger
// methods the engine's periodic loops call. Defined locally (rather than
// imported) so timerengine never depends on the kernel package, matching
// the collaborator-interfaces-live-with-the-consumer pattern used
// throughout this module.
type kernelTriggers interface {
	TriggerConnect()
	TriggerPlaybackReportPeriodic()
	TriggerStreamTimeoutExpired()
}

// Engine is a goroutine-backed timer scheduler: one-shot delays (After),
// cancellable one-shot delays (Schedule/Cancel), and named periodic
// loops (StartPlaybackReportLoop, StartMediaTickLoop) bound to a target
// kernel.
type Engine struct {
	mu      sync.Mutex
	nextID  int
	timers  map[int]*time.Timer
	stopAll []func()
}

// New returns an idle Engine.
func New() *Engine {
	return &Engine{timers: make(map[int]*time.Timer)}
}

// After schedules fn to run once after d, uncancellable. Satisfies
// kernel.Timer.
func (e *Engine) After(d time.Duration, fn func()) {
	time.AfterFunc(d, fn)
}

// Schedule schedules fn to run once after d, returning a cancellation
// id. Satisfies kernel.Timer.
func (e *Engine) Schedule(d time.Duration, fn func()) int {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.mu.Unlock()

	t := time.AfterFunc(d, func() {
		e.mu.Lock()
		delete(e.timers, id)
		e.mu.Unlock()
		fn()
	})

	e.mu.Lock()
	e.timers[id] = t
	e.mu.Unlock()
	return id
}

// Cancel stops a timer scheduled via Schedule. Idempotent: cancelling an
// unknown or already-fired id is a no-op, matching §5's "cancellation is
// idempotent" guarantee. Satisfies kernel.Timer.
func (e *Engine) Cancel(id int) {
	e.mu.Lock()
	t, ok := e.timers[id]
	delete(e.timers, id)
	e.mu.Unlock()
	if ok {
		t.Stop()
	}
}

// StartReconnectTrigger fires k.TriggerConnect once after d; used for the
// initial connect kick rather than the reconnect-backoff path (which the
// kernel drives directly through the injected Timer).
func (e *Engine) StartReconnectTrigger(d time.Duration, k kernelTriggers) {
	e.After(d, k.TriggerConnect)
}

// StartPlaybackReportLoop starts a 100ms-granularity ticker that calls
// k.TriggerPlaybackReportPeriodic, per §4.8's polling interval. Returns a
// stop function; also registered for Stop() to shut down with the engine.
func (e *Engine) StartPlaybackReportLoop(k kernelTriggers) func() {
	return e.startTickerLoop(100*time.Millisecond, k.TriggerPlaybackReportPeriodic)
}

// StartMediaTickLoop starts a 10ms-granularity ticker driving fn, the
// media-pipeline tick named in §5 (consumed by the underrun mitigator's
// clock advance, not by the kernel directly).
func (e *Engine) StartMediaTickLoop(fn func()) func() {
	return e.startTickerLoop(10*time.Millisecond, fn)
}

func (e *Engine) startTickerLoop(interval time.Duration, fn func()) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				fn()
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	stop := func() { close(done) }

	e.mu.Lock()
	e.stopAll = append(e.stopAll, stop)
	e.mu.Unlock()
	return stop
}

// Stop cancels every outstanding one-shot timer and stops every periodic
// loop started through this engine.
func (e *Engine) Stop() {
	e.mu.Lock()
	timers := e.timers
	e.timers = make(map[int]*time.Timer)
	stops := e.stopAll
	e.stopAll = nil
	e.mu.Unlock()

	for _, t := range timers {
		t.Stop()
	}
	for _, stop := range stops {
		stop()
	}
}
