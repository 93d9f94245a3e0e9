package timerengine

import (
	"sync/atomic"
	"testing"
	"time"
)

type fakeKernel struct {
	connects int32
	reports  int32
}

func (k *fakeKernel) TriggerConnect()                 { atomic.AddInt32(&k.connects, 1) }
func (k *fakeKernel) TriggerPlaybackReportPeriodic()   { atomic.AddInt32(&k.reports, 1) }
func (k *fakeKernel) TriggerStreamTimeoutExpired()     {}

func TestAfterFiresOnce(t *testing.T) {
	e := New()
	defer e.Stop()
	var n int32
	e.After(5*time.Millisecond, func() { atomic.AddInt32(&n, 1) })
	time.Sleep(30 * time.Millisecond)
	if atomic.LoadInt32(&n) != 1 {
		t.Fatalf("expected fn to fire exactly once, got %d", n)
	}
}

func TestScheduleCancelPreventsFire(t *testing.T) {
	e := New()
	defer e.Stop()
	var n int32
	id := e.Schedule(20*time.Millisecond, func() { atomic.AddInt32(&n, 1) })
	e.Cancel(id)
	time.Sleep(40 * time.Millisecond)
	if atomic.LoadInt32(&n) != 0 {
		t.Fatalf("expected cancelled timer not to fire, got %d", n)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	e := New()
	defer e.Stop()
	id := e.Schedule(5*time.Millisecond, func() {})
	e.Cancel(id)
	e.Cancel(id)
	e.Cancel(9999)
}

func TestPlaybackReportLoopTicks(t *testing.T) {
	e := New()
	k := &fakeKernel{}
	stop := e.StartPlaybackReportLoop(k)
	defer stop()
	time.Sleep(250 * time.Millisecond)
	if atomic.LoadInt32(&k.reports) < 2 {
		t.Fatalf("expected at least 2 ticks in 250ms at 100ms granularity, got %d", k.reports)
	}
}

func TestStopHaltsTickerLoops(t *testing.T) {
	e := New()
	k := &fakeKernel{}
	e.StartPlaybackReportLoop(k)
	e.Stop()
	before := atomic.LoadInt32(&k.reports)
	time.Sleep(150 * time.Millisecond)
	after := atomic.LoadInt32(&k.reports)
	if after != before {
		t.Fatalf("expected no further ticks after Stop, before=%d after=%d", before, after)
	}
}
