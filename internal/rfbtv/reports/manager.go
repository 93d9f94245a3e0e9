// Package reports implements the three RFB-TV client report accumulators
// (playback, latency, log) and the scheduling policy (triggered, periodic,
// one-shot) that wraps each of them, per spec §4.8. Manager is injected
// into internal/rfbtv/kernel through cmd/rfbtv-client's reportTransmitter
// adapter, which translates kernel.PlaybackState to this package's
// PlaybackState; neither package imports the other.
package reports

import (
	"sync"
	"time"

	"github.com/activevideo/rfbtv-client/internal/logger"
	"github.com/activevideo/rfbtv-client/internal/rfbtv/codec"
)

// Sender abstracts the outbound connection a report is written to. It is
// satisfied by internal/rfbtv/transport.Worker and by any test double.
type Sender interface {
	SendData(data []byte) error
}

// PlaybackState mirrors kernel.PlaybackState without importing the kernel
// package; cmd/rfbtv-client's reportTransmitter adapter translates between
// the two (the kernel's type has no Unknown value).
type PlaybackState int

const (
	PlaybackUnknown PlaybackState = iota
	PlaybackStarting
	PlaybackPlaying
	PlaybackStopped
	PlaybackStalled
)

func (s PlaybackState) String() string {
	switch s {
	case PlaybackStarting:
		return "starting"
	case PlaybackPlaying:
		return "playing"
	case PlaybackStopped:
		return "stopped"
	case PlaybackStalled:
		return "stalled"
	default:
		return "unknown"
	}
}

// schedule is the {triggered_enabled, interval_ms, last_triggered_time}
// tuple from §4.3/§4.8, one per report.
type schedule struct {
	mu            sync.Mutex
	triggered     bool
	intervalMs    int64
	lastTriggered time.Time
}

func (s *schedule) enableTriggered() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggered = true
}

func (s *schedule) enablePeriodic(interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intervalMs = interval.Milliseconds()
}

func (s *schedule) disable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggered = false
	s.intervalMs = 0
}

// duePeriodic reports whether interval_ms has elapsed since the last
// emission, and marks the schedule as just-emitted if so.
func (s *schedule) duePeriodic(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.intervalMs <= 0 {
		return false
	}
	if s.lastTriggered.IsZero() {
		s.lastTriggered = now
		return false
	}
	if now.Sub(s.lastTriggered) < time.Duration(s.intervalMs)*time.Millisecond {
		return false
	}
	s.lastTriggered = now
	return true
}

func (s *schedule) isTriggered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.triggered
}

// Manager owns the three reports and their scheduling state, and performs
// the actual wire transmission through an injected Sender.
type Manager struct {
	sender Sender

	Playback *PlaybackReport
	Latency  *LatencyReport
	Log      *LogReport

	playbackSched *schedule
	latencySched  *schedule
	logSched      *schedule

	mu    sync.Mutex
	state PlaybackState
}

// NewManager returns a Manager with empty reports and all scheduling
// disabled, writing through sender.
func NewManager(sender Sender) *Manager {
	return &Manager{
		sender:        sender,
		Playback:      NewPlaybackReport(),
		Latency:       NewLatencyReport(),
		Log:           NewLogReport(LogLevelInfo),
		playbackSched: &schedule{},
		latencySched:  &schedule{},
		logSched:      &schedule{},
	}
}

// EnableTriggered arms immediate transmission on every ReportUpdated call.
// Reached from kernel.ReportTransmitter through cmd/rfbtv-client's
// adapter, driving the playback report's
// schedule (the report the server's playback_control command targets).
func (m *Manager) EnableTriggered() {
	m.playbackSched.enableTriggered()
	m.transmitPlayback()
}

// EnablePeriodic arms periodic emission at the given interval.
func (m *Manager) EnablePeriodic(interval time.Duration) {
	m.playbackSched.enablePeriodic(interval)
}

// Disable clears all playback scheduling.
func (m *Manager) Disable() {
	m.playbackSched.disable()
}

// GenerateNow performs an unconditional one-shot playback report emission.
func (m *Manager) GenerateNow() {
	m.transmitPlayback()
}

// ReportUpdated is called after any player-state change; it transmits the
// playback report immediately if triggered mode is armed.
func (m *Manager) ReportUpdated() {
	if m.playbackSched.isTriggered() {
		m.transmitPlayback()
	}
}

// NotifyStateChange records the new playback state into the report ahead
// of the next emission.
func (m *Manager) NotifyStateChange(state PlaybackState) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
	m.Playback.SetState(state.String())
}

// TimerTick is driven every 100ms (the polling granularity named in §4.8)
// by a ticker in cmd/rfbtv-client, and emits any report whose periodic
// interval has elapsed.
func (m *Manager) TimerTick(now time.Time) {
	if m.playbackSched.duePeriodic(now) {
		m.transmitPlayback()
	}
	if m.latencySched.duePeriodic(now) {
		m.transmitLatency()
	}
	if m.logSched.duePeriodic(now) {
		m.transmitLog()
	}
}

// EnableLatencyTriggered/EnableLatencyPeriodic/DisableLatency and their Log
// counterparts are not yet wired from internal/rfbtv/kernel's
// onServerCommand (latency_control/log_control are currently no-ops there
// per the teacher-originated stub), but are exposed so a future dispatch
// can drive them without changing this package.
func (m *Manager) EnableLatencyTriggered() { m.latencySched.enableTriggered(); m.transmitLatency() }
func (m *Manager) EnableLatencyPeriodic(interval time.Duration) {
	m.latencySched.enablePeriodic(interval)
}
func (m *Manager) DisableLatency() { m.latencySched.disable() }

func (m *Manager) EnableLogTriggered() { m.logSched.enableTriggered(); m.transmitLog() }
func (m *Manager) EnableLogPeriodic(interval time.Duration) {
	m.logSched.enablePeriodic(interval)
}
func (m *Manager) DisableLog() { m.logSched.disable() }

func (m *Manager) transmitPlayback() {
	body := m.Playback.Serialize()
	m.send(codec.ReportKindPlayback, body)
}

func (m *Manager) transmitLatency() {
	body := m.Latency.Serialize()
	m.send(codec.ReportKindLatency, body)
}

func (m *Manager) transmitLog() {
	body := m.Log.Serialize()
	m.send(codec.ReportKindLog, body)
}

func (m *Manager) send(kind codec.ClientReportKind, body []byte) {
	if m.sender == nil {
		return
	}
	msg := codec.EncodeClientReport(clientReport(kind, body))
	if err := m.sender.SendData(msg); err != nil {
		logger.Logger().Warn("report transmit failed", "kind", kind, "error", err)
	}
}
