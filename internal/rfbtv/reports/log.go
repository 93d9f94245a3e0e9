package reports

import (
	"sync"

	"github.com/activevideo/rfbtv-client/internal/wire"
)

// LogLevel mirrors the severity scale of the embedder's log control
// command: lower numeric value is higher severity.
type LogLevel uint8

const (
	LogLevelFatal LogLevel = iota
	LogLevelError
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

// ParseLogLevel maps a log-control level string to a LogLevel. Per the
// source's own ambiguity (preserved here rather than resolved): any
// non-empty, unrecognized string falls through to Debug.
func ParseLogLevel(s string) LogLevel {
	switch s {
	case "fatal":
		return LogLevelFatal
	case "error":
		return LogLevelError
	case "warn", "warning":
		return LogLevelWarn
	case "info":
		return LogLevelInfo
	case "":
		return LogLevelDebug
	default:
		return LogLevelDebug
	}
}

const logReportCapBytes = 65535

// LogReport accumulates log text FIFO-truncated at 65535 bytes, tracking
// the highest severity (lowest LogLevel value) observed since the last
// reset. It is guarded by its own mutex, separate from the session mutex,
// so any thread can append without re-entering the kernel's lock (§5).
type LogReport struct {
	mu sync.Mutex

	minLevel LogLevel
	text     []byte
	maxSev   LogLevel
	hasMax   bool
}

// NewLogReport returns an empty report with the given minimum level to
// accept (messages below this severity, i.e. with a higher LogLevel
// value, are dropped).
func NewLogReport(minLevel LogLevel) *LogReport {
	return &LogReport{minLevel: minLevel, maxSev: LogLevelDebug}
}

// SetMinLevel changes the minimum severity accepted.
func (r *LogReport) SetMinLevel(level LogLevel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.minLevel = level
}

// Append adds a log line if its level is at or above the configured
// minimum severity, FIFO-truncating the buffer if the cap is exceeded.
func (r *LogReport) Append(level LogLevel, line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if level > r.minLevel {
		return
	}
	if !r.hasMax || level < r.maxSev {
		r.maxSev = level
		r.hasMax = true
	}
	r.text = append(r.text, []byte(line)...)
	r.text = append(r.text, '\n')
	if excess := len(r.text) - logReportCapBytes; excess > 0 {
		r.text = r.text[excess:]
	}
}

// Serialize encodes the accumulated text and max-severity byte, then
// clears the text (the max-severity observation resets too, per §4.8).
func (r *LogReport) Serialize() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := wire.New()
	b.WriteUint8(uint8(r.maxSev))
	b.WriteBlob(r.text)

	r.text = nil
	r.maxSev = LogLevelDebug
	r.hasMax = false
	return b.Bytes()
}
