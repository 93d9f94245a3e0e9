package kernel

import (
	"time"

	"github.com/activevideo/rfbtv-client/internal/rfbtv/codec"
)

// Event is the generalized replacement for the original client's
// BoundEvent<Handler,Event> template hierarchy (spec §9): rather than a
// polymorphic base class dispatched through a virtual call, each
// constructor below closes over its payload and the kernel method that
// consumes it. Dispatch always runs on the kernel goroutine; Run does not
// hold the session mutex, and each handler that touches session state
// takes it itself.
type Event struct {
	Name     string
	Dispatch func(k *Kernel)
}

func nullEvent() *Event {
	return &Event{Name: "null", Dispatch: func(k *Kernel) {}}
}

// InitiateEvent payload: start a new session against host/url.
func newInitiateEvent(host string, port int, tls bool, url string, screenW, screenH uint16, params map[string]string) *Event {
	return &Event{
		Name: "initiate",
		Dispatch: func(k *Kernel) {
			k.handleInitiate(host, port, tls, url, screenW, screenH, params)
		},
	}
}

func newTerminateEvent() *Event {
	return &Event{Name: "terminate", Dispatch: func(k *Kernel) { k.handleTerminate() }}
}

func newSuspendEvent() *Event {
	return &Event{Name: "suspend", Dispatch: func(k *Kernel) { k.handleSuspend() }}
}

func newResumeEvent() *Event {
	return &Event{Name: "resume", Dispatch: func(k *Kernel) { k.handleResume() }}
}

func newParameterUpdateEvent(params map[string]string) *Event {
	return &Event{Name: "parameter_update", Dispatch: func(k *Kernel) { k.handleParameterUpdate(params) }}
}

func newKeyEvent(x11Code uint32, action codec.KeyAction) *Event {
	return &Event{Name: "key", Dispatch: func(k *Kernel) { k.handleKey(x11Code, action) }}
}

func newPointerEvent(x, y uint16, action codec.PointerAction) *Event {
	return &Event{Name: "pointer", Dispatch: func(k *Kernel) { k.handlePointer(x, y, action) }}
}

func newPlayerEvent(state PlaybackState) *Event {
	return &Event{Name: "player_event", Dispatch: func(k *Kernel) { k.handlePlayerEvent(state) }}
}

// StreamData carries ownership of a received byte slice, matching
// ConnectionWorker's "buffer ownership transfers to the receiver" contract.
func newStreamDataEvent(data []byte) *Event {
	return &Event{Name: "stream_data", Dispatch: func(k *Kernel) { k.handleStreamData(data) }}
}

// StreamErrorKind classifies ConnectionWorker failures (spec §4.3 StreamError).
type StreamErrorKind int

const (
	StreamErrorOk StreamErrorKind = iota
	StreamErrorSocketRead
	StreamErrorHostNotFound
	StreamErrorThreadShutdown
)

func newStreamErrorEvent(kind StreamErrorKind) *Event {
	return &Event{Name: "stream_error", Dispatch: func(k *Kernel) { k.handleStreamError(kind) }}
}

func newLatencyDataEvent(data string) *Event {
	return &Event{Name: "latency_data", Dispatch: func(k *Kernel) { k.handleLatencyData(data) }}
}

func newStallEvent() *Event {
	return &Event{Name: "stall", Dispatch: func(k *Kernel) { k.handleStall() }}
}

func newConnectEvent() *Event {
	return &Event{Name: "connect", Dispatch: func(k *Kernel) { k.handleConnect() }}
}

func newCdmSessionTerminateEvent(sessionID string, reason codec.CdmSessionTerminateReason) *Event {
	return &Event{Name: "cdm_session_terminate", Dispatch: func(k *Kernel) { k.handleCdmSessionTerminate(sessionID, reason) }}
}

func newCdmSetupResultEvent(sessionID string, result codec.CdmSessionSetupResult) *Event {
	return &Event{Name: "cdm_setup_result", Dispatch: func(k *Kernel) { k.handleCdmSetupResult(sessionID, result) }}
}

func newCdmTerminateResultEvent(sessionID string) *Event {
	return &Event{Name: "cdm_terminate_result", Dispatch: func(k *Kernel) { k.handleCdmTerminateResult(sessionID) }}
}

func newProtocolExtensionSendEvent(extensionID uint32, data []byte) *Event {
	return &Event{Name: "protocol_extension_send", Dispatch: func(k *Kernel) { k.handleProtocolExtensionSend(extensionID, data) }}
}

func newStreamTimeoutExpiredEvent() *Event {
	return &Event{Name: "stream_timeout_expired", Dispatch: func(k *Kernel) { k.handleStreamTimeoutExpired() }}
}

func newPlaybackReportPeriodicTriggerEvent() *Event {
	return &Event{Name: "playback_report_periodic_trigger", Dispatch: func(k *Kernel) { k.handlePlaybackReportPeriodicTrigger() }}
}

func newFrameBufferUpdateRequestEvent(incremental bool, w, h uint16) *Event {
	return &Event{Name: "framebuffer_update_request", Dispatch: func(k *Kernel) { k.handleFrameBufferUpdateRequest(incremental, w, h) }}
}

// ServerCommand, HandoffRequest and Cdm*Request events arrive already
// decoded off the wire, so they are dispatched directly from
// handleStreamData without a named constructor; see kernel.go.

// backoffDelay implements spec §4.3's reconnection policy: initial trigger
// waits 5000-15000ms; subsequent backoffs index a {10,20,40,80}s table with
// a 5000ms base plus jitter up to the table entry's milliseconds.
func backoffDelay(attempt int, jitter func(n int) int) (time.Duration, bool) {
	backoffTableSeconds := []int{10, 20, 40, 80}
	if attempt == 0 {
		return time.Duration(5000+jitter(10000)) * time.Millisecond, true
	}
	idx := attempt - 1
	if idx >= len(backoffTableSeconds) {
		return 0, false
	}
	ms := backoffTableSeconds[idx] * 1000
	return time.Duration(5000+jitter(ms+1)) * time.Millisecond, true
}
