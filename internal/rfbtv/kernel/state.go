package kernel

import "github.com/activevideo/rfbtv-client/internal/rfbtv/codec"

// SessionState is the kernel's internal state machine position (spec §4.3).
type SessionState int

const (
	StateInit SessionState = iota
	StateInitiated
	StateRedirected
	StateConnecting
	StateOpening
	StateActive
	StateSuspended
	StateError
)

func (s SessionState) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateInitiated:
		return "Initiated"
	case StateRedirected:
		return "Redirected"
	case StateConnecting:
		return "Connecting"
	case StateOpening:
		return "Opening"
	case StateActive:
		return "Active"
	case StateSuspended:
		return "Suspended"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// ObservableState is the (state, error-code) pair published to the embedder
// on every state change (spec §7 "User-visible behavior").
type ObservableState struct {
	State     SessionState
	ErrorCode codec.ClientErrorCode
}

// Observer receives ObservableState transitions. Implementations must not
// block or call back into the kernel synchronously.
type Observer interface {
	OnStateChanged(ObservableState)
}

// PlaybackState mirrors the media-player states the PlayerEvent handler
// projects onto (spec §4.3 PlayerEvent).
type PlaybackState int

const (
	PlaybackStarting PlaybackState = iota
	PlaybackPlaying
	PlaybackStopped
	PlaybackStalled
)
