package underrun

import "github.com/activevideo/rfbtv-client/internal/media/ts"

// FillerFrameCreator is a codec-specific, stateful silence/empty-picture
// generator: it watches real frames go by to learn the stream's current
// parameters (sampling rate, channel config, SPS/PPS, ...) and regenerates
// its cached template whenever those parameters change, so Create can hand
// out a codec-valid filler frame on demand.
type FillerFrameCreator interface {
	StreamType() ts.StreamType
	ProcessIncomingFrame(frame *Frame)
	Create() *Frame
}
