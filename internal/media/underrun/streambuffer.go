package underrun

import (
	"github.com/activevideo/rfbtv-client/internal/logger"
	"github.com/activevideo/rfbtv-client/internal/media/ts"
)

// StreamBuffer implements ts.DataSink: it reassembles the PES packets the
// demuxer delivers into a queue of complete Frames, each tagged with the
// PTS/DTS the demuxer announced. A PTS/DTS correction delta, accumulated via
// AddPtsCorrectionDelta, is applied to every new frame so a PCR rebase in
// the mitigator's egress clock doesn't show up as a visible jump here.
type StreamBuffer struct {
	streamType ts.StreamType
	language   string

	completed []*Frame
	current   *Frame
	expected  uint32

	ptsCorrectionDelta int64
}

// NewStreamBuffer returns an empty StreamBuffer.
func NewStreamBuffer() *StreamBuffer {
	return &StreamBuffer{streamType: ts.StreamTypeUnknown}
}

// Clear discards any buffered frame data and resets stream identity, used
// both at construction time and whenever the mitigator needs a hard reset.
func (s *StreamBuffer) Clear() {
	s.streamType = ts.StreamTypeUnknown
	s.language = ""
	s.completed = nil
	s.current = nil
	s.expected = 0
	s.ptsCorrectionDelta = 0
}

func (s *StreamBuffer) finishCurrentFrame() {
	s.completed = append(s.completed, s.current)
	s.current = nil
	s.expected = 0
}

// NewStream implements ts.DataSink.
func (s *StreamBuffer) NewStream(streamType ts.StreamType, language string) {
	s.streamType = streamType
	s.language = language

	if s.current != nil {
		logger.Logger().Info("underrun stream buffer closing frame early on stream switch")
		s.finishCurrentFrame()
	}
}

// PESHeader implements ts.DataSink.
func (s *StreamBuffer) PESHeader(pts, dts int64, hasPTS, hasDTS bool, payloadLength uint32) {
	if s.current != nil {
		logger.Logger().Info("underrun stream buffer closing unfinished frame", "have_bytes", len(s.current.Data), "expected", s.expected)
		s.finishCurrentFrame()
	}

	if hasPTS {
		pts += s.ptsCorrectionDelta
	} else {
		pts = 0
	}
	if hasDTS {
		dts += s.ptsCorrectionDelta
	} else {
		dts = pts
	}

	s.current = &Frame{PTS: pts, DTS: dts}
	s.expected = payloadLength
	if payloadLength > 0 {
		s.current.Data = make([]byte, 0, payloadLength)
	}
}

// Parse implements ts.DataSink.
func (s *StreamBuffer) Parse(data []byte) {
	if s.current == nil {
		logger.Logger().Warn("underrun stream buffer got data with no open frame")
		return
	}

	s.current.Data = append(s.current.Data, data...)
	if s.expected > 0 && uint32(len(s.current.Data)) >= s.expected {
		if uint32(len(s.current.Data)) != s.expected {
			logger.Logger().Error("underrun stream buffer frame size mismatch", "got", len(s.current.Data), "expected", s.expected)
		}
		s.finishCurrentFrame()
	}
}

// Reset implements ts.DataSink: discards everything and starts fresh, the
// same as Clear (a partial frame is not worth salvaging across a resync).
func (s *StreamBuffer) Reset() {
	s.Clear()
}

// FrameIfAvailable pops and returns the oldest complete frame, or nil if
// none has been reassembled yet.
func (s *StreamBuffer) FrameIfAvailable() *Frame {
	if len(s.completed) == 0 {
		return nil
	}
	f := s.completed[0]
	s.completed = s.completed[1:]
	return f
}

// StreamType reports the codec most recently announced via NewStream.
func (s *StreamBuffer) StreamType() ts.StreamType { return s.streamType }

// Language reports the language most recently announced via NewStream.
func (s *StreamBuffer) Language() string { return s.language }

// AddPtsCorrectionDelta accumulates a further correction on top of whatever
// has already been applied, since corrections are relative PCR-rebase jumps
// observed over the ingress stream's lifetime.
func (s *StreamBuffer) AddPtsCorrectionDelta(delta int64) {
	s.ptsCorrectionDelta += delta
}
