package underrun

import "github.com/activevideo/rfbtv-client/internal/media/ts"

// StallCallback is notified whenever an algorithm's accumulated delay grows,
// i.e. whenever a stall is actually absorbed rather than merely held steady
// or recovered from.
type StallCallback interface {
	StallDetected(stallDuration int64)
}

// Algorithm is the per-stream underrun-mitigation policy driving one side
// (audio or video) of the mitigator: given the current egress PCR it
// either returns the next frame to mux out, or nil if there is nothing to
// send yet.
type Algorithm interface {
	StreamType() ts.StreamType
	Language() string
	NextFrame(pcr int64) *Frame
	StalledDuration() int64
	Clear()
}

// base holds everything the three concrete algorithms share, and is handed
// a getNext hook by its constructor in place of the original's virtual
// getNextFrame override — the same "tie the knot" shape already used by
// internal/media/ts's PSI parsers.
//
// The original streams output byte-by-byte through getBytesAvailable/
// getData/readBytes so TsMux can pull a partial TS packet's worth at a
// time; since this port's Mux.WriteFrame already takes a whole frame and
// chunks it into packets internally, base hands out one complete *Frame
// per NextFrame call instead of tracking a partial-read cursor.
type base struct {
	source   *StreamBuffer
	params   AlgorithmParams
	callback StallCallback

	getNext func(pcr int64) *Frame

	previousDelay              int64
	accumulatedStalledDuration int64
}

func newBase(source *StreamBuffer, params AlgorithmParams, callback StallCallback) base {
	return base{source: source, params: params, callback: callback}
}

func (b *base) StreamType() ts.StreamType { return b.source.StreamType() }
func (b *base) Language() string          { return b.source.Language() }

// checkSource pulls the next reassembled frame straight from the stream
// buffer, without any timing adjustment.
func (b *base) checkSource() *Frame { return b.source.FrameIfAvailable() }

func (b *base) NextFrame(pcr int64) *Frame {
	if b.getNext == nil {
		return nil
	}
	return b.getNext(pcr)
}

// notifyDelay is called by the concrete algorithm whenever it computes a
// new accumulated delay; it reports a stall only on a delay *increase*
// (a decrease means latency recovery is in progress, not a new stall).
func (b *base) notifyDelay(delay int64) {
	if delay <= 0 {
		return
	}
	stall := delay - b.previousDelay
	b.previousDelay = delay
	if stall <= 0 {
		return
	}
	b.accumulatedStalledDuration += stall
	if b.callback != nil {
		b.callback.StallDetected(stall)
	}
}

func (b *base) StalledDuration() int64 { return b.accumulatedStalledDuration }

func (b *base) Clear() {
	b.source.Clear()
	b.previousDelay = 0
	b.accumulatedStalledDuration = 0
}
