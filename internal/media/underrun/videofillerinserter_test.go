package underrun

import (
	"testing"

	"github.com/activevideo/rfbtv-client/internal/media/ts"
)

// A minimal MPEG-2 sequence_header + picture_header pair lets
// Mpeg2VideoFillerFrameCreator learn a picture size and temporal reference
// without needing a real encoder in the test.
func buildMpeg2Frame(temporalReference uint32) []byte {
	w := newBitWriter(0)
	w.write(0x000001B3, 32) // sequence_header_code
	w.write(176, 12)        // horizontal_size_value
	w.write(144, 12)        // vertical_size_value
	w.align()
	seq := w.bytes()

	p := newBitWriter(0)
	p.write(0x00000100, 32) // picture_start_code
	p.write(temporalReference, 10)
	p.align()
	pic := p.bytes()

	out := append([]byte{}, seq...)
	out = append(out, pic...)
	// mpeg2NextStartCode only reports a start code once the *next* one is
	// seen (and never one within the trailing 4 bytes of the buffer), so a
	// sentinel start code followed by a few padding bytes is needed to
	// delimit the picture header above.
	out = append(out, 0x00, 0x00, 0x01, mpeg2GroupStartCode)
	return append(out, 0x00, 0x00, 0x00, 0x00)
}

func TestVideoFillerFrameInserterHoldsBackUnderDelay(t *testing.T) {
	source := NewStreamBuffer()
	source.NewStream(ts.StreamTypeMPEG2Video, "")
	data := buildMpeg2Frame(0)
	source.PESHeader(0, 0, true, true, uint32(len(data)))
	source.Parse(data)

	params := AlgorithmParams{MinDelay: 1000}
	callback := &recordingCallback{}
	v := NewVideoFillerFrameInserter(source, params, callback)

	frame := v.NextFrame(2000) // pcr well ahead of the frame's raw DTS
	if frame == nil {
		t.Fatal("expected the real frame back, delayed")
	}
	wantDts := int64(2000 + 1000)
	if frame.DTS != wantDts {
		t.Errorf("DTS = %d, want %d", frame.DTS, wantDts)
	}
	if len(callback.stalls) != 1 {
		t.Errorf("expected one stall notification, got %v", callback.stalls)
	}
}

func TestVideoFillerFrameInserterSynthesizesFillerOnStarvation(t *testing.T) {
	source := NewStreamBuffer()
	source.NewStream(ts.StreamTypeMPEG2Video, "")
	data := buildMpeg2Frame(0)
	source.PESHeader(0, 0, true, true, uint32(len(data)))
	source.Parse(data)

	params := DefaultVideoParams()
	v := NewVideoFillerFrameInserter(source, params, nil)

	real := v.NextFrame(0)
	if real == nil {
		t.Fatal("expected the real frame")
	}

	// No further source frame: once the pcr has moved past the point a
	// filler frame should already have been scheduled, one must appear.
	pcr := real.DTS + params.DefaultFillerFrameDuration + params.MinDelay + params.ClockGranularityAndJitter + 1
	filler := v.NextFrame(pcr)
	if filler == nil {
		t.Fatal("expected a synthesized filler frame")
	}
	if len(filler.Data) == 0 {
		t.Error("expected a non-empty filler picture")
	}
	if filler.PTS != filler.DTS {
		t.Errorf("filler PTS/DTS mismatch: %d/%d", filler.PTS, filler.DTS)
	}
}

func TestVideoFillerFrameInserterReturnsNilBeforeAnyFrameSeen(t *testing.T) {
	source := NewStreamBuffer()
	source.NewStream(ts.StreamTypeMPEG2Video, "")
	v := NewVideoFillerFrameInserter(source, DefaultVideoParams(), nil)

	if v.NextFrame(0) != nil {
		t.Fatal("expected nil: no real frame has ever arrived to anchor filler cadence")
	}
}
