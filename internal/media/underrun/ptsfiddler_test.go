package underrun

import (
	"testing"

	"github.com/activevideo/rfbtv-client/internal/media/ts"
)

type recordingCallback struct {
	stalls []int64
}

func (c *recordingCallback) StallDetected(stallDuration int64) {
	c.stalls = append(c.stalls, stallDuration)
}

func TestPtsFiddlerClampsToMinDelayAheadOfPcr(t *testing.T) {
	source := NewStreamBuffer()
	source.NewStream(ts.StreamTypeH264Video, "")
	source.PESHeader(0, 0, true, true, 1)
	source.Parse([]byte{0})

	params := AlgorithmParams{MinDelay: 1000, MinFrameDistance: 100}
	callback := &recordingCallback{}
	p := NewPtsFiddler(source, params, callback)

	frame := p.NextFrame(2000) // pcr=2000, frame DTS (0) would lag behind it
	if frame == nil {
		t.Fatal("expected a frame")
	}
	if frame.DTS != 2000+params.MinDelay {
		t.Errorf("DTS = %d, want %d (clamped to pcr+MinDelay)", frame.DTS, 2000+params.MinDelay)
	}
	if len(callback.stalls) != 1 || callback.stalls[0] != frame.DTS {
		t.Errorf("expected one stall notification of %d, got %v", frame.DTS, callback.stalls)
	}
}

func TestPtsFiddlerEnforcesMinFrameDistance(t *testing.T) {
	source := NewStreamBuffer()
	source.NewStream(ts.StreamTypeH264Video, "")

	source.PESHeader(0, 0, true, true, 1)
	source.Parse([]byte{0})
	source.PESHeader(10, 10, true, true, 1) // only 10 ticks after the first, below MinFrameDistance
	source.Parse([]byte{0})

	params := AlgorithmParams{MinFrameDistance: 1000}
	p := NewPtsFiddler(source, params, nil)

	first := p.NextFrame(0)
	second := p.NextFrame(0)

	if second.DTS != first.DTS+params.MinFrameDistance {
		t.Errorf("second DTS = %d, want %d (first + MinFrameDistance)", second.DTS, first.DTS+params.MinFrameDistance)
	}
}

func TestPtsFiddlerPassesThroughFramesAlreadyAhead(t *testing.T) {
	source := NewStreamBuffer()
	source.NewStream(ts.StreamTypeH264Video, "")
	source.PESHeader(5000, 5000, true, true, 1)
	source.Parse([]byte{0})

	params := AlgorithmParams{MinDelay: 100}
	callback := &recordingCallback{}
	p := NewPtsFiddler(source, params, callback)

	frame := p.NextFrame(0)
	if frame.DTS != 5000 {
		t.Errorf("DTS = %d, want unchanged 5000", frame.DTS)
	}
	if len(callback.stalls) != 0 {
		t.Errorf("expected no stall notification, got %v", callback.stalls)
	}
}

func TestPtsFiddlerReturnsNilWithoutSourceFrame(t *testing.T) {
	source := NewStreamBuffer()
	source.NewStream(ts.StreamTypeH264Video, "")
	p := NewPtsFiddler(source, AlgorithmParams{}, nil)

	if p.NextFrame(0) != nil {
		t.Fatal("expected nil when no frame is queued")
	}
}
