package underrun

import "github.com/activevideo/rfbtv-client/internal/logger"

// PtsFiddler delays the DTS (and PTS by the same amount) of each ingress
// frame just enough to keep it ahead of the egress PCR by at least
// MinDelay, and at least MinFrameDistance ahead of the previous frame's
// adjusted DTS, without ever synthesizing a frame (CorrectionMode
// ADJUST_PTS).
type PtsFiddler struct {
	base
	lastDts      int64
	lastDtsValid bool
}

// NewPtsFiddler returns an Algorithm that only ever nudges timestamps.
func NewPtsFiddler(source *StreamBuffer, params AlgorithmParams, callback StallCallback) *PtsFiddler {
	p := &PtsFiddler{base: newBase(source, params, callback)}
	p.getNext = p.nextFrame
	return p
}

// Clear resets the accumulated DTS tracking along with the base state.
func (p *PtsFiddler) Clear() {
	p.base.Clear()
	p.lastDtsValid = false
}

func (p *PtsFiddler) nextFrame(pcr int64) *Frame {
	frame := p.checkSource()
	if frame == nil {
		return nil
	}

	dts := frame.DTS
	dts += p.params.Delay
	original := dts

	if dts < pcr+p.params.MinDelay {
		dts = pcr + p.params.MinDelay
	}
	if p.lastDtsValid && dts < p.lastDts+p.params.MinFrameDistance {
		dts = p.lastDts + p.params.MinFrameDistance
	}

	if dts != original {
		diff := dts - original
		logger.Logger().Info("underrun pts fiddler adjusting dts", "from", original, "to", dts, "diff", diff, "pcr", pcr)
		p.notifyDelay(diff)
	}

	frame.PTS += dts - frame.DTS
	frame.DTS = dts
	p.lastDts = dts
	p.lastDtsValid = true

	return frame
}
