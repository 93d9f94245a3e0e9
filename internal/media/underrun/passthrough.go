package underrun

// Passthrough hands ingress frames straight through with no timing
// adjustment at all (CorrectionMode OFF).
type Passthrough struct {
	base
}

// NewPassthrough returns an Algorithm that never absorbs underruns or
// inserts filler frames.
func NewPassthrough(source *StreamBuffer, params AlgorithmParams, callback StallCallback) *Passthrough {
	p := &Passthrough{base: newBase(source, params, callback)}
	p.getNext = p.nextFrame
	return p
}

func (p *Passthrough) nextFrame(pcr int64) *Frame {
	return p.checkSource()
}
