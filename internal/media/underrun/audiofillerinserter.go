package underrun

import (
	"github.com/activevideo/rfbtv-client/internal/logger"
	"github.com/activevideo/rfbtv-client/internal/media/ts"
)

// AudioFillerFrameInserter absorbs underruns by holding back egress PTS and
// recovers latency by dropping a whole frame once enough delay has built up
// (audio frames must stay back-to-back, so compression isn't an option);
// when no source frame is available it repeats the last real frame up to
// RepeatedFrameCount times before falling back to codec-synthesized
// silence.
type AudioFillerFrameInserter struct {
	base

	lastAudioFrame *Frame
	repeatCount    uint
	delay          int64

	fillerFrameCreator FillerFrameCreator
}

func NewAudioFillerFrameInserter(source *StreamBuffer, params AlgorithmParams, callback StallCallback) *AudioFillerFrameInserter {
	a := &AudioFillerFrameInserter{base: newBase(source, params, callback)}
	a.getNext = a.nextFrame
	return a
}

func (a *AudioFillerFrameInserter) Clear() {
	a.base.Clear()
	a.lastAudioFrame = nil
	a.repeatCount = 0
	a.delay = 0
}

func (a *AudioFillerFrameInserter) processNewFrame(frame *Frame) {
	a.repeatCount = 0

	if a.fillerFrameCreator == nil || a.fillerFrameCreator.StreamType() != a.StreamType() {
		a.fillerFrameCreator = nil

		switch a.StreamType() {
		case ts.StreamTypeAACAudio:
			a.fillerFrameCreator = NewAacFillerFrameCreator()
		case ts.StreamTypeAC3Audio:
			a.fillerFrameCreator = NewAc3FillerFrameCreator()
		case ts.StreamTypeMPEG1Audio, ts.StreamTypeMPEG2Audio:
			a.fillerFrameCreator = NewMpegAudioFillerFrameCreator(a.StreamType())
		}
	}

	if a.fillerFrameCreator != nil {
		a.fillerFrameCreator.ProcessIncomingFrame(frame)
	}
}

func (a *AudioFillerFrameInserter) generateFillerFrame() *Frame {
	a.repeatCount++
	if a.repeatCount > a.params.RepeatedFrameCount && a.fillerFrameCreator != nil {
		if frame := a.fillerFrameCreator.Create(); frame != nil {
			return frame
		}
	}
	return a.lastAudioFrame.Clone()
}

func (a *AudioFillerFrameInserter) nextFrame(pcr int64) *Frame {
	frame := a.checkSource()
	if frame != nil {
		a.processNewFrame(frame)

		a.lastAudioFrame = frame.Clone()

		frame.PTS += a.delay + a.params.Delay

		if frame.PTS < pcr+a.params.MinDelay {
			lag := pcr + a.params.MinDelay - frame.PTS
			a.delay += lag
			frame.PTS += lag
			logger.Logger().Info("regular audio frame has underrun, adapting PTS", "lag_ticks", lag, "delay_ticks", a.delay)
		}

		if a.delay > 0 && frame.Duration > 0 {
			if frame.PTS >= pcr+a.params.MinDelay+a.params.ClockGranularityAndJitter+frame.Duration {
				if a.delay >= frame.Duration {
					a.delay -= frame.Duration
					logger.Logger().Info("recovering audio latency by skipping a frame", "frame_duration_ticks", frame.Duration, "delay_ticks", a.delay)
					return a.nextFrame(pcr)
				}
			}
		}

		if a.delay > 0 {
			a.notifyDelay(a.delay)
		}

		return frame
	}

	if a.lastAudioFrame != nil && a.lastAudioFrame.Duration > 0 {
		nextPts := a.lastAudioFrame.PTS + a.lastAudioFrame.Duration + a.delay + a.params.Delay
		if nextPts < pcr+a.params.MinDelay+a.params.ClockGranularityAndJitter {
			filler := a.generateFillerFrame()
			if filler != nil {
				a.delay += filler.Duration
				filler.PTS = nextPts
				filler.DTS = nextPts
				logger.Logger().Info("inserting audio filler frame", "duration_ticks", filler.Duration, "delay_ticks", a.delay)
				return filler
			}
		}
	}

	return nil
}
