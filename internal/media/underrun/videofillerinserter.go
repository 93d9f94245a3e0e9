package underrun

import (
	"github.com/activevideo/rfbtv-client/internal/logger"
	"github.com/activevideo/rfbtv-client/internal/media/ts"
)

// VideoFillerFrameInserter absorbs underruns by holding back egress PTS/DTS
// and recovers latency by speeding up playback (never dropping a frame,
// since video frames build on one another); when no source frame is
// available it synthesizes codec-valid empty pictures at a fixed cadence.
type VideoFillerFrameInserter struct {
	base

	lastDts      int64
	lastDtsValid bool
	delay        int64

	fillerFrameCreator FillerFrameCreator
}

func NewVideoFillerFrameInserter(source *StreamBuffer, params AlgorithmParams, callback StallCallback) *VideoFillerFrameInserter {
	v := &VideoFillerFrameInserter{base: newBase(source, params, callback)}
	v.getNext = v.nextFrame
	return v
}

func (v *VideoFillerFrameInserter) Clear() {
	v.base.Clear()
	v.lastDts = 0
	v.lastDtsValid = false
	v.delay = 0
}

func (v *VideoFillerFrameInserter) processNewFrame(frame *Frame) {
	if v.fillerFrameCreator == nil || v.fillerFrameCreator.StreamType() != v.StreamType() {
		v.fillerFrameCreator = nil
		switch v.StreamType() {
		case ts.StreamTypeMPEG2Video:
			v.fillerFrameCreator = NewMpeg2VideoFillerFrameCreator()
		case ts.StreamTypeH264Video:
			v.fillerFrameCreator = NewH264VideoFillerFrameCreator()
		}
	}

	if v.fillerFrameCreator != nil {
		v.fillerFrameCreator.ProcessIncomingFrame(frame)
	}
}

func (v *VideoFillerFrameInserter) generateFillerFrame() *Frame {
	if v.fillerFrameCreator == nil {
		return nil
	}
	return v.fillerFrameCreator.Create()
}

func (v *VideoFillerFrameInserter) nextFrame(pcr int64) *Frame {
	frame := v.checkSource()
	if frame != nil {
		dts := frame.DTS

		v.processNewFrame(frame)

		eDts := dts + v.delay + v.params.Delay
		if eDts < pcr+v.params.MinDelay {
			lag := pcr + v.params.MinDelay - eDts
			v.delay += lag
			logger.Logger().Info("regular video frame has underrun, adapting PTS", "lag_ticks", lag, "delay_ticks", v.delay)
		}

		if v.delay > 0 && v.lastDtsValid {
			duration := dts - v.lastDts
			if eDts >= pcr+v.params.MinDelay+v.params.ClockGranularityAndJitter+duration {
				correction := int64(0)
				if duration > v.params.MinFrameDistance {
					correction = duration - v.params.MinFrameDistance
				}
				if v.delay >= correction {
					v.delay -= correction
				} else {
					v.delay = 0
				}
				logger.Logger().Info("recovering video latency by speeding up playback", "delay_ticks", v.delay)
			}
		}

		v.lastDts = dts
		v.lastDtsValid = true

		frame.PTS += v.delay + v.params.Delay
		frame.DTS += v.delay + v.params.Delay

		if v.delay > 0 {
			v.notifyDelay(v.delay)
		}

		return frame
	}

	if v.lastDtsValid {
		nextPts := v.lastDts + v.params.DefaultFillerFrameDuration + v.delay + v.params.Delay
		if nextPts < pcr+v.params.MinDelay+v.params.ClockGranularityAndJitter {
			filler := v.generateFillerFrame()
			if filler != nil {
				v.delay += v.params.DefaultFillerFrameDuration
				filler.PTS = nextPts
				filler.DTS = nextPts
				logger.Logger().Info("inserting video filler frame", "duration_ticks", v.params.DefaultFillerFrameDuration, "delay_ticks", v.delay)
				return filler
			}
		}
	}

	return nil
}
