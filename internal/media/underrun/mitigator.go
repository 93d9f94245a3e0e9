package underrun

import (
	"github.com/activevideo/rfbtv-client/internal/logger"
	"github.com/activevideo/rfbtv-client/internal/media/ts"
)

// CorrectionMode selects the per-stream underrun-mitigation policy.
type CorrectionMode int

const (
	CorrectionOff CorrectionMode = iota
	CorrectionAdjustPTS
	CorrectionInsertFillerFrames
)

// clockSlowdownFraction is the same 511/512 real-time slowdown used by the
// RAMS interpreter's clock (see rams.clock), applied here independently:
// the time stamps involved are 90kHz ticks rather than RAMS milliseconds,
// and clock management is load-bearing enough in both components that it's
// worth keeping each one self-contained rather than sharing a dependency.
const clockSlowdownFraction = 512

// pcrOutputStepTicks bounds how large a single logical PCR step the mux is
// asked to advance by, so egress timing stays sane even after a large jump
// in the ingress-derived mitigator clock.
const pcrOutputStepTicks = 900 // 10ms in 90kHz ticks

// Mitigator is the dual-stream underrun mitigation pipeline: TsDemux feeds
// per-stream StreamBuffers, each drained by an UnderrunAlgorithm, and the
// resulting frames are re-packetized by TsMux against a locally managed
// egress clock. Unlike the original's pull-based TsMux (which calls back
// into the algorithms via IDataSource as it schedules each packet), this
// port's Mux is push-based, so generateOutput actively pulls a frame from
// each algorithm and writes it, looping until both return nil.
type Mitigator struct {
	StallCallback StallCallback

	demux *ts.Demux
	mux   *ts.Mux

	videoParams AlgorithmParams
	audioParams AlgorithmParams

	videoBuffer *StreamBuffer
	audioBuffer *StreamBuffer

	videoAlgorithm Algorithm
	audioAlgorithm Algorithm

	videoCorrectionMode CorrectionMode
	audioCorrectionMode CorrectionMode

	// Clock management, grounded on UnderrunMitigator::Impl's own comment
	// that this duplicates rams.clock's slowdown technique on purpose.
	isTimeSet                bool
	lastTimeMs               uint16
	clockSlowdownRemainder   uint16
	haveMitigatorClock       bool
	currentMitigatorClock    int64
	haveTimeOfLastSentOutput bool
	timeOfLastSentOutput     int64
	pcrResyncThresholdTicks  int64
	ingressPcrOffset         int64

	haveIngressStreamTime bool
	ingressStreamTime     int64
}

// NewMitigator returns a Mitigator wired with ts.NewDemux/ts.NewMux and
// default (filler-frame-inserting) correction modes, matching
// UnderrunMitigator::Impl::reinitialize's defaults.
func NewMitigator() *Mitigator {
	m := &Mitigator{
		demux:       ts.NewDemux(),
		mux:         ts.NewMux(),
		videoBuffer: NewStreamBuffer(),
		audioBuffer: NewStreamBuffer(),
	}
	m.demux.EventOut = m
	m.demux.VideoOut = m.videoBuffer
	m.demux.AudioOut = m.audioBuffer

	m.Reinitialize()
	return m
}

// SetPreferredLanguage forwards to the underlying demuxer's audio-track
// selection rule.
func (m *Mitigator) SetPreferredLanguage(language string) {
	m.demux.PreferredLanguage = language
}

// SetDecryptEngineFactories installs the CENC-TS key-delivery factories the
// demuxer consults when it encounters an ECM stream.
func (m *Mitigator) SetDecryptEngineFactories(factories []ts.DecryptEngineFactory) {
	m.demux.DecryptEngineFactories = factories
}

// SetPcrResyncThreshold sets the (90kHz-tick) lag beyond which an
// unsignaled ingress PCR jump is treated the same as a flagged
// discontinuity. Zero (the default) disables unconditional resync.
func (m *Mitigator) SetPcrResyncThreshold(ticks int64) {
	m.pcrResyncThresholdTicks = ticks
}

// Reinitialize resets all dynamic state and restores every parameter
// (including correction modes) to its default, matching
// UnderrunMitigator::Impl::reinitialize.
func (m *Mitigator) Reinitialize() {
	m.videoParams = DefaultVideoParams()
	m.audioParams = DefaultAudioParams()

	m.SetCorrectionMode(false, CorrectionInsertFillerFrames)
	m.SetCorrectionMode(true, CorrectionInsertFillerFrames)

	m.Reset()
}

// Reset clears all dynamic/clock state without touching parameters or
// correction modes, matching UnderrunMitigator::Impl::reset.
func (m *Mitigator) Reset() {
	m.demux.Reset()
	if m.videoAlgorithm != nil {
		m.videoAlgorithm.Clear()
	}
	if m.audioAlgorithm != nil {
		m.audioAlgorithm.Clear()
	}
	m.mux.Reset()

	m.isTimeSet = false
	m.lastTimeMs = 0
	m.clockSlowdownRemainder = 0
	m.haveMitigatorClock = false
	m.currentMitigatorClock = 0
	m.haveTimeOfLastSentOutput = false
	m.timeOfLastSentOutput = 0
	m.ingressPcrOffset = 0

	m.haveIngressStreamTime = false
	m.ingressStreamTime = 0
}

// SetCorrectionMode switches the algorithm driving one stream (audio if
// isAudio, video otherwise).
func (m *Mitigator) SetCorrectionMode(isAudio bool, mode CorrectionMode) {
	if isAudio {
		m.audioCorrectionMode = mode
		m.audioAlgorithm = newAlgorithm(mode, isAudio, m.audioBuffer, m.audioParams, m.audioCallback())
		return
	}
	m.videoCorrectionMode = mode
	m.videoAlgorithm = newAlgorithm(mode, isAudio, m.videoBuffer, m.videoParams, m.videoCallback())
}

// newAlgorithm picks the concrete Algorithm for one side of the pipeline.
// Which side (audio/video) decides between the Video/Audio filler-frame
// inserters directly; it can't be inferred from the StreamBuffer's codec,
// since that's still StreamTypeUnknown until the demuxer announces a PMT.
func newAlgorithm(mode CorrectionMode, isAudio bool, source *StreamBuffer, params AlgorithmParams, callback StallCallback) Algorithm {
	switch mode {
	case CorrectionAdjustPTS:
		return NewPtsFiddler(source, params, callback)
	case CorrectionInsertFillerFrames:
		if isAudio {
			return NewAudioFillerFrameInserter(source, params, callback)
		}
		return NewVideoFillerFrameInserter(source, params, callback)
	default:
		return NewPassthrough(source, params, callback)
	}
}

// videoCallback/audioCallback forward stall notifications from each side's
// algorithm to the mitigator's single StallCallback. The callback receives
// only the stall duration; which stream stalled appears in the log line.
type streamStallCallback struct {
	mitigator *Mitigator
	isAudio   bool
}

func (c streamStallCallback) StallDetected(stallDuration int64) {
	if c.mitigator.StallCallback != nil {
		c.mitigator.StallCallback.StallDetected(stallDuration)
	}
	logger.Logger().Info("underrun stall detected", "is_audio", c.isAudio, "duration_ticks", stallDuration)
}

func (m *Mitigator) videoCallback() StallCallback { return streamStallCallback{mitigator: m, isAudio: false} }
func (m *Mitigator) audioCallback() StallCallback { return streamStallCallback{mitigator: m, isAudio: true} }

// StalledDuration returns the larger of the two streams' accumulated stall
// duration, matching UnderrunMitigator::getStalledDuration.
func (m *Mitigator) StalledDuration() int64 {
	var a, v int64
	if m.audioAlgorithm != nil {
		a = m.audioAlgorithm.StalledDuration()
	}
	if m.videoAlgorithm != nil {
		v = m.videoAlgorithm.StalledDuration()
	}
	if a > v {
		return a
	}
	return v
}

// CurrentStreamTime reports the most recently observed ingress PCR, in
// 90kHz ticks, for status reporting.
func (m *Mitigator) CurrentStreamTime() (ticks int64, valid bool) {
	return m.ingressStreamTime, m.haveIngressStreamTime
}

// Put feeds newly received TS bytes into the demuxer.
func (m *Mitigator) Put(data []byte) {
	m.demux.Parse(data)
}

// PCRReceived implements ts.EventSink: synchronizes the mitigator's egress
// clock to a newly observed ingress PCR, handling both signaled
// discontinuities and unconditionally-resynced large unsignaled jumps.
func (m *Mitigator) PCRReceived(pcrBase int64, pcrExt int, discontinuity bool) {
	synchronize := true

	if m.isTimeSet && m.haveMitigatorClock {
		lead := pcrBase + m.ingressPcrOffset - m.currentMitigatorClock
		if lead < 0 {
			lag := -lead
			if m.pcrResyncThresholdTicks != 0 && lag >= m.pcrResyncThresholdTicks {
				logger.Logger().Info("underrun mitigator resyncing large pcr delta", "lag_ticks", lag)
				discontinuity = true
			}
			synchronize = false
		}

		if discontinuity {
			m.ingressPcrOffset -= lead

			logger.Logger().Info("underrun mitigator resyncing pcr discontinuity", "lead_ticks", lead)
			m.audioBuffer.AddPtsCorrectionDelta(-lead)
			m.videoBuffer.AddPtsCorrectionDelta(-lead)

			synchronize = false
		}
	}

	if synchronize {
		m.currentMitigatorClock = pcrBase + m.ingressPcrOffset
		m.haveMitigatorClock = true
	}

	m.ingressStreamTime = pcrBase
	m.haveIngressStreamTime = true
}

// TableVersionUpdate implements ts.EventSink; PAT/PMT version churn needs
// no mitigator-side reaction since StreamBuffer tracks stream identity via
// NewStream instead.
func (m *Mitigator) TableVersionUpdate(tableID, version int) {}

// SetCurrentTime advances the mitigator's real-time clock, applying the
// 511/512 slowdown to keep the egress PCR from running ahead of the
// ingress stream's own pace, and drives output generation whenever the
// mitigator clock has actually moved.
func (m *Mitigator) SetCurrentTime(currentRealTimeClockInMs uint16) {
	if !m.isTimeSet {
		m.lastTimeMs = currentRealTimeClockInMs
		m.isTimeSet = true
		return
	}

	delta := currentRealTimeClockInMs - m.lastTimeMs
	m.lastTimeMs = currentRealTimeClockInMs

	if !m.haveMitigatorClock {
		return
	}

	m.clockSlowdownRemainder += delta
	delta -= m.clockSlowdownRemainder / clockSlowdownFraction
	m.clockSlowdownRemainder %= clockSlowdownFraction

	if delta == 0 {
		return
	}

	m.currentMitigatorClock += int64(delta) * 90
	m.generateOutput()
}

// generateOutput steps the egress clock forward in bounded increments
// (emitting PAT/PMT/PCR housekeeping as it goes, via Mux's own periodicity
// checks) and then drains both algorithms at the final PCR.
func (m *Mitigator) generateOutput() {
	if m.haveTimeOfLastSentOutput {
		for m.currentMitigatorClock-m.timeOfLastSentOutput > pcrOutputStepTicks {
			m.timeOfLastSentOutput += pcrOutputStepTicks
			m.mux.MaybeWritePSI(m.timeOfLastSentOutput)
		}
	}

	sent := m.drainAlgorithms(m.currentMitigatorClock)
	if sent {
		m.timeOfLastSentOutput = m.currentMitigatorClock
		m.haveTimeOfLastSentOutput = true
	}
}

// drainAlgorithms pulls frames from both algorithms at pcr until neither has
// anything left to offer, writing each one to the mux as it comes.
func (m *Mitigator) drainAlgorithms(pcr int64) bool {
	m.mux.MaybeWritePSI(pcr)

	sentAny := false
	for {
		wrote := false

		if m.videoAlgorithm != nil {
			if frame := m.videoAlgorithm.NextFrame(pcr); frame != nil {
				hasDts := frame.DTS != frame.PTS
				m.mux.WriteVideoFrame(frame.Data, false, frame.PTS, frame.DTS, true, hasDts, pcr)
				wrote = true
			}
		}
		if m.audioAlgorithm != nil {
			if frame := m.audioAlgorithm.NextFrame(pcr); frame != nil {
				hasDts := frame.DTS != frame.PTS
				m.mux.WriteAudioFrame(frame.Data, false, frame.PTS, frame.DTS, true, hasDts, pcr)
				wrote = true
			}
		}

		if !wrote {
			break
		}
		sentAny = true
	}

	return sentAny
}
