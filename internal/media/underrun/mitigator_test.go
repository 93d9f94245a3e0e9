package underrun

import "testing"

func TestMitigatorClockSlowdownAppliesOncePerFraction(t *testing.T) {
	m := NewMitigator()
	m.PCRReceived(0, 0, true) // establish a mitigator clock to synchronize against

	m.SetCurrentTime(0) // first call only seeds lastTimeMs

	// clockSlowdownFraction (512) ms of elapsed real time should be reported
	// as 511 ticks of mitigator-clock advance, not 512.
	before := m.currentMitigatorClock
	m.SetCurrentTime(512)
	got := m.currentMitigatorClock - before

	want := int64(511) * 90
	if got != want {
		t.Errorf("mitigator clock advanced by %d ticks over 512ms, want %d (511/512 slowdown)", got, want)
	}
}

func TestMitigatorClockDoesNotAdvanceWithoutPcr(t *testing.T) {
	m := NewMitigator()
	m.SetCurrentTime(0)
	m.SetCurrentTime(1000)

	if m.haveMitigatorClock {
		t.Error("mitigator clock should stay unset until a PCR has been observed")
	}
}

func TestMitigatorPcrDiscontinuityRebasesAndCorrectsBuffers(t *testing.T) {
	m := NewMitigator()
	m.PCRReceived(1000, 0, true)
	if m.currentMitigatorClock != 1000 {
		t.Fatalf("initial mitigator clock = %d, want 1000", m.currentMitigatorClock)
	}
	// pcrReceived only acts on lead/lag once a real-time clock has been
	// established, matching the original's m_isTimeSet guard.
	m.SetCurrentTime(0)

	// A later PCR that jumps far backward, flagged as a discontinuity, must
	// rebase the ingress offset and push a correction delta of -lead to
	// both stream buffers rather than resynchronizing the clock directly.
	m.videoBuffer.AddPtsCorrectionDelta(0)
	m.audioBuffer.AddPtsCorrectionDelta(0)

	beforeClock := m.currentMitigatorClock
	m.PCRReceived(50, 0, true) // pcrBase=50, ingressPcrOffset still 0 => lead = 50-1000 = -950

	if m.currentMitigatorClock != beforeClock {
		t.Errorf("discontinuity handling must not resynchronize the clock directly, got %d want unchanged %d", m.currentMitigatorClock, beforeClock)
	}
	wantOffset := int64(950) // ingressPcrOffset -= lead(-950) => +950
	if m.ingressPcrOffset != wantOffset {
		t.Errorf("ingressPcrOffset = %d, want %d", m.ingressPcrOffset, wantOffset)
	}

	wantDelta := int64(950) // correction pushed is -lead = 950
	if m.videoBuffer.ptsCorrectionDelta != wantDelta {
		t.Errorf("video buffer correction delta = %d, want %d", m.videoBuffer.ptsCorrectionDelta, wantDelta)
	}
	if m.audioBuffer.ptsCorrectionDelta != wantDelta {
		t.Errorf("audio buffer correction delta = %d, want %d", m.audioBuffer.ptsCorrectionDelta, wantDelta)
	}
}

func TestMitigatorPcrSynchronizesClockWithoutDiscontinuity(t *testing.T) {
	m := NewMitigator()
	m.PCRReceived(1000, 0, true)
	m.SetCurrentTime(0)
	m.PCRReceived(2000, 0, false) // forward, non-discontinuous: clock should track it directly

	if m.currentMitigatorClock != 2000 {
		t.Errorf("mitigator clock = %d, want 2000", m.currentMitigatorClock)
	}
	if m.videoBuffer.ptsCorrectionDelta != 0 || m.audioBuffer.ptsCorrectionDelta != 0 {
		t.Error("a clean forward PCR must not push any correction delta")
	}
}

func TestMitigatorResetClearsClockAndOffsetState(t *testing.T) {
	m := NewMitigator()
	m.PCRReceived(1000, 0, true)
	m.SetCurrentTime(0)
	m.SetCurrentTime(100)

	m.Reset()

	if m.haveMitigatorClock || m.isTimeSet || m.ingressPcrOffset != 0 {
		t.Error("Reset must clear mitigator clock state")
	}
}

func TestMitigatorDefaultCorrectionModeIsInsertFillerFrames(t *testing.T) {
	m := NewMitigator()
	if m.videoCorrectionMode != CorrectionInsertFillerFrames {
		t.Errorf("default video correction mode = %v, want CorrectionInsertFillerFrames", m.videoCorrectionMode)
	}
	if m.audioCorrectionMode != CorrectionInsertFillerFrames {
		t.Errorf("default audio correction mode = %v, want CorrectionInsertFillerFrames", m.audioCorrectionMode)
	}
	if _, ok := m.videoAlgorithm.(*VideoFillerFrameInserter); !ok {
		t.Errorf("video algorithm = %T, want *VideoFillerFrameInserter", m.videoAlgorithm)
	}
	if _, ok := m.audioAlgorithm.(*AudioFillerFrameInserter); !ok {
		t.Errorf("audio algorithm = %T, want *AudioFillerFrameInserter", m.audioAlgorithm)
	}
}

func TestMitigatorSetCorrectionModeSwitchesAlgorithm(t *testing.T) {
	m := NewMitigator()
	m.SetCorrectionMode(false, CorrectionAdjustPTS)
	if _, ok := m.videoAlgorithm.(*PtsFiddler); !ok {
		t.Errorf("video algorithm = %T, want *PtsFiddler after switching to CorrectionAdjustPTS", m.videoAlgorithm)
	}

	m.SetCorrectionMode(true, CorrectionOff)
	if _, ok := m.audioAlgorithm.(*Passthrough); !ok {
		t.Errorf("audio algorithm = %T, want *Passthrough after switching to CorrectionOff", m.audioAlgorithm)
	}
}
