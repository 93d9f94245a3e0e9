package underrun

// AlgorithmParams tunes an UnderrunAlgorithm's stall-absorption and
// latency-recovery behavior (spec §4.7's six knobs), all expressed in
// 90kHz ticks except RepeatedFrameCount.
type AlgorithmParams struct {
	// ClockGranularityAndJitter bounds the scheduling noise the recovery
	// check must tolerate before it dares speed up or drop a frame.
	ClockGranularityAndJitter int64
	// MinFrameDistance is the smallest egress gap PtsFiddler/recovery will
	// ever compress a frame to.
	MinFrameDistance int64
	// MinDelay is the minimum headroom egress timestamps must keep ahead
	// of the current PCR.
	MinDelay int64
	// DefaultFillerFrameDuration paces video filler-frame insertion (audio
	// filler frames carry their own codec-derived duration instead).
	DefaultFillerFrameDuration int64
	// Delay is a fixed extra egress delay added to every frame, giving the
	// algorithm headroom to absorb jitter before an underrun is visible.
	Delay int64
	// RepeatedFrameCount is how many times an audio filler inserter repeats
	// the last real frame before falling back to true silence.
	RepeatedFrameCount uint
}

// DefaultVideoParams mirrors UnderrunMitigator::Impl::reinitialize's video
// defaults (12ms jitter, 15ms min frame distance, 45ms filler cadence, 5ms
// fixed delay), expressed in 90kHz ticks.
func DefaultVideoParams() AlgorithmParams {
	return AlgorithmParams{
		ClockGranularityAndJitter:  millisecondsToTicks(12),
		MinFrameDistance:           millisecondsToTicks(15),
		MinDelay:                   0,
		DefaultFillerFrameDuration: millisecondsToTicks(45),
		Delay:                      millisecondsToTicks(5),
	}
}

// DefaultAudioParams mirrors the same reinitialize's audio defaults (12ms
// jitter, 5ms min frame distance, 15ms fixed delay, one repeated frame
// before falling back to true silence). DefaultFillerFrameDuration is
// unused for audio: the codec-specific filler creator supplies its own
// frame duration.
func DefaultAudioParams() AlgorithmParams {
	return AlgorithmParams{
		ClockGranularityAndJitter: millisecondsToTicks(12),
		MinFrameDistance:          millisecondsToTicks(5),
		MinDelay:                  0,
		Delay:                     millisecondsToTicks(15),
		RepeatedFrameCount:        1,
	}
}

func millisecondsToTicks(ms int64) int64 { return ms * 90 }
