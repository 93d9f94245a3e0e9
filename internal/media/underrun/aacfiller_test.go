package underrun

import (
	"testing"

	"github.com/activevideo/rfbtv-client/internal/media/ts"
)

// buildAdtsFrame encodes a minimal ADTS header (protection absent, one raw
// data block) followed by payload, the same layout AacFillerFrameCreator
// parses.
func buildAdtsFrame(profile, samplingFrequencyIndex, channelConfiguration uint32, payload []byte) []byte {
	w := newBitWriter(adtsHeaderSize)
	w.write(0xFFF, 12)
	w.write(0, 1) // id
	w.write(0, 2) // layer
	w.write(1, 1) // protection_absent
	w.write(profile, 2)
	w.write(samplingFrequencyIndex, 4)
	w.write(0, 1) // private_bit
	w.write(channelConfiguration, 3)
	w.write(0, 1) // original_copy
	w.write(0, 1) // home
	w.write(0, 1) // copyright_id_bit
	w.write(0, 1) // copyright_id_start
	w.write(uint32(adtsHeaderSize+len(payload)), 13)
	w.write(0x7FF, 11)
	w.write(0, 2) // number_of_raw_data_blocks_in_frame
	out := append([]byte{}, w.bytes()...)
	return append(out, payload...)
}

// TestAacFillerFrameCreatorInsertsMatchingSilence ports the stream-stops
// scenario: three real stereo-at-48kHz frames go by, the stream then stops,
// and once the egress PCR has moved past the last frame's end the audio
// inserter repeats the last real frame RepeatedFrameCount times and then
// must synthesize a filler frame whose ADTS header reports
// the same sampling-frequency-index/channel-configuration, with a
// frame_length equal to the ADTS header plus the codec's silence template
// size for that channel configuration.
func TestAacFillerFrameCreatorInsertsMatchingSilence(t *testing.T) {
	const samplingFrequencyIndex = 3 // 48000 Hz
	const channelConfiguration = 2   // stereo
	const profile = 1                // AAC LC

	source := NewStreamBuffer()
	source.NewStream(ts.StreamTypeAACAudio, "")

	frameDuration := int64(90000) * 1024 / 48000 // 1920 ticks/frame

	for i := int64(0); i < 3; i++ {
		pts := i * frameDuration
		data := buildAdtsFrame(profile, samplingFrequencyIndex, channelConfiguration, []byte{0x01, 0x02, 0x03})
		source.PESHeader(pts, pts, true, true, uint32(len(data)))
		source.Parse(data)
	}

	params := DefaultAudioParams()
	inserter := NewAudioFillerFrameInserter(source, params, nil)

	var last *Frame
	for i := 0; i < 3; i++ {
		f := inserter.NextFrame(0)
		if f == nil {
			t.Fatalf("expected real frame %d, got nil", i)
		}
		last = f
	}

	if last.Duration != frameDuration {
		t.Fatalf("expected last real frame duration %d, got %d", frameDuration, last.Duration)
	}

	// Advance the PCR well past where the stream would have continued, so
	// the inserter must synthesize a filler frame instead of returning nil.
	pcr := last.PTS + frameDuration + params.MinDelay + params.ClockGranularityAndJitter + 1

	// The first RepeatedFrameCount fillers repeat the last real frame; the
	// one after them is the silence template.
	var filler *Frame
	for i := uint(0); i <= params.RepeatedFrameCount; i++ {
		filler = inserter.NextFrame(pcr)
		if filler == nil {
			t.Fatal("expected a synthesized filler frame once the stream stalled")
		}
	}

	if len(filler.Data) < adtsHeaderSize {
		t.Fatalf("filler frame too short to carry an ADTS header: %d bytes", len(filler.Data))
	}

	b := newBitReader(filler.Data)
	b.skip(12 + 1 + 2 + 1 + 2) // syncword, id, layer, protection_absent, profile
	gotSamplingFrequencyIndex := b.read(4)
	b.skip(1) // private_bit
	gotChannelConfiguration := b.read(3)
	b.skip(1 + 1 + 1 + 1) // original_copy, home, copyright_id_bit, copyright_id_start
	gotFrameLength := b.read(13)

	if gotSamplingFrequencyIndex != samplingFrequencyIndex {
		t.Errorf("filler sampling_frequency_index = %d, want %d", gotSamplingFrequencyIndex, samplingFrequencyIndex)
	}
	if gotChannelConfiguration != channelConfiguration {
		t.Errorf("filler channel_configuration = %d, want %d", gotChannelConfiguration, channelConfiguration)
	}

	wantFrameLength := adtsHeaderSize + int(aacSilenceData[channelConfiguration-1][0])
	if int(gotFrameLength) != wantFrameLength {
		t.Errorf("filler frame_length = %d, want %d", gotFrameLength, wantFrameLength)
	}
	if len(filler.Data) != wantFrameLength {
		t.Errorf("filler frame byte length = %d, want %d", len(filler.Data), wantFrameLength)
	}
}

func TestAacFillerFrameCreatorRejectsUnsupportedHeaders(t *testing.T) {
	c := NewAacFillerFrameCreator()

	// Channel configuration 0 is not addressable into aacSilenceData and
	// must be ignored rather than panicking.
	data := buildAdtsFrame(1, 3, 0, []byte{0x00})
	frame := &Frame{Data: data}
	c.ProcessIncomingFrame(frame)

	if c.Create() != nil {
		t.Fatal("expected no filler template after an unsupported header")
	}
}
