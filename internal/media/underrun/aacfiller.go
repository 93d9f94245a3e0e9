package underrun

import (
	"github.com/activevideo/rfbtv-client/internal/logger"
	"github.com/activevideo/rfbtv-client/internal/media/ts"
)

const adtsHeaderSize = 7

var aacSamplingFrequencyTable = [12]uint32{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050, 16000, 12000, 11025, 8000,
}

// aacSilenceData[channel_configuration-1] is a complete sequence of AAC
// raw_data_block elements (SCE/CPE/LFE/TERM) coding digital silence,
// independent of sampling frequency. Index 0 is the payload byte count.
var aacSilenceData = [7][]byte{
	{4, 0x01, 0x18, 0x20, 0x07},
	{6, 0x21, 0x10, 0x04, 0x60, 0x8C, 0x1C},
	{10, 0x01, 0x18, 0x20, 0x01, 0x08, 0x80, 0x23, 0x04, 0x60, 0xE0},
	{13, 0x01, 0x18, 0x20, 0x01, 0x08, 0x80, 0x23, 0x04, 0x60, 0x03, 0x18, 0x20, 0x07},
	{15, 0x01, 0x18, 0x20, 0x01, 0x08, 0x80, 0x23, 0x04, 0x60, 0x23, 0x10, 0x04, 0x60, 0x8C, 0x1C},
	{19, 0x01, 0x18, 0x20, 0x01, 0x08, 0x80, 0x23, 0x04, 0x60, 0x23, 0x10, 0x04, 0x60, 0x8C, 0x0C, 0x23, 0x00, 0x00, 0xE0},
	// 7ch (channel_configuration 7, the "8 channel" mapping) has no silence template in the original.
	{24, 0x01, 0x18, 0x20, 0x01, 0x08, 0x80, 0x23, 0x04, 0x60, 0x23, 0x10, 0x04, 0x60, 0x8C, 0x04, 0xA2, 0x00, 0x8C, 0x11, 0x81, 0x84, 0x60, 0x00, 0x1C},
}

// AacFillerFrameCreator learns sampling frequency, profile and channel
// configuration from ADTS headers it sees go by and regenerates a matching
// ADTS-framed silence block whenever those parameters change.
type AacFillerFrameCreator struct {
	silence *Frame
}

// NewAacFillerFrameCreator returns an empty creator; Create returns nil
// until a valid AAC frame has been observed.
func NewAacFillerFrameCreator() *AacFillerFrameCreator {
	return &AacFillerFrameCreator{}
}

func (c *AacFillerFrameCreator) StreamType() ts.StreamType { return ts.StreamTypeAACAudio }

// ProcessIncomingFrame parses the ADTS header, sets frame.Duration, and
// regenerates the cached silence template if the sampling frequency,
// profile or channel configuration changed since the last call.
func (c *AacFillerFrameCreator) ProcessIncomingFrame(frame *Frame) {
	data := frame.Data
	if len(data) < adtsHeaderSize {
		return
	}

	b := newBitReader(data)
	syncword := b.read(12)
	id := b.read(1)
	layer := b.read(2)
	protectionAbsent := b.read(1)
	profile := b.read(2)
	samplingFrequencyIndex := b.read(4)
	privateBit := b.read(1)
	channelConfiguration := b.read(3)
	originalCopy := b.read(1)
	home := b.read(1)
	b.skip(26) // copyright bits(2), frame_length(13), adts_buffer_fullness(11)
	numRawDataBlocks := b.read(2) + 1

	if syncword != 0xFFF || layer != 0 {
		logger.Logger().Warn("aac filler unrecognized header", "sync", syncword, "layer", layer)
		return
	}
	if protectionAbsent != 1 {
		logger.Logger().Warn("aac filler CRC not supported")
		return
	}
	if int(samplingFrequencyIndex) >= len(aacSamplingFrequencyTable) {
		logger.Logger().Warn("aac filler unsupported sampling frequency")
		return
	}
	if channelConfiguration == 0 {
		logger.Logger().Warn("aac filler channel configuration 0 not supported")
		return
	}

	durationIn90kHzTicks := int64(90000) * 1024 * int64(numRawDataBlocks) / int64(aacSamplingFrequencyTable[samplingFrequencyIndex])
	frame.Duration = durationIn90kHzTicks

	if c.silence != nil && len(c.silence.Data) >= adtsHeaderSize &&
		data[1] == c.silence.Data[1] &&
		data[2] == c.silence.Data[2] &&
		(data[3]&0xF0) == (c.silence.Data[3]&0xF0) {
		return
	}

	byteCount := int(aacSilenceData[channelConfiguration-1][0])
	payload := aacSilenceData[channelConfiguration-1][1:]

	silenceData := make([]byte, adtsHeaderSize, adtsHeaderSize+byteCount)
	w := newBitWriter(adtsHeaderSize)
	w.write(0xFFF, 12)
	w.write(id, 1)
	w.write(layer, 2)
	w.write(protectionAbsent, 1)
	w.write(profile, 2)
	w.write(samplingFrequencyIndex, 4)
	w.write(privateBit, 1)
	w.write(channelConfiguration, 3)
	w.write(originalCopy, 1)
	w.write(home, 1)
	w.write(0, 1) // copyright_id_bit
	w.write(0, 1) // copyright_id_start
	w.write(uint32(byteCount+adtsHeaderSize), 13)
	w.write(0x7FF, 11) // adts_buffer_fullness
	w.write(0, 2)      // number_of_raw_data_blocks_in_frame (silence frame has one block)
	copy(silenceData, w.bytes())
	silenceData = append(silenceData, payload...)

	c.silence = &Frame{
		Data:     silenceData,
		Duration: durationIn90kHzTicks / int64(numRawDataBlocks),
	}
}

// Create returns a fresh copy of the cached silence template, or nil if no
// AAC frame has been parsed yet.
func (c *AacFillerFrameCreator) Create() *Frame {
	if c.silence == nil {
		return nil
	}
	return c.silence.Clone()
}
