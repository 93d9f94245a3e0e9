package underrun

import (
	"github.com/activevideo/rfbtv-client/internal/logger"
	"github.com/activevideo/rfbtv-client/internal/media/ts"
)

const mpegAudioHeaderSize = 4

const (
	mpegAudioLayer1 = 3
	mpegAudioLayer2 = 2
)

var mpeg2SamplingFrequencyTable = [3]uint32{44100, 48000, 32000}

var mpeg2Layer1BitrateTable = [15]uint32{0, 32, 64, 96, 128, 160, 192, 224, 256, 288, 320, 352, 384, 416, 448}
var mpeg2Layer2BitrateTable = [15]uint32{0, 32, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 384}

// MpegAudioFillerFrameCreator handles both MPEG-1 and MPEG-2 Layer I/II
// audio (the stream type it reports is fixed at construction, matching
// whichever one selected it).
type MpegAudioFillerFrameCreator struct {
	streamType ts.StreamType
	silence    *Frame
}

// NewMpegAudioFillerFrameCreator returns a creator bound to streamType
// (StreamTypeMPEG1Audio or StreamTypeMPEG2Audio).
func NewMpegAudioFillerFrameCreator(streamType ts.StreamType) *MpegAudioFillerFrameCreator {
	return &MpegAudioFillerFrameCreator{streamType: streamType}
}

func (c *MpegAudioFillerFrameCreator) StreamType() ts.StreamType { return c.streamType }

func (c *MpegAudioFillerFrameCreator) ProcessIncomingFrame(frame *Frame) {
	data := frame.Data
	if len(data) < mpegAudioHeaderSize {
		return
	}

	b := newBitReader(data)
	syncword := b.read(12)
	id := b.read(1)
	layer := b.read(2)
	protectionBit := b.read(1)
	bitrateIndex := b.read(4)
	samplingFrequencyIndex := b.read(2)
	paddingBit := b.read(1)
	privateBit := b.read(1)
	mode := b.read(2)
	modeExtension := b.read(2)
	copyright := b.read(1)
	originalCopy := b.read(1)
	emphasis := b.read(2)

	if syncword != 0xFFF || layer == 0 || bitrateIndex == 15 {
		logger.Logger().Warn("mpeg audio filler unrecognized header", "sync", syncword, "layer", layer, "bitrate_index", bitrateIndex)
		return
	}
	if int(samplingFrequencyIndex) >= len(mpeg2SamplingFrequencyTable) {
		logger.Logger().Warn("mpeg audio filler illegal sampling frequency")
		return
	}
	if protectionBit != 1 {
		logger.Logger().Warn("mpeg audio filler CRC not supported")
		return
	}
	if bitrateIndex == 0 {
		logger.Logger().Warn("mpeg audio filler free bitrate not supported")
		return
	}
	if layer != mpegAudioLayer1 && layer != mpegAudioLayer2 {
		logger.Logger().Warn("mpeg audio filler unsupported layer", "layer", 4-layer)
		return
	}

	frameSize := uint32(384)
	bitrate := mpeg2Layer1BitrateTable[bitrateIndex]
	if layer != mpegAudioLayer1 {
		frameSize = 1152
		bitrate = mpeg2Layer2BitrateTable[bitrateIndex]
	}
	samplingFrequency := mpeg2SamplingFrequencyTable[samplingFrequencyIndex]

	frameLength := frameSize*bitrate*125/samplingFrequency + paddingBit

	if frameLength != uint32(len(data)) {
		logger.Logger().Warn("mpeg audio filler unexpected frame size", "got", len(data), "expected", frameLength)
		return
	}

	durationIn90kHzTicks := int64(90000) * int64(frameSize) / int64(samplingFrequency)
	frame.Duration = durationIn90kHzTicks

	if c.silence != nil && len(c.silence.Data) >= mpegAudioHeaderSize &&
		data[1] == c.silence.Data[1] &&
		(data[2]&0xFC) == (c.silence.Data[2]&0xFC) &&
		(data[3]&0xF0) == (c.silence.Data[3]&0xF0) {
		return
	}

	// We never pad filler frames; the padding bit byte is dropped.
	silenceData := make([]byte, frameLength-paddingBit)
	w := newBitWriter(len(silenceData))
	w.write(0xFFF, 12)
	w.write(id, 1)
	w.write(layer, 2)
	w.write(protectionBit, 1)
	w.write(bitrateIndex, 4)
	w.write(samplingFrequencyIndex, 2)
	w.write(0, 1) // padding_bit
	w.write(privateBit, 1)
	w.write(mode, 2)
	w.write(modeExtension, 2)
	w.write(copyright, 1)
	w.write(originalCopy, 1)
	w.write(emphasis, 2)
	copy(silenceData, w.bytes())
	// Bytes [4:] are already zero from make(); that's a fully silent
	// frame for both Layer I and Layer II (every allocation entry reads
	// as zero bits allocated, so no sample data follows).

	c.silence = &Frame{Data: silenceData, Duration: durationIn90kHzTicks}
}

func (c *MpegAudioFillerFrameCreator) Create() *Frame {
	if c.silence == nil {
		return nil
	}
	return c.silence.Clone()
}
