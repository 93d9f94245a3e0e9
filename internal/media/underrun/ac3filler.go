package underrun

import (
	"github.com/activevideo/rfbtv-client/internal/logger"
	"github.com/activevideo/rfbtv-client/internal/media/ts"
)

const minAc3FrameSize = 64
const ac3SamplesPerFrame = 6 * 256

var ac3SamplingFrequencyTable = [3]uint32{48000, 44100, 32000}

// ac3BitrateTable is nominal bitrate in kbps, indexed by frmsizecod>>1.
var ac3BitrateTable = [19]uint32{32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 384, 448, 512, 576, 640}

// ac3ChannelsTable is indexed by acmod.
var ac3ChannelsTable = [8]uint8{2, 1, 2, 3, 3, 4, 4, 5}

// ac3Crc16Table implements polynomial x^16 + x^15 + x^2 + 1 (0x8005),
// computed MSB-first matching AC-3's crc1/crc2 fields.
var ac3Crc16Table = [256]uint16{
	0x0000, 0x8005, 0x800F, 0x000A, 0x801B, 0x001E, 0x0014, 0x8011, 0x8033, 0x0036, 0x003C, 0x8039, 0x0028, 0x802D, 0x8027, 0x0022,
	0x8063, 0x0066, 0x006C, 0x8069, 0x0078, 0x807D, 0x8077, 0x0072, 0x0050, 0x8055, 0x805F, 0x005A, 0x804B, 0x004E, 0x0044, 0x8041,
	0x80C3, 0x00C6, 0x00CC, 0x80C9, 0x00D8, 0x80DD, 0x80D7, 0x00D2, 0x00F0, 0x80F5, 0x80FF, 0x00FA, 0x80EB, 0x00EE, 0x00E4, 0x80E1,
	0x00A0, 0x80A5, 0x80AF, 0x00AA, 0x80BB, 0x00BE, 0x00B4, 0x80B1, 0x8093, 0x0096, 0x009C, 0x8099, 0x0088, 0x808D, 0x8087, 0x0082,
	0x8183, 0x0186, 0x018C, 0x8189, 0x0198, 0x819D, 0x8197, 0x0192, 0x01B0, 0x81B5, 0x81BF, 0x01BA, 0x81AB, 0x01AE, 0x01A4, 0x81A1,
	0x01E0, 0x81E5, 0x81EF, 0x01EA, 0x81FB, 0x01FE, 0x01F4, 0x81F1, 0x81D3, 0x01D6, 0x01DC, 0x81D9, 0x01C8, 0x81CD, 0x81C7, 0x01C2,
	0x0140, 0x8145, 0x814F, 0x014A, 0x815B, 0x015E, 0x0154, 0x8151, 0x8173, 0x0176, 0x017C, 0x8179, 0x0168, 0x816D, 0x8167, 0x0162,
	0x8123, 0x0126, 0x012C, 0x8129, 0x0138, 0x813D, 0x8137, 0x0132, 0x0110, 0x8115, 0x811F, 0x011A, 0x810B, 0x010E, 0x0104, 0x8101,
	0x8303, 0x0306, 0x030C, 0x8309, 0x0318, 0x831D, 0x8317, 0x0312, 0x0330, 0x8335, 0x833F, 0x033A, 0x832B, 0x032E, 0x0324, 0x8321,
	0x0360, 0x8365, 0x836F, 0x036A, 0x837B, 0x037E, 0x0374, 0x8371, 0x8353, 0x0356, 0x035C, 0x8359, 0x0348, 0x834D, 0x8347, 0x0342,
	0x03C0, 0x83C5, 0x83CF, 0x03CA, 0x83DB, 0x03DE, 0x03D4, 0x83D1, 0x83F3, 0x03F6, 0x03FC, 0x83F9, 0x03E8, 0x83ED, 0x83E7, 0x03E2,
	0x83A3, 0x03A6, 0x03AC, 0x83A9, 0x03B8, 0x83BD, 0x83B7, 0x03B2, 0x0390, 0x8395, 0x839F, 0x039A, 0x838B, 0x038E, 0x0384, 0x8381,
	0x0280, 0x8285, 0x828F, 0x028A, 0x829B, 0x029E, 0x0294, 0x8291, 0x82B3, 0x02B6, 0x02BC, 0x82B9, 0x02A8, 0x82AD, 0x82A7, 0x02A2,
	0x82E3, 0x02E6, 0x02EC, 0x82E9, 0x02F8, 0x82FD, 0x82F7, 0x02F2, 0x02D0, 0x82D5, 0x82DF, 0x02DA, 0x82CB, 0x02CE, 0x02C4, 0x82C1,
	0x8243, 0x0246, 0x024C, 0x8249, 0x0258, 0x825D, 0x8257, 0x0252, 0x0270, 0x8275, 0x827F, 0x027A, 0x826B, 0x026E, 0x0264, 0x8261,
	0x0220, 0x8225, 0x822F, 0x022A, 0x823B, 0x023E, 0x0234, 0x8231, 0x8213, 0x0216, 0x021C, 0x8219, 0x0208, 0x820D, 0x8207, 0x0202,
}

// ac3ReverseCrc16Table is the same polynomial evaluated back-to-front, used
// to compute crc1 (which covers the bits that follow it in transmission
// order, i.e. precede it when walked in reverse).
var ac3ReverseCrc16Table = [256]uint16{
	0x0000, 0x7F81, 0xFF02, 0x8083, 0x7E01, 0x0180, 0x8103, 0xFE82, 0xFC02, 0x8383, 0x0300, 0x7C81, 0x8203, 0xFD82, 0x7D01, 0x0280,
	0x7801, 0x0780, 0x8703, 0xF882, 0x0600, 0x7981, 0xF902, 0x8683, 0x8403, 0xFB82, 0x7B01, 0x0480, 0xFA02, 0x8583, 0x0500, 0x7A81,
	0xF002, 0x8F83, 0x0F00, 0x7081, 0x8E03, 0xF182, 0x7101, 0x0E80, 0x0C00, 0x7381, 0xF302, 0x8C83, 0x7201, 0x0D80, 0x8D03, 0xF282,
	0x8803, 0xF782, 0x7701, 0x0880, 0xF602, 0x8983, 0x0900, 0x7681, 0x7401, 0x0B80, 0x8B03, 0xF482, 0x0A00, 0x7581, 0xF502, 0x8A83,
	0x6001, 0x1F80, 0x9F03, 0xE082, 0x1E00, 0x6181, 0xE102, 0x9E83, 0x9C03, 0xE382, 0x6301, 0x1C80, 0xE202, 0x9D83, 0x1D00, 0x6281,
	0x1800, 0x6781, 0xE702, 0x9883, 0x6601, 0x1980, 0x9903, 0xE682, 0xE402, 0x9B83, 0x1B00, 0x6481, 0x9A03, 0xE582, 0x6501, 0x1A80,
	0x9003, 0xEF82, 0x6F01, 0x1080, 0xEE02, 0x9183, 0x1100, 0x6E81, 0x6C01, 0x1380, 0x9303, 0xEC82, 0x1200, 0x6D81, 0xED02, 0x9283,
	0xE802, 0x9783, 0x1700, 0x6881, 0x9603, 0xE982, 0x6901, 0x1680, 0x1400, 0x6B81, 0xEB02, 0x9483, 0x6A01, 0x1580, 0x9503, 0xEA82,
	0xC002, 0xBF83, 0x3F00, 0x4081, 0xBE03, 0xC182, 0x4101, 0x3E80, 0x3C00, 0x4381, 0xC302, 0xBC83, 0x4201, 0x3D80, 0xBD03, 0xC282,
	0xB803, 0xC782, 0x4701, 0x3880, 0xC602, 0xB983, 0x3900, 0x4681, 0x4401, 0x3B80, 0xBB03, 0xC482, 0x3A00, 0x4581, 0xC502, 0xBA83,
	0x3000, 0x4F81, 0xCF02, 0xB083, 0x4E01, 0x3180, 0xB103, 0xCE82, 0xCC02, 0xB383, 0x3300, 0x4C81, 0xB203, 0xCD82, 0x4D01, 0x3280,
	0x4801, 0x3780, 0xB703, 0xC882, 0x3600, 0x4981, 0xC902, 0xB683, 0xB403, 0xCB82, 0x4B01, 0x3480, 0xCA02, 0xB583, 0x3500, 0x4A81,
	0xA003, 0xDF82, 0x5F01, 0x2080, 0xDE02, 0xA183, 0x2100, 0x5E81, 0x5C01, 0x2380, 0xA303, 0xDC82, 0x2200, 0x5D81, 0xDD02, 0xA283,
	0xD802, 0xA783, 0x2700, 0x5881, 0xA603, 0xD982, 0x5901, 0x2680, 0x2400, 0x5B81, 0xDB02, 0xA483, 0x5A01, 0x2580, 0xA503, 0xDA82,
	0x5001, 0x2F80, 0xAF03, 0xD082, 0x2E00, 0x5181, 0xD102, 0xAE83, 0xAC03, 0xD382, 0x5301, 0x2C80, 0xD202, 0xAD83, 0x2D00, 0x5281,
	0x2800, 0x5781, 0xD702, 0xA883, 0x5601, 0x2980, 0xA903, 0xD682, 0xD402, 0xAB83, 0x2B00, 0x5481, 0xAA03, 0xD582, 0x5501, 0x2A80,
}

func ac3Crc16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		tmp := b ^ byte(crc>>8)
		crc <<= 8
		crc ^= ac3Crc16Table[tmp]
	}
	return crc
}

func ac3ReverseCrc16(data []byte) uint16 {
	var crc uint16
	for i := len(data) - 1; i >= 0; i-- {
		crc = (crc >> 8) ^ ac3ReverseCrc16Table[crc&0xFF] ^ (uint16(data[i]) << 8)
	}
	return crc
}

// Ac3FillerFrameCreator regenerates a silent AC-3 frame matching the last
// observed sample rate, coding mode and LFE presence.
type Ac3FillerFrameCreator struct {
	silence *Frame

	sampleRateCode    uint32
	frameSizeCode     uint32
	audioCodingMode   uint32
	lfePresent        uint32
	haveStreamDetails bool
}

func NewAc3FillerFrameCreator() *Ac3FillerFrameCreator {
	return &Ac3FillerFrameCreator{}
}

func (c *Ac3FillerFrameCreator) StreamType() ts.StreamType { return ts.StreamTypeAC3Audio }

func (c *Ac3FillerFrameCreator) ProcessIncomingFrame(frame *Frame) {
	data := frame.Data
	if len(data) < minAc3FrameSize {
		logger.Logger().Warn("ac3 filler frame too small", "size", len(data))
		return
	}

	b := newBitReader(data)
	syncword := b.read(16)
	b.skip(16) // crc1
	fscod := b.read(2)
	frmsizecod := b.read(6)

	bsid := b.read(5)
	bsmod := b.read(3)
	acmod := b.read(3)
	var cmixlev uint32
	if (acmod&0x1) != 0 && acmod != 0x1 {
		cmixlev = b.read(2)
	}
	var surmixlev uint32
	if acmod&0x4 != 0 {
		surmixlev = b.read(2)
	}
	if acmod == 0x2 {
		b.skip(2) // dsurmod
	}
	lfeon := b.read(1)
	dialnorm := b.read(5)

	if syncword != 0x0B77 || int(fscod) >= len(ac3SamplingFrequencyTable) || int(frmsizecod>>1) >= len(ac3BitrateTable) || bsid > 8 {
		logger.Logger().Warn("ac3 filler unrecognized header", "sync", syncword, "fscod", fscod, "frmsizecod", frmsizecod)
		return
	}

	samplingFrequency := ac3SamplingFrequencyTable[fscod]
	frameSizeInWords := ac3BitrateTable[frmsizecod>>1] * (ac3SamplesPerFrame * 1000 / 16) / samplingFrequency
	if fscod == 1 && frmsizecod&1 != 0 {
		frameSizeInWords++
	}
	frameSize := 2 * frameSizeInWords

	if frameSize != uint32(len(data)) {
		logger.Logger().Warn("ac3 filler frame size mismatch", "got", len(data), "expected", frameSize)
		return
	}

	durationIn90kHzTicks := int64(90000) * ac3SamplesPerFrame / int64(samplingFrequency)
	frame.Duration = durationIn90kHzTicks

	if c.haveStreamDetails && c.silence != nil &&
		fscod == c.sampleRateCode && acmod == c.audioCodingMode && lfeon == c.lfePresent && (frmsizecod&^1) == (c.frameSizeCode&^1) {
		return
	}

	c.sampleRateCode = fscod
	c.audioCodingMode = acmod
	c.frameSizeCode = frmsizecod
	c.lfePresent = lfeon
	c.haveStreamDetails = true

	nfchans := int(ac3ChannelsTable[acmod])

	silenceData := make([]byte, frameSize)
	w := newBitWriter(len(silenceData))

	w.write(syncword, 16)
	w.write(0, 16) // crc1 filled in below
	w.write(fscod, 2)
	w.write(frmsizecod, 6)

	w.write(bsid, 5)
	w.write(bsmod, 3)
	w.write(acmod, 3)
	if (acmod&0x1) != 0 && acmod != 0x1 {
		w.write(cmixlev, 2)
	}
	if acmod&0x4 != 0 {
		w.write(surmixlev, 2)
	}
	if acmod == 0x2 {
		w.write(0, 2) // dsurmod
	}
	w.write(lfeon, 1)
	w.write(dialnorm, 5)
	w.write(0, 1) // compre
	w.write(0, 1) // langcode
	w.write(0, 1) // audprodie
	if acmod == 0 {
		w.write(dialnorm, 5) // dialnorm2
		w.write(0, 1)        // compr2e
		w.write(0, 1)        // langcod2e
		w.write(0, 1)        // audprodi2e
	}
	w.write(0, 1) // copyrightb
	w.write(1, 1) // origbs
	w.write(0, 1) // timecod1e
	w.write(0, 1) // timecod2e
	w.write(0, 1) // addbsie

	for i := 0; i < nfchans; i++ {
		w.write(0, 1) // blksw
	}
	for i := 0; i < nfchans; i++ {
		w.write(0, 1) // dithflag
	}
	n := 1
	if acmod == 0 {
		n = 2
	}
	for i := 0; i < n; i++ {
		w.write(0, 1) // dynrnge
	}
	w.write(1, 1) // cplstre
	w.write(0, 1) // cplinu
	if acmod == 2 {
		w.write(1, 1) // rematstr
		for i := 0; i < 4; i++ {
			w.write(0, 1) // rematflg[i]
		}
	}
	for i := 0; i < nfchans; i++ {
		w.write(1, 2) // chexpstr[ch]
	}
	if lfeon != 0 {
		w.write(1, 1) // lfeexpstr
	}
	for i := 0; i < nfchans; i++ {
		w.write(0, 6) // chbwcod[ch]
	}
	exps := [25]int{15, 124, 117, 62, 62, 62, 62, 62, 62, 62, 62, 62, 62, 62, 62, 62, 62, 62, 62, 62, 62, 62, 62, 62, 62}
	for i := 0; i < nfchans; i++ {
		groupSize := 3 << (1 - 1)
		nchgrps := (73 + groupSize - 4) / groupSize

		w.write(uint32(exps[0]), 4)
		for grp := 1; grp <= nchgrps; grp++ {
			w.write(uint32(exps[grp]), 7)
		}
		w.write(0, 2) // gainrng[ch]
	}
	if lfeon != 0 {
		w.write(uint32(exps[0]), 4)
		for grp := 1; grp <= 2; grp++ {
			w.write(uint32(exps[grp]), 7)
		}
	}
	w.write(1, 1) // baie
	w.write(0, 2) // sdcycod
	w.write(0, 2) // fdcycod
	w.write(0, 2) // sgaincod
	w.write(0, 2) // dbpbcod
	w.write(0, 3) // floorcod
	w.write(1, 1) // snroffste
	w.write(0, 6) // csnroffst
	for i := 0; i < nfchans; i++ {
		w.write(0, 4) // fsnroffst[ch]
		w.write(0, 3) // fgaincod[ch]
	}
	if lfeon != 0 {
		w.write(0, 4) // lfefsnroffst
		w.write(0, 3) // lfefgaincod
	}
	w.write(0, 1) // deltbaie
	w.write(0, 1) // skiple

	copy(silenceData, w.bytes())

	framesize58 := ((frameSize >> 2) + (frameSize >> 4)) << 1
	crc1 := ac3ReverseCrc16(silenceData[2 : 2+framesize58-2])
	silenceData[2] = byte(crc1 >> 8)
	silenceData[3] = byte(crc1)

	silenceData[len(silenceData)-3] &= 0xFC // clear auxdatae and crcrsv

	crc2 := ac3Crc16(silenceData[2 : 2+frameSize-4])
	silenceData[len(silenceData)-2] = byte(crc2 >> 8)
	silenceData[len(silenceData)-1] = byte(crc2)

	c.silence = &Frame{Data: silenceData, Duration: durationIn90kHzTicks}
}

func (c *Ac3FillerFrameCreator) Create() *Frame {
	if c.silence == nil {
		return nil
	}
	return c.silence.Clone()
}
