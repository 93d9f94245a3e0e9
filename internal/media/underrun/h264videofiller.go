package underrun

import (
	"github.com/activevideo/rfbtv-client/internal/logger"
	"github.com/activevideo/rfbtv-client/internal/media/ts"
)

const (
	h264NalUnitTypeSliceNonIdr = 1
	h264NalUnitTypeSliceIdr    = 5
	h264NalUnitTypeSPS         = 7
	h264NalUnitTypePPS         = 8
	h264NalUnitTypeAUD         = 9

	h264SliceTypeP = 0

	h264NalRefIdcHigh        = 3
	h264NalRefIdcDisposable  = 0
	h264MaxFillerFrameNalLen = 512
)

type h264Sps struct {
	valid bool

	profileIDC                 int
	seqParameterSetID          int
	log2MaxFrameNumMinus4      int
	picOrderCntType            int
	log2MaxPicOrderCntLsbM4    int
	deltaPicOrderAlwaysZero    int
	picWidthInMbsMinus1        int
	picHeightInMapUnitsMinus1  int
}

type h264Pps struct {
	valid bool

	picParameterSetID                    int
	seqParameterSetID                    int
	entropyCodingModeFlag                int
	picOrderPresentFlag                  int
	numRefIdxL0ActiveMinus1              int
	weightedPredFlag                     int
	picInitQpMinus26                     int
	deblockingFilterControlPresentFlag   int
}

type h264SliceHeader struct {
	valid bool

	frameNum          uint32
	picOrderCntLsb    uint32
	deltaPicOrderCnt0 int32
	deltaPicOrderCnt1 int32
}

// H264VideoFillerFrameCreator learns the last SPS/PPS/slice header it has
// seen and re-encodes an empty (all-skipped-macroblock) CAVLC P-slice as a
// filler frame. CABAC streams are not supported, matching the reference
// decoder's own limitation.
type H264VideoFillerFrameCreator struct {
	sps   h264Sps
	pps   h264Pps
	slice h264SliceHeader
}

func NewH264VideoFillerFrameCreator() *H264VideoFillerFrameCreator {
	return &H264VideoFillerFrameCreator{}
}

func (c *H264VideoFillerFrameCreator) StreamType() ts.StreamType { return ts.StreamTypeH264Video }

func (c *H264VideoFillerFrameCreator) ProcessIncomingFrame(frame *Frame) {
	for _, nal := range h264SplitAnnexB(frame.Data) {
		c.processNalUnit(nal)
	}
}

func (c *H264VideoFillerFrameCreator) processNalUnit(nal []byte) {
	startCodeLen, refIdc, unitType, headerLen := h264ParseAnnexBHeader(nal)
	if headerLen == 0 {
		logger.Logger().Warn("h264 filler invalid nal unit header")
		return
	}
	_ = startCodeLen
	_ = refIdc

	rbsp := h264Unescape(nal[headerLen:])
	if len(rbsp) == 0 {
		logger.Logger().Warn("h264 filler invalid nal unit with no data bytes")
		return
	}

	switch unitType {
	case h264NalUnitTypeSPS:
		c.parseSpsHeader(rbsp)
	case h264NalUnitTypePPS:
		c.parsePpsHeader(rbsp)
	case h264NalUnitTypeSliceNonIdr, h264NalUnitTypeSliceIdr:
		if c.sps.valid && c.pps.valid {
			c.parseSliceHeader(rbsp, unitType)
		}
	}
}

func (c *H264VideoFillerFrameCreator) parseSpsHeader(data []byte) {
	c.sps = h264Sps{}

	b := newBitReader(data)
	c.sps.profileIDC = int(b.read(8))
	b.skip(16) // constraint_set flags, reserved_zero_4bits, level_idc

	c.sps.seqParameterSetID = int(b.ue())

	switch c.sps.profileIDC {
	case 100, 110, 122, 144:
		if b.ue() != 1 { // chroma_format_idc
			logger.Logger().Warn("h264 filler unsupported chroma_format_idc")
			return
		}
		b.ue() // bit_depth_luma_minus8
		b.ue() // bit_depth_chroma_minus8
		b.skip(1)
		if b.read(1) != 0 { // seq_scaling_matrix_present_flag
			logger.Logger().Warn("h264 filler unsupported seq_scaling_matrix_present_flag")
			return
		}
	}

	c.sps.log2MaxFrameNumMinus4 = int(b.ue())
	c.sps.picOrderCntType = int(b.ue())
	if c.sps.picOrderCntType == 0 {
		c.sps.log2MaxPicOrderCntLsbM4 = int(b.ue())
	} else if c.sps.picOrderCntType == 1 {
		c.sps.deltaPicOrderAlwaysZero = int(b.read(1))
		b.se() // offset_for_non_ref_pic
		b.se() // offset_for_top_to_bottom_field
		numRefFramesInCycle := b.ue()
		for i := uint32(0); i < numRefFramesInCycle; i++ {
			b.se()
		}
	}

	b.ue()    // num_ref_frames
	b.skip(1) // gaps_in_frame_num_value_allowed_flag

	c.sps.picWidthInMbsMinus1 = int(b.ue())
	c.sps.picHeightInMapUnitsMinus1 = int(b.ue())

	c.sps.valid = true
	c.pps.valid = false
}

func (c *H264VideoFillerFrameCreator) parsePpsHeader(data []byte) {
	c.pps = h264Pps{}

	b := newBitReader(data)
	c.pps.picParameterSetID = int(b.ue())
	c.pps.seqParameterSetID = int(b.ue())
	c.pps.entropyCodingModeFlag = int(b.read(1))
	c.pps.picOrderPresentFlag = int(b.read(1))

	if b.ue() > 0 { // num_slice_groups_minus1
		logger.Logger().Warn("h264 filler slice groups not supported")
		return
	}

	c.pps.numRefIdxL0ActiveMinus1 = int(b.ue())
	b.ue() // num_ref_idx_l1_active_minus1
	c.pps.weightedPredFlag = int(b.read(1))
	b.skip(2) // weighted_bipred_idc
	c.pps.picInitQpMinus26 = int(b.se())
	b.se() // pic_init_qs_minus26
	b.se() // chroma_qp_index_offset
	c.pps.deblockingFilterControlPresentFlag = int(b.read(1))

	c.pps.valid = true
}

func (c *H264VideoFillerFrameCreator) parseSliceHeader(data []byte, nalUnitType int) {
	c.slice = h264SliceHeader{}

	b := newBitReader(data)
	b.ue() // first_mb_in_slice
	b.ue() // slice_type

	picParameterSetID := int(b.ue())
	if picParameterSetID != c.pps.picParameterSetID {
		logger.Logger().Warn("h264 filler slice refers to unavailable pps", "slice_pps_id", picParameterSetID, "pps_id", c.pps.picParameterSetID)
		return
	}
	if c.pps.seqParameterSetID != c.sps.seqParameterSetID {
		logger.Logger().Warn("h264 filler pps refers to unavailable sps")
		return
	}

	c.slice.frameNum = b.read(c.sps.log2MaxFrameNumMinus4 + 4)
	if nalUnitType == h264NalUnitTypeSliceIdr {
		b.ue() // idr_pic_id
	}
	if c.sps.picOrderCntType == 0 {
		c.slice.picOrderCntLsb = b.read(c.sps.log2MaxPicOrderCntLsbM4 + 4)
		if c.pps.picOrderPresentFlag != 0 {
			c.slice.deltaPicOrderCnt0 = b.se()
		}
	} else if c.sps.picOrderCntType == 1 && c.sps.deltaPicOrderAlwaysZero == 0 {
		c.slice.deltaPicOrderCnt0 = b.se()
		if c.pps.picOrderPresentFlag != 0 {
			c.slice.deltaPicOrderCnt1 = b.se()
		}
	}

	c.slice.valid = true
}

func (c *H264VideoFillerFrameCreator) Create() *Frame {
	if !c.sps.valid || !c.pps.valid {
		logger.Logger().Warn("h264 filler no sps/pps, can't generate video filler frame")
		return nil
	}
	return c.encodeEmptyPSlice()
}

func (c *H264VideoFillerFrameCreator) encodeEmptyPSlice() *Frame {
	if c.pps.entropyCodingModeFlag != 0 {
		logger.Logger().Warn("h264 filler CABAC not supported, can't generate video filler frame")
		return nil
	}
	if !c.slice.valid {
		logger.Logger().Warn("h264 filler no valid slice received yet, can't generate video filler frame")
		return nil
	}

	w := newBitWriter(h264MaxFillerFrameNalLen)

	w.ue(0)                      // first_mb_in_slice
	w.ue(h264SliceTypeP)         // slice_type
	w.ue(uint32(c.pps.picParameterSetID))
	w.write(c.slice.frameNum, c.sps.log2MaxFrameNumMinus4+4)

	if c.sps.picOrderCntType == 0 {
		w.write(c.slice.picOrderCntLsb, c.sps.log2MaxPicOrderCntLsbM4+4)
		if c.pps.picOrderPresentFlag != 0 {
			w.se(c.slice.deltaPicOrderCnt0)
		}
	} else if c.sps.picOrderCntType == 1 && c.sps.deltaPicOrderAlwaysZero == 0 {
		w.se(c.slice.deltaPicOrderCnt0)
		if c.pps.picOrderPresentFlag != 0 {
			w.se(c.slice.deltaPicOrderCnt1)
		}
	}

	const numRefIdxL0ActiveMinus1 = 0 // 1 ref frame
	w.write(1, 1)                     // num_ref_idx_active_override_flag
	w.ue(numRefIdxL0ActiveMinus1)
	w.write(0, 1) // ref_pic_list_reordering_flag_l0
	if c.pps.weightedPredFlag != 0 {
		w.ue(0) // luma_log2_weight_denom
		w.ue(0) // chroma_log2_weight_denom
		for i := 0; i <= numRefIdxL0ActiveMinus1; i++ {
			w.write(0, 1) // luma_weight_l0_flag
			w.write(0, 1) // chroma_weight_l0_flag
		}
	}

	const nalRefIdc = h264NalRefIdcHigh
	if nalRefIdc != 0 {
		w.write(0, 1) // adaptive_ref_pic_marking_mode_flag
	}
	w.se(0) // slice_qp_delta
	if c.pps.deblockingFilterControlPresentFlag != 0 {
		w.ue(1) // disable_deblocking_filter_idc
	}

	picHeightInMbs := c.sps.picHeightInMapUnitsMinus1 + 1
	picWidthInMbs := c.sps.picWidthInMbsMinus1 + 1
	picSizeInMbs := picWidthInMbs * picHeightInMbs

	w.ue(uint32(picSizeInMbs)) // mb_skip_run: skip every macroblock
	w.write(1, 1)              // rbsp_stop_one_bit
	w.align()

	rbsp := w.bytes()

	audNal := []byte{0x00, 0x00, 0x00, 0x01, (h264NalRefIdcDisposable << 5) | h264NalUnitTypeAUD, 0x30}
	sliceNal := h264EscapeAnnexB(nalRefIdc, h264NalUnitTypeSliceNonIdr, rbsp)

	data := make([]byte, 0, len(audNal)+len(sliceNal))
	data = append(data, audNal...)
	data = append(data, sliceNal...)

	return &Frame{Data: data}
}

// h264SplitAnnexB splits an Annex-B byte stream into NAL units, each
// beginning at its 00 00 01 (or 00 00 00 01) start code and running up to
// (but excluding) the next start code.
func h264SplitAnnexB(data []byte) [][]byte {
	var starts []int
	for i := 0; i+2 < len(data); i++ {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			starts = append(starts, i)
		}
	}
	if len(starts) == 0 {
		return nil
	}

	nals := make([][]byte, 0, len(starts))
	for i, s := range starts {
		end := len(data)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		nals = append(nals, data[s:end])
	}
	return nals
}

// h264ParseAnnexBHeader reads the start code length and the one-byte NAL
// header (forbidden_zero_bit, nal_ref_idc, nal_unit_type) at the front of
// nal, and returns headerLen = bytes consumed before the RBSP payload.
func h264ParseAnnexBHeader(nal []byte) (startCodeLen, refIdc, unitType, headerLen int) {
	if len(nal) < 4 {
		return 0, 0, 0, 0
	}
	startCodeLen = 3
	if nal[2] == 0 {
		startCodeLen = 4
	}
	if len(nal) <= startCodeLen {
		return 0, 0, 0, 0
	}
	b := nal[startCodeLen]
	refIdc = int((b >> 5) & 0x3)
	unitType = int(b & 0x1F)
	headerLen = startCodeLen + 1
	return startCodeLen, refIdc, unitType, headerLen
}

// h264Unescape strips emulation-prevention bytes (the 0x03 in any 0x00 0x00
// 0x03 sequence).
func h264Unescape(data []byte) []byte {
	out := make([]byte, 0, len(data))
	zeroRun := 0
	for _, b := range data {
		if zeroRun >= 2 && b == 0x03 {
			zeroRun = 0
			continue
		}
		out = append(out, b)
		if b == 0 {
			zeroRun++
		} else {
			zeroRun = 0
		}
	}
	return out
}

// h264EscapeAnnexB wraps rbsp in a 4-byte start code and one-byte NAL
// header, inserting emulation-prevention bytes wherever a raw 0x00 0x00
// 0x0{0,1,2,3} sequence would otherwise appear.
func h264EscapeAnnexB(refIdc, unitType int, rbsp []byte) []byte {
	out := make([]byte, 0, len(rbsp)+8)
	out = append(out, 0x00, 0x00, 0x00, 0x01)
	out = append(out, byte((refIdc<<5)|unitType))

	zeroRun := 0
	for _, b := range rbsp {
		if zeroRun >= 2 && b <= 0x03 {
			out = append(out, 0x03)
			zeroRun = 0
		}
		out = append(out, b)
		if b == 0 {
			zeroRun++
		} else {
			zeroRun = 0
		}
	}
	return out
}
