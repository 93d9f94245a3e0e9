package underrun

import (
	"github.com/activevideo/rfbtv-client/internal/logger"
	"github.com/activevideo/rfbtv-client/internal/media/ts"
)

const (
	mpeg2SequenceHeaderCode = 0xB3
	mpeg2PictureStartCode   = 0x00
	mpeg2GroupStartCode     = 0xB8
)

type mpeg2Vlc struct {
	code uint32
	len  int
}

// mpeg2AddrIncTab is the macroblock_address_increment VLC table, indexed by
// (address_increment - 1) for values 1..33.
var mpeg2AddrIncTab = [33]mpeg2Vlc{
	{0x01, 1}, {0x03, 3}, {0x02, 3}, {0x03, 4}, {0x02, 4}, {0x03, 5}, {0x02, 5}, {0x07, 7},
	{0x06, 7}, {0x0b, 8}, {0x0a, 8}, {0x09, 8}, {0x08, 8}, {0x07, 8}, {0x06, 8}, {0x17, 10},
	{0x16, 10}, {0x15, 10}, {0x14, 10}, {0x13, 10}, {0x12, 10}, {0x23, 11}, {0x22, 11}, {0x21, 11},
	{0x20, 11}, {0x1f, 11}, {0x1e, 11}, {0x1d, 11}, {0x1c, 11}, {0x1b, 11}, {0x1a, 11}, {0x19, 11},
	{0x18, 11},
}

// mpeg2NextStartCode scans data for consecutive 00 00 01 XX start codes,
// yielding each (offset, length-until-next-start-code, code value) triple.
type mpeg2NextStartCode struct {
	data            []byte
	startCodeOffset int
	parseOffset     int
	haveStart       bool
}

func newMpeg2NextStartCode(data []byte) *mpeg2NextStartCode {
	return &mpeg2NextStartCode{data: data}
}

func (n *mpeg2NextStartCode) next() (offset, size int, value byte, ok bool) {
	size2 := len(n.data)
	if size2 < 4 {
		return 0, 0, 0, false
	}
	for i := n.parseOffset; i < size2-4; i++ {
		if n.data[i] == 0 && n.data[i+1] == 0 && n.data[i+2] == 1 {
			if !n.haveStart {
				n.startCodeOffset = i
				n.haveStart = true
			} else {
				offset = n.startCodeOffset
				size = i - n.startCodeOffset
				value = n.data[n.startCodeOffset+3]
				n.startCodeOffset = i
				n.parseOffset = i + 3
				return offset, size, value, true
			}
		}
	}
	n.parseOffset = size2 - 4
	return 0, 0, 0, false
}

// Mpeg2VideoFillerFrameCreator learns the sequence header's frame dimensions
// and regenerates skipped-macroblock P-picture filler frames on demand.
type Mpeg2VideoFillerFrameCreator struct {
	haveSequenceHeader bool
	havePictureHeader  bool

	nextTemporalReference int
	horizontalSize        int
	verticalSize          int
}

func NewMpeg2VideoFillerFrameCreator() *Mpeg2VideoFillerFrameCreator {
	return &Mpeg2VideoFillerFrameCreator{}
}

func (c *Mpeg2VideoFillerFrameCreator) StreamType() ts.StreamType { return ts.StreamTypeMPEG2Video }

func (c *Mpeg2VideoFillerFrameCreator) ProcessIncomingFrame(frame *Frame) {
	data := frame.Data
	scanner := newMpeg2NextStartCode(data)

	for {
		offset, size, value, ok := scanner.next()
		if !ok {
			break
		}
		switch value {
		case mpeg2SequenceHeaderCode:
			c.parseSequenceHeader(data[offset : offset+size])
			c.haveSequenceHeader = true
		case mpeg2PictureStartCode:
			if size < 6 {
				logger.Logger().Warn("mpeg2 filler invalid picture header")
				break
			}
			c.patchTemporalReference(data[offset : offset+size])
			c.havePictureHeader = true
		case mpeg2GroupStartCode:
			c.nextTemporalReference = 0
		}
	}
}

func (c *Mpeg2VideoFillerFrameCreator) parseSequenceHeader(data []byte) {
	b := newBitReader(data)
	b.skip(32)
	c.horizontalSize = int(b.read(12))
	c.verticalSize = int(b.read(12))
}

func (c *Mpeg2VideoFillerFrameCreator) patchTemporalReference(data []byte) {
	data[4] = byte((c.nextTemporalReference >> 2) & 0xFF)
	data[5] = (data[5] & 0x3F) | byte((c.nextTemporalReference<<6)&0xC0)
	c.nextTemporalReference = (c.nextTemporalReference + 1) & 0x3FF
}

func (c *Mpeg2VideoFillerFrameCreator) Create() *Frame {
	if !c.haveSequenceHeader || !c.havePictureHeader {
		return nil
	}

	w := newBitWriter(512 * 4)
	c.encodeFillerPictureHeader(w)

	for y := 0; y < c.verticalSize>>4; y++ {
		c.encodeFillerSlice(w, y, c.horizontalSize>>4)
	}

	data := make([]byte, len(w.bytes()))
	copy(data, w.bytes())
	c.patchTemporalReference(data)

	return &Frame{Data: data}
}

func (c *Mpeg2VideoFillerFrameCreator) encodeFillerPictureHeader(out *bitWriter) {
	const vbvDelay = 0xFFFF
	const intraDcPrecision = 10

	out.align()

	out.write(0x00000100, 32)
	out.write(0, 10) // temporal_reference, patched later
	out.write(2, 3)  // picture_coding_type: P
	out.write(vbvDelay, 16)
	out.write(0, 1) // full_pel_forward_vector (P picture)
	out.write(7, 3) // forward_f_code (P picture)
	out.write(0, 1) // extra_bit_picture
	out.align()

	out.write(0x000001B5, 32)
	out.write(8, 4) // extension_start_code_identifier: picture coding extension

	out.write(0x55, 8)
	out.write(0xFF, 8)

	switch intraDcPrecision {
	case 8:
		out.write(0, 2)
	case 9:
		out.write(1, 2)
	case 10:
		out.write(2, 2)
	}
	out.write(3, 2) // picture_structure: frame
	out.write(0, 1) // top_field_first
	out.write(1, 1) // frame_pred_frame_dct
	out.write(0, 1) // concealment_motion_vectors
	out.write(0, 1) // q_scale_type
	out.write(0, 1) // intra_vlc_format
	out.write(0, 1) // alternate_scan
	out.write(0, 1) // repeat_first_field
	out.write(1, 1) // chroma_420_type
	out.write(1, 1) // progressive_frame
	out.write(0, 1) // composite_display_flag

	out.align()
}

func (c *Mpeg2VideoFillerFrameCreator) encodeFillerSlice(out *bitWriter, mbY, mbW int) {
	out.write(0, 8)
	out.write(0, 8)
	out.write(1, 8)
	out.write(uint32(mbY+1), 8)

	out.write(2, 5) // quantiser_scale_code
	out.write(0, 1) // extra_bit_slice
	out.write(1, 1) // macroblock_stuffing absent / first bit
	out.write(1, 3) // macroblock_type: P, MC, not coded
	out.write(1, 1) // motion_horizontal_forward_code
	out.write(1, 1) // motion_vertical_forward_code

	if mbW > 1 {
		addressIncrement := mbW - 2
		for addressIncrement >= 33 {
			out.write(8, 11) // macroblock_escape
			addressIncrement -= 33
		}
		vlc := mpeg2AddrIncTab[addressIncrement]
		out.write(vlc.code, vlc.len)
		out.write(1, 3) // macroblock_type: P, MC, not coded
		out.write(1, 1) // motion_horizontal_forward_code
		out.write(1, 1) // motion_vertical_forward_code
	}
	out.align()
}
