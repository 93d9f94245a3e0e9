package ts

import "github.com/activevideo/rfbtv-client/internal/logger"

const unsetPts = int64(-1)

// pesParser reassembles PES packets for one elementary-stream PID,
// decoding PTS/DTS (with wraparound-safe delta tracking against the last
// seen PTS) and forwarding the access unit's bytes to sink.
type pesParser struct {
	parserBase
	sink             DataSink
	streamID         pesStreamID
	lastPts          int64
	hasSeenPesHeader bool
}

func (p *pesParser) parse(data []byte, payloadUnitStart bool) {
	if payloadUnitStart {
		p.parseStart(data)
		return
	}
	if p.hasSeenPesHeader && p.sink != nil {
		p.sink.Parse(data)
	}
}

func (p *pesParser) parseStart(data []byte) {
	if len(data) < 7 {
		logger.Logger().Warn("ts demux PES data underflow")
		return
	}
	if data[0] != 0x00 || data[1] != 0x00 || data[2] != 0x01 {
		logger.Logger().Warn("ts demux PES start code missing")
		return
	}

	streamID := data[3]
	pesPacketLength := uint16(data[4])<<8 | uint16(data[5])
	if streamID&p.streamID.mask != p.streamID.value {
		logger.Logger().Warn("ts demux unrecognized PES stream id", "stream_id", streamID)
		return
	}

	data = data[6:]

	if !p.streamID.hasPesSyntax {
		if int(pesPacketLength) < len(data) {
			data = data[:pesPacketLength]
		}
		p.hasSeenPesHeader = true
		if p.sink != nil {
			p.sink.PESHeader(0, 0, false, false, uint32(pesPacketLength))
			p.sink.Parse(data)
		}
		return
	}

	if len(data) < 3 {
		logger.Logger().Warn("ts demux PES data underflow")
		return
	}

	pesFlags1 := data[0]
	pesFlags2 := data[1]
	headerSize := 3 + int(data[2])
	pesPayloadLength := uint32(0)
	if int(pesPacketLength) >= headerSize {
		pesPayloadLength = uint32(pesPacketLength) - uint32(headerSize)
	}

	if pesFlags1&0xC0 != 0x80 {
		logger.Logger().Warn("ts demux PES contents should start with bits 10")
		return
	}
	if len(data) < headerSize {
		logger.Logger().Warn("ts demux PES data underflow")
		return
	}

	header := data[3:headerSize]
	var pts, dts int64
	var hasPts, hasDts bool

	cursor := 0
	if pesFlags2&0x80 != 0 { // PTS present
		if cursor+5 > len(header) {
			logger.Logger().Warn("ts demux PES data underflow")
			return
		}
		h := header[cursor : cursor+5]
		pts90k := int64(h[0]&0x0E)<<29 | int64(h[1])<<22 | int64(h[2]&0xFE)<<14 | int64(h[3])<<7 | int64(h[4]>>1)
		cursor += 5

		if p.lastPts == unsetPts {
			p.lastPts = 0
		}
		pts90k = p.lastPts + signExtend33(pts90k-p.lastPts)
		p.lastPts = pts90k
		pts = pts90k
		hasPts = true

		if pesFlags2&0xC0 == 0xC0 { // PTS and DTS
			if cursor+5 > len(header) {
				logger.Logger().Warn("ts demux PES data underflow")
				return
			}
			h := header[cursor : cursor+5]
			dts90k := int64(h[0]&0x0E)<<29 | int64(h[1])<<22 | int64(h[2]&0xFE)<<14 | int64(h[3])<<7 | int64(h[4]>>1)
			cursor += 5
			dts90k = pts90k + signExtend33(dts90k-pts90k)
			dts = dts90k
			hasDts = true
		}
	}

	p.hasSeenPesHeader = true
	if p.sink != nil {
		p.sink.PESHeader(pts, dts, hasPts, hasDts, pesPayloadLength)
		p.sink.Parse(data[headerSize:])
	}
}

// signExtend33 sign-extends a 33-bit two's-complement delta (the width of a
// PTS/DTS field) held in the low 33 bits of v.
func signExtend33(v int64) int64 {
	return (v << 31) >> 31
}

func (p *pesParser) reset() {
	p.discontinuityPending = true
	p.lastPts = unsetPts
	p.hasSeenPesHeader = false
	if p.sink != nil {
		p.sink.Reset()
	}
}
