package ts

import "testing"

// fakeSink records every callback made by the demuxer so tests can assert on
// the sequence of reassembled PES packets.
type fakeSink struct {
	streamType StreamType
	language   string
	headers    []struct {
		pts, dts       int64
		hasPts, hasDts bool
		payloadLength  uint32
	}
	payloads [][]byte
	resets   int
}

func (s *fakeSink) NewStream(t StreamType, language string) {
	s.streamType = t
	s.language = language
}

func (s *fakeSink) PESHeader(pts, dts int64, hasPts, hasDts bool, payloadLength uint32) {
	s.headers = append(s.headers, struct {
		pts, dts       int64
		hasPts, hasDts bool
		payloadLength  uint32
	}{pts, dts, hasPts, hasDts, payloadLength})
}

func (s *fakeSink) Parse(data []byte) {
	cp := append([]byte(nil), data...)
	s.payloads = append(s.payloads, cp)
}

func (s *fakeSink) Reset() { s.resets++ }

type fakeEventSink struct {
	pcrCount   int
	lastPcr    int64
	tableSeen  map[int]int
}

func newFakeEventSink() *fakeEventSink {
	return &fakeEventSink{tableSeen: make(map[int]int)}
}

func (e *fakeEventSink) PCRReceived(pcrBase int64, pcrExt int, discontinuity bool) {
	e.pcrCount++
	e.lastPcr = pcrBase
}

func (e *fakeEventSink) TableVersionUpdate(tableID, version int) {
	e.tableSeen[tableID] = version
}

// tsPad pads a TS packet payload with stuffing bytes up to the full 188-byte
// packet size, the same trailing padding tablesSection gives PSI packets.
func tsPad(pkt []byte) []byte {
	out := append([]byte(nil), pkt...)
	for len(out) < tsPacketSize {
		out = append(out, 0xFF)
	}
	return out
}

func buildPatPacket(cc int, pmtPID int) []byte {
	section := []byte{patTableID, 0xB0, 0x00, 0x00, 0x01, 0xC1, 0x00, 0x00}
	section = append(section, 0x00, 0x01, 0xE0|byte((pmtPID>>8)&0x1F), byte(pmtPID&0xFF))
	section[1] |= byte(((len(section) - 3 + 4) >> 8) & 0x0F)
	section[2] = byte((len(section) - 3 + 4) & 0xFF)
	crc := crc32MPEG2(section)
	section = append(section, byte(crc>>24), byte(crc>>16), byte(crc>>8), byte(crc))

	pkt := []byte{tsSyncByte, 0x40, 0x00, 0x10 | byte(cc&0x0F), 0x00}
	pkt = append(pkt, section...)
	return tsPad(pkt)
}

func buildPmtPacket(cc int, pmtPID, pcrPID, videoPID, audioPID int) []byte {
	section := []byte{pmtTableID, 0xB0, 0x00, 0x00, 0x01, 0xC1, 0x00, 0x00}
	section = append(section, byte((pcrPID>>8)&0x1F), byte(pcrPID&0xFF), 0xF0, 0x00)
	section = append(section, PMTStreamTypeH264Video, 0xE0|byte((videoPID>>8)&0x1F), byte(videoPID&0xFF), 0xF0, 0x00)
	section = append(section, PMTStreamTypeAACAudio, 0xE0|byte((audioPID>>8)&0x1F), byte(audioPID&0xFF), 0xF0, 0x00)

	section[1] |= byte(((len(section) - 3 + 4) >> 8) & 0x0F)
	section[2] = byte((len(section) - 3 + 4) & 0xFF)
	crc := crc32MPEG2(section)
	section = append(section, byte(crc>>24), byte(crc>>16), byte(crc>>8), byte(crc))

	pkt := []byte{tsSyncByte, byte(0x40 | (pmtPID>>8)&0x1F), byte(pmtPID & 0xFF), 0x10 | byte(cc&0x0F), 0x00}
	pkt = append(pkt, section...)
	return tsPad(pkt)
}

func buildPesStartPacket(cc, pid int, streamID byte, payload []byte) []byte {
	pesHeader := []byte{0x00, 0x00, 0x01, streamID, 0x00, 0x00, 0x80, 0x00, 0x00}
	// Stuff through the adaptation field, as putTsPacketFromData does, so
	// the PES payload runs exactly to the end of the packet.
	adaptationFieldLength := tsPacketSize - 5 - len(pesHeader) - len(payload)
	pkt := []byte{tsSyncByte, byte(0x40 | (pid>>8)&0x1F), byte(pid & 0xFF), 0x30 | byte(cc&0x0F), byte(adaptationFieldLength), 0x00}
	for i := 1; i < adaptationFieldLength; i++ {
		pkt = append(pkt, 0xFF)
	}
	pkt = append(pkt, pesHeader...)
	pkt = append(pkt, payload...)
	return tsPad(pkt)
}

func TestDemuxParsesPatPmtAndSelectsStreams(t *testing.T) {
	d := NewDemux()
	d.Parse(buildPatPacket(0, 0x0100))
	d.Parse(buildPmtPacket(0, 0x0100, 0x0065, 0x0065, 0x0066))

	if !d.HasVideo() || d.videoPID != 0x0065 {
		t.Fatalf("expected video PID 0x65 selected, got %d", d.videoPID)
	}
	if !d.HasAudio() || d.audioPID != 0x0066 {
		t.Fatalf("expected audio PID 0x66 selected, got %d", d.audioPID)
	}
}

func TestDemuxReassemblesVideoPES(t *testing.T) {
	d := NewDemux()
	video := &fakeSink{}
	d.VideoOut = video
	d.Parse(buildPatPacket(0, 0x0100))
	d.Parse(buildPmtPacket(0, 0x0100, 0x0065, 0x0065, 0x0066))

	pkt := buildPesStartPacket(0, 0x0065, 0xE0, []byte("frame-bytes"))
	d.Parse(pkt)

	if video.streamType != StreamTypeH264Video {
		t.Fatalf("expected H264 stream type announced, got %v", video.streamType)
	}
	if len(video.payloads) != 1 || string(video.payloads[0]) != "frame-bytes" {
		t.Fatalf("expected reassembled payload 'frame-bytes', got %v", video.payloads)
	}
}

func TestDemuxFeedsPCREventsOnlyForPcrPID(t *testing.T) {
	d := NewDemux()
	events := newFakeEventSink()
	d.EventOut = events
	d.Parse(buildPatPacket(0, 0x0100))
	d.Parse(buildPmtPacket(0, 0x0100, 0x0065, 0x0065, 0x0066))

	pkt := []byte{tsSyncByte, 0x40, 0x65, 0x30, 0x07, 0x10,
		0x00, 0x00, 0x00, 0x00, 0x7E, 0x00}
	d.Parse(tsPad(pkt))

	if events.pcrCount != 1 {
		t.Fatalf("expected one PCR event, got %d", events.pcrCount)
	}
}

func TestDemuxHandlesSplitPacketAcrossParseCalls(t *testing.T) {
	d := NewDemux()
	d.Parse(buildPatPacket(0, 0x0100))
	full := buildPmtPacket(0, 0x0100, 0x0065, 0x0065, 0x0066)

	d.Parse(full[:50])
	d.Parse(full[50:])

	if !d.HasVideo() || !d.HasAudio() {
		t.Fatalf("expected PMT to be fully reassembled across two Parse calls")
	}
}

func TestDemuxResyncsAfterCorruptedSyncByte(t *testing.T) {
	d := NewDemux()
	d.Parse(buildPatPacket(0, 0x0100))
	pmt := buildPmtPacket(0, 0x0100, 0x0065, 0x0065, 0x0066)

	garbage := append([]byte{0x00, 0x01, 0x02}, pmt...)
	d.Parse(garbage)

	if !d.HasVideo() {
		t.Fatalf("expected demuxer to resynchronize and still parse PMT")
	}
}
