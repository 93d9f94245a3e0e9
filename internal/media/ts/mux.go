package ts

// Default PIDs and timing, mirroring the original's hard-coded constants.
const (
	defaultPmtPID         = 64
	defaultVideoPID       = 65
	defaultAudioPID       = 66
	defaultPcrPID         = 67
	defaultTransportID    = 512
	defaultProgramNumber  = 1
	defaultPSIPeriodMs    = 400
	defaultPCRPeriodMs    = 80
)

// PacketSink receives one synthesized 188-byte TS packet at a time.
type PacketSink interface {
	Put(packet []byte)
}

// streamMuxInfo is one elementary/PSI stream's PID and running state inside
// the muxer (analogous to the original's nested StreamInfo).
type streamMuxInfo struct {
	pid                      int
	cc                       int
	streamType               uint8
	streamID                 uint8
	hasPesSyntax             bool
	tableVersion             int
	tableCRC                 uint32
	currentScramblingControl int
	staticDescriptors        []byte
}

func newStreamMuxInfo(pid int) streamMuxInfo {
	return streamMuxInfo{pid: pid, hasPesSyntax: true}
}

func (s *streamMuxInfo) enabled() bool { return s.pid != invalidPID }

func (s *streamMuxInfo) setStreamID(id pesStreamID) {
	s.streamID = id.value
	s.hasPesSyntax = id.hasPesSyntax
}

// Mux re-packages per-stream frames into a synthesized TS: PAT/PMT emitted
// periodically, PCR carried on the video (or a dedicated) PID, and CENC-TS
// ECMs emitted ahead of each newly scrambled frame (spec §4.7's TsMux).
type Mux struct {
	Output PacketSink

	TransportStreamID int
	ProgramNumber     int
	PSIPeriodMs       int64
	PCRPeriodMs       int64

	pcrOfLastSentPsi  int64
	havePcrOfLastPsi  bool
	pcrOfLastSentPcr  int64
	havePcrOfLastPcr  bool
	pcrDiscontinuity  bool

	patInfo    streamMuxInfo
	pmtInfo    streamMuxInfo
	pcrInfo    streamMuxInfo
	videoInfo  streamMuxInfo
	audioInfo  streamMuxInfo
	videoEcm   streamMuxInfo
	audioEcm   streamMuxInfo

	packetsSent uint
}

// NewMux returns a Mux configured with the original's default PID layout.
func NewMux() *Mux {
	m := &Mux{
		TransportStreamID: defaultTransportID,
		ProgramNumber:     defaultProgramNumber,
		PSIPeriodMs:       defaultPSIPeriodMs,
		PCRPeriodMs:       defaultPCRPeriodMs,
		pcrDiscontinuity:  true,
		patInfo:           newStreamMuxInfo(patPID),
		pmtInfo:           newStreamMuxInfo(defaultPmtPID),
		pcrInfo:           newStreamMuxInfo(defaultPcrPID),
		videoInfo:         newStreamMuxInfo(defaultVideoPID),
		audioInfo:         newStreamMuxInfo(defaultAudioPID),
		videoEcm:          newStreamMuxInfo(invalidPID),
		audioEcm:          newStreamMuxInfo(invalidPID),
	}
	m.videoInfo.setStreamID(pesVideoStreamID)
	m.audioInfo.setStreamID(pesAudioStreamID)
	return m
}

// Reset clears all running PSI/PES state (continuity counters, table
// versions, PCR timing), as if the muxer had just been constructed.
func (m *Mux) Reset() {
	for _, info := range []*streamMuxInfo{&m.patInfo, &m.pmtInfo, &m.pcrInfo, &m.videoInfo, &m.audioInfo, &m.videoEcm, &m.audioEcm} {
		info.cc = 0
		info.tableVersion = 0
		info.tableCRC = 0
		info.currentScramblingControl = 0
	}
	m.havePcrOfLastPsi = false
	m.havePcrOfLastPcr = false
	m.pcrDiscontinuity = true
	m.packetsSent = 0
}

// SetVideoPID / SetAudioPID configure the elementary-stream PIDs.
func (m *Mux) SetVideoPID(pid int) { m.videoInfo.pid = pid }
func (m *Mux) SetAudioPID(pid int) { m.audioInfo.pid = pid }
func (m *Mux) SetPcrPID(pid int)   { m.pcrInfo.pid = pid }

// SetVideoStreamType / SetAudioStreamType set the PMT stream_type byte used
// when the next PMT is synthesized.
func (m *Mux) SetVideoStreamType(t uint8) { m.videoInfo.streamType = t }
func (m *Mux) SetAudioStreamType(t uint8) { m.audioInfo.streamType = t }

// EnableVideoEcm / EnableAudioEcm install a CENC-TS ECM PID to be emitted
// ahead of each newly scrambled frame of the corresponding stream.
func (m *Mux) EnableVideoEcm(pid int) {
	m.videoEcm.pid = pid
	m.videoEcm.setStreamID(pesECMStreamID)
}

func (m *Mux) EnableAudioEcm(pid int) {
	m.audioEcm.pid = pid
	m.audioEcm.setStreamID(pesECMStreamID)
}

func (m *Mux) isVideoEnabled() bool { return m.videoInfo.enabled() }
func (m *Mux) isAudioEnabled() bool { return m.audioInfo.enabled() }

// MaybeWritePSI emits a fresh PAT+PMT if the PSI period has elapsed since
// the last one, given the current egress PCR (90kHz ticks).
func (m *Mux) MaybeWritePSI(currentPcr int64) {
	periodTicks := m.PSIPeriodMs * 90
	if m.havePcrOfLastPsi && currentPcr < m.pcrOfLastSentPsi+periodTicks {
		return
	}
	m.pcrOfLastSentPsi = currentPcr
	m.havePcrOfLastPsi = true
	m.writePat()
	m.writePmt()
}

// checkAndGetPcr returns (pcr, true) if info is the PCR-carrying stream and
// the PCR period has elapsed (or this is the first PCR ever sent).
func (m *Mux) checkAndGetPcr(info *streamMuxInfo, pcr int64) (int64, bool) {
	if info.pid != m.pcrInfo.pid {
		return 0, false
	}
	periodTicks := m.PCRPeriodMs * 90
	if !m.havePcrOfLastPcr || pcr >= m.pcrOfLastSentPcr+periodTicks {
		return pcr, true
	}
	return 0, false
}

// WriteVideoFrame and WriteAudioFrame packetize one access unit of the
// respective elementary stream; WriteVideoEcm and WriteAudioEcm emit a
// CENC-TS ECM ahead of the respective stream's next scrambled frame. These
// are the only entry points callers outside this package need, since
// streamMuxInfo itself stays unexported.
func (m *Mux) WriteVideoFrame(data []byte, isEncrypted bool, pts, dts int64, hasPts, hasDts bool, currentPcr int64) int {
	return m.WriteFrame(&m.videoInfo, data, isEncrypted, pts, dts, hasPts, hasDts, currentPcr)
}

func (m *Mux) WriteAudioFrame(data []byte, isEncrypted bool, pts, dts int64, hasPts, hasDts bool, currentPcr int64) int {
	return m.WriteFrame(&m.audioInfo, data, isEncrypted, pts, dts, hasPts, hasDts, currentPcr)
}

func (m *Mux) WriteVideoEcm(keyID, iv [16]byte, scramblingControl int) {
	m.WriteEcm(&m.videoEcm, keyID, iv, scramblingControl)
}

func (m *Mux) WriteAudioEcm(keyID, iv [16]byte, scramblingControl int) {
	m.WriteEcm(&m.audioEcm, keyID, iv, scramblingControl)
}

// WriteFrame packetizes one access unit (already PES-payload bytes) of a
// stream into one or more TS packets, attaching a PES header (with PTS/DTS)
// to the first packet and a PCR adaptation field whenever this PID is due
// one. It returns the number of TS packets emitted.
func (m *Mux) WriteFrame(info *streamMuxInfo, data []byte, isEncrypted bool, pts, dts int64, hasPts, hasDts bool, currentPcr int64) int {
	sendPesHeader := true
	sent := 0
	for {
		pcr, havePcr := m.checkAndGetPcr(info, currentPcr)
		n := m.putTsPacketFromData(data, isEncrypted, info, sendPesHeader, pts, dts, hasPts, hasDts, pcr, havePcr)
		sent++
		data = data[n:]
		sendPesHeader = false
		hasPts, hasDts = false, false
		if len(data) == 0 {
			break
		}
	}
	return sent
}

// WriteEcm synthesizes and emits a single-access-unit CENC-TS ECM packet
// carrying keyID/iv for the given scrambling-control state, following the
// original's simplification of one state transition per PES packet.
func (m *Mux) WriteEcm(ecmInfo *streamMuxInfo, keyID, iv [16]byte, scramblingControl int) {
	w := newBitWriter()
	w.write(1, 2)  // num_states (one AU per ECM)
	w.write(0, 1)  // next_key_id_flag
	w.write(0x7, 3) // reserved
	w.write(16, 8) // iv_size
	w.writeBytes(keyID[:])

	w.write(uint32(scramblingControl), 2)
	w.write(1, 6)  // num_au
	w.write(0, 1)  // key_id_flag (reuse default_key_id)
	w.write(0x7, 3) // reserved
	w.write(0, 4)  // au_byte_offset_size
	w.writeBytes(iv[:])

	m.putTsPacketFromData(w.bytes(), false, ecmInfo, true, 0, 0, false, false, 0, false)
}

// putTsPacketFromData emits exactly one TS packet carrying as much of data
// as fits (after any PES header and PCR adaptation field), returning the
// number of payload bytes consumed.
func (m *Mux) putTsPacketFromData(data []byte, isEncrypted bool, info *streamMuxInfo, sendPesHeader bool, pts, dts int64, hasPts, hasDts bool, pcr int64, havePcr bool) uint32 {
	if dts == pts || !hasPts {
		hasDts = false
	}

	pesHeaderDataLength := 0
	if hasPts {
		pesHeaderDataLength += 5
	}
	if hasDts {
		pesHeaderDataLength += 5
	}

	potentialPayloadSize := len(data)
	if sendPesHeader {
		potentialPayloadSize += 9 + pesHeaderDataLength
	}

	payloadPresent := potentialPayloadSize > 0 || sendPesHeader
	adaptationFieldPresent := havePcr || potentialPayloadSize < tsMaxPayload
	scramblingControl := 0
	if isEncrypted {
		scramblingControl = info.currentScramblingControl + 1
	}

	pkt := make([]byte, 0, tsPacketSize)
	pkt = append(pkt, tsSyncByte)
	pusi := byte(0)
	if sendPesHeader {
		pusi = 0x40
	}
	pkt = append(pkt, pusi|byte((info.pid>>8)&0x1F), byte(info.pid&0xFF))

	payloadFlag := byte(0)
	if payloadPresent {
		payloadFlag = 0x10
	}
	adaptationFlag := byte(0)
	if adaptationFieldPresent {
		adaptationFlag = 0x20
	}
	pkt = append(pkt, byte((scramblingControl&0x03)<<6)|payloadFlag|adaptationFlag|byte(info.cc&0x0F))
	if payloadPresent {
		info.cc++
	}

	if adaptationFieldPresent {
		adaptationFieldLength := 0
		if havePcr {
			adaptationFieldLength = 7
		}
		stuffing := 183 - adaptationFieldLength - potentialPayloadSize
		if stuffing < 0 {
			stuffing = 0
		}
		adaptationFieldLength += stuffing

		pkt = append(pkt, byte(adaptationFieldLength))
		if adaptationFieldLength > 0 {
			flags := byte(0)
			if havePcr {
				flags |= 0x10
				if m.pcrDiscontinuity {
					flags |= 0x80
				}
			}
			pkt = append(pkt, flags)
			if havePcr {
				m.pcrDiscontinuity = false
				pkt = append(pkt,
					byte((pcr>>(33-8))&0xFF),
					byte((pcr>>(33-16))&0xFF),
					byte((pcr>>(33-24))&0xFF),
					byte((pcr>>(33-32))&0xFF),
					0x7E|byte(boolToBit(pcr&0x1 != 0)<<7),
					0x00,
				)
				m.pcrOfLastSentPcr = pcr
				m.havePcrOfLastPcr = true
			}
			if adaptationFieldLength == stuffing {
				stuffing--
			}
			for i := 0; i < stuffing; i++ {
				pkt = append(pkt, 0xFF)
			}
		}
	}

	if sendPesHeader {
		pesPacketLength := len(data) + 3 + pesHeaderDataLength
		if info.streamID&pesVideoStreamID.mask == pesVideoStreamID.value || pesPacketLength >= 0x10000 {
			pesPacketLength = 0
		}
		pkt = append(pkt, 0x00, 0x00, 0x01, info.streamID, byte(pesPacketLength>>8), byte(pesPacketLength&0xFF))

		if info.hasPesSyntax {
			ptsFlag, dtsFlag := byte(0), byte(0)
			if hasPts {
				ptsFlag = 0x80
			}
			if hasDts {
				dtsFlag = 0x40
			}
			pkt = append(pkt, 0x80, ptsFlag|dtsFlag, byte(pesHeaderDataLength))
			if hasPts {
				marker := byte(0x21)
				if hasDts {
					marker = 0x31
				}
				pkt = append(pkt,
					marker|byte(((pts>>(33-3))&0x7)<<1),
					byte((pts>>(33-11))&0xFF),
					0x01|byte(((pts>>(33-18))&0x7F)<<1),
					byte((pts>>(33-26))&0xFF),
					0x01|byte((pts&0x7F)<<1),
				)
				if hasDts {
					pkt = append(pkt,
						0x11|byte(((dts>>(33-3))&0x7)<<1),
						byte((dts>>(33-11))&0xFF),
						0x01|byte(((dts>>(33-18))&0x7F)<<1),
						byte((dts>>(33-26))&0xFF),
						0x01|byte((dts&0x7F)<<1),
					)
				}
			}
		}
	}

	payloadSize := tsPacketSize - len(pkt)
	if payloadSize > len(data) {
		payloadSize = len(data)
	}
	pkt = append(pkt, data[:payloadSize]...)
	for len(pkt) < tsPacketSize {
		pkt = append(pkt, 0xFF)
	}

	if m.Output != nil {
		m.Output.Put(pkt)
	}
	m.packetsSent++

	return uint32(payloadSize)
}

func boolToBit(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (m *Mux) addTableHeader(tableID uint8, tableIDExtension int, privateIndicator bool) []byte {
	data := make([]byte, 0, 8)
	data = append(data, tableID)
	flag := byte(0xB0)
	if privateIndicator {
		flag |= 0x40
	}
	data = append(data, flag, 0x00, byte(tableIDExtension>>8), byte(tableIDExtension&0xFF), 0xC1, 0x00, 0x00)
	return data
}

func (m *Mux) addPatEntry(info *streamMuxInfo, programID int, data []byte) []byte {
	return append(data, byte(programID>>8), byte(programID&0xFF), 0xE0|byte((info.pid>>8)&0x1F), byte(info.pid&0xFF))
}

func (m *Mux) addPmtEntry(info *streamMuxInfo, data []byte) []byte {
	data = append(data, info.streamType, 0xE0|byte((info.pid>>8)&0x1F), byte(info.pid&0xFF))
	esInfoLength := len(info.staticDescriptors)
	data = append(data, 0xF0|byte((esInfoLength>>8)&0x0F), byte(esInfoLength&0xFF))
	return append(data, info.staticDescriptors...)
}

func (m *Mux) writePat() {
	data := m.addTableHeader(patTableID, m.TransportStreamID, false)
	data = m.addPatEntry(&m.pmtInfo, m.ProgramNumber, data)
	m.tablesSection(&m.patInfo, data)
}

func (m *Mux) writePmt() {
	data := m.addTableHeader(pmtTableID, m.ProgramNumber, false)
	// The PCR PID and program_info_length follow the table header directly;
	// splice them in rather than reusing addPmtEntry's stream_type byte.
	data = append(data, byte((m.pcrInfo.pid>>8)&0x1F), byte(m.pcrInfo.pid&0xFF))
	programInfoLength := 0
	data = append(data, byte(0xF0|(programInfoLength>>8)&0x0F), byte(programInfoLength&0xFF))

	if m.isVideoEnabled() {
		data = m.addPmtEntry(&m.videoInfo, data)
	}
	if m.isAudioEnabled() {
		data = m.addPmtEntry(&m.audioInfo, data)
	}
	m.tablesSection(&m.pmtInfo, data)
}

// tablesSection finalizes a PSI table section (section length, version
// number, CRC) and emits it as a single TS packet, bumping the table
// version whenever the computed CRC differs from last time.
func (m *Mux) tablesSection(info *streamMuxInfo, payload []byte) {
	size := len(payload)

	packet := make([]byte, 0, tsPacketSize)
	packet = append(packet, tsSyncByte, 0x40|byte(info.pid>>8), byte(info.pid&0xFF), 0x10|byte(info.cc&0x0F), 0x00)
	info.cc++

	section := append([]byte(nil), payload...)
	section[1] |= byte(((size + 1) >> 8) & 0x0F)
	section[2] |= byte((size + 1) & 0xFF)
	section[5] |= byte((info.tableVersion << 1) & 0x3E)

	crc := crc32MPEG2(section)
	if crc != info.tableCRC {
		if info.tableCRC != 0 {
			info.tableVersion++
			section[5] = section[5]&^0x3E | byte((info.tableVersion<<1)&0x3E)
		}
		crc = crc32MPEG2(section)
		info.tableCRC = crc
	}

	packet = append(packet, section...)
	packet = append(packet, byte(crc>>24), byte(crc>>16), byte(crc>>8), byte(crc))
	for len(packet) < tsPacketSize {
		packet = append(packet, 0xFF)
	}

	if m.Output != nil {
		m.Output.Put(packet)
	}
	m.packetsSent++
}
