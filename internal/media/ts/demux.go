package ts

import (
	"github.com/activevideo/rfbtv-client/internal/logger"
)

// caDecryptor decrypts a scrambled TS packet payload in place.
type caDecryptor interface {
	decrypt(data []byte, scramblingControl int) bool
}

// tsParser receives one TS packet's payload (adaptation field already
// stripped) for a single PID.
type tsParser interface {
	parse(data []byte, payloadUnitStart bool)
	reset()
}

// parserBase tracks the per-PID continuity counter and carries the CA
// decryptor (if any) that descrambles this PID's packets before parse runs.
type parserBase struct {
	continuityCounter    int
	discontinuityPending bool
	caDecryptor          caDecryptor
}

func newParserBase() parserBase {
	return parserBase{discontinuityPending: true}
}

// streamInfo is one entry of the elementary-stream table gathered while
// walking the current PMT.
type streamInfo struct {
	streamType      uint8
	elementaryPID   int
	language        string
	isKeyFrameBased bool
}

// Demux extracts PAT/PMT, selects audio/video elementary streams by
// preferred language, reassembles PES packets, and routes CENC-TS ECMs to
// an injected DecryptEngineFactory (spec §4.7's TsDemux).
type Demux struct {
	EventOut EventSink
	VideoOut DataSink
	AudioOut DataSink

	PreferredLanguage string

	DecryptEngineFactories []DecryptEngineFactory

	packetBuffer    [tsPacketSize]byte
	remainingBytes  int
	parsers         map[int]tsParser
	streams         []streamInfo
	caModules       []*cetsCaModule
	audioPID        int
	videoPID        int
	pcrPID          int
}

// NewDemux returns a Demux with its PAT parser installed.
func NewDemux() *Demux {
	d := &Demux{
		parsers:  make(map[int]tsParser),
		audioPID: invalidPID,
		videoPID: invalidPID,
		pcrPID:   invalidPID,
	}
	d.setupPat()
	return d
}

func (d *Demux) setupPat() {
	d.parsers[patPID] = newPatParser(d)
}

// Reset discards all PAT/PMT/PES parsing state and CA modules, as if the
// demuxer had just been constructed.
func (d *Demux) Reset() {
	d.parsers = make(map[int]tsParser)
	d.streams = nil
	d.caModules = nil
	d.audioPID = invalidPID
	d.videoPID = invalidPID
	d.pcrPID = invalidPID
	d.remainingBytes = 0
	d.setupPat()
}

// HasAudio reports whether an audio elementary stream is currently selected.
func (d *Demux) HasAudio() bool { return d.audioPID != invalidPID }

// HasVideo reports whether a video elementary stream is currently selected.
func (d *Demux) HasVideo() bool { return d.videoPID != invalidPID }

// Parse feeds newly received bytes into the demuxer, reassembling and
// dispatching complete 188-byte TS packets as they become available.
func (d *Demux) Parse(data []byte) {
	if d.remainingBytes != 0 {
		n := tsPacketSize - d.remainingBytes
		if n > len(data) {
			n = len(data)
		}
		copy(d.packetBuffer[d.remainingBytes:], data[:n])
		d.remainingBytes += n
		data = data[n:]

		if d.remainingBytes < tsPacketSize {
			return
		}
		d.parseTsPacket(d.packetBuffer[:])
		d.remainingBytes = 0
	}

	for len(data) >= tsPacketSize {
		if data[0] != tsSyncByte {
			logger.Logger().Warn("ts demux lost sync, scanning")
			for len(data) > 0 && data[0] != tsSyncByte {
				data = data[1:]
			}
			continue
		}
		d.parseTsPacket(data[:tsPacketSize])
		data = data[tsPacketSize:]
	}

	if len(data) > 0 {
		copy(d.packetBuffer[:], data)
		d.remainingBytes = len(data)
	}
}

func (d *Demux) parseTsPacket(packet []byte) {
	payloadUnitStart := packet[1]&0x40 != 0
	pid := (int(packet[1])<<8 | int(packet[2])) & 0x1FFF
	scramblingControl := int(packet[3]>>6) & 3
	adaptationFieldPresent := packet[3]&0x20 != 0
	payloadPresent := packet[3]&0x10 != 0
	continuityCounter := int(packet[3] & 0x0F)

	if pid == nullPacketPID {
		return
	}

	data := packet[4:]

	if adaptationFieldPresent {
		if len(data) == 0 {
			return
		}
		adaptationFieldLength := int(data[0])
		if adaptationFieldLength > 0 && len(data) > 7 {
			discontinuity := data[1]&0x80 != 0
			pcrFlag := data[1]&0x10 != 0
			if pcrFlag && pid == d.pcrPID {
				pcrBase := int64(data[2])<<25 | int64(data[3])<<17 | int64(data[4])<<9 | int64(data[5])<<1 | int64(data[6]>>7)
				pcrExt := (int(data[6]&1) << 8) | int(data[7])
				if d.EventOut != nil {
					d.EventOut.PCRReceived(pcrBase, pcrExt, discontinuity)
				}
			}
		}
		if adaptationFieldLength+1 > len(data) {
			logger.Logger().Warn("ts demux adaptation field length error")
			return
		}
		data = data[adaptationFieldLength+1:]
	}

	parser := d.parsers[pid]
	if parser == nil {
		return
	}

	base := parserBaseOf(parser)
	if base != nil {
		expected := base.continuityCounter
		if payloadPresent {
			expected = (expected + 1) & 0x0F
		}
		if expected != continuityCounter && !base.discontinuityPending {
			logger.Logger().Debug("ts demux continuity counter mismatch", "pid", pid, "got", continuityCounter, "expected", expected)
		}
		base.continuityCounter = continuityCounter
		base.discontinuityPending = false

		if scramblingControl != 0 {
			ok := false
			if base.caDecryptor != nil {
				ok = base.caDecryptor.decrypt(data, scramblingControl)
			}
			if !ok {
				logger.Logger().Warn("ts demux descrambling failed", "pid", pid, "control", scramblingControl)
				return
			}
		}
	}

	if !payloadPresent {
		return
	}
	parser.parse(data, payloadUnitStart)
}

// parserBaseOf extracts the embedded parserBase from any concrete parser
// type, giving the shared packet-dispatch logic access to the continuity
// counter / CA decryptor fields without a type switch per call site.
func parserBaseOf(p tsParser) *parserBase {
	switch v := p.(type) {
	case *patParser:
		return &v.parserBase
	case *pmtParser:
		return &v.parserBase
	case *pesParser:
		return &v.parserBase
	}
	return nil
}

func (d *Demux) setPmt(pmtPID int) {
	pat := d.parsers[patPID]
	d.parsers = make(map[int]tsParser)
	d.parsers[patPID] = pat
	d.audioPID = invalidPID
	d.videoPID = invalidPID
	d.pcrPID = invalidPID
	d.streams = nil
	d.caModules = nil

	d.parsers[pmtPID] = newPmtParser(d)
}

func (d *Demux) addPesParser(elementaryPID int, sink DataSink, streamID pesStreamID) {
	d.parsers[elementaryPID] = &pesParser{parserBase: newParserBase(), sink: sink, streamID: streamID, lastPts: -1}
}

func (d *Demux) removeParser(pid int) {
	if pid != invalidPID {
		delete(d.parsers, pid)
	}
}

func (d *Demux) addAudioStream(streamType uint8, pid int, language string) {
	var sinkType StreamType
	switch streamType {
	case PMTStreamTypeMPEG1Audio:
		sinkType = StreamTypeMPEG1Audio
	case PMTStreamTypeMPEG2Audio:
		sinkType = StreamTypeMPEG2Audio
	case PMTStreamTypeAACAudio:
		sinkType = StreamTypeAACAudio
	case PMTStreamTypeAC3Audio:
		sinkType = StreamTypeAC3Audio
	default:
		sinkType = StreamTypeUnknown
	}
	d.audioPID = pid
	if d.AudioOut != nil {
		d.AudioOut.NewStream(sinkType, language)
	}
	id := pesAudioStreamID
	if streamType == PMTStreamTypeAC3Audio {
		id = pesPrivate1StreamID
	}
	d.addPesParser(pid, d.AudioOut, id)
}

func (d *Demux) addVideoStream(streamType uint8, pid int) {
	var sinkType StreamType
	switch streamType {
	case PMTStreamTypeMPEG2Video:
		sinkType = StreamTypeMPEG2Video
	case PMTStreamTypeH264Video:
		sinkType = StreamTypeH264Video
	default:
		sinkType = StreamTypeUnknown
	}
	d.videoPID = pid
	if d.VideoOut != nil {
		d.VideoOut.NewStream(sinkType, "")
	}
	d.addPesParser(pid, d.VideoOut, pesVideoStreamID)
}

func (d *Demux) addEcmStream(pid, encryptedStreamPID int, factory DecryptEngineFactory) {
	module := newCetsCaModule(encryptedStreamPID, factory)
	d.caModules = append(d.caModules, module)
	d.addPesParser(pid, module, pesECMStreamID)
}

func (d *Demux) findDecryptEngineFactory(systemID [16]byte) DecryptEngineFactory {
	for _, f := range d.DecryptEngineFactories {
		if f.SystemID() == systemID {
			return f
		}
	}
	return nil
}

func (d *Demux) clearElementaryStreamInfo() { d.streams = nil }

func (d *Demux) addElementaryStreamInfo(streamType uint8, pid int, language string, isKeyFrame bool) {
	d.streams = append(d.streams, streamInfo{streamType: streamType, elementaryPID: pid, language: language, isKeyFrameBased: isKeyFrame})
}

// selectElementaryStreams re-derives which PIDs to demux from the current
// PMT-gathered stream table: first video stream wins, first audio stream
// wins unless a later entry's language appears in PreferredLanguage (a
// substring match, matching the original's find()-based rule), in which
// case the later entry is preferred instead.
func (d *Demux) selectElementaryStreams() {
	audioPID, videoPID := invalidPID, invalidPID
	var audioType, videoType uint8
	var selectedLanguage string

	for _, s := range d.streams {
		switch s.streamType {
		case PMTStreamTypeMPEG2Video, PMTStreamTypeH264Video:
			if !s.isKeyFrameBased && videoPID == invalidPID {
				videoPID = s.elementaryPID
				videoType = s.streamType
			}
		case PMTStreamTypeMPEG1Audio, PMTStreamTypeMPEG2Audio, PMTStreamTypeAACAudio, PMTStreamTypeAC3Audio:
			if audioPID == invalidPID || (d.PreferredLanguage != "" && containsSubstring(d.PreferredLanguage, s.language)) {
				audioPID = s.elementaryPID
				audioType = s.streamType
				selectedLanguage = s.language
			}
		default:
			logger.Logger().Warn("ts demux unknown stream type in PMT", "stream_type", s.streamType, "pid", s.elementaryPID)
		}
	}

	if audioPID != d.audioPID {
		d.removeParser(d.audioPID)
		if audioPID != invalidPID {
			d.addAudioStream(audioType, audioPID, selectedLanguage)
		}
	}
	if videoPID != d.videoPID {
		d.removeParser(d.videoPID)
		if videoPID != invalidPID {
			d.addVideoStream(videoType, videoPID)
		}
	}

	for _, module := range d.caModules {
		pid := module.encryptedStreamPID
		if pid == invalidPID {
			if d.audioPID != invalidPID {
				attachDecryptor(d.parsers[d.audioPID], module)
			}
			if d.videoPID != invalidPID {
				attachDecryptor(d.parsers[d.videoPID], module)
			}
			continue
		}
		if p, ok := d.parsers[pid]; ok {
			attachDecryptor(p, module)
		} else {
			logger.Logger().Warn("ts demux CA-encrypted stream not found", "pid", pid)
		}
	}
}

func attachDecryptor(p tsParser, d caDecryptor) {
	if base := parserBaseOf(p); base != nil {
		base.caDecryptor = d
	}
}

func containsSubstring(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
