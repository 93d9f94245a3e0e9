package ts

import "github.com/activevideo/rfbtv-client/internal/logger"

const invalidTableVersion = -1

// specificParser is implemented by each concrete PSI table parser
// (patParser, pmtParser) to handle the table's payload once psiParser has
// validated the section header, CRC, and version number.
type specificParser interface {
	parseSpecific(data []byte)
}

// psiParser implements the section-header/CRC/version bookkeeping shared by
// every PSI table (PAT, PMT): spans-multiple-sections and spans-multiple-
// packets are both rejected as unsupported, matching the original's
// single-packet-single-section assumption.
type psiParser struct {
	parserBase
	owner        *Demux
	tableID      int
	tableVersion int
	specific     specificParser
}

func newPsiParser(owner *Demux, tableID int) psiParser {
	return psiParser{parserBase: newParserBase(), owner: owner, tableID: tableID, tableVersion: invalidTableVersion}
}

func (p *psiParser) parse(data []byte, payloadUnitStart bool) {
	if !payloadUnitStart {
		logger.Logger().Warn("ts demux PSI sections spanning multiple packets unsupported")
		return
	}
	pointerField := int(data[0])
	data = data[pointerField+1:]
	if len(data) > tsPacketSize {
		logger.Logger().Warn("ts demux PSI pointer field length error")
		return
	}
	if len(data) < 3 {
		logger.Logger().Warn("ts demux PSI not enough data for table")
		return
	}

	tableID := int(data[0])
	sectionSyntax := data[1]&0x80 != 0
	sectionLength := int(uint16(data[1])<<8|uint16(data[2])) & 0xFFF
	section := data
	data = data[3:]

	if sectionLength > len(data) {
		logger.Logger().Warn("ts demux PSI section length exceeds data")
		return
	}
	if tableID != p.tableID {
		logger.Logger().Warn("ts demux PSI unexpected table id", "got", tableID, "want", p.tableID)
		return
	}

	if !sectionSyntax {
		p.specific.parseSpecific(data[:sectionLength])
		return
	}

	if sectionLength < 9 {
		logger.Logger().Warn("ts demux PSI section too small")
		return
	}

	versionNumber := int(data[2]>>1) & 0x1F
	currentNext := data[2]&0x01 != 0
	sectionNumber := int(data[3])
	lastSectionNumber := int(data[4])
	crc := uint32(data[sectionLength-4])<<24 | uint32(data[sectionLength-3])<<16 | uint32(data[sectionLength-2])<<8 | uint32(data[sectionLength-1])

	computed := crc32MPEG2(section[:3+sectionLength-4])
	if crc != computed {
		logger.Logger().Warn("ts demux PSI CRC error", "got", crc, "computed", computed)
		return
	}
	if !currentNext {
		return
	}
	if sectionNumber != 0 || lastSectionNumber != 0 {
		logger.Logger().Warn("ts demux PSI table spanning multiple sections unsupported")
		return
	}
	if versionNumber == p.tableVersion {
		return
	}
	p.tableVersion = versionNumber

	if p.owner.EventOut != nil {
		p.owner.EventOut.TableVersionUpdate(p.tableID, p.tableVersion)
	}

	p.specific.parseSpecific(data[5 : sectionLength-4])
}

func (p *psiParser) reset() {
	p.discontinuityPending = true
}

// patParser handles the program_association_section: it looks for the
// first non-zero program number and installs a pmtParser for its PID.
type patParser struct {
	psiParser
}

func newPatParser(owner *Demux) *patParser {
	p := &patParser{psiParser: newPsiParser(owner, patTableID)}
	p.specific = p
	return p
}

func (p *patParser) parseSpecific(data []byte) {
	for i := 0; i+4 <= len(data); i += 4 {
		programNumber := int(data[i])<<8 | int(data[i+1])
		pid := (int(data[i+2])<<8 | int(data[i+3])) & 0x1FFF
		if programNumber != 0 {
			p.owner.setPmt(pid)
			return
		}
	}
}

// pmtParser handles the program_map_section: PCR PID, program descriptors
// (CA descriptor at the program level), and the elementary stream loop.
type pmtParser struct {
	psiParser
}

func newPmtParser(owner *Demux) *pmtParser {
	p := &pmtParser{psiParser: newPsiParser(owner, pmtTableID)}
	p.specific = p
	return p
}

func (p *pmtParser) parseSpecific(data []byte) {
	if len(data) < 4 {
		return
	}
	p.owner.pcrPID = (int(data[0])<<8 | int(data[1])) & 0x1FFF
	programInfoLength := (int(data[2])<<8 | int(data[3])) & 0x0FFF
	programInfo := data[4:]
	if programInfoLength > len(programInfo) {
		logger.Logger().Warn("ts demux PMT program info length error")
		return
	}
	data = programInfo[programInfoLength:]

	p.owner.clearElementaryStreamInfo()
	p.owner.caModules = nil

	for j := 0; j+2 <= programInfoLength; {
		tag := int(programInfo[j])
		length := int(programInfo[j+1])
		if j+2+length > programInfoLength {
			break
		}
		if tag == descriptorCA {
			p.parseCaDescriptor(programInfo[j+2:j+2+length], invalidPID)
		}
		j += 2 + length
	}

	for i := 0; i+5 <= len(data); {
		streamType := data[i]
		elementaryPID := (int(data[i+1])<<8 | int(data[i+2])) & 0x1FFF
		esInfoLength := (int(data[i+3])<<8 | int(data[i+4])) & 0x0FFF
		descriptors := data[i+5:]
		i += 5 + esInfoLength
		if esInfoLength > len(descriptors) {
			break
		}

		isKeyFrameStream := false
		isValidStream := true
		language := ""
		for j := 0; j+2 <= esInfoLength; {
			tag := int(descriptors[j])
			length := int(descriptors[j+1])
			if j+2+length > esInfoLength {
				break
			}
			content := descriptors[j+2 : j+2+length]
			switch tag {
			case descriptorLanguage:
				if length > 0 {
					language = string(content[:length-1])
				}
			case descriptorCA:
				p.parseCaDescriptor(content, elementaryPID)
			case descriptorKeyFrame:
				if length == len(keyFrameDescriptorString) && string(content) == keyFrameDescriptorString {
					isKeyFrameStream = true
				}
			case descriptorLatencyData:
				if streamType == PMTStreamTypeLatency {
					if length != len(latencyDescriptorString) || string(content) != latencyDescriptorString {
						isValidStream = false
					}
				}
			}
			j += 2 + length
		}

		if isValidStream {
			p.owner.addElementaryStreamInfo(streamType, elementaryPID, language, isKeyFrameStream)
		}
	}

	p.owner.selectElementaryStreams()
}

// parseCaDescriptor decodes a CETS CA descriptor's pssh list and, if one of
// its DRM system ids matches an installed DecryptEngineFactory, installs an
// ECM stream for it.
func (p *pmtParser) parseCaDescriptor(data []byte, esPID int) {
	b := newBitReader(data)
	caSystemID := b.read(16)
	b.skip(3)
	caPID := int(b.read(13))

	if caSystemID != cetsCASystemID {
		logger.Logger().Error("ts demux CA descriptor unknown CA system", "ca_system_id", caSystemID)
		return
	}

	schemeType := b.read(32)
	schemeVersion := b.read(32)
	numSystems := int(b.read(8))
	encryptionAlgorithm := b.read(24)

	if schemeType != schmSchemeCENC {
		logger.Logger().Warn("ts demux CA descriptor unknown scheme type", "scheme_type", schemeType)
		return
	}
	if schemeVersion != schmSchemeVers1 {
		logger.Logger().Warn("ts demux CA descriptor unknown scheme version", "scheme_version", schemeVersion)
		return
	}
	if encryptionAlgorithm != 0 && encryptionAlgorithm != 1 {
		logger.Logger().Warn("ts demux CA descriptor unknown encryption algorithm", "algorithm", encryptionAlgorithm)
		return
	}

	var factory DecryptEngineFactory
	for i := 0; i < numSystems; i++ {
		var systemID [16]byte
		copy(systemID[:], b.readBytes(16))
		b.read(13) // pssh_pid, unused
		b.skip(3)

		if factory == nil {
			factory = p.owner.findDecryptEngineFactory(systemID)
		}
	}

	if factory != nil {
		p.owner.addEcmStream(caPID, esPID, factory)
	} else {
		logger.Logger().Warn("ts demux CA descriptor no matching DRM system id")
	}
}
