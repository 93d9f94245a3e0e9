package ts

import "github.com/activevideo/rfbtv-client/internal/logger"

// decryptInfo is one CENC-TS access-unit's key id, IV, and byte offset from
// the start of the scrambled payload at which that AU begins.
type decryptInfo struct {
	keyID       [16]byte
	iv          [16]byte
	auByteOffset uint32
}

// cetsCaModule decodes CENC-TS ECMs (ISO/IEC 23001-9) and uses them to
// switch keys/IVs mid-payload as access-unit boundaries are crossed,
// matching the scrambling_control bits on each TS packet to one of up to
// three independent key schedules (one per non-zero transport_scrambling_
// control value).
type cetsCaModule struct {
	factory            DecryptEngineFactory
	engine             DecryptEngine
	encryptedStreamPID int
	subStreams         [3][]decryptInfo
}

func newCetsCaModule(encryptedStreamPID int, factory DecryptEngineFactory) *cetsCaModule {
	return &cetsCaModule{
		factory:            factory,
		engine:             factory.NewDecryptEngine(),
		encryptedStreamPID: encryptedStreamPID,
	}
}

func (m *cetsCaModule) announceKeyIdentifier(keyID [16]byte) {
	if m.engine != nil {
		m.engine.AnnounceKeyIdentifier(keyID)
	}
}

func (m *cetsCaModule) applyDecryptInfo(info decryptInfo) {
	if m.engine != nil {
		m.engine.SetKeyIdentifier(info.keyID)
		m.engine.SetInitializationVector(info.iv)
	}
}

// Parse decodes one ECM PES payload (delivered via the ECM's own pesParser,
// since ECMs themselves travel as ordinary PES packets on their own PID).
func (m *cetsCaModule) Parse(data []byte) {
	b := newBitReader(data)

	numStates := int(b.read(2))
	nextKeyIDFlag := b.read(1)
	b.skip(3)
	ivSize := int(b.read(8))
	var defaultKeyID [16]byte
	copy(defaultKeyID[:], b.readBytes(16))
	m.announceKeyIdentifier(defaultKeyID)

	if ivSize != 8 && ivSize != 16 {
		logger.Logger().Warn("ts demux ECM illegal IV size", "iv_size", ivSize)
		return
	}

	for i := 0; i < numStates; i++ {
		scramblingControl := int(b.read(2))
		numAU := int(b.read(6))
		if scramblingControl == 0 {
			logger.Logger().Warn("ts demux ECM scrambling_control bits are zero")
			return
		}

		list := make([]decryptInfo, 0, numAU)
		for j := 0; j < numAU; j++ {
			var info decryptInfo
			keyIDFlag := b.read(1)
			b.skip(3)
			auByteOffsetSize := int(b.read(4))
			if keyIDFlag != 0 {
				copy(info.keyID[:], b.readBytes(16))
				m.announceKeyIdentifier(info.keyID)
			} else {
				info.keyID = defaultKeyID
			}
			if auByteOffsetSize > 0 {
				if auByteOffsetSize > 4 {
					logger.Logger().Error("ts demux ECM unsupported auByteOffsetSize", "size", auByteOffsetSize)
					return
				}
				info.auByteOffset = b.read(auByteOffsetSize * 8)
			}
			for k := 0; k < ivSize && k < len(info.iv); k++ {
				info.iv[k] = byte(b.read(8))
			}
			list = append(list, info)
		}
		m.subStreams[scramblingControl-1] = list
	}

	if nextKeyIDFlag != 0 {
		b.skip(8) // countdown_sec(4) + reserved(4)
		var nextKeyID [16]byte
		copy(nextKeyID[:], b.readBytes(16))
		m.announceKeyIdentifier(nextKeyID)
	}
}

// NewStream and PESHeader are no-ops: an ECM module only cares about the
// reassembled ECM payload bytes delivered through Parse.
func (m *cetsCaModule) NewStream(StreamType, string)                 {}
func (m *cetsCaModule) PESHeader(int64, int64, bool, bool, uint32) {}

func (m *cetsCaModule) Reset() {}

// decrypt implements caDecryptor: it walks the access-unit boundaries
// recorded for this scrambling-control state, switching key/IV whenever a
// new AU starts within data, and descrambles every byte.
func (m *cetsCaModule) decrypt(data []byte, scramblingControl int) bool {
	list := m.subStreams[scramblingControl-1]
	success := true
	for len(data) > 0 {
		if len(list) > 0 && list[0].auByteOffset == 0 {
			m.applyDecryptInfo(list[0])
			list = list[1:]
		}

		if len(list) == 0 {
			success = m.doDecrypt(data) && success
			break
		}

		n := list[0].auByteOffset
		if n > uint32(len(data)) {
			n = uint32(len(data))
		}
		success = m.doDecrypt(data[:n]) && success
		list[0].auByteOffset -= n
		data = data[n:]
	}
	m.subStreams[scramblingControl-1] = list
	return success
}

func (m *cetsCaModule) doDecrypt(data []byte) bool {
	if m.engine == nil {
		return false
	}
	return m.engine.Decrypt(data)
}
