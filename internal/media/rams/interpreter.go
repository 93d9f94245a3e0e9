// Package rams implements the RAMS interpreter: it decodes a
// delta-encoded TS superset into plain TS output, using an indexed unit
// store and a slowed-down local clock (spec §4.6).
package rams

import (
	"github.com/activevideo/rfbtv-client/internal/logger"
)

const payloadTypeClearTS = 0
const payloadTypeEncryptedTS = 1

// patchActionByteCount maps a patch action code (0..7) to the patch size
// in bytes it represents.
var patchActionByteCount = [8]int{0, 1, 2, 3, 4, 6, 8, 16}

const tsPacketSize = 188

// StreamDecrypt decrypts payload bytes tagged by a prior KEY_INFO
// command, returning decrypted bytes asynchronously via Interpreter.Put.
type StreamDecrypt interface {
	SetKeyIdentifier(keyID [16]byte)
	SetInitializationVector(iv [16]byte)
	StreamData(data []byte) bool
	SetReturnPath(rp interface{ Put(data []byte) })
}

// pendingHeader tracks one encrypted RAMS header awaiting decrypted
// bytes to come back from the stream-decrypt engine, matched in receive
// order (spec §4.6's "Encrypted payloads").
type pendingHeader struct {
	h              *header
	payload        []byte
	receivedBytes  int
	decryptedBytes int
}

// Interpreter decodes RAMS packets into plain TS output. It is fed
// complete RAMS packets by Splitter and emits decoded bytes to Sink.
type Interpreter struct {
	store  *store
	out    *outputQueue
	clock  *clock
	sink   Sink

	decrypt       StreamDecrypt
	keyInfoSet    bool
	pendingList   []*pendingHeader
}

// NewInterpreter returns an Interpreter writing decoded TS to sink and
// allocating unit storage through allocator.
func NewInterpreter(allocator ChunkAllocator, sink Sink) *Interpreter {
	s := newStore(allocator)
	out := newOutputQueue(s, sink)
	return &Interpreter{
		store: s,
		out:   out,
		clock: newClock(out),
		sink:  sink,
	}
}

// SetStreamDecrypt installs (or clears, with nil) the decrypt engine
// used for KEY_INFO-tagged encrypted payloads. Installing a new engine
// discards any in-flight decrypt state.
func (in *Interpreter) SetStreamDecrypt(d StreamDecrypt) {
	if d == in.decrypt {
		return
	}
	in.cleanupStreamDecryption()
	in.decrypt = d
	if in.decrypt != nil {
		in.decrypt.SetReturnPath(in)
	}
}

// Reset clears all interpreter state: unit store, output schedule,
// clock, and any pending decrypt state.
func (in *Interpreter) Reset() {
	in.cleanupStreamDecryption()
	in.store.reset()
	in.out.reset()
	in.clock.reset()
}

// SetCurrentTime advances the local clock by a new real-time sample.
func (in *Interpreter) SetCurrentTime(nowMs uint16) {
	in.clock.advance(nowMs)
}

// Parse decodes one complete RAMS packet (including its 4-byte
// sync+length prefix) and routes its payload.
func (in *Interpreter) Parse(packet []byte) {
	h, err := parseHeader(packet)
	if err != nil {
		logger.Logger().Warn("rams header parse failed", "error", err)
		return
	}

	cmds, err := h.commands()
	if err != nil {
		logger.Logger().Warn("rams command parse failed", "error", err)
	}

	isResetLast := false
	for i, cmd := range cmds {
		isResetLast = false
		switch cmd.Code {
		case CommandReset:
			if i == 0 {
				// A RESET that is the first command takes effect immediately:
				// the current clock reference becomes the initial one.
				in.clock.reset()
				in.store.reset()
				in.out.reset()
			}
			isResetLast = true
		case CommandKeyInfo:
			if len(cmd.Data) != 32 {
				logger.Logger().Warn("rams illegal KEY_INFO length", "length", len(cmd.Data))
				break
			}
			if in.decrypt != nil {
				var keyID, iv [16]byte
				copy(keyID[:], cmd.Data[:16])
				copy(iv[:], cmd.Data[16:32])
				in.decrypt.SetKeyIdentifier(keyID)
				in.decrypt.SetInitializationVector(iv)
				in.keyInfoSet = true
			}
		case CommandLabel:
			h.hasLabelCommand = true
		case CommandOutput:
			if len(cmd.Data) < 2 {
				break
			}
			scheduledTime := h.clockReference
			if cmd.Data[0]&0x40 != 0 && len(cmd.Data) >= 4 {
				scheduledTime += uint16(cmd.Data[2])<<8 | uint16(cmd.Data[3])
			}
			in.out.deleteSucceeding(scheduledTime)
		}
	}
	h.hasResetAsLast = isResetLast

	// Synchronizing the clock also drains any output scheduled up to
	// this packet's clock reference.
	in.clock.synchronize(h.clockReference)

	payload := h.payload()
	if h.payloadType == payloadTypeEncryptedTS && h.payloadLength > 0 && in.keyInfoSet {
		in.routeEncrypted(h, payload)
	} else {
		in.processPayload(h, cmds, payload)
	}

	if h.hasResetAsLast {
		// A RESET that is the last command takes effect after processing:
		// the *next* packet's clock reference becomes the initial one.
		in.clock.reset()
		in.store.reset()
		in.out.reset()
	}
}

// routeEncrypted feeds an encrypted payload to the decrypt engine and
// registers the header on the pending list so Put can match returning
// decrypted bytes back to it in order.
func (in *Interpreter) routeEncrypted(h *header, payload []byte) {
	if in.decrypt == nil || len(payload) == 0 {
		return
	}
	p := &pendingHeader{h: h, receivedBytes: len(payload)}
	in.pendingList = append(in.pendingList, p)

	if !in.decrypt.StreamData(payload) {
		logger.Logger().Warn("rams decryption failed, forcing hard resync")
		in.cleanupStreamDecryption()
	}
}

// Put receives decrypted bytes back from the stream-decrypt engine, in
// the same order the encrypted payloads were submitted, and matches
// them against the front of the pending list.
func (in *Interpreter) Put(data []byte) {
	for len(in.pendingList) > 0 && len(data) > 0 {
		p := in.pendingList[0]
		need := p.receivedBytes - p.decryptedBytes
		n := len(data)
		if n > need {
			n = need
		}

		p.payload = append(p.payload, data[:n]...)
		p.decryptedBytes += n
		data = data[n:]

		if p.decryptedBytes >= p.receivedBytes {
			cmds, _ := p.h.commands()
			in.processPayload(p.h, cmds, p.payload)
			in.pendingList = in.pendingList[1:]
		} else if n == 0 {
			logger.Logger().Warn("rams unexpected decrypted data received with no pending demand")
			break
		}
	}
}

// cleanupStreamDecryption clears key info and discards the pending
// decrypt list wholesale: a hard resync after any decrypt failure.
func (in *Interpreter) cleanupStreamDecryption() {
	in.keyInfoSet = false
	in.pendingList = in.pendingList[:0]
}

// processPayload routes a (possibly decrypted) payload to labelled
// units, honors DELETE, and schedules/emits OUTPUT actions.
func (in *Interpreter) processPayload(h *header, cmds []Command, payload []byte) {
	if !h.hasLabelCommand && len(payload) > 0 {
		if in.sink != nil {
			in.sink.Put(payload)
		}
	}

	for _, cmd := range cmds {
		switch cmd.Code {
		case CommandLabel:
			in.routeLabelled(h, cmd, payload)
		case CommandDelete:
			in.processDelete(cmd)
		case CommandOutput:
			in.processOutput(h, cmd)
		}
	}
}

// routeLabelled splits payload across the unit ids named in a LABEL
// command, each entry covering count*tsPacketSize bytes (consecutive
// identical unit ids merge their counts); the first entry's byte count
// is reduced by the header's payload_unit_offset.
func (in *Interpreter) routeLabelled(h *header, cmd Command, payload []byte) {
	type label struct {
		unitID    uint16
		byteCount int
	}
	var labels []label
	data := cmd.Data
	for len(data) >= 2 {
		count := int((data[0] & 0xF0) >> 4)
		unitID := uint16(data[0]&0x0F)<<8 | uint16(data[1])
		byteCount := count * tsPacketSize
		if n := len(labels); n > 0 && labels[n-1].unitID == unitID {
			labels[n-1].byteCount += byteCount
		} else {
			labels = append(labels, label{unitID: unitID, byteCount: byteCount})
		}
		data = data[2:]
	}
	if len(labels) > 0 && int(h.payloadUnitOffset) <= labels[0].byteCount {
		labels[0].byteCount -= int(h.payloadUnitOffset)
	}

	for _, l := range labels {
		n := l.byteCount
		if n > len(payload) {
			n = len(payload)
		}
		if n <= 0 {
			continue
		}
		u := in.store.getOrAllocate(l.unitID)
		if u == nil {
			logger.Logger().Warn("rams unable to allocate unit", "unit_id", l.unitID)
		} else {
			u.addBytes(payload[:n])
		}
		payload = payload[n:]
	}
}

// processDelete deletes every 12-bit unit id packed 2-per-3-bytes.
func (in *Interpreter) processDelete(cmd Command) {
	numIDs := len(cmd.Data) * 2 / 3
	bitOffset := 0
	for i := 0; i < numIDs; i++ {
		byteIdx := bitOffset / 8
		bitInByte := bitOffset % 8
		var id uint16
		switch bitInByte {
		case 0:
			id = uint16(cmd.Data[byteIdx])<<4 | uint16(cmd.Data[byteIdx+1])>>4
		case 4:
			id = uint16(cmd.Data[byteIdx]&0x0F)<<8 | uint16(cmd.Data[byteIdx+1])
		}
		in.store.delete(id)
		bitOffset += 12
	}
}

// processOutput decodes every entry in an OUTPUT command's data
// (unit id, optional clock delta, optional patch list) and either emits
// the unit immediately (if scheduled for the current packet's clock) or
// schedules it.
func (in *Interpreter) processOutput(h *header, cmd Command) {
	data := cmd.Data
	for len(data) >= 2 {
		patchFlag := data[0]&0x80 != 0
		clockDeltaFlag := data[0]&0x40 != 0
		unitID := uint16(data[0]&0x0F)<<8 | uint16(data[1])
		data = data[2:]

		scheduledTime := h.clockReference
		if clockDeltaFlag {
			if len(data) < 2 {
				logger.Logger().Warn("rams OUTPUT command underflow (clock delta)")
				return
			}
			scheduledTime += uint16(data[0])<<8 | uint16(data[1])
			data = data[2:]
		}

		var patches []patch
		if patchFlag {
			if len(data) < 1 {
				logger.Logger().Warn("rams OUTPUT command underflow (patch length)")
				return
			}
			patchLen := int(data[0])
			data = data[1:]
			if len(data) < patchLen {
				logger.Logger().Warn("rams OUTPUT command underflow (patch body)")
				return
			}
			patchData := data[:patchLen]
			data = data[patchLen:]

			byteIndex := 0
			for len(patchData) >= 2 {
				action := patchData[1] & 0x0F
				byteIndex += int(patchData[0])<<4 | int(patchData[1]&0xF0)>>4
				size := patchActionByteCount[action]
				patchData = patchData[2:]
				if len(patchData) < size {
					logger.Logger().Warn("rams OUTPUT patch underflow")
					break
				}
				patches = append(patches, patch{offset: byteIndex, data: patchData[:size]})
				patchData = patchData[size:]
			}
		}

		action := outputAction{unitID: unitID, clockAt: scheduledTime, patches: patches}
		if scheduledTime == h.clockReference {
			in.out.emit(action)
		} else {
			in.out.add(action)
		}
	}
}
