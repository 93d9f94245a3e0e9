package ts

// DataSink receives a demuxed elementary stream's reassembled access units,
// one PES packet at a time. StreamBuffer (internal/media/underrun)
// implements this to feed the underrun mitigation pipeline.
type DataSink interface {
	// NewStream announces (or re-announces, on a PMT change) the codec and
	// language carried by the stream feeding this sink.
	NewStream(streamType StreamType, language string)
	// PESHeader announces the PTS/DTS (90kHz ticks; hasPTS/hasDTS false
	// means "not present") and declared payload length of the PES packet
	// about to be delivered via Parse.
	PESHeader(pts, dts int64, hasPTS, hasDTS bool, payloadLength uint32)
	// Parse delivers raw elementary-stream bytes belonging to the most
	// recently announced PES packet.
	Parse(data []byte)
	Reset()
}

// EventSink receives demuxer-level events not tied to a specific stream.
type EventSink interface {
	PCRReceived(pcrBase int64, pcrExt int, discontinuity bool)
	TableVersionUpdate(tableID, version int)
}

// DecryptEngine decrypts CENC-TS protected elementary-stream bytes once a
// key id and IV have been established from an ECM.
type DecryptEngine interface {
	AnnounceKeyIdentifier(keyID [16]byte)
	SetKeyIdentifier(keyID [16]byte)
	SetInitializationVector(iv [16]byte)
	Decrypt(data []byte) bool
}

// DecryptEngineFactory creates a DecryptEngine for a DRM system id found in
// a CA descriptor's pssh list.
type DecryptEngineFactory interface {
	SystemID() [16]byte
	NewDecryptEngine() DecryptEngine
}
