// Package codec implements the bi-directional RFB-TV wire codec: the
// version handshake, and encode/decode for every client<->server message
// named in spec §4.2, built on top of internal/wire's typed buffer.
package codec

import (
	"fmt"

	rerrors "github.com/activevideo/rfbtv-client/internal/errors"
	"github.com/activevideo/rfbtv-client/internal/wire"
)

// versionStringLen is the length of the exact 15-byte ASCII handshake string
// for a version, in server-to-client and client-echo form: "RFB-TV NNN.NNN\n".
const versionStringLen = 15

// supportedVersions is ordered highest-first, matching
// RfbtvProtocol::parse_version_string's lexicographic descent.
var supportedVersions = []struct {
	str string
	ver Version
}{
	{"RFB-TV 002.000\n", V2_0},
	{"RFB-TV 001.001\n", V1_3},
}

// ParseVersionString reads exactly 15 ASCII bytes from buf and selects the
// highest client-supported version that is lexicographically <= the
// server's string, matching the original's plain byte-wise comparison loop.
// Returns the selected version and the exact 15-byte string the client must
// echo back (spec §6.1: "client echoes its chosen version").
func ParseVersionString(buf *wire.Buffer) (Version, string, error) {
	raw := buf.ReadRawAsString(versionStringLen)
	if buf.HasDataUnderflow() {
		return VersionUnknown, "", rerrors.NewWireError("codec.parseVersionString", fmt.Errorf("need %d bytes", versionStringLen))
	}
	for _, candidate := range supportedVersions {
		if candidate.str <= raw {
			return candidate.ver, candidate.str, nil
		}
	}
	return VersionUnknown, "", rerrors.NewVersionError("codec.parseVersionString", fmt.Errorf("no supported version <= %q", raw))
}

// ErrNeedMoreData signals that ParseMessage saw an incomplete message; the
// caller's read cursor has been rewound and more bytes must arrive before
// retrying.
var ErrNeedMoreData = fmt.Errorf("codec: need more data")

// Codec holds the negotiated version and the version-gated dispatch set for
// decoding server messages. The zero value is not usable; construct with
// NewCodec.
type Codec struct {
	version Version
}

// NewCodec builds a codec fixed to the negotiated version for the lifetime
// of the session (SetVersion is only ever called once, at handshake).
func NewCodec(v Version) *Codec { return &Codec{version: v} }

func (c *Codec) Version() Version { return c.version }

// serverMessageAllowed reports whether a given server message type id is
// valid under the negotiated version; V1.3 excludes server-initiated
// commands, handoff, CDM setup/terminate (spec §4.2).
func (c *Codec) serverMessageAllowed(msgType uint8) bool {
	switch msgType {
	case MsgFramebufferUpdate, MsgSessionSetupResponse, MsgSessionTerminateRequest, MsgPing, MsgStreamSetupRequest, MsgPassThroughIn:
		return true
	case MsgServerCommand, MsgHandoffRequest, MsgCdmSetupRequest, MsgCdmTerminateRequest:
		return c.version == V2_0
	default:
		return false
	}
}

// ParseMessage peeks the one-byte message type and dispatches to the
// matching decoder. On underflow the cursor is rewound and ErrNeedMoreData
// is returned so the caller can retry once more bytes arrive (spec §4.2,
// §4.3 StreamData handler). Any other error is fatal to the session.
func (c *Codec) ParseMessage(buf *wire.Buffer) (msgType uint8, payload interface{}, err error) {
	start := buf.BytesRead()
	msgType = buf.ReadUint8()
	if buf.HasDataUnderflow() {
		rewindTo(buf, start)
		return 0, nil, ErrNeedMoreData
	}
	if !c.serverMessageAllowed(msgType) {
		return msgType, nil, rerrors.NewCodecError("codec.parseMessage", fmt.Errorf("message type %d not valid under version %s", msgType, c.version))
	}

	payload, err = c.decodeBody(msgType, buf)
	if err != nil {
		return msgType, nil, err
	}
	if buf.HasDataUnderflow() {
		rewindTo(buf, start)
		return 0, nil, ErrNeedMoreData
	}
	return msgType, payload, nil
}

// rewindTo restores the buffer to a fully-rewound state; the caller is
// expected to have discarded nothing yet, so a full Rewind is equivalent to
// "back to the start of this attempt" for the single-message-at-a-time
// parse loop StreamData uses.
func rewindTo(buf *wire.Buffer, _ int) { buf.Rewind() }

func (c *Codec) decodeBody(msgType uint8, buf *wire.Buffer) (interface{}, error) {
	switch msgType {
	case MsgFramebufferUpdate:
		return decodeFramebufferUpdate(buf)
	case MsgSessionSetupResponse:
		return decodeSessionSetupResponse(buf, c.version)
	case MsgSessionTerminateRequest:
		return decodeSessionTerminateRequest(buf, c.version)
	case MsgPing:
		return struct{}{}, nil
	case MsgStreamSetupRequest:
		return decodeStreamSetupRequest(buf)
	case MsgPassThroughIn:
		return decodePassThrough(buf)
	case MsgServerCommand:
		return decodeServerCommand(buf)
	case MsgHandoffRequest:
		return decodeHandoffRequest(buf)
	case MsgCdmSetupRequest:
		return decodeCdmSetupRequest(buf)
	case MsgCdmTerminateRequest:
		return decodeCdmTerminateRequest(buf)
	default:
		return nil, rerrors.NewCodecError("codec.decodeBody", fmt.Errorf("unhandled message type %d", msgType))
	}
}

// --- Server -> Client decoders ---

func decodeFramebufferUpdate(buf *wire.Buffer) (*FramebufferUpdateMsg, error) {
	flags := buf.ReadUint8()
	count := buf.ReadUint16()
	rects := make([]Rect, 0, count)
	for i := 0; i < int(count); i++ {
		x := buf.ReadUint16()
		y := buf.ReadUint16()
		w := buf.ReadUint16()
		h := buf.ReadUint16()
		enc := buf.ReadUint8()
		alpha := buf.ReadUint8()
		r := Rect{X: x, Y: y, W: w, H: h, Encoding: enc, Alpha: alpha}
		switch enc {
		case RectEncodingPictureObject:
			r.Picture = buf.ReadBlob()
		case RectEncodingURL:
			r.URL = buf.ReadString()
		default:
			return nil, rerrors.NewCodecError("codec.decodeFramebufferUpdate", fmt.Errorf("unknown rectangle encoding %d", enc))
		}
		rects = append(rects, r)
	}
	return &FramebufferUpdateMsg{BitmapFlags: flags, Rects: rects}, nil
}

func decodeSessionSetupResponse(buf *wire.Buffer, v Version) (*SessionSetupResponseMsg, error) {
	code := buf.ReadUint8()
	sessionID := buf.ReadString()
	redirect := buf.ReadString()
	cookie := buf.ReadBlob()
	return &SessionSetupResponseMsg{
		ResultCode: code,
		Result:     DecodeSessionSetupResult(code, v),
		SessionID:  sessionID,
		Redirect:   redirect,
		Cookie:     cookie,
	}, nil
}

func decodeSessionTerminateRequest(buf *wire.Buffer, v Version) (*SessionTerminateRequestMsg, error) {
	code := buf.ReadUint8()
	return &SessionTerminateRequestMsg{ResultCode: code, Reason: DecodeSessionTerminateReason(code, v)}, nil
}

func decodeStreamSetupRequest(buf *wire.Buffer) (*StreamSetupRequestMsg, error) {
	return &StreamSetupRequestMsg{URI: buf.ReadString()}, nil
}

func decodePassThrough(buf *wire.Buffer) (*PassThroughMsg, error) {
	id := buf.ReadUint32()
	data := buf.ReadBlob()
	return &PassThroughMsg{ExtensionID: id, Data: data}, nil
}

func decodeServerCommand(buf *wire.Buffer) (*ServerCommandMsg, error) {
	name := buf.ReadString()
	fields := buf.ReadKeyValuePairs()
	return &ServerCommandMsg{Name: name, Fields: fields}, nil
}

func decodeHandoffRequest(buf *wire.Buffer) (*HandoffRequestMsg, error) {
	return &HandoffRequestMsg{URI: buf.ReadString()}, nil
}

func decodeCdmSetupRequest(buf *wire.Buffer) (*CdmSetupRequestMsg, error) {
	raw := buf.ReadRaw(16)
	var id [16]byte
	copy(id[:], raw)
	init := buf.ReadBlob()
	return &CdmSetupRequestMsg{DrmSystemID: id, InitData: init}, nil
}

func decodeCdmTerminateRequest(buf *wire.Buffer) (*CdmTerminateRequestMsg, error) {
	return &CdmTerminateRequestMsg{SessionID: buf.ReadString()}, nil
}

// --- Client -> Server encoders ---
// Each returns the fully-framed message (type byte + body), ready to send.

func EncodeSetEncodings(m SetEncodingsMsg) []byte {
	b := wire.New()
	b.WriteUint8(MsgSetEncodings)
	b.WriteUint8(uint8(len(m.Encodings)))
	for _, e := range m.Encodings {
		b.WriteUint8(e)
	}
	return b.Bytes()
}

func EncodeFramebufferUpdateRequest(m FramebufferUpdateRequestMsg) []byte {
	b := wire.New()
	b.WriteUint8(MsgFramebufferUpdateRequest)
	incr := uint8(0)
	if m.Incremental {
		incr = 1
	}
	b.WriteUint8(incr)
	b.WriteUint16(m.Width)
	b.WriteUint16(m.Height)
	return b.Bytes()
}

func EncodeKeyEvent(m KeyEventMsg) []byte {
	b := wire.New()
	b.WriteUint8(MsgKeyEvent)
	b.WriteUint32(m.X11KeyCode)
	b.WriteUint8(uint8(m.Action))
	return b.Bytes()
}

func EncodeKeyTimeEvent(m KeyTimeEventMsg) []byte {
	b := wire.New()
	b.WriteUint8(MsgKeyTimeEvent)
	b.WriteUint32(m.X11KeyCode)
	b.WriteUint8(uint8(m.Action))
	b.WriteString(m.TimestampMs)
	return b.Bytes()
}

func EncodePointerEvent(m PointerEventMsg) []byte {
	b := wire.New()
	b.WriteUint8(MsgPointerEvent)
	b.WriteUint16(m.X)
	b.WriteUint16(m.Y)
	b.WriteUint8(m.ButtonMask)
	return b.Bytes()
}

func EncodeClientReport(m ClientReportMsg) []byte {
	b := wire.New()
	b.WriteUint8(MsgClientReport)
	b.WriteString(string(m.Kind))
	b.WriteRaw(m.Body)
	return b.Bytes()
}

func EncodeSessionTerminateIndication(reason SessionTerminateIndicationReason) []byte {
	b := wire.New()
	b.WriteUint8(MsgSessionTerminateIndication)
	b.WriteUint8(uint8(reason))
	return b.Bytes()
}

// EncodeSessionSetup builds SessionSetup[18]. Under V2.0 the client id is
// written as a leading length-prefixed string before the key-value map
// (spec §4.2, §8 property: "first field after the opcode byte is the
// length-prefixed client-id string" for V2.0); under V1.3 clientid travels
// only as a key-value pair within the map.
func EncodeSessionSetup(m SessionSetupMsg, v Version) []byte {
	b := wire.New()
	b.WriteUint8(MsgSessionSetup)
	if v == V2_0 {
		b.WriteString(m.ClientID)
	}

	params := make(map[string]string, len(m.OptionalParams)+3)
	for k, val := range m.OptionalParams {
		params[k] = val
	}
	if v == V1_3 {
		params["clientid"] = m.ClientID
	}
	if m.SessionID != "" {
		params["session_id"] = m.SessionID
	}
	if m.Cookie != nil {
		params["cookie"] = string(m.Cookie)
	}
	b.WriteKeyValuePairs(params)
	return b.Bytes()
}

func EncodeStreamConfirm(code StreamConfirmCode, v Version) []byte {
	b := wire.New()
	b.WriteUint8(MsgStreamConfirm)
	b.WriteUint8(StreamConfirmWireCode(code, v))
	return b.Bytes()
}

func EncodeStreamSetupResponse(code StreamSetupResponseCode, v Version) []byte {
	b := wire.New()
	b.WriteUint8(MsgStreamSetupResponse)
	b.WriteUint8(StreamSetupWireCode(code, v))
	return b.Bytes()
}

func EncodePong() []byte {
	b := wire.New()
	b.WriteUint8(MsgPong)
	return b.Bytes()
}

func EncodePassThrough(m PassThroughMsg) []byte {
	b := wire.New()
	b.WriteUint8(MsgPassThroughOut)
	b.WriteUint32(m.ExtensionID)
	b.WriteBlob(m.Data)
	return b.Bytes()
}

func EncodeSessionUpdate(m SessionUpdateMsg) []byte {
	b := wire.New()
	b.WriteUint8(MsgSessionUpdate)
	b.WriteKeyValuePairs(m.OptionalParams)
	return b.Bytes()
}

func EncodeHandoffResult(m HandoffResultMsg) []byte {
	b := wire.New()
	b.WriteUint8(MsgHandoffResult)
	b.WriteUint8(m.Code)
	b.WriteString(m.Description)
	return b.Bytes()
}

func EncodeCdmSetupResponse(m CdmSetupResponseMsg) []byte {
	b := wire.New()
	b.WriteUint8(MsgCdmSetupResponse)
	b.WriteUint8(uint8(m.Result))
	b.WriteString(m.SessionID)
	return b.Bytes()
}

// EncodeSessionSetupResponseForTest builds a SessionSetupResponse[16]
// message as a server fixture would send it. Production code never
// constructs this message (the client only decodes it); it lives here,
// rather than in a _test.go file, so integration tests across packages can
// synthesize server fixtures without duplicating the wire layout.
func EncodeSessionSetupResponseForTest(resultCode uint8, sessionID, redirect string, cookie []byte) []byte {
	b := wire.New()
	b.WriteUint8(MsgSessionSetupResponse)
	b.WriteUint8(resultCode)
	b.WriteString(sessionID)
	b.WriteString(redirect)
	b.WriteBlob(cookie)
	return b.Bytes()
}

func EncodeCdmTerminateIndication(m CdmTerminateIndicationMsg) []byte {
	b := wire.New()
	b.WriteUint8(MsgCdmTerminateIndication)
	b.WriteString(m.SessionID)
	b.WriteUint8(uint8(m.Reason))
	return b.Bytes()
}
