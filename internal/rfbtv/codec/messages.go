package codec

// Client -> Server message type ids (spec §4.2).
const (
	MsgSetEncodings               uint8 = 2
	MsgFramebufferUpdateRequest   uint8 = 3
	MsgKeyEvent                   uint8 = 4
	MsgPointerEvent               uint8 = 5
	MsgClientReport               uint8 = 16
	MsgSessionTerminateIndication uint8 = 17
	MsgSessionSetup               uint8 = 18
	MsgStreamConfirm              uint8 = 19
	MsgStreamSetupResponse        uint8 = 20
	MsgPong                       uint8 = 21
	MsgPassThroughOut             uint8 = 23
	// V2.0-only
	MsgSessionUpdate         uint8 = 24
	MsgHandoffResult         uint8 = 25
	MsgKeyTimeEvent          uint8 = 26
	MsgCdmSetupResponse      uint8 = 27
	MsgCdmTerminateIndication uint8 = 28
)

// Server -> Client message type ids (spec §4.2).
const (
	MsgFramebufferUpdate        uint8 = 0
	MsgSessionSetupResponse     uint8 = 16
	MsgSessionTerminateRequest  uint8 = 17
	MsgPing                     uint8 = 18
	MsgStreamSetupRequest       uint8 = 19
	MsgPassThroughIn            uint8 = 21
	// V2.0-only
	MsgServerCommand    uint8 = 22
	MsgHandoffRequest   uint8 = 23
	MsgCdmSetupRequest  uint8 = 24
	MsgCdmTerminateRequest uint8 = 25
)

// Framebuffer rectangle encoding ids (spec §4.2).
const (
	RectEncodingPictureObject uint8 = 42
	RectEncodingURL           uint8 = 43
)

// Framebuffer bitmap flags.
const (
	BitmapFlagCommit uint8 = 1 << 0
	BitmapFlagClear  uint8 = 1 << 1
)

// KeyAction mirrors the native X11-derived action taxonomy (spec §4.3 Key
// handler; original_source RfbtvProtocol.h KeyAction).
type KeyAction int

const (
	KeyUp KeyAction = iota
	KeyDown
	KeyInput
	KeyDownAndUp // client-side composite, expands to KeyDown then KeyUp
)

// PointerAction mirrors the pointer event taxonomy used by the Pointer
// handler (button press/release/move, and a DownAndUp composite).
type PointerAction int

const (
	PointerMove PointerAction = iota
	PointerDown
	PointerUp
	PointerDownAndUp
)

// Rect is a single framebuffer update rectangle.
type Rect struct {
	X, Y, W, H uint16
	Encoding   uint8
	Alpha      uint8
	// Picture: raw blob bytes (encoding 42). URL: the rectangle's URL
	// (encoding 43), resolved by the overlay worker.
	Picture []byte
	URL     string
}

// FramebufferUpdateMsg is the server->client FramebufferUpdate[0] payload.
type FramebufferUpdateMsg struct {
	BitmapFlags uint8
	Rects       []Rect
}

// SessionSetupMsg is the client->server SessionSetup[18] payload.
type SessionSetupMsg struct {
	ClientID         string
	SessionID        string // resume, optional
	Cookie           []byte // persistence, optional
	OptionalParams   map[string]string
}

// SessionSetupResponseMsg is the server->client SessionSetupResponse[16] payload.
type SessionSetupResponseMsg struct {
	ResultCode uint8
	Result     SessionSetupResult
	SessionID  string
	Redirect   string
	Cookie     []byte
}

// SessionTerminateRequestMsg is the server->client SessionTerminateRequest[17] payload.
type SessionTerminateRequestMsg struct {
	ResultCode uint8
	Reason     SessionTerminateReason
}

// SessionTerminateIndicationReason is the client->server indication reason
// (distinct, smaller enum than the server's SessionTerminateRequest reasons).
type SessionTerminateIndicationReason uint8

const (
	IndicationNormal                SessionTerminateIndicationReason = 0
	IndicationSuspend               SessionTerminateIndicationReason = 1
	IndicationHandoff               SessionTerminateIndicationReason = 2
	IndicationClientExecutionError  SessionTerminateIndicationReason = 3
)

// KeyEventMsg is the V1.3 client->server KeyEvent[4] payload.
type KeyEventMsg struct {
	X11KeyCode uint32
	Action     KeyAction // Up(0) or Down(1) only on the wire
}

// KeyTimeEventMsg is the V2.0 client->server KeyTimeEvent[26] payload,
// carrying a millisecond latency timestamp as a string alongside the key.
type KeyTimeEventMsg struct {
	X11KeyCode uint32
	Action     KeyAction
	TimestampMs string
}

// PointerEventMsg is the client->server PointerEvent[5] payload.
type PointerEventMsg struct {
	X, Y       uint16
	ButtonMask uint8
}

// SetEncodingsMsg is the client->server SetEncodings[2] payload: the list of
// rectangle encoding ids the client accepts (picture object, URL).
type SetEncodingsMsg struct {
	Encodings []uint8
}

// FramebufferUpdateRequestMsg is the client->server
// FramebufferUpdateRequest[3] payload.
type FramebufferUpdateRequestMsg struct {
	Incremental bool
	Width       uint16
	Height      uint16
}

// ClientReportKind distinguishes the three ClientReport subtypes, which
// share message id 16 but are distinguished by a leading type string.
type ClientReportKind string

const (
	ReportKindPlayback ClientReportKind = "playback"
	ReportKindLatency  ClientReportKind = "latency"
	ReportKindLog      ClientReportKind = "log"
)

// ClientReportMsg is the client->server ClientReport[16] payload: a subtype
// tag followed by an opaque, already-serialized report body.
type ClientReportMsg struct {
	Kind ClientReportKind
	Body []byte
}

// StreamSetupRequestMsg is the server->client StreamSetupRequest[19] payload.
type StreamSetupRequestMsg struct {
	URI string
}

// StreamSetupResponseMsg is the client->server StreamSetupResponse[20] payload.
type StreamSetupResponseMsg struct {
	Code StreamSetupResponseCode
}

// StreamConfirmMsg is the client->server StreamConfirm[19] payload.
type StreamConfirmMsg struct {
	Code StreamConfirmCode
}

// PassThroughMsg carries an opaque protocol-extension payload tagged with a
// reserved extension id, in either direction.
type PassThroughMsg struct {
	ExtensionID uint32
	Data        []byte
}

// ServerCommandMsg is the V2.0 server->client ServerCommand[22] payload: a
// command name plus its already-decoded string field map, string-dispatched
// by the kernel to one of {keyfilter_control, playback_control,
// latency_control, log_control, video_control, underrun_mitigation_control}.
type ServerCommandMsg struct {
	Name   string
	Fields map[string]string
}

// HandoffRequestMsg is the V2.0 server->client HandoffRequest[23] payload.
type HandoffRequestMsg struct {
	URI string // scheme:rest, split on first ':' by the kernel
}

// HandoffResultMsg is the V2.0 client->server HandoffResult[25] payload.
type HandoffResultMsg struct {
	Code        uint8
	Description string // only meaningful for HandoffPlayerError
}

// CdmSetupRequestMsg is the V2.0 server->client CdmSetupRequest[24] payload.
type CdmSetupRequestMsg struct {
	DrmSystemID [16]byte
	InitData    []byte
}

// CdmSetupResponseMsg is the V2.0 client->server CdmSetupResponse[27] payload.
type CdmSetupResponseMsg struct {
	Result CdmSessionSetupResult
	SessionID string
}

// CdmTerminateRequestMsg is the V2.0 server->client CdmTerminateRequest[25] payload.
type CdmTerminateRequestMsg struct {
	SessionID string
}

// CdmTerminateIndicationMsg is the V2.0 client->server
// CdmTerminateIndication[28] payload.
type CdmTerminateIndicationMsg struct {
	SessionID string
	Reason    CdmSessionTerminateReason
}

// SessionUpdateMsg is the V2.0 client->server SessionUpdate[24] payload,
// used to push an updated optional-parameters map after a ParameterUpdate
// event (e.g. a changed screen resolution or manufacturer string).
type SessionUpdateMsg struct {
	OptionalParams map[string]string
}
