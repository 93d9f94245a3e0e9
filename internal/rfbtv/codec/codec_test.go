package codec

import (
	"testing"

	"github.com/activevideo/rfbtv-client/internal/wire"
)

func TestParseVersionStringPicksHighestSupported(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want Version
		ok   bool
	}{
		{"exact v2", "RFB-TV 002.000\n", V2_0, true},
		{"exact v1.3", "RFB-TV 001.001\n", V1_3, true},
		{"server ahead of v2, falls back to v2", "RFB-TV 003.000\n", V2_0, true},
		{"server below v1.3, no match", "RFB-TV 000.001\n", VersionUnknown, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			buf := wire.FromBytes([]byte(tc.in))
			v, echo, err := ParseVersionString(buf)
			if tc.ok {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if v != tc.want {
					t.Fatalf("version = %v, want %v", v, tc.want)
				}
				if len(echo) != versionStringLen {
					t.Fatalf("echo length = %d", len(echo))
				}
			} else if err == nil {
				t.Fatalf("expected error for %q", tc.in)
			}
		})
	}
}

func TestSessionSetupV2LeadsWithClientIDString(t *testing.T) {
	msg := SessionSetupMsg{ClientID: "acme-tv_abc123", OptionalParams: map[string]string{}}
	out := EncodeSessionSetup(msg, V2_0)

	buf := wire.FromBytes(out)
	if got := buf.ReadUint8(); got != MsgSessionSetup {
		t.Fatalf("type = %d", got)
	}
	if got := buf.ReadString(); got != "acme-tv_abc123" {
		t.Fatalf("client id = %q", got)
	}
	count := buf.ReadUint8()
	if count != 0 {
		t.Fatalf("expected zero optional params, got %d", count)
	}
}

func TestSessionSetupV1PutsClientIDInMap(t *testing.T) {
	msg := SessionSetupMsg{ClientID: "box1", OptionalParams: map[string]string{}}
	out := EncodeSessionSetup(msg, V1_3)

	buf := wire.FromBytes(out)
	_ = buf.ReadUint8() // type
	count := buf.ReadUint8()
	if count != 1 {
		t.Fatalf("expected 1 kv pair (clientid), got %d", count)
	}
	k, v := buf.ReadString(), buf.ReadString()
	if k != "clientid" || v != "box1" {
		t.Fatalf("kv = %s=%s", k, v)
	}
}

func TestPingDecodesAndPongEncodes(t *testing.T) {
	c := NewCodec(V2_0)
	buf := wire.New()
	buf.WriteUint8(MsgPing)
	r := wire.FromBytes(buf.Bytes())

	msgType, _, err := c.ParseMessage(r)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if msgType != MsgPing {
		t.Fatalf("msgType = %d", msgType)
	}

	pong := EncodePong()
	if len(pong) != 1 || pong[0] != MsgPong {
		t.Fatalf("unexpected pong encoding: %v", pong)
	}
}

func TestParseMessageNeedsMoreDataRewinds(t *testing.T) {
	c := NewCodec(V2_0)
	// A session setup response header claims more bytes than are present.
	b := wire.New()
	b.WriteUint8(MsgSessionSetupResponse)
	b.WriteUint8(0) // result code
	b.WriteUint16(4)
	b.WriteRaw([]byte("ab")) // truncated string body

	r := wire.FromBytes(b.Bytes())
	_, _, err := c.ParseMessage(r)
	if err != ErrNeedMoreData {
		t.Fatalf("expected ErrNeedMoreData, got %v", err)
	}
	if r.BytesRead() != 0 {
		t.Fatalf("expected cursor rewound to 0, got %d", r.BytesRead())
	}
}

func TestServerCommandRejectedUnderV1(t *testing.T) {
	c := NewCodec(V1_3)
	b := wire.New()
	b.WriteUint8(MsgServerCommand)
	b.WriteString("playback_control")
	b.WriteKeyValuePairs(map[string]string{})

	r := wire.FromBytes(b.Bytes())
	_, _, err := c.ParseMessage(r)
	if err == nil {
		t.Fatalf("expected error: ServerCommand is V2.0-only")
	}
}

func TestFramebufferUpdateRectEncodings(t *testing.T) {
	c := NewCodec(V2_0)
	b := wire.New()
	b.WriteUint8(MsgFramebufferUpdate)
	b.WriteUint8(BitmapFlagClear | BitmapFlagCommit)
	b.WriteUint16(2)
	// rect 1: picture object
	b.WriteUint16(0)
	b.WriteUint16(0)
	b.WriteUint16(100)
	b.WriteUint16(100)
	b.WriteUint8(RectEncodingPictureObject)
	b.WriteUint8(255)
	b.WriteBlob([]byte{1, 2, 3})
	// rect 2: URL
	b.WriteUint16(100)
	b.WriteUint16(0)
	b.WriteUint16(50)
	b.WriteUint16(50)
	b.WriteUint8(RectEncodingURL)
	b.WriteUint8(255)
	b.WriteString("http://example/img.png")

	r := wire.FromBytes(b.Bytes())
	msgType, payload, err := c.ParseMessage(r)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if msgType != MsgFramebufferUpdate {
		t.Fatalf("msgType = %d", msgType)
	}
	fb := payload.(*FramebufferUpdateMsg)
	if len(fb.Rects) != 2 {
		t.Fatalf("expected 2 rects, got %d", len(fb.Rects))
	}
	if fb.Rects[0].Encoding != RectEncodingPictureObject || len(fb.Rects[0].Picture) != 3 {
		t.Fatalf("rect0 mismatch: %+v", fb.Rects[0])
	}
	if fb.Rects[1].Encoding != RectEncodingURL || fb.Rects[1].URL != "http://example/img.png" {
		t.Fatalf("rect1 mismatch: %+v", fb.Rects[1])
	}
}

func TestKeyTimeEventDownAndUpPair(t *testing.T) {
	ts := "123456"
	down := EncodeKeyTimeEvent(KeyTimeEventMsg{X11KeyCode: 0x15, Action: KeyDown, TimestampMs: ts})
	up := EncodeKeyTimeEvent(KeyTimeEventMsg{X11KeyCode: 0x15, Action: KeyUp, TimestampMs: ts})

	rd := wire.FromBytes(down)
	if rd.ReadUint8() != MsgKeyTimeEvent {
		t.Fatalf("down: wrong type")
	}
	if code := rd.ReadUint32(); code != 0x15 {
		t.Fatalf("down: code = %x", code)
	}
	if a := rd.ReadUint8(); KeyAction(a) != KeyDown {
		t.Fatalf("down: action = %d", a)
	}
	if got := rd.ReadString(); got != ts {
		t.Fatalf("down: ts = %q", got)
	}

	ru := wire.FromBytes(up)
	ru.ReadUint8()
	ru.ReadUint32()
	if a := ru.ReadUint8(); KeyAction(a) != KeyUp {
		t.Fatalf("up: action = %d", a)
	}
	if got := ru.ReadString(); got != ts {
		t.Fatalf("up: ts = %q", got)
	}
}

func TestResultCodeTranslation(t *testing.T) {
	if got := DecodeSessionSetupResult(1, V2_0); got != SetupRedirect {
		t.Fatalf("setup 1 = %v", got)
	}
	if got := DecodeSessionSetupResult(255, V2_0); got != SetupUnspecifiedError {
		t.Fatalf("setup 255 (v2) = %v", got)
	}
	if got := DecodeSessionSetupResult(255, V1_3); got != SetupUndefinedError {
		t.Fatalf("setup 255 (v1.3) = %v", got)
	}
	if got := DecodeSessionSetupResult(99, V2_0); got != SetupUndefinedError {
		t.Fatalf("setup 99 = %v", got)
	}
	if got := DecodeSessionTerminateReason(14, V2_0); got != TerminateDoNotRetune {
		t.Fatalf("terminate 14 = %v", got)
	}
	if got := StreamSetupWireCode(StreamSetupConnectionFailed, V1_3); got != 21 {
		t.Fatalf("stream setup connection failed v1.3 = %d", got)
	}
	if got := StreamSetupWireCode(StreamSetupConnectionFailed, V2_0); got != 24 {
		t.Fatalf("stream setup connection failed v2 = %d", got)
	}
	if got := StreamConfirmWireCode(StreamConfirmUnspecifiedError, V1_3); got != 36 {
		t.Fatalf("stream confirm unspecified v1.3 = %d", got)
	}
	if got := StreamConfirmWireCode(StreamConfirmUnspecifiedError, V2_0); got != 255 {
		t.Fatalf("stream confirm unspecified v2 = %d", got)
	}
	if got := HandoffResultCode(HandoffPlayerError); got != 51 {
		t.Fatalf("handoff player error = %d", got)
	}
}
