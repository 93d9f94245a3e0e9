// Package kernel implements the RFB-TV session state machine: a
// single-consumer FIFO event queue linearizing every session mutation
// (spec §4.3). It is the direct generalization of the original client's
// SessionImpl, with the BoundEvent/Handler inheritance hierarchy (spec §9)
// replaced by the closures built in events.go.
package kernel

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	rerrors "github.com/activevideo/rfbtv-client/internal/errors"
	"github.com/activevideo/rfbtv-client/internal/logger"
	"github.com/activevideo/rfbtv-client/internal/rfbtv/codec"
	"github.com/activevideo/rfbtv-client/internal/wire"
)

// Connection abstracts ConnectionWorker (spec §4.4): opened once per
// connect attempt, closed on teardown, reused for the lifetime of one TCP
// session.
type Connection interface {
	Open(ctx context.Context, host string, port int, tls bool, sink StreamSink) error
	Close() error
	SendData(data []byte) error
}

// StreamSink receives inbound bytes and transport errors from a Connection,
// translated by the caller into kernel events.
type StreamSink interface {
	OnStreamData(data []byte)
	OnStreamError(kind StreamErrorKind)
}

// Timer abstracts the cooperative scheduler (internal/rfbtv/timerengine).
// The kernel itself calls only After, to schedule reconnect backoff; it
// arms no stream-setup timeout, and periodic report triggers come from
// timerengine's own loops.
type Timer interface {
	After(d time.Duration, fn func())
	Cancel(id int)
	Schedule(d time.Duration, fn func()) int
}

// ReportTransmitter abstracts internal/rfbtv/reports.Manager.
type ReportTransmitter interface {
	EnableTriggered()
	EnablePeriodic(interval time.Duration)
	Disable()
	GenerateNow()
	ReportUpdated()
	NotifyStateChange(state PlaybackState)
}

// KeyFilter abstracts internal/rfbtv/keyfilter.Filter.
type KeyFilter interface {
	Disposition(x11Code uint32) (local, remote bool)
}

// CookieStore abstracts internal/persistence.Store.
type CookieStore interface {
	Load() ([]byte, error)
	Save(cookie []byte) error
}

// FramebufferSink abstracts internal/rfbtv/overlay.Worker: the kernel
// itself has no rendering concern, it only hands a parsed
// FramebufferUpdate off to whatever owns the screen.
type FramebufferSink interface {
	Submit(m *codec.FramebufferUpdateMsg)
}

// CdmFactory abstracts internal/rfbtv/cdm.Registry: looked up by 16-byte
// DRM system id on a server CdmSetupRequest. Setup/Terminate are
// asynchronous; the result arrives later through
// NotifyCdmSetupResult/NotifyCdmTerminateResult rather than a return
// value, per spec §4.3's "results return as events".
type CdmFactory interface {
	Setup(sessionID string, drmSystemID [16]byte, initData []byte)
	Terminate(sessionID string)
}

// Config is the set of session-scoped parameters the embedder supplies at
// construction (spec §9: "expose ClientContext through dependency
// injection, do not make it a process-wide singleton").
type Config struct {
	ClientManufacturer string
	ClientModel        string
	MacAddress         string
	SetupParams        map[string]string
	ScreenWidth        uint16
	ScreenHeight       uint16
}

// Kernel is the session state machine. Apart from SetCdmFactory,
// SetFramebufferSink and Stop, which set their fields directly under the
// mutex, all exported methods enqueue an event and return immediately;
// all other state mutation happens inside Run, on the kernel's own
// goroutine.
type Kernel struct {
	mu sync.Mutex // guards everything below; held only while a handler runs

	cfg   Config
	queue *eventQueue

	conn   Connection
	timer  Timer
	reports ReportTransmitter
	keys   KeyFilter
	cookies CookieStore
	observer Observer
	cdm      CdmFactory
	fbSink   FramebufferSink

	state      SessionState
	codec      *codec.Codec
	version    codec.Version
	host       string
	port       int
	tls        bool
	url        string
	sessionID  string
	clientID   string

	recvBuf       *wire.Buffer
	connectAttempt int
	redirectCount  int

	pointerButtons uint8
	playback       PlaybackState
	playbackSeen   bool
	stalledSince   time.Time
	stallAccum     time.Duration

	stopped bool

	sessionStartedAt time.Time
}

// New constructs a Kernel. None of the collaborator parameters may be nil.
func New(cfg Config, conn Connection, timer Timer, reports ReportTransmitter, keys KeyFilter, cookies CookieStore, observer Observer) *Kernel {
	return &Kernel{
		cfg:     cfg,
		queue:   newEventQueue(),
		conn:    conn,
		timer:   timer,
		reports: reports,
		keys:    keys,
		cookies: cookies,
		observer: observer,
		state:   StateInit,
		recvBuf: wire.New(),
	}
}

// SetCdmFactory installs the DRM session factory used to service
// CdmSetupRequest/CdmTerminateRequest (§4.3). Optional: without one, a
// CdmSetupRequest is logged and answered with a CdmSetupResponse carrying
// UnspecifiedError, and a CdmTerminateRequest is ignored.
func (k *Kernel) SetCdmFactory(f CdmFactory) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.cdm = f
}

// SetFramebufferSink installs the overlay worker that renders
// FramebufferUpdate rectangles. Optional: without one, FramebufferUpdate
// messages are dropped and no follow-up FramebufferUpdateRequest is sent.
func (k *Kernel) SetFramebufferSink(sink FramebufferSink) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.fbSink = sink
}

// NotifyCdmSetupResult is called by the installed CdmFactory once an
// asynchronous setup completes.
func (k *Kernel) NotifyCdmSetupResult(sessionID string, result codec.CdmSessionSetupResult) {
	k.queue.Put(newCdmSetupResultEvent(sessionID, result))
}

// NotifyCdmTerminateResult is called by the installed CdmFactory once an
// asynchronous terminate completes.
func (k *Kernel) NotifyCdmTerminateResult(sessionID string) {
	k.queue.Put(newCdmTerminateResultEvent(sessionID))
}

// NotifyCdmSessionTerminate is called by the installed CdmFactory (or the
// media pipeline) when a CDM session terminates on its own, e.g. after a
// license expiry, without a prior client-initiated terminate request.
func (k *Kernel) NotifyCdmSessionTerminate(sessionID string, reason codec.CdmSessionTerminateReason) {
	k.queue.Put(newCdmSessionTerminateEvent(sessionID, reason))
}

// Run processes events until Stop is called. It must run on a dedicated
// goroutine; apart from the fields set by SetCdmFactory,
// SetFramebufferSink and Stop, only the events it dispatches mutate
// Kernel state.
func (k *Kernel) Run() {
	for {
		ev, ok := k.queue.Get()
		if !ok {
			return
		}
		k.mu.Lock()
		stop := k.stopped
		k.mu.Unlock()
		if stop && ev.Name != "null" {
			continue
		}
		ev.Dispatch(k)
	}
}

// Stop marks the kernel stopped, enqueues a no-op event and closes the
// queue (mirrors "enqueueing a no-op event and setting a stop flag"). Run
// takes any events still queued off the queue without dispatching them,
// dispatches the no-op, and returns once the queue is empty.
func (k *Kernel) Stop() {
	k.mu.Lock()
	k.stopped = true
	k.mu.Unlock()
	k.queue.Put(nullEvent())
	k.queue.Close()
}

// --- Public entry points (each enqueues and returns) ---

func (k *Kernel) Initiate(host string, port int, tls bool, sessionURL string, screenW, screenH uint16, params map[string]string) {
	k.queue.Put(newInitiateEvent(host, port, tls, sessionURL, screenW, screenH, params))
}
func (k *Kernel) Terminate()                       { k.queue.Put(newTerminateEvent()) }
func (k *Kernel) Suspend()                         { k.queue.Put(newSuspendEvent()) }
func (k *Kernel) Resume()                          { k.queue.Put(newResumeEvent()) }
func (k *Kernel) UpdateParameters(p map[string]string) { k.queue.Put(newParameterUpdateEvent(p)) }
func (k *Kernel) SendKey(x11Code uint32, action codec.KeyAction) {
	if action == codec.KeyDownAndUp {
		k.queue.Put(newKeyEvent(x11Code, codec.KeyDown))
		k.queue.Put(newKeyEvent(x11Code, codec.KeyUp))
		return
	}
	k.queue.Put(newKeyEvent(x11Code, action))
}
func (k *Kernel) SendPointer(x, y uint16, action codec.PointerAction) {
	k.queue.Put(newPointerEvent(x, y, action))
}
func (k *Kernel) NotifyPlayerEvent(state PlaybackState) { k.queue.Put(newPlayerEvent(state)) }
func (k *Kernel) NotifyStall()                          { k.queue.Put(newStallEvent()) }

func (k *Kernel) OnStreamData(data []byte)         { k.queue.Put(newStreamDataEvent(data)) }
func (k *Kernel) OnStreamError(kind StreamErrorKind) { k.queue.Put(newStreamErrorEvent(kind)) }

// TriggerStreamTimeoutExpired enqueues a StreamTimeoutExpired event, which
// sends StreamConfirm(DecodeError) while the session is Active. Nothing in
// the module arms a timer for it: handlePlayerEvent starts no
// decode-recovery timer, and no timerengine loop calls it.
func (k *Kernel) TriggerStreamTimeoutExpired() { k.queue.Put(newStreamTimeoutExpiredEvent()) }

// TriggerPlaybackReportPeriodic is called by internal/rfbtv/timerengine at
// the periodic-report polling granularity (100ms, per §4.8).
func (k *Kernel) TriggerPlaybackReportPeriodic() {
	k.queue.Put(newPlaybackReportPeriodicTriggerEvent())
}

// TriggerConnect enqueues the timer-driven reconnect attempt; exposed so
// internal/rfbtv/timerengine can schedule it uniformly alongside the other
// periodic triggers even though the kernel also schedules it directly via
// the injected Timer for backoff delays.
func (k *Kernel) TriggerConnect() { k.queue.Put(newConnectEvent()) }

// --- State transitions & observer notification ---

func (k *Kernel) setState(s SessionState, code codec.ClientErrorCode) {
	k.state = s
	if k.observer != nil {
		k.observer.OnStateChanged(ObservableState{State: s, ErrorCode: code})
	}
}

func (k *Kernel) closeSessionInCaseOfError(code codec.ClientErrorCode) {
	if k.state == StateError {
		return
	}
	k.teardownConnection()
	k.setState(StateError, code)
}

func (k *Kernel) teardownConnection() {
	if k.conn != nil {
		_ = k.conn.Close()
	}
}

// --- Handlers ---

func (k *Kernel) handleInitiate(host string, port int, tls bool, sessionURL string, screenW, screenH uint16, params map[string]string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.state != StateInit && k.state != StateRedirected {
		logger.Logger().Warn("initiate called outside Init/Redirected", "state", k.state.String())
		return
	}

	k.host = host
	k.port = port
	k.tls = tls
	k.url = sessionURL
	k.cfg.ScreenWidth = screenW
	k.cfg.ScreenHeight = screenH
	k.cfg.SetupParams = params
	k.sessionStartedAt = time.Now()
	k.connectAttempt = 0
	k.redirectCount = 0
	k.playbackSeen = false
	k.stallAccum = 0
	k.recvBuf.Clear()

	k.setState(StateInitiated, codec.ClientErrorOk)
	k.handleConnectLocked()
}

func (k *Kernel) handleConnect() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.handleConnectLocked()
}

// handleConnectLocked parses the session URL and opens the transport. Must
// be called with k.mu held.
func (k *Kernel) handleConnectLocked() {
	host, port, tls, err := resolveConnectTarget(k.url, k.host, k.port, k.tls)
	if err != nil {
		k.closeSessionInCaseOfError(codec.ClientErrorNoHostOrConfig)
		return
	}
	k.host, k.port, k.tls = host, port, tls

	k.setState(StateConnecting, codec.ClientErrorOk)
	sink := kernelSink{k: k}
	if err := k.conn.Open(context.Background(), host, port, tls, sink); err != nil {
		k.scheduleReconnectLocked(classifyDialError(err))
		return
	}
}

// resolveConnectTarget applies the scheme/port rules of spec §6.5.
func resolveConnectTarget(sessionURL, fallbackHost string, fallbackPort int, fallbackTLS bool) (string, int, bool, error) {
	if sessionURL == "" {
		return fallbackHost, fallbackPort, fallbackTLS, nil
	}
	u, err := url.Parse(sessionURL)
	if err != nil {
		return "", 0, false, rerrors.NewProtocolError("kernel.resolveConnectTarget", err)
	}
	var tls bool
	switch u.Scheme {
	case "rfbtv":
		tls = false
	case "rfbtvs":
		tls = true
	default:
		return "", 0, false, rerrors.NewProtocolError("kernel.resolveConnectTarget", fmt.Errorf("unsupported scheme %q", u.Scheme))
	}
	host := u.Hostname()
	port := 8095
	if p := u.Port(); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil {
			port = parsed
		}
	}
	return host, port, tls, nil
}

func classifyDialError(err error) StreamErrorKind {
	if err == nil {
		return StreamErrorOk
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "no such host") || strings.Contains(msg, "not found") {
		return StreamErrorHostNotFound
	}
	return StreamErrorSocketRead
}

// scheduleReconnectLocked implements spec §4.3's reconnection policy. Must
// be called with k.mu held.
func (k *Kernel) scheduleReconnectLocked(kind StreamErrorKind) {
	if kind == StreamErrorThreadShutdown {
		return
	}
	if kind == StreamErrorHostNotFound {
		k.closeSessionInCaseOfError(codec.ClientErrorUnspecified)
		return
	}
	delay, ok := backoffDelay(k.connectAttempt, func(n int) int { return rand.Intn(n) })
	if !ok {
		k.closeSessionInCaseOfError(codec.ClientErrorUnspecified) // code 190
		return
	}
	k.connectAttempt++
	k.timer.After(delay, func() { k.queue.Put(newConnectEvent()) })
}

func (k *Kernel) handleStreamError(kind StreamErrorKind) {
	k.mu.Lock()
	defer k.mu.Unlock()
	switch kind {
	case StreamErrorOk, StreamErrorSocketRead:
		if k.state == StateInitiated {
			k.handleConnectLocked()
			return
		}
		k.scheduleReconnectLocked(kind)
	case StreamErrorHostNotFound:
		k.closeSessionInCaseOfError(codec.ClientErrorUnspecified)
	case StreamErrorThreadShutdown:
		// silent
	default:
		k.scheduleReconnectLocked(kind)
	}
}

func (k *Kernel) handleStreamData(data []byte) {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.recvBuf.WriteRaw(data)

	if k.state == StateConnecting {
		v, echo, err := codec.ParseVersionString(k.recvBuf)
		if err != nil {
			if rerrors.IsProtocolError(err) {
				k.closeSessionInCaseOfError(codec.ClientErrorBadVersion)
				return
			}
			// underflow: need more bytes, keep buffered.
			k.recvBuf.Rewind()
			return
		}
		k.version = v
		k.codec = codec.NewCodec(v)
		k.recvBuf.DiscardBytesRead()

		if err := k.conn.SendData([]byte(echo)); err != nil {
			k.closeSessionInCaseOfError(codec.ClientErrorUnspecified)
			return
		}
		k.setState(StateOpening, codec.ClientErrorOk)
		k.sendSessionSetupLocked()
		return
	}

	for {
		msgType, payload, err := k.codec.ParseMessage(k.recvBuf)
		if err == codec.ErrNeedMoreData {
			break
		}
		if err != nil {
			k.closeSessionInCaseOfError(codec.ClientErrorUnspecified)
			return
		}
		k.dispatchServerMessageLocked(msgType, payload)
		if k.state == StateError {
			return
		}
	}
	k.recvBuf.DiscardBytesRead()
}

func (k *Kernel) sendSessionSetupLocked() {
	cookie, _ := k.cookies.Load()
	k.clientID = deriveClientID(k.cfg.ClientManufacturer, k.cfg.ClientModel, k.cfg.MacAddress)
	msg := codec.SessionSetupMsg{
		ClientID:       k.clientID,
		SessionID:      k.sessionID,
		Cookie:         cookie,
		OptionalParams: k.cfg.SetupParams,
	}
	_ = k.conn.SendData(codec.EncodeSessionSetup(msg, k.version))
}

func deriveClientID(manufacturer, model, mac string) string {
	return strings.ToLower(strings.ReplaceAll(manufacturer+"-"+model+"_"+mac, " ", ""))
}

func (k *Kernel) dispatchServerMessageLocked(msgType uint8, payload interface{}) {
	switch msgType {
	case codec.MsgSessionSetupResponse:
		k.onSessionSetupResponse(payload.(*codec.SessionSetupResponseMsg))
	case codec.MsgSessionTerminateRequest:
		k.onSessionTerminateRequest(payload.(*codec.SessionTerminateRequestMsg))
	case codec.MsgPing:
		_ = k.conn.SendData(codec.EncodePong())
	case codec.MsgFramebufferUpdate:
		// The overlay worker issues the next FramebufferUpdateRequest once
		// its rectangle loads start, so the kernel itself does nothing
		// further here.
		if k.fbSink != nil {
			k.fbSink.Submit(payload.(*codec.FramebufferUpdateMsg))
		}
	case codec.MsgStreamSetupRequest:
		k.onStreamSetupRequest(payload.(*codec.StreamSetupRequestMsg))
	case codec.MsgPassThroughIn:
		pt := payload.(*codec.PassThroughMsg)
		k.queue.Put(newProtocolExtensionSendEvent(pt.ExtensionID, pt.Data))
	case codec.MsgServerCommand:
		k.onServerCommand(payload.(*codec.ServerCommandMsg))
	case codec.MsgHandoffRequest:
		k.onHandoffRequest(payload.(*codec.HandoffRequestMsg))
	case codec.MsgCdmSetupRequest:
		k.onCdmSetupRequest(payload.(*codec.CdmSetupRequestMsg))
	case codec.MsgCdmTerminateRequest:
		k.onCdmTerminateRequest(payload.(*codec.CdmTerminateRequestMsg))
	}
}

func (k *Kernel) onSessionSetupResponse(m *codec.SessionSetupResponseMsg) {
	_ = k.cookies.Save(m.Cookie)

	switch m.Result {
	case codec.SetupOk:
		k.sessionID = m.SessionID
		k.setState(StateActive, codec.ClientErrorOk)
		_ = k.conn.SendData(codec.EncodeSetEncodings(codec.SetEncodingsMsg{
			Encodings: []uint8{codec.RectEncodingPictureObject, codec.RectEncodingURL},
		}))
		_ = k.conn.SendData(codec.EncodeFramebufferUpdateRequest(codec.FramebufferUpdateRequestMsg{
			Incremental: false, Width: k.cfg.ScreenWidth, Height: k.cfg.ScreenHeight,
		}))
	case codec.SetupRedirect:
		k.redirectCount++
		if k.redirectCount > 20 {
			k.closeSessionInCaseOfError(codec.ClientErrorTooManyRedirects)
			return
		}
		k.url = m.Redirect
		k.setState(StateRedirected, codec.ClientErrorOk)
		k.teardownConnection()
		k.handleConnectLocked()
	default:
		k.closeSessionInCaseOfError(codec.ClientErrorForSetupResult(m.Result))
	}
}

func (k *Kernel) onSessionTerminateRequest(m *codec.SessionTerminateRequestMsg) {
	k.teardownConnection()
	k.setState(StateInit, codec.ClientErrorForTerminateReason(m.Reason))
}

func (k *Kernel) onStreamSetupRequest(m *codec.StreamSetupRequestMsg) {
	_ = k.conn.SendData(codec.EncodeStreamSetupResponse(codec.StreamSetupSuccess, k.version))
	_ = m
}

func (k *Kernel) onServerCommand(m *codec.ServerCommandMsg) {
	switch m.Name {
	case "keyfilter_control":
	case "playback_control":
		k.dispatchPlaybackControl(m.Fields)
	case "latency_control":
	case "log_control":
	case "video_control":
	case "underrun_mitigation_control":
	default:
		logger.Logger().Warn("unknown server command", "name", m.Name)
	}
}

func (k *Kernel) dispatchPlaybackControl(fields map[string]string) {
	mode, ok := fields["report_mode"]
	if !ok {
		return
	}
	switch mode {
	case "triggered":
		k.reports.EnableTriggered()
	case "automatic":
		if iv, ok := fields["interval_ms"]; ok {
			if n, err := strconv.Atoi(iv); err == nil {
				k.reports.EnablePeriodic(time.Duration(n) * time.Millisecond)
			}
		}
	case "one_shot":
		k.reports.GenerateNow()
	case "disabled":
		k.reports.Disable()
	default:
		logger.Logger().Warn("unrecognized report mode, defaulting to no-change", "mode", mode)
	}
}

func (k *Kernel) onHandoffRequest(m *codec.HandoffRequestMsg) {
	parts := strings.SplitN(m.URI, ":", 2)
	if len(parts) != 2 {
		_ = k.conn.SendData(codec.EncodeHandoffResult(codec.HandoffResultMsg{Code: codec.HandoffResultCode(codec.HandoffUnsupportedURI)}))
		return
	}
	// No scheme handlers exist in this package: a URI with a scheme is
	// answered with UnsupportedURI just like one without.
	_ = k.conn.SendData(codec.EncodeHandoffResult(codec.HandoffResultMsg{Code: codec.HandoffResultCode(codec.HandoffUnsupportedURI)}))
}

func (k *Kernel) onCdmSetupRequest(m *codec.CdmSetupRequestMsg) {
	if k.cdm == nil {
		logger.Logger().Warn("cdm setup request with no factory installed")
		_ = k.conn.SendData(codec.EncodeCdmSetupResponse(codec.CdmSetupResponseMsg{Result: codec.CdmSetupUnspecifiedError}))
		return
	}
	sessionID := uuid.NewString()
	k.cdm.Setup(sessionID, m.DrmSystemID, m.InitData)
}

func (k *Kernel) onCdmTerminateRequest(m *codec.CdmTerminateRequestMsg) {
	if k.cdm == nil {
		return
	}
	k.cdm.Terminate(m.SessionID)
}

func (k *Kernel) handleKey(x11Code uint32, action codec.KeyAction) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.state != StateActive {
		return
	}
	local, remote := k.keys.Disposition(x11Code)
	_ = local
	if !remote {
		return
	}
	if k.version == codec.V2_0 {
		ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
		_ = k.conn.SendData(codec.EncodeKeyTimeEvent(codec.KeyTimeEventMsg{X11KeyCode: x11Code, Action: action, TimestampMs: ts}))
	} else {
		_ = k.conn.SendData(codec.EncodeKeyEvent(codec.KeyEventMsg{X11KeyCode: x11Code, Action: action}))
	}
}

func (k *Kernel) handlePointer(x, y uint16, action codec.PointerAction) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.state != StateActive {
		return
	}
	switch action {
	case codec.PointerDown:
		k.pointerButtons |= 1
	case codec.PointerUp:
		k.pointerButtons &^= 1
	}
	_ = k.conn.SendData(codec.EncodePointerEvent(codec.PointerEventMsg{X: x, Y: y, ButtonMask: k.pointerButtons}))
}

func (k *Kernel) handlePlayerEvent(state PlaybackState) {
	k.mu.Lock()
	defer k.mu.Unlock()
	first := !k.playbackSeen
	k.playbackSeen = true
	prior := k.playback
	k.playback = state

	switch state {
	case PlaybackPlaying:
		if first {
			_ = k.conn.SendData(codec.EncodeStreamConfirm(codec.StreamConfirmSuccess, k.version))
		}
	case PlaybackStalled:
		if k.stalledSince.IsZero() {
			k.stalledSince = time.Now()
		}
	case PlaybackStopped:
		if !k.stalledSince.IsZero() {
			k.stallAccum += time.Since(k.stalledSince)
			k.stalledSince = time.Time{}
		}
	}
	if prior != state {
		k.reports.NotifyStateChange(state)
		k.reports.ReportUpdated()
	}
}

func (k *Kernel) handleStall() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.stalledSince.IsZero() {
		k.stalledSince = time.Now()
	}
}

func (k *Kernel) handleLatencyData(data string) { _ = data }

func (k *Kernel) handleParameterUpdate(params map[string]string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.cfg.SetupParams = params
	if k.state == StateActive && k.version == codec.V2_0 {
		_ = k.conn.SendData(codec.EncodeSessionUpdate(codec.SessionUpdateMsg{OptionalParams: params}))
	}
}

func (k *Kernel) handleTerminate() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.state == StateActive || k.state == StateOpening {
		_ = k.conn.SendData(codec.EncodeSessionTerminateIndication(codec.IndicationNormal))
	}
	k.teardownConnection()
	k.setState(StateInit, codec.ClientErrorOk)
}

func (k *Kernel) handleSuspend() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.state != StateActive {
		return
	}
	_ = k.conn.SendData(codec.EncodeSessionTerminateIndication(codec.IndicationSuspend))
	k.teardownConnection()
	k.setState(StateSuspended, codec.ClientErrorOk)
}

func (k *Kernel) handleResume() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.state != StateSuspended {
		return
	}
	k.setState(StateConnecting, codec.ClientErrorOk)
	k.handleConnectLocked()
}

func (k *Kernel) handleCdmSessionTerminate(sessionID string, reason codec.CdmSessionTerminateReason) {
	k.mu.Lock()
	defer k.mu.Unlock()
	_ = k.conn.SendData(codec.EncodeCdmTerminateIndication(codec.CdmTerminateIndicationMsg{SessionID: sessionID, Reason: reason}))
}

func (k *Kernel) handleCdmSetupResult(sessionID string, result codec.CdmSessionSetupResult) {
	k.mu.Lock()
	defer k.mu.Unlock()
	_ = k.conn.SendData(codec.EncodeCdmSetupResponse(codec.CdmSetupResponseMsg{Result: result, SessionID: sessionID}))
}

func (k *Kernel) handleCdmTerminateResult(sessionID string) { _ = sessionID }

func (k *Kernel) handleProtocolExtensionSend(extensionID uint32, data []byte) {
	k.mu.Lock()
	defer k.mu.Unlock()
	_ = k.conn.SendData(codec.EncodePassThrough(codec.PassThroughMsg{ExtensionID: extensionID, Data: data}))
}

func (k *Kernel) handleStreamTimeoutExpired() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.state == StateActive {
		_ = k.conn.SendData(codec.EncodeStreamConfirm(codec.StreamConfirmDecodeError, k.version))
	}
}

func (k *Kernel) handlePlaybackReportPeriodicTrigger() {
	k.reports.ReportUpdated()
}

func (k *Kernel) handleFrameBufferUpdateRequest(incremental bool, w, h uint16) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.state != StateActive {
		return
	}
	_ = k.conn.SendData(codec.EncodeFramebufferUpdateRequest(codec.FramebufferUpdateRequestMsg{Incremental: incremental, Width: w, Height: h}))
}

// kernelSink adapts Kernel to the Connection's StreamSink interface.
type kernelSink struct{ k *Kernel }

func (s kernelSink) OnStreamData(data []byte)          { s.k.OnStreamData(data) }
func (s kernelSink) OnStreamError(kind StreamErrorKind) { s.k.OnStreamError(kind) }
