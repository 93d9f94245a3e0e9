package kernel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/activevideo/rfbtv-client/internal/rfbtv/codec"
)

type fakeConn struct {
	mu      sync.Mutex
	sink    StreamSink
	sent    [][]byte
	openErr error
}

func (c *fakeConn) Open(ctx context.Context, host string, port int, tls bool, sink StreamSink) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openErr != nil {
		return c.openErr
	}
	c.sink = sink
	return nil
}
func (c *fakeConn) Close() error { return nil }
func (c *fakeConn) SendData(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := append([]byte(nil), data...)
	c.sent = append(c.sent, cp)
	return nil
}
func (c *fakeConn) feed(data []byte) {
	c.mu.Lock()
	sink := c.sink
	c.mu.Unlock()
	sink.OnStreamData(data)
}
func (c *fakeConn) lastSent() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return nil
	}
	return c.sent[len(c.sent)-1]
}
func (c *fakeConn) allSent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

type fakeTimer struct{}

func (fakeTimer) After(d time.Duration, fn func()) { fn() }
func (fakeTimer) Cancel(id int)                    {}
func (fakeTimer) Schedule(d time.Duration, fn func()) int { fn(); return 0 }

type fakeReports struct{}

func (fakeReports) EnableTriggered()                      {}
func (fakeReports) EnablePeriodic(d time.Duration)         {}
func (fakeReports) Disable()                               {}
func (fakeReports) GenerateNow()                            {}
func (fakeReports) ReportUpdated()                          {}
func (fakeReports) NotifyStateChange(state PlaybackState) {}

type fakeKeyFilter struct{}

func (fakeKeyFilter) Disposition(x11Code uint32) (local, remote bool) { return false, true }

type fakeCookies struct {
	mu   sync.Mutex
	data []byte
}

func (c *fakeCookies) Load() ([]byte, error) { c.mu.Lock(); defer c.mu.Unlock(); return c.data, nil }
func (c *fakeCookies) Save(cookie []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = cookie
	return nil
}

type fakeObserver struct {
	mu     sync.Mutex
	states []ObservableState
}

func (o *fakeObserver) OnStateChanged(s ObservableState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, s)
}
func (o *fakeObserver) last() ObservableState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.states[len(o.states)-1]
}

func newTestKernel() (*Kernel, *fakeConn, *fakeObserver) {
	conn := &fakeConn{}
	obs := &fakeObserver{}
	k := New(Config{ClientManufacturer: "acme", ClientModel: "tv", MacAddress: "abc123"},
		conn, fakeTimer{}, fakeReports{}, fakeKeyFilter{}, &fakeCookies{}, obs)
	go k.Run()
	return k, conn, obs
}

func TestVersionMismatchGoesToError(t *testing.T) {
	k, conn, obs := newTestKernel()
	defer k.Stop()

	k.Initiate("host", 8095, false, "", 1280, 720, map[string]string{})
	time.Sleep(20 * time.Millisecond)
	conn.feed([]byte("RFB-TV 000.001\n"))
	time.Sleep(20 * time.Millisecond)

	last := obs.last()
	if last.State != StateError {
		t.Fatalf("expected Error state, got %v", last.State)
	}
	if last.ErrorCode != codec.ClientErrorBadVersion {
		t.Fatalf("expected bad-version code, got %v", last.ErrorCode)
	}
	for _, s := range conn.allSent() {
		if len(s) > 0 && s[0] == codec.MsgSessionSetup {
			t.Fatalf("SessionSetup must not be sent on version mismatch")
		}
	}
}

func TestHappyPathV2EchoesAndSetsUp(t *testing.T) {
	k, conn, obs := newTestKernel()
	defer k.Stop()

	k.Initiate("host", 8095, false, "", 1280, 720, map[string]string{})
	time.Sleep(20 * time.Millisecond)
	conn.feed([]byte("RFB-TV 002.000\n"))
	time.Sleep(20 * time.Millisecond)

	sent := conn.allSent()
	if len(sent) < 2 {
		t.Fatalf("expected echo + session setup, got %d messages", len(sent))
	}
	if string(sent[0]) != "RFB-TV 002.000\n" {
		t.Fatalf("echo mismatch: %q", sent[0])
	}
	if sent[1][0] != codec.MsgSessionSetup {
		t.Fatalf("expected SessionSetup, got type %d", sent[1][0])
	}

	b := codec.EncodeSessionSetupResponseForTest(0, "S", "", []byte("C"))
	conn.feed(b)
	time.Sleep(20 * time.Millisecond)

	last := obs.last()
	if last.State != StateActive {
		t.Fatalf("expected Active state, got %v", last.State)
	}
}

func TestRedirectLoopCappedAt20(t *testing.T) {
	k, conn, obs := newTestKernel()
	defer k.Stop()

	k.Initiate("host", 8095, false, "", 1280, 720, map[string]string{})
	time.Sleep(20 * time.Millisecond)
	conn.feed([]byte("RFB-TV 002.000\n"))
	time.Sleep(20 * time.Millisecond)

	redirect := codec.EncodeSessionSetupResponseForTest(1, "", "rfbtv://h:1", nil)
	for i := 0; i < 21; i++ {
		conn.feed(redirect)
		time.Sleep(5 * time.Millisecond)
		// Every redirect causes a fresh version string to be awaited; feed it
		// so the kernel can re-send SessionSetup and receive the next redirect.
		if obs.last().State != StateError {
			conn.feed([]byte("RFB-TV 002.000\n"))
			time.Sleep(5 * time.Millisecond)
		}
	}

	last := obs.last()
	if last.State != StateError {
		t.Fatalf("expected Error after 21 redirects, got %v", last.State)
	}
	if last.ErrorCode != codec.ClientErrorTooManyRedirects {
		t.Fatalf("expected too-many-redirects code, got %v", last.ErrorCode)
	}
}

func TestKeyDownAndUpEmitsTwoMessages(t *testing.T) {
	k, conn, obs := newTestKernel()
	defer k.Stop()

	k.Initiate("host", 8095, false, "", 1280, 720, map[string]string{})
	time.Sleep(20 * time.Millisecond)
	conn.feed([]byte("RFB-TV 002.000\n"))
	time.Sleep(20 * time.Millisecond)
	conn.feed(codec.EncodeSessionSetupResponseForTest(0, "S", "", []byte("C")))
	time.Sleep(20 * time.Millisecond)
	if obs.last().State != StateActive {
		t.Fatalf("precondition: expected Active, got %v", obs.last().State)
	}

	before := len(conn.allSent())
	k.SendKey(0x15, codec.KeyDownAndUp)
	time.Sleep(20 * time.Millisecond)
	after := conn.allSent()
	if len(after)-before != 2 {
		t.Fatalf("expected 2 new messages, got %d", len(after)-before)
	}
	if after[len(after)-2][0] != codec.MsgKeyTimeEvent || after[len(after)-1][0] != codec.MsgKeyTimeEvent {
		t.Fatalf("expected two KeyTimeEvent messages")
	}
}
