package transport

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/activevideo/rfbtv-client/internal/rfbtv/kernel"
)

type recordingSink struct {
	mu   sync.Mutex
	data [][]byte
	errs []kernel.StreamErrorKind
}

func (s *recordingSink) OnStreamData(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := append([]byte(nil), data...)
	s.data = append(s.data, cp)
}
func (s *recordingSink) OnStreamError(kind kernel.StreamErrorKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, kind)
}
func (s *recordingSink) totalBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, d := range s.data {
		n += len(d)
	}
	return n
}
func (s *recordingSink) errCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.errs)
}

func TestOpenReceivesDataAndClosesCleanly(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		_, _ = c.Write([]byte("RFB-TV 002.000\n"))
		time.Sleep(30 * time.Millisecond)
	}()

	addr := ln.Addr().(*net.TCPAddr)
	w := New()
	sink := &recordingSink{}
	if err := w.Open(context.Background(), "127.0.0.1", addr.Port, false, sink); err != nil {
		t.Fatalf("Open: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if sink.totalBytes() != len("RFB-TV 002.000\n") {
		t.Fatalf("expected %d bytes, got %d", len("RFB-TV 002.000\n"), sink.totalBytes())
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}
	<-serverDone
}

func TestSendDataBeforeOpenFails(t *testing.T) {
	w := New()
	if err := w.SendData([]byte("x")); err == nil {
		t.Fatalf("expected error sending before open")
	}
}
