// Package transport implements the RFB-TV ConnectionWorker (spec §4.4): a
// single TCP/TLS connection with a dedicated receive goroutine pushing
// StreamData/StreamError events to a sink. It is the RFB-TV analog of the
// teacher's internal/rtmp/conn read/write-loop pair, generalized to a
// sink-callback model since RFB-TV has no chunk-stream framing to
// reassemble on read.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	rerrors "github.com/activevideo/rfbtv-client/internal/errors"
	"github.com/activevideo/rfbtv-client/internal/logger"
	"github.com/activevideo/rfbtv-client/internal/rfbtv/kernel"
)

const receiveChunkSize = 4096

// Worker is a kernel.Connection implementation backed by a real net.Conn.
// Not reentrant: Open must complete (or fail) before the next Open call.
type Worker struct {
	mu      sync.Mutex
	conn    net.Conn
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closed  bool
}

// New returns an idle Worker.
func New() *Worker { return &Worker{} }

// Open dials host:port (TLS if requested), disables Nagle's algorithm, and
// starts the receive loop. The sink receives StreamData for every
// successful read and exactly one StreamError when the loop exits.
func (w *Worker) Open(ctx context.Context, host string, port int, useTLS bool, sink kernel.StreamSink) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	dialer := &net.Dialer{Timeout: 10 * time.Second}

	var conn net.Conn
	var err error
	if useTLS {
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: host})
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return classifyDial(err)
	}
	if tcpConn, ok := underlyingTCPConn(conn); ok {
		_ = tcpConn.SetNoDelay(true)
	}

	runCtx, cancel := context.WithCancel(context.Background())

	w.mu.Lock()
	w.conn = conn
	w.cancel = cancel
	w.closed = false
	w.mu.Unlock()

	w.wg.Add(1)
	go w.receiveLoop(runCtx, conn, sink)
	return nil
}

func underlyingTCPConn(c net.Conn) (*net.TCPConn, bool) {
	switch v := c.(type) {
	case *net.TCPConn:
		return v, true
	case *tls.Conn:
		if tc, ok := v.NetConn().(*net.TCPConn); ok {
			return tc, true
		}
	}
	return nil, false
}

func (w *Worker) receiveLoop(ctx context.Context, conn net.Conn, sink kernel.StreamSink) {
	defer w.wg.Done()
	buf := make([]byte, receiveChunkSize)
	for {
		select {
		case <-ctx.Done():
			sink.OnStreamError(kernel.StreamErrorThreadShutdown)
			return
		default:
		}
		n, err := conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			sink.OnStreamData(chunk)
		}
		if err != nil {
			select {
			case <-ctx.Done():
				sink.OnStreamError(kernel.StreamErrorThreadShutdown)
			default:
				sink.OnStreamError(classifyReadError(err))
			}
			return
		}
	}
}

func classifyReadError(err error) kernel.StreamErrorKind {
	if err == io.EOF {
		return kernel.StreamErrorSocketRead
	}
	return kernel.StreamErrorSocketRead
}

func classifyDial(err error) error {
	var dnsErr *net.DNSError
	if e, ok := err.(*net.OpError); ok {
		if de, ok := e.Err.(*net.DNSError); ok {
			dnsErr = de
		}
	}
	if dnsErr != nil && dnsErr.IsNotFound {
		return rerrors.NewProtocolError("transport.open", fmt.Errorf("host not found: %w", err))
	}
	return rerrors.NewProtocolError("transport.open", err)
}

// Close stops the receive loop and closes the socket. Safe to call
// multiple times and from any goroutine.
func (w *Worker) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	conn := w.conn
	cancel := w.cancel
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if conn != nil {
		err = conn.Close()
	}
	w.wg.Wait()
	return err
}

// SendData performs a synchronous write. Returns an error if the
// connection is not open.
func (w *Worker) SendData(data []byte) error {
	w.mu.Lock()
	conn := w.conn
	closed := w.closed
	w.mu.Unlock()
	if conn == nil || closed {
		return rerrors.NewProtocolError("transport.sendData", fmt.Errorf("connection not open"))
	}
	_, err := conn.Write(data)
	if err != nil {
		logger.Logger().Warn("send failed", "error", err)
	}
	return err
}
