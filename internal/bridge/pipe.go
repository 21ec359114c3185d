// Package bridge copies bytes bidirectionally between two stream endpoints.
//
// Both the guest tunnel server and the host-side proxy run the same pipe:
// two copy loops, half-close propagation on EOF, and quiet termination on
// peer disconnect. Either endpoint may be backed by a socket that only
// supports blocking I/O (the virtual-socket family does not deliver
// readiness events on every platform); each half runs on its own goroutine
// so that never matters to the caller.
package bridge

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/wispvm/wisp/internal/metrics"
)

// copyBufSize is the per-direction read buffer. Reads are issued at this
// size; the virtual-socket path benefits from large reads.
const copyBufSize = 64 * 1024

// Endpoint is one side of a pipe. CloseWrite signals EOF to the peer while
// leaving the read side open (half-close). Close must be idempotent.
type Endpoint interface {
	io.Reader
	io.Writer
	CloseWrite() error
	Close() error
}

// closeWriter is satisfied by *net.TCPConn, *vsock.Conn, and unix conns.
type closeWriter interface {
	CloseWrite() error
}

// connEndpoint adapts a net.Conn to Endpoint. Close is idempotent and
// CloseWrite degrades to a full close when the conn cannot half-close.
type connEndpoint struct {
	conn      net.Conn
	closeOnce sync.Once
	closeErr  error
}

// NewConnEndpoint wraps a net.Conn as a pipe Endpoint.
func NewConnEndpoint(conn net.Conn) Endpoint {
	return &connEndpoint{conn: conn}
}

func (e *connEndpoint) Read(p []byte) (int, error)  { return e.conn.Read(p) }
func (e *connEndpoint) Write(p []byte) (int, error) { return e.conn.Write(p) }

func (e *connEndpoint) CloseWrite() error {
	if cw, ok := e.conn.(closeWriter); ok {
		return cw.CloseWrite()
	}
	return e.Close()
}

func (e *connEndpoint) Close() error {
	e.closeOnce.Do(func() {
		e.closeErr = e.conn.Close()
	})
	return e.closeErr
}

// forceClose unblocks any goroutine parked in a read or write syscall on the
// endpoint and then closes it. shutdown(2) is what actually interrupts a
// blocked syscall on conns whose Close merely marks the FD unusable.
func forceClose(ep Endpoint) {
	ce, ok := ep.(*connEndpoint)
	if !ok {
		ep.Close()
		return
	}
	if sc, ok := ce.conn.(syscall.Conn); ok {
		if raw, err := sc.SyscallConn(); err == nil {
			raw.Control(func(fd uintptr) {
				unix.Shutdown(int(fd), unix.SHUT_RDWR)
			})
		}
	}
	ce.Close()
}

// Pipe runs both halves of a bidirectional copy between left and right
// until each direction has seen EOF, then closes both endpoints.
//
// When one direction observes EOF it half-closes the other endpoint's write
// side and keeps the opposite direction running, so request/response
// protocols that shutdown one side early still drain fully.
//
// Disconnect-class errors (reset, broken pipe, timeout, closed) terminate
// the pipe quietly and return nil. Anything else is returned to the caller.
// Cancelling ctx force-closes both endpoints, which unblocks any copy loop
// stuck inside a syscall.
func Pipe(ctx context.Context, left, right Endpoint) error {
	defer left.Close()
	defer right.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			forceClose(left)
			forceClose(right)
		case <-done:
		}
	}()

	errCh := make(chan error, 2)
	go func() { errCh <- copyHalf(right, left) }()
	go func() { errCh <- copyHalf(left, right) }()

	var firstErr error
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if ctx.Err() != nil {
		return nil
	}
	return firstErr
}

// copyHalf moves bytes src→dst until src reaches EOF, then half-closes dst.
func copyHalf(dst, src Endpoint) error {
	buf := make([]byte, copyBufSize)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := writeAll(dst, buf[:n]); werr != nil {
				if IsDisconnect(werr) {
					return nil
				}
				return werr
			}
			metrics.BridgeBytesTotal.Add(float64(n))
		}
		if rerr != nil {
			if rerr == io.EOF {
				dst.CloseWrite()
				return nil
			}
			if IsDisconnect(rerr) {
				return nil
			}
			return rerr
		}
	}
}

func writeAll(dst io.Writer, p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := dst.Write(p[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// IsDisconnect reports whether err is an operational transport error: the
// peer went away or the FD was closed out from under us. These end a pipe
// without being surfaced.
func IsDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}
