package tunnel

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net"
	"strings"

	"github.com/wispvm/wisp/internal/bridge"
)

// DialFunc opens a connection to the guest's tunnel port. On the host this
// is a virtual-socket dial through the hypervisor's per-VM socket device;
// tests substitute a TCP dial.
type DialFunc func() (net.Conn, error)

// ListenAndForward accepts TCP connections on ln and forwards each one to
// guestPort inside the guest via the tunnel protocol. It returns when the
// listener closes or ctx is cancelled.
//
// The virtual-socket end may be blocking-only; the bridge runs each half on
// its own goroutine, so that never surfaces here.
func ListenAndForward(ctx context.Context, ln net.Listener, guestPort int, dial DialFunc) {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go func() {
			if err := forwardConn(ctx, conn, guestPort, dial); err != nil {
				log.Printf("forward: %v", err)
			}
		}()
	}
}

// forwardConn runs one forwarded session: dial the guest, exchange
// CONNECT/OK, then bridge. The connection object owning the virtual-socket
// FD lives in this frame for the whole bridge, so the FD stays valid.
func forwardConn(ctx context.Context, client net.Conn, guestPort int, dial DialFunc) error {
	defer client.Close()

	guest, err := dial()
	if err != nil {
		return fmt.Errorf("dial guest tunnel: %w", err)
	}

	if _, err := fmt.Fprintf(guest, "CONNECT %d\n", guestPort); err != nil {
		guest.Close()
		return fmt.Errorf("send connect: %w", err)
	}

	br := bufio.NewReaderSize(guest, 32*1024)
	status, err := readLine(br, maxCommandBytes)
	if err != nil {
		guest.Close()
		return fmt.Errorf("read connect status: %w", err)
	}
	if status != "OK" {
		guest.Close()
		return fmt.Errorf("guest refused: %s", strings.TrimPrefix(status, "ERROR "))
	}

	// Bytes the guest sent immediately after OK are sitting in the reader.
	if err := flushBuffered(br, client); err != nil {
		guest.Close()
		return err
	}

	return bridge.Pipe(ctx, bridge.NewConnEndpoint(client), bridge.NewConnEndpoint(guest))
}
