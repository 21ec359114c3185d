// Package transport wraps the virtual-socket family behind net.Listener and
// net.Conn so every server in the daemon stays transport-agnostic (tests run
// the same servers over loopback TCP).
//
// The listen FD does not integrate with the runtime's poller on every guest
// platform, so accept loops run as dedicated goroutines doing blocking
// Accept calls; closing the listener is what unblocks them.
package transport

import (
	"fmt"
	"net"

	"github.com/mdlayher/vsock"
)

// HostCID is the well-known context id of the hypervisor host.
const HostCID = vsock.Host

// Addr is a virtual-socket address: (context-id, port). The context id is
// assigned by the hypervisor; servers only choose the port.
type Addr struct {
	ContextID uint32
	Port      uint32
}

func (a Addr) String() string {
	return fmt.Sprintf("vsock:%d:%d", a.ContextID, a.Port)
}

// Listen binds a virtual-socket listener on the given port. The context id
// is the local one; the host connects to it via the per-VM socket device.
func Listen(port uint32) (net.Listener, error) {
	ln, err := vsock.Listen(port, nil)
	if err != nil {
		return nil, fmt.Errorf("vsock listen port %d: %w", port, err)
	}
	return ln, nil
}

// Dial opens a virtual-socket connection to (cid, port).
func Dial(cid, port uint32) (net.Conn, error) {
	conn, err := vsock.Dial(cid, port, nil)
	if err != nil {
		return nil, fmt.Errorf("vsock dial cid=%d port=%d: %w", cid, port, err)
	}
	return conn, nil
}

// AcceptLoop accepts connections until the listener is closed, handling
// each on its own goroutine. It returns once Accept fails, which happens
// exactly when the owning server closes the listener.
func AcceptLoop(ln net.Listener, handle func(net.Conn)) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go handle(conn)
	}
}
