// wisp-proxy is the host-side tunnel bridge. It listens on a host-local
// TCP port and forwards each accepted connection to a loopback port inside
// the guest: dial the guest's tunnel server over the virtual-socket,
// exchange CONNECT/OK, then bridge bytes both ways.
//
// The virtual-socket end is blocking-only on some hosts; the shared bridge
// primitive runs each direction on its own goroutine, so that is invisible
// here.
//
// Build: CGO_ENABLED=0 go build -o wisp-proxy ./cmd/wisp-proxy
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/wispvm/wisp/internal/config"
	"github.com/wispvm/wisp/internal/transport"
	"github.com/wispvm/wisp/internal/tunnel"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	var (
		listenAddr = flag.String("listen", "127.0.0.1:0", "host TCP address to listen on")
		guestCID   = flag.Uint("cid", 0, "guest context id (required)")
		guestPort  = flag.Int("port", 0, "loopback TCP port inside the guest (required)")
		tunnelPort = flag.Uint("tunnel-port", uint(config.DefaultTunnelPort), "guest tunnel server virtual-socket port")
	)
	flag.Parse()

	if *guestCID == 0 || *guestPort < 1 || *guestPort > 65535 {
		flag.Usage()
		os.Exit(2)
	}

	ln, err := net.Listen("tcp", *listenAddr)
	if err != nil {
		log.Fatalf("listen on %s: %v", *listenAddr, err)
	}
	log.Printf("forwarding %s -> guest cid %d port %d", ln.Addr(), *guestCID, *guestPort)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, shutting down", sig)
		cancel()
	}()

	cid, port := uint32(*guestCID), uint32(*tunnelPort)
	tunnel.ListenAndForward(ctx, ln, *guestPort, func() (net.Conn, error) {
		return transport.Dial(cid, port)
	})
}
