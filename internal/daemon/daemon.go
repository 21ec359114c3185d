// Package daemon wires the guest servers together: the request router, the
// tunnel server, and the event push server, sharing the two queues and the
// clipboard adapter. A bind failure marks the affected server down without
// taking the daemon with it; the degraded state is visible through Status
// and the daemon log. The health endpoint does not report per-server state.
package daemon

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/wispvm/wisp/internal/clipboard"
	"github.com/wispvm/wisp/internal/config"
	"github.com/wispvm/wisp/internal/events"
	"github.com/wispvm/wisp/internal/httpapi"
	"github.com/wispvm/wisp/internal/notify"
	"github.com/wispvm/wisp/internal/queue"
	"github.com/wispvm/wisp/internal/transport"
	"github.com/wispvm/wisp/internal/tunnel"
	"github.com/wispvm/wisp/internal/version"
)

// ListenFunc binds a listener for a virtual-socket port. Tests substitute
// loopback TCP.
type ListenFunc func(port uint32) (net.Listener, error)

// ServerState is one server's slot in the daemon status snapshot.
type ServerState struct {
	Up   bool
	Err  string
	Port uint32
}

// Daemon owns the three guest servers and their shared stores.
type Daemon struct {
	cfg    *config.Config
	listen ListenFunc

	Files  *queue.Files
	URLs   *queue.URLs
	Events *events.Server
	API    *httpapi.Server
	Tunnel *tunnel.Server

	mu        sync.Mutex
	status    map[string]ServerState
	listeners []net.Listener
}

// New assembles a daemon: queues feed the push server, the router mutates
// the queues, and every server binds through listen (nil means the real
// virtual-socket transport).
func New(cfg *config.Config, clip clipboard.Clipboard, notifier notify.Notifier, listen ListenFunc) *Daemon {
	if listen == nil {
		listen = transport.Listen
	}

	ev := events.NewServer()
	files := queue.NewFiles(ev)
	urls := queue.NewURLs(ev)

	return &Daemon{
		cfg:    cfg,
		listen: listen,
		Files:  files,
		URLs:   urls,
		Events: ev,
		API: &httpapi.Server{
			Version:      version.Version(),
			Build:        version.Build(),
			Clipboard:    clip,
			Files:        files,
			URLs:         urls,
			DownloadsDir: cfg.DownloadsDir,
			Notifier:     notifier,
		},
		Tunnel: &tunnel.Server{DialTimeout: cfg.DialTimeout},
		status: make(map[string]ServerState),
	}
}

// Run binds and serves all three servers until ctx is cancelled. Bind
// failures are recorded in Status and logged; each is also offered to the
// push server as a log event, which is dropped when no subscriber is
// attached, as is always the case while Run is still binding.
// Run only returns an error when not a single server came up.
func (d *Daemon) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	up := 0
	up += d.startServer(g, "router", d.cfg.RouterPort, d.API.Serve)
	up += d.startServer(g, "tunnel", d.cfg.TunnelPort, d.Tunnel.Serve)
	up += d.startServer(g, "events", d.cfg.EventsPort, d.Events.Serve)

	if up == 0 {
		return fmt.Errorf("no server could bind")
	}

	g.Go(func() error {
		<-ctx.Done()
		d.Stop()
		return nil
	})

	return g.Wait()
}

// startServer binds one port and launches its serve loop. Returns 1 when
// the server came up, 0 when it is marked down.
func (d *Daemon) startServer(g *errgroup.Group, name string, port uint32, serve func(net.Listener)) int {
	ln, err := d.listen(port)
	if err != nil {
		log.Printf("daemon: %s failed to bind port %d: %v", name, port, err)
		d.setStatus(name, ServerState{Up: false, Err: err.Error(), Port: port})
		d.Events.PushLog(fmt.Sprintf("%s server down: %v", name, err))
		return 0
	}

	log.Printf("daemon: %s listening on port %d", name, port)
	d.setStatus(name, ServerState{Up: true, Port: port})
	d.mu.Lock()
	d.listeners = append(d.listeners, ln)
	d.mu.Unlock()

	g.Go(func() error {
		serve(ln)
		return nil
	})
	return 1
}

// Status returns a snapshot of per-server state.
func (d *Daemon) Status() map[string]ServerState {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]ServerState, len(d.status))
	for k, v := range d.status {
		out[k] = v
	}
	return out
}

func (d *Daemon) setStatus(name string, st ServerState) {
	d.mu.Lock()
	d.status[name] = st
	d.mu.Unlock()
}

// Stop closes every listener and the active event subscriber, unblocking
// all accept loops. Safe to call more than once.
func (d *Daemon) Stop() {
	d.mu.Lock()
	lns := d.listeners
	d.listeners = nil
	d.mu.Unlock()

	for _, ln := range lns {
		ln.Close()
	}
	d.Events.Stop()
}
