package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wispvm/wisp/internal/clipboard"
	"github.com/wispvm/wisp/internal/config"
	"github.com/wispvm/wisp/internal/notify"
)

// tcpListenFunc hands out loopback listeners and records which address
// each logical port landed on.
type tcpListenFunc struct {
	mu    sync.Mutex
	addrs map[uint32]string
	fail  map[uint32]bool
}

func newTCPListenFunc() *tcpListenFunc {
	return &tcpListenFunc{addrs: make(map[uint32]string), fail: make(map[uint32]bool)}
}

func (f *tcpListenFunc) listen(port uint32) (net.Listener, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[port] {
		return nil, fmt.Errorf("address already in use")
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	f.addrs[port] = ln.Addr().String()
	return ln, nil
}

func (f *tcpListenFunc) addr(port uint32) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addrs[port]
}

func startDaemon(t *testing.T, lf *tcpListenFunc) (*Daemon, context.CancelFunc) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DownloadsDir = t.TempDir()

	d := New(cfg, &clipboard.Memory{}, notify.Noop{}, lf.listen)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Error("daemon did not shut down")
		}
	})

	// Wait until all tracked ports are accepting.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		st := d.Status()
		if len(st) == 3 {
			return d, cancel
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("daemon never reported status for all servers")
	return nil, nil
}

func TestQueueMutationReachesSubscriber(t *testing.T) {
	lf := newTCPListenFunc()
	d, _ := startDaemon(t, lf)
	cfg := config.DefaultConfig()

	sub, err := net.Dial("tcp", lf.addr(cfg.EventsPort))
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()
	sub.SetReadDeadline(time.Now().Add(3 * time.Second))

	// The accept loop needs a beat to install the subscriber.
	time.Sleep(50 * time.Millisecond)

	d.Files.Enqueue("/Users/me/out.txt")

	line, err := bufio.NewReader(sub).ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	var ev struct {
		Type  string   `json:"type"`
		Files []string `json:"files"`
	}
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != "files" || len(ev.Files) != 1 || ev.Files[0] != "/Users/me/out.txt" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestAPIDeleteVisibleThroughQueue(t *testing.T) {
	lf := newTCPListenFunc()
	d, _ := startDaemon(t, lf)
	cfg := config.DefaultConfig()

	d.Files.Enqueue("/tmp/a")

	conn, err := net.Dial("tcp", lf.addr(cfg.RouterPort))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(3 * time.Second))
	io.WriteString(conn, "DELETE /api/v1/files HTTP/1.1\r\nHost: guest\r\n\r\n")
	resp, err := io.ReadAll(conn)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(resp), "HTTP/1.1 200") {
		t.Fatalf("response = %q", resp)
	}
	if got := d.Files.List(); len(got) != 0 {
		t.Fatalf("queue = %v after DELETE", got)
	}
}

func TestBindFailureMarksServerDownOnly(t *testing.T) {
	cfg := config.DefaultConfig()
	lf := newTCPListenFunc()
	lf.fail[cfg.TunnelPort] = true

	d, _ := startDaemon(t, lf)

	st := d.Status()
	if st["tunnel"].Up {
		t.Fatal("tunnel should be down")
	}
	if st["tunnel"].Err == "" {
		t.Fatal("down server must carry its bind error")
	}
	if !st["router"].Up || !st["events"].Up {
		t.Fatalf("healthy servers marked down: %+v", st)
	}

	// The router still answers.
	conn, err := net.Dial("tcp", lf.addr(cfg.RouterPort))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(3 * time.Second))
	io.WriteString(conn, "GET /health HTTP/1.1\r\nHost: guest\r\n\r\n")
	resp, err := io.ReadAll(conn)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(resp), "HTTP/1.1 200") {
		t.Fatalf("health after partial bind failure = %q", resp)
	}
}

func TestAllBindsFailingIsFatal(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DownloadsDir = t.TempDir()
	lf := newTCPListenFunc()
	lf.fail[cfg.RouterPort] = true
	lf.fail[cfg.TunnelPort] = true
	lf.fail[cfg.EventsPort] = true

	d := New(cfg, &clipboard.Memory{}, notify.Noop{}, lf.listen)
	if err := d.Run(context.Background()); err == nil {
		t.Fatal("expected error when nothing binds")
	}
}
