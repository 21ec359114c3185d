package events

import (
	"log"
	"net"
	"sync"

	"github.com/wispvm/wisp/internal/metrics"
)

// Server owns the push listener and the single subscriber slot.
//
// The accept loop runs on its own goroutine doing blocking Accepts (the
// listen FD's readiness reporting cannot be relied on for this transport).
// A second goroutine per subscriber reads one byte at a time solely to
// detect peer disconnect; the host never sends payload on this connection.
//
// Subscriber slot state machine:
//
//	IDLE ──accept──► ACTIVE(conn) ──close or new-accept──► IDLE
//
// A new accept displaces the current subscriber by closing its conn, so a
// restarted host can always reconnect without a phantom holder in the way.
type Server struct {
	mu  sync.Mutex
	sub net.Conn
	ln  net.Listener
}

// NewServer creates a push server with no subscriber.
func NewServer() *Server {
	return &Server{}
}

// Serve accepts subscribers until the listener is closed. It blocks, so the
// daemon runs it on its own goroutine.
func (s *Server) Serve(ln net.Listener) {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		s.attach(conn)
	}
}

// attach installs conn as the subscriber, displacing any existing one.
func (s *Server) attach(conn net.Conn) {
	s.mu.Lock()
	old := s.sub
	s.sub = conn
	s.mu.Unlock()

	if old != nil {
		old.Close()
		metrics.SubscriberSwapsTotal.Inc()
		log.Printf("events: subscriber replaced")
	} else {
		log.Printf("events: subscriber connected")
	}

	go s.watchDisconnect(conn)
}

// watchDisconnect blocks on a one-byte read until the peer goes away, then
// vacates the slot if conn is still the active subscriber.
func (s *Server) watchDisconnect(conn net.Conn) {
	buf := make([]byte, 1)
	for {
		if _, err := conn.Read(buf); err != nil {
			break
		}
		// Subscribers have nothing to say; discard any stray bytes.
	}

	s.mu.Lock()
	if s.sub == conn {
		s.sub = nil
		log.Printf("events: subscriber disconnected")
	}
	s.mu.Unlock()
	conn.Close()
}

// push writes one event line to the subscriber, if any. Fire-and-forget:
// no subscriber and write failures both drop the event. The slot mutex is
// held across the write so concurrent pushes never interleave line bytes.
func (s *Server) push(line []byte) {
	s.mu.Lock()
	conn := s.sub
	if conn == nil {
		s.mu.Unlock()
		metrics.EventsDroppedTotal.Inc()
		return
	}
	_, err := conn.Write(line)
	if err != nil {
		s.sub = nil
	}
	s.mu.Unlock()

	if err != nil {
		conn.Close()
		metrics.EventsDroppedTotal.Inc()
		log.Printf("events: dropping subscriber after write error: %v", err)
		return
	}
	metrics.EventsPushedTotal.Inc()
}

// PushFiles pushes the full outgoing-file list.
func (s *Server) PushFiles(paths []string) {
	line, err := filesLine(paths)
	if err != nil {
		log.Printf("events: encode files event: %v", err)
		return
	}
	s.push(line)
}

// PushURLs pushes newly queued URLs.
func (s *Server) PushURLs(urls []string) {
	line, err := urlsLine(urls)
	if err != nil {
		log.Printf("events: encode urls event: %v", err)
		return
	}
	s.push(line)
}

// PushLog pushes one log message.
func (s *Server) PushLog(msg string) {
	line, err := logLine(msg)
	if err != nil {
		log.Printf("events: encode log event: %v", err)
		return
	}
	s.push(line)
}

// FilesChanged implements queue.FilesSink.
func (s *Server) FilesChanged(paths []string) { s.PushFiles(paths) }

// URLsAdded implements queue.URLsSink.
func (s *Server) URLsAdded(urls []string) { s.PushURLs(urls) }

// Stop closes the listener and the active subscriber.
func (s *Server) Stop() {
	s.mu.Lock()
	ln := s.ln
	sub := s.sub
	s.ln = nil
	s.sub = nil
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	if sub != nil {
		sub.Close()
	}
}
