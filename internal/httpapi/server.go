package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/wispvm/wisp/internal/clipboard"
	"github.com/wispvm/wisp/internal/metrics"
	"github.com/wispvm/wisp/internal/notify"
	"github.com/wispvm/wisp/internal/queue"
	"github.com/wispvm/wisp/internal/transport"
)

// Server serves the host-facing API: one request, one response, close.
// Distinct connections are handled in parallel; all shared state lives in
// the injected stores, which serialize their own mutations.
type Server struct {
	Version      string
	Build        int64
	Clipboard    clipboard.Clipboard
	Files        *queue.Files
	URLs         *queue.URLs
	DownloadsDir string
	Notifier     notify.Notifier

	ln net.Listener
}

// Serve accepts and handles connections until the listener is closed.
func (s *Server) Serve(ln net.Listener) {
	s.ln = ln
	transport.AcceptLoop(ln, s.handleConn)
}

// Stop closes the listener, unblocking Serve.
func (s *Server) Stop() {
	if s.ln != nil {
		s.ln.Close()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	req, err := readRequest(newReader(conn))
	if err != nil {
		metrics.RequestsTotal.WithLabelValues("?", "400").Inc()
		writeError(conn, 400, "Invalid HTTP request")
		return
	}

	status := s.route(conn, req)
	metrics.RequestsTotal.WithLabelValues(req.Method, strconv.Itoa(status)).Inc()
}

// route dispatches exact paths before the files prefix, so the receive path
// can never be shadowed by the prefix rule. Returns the response status.
func (s *Server) route(conn net.Conn, req *Request) int {
	switch req.Path {
	case "/health":
		if req.Method != "GET" {
			return s.methodNotAllowed(conn)
		}
		return s.handleHealth(conn)

	case "/api/v1/clipboard":
		switch req.Method {
		case "GET":
			return s.handleClipboardGet(conn)
		case "POST":
			return s.handleClipboardSet(conn, req)
		default:
			return s.methodNotAllowed(conn)
		}

	case "/api/v1/files":
		switch req.Method {
		case "GET":
			return s.handleFilesList(conn)
		case "DELETE":
			return s.handleFilesClear(conn)
		default:
			return s.methodNotAllowed(conn)
		}

	case "/api/v1/files/receive":
		if req.Method != "POST" {
			return s.methodNotAllowed(conn)
		}
		return s.handleFileReceive(conn, req)

	case "/api/v1/urls":
		switch req.Method {
		case "GET":
			return s.handleURLsDrain(conn)
		case "DELETE":
			return s.handleURLsClear(conn)
		default:
			return s.methodNotAllowed(conn)
		}
	}

	if strings.HasPrefix(req.Path, "/api/v1/files/") {
		if req.Method != "GET" {
			return s.methodNotAllowed(conn)
		}
		return s.handleFileRead(conn, req)
	}

	writeError(conn, 404, "Not Found")
	return 404
}

func (s *Server) methodNotAllowed(conn net.Conn) int {
	writeError(conn, 405, "Method Not Allowed")
	return 405
}

func (s *Server) handleHealth(conn net.Conn) int {
	writeJSON(conn, 200, map[string]interface{}{
		"status":  "ok",
		"version": s.Version,
		"build":   s.Build,
	})
	return 200
}

func (s *Server) handleClipboardGet(conn net.Conn) int {
	content, err := s.Clipboard.Read()
	if err != nil {
		writeError(conn, 500, "clipboard read failed")
		return 500
	}
	if content == "" {
		writeResponse(conn, 204, nil, nil)
		return 204
	}
	writeJSON(conn, 200, map[string]string{"content": content})
	return 200
}

func (s *Server) handleClipboardSet(conn net.Conn, req *Request) int {
	body, err := req.ReadBody()
	if err != nil {
		writeError(conn, 400, "Invalid HTTP request")
		return 400
	}
	var payload struct {
		Content *string `json:"content"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Content == nil {
		writeError(conn, 400, "invalid JSON body")
		return 400
	}
	if err := s.Clipboard.Write(*payload.Content); err != nil {
		writeError(conn, 500, "clipboard write failed")
		return 500
	}
	writeJSON(conn, 200, map[string]string{"status": "ok"})
	return 200
}

func (s *Server) handleFilesList(conn net.Conn) int {
	writeJSON(conn, 200, map[string][]string{"files": s.Files.List()})
	return 200
}

func (s *Server) handleFilesClear(conn net.Conn) int {
	s.Files.Clear()
	writeJSON(conn, 200, map[string]string{"status": "ok"})
	return 200
}

func (s *Server) handleURLsDrain(conn net.Conn) int {
	writeJSON(conn, 200, map[string][]string{"urls": s.URLs.PopAll()})
	return 200
}

func (s *Server) handleURLsClear(conn net.Conn) int {
	s.URLs.Clear()
	writeJSON(conn, 200, map[string]string{"status": "ok"})
	return 200
}

// handleFileReceive streams the request body to the downloads directory.
// Partial files are removed on any create or copy failure.
func (s *Server) handleFileReceive(conn net.Conn, req *Request) int {
	name := req.Header.Get("X-Filename")
	if name == "" {
		writeError(conn, 400, "missing X-Filename header")
		return 400
	}
	if req.Header.Get("Content-Length") == "" {
		writeError(conn, 400, "missing Content-Length header")
		return 400
	}
	// Strip any directory components the host may have sent.
	name = filepath.Base(name)
	if name == "." || name == string(filepath.Separator) {
		writeError(conn, 400, "invalid filename")
		return 400
	}

	if err := os.MkdirAll(s.DownloadsDir, 0755); err != nil {
		writeError(conn, 500, "create downloads directory failed")
		return 500
	}
	dst := filepath.Join(s.DownloadsDir, name)

	f, err := os.Create(dst)
	if err != nil {
		writeError(conn, 500, "create file failed")
		return 500
	}

	var copied int64
	if req.Body != nil {
		copied, err = io.Copy(f, req.Body)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && copied != req.ContentLength {
		err = fmt.Errorf("short body: %d of %d bytes", copied, req.ContentLength)
	}
	if err != nil {
		os.Remove(dst)
		writeError(conn, 500, "write file failed")
		return 500
	}

	log.Printf("httpapi: received %s (%d bytes)", dst, copied)
	metrics.FilesReceivedTotal.Inc()
	if s.Notifier != nil {
		s.Notifier.FileReady(dst)
	}

	writeJSON(conn, 200, map[string]string{"path": dst})
	return 200
}

// handleFileRead serves a guest-local file by URL-decoded absolute path.
func (s *Server) handleFileRead(conn net.Conn, req *Request) int {
	encoded := strings.TrimPrefix(req.Path, "/api/v1/files/")
	decoded, err := url.PathUnescape(encoded)
	if err != nil || decoded == "" {
		writeError(conn, 400, "invalid file path")
		return 400
	}
	if !filepath.IsAbs(decoded) {
		writeError(conn, 400, "path must be absolute")
		return 400
	}

	f, err := os.Open(decoded)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrPermission):
			writeError(conn, 403, "access denied")
			return 403
		case errors.Is(err, os.ErrNotExist):
			writeError(conn, 404, "Not Found")
			return 404
		default:
			writeError(conn, 500, "open file failed")
			return 500
		}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		writeError(conn, 404, "Not Found")
		return 404
	}

	header := map[string]string{
		"Content-Type":        "application/octet-stream",
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", filepath.Base(decoded)),
	}
	fmt.Fprintf(conn, "HTTP/1.1 200 OK\r\nContent-Length: %d\r\nConnection: close\r\n", info.Size())
	for k, v := range header {
		fmt.Fprintf(conn, "%s: %s\r\n", k, v)
	}
	io.WriteString(conn, "\r\n")
	if _, err := io.Copy(conn, f); err != nil {
		// Headers are already out; nothing to do but drop the connection.
		log.Printf("httpapi: streaming %s aborted: %v", decoded, err)
	}
	return 200
}
