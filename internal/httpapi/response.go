package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

var statusText = map[int]string{
	200: "OK",
	204: "No Content",
	400: "Bad Request",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	500: "Internal Server Error",
}

// writeResponse writes a complete response: status line, headers, body.
// Every response carries Connection: close because the server is strictly
// one request per connection.
func writeResponse(w io.Writer, status int, header map[string]string, body []byte) error {
	text, ok := statusText[status]
	if !ok {
		text = "Unknown"
	}
	if _, err := fmt.Fprintf(w, "HTTP/1.1 %d %s\r\n", status, text); err != nil {
		return err
	}
	fmt.Fprintf(w, "Content-Length: %s\r\n", strconv.Itoa(len(body)))
	fmt.Fprintf(w, "Connection: close\r\n")
	for k, v := range header {
		fmt.Fprintf(w, "%s: %s\r\n", k, v)
	}
	if _, err := io.WriteString(w, "\r\n"); err != nil {
		return err
	}
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			return err
		}
	}
	return nil
}

// writeJSON marshals v and writes it with application/json.
func writeJSON(w io.Writer, status int, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return writeError(w, 500, "encode response")
	}
	return writeResponse(w, status, map[string]string{
		"Content-Type": "application/json",
	}, body)
}

// writeError writes a JSON error body {"error": msg}.
func writeError(w io.Writer, status int, msg string) error {
	body, _ := json.Marshal(map[string]string{"error": msg})
	return writeResponse(w, status, map[string]string{
		"Content-Type": "application/json",
	}, body)
}
