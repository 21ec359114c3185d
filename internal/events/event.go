// Package events implements the guest→host push stream: newline-delimited
// JSON events over a dedicated virtual-socket port, delivered best-effort
// to at most one connected subscriber.
package events

import "encoding/json"

// Wire shapes. Slices are always present in the encoded line, even when
// empty, so subscribers never see null where a list is expected.
type filesEvent struct {
	Type  string   `json:"type"`
	Files []string `json:"files"`
}

type urlsEvent struct {
	Type string   `json:"type"`
	URLs []string `json:"urls"`
}

type logEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// encodeLine marshals an event and terminates it with a newline. The JSON
// encoder escapes backslash, quote, LF, CR, and TAB inside strings, so a
// payload can never break line framing.
func encodeLine(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func filesLine(paths []string) ([]byte, error) {
	if paths == nil {
		paths = []string{}
	}
	return encodeLine(filesEvent{Type: "files", Files: paths})
}

func urlsLine(urls []string) ([]byte, error) {
	if urls == nil {
		urls = []string{}
	}
	return encodeLine(urlsEvent{Type: "urls", URLs: urls})
}

func logLine(msg string) ([]byte, error) {
	return encodeLine(logEvent{Type: "log", Message: msg})
}
