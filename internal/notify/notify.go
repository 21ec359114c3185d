// Package notify surfaces received files to the guest user: an OS-level
// notification plus a reveal in the file manager. The daemon treats both as
// best-effort; a failed notification never fails the upload.
package notify

import (
	"fmt"
	"log"
	"os/exec"
	"path/filepath"
)

// Notifier announces a file that finished downloading.
type Notifier interface {
	FileReady(path string)
}

// Exec uses osascript for the notification and `open -R` for the reveal.
type Exec struct {
	// AppName is shown as the notification title.
	AppName string
}

func NewExec(appName string) *Exec {
	return &Exec{AppName: appName}
}

func (n *Exec) FileReady(path string) {
	script := fmt.Sprintf("display notification %q with title %q",
		filepath.Base(path)+" is ready", n.AppName)
	if err := exec.Command("osascript", "-e", script).Run(); err != nil {
		log.Printf("notify: notification failed: %v", err)
	}
	if err := exec.Command("open", "-R", path).Run(); err != nil {
		log.Printf("notify: reveal failed: %v", err)
	}
}

// Noop discards notifications. Used by tests and headless runs.
type Noop struct{}

func (Noop) FileReady(string) {}
