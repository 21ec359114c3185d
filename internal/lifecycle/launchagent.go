package lifecycle

import (
	"fmt"
	"os"
	"path/filepath"
)

// LaunchAgent describes the per-user auto-start registration: a launch
// agent pointing at the canonical install path with restart-on-exit and
// log redirection.
type LaunchAgent struct {
	// Path is the agent descriptor location under the user's LaunchAgents.
	Path string
	// Label is the agent identifier, the daemon's app id.
	Label string
	// Program is the absolute path of the installed daemon binary.
	Program string
	// LogsDir receives stdout/stderr redirection files.
	LogsDir string
}

const agentTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>%s</string>
	<key>ProgramArguments</key>
	<array>
		<string>%s</string>
	</array>
	<key>RunAtLoad</key>
	<true/>
	<key>KeepAlive</key>
	<true/>
	<key>StandardOutPath</key>
	<string>%s</string>
	<key>StandardErrorPath</key>
	<string>%s</string>
</dict>
</plist>
`

// Install writes the agent descriptor, creating parent directories.
func (a LaunchAgent) Install() error {
	if err := os.MkdirAll(filepath.Dir(a.Path), 0755); err != nil {
		return fmt.Errorf("create launch agents directory: %w", err)
	}
	content := fmt.Sprintf(agentTemplate,
		a.Label,
		a.Program,
		filepath.Join(a.LogsDir, a.Label+".log"),
		filepath.Join(a.LogsDir, a.Label+".err.log"),
	)
	if err := os.WriteFile(a.Path, []byte(content), 0644); err != nil {
		return fmt.Errorf("write launch agent: %w", err)
	}
	return nil
}

// Uninstall removes the agent descriptor. A missing descriptor is fine.
func (a LaunchAgent) Uninstall() error {
	err := os.Remove(a.Path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove launch agent: %w", err)
	}
	return nil
}

// Apply honors the tri-state auto-start preference: true installs, false
// uninstalls, unset leaves whatever is there alone.
func (a LaunchAgent) Apply(autoStart *bool) error {
	switch {
	case autoStart == nil:
		return nil
	case *autoStart:
		return a.Install()
	default:
		return a.Uninstall()
	}
}

// Installed reports whether an agent descriptor currently exists.
func (a LaunchAgent) Installed() bool {
	_, err := os.Stat(a.Path)
	return err == nil
}
