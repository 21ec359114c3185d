// Package config holds wispd runtime configuration: the published
// virtual-socket ports, the filesystem locations the daemon owns, and the
// update-source search paths.
package config

import (
	"os"
	"path/filepath"
	"time"
)

// Published virtual-socket ports. These are contract, not preference; the
// host dials them by number.
const (
	DefaultRouterPort uint32 = 5000
	DefaultTunnelPort uint32 = 5001
	DefaultEventsPort uint32 = 5003
)

// Config holds wispd runtime configuration.
type Config struct {
	// AppName is the product name, used for the downloads folder and the
	// bundle name searched on update volumes.
	AppName string

	// AppID is the reverse-DNS identifier keying the lock file, the launch
	// agent, and the settings file.
	AppID string

	// RouterPort, TunnelPort, EventsPort are the virtual-socket ports for
	// the request router, tunnel server, and event push server.
	RouterPort uint32
	TunnelPort uint32
	EventsPort uint32

	// DownloadsDir receives files streamed from the host.
	DownloadsDir string

	// CanonicalAppPath is the install location the daemon relaunches from
	// when started anywhere else.
	CanonicalAppPath string

	// UpdateVolumePath is the primary mounted update volume, checked first.
	UpdateVolumePath string

	// VolumesRoot is where the guest mounts external volumes; every volume
	// carrying a bundle named AppName is a secondary update source.
	VolumesRoot string

	// LockPath is the PID lock file location.
	LockPath string

	// LaunchAgentPath is the per-user launch agent descriptor location.
	LaunchAgentPath string

	// SettingsPath is the JSON settings file holding user preferences.
	SettingsPath string

	// LogsDir receives the launch agent's stdout/stderr redirection.
	LogsDir string

	// RescanInterval is the cadence of the background update-source rescan.
	RescanInterval time.Duration

	// DialTimeout bounds the tunnel server's loopback connects.
	DialTimeout time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	appName := "Wisp"
	appID := "com.wispvm.wispd"

	return &Config{
		AppName:          appName,
		AppID:            appID,
		RouterPort:       DefaultRouterPort,
		TunnelPort:       DefaultTunnelPort,
		EventsPort:       DefaultEventsPort,
		DownloadsDir:     filepath.Join(homeDir, "Downloads", appName),
		CanonicalAppPath: filepath.Join("/Applications", appName+".app"),
		UpdateVolumePath: filepath.Join("/Volumes", appName+" Update"),
		VolumesRoot:      "/Volumes",
		LockPath:         filepath.Join(os.TempDir(), appID+".pid"),
		LaunchAgentPath:  filepath.Join(homeDir, "Library", "LaunchAgents", appID+".plist"),
		SettingsPath:     filepath.Join(homeDir, "Library", "Application Support", appName, "settings.json"),
		LogsDir:          filepath.Join(homeDir, "Library", "Logs", appName),
		RescanInterval:   10 * time.Second,
		DialTimeout:      5 * time.Second,
	}
}

// BundleBinaryPath returns the executable inside an app bundle at path.
func (c *Config) BundleBinaryPath(bundlePath string) string {
	return filepath.Join(bundlePath, "Contents", "MacOS", "wispd")
}

// EnsureDirs creates the directories the daemon writes into.
func (c *Config) EnsureDirs() error {
	for _, d := range []string{
		c.DownloadsDir,
		c.LogsDir,
		filepath.Dir(c.SettingsPath),
	} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return err
		}
	}
	return nil
}
