package lifecycle

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/wispvm/wisp/internal/config"
	"github.com/wispvm/wisp/internal/version"
)

// lsregister refreshes the launch services database after an install.
const lsregister = "/System/Library/Frameworks/CoreServices.framework/Frameworks/LaunchServices.framework/Support/lsregister"

// Updater implements the version gate: scan mounted update sources for a
// bundle strictly newer than the installed build, replace the canonical
// install, and hand off to the new binary.
type Updater struct {
	cfg       *config.Config
	installed version.BuildInfo

	// terminatePeers and launch are exec hooks, replaced in tests.
	terminatePeers func()
	launch         func(binary string) error
}

// NewUpdater creates an updater comparing against installed.
func NewUpdater(cfg *config.Config, installed version.BuildInfo) *Updater {
	u := &Updater{cfg: cfg, installed: installed}
	u.terminatePeers = func() {
		TerminateOthers(filepath.Base(cfg.BundleBinaryPath(cfg.CanonicalAppPath)), 300*time.Millisecond)
	}
	u.launch = Spawn
	return u
}

// sources lists candidate bundle paths in priority order: the primary
// update volume first, then any other mounted volume carrying a bundle of
// the same name.
func (u *Updater) sources() []string {
	bundleName := u.cfg.AppName + ".app"
	primary := filepath.Join(u.cfg.UpdateVolumePath, bundleName)
	out := []string{primary}

	entries, err := os.ReadDir(u.cfg.VolumesRoot)
	if err != nil {
		return out
	}
	for _, e := range entries {
		p := filepath.Join(u.cfg.VolumesRoot, e.Name(), bundleName)
		if p == primary {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			out = append(out, p)
		}
	}
	return out
}

// Scan returns the first candidate strictly newer than the installed
// build, honoring source priority order.
func (u *Updater) Scan() (string, version.BuildInfo, bool) {
	for _, candidate := range u.sources() {
		info, err := version.ReadBundle(candidate)
		if err != nil {
			continue
		}
		if version.Newer(info, u.installed) {
			return candidate, info, true
		}
	}
	return "", version.BuildInfo{}, false
}

// Install replaces the canonical bundle with the candidate. The copy lands
// in a staging directory next to the destination first, so a failed copy
// never leaves a half-written install in place.
func (u *Updater) Install(candidate string) error {
	dst := u.cfg.CanonicalAppPath
	staging := dst + ".staging"

	os.RemoveAll(staging)
	if err := copyTree(candidate, staging); err != nil {
		os.RemoveAll(staging)
		return fmt.Errorf("stage bundle: %w", err)
	}
	if err := os.RemoveAll(dst); err != nil {
		os.RemoveAll(staging)
		return fmt.Errorf("remove old bundle: %w", err)
	}
	if err := os.Rename(staging, dst); err != nil {
		return fmt.Errorf("activate bundle: %w", err)
	}

	// Launch services registration is best-effort; a stale database fixes
	// itself on next login.
	if _, err := os.Stat(lsregister); err == nil {
		if err := exec.Command(lsregister, "-f", dst).Run(); err != nil {
			log.Printf("lifecycle: lsregister failed: %v", err)
		}
	}
	return nil
}

// Apply runs one pass of the version gate. When a newer build is found it
// installs it, terminates peer instances, spawns the new binary, and
// returns true: the caller must exit.
func (u *Updater) Apply() (bool, error) {
	candidate, info, found := u.Scan()
	if !found {
		return false, nil
	}

	log.Printf("lifecycle: update %s (build %d) found at %s, installing",
		info.Version, info.Build, candidate)

	if err := u.Install(candidate); err != nil {
		return false, err
	}
	u.terminatePeers()
	if err := u.launch(u.cfg.BundleBinaryPath(u.cfg.CanonicalAppPath)); err != nil {
		return false, fmt.Errorf("launch updated binary: %w", err)
	}
	return true, nil
}

// RunRescan reruns the version gate on a timer, waking early when the
// volumes root changes (a new volume mounting is exactly the moment an
// update source appears). onHandoff fires after a successful install and
// relaunch; the caller exits from it.
func (u *Updater) RunRescan(ctx context.Context, onHandoff func()) {
	ticker := time.NewTicker(u.cfg.RescanInterval)
	defer ticker.Stop()

	var volumeEvents chan fsnotify.Event
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer watcher.Close()
		if err := watcher.Add(u.cfg.VolumesRoot); err == nil {
			volumeEvents = make(chan fsnotify.Event, 1)
			go func() {
				for {
					select {
					case ev, ok := <-watcher.Events:
						if !ok {
							return
						}
						select {
						case volumeEvents <- ev:
						default:
						}
					case <-watcher.Errors:
					case <-ctx.Done():
						return
					}
				}
			}()
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-volumeEvents:
		}

		handoff, err := u.Apply()
		if err != nil {
			log.Printf("lifecycle: update check failed: %v", err)
			continue
		}
		if handoff {
			onHandoff()
			return
		}
	}
}

// copyTree copies a directory tree preserving file modes. Symlinks are
// recreated; anything else irregular is skipped.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm())
		case info.Mode()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case info.Mode().IsRegular():
			return copyFile(path, target, info.Mode().Perm())
		default:
			return nil
		}
	})
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
