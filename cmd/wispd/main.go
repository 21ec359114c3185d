// wispd is the guest integration daemon. It runs inside the virtual
// machine and serves the host over the virtual-socket transport: the
// request router (clipboard, file queue, uploads), the tunnel server, and
// the event push stream.
//
// Exactly one wispd runs per guest. Startup takes over from any other
// instance, acquires the PID lock, runs the mounted-volume version gate,
// and relaunches from the canonical install path when started elsewhere.
//
// Build: CGO_ENABLED=0 go build -o wispd ./cmd/wispd
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/wispvm/wisp/internal/clipboard"
	"github.com/wispvm/wisp/internal/config"
	"github.com/wispvm/wisp/internal/daemon"
	"github.com/wispvm/wisp/internal/lifecycle"
	"github.com/wispvm/wisp/internal/notify"
	"github.com/wispvm/wisp/internal/version"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("wispd %s (build %d) starting", version.Version(), version.Build())

	// A peer closing mid-write must surface as a write error, not kill the
	// process.
	signal.Ignore(syscall.SIGPIPE)

	cfg := config.DefaultConfig()

	// Take over from any other running instance before touching the lock.
	lifecycle.TerminateOthers(daemonName(), 300*time.Millisecond)

	lock, err := lifecycle.AcquireLockRetry(cfg.LockPath, time.Second)
	if err != nil {
		if errors.Is(err, lifecycle.ErrLockHeld) {
			// Someone else won the race; the supervisor restarts us later.
			log.Printf("lock still held, exiting: %v", err)
			os.Exit(0)
		}
		log.Fatalf("acquire lock: %v", err)
	}
	defer lock.Release()

	updater := lifecycle.NewUpdater(cfg, version.Current())
	handoff, err := updater.Apply()
	if err != nil {
		log.Printf("version gate: %v", err)
	}
	if handoff {
		log.Printf("handed off to updated install, exiting")
		lock.Release()
		os.Exit(0)
	}

	if relaunchFromCanonicalPath(cfg, lock) {
		os.Exit(0)
	}

	settings, err := lifecycle.LoadSettings(cfg.SettingsPath)
	if err != nil {
		log.Printf("load settings: %v", err)
	}
	agent := lifecycle.LaunchAgent{
		Path:    cfg.LaunchAgentPath,
		Label:   cfg.AppID,
		Program: cfg.BundleBinaryPath(cfg.CanonicalAppPath),
		LogsDir: cfg.LogsDir,
	}
	if err := agent.Apply(settings.AutoStart); err != nil {
		log.Printf("apply auto-start preference: %v", err)
	}

	if err := cfg.EnsureDirs(); err != nil {
		log.Fatalf("create directories: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, shutting down", sig)
		cancel()
	}()

	go updater.RunRescan(ctx, func() {
		log.Printf("update installed by rescan, exiting for handoff")
		lock.Release()
		os.Exit(0)
	})

	d := daemon.New(cfg, clipboard.NewExec(), notify.NewExec(cfg.AppName), nil)
	if err := d.Run(ctx); err != nil {
		log.Fatalf("daemon: %v", err)
	}

	log.Printf("wispd shut down")
}

// daemonName is the executable name takeover matches on.
func daemonName() string {
	exe, err := os.Executable()
	if err != nil {
		return "wispd"
	}
	return filepath.Base(exe)
}

// relaunchFromCanonicalPath enforces the location gate: when running from
// anywhere but the canonical install and an install exists there, spawn
// the installed copy and report that this process should exit.
func relaunchFromCanonicalPath(cfg *config.Config, lock *lifecycle.Lock) bool {
	exe, err := os.Executable()
	if err != nil {
		return false
	}
	exe, _ = filepath.EvalSymlinks(exe)
	canonical := cfg.BundleBinaryPath(cfg.CanonicalAppPath)
	if resolved, err := filepath.EvalSymlinks(canonical); err == nil {
		canonical = resolved
	}
	if exe == canonical {
		return false
	}
	if _, err := os.Stat(canonical); err != nil {
		// Nothing installed yet; keep running from here.
		return false
	}

	log.Printf("running from %s, launching installed copy at %s", exe, canonical)
	if err := lifecycle.Spawn(canonical); err != nil {
		log.Printf("launch installed copy: %v", err)
		return false
	}
	lock.Release()
	return true
}
