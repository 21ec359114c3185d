package lifecycle

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wispvm/wisp/internal/config"
	"github.com/wispvm/wisp/internal/version"
)

// fixtureConfig builds a config rooted entirely inside a temp dir.
func fixtureConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.CanonicalAppPath = filepath.Join(root, "Applications", "Wisp.app")
	cfg.UpdateVolumePath = filepath.Join(root, "Volumes", "Wisp Update")
	cfg.VolumesRoot = filepath.Join(root, "Volumes")
	if err := os.MkdirAll(cfg.VolumesRoot, 0755); err != nil {
		t.Fatal(err)
	}
	return cfg
}

// makeBundle writes a minimal bundle: binary + build metadata.
func makeBundle(t *testing.T, path string, info version.BuildInfo, payload string) {
	t.Helper()
	binDir := filepath.Join(path, "Contents", "MacOS")
	if err := os.MkdirAll(binDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(binDir, "wispd"), []byte(payload), 0755); err != nil {
		t.Fatal(err)
	}
	if err := version.WriteBundle(path, info); err != nil {
		t.Fatal(err)
	}
}

func newTestUpdater(cfg *config.Config, installed version.BuildInfo) (*Updater, *int, *int) {
	u := NewUpdater(cfg, installed)
	terms, launches := 0, 0
	u.terminatePeers = func() { terms++ }
	u.launch = func(string) error { launches++; return nil }
	return u, &terms, &launches
}

func TestScanPrefersPrimaryVolume(t *testing.T) {
	cfg := fixtureConfig(t)
	makeBundle(t, filepath.Join(cfg.UpdateVolumePath, "Wisp.app"),
		version.BuildInfo{Version: "2.0.0", Build: 200}, "primary")
	makeBundle(t, filepath.Join(cfg.VolumesRoot, "USB Stick", "Wisp.app"),
		version.BuildInfo{Version: "3.0.0", Build: 300}, "secondary")

	u, _, _ := newTestUpdater(cfg, version.BuildInfo{Version: "1.0.0", Build: 100})
	candidate, info, found := u.Scan()
	if !found {
		t.Fatal("no candidate found")
	}
	if info.Build != 200 {
		t.Fatalf("picked build %d, want primary volume's 200", info.Build)
	}
	if filepath.Dir(candidate) != cfg.UpdateVolumePath {
		t.Fatalf("candidate = %s", candidate)
	}
}

func TestScanFallsBackToOtherVolumes(t *testing.T) {
	cfg := fixtureConfig(t)
	makeBundle(t, filepath.Join(cfg.VolumesRoot, "Backup", "Wisp.app"),
		version.BuildInfo{Version: "2.0.0", Build: 200}, "new")

	u, _, _ := newTestUpdater(cfg, version.BuildInfo{Version: "1.0.0", Build: 100})
	if _, info, found := u.Scan(); !found || info.Build != 200 {
		t.Fatalf("found=%v info=%+v", found, info)
	}
}

func TestApplyInstallsAndHandsOff(t *testing.T) {
	cfg := fixtureConfig(t)
	makeBundle(t, cfg.CanonicalAppPath, version.BuildInfo{Version: "1.0.0", Build: 100}, "old-binary")
	makeBundle(t, filepath.Join(cfg.UpdateVolumePath, "Wisp.app"),
		version.BuildInfo{Version: "2.0.0", Build: 200}, "new-binary")

	u, terms, launches := newTestUpdater(cfg, version.BuildInfo{Version: "1.0.0", Build: 100})
	handoff, err := u.Apply()
	if err != nil {
		t.Fatal(err)
	}
	if !handoff {
		t.Fatal("expected handoff")
	}
	if *terms != 1 || *launches != 1 {
		t.Fatalf("terms=%d launches=%d", *terms, *launches)
	}

	got, err := os.ReadFile(cfg.BundleBinaryPath(cfg.CanonicalAppPath))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "new-binary" {
		t.Fatalf("installed binary = %q", got)
	}
	info, err := version.ReadBundle(cfg.CanonicalAppPath)
	if err != nil || info.Build != 200 {
		t.Fatalf("installed metadata = %+v err=%v", info, err)
	}
	if _, err := os.Stat(cfg.CanonicalAppPath + ".staging"); !os.IsNotExist(err) {
		t.Fatal("staging directory left behind")
	}
}

// Version-gate idempotence: an equal-or-older source changes nothing.
func TestApplyIdempotentWhenNotNewer(t *testing.T) {
	cfg := fixtureConfig(t)
	makeBundle(t, cfg.CanonicalAppPath, version.BuildInfo{Version: "1.0.0", Build: 100}, "installed")
	makeBundle(t, filepath.Join(cfg.UpdateVolumePath, "Wisp.app"),
		version.BuildInfo{Version: "1.0.0", Build: 100}, "same-build")

	before, err := os.ReadFile(cfg.BundleBinaryPath(cfg.CanonicalAppPath))
	if err != nil {
		t.Fatal(err)
	}

	u, terms, launches := newTestUpdater(cfg, version.BuildInfo{Version: "1.0.0", Build: 100})
	handoff, err := u.Apply()
	if err != nil {
		t.Fatal(err)
	}
	if handoff || *terms != 0 || *launches != 0 {
		t.Fatalf("handoff=%v terms=%d launches=%d, want all zero", handoff, *terms, *launches)
	}

	after, err := os.ReadFile(cfg.BundleBinaryPath(cfg.CanonicalAppPath))
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Fatal("installed bundle changed on a non-newer source")
	}
}

func TestScanIgnoresBundlesWithoutMetadata(t *testing.T) {
	cfg := fixtureConfig(t)
	// Bundle directory exists but has no metadata file.
	if err := os.MkdirAll(filepath.Join(cfg.UpdateVolumePath, "Wisp.app", "Contents"), 0755); err != nil {
		t.Fatal(err)
	}

	u, _, _ := newTestUpdater(cfg, version.BuildInfo{Version: "1.0.0", Build: 100})
	if _, _, found := u.Scan(); found {
		t.Fatal("metadata-less bundle must not be a candidate")
	}
}

func TestRunRescanPicksUpNewVolume(t *testing.T) {
	cfg := fixtureConfig(t)
	cfg.RescanInterval = 30 * time.Millisecond
	makeBundle(t, cfg.CanonicalAppPath, version.BuildInfo{Version: "1.0.0", Build: 100}, "installed")

	u, _, _ := newTestUpdater(cfg, version.BuildInfo{Version: "1.0.0", Build: 100})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	handoff := make(chan struct{})
	go u.RunRescan(ctx, func() { close(handoff) })

	// Mount an update volume after the rescan loop is running.
	time.Sleep(60 * time.Millisecond)
	makeBundle(t, filepath.Join(cfg.UpdateVolumePath, "Wisp.app"),
		version.BuildInfo{Version: "2.0.0", Build: 200}, "new")

	select {
	case <-handoff:
	case <-ctx.Done():
		t.Fatal("rescan never applied the update")
	}
}
