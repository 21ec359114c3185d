package lifecycle

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestAcquireLockFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")

	l, err := AcquireLock(path)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Release()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid != os.Getpid() {
		t.Fatalf("lock file contents = %q", data)
	}
	if !strings.HasSuffix(string(data), "\n") {
		t.Fatal("lock file must be newline-terminated")
	}
}

func TestAcquireLockStaleHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")

	// A PID far above any real process on this machine.
	if err := os.WriteFile(path, []byte("999999999\n"), 0644); err != nil {
		t.Fatal(err)
	}

	l, err := AcquireLock(path)
	if err != nil {
		t.Fatalf("stale lock not reclaimed: %v", err)
	}
	l.Release()
}

func TestAcquireLockLiveHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")

	// PID 1 is always alive.
	if err := os.WriteFile(path, []byte("1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := AcquireLock(path); !errors.Is(err, ErrLockHeld) {
		t.Fatalf("err = %v, want ErrLockHeld", err)
	}
}

func TestAcquireLockGarbageContents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")
	if err := os.WriteFile(path, []byte("not a pid"), 0644); err != nil {
		t.Fatal(err)
	}
	l, err := AcquireLock(path)
	if err != nil {
		t.Fatalf("garbage lock not reclaimed: %v", err)
	}
	l.Release()
}

func TestReleaseOnlyRemovesOwnLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")

	l, err := AcquireLock(path)
	if err != nil {
		t.Fatal(err)
	}

	// Another instance took over the file after us.
	if err := os.WriteFile(path, []byte("1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	l.Release()

	if _, err := os.Stat(path); err != nil {
		t.Fatal("release removed a lock it no longer owned")
	}
}

func TestAcquireLockRetrySucceedsAfterHolderExits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")
	if err := os.WriteFile(path, []byte("1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	// Holder "exits" while the retry sleeps.
	go func() {
		time.Sleep(50 * time.Millisecond)
		os.WriteFile(path, []byte("999999999\n"), 0644)
	}()

	l, err := AcquireLockRetry(path, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("retry did not recover: %v", err)
	}
	l.Release()
}

func TestTerminateOthersNoMatches(t *testing.T) {
	if n := TerminateOthers("wisp-test-no-such-process", time.Millisecond); n != 0 {
		t.Fatalf("signalled %d processes, want 0", n)
	}
}

func TestLoadSettingsTriState(t *testing.T) {
	dir := t.TempDir()

	// Missing file: unset.
	s, err := LoadSettings(filepath.Join(dir, "none.json"))
	if err != nil {
		t.Fatal(err)
	}
	if s.AutoStart != nil {
		t.Fatal("missing settings file must leave AutoStart unset")
	}

	write := func(name, content string) string {
		t.Helper()
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		return p
	}

	s, err = LoadSettings(write("on.json", `{"auto_start":true}`))
	if err != nil || s.AutoStart == nil || !*s.AutoStart {
		t.Fatalf("auto_start true: %+v err=%v", s, err)
	}

	s, err = LoadSettings(write("off.json", `{"auto_start":false}`))
	if err != nil || s.AutoStart == nil || *s.AutoStart {
		t.Fatalf("auto_start false: %+v err=%v", s, err)
	}

	s, err = LoadSettings(write("unset.json", `{}`))
	if err != nil || s.AutoStart != nil {
		t.Fatalf("auto_start absent: %+v err=%v", s, err)
	}

	if _, err := LoadSettings(write("bad.json", `{nope`)); err == nil {
		t.Fatal("malformed settings must error")
	}
}

func TestLaunchAgentApply(t *testing.T) {
	dir := t.TempDir()
	agent := LaunchAgent{
		Path:    filepath.Join(dir, "com.wispvm.wispd.plist"),
		Label:   "com.wispvm.wispd",
		Program: "/Applications/Wisp.app/Contents/MacOS/wispd",
		LogsDir: filepath.Join(dir, "logs"),
	}

	on, off := true, false

	// Unset leaves things alone in both directions.
	if err := agent.Apply(nil); err != nil {
		t.Fatal(err)
	}
	if agent.Installed() {
		t.Fatal("nil preference must not install")
	}

	if err := agent.Apply(&on); err != nil {
		t.Fatal(err)
	}
	if !agent.Installed() {
		t.Fatal("true preference must install")
	}

	data, err := os.ReadFile(agent.Path)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	for _, want := range []string{agent.Label, agent.Program, "<key>KeepAlive</key>", "StandardOutPath"} {
		if !strings.Contains(content, want) {
			t.Fatalf("agent descriptor missing %q:\n%s", want, content)
		}
	}

	if err := agent.Apply(nil); err != nil {
		t.Fatal(err)
	}
	if !agent.Installed() {
		t.Fatal("nil preference must not uninstall")
	}

	if err := agent.Apply(&off); err != nil {
		t.Fatal(err)
	}
	if agent.Installed() {
		t.Fatal("false preference must uninstall")
	}

	// Uninstalling twice is fine.
	if err := agent.Apply(&off); err != nil {
		t.Fatal(err)
	}
}
