package lifecycle

import (
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// TerminateOthers sends SIGTERM to every other process whose executable
// name matches execName, then waits grace for them to exit. Returns the
// number of processes signalled.
func TerminateOthers(execName string, grace time.Duration) int {
	out, err := exec.Command("pgrep", "-x", execName).Output()
	if err != nil {
		// pgrep exits nonzero when nothing matched.
		return 0
	}

	self := os.Getpid()
	signalled := 0
	for _, line := range strings.Fields(string(out)) {
		pid, err := strconv.Atoi(line)
		if err != nil || pid == self {
			continue
		}
		if err := unix.Kill(pid, unix.SIGTERM); err == nil {
			log.Printf("lifecycle: terminated peer instance pid %d", pid)
			signalled++
		}
	}

	if signalled > 0 {
		time.Sleep(grace)
	}
	return signalled
}
