package lifecycle

import (
	"fmt"
	"os/exec"
)

// Spawn starts binary as a detached child. The child outlives this
// process; handoff sequences (location gate, version gate) exit right
// after a successful spawn.
func Spawn(binary string) error {
	cmd := exec.Command(binary)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn %s: %w", binary, err)
	}
	// Reap the child if it exits while we are still around.
	go cmd.Wait()
	return nil
}
