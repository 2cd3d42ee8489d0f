//go:build !unix

package scanner

import (
	"os"
	"os/exec"
)

func setProcessGroup(cmd *exec.Cmd) {}

// Interrupt is not deliverable everywhere; an error means kill at once.
func terminateProcessGroup(cmd *exec.Cmd) error {
	return cmd.Process.Signal(os.Interrupt)
}

func killProcessGroup(cmd *exec.Cmd) {
	cmd.Process.Kill()
}
