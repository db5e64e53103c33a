//go:build !windows

package updatemanager

import (
	"os/exec"
	"syscall"
)

// setDetachedProcAttr puts the agent in its own session so it outlives this
// process.
func setDetachedProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}
}
