//go:build !windows

package installer

import (
	"os/exec"
	"syscall"
)

// setDetachedProcAttr puts the child in its own session so it survives the
// agent exiting.
func setDetachedProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}
}
