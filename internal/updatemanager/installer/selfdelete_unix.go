//go:build !windows

package installer

import (
	"fmt"
	"os"
	"os/exec"

	log "github.com/sirupsen/logrus"
)

// scheduleSelfDelete removes the agent's own binary after it exits. The agent
// runs from a temporary copy of the updater, the copy must not pile up in the
// temp directory. A short-lived shell does the deletion once this process is
// gone.
func scheduleSelfDelete() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate own executable: %w", err)
	}

	cmd := exec.Command("/bin/sh", "-c", fmt.Sprintf("sleep 2; rm -f '%s'", exe))
	setDetachedProcAttr(cmd)
	if err := cmd.Start(); err != nil {
		return err
	}
	if err := cmd.Process.Release(); err != nil {
		log.Warnf("failed to release self-delete helper: %v", err)
	}
	return nil
}
