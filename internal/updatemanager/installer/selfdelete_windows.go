//go:build windows

package installer

import (
	"fmt"
	"os"
	"os/exec"

	log "github.com/sirupsen/logrus"
)

// scheduleSelfDelete removes the agent's own binary after it exits. Windows
// refuses to delete a running executable, so a detached cmd.exe waits out the
// agent with a ping delay and deletes the file afterwards.
func scheduleSelfDelete() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate own executable: %w", err)
	}

	cmd := exec.Command("cmd.exe", "/C", fmt.Sprintf(`ping -n 3 127.0.0.1 >nul & del /f /q "%s"`, exe))
	setDetachedProcAttr(cmd)
	if err := cmd.Start(); err != nil {
		return err
	}
	if err := cmd.Process.Release(); err != nil {
		log.Warnf("failed to release self-delete helper: %v", err)
	}
	return nil
}
