package updatemanager

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/tickerdesk/tickerdesk/util"
)

const agentBinaryBase = "tickerdesk-updater"

// HandoffDescriptor carries everything the agent process needs to replace the
// installation once this process is gone. WatchedPID is always the requesting
// process, never the agent itself.
type HandoffDescriptor struct {
	PackagePath string
	TargetDir   string
	MainExe     string
	WatchedPID  int32
}

// Args renders the descriptor as the agent's command line.
func (d HandoffDescriptor) Args() []string {
	return []string{
		"--update-package", d.PackagePath,
		"--target-dir", d.TargetDir,
		"--main-exe", d.MainExe,
		"--pid", strconv.Itoa(int(d.WatchedPID)),
		"--no-gui",
	}
}

func agentBinaryName() string {
	if runtime.GOOS == "windows" {
		return agentBinaryBase + ".exe"
	}
	return agentBinaryBase
}

// launchAgent copies the installed updater binary next to the downloaded
// package and starts the copy detached. Running a copy keeps the installed
// updater itself replaceable during the swap; the agent deletes the copy when
// it is done.
func (m *Manager) launchAgent(desc HandoffDescriptor) error {
	installed := filepath.Join(desc.TargetDir, agentBinaryName())
	if _, err := os.Stat(installed); err != nil {
		return fmt.Errorf("updater binary not found in %s: %w", desc.TargetDir, err)
	}

	agentCopy := filepath.Join(filepath.Dir(desc.PackagePath), agentBinaryName())
	if err := util.CopyFileContents(installed, agentCopy); err != nil {
		return fmt.Errorf("failed to stage the updater: %w", err)
	}
	if err := os.Chmod(agentCopy, 0o755); err != nil {
		return fmt.Errorf("failed to mark the updater executable: %w", err)
	}

	cmd := exec.Command(agentCopy, desc.Args()...)
	cmd.Dir = filepath.Dir(agentCopy)
	setDetachedProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", agentCopy, err)
	}
	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		log.Warnf("failed to release the updater process: %v", err)
	}

	log.Infof("started updater %s with PID %d", agentCopy, pid)
	return nil
}
