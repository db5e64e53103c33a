package installer

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
)

// Agent is the relauncher process core: it waits for the requesting process
// to die, swaps the installation, relaunches the main executable and reports
// the outcome. Its steps run strictly sequentially, each precondition depends
// on the prior step completing.
type Agent struct {
	PackagePath string
	TargetDir   string
	MainExe     string
	WatchedPID  int32

	waitTimeout time.Duration
	swapper     *Swapper
	selfDelete  bool
}

// NewAgent builds an agent from the hand-off arguments.
func NewAgent(packagePath, targetDir, mainExe string, watchedPID int32) *Agent {
	return &Agent{
		PackagePath: packagePath,
		TargetDir:   targetDir,
		MainExe:     mainExe,
		WatchedPID:  watchedPID,
		waitTimeout: DefaultWaitTimeout,
		swapper:     NewSwapper(mainExe),
		selfDelete:  true,
	}
}

// Run drives the full hand-off sequence. The returned error maps to the
// process exit code: nil only when the swap succeeded and the new version was
// launched.
func (a *Agent) Run(ctx context.Context) error {
	log.Infof("updater agent starting: package=%s target=%s exe=%s pid=%d",
		a.PackagePath, a.TargetDir, a.MainExe, a.WatchedPID)

	// a timeout here is non-fatal, the swap retries busy files on its own
	WaitForExit(ctx, a.WatchedPID, a.waitTimeout)

	outcome, swapErr := a.swapper.Swap(a.PackagePath, a.TargetDir)
	if swapErr != nil {
		log.Errorf("swap finished with outcome %s: %v", outcome, swapErr)
	}

	var launchErr error
	if outcome != OutcomeFailed {
		// on success the new version starts; after a rollback the restored
		// previous version does, so the user is never left without the app
		if launchErr = a.launchMain(); launchErr != nil {
			log.Errorf("failed to relaunch %s: %v", a.MainExe, launchErr)
		}
	}

	result := Result{Outcome: outcome, ExecutedAt: time.Now()}
	switch {
	case swapErr != nil:
		result.Error = swapErr.Error()
	case launchErr != nil:
		result.Error = fmt.Sprintf("relaunch failed: %v", launchErr)
	}
	if err := NewResultHandler(filepath.Join(a.TargetDir, stateDirName)).Write(result); err != nil {
		log.Errorf("failed to write update result: %v", err)
	}

	if a.selfDelete {
		if err := scheduleSelfDelete(); err != nil {
			log.Warnf("failed to schedule self-deletion: %v", err)
		}
	}

	if swapErr != nil {
		return swapErr
	}
	if launchErr != nil {
		// the files are correct, the swap is not undone for a launch failure
		return fmt.Errorf("installation updated but relaunch failed: %w", launchErr)
	}
	return nil
}

func (a *Agent) launchMain() error {
	exe := filepath.Join(a.TargetDir, a.MainExe)
	if _, err := os.Stat(exe); err != nil {
		return fmt.Errorf("main executable not found: %w", err)
	}

	cmd := exec.Command(exe)
	cmd.Dir = a.TargetDir
	setDetachedProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return err
	}

	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		log.Warnf("failed to release relaunched process: %v", err)
	}

	log.Infof("relaunched %s with PID %d", exe, pid)
	return nil
}
