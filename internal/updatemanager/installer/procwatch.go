package installer

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	log "github.com/sirupsen/logrus"
)

const (
	// DefaultWaitTimeout bounds the wait for the requesting process to die.
	DefaultWaitTimeout = 30 * time.Second

	pollInterval = 500 * time.Millisecond
)

// WaitForExit polls whether the watched pid is still alive and returns true
// once it is gone. A timeout returns false but is not fatal for the caller:
// the watched process may already be gone through a path the watcher can not
// observe, and the swap handles draining file handles on its own.
func WaitForExit(ctx context.Context, pid int32, timeout time.Duration) bool {
	if pid <= 0 {
		return true
	}

	log.Infof("waiting up to %v for process %d to exit", timeout, pid)

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		exists, err := process.PidExists(pid)
		if err != nil {
			log.Warnf("failed to check liveness of pid %d, assuming it exited: %v", pid, err)
			return true
		}
		if !exists {
			log.Infof("process %d exited", pid)
			return true
		}

		if time.Now().After(deadline) {
			log.Warnf("timed out waiting for process %d to exit, continuing anyway", pid)
			return false
		}

		select {
		case <-ctx.Done():
			log.Warnf("wait for process %d aborted: %v", pid, ctx.Err())
			return false
		case <-ticker.C:
		}
	}
}
