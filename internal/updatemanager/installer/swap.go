package installer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
)

const oldSuffix = ".old"

// Outcome is the terminal state of a swap, persisted as the update marker the
// client reads at its next startup.
type Outcome string

const (
	OutcomeSuccess    Outcome = "success"
	OutcomeRolledBack Outcome = "rolled_back"
	OutcomeFailed     Outcome = "failed"
)

// Swapper replaces an installation's file tree with the contents of an update
// archive. It tolerates transiently busy destinations: right after the
// watched process exits the OS may still hold handles on its binaries, so a
// locked file is renamed aside and every delete-or-rename is retried with a
// short backoff before giving up on that single file.
type Swapper struct {
	mainExe       string
	maxRetries    uint64
	retryInterval time.Duration

	copyEntry func(src, dst string) error
}

// NewSwapper creates a Swapper. mainExe names the installation's main
// executable, which is never deleted in place.
func NewSwapper(mainExe string) *Swapper {
	return &Swapper{
		mainExe:       mainExe,
		maxRetries:    4,
		retryInterval: 250 * time.Millisecond,
		copyEntry:     copyTree,
	}
}

// Swap extracts archivePath next to targetDir, backs the installation up,
// replaces its files and cleans up. On any failure after the backup was taken
// every backed-up entry is restored; a failure during that rollback is the
// only unrecoverable condition. On success the backup, the extracted tree and
// the archive itself are deleted.
func (s *Swapper) Swap(archivePath, targetDir string) (Outcome, error) {
	parent := filepath.Dir(targetDir)

	extractDir, err := os.MkdirTemp(parent, "tickerdesk-extract-*")
	if err != nil {
		return OutcomeFailed, fmt.Errorf("failed to create extraction directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(extractDir); err != nil {
			log.Warnf("failed to remove extraction directory %s: %v", extractDir, err)
		}
	}()

	// a corrupt archive fails here, before anything in targetDir was touched
	srcRoot, err := ExtractArchive(archivePath, extractDir)
	if err != nil {
		return OutcomeFailed, err
	}

	backupDir, err := os.MkdirTemp(parent, "tickerdesk-backup-*")
	if err != nil {
		return OutcomeFailed, fmt.Errorf("failed to create backup directory: %w", err)
	}
	backup, err := backupInstall(targetDir, backupDir)
	if err != nil {
		_ = os.RemoveAll(backupDir)
		return OutcomeFailed, fmt.Errorf("failed to back up installation: %w", err)
	}

	if err := s.replaceAll(srcRoot, targetDir); err != nil {
		log.Errorf("swap failed, rolling back %s: %v", targetDir, err)
		if rbErr := backup.Restore(targetDir); rbErr != nil {
			return OutcomeFailed, fmt.Errorf("rollback failed, installation may be unrunnable: %v (swap error: %v)", rbErr, err)
		}
		if err := backup.Remove(); err != nil {
			log.Warnf("failed to remove backup %s: %v", backup.Dir, err)
		}
		return OutcomeRolledBack, err
	}

	// replacement fully completed, the backup may go now
	if err := backup.Remove(); err != nil {
		log.Warnf("failed to remove backup %s: %v", backup.Dir, err)
	}
	if err := os.Remove(archivePath); err != nil {
		log.Warnf("failed to remove update package %s: %v", archivePath, err)
	}
	if err := s.retry(func() error { return removeOldEntries(targetDir) }); err != nil {
		log.Warnf("failed to remove rename leftovers in %s: %v", targetDir, err)
	}

	log.Infof("installation %s updated successfully", targetDir)
	return OutcomeSuccess, nil
}

func (s *Swapper) replaceAll(srcRoot, targetDir string) error {
	entries, err := os.ReadDir(srcRoot)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", srcRoot, err)
	}

	replaced := 0
	for _, entry := range entries {
		name := entry.Name()
		if excluded(name) {
			log.Debugf("skipping %s", name)
			continue
		}

		dst := filepath.Join(targetDir, name)
		if _, err := os.Lstat(dst); err == nil {
			if err := s.clearDestination(dst); err != nil {
				// handles may still be draining right after the watched
				// process exited; give up on this one file, not the swap
				log.Warnf("could not clear %s, keeping the previous copy: %v", dst, err)
				continue
			}
		}

		if err := s.copyEntry(filepath.Join(srcRoot, name), dst); err != nil {
			return fmt.Errorf("failed to install %s: %w", name, err)
		}
		replaced++
	}

	log.Infof("replaced %d entries in %s", replaced, targetDir)
	return nil
}

// clearDestination makes room for the incoming file. The main executable and
// lockable shared libraries are never deleted in place: the OS may forbid
// deleting an in-use binary but still allows renaming it, so they are moved
// aside with an .old suffix in the same directory.
func (s *Swapper) clearDestination(dst string) error {
	if s.lockable(dst) {
		aside := dst + oldSuffix
		if err := os.RemoveAll(aside); err != nil {
			log.Warnf("failed to remove stale %s: %v", aside, err)
		}
		return s.retry(func() error { return os.Rename(dst, aside) })
	}
	return s.retry(func() error { return os.RemoveAll(dst) })
}

func (s *Swapper) lockable(path string) bool {
	base := filepath.Base(path)
	if s.mainExe != "" && base == s.mainExe {
		return true
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".exe", ".dll", ".so", ".dylib":
		return true
	}
	return false
}

func (s *Swapper) retry(op func() error) error {
	bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(s.retryInterval), s.maxRetries)
	return backoff.Retry(op, bo)
}
