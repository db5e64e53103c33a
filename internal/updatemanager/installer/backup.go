package installer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/tickerdesk/tickerdesk/util"
)

// stateDirName holds per-user config, the update marker and logs. It is
// never backed up, replaced or rolled back; keep in sync with the config
// package.
const stateDirName = ".tickerdesk"

// excludedNames are top-level entries that survive an update in place.
var excludedNames = map[string]struct{}{
	"logs":  {},
	"cache": {},
}

func excluded(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	_, ok := excludedNames[name]
	return ok
}

// Backup is a copy of the installation taken immediately before replacement.
// It is deleted on success and restored verbatim on failure.
type Backup struct {
	Dir     string
	entries []string
}

// backupInstall copies every non-excluded top-level entry of targetDir into
// backupDir.
func backupInstall(targetDir, backupDir string) (*Backup, error) {
	entries, err := os.ReadDir(targetDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", targetDir, err)
	}

	b := &Backup{Dir: backupDir}
	for _, entry := range entries {
		if excluded(entry.Name()) {
			continue
		}
		src := filepath.Join(targetDir, entry.Name())
		dst := filepath.Join(backupDir, entry.Name())
		if err := copyTree(src, dst); err != nil {
			return nil, fmt.Errorf("failed to back up %s: %w", entry.Name(), err)
		}
		b.entries = append(b.entries, entry.Name())
	}

	log.Infof("backed up %d entries of %s to %s", len(b.entries), targetDir, backupDir)
	return b, nil
}

// Restore puts every backed-up entry back, replacing whatever the failed
// swap left behind. Entries the swap introduced are deleted so the tree ends
// up exactly as it was before the attempt.
func (b *Backup) Restore(targetDir string) error {
	if err := b.removeAddedEntries(targetDir); err != nil {
		return err
	}
	for _, name := range b.entries {
		dst := filepath.Join(targetDir, name)
		if err := os.RemoveAll(dst); err != nil {
			return fmt.Errorf("failed to clear %s during rollback: %w", dst, err)
		}
		if err := copyTree(filepath.Join(b.Dir, name), dst); err != nil {
			return fmt.Errorf("failed to restore %s: %w", name, err)
		}
	}
	// stray rename-aside leftovers from the failed attempt
	if err := removeOldEntries(targetDir); err != nil {
		log.Warnf("failed to clean rename leftovers during rollback: %v", err)
	}
	log.Infof("restored %d entries to %s", len(b.entries), targetDir)
	return nil
}

// removeAddedEntries deletes top-level entries that exist in targetDir but
// were not part of the backed-up installation.
func (b *Backup) removeAddedEntries(targetDir string) error {
	backedUp := make(map[string]struct{}, len(b.entries))
	for _, name := range b.entries {
		backedUp[name] = struct{}{}
	}

	entries, err := os.ReadDir(targetDir)
	if err != nil {
		return fmt.Errorf("failed to list %s during rollback: %w", targetDir, err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if excluded(name) {
			continue
		}
		if _, ok := backedUp[name]; ok {
			continue
		}
		if err := os.RemoveAll(filepath.Join(targetDir, name)); err != nil {
			return fmt.Errorf("failed to remove added entry %s during rollback: %w", name, err)
		}
		log.Debugf("removed %s, not part of the previous installation", name)
	}
	return nil
}

// Remove deletes the backup tree.
func (b *Backup) Remove() error {
	return os.RemoveAll(b.Dir)
}

// copyTree copies a file or a directory tree preserving file modes.
func copyTree(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		if err := util.CopyFileContents(src, dst); err != nil {
			return err
		}
		return os.Chmod(dst, info.Mode())
	}

	if err := os.MkdirAll(dst, info.Mode()); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := copyTree(filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

// removeOldEntries deletes top-level rename-aside leftovers.
func removeOldEntries(targetDir string) error {
	entries, err := os.ReadDir(targetDir)
	if err != nil {
		return err
	}

	var merr *multierror.Error
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), oldSuffix) {
			continue
		}
		path := filepath.Join(targetDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("failed to remove %s: %w", path, err))
		}
	}
	return merr.ErrorOrNil()
}
