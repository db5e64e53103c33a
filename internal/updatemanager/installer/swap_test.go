package installer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMainExe = "tickerdesk"

// makeInstall builds a plausible installation tree under its own parent dir
// and returns the installation path.
func makeInstall(t *testing.T, files map[string]string) string {
	t.Helper()

	target := filepath.Join(t.TempDir(), "install")
	for name, content := range files {
		path := filepath.Join(target, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return target
}

func makeArchive(t *testing.T, dir string, files map[string]string) string {
	t.Helper()

	path := filepath.Join(dir, "update.zip")
	writeZip(t, path, files)
	return path
}

func readTree(t *testing.T, root string) map[string]string {
	t.Helper()

	tree := map[string]string{}
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		tree[filepath.ToSlash(rel)] = string(content)
		return nil
	})
	require.NoError(t, err)
	return tree
}

func TestSwapSuccess(t *testing.T) {
	target := makeInstall(t, map[string]string{
		"tickerdesk":            "old binary",
		"tickerdesk.dll":        "old lib",
		"assets/logo.png":       "old logo",
		"logs/app.log":          "log line",
		".tickerdesk/conf.json": "{}",
	})
	archive := makeArchive(t, filepath.Dir(target), map[string]string{
		"tickerdesk":      "new binary",
		"tickerdesk.dll":  "new lib",
		"assets/logo.png": "new logo",
		"README.md":       "readme",
	})

	outcome, err := NewSwapper(testMainExe).Swap(archive, target)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, outcome)

	tree := readTree(t, target)
	assert.Equal(t, "new binary", tree["tickerdesk"])
	assert.Equal(t, "new lib", tree["tickerdesk.dll"])
	assert.Equal(t, "new logo", tree["assets/logo.png"])
	assert.Equal(t, "readme", tree["README.md"])

	// excluded entries survive untouched
	assert.Equal(t, "log line", tree["logs/app.log"])
	assert.Equal(t, "{}", tree[".tickerdesk/conf.json"])

	// no rename-aside leftovers
	for name := range tree {
		assert.False(t, strings.HasSuffix(name, oldSuffix), "leftover %s", name)
	}

	// the package is consumed and the work dirs are gone
	_, statErr := os.Stat(archive)
	assert.True(t, os.IsNotExist(statErr))
	entries, err := os.ReadDir(filepath.Dir(target))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "install", entries[0].Name())
}

func TestSwapWrappedArchive(t *testing.T) {
	target := makeInstall(t, map[string]string{
		"tickerdesk": "old binary",
	})
	archive := makeArchive(t, filepath.Dir(target), map[string]string{
		"tickerdesk-2.0.0/tickerdesk": "new binary",
		"tickerdesk-2.0.0/CHANGELOG":  "notes",
	})

	outcome, err := NewSwapper(testMainExe).Swap(archive, target)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, outcome)

	tree := readTree(t, target)
	assert.Equal(t, "new binary", tree["tickerdesk"])
	assert.Equal(t, "notes", tree["CHANGELOG"])
	_, wrapped := tree["tickerdesk-2.0.0/tickerdesk"]
	assert.False(t, wrapped)
}

func TestSwapRollsBackOnInstallFailure(t *testing.T) {
	original := map[string]string{
		"tickerdesk":      "old binary",
		"assets/logo.png": "old logo",
		"data.json":       "old data",
	}
	target := makeInstall(t, original)
	archive := makeArchive(t, filepath.Dir(target), map[string]string{
		"tickerdesk":      "new binary",
		"assets/logo.png": "new logo",
		"data.json":       "new data",
	})

	s := NewSwapper(testMainExe)
	s.retryInterval = 0
	copied := 0
	s.copyEntry = func(src, dst string) error {
		copied++
		if copied == 2 {
			return fmt.Errorf("disk full")
		}
		return copyTree(src, dst)
	}

	outcome, err := s.Swap(archive, target)
	require.Error(t, err)
	assert.Equal(t, OutcomeRolledBack, outcome)
	assert.Contains(t, err.Error(), "disk full")

	// the previous version is back, byte for byte, with no leftovers
	assert.Equal(t, original, readTree(t, target))

	entries, readErr := os.ReadDir(filepath.Dir(target))
	require.NoError(t, readErr)
	names := []string{}
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"install", "update.zip"}, names)
}

func TestSwapRollbackRemovesAddedEntries(t *testing.T) {
	original := map[string]string{"zz.bin": "old payload"}
	target := makeInstall(t, original)
	// aa_new.txt sorts before zz.bin, so it lands before the failure
	archive := makeArchive(t, filepath.Dir(target), map[string]string{
		"aa_new.txt": "brand new file",
		"zz.bin":     "new payload",
	})

	s := NewSwapper(testMainExe)
	s.retryInterval = 0
	copied := 0
	s.copyEntry = func(src, dst string) error {
		copied++
		if copied == 2 {
			return fmt.Errorf("device unplugged")
		}
		return copyTree(src, dst)
	}

	outcome, err := s.Swap(archive, target)
	require.Error(t, err)
	assert.Equal(t, OutcomeRolledBack, outcome)

	// a file only the update ships must not survive the rollback
	assert.Equal(t, original, readTree(t, target))
}

func TestSwapCorruptArchiveTouchesNothing(t *testing.T) {
	original := map[string]string{"tickerdesk": "old binary"}
	target := makeInstall(t, original)
	archive := filepath.Join(filepath.Dir(target), "update.zip")
	require.NoError(t, os.WriteFile(archive, []byte("garbage"), 0o644))

	outcome, err := NewSwapper(testMainExe).Swap(archive, target)
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, original, readTree(t, target))
}

func TestSwapIsRepeatable(t *testing.T) {
	target := makeInstall(t, map[string]string{
		"tickerdesk": "v1",
	})
	pkg := map[string]string{"tickerdesk": "v2"}

	for i := 0; i < 2; i++ {
		// the swap consumes its package, each round needs a fresh one
		archive := makeArchive(t, filepath.Dir(target), pkg)
		outcome, err := NewSwapper(testMainExe).Swap(archive, target)
		require.NoError(t, err)
		require.Equal(t, OutcomeSuccess, outcome)
	}

	assert.Equal(t, map[string]string{"tickerdesk": "v2"}, readTree(t, target))
}

func TestSwapStaleOldEntriesCleaned(t *testing.T) {
	target := makeInstall(t, map[string]string{
		"tickerdesk":     "old binary",
		"tickerdesk.old": "stale leftover",
	})
	archive := makeArchive(t, filepath.Dir(target), map[string]string{
		"tickerdesk": "new binary",
	})

	outcome, err := NewSwapper(testMainExe).Swap(archive, target)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, outcome)
	assert.Equal(t, map[string]string{"tickerdesk": "new binary"}, readTree(t, target))
}
