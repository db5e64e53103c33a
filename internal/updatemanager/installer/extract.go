package installer

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

// ExtractArchive unpacks the update package into destDir and returns the
// directory holding the new file tree. When the archive wraps everything in a
// single top-level directory the result descends into it. A corrupt archive
// fails before anything in the installation was touched.
func ExtractArchive(zipPath, destDir string) (string, error) {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", fmt.Errorf("failed to open update package %s: %w", zipPath, err)
	}
	defer func() {
		if cerr := reader.Close(); cerr != nil {
			log.Warnf("error closing archive %s: %v", zipPath, cerr)
		}
	}()

	log.Infof("extracting %d entries from %s to %s", len(reader.File), zipPath, destDir)

	for _, file := range reader.File {
		if err := extractEntry(file, destDir); err != nil {
			return "", err
		}
	}

	return packageRoot(destDir)
}

func extractEntry(file *zip.File, destDir string) error {
	target, err := sanitizePath(destDir, file.Name)
	if err != nil {
		return err
	}

	if file.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", target, err)
	}

	src, err := file.Open()
	if err != nil {
		return fmt.Errorf("failed to read archive entry %s: %w", file.Name, err)
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			log.Warnf("error closing archive entry %s: %v", file.Name, cerr)
		}
	}()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, file.Mode())
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	defer func() {
		if cerr := dst.Close(); cerr != nil {
			log.Warnf("error closing %s: %v", target, cerr)
		}
	}()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to extract %s: %w", file.Name, err)
	}
	return nil
}

// sanitizePath rejects entries that would escape destDir
func sanitizePath(destDir, name string) (string, error) {
	target := filepath.Join(destDir, filepath.FromSlash(name))
	if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry %q escapes the extraction directory", name)
	}
	return target, nil
}

// packageRoot descends into a single wrapping directory, the shape most
// archive tools produce.
func packageRoot(destDir string) (string, error) {
	entries, err := os.ReadDir(destDir)
	if err != nil {
		return "", fmt.Errorf("failed to list extracted files: %w", err)
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("update package is empty")
	}
	if len(entries) == 1 && entries[0].IsDir() {
		root := filepath.Join(destDir, entries[0].Name())
		log.Debugf("descending into wrapping directory %s", root)
		return root, nil
	}
	return destDir, nil
}
