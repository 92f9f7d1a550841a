package fileops

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// AtomicWriteText writes content to targetPath atomically. Parent directories
// are created as needed.
//
// The content goes to a temporary file in the same directory (so the final
// rename never crosses filesystems), is synced, and is then renamed over the
// target. On any failure the temporary file is removed and the target is left
// untouched.
func AtomicWriteText(targetPath, content string) error {
	dir := filepath.Dir(targetPath)
	if err := EnsureDirectoryExists(dir); err != nil {
		return err
	}

	stem := strings.TrimSuffix(filepath.Base(targetPath), filepath.Ext(targetPath))
	tmp, err := os.CreateTemp(dir, stem+"_*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpPath := tmp.Name()

	var committed bool
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.WriteString(content); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("failed to set file permissions: %w", err)
	}
	if err := os.Rename(tmpPath, targetPath); err != nil {
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	committed = true
	return nil
}

// EnsureDirectoryExists creates a directory and all necessary parents with
// 0755 permissions. It is safe to call on an existing directory.
func EnsureDirectoryExists(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}
