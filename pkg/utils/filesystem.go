package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// EnsureDir creates a directory and all parent directories if they don't exist
func EnsureDir(dirPath string) error {
	if dirPath == "" {
		return fmt.Errorf("directory path cannot be empty")
	}

	if info, err := os.Stat(dirPath); err == nil {
		if info.IsDir() {
			return nil
		}
		return fmt.Errorf("path %s exists but is not a directory", dirPath)
	}

	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dirPath, err)
	}
	return nil
}

// EnsureDirForFile creates the directory needed for a file path
func EnsureDirForFile(filePath string) error {
	return EnsureDir(filepath.Dir(filePath))
}

// FileExists reports whether path names an existing regular file
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// FileSize returns the size of path, or 0 when it does not exist
func FileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// RemoveIfExists deletes path, ignoring a missing file
func RemoveIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// MoveFile renames src to dst, copying when the rename crosses devices
func MoveFile(src, dst string) error {
	if err := EnsureDirForFile(dst); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	if err := copyContents(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

// CopyFile copies src to dst with 0644 permissions, creating dst's directory
func CopyFile(src, dst string) error {
	if err := EnsureDirForFile(dst); err != nil {
		return err
	}
	return copyContents(src, dst)
}

func copyContents(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}
	return out.Close()
}
