// Package archive decides whether a downloaded installer is intact and
// unpacks zip archives entry by entry.
package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrCorrupt    = errors.New("archive is corrupt")
	ErrUnsafePath = errors.New("archive entry escapes target directory")
)

// ProgressFunc is called after each extracted file with the running and total file counts
type ProgressFunc func(done, total int)

// Validate returns nil for anything that is not a .zip; zip files must have a readable central directory.
func Validate(path string) error {
	if !strings.EqualFold(filepath.Ext(path), ".zip") {
		return nil
	}
	r, err := openReader(path)
	if err != nil {
		return err
	}
	return r.Close()
}

// IsValid is Validate as a predicate
func IsValid(path string) bool {
	return Validate(path) == nil
}

// Extract unpacks every entry of src into dst, overwriting existing files.
// Cancellation is observed between entries; an entry in flight always completes.
func Extract(ctx context.Context, src, dst string, progress ProgressFunc) (int, error) {
	r, err := openReader(src)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	root, err := filepath.Abs(dst)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", root, err)
	}

	total := 0
	for _, f := range r.File {
		if !isDir(f) {
			total++
		}
	}

	done := 0
	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return done, err
		}

		target, err := safeJoin(root, f.Name)
		if err != nil {
			return done, err
		}

		if isDir(f) {
			if err := os.MkdirAll(target, 0755); err != nil {
				return done, fmt.Errorf("failed to create %s: %w", target, err)
			}
			continue
		}

		if err := extractFile(f, target); err != nil {
			return done, err
		}
		done++
		if progress != nil {
			progress(done, total)
		}
	}
	return done, nil
}

// List returns the regular files in src as slash-separated relative paths, in archive order
func List(src string) ([]string, error) {
	r, err := openReader(src)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var names []string
	for _, f := range r.File {
		if !isDir(f) {
			names = append(names, f.Name)
		}
	}
	return names, nil
}

// openReader tolerates ErrInsecurePath; entry names are checked by safeJoin during extraction.
func openReader(path string) (*zip.ReadCloser, error) {
	r, err := zip.OpenReader(path)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	return r, nil
}

func isDir(f *zip.File) bool {
	return f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/")
}

func safeJoin(root, name string) (string, error) {
	target := filepath.Join(root, filepath.FromSlash(name))
	if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return target, nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(target), err)
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("failed to extract %s: %w", f.Name, err)
	}
	return out.Close()
}
