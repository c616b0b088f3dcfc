// Package checker answers whether a component is already installed and
// whether a pre-staged installer is available locally.
package checker

import (
	"context"
	"os"
	"path/filepath"

	"github.com/go-localmodel/pkg/utils"
)

// Checker is what the install orchestrator asks before downloading
type Checker interface {
	// IsSatisfied reports whether the installation is present
	IsSatisfied() bool
	// IsSatisfiedInStaging reports whether a pre-staged artifact exists
	IsSatisfiedInStaging() bool
	// LocateInStaging returns the first staged artifact, or ""
	LocateInStaging() string
}

// ExecutablePathResolver is an optional capability of a Checker that can point at the installed executable
type ExecutablePathResolver interface {
	ExecutablePath(ctx context.Context) (string, error)
}

// StagingSeeder is an optional capability of a Checker whose staging directory
// may hold pre-shipped copies of the installed files rather than an installer.
type StagingSeeder interface {
	// SeedFromStaging copies the staged copies into place when every required
	// file except those named skip is staged. It reports whether it copied.
	SeedFromStaging(skip string) (bool, error)
}

// FileChecker checks for required files under a target directory.
// Every call hits the file system; nothing is cached.
type FileChecker struct {
	targetDir  string
	stagingDir string
	required   []string
}

// NewFileChecker creates a checker for the given required file names
func NewFileChecker(targetDir, stagingDir string, required []string) *FileChecker {
	return &FileChecker{targetDir: targetDir, stagingDir: stagingDir, required: required}
}

// IsSatisfied is true when every required file exists. Absolute entries are checked as-is.
func (f *FileChecker) IsSatisfied() bool {
	for _, name := range f.required {
		if !exists(f.resolve(name)) {
			return false
		}
	}
	return true
}

func (f *FileChecker) IsSatisfiedInStaging() bool {
	return f.LocateInStaging() != ""
}

// LocateInStaging matches required entries by base name only
func (f *FileChecker) LocateInStaging() string {
	if f.stagingDir == "" {
		return ""
	}
	for _, name := range f.required {
		candidate := filepath.Join(f.stagingDir, filepath.Base(name))
		if exists(candidate) {
			return candidate
		}
	}
	return ""
}

// SeedFromStaging copies required files found in staging (by base name) into the
// target directory. Nothing is copied unless every required entry other than skip
// is staged, or when skip is the only required entry.
func (f *FileChecker) SeedFromStaging(skip string) (bool, error) {
	if f.stagingDir == "" || f.targetDir == "" {
		return false, nil
	}

	type copyJob struct{ src, dst string }
	var jobs []copyJob
	for _, name := range f.required {
		if filepath.Base(name) == skip {
			continue
		}
		src := filepath.Join(f.stagingDir, filepath.Base(name))
		if !exists(src) {
			return false, nil
		}
		jobs = append(jobs, copyJob{src: src, dst: f.resolve(name)})
	}
	if len(jobs) == 0 {
		return false, nil
	}

	for _, j := range jobs {
		if exists(j.dst) {
			continue
		}
		if err := utils.CopyFile(j.src, j.dst); err != nil {
			return false, err
		}
	}
	return true, nil
}

// Required returns resolved paths of the required files
func (f *FileChecker) Required() []string {
	out := make([]string, len(f.required))
	for i, name := range f.required {
		out[i] = f.resolve(name)
	}
	return out
}

func (f *FileChecker) resolve(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(f.targetDir, name)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
