package installer

import (
	"context"
	"errors"
	"fmt"
)

// ErrFileSystem reports a missing or unusable file on disk
var ErrFileSystem = errors.New("file system error")

// Runner installs a downloaded artifact
type Runner interface {
	Run(ctx context.Context, path string) error
}

// ExitError is returned when an installer process exits non-zero
type ExitError struct {
	Name   string
	Code   int
	Output string
}

func (e *ExitError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("%s exited with code %d", e.Name, e.Code)
	}
	return fmt.Sprintf("%s exited with code %d: %s", e.Name, e.Code, e.Output)
}

var (
	_ Runner = (*ArchiveInstaller)(nil)
	_ Runner = (*ExecutableInstaller)(nil)
	_ Runner = (*FilePlacer)(nil)
)
