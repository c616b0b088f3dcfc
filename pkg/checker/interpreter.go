package checker

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-localmodel/pkg/utils"
)

// ErrInterpreterNotFound is returned when no usable interpreter exists
var ErrInterpreterNotFound = errors.New("python interpreter not found")

// InterpreterChecker locates an installed Python interpreter.
// Staging queries are delegated to a FileChecker over the installer file names.
type InterpreterChecker struct {
	*FileChecker

	candidates []string
	names      []string
	stagingDir string
	logger     *utils.Logger

	lookPath func(string) (string, error)
	registry func() (string, error)
	verify   func(ctx context.Context, path string) error
}

// NewInterpreterChecker creates a checker. candidates are absolute paths tried first;
// installerFiles are the names looked for in the staging directory.
func NewInterpreterChecker(candidates []string, stagingDir string, installerFiles []string, logger *utils.Logger) *InterpreterChecker {
	c := &InterpreterChecker{
		FileChecker: NewFileChecker("", stagingDir, installerFiles),
		candidates:  candidates,
		names:       []string{"python3", "python"},
		stagingDir:  stagingDir,
		logger:      logger,
		lookPath:    exec.LookPath,
		registry:    registryExecutablePath,
	}
	c.verify = c.version
	return c
}

// IsSatisfied is true when a working interpreter can be found
func (c *InterpreterChecker) IsSatisfied() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err := c.ExecutablePath(ctx)
	return err == nil
}

// ExecutablePath searches candidates, then PATH, then the Windows registry
func (c *InterpreterChecker) ExecutablePath(ctx context.Context) (string, error) {
	var found []string
	for _, p := range c.candidates {
		if p != "" && utils.FileExists(p) {
			found = append(found, p)
		}
	}
	for _, name := range c.names {
		if p, err := c.lookPath(name); err == nil {
			found = append(found, p)
		}
	}
	if p, err := c.registry(); err == nil && p != "" {
		found = append(found, p)
	}

	for _, p := range found {
		if c.inStaging(p) {
			c.logger.Debug("Ignoring %s: staged installers are not installations", p)
			continue
		}
		if err := c.verify(ctx, p); err != nil {
			c.logger.Debug("Interpreter candidate %s rejected: %v", p, err)
			continue
		}
		c.logger.Debug("Using interpreter %s", p)
		return p, nil
	}
	return "", ErrInterpreterNotFound
}

func (c *InterpreterChecker) inStaging(p string) bool {
	if c.stagingDir == "" {
		return false
	}
	rel, err := filepath.Rel(c.stagingDir, p)
	return err == nil && !strings.HasPrefix(rel, "..")
}

func (c *InterpreterChecker) version(ctx context.Context, path string) error {
	out, err := utils.RunCommandCapture(ctx, []string{path, "--version"})
	if err != nil {
		return err
	}
	if !strings.HasPrefix(out, "Python ") {
		return fmt.Errorf("unexpected version output %q", out)
	}
	return nil
}

var (
	_ Checker                = (*FileChecker)(nil)
	_ Checker                = (*InterpreterChecker)(nil)
	_ ExecutablePathResolver = (*InterpreterChecker)(nil)
	_ StagingSeeder          = (*FileChecker)(nil)
)
