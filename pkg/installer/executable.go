package installer

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/go-localmodel/pkg/events"
	"github.com/go-localmodel/pkg/procgroup"
	"github.com/go-localmodel/pkg/utils"
)

// DefaultSilentArgs installs the interpreter for all users and puts it on PATH without any UI
var DefaultSilentArgs = []string{"/quiet", "InstallAllUsers=1", "PrependPath=1"}

// ExecutableInstaller runs a downloaded installer executable unattended
type ExecutableInstaller struct {
	args   []string
	group  procgroup.Group
	sink   events.Sink
	logger *utils.Logger
}

// NewExecutableInstaller creates an installer runner; nil args selects DefaultSilentArgs
func NewExecutableInstaller(args []string, group procgroup.Group, sink events.Sink, logger *utils.Logger) *ExecutableInstaller {
	if args == nil {
		args = DefaultSilentArgs
	}
	if sink == nil {
		sink = events.Discard
	}
	return &ExecutableInstaller{args: args, group: group, sink: sink, logger: logger}
}

// Run executes the installer at path. Exit code 0 is success, after which the installer is deleted.
func (e *ExecutableInstaller) Run(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: installer %s: %v", ErrFileSystem, path, err)
	}
	if err := os.Chmod(path, 0755); err != nil {
		e.logger.Debug("Could not mark %s executable: %v", path, err)
	}

	e.logger.Info("Running installer: %s %v", path, e.args)
	cmd := exec.CommandContext(ctx, path, e.args...)
	if err := runAttached(ctx, cmd, e.group, e.logger); err != nil {
		e.logger.Error("Installer %s failed: %v", path, err)
		return err
	}

	e.logger.Info("✅ Installer finished: %s", path)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		e.logger.Error("Failed to delete installer %s: %v", path, err)
	}
	return nil
}
