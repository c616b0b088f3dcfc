package installer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/go-localmodel/pkg/procgroup"
	"github.com/go-localmodel/pkg/utils"
)

// runAttached starts cmd inside group, waits for it and maps a non-zero exit to *ExitError.
// Attaching happens after spawn, so a process that exits immediately is simply not attached.
func runAttached(ctx context.Context, cmd *exec.Cmd, group procgroup.Group, logger *utils.Logger) error {
	var output bytes.Buffer
	if cmd.Stdout == nil {
		cmd.Stdout = &output
	}
	if cmd.Stderr == nil {
		cmd.Stderr = &output
	}

	name := filepath.Base(cmd.Path)
	if group != nil {
		group.Prepare(cmd)
	}

	logger.Verbose("Executing command: %s", cmd.String())
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", name, err)
	}

	if group != nil {
		defer group.Detach(cmd.Process.Pid)
		attached, err := group.Attach(cmd.Process.Pid)
		switch {
		case err != nil:
			logger.Error("Could not attach %s (pid %d) to process group: %v", name, cmd.Process.Pid, err)
		case !attached:
			logger.Debug("%s (pid %d) was not attached to the process group", name, cmd.Process.Pid)
		}
	}

	err := cmd.Wait()
	out := strings.TrimSpace(output.String())
	if out != "" {
		logger.Debug("%s output: %s", name, out)
	}
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%s cancelled: %w", name, ctx.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Name: name, Code: exitErr.ExitCode(), Output: out}
	}
	return fmt.Errorf("%s failed: %w", name, err)
}
