package utils

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// RunCommandCapture runs args[0] with the remaining arguments and returns its
// trimmed stdout. On failure the error carries the last stderr line, which is
// where interpreters and installers put the reason.
func RunCommandCapture(ctx context.Context, args []string) (string, error) {
	if len(args) == 0 {
		return "", errors.New("no command provided")
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%s: %w", args[0], ctx.Err())
		}
		if reason := lastLine(stderr.String()); reason != "" {
			return "", fmt.Errorf("%s: %w: %s", args[0], err, reason)
		}
		return "", fmt.Errorf("%s: %w", args[0], err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
