package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/go-localmodel/pkg/archive"
	"github.com/go-localmodel/pkg/events"
	"github.com/go-localmodel/pkg/procgroup"
	"github.com/go-localmodel/pkg/utils"
)

// DefaultExtractorArgs is the 7-Zip style argument template.
// {archive} and {target} are substituted; a prefix such as -o{target} is kept.
var DefaultExtractorArgs = []string{"x", "{archive}", "-o{target}", "-y"}

// ArchiveOptions configures an ArchiveInstaller
type ArchiveOptions struct {
	TargetDir string
	// ExtractorPath selects external extraction; empty means extract in-process
	ExtractorPath string
	ExtractorArgs []string
	ProgressLabel string
}

// ArchiveInstaller unpacks a downloaded archive into the target directory
type ArchiveInstaller struct {
	opts   ArchiveOptions
	group  procgroup.Group
	sink   events.Sink
	logger *utils.Logger
}

// NewArchiveInstaller creates an archive installer. group may be nil when no external extractor is used.
func NewArchiveInstaller(opts ArchiveOptions, group procgroup.Group, sink events.Sink, logger *utils.Logger) *ArchiveInstaller {
	if len(opts.ExtractorArgs) == 0 {
		opts.ExtractorArgs = DefaultExtractorArgs
	}
	if opts.ProgressLabel == "" {
		opts.ProgressLabel = "Unpacking:"
	}
	if sink == nil {
		sink = events.Discard
	}
	return &ArchiveInstaller{opts: opts, group: group, sink: sink, logger: logger}
}

// Run extracts path and then removes it, even when extraction failed.
// Failing to remove the archive is not an install failure.
func (a *ArchiveInstaller) Run(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: archive %s: %v", ErrFileSystem, path, err)
	}
	if err := utils.EnsureDir(a.opts.TargetDir); err != nil {
		return fmt.Errorf("%w: %v", ErrFileSystem, err)
	}

	a.logger.Info("Installing %s into %s", path, a.opts.TargetDir)

	var err error
	if a.opts.ExtractorPath == "" {
		err = a.extractManaged(ctx, path)
	} else {
		err = a.extractExternal(ctx, path)
	}

	// The archive goes whether or not extraction worked; a cancelled run keeps it for next time.
	if ctx.Err() == nil {
		a.removeArchive(path)
	}
	return err
}

func (a *ArchiveInstaller) removeArchive(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		a.logger.Error("Failed to delete archive %s after install: %v", path, err)
		return
	}
	a.logger.Debug("Deleted archive %s", path)
}

// extractManaged unpacks on a worker goroutine; progress flows through the event sink.
func (a *ArchiveInstaller) extractManaged(ctx context.Context, path string) error {
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)

	go func() {
		n, err := archive.Extract(ctx, path, a.opts.TargetDir, func(extracted, total int) {
			a.sink.Emit(events.Progress(a.opts.ProgressLabel, float64(extracted)/float64(total)))
		})
		done <- result{n: n, err: err}
	}()

	res := <-done
	if res.err != nil {
		return fmt.Errorf("failed to extract %s: %w", path, res.err)
	}
	a.logger.Info("Extracted %d files from %s", res.n, path)
	return nil
}

func (a *ArchiveInstaller) extractExternal(ctx context.Context, path string) error {
	args := make([]string, len(a.opts.ExtractorArgs))
	for i, arg := range a.opts.ExtractorArgs {
		arg = strings.ReplaceAll(arg, "{archive}", path)
		args[i] = strings.ReplaceAll(arg, "{target}", a.opts.TargetDir)
	}

	a.sink.Emit(events.Message(a.opts.ProgressLabel))
	cmd := exec.CommandContext(ctx, a.opts.ExtractorPath, args...)
	if err := runAttached(ctx, cmd, a.group, a.logger); err != nil {
		a.logger.Error("External extraction of %s failed: %v", path, err)
		var exitErr *ExitError
		if errors.As(err, &exitErr) && exitErr.Output != "" {
			a.sink.Emit(events.Message("Unpacking error: " + exitErr.Output))
		}
		return err
	}
	a.sink.Emit(events.Progress(a.opts.ProgressLabel, 1))
	return nil
}
