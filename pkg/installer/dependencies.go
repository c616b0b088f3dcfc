package installer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/go-localmodel/pkg/events"
	"github.com/go-localmodel/pkg/procgroup"
	"github.com/go-localmodel/pkg/utils"
)

// DependencyOptions configures a DependencyInstaller
type DependencyOptions struct {
	Manifest   string
	MaxRetries int
	RetryDelay time.Duration
	// Messages shown when installation starts and ends
	StartMessage string
	DoneMessage  string
}

// DependencyInstaller installs the server's Python packages with pip
type DependencyInstaller struct {
	opts   DependencyOptions
	group  procgroup.Group
	sink   events.Sink
	logger *utils.Logger
}

// NewDependencyInstaller creates a pip-based dependency installer
func NewDependencyInstaller(opts DependencyOptions, group procgroup.Group, sink events.Sink, logger *utils.Logger) *DependencyInstaller {
	if opts.StartMessage == "" {
		opts.StartMessage = "Installing dependencies..."
	}
	if opts.DoneMessage == "" {
		opts.DoneMessage = "Dependencies installed"
	}
	if sink == nil {
		sink = events.Discard
	}
	return &DependencyInstaller{opts: opts, group: group, sink: sink, logger: logger}
}

// Install runs `<interpreter> -m pip install -r <manifest>`, retrying transient failures.
// A missing manifest fails immediately.
func (d *DependencyInstaller) Install(ctx context.Context, interpreter string) error {
	if _, err := os.Stat(d.opts.Manifest); err != nil {
		return fmt.Errorf("%w: dependency manifest %s: %v", ErrFileSystem, d.opts.Manifest, err)
	}

	d.sink.Emit(events.Message(d.opts.StartMessage))
	_, err := utils.Retry(ctx, func() error {
		return d.runOnce(ctx, interpreter)
	}, d.opts.MaxRetries, d.opts.RetryDelay, "pip install", d.logger)
	if err != nil {
		d.sink.Emit(events.Message(fmt.Sprintf("Dependency installation failed: %v", err)))
		return err
	}

	d.sink.Emit(events.Progress(d.opts.DoneMessage, 1))
	return nil
}

func (d *DependencyInstaller) runOnce(ctx context.Context, interpreter string) error {
	cmd := exec.CommandContext(ctx, interpreter, "-m", "pip", "install", "-r", d.opts.Manifest)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if d.group != nil {
		d.group.Prepare(cmd)
	}

	d.logger.Verbose("Executing command: %s", cmd.String())
	if err := cmd.Start(); err != nil {
		return utils.Permanent(fmt.Errorf("failed to start %s: %w", interpreter, err))
	}
	if d.group != nil {
		defer d.group.Detach(cmd.Process.Pid)
		if ok, err := d.group.Attach(cmd.Process.Pid); err != nil || !ok {
			d.logger.Debug("pip (pid %d) not attached to process group: %v", cmd.Process.Pid, err)
		}
	}

	var (
		wg      sync.WaitGroup
		lastErr string
		mu      sync.Mutex
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		d.scan(stdout, false, nil)
	}()
	go func() {
		defer wg.Done()
		d.scan(stderr, true, func(line string) {
			mu.Lock()
			lastErr = line
			mu.Unlock()
		})
	}()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return &ExitError{Name: "pip", Code: exitErr.ExitCode(), Output: lastErr}
		}
		return err
	}
	return nil
}

// scan logs every line. pip WARNING lines are noise; other stderr lines are surfaced as messages.
func (d *DependencyInstaller) scan(r io.Reader, isStderr bool, onError func(string)) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case strings.Contains(line, "WARNING"):
			d.logger.Debug("pip: %s", line)
		case isStderr:
			d.logger.Error("pip: %s", line)
			d.sink.Emit(events.Message(line))
			if onError != nil {
				onError(line)
			}
		default:
			d.logger.Verbose("pip: %s", line)
		}
	}
	io.Copy(io.Discard, r)
}
