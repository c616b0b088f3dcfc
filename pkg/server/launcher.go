// Package server launches the local inference server, waits for it to become
// healthy and talks to it once it is.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/go-localmodel/pkg/events"
	"github.com/go-localmodel/pkg/installer"
	"github.com/go-localmodel/pkg/metrics"
	"github.com/go-localmodel/pkg/procgroup"
	"github.com/go-localmodel/pkg/utils"
)

var (
	// ErrFileSystem is shared with the installers so callers test a single sentinel
	ErrFileSystem = installer.ErrFileSystem
	// ErrProcessLaunch reports a spawn failure
	ErrProcessLaunch = errors.New("process launch failed")
)

// ProgressLabel prefixes checkpoint loading progress events
const ProgressLabel = "Loading checkpoint shards:"

var percentPattern = regexp.MustCompile(`(\d+)%`)

// LaunchOptions tune how server output is interpreted
type LaunchOptions struct {
	ErrorMarkers    []string
	ProgressMarkers []string
}

// DefaultLaunchOptions match the output of a transformers-based server
func DefaultLaunchOptions() LaunchOptions {
	return LaunchOptions{
		ErrorMarkers:    []string{"Error", "error"},
		ProgressMarkers: []string{"Loading checkpoint shards"},
	}
}

// Launcher spawns server processes attached to a process group
type Launcher struct {
	opts    LaunchOptions
	group   procgroup.Group
	sink    events.Sink
	logger  *utils.Logger
	metrics metrics.Collector
}

// NewLauncher creates a launcher; group may be nil when no supervision is available
func NewLauncher(opts LaunchOptions, group procgroup.Group, sink events.Sink, logger *utils.Logger) *Launcher {
	if sink == nil {
		sink = events.Discard
	}
	return &Launcher{opts: opts, group: group, sink: sink, logger: logger, metrics: metrics.NewNoop()}
}

// SetMetrics replaces the no-op collector
func (l *Launcher) SetMetrics(c metrics.Collector) {
	if c != nil {
		l.metrics = c
	}
}

// Launch starts `<interpreter> <script> [args...]` in the script's directory.
// The process is attached to the group right after it starts; a process that
// dies in between is simply left unattached. ctx only stops output
// interpretation: the process itself lives until Stop or group teardown.
func (l *Launcher) Launch(ctx context.Context, interpreter, script string, args ...string) (*Process, error) {
	if _, err := os.Stat(script); err != nil {
		return nil, fmt.Errorf("%w: server script %s: %v", ErrFileSystem, script, err)
	}

	cmd := exec.Command(interpreter, append([]string{script}, args...)...)
	cmd.Dir = filepath.Dir(script)
	// nil Stdin reads from the null device

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrProcessLaunch, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stderr pipe: %v", ErrProcessLaunch, err)
	}

	if l.group != nil {
		l.group.Prepare(cmd)
	}
	l.logger.Verbose("Executing command: %s", cmd.String())
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrProcessLaunch, filepath.Base(script), err)
	}

	p := &Process{
		PID:      cmd.Process.Pid,
		Name:     filepath.Base(script),
		cmd:      cmd,
		done:     make(chan struct{}),
		exitCode: -1,
	}
	l.logger.Info("Started %s (pid %d)", p.Name, p.PID)

	if l.group != nil {
		attached, err := l.group.Attach(p.PID)
		switch {
		case err != nil:
			l.logger.Error("Could not attach %s (pid %d) to process group: %v", p.Name, p.PID, err)
		case !attached:
			l.logger.Debug("%s (pid %d) was not attached to the process group", p.Name, p.PID)
		}
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		l.scan(ctx, stdout)
	}()
	go func() {
		defer readers.Done()
		l.scan(ctx, stderr)
	}()

	// Wait must only run after both pipes are drained
	go func() {
		readers.Wait()
		err := cmd.Wait()
		if l.group != nil {
			l.group.Detach(p.PID)
		}
		p.finish(err)
		if p.ExitCode() != 0 {
			l.logger.Error("⚠️  %s exited with code %d", p.Name, p.ExitCode())
		} else {
			l.logger.Info("%s exited", p.Name)
		}
		l.metrics.ProcessExit(p.Name, p.ExitCode())
	}()

	return p, nil
}

func (l *Launcher) scan(ctx context.Context, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		l.handleLine(scanner.Text())
	}
	// keep the pipe empty so the child never blocks on a full buffer
	io.Copy(io.Discard, r)
}

func (l *Launcher) handleLine(line string) {
	line = strings.TrimRight(line, "\r")
	switch {
	case strings.TrimSpace(line) == "":
	case containsAny(line, l.opts.ErrorMarkers):
		l.logger.Error("server: %s", line)
		l.sink.Emit(events.Message("Error: " + line))
	case containsAny(line, l.opts.ProgressMarkers):
		m := percentPattern.FindStringSubmatch(line)
		if m == nil {
			l.logger.Verbose("server: %s", line)
			return
		}
		pct, err := strconv.Atoi(m[1])
		if err != nil {
			return
		}
		l.sink.Emit(events.Progress(ProgressLabel, float64(pct)/100))
	default:
		l.logger.Verbose("server: %s", line)
	}
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if m != "" && strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// Process is a running server. It never owns the group it was attached to.
type Process struct {
	PID  int
	Name string

	cmd  *exec.Cmd
	done chan struct{}

	mu       sync.Mutex
	exitCode int
	err      error
}

func (p *Process) finish(err error) {
	p.mu.Lock()
	p.err = err
	if p.cmd.ProcessState != nil {
		p.exitCode = p.cmd.ProcessState.ExitCode()
	}
	p.mu.Unlock()
	close(p.done)
}

// Done is closed once the process has exited and been reaped
func (p *Process) Done() <-chan struct{} { return p.done }

// Running reports whether the process has not exited yet
func (p *Process) Running() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Wait blocks until exit or ctx cancellation
func (p *Process) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ExitCode is -1 while running or when killed by a signal
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// Stop kills the process if it is still running
func (p *Process) Stop() error {
	if !p.Running() {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to stop %s (pid %d): %w", p.Name, p.PID, err)
	}
	return nil
}
