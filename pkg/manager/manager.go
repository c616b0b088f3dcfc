// Package manager drives a single component through check, download and install.
package manager

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-localmodel/pkg/archive"
	"github.com/go-localmodel/pkg/checker"
	"github.com/go-localmodel/pkg/download"
	"github.com/go-localmodel/pkg/events"
	"github.com/go-localmodel/pkg/installer"
	"github.com/go-localmodel/pkg/metrics"
	"github.com/go-localmodel/pkg/phases"
	"github.com/go-localmodel/pkg/utils"
)

var (
	// ErrDownloadFailed wraps every failure that ends in phases.DownloadFailed
	ErrDownloadFailed = errors.New("download failed")
	// ErrInstallFailed wraps every failure that ends in phases.InstallFailed
	ErrInstallFailed = errors.New("install failed")
	// ErrNoExecutable is returned when the checker cannot point at an executable
	ErrNoExecutable = errors.New("component does not expose an executable")
)

// DefaultPhaseDelay lets listeners render a phase before the next one replaces it
const DefaultPhaseDelay = 100 * time.Millisecond

// Options configure one Manager
type Options struct {
	Name     string
	Messages Messages
	Resolver URLResolver
	// StagingDir is searched for a pre-staged copy of the downloaded artifact
	StagingDir string

	// PhaseDelay is slept between major phases; 0 disables pacing
	PhaseDelay time.Duration
	// SkipVerifyAfterInstall trusts the runner's exit status without re-checking files
	SkipVerifyAfterInstall bool

	CleanupOnFailure bool
	KeepFailedFiles  bool
	CleanupOnSuccess bool
}

// DefaultOptions returns options with pacing and post-install verification enabled
func DefaultOptions(name string) Options {
	return Options{
		Name:             name,
		Messages:         DefaultMessages(),
		PhaseDelay:       DefaultPhaseDelay,
		CleanupOnFailure: true,
	}
}

// Manager orchestrates the check/download/install phases for one component
type Manager struct {
	checker    checker.Checker
	downloader download.Downloader
	runner     installer.Runner
	opts       Options
	sink       events.Sink
	logger     *utils.Logger
	metrics    metrics.Collector

	cleanupTracker *download.CleanupTracker
}

// NewManager creates a new phase manager
func NewManager(chk checker.Checker, dl download.Downloader, runner installer.Runner, opts Options, sink events.Sink, logger *utils.Logger) *Manager {
	if sink == nil {
		sink = events.Discard
	}
	if opts.Resolver == nil {
		opts.Resolver = DirectResolver{}
	}
	opts.Messages = opts.Messages.withDefaults()
	return &Manager{
		checker:        chk,
		downloader:     dl,
		runner:         runner,
		opts:           opts,
		sink:           sink,
		logger:         logger,
		metrics:        metrics.NewNoop(),
		cleanupTracker: download.NewCleanupTracker(logger),
	}
}

// SetMetrics replaces the no-op collector
func (m *Manager) SetMetrics(c metrics.Collector) {
	if c != nil {
		m.metrics = c
	}
}

// Install runs the state machine to a terminal state. The returned error, if
// any, wraps ErrDownloadFailed or ErrInstallFailed.
func (m *Manager) Install(ctx context.Context) (phases.State, error) {
	msgs := m.opts.Messages
	tracker := phases.NewTracker(func(from, to phases.State) {
		m.logger.Debug("%s: %s -> %s", m.opts.Name, from, to)
		m.metrics.PhaseTransition(m.opts.Name, from.String(), to.String())
	})

	m.logger.Info("=== Processing %s ===", m.opts.Name)
	m.move(tracker, phases.Checking)
	m.sink.Emit(events.Message(msgs.Starting))

	if m.checker.IsSatisfied() {
		m.move(tracker, phases.AlreadyInstalled)
		m.logger.Info("⏭️  %s already installed - skipping", m.opts.Name)
		m.sink.Emit(events.Progress(msgs.AlreadyInstalled, 1))
		return tracker.Current(), nil
	}

	artifact := m.artifactName()
	if m.seedFromStaging(artifact) {
		m.move(tracker, phases.AlreadyInstalled)
		m.logger.Info("⏭️  %s installed from pre-shipped staging copies", m.opts.Name)
		m.sink.Emit(events.Progress(msgs.AlreadyInstalled, 1))
		return tracker.Current(), nil
	}

	m.move(tracker, phases.NotFound)
	m.sink.Emit(events.Message(msgs.NotFound))
	m.pace(ctx)

	path := m.stagedArtifact(artifact)
	if path == "" {
		m.move(tracker, phases.Downloading)
		var err error
		path, err = m.download(ctx)
		if err != nil {
			m.move(tracker, phases.DownloadFailed)
			m.logger.Error("❌ Download failed for %s: %v", m.opts.Name, err)
			m.sink.Emit(events.Message(msgs.Failed))
			m.cleanupFailed()
			return tracker.Current(), fmt.Errorf("%w: %s: %w", ErrDownloadFailed, m.opts.Name, err)
		}
	}

	m.move(tracker, phases.Downloaded)
	m.sink.Emit(events.Message(msgs.Downloaded))
	m.pace(ctx)

	m.move(tracker, phases.Installing)
	if err := m.runner.Run(ctx, path); err != nil {
		return m.failInstall(tracker, err)
	}
	if !m.opts.SkipVerifyAfterInstall && !m.checker.IsSatisfied() {
		return m.failInstall(tracker, fmt.Errorf("required files still missing after install"))
	}

	m.move(tracker, phases.Installed)
	m.cleanupTracker.MarkSuccess(path)
	m.logger.Info("✅ %s installed", m.opts.Name)
	m.sink.Emit(events.Progress(msgs.Done, 1))

	if m.opts.CleanupOnSuccess {
		m.logger.Debug("CleanupOnSuccess=true: removing downloaded artifacts for %s", m.opts.Name)
		if err := m.cleanupTracker.CleanupAll(); err != nil {
			m.logger.Debug("CleanupOnSuccess encountered errors: %v", err)
		}
	}
	return tracker.Current(), nil
}

// ExecutablePath asks the checker for the installed executable when it can provide one
func (m *Manager) ExecutablePath(ctx context.Context) (string, error) {
	resolver, ok := m.checker.(checker.ExecutablePathResolver)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoExecutable, m.opts.Name)
	}
	return resolver.ExecutablePath(ctx)
}

func (m *Manager) download(ctx context.Context) (string, error) {
	url, err := m.opts.Resolver.Resolve()
	if err != nil {
		return "", err
	}
	m.cleanupTracker.TrackFile(m.downloader.Destination(url))

	path, err := m.downloader.DownloadWithVerification(ctx, url)
	if err != nil {
		return "", err
	}
	if path == "" {
		return "", fmt.Errorf("downloader returned no file for %s", url)
	}
	return path, nil
}

// artifactName is the file name the downloader would produce, or "" when the URL cannot be resolved
func (m *Manager) artifactName() string {
	url, err := m.opts.Resolver.Resolve()
	if err != nil {
		return ""
	}
	return filepath.Base(m.downloader.Destination(url))
}

// seedFromStaging copies pre-shipped installed files out of staging when the
// checker supports it, and reports whether the component is now satisfied.
func (m *Manager) seedFromStaging(artifact string) bool {
	seeder, ok := m.checker.(checker.StagingSeeder)
	if !ok {
		return false
	}
	copied, err := seeder.SeedFromStaging(artifact)
	if err != nil {
		m.logger.Info("⚠️  Could not copy staged files for %s: %v", m.opts.Name, err)
		return false
	}
	return copied && m.checker.IsSatisfied()
}

// stagedArtifact returns a staged copy of the artifact itself, the only kind of
// staged file the runner can consume, or "" when none is usable.
func (m *Manager) stagedArtifact(artifact string) string {
	if artifact == "" {
		return ""
	}
	candidates := []string{m.checker.LocateInStaging()}
	if m.opts.StagingDir != "" {
		candidates = append(candidates, filepath.Join(m.opts.StagingDir, artifact))
	}

	for _, staged := range candidates {
		if staged == "" || filepath.Base(staged) != artifact || !utils.FileExists(staged) {
			continue
		}
		if err := archive.Validate(staged); err != nil {
			m.logger.Info("⚠️  Ignoring invalid staged file %s: %v", staged, err)
			continue
		}
		m.logger.Info("Using staged file %s for %s", staged, m.opts.Name)
		return staged
	}
	return ""
}

func (m *Manager) failInstall(tracker *phases.Tracker, cause error) (phases.State, error) {
	m.move(tracker, phases.InstallFailed)
	m.logger.Error("❌ Install failed for %s: %v", m.opts.Name, cause)
	m.sink.Emit(events.Message(m.opts.Messages.Failed))
	m.cleanupFailed()
	return tracker.Current(), fmt.Errorf("%w: %s: %w", ErrInstallFailed, m.opts.Name, cause)
}

func (m *Manager) cleanupFailed() {
	if !m.opts.CleanupOnFailure {
		return
	}
	if m.opts.KeepFailedFiles {
		m.logger.Debug("KeepFailedFiles=true: preserving failed downloads for troubleshooting")
		return
	}
	m.logger.Info("🧹 Performing failure cleanup for %s", m.opts.Name)
	if err := m.cleanupTracker.Cleanup(); err != nil {
		m.logger.Debug("File cleanup encountered errors: %v", err)
	}
}

// move panics on an illegal transition: the sequence above is fixed, so a failure here is a bug
func (m *Manager) move(tracker *phases.Tracker, to phases.State) {
	if err := tracker.Transition(to); err != nil {
		panic(err)
	}
}

func (m *Manager) pace(ctx context.Context) {
	if m.opts.PhaseDelay <= 0 {
		return
	}
	t := time.NewTimer(m.opts.PhaseDelay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
