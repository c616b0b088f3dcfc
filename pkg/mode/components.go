package mode

import (
	"errors"
	"fmt"

	"github.com/go-localmodel/pkg/checker"
	"github.com/go-localmodel/pkg/config"
	"github.com/go-localmodel/pkg/download"
	"github.com/go-localmodel/pkg/installer"
	"github.com/go-localmodel/pkg/manager"
	"github.com/go-localmodel/pkg/utils"
)

// loadManifest picks the component source: an explicit components file,
// then a components section from the managed profile, then the built-in
// interpreter + model pair.
func loadManifest(cfg *config.Config, logger *utils.Logger) (*config.Manifest, error) {
	if cfg.ComponentsFile != "" {
		logger.Info("Component source: file (%s)", cfg.ComponentsFile)
		manifest, err := config.LoadComponents(cfg.ComponentsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load components: %w", err)
		}
		return manifest, nil
	}

	manifest, err := cfg.LoadComponentsFromProfile()
	switch {
	case err == nil:
		logger.Info("Component source: managed profile")
		return manifest, nil
	case !errors.Is(err, config.ErrNoProfileComponents):
		return nil, fmt.Errorf("invalid components in profile: %w", err)
	}

	logger.Info("Component source: built-in defaults")
	return config.DefaultComponents(cfg), nil
}

// pipeline is everything needed to drive one component
type pipeline struct {
	component  config.Component
	checker    checker.Checker
	downloader *download.Client
	resolver   manager.URLResolver
	manager    *manager.Manager
}

func (p *pipeline) resolve() (string, error) {
	return p.resolver.Resolve()
}

func (rt *Runtime) newDownloader(comp config.Component) *download.Client {
	cfg := rt.Config
	attempts := cfg.DownloadAttempts
	if comp.Retries > 0 {
		attempts = comp.Retries
	}

	opts := download.Options{
		Name:         comp.Name,
		DownloadDir:  cfg.DownloadDir,
		FileName:     comp.FileName,
		MaxAttempts:  attempts,
		ExpectedHash: comp.Hash,
		Headers:      cfg.Headers(),
	}
	if cfg.HTTPAuthUser != "" {
		opts.AuthUser = cfg.HTTPAuthUser
		opts.AuthPassword = cfg.HTTPAuthPassword
		rt.Logger.Debug("Using authenticated download client for %s", comp.Name)
	}

	client := download.NewClient(opts, rt.Sink(comp.Name), rt.Logger.Named(comp.Name))
	client.SetFollowRedirects(cfg.FollowRedirects)
	client.SetMetrics(rt.Metrics)
	return client
}

func (rt *Runtime) newChecker(comp config.Component) checker.Checker {
	if comp.EffectiveCheck() == config.CheckInterpreter {
		return checker.NewInterpreterChecker(comp.Candidates, comp.StagingDir, comp.RequiredFiles, rt.Logger.Named(comp.Name))
	}
	return checker.NewFileChecker(comp.TargetDir, comp.StagingDir, comp.RequiredFiles)
}

func (rt *Runtime) newRunner(comp config.Component) (installer.Runner, error) {
	sink := rt.Sink(comp.Name)
	logger := rt.Logger.Named(comp.Name)

	switch comp.Kind {
	case config.KindArchive:
		return installer.NewArchiveInstaller(installer.ArchiveOptions{
			TargetDir:     comp.TargetDir,
			ExtractorPath: comp.ExtractorPath,
		}, rt.Group, sink, logger), nil
	case config.KindExecutable:
		return installer.NewExecutableInstaller(comp.InstallerArgs, rt.Group, sink, logger), nil
	case config.KindFile:
		return installer.NewFilePlacer(comp.TargetDir, comp.FileName, logger), nil
	default:
		return nil, fmt.Errorf("unsupported component kind '%s' for %s", comp.Kind, comp.Name)
	}
}

// newPipeline assembles checker, downloader, runner and manager for comp
func (rt *Runtime) newPipeline(comp config.Component) (*pipeline, error) {
	cfg := rt.Config

	resolver, err := manager.NewResolver(comp.Resolver, comp.URL, comp.Version)
	if err != nil {
		return nil, fmt.Errorf("component %s: %w", comp.Name, err)
	}
	runner, err := rt.newRunner(comp)
	if err != nil {
		return nil, err
	}

	chk := rt.newChecker(comp)
	dl := rt.newDownloader(comp)

	opts := manager.Options{
		Name:                   comp.Name,
		Messages:               manager.Messages(comp.Messages),
		Resolver:               resolver,
		StagingDir:             comp.StagingDir,
		PhaseDelay:             cfg.PhaseDelay,
		SkipVerifyAfterInstall: !cfg.VerifyAfterInstall,
		CleanupOnFailure:       cfg.CleanupOnFailure,
		KeepFailedFiles:        cfg.KeepFailedFiles,
		CleanupOnSuccess:       cfg.CleanupOnSuccess,
	}
	mgr := manager.NewManager(chk, dl, runner, opts, rt.Sink(comp.Name), rt.Logger.Named(comp.Name))
	mgr.SetMetrics(rt.Metrics)

	return &pipeline{component: comp, checker: chk, downloader: dl, resolver: resolver, manager: mgr}, nil
}
