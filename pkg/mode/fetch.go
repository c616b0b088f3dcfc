package mode

import (
	"context"
	"fmt"

	"github.com/go-localmodel/pkg/config"
	"github.com/go-localmodel/pkg/download"
)

// RunFetch downloads and verifies every component that is not installed yet,
// in parallel, without installing anything. A later install picks the
// verified files up through the downloader's resume path.
func RunFetch(ctx context.Context, rt *Runtime) ([]download.Result, error) {
	cfg := rt.Config
	logger := rt.Logger
	logger.Info("Starting fetch mode")

	manifest, err := loadManifest(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := config.ValidateComponents(manifest); err != nil {
		return nil, fmt.Errorf("component validation failed: %w", err)
	}

	var jobs []download.Job
	for _, comp := range manifest.Components {
		p, err := rt.newPipeline(comp)
		if err != nil {
			return nil, err
		}
		if p.checker.IsSatisfied() {
			logger.Info("⏭️  %s already installed - nothing to fetch", comp.Name)
			continue
		}
		url, err := p.resolve()
		if err != nil {
			return nil, fmt.Errorf("component %s: %w", comp.Name, err)
		}
		jobs = append(jobs, download.Job{Name: comp.Name, URL: url, Downloader: p.downloader})
	}

	if len(jobs) == 0 {
		logger.Info("Nothing to fetch")
		return nil, nil
	}

	logger.Info("Pre-downloading %d components", len(jobs))
	cleanupFailed := cfg.CleanupOnFailure && !cfg.KeepFailedFiles
	if !cleanupFailed && cfg.CleanupOnFailure {
		logger.Debug("KeepFailedFiles=true: preserving failed downloads for troubleshooting")
	}
	results := download.DownloadAll(ctx, jobs, cfg.DownloadMaxConcurrency, cleanupFailed, logger)

	var failed int
	for _, r := range results {
		if r.Error != nil {
			logger.Error("Failed to fetch '%s': %v", r.Job.Name, r.Error)
			failed++
			continue
		}
		logger.Info("✅ Fetched %s -> %s", r.Job.Name, r.Path)
	}
	if failed > 0 {
		return results, fmt.Errorf("failed to fetch %d of %d components", failed, len(results))
	}
	return results, nil
}
