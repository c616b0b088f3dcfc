package mode

import (
	"os"

	"github.com/go-localmodel/pkg/config"
	"github.com/go-localmodel/pkg/signal"
	"github.com/go-localmodel/pkg/utils"
)

// RunClean removes cached downloads and a stale ready marker. Installed
// components and the staging directory are preserved.
func RunClean(cfg *config.Config, logger *utils.Logger) error {
	logger.Info("🧹 Cleaning cached state (preserving installed components)")

	if info, err := signal.ReadReady(cfg.ReadyFile); err == nil {
		logger.Info("⚠️  Ready marker points at server pid %d; removing it anyway", info.ServerPID)
	}
	if err := signal.RemoveReady(cfg.ReadyFile); err != nil {
		logger.Debug("Failed to remove ready marker %s: %v", cfg.ReadyFile, err)
	} else {
		logger.Verbose("Removed ready marker: %s", cfg.ReadyFile)
	}

	if cfg.DownloadDir != "" {
		logger.Debug("Cleaning download directory: %s", cfg.DownloadDir)
		if err := os.RemoveAll(cfg.DownloadDir); err != nil {
			logger.Error("Failed to remove %s: %v", cfg.DownloadDir, err)
			return err
		}
		// Recreate the directory for future use
		if err := utils.EnsureDir(cfg.DownloadDir); err != nil {
			logger.Debug("Failed to recreate %s: %v", cfg.DownloadDir, err)
		}
	}

	logger.Info("✅ Cached state cleaned")
	return nil
}
