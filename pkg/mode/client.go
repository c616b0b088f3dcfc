package mode

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-localmodel/pkg/config"
	"github.com/go-localmodel/pkg/server"
	"github.com/go-localmodel/pkg/signal"
	"github.com/go-localmodel/pkg/utils"
)

// serverBase prefers the URL recorded by a running supervisor over configuration
func serverBase(cfg *config.Config, logger *utils.Logger) string {
	info, err := signal.ReadReady(cfg.ReadyFile)
	if err != nil {
		logger.Debug("No ready marker at %s (%v); using %s", cfg.ReadyFile, err, cfg.ServerURL)
		return cfg.ServerURL
	}
	logger.Debug("Ready marker: server pid %d at %s since %s", info.ServerPID, info.ServerURL, info.Since)
	if info.ServerURL == "" {
		return cfg.ServerURL
	}
	return info.ServerURL
}

// RunGenerate sends one prompt to the model server and returns its answer
func RunGenerate(ctx context.Context, cfg *config.Config, logger *utils.Logger, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("prompt is empty")
	}
	client := server.NewModelClient(serverBase(cfg, logger), cfg.GeneratePath, nil, logger)
	return client.Generate(ctx, prompt)
}

// RunShutdown asks a running model server to exit
func RunShutdown(ctx context.Context, cfg *config.Config, logger *utils.Logger) error {
	client := server.NewModelClient(serverBase(cfg, logger), cfg.GeneratePath, nil, logger)
	if err := client.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown request failed: %w", err)
	}
	logger.Info("Shutdown requested")
	return nil
}
