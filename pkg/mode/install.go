package mode

import (
	"context"
	"fmt"

	"github.com/go-localmodel/pkg/config"
	"github.com/go-localmodel/pkg/phases"
)

// InstallResult reports where each component ended up
type InstallResult struct {
	States map[string]phases.State
	// Interpreter is the executable found by the first interpreter-checked component
	Interpreter string
}

// RunInstall drives every component to a terminal phase, in manifest order.
// The first failure stops the run.
func RunInstall(ctx context.Context, rt *Runtime) (*InstallResult, error) {
	logger := rt.Logger
	logger.Info("Starting install mode")

	// Step 1: pick the component source
	logger.Info("Step 1: Loading components")
	manifest, err := loadManifest(rt.Config, logger)
	if err != nil {
		return nil, err
	}
	if err := config.ValidateComponents(manifest); err != nil {
		return nil, fmt.Errorf("component validation failed: %w", err)
	}
	logger.Debug("Components: %d", len(manifest.Components))

	// Step 2: install them one at a time
	logger.Info("Step 2: Installing components")
	result := &InstallResult{States: make(map[string]phases.State, len(manifest.Components))}

	for i, comp := range manifest.Components {
		logger.Info("Component %d/%d: %s (%s)", i+1, len(manifest.Components), comp.Name, comp.Kind)

		p, err := rt.newPipeline(comp)
		if err != nil {
			return result, err
		}

		state, err := p.manager.Install(ctx)
		result.States[comp.Name] = state
		if err != nil {
			return result, fmt.Errorf("%s phase failed: %w", comp.Name, err)
		}

		if comp.EffectiveCheck() == config.CheckInterpreter && result.Interpreter == "" {
			path, err := p.manager.ExecutablePath(ctx)
			if err != nil {
				return result, fmt.Errorf("%s installed but not usable: %w", comp.Name, err)
			}
			result.Interpreter = path
			logger.Info("Interpreter: %s", path)
		}
	}

	logger.Info("✅ All components installed")
	return result, nil
}
