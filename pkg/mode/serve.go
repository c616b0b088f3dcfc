package mode

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-localmodel/pkg/checker"
	"github.com/go-localmodel/pkg/installer"
	"github.com/go-localmodel/pkg/server"
	"github.com/go-localmodel/pkg/signal"
)

// ErrServerExited is returned when the server process dies while being supervised
var ErrServerExited = errors.New("server process exited")

// shutdownGrace is how long the server gets to exit after /shutdown before it is killed
const shutdownGrace = 10 * time.Second

// RunServe installs everything, starts the model server and supervises it
// until ctx is cancelled or the server exits.
func RunServe(ctx context.Context, rt *Runtime) error {
	cfg := rt.Config
	logger := rt.Logger
	logger.Info("Starting serve mode")

	logger.Info("Step 1: Ensuring components are installed")
	result, err := RunInstall(ctx, rt)
	if err != nil {
		return err
	}

	interpreter := result.Interpreter
	if interpreter == "" {
		logger.Debug("No interpreter component ran; searching configured candidates")
		interpreter, err = checker.NewInterpreterChecker(cfg.PythonCandidates, cfg.StagingDir, nil, logger.Named("python")).ExecutablePath(ctx)
		if err != nil {
			return fmt.Errorf("cannot launch server: %w", err)
		}
	}

	logger.Info("Step 2: Installing server dependencies")
	deps := installer.NewDependencyInstaller(installer.DependencyOptions{
		Manifest:   cfg.RequirementsFile,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelayDuration(),
	}, rt.Group, rt.Sink("dependencies"), logger.Named("pip"))
	if err := deps.Install(ctx, interpreter); err != nil {
		return fmt.Errorf("dependency phase failed: %w", err)
	}

	logger.Info("Step 3: Launching model server")
	launcher := server.NewLauncher(server.DefaultLaunchOptions(), rt.Group, rt.Sink("server"), logger.Named("server"))
	launcher.SetMetrics(rt.Metrics)
	proc, err := launcher.Launch(ctx, interpreter, cfg.ServerScript)
	if err != nil {
		return fmt.Errorf("launch phase failed: %w", err)
	}
	defer stopServer(rt, proc)

	logger.Info("Step 4: Waiting for %s", cfg.StatusURL())
	poller := server.NewPoller(server.PollerOptions{Interval: cfg.PollInterval}, rt.Sink("health"), logger.Named("health"))
	poller.SetMetrics(rt.Metrics)
	if err := poller.WaitHealthy(ctx, cfg.StatusURL(), cfg.MaxAttempts); err != nil {
		return fmt.Errorf("health phase failed: %w", err)
	}

	info := signal.ReadyInfo{
		PID:         os.Getpid(),
		ServerPID:   proc.PID,
		ServerURL:   cfg.ServerURL,
		GenerateURL: cfg.GenerateURL(),
		Since:       time.Now(),
	}
	if err := signal.CreateReady(cfg.ReadyFile, info); err != nil {
		logger.Error("Failed to write ready marker %s: %v", cfg.ReadyFile, err)
	} else {
		defer func() {
			if err := signal.RemoveReady(cfg.ReadyFile); err != nil {
				logger.Debug("Failed to remove ready marker: %v", err)
			}
		}()
	}

	stopMetrics := startMetricsServer(rt)
	defer stopMetrics()

	logger.Info("✅ Model server ready at %s (pid %d)", cfg.ServerURL, proc.PID)

	select {
	case <-ctx.Done():
		logger.Info("Shutdown requested")
		return nil
	case <-proc.Done():
		code := proc.ExitCode()
		if code == 0 {
			// The script may hand the server off to another process; keep the marker until asked to stop
			logger.Info("Server launcher exited cleanly; supervising until shutdown")
			<-ctx.Done()
			return nil
		}
		return fmt.Errorf("%w with code %d", ErrServerExited, code)
	}
}

// stopServer asks the server to shut down, then kills it after the grace period
func stopServer(rt *Runtime, proc *server.Process) {
	if !proc.Running() {
		return
	}

	client := server.NewModelClient(rt.Config.ServerURL, rt.Config.GeneratePath, nil, rt.Logger)
	if err := client.Shutdown(context.Background()); err != nil {
		rt.Logger.Debug("Shutdown request failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := proc.Wait(ctx); err != nil && ctx.Err() != nil {
		rt.Logger.Info("Server did not exit within %v; killing pid %d", shutdownGrace, proc.PID)
		if err := proc.Stop(); err != nil {
			rt.Logger.Error("Failed to kill server: %v", err)
		}
	}
}

// startMetricsServer exposes the Prometheus registry when an address is configured
func startMetricsServer(rt *Runtime) (stop func()) {
	addr := rt.Config.MetricsAddr
	h, ok := rt.Metrics.(interface{ Handler() http.Handler })
	if addr == "" || !ok {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", h.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		rt.Logger.Info("Metrics endpoint: http://%s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.Logger.Error("Metrics server error: %v", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
