package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/go-localmodel/pkg/config"
	"github.com/go-localmodel/pkg/metrics"
	"github.com/go-localmodel/pkg/mode"
	"github.com/go-localmodel/pkg/signal"
	"github.com/go-localmodel/pkg/utils"
)

var version = "dev"

var (
	cfgFile       string
	profileDomain string
	profileFile   string

	installPath            string
	componentsFile         string
	serverURL              string
	debug                  bool
	verbose                bool
	logFilePath            string
	maxRetries             int
	retryDelay             int
	downloadAttempts       int
	maxAttempts            int
	pollInterval           time.Duration
	cleanupOnFailure       bool
	cleanupOnSuccess       bool
	keepFailedFiles        bool
	verifyAfterInstall     bool
	downloadMaxConcurrency int
	followRedirects        bool
	headersAuth            string
	headers                utils.MultiValueHeader
	httpAuthUser           string
	httpAuthPassword       string
	metricsAddr            string
)

var rootCmd = &cobra.Command{
	Use:   "go-localmodel",
	Short: "Install and supervise a local model server",
	Long: `go-localmodel downloads and installs a Python interpreter and model weights,
installs the server's dependencies, launches the model server and keeps it healthy.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Download and install every missing component",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, "install", func(ctx context.Context, rt *mode.Runtime) error {
			_, err := mode.RunInstall(ctx, rt)
			return err
		})
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Install, launch the model server and supervise it until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, "serve", mode.RunServe)
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Pre-download missing components in parallel without installing",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, "fetch", func(ctx context.Context, rt *mode.Runtime) error {
			_, err := mode.RunFetch(ctx, rt)
			return err
		})
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate [prompt]",
	Short: "Send a prompt to the running model server",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd, "")
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context())
		defer stop()
		answer, err := mode.RunGenerate(ctx, cfg, logger, strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), answer)
		return nil
	},
}

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Ask the running model server to exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd, "")
		if err != nil {
			return err
		}
		defer logger.Sync()
		return mode.RunShutdown(cmd.Context(), cfg, logger)
	},
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove cached downloads and a stale ready marker",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd, "")
		if err != nil {
			return err
		}
		defer logger.Sync()
		return mode.RunClean(cfg, logger)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration (secrets redacted) as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := setup(cmd, "")
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(cfg.RedactedForLogging())
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "go-localmodel %s (%s)\n", version, utils.GetArchitectureInfo())
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default is "+config.ConfigDir()+"/go-localmodel.yaml)")
	pf.StringVar(&profileDomain, "profile-domain", config.DefaultProfileDomain, "Preference domain to read managed settings from")
	pf.StringVar(&profileFile, "profile", "", "Read managed settings from this plist instead of the preference domain")

	pf.StringVar(&installPath, "install-path", "", "Base directory for downloads, staging and the ready marker")
	pf.StringVar(&componentsFile, "components", "", "Components manifest (JSON or YAML); default is the built-in interpreter + model pair")
	pf.StringVar(&serverURL, "server-url", "", "Model server base URL (default http://127.0.0.1:5000)")

	pf.BoolVar(&debug, "debug", false, "Enable debug logging")
	pf.BoolVar(&verbose, "verbose", false, "Enable verbose logging")
	pf.StringVar(&logFilePath, "log-file", "", "Also write logs to this file")

	pf.IntVar(&maxRetries, "max-retries", 3, "Retries for dependency installation")
	pf.IntVar(&retryDelay, "retry-delay", 5, "Delay between retries in seconds")
	pf.IntVar(&downloadAttempts, "download-attempts", 3, "Verified download attempts per component")
	pf.IntVar(&maxAttempts, "max-attempts", 600, "Health checks before the server is declared failed")
	pf.DurationVar(&pollInterval, "poll-interval", time.Second, "Delay between health checks")

	pf.BoolVar(&cleanupOnFailure, "cleanup-on-failure", true, "Remove partial downloads when a component fails")
	pf.BoolVar(&cleanupOnSuccess, "cleanup-on-success", false, "Remove downloaded artifacts after a successful install")
	pf.BoolVar(&keepFailedFiles, "keep-failed-files", false, "Keep failed downloads for troubleshooting")
	pf.BoolVar(&verifyAfterInstall, "verify-after-install", true, "Re-check required files after the installer exits")
	pf.IntVar(&downloadMaxConcurrency, "download-max-concurrency", 4, "Maximum concurrent downloads in fetch mode")

	pf.BoolVar(&followRedirects, "follow-redirects", false, "Let the HTTP client follow redirects instead of the downloader")
	pf.StringVar(&headersAuth, "headers", "", "Authorization header value (e.g., 'Bearer xxx')")
	pf.Var(&headers, "header", "Extra download header in Name=Value form (repeatable)")
	pf.StringVar(&httpAuthUser, "http-auth-user", "", "HTTP Basic Auth username")
	pf.StringVar(&httpAuthPassword, "http-auth-password", "", "HTTP Basic Auth password")

	serveCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. 127.0.0.1:9090)")

	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(installCmd, serveCmd, fetchCmd, generateCmd, shutdownCmd, cleanCmd, configCmd, versionCmd)
}

func main() {
	// Normalize boolean flags so forms like "--debug false" are treated as "--debug=false"
	os.Args = utils.NormalizeBooleanFlags(os.Args, utils.BoolFlagNames(flagSets(rootCmd)...))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// flagSets returns the local and persistent flag sets of cmd and all its subcommands
func flagSets(cmd *cobra.Command) []*pflag.FlagSet {
	sets := []*pflag.FlagSet{cmd.PersistentFlags(), cmd.Flags()}
	for _, sub := range cmd.Commands() {
		sets = append(sets, flagSets(sub)...)
	}
	return sets
}

// withRuntime sets up configuration, logging and metrics, then runs fn until it
// returns or SIGINT/SIGTERM arrives.
func withRuntime(cmd *cobra.Command, modeName string, fn func(context.Context, *mode.Runtime) error) error {
	cfg, logger, err := setup(cmd, modeName)
	if err != nil {
		return err
	}
	defer logger.Sync()

	var collector metrics.Collector
	if cfg.MetricsAddr != "" {
		collector = metrics.NewPrometheus("localmodel")
	}

	rt, err := mode.NewRuntime(cfg, logger, collector)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(cmd.Context())
	defer stop()

	if err := fn(ctx, rt); err != nil {
		logger.Error("%s failed: %v", modeName, err)
		return err
	}
	return nil
}

// setup builds the effective configuration: defaults, config file and
// environment, managed profile, then explicitly set command-line flags.
func setup(cmd *cobra.Command, modeName string) (*config.Config, *utils.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	if modeName != "" {
		cfg.Mode = modeName
	}

	// Try to read the managed profile with graceful fallback
	var profileResult *config.ProfileResult
	if profileFile != "" {
		profileResult, err = cfg.ReadFromProfileFile(profileFile)
		if err != nil {
			return nil, nil, err
		}
	} else if profileResult, err = cfg.ReadFromProfile(profileDomain); err != nil {
		profileResult = &config.ProfileResult{ConfigFound: false, ComponentSource: "none"}
		fmt.Fprintf(os.Stderr, "Warning: profile reading failed (continuing with defaults): %v\n", err)
	}

	flagsSet := applyFlags(cmd.Flags(), cfg)
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(cfg)

	if profileResult.ConfigFound {
		logger.Debug("Starting go-localmodel in %s mode (profile found at %s)", cfg.Mode, profileResult.Path)
		logger.Debug("Component source: %s", profileResult.ComponentSource)
		logger.Debug("Config hierarchy: defaults → file/env → shared → %s → command line", cfg.Mode)
	} else {
		logger.Debug("Starting go-localmodel in %s mode (no profile at domain %s)", cfg.Mode, profileDomain)
	}
	if len(flagsSet) > 0 {
		logger.Debug("Command line overrides: %v", flagsSet)
	}
	logger.Debug("System architecture: %s", utils.GetArchitectureInfo())

	// Log full final configuration (with sensitive fields redacted)
	if cfg.Debug {
		if b, err := json.MarshalIndent(cfg.RedactedForLogging(), "", "  "); err == nil {
			logger.Debug("Final configuration:\n%s", string(b))
		}
	}
	return cfg, logger, nil
}

// applyFlags copies only flags that were explicitly set, so file and profile values survive
func applyFlags(fs *pflag.FlagSet, cfg *config.Config) []string {
	var set []string
	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "config", "profile", "profile-domain":
			return
		}
		set = append(set, f.Name)
	})

	changed := fs.Changed
	if changed("install-path") {
		cfg.SetInstallPath(installPath)
	}
	if changed("components") {
		cfg.ComponentsFile = componentsFile
	}
	if changed("server-url") {
		cfg.ServerURL = serverURL
	}
	if changed("debug") {
		cfg.Debug = debug
	}
	if changed("verbose") {
		cfg.Verbose = verbose
	}
	if changed("log-file") {
		cfg.LogFilePath = logFilePath
	}
	if changed("max-retries") {
		cfg.MaxRetries = maxRetries
	}
	if changed("retry-delay") {
		cfg.RetryDelay = retryDelay
	}
	if changed("download-attempts") {
		cfg.DownloadAttempts = downloadAttempts
	}
	if changed("max-attempts") {
		cfg.MaxAttempts = maxAttempts
	}
	if changed("poll-interval") {
		cfg.PollInterval = pollInterval
	}
	if changed("cleanup-on-failure") {
		cfg.CleanupOnFailure = cleanupOnFailure
	}
	if changed("cleanup-on-success") {
		cfg.CleanupOnSuccess = cleanupOnSuccess
	}
	if changed("keep-failed-files") {
		cfg.KeepFailedFiles = keepFailedFiles
	}
	if changed("verify-after-install") {
		cfg.VerifyAfterInstall = verifyAfterInstall
	}
	if changed("download-max-concurrency") {
		cfg.DownloadMaxConcurrency = downloadMaxConcurrency
	}
	if changed("follow-redirects") {
		cfg.FollowRedirects = followRedirects
	}
	if changed("headers") {
		cfg.HeaderAuthorization = headersAuth
	}
	if changed("header") {
		if cfg.HTTPHeaders == nil {
			cfg.HTTPHeaders = map[string]string{}
		}
		for name, value := range headers.Headers {
			cfg.HTTPHeaders[name] = value
		}
	}
	if changed("http-auth-user") {
		cfg.HTTPAuthUser = httpAuthUser
	}
	if changed("http-auth-password") {
		cfg.HTTPAuthPassword = httpAuthPassword
	}
	if changed("metrics-addr") {
		cfg.MetricsAddr = metricsAddr
	}
	return set
}

// newLogger logs to the console, tee'd to a file when one is configured
func newLogger(cfg *config.Config) *utils.Logger {
	if cfg.LogFilePath == "" {
		return utils.NewLogger(cfg.Debug, cfg.Verbose)
	}
	logger, err := utils.NewLoggerWithFile(cfg.Debug, cfg.Verbose, cfg.LogFilePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to create file logger: %v\nUsing console-only logging\n", err)
		return utils.NewLogger(cfg.Debug, cfg.Verbose)
	}
	return logger
}
