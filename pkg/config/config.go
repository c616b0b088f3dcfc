package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

const appName = "go-localmodel"

// Config represents the main configuration for go-localmodel
type Config struct {
	// Layout
	InstallPath string `json:"install_path" yaml:"install_path" mapstructure:"install_path"`
	DownloadDir string `json:"download_dir" yaml:"download_dir" mapstructure:"download_dir"`
	StagingDir  string `json:"staging_dir" yaml:"staging_dir" mapstructure:"staging_dir"`
	ModelDir    string `json:"model_dir" yaml:"model_dir" mapstructure:"model_dir"`
	ReadyFile   string `json:"ready_file" yaml:"ready_file" mapstructure:"ready_file"`

	// Components manifest; empty means the built-in interpreter + model pair
	ComponentsFile string `json:"components_file,omitempty" yaml:"components_file,omitempty" mapstructure:"components_file"`

	// Interpreter
	PythonVersion    string   `json:"python_version" yaml:"python_version" mapstructure:"python_version"`
	PythonURL        string   `json:"python_url,omitempty" yaml:"python_url,omitempty" mapstructure:"python_url"`
	PythonCandidates []string `json:"python_candidates,omitempty" yaml:"python_candidates,omitempty" mapstructure:"python_candidates"`
	InstallerArgs    []string `json:"installer_args,omitempty" yaml:"installer_args,omitempty" mapstructure:"installer_args"`

	// Model
	ModelURL      string   `json:"model_url" yaml:"model_url" mapstructure:"model_url"`
	ModelResolver string   `json:"model_resolver" yaml:"model_resolver" mapstructure:"model_resolver"`
	ModelHash     string   `json:"model_hash,omitempty" yaml:"model_hash,omitempty" mapstructure:"model_hash"`
	ModelFiles    []string `json:"model_files" yaml:"model_files" mapstructure:"model_files"`
	ExtractorPath string   `json:"extractor_path,omitempty" yaml:"extractor_path,omitempty" mapstructure:"extractor_path"`

	// Server
	ServerScript     string        `json:"server_script" yaml:"server_script" mapstructure:"server_script"`
	RequirementsFile string        `json:"requirements_file" yaml:"requirements_file" mapstructure:"requirements_file"`
	ServerURL        string        `json:"server_url" yaml:"server_url" mapstructure:"server_url"`
	StatusPath       string        `json:"status_path" yaml:"status_path" mapstructure:"status_path"`
	GeneratePath     string        `json:"generate_path" yaml:"generate_path" mapstructure:"generate_path"`
	MaxAttempts      int           `json:"max_attempts" yaml:"max_attempts" mapstructure:"max_attempts"`
	PollInterval     time.Duration `json:"poll_interval" yaml:"poll_interval" mapstructure:"poll_interval"`

	// Retry settings
	DownloadAttempts int `json:"download_attempts" yaml:"download_attempts" mapstructure:"download_attempts"`
	MaxRetries       int `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`
	RetryDelay       int `json:"retry_delay" yaml:"retry_delay" mapstructure:"retry_delay"` // seconds

	// Cleanup settings
	CleanupOnFailure bool `json:"cleanup_on_failure" yaml:"cleanup_on_failure" mapstructure:"cleanup_on_failure"`
	KeepFailedFiles  bool `json:"keep_failed_files" yaml:"keep_failed_files" mapstructure:"keep_failed_files"` // For debugging
	CleanupOnSuccess bool `json:"cleanup_on_success" yaml:"cleanup_on_success" mapstructure:"cleanup_on_success"`

	// Orchestration
	VerifyAfterInstall     bool          `json:"verify_after_install" yaml:"verify_after_install" mapstructure:"verify_after_install"`
	PhaseDelay             time.Duration `json:"phase_delay" yaml:"phase_delay" mapstructure:"phase_delay"`
	DownloadMaxConcurrency int           `json:"download_max_concurrency" yaml:"download_max_concurrency" mapstructure:"download_max_concurrency"`

	// HTTP
	FollowRedirects     bool              `json:"follow_redirects" yaml:"follow_redirects" mapstructure:"follow_redirects"`
	HTTPAuthUser        string            `json:"http_auth_user,omitempty" yaml:"http_auth_user,omitempty" mapstructure:"http_auth_user"`
	HTTPAuthPassword    string            `json:"http_auth_password,omitempty" yaml:"http_auth_password,omitempty" mapstructure:"http_auth_password"`
	HTTPHeaders         map[string]string `json:"http_headers,omitempty" yaml:"http_headers,omitempty" mapstructure:"http_headers"`
	HeaderAuthorization string            `json:"header_authorization,omitempty" yaml:"header_authorization,omitempty" mapstructure:"header_authorization"`

	// Logging and metrics
	Debug       bool   `json:"debug" yaml:"debug" mapstructure:"debug"`
	Verbose     bool   `json:"verbose" yaml:"verbose" mapstructure:"verbose"`
	LogFilePath string `json:"log_file_path,omitempty" yaml:"log_file_path,omitempty" mapstructure:"log_file_path"`
	MetricsAddr string `json:"metrics_addr,omitempty" yaml:"metrics_addr,omitempty" mapstructure:"metrics_addr"`

	// Mode selects the per-mode section of a managed profile: "install", "serve" or "fetch"
	Mode string `json:"mode" yaml:"mode" mapstructure:"mode"`

	// Components section of a managed profile, if any
	profileComponents interface{}
}

// NewConfig creates a new Config with defaults
func NewConfig() *Config {
	base := defaultInstallPath()
	staging := filepath.Join(base, "staging")
	return &Config{
		InstallPath: base,
		DownloadDir: filepath.Join(base, "downloads"),
		StagingDir:  staging,
		ModelDir:    filepath.Join(staging, "DeepSeek"),
		ReadyFile:   filepath.Join(base, "server.ready"),

		PythonVersion: "3.9.7",

		ModelResolver: "gdrive",
		ModelFiles:    []string{"config.json", "tokenizer_config.json"},

		ServerScript:     filepath.Join(staging, "start_deepseek.py"),
		RequirementsFile: filepath.Join(staging, "requirements.txt"),
		ServerURL:        "http://127.0.0.1:5000",
		StatusPath:       "/status",
		GeneratePath:     "/generate",
		MaxAttempts:      600,
		PollInterval:     time.Second,

		DownloadAttempts: 3,
		MaxRetries:       3,
		RetryDelay:       5,

		CleanupOnFailure: true, // Clean up by default
		KeepFailedFiles:  false,
		CleanupOnSuccess: false, // installers already remove their archive

		VerifyAfterInstall:     true,
		PhaseDelay:             100 * time.Millisecond,
		DownloadMaxConcurrency: 4,

		FollowRedirects: false,
		HTTPHeaders:     map[string]string{},

		Mode: "install",
	}
}

func defaultInstallPath() string {
	switch runtime.GOOS {
	case "windows":
		if dir := os.Getenv("LOCALAPPDATA"); dir != "" {
			return filepath.Join(dir, appName)
		}
	case "darwin":
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, "Library", "Application Support", appName)
		}
	}
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, appName)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", appName)
	}
	return filepath.Join(os.TempDir(), appName)
}

// StatusURL is the health endpoint polled after launch
func (c *Config) StatusURL() string {
	return joinURL(c.ServerURL, c.StatusPath)
}

// GenerateURL is the prompt endpoint
func (c *Config) GenerateURL() string {
	return joinURL(c.ServerURL, c.GeneratePath)
}

// RetryDelayDuration converts RetryDelay seconds
func (c *Config) RetryDelayDuration() time.Duration {
	return time.Duration(c.RetryDelay) * time.Second
}

// Headers returns HTTPHeaders with HeaderAuthorization folded in
func (c *Config) Headers() map[string]string {
	out := make(map[string]string, len(c.HTTPHeaders)+1)
	for k, v := range c.HTTPHeaders {
		out[k] = v
	}
	if c.HeaderAuthorization != "" {
		out["Authorization"] = c.HeaderAuthorization
	}
	return out
}

func joinURL(base, path string) string {
	if path == "" {
		return base
	}
	if len(base) > 0 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	if path[0] != '/' {
		path = "/" + path
	}
	return base + path
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.InstallPath == "" {
		return fmt.Errorf("install_path is required")
	}
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required")
	}
	if u, err := url.Parse(c.ServerURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("server_url %q is not an absolute URL", c.ServerURL)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.DownloadAttempts < 1 {
		return fmt.Errorf("download_attempts must be at least 1, got %d", c.DownloadAttempts)
	}
	if c.MaxRetries < 0 || c.RetryDelay < 0 {
		return fmt.Errorf("max_retries and retry_delay cannot be negative")
	}
	if c.PhaseDelay < 0 || c.PollInterval < 0 {
		return fmt.Errorf("phase_delay and poll_interval cannot be negative")
	}
	switch c.Mode {
	case "install", "serve", "fetch":
	default:
		return fmt.Errorf("invalid mode %q (allowed: install, serve, fetch)", c.Mode)
	}
	return nil
}

// RedactedForLogging returns a redacted, human-friendly snapshot of the
// effective configuration suitable for debug logs. Sensitive values are masked
// and durations are rendered as strings.
func (c *Config) RedactedForLogging() map[string]interface{} {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "***redacted***"
	}
	maskMap := func(in map[string]string) map[string]string {
		if in == nil {
			return nil
		}
		out := make(map[string]string, len(in))
		for k := range in {
			out[k] = "***redacted***"
		}
		return out
	}

	snapshot := map[string]interface{}{
		// Core
		"Mode":           c.Mode,
		"InstallPath":    c.InstallPath,
		"DownloadDir":    c.DownloadDir,
		"StagingDir":     c.StagingDir,
		"ModelDir":       c.ModelDir,
		"ReadyFile":      c.ReadyFile,
		"ComponentsFile": c.ComponentsFile,
		// Components
		"PythonVersion":    c.PythonVersion,
		"PythonURL":        c.PythonURL,
		"PythonCandidates": c.PythonCandidates,
		"ModelURL":         c.ModelURL,
		"ModelResolver":    c.ModelResolver,
		"ModelHash":        c.ModelHash,
		"ModelFiles":       c.ModelFiles,
		"ExtractorPath":    c.ExtractorPath,
		// Server
		"ServerScript":     c.ServerScript,
		"RequirementsFile": c.RequirementsFile,
		"ServerURL":        c.ServerURL,
		"StatusPath":       c.StatusPath,
		"GeneratePath":     c.GeneratePath,
		"MaxAttempts":      c.MaxAttempts,
		"PollInterval":     c.PollInterval.String(),
		// Logging
		"Debug":       c.Debug,
		"Verbose":     c.Verbose,
		"LogFilePath": c.LogFilePath,
		"MetricsAddr": c.MetricsAddr,
		// Retries
		"DownloadAttempts": c.DownloadAttempts,
		"MaxRetries":       c.MaxRetries,
		"RetryDelay":       c.RetryDelay,
		// Cleanup
		"CleanupOnFailure": c.CleanupOnFailure,
		"CleanupOnSuccess": c.CleanupOnSuccess,
		"KeepFailedFiles":  c.KeepFailedFiles,
		// Orchestration
		"VerifyAfterInstall":     c.VerifyAfterInstall,
		"PhaseDelay":             c.PhaseDelay.String(),
		"DownloadMaxConcurrency": c.DownloadMaxConcurrency,
		// HTTP auth & headers (redacted)
		"FollowRedirects":     c.FollowRedirects,
		"HTTPAuthUser":        c.HTTPAuthUser,
		"HTTPAuthPassword":    mask(c.HTTPAuthPassword),
		"HTTPHeaders":         maskMap(c.HTTPHeaders),
		"HeaderAuthorization": mask(c.HeaderAuthorization),
	}

	return snapshot
}
