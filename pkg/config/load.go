package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every setting read from the environment
const EnvPrefix = "LOCALMODEL"

// Load reads configuration from an optional file and LOCALMODEL_* environment
// variables on top of NewConfig defaults. A missing default config file is not an error.
func Load(cfgFile string) (*Config, error) {
	cfg := NewConfig()
	defaultBase := cfg.InstallPath

	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(appName)
		v.SetConfigType("yaml")
		v.AddConfigPath(ConfigDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	// Unmarshal only sees env vars for keys viper already knows about
	for _, key := range settingKeys() {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("error binding %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.InstallPath != defaultBase {
		base := cfg.InstallPath
		cfg.InstallPath = defaultBase
		cfg.SetInstallPath(base)
	}
	return cfg, nil
}

// SetInstallPath moves the base directory. Paths still at their defaults for
// the previous base follow it; explicitly configured ones are kept.
func (c *Config) SetInstallPath(base string) {
	prev := layoutFor(c.InstallPath)
	next := layoutFor(base)
	c.InstallPath = base

	if c.DownloadDir == prev.downloads {
		c.DownloadDir = next.downloads
	}
	if c.StagingDir == prev.staging {
		c.StagingDir = next.staging
	}
	if c.ModelDir == prev.model {
		c.ModelDir = next.model
	}
	if c.ReadyFile == prev.ready {
		c.ReadyFile = next.ready
	}
	if c.ServerScript == prev.script {
		c.ServerScript = next.script
	}
	if c.RequirementsFile == prev.requirements {
		c.RequirementsFile = next.requirements
	}
}

type layout struct {
	downloads, staging, model, ready, script, requirements string
}

func layoutFor(base string) layout {
	staging := filepath.Join(base, "staging")
	return layout{
		downloads:    filepath.Join(base, "downloads"),
		staging:      staging,
		model:        filepath.Join(staging, "DeepSeek"),
		ready:        filepath.Join(base, "server.ready"),
		script:       filepath.Join(staging, "start_deepseek.py"),
		requirements: filepath.Join(staging, "requirements.txt"),
	}
}

// settingKeys lists the mapstructure keys of Config
func settingKeys() []string {
	t := reflect.TypeOf(Config{})
	keys := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}
		keys = append(keys, strings.Split(tag, ",")[0])
	}
	return keys
}

// ConfigDir returns the platform-specific config directory
func ConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), appName)
	case "darwin":
		return "/Library/Application Support/" + appName
	default:
		return "/etc/" + appName
	}
}
