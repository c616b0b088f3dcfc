// pkg/config/profile.go
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"howett.net/plist"
)

const DefaultProfileDomain = "com.github.go-localmodel"

// ProfileResult contains what we read from the managed profile
type ProfileResult struct {
	ConfigFound     bool
	Path            string
	ComponentSource string // "embedded", "file" or "none"
}

// ReadFromProfile reads configuration from the managed or user preferences for domain
func (c *Config) ReadFromProfile(domain string) (*ProfileResult, error) {
	if domain == "" {
		domain = DefaultProfileDomain
	}

	for _, path := range profilePaths(domain) {
		if prefs := readPlistFile(path); prefs != nil {
			return c.applyProfile(prefs, path)
		}
	}
	return &ProfileResult{ConfigFound: false, ComponentSource: "none"}, nil
}

// ReadFromProfileFile applies a specific plist file
func (c *Config) ReadFromProfileFile(path string) (*ProfileResult, error) {
	prefs := readPlistFile(path)
	if prefs == nil {
		return nil, fmt.Errorf("cannot read profile %s", path)
	}
	return c.applyProfile(prefs, path)
}

func (c *Config) applyProfile(prefs map[string]interface{}, path string) (*ProfileResult, error) {
	result := &ProfileResult{ConfigFound: true, Path: path}

	// Step 1: Apply shared settings first
	if err := c.applySection(prefs, "shared"); err != nil {
		return nil, fmt.Errorf("failed to apply shared settings: %w", err)
	}

	// Step 2: Apply mode-specific overrides
	if err := c.applySection(prefs, c.Mode); err != nil {
		return nil, fmt.Errorf("failed to apply mode settings: %w", err)
	}

	// Step 3: Top-level components act as the fallback when no section carried one
	if c.profileComponents == nil {
		if comps, ok := prefs["components"]; ok {
			c.profileComponents = comps
		}
	}

	source, err := c.componentSource()
	if err != nil {
		return nil, err
	}
	result.ComponentSource = source
	return result, nil
}

// profilePaths lists where preferences may live, most authoritative first
func profilePaths(domain string) []string {
	var paths []string
	switch runtime.GOOS {
	case "darwin":
		paths = append(paths, fmt.Sprintf("/Library/Managed Preferences/%s.plist", domain))
		if home, err := os.UserHomeDir(); err == nil {
			paths = append(paths, filepath.Join(home, "Library", "Preferences", domain+".plist"))
		}
	default:
		paths = append(paths, filepath.Join(ConfigDir(), domain+".plist"))
		if dir, err := os.UserConfigDir(); err == nil {
			paths = append(paths, filepath.Join(dir, appName, domain+".plist"))
		}
	}
	return paths
}

// readPlistFile reads a plist file and returns its contents
func readPlistFile(path string) map[string]interface{} {
	file, err := os.Open(path)
	if err != nil {
		return nil // File doesn't exist or can't be read
	}
	defer file.Close()

	var prefs map[string]interface{}
	decoder := plist.NewDecoder(file)
	if err := decoder.Decode(&prefs); err != nil {
		return nil // Can't parse plist
	}

	return prefs
}

func (c *Config) applySection(prefs map[string]interface{}, name string) error {
	section, ok := prefs[name]
	if !ok {
		return nil
	}
	sectionMap, ok := section.(map[string]interface{})
	if !ok {
		return fmt.Errorf("%s settings is not a dictionary", name)
	}
	return c.applySettingsMap(sectionMap)
}

// componentSource validates that a profile does not name two component sources
func (c *Config) componentSource() (string, error) {
	hasFile := c.ComponentsFile != ""
	hasEmbedded := c.profileComponents != nil

	if hasFile && hasEmbedded {
		return "", fmt.Errorf("profile error: cannot have both ComponentsFile and a components section - choose one component source")
	}
	switch {
	case hasFile:
		return "file", nil
	case hasEmbedded:
		return "embedded", nil
	default:
		return "none", nil
	}
}

func stringSetting(settings map[string]interface{}, key string, dst *string) {
	if val, exists := settings[key]; exists {
		if str, ok := val.(string); ok && str != "" {
			*dst = str
		}
	}
}

func boolSetting(settings map[string]interface{}, key string, dst *bool) {
	if val, exists := settings[key]; exists {
		switch v := val.(type) {
		case bool:
			*dst = v
		case string:
			if parsed, err := strconv.ParseBool(v); err == nil {
				*dst = parsed
			}
		}
	}
}

func intSetting(settings map[string]interface{}, key string, dst *int) {
	if val, exists := settings[key]; exists {
		switch v := val.(type) {
		case int64:
			*dst = int(v)
		case uint64:
			*dst = int(v)
		case int:
			*dst = v
		case string:
			if iv, err := strconv.Atoi(v); err == nil {
				*dst = iv
			}
		}
	}
}

// durationSetting accepts seconds (integer) or a Go duration string
func durationSetting(settings map[string]interface{}, key string, dst *time.Duration) {
	if val, exists := settings[key]; exists {
		switch v := val.(type) {
		case int64:
			*dst = time.Duration(v) * time.Second
		case uint64:
			*dst = time.Duration(v) * time.Second
		case int:
			*dst = time.Duration(v) * time.Second
		case float64:
			*dst = time.Duration(v * float64(time.Second))
		case string:
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			} else if seconds, err := strconv.Atoi(v); err == nil {
				*dst = time.Duration(seconds) * time.Second
			}
		}
	}
}

func stringListSetting(settings map[string]interface{}, key string, dst *[]string) {
	if val, exists := settings[key]; exists {
		if items, ok := val.([]interface{}); ok {
			out := make([]string, 0, len(items))
			for _, item := range items {
				if s, ok := item.(string); ok && s != "" {
					out = append(out, s)
				}
			}
			*dst = out
		}
	}
}

// applySettingsMap applies a settings map to the config
func (c *Config) applySettingsMap(settings map[string]interface{}) error {
	if val, exists := settings["InstallPath"]; exists {
		str, ok := val.(string)
		if !ok || str == "" {
			return fmt.Errorf("InstallPath cannot be empty - omit the key instead")
		}
		c.SetInstallPath(str)
	}

	stringSetting(settings, "DownloadDir", &c.DownloadDir)
	stringSetting(settings, "StagingDir", &c.StagingDir)
	stringSetting(settings, "ModelDir", &c.ModelDir)
	stringSetting(settings, "ReadyFile", &c.ReadyFile)
	stringSetting(settings, "ComponentsFile", &c.ComponentsFile)

	stringSetting(settings, "PythonVersion", &c.PythonVersion)
	stringSetting(settings, "PythonURL", &c.PythonURL)
	stringListSetting(settings, "PythonCandidates", &c.PythonCandidates)
	stringListSetting(settings, "InstallerArgs", &c.InstallerArgs)

	stringSetting(settings, "ModelURL", &c.ModelURL)
	stringSetting(settings, "ModelResolver", &c.ModelResolver)
	stringSetting(settings, "ModelHash", &c.ModelHash)
	stringListSetting(settings, "ModelFiles", &c.ModelFiles)
	stringSetting(settings, "ExtractorPath", &c.ExtractorPath)

	stringSetting(settings, "ServerScript", &c.ServerScript)
	stringSetting(settings, "RequirementsFile", &c.RequirementsFile)
	stringSetting(settings, "ServerURL", &c.ServerURL)
	stringSetting(settings, "StatusPath", &c.StatusPath)
	stringSetting(settings, "GeneratePath", &c.GeneratePath)
	intSetting(settings, "MaxAttempts", &c.MaxAttempts)
	durationSetting(settings, "PollInterval", &c.PollInterval)

	intSetting(settings, "DownloadAttempts", &c.DownloadAttempts)
	intSetting(settings, "MaxRetries", &c.MaxRetries)
	intSetting(settings, "RetryDelay", &c.RetryDelay)

	boolSetting(settings, "CleanupOnFailure", &c.CleanupOnFailure)
	boolSetting(settings, "KeepFailedFiles", &c.KeepFailedFiles)
	boolSetting(settings, "CleanupOnSuccess", &c.CleanupOnSuccess)

	boolSetting(settings, "VerifyAfterInstall", &c.VerifyAfterInstall)
	durationSetting(settings, "PhaseDelay", &c.PhaseDelay)
	intSetting(settings, "DownloadMaxConcurrency", &c.DownloadMaxConcurrency)

	boolSetting(settings, "Debug", &c.Debug)
	boolSetting(settings, "Verbose", &c.Verbose)
	stringSetting(settings, "LogFilePath", &c.LogFilePath)
	stringSetting(settings, "MetricsAddr", &c.MetricsAddr)

	// HTTP Authentication settings
	boolSetting(settings, "FollowRedirects", &c.FollowRedirects)
	stringSetting(settings, "HTTPAuthUser", &c.HTTPAuthUser)
	stringSetting(settings, "HTTPAuthPassword", &c.HTTPAuthPassword)

	// HTTP Headers (for advanced authentication or custom headers)
	if val, exists := settings["HTTPHeaders"]; exists {
		if c.HTTPHeaders == nil {
			c.HTTPHeaders = make(map[string]string)
		}

		// Handle both dictionary format and array format
		if headersMap, ok := val.(map[string]interface{}); ok {
			// Dictionary format: {"Authorization": "Basic xyz", "X-API-Key": "abc"}
			for key, value := range headersMap {
				if strValue, ok := value.(string); ok {
					c.HTTPHeaders[key] = strValue
				}
			}
		} else if headersArray, ok := val.([]interface{}); ok {
			// Array format: [{"name": "Authorization", "value": "Basic xyz"}]
			for _, item := range headersArray {
				if headerDict, ok := item.(map[string]interface{}); ok {
					if name, nameOk := headerDict["name"].(string); nameOk {
						if value, valueOk := headerDict["value"].(string); valueOk {
							c.HTTPHeaders[name] = value
						}
					}
				}
			}
		}
	}

	// Convenience: single Authorization header value
	if val, exists := settings["HeaderAuthorization"]; exists {
		if str, ok := val.(string); ok && str != "" {
			c.HeaderAuthorization = str
			if c.HTTPHeaders == nil {
				c.HTTPHeaders = map[string]string{}
			}
			c.HTTPHeaders["Authorization"] = str
		}
	}

	if val, exists := settings["components"]; exists {
		c.profileComponents = val
	}

	// Don't override Mode from profile - that should come from command line or defaults
	return nil
}

// ErrNoProfileComponents means the applied profile carried no components section
var ErrNoProfileComponents = errors.New("no components section found in profile")

// LoadComponentsFromProfile returns the components carried by the profile last applied
func (c *Config) LoadComponentsFromProfile() (*Manifest, error) {
	if c.profileComponents == nil {
		return nil, ErrNoProfileComponents
	}

	var raw interface{} = c.profileComponents
	if list, ok := raw.([]interface{}); ok {
		raw = map[string]interface{}{"components": list}
	}
	if _, ok := raw.(map[string]interface{}); !ok {
		return nil, fmt.Errorf("components section is neither a list nor a dictionary")
	}

	// Round-trip through JSON to convert plist values into our struct
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal components section: %w", err)
	}

	var manifest Manifest
	if err := json.Unmarshal(jsonData, &manifest); err != nil {
		return nil, fmt.Errorf("failed to unmarshal components section: %w", err)
	}
	if err := ValidateComponents(&manifest); err != nil {
		return nil, err
	}
	return &manifest, nil
}
