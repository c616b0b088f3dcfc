package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"howett.net/plist"
)

func TestApplySettingsMap_HeadersAndCompat(t *testing.T) {
	cfg := NewConfig()
	settings := map[string]interface{}{
		"HTTPHeaders":         map[string]interface{}{"X-Test": "v"},
		"HeaderAuthorization": "Bearer abc",
		"FollowRedirects":     true,
		"MaxAttempts":         int64(42),
		"PhaseDelay":          "250ms",
		"PollInterval":        uint64(2),
		"ModelFiles":          []interface{}{"a.bin", "b.bin"},
	}
	if err := cfg.applySettingsMap(settings); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPHeaders["X-Test"] != "v" {
		t.Fatalf("missing header")
	}
	if cfg.HTTPHeaders["Authorization"] != "Bearer abc" {
		t.Fatalf("missing auth header")
	}
	if !cfg.FollowRedirects {
		t.Fatalf("FollowRedirects not set")
	}
	assert.Equal(t, 42, cfg.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.PhaseDelay)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, []string{"a.bin", "b.bin"}, cfg.ModelFiles)
}

func TestApplySettingsMapRejectsEmptyInstallPath(t *testing.T) {
	cfg := NewConfig()
	assert.Error(t, cfg.applySettingsMap(map[string]interface{}{"InstallPath": ""}))
}

func writePlist(t *testing.T, prefs map[string]interface{}) string {
	t.Helper()
	data, err := plist.Marshal(prefs, plist.XMLFormat)
	require.NoError(t, err)
	p := filepath.Join(t.TempDir(), DefaultProfileDomain+".plist")
	require.NoError(t, os.WriteFile(p, data, 0644))
	return p
}

func TestReadFromProfileFileSharedThenMode(t *testing.T) {
	path := writePlist(t, map[string]interface{}{
		"shared": map[string]interface{}{
			"InstallPath": "/opt/lm",
			"Debug":       true,
			"MaxAttempts": 10,
		},
		"serve": map[string]interface{}{
			"MaxAttempts": 900,
		},
	})

	cfg := NewConfig()
	cfg.Mode = "serve"
	res, err := cfg.ReadFromProfileFile(path)
	require.NoError(t, err)

	assert.True(t, res.ConfigFound)
	assert.Equal(t, "none", res.ComponentSource)
	assert.Equal(t, "/opt/lm", cfg.InstallPath)
	assert.True(t, cfg.Debug)
	assert.Equal(t, 900, cfg.MaxAttempts, "mode section overrides shared")
}

func TestProfileEmbeddedComponents(t *testing.T) {
	path := writePlist(t, map[string]interface{}{
		"components": []interface{}{
			map[string]interface{}{
				"name":           "model",
				"kind":           "archive",
				"url":            "https://example.com/model.zip",
				"target_dir":     "/opt/lm/model",
				"required_files": []interface{}{"config.json"},
			},
		},
	})

	cfg := NewConfig()
	res, err := cfg.ReadFromProfileFile(path)
	require.NoError(t, err)
	assert.Equal(t, "embedded", res.ComponentSource)

	manifest, err := cfg.LoadComponentsFromProfile()
	require.NoError(t, err)
	require.Len(t, manifest.Components, 1)
	assert.Equal(t, "model", manifest.Components[0].Name)
	assert.Equal(t, []string{"config.json"}, manifest.Components[0].RequiredFiles)
}

func TestProfileConflictingComponentSources(t *testing.T) {
	path := writePlist(t, map[string]interface{}{
		"shared":     map[string]interface{}{"ComponentsFile": "/etc/components.json"},
		"components": []interface{}{},
	})
	_, err := NewConfig().ReadFromProfileFile(path)
	assert.Error(t, err)
}

func TestReadFromProfileFileMissing(t *testing.T) {
	_, err := NewConfig().ReadFromProfileFile(filepath.Join(t.TempDir(), "none.plist"))
	assert.Error(t, err)
}
