package mode

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/go-localmodel/pkg/config"
	"github.com/go-localmodel/pkg/manager"
	"github.com/go-localmodel/pkg/metrics"
	"github.com/go-localmodel/pkg/phases"
	"github.com/go-localmodel/pkg/signal"
	"github.com/go-localmodel/pkg/utils"
)

func zipBytes(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// serveFile answers GET, HEAD and Range requests for one payload
func serveFile(t *testing.T, name string, data []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, name, time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewConfig()
	cfg.SetInstallPath(t.TempDir())
	cfg.PhaseDelay = 0
	cfg.DownloadAttempts = 1
	return cfg
}

func writeManifest(t *testing.T, cfg *config.Config, comps ...config.Component) {
	t.Helper()
	data, err := yaml.Marshal(config.Manifest{Components: comps})
	require.NoError(t, err)
	path := filepath.Join(cfg.InstallPath, "components.yaml")
	require.NoError(t, os.WriteFile(path, data, 0644))
	cfg.ComponentsFile = path
}

func newTestRuntime(t *testing.T, cfg *config.Config, collector metrics.Collector) *Runtime {
	t.Helper()
	rt, err := NewRuntime(cfg, utils.NewNopLogger(), collector)
	require.NoError(t, err)
	t.Cleanup(rt.Close)
	return rt
}

func modelComponent(cfg *config.Config, url string) config.Component {
	return config.Component{
		Name:          "model",
		Kind:          config.KindArchive,
		URL:           url,
		FileName:      "model.zip",
		TargetDir:     cfg.ModelDir,
		StagingDir:    cfg.StagingDir,
		RequiredFiles: []string{"config.json"},
	}
}

func TestRunInstallArchiveComponent(t *testing.T) {
	srv := serveFile(t, "model.zip", zipBytes(t, map[string]string{"config.json": "{}", "weights.bin": "w"}))
	cfg := testConfig(t)
	writeManifest(t, cfg, modelComponent(cfg, srv.URL+"/model.zip"))

	prom := metrics.NewPrometheus("test")
	rt := newTestRuntime(t, cfg, prom)

	result, err := RunInstall(context.Background(), rt)
	require.NoError(t, err)
	assert.Equal(t, phases.Installed, result.States["model"])
	assert.FileExists(t, filepath.Join(cfg.ModelDir, "config.json"))
	assert.FileExists(t, filepath.Join(cfg.ModelDir, "weights.bin"))
	assert.Empty(t, result.Interpreter)

	families, err := prom.Registry().Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "test_install_phase_transitions_total")

	again, err := RunInstall(context.Background(), rt)
	require.NoError(t, err)
	assert.Equal(t, phases.AlreadyInstalled, again.States["model"])
}

func TestRunInstallUsesPreShippedModelFiles(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(cfg.StagingDir, 0755))
	for _, name := range cfg.ModelFiles {
		require.NoError(t, os.WriteFile(filepath.Join(cfg.StagingDir, name), []byte("{}"), 0644))
	}
	comp := modelComponent(cfg, srv.URL+"/model.zip")
	comp.RequiredFiles = cfg.ModelFiles
	writeManifest(t, cfg, comp)
	rt := newTestRuntime(t, cfg, nil)

	result, err := RunInstall(context.Background(), rt)
	require.NoError(t, err)
	assert.Equal(t, phases.AlreadyInstalled, result.States["model"])
	assert.Zero(t, hits.Load(), "no network when staging already holds the files")
	for _, name := range cfg.ModelFiles {
		assert.FileExists(t, filepath.Join(cfg.ModelDir, name))
	}
}

func TestRunInstallDownloadFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	cfg := testConfig(t)
	writeManifest(t, cfg, modelComponent(cfg, srv.URL+"/missing.zip"))
	rt := newTestRuntime(t, cfg, nil)

	result, err := RunInstall(context.Background(), rt)
	require.Error(t, err)
	assert.True(t, errors.Is(err, manager.ErrDownloadFailed), "got %v", err)
	assert.Equal(t, phases.DownloadFailed, result.States["model"])
	assert.NoFileExists(t, filepath.Join(cfg.DownloadDir, "model.zip"))
}

func TestRunInstallRejectsInvalidManifest(t *testing.T) {
	cfg := testConfig(t)
	writeManifest(t, cfg, config.Component{Name: "model", Kind: "package", URL: "http://example.invalid/x"})
	rt := newTestRuntime(t, cfg, nil)

	_, err := RunInstall(context.Background(), rt)
	assert.Error(t, err)
}

func TestLoadManifestDefaults(t *testing.T) {
	cfg := testConfig(t)
	manifest, err := loadManifest(cfg, utils.NewNopLogger())
	require.NoError(t, err)
	require.Len(t, manifest.Components, 2)
	assert.Equal(t, "python", manifest.Components[0].Name)
	assert.Equal(t, config.CheckInterpreter, manifest.Components[0].Check)
	assert.Equal(t, "model", manifest.Components[1].Name)
	assert.Equal(t, cfg.ModelDir, manifest.Components[1].TargetDir)
}

func TestRunFetchSkipsInstalled(t *testing.T) {
	srv := serveFile(t, "model.zip", zipBytes(t, map[string]string{"config.json": "{}"}))
	cfg := testConfig(t)

	installed := config.Component{
		Name:          "requirements",
		Kind:          config.KindFile,
		URL:           srv.URL + "/requirements.txt",
		TargetDir:     cfg.StagingDir,
		RequiredFiles: []string{"requirements.txt"},
	}
	require.NoError(t, os.MkdirAll(cfg.StagingDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.StagingDir, "requirements.txt"), []byte("flask\n"), 0644))

	writeManifest(t, cfg, installed, modelComponent(cfg, srv.URL+"/model.zip"))
	rt := newTestRuntime(t, cfg, nil)

	results, err := RunFetch(context.Background(), rt)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "model", results[0].Job.Name)
	assert.Equal(t, filepath.Join(cfg.DownloadDir, "model.zip"), results[0].Path)
	assert.FileExists(t, results[0].Path)
	assert.NoDirExists(t, cfg.ModelDir, "fetch does not install")
}

func TestRunGenerateUsesReadyMarker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt string `json:"Prompt"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "/generate", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"response": "echo: " + req.Prompt})
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.ServerURL = "http://127.0.0.1:1"
	require.NoError(t, signal.CreateReady(cfg.ReadyFile, signal.ReadyInfo{ServerURL: srv.URL, Since: time.Now()}))

	answer, err := RunGenerate(context.Background(), cfg, utils.NewNopLogger(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "echo: hello", answer)

	_, err = RunGenerate(context.Background(), cfg, utils.NewNopLogger(), "  ")
	assert.Error(t, err)
}

func TestRunShutdown(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/shutdown" && r.Method == http.MethodPost {
			hits.Add(1)
		}
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.ServerURL = srv.URL

	require.NoError(t, RunShutdown(context.Background(), cfg, utils.NewNopLogger()))
	assert.Equal(t, int32(1), hits.Load())
}

func TestRunServe(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake interpreter is a shell script")
	}

	health := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/status" {
			json.NewEncoder(w).Encode(map[string]bool{"ServerRunning": true})
		}
	}))
	defer health.Close()

	cfg := testConfig(t)
	cfg.ServerURL = health.URL
	cfg.PollInterval = 10 * time.Millisecond
	cfg.MaxAttempts = 100

	binDir := filepath.Join(cfg.InstallPath, "bin")
	require.NoError(t, os.MkdirAll(binDir, 0755))
	python := filepath.Join(binDir, "python")
	require.NoError(t, os.WriteFile(python, []byte(`#!/bin/sh
case "$1" in
  --version) echo "Python 3.9.7" ;;
  -m) echo "Collecting flask" ;;
  *) echo "Loading checkpoint shards: 100%"; sleep 1 ;;
esac
`), 0755))

	require.NoError(t, os.MkdirAll(cfg.StagingDir, 0755))
	require.NoError(t, os.WriteFile(cfg.ServerScript, []byte("print('hi')\n"), 0644))
	require.NoError(t, os.WriteFile(cfg.RequirementsFile, []byte("flask\n"), 0644))

	writeManifest(t, cfg, config.Component{
		Name:          "python",
		Kind:          config.KindExecutable,
		Resolver:      "python",
		Version:       "3.9.7",
		StagingDir:    cfg.StagingDir,
		RequiredFiles: []string{"python-3.9.7-amd64.exe"},
		Check:         config.CheckInterpreter,
		Candidates:    []string{python},
	})
	rt := newTestRuntime(t, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- RunServe(ctx, rt) }()

	require.Eventually(t, func() bool { return signal.CheckReady(cfg.ReadyFile) }, 10*time.Second, 20*time.Millisecond)
	info, err := signal.ReadReady(cfg.ReadyFile)
	require.NoError(t, err)
	assert.Equal(t, health.URL, info.ServerURL)
	assert.True(t, strings.HasSuffix(info.GenerateURL, "/generate"))
	assert.NotZero(t, info.ServerPID)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("serve did not stop after cancellation")
	}
	assert.False(t, signal.CheckReady(cfg.ReadyFile), "ready marker is removed on shutdown")
}

func TestRunClean(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(cfg.DownloadDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.DownloadDir, "model.zip"), []byte("partial"), 0644))
	require.NoError(t, signal.CreateReady(cfg.ReadyFile, signal.ReadyInfo{ServerPID: 42}))
	require.NoError(t, os.MkdirAll(cfg.ModelDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.ModelDir, "config.json"), []byte("{}"), 0644))

	require.NoError(t, RunClean(cfg, utils.NewNopLogger()))
	assert.NoFileExists(t, filepath.Join(cfg.DownloadDir, "model.zip"))
	assert.DirExists(t, cfg.DownloadDir)
	assert.False(t, signal.CheckReady(cfg.ReadyFile))
	assert.FileExists(t, filepath.Join(cfg.ModelDir, "config.json"))
}
