package signal

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadyMarkerLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "server.ready")
	assert.False(t, CheckReady(path))

	info := ReadyInfo{PID: os.Getpid(), ServerPID: 4242, ServerURL: "http://127.0.0.1:5000", Since: time.Now().UTC().Truncate(time.Second)}
	require.NoError(t, CreateReady(path, info))
	assert.True(t, CheckReady(path))
	assert.NoFileExists(t, path+".tmp")

	got, err := ReadReady(path)
	require.NoError(t, err)
	assert.Equal(t, info.ServerPID, got.ServerPID)
	assert.Equal(t, info.ServerURL, got.ServerURL)
	assert.True(t, info.Since.Equal(got.Since))

	require.NoError(t, RemoveReady(path))
	assert.False(t, CheckReady(path))
	assert.NoError(t, RemoveReady(path), "removing twice is fine")
}

func TestReadReadyCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.ready")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0644))
	_, err := ReadReady(path)
	assert.Error(t, err)
}

func TestNotifyContextStops(t *testing.T) {
	ctx, stop := NotifyContext(context.Background())
	stop()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("stop did not cancel the context")
	}
}
