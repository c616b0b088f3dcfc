package manager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDriveResolver(t *testing.T) {
	got, err := DriveResolver{Value: "1AbC"}.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "https://drive.google.com/uc?export=download&id=1AbC", got)

	direct := "https://drive.usercontent.google.com/download?id=1AbC&export=download&confirm=t"
	got, err = DriveResolver{Value: direct}.Resolve()
	require.NoError(t, err)
	assert.Equal(t, direct, got)

	_, err = DriveResolver{}.Resolve()
	assert.Error(t, err)
}

func TestPythonResolver(t *testing.T) {
	got, err := PythonResolver{Version: "3.11.4", Arch: "amd64"}.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "https://www.python.org/ftp/python/3.11.4/python-3.11.4-amd64.exe", got)

	got, err = PythonResolver{Version: "3.11.4", Arch: "386"}.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "https://www.python.org/ftp/python/3.11.4/python-3.11.4.exe", got)

	got, err = PythonResolver{URL: "https://mirror.local/py.exe", Version: "3.11.4"}.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "https://mirror.local/py.exe", got)
}

func TestNewResolver(t *testing.T) {
	r, err := NewResolver("gdrive", "id", "")
	require.NoError(t, err)
	assert.IsType(t, DriveResolver{}, r)

	r, err = NewResolver("", "https://example.com/a.zip", "")
	require.NoError(t, err)
	assert.IsType(t, DirectResolver{}, r)

	_, err = NewResolver("ftp", "x", "")
	assert.Error(t, err)
}

func TestMessagesDefaults(t *testing.T) {
	m := Messages{Done: "custom"}.withDefaults()
	assert.Equal(t, "custom", m.Done)
	assert.Equal(t, DefaultMessages().NotFound, m.NotFound)
	assert.Contains(t, ForProduct("Python").AlreadyInstalled, "Python")
}
