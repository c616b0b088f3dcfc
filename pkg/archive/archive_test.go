package archive

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeZip(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, body := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.zip")
	writeZip(t, good, map[string]string{"a.txt": "a"})
	assert.True(t, IsValid(good))

	bad := filepath.Join(dir, "bad.ZIP")
	require.NoError(t, os.WriteFile(bad, []byte("not a zip at all"), 0644))
	assert.True(t, errors.Is(Validate(bad), ErrCorrupt), "extension match is case-insensitive")

	exe := filepath.Join(dir, "setup.exe")
	require.NoError(t, os.WriteFile(exe, []byte("garbage"), 0644))
	assert.True(t, IsValid(exe), "non-zip files are always valid")
}

func TestValidateIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.zip")
	writeZip(t, good, map[string]string{"a.txt": "a"})
	bad := filepath.Join(dir, "bad.zip")
	require.NoError(t, os.WriteFile(bad, []byte("PK\x03\x04truncated"), 0644))

	for _, path := range []string{good, bad} {
		first := Validate(path)
		second := Validate(path)
		assert.Equal(t, first == nil, second == nil, path)
		assert.Equal(t, errors.Is(first, ErrCorrupt), errors.Is(second, ErrCorrupt), path)
		assert.Equal(t, IsValid(path), IsValid(path), path)
	}
	assert.NoError(t, Validate(good))
	assert.ErrorIs(t, Validate(bad), ErrCorrupt)

	info, err := os.Stat(bad)
	require.NoError(t, err)
	assert.EqualValues(t, len("PK\x03\x04truncated"), info.Size(), "validation never modifies the file")
}

func TestExtractReportsProgressPerFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "bundle.zip")
	writeZip(t, src, map[string]string{
		"models/":          "",
		"models/weights":   "w",
		"config.json":      "{}",
		"scripts/start.py": "print()",
	})

	dst := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(dst, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dst, "config.json"), []byte("old"), 0644))

	var seen [][2]int
	n, err := Extract(context.Background(), src, dst, func(done, total int) {
		seen = append(seen, [2]int{done, total})
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, [][2]int{{1, 3}, {2, 3}, {3, 3}}, seen)

	body, err := os.ReadFile(filepath.Join(dst, "config.json"))
	require.NoError(t, err)
	assert.Equal(t, "{}", string(body), "existing files are overwritten")
	assert.DirExists(t, filepath.Join(dst, "models"))
	assert.FileExists(t, filepath.Join(dst, "scripts", "start.py"))
}

func TestExtractRejectsEscapingEntries(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "evil.zip")
	writeZip(t, src, map[string]string{"../escape.txt": "x"})

	_, err := Extract(context.Background(), src, filepath.Join(dir, "out"), nil)
	assert.True(t, errors.Is(err, ErrUnsafePath))
	assert.NoFileExists(t, filepath.Join(dir, "escape.txt"))
}

func TestExtractStopsWhenCancelled(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "bundle.zip")
	writeZip(t, src, map[string]string{"a": "1", "b": "2"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err := Extract(ctx, src, filepath.Join(dir, "out"), nil)
	assert.Equal(t, 0, n)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestList(t *testing.T) {
	src := filepath.Join(t.TempDir(), "model.zip")
	writeZip(t, src, map[string]string{"config.json": "{}", "tokenizer/vocab.txt": "v", "empty/": ""})

	names, err := List(src)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"config.json", "tokenizer/vocab.txt"}, names)

	_, err = List(filepath.Join(t.TempDir(), "missing.zip"))
	assert.True(t, errors.Is(err, ErrCorrupt))
}
