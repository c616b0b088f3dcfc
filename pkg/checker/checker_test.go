package checker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-localmodel/pkg/utils"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
}

func TestFileCheckerIsSatisfied(t *testing.T) {
	target := t.TempDir()
	fc := NewFileChecker(target, "", []string{"config.json", "weights/model.safetensors"})

	assert.False(t, fc.IsSatisfied())
	touch(t, filepath.Join(target, "config.json"))
	assert.False(t, fc.IsSatisfied(), "every required file must exist")
	touch(t, filepath.Join(target, "weights", "model.safetensors"))
	assert.True(t, fc.IsSatisfied())

	require.NoError(t, os.Remove(filepath.Join(target, "config.json")))
	assert.False(t, fc.IsSatisfied(), "results are never cached")
}

func TestFileCheckerAbsoluteEntries(t *testing.T) {
	abs := filepath.Join(t.TempDir(), "python.exe")
	fc := NewFileChecker(t.TempDir(), "", []string{abs})
	assert.False(t, fc.IsSatisfied())
	touch(t, abs)
	assert.True(t, fc.IsSatisfied())
	assert.Equal(t, []string{abs}, fc.Required())
}

func TestFileCheckerStaging(t *testing.T) {
	staging := t.TempDir()
	fc := NewFileChecker(t.TempDir(), staging, []string{"nested/model.zip", "extra.bin"})

	assert.False(t, fc.IsSatisfiedInStaging())
	assert.Empty(t, fc.LocateInStaging())

	touch(t, filepath.Join(staging, "extra.bin"))
	assert.True(t, fc.IsSatisfiedInStaging())
	assert.Equal(t, filepath.Join(staging, "extra.bin"), fc.LocateInStaging())

	touch(t, filepath.Join(staging, "model.zip"))
	assert.Equal(t, filepath.Join(staging, "model.zip"), fc.LocateInStaging(), "first required entry wins, matched by base name")
}

func TestFileCheckerSeedFromStaging(t *testing.T) {
	staging := t.TempDir()
	target := filepath.Join(t.TempDir(), "model")
	fc := NewFileChecker(target, staging, []string{"config.json", "weights/tokenizer.json"})

	touch(t, filepath.Join(staging, "config.json"))
	copied, err := fc.SeedFromStaging("")
	require.NoError(t, err)
	assert.False(t, copied, "nothing is copied while a required file is missing from staging")
	assert.NoDirExists(t, target)

	touch(t, filepath.Join(staging, "tokenizer.json"))
	copied, err = fc.SeedFromStaging("")
	require.NoError(t, err)
	assert.True(t, copied)
	assert.True(t, fc.IsSatisfied())
	assert.FileExists(t, filepath.Join(staging, "config.json"), "staging copies are left in place")
}

func TestFileCheckerSeedSkipsInstaller(t *testing.T) {
	staging := t.TempDir()
	fc := NewFileChecker(t.TempDir(), staging, []string{"python-installer.exe"})
	touch(t, filepath.Join(staging, "python-installer.exe"))

	copied, err := fc.SeedFromStaging("python-installer.exe")
	require.NoError(t, err)
	assert.False(t, copied, "the installer is run, never copied as an installation")
	assert.False(t, fc.IsSatisfied())
}

func TestFileCheckerWithoutStagingDir(t *testing.T) {
	fc := NewFileChecker(t.TempDir(), "", []string{"a"})
	assert.False(t, fc.IsSatisfiedInStaging())
}

func newTestInterpreterChecker(candidates []string, staging string) *InterpreterChecker {
	c := NewInterpreterChecker(candidates, staging, []string{"python-installer.exe"}, utils.NewNopLogger())
	c.lookPath = func(string) (string, error) { return "", errors.New("not on PATH") }
	c.registry = func() (string, error) { return "", ErrInterpreterNotFound }
	c.verify = func(context.Context, string) error { return nil }
	return c
}

func TestInterpreterCheckerCandidates(t *testing.T) {
	dir := t.TempDir()
	python := filepath.Join(dir, "python.exe")

	c := newTestInterpreterChecker([]string{python}, "")
	assert.False(t, c.IsSatisfied())

	touch(t, python)
	assert.True(t, c.IsSatisfied())
	got, err := c.ExecutablePath(context.Background())
	require.NoError(t, err)
	assert.Equal(t, python, got)
}

func TestInterpreterCheckerFallsBackToRegistry(t *testing.T) {
	c := newTestInterpreterChecker(nil, "")
	c.registry = func() (string, error) { return `C:\Python311\python.exe`, nil }

	got, err := c.ExecutablePath(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `C:\Python311\python.exe`, got)
}

func TestInterpreterCheckerIgnoresStagedInstaller(t *testing.T) {
	staging := t.TempDir()
	staged := filepath.Join(staging, "python.exe")
	touch(t, staged)

	c := newTestInterpreterChecker([]string{staged}, staging)
	_, err := c.ExecutablePath(context.Background())
	assert.True(t, errors.Is(err, ErrInterpreterNotFound))

	touch(t, filepath.Join(staging, "python-installer.exe"))
	assert.True(t, c.IsSatisfiedInStaging())
	assert.Equal(t, filepath.Join(staging, "python-installer.exe"), c.LocateInStaging())
}

func TestInterpreterCheckerRejectsBrokenCandidate(t *testing.T) {
	dir := t.TempDir()
	broken := filepath.Join(dir, "broken")
	good := filepath.Join(dir, "good")
	touch(t, broken)
	touch(t, good)

	c := newTestInterpreterChecker([]string{broken, good}, "")
	c.verify = func(_ context.Context, p string) error {
		if p == broken {
			return errors.New("not python")
		}
		return nil
	}
	got, err := c.ExecutablePath(context.Background())
	require.NoError(t, err)
	assert.Equal(t, good, got)
}

func TestCompareVersions(t *testing.T) {
	assert.Equal(t, 1, compareVersions("3.10", "3.9"))
	assert.Equal(t, -1, compareVersions("3.8", "3.11"))
	assert.Equal(t, 0, compareVersions("3.11", "3.11"))
	assert.Equal(t, 1, compareVersions("3.12-32", "3.11"))
	assert.Equal(t, 1, compareVersions("3.11.1", "3.11"))
}
