//go:build windows

package checker

import (
	"path/filepath"
	"sort"

	"golang.org/x/sys/windows/registry"
)

const pythonCoreKey = `SOFTWARE\Python\PythonCore`

// registryExecutablePath reads the newest PythonCore install from HKCU, then HKLM
func registryExecutablePath() (string, error) {
	var lastErr error
	for _, root := range []registry.Key{registry.CURRENT_USER, registry.LOCAL_MACHINE} {
		p, err := executableFromRoot(root)
		if err == nil && p != "" {
			return p, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ErrInterpreterNotFound
	}
	return "", lastErr
}

func executableFromRoot(root registry.Key) (string, error) {
	key, err := registry.OpenKey(root, pythonCoreKey, registry.ENUMERATE_SUB_KEYS)
	if err != nil {
		return "", err
	}
	versions, err := key.ReadSubKeyNames(-1)
	key.Close()
	if err != nil {
		return "", err
	}

	sort.Slice(versions, func(i, j int) bool { return compareVersions(versions[i], versions[j]) > 0 })
	for _, v := range versions {
		ik, err := registry.OpenKey(root, pythonCoreKey+`\`+v+`\InstallPath`, registry.QUERY_VALUE)
		if err != nil {
			continue
		}
		exe, _, err := ik.GetStringValue("ExecutablePath")
		if err != nil || exe == "" {
			if dir, _, derr := ik.GetStringValue(""); derr == nil && dir != "" {
				exe = filepath.Join(dir, "python.exe")
			}
		}
		ik.Close()
		if exe != "" {
			return exe, nil
		}
	}
	return "", ErrInterpreterNotFound
}
