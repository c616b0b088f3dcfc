package utils

import (
	"runtime"
	"strings"
)

// GetArchitecture returns the current system architecture
func GetArchitecture() string {
	return runtime.GOARCH
}

// InstallerArchSuffix maps an architecture to the suffix python.org uses for
// Windows installers. 32-bit x86 builds carry no suffix at all.
func InstallerArchSuffix(goarch string) string {
	switch strings.ToLower(goarch) {
	case "amd64", "x86_64":
		return "-amd64"
	case "arm64", "aarch64":
		return "-arm64"
	case "386", "x86":
		return ""
	default:
		return "-amd64"
	}
}

// GetArchitectureInfo returns human-readable platform information
func GetArchitectureInfo() string {
	return runtime.GOOS + "/" + runtime.GOARCH
}
