package manager

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/go-localmodel/pkg/utils"
)

// URLResolver turns a configured source value into the URL that is actually downloaded
type URLResolver interface {
	Resolve() (string, error)
}

// DirectResolver uses the configured URL verbatim
type DirectResolver struct {
	URL string
}

func (d DirectResolver) Resolve() (string, error) {
	if d.URL == "" {
		return "", fmt.Errorf("no download URL configured")
	}
	if _, err := url.ParseRequestURI(d.URL); err != nil {
		return "", fmt.Errorf("invalid download URL %q: %w", d.URL, err)
	}
	return d.URL, nil
}

const (
	driveExportURL     = "https://drive.google.com/uc?export=download&id="
	driveDirectBackend = "drive.usercontent.google.com"
)

// DriveResolver accepts either a file id or an already resolved
// drive.usercontent.google.com link
type DriveResolver struct {
	Value string
}

func (d DriveResolver) Resolve() (string, error) {
	v := strings.TrimSpace(d.Value)
	if v == "" {
		return "", fmt.Errorf("no drive file id configured")
	}
	if strings.Contains(v, driveDirectBackend) {
		return v, nil
	}
	return driveExportURL + url.QueryEscape(v), nil
}

// PythonResolver builds the python.org Windows installer URL for a version.
// An explicit URL wins over the version.
type PythonResolver struct {
	URL     string
	Version string
	Arch    string
}

func (p PythonResolver) Resolve() (string, error) {
	if p.URL != "" {
		return DirectResolver{URL: p.URL}.Resolve()
	}
	if p.Version == "" {
		return "", fmt.Errorf("no python version configured")
	}
	arch := p.Arch
	if arch == "" {
		arch = utils.GetArchitecture()
	}
	return fmt.Sprintf("https://www.python.org/ftp/python/%s/python-%s%s.exe",
		p.Version, p.Version, utils.InstallerArchSuffix(arch)), nil
}

// NewResolver picks a resolver by kind: "direct" (default), "gdrive" or "python"
func NewResolver(kind, value, version string) (URLResolver, error) {
	switch strings.ToLower(kind) {
	case "", "direct":
		return DirectResolver{URL: value}, nil
	case "gdrive", "drive":
		return DriveResolver{Value: value}, nil
	case "python":
		return PythonResolver{URL: value, Version: version}, nil
	default:
		return nil, fmt.Errorf("unknown resolver %q", kind)
	}
}
