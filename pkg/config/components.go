package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/go-localmodel/pkg/utils"
)

// Component kinds
const (
	KindArchive    = "archive"
	KindExecutable = "executable"
	KindFile       = "file"
)

// Checks decide how "already installed" is answered
const (
	CheckFiles       = "files"
	CheckInterpreter = "interpreter"
)

// Manifest lists the components to install, in order
type Manifest struct {
	Components []Component `json:"components" yaml:"components"`
}

// Messages mirrors manager.Messages so components can carry their own strings
type Messages struct {
	ProductName      string `json:"product_name,omitempty" yaml:"product_name,omitempty" mapstructure:"product_name"`
	Starting         string `json:"starting,omitempty" yaml:"starting,omitempty" mapstructure:"starting"`
	NotFound         string `json:"not_found,omitempty" yaml:"not_found,omitempty" mapstructure:"not_found"`
	Downloaded       string `json:"downloaded,omitempty" yaml:"downloaded,omitempty" mapstructure:"downloaded"`
	Done             string `json:"done,omitempty" yaml:"done,omitempty" mapstructure:"done"`
	AlreadyInstalled string `json:"already_installed,omitempty" yaml:"already_installed,omitempty" mapstructure:"already_installed"`
	Failed           string `json:"failed,omitempty" yaml:"failed,omitempty" mapstructure:"failed"`
}

// Component is one install target: where it goes, which files prove it is
// installed and where to get it from
type Component struct {
	// Required fields
	Name string `json:"name" yaml:"name"`
	Kind string `json:"kind" yaml:"kind"` // "archive", "executable", "file"

	// Download fields
	URL      string `json:"url,omitempty" yaml:"url,omitempty"`
	Resolver string `json:"resolver,omitempty" yaml:"resolver,omitempty"` // "direct", "gdrive", "python"
	Version  string `json:"version,omitempty" yaml:"version,omitempty"`
	Hash     string `json:"hash,omitempty" yaml:"hash,omitempty"`
	Size     int64  `json:"size,omitempty" yaml:"size,omitempty"`
	FileName string `json:"file_name,omitempty" yaml:"file_name,omitempty"`

	// Install target
	TargetDir     string   `json:"target_dir,omitempty" yaml:"target_dir,omitempty"`
	StagingDir    string   `json:"staging_dir,omitempty" yaml:"staging_dir,omitempty"`
	RequiredFiles []string `json:"required_files,omitempty" yaml:"required_files,omitempty"`
	Check         string   `json:"check,omitempty" yaml:"check,omitempty"` // "files" (default) or "interpreter"
	Candidates    []string `json:"candidates,omitempty" yaml:"candidates,omitempty"`

	// Runner settings
	ExtractorPath string   `json:"extractor_path,omitempty" yaml:"extractor_path,omitempty"`
	InstallerArgs []string `json:"installer_args,omitempty" yaml:"installer_args,omitempty"`

	// Retries overrides the configured download attempt budget when positive
	Retries int `json:"retries,omitempty" yaml:"retries,omitempty"`

	Messages Messages `json:"messages,omitempty" yaml:"messages,omitempty"`
}

// EffectiveCheck returns the check with its default applied
func (c Component) EffectiveCheck() string {
	if c.Check == "" {
		return CheckFiles
	}
	return c.Check
}

// LoadComponents loads a components manifest from a file (validates structure)
func LoadComponents(filename string) (*Manifest, error) {
	return LoadComponentsWithOptions(filename, true)
}

// LoadComponentsWithOptions loads a JSON or YAML manifest and optionally validates
func LoadComponentsWithOptions(filename string, validate bool) (*Manifest, error) {
	// Read the file
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	var manifest Manifest
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &manifest); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", filename, err)
		}
	default:
		if err := json.Unmarshal(data, &manifest); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", filename, err)
		}
	}

	if validate {
		if err := ValidateComponents(&manifest); err != nil {
			return nil, err
		}
	}

	return &manifest, nil
}

// ValidateComponents checks every component for a usable combination of fields
func ValidateComponents(manifest *Manifest) error {
	if len(manifest.Components) == 0 {
		return fmt.Errorf("components manifest is empty")
	}
	seen := make(map[string]struct{}, len(manifest.Components))
	for _, comp := range manifest.Components {
		if err := validateComponent(comp); err != nil {
			return err
		}
		if _, dup := seen[comp.Name]; dup {
			return fmt.Errorf("duplicate component name '%s'", comp.Name)
		}
		seen[comp.Name] = struct{}{}
	}
	return nil
}

func validateComponent(comp Component) error {
	if comp.Name == "" {
		return fmt.Errorf("component without a name")
	}

	// Validate allowed kinds early
	switch comp.Kind {
	case KindArchive, KindExecutable, KindFile:
		// ok
	default:
		return fmt.Errorf("invalid kind '%s' for '%s' (allowed: archive, executable, file)", comp.Kind, comp.Name)
	}

	switch comp.Resolver {
	case "", "direct", "gdrive":
		if comp.URL == "" {
			return fmt.Errorf("component '%s' needs a url", comp.Name)
		}
	case "python":
		if comp.URL == "" && comp.Version == "" {
			return fmt.Errorf("component '%s' needs a url or a version", comp.Name)
		}
	default:
		return fmt.Errorf("invalid resolver '%s' for '%s' (allowed: direct, gdrive, python)", comp.Resolver, comp.Name)
	}

	switch comp.EffectiveCheck() {
	case CheckFiles:
		if len(comp.RequiredFiles) == 0 {
			return fmt.Errorf("component '%s' lists no required_files", comp.Name)
		}
	case CheckInterpreter:
		// candidates and PATH are searched; required_files only name installers to find in staging
	default:
		return fmt.Errorf("invalid check '%s' for '%s' (allowed: files, interpreter)", comp.Check, comp.Name)
	}

	if comp.Kind == KindArchive && comp.TargetDir == "" {
		return fmt.Errorf("archive component '%s' needs a target_dir", comp.Name)
	}
	if comp.Kind == KindFile && comp.TargetDir == "" {
		return fmt.Errorf("file component '%s' needs a target_dir", comp.Name)
	}
	if comp.Hash != "" && len(comp.Hash) != 64 {
		return fmt.Errorf("component '%s' hash must be a hex sha256", comp.Name)
	}
	return nil
}

// DefaultComponents returns the interpreter and model components described by cfg
func DefaultComponents(cfg *Config) *Manifest {
	installerName := fmt.Sprintf("python-%s%s.exe", cfg.PythonVersion, utils.InstallerArchSuffix(utils.GetArchitecture()))
	return &Manifest{Components: []Component{
		{
			Name:          "python",
			Kind:          KindExecutable,
			Resolver:      "python",
			URL:           cfg.PythonURL,
			Version:       cfg.PythonVersion,
			FileName:      installerName,
			StagingDir:    cfg.StagingDir,
			RequiredFiles: []string{installerName},
			Check:         CheckInterpreter,
			Candidates:    cfg.PythonCandidates,
			InstallerArgs: cfg.InstallerArgs,
			Retries:       cfg.DownloadAttempts,
			Messages: Messages{
				ProductName:      "Python",
				Starting:         "Checking Python installation...",
				NotFound:         "Python not found. Starting installer download...",
				Downloaded:       "Python installer downloaded. Starting installation...",
				Done:             "The Python installation is complete",
				AlreadyInstalled: "Python is already installed",
				Failed:           "Python installation not completed",
			},
		},
		{
			Name:          "model",
			Kind:          KindArchive,
			Resolver:      cfg.ModelResolver,
			URL:           cfg.ModelURL,
			Hash:          cfg.ModelHash,
			FileName:      filepath.Base(cfg.ModelDir) + ".zip",
			TargetDir:     cfg.ModelDir,
			StagingDir:    cfg.StagingDir,
			RequiredFiles: cfg.ModelFiles,
			ExtractorPath: cfg.ExtractorPath,
			Retries:       cfg.DownloadAttempts,
			Messages: Messages{
				ProductName:      "Model",
				NotFound:         "Model not found. Starting download...",
				Downloaded:       "Model downloaded. Unpacking...",
				Done:             "The model installation is complete",
				AlreadyInstalled: "The model is already installed",
				Failed:           "Model installation not completed",
			},
		},
	}}
}
