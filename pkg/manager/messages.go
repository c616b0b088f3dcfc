package manager

import "fmt"

// Messages are the user-facing strings a Manager emits. Empty fields fall back to defaults.
type Messages struct {
	ProductName      string `json:"product_name,omitempty" yaml:"product_name,omitempty" mapstructure:"product_name"`
	Starting         string `json:"starting,omitempty" yaml:"starting,omitempty" mapstructure:"starting"`
	NotFound         string `json:"not_found,omitempty" yaml:"not_found,omitempty" mapstructure:"not_found"`
	Downloaded       string `json:"downloaded,omitempty" yaml:"downloaded,omitempty" mapstructure:"downloaded"`
	Done             string `json:"done,omitempty" yaml:"done,omitempty" mapstructure:"done"`
	AlreadyInstalled string `json:"already_installed,omitempty" yaml:"already_installed,omitempty" mapstructure:"already_installed"`
	Failed           string `json:"failed,omitempty" yaml:"failed,omitempty" mapstructure:"failed"`
}

// DefaultMessages returns the generic strings used when a component supplies none
func DefaultMessages() Messages {
	return Messages{
		ProductName:      "file",
		Starting:         "Checking installation...",
		NotFound:         "File not found. Starting installer download...",
		Downloaded:       "Installer downloaded. Starting installation...",
		Done:             "The file installation is complete",
		AlreadyInstalled: "The file is already installed",
		Failed:           "Installation not completed",
	}
}

// ForProduct builds messages mentioning the product by name
func ForProduct(name string) Messages {
	return Messages{
		ProductName:      name,
		Starting:         fmt.Sprintf("Checking %s installation...", name),
		NotFound:         fmt.Sprintf("%s not found. Starting installer download...", name),
		Downloaded:       fmt.Sprintf("%s installer downloaded. Starting installation...", name),
		Done:             fmt.Sprintf("The %s installation is complete", name),
		AlreadyInstalled: fmt.Sprintf("%s is already installed", name),
		Failed:           fmt.Sprintf("%s installation not completed", name),
	}
}

func (m Messages) withDefaults() Messages {
	d := DefaultMessages()
	if m.ProductName == "" {
		m.ProductName = d.ProductName
	}
	if m.Starting == "" {
		m.Starting = d.Starting
	}
	if m.NotFound == "" {
		m.NotFound = d.NotFound
	}
	if m.Downloaded == "" {
		m.Downloaded = d.Downloaded
	}
	if m.Done == "" {
		m.Done = d.Done
	}
	if m.AlreadyInstalled == "" {
		m.AlreadyInstalled = d.AlreadyInstalled
	}
	if m.Failed == "" {
		m.Failed = d.Failed
	}
	return m
}
