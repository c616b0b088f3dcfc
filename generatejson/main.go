package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/go-localmodel/pkg/archive"
	"github.com/go-localmodel/pkg/config"
	"github.com/go-localmodel/pkg/download"
)

// InputItem represents the parsed command-line item
type InputItem struct {
	Name      string
	Path      string
	Kind      string
	URL       string
	Resolver  string
	TargetDir string
	Required  []string
	Check     string
	Retries   string
}

// ItemList implements pflag.Value for the repeatable --item flag
type ItemList []InputItem

// String implements the pflag.Value interface
func (i *ItemList) String() string {
	return fmt.Sprintf("%v", *i)
}

// Type implements the pflag.Value interface
func (i *ItemList) Type() string { return "item" }

// Set parses "key=value key=value ..."; path and kind are required
func (i *ItemList) Set(value string) error {
	item := InputItem{}

	for _, part := range strings.Fields(value) {
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			return fmt.Errorf("invalid key=value format: %s", part)
		}

		switch key {
		case "name":
			item.Name = val
		case "path":
			item.Path = val
		case "kind":
			item.Kind = val
		case "url":
			item.URL = val
		case "resolver":
			item.Resolver = val
		case "target":
			item.TargetDir = val
		case "required":
			item.Required = strings.Split(val, ",")
		case "check":
			item.Check = val
		case "retries":
			item.Retries = val
		default:
			return fmt.Errorf("unknown item key: %s", key)
		}
	}

	if item.Path == "" || item.Kind == "" {
		return fmt.Errorf("item needs at least path= and kind=")
	}
	*i = append(*i, item)
	return nil
}

func main() {
	baseURL := pflag.String("base-url", "", "Base URL where the files are hosted; used when an item has no url=")
	output := pflag.String("output", "", "Required: Output directory for the generated manifest")
	format := pflag.String("format", "json", "Manifest format: json or yaml")
	stagingDir := pflag.String("staging-dir", "", "Staging directory recorded on every component")

	var items ItemList
	pflag.Var(&items, "item", "Required: Options for item. Format: path=PATH kind=archive|executable|file [name=NAME] [url=URL] [resolver=direct|gdrive|python] [target=DIR] [required=a,b] [check=files|interpreter] [retries=INT]")

	pflag.Parse()

	if *output == "" {
		log.Fatal("output is required")
	}
	if len(items) == 0 {
		log.Fatal("at least one --item is required")
	}
	if *format != "json" && *format != "yaml" {
		log.Fatalf("invalid format %q (allowed: json, yaml)", *format)
	}

	fmt.Printf("Base URL: %s\n", *baseURL)
	fmt.Printf("Output: %s\n", *output)
	fmt.Printf("Items (%d):\n", len(items))
	for i, item := range items {
		fmt.Printf("  Item %d: %+v\n", i+1, item)
	}

	manifest, err := buildManifest(items, *baseURL, *stagingDir)
	if err != nil {
		log.Fatal(err)
	}
	if err := config.ValidateComponents(manifest); err != nil {
		log.Fatalf("generated manifest is invalid: %v", err)
	}

	var data []byte
	if *format == "yaml" {
		data, err = yaml.Marshal(manifest)
	} else {
		data, err = json.MarshalIndent(manifest, "", "  ")
	}
	if err != nil {
		log.Fatalf("Error marshaling manifest: %v", err)
	}

	savePath := filepath.Join(*output, "components."+*format)
	if err := os.WriteFile(savePath, data, 0644); err != nil {
		log.Fatalf("Error writing manifest to %s: %v", savePath, err)
	}

	fmt.Printf("Manifest saved to %s\n", savePath)
}

func buildManifest(items ItemList, baseURL, stagingDir string) (*config.Manifest, error) {
	manifest := &config.Manifest{}

	for _, item := range items {
		fileName := filepath.Base(item.Path)
		comp := config.Component{
			Name:          item.Name,
			Kind:          item.Kind,
			URL:           item.URL,
			Resolver:      item.Resolver,
			FileName:      fileName,
			TargetDir:     item.TargetDir,
			StagingDir:    stagingDir,
			RequiredFiles: item.Required,
			Check:         item.Check,
		}
		if comp.Name == "" {
			comp.Name = strings.TrimSuffix(fileName, filepath.Ext(fileName))
		}
		if comp.URL == "" && comp.Resolver != "python" {
			if baseURL == "" {
				return nil, fmt.Errorf("%s has no url= and no --base-url was given", item.Path)
			}
			comp.URL = strings.TrimRight(baseURL, "/") + "/" + fileName
		}

		info, err := os.Stat(item.Path)
		if err != nil {
			return nil, fmt.Errorf("FILE NOT FOUND - CHECK YOUR PATH: %s", item.Path)
		}
		comp.Size = info.Size()

		comp.Hash, err = download.HashFile(item.Path)
		if err != nil {
			return nil, fmt.Errorf("error hashing %s: %w", item.Path, err)
		}

		if len(comp.RequiredFiles) == 0 {
			comp.RequiredFiles, err = defaultRequired(item, fileName)
			if err != nil {
				return nil, err
			}
		}

		if item.Retries != "" {
			retries, err := strconv.Atoi(item.Retries)
			if err != nil {
				return nil, fmt.Errorf("invalid retries value: %s for %s", item.Retries, item.Path)
			}
			comp.Retries = retries
		}

		manifest.Components = append(manifest.Components, comp)
	}

	return manifest, nil
}

// defaultRequired derives the files that prove an item is installed
func defaultRequired(item InputItem, fileName string) ([]string, error) {
	switch item.Kind {
	case config.KindArchive:
		names, err := archive.List(item.Path)
		if err != nil {
			return nil, fmt.Errorf("cannot list %s: %w", item.Path, err)
		}
		return names, nil
	default:
		// executables are found by name in staging; placed files by name in the target
		return []string{fileName}, nil
	}
}
