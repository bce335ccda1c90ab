// Package setup handles invoq project initialization.
package setup

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/mizanhasan/invoq/internal/model"
	"github.com/mizanhasan/invoq/internal/store"
	invoqyaml "github.com/mizanhasan/invoq/internal/yaml"
	"github.com/mizanhasan/invoq/templates"
)

const invoqDir = ".invoq"

// configFile is the on-disk shape of config.yaml. The schema header is
// checked on load like every other invoq file.
type configFile struct {
	SchemaVersion int          `yaml:"schema_version"`
	FileType      string       `yaml:"file_type"`
	Config        model.Config `yaml:",inline"`
}

// Run initializes the .invoq/ directory structure in the given project
// directory. projectName overrides the auto-detected name (defaults to the
// directory basename if empty).
func Run(projectDir, projectName string) error {
	absDir, err := filepath.Abs(projectDir)
	if err != nil {
		return fmt.Errorf("resolve project dir: %w", err)
	}

	base := filepath.Join(absDir, invoqDir)

	if _, err := os.Stat(base); err == nil {
		return fmt.Errorf("%s already exists", base)
	}

	dirs := []string{
		"data",
		"locks",
		"logs",
		"quarantine",
	}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(base, d), 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	cfg, err := generateConfig(absDir, projectName)
	if err != nil {
		return fmt.Errorf("generate config: %w", err)
	}
	if err := invoqyaml.AtomicWrite(filepath.Join(base, "config.yaml"), cfg); err != nil {
		return fmt.Errorf("write config.yaml: %w", err)
	}

	if err := store.WriteSkeleton(filepath.Join(base, cfg.Config.Store.Path)); err != nil {
		return fmt.Errorf("write invoice store: %w", err)
	}

	// Create daemon.lock (empty)
	if err := os.WriteFile(filepath.Join(base, "locks", "daemon.lock"), nil, 0600); err != nil {
		return fmt.Errorf("create daemon.lock: %w", err)
	}

	return nil
}

// LoadConfig reads and validates .invoq/config.yaml.
func LoadConfig(invoqDir string) (model.Config, error) {
	path := filepath.Join(invoqDir, "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Config{}, fmt.Errorf("read config: %w", err)
	}

	if err := invoqyaml.ValidateSchemaHeaderFromBytes(data, invoqyaml.FileTypeConfig); err != nil {
		return model.Config{}, fmt.Errorf("config %s: %w", path, err)
	}

	var file configFile
	if err := yamlv3.Unmarshal(data, &file); err != nil {
		return model.Config{}, fmt.Errorf("parse config: %w", err)
	}
	return file.Config, nil
}

func generateConfig(projectDir, projectName string) (*configFile, error) {
	// Read template config as base
	data, err := fs.ReadFile(templates.FS, "config.yaml")
	if err != nil {
		return nil, fmt.Errorf("read config template: %w", err)
	}

	var cfg configFile
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config template: %w", err)
	}

	if projectName != "" {
		cfg.Config.Project.Name = projectName
	} else {
		cfg.Config.Project.Name = filepath.Base(projectDir)
	}
	cfg.Config.Project.Created = time.Now().Format(time.RFC3339)

	return &cfg, nil
}
