package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"gopkg.in/yaml.v2"
)

// LoadResult contains the loaded config and metadata about the load.
type LoadResult struct {
	Config   *Config
	Path     string
	Missing  bool // no file at Path; Config holds defaults
	Warnings []string
}

// Load reads path, falling back to defaults when the file does not exist.
// The returned config is normalized but not validated.
func Load(path string) (*LoadResult, error) {
	cfg, err := LoadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &LoadResult{Config: Default(), Path: path, Missing: true}, nil
	}
	if err != nil {
		return nil, err
	}
	return &LoadResult{Config: cfg, Path: path, Warnings: cfg.Warnings()}, nil
}

// LoadFile loads a config file. The format follows the extension: .json,
// .yaml/.yml, and HCL for anything else.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return LoadJSON(data)
	case ".yaml", ".yml":
		return LoadYAML(data)
	default:
		return LoadHCL(data, path)
	}
}

// LoadHCL loads config from HCL bytes.
func LoadHCL(data []byte, filename string) (*Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("HCL parse error: %s", diags.Error())
	}

	var cfg Config
	if diags := gohcl.DecodeBody(file.Body, nil, &cfg); diags.HasErrors() {
		return nil, fmt.Errorf("HCL decode error: %s", diags.Error())
	}
	cfg.Normalize()
	return &cfg, nil
}

// LoadJSON loads config from JSON bytes. Unknown fields are rejected.
func LoadJSON(data []byte) (*Config, error) {
	var cfg Config
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("JSON decode error: %w", err)
	}
	cfg.Normalize()
	return &cfg, nil
}

// LoadYAML loads config from YAML bytes. Unknown fields are rejected.
func LoadYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return nil, fmt.Errorf("YAML decode error: %w", err)
	}
	cfg.Normalize()
	return &cfg, nil
}

// SaveFile saves config to a file, format determined by extension.
func SaveFile(cfg *Config, path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(cfg, "", "  ")
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data = GenerateHCL(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// WriteDefault writes the default configuration to path. It refuses to
// overwrite an existing file unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}
	return SaveFile(Default(), path)
}
