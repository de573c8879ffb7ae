// Package brand holds the product identity and the per-user directory
// layout. The identity is embedded from brand.json so packaging scripts can
// read the same file.
package brand

import (
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"
)

//go:embed brand.json
var identityJSON []byte

var (
	Name            string
	LowerName       string
	Description     string
	EnvPrefix       string
	BinaryName      string
	ConfigFileName  string
	JournalFileName string

	// Set at build time via -ldflags.
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func init() {
	var id struct {
		Name            string `json:"name"`
		LowerName       string `json:"lowerName"`
		Description     string `json:"description"`
		EnvPrefix       string `json:"envPrefix"`
		BinaryName      string `json:"binaryName"`
		ConfigFileName  string `json:"configFileName"`
		JournalFileName string `json:"journalFileName"`
	}
	if err := json.Unmarshal(identityJSON, &id); err != nil {
		panic("brand.json: " + err.Error())
	}
	Name, LowerName, Description = id.Name, id.LowerName, id.Description
	EnvPrefix, BinaryName = id.EnvPrefix, id.BinaryName
	ConfigFileName, JournalFileName = id.ConfigFileName, id.JournalFileName
}

// ConfigDir is AUDIOLINK_CONFIG_DIR, else AUDIOLINK_PREFIX/config, else the
// XDG config directory.
func ConfigDir() string {
	if dir := override("_CONFIG_DIR", "config"); dir != "" {
		return dir
	}
	if base, err := os.UserConfigDir(); err == nil {
		return filepath.Join(base, LowerName)
	}
	return filepath.Join(os.TempDir(), LowerName+"-config")
}

// StateDir is AUDIOLINK_STATE_DIR, else AUDIOLINK_PREFIX/state, else
// $XDG_STATE_HOME or ~/.local/state.
func StateDir() string {
	if dir := override("_STATE_DIR", "state"); dir != "" {
		return dir
	}
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, LowerName)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "state", LowerName)
	}
	return filepath.Join(os.TempDir(), LowerName+"-state")
}

// DefaultConfigPath is the config file used when none is given.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), ConfigFileName)
}

// DefaultJournalPath is the journal database used when none is configured.
func DefaultJournalPath() string {
	return filepath.Join(StateDir(), JournalFileName)
}

func override(suffix, underPrefix string) string {
	if dir := os.Getenv(EnvPrefix + suffix); dir != "" {
		return dir
	}
	if prefix := os.Getenv(EnvPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, underPrefix)
	}
	return ""
}
